package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/reedholm/tradeloop/health"
	"github.com/reedholm/tradeloop/market"
	"github.com/reedholm/tradeloop/store"
)

var (
	healthTail         int
	healthMaxStaleness time.Duration
	healthMaxRawAge    time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check ledger freshness and cadence (exit 0 ok, 1 warn, 2 fail)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stepS, err := market.ParseTimeframeSeconds(cfg.Trading.Timeframe)
		if err != nil {
			return err
		}

		sym := storageSymbol()
		decisions, _, err := readNamespace(cfg.Data.Tag, sym)
		if err != nil {
			return err
		}

		opts := health.DefaultOptions()
		opts.Tail = healthTail
		opts.StepMS = int64(stepS) * 1000
		opts.MaxStaleness = healthMaxStaleness
		opts.MaxRawStaleness = healthMaxRawAge

		barsDir := store.NewParquet(cfg.Data.Root, cfg.Data.Tag, cfg.Trading.Symbol, cfg.Trading.Timeframe).Dir()

		res := health.Check(decisions, barsDir, opts)

		switch res.Status {
		case health.StatusOK:
			fmt.Println("OK: healthcheck pass")
		case health.StatusWarn:
			fmt.Println("WARN: healthcheck pass with warnings")
		default:
			fmt.Printf("FAIL: %s\n", res.Reason)
		}
		for _, line := range res.Lines {
			fmt.Println(" ", line)
		}

		os.Exit(int(res.Status))
		return nil
	},
}

func init() {
	healthCmd.Flags().IntVar(&healthTail, "tail", 250, "decision rows to inspect")
	healthCmd.Flags().DurationVar(&healthMaxStaleness, "max-staleness", 15*time.Minute, "max decision staleness")
	healthCmd.Flags().DurationVar(&healthMaxRawAge, "max-raw-staleness", 30*time.Minute, "max raw bar partition age")
	rootCmd.AddCommand(healthCmd)
}
