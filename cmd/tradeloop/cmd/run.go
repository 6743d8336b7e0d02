package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reedholm/tradeloop/broker"
	"github.com/reedholm/tradeloop/engine"
	"github.com/reedholm/tradeloop/feed"
	"github.com/reedholm/tradeloop/ledger"
	"github.com/reedholm/tradeloop/market"
	"github.com/reedholm/tradeloop/metrics"
	"github.com/reedholm/tradeloop/store"
	"github.com/reedholm/tradeloop/strategy"
	"github.com/reedholm/tradeloop/watchdog"
)

var (
	runBarsCSV      string
	runRequireArmed bool
	runRetries      int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the live decision loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runBarsCSV == "" {
			return fmt.Errorf("--bars-csv is required (bar source)")
		}

		stepS, err := market.ParseTimeframeSeconds(cfg.Trading.Timeframe)
		if err != nil {
			return err
		}

		sym := storageSymbol()
		led, err := openLedger(cfg.Data.Tag, sym)
		if err != nil {
			return err
		}
		defer led.Close()

		barStore := store.NewParquet(cfg.Data.Root, cfg.Data.Tag, cfg.Trading.Symbol, cfg.Trading.Timeframe)

		paper := broker.NewPaper(cfg.Costs.FeeBps, cfg.Costs.SlippageBps, log)
		guarded := broker.NewGuarded(paper, runRequireArmed, dayStatsFor(cfg.Data.Tag, sym), log)

		deps := &engine.Deps{
			Symbol:        cfg.Trading.Symbol,
			Timeframe:     cfg.Trading.Timeframe,
			ExpectedStepS: stepS,
			MinBars:       cfg.Trading.MinBars,
			MaxOrderSize:  cfg.Trading.MaxOrderSize,
			CooldownBars:  cfg.Trading.CooldownBars,
			FeatureCfg:    market.DefaultFeatureConfig(),
			StateCfg:      strategy.DefaultStateConfig(),
			RulesCfg:      strategy.DefaultRules(),
			Model:         strategy.DefaultModel(),
			Broker:        guarded,
			Ledger:        led,
			Watchdog:      watchdog.New(log),
			Log:           log,
		}

		source := feed.NewRetry(&feed.CSVSource{Path: runBarsCSV}, runRetries, 2*time.Second, log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Metrics.Enabled {
			go func() {
				if err := metrics.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
					log.Error("metrics server failed", "err", err)
				}
			}()
		}

		live := &engine.Live{
			Deps:         deps,
			Source:       source,
			Store:        barStore,
			SleepSeconds: cfg.Trading.LoopSleepSeconds,
			FetchLimit:   fetchLimit(),
		}
		return live.Run(ctx)
	},
}

func init() {
	runCmd.Flags().StringVar(&runBarsCSV, "bars-csv", "", "CSV file to poll for bars (timestamp_ms,open,high,low,close,volume)")
	runCmd.Flags().BoolVar(&runRequireArmed, "require-armed", false, "require ARMED=1 (and not DRY_RUN) before entries")
	runCmd.Flags().IntVar(&runRetries, "fetch-retries", 3, "fetch attempts before recording a fetch_failed row")
	rootCmd.AddCommand(runCmd)
}

func fetchLimit() int {
	if cfg.Trading.MinBars > 200 {
		return cfg.Trading.MinBars
	}
	return 200
}

// dayStatsFor reads the trade ledger fresh on each call so the daily
// guard sees closes from previous process lifetimes too.
func dayStatsFor(namespace, storageSymbol string) broker.DayStats {
	return func(dayStartTS int64) (int, float64) {
		_, trades, err := readNamespace(namespace, storageSymbol)
		if err != nil {
			log.Warn("daily stats read failed", "err", err)
			return 0, 0
		}
		return ledger.DayStats(trades, dayStartTS)
	}
}
