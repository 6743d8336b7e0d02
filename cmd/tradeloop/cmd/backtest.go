package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reedholm/tradeloop/backtest"
	"github.com/reedholm/tradeloop/broker"
	"github.com/reedholm/tradeloop/engine"
	"github.com/reedholm/tradeloop/market"
	"github.com/reedholm/tradeloop/pkg/id"
	"github.com/reedholm/tradeloop/store"
	"github.com/reedholm/tradeloop/strategy"
	"github.com/reedholm/tradeloop/watchdog"
)

var (
	btRunID       string
	btStartTS     int64
	btEndTS       int64
	btStopThrough bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay stored bars through the live decision path",
	RunE: func(cmd *cobra.Command, args []string) error {
		stepS, err := market.ParseTimeframeSeconds(cfg.Trading.Timeframe)
		if err != nil {
			return err
		}

		runID := btRunID
		if runID == "" {
			runID = strings.ToLower(id.New())
		}
		namespace := backtest.Namespace(cfg.Data.Tag, runID)

		sym := storageSymbol()
		led, err := openLedger(namespace, sym)
		if err != nil {
			return err
		}
		defer led.Close()

		barStore := store.NewParquet(cfg.Data.Root, cfg.Data.Tag, cfg.Trading.Symbol, cfg.Trading.Timeframe)

		// Replay broker is unguarded: operator caps are a live concern
		// and would make the replay depend on the environment.
		paper := broker.NewPaper(cfg.Costs.FeeBps, cfg.Costs.SlippageBps, log)

		deps := &engine.Deps{
			Symbol:          cfg.Trading.Symbol,
			Timeframe:       cfg.Trading.Timeframe,
			ExpectedStepS:   stepS,
			MinBars:         cfg.Trading.MinBars,
			MaxOrderSize:    cfg.Trading.MaxOrderSize,
			CooldownBars:    cfg.Trading.CooldownBars,
			FeatureCfg:      market.DefaultFeatureConfig(),
			StateCfg:        strategy.DefaultStateConfig(),
			RulesCfg:        strategy.DefaultRules(),
			Model:           strategy.DefaultModel(),
			Broker:          paper,
			Ledger:          led,
			Watchdog:        watchdog.New(log),
			StopThroughFill: btStopThrough,
			Log:             log,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner := &backtest.Runner{
			Deps:      deps,
			Store:     barStore,
			RunID:     runID,
			Namespace: namespace,
			StartTS:   btStartTS,
			EndTS:     btEndTS,
		}
		result, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("runid:          %s\n", result.RunID)
		fmt.Printf("namespace:      %s\n", result.Namespace)
		fmt.Printf("symbol:         %s %s\n", result.Symbol, result.Timeframe)
		fmt.Printf("bars:           %d total, %d processed\n", result.BarsTotal, result.BarsProcessed)
		fmt.Printf("trades closed:  %d\n", result.TradesClosed)
		fmt.Printf("realized pnl:   %.2f USD\n", result.RealizedUSD)
		return nil
	},
}

func init() {
	backtestCmd.Flags().StringVar(&btRunID, "runid", "", "run ID (default: new ULID)")
	backtestCmd.Flags().Int64Var(&btStartTS, "start-ts-ms", 0, "hold flat until this timestamp (warmup bars are still replayed)")
	backtestCmd.Flags().Int64Var(&btEndTS, "end-ts-ms", 0, "stop replaying after this timestamp")
	backtestCmd.Flags().BoolVar(&btStopThrough, "stop-through", true, "fill stop exits at min/max(bar open, stop)")
	rootCmd.AddCommand(backtestCmd)
}
