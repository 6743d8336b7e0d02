package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reedholm/tradeloop/config"
	"github.com/reedholm/tradeloop/internal/slogx"
	"github.com/reedholm/tradeloop/ledger"
	"github.com/reedholm/tradeloop/market"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tradeloop",
	Short: "Deterministic single-symbol trading decision engine",
	Long: `tradeloop runs one symbol through a market-state classifier and rule
engine, tracks a paper position, and appends every decision to an
idempotent ledger. The same decision path drives the live loop and the
backtest replay, so the two can be verified against each other.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFromFile(cfgFile)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		log = slogx.NewDefault(cfg.Log.Level)
		slog.SetDefault(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug|info|warn|error)")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openLedger builds the configured ledger backend for a namespace. The
// CSV backend namespaces by directory; the SQLite backend uses one
// database file per namespace next to the configured path.
func openLedger(namespace, storageSymbol string) (ledger.Ledger, error) {
	switch cfg.Ledger.Type {
	case "sqlite":
		return ledger.NewSQLite(sqlitePath(namespace))
	default:
		return ledger.NewCSV(cfg.Ledger.Root, namespace, storageSymbol, cfg.Trading.Timeframe)
	}
}

func sqlitePath(namespace string) string {
	if namespace == cfg.Data.Tag {
		return cfg.Ledger.DBPath
	}
	dir := filepath.Dir(cfg.Ledger.DBPath)
	base := strings.TrimSuffix(filepath.Base(cfg.Ledger.DBPath), ".db")
	return filepath.Join(dir, fmt.Sprintf("%s-%s.db", base, namespace))
}

// readNamespace loads all decisions and trades recorded under namespace.
func readNamespace(namespace, storageSymbol string) ([]ledger.DecisionRecord, []ledger.TradeRecord, error) {
	if cfg.Ledger.Type == "sqlite" {
		l, err := ledger.NewSQLite(sqlitePath(namespace))
		if err != nil {
			return nil, nil, err
		}
		defer l.Close()
		decisions, err := l.Decisions()
		if err != nil {
			return nil, nil, err
		}
		trades, err := l.Trades()
		if err != nil {
			return nil, nil, err
		}
		return decisions, trades, nil
	}

	decisions, err := ledger.ReadDecisionsCSV(
		ledger.DecisionsCSVPath(cfg.Ledger.Root, namespace, storageSymbol, cfg.Trading.Timeframe))
	if err != nil {
		return nil, nil, err
	}
	trades, err := ledger.ReadTradesCSV(
		ledger.TradesCSVPath(cfg.Ledger.Root, namespace, storageSymbol, cfg.Trading.Timeframe))
	if err != nil {
		return nil, nil, err
	}
	return decisions, trades, nil
}

func storageSymbol() string { return market.StorageSymbol(cfg.Trading.Symbol) }
