package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reedholm/tradeloop/market"
)

// Config is the complete engine configuration.
type Config struct {
	Trading Trading `json:"trading" yaml:"trading"`
	Costs   Costs   `json:"costs" yaml:"costs"`
	Data    Data    `json:"data" yaml:"data"`
	Ledger  Ledger  `json:"ledger" yaml:"ledger"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`
	Log     Log     `json:"log" yaml:"log"`
}

// Trading contains the symbol, cadence and strategy gates.
type Trading struct {
	Symbol           string  `json:"symbol" yaml:"symbol"`
	Timeframe        string  `json:"timeframe" yaml:"timeframe"`
	MinBars          int     `json:"min_bars" yaml:"min_bars"`
	MaxOrderSize     float64 `json:"max_order_size" yaml:"max_order_size"`
	CooldownBars     int     `json:"cooldown_bars" yaml:"cooldown_bars"`
	LoopSleepSeconds int     `json:"loop_sleep_seconds" yaml:"loop_sleep_seconds"`
	DryRun           bool    `json:"dry_run" yaml:"dry_run"`
}

// Costs models execution friction applied at both legs of a round trip.
type Costs struct {
	FeeBps      float64 `json:"fee_bps" yaml:"fee_bps"`
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps"`
}

// Data names the storage namespace and root for bars.
type Data struct {
	Tag  string `json:"tag" yaml:"tag"`
	Root string `json:"root" yaml:"root"`
}

// Ledger selects the decision/trade ledger backend.
type Ledger struct {
	Type   string `json:"type" yaml:"type"` // "csv" or "sqlite"
	Root   string `json:"root,omitempty" yaml:"root,omitempty"`
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// Metrics configures the live-mode observability endpoint.
type Metrics struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Log configures logging.
type Log struct {
	Level string `json:"level" yaml:"level"`
}

// LoadFromFile loads configuration from a file (JSON or YAML based on content).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading.symbol is required")
	}
	if _, err := market.ParseTimeframeSeconds(c.Trading.Timeframe); err != nil {
		return fmt.Errorf("trading.timeframe: %w", err)
	}
	if c.Trading.MinBars <= 0 {
		return fmt.Errorf("trading.min_bars must be positive")
	}
	if c.Trading.MaxOrderSize <= 0 {
		return fmt.Errorf("trading.max_order_size must be positive")
	}
	if c.Trading.CooldownBars < 0 {
		return fmt.Errorf("trading.cooldown_bars must not be negative")
	}
	if c.Trading.LoopSleepSeconds <= 0 {
		return fmt.Errorf("trading.loop_sleep_seconds must be positive")
	}
	if c.Costs.FeeBps < 0 || c.Costs.SlippageBps < 0 {
		return fmt.Errorf("costs must not be negative")
	}
	if c.Data.Tag == "" {
		return fmt.Errorf("data.tag is required")
	}
	if c.Data.Root == "" {
		return fmt.Errorf("data.root is required")
	}
	if c.Ledger.Type != "csv" && c.Ledger.Type != "sqlite" {
		return fmt.Errorf("ledger.type must be 'csv' or 'sqlite'")
	}
	if c.Ledger.Type == "csv" && c.Ledger.Root == "" {
		return fmt.Errorf("ledger.root required for CSV type")
	}
	if c.Ledger.Type == "sqlite" && c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.db_path required for SQLite type")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr required when metrics enabled")
	}
	return nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Trading: Trading{
			Symbol:           "BTC/USD",
			Timeframe:        "5m",
			MinBars:          60,
			MaxOrderSize:     1.0,
			CooldownBars:     3,
			LoopSleepSeconds: 60,
			DryRun:           true,
		},
		Costs: Costs{
			FeeBps:      8.5,
			SlippageBps: 2.25,
		},
		Data: Data{
			Tag:  "coinbase",
			Root: "data/raw",
		},
		Ledger: Ledger{
			Type: "csv",
			Root: "data/processed",
		},
		Metrics: Metrics{
			Enabled: false,
			Addr:    ":9109",
		},
		Log: Log{Level: "info"},
	}
}
