package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Guardrails are the operator-controlled safety caps. They are read fresh
// from the environment on every decision so an operator can flip them on
// a running process without a restart.
type Guardrails struct {
	KillSwitchFile  string
	HaltOrdersFile  string
	Armed           bool
	DryRun          bool
	MaxOrderUSD     float64
	MaxPositionUSD  float64
	MaxTradesPerDay int
	MaxDailyLossUSD float64
	DayTZ           string
}

// GuardrailsFromEnv reads the guardrail environment at this instant.
func GuardrailsFromEnv() Guardrails {
	return Guardrails{
		KillSwitchFile:  strings.TrimSpace(envStr("KILL_SWITCH_FILE", "/tmp/TRADING_STOP")),
		HaltOrdersFile:  strings.TrimSpace(envStr("HALT_ORDERS_FILE", "")),
		Armed:           envBool("ARMED", false),
		DryRun:          envBool("DRY_RUN", false),
		MaxOrderUSD:     envFloat("MAX_ORDER_USD", 0),
		MaxPositionUSD:  envFloat("MAX_POSITION_USD", 0),
		MaxTradesPerDay: envInt("MAX_TRADES_PER_DAY", 0),
		MaxDailyLossUSD: envFloat("MAX_DAILY_LOSS_USD", 0),
		DayTZ:           envStr("DAY_TZ", "UTC"),
	}
}

// HaltReason reports the active file-based halt, or "" when none. A cap
// of zero disables that cap; file checks are point-in-time.
func (g Guardrails) HaltReason() string {
	if g.KillSwitchFile != "" && fileExists(g.KillSwitchFile) {
		return fmt.Sprintf("kill_switch(%s)", g.KillSwitchFile)
	}
	if g.HaltOrdersFile != "" && fileExists(g.HaltOrdersFile) {
		return fmt.Sprintf("halt_orders(%s)", g.HaltOrdersFile)
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func envStr(name, def string) string {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	return v
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y", "t":
		return true
	case "0", "false", "no", "off", "n", "f", "":
		return false
	}
	return def
}

func envFloat(name string, def float64) float64 {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

func envInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
