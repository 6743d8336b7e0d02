package broker

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/reedholm/tradeloop/config"
	"github.com/reedholm/tradeloop/ledger"
)

// HaltSource answers whether entries are halted right now. The file
// implementation checks kill-switch / halt-orders file presence; tests
// substitute an in-memory source.
type HaltSource interface {
	ReasonOrNone(g config.Guardrails) string
}

// FileHaltSource checks the guardrail file paths on disk.
type FileHaltSource struct{}

func (FileHaltSource) ReasonOrNone(g config.Guardrails) string { return g.HaltReason() }

// DayStats reports closed trades and realized PnL since dayStartTS
// (epoch ms), typically backed by the trade ledger.
type DayStats func(dayStartTS int64) (trades int, pnlUSD float64)

// GuardedBroker wraps a Broker and enforces operator guardrails on
// entries. Guardrails are re-read on every open so caps and halt files
// take effect without a restart. Blocked entries are warned no-ops;
// exits and stop updates always pass through.
type GuardedBroker struct {
	inner        Broker
	requireArmed bool

	guards   func() config.Guardrails
	halt     HaltSource
	dayStats DayStats

	log *slog.Logger
}

// NewGuarded wraps inner with the env-backed guardrails. dayStats may
// be nil, which disables the daily-limit checks.
func NewGuarded(inner Broker, requireArmed bool, dayStats DayStats, log *slog.Logger) *GuardedBroker {
	if log == nil {
		log = slog.Default()
	}
	return &GuardedBroker{
		inner:        inner,
		requireArmed: requireArmed,
		guards:       config.GuardrailsFromEnv,
		halt:         FileHaltSource{},
		dayStats:     dayStats,
		log:          log.With("component", "guarded_broker"),
	}
}

// SetGuards overrides the guardrail source. Test hook.
func (b *GuardedBroker) SetGuards(guards func() config.Guardrails) { b.guards = guards }

// SetHaltSource overrides the halt source. Test hook.
func (b *GuardedBroker) SetHaltSource(h HaltSource) { b.halt = h }

func (b *GuardedBroker) blockReason(req OpenRequest) string {
	g := b.guards()

	if r := b.halt.ReasonOrNone(g); r != "" {
		return r
	}

	if b.requireArmed {
		// Two-key arming model
		if g.DryRun {
			return "dry_run"
		}
		if !g.Armed {
			return "not_armed"
		}
	}

	if math.IsNaN(req.EntryPrice) || math.IsNaN(req.Qty) || req.EntryPrice <= 0 || req.Qty <= 0 {
		return "bad_inputs"
	}

	orderUSD := req.EntryPrice * req.Qty
	if g.MaxOrderUSD > 0 && orderUSD > g.MaxOrderUSD {
		return fmt.Sprintf("max_order_usd(%.2f>%.2f)", orderUSD, g.MaxOrderUSD)
	}

	// Position cap covers future scale-in support.
	existingQty := 0.0
	if pos, ok := b.inner.Position(req.Symbol); ok {
		existingQty = pos.Qty
	}
	positionUSD := req.EntryPrice * (existingQty + req.Qty)
	if g.MaxPositionUSD > 0 && positionUSD > g.MaxPositionUSD {
		return fmt.Sprintf("max_position_usd(%.2f>%.2f)", positionUSD, g.MaxPositionUSD)
	}

	if b.dayStats != nil && (g.MaxTradesPerDay > 0 || g.MaxDailyLossUSD > 0) {
		trades, pnl := b.dayStats(dayStartMillis(time.Now(), g.DayTZ))
		if g.MaxTradesPerDay > 0 && trades >= g.MaxTradesPerDay {
			return fmt.Sprintf("max_trades_per_day(%d>=%d)", trades, g.MaxTradesPerDay)
		}
		if g.MaxDailyLossUSD > 0 && pnl <= -g.MaxDailyLossUSD {
			return fmt.Sprintf("max_daily_loss_usd(%.2f<=-%.2f)", pnl, g.MaxDailyLossUSD)
		}
	}

	return ""
}

func (b *GuardedBroker) OpenPosition(req OpenRequest) OpenResult {
	if reason := b.blockReason(req); reason != "" {
		b.log.Warn("blocked entry at broker guard",
			"symbol", req.Symbol, "side", req.Side, "qty", req.Qty,
			"entry_price", req.EntryPrice, "reason", reason)
		return OpenResult{BlockReason: reason}
	}
	return b.inner.OpenPosition(req)
}

func (b *GuardedBroker) Position(symbol string) (Position, bool) {
	return b.inner.Position(symbol)
}

func (b *GuardedBroker) UpdateStop(symbol string, newStop float64, newAnchor *float64) (Position, bool) {
	return b.inner.UpdateStop(symbol, newStop, newAnchor)
}

func (b *GuardedBroker) CooldownRemainingBars(symbol string, nowTS int64, expectedStepS, cooldownBars int) int {
	return b.inner.CooldownRemainingBars(symbol, nowTS, expectedStepS, cooldownBars)
}

func (b *GuardedBroker) UnrealizedPnL(symbol string, lastPrice float64) (usd, pct float64) {
	return b.inner.UnrealizedPnL(symbol, lastPrice)
}

// RealizeAndClose always passes through: exits are allowed even while
// halted.
func (b *GuardedBroker) RealizeAndClose(symbol string, exitPrice float64, reason string, exitTS int64) (ledger.TradeRecord, error) {
	return b.inner.RealizeAndClose(symbol, exitPrice, reason, exitTS)
}

func dayStartMillis(now time.Time, tz string) int64 {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	n := now.In(loc)
	start := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	return start.UnixMilli()
}
