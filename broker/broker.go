package broker

import (
	"github.com/reedholm/tradeloop/ledger"
	"github.com/reedholm/tradeloop/strategy"
)

// Position is the tracked state for one symbol. EntryTS may be in the
// future: entries are modeled next-bar, and a position whose EntryTS has
// not arrived yet is pending and must not be managed or exited.
type Position struct {
	Symbol         string
	Side           strategy.Side
	Qty            float64
	EntryPrice     float64
	EntryTS        int64 // epoch ms
	StopPrice      *float64
	TrailingAnchor *float64
}

// Pending reports whether the entry has not filled yet at nowTS.
func (p Position) Pending(nowTS int64) bool {
	return nowTS > 0 && nowTS < p.EntryTS
}

// OpenRequest carries everything needed to open a position.
type OpenRequest struct {
	Symbol         string
	Side           strategy.Side
	Qty            float64
	EntryPrice     float64
	EntryTS        int64
	StopPrice      *float64
	TrailingAnchor *float64
	Reason         string
}

// OpenResult reports whether the open happened. A block is a policy
// outcome, not an error: BlockReason is machine-readable and lands in
// the decision ledger as blocked_by_<reason>.
type OpenResult struct {
	Opened      bool
	BlockReason string
}

// Broker is the position state machine the engine drives. Exits always
// succeed at any layer; only entries can be blocked.
type Broker interface {
	// Position returns the tracked position for symbol, if any.
	Position(symbol string) (Position, bool)

	// OpenPosition transitions FLAT -> PENDING_ENTRY. Opening over an
	// existing position is a warned no-op (BlockReason position_exists).
	OpenPosition(req OpenRequest) OpenResult

	// UpdateStop tightens the stop and advances the trailing anchor.
	// A loosening stop is rejected as a warned no-op. Returns the
	// position after the update and whether one exists.
	UpdateStop(symbol string, newStop float64, newAnchor *float64) (Position, bool)

	// CooldownRemainingBars counts whole bars left before re-entry is
	// allowed after the most recent close.
	CooldownRemainingBars(symbol string, nowTS int64, expectedStepS, cooldownBars int) int

	// UnrealizedPnL marks the open position at lastPrice.
	UnrealizedPnL(symbol string, lastPrice float64) (usd, pct float64)

	// RealizeAndClose transitions OPEN -> FLAT, applying the cost model,
	// and returns the immutable trade snapshot.
	RealizeAndClose(symbol string, exitPrice float64, reason string, exitTS int64) (ledger.TradeRecord, error)
}
