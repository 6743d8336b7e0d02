package ledger

// DecisionRecord is one row per processed bar timestamp. The schema is
// stable across skip/trade/hold rows: every column is always present,
// blank (nil pointer / empty string) when not applicable, so downstream
// tools can diff rows positionally.
type DecisionRecord struct {
	TS        int64  // epoch ms, ledger key
	Timestamp string // RFC3339, informational

	BarHigh float64
	BarLow  float64

	Tradable     bool
	Trend        string
	Volatility   string
	MarketReason string

	CooldownRemaining *int

	PositionSide       string
	PositionQty        *float64
	PositionEntryPrice *float64
	PositionStopPrice  *float64
	PositionAnchor     *float64

	UnrealizedUSD *float64
	UnrealizedPct *float64

	TrailReason    string
	TrailNewStop   *float64
	TrailNewAnchor *float64

	EntryShouldEnter *bool
	EntrySide        string
	EntryConfidence  *float64
	EntryReason      string

	ExitShouldExit *bool
	ExitReason     string

	Degraded bool
}

// IsNoop reports whether the row changes nothing: no entry, no exit, no
// position. The equivalence verifier tolerates one-sided rows only when
// the present side is a no-op.
func (r DecisionRecord) IsNoop() bool {
	enter := r.EntryShouldEnter != nil && *r.EntryShouldEnter
	exit := r.ExitShouldExit != nil && *r.ExitShouldExit
	return !enter && !exit && r.PositionSide == ""
}

// TradeRecord is the immutable snapshot written when a position closes.
type TradeRecord struct {
	TradeID string
	Symbol  string
	Side    string
	Qty     float64

	EntryPrice float64
	EntryTS    int64
	ExitPrice  float64
	ExitTS     int64

	StopPrice *float64

	FeeBps         float64
	SlippageBps    float64
	CostUSD        float64
	RealizedPnLUSD float64
	RealizedPnLPct float64

	CumRealizedPnLUSD float64
	TradesClosed      int

	Reason       string
	MarketReason string
}

// DayStats counts closed trades and sums realized PnL for trades on or
// after dayStartTS. The exit timestamp keys the day; an unset exit falls
// back to the entry.
func DayStats(trades []TradeRecord, dayStartTS int64) (count int, pnlUSD float64) {
	for _, t := range trades {
		ts := t.ExitTS
		if ts == 0 {
			ts = t.EntryTS
		}
		if ts < dayStartTS {
			continue
		}
		count++
		pnlUSD += t.RealizedPnLUSD
	}
	return count, pnlUSD
}

// Ledger is an append-only, idempotent decision/trade record store.
//
// The contract: at most one decision per distinct TS, and only if TS is
// strictly greater than the last written TS. Implementations seed the
// watermark from existing data on open, making the writer safe across
// restarts without external coordination. AppendDecision returns whether
// the row was actually written; a duplicate/regressing TS is skipped
// without error.
type Ledger interface {
	AppendDecision(DecisionRecord) (bool, error)
	AppendTrade(TradeRecord) error
	LastTS() int64
	Close() error
}
