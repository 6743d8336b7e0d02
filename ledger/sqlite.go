package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const Schema = `
CREATE TABLE IF NOT EXISTS decisions (
	ts_ms INTEGER PRIMARY KEY,
	timestamp TEXT NOT NULL,
	bar_high REAL NOT NULL,
	bar_low REAL NOT NULL,
	tradable INTEGER NOT NULL,
	trend TEXT NOT NULL,
	volatility TEXT NOT NULL,
	market_reason TEXT NOT NULL,
	cooldown_remaining_bars INTEGER,
	position_side TEXT NOT NULL DEFAULT '',
	position_qty REAL,
	position_entry_price REAL,
	position_stop_price REAL,
	position_trailing_anchor_price REAL,
	unrealized_pnl_usd REAL,
	unrealized_pnl_pct REAL,
	trail_reason TEXT NOT NULL DEFAULT '',
	trail_new_stop REAL,
	trail_new_anchor REAL,
	entry_should_enter INTEGER,
	entry_side TEXT NOT NULL DEFAULT '',
	entry_confidence REAL,
	entry_reason TEXT NOT NULL DEFAULT '',
	exit_should_exit INTEGER,
	exit_reason TEXT NOT NULL DEFAULT '',
	degraded INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	entry_price REAL NOT NULL,
	entry_ts_ms INTEGER NOT NULL,
	exit_price REAL NOT NULL,
	exit_ts_ms INTEGER NOT NULL,
	stop_price REAL,
	fee_bps REAL NOT NULL,
	slippage_bps REAL NOT NULL,
	cost_usd REAL NOT NULL,
	realized_pnl_usd REAL NOT NULL,
	realized_pnl_pct REAL NOT NULL,
	cum_realized_pnl_usd REAL NOT NULL,
	trades_closed INTEGER NOT NULL,
	exit_reason TEXT NOT NULL,
	market_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_trades_entry_ts ON trades(entry_ts_ms);
`

// SQLiteLedger is the database-backed Ledger. The restart watermark is
// seeded from MAX(ts_ms) on open; the primary key backs up the in-memory
// dedupe.
type SQLiteLedger struct {
	db     *sql.DB
	lastTS int64
}

func NewSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	var last sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(ts_ms) FROM decisions`).Scan(&last); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed decision watermark: %w", err)
	}

	l := &SQLiteLedger{db: db}
	if last.Valid {
		l.lastTS = last.Int64
	}
	return l, nil
}

func (l *SQLiteLedger) LastTS() int64 { return l.lastTS }

func (l *SQLiteLedger) AppendDecision(r DecisionRecord) (bool, error) {
	if r.TS <= 0 || r.TS <= l.lastTS {
		return false, nil
	}

	_, err := l.db.Exec(`
		INSERT INTO decisions
		(ts_ms, timestamp, bar_high, bar_low, tradable, trend, volatility, market_reason,
		 cooldown_remaining_bars,
		 position_side, position_qty, position_entry_price, position_stop_price, position_trailing_anchor_price,
		 unrealized_pnl_usd, unrealized_pnl_pct,
		 trail_reason, trail_new_stop, trail_new_anchor,
		 entry_should_enter, entry_side, entry_confidence, entry_reason,
		 exit_should_exit, exit_reason, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TS, r.Timestamp, r.BarHigh, r.BarLow, r.Tradable, string(r.Trend), r.Volatility, r.MarketReason,
		nullInt(r.CooldownRemaining),
		r.PositionSide, nullF(r.PositionQty), nullF(r.PositionEntryPrice), nullF(r.PositionStopPrice), nullF(r.PositionAnchor),
		nullF(r.UnrealizedUSD), nullF(r.UnrealizedPct),
		r.TrailReason, nullF(r.TrailNewStop), nullF(r.TrailNewAnchor),
		nullB(r.EntryShouldEnter), r.EntrySide, nullF(r.EntryConfidence), r.EntryReason,
		nullB(r.ExitShouldExit), r.ExitReason, r.Degraded,
	)
	if err != nil {
		return false, fmt.Errorf("append decision: %w", err)
	}
	l.lastTS = r.TS
	return true, nil
}

func (l *SQLiteLedger) AppendTrade(t TradeRecord) error {
	_, err := l.db.Exec(`
		INSERT INTO trades
		(trade_id, symbol, side, qty, entry_price, entry_ts_ms, exit_price, exit_ts_ms,
		 stop_price, fee_bps, slippage_bps, cost_usd,
		 realized_pnl_usd, realized_pnl_pct, cum_realized_pnl_usd, trades_closed,
		 exit_reason, market_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Symbol, t.Side, t.Qty, t.EntryPrice, t.EntryTS, t.ExitPrice, t.ExitTS,
		nullF(t.StopPrice), t.FeeBps, t.SlippageBps, t.CostUSD,
		t.RealizedPnLUSD, t.RealizedPnLPct, t.CumRealizedPnLUSD, t.TradesClosed,
		t.Reason, t.MarketReason,
	)
	if err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	return nil
}

// Decisions returns all decision rows ordered by ts_ms.
func (l *SQLiteLedger) Decisions() ([]DecisionRecord, error) {
	rows, err := l.db.Query(`
		SELECT ts_ms, timestamp, bar_high, bar_low, tradable, trend, volatility, market_reason,
		       cooldown_remaining_bars,
		       position_side, position_qty, position_entry_price, position_stop_price, position_trailing_anchor_price,
		       unrealized_pnl_usd, unrealized_pnl_pct,
		       trail_reason, trail_new_stop, trail_new_anchor,
		       entry_should_enter, entry_side, entry_confidence, entry_reason,
		       exit_should_exit, exit_reason, degraded
		FROM decisions ORDER BY ts_ms`)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var cooldown sql.NullInt64
		var qty, entryPx, stop, anchor, uUSD, uPct, tStop, tAnchor, conf sql.NullFloat64
		var enter, exit sql.NullBool

		if err := rows.Scan(
			&r.TS, &r.Timestamp, &r.BarHigh, &r.BarLow, &r.Tradable, &r.Trend, &r.Volatility, &r.MarketReason,
			&cooldown,
			&r.PositionSide, &qty, &entryPx, &stop, &anchor,
			&uUSD, &uPct,
			&r.TrailReason, &tStop, &tAnchor,
			&enter, &r.EntrySide, &conf, &r.EntryReason,
			&exit, &r.ExitReason, &r.Degraded,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}

		if cooldown.Valid {
			v := int(cooldown.Int64)
			r.CooldownRemaining = &v
		}
		r.PositionQty = fromNullF(qty)
		r.PositionEntryPrice = fromNullF(entryPx)
		r.PositionStopPrice = fromNullF(stop)
		r.PositionAnchor = fromNullF(anchor)
		r.UnrealizedUSD = fromNullF(uUSD)
		r.UnrealizedPct = fromNullF(uPct)
		r.TrailNewStop = fromNullF(tStop)
		r.TrailNewAnchor = fromNullF(tAnchor)
		r.EntryShouldEnter = fromNullB(enter)
		r.ExitShouldExit = fromNullB(exit)

		out = append(out, r)
	}
	return out, rows.Err()
}

// Trades returns all trade rows ordered by entry timestamp.
func (l *SQLiteLedger) Trades() ([]TradeRecord, error) {
	rows, err := l.db.Query(`
		SELECT trade_id, symbol, side, qty, entry_price, entry_ts_ms, exit_price, exit_ts_ms,
		       stop_price, fee_bps, slippage_bps, cost_usd,
		       realized_pnl_usd, realized_pnl_pct, cum_realized_pnl_usd, trades_closed,
		       exit_reason, market_reason
		FROM trades ORDER BY entry_ts_ms`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var stop sql.NullFloat64
		if err := rows.Scan(
			&t.TradeID, &t.Symbol, &t.Side, &t.Qty, &t.EntryPrice, &t.EntryTS, &t.ExitPrice, &t.ExitTS,
			&stop, &t.FeeBps, &t.SlippageBps, &t.CostUSD,
			&t.RealizedPnLUSD, &t.RealizedPnLPct, &t.CumRealizedPnLUSD, &t.TradesClosed,
			&t.Reason, &t.MarketReason,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.StopPrice = fromNullF(stop)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Close() error { return l.db.Close() }

func nullF(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullB(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullF(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func fromNullB(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}
