package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var decisionHeader = []string{
	"ts_ms", "timestamp", "bar_high", "bar_low",
	"tradable", "trend", "volatility", "market_reason",
	"cooldown_remaining_bars",
	"position_side", "position_qty", "position_entry_price",
	"position_stop_price", "position_trailing_anchor_price",
	"unrealized_pnl_usd", "unrealized_pnl_pct",
	"trail_reason", "trail_new_stop", "trail_new_anchor",
	"entry_should_enter", "entry_side", "entry_confidence", "entry_reason",
	"exit_should_exit", "exit_reason",
	"degraded",
}

var tradeHeader = []string{
	"trade_id", "symbol", "side", "qty",
	"entry_price", "entry_ts_ms", "exit_price", "exit_ts_ms",
	"stop_price", "fee_bps", "slippage_bps", "cost_usd",
	"realized_pnl_usd", "realized_pnl_pct",
	"cum_realized_pnl_usd", "trades_closed",
	"exit_reason", "market_reason",
}

// DecisionsCSVPath returns the canonical decisions file location for a
// (namespace, symbol, timeframe) key under root.
func DecisionsCSVPath(root, namespace, symbol, timeframe string) string {
	return filepath.Join(root, "decisions", namespace, symbol, timeframe, "decisions.csv")
}

// TradesCSVPath returns the canonical trades file location.
func TradesCSVPath(root, namespace, symbol, timeframe string) string {
	return filepath.Join(root, "trades", namespace, symbol, timeframe, "trades.csv")
}

// CSVLedger is the file-backed Ledger. Decision rows are appended and
// flushed per write; the watermark is seeded by scanning the existing
// file's rows for the maximum valid ts_ms.
type CSVLedger struct {
	decisions *csv.Writer
	trades    *csv.Writer
	df, tf    *os.File
	lastTS    int64
}

// NewCSV opens (creating if needed) the decision and trade files for the
// given key and seeds the restart watermark from the decisions tail.
func NewCSV(root, namespace, symbol, timeframe string) (*CSVLedger, error) {
	dpath := DecisionsCSVPath(root, namespace, symbol, timeframe)
	tpath := TradesCSVPath(root, namespace, symbol, timeframe)

	last, err := lastTSFromCSV(dpath)
	if err != nil {
		return nil, fmt.Errorf("seed decision watermark: %w", err)
	}

	df, err := openAppend(dpath, decisionHeader)
	if err != nil {
		return nil, fmt.Errorf("open decisions csv: %w", err)
	}
	tf, err := openAppend(tpath, tradeHeader)
	if err != nil {
		df.Close()
		return nil, fmt.Errorf("open trades csv: %w", err)
	}

	return &CSVLedger{
		decisions: csv.NewWriter(df),
		trades:    csv.NewWriter(tf),
		df:        df,
		tf:        tf,
		lastTS:    last,
	}, nil
}

func (l *CSVLedger) LastTS() int64 { return l.lastTS }

func (l *CSVLedger) AppendDecision(r DecisionRecord) (bool, error) {
	if r.TS <= 0 || r.TS <= l.lastTS {
		return false, nil
	}
	if err := l.decisions.Write(encodeDecision(r)); err != nil {
		return false, fmt.Errorf("append decision: %w", err)
	}
	l.decisions.Flush()
	if err := l.decisions.Error(); err != nil {
		return false, fmt.Errorf("flush decision: %w", err)
	}
	l.lastTS = r.TS
	return true, nil
}

func (l *CSVLedger) AppendTrade(t TradeRecord) error {
	if err := l.trades.Write(encodeTrade(t)); err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	l.trades.Flush()
	if err := l.trades.Error(); err != nil {
		return fmt.Errorf("flush trade: %w", err)
	}
	return nil
}

func (l *CSVLedger) Close() error {
	l.decisions.Flush()
	l.trades.Flush()
	if err := l.df.Close(); err != nil {
		return err
	}
	return l.tf.Close()
}

// openAppend opens path for appending, creating parent directories and
// writing the header if the file is new or empty.
func openAppend(path string, header []string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// lastTSFromCSV scans an existing decisions file for the maximum valid
// ts_ms. A missing file yields 0. Malformed rows are skipped, not fatal:
// the watermark only needs the newest valid timestamp.
func lastTSFromCSV(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var last int64
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == "ts_ms" {
				continue
			}
		}
		if len(row) == 0 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil || ts <= 0 {
			continue
		}
		if ts > last {
			last = ts
		}
	}
	return last, nil
}

// ReadDecisionsCSV loads all decision rows from path, sorted as written.
// A missing file yields an empty slice.
func ReadDecisionsCSV(path string) ([]DecisionRecord, error) {
	rows, header, err := readAll(path)
	if err != nil || rows == nil {
		return nil, err
	}
	idx := headerIndex(header)
	out := make([]DecisionRecord, 0, len(rows))
	for _, row := range rows {
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}
		ts, err := strconv.ParseInt(get("ts_ms"), 10, 64)
		if err != nil || ts <= 0 {
			continue
		}
		out = append(out, DecisionRecord{
			TS:                 ts,
			Timestamp:          get("timestamp"),
			BarHigh:            parseF(get("bar_high")),
			BarLow:             parseF(get("bar_low")),
			Tradable:           parseB(get("tradable")),
			Trend:              get("trend"),
			Volatility:         get("volatility"),
			MarketReason:       get("market_reason"),
			CooldownRemaining:  parseIntPtr(get("cooldown_remaining_bars")),
			PositionSide:       get("position_side"),
			PositionQty:        parseFPtr(get("position_qty")),
			PositionEntryPrice: parseFPtr(get("position_entry_price")),
			PositionStopPrice:  parseFPtr(get("position_stop_price")),
			PositionAnchor:     parseFPtr(get("position_trailing_anchor_price")),
			UnrealizedUSD:      parseFPtr(get("unrealized_pnl_usd")),
			UnrealizedPct:      parseFPtr(get("unrealized_pnl_pct")),
			TrailReason:        get("trail_reason"),
			TrailNewStop:       parseFPtr(get("trail_new_stop")),
			TrailNewAnchor:     parseFPtr(get("trail_new_anchor")),
			EntryShouldEnter:   parseBPtr(get("entry_should_enter")),
			EntrySide:          get("entry_side"),
			EntryConfidence:    parseFPtr(get("entry_confidence")),
			EntryReason:        get("entry_reason"),
			ExitShouldExit:     parseBPtr(get("exit_should_exit")),
			ExitReason:         get("exit_reason"),
			Degraded:           parseB(get("degraded")),
		})
	}
	return out, nil
}

// ReadTradesCSV loads all trade rows from path. A missing file yields an
// empty slice.
func ReadTradesCSV(path string) ([]TradeRecord, error) {
	rows, header, err := readAll(path)
	if err != nil || rows == nil {
		return nil, err
	}
	idx := headerIndex(header)
	out := make([]TradeRecord, 0, len(rows))
	for _, row := range rows {
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}
		out = append(out, TradeRecord{
			TradeID:           get("trade_id"),
			Symbol:            get("symbol"),
			Side:              get("side"),
			Qty:               parseF(get("qty")),
			EntryPrice:        parseF(get("entry_price")),
			EntryTS:           parseI(get("entry_ts_ms")),
			ExitPrice:         parseF(get("exit_price")),
			ExitTS:            parseI(get("exit_ts_ms")),
			StopPrice:         parseFPtr(get("stop_price")),
			FeeBps:            parseF(get("fee_bps")),
			SlippageBps:       parseF(get("slippage_bps")),
			CostUSD:           parseF(get("cost_usd")),
			RealizedPnLUSD:    parseF(get("realized_pnl_usd")),
			RealizedPnLPct:    parseF(get("realized_pnl_pct")),
			CumRealizedPnLUSD: parseF(get("cum_realized_pnl_usd")),
			TradesClosed:      int(parseI(get("trades_closed"))),
			Reason:            get("exit_reason"),
			MarketReason:      get("market_reason"),
		})
	}
	return out, nil
}

func readAll(path string) (rows [][]string, header []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[1:], all[0], nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	return idx
}

func encodeDecision(r DecisionRecord) []string {
	return []string{
		strconv.FormatInt(r.TS, 10),
		r.Timestamp,
		fmtF(r.BarHigh),
		fmtF(r.BarLow),
		strconv.FormatBool(r.Tradable),
		r.Trend,
		r.Volatility,
		r.MarketReason,
		fmtIntPtr(r.CooldownRemaining),
		r.PositionSide,
		fmtFPtr(r.PositionQty),
		fmtFPtr(r.PositionEntryPrice),
		fmtFPtr(r.PositionStopPrice),
		fmtFPtr(r.PositionAnchor),
		fmtFPtr(r.UnrealizedUSD),
		fmtFPtr(r.UnrealizedPct),
		r.TrailReason,
		fmtFPtr(r.TrailNewStop),
		fmtFPtr(r.TrailNewAnchor),
		fmtBPtr(r.EntryShouldEnter),
		r.EntrySide,
		fmtFPtr(r.EntryConfidence),
		r.EntryReason,
		fmtBPtr(r.ExitShouldExit),
		r.ExitReason,
		strconv.FormatBool(r.Degraded),
	}
}

func encodeTrade(t TradeRecord) []string {
	return []string{
		t.TradeID,
		t.Symbol,
		t.Side,
		fmtF(t.Qty),
		fmtF(t.EntryPrice),
		strconv.FormatInt(t.EntryTS, 10),
		fmtF(t.ExitPrice),
		strconv.FormatInt(t.ExitTS, 10),
		fmtFPtr(t.StopPrice),
		fmtF(t.FeeBps),
		fmtF(t.SlippageBps),
		fmtF(t.CostUSD),
		fmtF(t.RealizedPnLUSD),
		fmtF(t.RealizedPnLPct),
		fmtF(t.CumRealizedPnLUSD),
		strconv.Itoa(t.TradesClosed),
		t.Reason,
		t.MarketReason,
	}
}

func fmtF(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func fmtFPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtF(*v)
}

func fmtIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func fmtBPtr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func parseF(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseI(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseB(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}

func parseFPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseIntPtr(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseBPtr(s string) *bool {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &v
}
