package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDecision(ts int64) DecisionRecord {
	qty := 1.0
	entry := 100.0
	stop := 96.0
	anchor := 100.0
	usd := 2.5
	pct := 2.5
	cooldown := 0
	enter := false
	exit := false
	return DecisionRecord{
		TS:                 ts,
		Timestamp:          "2025-06-01T00:00:00Z",
		BarHigh:            101,
		BarLow:             99,
		Tradable:           true,
		Trend:              "up",
		Volatility:         "normal",
		MarketReason:       "ok ema_spread=0.0020",
		CooldownRemaining:  &cooldown,
		PositionSide:       "long",
		PositionQty:        &qty,
		PositionEntryPrice: &entry,
		PositionStopPrice:  &stop,
		PositionAnchor:     &anchor,
		UnrealizedUSD:      &usd,
		UnrealizedPct:      &pct,
		TrailReason:        "ratchet",
		EntryShouldEnter:   &enter,
		ExitShouldExit:     &exit,
	}
}

func sampleTrade(entryTS, exitTS int64) TradeRecord {
	stop := 96.0
	return TradeRecord{
		TradeID:           "01JTESTTRADE0000000000000",
		Symbol:            "BTC/USD",
		Side:              "long",
		Qty:               1,
		EntryPrice:        100,
		EntryTS:           entryTS,
		ExitPrice:         105,
		ExitTS:            exitTS,
		StopPrice:         &stop,
		FeeBps:            8.5,
		SlippageBps:       2.25,
		CostUSD:           0.220375,
		RealizedPnLUSD:    4.779625,
		RealizedPnLPct:    4.779625,
		CumRealizedPnLUSD: 4.779625,
		TradesClosed:      1,
		Reason:            "stop_hit",
	}
}

func TestCSVAppendAndWatermark(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	l, err := NewCSV(root, "paper", "BTC_USD", "5m")
	require.NoError(t, err)
	defer l.Close()

	assert.Zero(t, l.LastTS())

	wrote, err := l.AppendDecision(sampleDecision(1000))
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, int64(1000), l.LastTS())

	// Duplicate and regressing timestamps are silent no-ops.
	wrote, err = l.AppendDecision(sampleDecision(1000))
	require.NoError(t, err)
	assert.False(t, wrote)

	wrote, err = l.AppendDecision(sampleDecision(500))
	require.NoError(t, err)
	assert.False(t, wrote)

	wrote, err = l.AppendDecision(sampleDecision(0))
	require.NoError(t, err)
	assert.False(t, wrote)

	wrote, err = l.AppendDecision(sampleDecision(2000))
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, int64(2000), l.LastTS())
}

func TestCSVRestartSeedsWatermark(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	l, err := NewCSV(root, "paper", "BTC_USD", "5m")
	require.NoError(t, err)
	_, err = l.AppendDecision(sampleDecision(1000))
	require.NoError(t, err)
	_, err = l.AppendDecision(sampleDecision(2000))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Reopening resumes past the newest written row.
	l2, err := NewCSV(root, "paper", "BTC_USD", "5m")
	require.NoError(t, err)
	defer l2.Close()
	assert.Equal(t, int64(2000), l2.LastTS())

	wrote, err := l2.AppendDecision(sampleDecision(2000))
	require.NoError(t, err)
	assert.False(t, wrote)

	wrote, err = l2.AppendDecision(sampleDecision(3000))
	require.NoError(t, err)
	assert.True(t, wrote)

	rows, err := ReadDecisionsCSV(DecisionsCSVPath(root, "paper", "BTC_USD", "5m"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(1000), rows[0].TS)
	assert.Equal(t, int64(3000), rows[2].TS)
}

func TestCSVDecisionRoundtrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	l, err := NewCSV(root, "paper", "BTC_USD", "5m")
	require.NoError(t, err)

	want := sampleDecision(1000)
	_, err = l.AppendDecision(want)
	require.NoError(t, err)

	// A sparse row keeps its blanks.
	sparse := DecisionRecord{
		TS: 2000, Timestamp: "2025-06-01T00:05:00Z",
		BarHigh: 101, BarLow: 99,
		Trend: "flat", Volatility: "normal",
		MarketReason: "not_enough_bars (5<60)",
	}
	_, err = l.AppendDecision(sparse)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	rows, err := ReadDecisionsCSV(DecisionsCSVPath(root, "paper", "BTC_USD", "5m"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, want, rows[0])
	assert.Equal(t, sparse, rows[1])

	assert.True(t, rows[1].IsNoop())
	assert.False(t, rows[0].IsNoop())
}

func TestCSVTradeRoundtrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	l, err := NewCSV(root, "paper", "BTC_USD", "5m")
	require.NoError(t, err)

	want := sampleTrade(1000, 2000)
	require.NoError(t, l.AppendTrade(want))

	noStop := sampleTrade(3000, 4000)
	noStop.TradeID = "01JTESTTRADE0000000000001"
	noStop.StopPrice = nil
	noStop.Reason = "time_stop"
	require.NoError(t, l.AppendTrade(noStop))
	require.NoError(t, l.Close())

	trades, err := ReadTradesCSV(TradesCSVPath(root, "paper", "BTC_USD", "5m"))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, want, trades[0])
	assert.Nil(t, trades[1].StopPrice)
	assert.Equal(t, "time_stop", trades[1].Reason)
}

func TestCSVMissingFilesReadEmpty(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	rows, err := ReadDecisionsCSV(DecisionsCSVPath(root, "paper", "BTC_USD", "5m"))
	require.NoError(t, err)
	assert.Empty(t, rows)

	trades, err := ReadTradesCSV(TradesCSVPath(root, "paper", "BTC_USD", "5m"))
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestDayStats(t *testing.T) {
	t.Parallel()

	mk := func(exitTS int64, pnl float64) TradeRecord {
		return TradeRecord{EntryTS: exitTS - 1000, ExitTS: exitTS, RealizedPnLUSD: pnl}
	}
	trades := []TradeRecord{
		mk(500, 10),   // before day start
		mk(1500, -5),  // in day
		mk(2500, 7.5), // in day
		{EntryTS: 3000, RealizedPnLUSD: 1}, // no exit ts, entry keys the day
	}

	count, pnl := DayStats(trades, 1000)
	assert.Equal(t, 3, count)
	assert.InDelta(t, 3.5, pnl, 1e-9)

	count, pnl = DayStats(nil, 1000)
	assert.Zero(t, count)
	assert.Zero(t, pnl)
}
