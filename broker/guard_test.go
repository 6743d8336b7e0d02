package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedholm/tradeloop/config"
	"github.com/reedholm/tradeloop/strategy"
)

type stubHalt struct{ reason string }

func (s stubHalt) ReasonOrNone(config.Guardrails) string { return s.reason }

func guardedWith(t *testing.T, g config.Guardrails, dayStats DayStats) (*GuardedBroker, *PaperBroker) {
	t.Helper()
	inner := NewPaper(8.5, 2.25, nil)
	gb := NewGuarded(inner, false, dayStats, nil)
	gb.SetGuards(func() config.Guardrails { return g })
	gb.SetHaltSource(stubHalt{})
	return gb, inner
}

func TestGuardedOpenPassthrough(t *testing.T) {
	t.Parallel()

	gb, inner := guardedWith(t, config.Guardrails{}, nil)
	res := gb.OpenPosition(openReq(strategy.SideLong, 100, 1000))
	require.True(t, res.Opened)

	_, ok := inner.Position(testSymbol)
	assert.True(t, ok)
}

func TestGuardedHaltBlocksEntries(t *testing.T) {
	t.Parallel()

	gb, _ := guardedWith(t, config.Guardrails{}, nil)
	gb.SetHaltSource(stubHalt{reason: "kill_switch(/tmp/TRADING_STOP)"})

	res := gb.OpenPosition(openReq(strategy.SideLong, 100, 1000))
	assert.False(t, res.Opened)
	assert.Equal(t, "kill_switch(/tmp/TRADING_STOP)", res.BlockReason)
}

func TestGuardedExitsPassWhileHalted(t *testing.T) {
	t.Parallel()

	gb, inner := guardedWith(t, config.Guardrails{}, nil)
	require.True(t, gb.OpenPosition(openReq(strategy.SideLong, 100, 1000)).Opened)

	gb.SetHaltSource(stubHalt{reason: "halt_orders(/tmp/HALT)"})

	trade, err := gb.RealizeAndClose(testSymbol, 105, "stop_hit", 2000)
	require.NoError(t, err)
	assert.Equal(t, "stop_hit", trade.Reason)

	_, ok := inner.Position(testSymbol)
	assert.False(t, ok)
}

func TestGuardedArming(t *testing.T) {
	t.Parallel()

	t.Run("dry run wins over not armed", func(t *testing.T) {
		t.Parallel()
		inner := NewPaper(8.5, 2.25, nil)
		gb := NewGuarded(inner, true, nil, nil)
		gb.SetGuards(func() config.Guardrails { return config.Guardrails{DryRun: true} })
		gb.SetHaltSource(stubHalt{})
		assert.Equal(t, "dry_run", gb.OpenPosition(openReq(strategy.SideLong, 100, 1000)).BlockReason)
	})

	t.Run("not armed", func(t *testing.T) {
		t.Parallel()
		inner := NewPaper(8.5, 2.25, nil)
		gb := NewGuarded(inner, true, nil, nil)
		gb.SetGuards(func() config.Guardrails { return config.Guardrails{} })
		gb.SetHaltSource(stubHalt{})
		assert.Equal(t, "not_armed", gb.OpenPosition(openReq(strategy.SideLong, 100, 1000)).BlockReason)
	})

	t.Run("armed proceeds", func(t *testing.T) {
		t.Parallel()
		inner := NewPaper(8.5, 2.25, nil)
		gb := NewGuarded(inner, true, nil, nil)
		gb.SetGuards(func() config.Guardrails { return config.Guardrails{Armed: true} })
		gb.SetHaltSource(stubHalt{})
		assert.True(t, gb.OpenPosition(openReq(strategy.SideLong, 100, 1000)).Opened)
	})

	t.Run("arming not required by default", func(t *testing.T) {
		t.Parallel()
		gb, _ := guardedWith(t, config.Guardrails{DryRun: true}, nil)
		assert.True(t, gb.OpenPosition(openReq(strategy.SideLong, 100, 1000)).Opened)
	})
}

func TestGuardedBadInputs(t *testing.T) {
	t.Parallel()

	gb, _ := guardedWith(t, config.Guardrails{}, nil)
	req := openReq(strategy.SideLong, 100, 1000)
	req.Qty = -1
	assert.Equal(t, "bad_inputs", gb.OpenPosition(req).BlockReason)
}

func TestGuardedOrderCap(t *testing.T) {
	t.Parallel()

	gb, _ := guardedWith(t, config.Guardrails{MaxOrderUSD: 50}, nil)
	res := gb.OpenPosition(openReq(strategy.SideLong, 100, 1000))
	assert.Equal(t, "max_order_usd(100.00>50.00)", res.BlockReason)

	gb2, _ := guardedWith(t, config.Guardrails{MaxOrderUSD: 100}, nil)
	assert.True(t, gb2.OpenPosition(openReq(strategy.SideLong, 100, 1000)).Opened)
}

func TestGuardedPositionCap(t *testing.T) {
	t.Parallel()

	gb, _ := guardedWith(t, config.Guardrails{MaxPositionUSD: 80}, nil)
	res := gb.OpenPosition(openReq(strategy.SideLong, 100, 1000))
	assert.Equal(t, "max_position_usd(100.00>80.00)", res.BlockReason)
}

func TestGuardedDailyLimits(t *testing.T) {
	t.Parallel()

	t.Run("trade count", func(t *testing.T) {
		t.Parallel()
		stats := func(int64) (int, float64) { return 5, 0 }
		gb, _ := guardedWith(t, config.Guardrails{MaxTradesPerDay: 5, DayTZ: "UTC"}, stats)
		res := gb.OpenPosition(openReq(strategy.SideLong, 100, 1000))
		assert.Equal(t, "max_trades_per_day(5>=5)", res.BlockReason)
	})

	t.Run("daily loss", func(t *testing.T) {
		t.Parallel()
		stats := func(int64) (int, float64) { return 1, -120.5 }
		gb, _ := guardedWith(t, config.Guardrails{MaxDailyLossUSD: 100, DayTZ: "UTC"}, stats)
		res := gb.OpenPosition(openReq(strategy.SideLong, 100, 1000))
		assert.Equal(t, "max_daily_loss_usd(-120.50<=-100.00)", res.BlockReason)
	})

	t.Run("under limits", func(t *testing.T) {
		t.Parallel()
		stats := func(int64) (int, float64) { return 2, -50 }
		gb, _ := guardedWith(t, config.Guardrails{MaxTradesPerDay: 5, MaxDailyLossUSD: 100, DayTZ: "UTC"}, stats)
		assert.True(t, gb.OpenPosition(openReq(strategy.SideLong, 100, 1000)).Opened)
	})

	t.Run("no day stats disables checks", func(t *testing.T) {
		t.Parallel()
		gb, _ := guardedWith(t, config.Guardrails{MaxTradesPerDay: 1}, nil)
		assert.True(t, gb.OpenPosition(openReq(strategy.SideLong, 100, 1000)).Opened)
	})
}

func TestDayStartMillis(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 13, 45, 0, 0, time.UTC)
	want := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, want, dayStartMillis(now, "UTC"))

	// Unknown zone falls back to UTC.
	assert.Equal(t, want, dayStartMillis(now, "Not/AZone"))
}
