package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedholm/tradeloop/market"
)

// mkRows builds warm feature rows spaced stepS apart with the given
// spread/ATR% on every row. Zero-valued indicators count as warm.
func mkRows(n, stepS int, spread, atrPct float64) []market.FeatureRow {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]market.FeatureRow, n)
	for i := range rows {
		rows[i].Bar = market.Bar{
			TS: start.Add(time.Duration(i*stepS) * time.Second),
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 10,
		}
		rows[i].EMASpread = spread
		rows[i].ATRPct = atrPct
		rows[i].EMAFast = 100
		rows[i].EMASlow = 100
		rows[i].RSI = 50
	}
	return rows
}

func TestDetermineMarketStateGates(t *testing.T) {
	t.Parallel()

	cfg := DefaultStateConfig()

	t.Run("no features", func(t *testing.T) {
		t.Parallel()
		st := DetermineMarketState(nil, 300, 10, cfg)
		assert.False(t, st.Tradable)
		assert.Equal(t, "no_features", st.Reason)
	})

	t.Run("not enough bars", func(t *testing.T) {
		t.Parallel()
		st := DetermineMarketState(mkRows(5, 300, 0, 0.002), 300, 10, cfg)
		assert.False(t, st.Tradable)
		assert.Contains(t, st.Reason, "not_enough_bars")
		assert.False(t, st.HasEnoughBars)
	})

	t.Run("cadence broken", func(t *testing.T) {
		t.Parallel()
		rows := mkRows(10, 600, 0, 0.002) // double spacing vs expected 300s
		st := DetermineMarketState(rows, 300, 10, cfg)
		assert.False(t, st.Tradable)
		assert.Contains(t, st.Reason, "cadence_not_ok")
		assert.True(t, st.HasEnoughBars)
		assert.False(t, st.CadenceOK)
	})

	t.Run("latest features invalid", func(t *testing.T) {
		t.Parallel()
		rows := mkRows(10, 300, 0, 0.002)
		rows[len(rows)-1].RSI = math.NaN()
		st := DetermineMarketState(rows, 300, 10, cfg)
		assert.False(t, st.Tradable)
		assert.Contains(t, st.Reason, "latest_features_invalid")
		assert.True(t, st.CadenceOK)
	})

	t.Run("tradable", func(t *testing.T) {
		t.Parallel()
		st := DetermineMarketState(mkRows(10, 300, 0.002, 0.002), 300, 10, cfg)
		require.True(t, st.Tradable)
		assert.Contains(t, st.Reason, "ok ")
		assert.Equal(t, TrendUp, st.Trend)
		assert.Equal(t, VolNormal, st.Vol)
	})
}

func TestClassifyTrend(t *testing.T) {
	t.Parallel()

	cfg := DefaultStateConfig()

	tests := []struct {
		name   string
		spread float64
		want   Trend
	}{
		{"strong up", 0.0020, TrendUp},
		{"at up threshold", 0.0010, TrendUp},
		{"strong down", -0.0020, TrendDown},
		{"at down threshold", -0.0010, TrendDown},
		{"zero", 0, TrendFlat},
		{"inside flat band", 0.0007, TrendFlat},
		{"inside flat band negative", -0.0007, TrendFlat},
		{"between band and threshold", 0.0008, TrendFlat},
		{"between band and threshold negative", -0.0009, TrendFlat},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rows := mkRows(10, 300, tt.spread, 0.002)
			st := DetermineMarketState(rows, 300, 10, cfg)
			assert.Equal(t, tt.want, st.Trend)
		})
	}
}

func TestClassifyVol(t *testing.T) {
	t.Parallel()

	cfg := DefaultStateConfig()

	tests := []struct {
		name   string
		atrPct float64
		want   VolRegime
	}{
		{"low", 0.0010, VolLow},
		{"at low boundary", 0.0015, VolLow},
		{"normal", 0.0020, VolNormal},
		{"at high boundary", 0.0030, VolHigh},
		{"high", 0.0050, VolHigh},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := DetermineMarketState(mkRows(10, 300, 0, tt.atrPct), 300, 10, cfg)
			assert.Equal(t, tt.want, st.Vol)
		})
	}
}

func TestCadenceTolerance(t *testing.T) {
	t.Parallel()

	cfg := DefaultStateConfig()

	// 5m expects 300s with tolerance max(2, 6) = 6s on the median diff.
	st := DetermineMarketState(mkRows(10, 305, 0, 0.002), 300, 10, cfg)
	assert.True(t, st.Tradable)

	st = DetermineMarketState(mkRows(10, 310, 0, 0.002), 300, 10, cfg)
	assert.False(t, st.Tradable)

	// Fewer than 3 rows can never establish cadence.
	st = DetermineMarketState(mkRows(2, 300, 0, 0.002), 300, 1, cfg)
	assert.False(t, st.Tradable)
}
