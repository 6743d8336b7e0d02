package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reedholm/tradeloop/market"
)

func scoredRow(spread, rsi, volz, slope float64) market.FeatureRow {
	var r market.FeatureRow
	r.Close = 100
	r.EMASpread = spread
	r.RSI = rsi
	r.VolZ = volz
	r.EMASlowSlope = slope
	return r
}

func TestLogitModelBounds(t *testing.T) {
	t.Parallel()

	m := DefaultModel()

	c := m.Confidence(scoredRow(0, 50, 0, 0))
	assert.Greater(t, c, 0.0)
	assert.Less(t, c, 1.0)

	strong := m.Confidence(scoredRow(0.005, 80, 2, 0.5))
	assert.Greater(t, strong, c)
}

func TestLogitModelDirectionFree(t *testing.T) {
	t.Parallel()

	m := DefaultModel()
	up := m.Confidence(scoredRow(0.004, 70, 1, 0.2))
	down := m.Confidence(scoredRow(-0.004, 30, 1, -0.2))
	assert.InDelta(t, up, down, 1e-12)
}

func TestLogitModelDeterministic(t *testing.T) {
	t.Parallel()

	m := DefaultModel()
	row := scoredRow(0.002, 60, 0.5, 0.1)
	assert.Equal(t, m.Confidence(row), m.Confidence(row))
}

func TestLogitModelRejectsBadFeatures(t *testing.T) {
	t.Parallel()

	m := DefaultModel()
	assert.True(t, math.IsNaN(m.Confidence(scoredRow(math.NaN(), 50, 0, 0))))
	assert.True(t, math.IsNaN(m.Confidence(scoredRow(0.002, 50, math.Inf(1), 0))))
}

func TestLogitModelClampsVolZ(t *testing.T) {
	t.Parallel()

	m := DefaultModel()
	at3 := m.Confidence(scoredRow(0.002, 50, 3, 0))
	beyond := m.Confidence(scoredRow(0.002, 50, 50, 0))
	assert.InDelta(t, at3, beyond, 1e-12)
}
