package strategy

import (
	"math"

	"github.com/reedholm/tradeloop/market"
)

// ConfidenceModel scores the latest feature row into [0,1]. NaN means the
// row could not be scored and the caller must reject the entry.
type ConfidenceModel interface {
	Confidence(row market.FeatureRow) float64
}

// LogitModel is a small fixed-weight logistic head over a handful of
// normalized features. It is deterministic, which is what keeps live and
// replay decisions bit-for-bit comparable.
type LogitModel struct {
	Bias    float64
	WSpread float64
	WRSI    float64
	WVolZ   float64
	WSlope  float64
}

// DefaultModel returns the standard weights.
func DefaultModel() *LogitModel {
	return &LogitModel{
		Bias:    0.15,
		WSpread: 450.0,
		WRSI:    1.2,
		WVolZ:   0.25,
		WSlope:  40.0,
	}
}

func (m *LogitModel) Confidence(row market.FeatureRow) float64 {
	spread := row.EMASpread
	rsi := row.RSI
	volz := row.VolZ
	slope := row.EMASlowSlope

	if anyNaN(spread, rsi, volz, slope) {
		return math.NaN()
	}

	// Trend strength is direction-free: the directional gate lives in
	// the rule engine, the model only says "how convinced".
	z := m.Bias +
		m.WSpread*math.Abs(spread) +
		m.WRSI*math.Abs(rsi-50.0)/50.0 +
		m.WVolZ*clamp(volz, -3, 3)/3.0 +
		m.WSlope*math.Abs(slope)/(row.Close+1e-12)

	return 1.0 / (1.0 + math.Exp(-z))
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
