package market

import (
	"fmt"
	"math"
)

const eps = 1e-12

// FeatureConfig holds the indicator parameters for the feature pipeline.
type FeatureConfig struct {
	EMAFast int
	EMASlow int
	ATRN    int
	RSIN    int
	ZScoreN int
}

// DefaultFeatureConfig returns the standard parameter set.
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		EMAFast: 12,
		EMASlow: 26,
		ATRN:    14,
		RSIN:    14,
		ZScoreN: 50,
	}
}

// FeatureRow is a Bar plus its derived indicator columns. Columns that are
// not warm yet hold NaN; the most recent row must be NaN-free before it may
// drive a trading decision.
type FeatureRow struct {
	Bar

	Ret1         float64
	LogRet1      float64
	EMAFast      float64
	EMASlow      float64
	EMASpread    float64
	EMASlowSlope float64
	ATR          float64
	ATRPct       float64
	RSI          float64
	VolZ         float64
	DollarVol    float64
	DollarVolZ   float64
}

// featureValues lists every derived column, used by the NaN gate.
func (r FeatureRow) featureValues() []float64 {
	return []float64{
		r.Open, r.High, r.Low, r.Close, r.Volume,
		r.Ret1, r.LogRet1,
		r.EMAFast, r.EMASlow, r.EMASpread, r.EMASlowSlope,
		r.ATR, r.ATRPct,
		r.RSI,
		r.VolZ, r.DollarVol, r.DollarVolZ,
	}
}

// ComputeFeatures derives the indicator columns from an ordered bar window.
// The output has the same row count as the input; no forward-filling is
// done, so early rows carry NaN until each indicator is warm.
func ComputeFeatures(bars []Bar, cfg FeatureConfig) []FeatureRow {
	n := len(bars)
	rows := make([]FeatureRow, n)
	if n == 0 {
		return rows
	}

	close_ := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	vol := make([]float64, n)
	for i, b := range bars {
		rows[i].Bar = b
		close_[i] = b.Close
		high[i] = b.High
		low[i] = b.Low
		vol[i] = b.Volume
	}

	emaFast := emaSpan(close_, cfg.EMAFast)
	emaSlow := emaSpan(close_, cfg.EMASlow)
	atr := emaSpan(trueRange(high, low, close_), cfg.ATRN)
	rsi := rsiSeries(close_, cfg.RSIN)

	dollarVol := make([]float64, n)
	for i := range dollarVol {
		dollarVol[i] = close_[i] * vol[i]
	}
	volZ := rollingZScore(vol, cfg.ZScoreN)
	dollarVolZ := rollingZScore(dollarVol, cfg.ZScoreN)

	for i := range rows {
		if i == 0 {
			rows[i].Ret1 = math.NaN()
			rows[i].LogRet1 = math.NaN()
			rows[i].EMASlowSlope = math.NaN()
		} else {
			rows[i].Ret1 = close_[i]/close_[i-1] - 1
			rows[i].LogRet1 = math.Log(close_[i] / close_[i-1])
			rows[i].EMASlowSlope = emaSlow[i] - emaSlow[i-1]
		}
		rows[i].EMAFast = emaFast[i]
		rows[i].EMASlow = emaSlow[i]
		rows[i].EMASpread = (emaFast[i] - emaSlow[i]) / (emaSlow[i] + eps)
		rows[i].ATR = atr[i]
		rows[i].ATRPct = atr[i] / (close_[i] + eps)
		rows[i].RSI = rsi[i]
		rows[i].VolZ = volZ[i]
		rows[i].DollarVol = dollarVol[i]
		rows[i].DollarVolZ = dollarVolZ[i]
	}
	return rows
}

// ValidateLatest returns an error if the most recent row is unusable.
// Call before trading so NaNs never reach the state or rule logic.
func ValidateLatest(rows []FeatureRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("features empty")
	}
	last := rows[len(rows)-1]
	for _, v := range last.featureValues() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("latest features contain NaN/Inf values")
		}
	}
	return nil
}

// emaSpan computes an exponential moving average with alpha = 2/(span+1),
// seeded at the first observation.
func emaSpan(vals []float64, span int) []float64 {
	out := make([]float64, len(vals))
	if len(vals) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = vals[0]
	for i := 1; i < len(vals); i++ {
		out[i] = alpha*vals[i] + (1-alpha)*out[i-1]
	}
	return out
}

// trueRange: TR[0] = H-L; thereafter max(H-L, |H-prevC|, |L-prevC|).
func trueRange(high, low, close_ []float64) []float64 {
	tr := make([]float64, len(high))
	for i := range tr {
		hl := math.Abs(high[i] - low[i])
		if i == 0 {
			tr[i] = hl
			continue
		}
		hc := math.Abs(high[i] - close_[i-1])
		lc := math.Abs(low[i] - close_[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// rsiSeries uses Wilder-style smoothing (alpha = 1/n) over gains/losses.
// The first row has no delta and stays NaN.
func rsiSeries(close_ []float64, n int) []float64 {
	out := make([]float64, len(close_))
	if len(close_) == 0 {
		return out
	}
	out[0] = math.NaN()

	alpha := 1.0 / float64(n)
	var avgGain, avgLoss float64
	for i := 1; i < len(close_); i++ {
		delta := close_[i] - close_[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		if i == 1 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain = alpha*gain + (1-alpha)*avgGain
			avgLoss = alpha*loss + (1-alpha)*avgLoss
		}
		rs := avgGain / (avgLoss + eps)
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out
}

// rollingZScore over a window of n samples (population std); NaN until the
// window is full.
func rollingZScore(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	for i := range out {
		if i+1 < n {
			out[i] = math.NaN()
			continue
		}
		var sum float64
		for j := i + 1 - n; j <= i; j++ {
			sum += vals[j]
		}
		mu := sum / float64(n)
		var sq float64
		for j := i + 1 - n; j <= i; j++ {
			d := vals[j] - mu
			sq += d * d
		}
		sd := math.Sqrt(sq / float64(n))
		out[i] = (vals[i] - mu) / (sd + eps)
	}
	return out
}
