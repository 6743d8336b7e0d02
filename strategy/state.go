package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/reedholm/tradeloop/market"
)

// Side is the direction of a signal or position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Trend is the classified market direction.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// VolRegime buckets current volatility.
type VolRegime string

const (
	VolLow    VolRegime = "low"
	VolNormal VolRegime = "normal"
	VolHigh   VolRegime = "high"
)

// MarketState is the per-bar tradability gate plus trend/vol regime.
// It is derived fresh from the latest feature row and never persisted on
// its own; every decision record embeds one.
type MarketState struct {
	Tradable      bool
	Trend         Trend
	Vol           VolRegime
	CadenceOK     bool
	HasEnoughBars bool
	Reason        string
}

// StateConfig holds classifier thresholds. Defaults are conservative
// values for 5m crypto bars.
type StateConfig struct {
	// Trend thresholds; EMASpread is normalized by the slow EMA.
	TrendUpSpread   float64
	TrendDownSpread float64
	FlatSpreadBand  float64

	// Volatility buckets on ATRPct.
	VolLowMax  float64
	VolHighMin float64

	// Cadence tolerance on the median bar spacing.
	CadenceTolFrac float64
	CadenceTolAbsS float64
}

// DefaultStateConfig returns the standard thresholds.
func DefaultStateConfig() StateConfig {
	return StateConfig{
		TrendUpSpread:   0.0010,
		TrendDownSpread: -0.0010,
		FlatSpreadBand:  0.0007,
		VolLowMax:       0.0015,
		VolHighMin:      0.0030,
		CadenceTolFrac:  0.02,
		CadenceTolAbsS:  2.0,
	}
}

// DetermineMarketState classifies the feature window. Every rejection
// still returns a fully-populated state with Tradable=false and a
// machine-parseable Reason; callers treat any non-tradable state as
// "skip, but still log".
func DetermineMarketState(rows []market.FeatureRow, expectedStepS int, minBars int, cfg StateConfig) MarketState {
	if len(rows) == 0 {
		return MarketState{
			Trend: TrendFlat, Vol: VolNormal,
			Reason: "no_features",
		}
	}

	hasEnough := len(rows) >= minBars
	cadence := cadenceOK(rows, expectedStepS, cfg)
	latestOK := market.ValidateLatest(rows) == nil

	if !hasEnough {
		return MarketState{
			Trend: TrendFlat, Vol: VolNormal,
			CadenceOK: cadence,
			Reason:    fmt.Sprintf("not_enough_bars rows=%d min_bars=%d", len(rows), minBars),
		}
	}
	if !cadence {
		return MarketState{
			Trend: TrendFlat, Vol: VolNormal,
			HasEnoughBars: true,
			Reason:        "cadence_not_ok (possible partial outage / stale feed)",
		}
	}
	if !latestOK {
		return MarketState{
			Trend: TrendFlat, Vol: VolNormal,
			CadenceOK: true, HasEnoughBars: true,
			Reason: "latest_features_invalid (NaNs)",
		}
	}

	last := rows[len(rows)-1]
	trend := classifyTrend(last.EMASpread, cfg)
	vol := classifyVol(last.ATRPct, cfg)

	return MarketState{
		Tradable:      true,
		Trend:         trend,
		Vol:           vol,
		CadenceOK:     true,
		HasEnoughBars: true,
		Reason:        fmt.Sprintf("ok ema_spread=%.6f atr_pct=%.6f", last.EMASpread, last.ATRPct),
	}
}

// cadenceOK compares the median timestamp spacing of the window against
// the expected per-timeframe step within max(abs, step*frac) tolerance.
func cadenceOK(rows []market.FeatureRow, expectedStepS int, cfg StateConfig) bool {
	if len(rows) < 3 {
		return false
	}

	ts := make([]int64, len(rows))
	for i, r := range rows {
		ts[i] = r.TSMillis()
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	diffs := make([]float64, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		diffs = append(diffs, float64(ts[i]-ts[i-1])/1000.0)
	}
	if len(diffs) == 0 {
		return false
	}
	sort.Float64s(diffs)

	var med float64
	m := len(diffs)
	if m%2 == 1 {
		med = diffs[m/2]
	} else {
		med = (diffs[m/2-1] + diffs[m/2]) / 2
	}

	tol := math.Max(cfg.CadenceTolAbsS, float64(expectedStepS)*cfg.CadenceTolFrac)
	return math.Abs(med-float64(expectedStepS)) <= tol
}

// Flat band has priority over the directional bands to avoid flapping
// around the zero line.
func classifyTrend(emaSpread float64, cfg StateConfig) Trend {
	if math.Abs(emaSpread) <= cfg.FlatSpreadBand {
		return TrendFlat
	}
	if emaSpread >= cfg.TrendUpSpread {
		return TrendUp
	}
	if emaSpread <= cfg.TrendDownSpread {
		return TrendDown
	}
	// between the flat band and the strong thresholds
	return TrendFlat
}

func classifyVol(atrPct float64, cfg StateConfig) VolRegime {
	if atrPct <= cfg.VolLowMax {
		return VolLow
	}
	if atrPct >= cfg.VolHighMin {
		return VolHigh
	}
	return VolNormal
}
