package strategy

import (
	"math"

	"github.com/reedholm/tradeloop/market"
)

// EntrySignal is the rule engine's verdict on opening a position.
type EntrySignal struct {
	ShouldEnter bool
	Side        Side
	Confidence  float64
	Reason      string
}

// ExitSignal is the rule engine's verdict on closing a position.
type ExitSignal struct {
	ShouldExit bool
	Reason     string
}

// RulesConfig holds the rule engine knobs.
type RulesConfig struct {
	// Minimum model confidence before a directional entry fires.
	ConfidenceEnter float64
	// Initial stop distance in ATRs.
	ATRMult float64
	// Trailing stop distance from the anchor in ATRs.
	TrailATRMult float64
	// Hard time stop in bars held.
	MaxHoldBars int
}

// DefaultRules returns the standard rule parameters.
func DefaultRules() RulesConfig {
	return RulesConfig{
		ConfidenceEnter: 0.60,
		ATRMult:         2.0,
		TrailATRMult:    2.0,
		MaxHoldBars:     24,
	}
}

// EvaluateEntry decides whether to open. It never enters a non-tradable
// market, a flat trend, or on an unscoreable (NaN) confidence.
func EvaluateEntry(model ConfidenceModel, rows []market.FeatureRow, st MarketState, cfg RulesConfig) EntrySignal {
	if !st.Tradable {
		reason := st.Reason
		if reason == "" {
			reason = "not_tradable"
		}
		return EntrySignal{Side: SideLong, Reason: reason}
	}

	latest := rows[len(rows)-1]
	confidence := model.Confidence(latest)
	if math.IsNaN(confidence) {
		return EntrySignal{Side: SideLong, Reason: "confidence_nan"}
	}

	if st.Trend == TrendUp && confidence >= cfg.ConfidenceEnter {
		return EntrySignal{
			ShouldEnter: true,
			Side:        SideLong,
			Confidence:  confidence,
			Reason:      "trend_up_and_confident",
		}
	}
	if st.Trend == TrendDown && confidence >= cfg.ConfidenceEnter {
		return EntrySignal{
			ShouldEnter: true,
			Side:        SideShort,
			Confidence:  confidence,
			Reason:      "trend_down_and_confident",
		}
	}

	return EntrySignal{
		Side:       SideLong,
		Confidence: confidence,
		Reason:     "not_confident_or_flat_trend",
	}
}

// ComputeInitialStop places the stop ATRMult ATRs away from entry:
// below for LONG, above for SHORT.
func ComputeInitialStop(side Side, entryPrice, atr float64, cfg RulesConfig) float64 {
	if side == SideShort {
		return entryPrice + cfg.ATRMult*atr
	}
	return entryPrice - cfg.ATRMult*atr
}

// ComputeTrailingStop maintains the favorable-extreme anchor and ratchets
// the stop toward it. The returned stop never loosens: for LONG it is
// max(prev, candidate), for SHORT min(prev, candidate).
//
// Reasons: bad_inputs, atr_missing_or_nonpositive, candidate_invalid,
// init_stop, ratchet. The anchor is returned whenever it could be
// computed, even if the stop candidate was rejected.
func ComputeTrailingStop(side Side, prevStop, prevAnchor *float64, close_, high, low, atr float64, cfg RulesConfig) (newStop, newAnchor *float64, reason string) {
	if anyNaN(close_, high, low) || close_ <= 0 || high <= 0 || low <= 0 {
		return nil, nil, "bad_inputs"
	}
	if math.IsNaN(atr) || atr <= 0 {
		return nil, nil, "atr_missing_or_nonpositive"
	}

	var anchor float64
	if side == SideLong {
		anchor = high
		if prevAnchor != nil && *prevAnchor > anchor {
			anchor = *prevAnchor
		}
	} else {
		anchor = low
		if prevAnchor != nil && *prevAnchor < anchor {
			anchor = *prevAnchor
		}
	}

	var candidate float64
	if side == SideLong {
		candidate = anchor - cfg.TrailATRMult*atr
	} else {
		candidate = anchor + cfg.TrailATRMult*atr
	}
	if math.IsNaN(candidate) || candidate <= 0 {
		return nil, &anchor, "candidate_invalid"
	}

	if prevStop == nil {
		return &candidate, &anchor, "init_stop"
	}

	stop := candidate
	if side == SideLong && *prevStop > stop {
		stop = *prevStop
	}
	if side == SideShort && *prevStop < stop {
		stop = *prevStop
	}
	return &stop, &anchor, "ratchet"
}

// ExitInputs describes the open position and current bar for EvaluateExit.
type ExitInputs struct {
	Side          Side
	EntryTS       int64 // epoch ms; <= NowTS (pending entries are not evaluated)
	StopPrice     *float64
	Close         float64
	NowTS         int64
	ExpectedStepS int
}

// EvaluateExit closes on a non-tradable market, on a close-only stop
// breach, or on the hard time stop. Stop comparison uses the bar close so
// live and replay stay comparable even if the live engine runs mid-bar.
// A position entered on the current bar is exempt from the stop check.
func EvaluateExit(in ExitInputs, st MarketState, cfg RulesConfig) ExitSignal {
	if !st.Tradable {
		reason := st.Reason
		if reason == "" {
			reason = "not_tradable"
		}
		return ExitSignal{ShouldExit: true, Reason: reason}
	}

	enteredThisBar := in.EntryTS == in.NowTS
	if in.StopPrice != nil && !enteredThisBar {
		if in.Side == SideLong && in.Close <= *in.StopPrice {
			return ExitSignal{ShouldExit: true, Reason: "stop_hit"}
		}
		if in.Side == SideShort && in.Close >= *in.StopPrice {
			return ExitSignal{ShouldExit: true, Reason: "stop_hit"}
		}
	}

	if cfg.MaxHoldBars > 0 && in.ExpectedStepS > 0 && in.NowTS >= in.EntryTS {
		held := (in.NowTS - in.EntryTS) / int64(in.ExpectedStepS*1000)
		if held >= int64(cfg.MaxHoldBars) {
			return ExitSignal{ShouldExit: true, Reason: "time_stop"}
		}
	}

	return ExitSignal{}
}

// SizePosition returns the fixed unit size; caps are applied by the
// caller (max order size) and by the guard layer (notional caps).
func SizePosition(sig EntrySignal, st MarketState) float64 {
	return 1.0
}
