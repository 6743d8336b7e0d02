// Package engine drives the per-bar decision pipeline. Step is the one
// code path both the live loop and the backtest replay execute, which is
// what makes live and replay decisions comparable row for row.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reedholm/tradeloop/broker"
	"github.com/reedholm/tradeloop/ledger"
	"github.com/reedholm/tradeloop/market"
	"github.com/reedholm/tradeloop/strategy"
	"github.com/reedholm/tradeloop/watchdog"
)

// Outcome classifies what a Step did.
type Outcome string

const (
	OutcomeSkipped Outcome = "skipped" // market not tradable or warmup
	OutcomeHold    Outcome = "hold"    // nothing to do this bar
	OutcomeTraded  Outcome = "traded"  // opened or closed a position
	OutcomeBlocked Outcome = "blocked" // entry signal fired but was blocked
)

// Deps carries everything one Step needs. The same Deps value is reused
// across bars; all per-bar state lives in the broker, watchdog and
// ledger.
type Deps struct {
	Symbol        string
	Timeframe     string
	ExpectedStepS int
	MinBars       int
	MaxOrderSize  float64
	CooldownBars  int

	FeatureCfg market.FeatureConfig
	StateCfg   strategy.StateConfig
	RulesCfg   strategy.RulesConfig
	Model      strategy.ConfidenceModel

	Broker   broker.Broker
	Ledger   ledger.Ledger
	Watchdog *watchdog.Watchdog

	// StopThroughFill models gap-through stops on replay: the stop exit
	// fills at min/max(bar open, stop). Price only, never lifecycle.
	StopThroughFill bool

	Log *slog.Logger
}

// Result reports what Step decided and wrote.
type Result struct {
	Outcome  Outcome
	Wrote    bool
	TS       int64
	State    strategy.MarketState
	Degraded watchdog.State
	Trade    *ledger.TradeRecord
}

// Step runs the full pipeline over the bar window ending at the current
// bar: features, market state, watchdog, position management, exit,
// entry, and exactly one attempted ledger write. nextBarTS is the
// timestamp of the bar after the window (0 when unknown); entries fill
// next-bar. allowTrading false forces a flat snapshot row, used for
// replay warmup.
func Step(deps *Deps, window []market.Bar, nextBarTS int64, allowTrading bool) (Result, error) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	if len(window) == 0 {
		return Result{Outcome: OutcomeSkipped}, nil
	}

	rows := market.ComputeFeatures(window, deps.FeatureCfg)
	latest := rows[len(rows)-1]
	nowTS := latest.TSMillis()
	nowISO := latest.TS.UTC().Format(time.RFC3339)

	st := strategy.DetermineMarketState(rows, deps.ExpectedStepS, deps.MinBars, deps.StateCfg)

	tag, cadenceFresh := watchdogTag(st, len(rows))
	wd := deps.Watchdog.Observe(nowTS, tag, cadenceFresh)

	rec := ledger.DecisionRecord{
		TS:           nowTS,
		Timestamp:    nowISO,
		BarHigh:      latest.High,
		BarLow:       latest.Low,
		Tradable:     st.Tradable,
		Trend:        string(st.Trend),
		Volatility:   string(st.Vol),
		MarketReason: st.Reason,
		Degraded:     wd.Active,
	}

	res := Result{TS: nowTS, State: st, Degraded: wd}

	if !allowTrading {
		res.Outcome = OutcomeSkipped
		var err error
		res.Wrote, err = appendDecision(deps, rec)
		return res, err
	}

	pos, havePos := deps.Broker.Position(deps.Symbol)

	// A pending entry has not filled yet: snapshot it, but do not manage
	// or exit it.
	if havePos && pos.Pending(nowTS) {
		fillPositionFields(&rec, pos)
		res.Outcome = OutcomeHold
		var err error
		res.Wrote, err = appendDecision(deps, rec)
		return res, err
	}

	if havePos {
		fillPositionFields(&rec, pos)

		uUSD, uPct := deps.Broker.UnrealizedPnL(deps.Symbol, latest.Close)
		rec.UnrealizedUSD = &uUSD
		rec.UnrealizedPct = &uPct

		if wd.Active {
			rec.TrailReason = "degraded_freeze_trailing"
		} else {
			newStop, newAnchor, trailReason := strategy.ComputeTrailingStop(
				pos.Side, pos.StopPrice, pos.TrailingAnchor,
				latest.Close, latest.High, latest.Low, latest.ATR, deps.RulesCfg)

			rec.TrailReason = trailReason
			rec.TrailNewStop = newStop
			rec.TrailNewAnchor = newAnchor

			if newStop != nil && (pos.StopPrice == nil || *newStop != *pos.StopPrice) {
				if updated, ok := deps.Broker.UpdateStop(deps.Symbol, *newStop, newAnchor); ok {
					pos = updated
					fillPositionFields(&rec, pos)
				}
			}
		}

		exitSig := strategy.EvaluateExit(strategy.ExitInputs{
			Side:          pos.Side,
			EntryTS:       pos.EntryTS,
			StopPrice:     pos.StopPrice,
			Close:         latest.Close,
			NowTS:         nowTS,
			ExpectedStepS: deps.ExpectedStepS,
		}, st, deps.RulesCfg)

		shouldExit := exitSig.ShouldExit
		rec.ExitShouldExit = &shouldExit
		rec.ExitReason = exitSig.Reason

		if exitSig.ShouldExit {
			exitPrice := latest.Close
			if deps.StopThroughFill && exitSig.Reason == "stop_hit" && pos.StopPrice != nil {
				if pos.Side == strategy.SideLong {
					exitPrice = min(latest.Open, *pos.StopPrice)
				} else {
					exitPrice = max(latest.Open, *pos.StopPrice)
				}
			}

			trade, err := deps.Broker.RealizeAndClose(deps.Symbol, exitPrice, exitSig.Reason, nowTS)
			if err != nil {
				return res, fmt.Errorf("close position: %w", err)
			}
			trade.MarketReason = st.Reason
			if err := deps.Ledger.AppendTrade(trade); err != nil {
				return res, fmt.Errorf("append trade: %w", err)
			}

			res.Trade = &trade
			res.Outcome = OutcomeTraded
			res.Wrote, err = appendDecision(deps, rec)
			return res, err
		}

		res.Outcome = OutcomeHold
		var err error
		res.Wrote, err = appendDecision(deps, rec)
		return res, err
	}

	// Flat: entry path.
	remaining := deps.Broker.CooldownRemainingBars(deps.Symbol, nowTS, deps.ExpectedStepS, deps.CooldownBars)
	rec.CooldownRemaining = &remaining

	res.Outcome = OutcomeHold

	if remaining <= 0 {
		entrySig := strategy.EvaluateEntry(deps.Model, rows, st, deps.RulesCfg)

		shouldEnter := entrySig.ShouldEnter
		rec.EntryShouldEnter = &shouldEnter
		rec.EntrySide = string(entrySig.Side)
		conf := entrySig.Confidence
		rec.EntryConfidence = &conf
		rec.EntryReason = entrySig.Reason

		if !st.Tradable {
			res.Outcome = OutcomeSkipped
		}

		if entrySig.ShouldEnter {
			if wd.Active {
				rec.EntryReason = fmt.Sprintf("blocked_by_degraded(%s)", wd.Reason)
				res.Outcome = OutcomeBlocked
				log.Warn("entry blocked by degraded mode",
					"symbol", deps.Symbol, "side", entrySig.Side, "watchdog_reason", wd.Reason)
			} else {
				qty := min(strategy.SizePosition(entrySig, st), deps.MaxOrderSize)

				// Entries fill next-bar; a same-bar fill could be stopped
				// out by the bar that triggered it.
				entryTS := nextBarTS
				if entryTS <= 0 {
					entryTS = nowTS + int64(deps.ExpectedStepS)*1000
				}

				stop := strategy.ComputeInitialStop(entrySig.Side, latest.Close, latest.ATR, deps.RulesCfg)
				anchor := latest.High
				if entrySig.Side == strategy.SideShort {
					anchor = latest.Low
				}

				opened := deps.Broker.OpenPosition(broker.OpenRequest{
					Symbol:         deps.Symbol,
					Side:           entrySig.Side,
					Qty:            qty,
					EntryPrice:     latest.Close,
					EntryTS:        entryTS,
					StopPrice:      &stop,
					TrailingAnchor: &anchor,
					Reason:         entrySig.Reason,
				})
				if opened.Opened {
					if p, ok := deps.Broker.Position(deps.Symbol); ok {
						fillPositionFields(&rec, p)
					}
					res.Outcome = OutcomeTraded
				} else {
					rec.EntryReason = "blocked_by_" + opened.BlockReason
					res.Outcome = OutcomeBlocked
				}
			}
		}
	}

	var err error
	res.Wrote, err = appendDecision(deps, rec)
	return res, err
}

// watchdogTag maps the market gate onto a watchdog observation. Cadence
// needs at least three rows to be evaluable; shorter warmup windows are
// neutral, not failures.
func watchdogTag(st strategy.MarketState, nRows int) (watchdog.Tag, bool) {
	if nRows < 3 {
		return watchdog.TagOK, true
	}
	switch {
	case !st.CadenceOK:
		return watchdog.TagCadenceFailed, false
	case strings.Contains(st.Reason, "latest_features_invalid"):
		return watchdog.TagFeaturesInvalid, true
	}
	return watchdog.TagOK, true
}

func fillPositionFields(rec *ledger.DecisionRecord, pos broker.Position) {
	rec.PositionSide = string(pos.Side)
	qty := pos.Qty
	rec.PositionQty = &qty
	entry := pos.EntryPrice
	rec.PositionEntryPrice = &entry
	rec.PositionStopPrice = pos.StopPrice
	rec.PositionAnchor = pos.TrailingAnchor
}

// appendDecision never drops a bar silently: the caller surfaces the
// error, halting a replay and logging a live cycle (which re-derives the
// same bar next fetch).
func appendDecision(deps *Deps, rec ledger.DecisionRecord) (bool, error) {
	wrote, err := deps.Ledger.AppendDecision(rec)
	if err != nil {
		return false, fmt.Errorf("append decision at ts_ms=%d: %w", rec.TS, err)
	}
	return wrote, nil
}
