// Package backtest replays stored bars through the same decision step
// the live engine runs. It never fetches and never sleeps; determinism
// comes from deciding off identical windows in identical order.
package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reedholm/tradeloop/engine"
	"github.com/reedholm/tradeloop/market"
	"github.com/reedholm/tradeloop/store"
)

// Namespace derives the per-run output namespace so replay ledgers never
// collide with the live ones they are compared against.
func Namespace(tag, runID string) string {
	return fmt.Sprintf("%s_bt_%s", tag, runID)
}

// Runner replays one symbol/timeframe window.
type Runner struct {
	Deps  *engine.Deps
	Store store.BarStore

	RunID     string
	Namespace string

	// StartTS holds the broker flat until this timestamp: warmup bars
	// before it still flow through the step so features are warm, but
	// they produce forced-flat snapshot rows. Zero disables the gate.
	StartTS int64
	// EndTS caps the replay window. Zero disables the cap.
	EndTS int64
}

// Result summarizes a completed replay.
type Result struct {
	RunID         string
	Namespace     string
	Symbol        string
	Timeframe     string
	BarsTotal     int
	BarsProcessed int
	TradesClosed  int
	RealizedUSD   float64
}

// Run replays every stored bar through engine.Step.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	log := r.Deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "backtest", "runid", r.RunID)

	all, err := r.Store.LoadAll()
	if err != nil {
		return Result{}, fmt.Errorf("load bars: %w", err)
	}
	if len(all) == 0 {
		return Result{}, fmt.Errorf("no bars in store for %s %s", r.Deps.Symbol, r.Deps.Timeframe)
	}

	all, err = r.applyWindow(all)
	if err != nil {
		return Result{}, err
	}

	log.Info("backtest starting",
		"namespace", r.Namespace, "symbol", r.Deps.Symbol, "timeframe", r.Deps.Timeframe,
		"bars", len(all), "trade_start_ts_ms", r.StartTS, "end_ts_ms", r.EndTS)

	tailN := r.Deps.MinBars
	if tailN < 200 {
		tailN = 200
	}

	result := Result{
		RunID:     r.RunID,
		Namespace: r.Namespace,
		Symbol:    r.Deps.Symbol,
		Timeframe: r.Deps.Timeframe,
		BarsTotal: len(all),
	}

	for i := range all {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		lo := i - tailN + 1
		if lo < 0 {
			lo = 0
		}
		window := all[lo : i+1]

		var nextBarTS int64
		if i+1 < len(all) {
			nextBarTS = all[i+1].TSMillis()
		}

		nowTS := all[i].TSMillis()
		allow := r.StartTS == 0 || nowTS >= r.StartTS

		stepRes, err := engine.Step(r.Deps, window, nextBarTS, allow)
		if err != nil {
			return result, fmt.Errorf("step at ts_ms=%d: %w", nowTS, err)
		}

		result.BarsProcessed++
		if stepRes.Trade != nil {
			result.TradesClosed = stepRes.Trade.TradesClosed
			result.RealizedUSD = stepRes.Trade.CumRealizedPnLUSD
		}
	}

	log.Info("backtest complete",
		"namespace", r.Namespace, "bars_processed", result.BarsProcessed,
		"trades_closed", result.TradesClosed, "realized_usd", result.RealizedUSD)

	return result, nil
}

// applyWindow trims to the replay window, keeping enough warmup before
// StartTS that features are valid on the first tradable bar.
func (r *Runner) applyWindow(all []market.Bar) ([]market.Bar, error) {
	if r.StartTS > 0 {
		first := -1
		for i, b := range all {
			if b.TSMillis() >= r.StartTS {
				first = i
				break
			}
		}
		if first < 0 {
			return nil, fmt.Errorf("start_ts_ms=%d is after the newest stored bar", r.StartTS)
		}

		warmup := r.Deps.MinBars
		if warmup < 50 {
			warmup = 50
		}
		warmup += 5

		lo := first - warmup
		if lo < 0 {
			lo = 0
		}
		all = all[lo:]
	}

	if r.EndTS > 0 {
		hi := len(all)
		for i, b := range all {
			if b.TSMillis() > r.EndTS {
				hi = i
				break
			}
		}
		all = all[:hi]
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("no bars left after applying window filters")
	}
	return all, nil
}
