package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/reedholm/tradeloop/feed"
	"github.com/reedholm/tradeloop/ledger"
	"github.com/reedholm/tradeloop/metrics"
	"github.com/reedholm/tradeloop/store"
)

// Live runs the fetch -> persist -> decide cycle until the context is
// cancelled. Every cycle ends in one attempted ledger write, including
// cycles that failed to fetch or persist, so the decision history has no
// silent holes.
type Live struct {
	Deps   *Deps
	Source feed.Source
	Store  store.BarStore

	SleepSeconds int
	FetchLimit   int
}

// Run blocks until ctx is done. Errors inside a cycle are logged and the
// loop continues; only a cancelled context ends the run.
func (l *Live) Run(ctx context.Context) error {
	log := l.Deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "live")

	log.Info("live loop starting",
		"symbol", l.Deps.Symbol, "timeframe", l.Deps.Timeframe,
		"min_bars", l.Deps.MinBars, "sleep_s", l.SleepSeconds)

	for {
		cycleStart := time.Now()

		if err := l.cycle(ctx, log); err != nil {
			if ctx.Err() != nil {
				log.Info("live loop stopping")
				return nil
			}
			log.Error("cycle failed", "err", err)
		}

		sleep := time.Duration(l.SleepSeconds)*time.Second - time.Since(cycleStart)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			log.Info("live loop stopping")
			return nil
		case <-time.After(sleep):
		}
	}
}

func (l *Live) cycle(ctx context.Context, log *slog.Logger) error {
	limit := l.FetchLimit
	if limit < l.Deps.MinBars {
		limit = l.Deps.MinBars
	}

	fetched, err := l.Source.Fetch(ctx, l.Deps.Symbol, l.Deps.Timeframe, limit)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.IncFetchFailure()
		log.Warn("fetch failed, recording skip", "err", err)
		l.recordOutage(log, "fetch_failed")
		return nil
	}

	if err := l.Store.Append(fetched); err != nil {
		log.Error("persist failed, bar retried next cycle", "err", err)
		l.recordOutage(log, "persist_failed")
		return nil
	}

	window, err := l.Store.LoadRecent(limit)
	if err != nil {
		return err
	}

	res, err := Step(l.Deps, window, 0, true)
	if err != nil {
		return err
	}

	metrics.IncDecision(string(res.Outcome))
	metrics.SetDegraded(res.Degraded.Active)
	if res.Trade != nil {
		metrics.IncTrade(res.Trade.Reason, res.Trade.Side)
		metrics.SetRealizedPnL(res.Trade.CumRealizedPnLUSD)
	}

	return nil
}

// recordOutage writes a non-tradable decision row at the next expected
// bar slot so outages are visible in the ledger. The watermark keeps a
// prolonged outage from stacking duplicate rows.
func (l *Live) recordOutage(log *slog.Logger, reason string) {
	tail, err := l.Store.LoadRecent(1)
	if err != nil || len(tail) == 0 {
		return
	}
	ts := tail[0].TSMillis() + int64(l.Deps.ExpectedStepS)*1000

	rec := ledger.DecisionRecord{
		TS:           ts,
		Timestamp:    time.UnixMilli(ts).UTC().Format(time.RFC3339),
		BarHigh:      tail[0].High,
		BarLow:       tail[0].Low,
		Tradable:     false,
		Trend:        "flat",
		Volatility:   "normal",
		MarketReason: reason,
	}
	if _, err := l.Deps.Ledger.AppendDecision(rec); err != nil {
		log.Error("outage row write failed", "ts_ms", ts, "err", err)
	}
}
