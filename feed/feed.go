// Package feed provides bar sources for the live engine. A Source is
// best-effort: the engine treats an exhausted fetch as a logged skip,
// never a crash.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reedholm/tradeloop/market"
)

// Source fetches the most recent bars for a symbol/timeframe. Bars are
// returned in ascending timestamp order; the last bar may be partial
// depending on the venue.
type Source interface {
	Fetch(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error)
}

// RetrySource wraps a Source with bounded attempts and a fixed backoff.
type RetrySource struct {
	inner    Source
	attempts int
	backoff  time.Duration
	log      *slog.Logger
}

// NewRetry wraps inner. attempts below 1 is treated as 1.
func NewRetry(inner Source, attempts int, backoff time.Duration, log *slog.Logger) *RetrySource {
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &RetrySource{inner: inner, attempts: attempts, backoff: backoff, log: log.With("component", "feed_retry")}
}

func (s *RetrySource) Fetch(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error) {
	var lastErr error
	for i := 0; i < s.attempts; i++ {
		if i > 0 {
			s.log.Warn("retrying fetch", "attempt", i+1, "symbol", symbol, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff):
			}
		}
		bars, err := s.inner.Fetch(ctx, symbol, timeframe, limit)
		if err == nil {
			return bars, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", s.attempts, lastErr)
}
