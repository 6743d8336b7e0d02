package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedholm/tradeloop/market"
	"github.com/reedholm/tradeloop/store"
)

type staticSource struct {
	bars []market.Bar
	err  error
}

func (s *staticSource) Fetch(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error) {
	return s.bars, s.err
}

func TestLiveCycleDecidesOffStore(t *testing.T) {
	t.Parallel()

	lg := &memLedger{}
	bars := trendingBars(80)
	l := &Live{
		Deps:       testDeps(lg, 0.0),
		Source:     &staticSource{bars: bars},
		Store:      store.NewMemory(nil),
		FetchLimit: 200,
	}

	require.NoError(t, l.cycle(context.Background(), slog.Default()))

	require.Len(t, lg.decisions, 1)
	assert.Equal(t, bars[len(bars)-1].TSMillis(), lg.decisions[0].TS)

	stored, err := l.Store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, stored, 80)

	// Same bars again: already decided, nothing new written.
	require.NoError(t, l.cycle(context.Background(), slog.Default()))
	assert.Len(t, lg.decisions, 1)
}

func TestLiveFetchFailureRecordsOutageRow(t *testing.T) {
	t.Parallel()

	lg := &memLedger{}
	bars := trendingBars(10)
	lastTS := bars[len(bars)-1].TSMillis()

	l := &Live{
		Deps:   testDeps(lg, 0.0),
		Source: &staticSource{err: errors.New("venue down")},
		Store:  store.NewMemory(bars),
	}

	require.NoError(t, l.cycle(context.Background(), slog.Default()))

	require.Len(t, lg.decisions, 1)
	rec := lg.decisions[0]
	assert.Equal(t, lastTS+300_000, rec.TS)
	assert.False(t, rec.Tradable)
	assert.Equal(t, "fetch_failed", rec.MarketReason)

	// A second failing cycle lands on the same slot; the watermark keeps
	// the ledger from stacking duplicates.
	require.NoError(t, l.cycle(context.Background(), slog.Default()))
	assert.Len(t, lg.decisions, 1)
}

func TestLiveFetchFailureWithEmptyStore(t *testing.T) {
	t.Parallel()

	lg := &memLedger{}
	l := &Live{
		Deps:   testDeps(lg, 0.0),
		Source: &staticSource{err: errors.New("venue down")},
		Store:  store.NewMemory(nil),
	}

	// Nothing to anchor an outage row to yet; the cycle is still clean.
	require.NoError(t, l.cycle(context.Background(), slog.Default()))
	assert.Empty(t, lg.decisions)
}

func TestLiveRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	lg := &memLedger{}
	l := &Live{
		Deps:         testDeps(lg, 0.0),
		Source:       &staticSource{bars: trendingBars(80)},
		Store:        store.NewMemory(nil),
		SleepSeconds: 3600,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	assert.NotEmpty(t, lg.decisions)
}
