package feed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedholm/tradeloop/market"
)

type flakySource struct {
	failures int
	calls    int
	bars     []market.Bar
}

func (s *flakySource) Fetch(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("venue unavailable")
	}
	return s.bars, nil
}

func TestRetrySourceRecovers(t *testing.T) {
	t.Parallel()

	want := []market.Bar{{TS: time.UnixMilli(1000).UTC(), Close: 100}}
	src := &flakySource{failures: 2, bars: want}
	rs := NewRetry(src, 3, time.Millisecond, nil)

	bars, err := rs.Fetch(context.Background(), "BTC/USD", "5m", 10)
	require.NoError(t, err)
	assert.Equal(t, want, bars)
	assert.Equal(t, 3, src.calls)
}

func TestRetrySourceExhausted(t *testing.T) {
	t.Parallel()

	src := &flakySource{failures: 10}
	rs := NewRetry(src, 3, time.Millisecond, nil)

	_, err := rs.Fetch(context.Background(), "BTC/USD", "5m", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, src.calls)
}

func TestRetrySourceContextCancel(t *testing.T) {
	t.Parallel()

	src := &flakySource{failures: 10}
	rs := NewRetry(src, 5, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rs.Fetch(ctx, "BTC/USD", "5m", 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.calls)
}

func TestRetryAttemptsFloor(t *testing.T) {
	t.Parallel()

	src := &flakySource{failures: 10}
	rs := NewRetry(src, 0, time.Millisecond, nil)

	_, err := rs.Fetch(context.Background(), "BTC/USD", "5m", 10)
	require.Error(t, err)
	assert.Equal(t, 1, src.calls)
}

func writeBarCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVSource(t *testing.T) {
	t.Parallel()

	path := writeBarCSV(t, `timestamp_ms,open,high,low,close,volume
3000,102,103,101,102.5,12
1000,100,101,99,100.5,10
2000,101,102,100,101.5,11
2000,101,102,100,101.6,11
`)

	src := &CSVSource{Path: path}
	bars, err := src.Fetch(context.Background(), "BTC/USD", "5m", 0)
	require.NoError(t, err)
	require.Len(t, bars, 3)

	// Sorted ascending, duplicate keeps the last row.
	assert.Equal(t, int64(1000), bars[0].TSMillis())
	assert.Equal(t, 101.6, bars[1].Close)
	assert.Equal(t, int64(3000), bars[2].TSMillis())
}

func TestCSVSourceLimitTakesTail(t *testing.T) {
	t.Parallel()

	path := writeBarCSV(t, `1000,100,101,99,100.5,10
2000,101,102,100,101.5,11
3000,102,103,101,102.5,12
`)

	bars, err := (&CSVSource{Path: path}).Fetch(context.Background(), "BTC/USD", "5m", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(2000), bars[0].TSMillis())
}

func TestCSVSourceSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	path := writeBarCSV(t, `timestamp_ms,open,high,low,close,volume
1000,100,101,99,100.5,10
oops,100,101,99,100.5,10
2000,bad,102,100,101.5,11
3000,102,103,101,102.5,12
`)

	bars, err := (&CSVSource{Path: path}).Fetch(context.Background(), "BTC/USD", "5m", 0)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(1000), bars[0].TSMillis())
	assert.Equal(t, int64(3000), bars[1].TSMillis())
}

func TestCSVSourceMissingFile(t *testing.T) {
	t.Parallel()

	_, err := (&CSVSource{Path: t.TempDir() + "/nope.csv"}).Fetch(context.Background(), "BTC/USD", "5m", 0)
	require.Error(t, err)
}
