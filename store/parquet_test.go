package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedholm/tradeloop/market"
)

func dayBar(t *testing.T, day string, hour int, close float64) market.Bar {
	t.Helper()
	d, err := time.Parse(time.DateOnly, day)
	require.NoError(t, err)
	return bar(d.Add(time.Duration(hour)*time.Hour).UnixMilli(), close)
}

func TestParquetStoreLayout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s := NewParquet(root, "coinbase", "BTC/USD", "5m")

	assert.Equal(t, filepath.Join(root, "coinbase", "BTC_USD", "5m"), s.Dir())

	require.NoError(t, s.Append([]market.Bar{
		dayBar(t, "2025-06-01", 1, 100),
		dayBar(t, "2025-06-02", 1, 101),
	}))

	for _, day := range []string{"2025-06-01", "2025-06-02"} {
		_, err := os.Stat(filepath.Join(s.Dir(), "date="+day, "bars.parquet"))
		assert.NoError(t, err, day)
	}
}

func TestParquetStoreRoundtrip(t *testing.T) {
	t.Parallel()

	s := NewParquet(t.TempDir(), "coinbase", "BTC/USD", "5m")

	want := []market.Bar{
		dayBar(t, "2025-06-01", 1, 100),
		dayBar(t, "2025-06-01", 2, 101),
		dayBar(t, "2025-06-02", 1, 102),
	}
	require.NoError(t, s.Append(want))

	got, err := s.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParquetStoreMergeKeepsLast(t *testing.T) {
	t.Parallel()

	s := NewParquet(t.TempDir(), "coinbase", "BTC/USD", "5m")

	require.NoError(t, s.Append([]market.Bar{
		dayBar(t, "2025-06-01", 1, 100),
		dayBar(t, "2025-06-01", 2, 101),
	}))

	// Re-append the second bar with a corrected close plus a new one.
	require.NoError(t, s.Append([]market.Bar{
		dayBar(t, "2025-06-01", 2, 999),
		dayBar(t, "2025-06-01", 3, 102),
	}))

	got, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 100.0, got[0].Close)
	assert.Equal(t, 999.0, got[1].Close)
	assert.Equal(t, 102.0, got[2].Close)
}

func TestParquetStoreLoadRecent(t *testing.T) {
	t.Parallel()

	s := NewParquet(t.TempDir(), "coinbase", "BTC/USD", "5m")
	require.NoError(t, s.Append([]market.Bar{
		dayBar(t, "2025-06-01", 1, 100),
		dayBar(t, "2025-06-01", 2, 101),
		dayBar(t, "2025-06-02", 1, 102),
	}))

	tail, err := s.LoadRecent(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 101.0, tail[0].Close)
	assert.Equal(t, 102.0, tail[1].Close)
}

func TestParquetStoreEmpty(t *testing.T) {
	t.Parallel()

	s := NewParquet(t.TempDir(), "coinbase", "BTC/USD", "5m")
	got, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Append(nil))
}
