package market

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Bar is one OHLCV sample for a fixed time interval. TS is the bar open
// time, UTC, millisecond resolution.
type Bar struct {
	TS     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// TSMillis returns the bar open time as epoch milliseconds.
func (b Bar) TSMillis() int64 {
	return b.TS.UnixMilli()
}

// ParseTimeframeSeconds converts a timeframe like "1m", "5m", "1h" or "1d"
// into its bar step in seconds.
func ParseTimeframeSeconds(timeframe string) (int, error) {
	tf := strings.ToLower(strings.TrimSpace(timeframe))
	if len(tf) < 2 {
		return 0, fmt.Errorf("unsupported timeframe %q", timeframe)
	}

	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil {
		return 0, fmt.Errorf("unsupported timeframe %q: %w", timeframe, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("unsupported timeframe %q (must be positive)", timeframe)
	}

	switch tf[len(tf)-1] {
	case 'm':
		return n * 60, nil
	case 'h':
		return n * 60 * 60, nil
	case 'd':
		return n * 60 * 60 * 24, nil
	}
	return 0, fmt.Errorf("unsupported timeframe %q (expected suffix m/h/d)", timeframe)
}

// StorageSymbol normalizes a symbol for filesystem and record identity:
// BTC/USD -> BTC_USD.
func StorageSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(symbol)), "/", "_")
}

// SortDedup returns bars sorted ascending by timestamp with duplicate
// timestamps collapsed, keeping the last occurrence.
func SortDedup(bars []Bar) []Bar {
	if len(bars) == 0 {
		return nil
	}

	out := make([]Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })

	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].TS.Equal(b.TS) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}
