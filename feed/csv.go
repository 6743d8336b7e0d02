package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/reedholm/tradeloop/market"
)

// CSVSource replays bars from a CSV file with the columns
// timestamp_ms,open,high,low,close,volume. Useful for local runs and
// for seeding a storage namespace without touching a venue.
type CSVSource struct {
	Path string
}

func (s *CSVSource) Fetch(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open bar csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read bar csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Skip header if present.
	start := 0
	if _, err := strconv.ParseInt(records[0][0], 10, 64); err != nil {
		start = 1
	}

	var bars []market.Bar
	for _, rec := range records[start:] {
		if len(rec) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		bars = append(bars, market.Bar{
			TS:     time.UnixMilli(ts).UTC(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}

	bars = market.SortDedup(bars)
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}
