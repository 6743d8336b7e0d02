package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/reedholm/tradeloop/market"
)

// barRow is the on-disk schema for one bar.
type barRow struct {
	TimestampMS int64   `parquet:"timestamp_ms"`
	Open        float64 `parquet:"open"`
	High        float64 `parquet:"high"`
	Low         float64 `parquet:"low"`
	Close       float64 `parquet:"close"`
	Volume      float64 `parquet:"volume"`
}

// ParquetStore writes daily partitions:
//
//	<root>/<namespace>/<SYMBOL>/<timeframe>/date=YYYY-MM-DD/bars.parquet
//
// Appends rewrite the touched partitions via tmp+rename so a crash never
// leaves a torn file; duplicate timestamps keep the last write.
type ParquetStore struct {
	root      string
	namespace string
	symbol    string // storage form, e.g. BTC_USD
	timeframe string
}

func NewParquet(root, namespace, symbol, timeframe string) *ParquetStore {
	return &ParquetStore{
		root:      root,
		namespace: namespace,
		symbol:    market.StorageSymbol(symbol),
		timeframe: timeframe,
	}
}

// Dir returns the symbol/timeframe directory holding the partitions.
func (s *ParquetStore) Dir() string {
	return filepath.Join(s.root, s.namespace, s.symbol, s.timeframe)
}

func (s *ParquetStore) partitionPath(day string) string {
	return filepath.Join(s.Dir(), "date="+day, "bars.parquet")
}

func (s *ParquetStore) Append(bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	byDay := make(map[string][]market.Bar)
	for _, b := range bars {
		day := b.TS.UTC().Format(time.DateOnly)
		byDay[day] = append(byDay[day], b)
	}

	for day, incoming := range byDay {
		path := s.partitionPath(day)

		existing, err := readPartition(path)
		if err != nil {
			return err
		}

		merged := market.SortDedup(append(existing, incoming...))
		if err := writePartition(path, merged); err != nil {
			return err
		}
	}
	return nil
}

func (s *ParquetStore) LoadAll() ([]market.Bar, error) {
	paths, err := filepath.Glob(filepath.Join(s.Dir(), "date=*", "bars.parquet"))
	if err != nil {
		return nil, fmt.Errorf("glob partitions: %w", err)
	}
	sort.Strings(paths)

	var all []market.Bar
	for _, p := range paths {
		bars, err := readPartition(p)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}
	return market.SortDedup(all), nil
}

func (s *ParquetStore) LoadRecent(tailN int) ([]market.Bar, error) {
	all, err := s.LoadAll()
	if err != nil {
		return nil, err
	}
	if tailN <= 0 || tailN >= len(all) {
		return all, nil
	}
	return all[len(all)-tailN:], nil
}

func readPartition(path string) ([]market.Bar, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	rows, err := parquet.ReadFile[barRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet partition %s: %w", path, err)
	}
	bars := make([]market.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, market.Bar{
			TS:     time.UnixMilli(r.TimestampMS).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return bars, nil
}

func writePartition(path string, bars []market.Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	rows := make([]barRow, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, barRow{
			TimestampMS: b.TSMillis(),
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Close:       b.Close,
			Volume:      b.Volume,
		})
	}

	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write parquet partition: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish parquet partition: %w", err)
	}
	return nil
}
