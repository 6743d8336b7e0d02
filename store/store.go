// Package store persists raw bars per (namespace, symbol, timeframe).
// The engine appends whatever it fetched and always decides off the
// store, so local storage is the single source of truth for both live
// and replay.
package store

import "github.com/reedholm/tradeloop/market"

// BarStore is the bar persistence interface. Reads return deduplicated
// bars in ascending timestamp order.
type BarStore interface {
	Append(bars []market.Bar) error
	LoadRecent(tailN int) ([]market.Bar, error)
	LoadAll() ([]market.Bar, error)
}

// MemoryStore keeps bars in memory. Backtests over pre-loaded windows
// and tests use it in place of the parquet store.
type MemoryStore struct {
	bars []market.Bar
}

func NewMemory(bars []market.Bar) *MemoryStore {
	return &MemoryStore{bars: market.SortDedup(bars)}
}

func (s *MemoryStore) Append(bars []market.Bar) error {
	s.bars = market.SortDedup(append(s.bars, bars...))
	return nil
}

func (s *MemoryStore) LoadRecent(tailN int) ([]market.Bar, error) {
	if tailN <= 0 || tailN >= len(s.bars) {
		return append([]market.Bar(nil), s.bars...), nil
	}
	return append([]market.Bar(nil), s.bars[len(s.bars)-tailN:]...), nil
}

func (s *MemoryStore) LoadAll() ([]market.Bar, error) {
	return append([]market.Bar(nil), s.bars...), nil
}
