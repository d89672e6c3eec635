package barclock

import (
	"sync"

	"optexec/internal/types"
)

// Store keeps a rolling window of completed bars per (symbol, timeframe).
type Store struct {
	maxCached int

	mu   sync.RWMutex
	bars map[string][]types.Bar
}

// NewStore caps each window at maxCached bars.
func NewStore(maxCached int) *Store {
	if maxCached <= 0 {
		maxCached = 300
	}
	return &Store{maxCached: maxCached, bars: make(map[string][]types.Bar)}
}

func key(symbol, timeframe string) string { return symbol + "|" + timeframe }

// Append adds a completed bar, evicting the oldest past the cap. Bars with an
// open time at or before the stored head are ignored (idempotent append).
func (s *Store) Append(bar types.Bar) {
	k := key(bar.Symbol, bar.Timeframe)
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.bars[k]
	if n := len(window); n > 0 && !bar.OpenTime.After(window[n-1].OpenTime) {
		return
	}
	window = append(window, bar)
	if len(window) > s.maxCached {
		window = window[len(window)-s.maxCached:]
	}
	s.bars[k] = window
}

// Window returns up to n most recent bars, oldest first.
func (s *Store) Window(symbol, timeframe string, n int) []types.Bar {
	k := key(symbol, timeframe)
	s.mu.RLock()
	defer s.mu.RUnlock()
	window := s.bars[k]
	if n <= 0 || n > len(window) {
		n = len(window)
	}
	out := make([]types.Bar, n)
	copy(out, window[len(window)-n:])
	return out
}

// Seed installs a historical window wholesale (startup backfill).
func (s *Store) Seed(symbol, timeframe string, bars []types.Bar) {
	cp := make([]types.Bar, len(bars))
	copy(cp, bars)
	if len(cp) > s.maxCached {
		cp = cp[len(cp)-s.maxCached:]
	}
	s.mu.Lock()
	s.bars[key(symbol, timeframe)] = cp
	s.mu.Unlock()
}
