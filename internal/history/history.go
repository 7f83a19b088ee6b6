// Package history keeps a bounded, time-ordered candle history per pair.
package history

import (
	"candlestream/internal/model"
	"candlestream/internal/ringbuf"
)

// Store holds the most recent candles of every pair it has seen.
// Histories are created lazily and live for the lifetime of the Store.
//
// Not safe for concurrent use: a Store is owned by one pair worker.
type Store struct {
	maxHistory int
	pairs      map[string]*ringbuf.Ring[model.Candle]

	// OnEvict is called with the evicted candle when a new window pushes
	// the oldest one out of a full history. Optional.
	OnEvict func(c model.Candle)
}

// New creates a Store whose per-pair histories hold at most maxHistory candles.
func New(maxHistory int) *Store {
	if maxHistory < 1 {
		maxHistory = 1
	}
	return &Store{
		maxHistory: maxHistory,
		pairs:      make(map[string]*ringbuf.Ring[model.Candle], 16),
	}
}

func (s *Store) ring(pair string) *ringbuf.Ring[model.Candle] {
	r, ok := s.pairs[pair]
	if !ok {
		r = ringbuf.New[model.Candle](s.maxHistory)
		s.pairs[pair] = r
	}
	return r
}

// Upsert merges c into its pair's history and returns an ascending copy of
// the history. A candle for the same window as the latest entry replaces it
// in place; anything else is appended, evicting the oldest entry at capacity.
//
// Only the latest entry is compared: an out-of-order snapshot of an older
// window is appended as a new entry rather than merged.
func (s *Store) Upsert(c model.Candle) []model.Candle {
	r := s.ring(c.Pair)

	if last, ok := r.Last(); ok && last.SameWindow(&c) {
		r.ReplaceLast(c)
		return r.Items()
	}

	if old, evicted := r.Push(c); evicted && s.OnEvict != nil {
		s.OnEvict(old)
	}
	return r.Items()
}

// Seed warms a pair's history with persisted candles (ascending by window
// start). Only the newest maxHistory candles are kept. Candles of other
// pairs are ignored.
func (s *Store) Seed(pair string, candles []model.Candle) int {
	if len(candles) > s.maxHistory {
		candles = candles[len(candles)-s.maxHistory:]
	}
	r := s.ring(pair)
	n := 0
	for i := range candles {
		if candles[i].Pair != pair {
			continue
		}
		if last, ok := r.Last(); ok && last.SameWindow(&candles[i]) {
			r.ReplaceLast(candles[i])
			continue
		}
		r.Push(candles[i])
		n++
	}
	return n
}
