// Package window maps trade event times onto tumbling windows.
package window

import "candlestream/internal/model"

// Assigner assigns trades to fixed-duration tumbling windows by event time.
// Arrival time is never consulted, so a late trade still lands in the window
// its timestamp belongs to.
type Assigner struct {
	durMs int64
}

// New creates an Assigner for windows of the given length in seconds.
func New(candleSeconds int) *Assigner {
	return &Assigner{durMs: int64(candleSeconds) * 1000}
}

// Assign returns the window key for the trade.
func (a *Assigner) Assign(t model.Trade) model.WindowKey {
	start := Floor(t.EventTimeMs, a.durMs)
	return model.WindowKey{Pair: t.Pair, StartMs: start, EndMs: start + a.durMs}
}

// DurationMs returns the window length in milliseconds.
func (a *Assigner) DurationMs() int64 { return a.durMs }

// Floor aligns ts down to a multiple of dur (mathematical floor, so negative
// timestamps align downwards as well).
func Floor(ts, dur int64) int64 {
	r := ts % dur
	if r < 0 {
		r += dur
	}
	return ts - r
}
