package agg

import (
	"candlestream/internal/marketdata/window"
	"candlestream/internal/model"
)

// accumulator holds the in-progress OHLCV state for one window key.
type accumulator struct {
	candle model.Candle
}

// pairWindows tracks the accumulators of one pair and the newest window seen.
type pairWindows struct {
	newest int64 // start ms of the newest window seen for this pair
	open   map[int64]*accumulator
}

// Aggregator reduces trades into per-window OHLCV accumulators and returns a
// full candle snapshot for every trade (continuous emission). Windows are
// never closed by a timer; an accumulator stays addressable while it is
// within the retention horizon.
//
// Not safe for concurrent use: one Aggregator is owned by one pair worker.
type Aggregator struct {
	assigner      *window.Assigner
	candleSeconds int

	// RetainWindows bounds how many windows behind the newest one are kept
	// per pair. 0 keeps every accumulator for the lifetime of the aggregator.
	retainWindows int

	pairs map[string]*pairWindows

	// Metrics hooks (optional, set externally)
	OnLateTrade func(t model.Trade) // trade behind the retention horizon
	OnEvict     func(n int)         // accumulators evicted
}

// New creates an Aggregator for windows of candleSeconds.
// retainWindows == 0 disables accumulator eviction.
func New(candleSeconds, retainWindows int) *Aggregator {
	return &Aggregator{
		assigner:      window.New(candleSeconds),
		candleSeconds: candleSeconds,
		retainWindows: retainWindows,
		pairs:         make(map[string]*pairWindows, 16),
	}
}

// Apply reduces a trade into its window accumulator and returns the updated
// candle snapshot. ok is false only when retention is enabled and the
// trade's window has already been evicted.
func (a *Aggregator) Apply(t model.Trade) (c model.Candle, ok bool) {
	key := a.assigner.Assign(t)

	pw, exists := a.pairs[key.Pair]
	if !exists {
		pw = &pairWindows{newest: key.StartMs, open: make(map[int64]*accumulator, 4)}
		a.pairs[key.Pair] = pw
	}

	if a.retainWindows > 0 && key.StartMs < a.horizon(pw) {
		if a.OnLateTrade != nil {
			a.OnLateTrade(t)
		}
		return model.Candle{}, false
	}

	acc, exists := pw.open[key.StartMs]
	if !exists {
		// First trade of the window is its open
		acc = &accumulator{
			candle: model.Candle{
				Pair:          key.Pair,
				Open:          t.Price,
				High:          t.Price,
				Low:           t.Price,
				Close:         t.Price,
				Volume:        t.Quantity,
				WindowStartMs: key.StartMs,
				WindowEndMs:   key.EndMs,
				CandleSeconds: a.candleSeconds,
				Trades:        1,
				SchemaVersion: model.SchemaVersion,
			},
		}
		pw.open[key.StartMs] = acc
	} else {
		// Same window: update OHLCV
		fc := &acc.candle
		if t.Price > fc.High {
			fc.High = t.Price
		}
		if t.Price < fc.Low {
			fc.Low = t.Price
		}
		fc.Close = t.Price
		fc.Volume += t.Quantity
		fc.Trades++
	}

	if key.StartMs > pw.newest {
		pw.newest = key.StartMs
		a.evict(pw)
	}

	// Copy the struct so the caller never aliases accumulator state.
	return acc.candle, true
}

// horizon returns the oldest window start still retained for a pair.
func (a *Aggregator) horizon(pw *pairWindows) int64 {
	return pw.newest - int64(a.retainWindows)*a.assigner.DurationMs()
}

// evict drops accumulators that fell behind the retention horizon.
func (a *Aggregator) evict(pw *pairWindows) {
	if a.retainWindows <= 0 {
		return
	}
	h := a.horizon(pw)
	n := 0
	for start := range pw.open {
		if start < h {
			delete(pw.open, start)
			n++
		}
	}
	if n > 0 && a.OnEvict != nil {
		a.OnEvict(n)
	}
}

// OpenWindows returns the number of resident accumulators across all pairs.
func (a *Aggregator) OpenWindows() int {
	n := 0
	for _, pw := range a.pairs {
		n += len(pw.open)
	}
	return n
}
