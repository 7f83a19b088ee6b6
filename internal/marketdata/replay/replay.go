// Package replay emits stored candles back into the engine at a configurable
// speed, for recomputing indicators over history.
package replay

import (
	"context"
	"log"
	"time"

	"candlestream/internal/model"
)

// maxGap caps the simulated wait between two windows.
const maxGap = 5 * time.Second

// CandleLoader loads stored candles in window order.
type CandleLoader interface {
	ReadCandlesSince(candleSeconds int, fromMs int64) ([]model.Candle, error)
}

// Replayer reads stored candles and replays them in window order.
type Replayer struct {
	loader CandleLoader
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by loader (usually the SQLite reader).
func New(loader CandleLoader) *Replayer {
	return &Replayer{loader: loader, sleep: sleepCtx}
}

// Run replays every candle of candleSeconds with window start >= fromMs
// into out and returns the number emitted. speed controls the playback
// rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
// out is not closed.
func (r *Replayer) Run(ctx context.Context, candleSeconds int, fromMs int64, speed float64, out chan<- model.Candle) (int, error) {
	candles, err := r.loader.ReadCandlesSince(candleSeconds, fromMs)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		log.Println("[replay] no candles found")
		return 0, nil
	}
	log.Printf("[replay] loaded %d candles, candle_seconds=%d speed=%.1fx", len(candles), candleSeconds, speed)

	var prevStart int64
	emitted := 0
	for i, c := range candles {
		// Simulate the gap between windows.
		if speed > 0 && i > 0 && c.WindowStartMs > prevStart {
			gap := time.Duration(float64(c.WindowStartMs-prevStart) * float64(time.Millisecond) / speed)
			if gap > maxGap {
				gap = maxGap
			}
			if err := r.sleep(ctx, gap); err != nil {
				log.Printf("[replay] cancelled after %d candles", emitted)
				return emitted, err
			}
		}
		prevStart = c.WindowStartMs

		select {
		case out <- c:
			emitted++
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return emitted, ctx.Err()
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return emitted, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
