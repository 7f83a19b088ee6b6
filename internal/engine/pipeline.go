package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"candlestream/internal/indicator"
	"candlestream/internal/metrics"
	"candlestream/internal/model"
)

// work is one unit routed to a pair worker: either a trade or a pre-built candle.
type work struct {
	trade  model.Trade
	candle *model.Candle
}

// Pipeline dispatches input by pair to one worker goroutine per pair. Each
// worker owns its own Processor, so a pair's state is only ever touched by
// one goroutine while different pairs run in parallel.
type Pipeline struct {
	settings  Settings
	calc      *indicator.Calculator
	prom      *metrics.Metrics
	log       *slog.Logger
	inboxSize int

	// Optional
	Seeder model.CandleHistoryReader // warms a pair's history when its worker starts
	Health *metrics.HealthStatus

	out chan model.IndicatorRecord
}

// NewPipeline creates a Pipeline. prom may be nil.
func NewPipeline(s Settings, calc *indicator.Calculator, prom *metrics.Metrics, log *slog.Logger, inboxSize, outSize int) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if inboxSize <= 0 {
		inboxSize = 256
	}
	return &Pipeline{
		settings:  s,
		calc:      calc,
		prom:      prom,
		log:       log.With("component", "engine"),
		inboxSize: inboxSize,
		out:       make(chan model.IndicatorRecord, outSize),
	}
}

// Records returns the output channel. It is closed when Run returns.
func (pl *Pipeline) Records() <-chan model.IndicatorRecord { return pl.out }

// Run consumes trades until ctx is cancelled or trades is closed.
func (pl *Pipeline) Run(ctx context.Context, trades <-chan model.Trade) error {
	in := make(chan work)
	go func() {
		defer close(in)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-trades:
				if !ok {
					return
				}
				select {
				case in <- work{trade: t}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return pl.run(ctx, in)
}

// RunCandles consumes pre-built candles instead of trades.
func (pl *Pipeline) RunCandles(ctx context.Context, candles <-chan model.Candle) error {
	in := make(chan work)
	go func() {
		defer close(in)
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-candles:
				if !ok {
					return
				}
				select {
				case in <- work{candle: &c}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return pl.run(ctx, in)
}

func (pl *Pipeline) run(ctx context.Context, in <-chan work) error {
	defer close(pl.out)

	g, gctx := errgroup.WithContext(ctx)
	inboxes := make(map[string]chan work, 16)

	for {
		select {
		case <-gctx.Done():
			pl.closeAndWait(inboxes, g)
			return ignoreCanceled(ctx, g.Wait())
		case w, ok := <-in:
			if !ok {
				pl.closeAndWait(inboxes, g)
				return ignoreCanceled(ctx, g.Wait())
			}

			pair := w.trade.Pair
			if w.candle != nil {
				pair = w.candle.Pair
			}

			inbox, exists := inboxes[pair]
			if !exists {
				inbox = make(chan work, pl.inboxSize)
				inboxes[pair] = inbox
				g.Go(func() error {
					return pl.worker(gctx, pair, inbox)
				})
				if pl.prom != nil {
					pl.prom.PairsActive.Inc()
				}
				if pl.Health != nil {
					pl.Health.SetPairs(len(inboxes))
				}
				pl.log.Info("pair worker started", "pair", pair, "pairs", len(inboxes))
			}

			// Blocking send keeps per-pair arrival order.
			select {
			case inbox <- w:
			case <-gctx.Done():
			}
		}
	}
}

// closeAndWait closes every inbox so workers drain and exit, then clears the map.
func (pl *Pipeline) closeAndWait(inboxes map[string]chan work, g *errgroup.Group) {
	for pair, inbox := range inboxes {
		close(inbox)
		delete(inboxes, pair)
	}
	g.Wait()
}

func (pl *Pipeline) worker(ctx context.Context, pair string, inbox <-chan work) error {
	proc := NewProcessor(pl.settings, pl.calc, pl.prom, pl.log.With("pair", pair))

	if pl.Seeder != nil {
		candles, err := pl.Seeder.ReadRecentCandles(pair, pl.settings.CandleSeconds, pl.settings.MaxHistory)
		if err != nil {
			pl.log.Warn("history warm-up failed", "pair", pair, "err", err)
		} else if n := proc.Seed(pair, candles); n > 0 {
			pl.log.Info("history warmed up", "pair", pair, "candles", n)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case w, ok := <-inbox:
			if !ok {
				return nil
			}

			start := time.Now()
			var (
				rec  model.IndicatorRecord
				emit bool
			)
			if w.candle != nil {
				rec, emit = proc.ProcessCandle(ctx, *w.candle)
			} else {
				if pl.prom != nil {
					pl.prom.TradesTotal.Inc()
				}
				if pl.Health != nil {
					pl.Health.SetLastTradeTime(w.trade.EventTime())
				}
				rec, emit = proc.Process(ctx, w.trade)
			}
			if pl.prom != nil {
				pl.prom.ProcessDur.Observe(time.Since(start).Seconds())
			}
			if !emit {
				continue
			}

			select {
			case pl.out <- rec:
				if pl.prom != nil && w.candle == nil {
					pl.prom.E2ELatency.Observe(time.Since(w.trade.EventTime()).Seconds())
				}
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ignoreCanceled hides the error of a normal shutdown.
func ignoreCanceled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
