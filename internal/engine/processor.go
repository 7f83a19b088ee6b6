// Package engine runs the per-pair processing chain:
// trade → window → candle → validate → history → indicators.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"candlestream/internal/history"
	"candlestream/internal/indicator"
	"candlestream/internal/logger"
	"candlestream/internal/marketdata/agg"
	"candlestream/internal/marketdata/validate"
	"candlestream/internal/metrics"
	"candlestream/internal/model"
)

// Settings are the engine parameters shared by every pair worker.
type Settings struct {
	CandleSeconds int
	MaxHistory    int
	RetainWindows int
}

// Processor owns the aggregation and history state of the pairs routed to
// it. It is not safe for concurrent use; the Pipeline gives every pair its
// own Processor.
type Processor struct {
	settings Settings
	agg      *agg.Aggregator
	hist     *history.Store
	calc     *indicator.Calculator
	log      *slog.Logger
	prom     *metrics.Metrics // may be nil

	now func() time.Time
}

// NewProcessor creates a Processor. calc is shared read-only; prom may be nil.
func NewProcessor(s Settings, calc *indicator.Calculator, prom *metrics.Metrics, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		settings: s,
		agg:      agg.New(s.CandleSeconds, s.RetainWindows),
		hist:     history.New(s.MaxHistory),
		calc:     calc,
		log:      log,
		prom:     prom,
		now:      time.Now,
	}

	p.agg.OnLateTrade = func(t model.Trade) {
		p.log.Warn("trade behind retention horizon dropped",
			"pair", t.Pair, "event_time_ms", t.EventTimeMs)
		if p.prom != nil {
			p.prom.LateTrades.Inc()
		}
	}
	p.agg.OnEvict = func(n int) {
		if p.prom != nil {
			p.prom.WindowsEvicted.Add(float64(n))
		}
	}
	p.hist.OnEvict = func(model.Candle) {
		if p.prom != nil {
			p.prom.HistoryEvictions.Inc()
		}
	}
	return p
}

// Process runs one trade through the chain and returns the indicator record
// of the candle snapshot it produced. ok is false when the trade was dropped
// by the aggregator's retention policy.
func (p *Processor) Process(ctx context.Context, t model.Trade) (model.IndicatorRecord, bool) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(t.Pair, t.EventTimeMs))

	if err := validate.Trade(t, p.now()); err != nil {
		// Advisory only: the trade is still aggregated.
		p.log.Warn("trade validation", append(logger.LogWithTrace(ctx), "err", err)...)
		if p.prom != nil {
			p.prom.TradeValidationWarnings.Inc()
		}
	}

	// A new window can evict older ones in the same Apply, so the gauge
	// moves by the net change.
	before := p.OpenWindows()
	c, ok := p.agg.Apply(t)
	if p.prom != nil {
		p.prom.OpenWindows.Add(float64(p.OpenWindows() - before))
	}
	if !ok {
		return model.IndicatorRecord{}, false
	}
	if p.prom != nil {
		p.prom.CandleUpdatesTotal.Inc()
	}

	return p.enrich(ctx, c), true
}

// ProcessCandle feeds a pre-built candle straight into history and the
// indicator calculator. Candles of another duration are ignored (ok=false).
func (p *Processor) ProcessCandle(ctx context.Context, c model.Candle) (model.IndicatorRecord, bool) {
	if c.CandleSeconds != p.settings.CandleSeconds {
		p.log.Debug("ignoring candle of another duration",
			"pair", c.Pair, "candle_seconds", c.CandleSeconds, "want", p.settings.CandleSeconds)
		if p.prom != nil {
			p.prom.IgnoredCandles.Inc()
		}
		return model.IndicatorRecord{}, false
	}
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(c.Pair, c.WindowStartMs))
	return p.enrich(ctx, c), true
}

// enrich validates c, merges it into history and computes indicators.
func (p *Processor) enrich(ctx context.Context, c model.Candle) model.IndicatorRecord {
	if err := validate.Candle(c); err != nil {
		// Forwarded unchanged.
		var verr *validate.Error
		if errors.As(err, &verr) {
			p.log.Warn("candle validation failed",
				append(logger.LogWithTrace(ctx), "pair", c.Pair, "violations", verr.Violations)...)
		}
		if p.prom != nil {
			p.prom.CandleValidationFailures.Inc()
		}
	}

	hist := p.hist.Upsert(c)
	rec := p.calc.Compute(hist)

	p.log.Debug("indicator record",
		append(logger.LogWithTrace(ctx), "pair", c.Pair, "window_start_ms", c.WindowStartMs, "history", len(hist))...)
	if p.prom != nil {
		p.prom.IndicatorRecordsTotal.Inc()
	}
	return rec
}

// Seed warms a pair's history from persisted candles.
func (p *Processor) Seed(pair string, candles []model.Candle) int {
	return p.hist.Seed(pair, candles)
}

// OpenWindows returns the resident window accumulators of this processor.
func (p *Processor) OpenWindows() int { return p.agg.OpenWindows() }
