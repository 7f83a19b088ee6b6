package indicator

import (
	"log/slog"
	"math"

	"candlestream/internal/model"
)

// minHistory is the smallest history on which any indicator is attempted.
const minHistory = 2

// Calculator computes the configured indicator set for the newest candle of
// a pair's history. It holds no per-pair state and is safe to share between
// pair workers as long as OnSkip is.
type Calculator struct {
	cfg  Config
	keys []string
	log  *slog.Logger

	// OnSkip is called once per indicator key that was absent because the
	// history was too short or the result was not finite. Optional.
	OnSkip func(name string)
}

// NewCalculator creates a Calculator. cfg should already be validated.
func NewCalculator(cfg Config, logger *slog.Logger) *Calculator {
	cfg.Normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		cfg:  cfg,
		keys: cfg.Keys(),
		log:  logger.With("component", "indicator"),
	}
}

// Keys returns every indicator key present in a computed record.
func (c *Calculator) Keys() []string { return c.keys }

// Config returns the normalized configuration.
func (c *Calculator) Config() Config { return c.cfg }

// Compute returns the record of the last candle in history (ascending by
// window start). Every configured key is present; nil marks an absent value.
func (c *Calculator) Compute(history []model.Candle) model.IndicatorRecord {
	rec := model.IndicatorRecord{Indicators: make(map[string]*float64, len(c.keys))}
	for _, k := range c.keys {
		rec.Indicators[k] = nil
	}
	if len(history) == 0 {
		return rec
	}
	rec.Candle = history[len(history)-1]

	n := len(history)
	if n < minHistory {
		c.log.Debug("history too short for indicators",
			"pair", rec.Pair, "len", n, "min", minHistory)
		for _, k := range c.keys {
			c.skip(k)
		}
		return rec
	}

	cfg := &c.cfg
	if cfg.Enabled(FamilySMA) {
		for _, p := range cfg.SMA {
			c.single(&rec, history, NewSMA(p), p)
		}
	}
	if cfg.Enabled(FamilyEMA) {
		for _, p := range cfg.EMA {
			c.single(&rec, history, NewEMA(p), p)
		}
	}
	if cfg.Enabled(FamilyRSI) {
		for _, p := range cfg.RSI {
			c.single(&rec, history, NewRSI(p), p)
		}
	}
	if cfg.Enabled(FamilyMACD) {
		for _, p := range cfg.MACD {
			c.macd(&rec, history, p)
		}
	}
	if cfg.Enabled(FamilyOBV) {
		c.single(&rec, history, NewOBV(), minHistory)
	}
	return rec
}

// single feeds ind over history when it holds at least need candles.
func (c *Calculator) single(rec *model.IndicatorRecord, history []model.Candle, ind Indicator, need int) {
	name := ind.Name()
	if len(history) < need {
		c.insufficient(rec.Pair, name, len(history), need)
		return
	}
	for i := range history {
		ind.Update(history[i])
	}
	if !ind.Ready() {
		c.insufficient(rec.Pair, name, len(history), need)
		return
	}
	c.set(rec, name, ind.Value())
}

func (c *Calculator) macd(rec *model.IndicatorRecord, history []model.Candle, p MACDParams) {
	names := [3]string{KeyMACD(p.Fast), KeyMACDSignal(p.Fast), KeyMACDHist(p.Fast)}
	if len(history) < p.Slow {
		for _, name := range names {
			c.insufficient(rec.Pair, name, len(history), p.Slow)
		}
		return
	}
	m := NewMACD(p)
	for i := range history {
		m.Update(history[i])
	}
	c.set(rec, names[0], m.Value())
	c.set(rec, names[1], m.Signal())
	c.set(rec, names[2], m.Hist())
}

func (c *Calculator) insufficient(pair, name string, have, need int) {
	c.log.Debug("indicator skipped: insufficient history",
		"pair", pair, "indicator", name, "len", have, "need", need)
	c.skip(name)
}

// set stores v under name; non-finite values stay absent.
func (c *Calculator) set(rec *model.IndicatorRecord, name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		c.log.Debug("indicator skipped: non-finite result",
			"pair", rec.Pair, "indicator", name)
		c.skip(name)
		return
	}
	rec.Indicators[name] = &v
}

func (c *Calculator) skip(name string) {
	if c.OnSkip != nil {
		c.OnSkip(name)
	}
}
