// Package sim generates random-walk trades for offline runs and demos.
package sim

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"candlestream/internal/model"
)

// Instrument holds per-pair simulation state.
type Instrument struct {
	Pair  string
	Price float64 // current simulated price
}

// Config holds configuration for the generator.
type Config struct {
	Instruments []Instrument

	// Interval between trade bursts (one trade per instrument). Defaults to 100ms.
	Interval time.Duration

	// MaxQuantity bounds the random trade size. Defaults to 1.
	MaxQuantity float64

	// Seed for the random source. 0 seeds from the clock.
	Seed int64
}

// Generator produces trades with a tiny random walk (±0.1%) per instrument.
type Generator struct {
	cfg Config
	rng *rand.Rand
	now func() time.Time
}

// New creates a Generator.
func New(cfg Config) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	inst := make([]Instrument, len(cfg.Instruments))
	copy(inst, cfg.Instruments)
	cfg.Instruments = inst

	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func (g *Generator) walkPrice(price float64) float64 {
	pct := (g.rng.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.0001 {
		next = 0.0001
	}
	return next
}

// Next advances every instrument by one step and returns one trade per pair.
func (g *Generator) Next() []model.Trade {
	ts := g.now().UnixMilli()
	out := make([]model.Trade, len(g.cfg.Instruments))
	for i := range g.cfg.Instruments {
		in := &g.cfg.Instruments[i]
		in.Price = g.walkPrice(in.Price)
		out[i] = model.Trade{
			Pair:        in.Pair,
			Price:       in.Price,
			Quantity:    g.rng.Float64() * g.cfg.MaxQuantity,
			EventTimeMs: ts,
		}
	}
	return out
}

// Start emits a burst of trades every Interval until ctx is cancelled.
func (g *Generator) Start(ctx context.Context, out chan<- model.Trade) error {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, t := range g.Next() {
				select {
				case out <- t:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// defaultPrices are the starting prices of well-known pairs.
var defaultPrices = map[string]float64{
	"BTC/USD": 64000,
	"ETH/USD": 3200,
	"SOL/USD": 140,
	"XRP/USD": 0.55,
}

// ParseInstruments parses "PAIR[:PRICE],..." into instruments. Pairs without
// an explicit price start from a known default or 100.
func ParseInstruments(s string) []Instrument {
	var result []Instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair, priceStr, hasPrice := strings.Cut(part, ":")
		pair = strings.TrimSpace(pair)

		price := defaultPrices[pair]
		if hasPrice {
			if p, err := strconv.ParseFloat(strings.TrimSpace(priceStr), 64); err == nil && p > 0 {
				price = p
			}
		}
		if price == 0 {
			price = 100
		}
		result = append(result, Instrument{Pair: pair, Price: price})
	}
	return result
}
