package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"candlestream/internal/model"
)

func TestGenerator_WalkStaysClose(t *testing.T) {
	g := New(Config{Instruments: []Instrument{{Pair: "BTC/USD", Price: 100}}, Seed: 42, MaxQuantity: 2})

	prev := 100.0
	for i := 0; i < 1000; i++ {
		trades := g.Next()
		if len(trades) != 1 {
			t.Fatalf("expected one trade per instrument, got %d", len(trades))
		}
		tr := trades[0]
		if math.Abs(tr.Price-prev)/prev > 0.001+1e-12 {
			t.Fatalf("step %d moved more than 0.1%%: %v -> %v", i, prev, tr.Price)
		}
		if tr.Quantity < 0 || tr.Quantity > 2 {
			t.Fatalf("quantity %v out of range", tr.Quantity)
		}
		prev = tr.Price
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	cfg := Config{Instruments: []Instrument{{Pair: "ETH/USD", Price: 10}}, Seed: 7}
	a, b := New(cfg), New(cfg)
	fixed := func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	a.now, b.now = fixed, fixed

	for i := 0; i < 10; i++ {
		if a.Next()[0] != b.Next()[0] {
			t.Fatal("same seed should give the same trades")
		}
	}
	if cfg.Instruments[0].Price != 10 {
		t.Error("generator must not mutate the caller's instruments")
	}
}

func TestGenerator_Start(t *testing.T) {
	g := New(Config{
		Instruments: []Instrument{{Pair: "A", Price: 1}, {Pair: "B", Price: 2}},
		Interval:    time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Trade, 16)
	done := make(chan error, 1)
	go func() { done <- g.Start(ctx, out) }()

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case tr := <-out:
			seen[tr.Pair] = true
		case <-time.After(5 * time.Second):
			t.Fatal("no trades generated")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v", err)
	}
}

func TestParseInstruments(t *testing.T) {
	got := ParseInstruments("BTC/USD, DOGE/USD:0.15, FOO/BAR:bad,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 instruments, got %d", len(got))
	}
	if got[0].Price != 64000 {
		t.Errorf("BTC/USD default price = %v", got[0].Price)
	}
	if got[1].Pair != "DOGE/USD" || got[1].Price != 0.15 {
		t.Errorf("unexpected %+v", got[1])
	}
	if got[2].Price != 100 {
		t.Errorf("fallback price = %v, want 100", got[2].Price)
	}
}
