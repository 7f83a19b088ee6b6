package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"candlestream/internal/indicator"
	"candlestream/internal/model"
)

type fakeSeeder struct {
	mu    sync.Mutex
	calls map[string]int
	data  map[string][]model.Candle
	err   error
}

func (f *fakeSeeder) ReadRecentCandles(pair string, candleSeconds, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[pair]++
	if f.err != nil {
		return nil, f.err
	}
	return f.data[pair], nil
}

func (f *fakeSeeder) Pairs(int) ([]string, error) { return nil, nil }

func collect(t *testing.T, ch <-chan model.IndicatorRecord) []model.IndicatorRecord {
	t.Helper()
	var out []model.IndicatorRecord
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatal("timed out waiting for pipeline output to close")
		}
	}
}

func TestPipeline_PerPairOrdering(t *testing.T) {
	calc := indicator.NewCalculator(indicator.DefaultConfig(), nil)
	pl := NewPipeline(Settings{CandleSeconds: 60, MaxHistory: 70}, calc, nil, nil, 4, 1024)

	trades := make(chan model.Trade, 256)
	pairs := []string{"BTC/USD", "ETH/USD", "SOL/USD"}
	const perPair = 50
	for i := 0; i < perPair; i++ {
		for _, pair := range pairs {
			trades <- model.Trade{Pair: pair, Price: 100 + float64(i), Quantity: 1, EventTimeMs: t0 + int64(i)*500}
		}
	}
	close(trades)

	done := make(chan error, 1)
	go func() { done <- pl.Run(context.Background(), trades) }()

	records := collect(t, pl.Records())
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(records) != perPair*len(pairs) {
		t.Fatalf("expected %d records, got %d", perPair*len(pairs), len(records))
	}

	// Within a pair, volume grows by one per record: order was preserved.
	lastVol := make(map[string]float64)
	for _, r := range records {
		if r.Volume != lastVol[r.Pair]+1 {
			t.Fatalf("%s: volume jumped from %v to %v", r.Pair, lastVol[r.Pair], r.Volume)
		}
		lastVol[r.Pair] = r.Volume
	}
	for _, pair := range pairs {
		if lastVol[pair] != perPair {
			t.Errorf("%s: final volume %v, want %d", pair, lastVol[pair], perPair)
		}
	}
}

func TestPipeline_SeedsNewPairsOnce(t *testing.T) {
	calc := indicator.NewCalculator(smaOnly(2), nil)
	pl := NewPipeline(Settings{CandleSeconds: 60, MaxHistory: 10}, calc, nil, nil, 4, 16)
	seeder := &fakeSeeder{data: map[string][]model.Candle{
		"BTC/USD": {{
			Pair: "BTC/USD", Open: 10, High: 10, Low: 10, Close: 10, Volume: 1,
			WindowStartMs: t0 - 60_000, WindowEndMs: t0, CandleSeconds: 60,
		}},
	}}
	pl.Seeder = seeder

	trades := make(chan model.Trade, 4)
	trades <- model.Trade{Pair: "BTC/USD", Price: 20, Quantity: 1, EventTimeMs: t0}
	trades <- model.Trade{Pair: "BTC/USD", Price: 20, Quantity: 1, EventTimeMs: t0 + 1}
	trades <- model.Trade{Pair: "ETH/USD", Price: 5, Quantity: 1, EventTimeMs: t0}
	close(trades)

	go pl.Run(context.Background(), trades)
	records := collect(t, pl.Records())
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	for _, r := range records {
		if r.Pair != "BTC/USD" {
			continue
		}
		if v, ok := r.Value("sma_2"); !ok || v != 15 {
			t.Errorf("sma_2 with seeded history = %v ok=%v, want 15", v, ok)
		}
	}
	seeder.mu.Lock()
	defer seeder.mu.Unlock()
	if seeder.calls["BTC/USD"] != 1 || seeder.calls["ETH/USD"] != 1 {
		t.Errorf("expected one seed read per pair, got %v", seeder.calls)
	}
}

func TestPipeline_SeedErrorIsNotFatal(t *testing.T) {
	calc := indicator.NewCalculator(smaOnly(2), nil)
	pl := NewPipeline(Settings{CandleSeconds: 60, MaxHistory: 10}, calc, nil, nil, 4, 16)
	pl.Seeder = &fakeSeeder{err: errors.New("disk gone")}

	trades := make(chan model.Trade, 1)
	trades <- model.Trade{Pair: "BTC/USD", Price: 1, Quantity: 1, EventTimeMs: t0}
	close(trades)

	go pl.Run(context.Background(), trades)
	if got := len(collect(t, pl.Records())); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
}

func TestPipeline_CancelStops(t *testing.T) {
	calc := indicator.NewCalculator(smaOnly(2), nil)
	pl := NewPipeline(Settings{CandleSeconds: 60, MaxHistory: 10}, calc, nil, nil, 4, 0)

	ctx, cancel := context.WithCancel(context.Background())
	trades := make(chan model.Trade) // never closed

	done := make(chan error, 1)
	go func() { done <- pl.Run(ctx, trades) }()

	trades <- model.Trade{Pair: "BTC/USD", Price: 1, Quantity: 1, EventTimeMs: t0}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	// Output is closed once Run returns.
	for range pl.Records() {
	}
}

func TestPipeline_RunCandles(t *testing.T) {
	calc := indicator.NewCalculator(smaOnly(2), nil)
	pl := NewPipeline(Settings{CandleSeconds: 60, MaxHistory: 10}, calc, nil, nil, 4, 16)

	candles := make(chan model.Candle, 3)
	for i, px := range []float64{4, 6} {
		start := t0 + int64(i)*60_000
		candles <- model.Candle{
			Pair: "BTC/USD", Open: px, High: px, Low: px, Close: px, Volume: 1,
			WindowStartMs: start, WindowEndMs: start + 60_000, CandleSeconds: 60,
		}
	}
	candles <- model.Candle{Pair: "BTC/USD", CandleSeconds: 300} // ignored
	close(candles)

	go pl.RunCandles(context.Background(), candles)
	records := collect(t, pl.Records())
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if v, ok := records[1].Value("sma_2"); !ok || v != 5 {
		t.Errorf("sma_2 = %v ok=%v, want 5", v, ok)
	}
}
