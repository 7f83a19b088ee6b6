package indicator

import (
	"math"
	"testing"

	"candlestream/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{
		Pair: "TEST",
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close, Volume: 1,
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102.0000
	// SMA after candle 4: (102+104+103)/3 = 103.0000
	// SMA after candle 5: (104+103+105)/3 = 104.0000

	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(candle(p))
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_Correctness_Period5(t *testing.T) {
	sma := NewSMA(5)
	prices := []float64{10, 11, 12, 13, 14, 15, 16}
	expected := []float64{0, 0, 0, 0, 12.0, 13.0, 14.0}

	for i, p := range prices {
		sma.Update(candle(p))
		if i >= 4 {
			assertClose(t, "SMA(5)", sma.Value(), expected[i], 0.0001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Candle 3: seed = (100+102+104)/3 = 102.0
	// Candle 4: EMA = 103*0.5 + 102.0*0.5 = 102.5
	// Candle 5: EMA = 105*0.5 + 102.5*0.5 = 103.75

	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(candle(p))
		if ema.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

func TestEMA_Correctness_Period5(t *testing.T) {
	mult := 2.0 / 6.0
	prices := []float64{44, 44.25, 44.50, 43.75, 44.50, 44.25, 44.00}
	seedExpected := (44.0 + 44.25 + 44.50 + 43.75 + 44.50) / 5.0

	ema := NewEMA(5)
	for _, p := range prices[:5] {
		ema.Update(candle(p))
	}
	assertClose(t, "EMA(5) seed", ema.Value(), seedExpected, 1e-9)

	ema.Update(candle(prices[5]))
	expected6 := 44.25*mult + seedExpected*(1-mult)
	assertClose(t, "EMA(5) candle 6", ema.Value(), expected6, 1e-9)

	ema.Update(candle(prices[6]))
	expected7 := 44.00*mult + expected6*(1-mult)
	assertClose(t, "EMA(5) candle 7", ema.Value(), expected7, 1e-9)
}

// ────────────────────────────────────────────────────────────
// SMMA (Wilder's Smoothing)
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Candles 1-3: running mean, seed = (100+102+104)/3 = 102.0
	// Candle 4: SMMA = (102.0 * 2 + 103) / 3 = 102.3333
	// Candle 5: SMMA = (102.3333 * 2 + 105) / 3 = 103.2222

	s := newSMMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{100, 101, 102.0, 102.3333, 103.2222}

	for i, p := range prices {
		s.update(p)
		assertClose(t, "SMMA(3)", s.value(), expected[i], 0.001)
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// Deltas: +0.34, -0.25, -0.48, +0.72, +0.50
	// After 6 candles: avgGain = 1.56/5 = 0.312, avgLoss = 0.73/5 = 0.146
	//   RSI = 100 - 100/(1+2.13699) = 68.122
	// Candle 7 (+0.27): avgGain 0.3036, avgLoss 0.1168 → RSI 72.219
	// Candle 8 (+0.32): avgGain 0.30688, avgLoss 0.09344 → RSI 76.658
	// Candle 9 (+0.42): avgGain 0.329504, avgLoss 0.074752 → RSI 81.509

	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(candle(prices[i]))
	}
	assertClose(t, "RSI(5) candle 6", rsi.Value(), 68.122, 0.01)

	rsi.Update(candle(prices[6]))
	assertClose(t, "RSI(5) candle 7", rsi.Value(), 72.219, 0.01)

	rsi.Update(candle(prices[7]))
	assertClose(t, "RSI(5) candle 8", rsi.Value(), 76.658, 0.01)

	rsi.Update(candle(prices[8]))
	assertClose(t, "RSI(5) candle 9", rsi.Value(), 81.509, 0.01)
}

func TestRSI_ShortSeedUsesAvailableDeltas(t *testing.T) {
	// period=5 with exactly 5 candles → 4 deltas
	// avgGain = (0.34+0.72)/4 = 0.265, avgLoss = (0.25+0.48)/4 = 0.1825
	// RSI = 100 - 100/(1+1.452055) = 59.218
	rsi := NewRSI(5)
	for _, p := range []float64{44, 44.34, 44.09, 43.61, 44.33} {
		rsi.Update(candle(p))
	}
	if !rsi.Ready() {
		t.Fatal("expected RSI(5) ready after 5 candles")
	}
	assertClose(t, "RSI(5) short seed", rsi.Value(), 59.218, 0.01)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(100 + float64(i)))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100.0, 0.001)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(200 - float64(i)))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

func TestRSI_Flat_IsNaN(t *testing.T) {
	// Both averages are zero: the ratio is undefined.
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(100))
	}
	if !math.IsNaN(rsi.Value()) {
		t.Errorf("expected NaN for flat series, got %v", rsi.Value())
	}
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_MatchesEMADifference(t *testing.T) {
	p := MACDParams{Fast: 3, Slow: 5, Signal: 2}
	m := NewMACD(p)
	fast, slow := NewEMA(3), NewEMA(5)

	prices := []float64{10, 11, 12, 11, 13, 14, 12, 15}
	k := 2.0 / 3.0
	var signal float64
	seeded := false

	for i, price := range prices {
		c := candle(price)
		m.Update(c)
		fast.Update(c)
		slow.Update(c)

		if i < 4 {
			if m.Ready() {
				t.Fatalf("candle %d: MACD ready before slow period", i)
			}
			continue
		}
		line := fast.Value() - slow.Value()
		if !seeded {
			signal = line
			seeded = true
		} else {
			signal = line*k + signal*(1-k)
		}
		assertClose(t, "MACD line", m.Value(), line, 1e-9)
		assertClose(t, "MACD signal", m.Signal(), signal, 1e-9)
		assertClose(t, "MACD hist", m.Hist(), line-signal, 1e-9)
	}
}

func TestMACD_FirstSignalEqualsLine(t *testing.T) {
	m := NewMACD(MACDParams{Fast: 2, Slow: 3, Signal: 9})
	for _, p := range []float64{1, 2, 3} {
		m.Update(candle(p))
	}
	// fast EMA(2): seed 1.5, then 3*(2/3)+1.5/3 = 2.5; slow EMA(3) seed = 2
	assertClose(t, "MACD line", m.Value(), 0.5, 1e-9)
	assertClose(t, "MACD hist", m.Hist(), 0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// OBV
// ────────────────────────────────────────────────────────────

func TestOBV_Direction(t *testing.T) {
	o := NewOBV()
	bars := []struct{ close, vol, want float64 }{
		{10, 5, 5},   // seed
		{11, 3, 8},   // up
		{11, 7, 8},   // flat
		{9, 4, 4},    // down
		{12, 10, 14}, // up
	}
	for i, b := range bars {
		o.Update(model.Candle{Close: b.close, Volume: b.vol})
		assertClose(t, "OBV", o.Value(), b.want, 1e-9)
		if (i >= 1) != o.Ready() {
			t.Errorf("bar %d: Ready()=%v", i, o.Ready())
		}
	}
}

// ────────────────────────────────────────────────────────────
// Cross-indicator: same data → correct ordering
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	sma5 := NewSMA(5)
	sma20 := NewSMA(20)
	ema5 := NewEMA(5)

	for i := 0; i < 30; i++ {
		c := candle(100 + float64(i)) // steadily rising
		sma5.Update(c)
		sma20.Update(c)
		ema5.Update(c)
	}

	if sma5.Value() <= sma20.Value() {
		t.Errorf("SMA(5) should be > SMA(20) in uptrend: SMA5=%.2f, SMA20=%.2f", sma5.Value(), sma20.Value())
	}
	if ema5.Value() <= sma20.Value() {
		t.Errorf("EMA(5) should be > SMA(20) in uptrend: EMA5=%.2f, SMA20=%.2f", ema5.Value(), sma20.Value())
	}
}

func TestEMA_MoreResponsiveThanSMA(t *testing.T) {
	sma := NewSMA(10)
	ema := NewEMA(10)

	for i := 0; i < 20; i++ {
		c := candle(100)
		sma.Update(c)
		ema.Update(c)
	}

	c := candle(120)
	sma.Update(c)
	ema.Update(c)

	if ema.Value() <= sma.Value() {
		t.Errorf("EMA should react more than SMA to sudden price jump: EMA=%.4f, SMA=%.4f", ema.Value(), sma.Value())
	}
}
