package indicator

import (
	"errors"
	"math"
	"sync"
	"testing"

	"candlestream/internal/model"
)

func series(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		start := int64(i) * 60_000
		out[i] = model.Candle{
			Pair: "BTC/USD", Open: c, High: c, Low: c, Close: c, Volume: 1,
			WindowStartMs: start, WindowEndMs: start + 60_000, CandleSeconds: 60,
		}
	}
	return out
}

func ramp(n int) []model.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return series(closes...)
}

type skipCounter struct {
	mu    sync.Mutex
	names map[string]int
}

func (s *skipCounter) hook(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names == nil {
		s.names = make(map[string]int)
	}
	s.names[name]++
}

func TestCalculator_SMA14AbsentUntilFourteen(t *testing.T) {
	cfg := Config{Families: []Family{FamilySMA}, SMA: []int{14}}
	calc := NewCalculator(cfg, nil)
	sc := &skipCounter{}
	calc.OnSkip = sc.hook

	rec := calc.Compute(ramp(10))
	if _, ok := rec.Value("sma_14"); ok {
		t.Fatal("sma_14 should be absent with 10 candles")
	}
	if v, present := rec.Indicators["sma_14"]; !present || v != nil {
		t.Fatal("absent indicator must still have a nil entry")
	}
	if sc.names["sma_14"] != 1 {
		t.Errorf("expected one skip, got %d", sc.names["sma_14"])
	}

	hist := ramp(14)
	rec = calc.Compute(hist)
	v, ok := rec.Value("sma_14")
	if !ok {
		t.Fatal("sma_14 should be present with 14 candles")
	}
	sum := 0.0
	for _, c := range hist {
		sum += c.Close
	}
	assertClose(t, "sma_14", v, sum/14, 1e-9)
}

func TestCalculator_SMAUsesMostRecentCloses(t *testing.T) {
	calc := NewCalculator(Config{Families: []Family{FamilySMA}, SMA: []int{3}}, nil)
	rec := calc.Compute(series(1, 2, 3, 10, 20, 30))
	v, ok := rec.Value("sma_3")
	if !ok {
		t.Fatal("expected sma_3")
	}
	assertClose(t, "sma_3", v, 20, 1e-9)
}

func TestCalculator_ShortHistoryAllAbsent(t *testing.T) {
	calc := NewCalculator(DefaultConfig(), nil)
	sc := &skipCounter{}
	calc.OnSkip = sc.hook

	rec := calc.Compute(series(100))
	if len(rec.Indicators) != len(calc.Keys()) {
		t.Fatalf("expected %d keys, got %d", len(calc.Keys()), len(rec.Indicators))
	}
	for k, v := range rec.Indicators {
		if v != nil {
			t.Errorf("%s should be absent for a single candle", k)
		}
	}
	if rec.Close != 100 || rec.Pair != "BTC/USD" {
		t.Errorf("record must carry the candle fields, got %+v", rec.Candle)
	}
	if len(sc.names) != len(calc.Keys()) {
		t.Errorf("expected a skip per key, got %d", len(sc.names))
	}
}

func TestCalculator_MinimumHistoryPerIndicator(t *testing.T) {
	cfg := Config{
		Families: AllFamilies,
		SMA:      []int{5},
		EMA:      []int{5},
		RSI:      []int{5},
		MACD:     []MACDParams{{Fast: 3, Slow: 6, Signal: 4}},
	}
	calc := NewCalculator(cfg, nil)

	for n := 1; n <= 8; n++ {
		rec := calc.Compute(series(func() []float64 {
			// alternate up and down so RSI is finite
			out := make([]float64, n)
			for i := range out {
				out[i] = 100 + float64(i%2)*3 + float64(i)
			}
			return out
		}()...))

		for _, key := range []string{"sma_5", "ema_5", "rsi_5"} {
			v, ok := rec.Value(key)
			want := n >= 5
			if ok != want {
				t.Errorf("n=%d %s present=%v, want %v", n, key, ok, want)
			}
			if ok && (math.IsNaN(v) || math.IsInf(v, 0)) {
				t.Errorf("n=%d %s not finite", n, key)
			}
		}
		for _, key := range []string{"macd_3", "macdsignal_3", "macdhist_3"} {
			if _, ok := rec.Value(key); ok != (n >= 6) {
				t.Errorf("n=%d %s present=%v, want %v", n, key, ok, n >= 6)
			}
		}
		if _, ok := rec.Value("obv"); ok != (n >= 2) {
			t.Errorf("n=%d obv present=%v", n, ok)
		}
	}
}

func TestCalculator_NonFiniteIsAbsent(t *testing.T) {
	calc := NewCalculator(Config{Families: []Family{FamilyRSI}, RSI: []int{3}}, nil)
	sc := &skipCounter{}
	calc.OnSkip = sc.hook

	rec := calc.Compute(series(100, 100, 100, 100))
	if _, ok := rec.Value("rsi_3"); ok {
		t.Fatal("rsi on a flat series should be absent")
	}
	if sc.names["rsi_3"] != 1 {
		t.Errorf("expected rsi_3 skip, got %v", sc.names)
	}
}

func TestCalculator_DisabledFamilyHasNoKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Families = []Family{FamilyEMA, FamilyOBV}
	calc := NewCalculator(cfg, nil)

	rec := calc.Compute(ramp(70))
	for k := range rec.Indicators {
		if k != "obv" && k[:4] != "ema_" {
			t.Errorf("unexpected key %s", k)
		}
	}
	if v, ok := rec.Value("obv"); !ok || v != 70 {
		t.Errorf("obv on rising ramp of unit volume: got %v ok=%v, want 70", v, ok)
	}
}

func TestCalculator_EmptyHistory(t *testing.T) {
	calc := NewCalculator(DefaultConfig(), nil)
	rec := calc.Compute(nil)
	if len(rec.Indicators) != len(calc.Keys()) {
		t.Fatalf("expected %d nil keys", len(calc.Keys()))
	}
}

// ────────────────────────────────────────────────────────────
// Config
// ────────────────────────────────────────────────────────────

func TestConfig_NormalizeDedupsAndSorts(t *testing.T) {
	cfg := Config{
		Families: []Family{FamilyOBV, FamilySMA, FamilySMA},
		SMA:      []int{21, 7, 14, 7},
		MACD:     []MACDParams{{12, 26, 9}, {7, 14, 9}, {12, 26, 9}},
	}
	cfg.Normalize()

	want := []int{7, 14, 21}
	if len(cfg.SMA) != len(want) {
		t.Fatalf("SMA=%v, want %v", cfg.SMA, want)
	}
	for i := range want {
		if cfg.SMA[i] != want[i] {
			t.Fatalf("SMA=%v, want %v", cfg.SMA, want)
		}
	}
	if len(cfg.MACD) != 2 || cfg.MACD[0].Fast != 7 {
		t.Errorf("MACD=%v", cfg.MACD)
	}
	if len(cfg.Families) != 2 || cfg.Families[0] != FamilySMA || cfg.Families[1] != FamilyOBV {
		t.Errorf("Families=%v", cfg.Families)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(70); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	bad := DefaultConfig()
	bad.SMA = []int{0, 80}
	if err := bad.Validate(70); !errors.Is(err, model.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}

	bad = DefaultConfig()
	bad.Families = append(bad.Families, "bollinger")
	if err := bad.Validate(70); !errors.Is(err, model.ErrUnknownFamily) {
		t.Errorf("expected ErrUnknownFamily, got %v", err)
	}

	bad = DefaultConfig()
	bad.MACD = []MACDParams{{Fast: 14, Slow: 7, Signal: 9}}
	if err := bad.Validate(70); !errors.Is(err, model.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod for fast >= slow, got %v", err)
	}

	// Periods of a disabled family are not checked.
	off := DefaultConfig()
	off.Families = []Family{FamilyOBV}
	off.RSI = []int{500}
	if err := off.Validate(70); err != nil {
		t.Errorf("disabled family should not be validated: %v", err)
	}
}

func TestConfig_NormalizeLeavesCallerSlices(t *testing.T) {
	macd := []MACDParams{{12, 26, 9}, {7, 14, 9}, {12, 26, 9}}
	orig := append([]MACDParams(nil), macd...)
	sma := []int{21, 7, 7}

	NewCalculator(Config{Families: AllFamilies, SMA: sma, EMA: []int{7}, RSI: []int{7}, MACD: macd}, nil)

	for i := range orig {
		if macd[i] != orig[i] {
			t.Fatalf("caller MACD slice modified: %v, want %v", macd, orig)
		}
	}
	if sma[0] != 21 || sma[1] != 7 || sma[2] != 7 {
		t.Errorf("caller SMA slice modified: %v", sma)
	}
}

func TestConfig_ValidateMACDDuplicates(t *testing.T) {
	macd, err := ParseMACD("7:14:9,7:14:9")
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{Families: []Family{FamilyMACD}, MACD: macd}
	if err := cfg.Validate(70); err != nil {
		t.Fatalf("exact duplicate should be accepted: %v", err)
	}
	cfg.Normalize()
	if len(cfg.MACD) != 1 || cfg.MACD[0] != (MACDParams{7, 14, 9}) {
		t.Errorf("MACD=%v, want one 7:14:9 entry", cfg.MACD)
	}

	macd, err = ParseMACD("7:14:9,7:20:9")
	if err != nil {
		t.Fatal(err)
	}
	cfg = Config{Families: []Family{FamilyMACD}, MACD: macd}
	if err := cfg.Validate(70); !errors.Is(err, model.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod for a shared fast period, got %v", err)
	}
}

func TestParsers(t *testing.T) {
	periods, err := ParsePeriods(" 7, 14,,21 ")
	if err != nil || len(periods) != 3 || periods[2] != 21 {
		t.Fatalf("ParsePeriods: %v %v", periods, err)
	}
	if _, err := ParsePeriods("7,x"); !errors.Is(err, model.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}

	macd, err := ParseMACD("7:14:9, 12:26:9")
	if err != nil || len(macd) != 2 || macd[1] != (MACDParams{12, 26, 9}) {
		t.Fatalf("ParseMACD: %v %v", macd, err)
	}
	if _, err := ParseMACD("7:14"); err == nil {
		t.Error("expected error for two-part MACD")
	}

	fams := ParseFamilies("SMA, ema")
	if len(fams) != 2 || fams[0] != FamilySMA || fams[1] != FamilyEMA {
		t.Errorf("ParseFamilies: %v", fams)
	}
}

func TestConfig_Keys(t *testing.T) {
	cfg := Config{
		Families: AllFamilies,
		SMA:      []int{7},
		EMA:      []int{14},
		RSI:      []int{21},
		MACD:     []MACDParams{{7, 14, 9}},
	}
	want := []string{"sma_7", "ema_14", "rsi_21", "macd_7", "macdsignal_7", "macdhist_7", "obv"}
	got := cfg.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys[%d]=%s, want %s", i, got[i], want[i])
		}
	}
}
