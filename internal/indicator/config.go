package indicator

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"candlestream/internal/model"
)

// Family names an indicator family that can be enabled or disabled.
type Family string

const (
	FamilySMA  Family = "sma"
	FamilyEMA  Family = "ema"
	FamilyRSI  Family = "rsi"
	FamilyMACD Family = "macd"
	FamilyOBV  Family = "obv"
)

// AllFamilies lists every supported family in output order.
var AllFamilies = []Family{FamilySMA, FamilyEMA, FamilyRSI, FamilyMACD, FamilyOBV}

// MACDParams holds one MACD configuration.
type MACDParams struct {
	Fast   int `toml:"fast"`
	Slow   int `toml:"slow"`
	Signal int `toml:"signal"`
}

func (p MACDParams) String() string {
	return strconv.Itoa(p.Fast) + ":" + strconv.Itoa(p.Slow) + ":" + strconv.Itoa(p.Signal)
}

// Config enumerates the enabled families and the periods of each family.
type Config struct {
	Families []Family     `toml:"families"`
	SMA      []int        `toml:"sma_periods"`
	EMA      []int        `toml:"ema_periods"`
	RSI      []int        `toml:"rsi_periods"`
	MACD     []MACDParams `toml:"macd"`
}

// DefaultConfig returns the default indicator set.
func DefaultConfig() Config {
	return Config{
		Families: append([]Family(nil), AllFamilies...),
		SMA:      []int{7, 14, 21, 60},
		EMA:      []int{7, 14, 21, 60},
		RSI:      []int{7, 14, 21, 60},
		MACD:     []MACDParams{{Fast: 7, Slow: 14, Signal: 9}},
	}
}

// Enabled reports whether family f is switched on.
func (c *Config) Enabled(f Family) bool {
	for _, x := range c.Families {
		if x == f {
			return true
		}
	}
	return false
}

// Normalize removes duplicate periods and sorts every period list ascending.
func (c *Config) Normalize() {
	c.SMA = dedupSorted(c.SMA)
	c.EMA = dedupSorted(c.EMA)
	c.RSI = dedupSorted(c.RSI)

	seen := make(map[MACDParams]bool, len(c.MACD))
	macd := make([]MACDParams, 0, len(c.MACD))
	for _, p := range c.MACD {
		if !seen[p] {
			seen[p] = true
			macd = append(macd, p)
		}
	}
	sort.Slice(macd, func(i, j int) bool {
		if macd[i].Fast != macd[j].Fast {
			return macd[i].Fast < macd[j].Fast
		}
		return macd[i].Slow < macd[j].Slow
	})
	c.MACD = macd

	fams := make([]Family, 0, len(c.Families))
	for _, f := range AllFamilies {
		for _, x := range c.Families {
			if x == f {
				fams = append(fams, f)
				break
			}
		}
	}
	// unknown families are kept so Validate can report them
	for _, x := range c.Families {
		if !isKnown(x) {
			fams = append(fams, x)
		}
	}
	c.Families = fams
}

// Validate checks the configuration against maxHistory. Every problem is
// reported; the returned error wraps model.ErrUnknownFamily and/or
// model.ErrInvalidPeriod.
func (c *Config) Validate(maxHistory int) error {
	var errs []error

	for _, f := range c.Families {
		if !isKnown(f) {
			errs = append(errs, fmt.Errorf("%w: %q", model.ErrUnknownFamily, f))
		}
	}

	checkPeriods := func(fam Family, periods []int) {
		if !c.Enabled(fam) {
			return
		}
		if len(periods) == 0 {
			errs = append(errs, fmt.Errorf("%w: %s has no periods", model.ErrInvalidPeriod, fam))
		}
		for _, p := range periods {
			if p < 1 || p > maxHistory {
				errs = append(errs, fmt.Errorf("%w: %s period %d outside [1, %d]", model.ErrInvalidPeriod, fam, p, maxHistory))
			}
		}
	}
	checkPeriods(FamilySMA, c.SMA)
	checkPeriods(FamilyEMA, c.EMA)
	checkPeriods(FamilyRSI, c.RSI)

	if c.Enabled(FamilyMACD) {
		if len(c.MACD) == 0 {
			errs = append(errs, fmt.Errorf("%w: macd has no parameters", model.ErrInvalidPeriod))
		}
		// Exact repeats collapse in Normalize; only distinct sets sharing a
		// fast period collide on the macd_<fast> key.
		seen := make(map[MACDParams]bool, len(c.MACD))
		fasts := make(map[int]bool, len(c.MACD))
		for _, p := range c.MACD {
			if seen[p] {
				continue
			}
			seen[p] = true
			if err := p.Validate(maxHistory); err != nil {
				errs = append(errs, err)
			}
			if fasts[p.Fast] {
				errs = append(errs, fmt.Errorf("%w: macd fast period %d configured twice", model.ErrInvalidPeriod, p.Fast))
			}
			fasts[p.Fast] = true
		}
	}

	return errors.Join(errs...)
}

// Validate checks a single MACD parameter set.
func (p MACDParams) Validate(maxHistory int) error {
	if p.Fast < 1 || p.Slow > maxHistory || p.Fast >= p.Slow || p.Signal < 1 {
		return fmt.Errorf("%w: macd %s needs 1 <= fast < slow <= %d and signal >= 1",
			model.ErrInvalidPeriod, p, maxHistory)
	}
	return nil
}

// Keys returns every indicator key the configuration produces, in output order.
func (c *Config) Keys() []string {
	var keys []string
	if c.Enabled(FamilySMA) {
		for _, p := range c.SMA {
			keys = append(keys, KeySMA(p))
		}
	}
	if c.Enabled(FamilyEMA) {
		for _, p := range c.EMA {
			keys = append(keys, KeyEMA(p))
		}
	}
	if c.Enabled(FamilyRSI) {
		for _, p := range c.RSI {
			keys = append(keys, KeyRSI(p))
		}
	}
	if c.Enabled(FamilyMACD) {
		for _, p := range c.MACD {
			keys = append(keys, KeyMACD(p.Fast), KeyMACDSignal(p.Fast), KeyMACDHist(p.Fast))
		}
	}
	if c.Enabled(FamilyOBV) {
		keys = append(keys, KeyOBV)
	}
	return keys
}

// ── Indicator keys ──

const KeyOBV = "obv"

func KeySMA(p int) string           { return "sma_" + model.Itoa(p) }
func KeyEMA(p int) string           { return "ema_" + model.Itoa(p) }
func KeyRSI(p int) string           { return "rsi_" + model.Itoa(p) }
func KeyMACD(fast int) string       { return "macd_" + model.Itoa(fast) }
func KeyMACDSignal(fast int) string { return "macdsignal_" + model.Itoa(fast) }
func KeyMACDHist(fast int) string   { return "macdhist_" + model.Itoa(fast) }

// ── Parsing ──

// ParsePeriods parses "7,14,21" into a period list. Blank entries are skipped.
func ParsePeriods(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", model.ErrInvalidPeriod, p)
		}
		out = append(out, n)
	}
	return out, nil
}

// ParseMACD parses "fast:slow:signal[,fast:slow:signal...]".
func ParseMACD(s string) ([]MACDParams, error) {
	var out []MACDParams
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: macd %q must be fast:slow:signal", model.ErrInvalidPeriod, part)
		}
		var nums [3]int
		for i, f := range fields {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, fmt.Errorf("%w: macd %q: %v", model.ErrInvalidPeriod, part, err)
			}
			nums[i] = n
		}
		out = append(out, MACDParams{Fast: nums[0], Slow: nums[1], Signal: nums[2]})
	}
	return out, nil
}

// ParseFamilies parses "sma,ema,..." (case-insensitive).
func ParseFamilies(s string) []Family {
	var out []Family
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		out = append(out, Family(part))
	}
	return out
}

func isKnown(f Family) bool {
	for _, x := range AllFamilies {
		if x == f {
			return true
		}
	}
	return false
}

func dedupSorted(in []int) []int {
	if len(in) == 0 {
		return in
	}
	out := append([]int(nil), in...)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
