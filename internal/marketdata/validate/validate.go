// Package validate checks candle invariants and advisory trade bounds.
// Neither check is blocking: callers log the returned error and keep going.
package validate

import (
	"fmt"
	"math"
	"strings"
	"time"

	"candlestream/internal/model"
)

// Advisory trade bounds.
const (
	MaxPrice    = 1e7
	MaxQuantity = 1e9
	MaxAge      = 24 * time.Hour
	MaxSkew     = 60 * time.Second
)

// Error lists every invariant a candle or trade violated.
type Error struct {
	Subject    string // "candle" or "trade"
	Key        string // pair and window/time the record belongs to
	Violations []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s invalid: %s", e.Subject, e.Key, strings.Join(e.Violations, "; "))
}

func (e *Error) add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

func (e *Error) orNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Candle returns nil when c satisfies the OHLCV invariants, or an *Error
// listing all violations otherwise.
func Candle(c model.Candle) error {
	e := &Error{
		Subject: "candle",
		Key:     c.Pair + "@" + model.Itoa(int(c.WindowStartMs)),
	}

	for _, f := range []struct {
		name string
		v    float64
	}{{"open", c.Open}, {"high", c.High}, {"low", c.Low}, {"close", c.Close}, {"volume", c.Volume}} {
		if !finite(f.v) {
			e.add("%s is not finite", f.name)
		}
	}
	if len(e.Violations) > 0 {
		return e
	}

	if c.Open <= 0 {
		e.add("open %v <= 0", c.Open)
	}
	if c.High <= 0 {
		e.add("high %v <= 0", c.High)
	}
	if c.Low <= 0 {
		e.add("low %v <= 0", c.Low)
	}
	if c.Close <= 0 {
		e.add("close %v <= 0", c.Close)
	}
	if c.Volume < 0 {
		e.add("volume %v < 0", c.Volume)
	}
	if c.High < c.Low {
		e.add("high %v < low %v", c.High, c.Low)
	}
	if c.Open < c.Low || c.Open > c.High {
		e.add("open %v outside [%v, %v]", c.Open, c.Low, c.High)
	}
	if c.Close < c.Low || c.Close > c.High {
		e.add("close %v outside [%v, %v]", c.Close, c.Low, c.High)
	}
	if c.WindowEndMs <= c.WindowStartMs {
		e.add("window end %d <= start %d", c.WindowEndMs, c.WindowStartMs)
	}
	if c.CandleSeconds <= 0 {
		e.add("candle_seconds %d <= 0", c.CandleSeconds)
	}
	return e.orNil()
}

// Trade runs the advisory trade checks against the clock now.
func Trade(t model.Trade, now time.Time) error {
	e := &Error{
		Subject: "trade",
		Key:     t.Pair + "@" + model.Itoa(int(t.EventTimeMs)),
	}

	if strings.TrimSpace(t.Pair) == "" {
		e.add("pair is empty")
	}
	switch {
	case !finite(t.Price):
		e.add("price is not finite")
	case t.Price <= 0:
		e.add("price %v <= 0", t.Price)
	case t.Price > MaxPrice:
		e.add("price %v > %v", t.Price, MaxPrice)
	}
	switch {
	case !finite(t.Quantity):
		e.add("quantity is not finite")
	case t.Quantity < 0:
		e.add("quantity %v < 0", t.Quantity)
	case t.Quantity > MaxQuantity:
		e.add("quantity %v > %v", t.Quantity, MaxQuantity)
	}

	ts := time.UnixMilli(t.EventTimeMs)
	if ts.Before(now.Add(-MaxAge)) {
		e.add("event time %s older than %s", ts.UTC().Format(time.RFC3339), MaxAge)
	}
	if ts.After(now.Add(MaxSkew)) {
		e.add("event time %s more than %s in the future", ts.UTC().Format(time.RFC3339), MaxSkew)
	}
	return e.orNil()
}
