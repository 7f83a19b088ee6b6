// Package indicator computes technical indicators over a pair's candle history.
//
// Every indicator implements the Indicator interface and is fed closes (and
// volumes) in ascending window order. The Calculator rebuilds the configured
// set from the bounded history on every call, so indicator instances never
// outlive a single Compute.
package indicator

import "candlestream/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator key (e.g., "sma_14", "rsi_7").
	Name() string

	// Update feeds the next candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
