package indicator

import (
	"math"

	"candlestream/internal/model"
)

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
//
// Average gain and loss are seeded with the mean of the first min(period, n-1)
// close-to-close deltas and smoothed with Wilder's recurrence afterwards.
// When both averages are zero the ratio is undefined and Value returns NaN.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   *smma
	avgLoss   *smma
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		period:  period,
		avgGain: newSMMA(period),
		avgLoss: newSMMA(period),
	}
}

func (r *RSI) Name() string { return KeyRSI(r.period) }

func (r *RSI) Update(candle model.Candle) {
	price := candle.Close
	r.count++

	if r.count == 1 {
		// First candle: just record price, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.avgGain.update(gain)
	r.avgLoss.update(loss)
}

func (r *RSI) Value() float64 {
	if r.count < 2 {
		return math.NaN()
	}
	gain, loss := r.avgGain.value(), r.avgLoss.value()
	if loss == 0 {
		if gain == 0 {
			return math.NaN() // flat series
		}
		return 100.0
	}
	rs := gain / loss
	return 100.0 - (100.0 / (1.0 + rs))
}

// Ready reports whether period candles have been seen.
func (r *RSI) Ready() bool { return r.count >= r.period && r.count >= 2 }
