package indicator

import "candlestream/internal/model"

// EMA calculates Exponential Moving Average.
// The first value is the SMA of the first period closes; after that
// EMA = price*k + prev*(1-k) with k = 2/(period+1).
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return KeyEMA(e.period) }

func (e *EMA) Update(candle model.Candle) {
	e.UpdateValue(candle.Close)
}

// UpdateValue feeds a raw value instead of a candle close.
func (e *EMA) UpdateValue(price float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }
