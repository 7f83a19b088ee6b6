package indicator

import "candlestream/internal/model"

// OBV is On-Balance Volume: starting from the first candle's volume, add
// the volume on an up close and subtract it on a down close.
type OBV struct {
	count     int
	prevClose float64
	current   float64
}

// NewOBV creates a new OBV indicator.
func NewOBV() *OBV { return &OBV{} }

func (o *OBV) Name() string { return KeyOBV }

func (o *OBV) Update(candle model.Candle) {
	o.count++
	if o.count == 1 {
		o.current = candle.Volume
		o.prevClose = candle.Close
		return
	}

	switch {
	case candle.Close > o.prevClose:
		o.current += candle.Volume
	case candle.Close < o.prevClose:
		o.current -= candle.Volume
	}
	o.prevClose = candle.Close
}

func (o *OBV) Value() float64 { return o.current }

// Ready reports whether at least one close-to-close move has been seen.
func (o *OBV) Ready() bool { return o.count >= 2 }
