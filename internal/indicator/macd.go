package indicator

import "candlestream/internal/model"

// MACD is EMA(fast) - EMA(slow) of the closes, plus a signal line (an EMA
// of the MACD line seeded with its first value) and the histogram.
type MACD struct {
	params MACDParams
	fast   *EMA
	slow   *EMA

	signalK   float64
	signal    float64
	hasSignal bool
	line      float64
}

// NewMACD creates a MACD indicator. p must satisfy p.Validate().
func NewMACD(p MACDParams) *MACD {
	return &MACD{
		params:  p,
		fast:    NewEMA(p.Fast),
		slow:    NewEMA(p.Slow),
		signalK: 2.0 / float64(p.Signal+1),
	}
}

func (m *MACD) Name() string { return KeyMACD(m.params.Fast) }

func (m *MACD) Update(candle model.Candle) {
	m.fast.Update(candle)
	m.slow.Update(candle)
	if !m.slow.Ready() {
		return
	}

	m.line = m.fast.Value() - m.slow.Value()
	if !m.hasSignal {
		m.signal = m.line
		m.hasSignal = true
		return
	}
	m.signal = m.line*m.signalK + m.signal*(1-m.signalK)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }

// Signal returns the signal line.
func (m *MACD) Signal() float64 { return m.signal }

// Hist returns MACD minus signal.
func (m *MACD) Hist() float64 { return m.line - m.signal }

func (m *MACD) Ready() bool { return m.slow.Ready() }
