package indicator

import (
	"candlestream/internal/model"
	"candlestream/internal/ringbuf"
)

// SMA calculates Simple Moving Average over a rolling window.
// The window is a preallocated ring; the running sum drops the evicted close.
type SMA struct {
	period  int
	buf     *ringbuf.Ring[float64]
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    ringbuf.New[float64](period),
	}
}

func (s *SMA) Name() string { return KeySMA(s.period) }

func (s *SMA) Update(candle model.Candle) {
	s.UpdateValue(candle.Close)
}

// UpdateValue feeds a raw value instead of a candle close.
func (s *SMA) UpdateValue(v float64) {
	if old, evicted := s.buf.Push(v); evicted {
		// Subtract the oldest value being overwritten
		s.sum -= old
	}
	s.sum += v

	if s.buf.Full() {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.buf.Full() }
