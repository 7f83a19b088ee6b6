package indicator

// smma is Wilder's smoothed moving average over a raw value series.
// Until period values have been seen it reports the running mean of what
// it has; after that SMMA = (prev*(period-1) + v) / period.
type smma struct {
	period  int
	count   int
	sum     float64
	current float64
}

func newSMMA(period int) *smma {
	return &smma{period: period}
}

func (s *smma) update(v float64) {
	s.count++

	if s.count <= s.period {
		s.sum += v
		s.current = s.sum / float64(s.count)
		return
	}

	p := float64(s.period)
	s.current = (s.current*(p-1) + v) / p
}

func (s *smma) value() float64 { return s.current }
