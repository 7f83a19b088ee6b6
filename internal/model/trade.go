package model

import "time"

// Trade is a single executed trade for a trading pair, as delivered by the
// ingestion side. Prices and quantities are plain float64 in quote/base units.
type Trade struct {
	Pair        string  `json:"pair"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	EventTimeMs int64   `json:"event_time_ms"` // exchange event time, Unix ms
}

// EventTime returns the trade's event time as a UTC time.Time.
func (t *Trade) EventTime() time.Time {
	return time.UnixMilli(t.EventTimeMs).UTC()
}

// WindowKey identifies one tumbling window of one pair.
type WindowKey struct {
	Pair    string
	StartMs int64
	EndMs   int64
}
