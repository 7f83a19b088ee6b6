package model

import (
	"encoding/json"
	"time"
)

// SchemaVersion is stamped on every emitted candle.
const SchemaVersion = "1.0"

// Candle is an OHLCV snapshot of one tumbling window for one pair.
// The aggregator emits a fresh snapshot on every trade that touches the
// window, so several candles with the same window key are normal.
type Candle struct {
	Pair          string  `json:"pair"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	WindowStartMs int64   `json:"window_start_ms"`
	WindowEndMs   int64   `json:"window_end_ms"`
	CandleSeconds int     `json:"candle_seconds"`
	Trades        int     `json:"trades"` // number of trades reduced into this snapshot
	SchemaVersion string  `json:"schema_version"`
}

// Key returns the window key of this candle.
func (c *Candle) Key() WindowKey {
	return WindowKey{Pair: c.Pair, StartMs: c.WindowStartMs, EndMs: c.WindowEndMs}
}

// SameWindow reports whether o belongs to the same (pair, start, end) window.
func (c *Candle) SameWindow(o *Candle) bool {
	return c.Pair == o.Pair && c.WindowStartMs == o.WindowStartMs && c.WindowEndMs == o.WindowEndMs
}

// StartTime returns the window start as a UTC time.Time.
func (c *Candle) StartTime() time.Time {
	return time.UnixMilli(c.WindowStartMs).UTC()
}

// StreamKey returns the Redis stream key: "candle:{secs}s:{pair}".
func (c *Candle) StreamKey() string {
	return "candle:" + Itoa(c.CandleSeconds) + "s:" + c.Pair
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
