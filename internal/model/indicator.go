package model

import (
	"encoding/json"
	"sort"
)

// IndicatorRecord is a candle enriched with the configured indicator values.
// Every configured indicator has a key in Indicators; a nil value means the
// indicator was absent for this candle (not enough history or non-finite).
type IndicatorRecord struct {
	Candle
	Indicators map[string]*float64 `json:"-"`
}

// Value returns the indicator value and whether it is present.
func (r *IndicatorRecord) Value(name string) (float64, bool) {
	v, ok := r.Indicators[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Names returns the indicator keys in sorted order.
func (r *IndicatorRecord) Names() []string {
	names := make([]string, 0, len(r.Indicators))
	for k := range r.Indicators {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// StreamKey returns the Redis stream key: "ind:{secs}s:{pair}".
func (r *IndicatorRecord) StreamKey() string {
	return "ind:" + Itoa(r.CandleSeconds) + "s:" + r.Pair
}

// MarshalJSON flattens the candle fields and the indicator map into one
// object. Absent indicators are encoded as null.
func (r IndicatorRecord) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"pair":            r.Pair,
		"open":            r.Open,
		"high":            r.High,
		"low":             r.Low,
		"close":           r.Close,
		"volume":          r.Volume,
		"window_start_ms": r.WindowStartMs,
		"window_end_ms":   r.WindowEndMs,
		"candle_seconds":  r.CandleSeconds,
		"trades":          r.Trades,
		"schema_version":  r.SchemaVersion,
	}
	for k, v := range r.Indicators {
		out[k] = v
	}
	return json.Marshal(out)
}

// JSON returns the JSON-encoded record (ignoring errors for hot-path usage).
func (r *IndicatorRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
