package model

import "context"

// ── Collaborator Port Interfaces ──
// The engine only talks to trade sources and record sinks through these
// interfaces; Redis, SQLite, Postgres and the websocket feeds implement them.

// TradeSource pushes trades into out until ctx is cancelled or the source
// is exhausted.
type TradeSource interface {
	Start(ctx context.Context, out chan<- Trade) error
}

// RecordSink consumes indicator records (each carrying its candle).
type RecordSink interface {
	// Run reads records from ch and writes them.
	// Blocks until ctx is cancelled or ch is closed.
	Run(ctx context.Context, ch <-chan IndicatorRecord)

	// Close releases underlying resources.
	Close() error
}

// CandleHistoryReader loads persisted candles to warm pair histories on startup.
type CandleHistoryReader interface {
	// ReadRecentCandles returns at most limit candles for pair and candle
	// duration, ordered by window start ascending.
	ReadRecentCandles(pair string, candleSeconds, limit int) ([]Candle, error)

	// Pairs lists the pairs with persisted candles for a candle duration.
	Pairs(candleSeconds int) ([]string, error)
}
