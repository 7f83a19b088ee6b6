package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
	"unsafe"

	"candlestream/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultStreamMaxLen = 10000
	defaultLatestTTL    = 30 * time.Minute
	defaultBatchSize    = 64
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr         string // Redis address, e.g. "localhost:6379"
	Password     string
	DB           int
	StreamMaxLen int64         // approximate MAXLEN for candle and indicator streams
	LatestTTL    time.Duration // TTL of the "latest" keys
	BatchSize    int           // records per pipeline in Run
}

// Writer writes candles and indicator records to Redis streams, latest keys
// and pubsub channels.
type Writer struct {
	client    *goredis.Client
	maxLen    int64
	latestTTL time.Duration
	batchSize int

	// OnWrite is called after every pipeline with its duration and size.
	OnWrite func(d time.Duration, records int)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return newWriter(client, cfg), nil
}

func newWriter(client *goredis.Client, cfg WriterConfig) *Writer {
	w := &Writer{
		client:    client,
		maxLen:    cfg.StreamMaxLen,
		latestTTL: cfg.LatestTTL,
		batchSize: cfg.BatchSize,
	}
	if w.maxLen <= 0 {
		w.maxLen = defaultStreamMaxLen
	}
	if w.latestTTL <= 0 {
		w.latestTTL = defaultLatestTTL
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	return w
}

// Run reads indicator records from ch and writes them in pipelined batches.
// Blocks until ctx is cancelled or ch is closed.
func (w *Writer) Run(ctx context.Context, ch <-chan model.IndicatorRecord) {
	for {
		batch, ok := collect(ctx, ch, w.batchSize)
		if len(batch) > 0 {
			if err := w.WriteRecordBatch(ctx, batch); err != nil {
				log.Printf("[redis] %v", err)
			}
		}
		if !ok {
			return
		}
	}
}

// WriteRecordBatch writes every record's candle and indicator payloads in a
// single pipeline: XADD + SET latest + PUBLISH for both, plus SADD of the
// pair into the pairs set.
func (w *Writer) WriteRecordBatch(ctx context.Context, recs []model.IndicatorRecord) error {
	if len(recs) == 0 {
		return nil
	}
	start := time.Now()

	pipe := w.client.Pipeline()
	for i := range recs {
		rec := &recs[i]
		secs, pair := rec.CandleSeconds, rec.Pair

		candleBytes := rec.Candle.JSON()
		// Zero-copy []byte→string (candleBytes is not mutated after this)
		candleData := *(*string)(unsafe.Pointer(&candleBytes))
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: rec.Candle.StreamKey(),
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": candleData},
		})
		pipe.Set(ctx, latestCandleKey(secs, pair), candleData, w.latestTTL)
		pipe.Publish(ctx, candleChannel(secs, pair), candleData)

		indData := string(rec.JSON())
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: rec.StreamKey(),
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": indData},
		})
		pipe.Set(ctx, latestIndicatorKey(secs, pair), indData, w.latestTTL)
		pipe.Publish(ctx, indicatorChannel(secs, pair), indData)

		pipe.SAdd(ctx, pairsKey(secs), pair)
	}

	_, err := pipe.Exec(ctx)
	if w.OnWrite != nil {
		w.OnWrite(time.Since(start), len(recs))
	}
	if err != nil {
		return fmt.Errorf("record batch pipeline (%d records): %w", len(recs), err)
	}
	return nil
}

// AppendTrades appends trades to a trade stream, one entry per trade.
func (w *Writer) AppendTrades(ctx context.Context, stream string, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range trades {
		data, err := json.Marshal(&trades[i])
		if err != nil {
			return fmt.Errorf("marshal trade: %w", err)
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: stream,
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": string(data)},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %s (%d trades): %w", stream, len(trades), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

// collect blocks for one record, then drains whatever else is already queued
// up to max. ok is false once ch is closed or ctx is done.
func collect(ctx context.Context, ch <-chan model.IndicatorRecord, max int) (batch []model.IndicatorRecord, ok bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case rec, open := <-ch:
		if !open {
			return nil, false
		}
		batch = append(batch, rec)
	}
	for len(batch) < max {
		select {
		case rec, open := <-ch:
			if !open {
				return batch, false
			}
			batch = append(batch, rec)
		default:
			return batch, true
		}
	}
	return batch, true
}
