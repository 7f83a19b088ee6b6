package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"candlestream/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "candleengine"
	ConsumerName  string // unique consumer name, e.g. hostname
	Count         int64
	Block         time.Duration
}

// Reader consumes trade (or candle) streams via consumer groups and reads
// persisted candle streams back for history warm-up.
type Reader struct {
	client   *goredis.Client
	group    string
	consumer string
	count    int64
	block    time.Duration
}

var errNoData = errors.New(`stream entry has no "data" field`)

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	r := newReader(client, cfg)
	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, r.group, r.consumer)
	return r, nil
}

func newReader(client *goredis.Client, cfg ReaderConfig) *Reader {
	r := &Reader{
		client:   client,
		group:    cfg.ConsumerGroup,
		consumer: cfg.ConsumerName,
		count:    cfg.Count,
		block:    cfg.Block,
	}
	if r.group == "" {
		r.group = "candleengine"
	}
	if r.consumer == "" {
		r.consumer = "worker-1"
	}
	if r.count <= 0 {
		r.count = 100
	}
	if r.block <= 0 {
		r.block = 2 * time.Second
	}
	return r
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// EnsureConsumerGroup creates the consumer group on each stream if it does
// not exist yet. Fresh groups start at "$" (only new entries).
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.group, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// ConsumeTrades reads trades from the given streams with XREADGROUP and
// sends them to out, acknowledging each entry once it was handed over.
// Returns when ctx is cancelled.
func (r *Reader) ConsumeTrades(ctx context.Context, streams []string, out chan<- model.Trade) error {
	return consume(ctx, r, streams, out, DecodeTrade)
}

// ConsumeCandles is ConsumeTrades for streams carrying pre-built candles.
func (r *Reader) ConsumeCandles(ctx context.Context, streams []string, out chan<- model.Candle) error {
	return consume(ctx, r, streams, out, DecodeCandle)
}

// RecoverPendingTrades replays entries this group delivered but never
// acknowledged (e.g. before a crash), for at-least-once delivery.
func (r *Reader) RecoverPendingTrades(ctx context.Context, streams []string, out chan<- model.Trade) error {
	return recoverPending(ctx, r, streams, out, DecodeTrade)
}

// ReclaimStaleMessages finds PEL entries idle longer than minIdle that belong
// to other consumers of the group and XCLAIMs them for this consumer.
func (r *Reader) ReclaimStaleMessages(ctx context.Context, stream string, minIdle time.Duration, batchSize int64) ([]goredis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.group,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != r.consumer {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  minIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}

	log.Printf("[redis-reader] reclaimed %d stale PEL entries from %s", len(claimed), stream)
	return claimed, nil
}

// StartPELReclaimer periodically reclaims stale trade entries from dead
// consumers and forwards them to out. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval, minIdle time.Duration, out chan<- model.Trade, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range streams {
				claimed, err := r.ReclaimStaleMessages(ctx, stream, minIdle, 50)
				if err != nil {
					log.Printf("[redis-reader] PEL reclaim error on %s: %v", stream, err)
					continue
				}
				n, err := deliver(ctx, r, stream, claimed, out, DecodeTrade)
				total += n
				if err != nil {
					return
				}
			}
			if total > 0 && onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// ReadRecentCandles returns the latest snapshot of at most limit windows
// from the candle stream of pair, ordered by window start ascending.
func (r *Reader) ReadRecentCandles(pair string, candleSeconds, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream := candleStreamKey(candleSeconds, pair)
	var newestFirst []model.Candle
	seen := make(map[int64]bool)
	end := "+"
	for {
		msgs, err := r.client.XRevRangeN(ctx, stream, end, "-", r.count).Result()
		if err != nil {
			return nil, fmt.Errorf("xrevrange %s: %w", stream, err)
		}
		for _, msg := range msgs {
			c, err := DecodeCandle(msg.Values)
			if err != nil {
				continue
			}
			// The stream holds one entry per update; the newest one of each
			// window wins.
			if seen[c.WindowStartMs] {
				continue
			}
			if len(newestFirst) == limit {
				return sortByStart(newestFirst), nil
			}
			seen[c.WindowStartMs] = true
			newestFirst = append(newestFirst, c)
		}
		if int64(len(msgs)) < r.count {
			return sortByStart(newestFirst), nil
		}
		end = "(" + msgs[len(msgs)-1].ID
	}
}

// Pairs lists the pairs that have records for the candle duration.
func (r *Reader) Pairs(candleSeconds int) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pairs, err := r.client.SMembers(ctx, pairsKey(candleSeconds)).Result()
	if err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("smembers %s: %w", pairsKey(candleSeconds), err)
	}
	return pairs, nil
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}

// DecodeTrade decodes the JSON trade in a stream entry's "data" field.
func DecodeTrade(values map[string]interface{}) (model.Trade, error) {
	var t model.Trade
	data, ok := values["data"].(string)
	if !ok {
		return t, errNoData
	}
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return t, fmt.Errorf("unmarshal trade: %w", err)
	}
	if t.Pair == "" {
		return t, errors.New("trade without pair")
	}
	return t, nil
}

// DecodeCandle decodes the JSON candle in a stream entry's "data" field.
func DecodeCandle(values map[string]interface{}) (model.Candle, error) {
	var c model.Candle
	data, ok := values["data"].(string)
	if !ok {
		return c, errNoData
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return c, fmt.Errorf("unmarshal candle: %w", err)
	}
	if c.Pair == "" {
		return c, errors.New("candle without pair")
	}
	return c, nil
}

type decodeFunc[T any] func(values map[string]interface{}) (T, error)

func consume[T any](ctx context.Context, r *Reader, streams []string, out chan<- T, decode decodeFunc[T]) error {
	// XREADGROUP args: [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  args,
			Count:    r.count,
			Block:    r.block,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup error: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		for _, stream := range results {
			if _, err := deliver(ctx, r, stream.Stream, stream.Messages, out, decode); err != nil {
				return err
			}
		}
	}
}

func recoverPending[T any](ctx context.Context, r *Reader, streams []string, out chan<- T, decode decodeFunc[T]) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.group,
				Start:  "-",
				End:    "+",
				Count:  r.count,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.group,
				Consumer: r.consumer,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-reader] xclaim error on %s: %v", stream, err)
				break
			}

			if _, err := deliver(ctx, r, stream, claimed, out, decode); err != nil {
				return err
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// deliver decodes and forwards entries, acknowledging each one after the
// hand-off. Undecodable entries are acknowledged and skipped so they cannot
// wedge the group.
func deliver[T any](ctx context.Context, r *Reader, stream string, msgs []goredis.XMessage, out chan<- T, decode decodeFunc[T]) (int, error) {
	n := 0
	for _, msg := range msgs {
		v, err := decode(msg.Values)
		if err != nil {
			log.Printf("[redis-reader] skipping %s on %s: %v", msg.ID, stream, err)
			r.client.XAck(ctx, stream, r.group, msg.ID)
			continue
		}

		select {
		case out <- v:
		case <-ctx.Done():
			return n, ctx.Err()
		}

		r.client.XAck(ctx, stream, r.group, msg.ID)
		n++
	}
	return n, nil
}

func sortByStart(cs []model.Candle) []model.Candle {
	sort.Slice(cs, func(i, j int) bool { return cs[i].WindowStartMs < cs[j].WindowStartMs })
	return cs
}
