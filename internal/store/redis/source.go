package redis

import (
	"context"
	"time"

	"candlestream/internal/model"

	"golang.org/x/sync/errgroup"
)

// TradeStream is a model.TradeSource backed by Redis trade streams.
type TradeStream struct {
	Reader          *Reader
	Streams         []string
	ReclaimInterval time.Duration // 0 disables the PEL reclaimer
	ReclaimMinIdle  time.Duration
	OnReclaim       func(count int)
}

// Start creates the consumer group, replays this consumer's pending
// entries, then consumes new trades until ctx is cancelled.
func (s *TradeStream) Start(ctx context.Context, out chan<- model.Trade) error {
	streams := s.Streams
	if len(streams) == 0 {
		streams = []string{DefaultTradeStream}
	}
	if err := s.Reader.EnsureConsumerGroup(ctx, streams); err != nil {
		return err
	}
	if err := s.Reader.RecoverPendingTrades(ctx, streams, out); err != nil {
		return err
	}

	// The reclaimer shares out, so Start only returns once it has stopped.
	g, gctx := errgroup.WithContext(ctx)
	if s.ReclaimInterval > 0 {
		minIdle := s.ReclaimMinIdle
		if minIdle <= 0 {
			minIdle = 30 * time.Second
		}
		g.Go(func() error {
			s.Reader.StartPELReclaimer(gctx, streams, s.ReclaimInterval, minIdle, out, s.OnReclaim)
			return nil
		})
	}
	g.Go(func() error {
		return s.Reader.ConsumeTrades(gctx, streams, out)
	})
	return g.Wait()
}
