package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"candlestream/config"
	"candlestream/internal/engine"
	"candlestream/internal/indicator"
	"candlestream/internal/logger"
	"candlestream/internal/marketdata/bus"
	"candlestream/internal/marketdata/kraken"
	"candlestream/internal/marketdata/sim"
	"candlestream/internal/metrics"
	"candlestream/internal/model"
	pgstore "candlestream/internal/store/postgres"
	redisstore "candlestream/internal/store/redis"
	sqlitestore "candlestream/internal/store/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

type namedSink struct {
	name string
	sink model.RecordSink
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[candleengine] config: %v", err)
	}

	lg := logger.Init("candleengine", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	calc := indicator.NewCalculator(cfg.Indicators, lg)
	lg.Info("starting",
		"candle_seconds", cfg.Engine.CandleSeconds,
		"max_history", cfg.Engine.MaxHistory,
		"retain_windows", cfg.Engine.RetainWindows,
		"source", cfg.Source,
		"indicators", calc.Keys(),
	)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus(cfg.Engine.CandleSeconds)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sinks outlive ctx so they can drain what the pipeline already emitted.
	sinkCtx := context.WithoutCancel(ctx)

	// ---- Sinks + warm-start source ----
	var sinks []namedSink
	var seeder model.CandleHistoryReader
	var redisReader *redisstore.Reader

	if cfg.SQLite.Enabled {
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("[candleengine] sqlite dir: %v", err)
			}
		}
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path})
		if err != nil {
			log.Fatalf("[candleengine] sqlite init failed: %v", err)
		}
		w.OnCommit = func(d time.Duration, _ int) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
		w.OnError = func(error) { prom.SinkErrors.WithLabelValues("sqlite").Inc() }
		sinks = append(sinks, namedSink{"sqlite", w})
		health.AddProbe("sqlite", metrics.SQLProbe(w.DB()))
		if cfg.SQLite.Retention > 0 {
			go runPruner(ctx, w, cfg.Engine.CandleSeconds, cfg.SQLite.Retention, lg)
		}

		if cfg.Engine.WarmStart {
			r, err := sqlitestore.NewReader(cfg.SQLite.Path)
			if err != nil {
				log.Fatalf("[candleengine] sqlite reader init failed: %v", err)
			}
			defer r.Close()
			seeder = r
		}
		lg.Info("sqlite sink ready", "path", cfg.SQLite.Path)
	}

	if cfg.Redis.Enabled {
		w, err := redisstore.New(redisstore.WriterConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		if err != nil {
			log.Fatalf("[candleengine] redis init failed: %v", err)
		}
		w.OnWrite = func(d time.Duration, _ int) { prom.RedisWriteDur.Observe(d.Seconds()) }

		cb := redisstore.NewCircuitBreaker(cfg.Redis.BreakerFailures, cfg.Redis.BreakerReset)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			lg.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
		}
		bw := redisstore.NewBufferedWriter(sinkCtx, w, cb, cfg.Redis.BufferSize)
		bw.OnBuffer = func(n int) { prom.RedisBufferedWrites.Add(float64(n)) }
		bw.OnDrop = func(n int) { prom.SinkErrors.WithLabelValues("redis_buffer_full").Add(float64(n)) }
		bw.OnError = func(error) { prom.SinkErrors.WithLabelValues("redis").Inc() }
		bw.OnFlush = func(n int) { lg.Info("redis buffer flushed", "records", n) }
		sinks = append(sinks, namedSink{"redis", bw})
		health.AddProbe("redis", metrics.RedisProbe(w.Client()))

		redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ConsumerGroup: cfg.Redis.ConsumerGroup,
			ConsumerName:  cfg.Redis.ConsumerName,
		})
		if err != nil {
			log.Fatalf("[candleengine] redis reader init failed: %v", err)
		}
		defer redisReader.Close()
		if cfg.Engine.WarmStart && seeder == nil {
			seeder = redisReader
		}
		lg.Info("redis sink ready", "addr", cfg.Redis.Addr)
	}

	if cfg.Postgres.Enabled {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := pgstore.New(pctx, cfg.Postgres.Client())
		if err != nil {
			log.Fatalf("[candleengine] postgres init failed: %v", err)
		}
		if err := client.EnsureIndicatorTable(pctx, cfg.Postgres.Table, calc.Keys()); err != nil {
			log.Fatalf("[candleengine] postgres table: %v", err)
		}
		cancel()

		store := pgstore.NewIndicatorStore(client, cfg.Postgres.Table, calc.Keys(), 0)
		store.OnUpsert = func(d time.Duration, _ int) { prom.PostgresUpsertDur.Observe(d.Seconds()) }
		store.OnError = func(error) { prom.SinkErrors.WithLabelValues("postgres").Inc() }
		sinks = append(sinks, namedSink{"postgres", store})
		health.AddProbe("postgres", client.Ping)
		lg.Info("postgres sink ready", "table", cfg.Postgres.Table)
	}

	if len(sinks) == 0 {
		lg.Warn("no sinks enabled, records are only logged at debug level")
		sinks = append(sinks, namedSink{"log", logSink{lg}})
	}

	health.StartLivenessChecker(ctx, 10*time.Second)

	// ---- Pipeline ----
	pl := engine.NewPipeline(engine.Settings{
		CandleSeconds: cfg.Engine.CandleSeconds,
		MaxHistory:    cfg.Engine.MaxHistory,
		RetainWindows: cfg.Engine.RetainWindows,
	}, calc, prom, lg, cfg.Engine.InboxSize, cfg.Engine.OutputBuffer)
	pl.Seeder = seeder
	pl.Health = health

	fan := bus.New[model.IndicatorRecord](cfg.Engine.OutputBuffer)
	fan.OnDrop = func(sub string) { prom.FanoutDropsTotal.WithLabelValues(sub).Inc() }

	var sinkGroup errgroup.Group
	for _, s := range sinks {
		ch := fan.Subscribe(s.name)
		sink := s.sink
		sinkGroup.Go(func() error {
			sink.Run(sinkCtx, ch)
			return nil
		})
	}
	sinkGroup.Go(func() error {
		fan.Run(sinkCtx, pl.Records())
		return nil
	})

	// ---- Source → pipeline ----
	g, gctx := errgroup.WithContext(ctx)
	trades := make(chan model.Trade, 4096)

	switch cfg.Source {
	case config.SourceRedisCandles:
		candles := make(chan model.Candle, 4096)
		if err := redisReader.EnsureConsumerGroup(ctx, cfg.Redis.CandleStreams); err != nil {
			log.Fatalf("[candleengine] redis consumer group: %v", err)
		}
		health.SetSourceConnected(true)
		g.Go(func() error {
			defer close(candles)
			return quiet(gctx, redisReader.ConsumeCandles(gctx, cfg.Redis.CandleStreams, candles))
		})
		g.Go(func() error { return pl.RunCandles(gctx, candles) })

	default:
		src := newTradeSource(cfg, redisReader, prom, health)
		g.Go(func() error {
			defer close(trades)
			return quiet(gctx, src.Start(gctx, trades))
		})
		g.Go(func() error { return pl.Run(gctx, trades) })
	}

	go reportSaturation(ctx, prom, fan, trades)

	lg.Info("pipeline ready", "sinks", len(sinks))

	if err := g.Wait(); err != nil {
		lg.Error("pipeline stopped", "err", err)
	}
	lg.Info("shutting down")

	done := make(chan struct{})
	go func() {
		sinkGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		lg.Warn("sinks did not drain in time")
	}

	for _, s := range sinks {
		if err := s.sink.Close(); err != nil {
			lg.Warn("sink close", "sink", s.name, "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Stop(shutdownCtx)
	lg.Info("stopped")
}

func newTradeSource(cfg *config.Config, redisReader *redisstore.Reader, prom *metrics.Metrics, health *metrics.HealthStatus) model.TradeSource {
	switch cfg.Source {
	case config.SourceSim:
		health.SetSourceConnected(true)
		return sim.New(sim.Config{
			Instruments: sim.ParseInstruments(cfg.Sim.Instruments),
			Interval:    cfg.Sim.Interval,
			Seed:        cfg.Sim.Seed,
		})

	case config.SourceRedis:
		return &redisstore.TradeStream{
			Reader:          redisReader,
			Streams:         cfg.Redis.TradeStreams,
			ReclaimInterval: cfg.Redis.ReclaimInterval,
			OnReclaim:       func(n int) { prom.PELMessagesReclaimed.Add(float64(n)) },
		}

	default:
		ing, err := kraken.New(kraken.Config{
			URL:               cfg.Kraken.URL,
			Pairs:             cfg.Kraken.Pairs,
			ReconnectDelay:    cfg.Kraken.ReconnectDelay,
			MaxReconnectDelay: cfg.Kraken.MaxReconnectDelay,
		})
		if err != nil {
			log.Fatalf("[candleengine] kraken init failed: %v", err)
		}
		ing.OnConnect = func() { health.SetSourceConnected(true) }
		ing.OnDisconnect = func() { health.SetSourceConnected(false) }
		ing.OnReconnect = func() { prom.SourceReconnects.Inc() }
		return ing
	}
}

// runPruner deletes SQLite rows older than retention once an hour.
func runPruner(ctx context.Context, w *sqlitestore.Writer, candleSeconds int, retention time.Duration, lg *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		cutoff := time.Now().Add(-retention).UnixMilli()
		if n, err := w.PruneBefore(candleSeconds, cutoff); err != nil {
			lg.Warn("sqlite prune", "err", err)
		} else if n > 0 {
			lg.Info("sqlite pruned", "candles", n, "cutoff_ms", cutoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reportSaturation publishes channel fill levels every 5 seconds.
func reportSaturation(ctx context.Context, prom *metrics.Metrics, fan *bus.FanOut[model.IndicatorRecord], trades chan model.Trade) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range fan.ChannelStats() {
				prom.ChannelSaturationPct.WithLabelValues("sink_" + s.Name).Set(s.SaturationPct())
			}
			trade := bus.ChannelStat{Name: "trades", Len: len(trades), Cap: cap(trades)}
			prom.ChannelSaturationPct.WithLabelValues(trade.Name).Set(trade.SaturationPct())
		}
	}
}

// quiet hides the error of a normal shutdown.
func quiet(ctx context.Context, err error) error {
	if err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil) {
		return nil
	}
	return err
}

// logSink is the fallback sink when no store is enabled.
type logSink struct {
	lg *slog.Logger
}

func (s logSink) Run(ctx context.Context, ch <-chan model.IndicatorRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			s.lg.Debug("record", "pair", rec.Pair, "window_start_ms", rec.WindowStartMs, "close", rec.Close)
		}
	}
}

func (s logSink) Close() error { return nil }
