// cmd/backfill replays stored candles from SQLite through history and the
// indicator calculator, so indicators can be recomputed after the indicator
// settings change or for candles that were persisted without them.
//
// Indicator and engine settings come from the usual config (CONFIG_FILE,
// .env, SMA_PERIODS, ...). Recomputed records are written to -out when set,
// otherwise a sample is printed.
//
// Usage:
//
//	go run ./cmd/backfill --db=data/candles.db --from=0 --out=data/backfill.db
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"candlestream/config"
	"candlestream/internal/engine"
	"candlestream/internal/indicator"
	"candlestream/internal/logger"
	"candlestream/internal/marketdata/replay"
	"candlestream/internal/model"
	sqlitestore "candlestream/internal/store/sqlite"

	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	fromMs := flag.Int64("from", 0, "Window start in Unix ms to replay from (0=all)")
	dbPath := flag.String("db", "data/candles.db", "Path to the SQLite database to read")
	outPath := flag.String("out", "", "SQLite database for recomputed records (empty=print only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[backfill] config: %v", err)
	}
	lg := logger.Init("backfill", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backfill] sqlite open failed: %v", err)
	}
	defer reader.Close()

	var sink *sqlitestore.Writer
	if *outPath != "" {
		if *outPath == *dbPath {
			log.Fatal("[backfill] -out must differ from -db")
		}
		sink, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: *outPath})
		if err != nil {
			log.Fatalf("[backfill] sqlite out failed: %v", err)
		}
		defer sink.Close()
	}

	calc := indicator.NewCalculator(cfg.Indicators, lg)
	pl := engine.NewPipeline(engine.Settings{
		CandleSeconds: cfg.Engine.CandleSeconds,
		MaxHistory:    cfg.Engine.MaxHistory,
		RetainWindows: cfg.Engine.RetainWindows,
	}, calc, nil, lg, cfg.Engine.InboxSize, cfg.Engine.OutputBuffer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	candles := make(chan model.Candle, 10000)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(candles)
		_, err := replay.New(reader).Run(gctx, cfg.Engine.CandleSeconds, *fromMs, *speed, candles)
		return err
	})
	g.Go(func() error { return pl.RunCandles(gctx, candles) })

	var st stats
	if sink != nil {
		records := make(chan model.IndicatorRecord, 1024)
		done := make(chan struct{})
		go func() {
			sink.Run(context.WithoutCancel(ctx), records)
			close(done)
		}()
		for rec := range pl.Records() {
			st.add(&rec)
			records <- rec
		}
		close(records)
		<-done
	} else {
		for rec := range pl.Records() {
			st.add(&rec)
			if st.records <= 10 || st.records%100 == 0 {
				printRecord(&rec)
			}
		}
	}

	if err := g.Wait(); err != nil {
		log.Printf("[backfill] replay error: %v", err)
	}

	if sink != nil {
		printLatest(*outPath, cfg.Engine.CandleSeconds)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKFILL COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Records:           %-16d ║\n", st.records)
	fmt.Printf("║  Indicator values:  %-16d ║\n", st.values)
	fmt.Printf("║  Pairs:             %-16d ║\n", len(st.pairs))
	fmt.Printf("║  Candle seconds:    %-16d ║\n", cfg.Engine.CandleSeconds)
	fmt.Println("╚══════════════════════════════════════╝")
}

type stats struct {
	records int
	values  int
	pairs   map[string]struct{}
}

func (s *stats) add(rec *model.IndicatorRecord) {
	if s.pairs == nil {
		s.pairs = make(map[string]struct{})
	}
	s.records++
	s.pairs[rec.Pair] = struct{}{}
	for _, v := range rec.Indicators {
		if v != nil {
			s.values++
		}
	}
}

// printLatest shows the newest recomputed record of every pair in the output database.
func printLatest(path string, candleSeconds int) {
	r, err := sqlitestore.NewReader(path)
	if err != nil {
		log.Printf("[backfill] reopen %s: %v", path, err)
		return
	}
	defer r.Close()

	pairs, err := r.Pairs(candleSeconds)
	if err != nil {
		log.Printf("[backfill] pairs: %v", err)
		return
	}
	for _, p := range pairs {
		rec, err := r.LatestRecord(p, candleSeconds)
		if err != nil {
			log.Printf("[backfill] latest %s: %v", p, err)
			continue
		}
		fmt.Printf("  latest %s: %s\n", p, rec)
	}
}

func printRecord(rec *model.IndicatorRecord) {
	fmt.Printf("  [%s] %s close=%.4f", rec.StartTime().Format("2006-01-02 15:04"), rec.Pair, rec.Close)
	for _, name := range rec.Names() {
		if v, ok := rec.Value(name); ok {
			fmt.Printf(" %s=%.4f", name, v)
		}
	}
	fmt.Println()
}
