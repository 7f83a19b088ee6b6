package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"candlestream/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	dsnParams         = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath     string // path to SQLite database file, e.g. "data/candles.db"
	BatchSize  int
	FlushDelay time.Duration
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// Each window keeps only its latest snapshot (INSERT OR REPLACE).
type Writer struct {
	db         *sql.DB
	batchSize  int
	flushDelay time.Duration

	OnCommit func(d time.Duration, records int)
	OnError  func(err error)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	w := &Writer{db: db, batchSize: cfg.BatchSize, flushDelay: cfg.FlushDelay}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.flushDelay <= 0 {
		w.flushDelay = defaultFlushDelay
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return w, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			pair            TEXT    NOT NULL,
			candle_seconds  INTEGER NOT NULL,
			window_start_ms INTEGER NOT NULL,
			window_end_ms   INTEGER NOT NULL,
			open            REAL    NOT NULL,
			high            REAL    NOT NULL,
			low             REAL    NOT NULL,
			close           REAL    NOT NULL,
			volume          REAL    NOT NULL,
			trades          INTEGER NOT NULL DEFAULT 0,
			schema_version  TEXT    NOT NULL,
			PRIMARY KEY (pair, candle_seconds, window_start_ms)
		);

		CREATE TABLE IF NOT EXISTS indicator_records (
			pair            TEXT    NOT NULL,
			candle_seconds  INTEGER NOT NULL,
			window_start_ms INTEGER NOT NULL,
			data            TEXT    NOT NULL,
			updated_at      INTEGER NOT NULL,
			PRIMARY KEY (pair, candle_seconds, window_start_ms)
		);
	`)
	return err
}

// Run reads indicator records from ch and inserts them in batched transactions.
// Flushes every batchSize records OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or ch is closed.
func (w *Writer) Run(ctx context.Context, ch <-chan model.IndicatorRecord) {
	batch := make([]model.IndicatorRecord, 0, w.batchSize)
	timer := time.NewTimer(w.flushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		err := w.WriteBatch(batch)
		if w.OnCommit != nil {
			w.OnCommit(time.Since(start), len(batch))
		}
		if err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
			if w.OnError != nil {
				w.OnError(err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case rec, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(w.flushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.flushDelay)
		}
	}
}

// WriteBatch upserts the candles and indicator payloads of recs in a single
// transaction. Later records for the same window replace earlier ones.
func (w *Writer) WriteBatch(recs []model.IndicatorRecord) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	candleStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles
			(pair, candle_seconds, window_start_ms, window_end_ms, open, high, low, close, volume, trades, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer candleStmt.Close()

	recStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO indicator_records (pair, candle_seconds, window_start_ms, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer recStmt.Close()

	now := time.Now().UnixMilli()
	for i := range recs {
		c := &recs[i].Candle
		if _, err := candleStmt.Exec(c.Pair, c.CandleSeconds, c.WindowStartMs, c.WindowEndMs,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades, c.SchemaVersion); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert candle %s@%d: %w", c.Pair, c.WindowStartMs, err)
		}
		if _, err := recStmt.Exec(c.Pair, c.CandleSeconds, c.WindowStartMs, string(recs[i].JSON()), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert record %s@%d: %w", c.Pair, c.WindowStartMs, err)
		}
	}

	return tx.Commit()
}

// PruneBefore deletes candles and records whose window started before cutoffMs.
func (w *Writer) PruneBefore(candleSeconds int, cutoffMs int64) (int64, error) {
	res, err := w.db.Exec(`DELETE FROM candles WHERE candle_seconds = ? AND window_start_ms < ?`, candleSeconds, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune candles: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := w.db.Exec(`DELETE FROM indicator_records WHERE candle_seconds = ? AND window_start_ms < ?`, candleSeconds, cutoffMs); err != nil {
		return n, fmt.Errorf("sqlite prune records: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
