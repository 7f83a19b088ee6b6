package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"candlestream/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for history warm-up.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema is created if
// missing so a fresh database reads as empty.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadRecentCandles returns the newest limit candles of pair for the candle
// duration, ordered by window start ascending.
func (r *Reader) ReadRecentCandles(pair string, candleSeconds, limit int) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT pair, candle_seconds, window_start_ms, window_end_ms, open, high, low, close, volume, trades, schema_version
		FROM (
			SELECT * FROM candles
			WHERE pair = ? AND candle_seconds = ?
			ORDER BY window_start_ms DESC
			LIMIT ?
		)
		ORDER BY window_start_ms ASC
	`, pair, candleSeconds, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// ReadCandlesSince returns every stored candle of the duration with
// window_start_ms >= fromMs, ordered by window start, then pair.
func (r *Reader) ReadCandlesSince(candleSeconds int, fromMs int64) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT pair, candle_seconds, window_start_ms, window_end_ms, open, high, low, close, volume, trades, schema_version
		FROM candles
		WHERE candle_seconds = ? AND window_start_ms >= ?
		ORDER BY window_start_ms ASC, pair ASC
	`, candleSeconds, fromMs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Pair, &c.CandleSeconds, &c.WindowStartMs, &c.WindowEndMs,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades, &c.SchemaVersion); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Pairs lists the pairs with stored candles for the candle duration.
func (r *Reader) Pairs(candleSeconds int) ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT pair FROM candles WHERE candle_seconds = ? ORDER BY pair`, candleSeconds)
	if err != nil {
		return nil, fmt.Errorf("sqlite query pairs: %w", err)
	}
	defer rows.Close()

	var pairs []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("sqlite scan pairs: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// LatestRecord returns the stored JSON of the newest indicator record of
// pair, or nil if there is none.
func (r *Reader) LatestRecord(pair string, candleSeconds int) (json.RawMessage, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM indicator_records
		WHERE pair = ? AND candle_seconds = ?
		ORDER BY window_start_ms DESC
		LIMIT 1
	`, pair, candleSeconds).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read record: %w", err)
	}
	return json.RawMessage(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
