package postgres

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"candlestream/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidateTableName accepts 1-63 character identifiers starting with a letter.
func ValidateTableName(name string) error {
	if name == "" || len(name) > 63 || !tableNameRe.MatchString(name) {
		return fmt.Errorf("postgres: invalid table name %q", name)
	}
	return nil
}

// candleColumns are written for every record ahead of the indicator columns.
var candleColumns = []string{
	"pair", "open", "high", "low", "close", "volume",
	"window_start_ms", "window_end_ms", "candle_seconds",
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func createTableSQL(table string, keys []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(ident(table))
	b.WriteString(` (
	pair VARCHAR NOT NULL,
	open FLOAT,
	high FLOAT,
	low FLOAT,
	close FLOAT,
	volume FLOAT,
	window_start_ms BIGINT NOT NULL,
	window_end_ms BIGINT NOT NULL,
	candle_seconds INT`)
	for _, k := range keys {
		b.WriteString(",\n\t")
		b.WriteString(ident(k))
		b.WriteString(" FLOAT")
	}
	b.WriteString(",\n\tPRIMARY KEY (pair, window_start_ms, window_end_ms)\n)")
	return b.String()
}

func addColumnsSQL(table string, keys []string) []string {
	stmts := make([]string, 0, len(keys))
	for _, k := range keys {
		stmts = append(stmts, "ALTER TABLE "+ident(table)+" ADD COLUMN IF NOT EXISTS "+ident(k)+" FLOAT")
	}
	return stmts
}

func upsertSQL(table string, keys []string) string {
	cols := make([]string, 0, len(candleColumns)+len(keys))
	for _, c := range candleColumns {
		cols = append(cols, ident(c))
	}
	for _, k := range keys {
		cols = append(cols, ident(k))
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	// pair and the window bounds form the conflict key; everything else updates.
	updates := make([]string, 0, len(cols)-3)
	for _, c := range cols {
		switch c {
		case ident("pair"), ident("window_start_ms"), ident("window_end_ms"):
			continue
		}
		updates = append(updates, c+" = EXCLUDED."+c)
	}

	return "INSERT INTO " + ident(table) + " (" + strings.Join(cols, ", ") + ")" +
		" VALUES (" + strings.Join(placeholders, ", ") + ")" +
		" ON CONFLICT (pair, window_start_ms, window_end_ms) DO UPDATE SET " +
		strings.Join(updates, ", ")
}

// upsertArgs returns the statement arguments for rec. Absent indicators are
// nil pointers and bind as NULL.
func upsertArgs(rec *model.IndicatorRecord, keys []string) []any {
	c := &rec.Candle
	args := []any{
		c.Pair, c.Open, c.High, c.Low, c.Close, c.Volume,
		c.WindowStartMs, c.WindowEndMs, c.CandleSeconds,
	}
	for _, k := range keys {
		args = append(args, rec.Indicators[k])
	}
	return args
}

// IndicatorStore upserts indicator records into the analytics table.
type IndicatorStore struct {
	pool      *pgxpool.Pool
	table     string
	keys      []string
	query     string
	batchSize int
	onClose   func()

	OnUpsert func(d time.Duration, records int)
	OnError  func(err error)
}

// NewIndicatorStore creates an IndicatorStore writing the given indicator
// keys into table.
func NewIndicatorStore(c *Client, table string, keys []string, batchSize int) *IndicatorStore {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &IndicatorStore{
		pool:      c.pool,
		table:     table,
		keys:      keys,
		query:     upsertSQL(table, keys),
		batchSize: batchSize,
		onClose:   c.Close,
	}
}

// UpsertBatch inserts or updates recs in a single batch round trip.
func (s *IndicatorStore) UpsertBatch(ctx context.Context, recs []model.IndicatorRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range recs {
		batch.Queue(s.query, upsertArgs(&recs[i], s.keys)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert %s batch item %d: %w", s.table, i, err)
		}
	}
	return nil
}

// Run reads records from ch and upserts them in batches.
// Blocks until ctx is cancelled or ch is closed.
func (s *IndicatorStore) Run(ctx context.Context, ch <-chan model.IndicatorRecord) {
	batch := make([]model.IndicatorRecord, 0, s.batchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			batch = append(batch[:0], rec)
		}

	drain:
		for len(batch) < s.batchSize {
			select {
			case rec, ok := <-ch:
				if !ok {
					break drain
				}
				batch = append(batch, rec)
			default:
				break drain
			}
		}

		start := time.Now()
		err := s.UpsertBatch(ctx, batch)
		if s.OnUpsert != nil {
			s.OnUpsert(time.Since(start), len(batch))
		}
		if err != nil {
			log.Printf("[postgres] %v", err)
			if s.OnError != nil {
				s.OnError(err)
			}
		}
	}
}

// Close shuts down the underlying pool.
func (s *IndicatorStore) Close() error {
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}
