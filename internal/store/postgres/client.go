// Package postgres writes indicator records into a Postgres-protocol
// analytics table (Postgres or RisingWave) via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClientConfig holds connection parameters for the PostgreSQL client.
type ClientConfig struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
}

// DSN builds a PostgreSQL connection string from the given config.
func DSN(cfg ClientConfig) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database, sslMode,
	)
}

// Client wraps a pgxpool.Pool.
type Client struct {
	pool *pgxpool.Pool
}

// New creates a new Client with a connection pool configured from cfg.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Client{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping checks connectivity; used as a health probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// EnsureIndicatorTable creates table with one nullable FLOAT column per
// indicator key if it does not exist. For an existing table, missing
// indicator columns are added.
func (c *Client) EnsureIndicatorTable(ctx context.Context, table string, keys []string) error {
	if err := ValidateTableName(table); err != nil {
		return err
	}

	var exists bool
	err := c.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)",
		table,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check table %s: %w", table, err)
	}

	if !exists {
		if _, err := c.pool.Exec(ctx, createTableSQL(table, keys)); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", table, err)
		}
		return nil
	}

	for _, stmt := range addColumnsSQL(table, keys) {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: alter table %s: %w", table, err)
		}
	}
	return nil
}
