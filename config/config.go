// Package config holds the candle engine configuration. Values come from
// built-in defaults, an optional TOML file, a .env file and environment
// variables, in that order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"candlestream/internal/indicator"
	"candlestream/internal/model"
	"candlestream/internal/store/postgres"
)

// Trade sources.
const (
	SourceKraken       = "kraken"
	SourceRedis        = "redis"
	SourceRedisCandles = "redis-candles"
	SourceSim          = "sim"
)

// Config is the root configuration structure.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Indicators indicator.Config `toml:"indicators"`
	Source     string           `toml:"trade_source"`
	Kraken     KrakenConfig     `toml:"kraken"`
	Sim        SimConfig        `toml:"sim"`
	Redis      RedisConfig      `toml:"redis"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	Postgres   PostgresConfig   `toml:"postgres"`

	MetricsAddr string `toml:"metrics_addr"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
}

// EngineConfig holds the candle and history settings.
type EngineConfig struct {
	CandleSeconds int  `toml:"candle_seconds"`
	MaxHistory    int  `toml:"max_history"`
	RetainWindows int  `toml:"retain_windows"` // 0 keeps every window open
	InboxSize     int  `toml:"inbox_size"`     // per-pair worker inbox
	OutputBuffer  int  `toml:"output_buffer"`
	WarmStart     bool `toml:"warm_start"` // seed histories from storage on startup
}

// KrakenConfig configures the Kraken websocket trade feed.
type KrakenConfig struct {
	URL               string        `toml:"url"`
	Pairs             []string      `toml:"pairs"`
	ReconnectDelay    time.Duration `toml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `toml:"max_reconnect_delay"`
}

// SimConfig configures the simulated trade feed.
type SimConfig struct {
	Instruments string        `toml:"instruments"` // "PAIR[:PRICE],..."
	Interval    time.Duration `toml:"interval"`
	Seed        int64         `toml:"seed"`
}

// RedisConfig configures the Redis trade consumer and record writer.
type RedisConfig struct {
	Enabled         bool          `toml:"enabled"`
	Addr            string        `toml:"addr"`
	Password        string        `toml:"password"`
	DB              int           `toml:"db"`
	TradeStreams    []string      `toml:"trade_streams"`
	CandleStreams   []string      `toml:"candle_streams"`
	ConsumerGroup   string        `toml:"consumer_group"`
	ConsumerName    string        `toml:"consumer_name"`
	StreamMaxLen    int64         `toml:"stream_maxlen"`
	BreakerFailures int           `toml:"breaker_failures"`
	BreakerReset    time.Duration `toml:"breaker_reset"`
	BufferSize      int           `toml:"buffer_size"`
	ReclaimInterval time.Duration `toml:"reclaim_interval"`
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	Enabled   bool          `toml:"enabled"`
	Path      string        `toml:"path"`
	Retention time.Duration `toml:"retention"` // 0 keeps everything
}

// PostgresConfig configures the analytics table sink.
type PostgresConfig struct {
	Enabled  bool   `toml:"enabled"`
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	SSLMode  string `toml:"sslmode"`
	Table    string `toml:"table"`
}

// Client returns the pgx client settings.
func (p PostgresConfig) Client() postgres.ClientConfig {
	return postgres.ClientConfig{
		DSN:      p.DSN,
		Host:     p.Host,
		Port:     p.Port,
		Database: p.Database,
		User:     p.User,
		Password: p.Password,
		SSLMode:  p.SSLMode,
	}
}

// Defaults returns a Config populated with the default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			CandleSeconds: 60,
			MaxHistory:    70,
			RetainWindows: 8,
			InboxSize:     256,
			OutputBuffer:  1024,
			WarmStart:     true,
		},
		Indicators: indicator.DefaultConfig(),
		Source:     SourceKraken,
		Kraken: KrakenConfig{
			Pairs:             []string{"BTC/USD", "ETH/USD"},
			ReconnectDelay:    2 * time.Second,
			MaxReconnectDelay: 30 * time.Second,
		},
		Sim: SimConfig{
			Instruments: "BTC/USD,ETH/USD,SOL/USD",
			Interval:    100 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			TradeStreams:    []string{"trades"},
			ConsumerGroup:   "candleengine",
			ConsumerName:    "worker-1",
			StreamMaxLen:    10000,
			BreakerFailures: 5,
			BreakerReset:    10 * time.Second,
			BufferSize:      10000,
			ReclaimInterval: 30 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path: "data/candles.db",
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     4567,
			Database: "dev",
			User:     "root",
			Table:    "technical_indicators",
		},
		MetricsAddr: ":9090",
		LogLevel:    "INFO",
		LogFormat:   "json",
	}
}

// Validate checks the configuration and returns every problem found as one
// joined error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{model.ErrInvalidConfig}, args...)...))
	}

	if c.Engine.CandleSeconds < 1 || c.Engine.CandleSeconds > 86400 {
		add("candle_seconds must be in 1..86400, got %d", c.Engine.CandleSeconds)
	}
	if c.Engine.MaxHistory < 1 || c.Engine.MaxHistory > 10000 {
		add("max_history must be in 1..10000, got %d", c.Engine.MaxHistory)
	}
	if c.Engine.RetainWindows < 0 {
		add("retain_windows must be >= 0, got %d", c.Engine.RetainWindows)
	}
	if c.Engine.InboxSize < 1 {
		add("inbox_size must be positive, got %d", c.Engine.InboxSize)
	}
	if c.Engine.OutputBuffer < 0 {
		add("output_buffer must be >= 0, got %d", c.Engine.OutputBuffer)
	}

	if c.Engine.MaxHistory >= 1 {
		if err := c.Indicators.Validate(c.Engine.MaxHistory); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Source {
	case SourceKraken:
		if len(c.Kraken.Pairs) == 0 {
			add("kraken.pairs must not be empty")
		}
	case SourceRedis, SourceRedisCandles:
		if !c.Redis.Enabled {
			add("trade_source %q requires redis.enabled", c.Source)
		}
		if c.Source == SourceRedisCandles && len(c.Redis.CandleStreams) == 0 {
			add("redis.candle_streams must not be empty for trade_source %q", c.Source)
		}
	case SourceSim:
		if strings.TrimSpace(c.Sim.Instruments) == "" {
			add("sim.instruments must not be empty")
		}
	default:
		add("unknown trade_source %q (valid: kraken, redis, redis-candles, sim)", c.Source)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis.addr must not be empty")
	}
	if c.SQLite.Enabled && c.SQLite.Path == "" {
		add("sqlite.path must not be empty")
	}
	if c.SQLite.Retention < 0 {
		add("sqlite.retention must be >= 0, got %s", c.SQLite.Retention)
	}
	if c.Postgres.Enabled {
		if err := postgres.ValidateTableName(c.Postgres.Table); err != nil {
			add("%v", err)
		}
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			add("postgres.host must not be empty (or set postgres.dsn)")
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		add("log_format must be json or text, got %q", c.LogFormat)
	}

	return errors.Join(errs...)
}
