package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"candlestream/internal/indicator"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration: defaults, then the TOML file named by
// CONFIG_FILE (if set), then environment overrides. A .env file in the
// working directory is loaded first and never overrides variables that are
// already set. The result is validated.
func Load() (*Config, error) {
	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	cfg, err := LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges the TOML file at path (skipped when empty) and the
// environment on top of the defaults. The result is not validated.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose environment variable is set.
// Malformed values are collected and returned together.
func applyEnvOverrides(cfg *Config) error {
	e := &envReader{}

	// ── Engine ──
	e.setInt(&cfg.Engine.CandleSeconds, "CANDLE_SECONDS")
	e.setInt(&cfg.Engine.MaxHistory, "MAX_HISTORY")
	e.setInt(&cfg.Engine.RetainWindows, "RETAIN_WINDOWS")
	e.setInt(&cfg.Engine.InboxSize, "INBOX_SIZE")
	e.setInt(&cfg.Engine.OutputBuffer, "OUTPUT_BUFFER")
	e.setBool(&cfg.Engine.WarmStart, "WARM_START")

	// ── Indicators ──
	if v := os.Getenv("INDICATOR_FAMILIES"); v != "" {
		cfg.Indicators.Families = indicator.ParseFamilies(v)
	}
	e.setPeriods(&cfg.Indicators.SMA, "SMA_PERIODS")
	e.setPeriods(&cfg.Indicators.EMA, "EMA_PERIODS")
	e.setPeriods(&cfg.Indicators.RSI, "RSI_PERIODS")
	if v := os.Getenv("MACD_PARAMS"); v != "" {
		p, err := indicator.ParseMACD(v)
		if err != nil {
			e.fail("MACD_PARAMS", err)
		} else {
			cfg.Indicators.MACD = p
		}
	}

	// ── Source ──
	e.setStr(&cfg.Source, "TRADE_SOURCE")
	e.setStr(&cfg.Kraken.URL, "KRAKEN_URL")
	e.setList(&cfg.Kraken.Pairs, "KRAKEN_PAIRS")
	e.setDuration(&cfg.Kraken.ReconnectDelay, "KRAKEN_RECONNECT_DELAY")
	e.setDuration(&cfg.Kraken.MaxReconnectDelay, "KRAKEN_MAX_RECONNECT_DELAY")
	e.setStr(&cfg.Sim.Instruments, "SIM_INSTRUMENTS")
	e.setDuration(&cfg.Sim.Interval, "SIM_INTERVAL")
	e.setInt64(&cfg.Sim.Seed, "SIM_SEED")

	// ── Redis ──
	e.setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	e.setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	e.setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	e.setInt(&cfg.Redis.DB, "REDIS_DB")
	e.setList(&cfg.Redis.TradeStreams, "REDIS_TRADE_STREAMS")
	e.setList(&cfg.Redis.CandleStreams, "REDIS_CANDLE_STREAMS")
	e.setStr(&cfg.Redis.ConsumerGroup, "REDIS_CONSUMER_GROUP")
	e.setStr(&cfg.Redis.ConsumerName, "REDIS_CONSUMER_NAME")
	e.setInt64(&cfg.Redis.StreamMaxLen, "REDIS_STREAM_MAXLEN")
	e.setInt(&cfg.Redis.BreakerFailures, "REDIS_BREAKER_FAILURES")
	e.setDuration(&cfg.Redis.BreakerReset, "REDIS_BREAKER_RESET")
	e.setInt(&cfg.Redis.BufferSize, "REDIS_BUFFER_SIZE")
	e.setDuration(&cfg.Redis.ReclaimInterval, "REDIS_RECLAIM_INTERVAL")

	// ── SQLite ──
	e.setBool(&cfg.SQLite.Enabled, "SQLITE_ENABLED")
	e.setStr(&cfg.SQLite.Path, "SQLITE_PATH")
	e.setDuration(&cfg.SQLite.Retention, "SQLITE_RETENTION")

	// ── Postgres ──
	e.setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	e.setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	e.setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	e.setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	e.setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	e.setStr(&cfg.Postgres.User, "POSTGRES_USER")
	e.setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	e.setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSLMODE")
	e.setStr(&cfg.Postgres.Table, "POSTGRES_TABLE")

	// ── Ambient ──
	e.setStr(&cfg.MetricsAddr, "METRICS_ADDR")
	e.setStr(&cfg.LogLevel, "LOG_LEVEL")
	e.setStr(&cfg.LogFormat, "LOG_FORMAT")

	return errors.Join(e.errs...)
}

// ---------------------------------------------------------------------------

type envReader struct {
	errs []error
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
}

func (e *envReader) setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

func (e *envReader) setPeriods(dst *[]int, key string) {
	if v := os.Getenv(key); v != "" {
		p, err := indicator.ParsePeriods(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = p
	}
}
