package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"candlestream/internal/indicator"
	"candlestream/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 60, cfg.Engine.CandleSeconds)
	assert.Equal(t, 70, cfg.Engine.MaxHistory)
	assert.Equal(t, 8, cfg.Engine.RetainWindows)
	assert.Equal(t, []int{7, 14, 21, 60}, cfg.Indicators.SMA)
	assert.Equal(t, []indicator.MACDParams{{Fast: 7, Slow: 14, Signal: 9}}, cfg.Indicators.MACD)
	assert.Equal(t, SourceKraken, cfg.Source)
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	t.Setenv("CANDLE_SECONDS", "300")
	t.Setenv("MAX_HISTORY", "120")
	t.Setenv("RETAIN_WINDOWS", "0")
	t.Setenv("SMA_PERIODS", "3, 5,,9")
	t.Setenv("MACD_PARAMS", "12:26:9,5:35:5")
	t.Setenv("INDICATOR_FAMILIES", "SMA,macd")
	t.Setenv("TRADE_SOURCE", "sim")
	t.Setenv("KRAKEN_PAIRS", "XBT/USD, ETH/USD ,")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_BREAKER_RESET", "3s")
	t.Setenv("SQLITE_RETENTION", "72h")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Engine.CandleSeconds)
	assert.Equal(t, 120, cfg.Engine.MaxHistory)
	assert.Equal(t, 0, cfg.Engine.RetainWindows)
	assert.Equal(t, []int{3, 5, 9}, cfg.Indicators.SMA)
	assert.Equal(t, []indicator.MACDParams{{Fast: 12, Slow: 26, Signal: 9}, {Fast: 5, Slow: 35, Signal: 5}}, cfg.Indicators.MACD)
	assert.Equal(t, []indicator.Family{indicator.FamilySMA, indicator.FamilyMACD}, cfg.Indicators.Families)
	assert.Equal(t, SourceSim, cfg.Source)
	assert.Equal(t, []string{"XBT/USD", "ETH/USD"}, cfg.Kraken.Pairs)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Redis.BreakerReset)
	assert.Equal(t, 72*time.Hour, cfg.SQLite.Retention)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_MalformedEnvIsReported(t *testing.T) {
	t.Setenv("CANDLE_SECONDS", "sixty")
	t.Setenv("RSI_PERIODS", "7,x")
	t.Setenv("REDIS_ENABLED", "maybe")

	_, err := LoadFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CANDLE_SECONDS")
	assert.Contains(t, err.Error(), "RSI_PERIODS")
	assert.Contains(t, err.Error(), "REDIS_ENABLED")
	assert.ErrorIs(t, err, model.ErrInvalidPeriod)
}

func TestLoadFile_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
trade_source = "redis"
log_format = "text"

[engine]
candle_seconds = 15
max_history = 30

[indicators]
families = ["sma", "rsi"]
sma_periods = [5, 10]
rsi_periods = [14]

[redis]
enabled = true
addr = "redis:6379"
trade_streams = ["trades:kraken"]
breaker_reset = "5s"

[postgres]
enabled = true
table = "ti_15s"
`), 0o600))

	// Environment still wins over the file.
	t.Setenv("MAX_HISTORY", "40")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, SourceRedis, cfg.Source)
	assert.Equal(t, 15, cfg.Engine.CandleSeconds)
	assert.Equal(t, 40, cfg.Engine.MaxHistory)
	assert.Equal(t, 8, cfg.Engine.RetainWindows, "unset keys keep their defaults")
	assert.Equal(t, []int{5, 10}, cfg.Indicators.SMA)
	assert.Equal(t, []int{14}, cfg.Indicators.RSI)
	assert.Equal(t, []string{"trades:kraken"}, cfg.Redis.TradeStreams)
	assert.Equal(t, 5*time.Second, cfg.Redis.BreakerReset)
	assert.Equal(t, "ti_15s", cfg.Postgres.Table)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.CandleSeconds = 0
	cfg.Engine.MaxHistory = 20
	cfg.Engine.RetainWindows = -1
	cfg.Indicators.SMA = []int{7, 60} // 60 > max_history
	cfg.Source = "kafka"
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))
	assert.ErrorIs(t, err, model.ErrInvalidPeriod)
	for _, want := range []string{"candle_seconds", "retain_windows", "kafka", "log_format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_SourceRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.Source = SourceRedis
	assert.ErrorContains(t, cfg.Validate(), "redis.enabled")

	cfg.Redis.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.Source = SourceRedisCandles
	assert.ErrorContains(t, cfg.Validate(), "candle_streams")

	cfg = Defaults()
	cfg.Kraken.Pairs = nil
	assert.ErrorContains(t, cfg.Validate(), "kraken.pairs")
}

func TestValidate_Bounds(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"candle_seconds max", func(c *Config) { c.Engine.CandleSeconds = 86400 }, true},
		{"candle_seconds over", func(c *Config) { c.Engine.CandleSeconds = 86401 }, false},
		{"max_history max", func(c *Config) { c.Engine.MaxHistory = 10000 }, true},
		{"max_history over", func(c *Config) { c.Engine.MaxHistory = 10001 }, false},
		{"retain unbounded", func(c *Config) { c.Engine.RetainWindows = 0 }, true},
		{"bad postgres table", func(c *Config) { c.Postgres.Enabled = true; c.Postgres.Table = "1x" }, false},
		{"negative retention", func(c *Config) { c.SQLite.Retention = -time.Hour }, false},
		{"unknown family", func(c *Config) { c.Indicators.Families = []indicator.Family{"vwap"} }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mut(&cfg)
			if tc.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestPostgresClientConfig(t *testing.T) {
	p := Defaults().Postgres
	c := p.Client()
	assert.Equal(t, p.Host, c.Host)
	assert.Equal(t, p.Port, c.Port)
	assert.Equal(t, p.Database, c.Database)
}
