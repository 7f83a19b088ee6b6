package postgres

import (
	"strings"
	"testing"

	"candlestream/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/dev?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "dev"}))
	assert.Equal(t, "postgres://root:@localhost:4566/dev?sslmode=require",
		DSN(ClientConfig{User: "root", Host: "localhost", Port: 4566, Database: "dev", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestValidateTableName(t *testing.T) {
	assert.NoError(t, ValidateTableName("technical_indicators"))
	assert.NoError(t, ValidateTableName("t1"))

	for _, bad := range []string{"", "1abc", "drop table;", "a-b", strings.Repeat("a", 64)} {
		assert.Error(t, ValidateTableName(bad), bad)
	}
}

func TestCreateTableSQL(t *testing.T) {
	sql := createTableSQL("technical_indicators", []string{"sma_7", "macd_7", "obv"})

	assert.True(t, strings.HasPrefix(sql, `CREATE TABLE IF NOT EXISTS "technical_indicators" (`))
	assert.Contains(t, sql, `"sma_7" FLOAT`)
	assert.Contains(t, sql, `"macd_7" FLOAT`)
	assert.Contains(t, sql, `"obv" FLOAT`)
	assert.Contains(t, sql, "PRIMARY KEY (pair, window_start_ms, window_end_ms)")
}

func TestAddColumnsSQL(t *testing.T) {
	stmts := addColumnsSQL("ti", []string{"rsi_14"})
	require.Len(t, stmts, 1)
	assert.Equal(t, `ALTER TABLE "ti" ADD COLUMN IF NOT EXISTS "rsi_14" FLOAT`, stmts[0])
}

func TestUpsertSQL(t *testing.T) {
	sql := upsertSQL("ti", []string{"sma_7", "obv"})

	assert.Contains(t, sql, `INSERT INTO "ti" ("pair", "open", "high", "low", "close", "volume", "window_start_ms", "window_end_ms", "candle_seconds", "sma_7", "obv")`)
	assert.Contains(t, sql, "VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)")
	assert.Contains(t, sql, "ON CONFLICT (pair, window_start_ms, window_end_ms) DO UPDATE SET")
	assert.Contains(t, sql, `"sma_7" = EXCLUDED."sma_7"`)
	assert.Contains(t, sql, `"close" = EXCLUDED."close"`)
	assert.NotContains(t, sql, `"pair" = EXCLUDED`)
	assert.NotContains(t, sql, `"window_start_ms" = EXCLUDED`)
}

func TestUpsertArgs_AbsentIsNil(t *testing.T) {
	v := 12.5
	rec := model.IndicatorRecord{
		Candle: model.Candle{
			Pair: "XBT/USD", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3,
			WindowStartMs: 60_000, WindowEndMs: 120_000, CandleSeconds: 60,
		},
		Indicators: map[string]*float64{"sma_7": &v, "obv": nil},
	}

	args := upsertArgs(&rec, []string{"sma_7", "obv", "rsi_14"})
	require.Len(t, args, 12)
	assert.Equal(t, "XBT/USD", args[0])
	assert.Equal(t, int64(60_000), args[6])
	assert.Equal(t, 60, args[8])
	assert.Equal(t, &v, args[9])
	assert.Nil(t, args[10].(*float64))
	assert.Nil(t, args[11].(*float64), "keys missing from the record bind as NULL")
}
