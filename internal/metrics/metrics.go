package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the candle engine.
type Metrics struct {
	// Ingest
	TradesTotal             prometheus.Counter
	DroppedTrades           *prometheus.CounterVec // labels: reason
	TradeValidationWarnings prometheus.Counter
	SourceReconnects        prometheus.Counter
	PELMessagesReclaimed    prometheus.Counter

	// Aggregation
	CandleUpdatesTotal       prometheus.Counter
	CandleValidationFailures prometheus.Counter
	LateTrades               prometheus.Counter
	WindowsEvicted           prometheus.Counter
	OpenWindows              prometheus.Gauge
	IgnoredCandles           prometheus.Counter // candle_seconds mismatch

	// History + indicators
	HistoryEvictions      prometheus.Counter
	PairsActive           prometheus.Gauge
	IndicatorRecordsTotal prometheus.Counter
	IndicatorSkips        *prometheus.CounterVec // labels: indicator
	ProcessDur            prometheus.Histogram
	E2ELatency            prometheus.Histogram // trade event time to record emit

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Sinks
	RedisWriteDur     prometheus.Histogram
	SQLiteCommitDur   prometheus.Histogram
	PostgresUpsertDur prometheus.Histogram
	SinkErrors        *prometheus.CounterVec // labels: sink

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
}

// NewMetrics registers and returns all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg. A nil reg skips registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	fastBuckets := []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005}

	m := &Metrics{
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_trades_total",
			Help: "Total trades received from the trade source",
		}),
		DroppedTrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleengine_dropped_trades_total",
			Help: "Trades dropped before aggregation (by reason)",
		}, []string{"reason"}),
		TradeValidationWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_trade_validation_warnings_total",
			Help: "Trades that failed advisory validation (still processed)",
		}),
		SourceReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_source_reconnects_total",
			Help: "Total trade source reconnection attempts",
		}),
		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_pel_messages_reclaimed_total",
			Help: "Trade stream messages reclaimed from dead consumers via XCLAIM",
		}),

		CandleUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_candle_updates_total",
			Help: "Total candle snapshots emitted (one per trade)",
		}),
		CandleValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_candle_validation_failures_total",
			Help: "Candle snapshots that violated OHLCV invariants (forwarded anyway)",
		}),
		LateTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_late_trades_total",
			Help: "Trades rejected because their window fell behind the retention horizon",
		}),
		WindowsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_windows_evicted_total",
			Help: "Window accumulators evicted by the retention policy",
		}),
		OpenWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleengine_open_windows",
			Help: "Window accumulators currently resident",
		}),
		IgnoredCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_ignored_candles_total",
			Help: "Pre-built candles ignored because candle_seconds did not match",
		}),

		HistoryEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_history_evictions_total",
			Help: "Candles evicted from full pair histories",
		}),
		PairsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleengine_pairs_active",
			Help: "Pairs with a running worker",
		}),
		IndicatorRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_indicator_records_total",
			Help: "Total indicator records produced",
		}),
		IndicatorSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleengine_indicator_skips_total",
			Help: "Indicator values left absent (insufficient history or non-finite)",
		}, []string{"indicator"}),
		ProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleengine_process_duration_seconds",
			Help:    "Per-trade processing latency (aggregate, validate, history, indicators)",
			Buckets: fastBuckets,
		}),
		E2ELatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleengine_e2e_latency_seconds",
			Help:    "Latency from trade event time to indicator record emission",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5},
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleengine_fanout_drops_total",
			Help: "Records dropped by the FanOut bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "candleengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleengine_redis_write_duration_seconds",
			Help:    "Redis pipeline write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleengine_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		PostgresUpsertDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleengine_postgres_upsert_duration_seconds",
			Help:    "Postgres batch upsert latency",
			Buckets: prometheus.DefBuckets,
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleengine_sink_errors_total",
			Help: "Write errors per record sink",
		}, []string{"sink"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleengine_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TradesTotal,
			m.DroppedTrades,
			m.TradeValidationWarnings,
			m.SourceReconnects,
			m.PELMessagesReclaimed,
			m.CandleUpdatesTotal,
			m.CandleValidationFailures,
			m.LateTrades,
			m.WindowsEvicted,
			m.OpenWindows,
			m.IgnoredCandles,
			m.HistoryEvictions,
			m.PairsActive,
			m.IndicatorRecordsTotal,
			m.IndicatorSkips,
			m.ProcessDur,
			m.E2ELatency,
			m.FanoutDropsTotal,
			m.ChannelSaturationPct,
			m.RedisWriteDur,
			m.SQLiteCommitDur,
			m.PostgresUpsertDur,
			m.SinkErrors,
			m.RedisCircuitBreakerState,
			m.RedisCircuitBreakerTrips,
			m.RedisBufferedWrites,
		)
	}

	return m
}
