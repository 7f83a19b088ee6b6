package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProbeFunc checks one dependency. A nil error means healthy.
type ProbeFunc func(ctx context.Context) error

// RedisProbe pings a Redis client.
func RedisProbe(rdb *goredis.Client) ProbeFunc {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

// SQLProbe pings a database/sql handle.
func SQLProbe(db *sql.DB) ProbeFunc {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}

type probeResult struct {
	fn        ProbeFunc
	ok        bool
	latencyMs float64
	lastErr   string
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	sourceConnected bool
	lastTradeTime   time.Time
	candleSeconds   int
	pairs           int

	probes      map[string]*probeResult
	lastCheckAt time.Time
	startedAt   time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(candleSeconds int) *HealthStatus {
	return &HealthStatus{
		candleSeconds: candleSeconds,
		probes:        make(map[string]*probeResult, 4),
		startedAt:     time.Now(),
	}
}

func (h *HealthStatus) SetSourceConnected(v bool) {
	h.mu.Lock()
	h.sourceConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTradeTime(t time.Time) {
	h.mu.Lock()
	h.lastTradeTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetPairs(n int) {
	h.mu.Lock()
	h.pairs = n
	h.mu.Unlock()
}

// AddProbe registers a dependency check. Probes start unhealthy until the
// first check runs.
func (h *HealthStatus) AddProbe(name string, fn ProbeFunc) {
	h.mu.Lock()
	h.probes[name] = &probeResult{fn: fn}
	h.mu.Unlock()
}

// CheckAll runs every registered probe and records latency + health.
func (h *HealthStatus) CheckAll(ctx context.Context) {
	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	fns := make([]ProbeFunc, 0, len(h.probes))
	for name, p := range h.probes {
		names = append(names, name)
		fns = append(fns, p.fn)
	}
	h.mu.RUnlock()

	for i, fn := range fns {
		start := time.Now()
		err := fn(ctx)
		latency := time.Since(start)

		h.mu.Lock()
		p := h.probes[names[i]]
		p.ok = err == nil
		p.latencyMs = float64(latency.Microseconds()) / 1000.0
		p.lastErr = ""
		if err != nil {
			p.lastErr = err.Error()
		}
		h.lastCheckAt = time.Now()
		h.mu.Unlock()
	}
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		h.CheckAll(probeCtx)
		cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckAll(probeCtx)
				cancel()
			}
		}
	}()
}

type probeStatus struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	failed := 0
	names := make([]string, 0, len(h.probes))
	for name, p := range h.probes {
		names = append(names, name)
		if !p.ok {
			failed++
		}
	}
	sort.Strings(names)

	if !h.sourceConnected || failed > 0 {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if len(h.probes) > 0 && failed == len(h.probes) {
		overallStatus = "unhealthy"
	}

	tradeAge := ""
	if !h.lastTradeTime.IsZero() {
		tradeAge = time.Since(h.lastTradeTime).Round(time.Millisecond).String()
	}

	deps := make(map[string]probeStatus, len(names))
	for _, name := range names {
		p := h.probes[name]
		deps[name] = probeStatus{OK: p.ok, LatencyMs: p.latencyMs, Error: p.lastErr}
	}

	status := struct {
		Status          string                 `json:"status"`
		Uptime          string                 `json:"uptime"`
		SourceConnected bool                   `json:"source_connected"`
		LastTradeTime   string                 `json:"last_trade_time"`
		TradeAge        string                 `json:"trade_age"`
		CandleSeconds   int                    `json:"candle_seconds"`
		Pairs           int                    `json:"pairs"`
		Dependencies    map[string]probeStatus `json:"dependencies"`
		LastCheckAt     string                 `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.startedAt).Round(time.Second).String(),
		SourceConnected: h.sourceConnected,
		LastTradeTime:   h.lastTradeTime.Format(time.RFC3339),
		TradeAge:        tradeAge,
		CandleSeconds:   h.candleSeconds,
		Pairs:           h.pairs,
		Dependencies:    deps,
		LastCheckAt:     h.lastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer may be nil for the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
