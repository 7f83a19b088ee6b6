// cmd/tickserver is a demo trade server.
// Broadcasts simulated trades in the Kraken v2 websocket format so the candle
// engine can run against it without touching the real exchange:
//
//	{"channel":"trade","type":"update","data":[{"symbol":"BTC/USD","side":"buy","price":64010.5,"qty":0.12,"ord_type":"market","trade_id":7,"timestamp":"..."}]}
//
// When TICK_REDIS_ADDR is set the same trades are also appended to a Redis
// stream, which feeds the engine's "redis" trade source.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR   listen address  (default: ":9001")
//	TICK_PAIRS         comma-separated PAIR[:PRICE] list (default: "BTC/USD,ETH/USD")
//	TICK_INTERVAL_MS   broadcast interval milliseconds (default: "100")
//	TICK_REDIS_ADDR    Redis address for stream mode (default: unset)
//	TICK_REDIS_STREAM  stream name (default: "trades")
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"candlestream/internal/marketdata/sim"
	"candlestream/internal/model"
	redisstore "candlestream/internal/store/redis"

	"github.com/gorilla/websocket"
)

// ─── Wire format ─────────────────────────────────────────────────────────────

type tradeFrame struct {
	Channel string      `json:"channel"`
	Type    string      `json:"type"`
	Data    []tradeItem `json:"data"`
}

type tradeItem struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Qty       float64 `json:"qty"`
	OrdType   string  `json:"ord_type"`
	TradeID   int64   `json:"trade_id"`
	Timestamp string  `json:"timestamp"`
}

type subscribeAck struct {
	Method  string `json:"method"`
	Success bool   `json:"success"`
	TimeIn  string `json:"time_in"`
	TimeOut string `json:"time_out"`
}

// encodeTrades renders trades as one Kraken v2 trade update frame.
// nextID supplies increasing trade ids.
func encodeTrades(trades []model.Trade, nextID func() int64) ([]byte, error) {
	frame := tradeFrame{Channel: "trade", Type: "update", Data: make([]tradeItem, len(trades))}
	for i, t := range trades {
		side := "buy"
		if i%2 == 1 {
			side = "sell"
		}
		frame.Data[i] = tradeItem{
			Symbol:    t.Pair,
			Side:      side,
			Price:     t.Price,
			Qty:       t.Quantity,
			OrdType:   "market",
			TradeID:   nextID(),
			Timestamp: time.UnixMilli(t.EventTimeMs).UTC().Format(time.RFC3339Nano),
		}
	}
	return json.Marshal(frame)
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop frame
		}
	}
}

// send queues a frame for one client.
func (h *hub) send(conn *websocket.Conn, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if ch, ok := h.clients[conn]; ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Read pump: acknowledges subscribe requests, exits on disconnect.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var req struct {
					Method string `json:"method"`
				}
				if json.Unmarshal(raw, &req) == nil && req.Method == "subscribe" {
					now := time.Now().UTC().Format(time.RFC3339Nano)
					ack, _ := json.Marshal(subscribeAck{Method: "subscribe", Success: true, TimeIn: now, TimeOut: now})
					h.send(conn, ack)
				}
			}
		}()

		// Write pump.
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}
	}
}

// ─── Trade generator ─────────────────────────────────────────────────────────

func runGenerator(ctx context.Context, h *hub, gen *sim.Generator, interval time.Duration, stream *redisstore.Writer, streamName string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var id int64
	nextID := func() int64 { id++; return id }

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		trades := gen.Next()
		b, err := encodeTrades(trades, nextID)
		if err != nil {
			log.Printf("[tickserver] encode: %v", err)
			continue
		}
		h.broadcast(b)

		if stream != nil {
			if err := stream.AppendTrades(ctx, streamName, trades); err != nil {
				log.Printf("[tickserver] redis: %v", err)
			}
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo trade server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	instruments := sim.ParseInstruments(envOrDefault("TICK_PAIRS", "BTC/USD,ETH/USD"))
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 100)
	redisAddr := os.Getenv("TICK_REDIS_ADDR")
	streamName := envOrDefault("TICK_REDIS_STREAM", redisstore.DefaultTradeStream)

	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_PAIRS")
	}
	log.Printf("[tickserver] instruments: %+v", instruments)
	log.Printf("[tickserver] broadcast interval: %dms", intervalMs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stream *redisstore.Writer
	if redisAddr != "" {
		w, err := redisstore.New(redisstore.WriterConfig{Addr: redisAddr})
		if err != nil {
			log.Fatalf("[tickserver] redis init failed: %v", err)
		}
		defer w.Close()
		stream = w
		log.Printf("[tickserver] appending trades to redis stream %q at %s", streamName, redisAddr)
	}

	interval := time.Duration(intervalMs) * time.Millisecond
	gen := sim.New(sim.Config{Instruments: instruments, Interval: interval})
	h := newHub()
	go runGenerator(ctx, h, gen, interval, stream, streamName)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[tickserver] listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
