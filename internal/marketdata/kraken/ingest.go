// Package kraken streams live trades from the Kraken v2 WebSocket API.
//
// After connecting, the client subscribes to the public "trade" channel:
//
//	{"method":"subscribe","params":{"channel":"trade","symbol":["BTC/USD"],"snapshot":false}}
//
// and converts every item of a trade message's "data" array into a
// model.Trade. Heartbeats, status and subscription acks are ignored.
package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"candlestream/internal/model"

	"github.com/gorilla/websocket"
)

// DefaultURL is the public Kraken v2 WebSocket endpoint.
const DefaultURL = "wss://ws.kraken.com/v2"

// Config holds configuration for the Kraken ingest.
type Config struct {
	// URL of the WebSocket endpoint. Defaults to DefaultURL.
	URL string

	// Pairs to subscribe to, e.g. ["BTC/USD", "ETH/USD"].
	Pairs []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest connects to Kraken and pushes trades into the output channel.
type Ingest struct {
	cfg Config

	// Optional hooks
	OnReconnect  func()
	OnConnect    func()
	OnDisconnect func()
}

// New creates a new Ingest. Returns an error if the URL is unparseable or
// no pairs are configured.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("kraken ingest: parse url: %w", err)
	}
	if len(cfg.Pairs) == 0 {
		return nil, errors.New("kraken ingest: no pairs configured")
	}
	return &Ingest{cfg: cfg}, nil
}

// Start connects to the WebSocket and streams trades into out.
// Blocks until ctx is cancelled. Reconnects automatically on disconnect.
func (ing *Ingest) Start(ctx context.Context, out chan<- model.Trade) error {
	delay := ing.cfg.ReconnectDelay

	for {
		// Check context before each attempt
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := ing.runOnce(ctx, out)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}
		if connected {
			// A session that got as far as subscribing resets the backoff.
			delay = ing.cfg.ReconnectDelay
		}

		log.Printf("[kraken] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

type subscribeRequest struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channel  string   `json:"channel"`
	Symbol   []string `json:"symbol"`
	Snapshot bool     `json:"snapshot"`
}

// runOnce makes a single connection attempt and reads until disconnect or ctx cancel.
func (ing *Ingest) runOnce(ctx context.Context, out chan<- model.Trade) (connected bool, err error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	sub := subscribeRequest{
		Method: "subscribe",
		Params: subscribeParams{Channel: "trade", Symbol: ing.cfg.Pairs, Snapshot: false},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[kraken] connected to %s, subscribed to %v", ing.cfg.URL, ing.cfg.Pairs)

	if ing.OnConnect != nil {
		ing.OnConnect()
	}
	if ing.OnDisconnect != nil {
		defer ing.OnDisconnect()
	}

	// Async context watcher: closes the connection when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Check if it's a context cancellation
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		trades, err := ParseMessage(raw)
		if err != nil {
			log.Printf("[kraken] parse error: %v (raw: %s)", err, raw)
			continue
		}

		for _, t := range trades {
			select {
			case out <- t:
			case <-ctx.Done():
				return true, nil
			}
		}
	}
}

// message is the envelope shared by every Kraken v2 push message.
type message struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`

	// Method responses (subscribe acks, errors)
	Method  string `json:"method"`
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

type tradeItem struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Qty       float64 `json:"qty"`
	OrdType   string  `json:"ord_type"`
	TradeID   int64   `json:"trade_id"`
	Timestamp string  `json:"timestamp"` // RFC3339 with fractional seconds
}

// ParseMessage decodes one WebSocket frame. Non-trade frames yield no trades
// and no error; a rejected subscription is reported as an error.
func ParseMessage(raw []byte) ([]model.Trade, error) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}

	if msg.Method != "" {
		if msg.Success != nil && !*msg.Success {
			return nil, fmt.Errorf("%s rejected: %s", msg.Method, msg.Error)
		}
		return nil, nil
	}
	if msg.Channel != "trade" || len(msg.Data) == 0 {
		return nil, nil // heartbeat, status, ...
	}

	var items []tradeItem
	if err := json.Unmarshal(msg.Data, &items); err != nil {
		return nil, fmt.Errorf("trade data: %w", err)
	}

	trades := make([]model.Trade, 0, len(items))
	for _, it := range items {
		ts, err := time.Parse(time.RFC3339Nano, it.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("trade %d timestamp %q: %w", it.TradeID, it.Timestamp, err)
		}
		trades = append(trades, model.Trade{
			Pair:        it.Symbol,
			Price:       it.Price,
			Quantity:    it.Qty,
			EventTimeMs: ts.UnixMilli(),
		})
	}
	return trades, nil
}
