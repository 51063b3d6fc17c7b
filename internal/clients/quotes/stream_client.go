// Package quotes provides a streaming price feed over WebSocket.
package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"
)

const (
	// WebSocket connection constants
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	// Reconnection constants
	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// ErrNotConnected is returned by Quotes while the stream is down
var ErrNotConnected = errors.New("quote stream not connected")

// message is the wire format. Servers send either a single "quote" or a
// "snapshot" carrying several.
type message struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol,omitempty"`
	Price  string      `json:"price,omitempty"`
	AsOf   string      `json:"as_of,omitempty"`
	Quotes []wireQuote `json:"quotes,omitempty"`
}

type wireQuote struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	AsOf   string `json:"as_of"`
}

type subscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// StreamClient keeps a live quote cache fed by a WebSocket stream and serves
// it as a domain.PriceFeed
type StreamClient struct {
	// Connection
	url        string
	httpClient *http.Client
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	log zerolog.Logger

	// State
	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	// Cache and subscriptions
	cache      map[string]domain.Quote
	symbols    map[string]bool
	lastUpdate time.Time
	cacheMu    sync.RWMutex
}

// NewStreamClient creates a stream client subscribed to symbols
func NewStreamClient(url string, symbols []string, log zerolog.Logger) *StreamClient {
	c := &StreamClient{
		url: url,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2: false,
			},
		},
		log:      log.With().Str("component", "quote_stream").Logger(),
		stopChan: make(chan struct{}),
		cache:    make(map[string]domain.Quote),
		symbols:  make(map[string]bool),
	}
	for _, s := range symbols {
		c.symbols[s] = true
	}
	return c
}

// Start connects and starts the read loop. A failed first connection is
// retried in the background and still reported.
func (c *StreamClient) Start() error {
	c.log.Info().Str("url", c.url).Msg("Starting quote stream client")

	if err := c.Connect(); err != nil {
		c.log.Warn().Err(err).Msg("Initial quote stream connection failed, will retry in background")
		go c.reconnectLoop()
		return err
	}

	c.mu.RLock()
	ctx := c.connCtx
	c.mu.RUnlock()
	go c.readMessages(ctx)
	return nil
}

// Stop shuts the stream down
func (c *StreamClient) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.log.Info().Msg("Stopping quote stream client")
	close(c.stopChan)
	return c.Disconnect()
}

// Connect dials the stream and subscribes to the current symbol set
func (c *StreamClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial quote stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = connCancel
	c.connected = true

	if err := c.subscribe(connCtx, c.subscribedSymbols()); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		c.conn = nil
		c.connCtx = nil
		c.cancelFunc = nil
		c.connected = false
		return fmt.Errorf("failed to subscribe to quotes: %w", err)
	}

	c.log.Info().Msg("Connected to quote stream")
	return nil
}

// Disconnect closes the connection
func (c *StreamClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	c.connCtx = nil
	c.connected = false

	if err != nil {
		return fmt.Errorf("error closing quote stream: %w", err)
	}
	return nil
}

// subscribe sends a subscription; the caller holds mu
func (c *StreamClient) subscribe(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	data, err := json.Marshal(subscribeMessage{Action: "subscribe", Symbols: symbols})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}

	c.log.Debug().Strs("symbols", symbols).Msg("Subscribed to quotes")
	return nil
}

func (c *StreamClient) subscribedSymbols() []string {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (c *StreamClient) readMessages(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		stopped := c.stopped
		c.mu.Unlock()
		if !stopped {
			go c.reconnectLoop()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, data, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				c.log.Info().Int("status", int(closeStatus)).Msg("Quote stream closed normally")
			} else if ctx.Err() != nil {
				c.log.Debug().Msg("Read cancelled by context")
			} else {
				c.log.Error().Err(err).Msg("Unexpected quote stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}
		if err := c.handleMessage(data); err != nil {
			c.log.Error().Err(err).Str("message", string(data)).Msg("Failed to handle quote message")
		}
	}
}

func (c *StreamClient) handleMessage(data []byte) error {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}

	var wire []wireQuote
	switch msg.Type {
	case "quote":
		wire = []wireQuote{{Symbol: msg.Symbol, Price: msg.Price, AsOf: msg.AsOf}}
	case "snapshot":
		wire = msg.Quotes
	default:
		c.log.Debug().Str("type", msg.Type).Msg("Ignoring message")
		return nil
	}

	quotes := make([]domain.Quote, 0, len(wire))
	for _, w := range wire {
		q, err := w.toQuote()
		if err != nil {
			return err
		}
		quotes = append(quotes, q)
	}

	c.cacheMu.Lock()
	for _, q := range quotes {
		if existing, ok := c.cache[q.Symbol]; ok && q.AsOf.Before(existing.AsOf) {
			continue
		}
		c.cache[q.Symbol] = q
	}
	c.lastUpdate = time.Now()
	c.cacheMu.Unlock()

	c.log.Debug().Int("quotes", len(quotes)).Msg("Quote cache updated")
	return nil
}

func (w wireQuote) toQuote() (domain.Quote, error) {
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("invalid price for %s: %w", w.Symbol, err)
	}
	asOf, err := time.Parse(time.RFC3339Nano, w.AsOf)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("invalid as_of for %s: %w", w.Symbol, err)
	}
	if w.Symbol == "" {
		return domain.Quote{}, errors.New("quote without symbol")
	}
	return domain.Quote{Symbol: w.Symbol, Price: price, AsOf: asOf.UTC()}, nil
}

func (c *StreamClient) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting || c.stopped {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		attempt++
		delay := calculateBackoff(attempt)

		if attempt <= maxReconnectAttempts {
			c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Attempting to reconnect to quote stream")
		} else {
			c.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnection attempt (exceeded max attempts, will keep retrying)")
		}

		select {
		case <-time.After(delay):
		case <-c.stopChan:
			return
		}

		if err := c.Connect(); err != nil {
			c.log.Error().Err(err).Int("attempt", attempt).Msg("Reconnection failed")
			continue
		}

		c.mu.RLock()
		ctx := c.connCtx
		c.mu.RUnlock()
		go c.readMessages(ctx)
		return
	}
}

// calculateBackoff doubles the delay per attempt up to maxReconnectDelay
func calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// Quotes implements domain.PriceFeed from the cache. Symbols not yet
// subscribed are subscribed now and show up in later calls.
func (c *StreamClient) Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	var added []string
	c.cacheMu.Lock()
	for _, s := range symbols {
		if !c.symbols[s] {
			c.symbols[s] = true
			added = append(added, s)
		}
	}
	out := make(map[string]domain.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := c.cache[s]; ok {
			out[s] = q
		}
	}
	c.cacheMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return nil, ErrNotConnected
	}
	if len(added) > 0 {
		if err := c.subscribe(ctx, added); err != nil {
			c.log.Warn().Err(err).Msg("Failed to extend quote subscription")
		}
	}
	return out, nil
}

// IsConnected returns current connection status
func (c *StreamClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// LastUpdate returns when the cache last changed
func (c *StreamClient) LastUpdate() time.Time {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return c.lastUpdate
}
