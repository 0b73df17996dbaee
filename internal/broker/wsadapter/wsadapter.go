// Package wsadapter is a streaming-price broker.Adapter, grounded on
// the reconnect-with-backoff WSFeed pattern from the example pack's
// market-data feeds: a single goroutine dials a public price stream,
// auto-reconnects with exponential backoff, and keeps a live price
// cache the adapter reads under a mutex. Order submission, cash, and
// position queries are delegated to an injected REST driver (e.g. an
// HTTP bridge) since the spec's Adapter Contract treats those as
// separate atomic operations from the price feed itself.
package wsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantada/brokercore/internal/broker"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// tick is the minimal wire shape this feed understands: a symbol and
// its latest trade price. Real venues nest this under an event-type
// envelope; callers needing that should wrap dispatch themselves.
type tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// RESTDriver supplies the non-streaming half of the Adapter contract.
// wsadapter.Adapter embeds one so order submission and account state
// don't need their own websocket round trip.
type RESTDriver interface {
	Name() string
	FetchCash(ctx context.Context) (float64, error)
	FetchPosition(ctx context.Context, symbol string) (broker.Position, error)
	FetchPendingOrders(ctx context.Context) ([]broker.PendingOrder, error)
	SubmitOrder(ctx context.Context, symbol string, side broker.Side, size float64, referencePrice float64) (*broker.OrderHandle, error)
}

// Adapter streams live prices over a websocket while delegating
// everything else to rest.
type Adapter struct {
	url    string
	rest   RESTDriver
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	pricesMu sync.RWMutex
	prices   map[string]float64

	subscribedMu sync.RWMutex
	subscribed   map[string]bool
}

func New(url string, rest RESTDriver, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		url:        url,
		rest:       rest,
		logger:     logger.With("component", "wsadapter"),
		prices:     make(map[string]float64),
		subscribed: make(map[string]bool),
	}
}

func (a *Adapter) Name() string     { return a.rest.Name() + "+ws" }
func (a *Adapter) IsLiveMode() bool { return true }

// Run connects and maintains the websocket connection with auto
// reconnect/backoff, exactly like the pack's market feeds. Blocks
// until ctx is cancelled; the core should run this in its own
// goroutine before starting self-heal.
func (a *Adapter) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := a.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("price feed disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds symbols to the live feed, re-sent on every reconnect.
func (a *Adapter) Subscribe(symbols []string) {
	a.subscribedMu.Lock()
	defer a.subscribedMu.Unlock()
	for _, s := range symbols {
		a.subscribed[s] = true
	}
}

func (a *Adapter) Close() error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *Adapter) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()
	defer func() {
		a.connMu.Lock()
		conn.Close()
		a.conn = nil
		a.connMu.Unlock()
	}()

	if err := a.sendSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	a.logger.Info("price feed connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		a.dispatch(msg)
	}
}

func (a *Adapter) sendSubscription() error {
	a.subscribedMu.RLock()
	ids := make([]string, 0, len(a.subscribed))
	for id := range a.subscribed {
		ids = append(ids, id)
	}
	a.subscribedMu.RUnlock()

	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("not connected")
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteJSON(map[string]any{"op": "subscribe", "symbols": ids})
}

func (a *Adapter) dispatch(data []byte) {
	var t tick
	if err := json.Unmarshal(data, &t); err != nil || t.Symbol == "" {
		a.logger.Debug("ignoring unrecognized feed message", "data", string(data))
		return
	}
	a.pricesMu.Lock()
	a.prices[t.Symbol] = t.Price
	a.pricesMu.Unlock()
}

func (a *Adapter) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	a.pricesMu.RLock()
	defer a.pricesMu.RUnlock()
	p, ok := a.prices[symbol]
	if !ok || p <= 0 {
		return 0, fmt.Errorf("wsadapter: no live price for %s", symbol)
	}
	return p, nil
}

func (a *Adapter) FetchCash(ctx context.Context) (float64, error) {
	return a.rest.FetchCash(ctx)
}

func (a *Adapter) FetchPosition(ctx context.Context, symbol string) (broker.Position, error) {
	return a.rest.FetchPosition(ctx, symbol)
}

func (a *Adapter) FetchPendingOrders(ctx context.Context) ([]broker.PendingOrder, error) {
	return a.rest.FetchPendingOrders(ctx)
}

func (a *Adapter) SubmitOrder(ctx context.Context, symbol string, side broker.Side, size float64, referencePrice float64) (*broker.OrderHandle, error) {
	return a.rest.SubmitOrder(ctx, symbol, side, size, referencePrice)
}
