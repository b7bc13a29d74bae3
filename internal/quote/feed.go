package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"broker-simv1/internal/metrics"
	"broker-simv1/internal/model"
)

const (
	feedHeartbeatInterval = 10 * time.Second
	feedReadTimeout       = 30 * time.Second
	feedMaxBackoff        = 30 * time.Second
)

// FeedConfig configures the streaming quote feed.
type FeedConfig struct {
	URL     string   // websocket endpoint
	Symbols []string // symbols to subscribe on connect
	Health  *metrics.HealthStatus
}

// feedTick is one price update from the upstream feed.
type feedTick struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	PreviousClose decimal.Decimal `json:"previous_close"`
}

// Feed is a streaming quote source over a websocket. It keeps the latest
// price per symbol in memory and reconnects with backoff when the upstream
// drops. GetQuote never blocks on the network.
type Feed struct {
	cfg    FeedConfig
	dialer *websocket.Dialer

	mu     sync.RWMutex
	latest map[string]model.Quote

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeed creates a Feed. Call Start to begin streaming.
func NewFeed(cfg FeedConfig) *Feed {
	return &Feed{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		latest: make(map[string]model.Quote),
		done:   make(chan struct{}),
	}
}

// Start launches the connect/read loop. It returns immediately; quotes
// become available as ticks arrive.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	go f.run(ctx)
}

// Stop tears down the connection loop and waits for it to exit.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	<-f.done
}

// GetQuote returns the latest streamed quote for a symbol.
func (f *Feed) GetQuote(_ context.Context, symbol string) (model.Quote, error) {
	upper := strings.ToUpper(symbol)
	f.mu.RLock()
	q, ok := f.latest[upper]
	f.mu.RUnlock()
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: no tick received for %s", model.ErrQuoteUnavailable, upper)
	}
	return q, nil
}

// run reconnects forever with exponential backoff until ctx is cancelled.
func (f *Feed) run(ctx context.Context) {
	defer close(f.done)

	backoff := time.Second
	for {
		if err := f.session(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[quote-feed] session ended: %v (reconnect in %v)", err, backoff)
		}
		f.setConnected(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > feedMaxBackoff {
			backoff = feedMaxBackoff
		}
	}
}

// session runs one websocket connection: dial, subscribe, read until error.
func (f *Feed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	if err := f.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("[quote-feed] connected to %s (%d symbols)", f.cfg.URL, len(f.cfg.Symbols))
	f.setConnected(true)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	})
	go f.heartbeat(ctx, conn)

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var tick feedTick
		if err := json.Unmarshal(msg, &tick); err != nil {
			log.Printf("[quote-feed] bad tick: %v", err)
			continue
		}
		f.apply(tick)
	}
}

// subscribe sends the subscription request for the configured symbols,
// using the upstream's pair naming for crypto.
func (f *Feed) subscribe(conn *websocket.Conn) error {
	if len(f.cfg.Symbols) == 0 {
		return nil
	}
	feedSymbols := make([]string, len(f.cfg.Symbols))
	for i, s := range f.cfg.Symbols {
		feedSymbols[i] = FeedSymbol(s)
	}
	return conn.WriteJSON(map[string]interface{}{
		"action":  "subscribe",
		"symbols": feedSymbols,
	})
}

func (f *Feed) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(feedHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

// apply records a tick under the ticker symbol the rest of the system uses
// (BTC, not BTC-USD).
func (f *Feed) apply(tick feedTick) {
	symbol := strings.ToUpper(strings.TrimSuffix(tick.Symbol, "-USD"))
	if symbol == "" || !tick.Price.IsPositive() {
		return
	}

	q := model.Quote{Symbol: symbol, Price: tick.Price.Round(4)}
	if tick.PreviousClose.IsPositive() {
		q.PreviousClose = tick.PreviousClose
		q.Change = q.Price.Sub(tick.PreviousClose).Round(4)
		q.ChangePct = q.Change.Div(tick.PreviousClose).Mul(decimal.NewFromInt(100)).Round(2)
	}

	f.mu.Lock()
	f.latest[symbol] = q
	f.mu.Unlock()
}

func (f *Feed) setConnected(v bool) {
	if f.cfg.Health != nil {
		f.cfg.Health.SetFeedConnected(v)
	}
}
