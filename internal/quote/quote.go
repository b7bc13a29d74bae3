// Package quote provides implementations of the quote source port: a
// WebSocket streaming feed, a Redis-backed cache decorator, and a static
// in-memory source for offline use and tests.
package quote

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"broker-simv1/internal/model"
)

// cryptoFeedSymbols maps crypto tickers to their feed pair names.
var cryptoFeedSymbols = map[string]string{
	"BTC": "BTC-USD", "ETH": "ETH-USD", "SOL": "SOL-USD", "ADA": "ADA-USD",
	"DOGE": "DOGE-USD", "XRP": "XRP-USD", "DOT": "DOT-USD", "AVAX": "AVAX-USD",
	"MATIC": "MATIC-USD", "LINK": "LINK-USD", "SHIB": "SHIB-USD",
}

// FeedSymbol returns the symbol as the upstream feed knows it.
func FeedSymbol(symbol string) string {
	upper := strings.ToUpper(symbol)
	if mapped, ok := cryptoFeedSymbols[upper]; ok {
		return mapped
	}
	return upper
}

// Static is an in-memory quote source. Useful for offline operation and
// tests; prices only change when Set is called.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]model.Quote
}

// NewStatic creates a Static source with optional initial prices.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{quotes: make(map[string]model.Quote)}
	for sym, price := range prices {
		s.Set(sym, price)
	}
	return s
}

// Set records the latest price for a symbol.
func (s *Static) Set(symbol string, price decimal.Decimal) {
	upper := strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.quotes[upper]
	q := model.Quote{Symbol: upper, Price: price.Round(4)}
	if ok && prev.Price.IsPositive() {
		q.PreviousClose = prev.Price
		q.Change = price.Sub(prev.Price).Round(4)
		q.ChangePct = q.Change.Div(prev.Price).Mul(decimal.NewFromInt(100)).Round(2)
	}
	s.quotes[upper] = q
}

// GetQuote returns the latest recorded quote for the symbol.
func (s *Static) GetQuote(_ context.Context, symbol string) (model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[strings.ToUpper(symbol)]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", model.ErrQuoteUnavailable, strings.ToUpper(symbol))
	}
	return q, nil
}
