// Package insight provides sentiment signals for symbols. Signals are
// advisory: callers surface them as warnings and never let them block a
// trade.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"broker-simv1/internal/model"
)

// checkTradeWarning builds the advisory text for a trade that runs against
// current sentiment, or "" when it aligns.
func checkTradeWarning(in model.Insight, side model.Side) string {
	switch {
	case side == model.SideBuy && in.Sentiment == model.SentimentBearish:
		return fmt.Sprintf("sentiment for %s is bearish: %s", in.Symbol, in.Rationale)
	case side == model.SideSell && in.Sentiment == model.SentimentBullish:
		return fmt.Sprintf("sentiment for %s is bullish: %s", in.Symbol, in.Rationale)
	}
	return ""
}

// Client fetches insights from an HTTP JSON endpoint. The endpoint serves
// GET {base}/insight/{SYMBOL} with a model.Insight body.
type Client struct {
	base   string
	client *http.Client
}

// NewClient creates an insight client for the given base URL.
func NewClient(base string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetInsight fetches the current insight for a symbol.
func (c *Client) GetInsight(ctx context.Context, symbol string) (model.Insight, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	url := c.base + "/insight/" + symbol

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Insight{}, fmt.Errorf("insight request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return model.Insight{}, fmt.Errorf("insight fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Insight{}, fmt.Errorf("insight fetch %s: status %d", symbol, resp.StatusCode)
	}

	var in model.Insight
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return model.Insight{}, fmt.Errorf("insight decode %s: %w", symbol, err)
	}
	if in.Symbol == "" {
		in.Symbol = symbol
	}
	return in, nil
}

// CheckTrade returns a warning when the intended trade conflicts with
// current sentiment.
func (c *Client) CheckTrade(ctx context.Context, symbol string, side model.Side) (string, error) {
	in, err := c.GetInsight(ctx, symbol)
	if err != nil {
		return "", err
	}
	return checkTradeWarning(in, side), nil
}

// Static is an in-memory insight source for offline use and tests. Symbols
// without a recorded insight read as neutral.
type Static struct {
	mu       sync.RWMutex
	insights map[string]model.Insight
}

// NewStatic creates a Static source with optional initial insights.
func NewStatic(insights []model.Insight) *Static {
	s := &Static{insights: make(map[string]model.Insight)}
	for _, in := range insights {
		s.Set(in)
	}
	return s
}

// Set records an insight for its symbol.
func (s *Static) Set(in model.Insight) {
	in.Symbol = strings.ToUpper(in.Symbol)
	s.mu.Lock()
	s.insights[in.Symbol] = in
	s.mu.Unlock()
}

// GetInsight returns the recorded insight, or a neutral one.
func (s *Static) GetInsight(_ context.Context, symbol string) (model.Insight, error) {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.RLock()
	defer s.mu.RUnlock()
	if in, ok := s.insights[upper]; ok {
		return in, nil
	}
	return model.Insight{Symbol: upper, Sentiment: model.SentimentNeutral}, nil
}

// CheckTrade returns a warning when the trade conflicts with the recorded
// sentiment.
func (s *Static) CheckTrade(ctx context.Context, symbol string, side model.Side) (string, error) {
	in, err := s.GetInsight(ctx, symbol)
	if err != nil {
		return "", err
	}
	return checkTradeWarning(in, side), nil
}
