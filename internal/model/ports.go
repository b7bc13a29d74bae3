package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// ── Collaborator Port Interfaces ──
// These interfaces decouple the order lifecycle core from the external
// collaborators (live pricing, sentiment analysis). Implementations live in
// internal/quote and internal/insight.

// Quote is a point-in-time price snapshot for a symbol.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Change        decimal.Decimal `json:"change"`
	ChangePct     decimal.Decimal `json:"change_percent"`
}

// QuoteSource provides current prices. Consulted at order placement time
// only; execution charges the price captured at placement.
type QuoteSource interface {
	// GetQuote returns the latest quote for a symbol.
	// Returns ErrQuoteUnavailable (possibly wrapped) if no price is known.
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// Sentiment is a qualitative signal for a symbol.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentNeutral Sentiment = "neutral"
	SentimentBearish Sentiment = "bearish"
)

// Insight is a qualitative read on a symbol. Advisory only: it annotates
// responses to the caller and never affects validation or execution.
type Insight struct {
	Symbol    string    `json:"symbol"`
	Sentiment Sentiment `json:"sentiment"`
	Rationale string    `json:"rationale"`
}

// InsightSource provides sentiment signals.
type InsightSource interface {
	// GetInsight returns the current insight for a symbol.
	GetInsight(ctx context.Context, symbol string) (Insight, error)

	// CheckTrade returns a short warning when the intended trade conflicts
	// with current sentiment, or "" when it aligns.
	CheckTrade(ctx context.Context, symbol string, side Side) (string, error)
}
