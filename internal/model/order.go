package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus tracks an order through its lifecycle. Transitions are
// monotonic: open → executed or open → cancelled, never reversed.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusExecuted  OrderStatus = "executed"
	StatusCancelled OrderStatus = "cancelled"
)

// AssetType classifies a symbol as a stock or a crypto asset.
type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetCrypto AssetType = "crypto"
)

// cryptoSymbols is the fixed set of symbols treated as crypto assets.
var cryptoSymbols = map[string]bool{
	"BTC": true, "ETH": true, "SOL": true, "ADA": true, "DOGE": true,
	"XRP": true, "DOT": true, "AVAX": true, "MATIC": true, "LINK": true,
	"SHIB": true,
}

// AssetTypeOf returns the asset type for a symbol.
func AssetTypeOf(symbol string) AssetType {
	if cryptoSymbols[strings.ToUpper(symbol)] {
		return AssetCrypto
	}
	return AssetStock
}

// Order represents a single buy or sell request. Everything except Status
// and the terminal timestamp is immutable after creation; the price is
// captured from the quote source at placement time and is what gets charged
// at execution, regardless of how the market moved in between.
type Order struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Asset       AssetType       `json:"type"`
	Side        Side            `json:"action"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total"` // price × quantity, rounded to cents
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ExecutedAt  *time.Time      `json:"executed_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
}

// Terminal reports whether the order has reached a final status.
func (o *Order) Terminal() bool {
	return o.Status == StatusExecuted || o.Status == StatusCancelled
}

// ResolvedAt returns the timestamp that closed the order, or the creation
// time if it is still open.
func (o *Order) ResolvedAt() time.Time {
	switch {
	case o.ExecutedAt != nil:
		return *o.ExecutedAt
	case o.CancelledAt != nil:
		return *o.CancelledAt
	default:
		return o.CreatedAt
	}
}
