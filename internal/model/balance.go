package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the account's cash and derived valuation totals. NonCash and
// Total are recomputed from positions whenever cash or holdings change;
// they are never mutated independently.
type Balance struct {
	Cash        decimal.Decimal `json:"cash"`
	NonCash     decimal.Decimal `json:"non_cash"`
	Total       decimal.Decimal `json:"total"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Profile holds the account owner's mutable display settings.
type Profile struct {
	Username string `json:"username"`
}
