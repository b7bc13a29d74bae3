package model

import "github.com/shopspring/decimal"

// Position represents a holding in a single symbol. Quantity is always
// positive: a position whose quantity falls to zero is removed rather than
// kept as a placeholder record.
type Position struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Asset        AssetType       `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// MarketValue returns quantity × current price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}
