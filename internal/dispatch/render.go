package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"broker-simv1/internal/model"
	"broker-simv1/internal/orderlog"
	"broker-simv1/internal/trading"
)

// money formats a decimal with a dollar sign, fixed places, and thousands
// separators: 1234.5 -> "$1,234.50".
func money(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := "$" + b.String() + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// signed formats a decimal with an explicit leading sign.
func signed(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	if !strings.HasPrefix(s, "-") {
		s = "+" + s
	}
	return s
}

func renderPlacement(p trading.Placement) string {
	o := p.Order
	verb := "Buy"
	if o.Side == model.SideSell {
		verb = "Sell"
	}
	lines := []string{
		fmt.Sprintf("%s order %s placed: %s %s @ %s = %s.",
			verb, o.ID, o.Quantity, o.Symbol, money(o.Price, 4), money(o.Total, 2)),
		"Status: OPEN - will execute shortly.",
	}
	if p.Warning != "" {
		lines = append(lines, "", "Insight warning: "+p.Warning)
	}
	return strings.Join(lines, "\n")
}

func renderBalances(b model.Balance) string {
	return fmt.Sprintf(
		"Cash Balance:           %s\n"+
			"Non-Cash (Investments): %s\n"+
			"Total Portfolio Value:  %s",
		money(b.Cash, 2), money(b.NonCash, 2), money(b.Total, 2))
}

func renderPositions(positions []model.Position, b model.Balance) string {
	lines := []string{
		"Symbol   | Type   | Quantity     | Avg Cost      | Current Price | Market Value",
		"---------|--------|--------------|---------------|---------------|-------------",
	}
	totalMarket := decimal.Zero
	for _, p := range positions {
		mv := p.MarketValue()
		totalMarket = totalMarket.Add(mv)
		lines = append(lines, fmt.Sprintf("%-8s | %-6s | %-12s | %13s | %13s | %12s",
			p.Symbol, p.Asset, p.Quantity,
			money(p.AvgCost, 4), money(p.CurrentPrice, 4), money(mv, 2)))
	}

	lines = append(lines, "",
		fmt.Sprintf("Cash:                %12s", money(b.Cash, 2)),
		fmt.Sprintf("Invested (market):   %12s", money(totalMarket, 2)),
		fmt.Sprintf("Total:               %12s", money(b.Cash.Add(totalMarket), 2)))
	return strings.Join(lines, "\n")
}

func renderOrderStatus(g orderlog.Grouped) string {
	var lines []string

	lines = append(lines, "=== Open Orders ===")
	if len(g.Open) == 0 {
		lines = append(lines, "  None")
	}
	for _, o := range g.Open {
		lines = append(lines, fmt.Sprintf("  %s | %s %s %s @ %s | %s",
			o.ID, strings.ToUpper(string(o.Side)), o.Quantity, o.Symbol, money(o.Price, 4), o.Status))
	}

	lines = append(lines, "", "=== Cancelled Orders ===")
	if len(g.Cancelled) == 0 {
		lines = append(lines, "  None")
	}
	for _, o := range g.Cancelled {
		lines = append(lines, fmt.Sprintf("  %s | %s %s %s @ %s | cancelled at %s",
			o.ID, strings.ToUpper(string(o.Side)), o.Quantity, o.Symbol, money(o.Price, 4),
			renderTime(o.CancelledAt)))
	}

	lines = append(lines, "", "=== Executed Today ===")
	if len(g.ExecutedToday) == 0 {
		lines = append(lines, "  None")
	}
	for _, o := range g.ExecutedToday {
		lines = append(lines, fmt.Sprintf("  %s | %s %s %s @ %s | executed at %s",
			o.ID, strings.ToUpper(string(o.Side)), o.Quantity, o.Symbol, money(o.Price, 4),
			renderTime(o.ExecutedAt)))
	}

	return strings.Join(lines, "\n")
}

func renderHistory(orders []model.Order) string {
	lines := []string{
		"ID      | Action | Symbol | Qty         | Price        | Total        | Status     | Date",
		strings.Repeat("-", 110),
	}
	for _, o := range orders {
		lines = append(lines, fmt.Sprintf("%-7s | %-6s | %-6s | %-11s | %12s | %12s | %-10s | %s",
			o.ID, o.Side, o.Symbol, o.Quantity,
			money(o.Price, 4), money(o.Total, 2), o.Status, o.ResolvedAt().Format(time.RFC3339)))
	}
	return strings.Join(lines, "\n")
}

func renderQuote(q model.Quote) string {
	return fmt.Sprintf("%s: %s  (prev close %s, change %s / %s%%)",
		q.Symbol, money(q.Price, 4), money(q.PreviousClose, 4),
		signed(q.Change, 4), signed(q.ChangePct, 2))
}

func renderInsight(in model.Insight) string {
	if in.Rationale == "" {
		return fmt.Sprintf("%s sentiment: %s", in.Symbol, in.Sentiment)
	}
	return fmt.Sprintf("%s sentiment: %s\n%s", in.Symbol, in.Sentiment, in.Rationale)
}

func renderTime(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format(time.RFC3339)
}
