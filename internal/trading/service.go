// Package trading orchestrates the order lifecycle: it validates requested
// trades against the ledger, captures the price, records the order, and
// hands it to the scheduler for deferred settlement.
package trading

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"broker-simv1/internal/ledger"
	"broker-simv1/internal/metrics"
	"broker-simv1/internal/model"
	"broker-simv1/internal/orderlog"
	"broker-simv1/internal/scheduler"
)

// Service is the public trading surface.
type Service struct {
	ledger   *ledger.Ledger
	orders   *orderlog.Log
	sched    *scheduler.Scheduler
	quotes   model.QuoteSource
	insights model.InsightSource // optional
	mtr      *metrics.Metrics    // optional
}

// New creates a trading service. Insights and metrics may be nil.
func New(lg *ledger.Ledger, orders *orderlog.Log, sched *scheduler.Scheduler,
	quotes model.QuoteSource, insights model.InsightSource, mtr *metrics.Metrics) *Service {
	return &Service{
		ledger:   lg,
		orders:   orders,
		sched:    sched,
		quotes:   quotes,
		insights: insights,
		mtr:      mtr,
	}
}

// Placement is the result of a successful PlaceOrder: the persisted open
// order plus an optional sentiment warning for the caller.
type Placement struct {
	Order   model.Order
	Warning string
}

// PlaceOrder validates a trade, records it as an open order, and schedules
// settlement. No cash or holdings move yet: the balance effect lands at
// execution time only, so two pending buys can each pass validation here
// and still fail later at settlement.
//
// priceHint, when non-nil, overrides the quote source lookup.
func (s *Service) PlaceOrder(ctx context.Context, side model.Side, symbol string,
	quantity decimal.Decimal, priceHint *decimal.Decimal) (Placement, error) {

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Placement{}, s.reject("invalid", fmt.Errorf("%w: empty symbol", model.ErrInvalidRequest))
	}
	if !quantity.IsPositive() {
		return Placement{}, s.reject("invalid",
			fmt.Errorf("%w: quantity must be positive, got %s", model.ErrInvalidRequest, quantity))
	}
	if side != model.SideBuy && side != model.SideSell {
		return Placement{}, s.reject("invalid", fmt.Errorf("%w: unknown side %q", model.ErrInvalidRequest, side))
	}

	price, err := s.resolvePrice(ctx, symbol, priceHint)
	if err != nil {
		return Placement{}, s.reject("quote", err)
	}
	total := price.Mul(quantity).Round(2)

	switch side {
	case model.SideBuy:
		cash := s.ledger.CurrentBalance().Cash
		if total.GreaterThan(cash) {
			return Placement{}, s.reject("funds", fmt.Errorf(
				"%w: the order would cost $%s but you only have $%s in cash",
				model.ErrInsufficientFunds, total.StringFixed(2), cash.StringFixed(2)))
		}
	case model.SideSell:
		pos, held := s.ledger.Position(symbol)
		if !held {
			return Placement{}, s.reject("holdings", fmt.Errorf(
				"%w: you do not own any %s", model.ErrInsufficientHoldings, symbol))
		}
		if quantity.GreaterThan(pos.Quantity) {
			return Placement{}, s.reject("holdings", fmt.Errorf(
				"%w: you only own %s of %s, cannot sell %s",
				model.ErrInsufficientHoldings, pos.Quantity, symbol, quantity))
		}
	}

	warning := s.tradeWarning(ctx, symbol, side)

	placed, err := s.orders.Append(model.Order{
		Symbol:    symbol,
		Asset:     model.AssetTypeOf(symbol),
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Total:     total,
		Status:    model.StatusOpen,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return Placement{}, err
	}
	s.sched.Schedule(placed)

	if s.mtr != nil {
		s.mtr.OrdersPlaced.WithLabelValues(string(side)).Inc()
	}
	log.Printf("[trading] order %s placed: %s %s %s @ $%s",
		placed.ID, side, quantity, symbol, price.StringFixed(4))
	return Placement{Order: placed, Warning: warning}, nil
}

// resolvePrice returns the placement price: the caller's hint if given,
// otherwise a fresh quote. The price is fixed here for the order's lifetime.
func (s *Service) resolvePrice(ctx context.Context, symbol string, hint *decimal.Decimal) (decimal.Decimal, error) {
	if hint != nil {
		if !hint.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: price must be positive, got %s", model.ErrInvalidRequest, hint)
		}
		return hint.Round(4), nil
	}
	q, err := s.quotes.GetQuote(ctx, symbol)
	if err != nil {
		if s.mtr != nil {
			s.mtr.QuoteLookups.WithLabelValues("error").Inc()
		}
		return decimal.Zero, fmt.Errorf("%w: %s: %v", model.ErrQuoteUnavailable, symbol, err)
	}
	if s.mtr != nil {
		s.mtr.QuoteLookups.WithLabelValues("ok").Inc()
	}
	if !q.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", model.ErrQuoteUnavailable, symbol)
	}
	return q.Price.Round(4), nil
}

// tradeWarning asks the insight source whether the trade conflicts with
// current sentiment. Best effort: failures never block a placement.
func (s *Service) tradeWarning(ctx context.Context, symbol string, side model.Side) string {
	if s.insights == nil {
		return ""
	}
	warning, err := s.insights.CheckTrade(ctx, symbol, side)
	if err != nil {
		log.Printf("[trading] insight check for %s skipped: %v", symbol, err)
		return ""
	}
	return warning
}

// CancelOrder cancels an open order. Exactly one of cancellation and
// settlement wins; the loser observes ErrAlreadyTerminal.
func (s *Service) CancelOrder(id string) (model.Order, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return model.Order{}, fmt.Errorf("%w: empty order id", model.ErrInvalidRequest)
	}
	return s.sched.Cancel(id)
}

// OrderStatus returns open orders, cancelled orders, and today's executions.
// Read-only.
func (s *Service) OrderStatus() (orderlog.Grouped, error) {
	return s.orders.Grouped(time.Now().UTC())
}

// TransactionHistory returns every order ever created, oldest first.
func (s *Service) TransactionHistory() ([]model.Order, error) {
	return s.orders.All()
}

func (s *Service) reject(reason string, err error) error {
	if s.mtr != nil {
		s.mtr.PlacementRejects.WithLabelValues(reason).Inc()
	}
	return err
}
