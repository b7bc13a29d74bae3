// Package dispatch exposes the brokerage's closed operation surface: a
// fixed set of named operations with typed arguments, dispatched through a
// single entrypoint. Results are rendered as plain text so the transport
// layer (CLI, chat frontend) stays thin.
package dispatch

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"broker-simv1/internal/ledger"
	"broker-simv1/internal/model"
	"broker-simv1/internal/trading"
)

// Op names one operation on the surface. The set is closed: anything else
// is rejected with ErrInvalidRequest.
type Op string

const (
	OpPlaceOrder         Op = "place_order"
	OpCancelOrder        Op = "cancel_order"
	OpOrderStatus        Op = "order_status"
	OpTransactionHistory Op = "transaction_history"
	OpViewBalances       Op = "view_balances"
	OpViewPositions      Op = "view_positions"
	OpRename             Op = "rename"
	OpGetQuote           Op = "get_quote"
	OpGetInsight         Op = "get_insight"
)

// Request carries an operation and its arguments. Only the fields the
// operation reads need to be set.
type Request struct {
	Op       Op
	Side     model.Side       // place_order
	Symbol   string           // place_order, get_quote, get_insight
	Quantity decimal.Decimal  // place_order
	Price    *decimal.Decimal // place_order: optional limit price
	OrderID  string           // cancel_order
	Name     string           // rename
}

// Response is the rendered result of one operation.
type Response struct {
	Text string
}

// Dispatcher routes requests to the trading service, ledger, and market
// data sources.
type Dispatcher struct {
	svc      *trading.Service
	ledger   *ledger.Ledger
	quotes   model.QuoteSource
	insights model.InsightSource // optional
}

// New creates a Dispatcher. Insights may be nil; the insight operation then
// reports unavailability.
func New(svc *trading.Service, lg *ledger.Ledger, quotes model.QuoteSource, insights model.InsightSource) *Dispatcher {
	return &Dispatcher{svc: svc, ledger: lg, quotes: quotes, insights: insights}
}

// Dispatch runs one operation and renders its result. Domain failures
// (insufficient funds, unknown order) come back as errors from the sentinel
// taxonomy; callers render those with ErrorText.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	switch req.Op {
	case OpPlaceOrder:
		return d.placeOrder(ctx, req)
	case OpCancelOrder:
		return d.cancelOrder(req)
	case OpOrderStatus:
		return d.orderStatus()
	case OpTransactionHistory:
		return d.transactionHistory()
	case OpViewBalances:
		return Response{Text: renderBalances(d.ledger.CurrentBalance())}, nil
	case OpViewPositions:
		return Response{Text: renderPositions(d.ledger.CurrentPositions(), d.ledger.CurrentBalance())}, nil
	case OpRename:
		return d.rename(req)
	case OpGetQuote:
		return d.getQuote(ctx, req)
	case OpGetInsight:
		return d.getInsight(ctx, req)
	default:
		return Response{}, fmt.Errorf("%w: unknown operation %q", model.ErrInvalidRequest, req.Op)
	}
}

func (d *Dispatcher) placeOrder(ctx context.Context, req Request) (Response, error) {
	placed, err := d.svc.PlaceOrder(ctx, req.Side, req.Symbol, req.Quantity, req.Price)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: renderPlacement(placed)}, nil
}

func (d *Dispatcher) cancelOrder(req Request) (Response, error) {
	o, err := d.svc.CancelOrder(req.OrderID)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Order %s has been cancelled.", o.ID)}, nil
}

func (d *Dispatcher) orderStatus() (Response, error) {
	grouped, err := d.svc.OrderStatus()
	if err != nil {
		return Response{}, err
	}
	return Response{Text: renderOrderStatus(grouped)}, nil
}

func (d *Dispatcher) transactionHistory() (Response, error) {
	orders, err := d.svc.TransactionHistory()
	if err != nil {
		return Response{}, err
	}
	return Response{Text: renderHistory(orders)}, nil
}

func (d *Dispatcher) rename(req Request) (Response, error) {
	profile, err := d.ledger.Rename(req.Name)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: fmt.Sprintf("Username changed to %s.", profile.Username)}, nil
}

func (d *Dispatcher) getQuote(ctx context.Context, req Request) (Response, error) {
	q, err := d.quotes.GetQuote(ctx, req.Symbol)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: renderQuote(q)}, nil
}

func (d *Dispatcher) getInsight(ctx context.Context, req Request) (Response, error) {
	if d.insights == nil {
		return Response{}, fmt.Errorf("%w: no insight source configured", model.ErrInvalidRequest)
	}
	in, err := d.insights.GetInsight(ctx, req.Symbol)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: renderInsight(in)}, nil
}

// ErrorText renders a domain error the way the operation surface speaks to
// its user.
func ErrorText(err error) string {
	return fmt.Sprintf("Error: %v", err)
}
