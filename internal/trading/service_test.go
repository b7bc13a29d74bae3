package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"broker-simv1/internal/ledger"
	"broker-simv1/internal/model"
	"broker-simv1/internal/orderlog"
	"broker-simv1/internal/scheduler"
	"broker-simv1/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubQuotes struct {
	mu     sync.Mutex
	prices map[string]string
}

func (q *stubQuotes) GetQuote(_ context.Context, symbol string) (model.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.prices[symbol]
	if !ok {
		return model.Quote{}, model.ErrQuoteUnavailable
	}
	return model.Quote{Symbol: symbol, Price: dec(p)}, nil
}

type stubInsights struct {
	warning string
	err     error
}

func (i *stubInsights) GetInsight(_ context.Context, symbol string) (model.Insight, error) {
	return model.Insight{Symbol: symbol, Sentiment: model.SentimentNeutral}, i.err
}

func (i *stubInsights) CheckTrade(context.Context, string, model.Side) (string, error) {
	return i.warning, i.err
}

type fixture struct {
	svc    *Service
	ledger *ledger.Ledger
	orders *orderlog.Log
	sched  *scheduler.Scheduler
	quotes *stubQuotes
}

func newFixture(t *testing.T, cash string, positions []model.Position, insights model.InsightSource) *fixture {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if positions == nil {
		positions = []model.Position{}
	}
	st.EnsureSeed(store.KindBalances, model.Balance{Cash: dec(cash), Total: dec(cash)})
	st.EnsureSeed(store.KindPositions, positions)
	st.EnsureSeed(store.KindOrders, []model.Order{})
	st.EnsureSeed(store.KindUser, model.Profile{Username: "tester"})

	lg, err := ledger.Open(st)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	olog := orderlog.New(st)
	sched := scheduler.New(scheduler.Config{
		Ledger:   lg,
		Orders:   olog,
		MinDelay: 0,
		MaxDelay: 10 * time.Millisecond,
	})
	t.Cleanup(sched.Stop)

	quotes := &stubQuotes{prices: map[string]string{"AAPL": "100.00", "TSLA": "200.00", "BTC": "60000.00"}}
	return &fixture{
		svc:    New(lg, olog, sched, quotes, insights, nil),
		ledger: lg,
		orders: olog,
		sched:  sched,
		quotes: quotes,
	}
}

func waitTerminal(t *testing.T, f *fixture, id string) model.Order {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		o, err := f.orders.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if o.Terminal() {
			return o
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s never became terminal", id)
	return model.Order{}
}

func TestPlaceOrderBuyLifecycle(t *testing.T) {
	f := newFixture(t, "10000.00", nil, nil)

	placed, err := f.svc.PlaceOrder(context.Background(), model.SideBuy, "aapl", dec("10"), nil)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	o := placed.Order
	if o.ID != "ORD001" {
		t.Errorf("id = %s, want ORD001", o.ID)
	}
	if o.Symbol != "AAPL" {
		t.Errorf("symbol = %s, want normalized AAPL", o.Symbol)
	}
	if o.Status != model.StatusOpen {
		t.Errorf("status = %s, want open", o.Status)
	}
	if !o.Total.Equal(dec("1000.00")) {
		t.Errorf("total = %s, want 1000.00", o.Total)
	}
	// No pre-debit: placement leaves cash untouched.
	if !f.ledger.CurrentBalance().Cash.Equal(dec("10000.00")) {
		t.Errorf("cash after placement = %s, want 10000.00", f.ledger.CurrentBalance().Cash)
	}

	final := waitTerminal(t, f, o.ID)
	if final.Status != model.StatusExecuted {
		t.Fatalf("final status = %s, want executed", final.Status)
	}
	if !f.ledger.CurrentBalance().Cash.Equal(dec("9000.00")) {
		t.Errorf("cash after execution = %s, want 9000.00", f.ledger.CurrentBalance().Cash)
	}
	pos, ok := f.ledger.Position("AAPL")
	if !ok || !pos.Quantity.Equal(dec("10")) {
		t.Errorf("position = %+v, want AAPL qty 10", pos)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t, "10000.00", nil, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		side   model.Side
		symbol string
		qty    string
		want   error
	}{
		{"zero quantity", model.SideBuy, "AAPL", "0", model.ErrInvalidRequest},
		{"negative quantity", model.SideBuy, "AAPL", "-5", model.ErrInvalidRequest},
		{"empty symbol", model.SideBuy, "  ", "1", model.ErrInvalidRequest},
		{"bad side", model.Side("hold"), "AAPL", "1", model.ErrInvalidRequest},
		{"unknown symbol", model.SideBuy, "ZZZZ", "1", model.ErrQuoteUnavailable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(ctx, c.side, c.symbol, dec(c.qty), nil)
			if !errors.Is(err, c.want) {
				t.Errorf("got %v, want %v", err, c.want)
			}
		})
	}

	// Nothing was persisted by any rejected placement.
	all, err := f.svc.TransactionHistory()
	if err != nil {
		t.Fatalf("TransactionHistory: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("rejected placements persisted %d orders", len(all))
	}
}

func TestPlaceOrderInsufficientFunds(t *testing.T) {
	f := newFixture(t, "500.00", nil, nil)

	_, err := f.svc.PlaceOrder(context.Background(), model.SideBuy, "AAPL", dec("10"), nil)
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestPlaceOrderInsufficientHoldings(t *testing.T) {
	positions := []model.Position{{
		Symbol: "TSLA", Name: "TSLA", Asset: model.AssetStock,
		Quantity: dec("5"), AvgCost: dec("180.00"), CurrentPrice: dec("200.00"),
	}}
	f := newFixture(t, "1000.00", positions, nil)

	_, err := f.svc.PlaceOrder(context.Background(), model.SideSell, "TSLA", dec("10"), nil)
	if !errors.Is(err, model.ErrInsufficientHoldings) {
		t.Fatalf("got %v, want ErrInsufficientHoldings", err)
	}

	// No order persisted as open.
	g, err := f.svc.OrderStatus()
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if len(g.Open) != 0 {
		t.Errorf("rejected sell persisted as open: %v", g.Open)
	}
}

func TestPlaceOrderNoPreDebitWindow(t *testing.T) {
	// Two pending buys that each fit current cash alone both pass placement
	// validation, because nothing is reserved until settlement.
	f := newFixture(t, "1000.00", nil, nil)
	ctx := context.Background()

	p1, err := f.svc.PlaceOrder(ctx, model.SideBuy, "AAPL", dec("8"), nil) // 800
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}
	p2, err := f.svc.PlaceOrder(ctx, model.SideBuy, "AAPL", dec("8"), nil) // 800 again
	if err != nil {
		t.Fatalf("second buy passed placement (no reservation), got: %v", err)
	}

	f1 := waitTerminal(t, f, p1.Order.ID)
	f2 := waitTerminal(t, f, p2.Order.ID)

	executed := 0
	for _, o := range []model.Order{f1, f2} {
		if o.Status == model.StatusExecuted {
			executed++
		}
	}
	// Only one can actually settle; the other fails the re-check and
	// resolves to cancelled.
	if executed != 1 {
		t.Fatalf("executed = %d, want exactly 1", executed)
	}
	if f.ledger.CurrentBalance().Cash.IsNegative() {
		t.Error("cash went negative")
	}
	if !f.ledger.CurrentBalance().Cash.Equal(dec("200.00")) {
		t.Errorf("cash = %s, want 200.00", f.ledger.CurrentBalance().Cash)
	}
}

func TestPlaceOrderWithPriceHint(t *testing.T) {
	f := newFixture(t, "10000.00", nil, nil)

	hint := dec("50.00")
	placed, err := f.svc.PlaceOrder(context.Background(), model.SideBuy, "ZZZZ", dec("2"), &hint)
	if err != nil {
		t.Fatalf("PlaceOrder with hint: %v", err)
	}
	if !placed.Order.Price.Equal(hint) {
		t.Errorf("price = %s, want hint 50.00", placed.Order.Price)
	}
}

func TestPlaceOrderAttachesInsightWarning(t *testing.T) {
	f := newFixture(t, "10000.00", nil, &stubInsights{warning: "sentiment is bearish on AAPL"})

	placed, err := f.svc.PlaceOrder(context.Background(), model.SideBuy, "AAPL", dec("1"), nil)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if placed.Warning == "" {
		t.Error("expected an insight warning")
	}
}

func TestInsightFailureNeverBlocksPlacement(t *testing.T) {
	f := newFixture(t, "10000.00", nil, &stubInsights{err: errors.New("insight backend down")})

	placed, err := f.svc.PlaceOrder(context.Background(), model.SideBuy, "AAPL", dec("1"), nil)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if placed.Warning != "" {
		t.Errorf("warning = %q, want empty on insight failure", placed.Warning)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, "10000.00", nil, nil)

	// Long delay so the cancel always wins.
	slow := scheduler.New(scheduler.Config{
		Ledger:   f.ledger,
		Orders:   f.orders,
		MinDelay: time.Hour,
		MaxDelay: time.Hour,
	})
	t.Cleanup(slow.Stop)
	svc := New(f.ledger, f.orders, slow, f.quotes, nil, nil)

	placed, err := svc.PlaceOrder(context.Background(), model.SideBuy, "AAPL", dec("1"), nil)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	cancelled, err := svc.CancelOrder(placed.Order.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	// Idempotence.
	if _, err := svc.CancelOrder(placed.Order.ID); !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Errorf("second cancel: got %v, want ErrAlreadyTerminal", err)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	f := newFixture(t, "100.00", nil, nil)
	if _, err := f.svc.CancelOrder("ORD999"); !errors.Is(err, model.ErrOrderNotFound) {
		t.Fatalf("got %v, want ErrOrderNotFound", err)
	}
}

func TestOrderStatusAndHistory(t *testing.T) {
	f := newFixture(t, "10000.00", nil, nil)
	ctx := context.Background()

	p1, err := f.svc.PlaceOrder(ctx, model.SideBuy, "AAPL", dec("1"), nil)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	waitTerminal(t, f, p1.Order.ID)

	p2, err := f.svc.PlaceOrder(ctx, model.SideBuy, "TSLA", dec("1"), nil)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	waitTerminal(t, f, p2.Order.ID)

	g, err := f.svc.OrderStatus()
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if len(g.ExecutedToday) != 2 {
		t.Errorf("executed today = %d, want 2", len(g.ExecutedToday))
	}

	hist, err := f.svc.TransactionHistory()
	if err != nil {
		t.Fatalf("TransactionHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history = %d orders, want 2", len(hist))
	}
	if hist[0].ID != "ORD001" || hist[1].ID != "ORD002" {
		t.Errorf("history order = %s,%s, want ORD001,ORD002 (oldest first)", hist[0].ID, hist[1].ID)
	}
}
