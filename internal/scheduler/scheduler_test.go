package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"broker-simv1/internal/ledger"
	"broker-simv1/internal/model"
	"broker-simv1/internal/orderlog"
	"broker-simv1/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	ledger *ledger.Ledger
	orders *orderlog.Log
	sched  *Scheduler
}

func newHarness(t *testing.T, cash string, min, max time.Duration) *harness {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	st.EnsureSeed(store.KindBalances, model.Balance{Cash: dec(cash), Total: dec(cash)})
	st.EnsureSeed(store.KindPositions, []model.Position{})
	st.EnsureSeed(store.KindOrders, []model.Order{})
	st.EnsureSeed(store.KindUser, model.Profile{Username: "tester"})

	lg, err := ledger.Open(st)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	olog := orderlog.New(st)
	sched := New(Config{
		Ledger:   lg,
		Orders:   olog,
		MinDelay: min,
		MaxDelay: max,
	})
	t.Cleanup(sched.Stop)
	return &harness{ledger: lg, orders: olog, sched: sched}
}

func (h *harness) place(t *testing.T, side model.Side, symbol, qty, price string) model.Order {
	t.Helper()
	q, p := dec(qty), dec(price)
	o, err := h.orders.Append(model.Order{
		Symbol:    symbol,
		Asset:     model.AssetTypeOf(symbol),
		Side:      side,
		Quantity:  q,
		Price:     p,
		Total:     p.Mul(q).Round(2),
		Status:    model.StatusOpen,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return o
}

func waitTerminal(t *testing.T, h *harness, id string, timeout time.Duration) model.Order {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		o, err := h.orders.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if o.Terminal() {
			return o
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s never reached a terminal status", id)
	return model.Order{}
}

func TestScheduledOrderExecutes(t *testing.T) {
	h := newHarness(t, "10000.00", 0, 10*time.Millisecond)

	o := h.place(t, model.SideBuy, "AAPL", "10", "100.00")
	h.sched.Schedule(o)

	final := waitTerminal(t, h, o.ID, 2*time.Second)
	if final.Status != model.StatusExecuted {
		t.Fatalf("status = %s, want executed", final.Status)
	}
	if final.ExecutedAt == nil {
		t.Error("ExecutedAt not set")
	}
	if !h.ledger.CurrentBalance().Cash.Equal(dec("9000.00")) {
		t.Errorf("cash = %s, want 9000.00", h.ledger.CurrentBalance().Cash)
	}
	pos, ok := h.ledger.Position("AAPL")
	if !ok || !pos.Quantity.Equal(dec("10")) {
		t.Errorf("position = %+v, want AAPL qty 10", pos)
	}
}

func TestCancelBeforeFire(t *testing.T) {
	h := newHarness(t, "10000.00", time.Hour, time.Hour)

	o := h.place(t, model.SideBuy, "AAPL", "10", "100.00")
	h.sched.Schedule(o)

	cancelled, err := h.sched.Cancel(o.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if h.sched.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", h.sched.Pending())
	}
	// No balance effect.
	if !h.ledger.CurrentBalance().Cash.Equal(dec("10000.00")) {
		t.Errorf("cash = %s, want untouched 10000.00", h.ledger.CurrentBalance().Cash)
	}
}

func TestCancelAfterExecutionIsTerminal(t *testing.T) {
	h := newHarness(t, "10000.00", 0, time.Millisecond)

	o := h.place(t, model.SideBuy, "AAPL", "1", "100.00")
	h.sched.Schedule(o)
	waitTerminal(t, h, o.ID, 2*time.Second)

	if _, err := h.sched.Cancel(o.ID); !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Fatalf("Cancel after execution: got %v, want ErrAlreadyTerminal", err)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	h := newHarness(t, "100.00", 0, time.Millisecond)
	if _, err := h.sched.Cancel("ORD999"); !errors.Is(err, model.ErrOrderNotFound) {
		t.Fatalf("got %v, want ErrOrderNotFound", err)
	}
}

func TestSettlementFailureCancelsOrder(t *testing.T) {
	// Enough cash at placement, not at settlement: drain it first.
	h := newHarness(t, "500.00", 50*time.Millisecond, 51*time.Millisecond)

	o := h.place(t, model.SideBuy, "AAPL", "10", "100.00") // needs 1000
	h.sched.Schedule(o)

	final := waitTerminal(t, h, o.ID, 2*time.Second)
	if final.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled (failed at settlement)", final.Status)
	}
	if !h.ledger.CurrentBalance().Cash.Equal(dec("500.00")) {
		t.Errorf("cash = %s, want unchanged 500.00", h.ledger.CurrentBalance().Cash)
	}
}

// TestCancelExecuteRace schedules orders with a near-zero delay and cancels
// concurrently. Over many trials exactly one terminal status must result:
// never both effects, never a stuck open order.
func TestCancelExecuteRace(t *testing.T) {
	const trials = 40

	h := newHarness(t, "1000000.00", 0, time.Millisecond)
	startCash := h.ledger.CurrentBalance().Cash

	ids := make([]string, 0, trials)
	for i := 0; i < trials; i++ {
		o := h.place(t, model.SideBuy, "AAPL", "1", "100.00")
		ids = append(ids, o.ID)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.sched.Schedule(o)
		}()
		go func() {
			defer wg.Done()
			_, err := h.sched.Cancel(o.ID)
			if err != nil && !errors.Is(err, model.ErrAlreadyTerminal) {
				t.Errorf("Cancel(%s): unexpected error %v", o.ID, err)
			}
		}()
		wg.Wait()
	}

	// Let any still-armed timers fire.
	executedCost := decimal.Zero
	for _, id := range ids {
		final := waitTerminal(t, h, id, 2*time.Second)
		switch final.Status {
		case model.StatusExecuted:
			if final.CancelledAt != nil {
				t.Errorf("order %s has both terminal timestamps", id)
			}
			executedCost = executedCost.Add(final.Total)
		case model.StatusCancelled:
			if final.ExecutedAt != nil {
				t.Errorf("order %s has both terminal timestamps", id)
			}
		}
	}

	// Cash moved exactly once per executed order.
	want := startCash.Sub(executedCost).Round(2)
	if got := h.ledger.CurrentBalance().Cash; !got.Equal(want) {
		t.Errorf("cash = %s, want %s (double-commit or lost execution)", got, want)
	}
}

func TestResumeSchedulesOpenOrders(t *testing.T) {
	h := newHarness(t, "10000.00", 0, 5*time.Millisecond)

	// Orders persisted as open, but never scheduled (simulates a restart).
	o1 := h.place(t, model.SideBuy, "AAPL", "1", "100.00")
	o2 := h.place(t, model.SideBuy, "TSLA", "1", "200.00")

	if err := h.sched.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	f1 := waitTerminal(t, h, o1.ID, 2*time.Second)
	f2 := waitTerminal(t, h, o2.ID, 2*time.Second)
	if f1.Status != model.StatusExecuted || f2.Status != model.StatusExecuted {
		t.Fatalf("statuses = %s/%s, want executed/executed", f1.Status, f2.Status)
	}
	if !h.ledger.CurrentBalance().Cash.Equal(dec("9700.00")) {
		t.Errorf("cash = %s, want 9700.00", h.ledger.CurrentBalance().Cash)
	}
}

func TestStopPreventsNewWork(t *testing.T) {
	h := newHarness(t, "10000.00", time.Hour, time.Hour)

	o := h.place(t, model.SideBuy, "AAPL", "1", "100.00")
	h.sched.Schedule(o)
	h.sched.Stop()

	if h.sched.Pending() != 0 {
		t.Errorf("pending = %d after Stop, want 0", h.sched.Pending())
	}

	// Scheduling after Stop is a no-op.
	o2 := h.place(t, model.SideBuy, "AAPL", "1", "100.00")
	h.sched.Schedule(o2)
	if h.sched.Pending() != 0 {
		t.Errorf("pending = %d after post-Stop Schedule, want 0", h.sched.Pending())
	}
}

type fakeRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeRecorder) RecordExecution(o model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, o.ID)
	return nil
}

func TestExecutionReachesRecorder(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	st.EnsureSeed(store.KindBalances, model.Balance{Cash: dec("1000.00"), Total: dec("1000.00")})
	st.EnsureSeed(store.KindPositions, []model.Position{})
	st.EnsureSeed(store.KindOrders, []model.Order{})
	st.EnsureSeed(store.KindUser, model.Profile{})

	lg, err := ledger.Open(st)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	olog := orderlog.New(st)
	rec := &fakeRecorder{}
	sched := New(Config{
		Ledger:   lg,
		Orders:   olog,
		Recorder: rec,
		MaxDelay: time.Millisecond,
	})
	defer sched.Stop()

	q, p := dec("1"), dec("100.00")
	o, err := olog.Append(model.Order{
		Symbol: "AAPL", Asset: model.AssetStock, Side: model.SideBuy,
		Quantity: q, Price: p, Total: p.Mul(q),
		Status: model.StatusOpen, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	sched.Schedule(o)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		n := len(rec.ids)
		rec.mu.Unlock()
		if n == 1 {
			if rec.ids[0] != o.ID {
				t.Fatalf("recorded %s, want %s", rec.ids[0], o.ID)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution of %s never reached the recorder", o.ID)
}
