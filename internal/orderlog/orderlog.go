// Package orderlog keeps the full history of orders ever created and owns
// every status transition. All mutations go through one lock, so the
// cancel-versus-execute race on an open order resolves to exactly one
// terminal status.
package orderlog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"broker-simv1/internal/model"
	"broker-simv1/internal/store"
)

// idPrefix is the human-readable order identifier prefix: ORD001, ORD002, ...
const idPrefix = "ORD"

// Storage is the slice of the persistent store the log needs.
// *store.Store satisfies it.
type Storage interface {
	Load(kind store.Kind, out any) error
	Save(kind store.Kind, records any) error
}

// Log is the append/update store of all orders, backed by the persistent
// store's "orders" record set.
type Log struct {
	mu sync.Mutex
	st Storage
}

// New creates a Log on top of the given store.
func New(st Storage) *Log {
	return &Log{st: st}
}

func (l *Log) load() ([]model.Order, error) {
	var orders []model.Order
	if err := l.st.Load(store.KindOrders, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// nextID returns the next sequential identifier given the existing history.
func nextID(orders []model.Order) string {
	max := 0
	for _, o := range orders {
		n, err := strconv.Atoi(strings.TrimPrefix(o.ID, idPrefix))
		if err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%03d", idPrefix, max+1)
}

// Append assigns a fresh identifier to the order, persists it, and returns
// the stored copy. The order must already be validated; an order that failed
// validation is never appended.
func (l *Log) Append(o model.Order) (model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orders, err := l.load()
	if err != nil {
		return model.Order{}, err
	}
	o.ID = nextID(orders)
	orders = append(orders, o)
	if err := l.st.Save(store.KindOrders, orders); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

// Get returns the order with the given identifier (case-insensitive).
func (l *Log) Get(id string) (model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orders, err := l.load()
	if err != nil {
		return model.Order{}, err
	}
	if i := find(orders, id); i >= 0 {
		return orders[i], nil
	}
	return model.Order{}, fmt.Errorf("%w: %s", model.ErrOrderNotFound, strings.ToUpper(id))
}

// All returns every order ever created, oldest first.
func (l *Log) All() ([]model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Open returns all orders still awaiting settlement.
func (l *Log) Open() ([]model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orders, err := l.load()
	if err != nil {
		return nil, err
	}
	var open []model.Order
	for _, o := range orders {
		if o.Status == model.StatusOpen {
			open = append(open, o)
		}
	}
	return open, nil
}

// Grouped buckets orders for the status view: everything open, everything
// cancelled, and executions that landed on the given (UTC) day.
type Grouped struct {
	Open          []model.Order
	Cancelled     []model.Order
	ExecutedToday []model.Order
}

// Grouped returns the status buckets relative to now.
func (l *Log) Grouped(now time.Time) (Grouped, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orders, err := l.load()
	if err != nil {
		return Grouped{}, err
	}
	today := now.UTC().Format("2006-01-02")
	var g Grouped
	for _, o := range orders {
		switch o.Status {
		case model.StatusOpen:
			g.Open = append(g.Open, o)
		case model.StatusCancelled:
			g.Cancelled = append(g.Cancelled, o)
		case model.StatusExecuted:
			if o.ExecutedAt != nil && o.ExecutedAt.UTC().Format("2006-01-02") == today {
				g.ExecutedToday = append(g.ExecutedToday, o)
			}
		}
	}
	return g, nil
}

// Transition atomically moves an open order to a terminal status.
// Returns ErrOrderNotFound for unknown identifiers and ErrAlreadyTerminal
// when the order is no longer open; in both cases nothing changes.
func (l *Log) Transition(id string, to model.OrderStatus, at time.Time) (model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transition(id, to, at)
}

func (l *Log) transition(id string, to model.OrderStatus, at time.Time) (model.Order, error) {
	orders, err := l.load()
	if err != nil {
		return model.Order{}, err
	}
	i := find(orders, id)
	if i < 0 {
		return model.Order{}, fmt.Errorf("%w: %s", model.ErrOrderNotFound, strings.ToUpper(id))
	}
	o := orders[i]
	if o.Status != model.StatusOpen {
		return o, fmt.Errorf("%w: %s is %s", model.ErrAlreadyTerminal, o.ID, o.Status)
	}

	ts := at
	o.Status = to
	switch to {
	case model.StatusExecuted:
		o.ExecutedAt = &ts
	case model.StatusCancelled:
		o.CancelledAt = &ts
	default:
		return o, fmt.Errorf("%w: cannot transition to %s", model.ErrInvalidRequest, to)
	}
	orders[i] = o
	if err := l.st.Save(store.KindOrders, orders); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

// Settle resolves an open order at execution time. The apply callback runs
// while the log's lock is held, so a concurrent Transition (cancellation)
// cannot slip between the open-status check and the commit.
//
// When apply succeeds the order becomes executed. When apply reports a
// business rejection (insufficient funds or holdings at settlement time) the
// order becomes cancelled instead and the rejection is returned. Any other
// apply error leaves the order open and untouched.
//
// If apply succeeded but the executed status cannot be persisted, revert is
// invoked with the same order to undo apply's effect, so the order that
// remains open and the ledger agree and a later retry charges exactly once.
func (l *Log) Settle(id string, at time.Time, apply, revert func(model.Order) error) (model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, err := l.peek(id)
	if err != nil {
		return model.Order{}, err
	}
	if o.Status != model.StatusOpen {
		return o, fmt.Errorf("%w: %s is %s", model.ErrAlreadyTerminal, o.ID, o.Status)
	}

	applyErr := apply(o)
	switch {
	case applyErr == nil:
		executed, err := l.transition(id, model.StatusExecuted, at)
		if err == nil {
			return executed, nil
		}
		if revert != nil {
			if revErr := revert(o); revErr != nil {
				return o, fmt.Errorf("commit of %s failed: %v; revert failed: %w", o.ID, err, revErr)
			}
		}
		return o, err
	case isRejection(applyErr):
		cancelled, err := l.transition(id, model.StatusCancelled, at)
		if err != nil {
			return cancelled, err
		}
		return cancelled, applyErr
	default:
		return o, applyErr
	}
}

// peek reads an order without taking the lock; callers must hold it.
func (l *Log) peek(id string) (model.Order, error) {
	orders, err := l.load()
	if err != nil {
		return model.Order{}, err
	}
	if i := find(orders, id); i >= 0 {
		return orders[i], nil
	}
	return model.Order{}, fmt.Errorf("%w: %s", model.ErrOrderNotFound, strings.ToUpper(id))
}

func isRejection(err error) bool {
	return errors.Is(err, model.ErrInsufficientFunds) || errors.Is(err, model.ErrInsufficientHoldings)
}

func find(orders []model.Order, id string) int {
	for i, o := range orders {
		if strings.EqualFold(o.ID, id) {
			return i
		}
	}
	return -1
}
