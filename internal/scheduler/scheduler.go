// Package scheduler owns the asynchronous settlement of accepted orders.
//
// Each open order gets its own timer with a randomized delay, emulating
// variable settlement latency. At expiry the order is re-validated against
// the ledger and committed through the order log's settle step; a user
// cancellation races against that step and exactly one of them wins.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"broker-simv1/internal/ledger"
	"broker-simv1/internal/metrics"
	"broker-simv1/internal/model"
	"broker-simv1/internal/notification"
	"broker-simv1/internal/orderlog"
)

// Recorder receives executed orders for audit. *journal.Journal satisfies it.
type Recorder interface {
	RecordExecution(o model.Order) error
}

// Config wires the scheduler's collaborators and delay window.
type Config struct {
	Ledger   *ledger.Ledger
	Orders   *orderlog.Log
	Notifier notification.Notifier // defaults to the log notifier
	Recorder Recorder              // optional
	Metrics  *metrics.Metrics      // optional
	Health   *metrics.HealthStatus // optional

	// Settlement fires after a uniformly random delay in [MinDelay, MaxDelay).
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Scheduler manages one settlement timer per in-flight order.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Scheduler. Ledger and Orders are required.
func New(cfg Config) *Scheduler {
	if cfg.Notifier == nil {
		cfg.Notifier = notification.NewLogNotifier()
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Scheduler{
		cfg:    cfg,
		timers: make(map[string]*time.Timer),
	}
}

// delay picks a random settlement delay within the configured window.
func (s *Scheduler) delay() time.Duration {
	window := s.cfg.MaxDelay - s.cfg.MinDelay
	if window <= 0 {
		return s.cfg.MinDelay
	}
	return s.cfg.MinDelay + time.Duration(rand.Int63n(int64(window)))
}

// Schedule arms a settlement timer for an open order and returns
// immediately; execution happens out of line.
func (s *Scheduler) Schedule(o model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		log.Printf("[scheduler] not scheduling %s: scheduler stopped", o.ID)
		return
	}
	if _, exists := s.timers[o.ID]; exists {
		return
	}

	d := s.delay()
	scheduledAt := time.Now()
	s.timers[o.ID] = time.AfterFunc(d, func() { s.fire(o.ID, scheduledAt) })
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.OpenOrders.Inc()
	}
	log.Printf("[scheduler] order %s settles in %v", o.ID, d.Round(time.Millisecond))
}

// Resume re-arms timers for every order left open by a previous run.
func (s *Scheduler) Resume() error {
	open, err := s.cfg.Orders.Open()
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	for _, o := range open {
		s.Schedule(o)
	}
	if len(open) > 0 {
		log.Printf("[scheduler] resumed %d open orders", len(open))
	}
	return nil
}

// Cancel atomically cancels an order if it is still open. Returns the
// cancelled order, or ErrOrderNotFound / ErrAlreadyTerminal if the order is
// unknown or the settlement already committed.
func (s *Scheduler) Cancel(id string) (model.Order, error) {
	o, err := s.cfg.Orders.Transition(id, model.StatusCancelled, time.Now().UTC())
	if err != nil {
		return o, err
	}
	s.forget(o.ID)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.OrdersCancelled.WithLabelValues("user").Inc()
	}
	log.Printf("[scheduler] order %s cancelled by user", o.ID)
	return o, nil
}

// fire settles one order at timer expiry. Every failure mode is contained
// here; a failed settlement never takes down other orders' timers.
func (s *Scheduler) fire(id string, scheduledAt time.Time) {
	if !s.begin() {
		return
	}
	defer s.wg.Done()
	defer s.forget(id)

	now := time.Now().UTC()
	final, err := s.cfg.Orders.Settle(id, now,
		func(o model.Order) error {
			_, _, applyErr := s.cfg.Ledger.ApplyExecution(o)
			return applyErr
		},
		func(o model.Order) error {
			_, revErr := s.cfg.Ledger.RevertExecution(o)
			return revErr
		})

	switch {
	case err == nil:
		s.executed(final, scheduledAt)

	case errors.Is(err, model.ErrAlreadyTerminal), errors.Is(err, model.ErrOrderNotFound):
		// Cancel won the race, or the order never persisted. Nothing to do.

	case errors.Is(err, model.ErrInsufficientFunds), errors.Is(err, model.ErrInsufficientHoldings):
		s.settlementFailed(final, err)

	default:
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.StoreSaveFailures.Inc()
		}
		if s.cfg.Health != nil {
			s.cfg.Health.SetStoreOK(false)
		}
		log.Printf("[scheduler] order %s settlement aborted: %v", id, err)
	}
}

func (s *Scheduler) executed(o model.Order, scheduledAt time.Time) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.OrdersExecuted.Inc()
		s.cfg.Metrics.SettlementDelay.Observe(time.Since(scheduledAt).Seconds())
	}
	if s.cfg.Health != nil {
		s.cfg.Health.SetLastExecution(time.Now())
	}
	if s.cfg.Recorder != nil {
		if err := s.cfg.Recorder.RecordExecution(o); err != nil {
			log.Printf("[scheduler] journal write for %s failed: %v", o.ID, err)
		}
	}
	s.notify(notification.Event{
		Level:   notification.LevelInfo,
		OrderID: o.ID,
		Title:   "Order executed",
		Message: describe(o),
	})
	log.Printf("[scheduler] order %s executed: %s", o.ID, describe(o))
}

func (s *Scheduler) settlementFailed(o model.Order, cause error) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.OrdersCancelled.WithLabelValues("settlement").Inc()
	}
	s.notify(notification.Event{
		Level:   notification.LevelWarning,
		OrderID: o.ID,
		Title:   "Order failed at settlement",
		Message: fmt.Sprintf("%s — %v", describe(o), cause),
	})
	log.Printf("[scheduler] order %s failed at settlement: %v", o.ID, cause)
}

func (s *Scheduler) notify(ev notification.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.cfg.Notifier.Send(ctx, ev); err != nil {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.NotificationErrors.Inc()
		}
		log.Printf("[scheduler] notify failed: %v", err)
	}
}

// begin marks a firing in progress unless the scheduler has stopped.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// forget drops the timer bookkeeping for an order.
func (s *Scheduler) forget(id string) {
	s.mu.Lock()
	t, ok := s.timers[id]
	if ok {
		delete(s.timers, id)
	}
	s.mu.Unlock()
	if ok {
		t.Stop()
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.OpenOrders.Dec()
		}
	}
}

// Stop halts all pending timers and waits for in-flight settlements to
// finish. Orders still open simply remain open; Resume picks them up on the
// next run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
	log.Printf("[scheduler] stopped")
}

// Pending reports how many settlement timers are armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func describe(o model.Order) string {
	return fmt.Sprintf("%s %s %s @ $%s ($%s)",
		strings.ToUpper(string(o.Side)), o.Quantity.String(), o.Symbol,
		o.Price.StringFixed(4), o.Total.StringFixed(2))
}
