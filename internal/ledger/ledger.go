// Package ledger is the authoritative cash + positions state and its
// validation rules. A single lock spans every check-and-apply, so two
// simultaneous executions can never both pass a since-stale sufficiency
// check. Trading never drives cash or a held quantity negative.
package ledger

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"broker-simv1/internal/model"
	"broker-simv1/internal/store"
)

// Ledger owns the balance, positions, and user profile singletons. They are
// loaded once at startup and mutated in place; every mutation persists
// before it is considered to have happened.
type Ledger struct {
	mu        sync.Mutex
	st        *store.Store
	balance   model.Balance
	positions []model.Position
	profile   model.Profile
}

// Open loads the persisted state. The store must already be seeded.
func Open(st *store.Store) (*Ledger, error) {
	l := &Ledger{st: st}
	if err := st.Load(store.KindBalances, &l.balance); err != nil {
		return nil, err
	}
	if err := st.Load(store.KindPositions, &l.positions); err != nil {
		return nil, err
	}
	if err := st.Load(store.KindUser, &l.profile); err != nil {
		return nil, err
	}
	log.Printf("[ledger] loaded: cash=%s positions=%d user=%q",
		l.balance.Cash.StringFixed(2), len(l.positions), l.profile.Username)
	return l, nil
}

// ApplyExecution applies an order's trade effect to the ledger. It
// re-validates against the current balance and positions, because other
// orders may have executed since placement; this is the authoritative
// no-margin enforcement point. On insufficiency nothing changes and the
// business error is returned so the caller resolves the order to cancelled.
func (l *Ledger) ApplyExecution(o model.Order) (model.Balance, model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevBalance := l.balance
	prevPositions := clonePositions(l.positions)

	var pos model.Position
	switch o.Side {
	case model.SideBuy:
		if o.Total.GreaterThan(l.balance.Cash) {
			return model.Balance{}, model.Position{}, fmt.Errorf(
				"%w: order %s needs $%s but cash is $%s",
				model.ErrInsufficientFunds, o.ID,
				o.Total.StringFixed(2), l.balance.Cash.StringFixed(2))
		}
		l.balance.Cash = l.balance.Cash.Sub(o.Total).Round(2)
		pos = l.applyBuy(o)

	case model.SideSell:
		i := l.find(o.Symbol)
		if i < 0 || o.Quantity.GreaterThan(l.positions[i].Quantity) {
			held := decimal.Zero
			if i >= 0 {
				held = l.positions[i].Quantity
			}
			return model.Balance{}, model.Position{}, fmt.Errorf(
				"%w: order %s sells %s %s but only %s held",
				model.ErrInsufficientHoldings, o.ID,
				o.Quantity.String(), o.Symbol, held.String())
		}
		l.balance.Cash = l.balance.Cash.Add(o.Total).Round(2)
		pos = l.applySell(i, o)

	default:
		return model.Balance{}, model.Position{}, fmt.Errorf(
			"%w: unknown side %q", model.ErrInvalidRequest, o.Side)
	}

	l.recompute()

	if err := l.persistHoldings(); err != nil {
		l.balance = prevBalance
		l.positions = prevPositions
		return model.Balance{}, model.Position{}, err
	}
	return l.balance, pos, nil
}

// RevertExecution undoes a trade whose ledger effect committed but whose
// executed status could not be persisted, so the still-open order can retry
// without charging twice. Cash and quantity restore exactly; the average
// cost is recomputed from the position totals. A position that a reverted
// sell had fully exited is recreated with the fill price as its basis.
func (l *Ledger) RevertExecution(o model.Order) (model.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevBalance := l.balance
	prevPositions := clonePositions(l.positions)

	switch o.Side {
	case model.SideBuy:
		l.balance.Cash = l.balance.Cash.Add(o.Total).Round(2)
		if i := l.find(o.Symbol); i >= 0 {
			p := &l.positions[i]
			remaining := p.Quantity.Sub(o.Quantity).Round(8)
			if remaining.IsPositive() {
				basis := p.Quantity.Mul(p.AvgCost).Sub(o.Quantity.Mul(o.Price))
				p.Quantity = remaining
				p.AvgCost = basis.Div(remaining).Round(4)
			} else {
				l.positions = append(l.positions[:i], l.positions[i+1:]...)
			}
		}

	case model.SideSell:
		l.balance.Cash = l.balance.Cash.Sub(o.Total).Round(2)
		if i := l.find(o.Symbol); i >= 0 {
			p := &l.positions[i]
			p.Quantity = p.Quantity.Add(o.Quantity).Round(8)
			p.CurrentPrice = o.Price
		} else {
			l.positions = append(l.positions, model.Position{
				Symbol:       o.Symbol,
				Name:         o.Symbol,
				Asset:        o.Asset,
				Quantity:     o.Quantity,
				AvgCost:      o.Price,
				CurrentPrice: o.Price,
			})
		}

	default:
		return model.Balance{}, fmt.Errorf("%w: unknown side %q", model.ErrInvalidRequest, o.Side)
	}

	l.recompute()

	if err := l.persistHoldings(); err != nil {
		l.balance = prevBalance
		l.positions = prevPositions
		return model.Balance{}, err
	}
	log.Printf("[ledger] reverted %s %s %s: cash restored to %s",
		o.Side, o.Quantity.String(), o.Symbol, l.balance.Cash.StringFixed(2))
	return l.balance, nil
}

// applyBuy upserts the position for a filled buy and returns the new state.
func (l *Ledger) applyBuy(o model.Order) model.Position {
	if i := l.find(o.Symbol); i >= 0 {
		p := &l.positions[i]
		oldTotal := p.Quantity.Mul(p.AvgCost)
		newTotal := o.Quantity.Mul(o.Price)
		p.Quantity = p.Quantity.Add(o.Quantity).Round(8)
		p.AvgCost = oldTotal.Add(newTotal).Div(p.Quantity).Round(4)
		p.CurrentPrice = o.Price
		return *p
	}
	p := model.Position{
		Symbol:       o.Symbol,
		Name:         o.Symbol,
		Asset:        o.Asset,
		Quantity:     o.Quantity,
		AvgCost:      o.Price,
		CurrentPrice: o.Price,
	}
	l.positions = append(l.positions, p)
	return p
}

// applySell reduces the position at index i for a filled sell. A position
// whose quantity reaches zero is removed outright.
func (l *Ledger) applySell(i int, o model.Order) model.Position {
	p := &l.positions[i]
	p.Quantity = p.Quantity.Sub(o.Quantity).Round(8)
	p.CurrentPrice = o.Price
	out := *p
	if !p.Quantity.IsPositive() {
		out.Quantity = decimal.Zero
		l.positions = append(l.positions[:i], l.positions[i+1:]...)
	}
	return out
}

// recompute refreshes the derived balance fields from positions.
// Callers must hold the lock.
func (l *Ledger) recompute() {
	nonCash := decimal.Zero
	for i := range l.positions {
		nonCash = nonCash.Add(l.positions[i].MarketValue())
	}
	l.balance.NonCash = nonCash.Round(2)
	l.balance.Total = l.balance.Cash.Add(l.balance.NonCash).Round(2)
	l.balance.LastUpdated = time.Now().UTC()
}

func (l *Ledger) persistHoldings() error {
	if err := l.st.Save(store.KindPositions, l.positions); err != nil {
		return err
	}
	return l.st.Save(store.KindBalances, l.balance)
}

// CurrentBalance returns the latest committed balance.
func (l *Ledger) CurrentBalance() model.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// CurrentPositions returns a snapshot of all positions, sorted by symbol.
func (l *Ledger) CurrentPositions() []model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := clonePositions(l.positions)
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns the position for a symbol, if held.
func (l *Ledger) Position(symbol string) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.find(symbol); i >= 0 {
		return l.positions[i], true
	}
	return model.Position{}, false
}

// Profile returns the current user profile.
func (l *Ledger) Profile() model.Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile
}

// Rename updates the display name. Mutates the profile only.
func (l *Ledger) Rename(name string) (model.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Profile{}, fmt.Errorf("%w: empty name", model.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.profile
	l.profile.Username = name
	if err := l.st.Save(store.KindUser, l.profile); err != nil {
		l.profile = prev
		return model.Profile{}, err
	}
	return l.profile, nil
}

// RefreshValuations re-prices every position from the quote source and
// recomputes the derived balance fields. Price fetch failures leave the
// previous price in place; the refresh is best effort.
func (l *Ledger) RefreshValuations(ctx context.Context, src model.QuoteSource) (model.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevBalance := l.balance
	prevPositions := clonePositions(l.positions)

	for i := range l.positions {
		q, err := src.GetQuote(ctx, l.positions[i].Symbol)
		if err != nil {
			log.Printf("[ledger] refresh: keeping stale price for %s: %v", l.positions[i].Symbol, err)
			continue
		}
		l.positions[i].CurrentPrice = q.Price
	}
	l.recompute()

	if err := l.persistHoldings(); err != nil {
		l.balance = prevBalance
		l.positions = prevPositions
		return model.Balance{}, err
	}
	return l.balance, nil
}

func (l *Ledger) find(symbol string) int {
	for i := range l.positions {
		if strings.EqualFold(l.positions[i].Symbol, symbol) {
			return i
		}
	}
	return -1
}

func clonePositions(in []model.Position) []model.Position {
	out := make([]model.Position, len(in))
	copy(out, in)
	return out
}
