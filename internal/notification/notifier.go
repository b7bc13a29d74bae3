// Package notification delivers order lifecycle events to the user's
// channels (Telegram, webhooks, or the process log).
package notification

import (
	"context"
	"log"
)

// Level indicates how urgently an event should be surfaced.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Event is a user-facing notification about an order.
type Event struct {
	Level   Level  `json:"level"`
	OrderID string `json:"order_id,omitempty"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an event. Returns error if delivery fails.
	Send(ctx context.Context, ev Event) error
}

// LogNotifier logs events to the process log (useful for development and as
// the default backend).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, ev Event) error {
	log.Printf("[notify] [%s] %s %s: %s", ev.Level, ev.OrderID, ev.Title, ev.Message)
	return nil
}

// Multi fans an event out to several backends. Delivery failures are
// independent; the first error is returned after all sends were attempted.
type Multi struct {
	backends []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends}
}

func (m *Multi) Send(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m.backends {
		if err := n.Send(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
