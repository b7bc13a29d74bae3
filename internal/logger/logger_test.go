package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestOrderID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No order ID set
	if id := OrderID(ctx); id != "" {
		t.Errorf("expected empty order id, got %q", id)
	}

	// Set and retrieve
	ctx = WithOrderID(ctx, "ORD042")
	if id := OrderID(ctx); id != "ORD042" {
		t.Errorf("expected 'ORD042', got %q", id)
	}
}

func TestLogWithOrder(t *testing.T) {
	ctx := context.Background()

	// No order ID
	attrs := LogWithOrder(ctx)
	if attrs != nil {
		t.Errorf("expected nil attrs when no order id, got %v", attrs)
	}

	ctx = WithOrderID(ctx, "ORD001")
	attrs = LogWithOrder(ctx)
	if len(attrs) == 0 {
		t.Fatal("expected non-empty attrs with order id set")
	}
}
