// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and helpers for
// tagging log records with the order they concern.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

const orderIDKey ctxKey = "order_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps a config string to a slog level. Unknown values fall
// back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithOrderID stores an order ID in the context for downstream log records.
func WithOrderID(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, orderIDKey, orderID)
}

// OrderID extracts the order ID from context. Returns "" if not set.
func OrderID(ctx context.Context) string {
	if v, ok := ctx.Value(orderIDKey).(string); ok {
		return v
	}
	return ""
}

// LogWithOrder returns slog attributes including the order ID from context.
// Usage: slog.Info("msg", logger.LogWithOrder(ctx)...)
func LogWithOrder(ctx context.Context) []any {
	id := OrderID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("order_id", id)}
}
