// Package logging provides structured logging using slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Config holds logging configuration.
type Config struct {
	Format    string `yaml:"format"`     // "json" | "text"
	Level     string `yaml:"level"`      // "debug" | "info" | "warn" | "error"
	Output    string `yaml:"output"`     // "stdout" | "stderr"
	AddSource bool   `yaml:"add_source"` // include file:line of the call site
}

// Setup initializes the global slog logger based on configuration.
func Setup(cfg Config) {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	slog.SetDefault(New(cfg, out))
}

// New builds a logger writing to w.
func New(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

type correlationIDKey struct{}

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID retrieves the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// EnsureCorrelationID returns ctx carrying a correlation ID, generating a
// UUID when absent.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}

// OperationLogger creates a logger for one table operation.
func OperationLogger(ctx context.Context, table, operation string) *slog.Logger {
	return slog.With(
		"correlation_id", CorrelationID(ctx),
		"table", table,
		"operation", operation,
	)
}

// RequestLogger creates a logger for an inbound API request.
func RequestLogger(ctx context.Context, method, path string) *slog.Logger {
	return slog.With(
		"correlation_id", CorrelationID(ctx),
		"method", method,
		"path", path,
	)
}

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}
