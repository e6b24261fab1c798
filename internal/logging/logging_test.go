package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEnsureCorrelationID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected a UUID, got %q: %v", id, err)
	}
	if CorrelationID(ctx) != id {
		t.Error("context should carry the generated id")
	}

	again, same := EnsureCorrelationID(ctx)
	if same != id || CorrelationID(again) != id {
		t.Error("existing correlation id should be preserved")
	}

	_, given := EnsureCorrelationID(WithCorrelationID(context.Background(), "req-1"))
	if given != "req-1" {
		t.Errorf("expected req-1, got %q", given)
	}
}

func TestNewJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Level: "warn"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "table", "rides")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "kept" || line["table"] != "rides" {
		t.Errorf("unexpected record: %v", line)
	}
}
