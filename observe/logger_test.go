package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// TestLogger_IncludesOpFields verifies operation fields are present in log output.
func TestLogger_IncludesOpFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	meta := OpMeta{
		Service:   "equipment",
		Operation: "reserve_stock",
	}

	opLogger := logger.WithOp(meta)
	opLogger.Info(context.Background(), "test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}

	if v, ok := entry["op.id"].(string); !ok || v != "equipment.reserve_stock" {
		t.Errorf("expected op.id='equipment.reserve_stock', got %v", entry["op.id"])
	}
	if v, ok := entry["op.service"].(string); !ok || v != "equipment" {
		t.Errorf("expected op.service='equipment', got %v", entry["op.service"])
	}
	if v, ok := entry["op.name"].(string); !ok || v != "reserve_stock" {
		t.Errorf("expected op.name='reserve_stock', got %v", entry["op.name"])
	}
}

// TestLogger_LevelFiltering verifies messages below the level are dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	logger.Debug(context.Background(), "debug message")
	logger.Info(context.Background(), "info message")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn level, got: %s", buf.String())
	}

	logger.Warn(context.Background(), "warn message")
	logger.Error(context.Background(), "error message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 log lines, got %d", len(lines))
	}
}

// TestLogger_RedactsSensitiveFields verifies sensitive field values never
// appear in output.
func TestLogger_RedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "call",
		Field{Key: "password", Value: "hunter2"},
		Field{Key: "input", Value: "raw payload"},
		Field{Key: "attempt", Value: 3},
	)

	output := buf.String()
	if strings.Contains(output, "hunter2") || strings.Contains(output, "raw payload") {
		t.Fatalf("sensitive value leaked into log output: %s", output)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["password"] != "[REDACTED]" {
		t.Errorf("expected password='[REDACTED]', got %v", entry["password"])
	}
	if v, ok := entry["attempt"].(float64); !ok || v != 3 {
		t.Errorf("expected attempt=3, got %v", entry["attempt"])
	}
}

// TestLogger_StandardEntryShape verifies timestamp, level, and msg fields.
func TestLogger_StandardEntryShape(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Error(context.Background(), "database down")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["level"] != "error" {
		t.Errorf("expected level=error, got %v", entry["level"])
	}
	if entry["msg"] != "database down" {
		t.Errorf("expected msg='database down', got %v", entry["msg"])
	}
	if _, ok := entry["timestamp"].(string); !ok {
		t.Error("expected a timestamp field")
	}
}

// TestLogger_WithOpDoesNotMutateParent verifies scoped loggers are independent.
func TestLogger_WithOpDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	_ = logger.WithOp(OpMeta{Service: "a", Operation: "op"})
	logger.Info(context.Background(), "parent message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if _, ok := entry["op.id"]; ok {
		t.Error("parent logger picked up operation fields from WithOp")
	}
}

// TestParseLogLevel verifies level parsing including the default.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
