package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerRedactsConfiguredValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Output:       &buf,
		RedactValues: []string{"super-secret-token"},
	})

	logger.Info(context.Background(), "request failed",
		"detail", "token super-secret-token rejected")

	out := buf.String()
	if strings.Contains(out, "super-secret-token") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker, got %s", out)
	}
}

func TestLoggerRedactsSignatureShapes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	sig := "sha256=" + strings.Repeat("ab", 32)
	logger.Warn(context.Background(), "bad signature", "header", sig)

	if strings.Contains(buf.String(), sig) {
		t.Errorf("signature leaked into log output: %s", buf.String())
	}
}

func TestSlogHandleRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Output:       &buf,
		RedactValues: []string{"super-secret-token"},
	}).Slog()

	logger.Info("request failed",
		"detail", "token super-secret-token rejected")

	out := buf.String()
	if strings.Contains(out, "super-secret-token") {
		t.Errorf("secret leaked through Slog handle: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker, got %s", out)
	}
}

func TestSlogHandleRedactsErrorValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf}).Slog()

	err := errors.New("homechat post /api/v1/messages: unexpected status 401: Bearer abcdefghij0123456789 rejected")
	logger.Error("operation failed", "operation", "send_message", "error", err)

	if strings.Contains(buf.String(), "abcdefghij0123456789") {
		t.Errorf("credential in error value leaked: %s", buf.String())
	}
}

func TestSlogHandleRedactsThroughWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Output:       &buf,
		RedactValues: []string{"hook-secret-value"},
	}).Slog()

	child := logger.With("component", "webhook")
	child.Warn("delivery rejected", "secret", "hook-secret-value")

	out := buf.String()
	if strings.Contains(out, "hook-secret-value") {
		t.Errorf("secret leaked through With child: %s", out)
	}
	if !strings.Contains(out, "webhook") {
		t.Errorf("expected component attr to survive, got %s", out)
	}
}

func TestLoggerAddsRequestIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddRequestID(context.Background(), "req-123")
	logger.Info(ctx, "handling request")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if record["request_id"] != "req-123" {
		t.Errorf("expected request id in record, got %v", record)
	}
	if GetRequestID(ctx) != "req-123" {
		t.Error("GetRequestID mismatch")
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.in); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
