package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"INFO", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := LevelString(test.level)
			if result != test.expected {
				t.Errorf("expected %q, got %q", test.expected, result)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("expected default format Text, got %v", cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.MaxSize <= 0 {
		t.Errorf("expected positive MaxSize, got %d", cfg.MaxSize)
	}
	if cfg.MaxAge <= 0 {
		t.Errorf("expected positive MaxAge, got %d", cfg.MaxAge)
	}
	if cfg.MaxBackups <= 0 {
		t.Errorf("expected positive MaxBackups, got %d", cfg.MaxBackups)
	}
}

func TestLoggerNew(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "stderr"

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.Logger == nil {
		t.Error("logger.Logger is nil")
	}
}

func TestLoggerWithRequestID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "stderr"

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	childLogger := logger.WithRequestID("test-request-123")
	if childLogger == nil {
		t.Error("WithRequestID returned nil")
	}
}

func TestLoggerWithComponent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "stderr"

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	childLogger := logger.WithComponent("test-component")
	if childLogger == nil {
		t.Error("WithComponent returned nil")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	requestID := "test-request-456"

	// Add request ID to context
	ctx = ContextWithRequestID(ctx, requestID)

	// Extract request ID from context
	extracted := RequestIDFromContext(ctx)
	if extracted != requestID {
		t.Errorf("expected %q, got %q", requestID, extracted)
	}
}

func TestRequestIDFromNilContext(t *testing.T) {
	extracted := RequestIDFromContext(nil)
	if extracted != "" {
		t.Errorf("expected empty string, got %q", extracted)
	}
}

func TestRequestIDFromEmptyContext(t *testing.T) {
	ctx := context.Background()
	extracted := RequestIDFromContext(ctx)
	if extracted != "" {
		t.Errorf("expected empty string, got %q", extracted)
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"password", true},
		{"PASSWORD", true},
		{"secret", true},
		{"api_key", true},
		{"apikey", true},
		{"token", true},
		{"auth_token", true},
		{"bearer", true},
		{"credential", true},
		{"private_key", true},
		{"cookie", true},
		{"session_id", false},
		{"key_fingerprint", false},
		{"document_hash", false},
		{"verdict", false},
		{"id", false},
		{"timestamp", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			result := shouldRedact(test.key)
			if result != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, result, test.expected)
			}
		})
	}
}

func TestNewRequestID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "stderr"
	cfg.Component = "test"

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	id1 := logger.NewRequestID()
	id2 := logger.NewRequestID()

	if id1 == "" {
		t.Error("NewRequestID returned empty string")
	}
	if id1 == id2 {
		t.Error("NewRequestID returned duplicate IDs")
	}
	if !strings.HasPrefix(id1, "test-") {
		t.Errorf("NewRequestID should start with component name, got %q", id1)
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("json") != FormatJSON {
		t.Error("expected json to parse as FormatJSON")
	}
	if ParseFormat("JSON") != FormatJSON {
		t.Error("expected JSON to parse as FormatJSON")
	}
	if ParseFormat("text") != FormatText {
		t.Error("expected text to parse as FormatText")
	}
	if ParseFormat("") != FormatText {
		t.Error("expected empty string to parse as FormatText")
	}
}

func TestFileOutputJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	logger, err := New(&Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Output:    "file",
		FilePath:  logPath,
		MaxSize:   1,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Info("block sealed", "session_id", "abc", "auth_token", "hunter2", "events", 3)
	logger.Debug("dropped below level")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "block sealed" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["component"] != "test" {
		t.Errorf("unexpected component: %v", entry["component"])
	}
	if entry["session_id"] != "abc" {
		t.Errorf("session_id should not be redacted, got %v", entry["session_id"])
	}
	if entry["auth_token"] != "[REDACTED]" {
		t.Errorf("auth_token should be redacted, got %v", entry["auth_token"])
	}
}

func TestFileOutputRotate(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	logger, err := New(&Config{
		Level:    LevelInfo,
		Output:   "file",
		FilePath: logPath,
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Info("before rotation")
	if err := logger.Rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	logger.Info("after rotation")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected current and one backup file, got %d", len(entries))
	}
}

func TestFileOutputRequiresPath(t *testing.T) {
	_, err := New(&Config{Output: "file"})
	if err == nil {
		t.Error("expected error for file output without a path")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Info("nothing")
	if err := l.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if err := l.Rotate(); err != nil {
		t.Errorf("rotate: %v", err)
	}
}

func TestLoggerWithContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "stderr"

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "test-req-789")

	childLogger := logger.WithContext(ctx)
	if childLogger == nil {
		t.Error("WithContext returned nil")
	}
}

func TestAuditLogger(t *testing.T) {
	tmpDir := t.TempDir()
	auditPath := filepath.Join(tmpDir, "audit.log")

	cfg := &AuditLoggerConfig{
		FilePath:   auditPath,
		MaxSize:    10,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   false,
		Component:  "test",
	}

	auditLogger, err := NewAuditLogger(cfg)
	if err != nil {
		t.Fatalf("failed to create audit logger: %v", err)
	}

	ctx := ContextWithRequestID(context.Background(), "req-1")

	if err := auditLogger.LogSessionStart(ctx, "session-123", map[string]any{"subject": "alice"}); err != nil {
		t.Errorf("LogSessionStart failed: %v", err)
	}
	if err := auditLogger.LogSeal(ctx, "session-123", "abc123", nil, map[string]any{"blocks": 2}); err != nil {
		t.Errorf("LogSeal failed: %v", err)
	}
	if err := auditLogger.LogSeal(ctx, "session-123", "abc123", io.ErrUnexpectedEOF, nil); err != nil {
		t.Errorf("LogSeal failed: %v", err)
	}
	if err := auditLogger.LogVerification(ctx, "upload.humansign", false, nil); err != nil {
		t.Errorf("LogVerification failed: %v", err)
	}
	if err := auditLogger.LogConfigChange(ctx, "/etc/humansign/config.toml"); err != nil {
		t.Errorf("LogConfigChange failed: %v", err)
	}
	if err := auditLogger.LogError(ctx, "test_operation", io.EOF, nil); err != nil {
		t.Errorf("LogError failed: %v", err)
	}
	if err := auditLogger.LogSessionEnd(ctx, "session-123", nil); err != nil {
		t.Errorf("LogSessionEnd failed: %v", err)
	}
	if err := auditLogger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("failed to read audit log: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 7 {
		t.Fatalf("expected 7 audit lines, got %d", len(lines))
	}

	var events []AuditEvent
	for i, line := range lines {
		var event AuditEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i+1, err)
		}
		events = append(events, event)
	}

	if events[0].EventType != AuditEventSessionStart || events[0].SessionID != "session-123" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[0].Component != "test" || events[0].RequestID != "req-1" {
		t.Errorf("defaults not filled in: %+v", events[0])
	}
	if events[1].Result != "success" || events[2].Result != "failure" {
		t.Errorf("unexpected seal results: %q %q", events[1].Result, events[2].Result)
	}
	if events[2].Error == "" {
		t.Error("failed seal should record the error")
	}
	if events[3].Result != "failure" {
		t.Errorf("forged verification should be a failure, got %q", events[3].Result)
	}
}

func TestAuditWriter(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditWriter(&buf, "")
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	if err := a.LogKeyGenerated(context.Background(), "SHA256:abc", 2048); err != nil {
		t.Fatalf("LogKeyGenerated failed: %v", err)
	}

	var event AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if !event.Timestamp.Equal(fixed) {
		t.Errorf("expected timestamp %v, got %v", fixed, event.Timestamp)
	}
	if event.Component != "humansign" {
		t.Errorf("expected default component, got %q", event.Component)
	}
	if event.Resource != "SHA256:abc" {
		t.Errorf("unexpected resource %q", event.Resource)
	}
}

func TestNilAuditLogger(t *testing.T) {
	var a *AuditLogger
	if err := a.LogSessionStart(context.Background(), "s", nil); err != nil {
		t.Errorf("nil audit logger should discard, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("nil close: %v", err)
	}
}

func TestSetLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")
	logger, err := New(&Config{
		Level:    LevelInfo,
		Format:   FormatText,
		Output:   "file",
		FilePath: logPath,
		MaxSize:  1,
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	derived := logger.WithComponent("session")

	derived.Debug("hidden")
	logger.SetLevel(LevelDebug)
	derived.Debug("shown")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("debug line written before level change")
	}
	if !strings.Contains(string(data), "shown") {
		t.Error("derived logger did not follow level change")
	}

	// No-op on loggers without a level var.
	Discard().SetLevel(LevelDebug)
}
