package logx

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setupTestLogger captures log output in a buffer.
func setupTestLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger(t)

	logger := NewLogger("scheduler")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, "[scheduler]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
	if !strings.Contains(output, "T") || !strings.Contains(output, "Z]") {
		t.Errorf("Expected ISO timestamp in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebugConfig(true, false, "")
	defer SetDebugConfig(false, false, "")

	logger := NewLogger("worker")
	tests := []struct {
		logFunc  func(string, ...any)
		expected string
	}{
		{logger.Debug, "DEBUG"},
		{logger.Info, "INFO"},
		{logger.Warn, "WARN"},
		{logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		buf.Reset()
		tt.logFunc("level check")
		if !strings.Contains(buf.String(), tt.expected) {
			t.Errorf("Expected %s in output, got: %s", tt.expected, buf.String())
		}
	}
}

func TestDebugDisabledByDefault(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebugConfig(false, false, "")

	NewLogger("worker").Debug("hidden")
	Debug(context.Background(), "dispatch", "hidden too")

	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger(t)
	SetDebugConfig(true, false, "")
	SetDebugDomains([]string{"dispatch"})
	defer func() {
		SetDebugConfig(false, false, "")
		SetDebugDomains(nil)
	}()

	ctx := WithComponent(context.Background(), "worker:unit-7")
	Debug(ctx, "dispatch", "parsed %s", "finalDecision")
	Debug(ctx, "trim", "should not appear")

	output := buf.String()
	if !strings.Contains(output, "[worker:unit-7]") || !strings.Contains(output, "[dispatch] parsed finalDecision") {
		t.Errorf("Expected dispatch debug line, got: %s", output)
	}
	if strings.Contains(output, "should not appear") {
		t.Errorf("Expected trim domain to be filtered, got: %s", output)
	}
}

func TestDebugFileLogging(t *testing.T) {
	setupTestLogger(t)
	dir := t.TempDir()
	SetDebugConfig(true, true, dir)
	SetDebugDomains(nil)
	defer SetDebugConfig(false, false, "")

	Debug(context.Background(), "queryloop", "attempt %d", 1)
	Debug(context.Background(), "queryloop", "attempt %d", 2)

	data, err := os.ReadFile(filepath.Join(dir, "queryloop.log"))
	if err != nil {
		t.Fatalf("Expected debug file to exist: %v", err)
	}
	if strings.Count(string(data), "attempt") != 2 {
		t.Errorf("Expected both lines appended, got: %s", data)
	}
}

func TestWithSubComponent(t *testing.T) {
	logger := NewLogger("worker").With("city-3")
	if logger.Component() != "worker:city-3" {
		t.Errorf("Expected worker:city-3, got %s", logger.Component())
	}
}

func TestWrap(t *testing.T) {
	setupTestLogger(t)
	if Wrap(nil, "noop") != nil {
		t.Error("Expected nil for nil error")
	}
	err := Wrap(os.ErrNotExist, "open manual")
	if err == nil || !strings.Contains(err.Error(), "open manual: ") {
		t.Errorf("Unexpected wrapped error: %v", err)
	}
}

func TestConsoleStyles(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.Current("Current unit:", "Settlers 104")
	c.Action("Action chosen for Settlers 104:", "build_city")

	output := buf.String()
	if !strings.Contains(output, "Settlers 104") || !strings.Contains(output, "build_city") {
		t.Errorf("Expected console text, got: %q", output)
	}
	if strings.Count(output, "\n") != 2 {
		t.Errorf("Expected two lines, got: %q", output)
	}
}
