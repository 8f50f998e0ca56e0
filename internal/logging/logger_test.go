package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line is not valid JSON: %v (%s)", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	t.Run("creates tether.log in the log directory", func(t *testing.T) {
		dir := t.TempDir()

		logger, err := NewLogger(dir, LevelDebug, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
			t.Errorf("log file was not created: %v", err)
		}
	})

	t.Run("writes to stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger("", LevelInfo, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger.closer != nil {
			t.Error("expected no closer for stderr logger")
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("expected 2 log lines (WARN and ERROR only), got %d", len(entries))
	}
	if entries[0]["level"] != "WARN" || entries[1]["level"] != "ERROR" {
		t.Errorf("unexpected levels: %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo)

	child := logger.WithPlatform("slack").WithSession("sess-1").WithThread("C42").WithComponent("bridge")
	child.Info("thread created", "extra", "data")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	want := map[string]string{
		"platform":   "slack",
		"session_id": "sess-1",
		"thread_id":  "C42",
		"component":  "bridge",
		"extra":      "data",
	}
	for k, v := range want {
		if entries[0][k] != v {
			t.Errorf("%s = %v, want %s", k, entries[0][k], v)
		}
	}
}

func TestChildDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriterLogger(&buf, LevelInfo).WithPlatform("discord")
	_ = parent.WithSession("a")
	_ = parent.WithSession("b")

	parent.Info("parent")
	entries := decodeLines(t, buf.Bytes())
	if _, ok := entries[0]["session_id"]; ok {
		t.Error("parent logger picked up a child attribute")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo)

	if logger.With() != logger {
		t.Error("With() with no args should return the same logger")
	}

	logger.With("count", 3, 42, "dropped", "odd").Info("msg")
	entries := decodeLines(t, buf.Bytes())
	if entries[0]["count"] != float64(3) {
		t.Errorf("count = %v", entries[0]["count"])
	}
	if _, ok := entries[0]["odd"]; ok {
		t.Error("dangling key should be dropped")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.WithSession("s").Error("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
