// Package logging provides structured logging for PageDB.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo}, // default
		{"", LevelInfo},        // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
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
		{Level(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.level.String()
			if result != tt.expected {
				t.Errorf("Level.String() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
	}{
		{"json", FormatJSON},
		{"text", FormatText},
		{"unknown", FormatText}, // default
		{"", FormatText},        // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseFormat(tt.input)
			if result != tt.expected {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf)

	l.Info("checkpoint done", "pages", 12)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output %q: %v", buf.String(), err)
	}
	if entry["msg"] != "checkpoint done" {
		t.Errorf("msg = %v, want %q", entry["msg"], "checkpoint done")
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want %q", entry["level"], "info")
	}
	if entry["pages"] != float64(12) {
		t.Errorf("pages = %v, want 12", entry["pages"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn", Format: "text"}, &buf)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("output contains filtered messages: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("output missing warn message: %q", out)
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(Config{Level: "info", Format: "text"}, &buf)

	l := base.WithFields("collection", "users")
	l.Info("insert", "count", 3)

	out := buf.String()
	for _, want := range []string{"collection=users", "count=3", "msg=insert"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}

	buf.Reset()
	base.Info("plain")
	if strings.Contains(buf.String(), "collection=") {
		t.Error("WithFields modified the parent logger")
	}
}

func TestLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagedb.log")
	l, closer := New(Config{Level: "info", Format: "text", Output: path})

	l.Info("opened", "collection", "users")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := closer.Close(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("second Close() error = %v, want %v", err, os.ErrClosed)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(b), "msg=opened") {
		t.Errorf("log file %q missing message", b)
	}
}

func TestLoggerStdCloser(t *testing.T) {
	for _, output := range []string{"", "stderr", "stdout"} {
		_, closer := New(Config{Output: output})
		if err := closer.Close(); err != nil {
			t.Errorf("Close() for %q error = %v", output, err)
		}
	}
	if _, err := os.Stderr.Stat(); err != nil {
		t.Errorf("stderr unusable after Close: %v", err)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	l.Debug("x")
	l.Info("x", "k", "v")
	l.Warn("x")
	l.Error("x")
	if l.WithFields("k", "v") != l {
		t.Error("WithFields() on nop logger should return itself")
	}
}
