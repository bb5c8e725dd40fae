// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("output is not valid JSON: %v\nline: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

// =====================================================
// Initialization Tests
// =====================================================

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	var buf1 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()

	var buf2 bytes.Buffer
	Init(&buf2, LevelDebug)

	if Get() != first {
		t.Error("second Init() should be ignored")
	}
	if Get().out != &buf1 {
		t.Error("second Init() should not change the writer")
	}
}

// TestGet_default verifies default logger creation.
func TestGet_default(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil without Init()")
	}
	if logger.out != os.Stdout {
		t.Error("Get() should default to os.Stdout")
	}
	if logger.minLevel != LevelInfo {
		t.Errorf("minLevel = %v, want INFO", logger.minLevel)
	}
}

// TestParseLevel verifies config strings map onto levels.
func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// =====================================================
// Level Tests
// =====================================================

// TestLogLevel_shouldLog verifies level filtering.
func TestLogLevel_shouldLog(t *testing.T) {
	tests := []struct {
		min   LogLevel
		level LogLevel
		want  bool
	}{
		{LevelDebug, LevelDebug, true},
		{LevelInfo, LevelDebug, false},
		{LevelInfo, LevelWarn, true},
		{LevelWarn, LevelInfo, false},
		{LevelError, LevelWarn, false},
		{LevelError, LevelError, true},
	}

	for _, tt := range tests {
		l := New(io.Discard, tt.min)
		if got := l.shouldLog(tt.level); got != tt.want {
			t.Errorf("min=%s shouldLog(%s) = %v, want %v", tt.min, tt.level, got, tt.want)
		}
	}
}

// TestLogger_filtering verifies messages below the minimum level are dropped.
func TestLogger_filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error", errors.New("boom"))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d lines, want 2", len(entries))
	}
	if entries[0].Level != "WARN" || entries[1].Level != "ERROR" {
		t.Errorf("levels = %s,%s want WARN,ERROR", entries[0].Level, entries[1].Level)
	}
}

// =====================================================
// Output Format Tests
// =====================================================

// TestLogger_jsonFormat verifies JSON output format.
func TestLogger_jsonFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Info("sweep finished", map[string]interface{}{
		"processed": 3,
		"entity":    "diary",
	})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d lines, want 1", len(entries))
	}
	entry := entries[0]

	if entry.Message != "sweep finished" {
		t.Errorf("Message = %q", entry.Message)
	}
	if entry.Level != "INFO" {
		t.Errorf("Level = %q, want INFO", entry.Level)
	}
	if _, err := time.Parse(time.RFC3339, entry.Timestamp); err != nil {
		t.Errorf("Timestamp is not valid RFC3339: %v", err)
	}
	if entry.Context["entity"] != "diary" {
		t.Errorf("Context[entity] = %v", entry.Context["entity"])
	}
	if entry.Context["processed"] != float64(3) {
		t.Errorf("Context[processed] = %v", entry.Context["processed"])
	}
}

// TestLogger_Error verifies the error string is included.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Error("remote call failed", errors.New("connection refused"))

	entries := decodeLines(t, &buf)
	if entries[0].Error != "connection refused" {
		t.Errorf("Error = %q", entries[0].Error)
	}
	if entries[0].Context != nil {
		t.Errorf("Context should be omitted, got %v", entries[0].Context)
	}
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.ErrorWithCode("entry failed", "SYNC_CONFLICT", io.ErrUnexpectedEOF, map[string]interface{}{"entry_id": "q1"})

	entry := decodeLines(t, &buf)[0]
	if entry.Context["code"] != "SYNC_CONFLICT" {
		t.Errorf("Context[code] = %v", entry.Context["code"])
	}
	if entry.Context["entry_id"] != "q1" {
		t.Errorf("Context[entry_id] = %v", entry.Context["entry_id"])
	}
	if entry.Error != io.ErrUnexpectedEOF.Error() {
		t.Errorf("Error = %q", entry.Error)
	}
}

// TestLogger_getContext_multiple verifies context maps are merged.
func TestLogger_getContext_multiple(t *testing.T) {
	logger := New(io.Discard, LevelInfo)

	ctx := logger.getContext(
		map[string]interface{}{"a": 1},
		map[string]interface{}{"b": 2},
	)
	if len(ctx) != 2 || ctx["a"] != 1 || ctx["b"] != 2 {
		t.Errorf("getContext() = %v", ctx)
	}
	if logger.getContext() != nil {
		t.Error("getContext() with no arguments should return nil")
	}
}

// TestLogger_concurrentLogging verifies lines do not interleave.
func TestLogger_concurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("concurrent", map[string]interface{}{"n": n})
		}(i)
	}
	wg.Wait()

	if got := len(decodeLines(t, &buf)); got != 20 {
		t.Errorf("got %d lines, want 20", got)
	}
}

// TestFileWriter verifies a rotating file sink is created.
func TestFileWriter(t *testing.T) {
	path := t.TempDir() + "/daemon.log"
	w := FileWriter(path, 1, 1)

	logger := New(w, LevelInfo)
	logger.Info("to file")
	if c, ok := w.(io.Closer); ok {
		c.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file missing message: %s", data)
	}
}
