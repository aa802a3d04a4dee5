package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// newTestLogger returns a Logger that writes JSON into buf.
func newTestLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return NewWithHandler(h)
}

func TestLoggerModuleChain(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	l.Module("vm").With("depth", 2).Info("frame entered")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}
	if entry["module"] != "vm" {
		t.Fatalf("module = %v, want %q", entry["module"], "vm")
	}
	if v, ok := entry["depth"].(float64); !ok || v != 2 {
		t.Fatalf("depth = %v, want 2", entry["depth"])
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		level  slog.Level
		logFn  func(l *Logger)
		expect bool
	}{
		{slog.LevelInfo, func(l *Logger) { l.Debug("nope") }, false},
		{slog.LevelInfo, func(l *Logger) { l.Info("yes") }, true},
		{slog.LevelWarn, func(l *Logger) { l.Info("nope") }, false},
		{slog.LevelWarn, func(l *Logger) { l.Error("yes") }, true},
		{slog.LevelDebug, func(l *Logger) { l.Trace("nope") }, false},
		{LevelTrace, func(l *Logger) { l.Trace("yes") }, true},
	}
	for i, tt := range tests {
		var buf bytes.Buffer
		l := newTestLogger(&buf, tt.level)
		tt.logFn(l)
		if got := buf.Len() > 0; got != tt.expect {
			t.Errorf("test %d: output=%v, want %v (level=%v, buf=%s)", i, got, tt.expect, tt.level, buf.String())
		}
	}
}

func TestModuleLoggerFollowsSetDefault(t *testing.T) {
	early := Module("executor")

	var buf bytes.Buffer
	SetDefault(newTestLogger(&buf, slog.LevelDebug))
	defer SetDefault(New(slog.LevelInfo))

	early.Debug("applied", "count", 3)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}
	if entry["module"] != "executor" || entry["msg"] != "applied" {
		t.Fatalf("unexpected record %v", entry)
	}
}

func TestPackageLevelFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(newTestLogger(&buf, slog.LevelDebug))
	defer SetDefault(New(slog.LevelInfo))

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	out := buf.String()
	for _, msg := range []string{`"msg":"d"`, `"msg":"i"`, `"msg":"w"`, `"msg":"e"`} {
		if !strings.Contains(out, msg) {
			t.Errorf("missing %s in output", msg)
		}
	}
	SetDefault(nil)
	Info("still routed")
	if !strings.Contains(buf.String(), "still routed") {
		t.Fatal("SetDefault(nil) replaced the handler")
	}
}

func TestTerminalHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewTerminal(&buf, slog.LevelInfo, false)
	l.Info("transaction executed", "gasUsed", 21000)
	out := buf.String()
	if !strings.Contains(out, "transaction executed") || !strings.Contains(out, "gasUsed=21000") {
		t.Fatalf("unexpected terminal output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace": LevelTrace,
		"DEBUG": slog.LevelDebug,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
