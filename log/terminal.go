package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	gethlog "github.com/ethereum/go-ethereum/log"
)

// LevelTrace is more verbose than debug. It matches go-ethereum's trace level
// so both handlers agree on its rendering.
const LevelTrace = gethlog.LevelTrace

// NewTerminal creates a Logger that writes human-readable lines to w using
// go-ethereum's terminal format.
func NewTerminal(w io.Writer, level slog.Level, useColor bool) *Logger {
	return NewWithHandler(gethlog.NewTerminalHandlerWithLevel(w, level, useColor))
}

// NewJSON creates a Logger that writes JSON records to w.
func NewJSON(w io.Writer, level slog.Level) *Logger {
	return NewWithHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a level name to its slog.Level. Names are
// case-insensitive.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
