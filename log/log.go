// Package log provides structured logging for the executor. It wraps Go's
// log/slog with per-module child loggers and a swappable process default.
package log

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger wraps slog.Logger with module context.
type Logger struct {
	inner *slog.Logger
}

// rootHandler holds the handler every module logger writes through. Module
// loggers are usually created in package var blocks, before the CLI has
// configured output, so they resolve the handler on each record.
var rootHandler atomic.Pointer[slog.Handler]

// defaultLogger is the process-wide logger used by the package-level
// convenience functions.
var defaultLogger *Logger

func init() {
	h := slog.Handler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rootHandler.Store(&h)
	defaultLogger = &Logger{inner: slog.New(&switchHandler{})}
}

// New creates a Logger that writes JSON to stderr at the given level.
func New(level slog.Level) *Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler creates a Logger backed by the supplied slog.Handler.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// SetDefault routes the default logger and all module loggers to l.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	h := l.inner.Handler()
	rootHandler.Store(&h)
}

// Default returns the package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// Module returns a child of the default logger tagged with "module". Its
// output follows later SetDefault calls.
func Module(name string) *Logger {
	return defaultLogger.Module(name)
}

// Module returns a child logger with an additional "module" attribute.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Enabled reports whether records at level would be emitted.
func (l *Logger) Enabled(level slog.Level) bool {
	return l.inner.Enabled(context.Background(), level)
}

// Trace logs at LevelTrace.
func (l *Logger) Trace(msg string, args ...any) {
	l.inner.Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// ---------------------------------------------------------------------------
// Package-level convenience functions -- delegate to defaultLogger.
// ---------------------------------------------------------------------------

// Debug logs at LevelDebug using the default logger.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs at LevelInfo using the default logger.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Warn logs at LevelWarn using the default logger.
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }

// Error logs at LevelError using the default logger.
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

// switchHandler forwards to the current root handler, replaying the
// attributes and groups attached to it.
type switchHandler struct {
	wraps []func(slog.Handler) slog.Handler
}

func (h *switchHandler) target() slog.Handler {
	t := *rootHandler.Load()
	for _, wrap := range h.wraps {
		t = wrap(t)
	}
	return t
}

func (h *switchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*rootHandler.Load()).Enabled(ctx, level)
}

func (h *switchHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h *switchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(t slog.Handler) slog.Handler { return t.WithAttrs(attrs) })
}

func (h *switchHandler) WithGroup(name string) slog.Handler {
	return h.with(func(t slog.Handler) slog.Handler { return t.WithGroup(name) })
}

func (h *switchHandler) with(wrap func(slog.Handler) slog.Handler) slog.Handler {
	wraps := make([]func(slog.Handler) slog.Handler, len(h.wraps)+1)
	copy(wraps, h.wraps)
	wraps[len(h.wraps)] = wrap
	return &switchHandler{wraps: wraps}
}
