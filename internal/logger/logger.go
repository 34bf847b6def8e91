// Package logger provides the structured logger safetar uses for
// operational diagnostics. It never logs member paths at Info level; only
// Debug-level tracing (opt-in via verbose mode) includes them, matching the
// package's stance that security events themselves carry no paths.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger behind a small, swap-friendly surface so
// callers (the orchestrator, the CLI) don't import zerolog directly.
type Logger struct {
	mu      sync.RWMutex
	verbose bool
	writer  io.Writer
	zl      zerolog.Logger
}

// New builds a Logger writing to w. When verbose is false, Debug calls are
// no-ops.
func New(verbose bool, w io.Writer) *Logger {
	l := &Logger{verbose: verbose, writer: w}
	l.rebuild()
	return l
}

func (l *Logger) rebuild() {
	level := zerolog.InfoLevel
	if l.verbose {
		level = zerolog.DebugLevel
	}
	l.zl = zerolog.New(l.writer).Level(level).With().Timestamp().Logger()
}

// SetVerbose toggles debug-level tracing.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
	l.rebuild()
}

func (l *Logger) Debug(msg string, fields map[string]any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ev := l.zl.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *Logger) Info(msg string, fields map[string]any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ev := l.zl.Info()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *Logger) Warn(msg string, fields map[string]any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ev := l.zl.Warn()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *Logger) Error(msg string, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.zl.Error().Err(err).Msg(msg)
}

var global = New(false, os.Stderr)

// Default returns the package-level logger used when callers don't supply
// their own.
func Default() *Logger { return global }
