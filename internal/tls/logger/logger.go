// Package logger holds the engine's structured logger.
//
// Logging is off by default: L discards everything until Init enables it.
// New builds a separate logger for callers that must not share L.
// The hot path never logs; only registrations, thread start/exit and
// contract violations do.
package logger

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(discard())
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Options configures the logger.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	Writer  io.Writer  // Destination. Default: os.Stderr
	JSON    bool       // JSON lines instead of key=value text
}

// New returns a logger for opts. The package logger is not changed.
func New(opts Options) *slog.Logger {
	if !opts.Enabled {
		return discard()
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: opts.Level}

	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(h)
}

// Init configures the package logger. Safe to call at any time.
func Init(opts Options) {
	current.Store(New(opts))
}

// L returns the current logger.
func L() *slog.Logger { return current.Load() }

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { L().Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { L().Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { L().Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { L().Error(msg, args...) }
