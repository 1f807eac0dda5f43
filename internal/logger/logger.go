// Package logger provides structured logging for keapsync.
// Messages go to stderr through log/slog, as JSON by default. Debug
// output is only emitted when verbose mode is enabled via --verbose.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

var (
	mu      sync.RWMutex
	verbose bool
	format  = FormatJSON
	output  io.Writer = os.Stderr
	level   = new(slog.LevelVar)
	log     = newLogger()
)

// newLogger must be called with mu held for writing, or during init.
func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatText {
		return slog.New(slog.NewTextHandler(output, opts))
	}
	return slog.New(slog.NewJSONHandler(output, opts))
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	if v {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	log = newLogger()
}

// SetFormat switches between json and text output.
// Unknown values fall back to json.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if Format(strings.ToLower(f)) == FormatText {
		format = FormatText
	} else {
		format = FormatJSON
	}
	log = newLogger()
}

// SetLevel sets the minimum level by name (debug, info, warn, error).
// Verbose mode always wins over a higher level.
func SetLevel(name string) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		return
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		l = slog.LevelInfo
	}
	level.Set(l)
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug logs a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	current().Debug(fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func Info(format string, args ...any) {
	current().Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning.
func Warn(format string, args ...any) {
	current().Warn(fmt.Sprintf(format, args...))
}

// Error logs an error.
func Error(format string, args ...any) {
	current().Error(fmt.Sprintf(format, args...))
}

// Event logs a named structured event at info level.
// attrs are slog key/value pairs, e.g. Event("page_fetch", "entity", "tags").
func Event(name string, attrs ...any) {
	current().Info(name, append([]any{"event", name}, attrs...)...)
}

// Slog returns the underlying logger for libraries that accept one.
func Slog() *slog.Logger {
	return current()
}
