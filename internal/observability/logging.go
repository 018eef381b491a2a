// Package observability provides the structured logger and the
// Prometheus metric set shared across FlowPilot.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig configures the root logger.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format selects "json" or "text". Empty picks text when Output is
	// a terminal and json otherwise.
	Format string

	// Output is the log destination (defaults to os.Stderr).
	Output io.Writer

	// AddSource includes file and line in records.
	AddSource bool
}

// NewLogger builds the root slog logger. Everything outside cmd/ logs
// through a *slog.Logger derived from this one.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
		if f, ok := cfg.Output.(*os.File); ok && isTerminal(f) {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// isTerminal reports whether f is attached to a character device.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
