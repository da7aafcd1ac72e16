// Package logging configures structured logging for the engine. All
// subsystems receive a *slog.Logger scoped with a component attribute rather
// than reaching for a package-level logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls handler construction.
type Options struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Format is "text" or "json". Defaults to text.
	Format string
	// Output defaults to stderr so structured logs never interleave with
	// command output on stdout.
	Output io.Writer
}

// New builds a logger from options.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything. Used in tests and as the
// default when a caller passes nil.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// WithComponent returns a logger carrying a component attribute, so log lines
// from different subsystems stay distinguishable in shared output.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger.With(slog.String("component", component))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
