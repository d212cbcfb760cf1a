// Package logging builds the slog loggers injected across the engine.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text logger writing to stderr at the given level.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything. Used by tests and as the
// fallback when no logger is injected.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
