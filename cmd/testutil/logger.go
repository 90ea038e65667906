package testutil

import (
	"io"
	"log/slog"
)

// NewTestLogger returns a logger that discards everything below error level.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
