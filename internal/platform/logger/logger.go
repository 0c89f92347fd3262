package logger

import (
	"io"
	"log/slog"
	"os"

	"fundops/internal/platform/config"
)

// New returns a structured JSON logger on stdout. Development runs at debug
// level; everything else at info.
func New(env config.Environment) *slog.Logger {
	return NewWithWriter(os.Stdout, env)
}

// NewWithWriter is New with an explicit sink, used by tests.
func NewWithWriter(w io.Writer, env config.Environment) *slog.Logger {
	level := slog.LevelInfo
	if env == config.EnvDevelopment {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).
		With("service", "fundops", "env", string(env))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
