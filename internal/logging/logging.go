package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB  = 10
	maxLogBackups = 7
)

type ctxKey string

const runIDKey ctxKey = "runID"

// Setup creates logDir, points the default slog logger at stdout plus a
// rotating file named fileName inside it, and returns the file sink so the
// caller can close it on exit.
func Setup(logDir, fileName, level string) (io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	sink := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, fileName),
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		Compress:   false,
	}

	mw := io.MultiWriter(os.Stdout, sink)
	slog.SetDefault(slog.New(slog.NewTextHandler(mw, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})))
	return sink, nil
}

// ParseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
// Unknown strings default to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithRunID returns a context carrying the pipeline run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext extracts the run id, if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok && id != ""
}

// FromContext returns the default logger, tagged with run_id when the
// context carries one.
func FromContext(ctx context.Context) *slog.Logger {
	if id, ok := RunIDFromContext(ctx); ok {
		return slog.Default().With("run_id", id)
	}
	return slog.Default()
}
