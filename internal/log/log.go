// Package log is the structured logger used across the service. It wraps
// log/slog with trace correlation, error chain rendering and stack capture
// at error level. Loggers travel in the request context.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)
	Sync() error
}

type Options struct {
	App               string
	Component         string
	Version           string
	Level             slog.Level
	StacktraceLevel   slog.Level
	JSON              bool
	IncludeErrorLinks bool
	MaxErrorLinks     int
	Writer            io.Writer
}

// New builds the slog-backed Logger.
func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel maps debug|info|warn|error (case-insensitive) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (valid levels are debug|info|warn|error)", s)
}
