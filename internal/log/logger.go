// Package log bootstraps the process-wide structured logger. Everything is
// written to stderr: stdout may belong to a pod's stdio transport, so no log
// line can ever be allowed onto it.
package log

import (
	"log/slog"
	"os"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup installs the global JSON logger at the given level ("debug", "info",
// "warn", "error"; anything unrecognized falls back to info). Only the first
// call wins.
func Setup(level string) {
	once.Do(func() {
		var l slog.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			l = slog.LevelInfo
		}
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
		slog.SetDefault(logger)
	})
}

// Get returns the configured logger, initializing at info level if Setup was
// never called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("info")
	}
	return logger
}

// WithComponent tags a logger with the originating component.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithPod tags a logger with the pod id.
func WithPod(id string) *slog.Logger {
	return Get().With(slog.String("pod", id))
}
