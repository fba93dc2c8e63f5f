// Package logging owns the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Configure initializes the shared JSON logger writing to stdout. Only the
// first call decides the level; later calls return the same logger.
func Configure(level slog.Level) *slog.Logger {
	once.Do(func() {
		logger = New(os.Stdout, level)
		slog.SetDefault(logger)
	})
	return logger
}

// Logger returns the configured logger, configuring it at info level on
// first use if necessary.
func Logger() *slog.Logger {
	return Configure(slog.LevelInfo)
}

// New builds a JSON logger on w. Tests and the CLI use it to log somewhere
// other than stdout.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel accepts debug, info, warn/warning and error in any case. An
// empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		s = "warn"
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
