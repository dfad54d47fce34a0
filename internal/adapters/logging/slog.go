// Package logging adapts log/slog to ports.Logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emiliopalmerini/abassign/internal/ports"
)

var _ ports.Logger = (*SlogLogger)(nil)

// SlogLogger implements ports.Logger on top of a *slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlog wraps an existing slog logger.
func NewSlog(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// New builds a logger writing to w. format is "text" or "json"; level is one
// of debug, info, warn, error.
func New(w io.Writer, level, format string) (*SlogLogger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return NewSlog(slog.New(handler)), nil
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// With returns a logger that adds keysAndValues to every record.
func (l *SlogLogger) With(keysAndValues ...any) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(keysAndValues...)}
}

func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}
