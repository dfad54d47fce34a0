package logging

import "github.com/emiliopalmerini/abassign/internal/ports"

var _ ports.Logger = (*NopLogger)(nil)

// NopLogger discards everything. Used as the default when no logger is wired
// and in tests.
type NopLogger struct{}

func NewNop() *NopLogger {
	return &NopLogger{}
}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
