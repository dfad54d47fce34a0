package turso

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/emiliopalmerini/abassign/internal/domain"
)

// IsStreamError checks if an error is a Turso "stream not found" error.
func IsStreamError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "stream not found")
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || IsStreamError(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// wrap annotates err with op and marks retryable failures with
// domain.ErrTransient.
func wrap(op string, err error) error {
	if isTransient(err) {
		return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrTransient, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
