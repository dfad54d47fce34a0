package util

import (
	"fmt"
	"time"
)

// FormatNumber formats an int64 with K/M suffix for readability.
// Examples: 500 -> "500", 1500 -> "1.5K", 1500000 -> "1.5M"
func FormatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// FormatPercent formats part/total as a percentage with one decimal.
// A zero total yields "-".
func FormatPercent(part, total int64) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(part)/float64(total))
}

// FormatDateTime formats a timestamp as 2006-01-02 15:04 (UTC).
// Nil yields "-".
func FormatDateTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
