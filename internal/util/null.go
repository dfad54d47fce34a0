package util

import (
	"database/sql"
	"time"
)

// TimeLayout is a fixed-width UTC RFC3339 layout, so stored timestamps sort
// lexically in chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NullStringPtr converts a *string to sql.NullString.
// Nil pointers are treated as invalid (null).
func NullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// NullStringToPtr converts sql.NullString to *string.
// Invalid values are returned as nil.
func NullStringToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// FormatTime renders t in TimeLayout, normalized to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout (or any RFC3339) timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// NullTimePtr converts a *time.Time to a TimeLayout sql.NullString.
func NullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// NullStringToTimePtr parses a nullable timestamp column.
func NullStringToTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
