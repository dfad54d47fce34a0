package util

import (
	"database/sql"
	"testing"
	"time"
)

func TestFormatTime_SortsLexically(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 100_000_000, time.UTC)
	later := base.Add(20 * time.Millisecond)

	a, b := FormatTime(base), FormatTime(later)
	if !(a < b) {
		t.Fatalf("expected %q < %q", a, b)
	}

	parsed, err := ParseTime(a)
	if err != nil {
		t.Fatalf("ParseTime failed: %v", err)
	}
	if !parsed.Equal(base) {
		t.Errorf("round trip = %v, want %v", parsed, base)
	}
}

func TestFormatTime_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, loc)
	if got := FormatTime(ts); got != "2026-01-02T02:04:05.000000000Z" {
		t.Errorf("FormatTime = %q", got)
	}
}

func TestNullTimePtr(t *testing.T) {
	if NullTimePtr(nil).Valid {
		t.Error("nil time should be invalid")
	}

	got, err := NullStringToTimePtr(sql.NullString{})
	if err != nil || got != nil {
		t.Errorf("NullStringToTimePtr(null) = %v, %v", got, err)
	}

	ts := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	got, err = NullStringToTimePtr(NullTimePtr(&ts))
	if err != nil {
		t.Fatalf("NullStringToTimePtr failed: %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("got %v, want %v", got, ts)
	}

	if _, err := NullStringToTimePtr(sql.NullString{String: "yesterday", Valid: true}); err == nil {
		t.Error("expected parse error")
	}
}

func TestNullStringHelpers(t *testing.T) {
	if p := NullStringToPtr(sql.NullString{String: "x", Valid: true}); p == nil || *p != "x" {
		t.Errorf("round trip = %v", p)
	}
	if NullStringPtr(nil).Valid {
		t.Error("nil pointer should be null")
	}
	if StringPtr("") != nil {
		t.Error("StringPtr(\"\") should be nil")
	}
}
