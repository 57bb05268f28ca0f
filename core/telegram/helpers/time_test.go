package helpers

import (
	"testing"
	"time"
)

func TestParseFlexibleDate(t *testing.T) {
	got, ok := ParseFlexibleDate(" 05.03.2026 18:30 ")
	if !ok {
		t.Fatal("expected dotted date with time to parse")
	}
	want := time.Date(2026, 3, 5, 18, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, ok := ParseFlexibleDate("tomorrow-ish"); ok {
		t.Fatal("garbage must not parse")
	}
	if _, ok := ParseFlexibleDate(""); ok {
		t.Fatal("empty input must not parse")
	}
}

func TestParseFlexibleDateAtClockOnly(t *testing.T) {
	now := time.Date(2026, 3, 5, 20, 0, 0, 0, time.UTC)
	got, ok := ParseFlexibleDateAt("08:15", now)
	if !ok {
		t.Fatal("expected clock time to parse")
	}
	want := time.Date(2026, 3, 6, 8, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	later, _ := ParseFlexibleDateAt("21:30", now)
	if later.Day() != 5 {
		t.Fatalf("same-day clock time rolled over: %v", later)
	}
}
