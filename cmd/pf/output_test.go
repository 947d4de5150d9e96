package main

import (
	"testing"
	"time"
)

func TestParseDateFlag(t *testing.T) {
	got, err := parseDateFlag("2026-08-01")
	if err != nil {
		t.Fatalf("parseDateFlag: %v", err)
	}
	if got != "2026-08-01" {
		t.Errorf("ISO date = %q, want passthrough", got)
	}

	got, err = parseDateFlag("yesterday")
	if err != nil {
		t.Fatalf("parseDateFlag(yesterday): %v", err)
	}
	want := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	if got != want {
		t.Errorf("yesterday = %q, want %q", got, want)
	}

	if got, err := parseDateFlag(""); err != nil || got != "" {
		t.Errorf("empty = (%q, %v), want empty passthrough", got, err)
	}

	if _, err := parseDateFlag("not a date at all zzz"); err == nil {
		t.Error("expected error for gibberish date")
	}
}
