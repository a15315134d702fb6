package cron

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	valid := []string{
		"0 9 * * 1-5",
		"*/5 * * * *",
		"0 0 1 1 *",
		"@daily",
		"@hourly",
		"@weekly",
		"@monthly",
		"@yearly",
		"@annually",
		"@midnight",
		"0 0 * * 7", // 7 is Sunday too
	}
	for _, expr := range valid {
		if err := Validate(expr); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", expr, err)
		}
	}
}

func TestValidate_FieldAwareErrors(t *testing.T) {
	tests := []struct {
		expr      string
		wantField string
	}{
		{"60 * * * *", "minute"},
		{"* 24 * * *", "hour"},
		{"* * 32 * *", "day-of-month"},
		{"* * * 13 *", "month"},
		{"* * * * 8", "day-of-week"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := Validate(tt.expr)
			if err == nil {
				t.Fatalf("Validate(%q) succeeded, want error", tt.expr)
			}
			if !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("Validate(%q) = %v, want mention of %q", tt.expr, err, tt.wantField)
			}
		})
	}
}

func TestValidate_WrongFieldCount(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "* * * * * *"} {
		if err := Validate(expr); err == nil {
			t.Errorf("Validate(%q) succeeded, want error", expr)
		}
	}
}

func TestNext_WeekdayMorning(t *testing.T) {
	// Monday 2024-01-15 08:30 UTC; next weekday-09:00 firing is the same day.
	from := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	next, err := Next("0 9 * * 1-5", from)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNext_ShorthandDaily(t *testing.T) {
	from := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	next, err := Next("@daily", from)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(@daily) = %v, want %v", next, want)
	}
}
