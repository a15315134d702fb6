// Package cron wraps gronx with the 5-field syntax, the @-shorthands, and
// field-aware validation messages used by schedule configs.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

var shorthands = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

var fieldRanges = [5]string{"0-59", "0-23", "1-31", "1-12", "0-7 (0 and 7 are Sunday)"}

// Normalize expands a shorthand to its 5-field form. Non-shorthand input is
// returned unchanged.
func Normalize(expr string) string {
	if full, ok := shorthands[strings.ToLower(strings.TrimSpace(expr))]; ok {
		return full
	}
	return strings.TrimSpace(expr)
}

// Validate checks a cron expression (5-field or shorthand) and returns a
// field-aware error for rejects.
func Validate(expr string) error {
	norm := Normalize(expr)
	fields := strings.Fields(norm)
	if len(fields) != 5 {
		return fmt.Errorf("cron %q: want 5 fields (minute hour day-of-month month day-of-week) or a @shorthand, got %d", expr, len(fields))
	}
	if gronx.New().IsValid(norm) {
		return nil
	}
	// Narrow the reject to a field by validating one field at a time against
	// an otherwise-wildcard expression.
	for i, f := range fields {
		probe := []string{"*", "*", "*", "*", "*"}
		probe[i] = f
		if !gronx.New().IsValid(strings.Join(probe, " ")) {
			return fmt.Errorf("cron %q: bad %s field %q (allowed range %s)", expr, fieldNames[i], f, fieldRanges[i])
		}
	}
	return fmt.Errorf("cron %q: invalid expression", expr)
}

// Next returns the first trigger time strictly after from, in from's
// location.
func Next(expr string, from time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(Normalize(expr), from, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	return next, nil
}

// NextInclusive returns the first trigger time at or after from. Used for
// the lazy first computation so a tick landing exactly on a cron boundary
// still fires.
func NextInclusive(expr string, from time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(Normalize(expr), from, true)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	return next, nil
}
