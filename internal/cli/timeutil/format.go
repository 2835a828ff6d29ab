// Package timeutil provides time parsing and formatting utilities for CLI output.
package timeutil

import (
	"fmt"
	"time"
)

// LocalTimeFormat is the format used for displaying local times in CLI output.
// Uses Go's reference time: Mon Jan 2 15:04:05 2006.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatTime renders a timestamp as a local time string for table output.
func FormatTime(t time.Time) string {
	return t.Local().Format(LocalTimeFormat)
}

// ParseSince parses a --since flag value.
//
// Accepts either a Go duration ("30m", "24h"), interpreted as an offset
// back from now, or an absolute RFC3339 timestamp.
func ParseSince(s string) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since value %q: use a duration (30m, 24h) or RFC3339 timestamp", s)
}
