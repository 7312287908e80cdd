// Package dateparse resolves absolute and relative date strings to a point
// in time. Filters use it for date literals such as "2026-03-01" or "-7d".
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse resolves input against the current time.
//
// Supported formats:
//   - Exact dates: "2026-03-01" (midnight UTC)
//   - Timestamps: "2026-03-01T10:00:00Z"
//   - Relative offsets: "+7d", "-2w", "-1m", "-3h"
//   - Keywords: "now", "today", "yesterday", "tomorrow", "this_week",
//     "last_week", "this_month", "last_month"
func Parse(input string) (time.Time, error) {
	return ParseFrom(input, time.Now())
}

// ParseFrom resolves input relative to now. Day-granular results are
// truncated to midnight in now's location.
func ParseFrom(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("empty date input")
	}

	if t, err := time.Parse("2006-01-02", input); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, input); err == nil {
		return t, nil
	}

	lower := strings.ToLower(input)
	today := startOfDay(now)
	switch lower {
	case "now":
		return now, nil
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "this_week":
		// Monday of the current week
		offset := (int(today.Weekday()) + 6) % 7
		return today.AddDate(0, 0, -offset), nil
	case "last_week":
		offset := (int(today.Weekday()) + 6) % 7
		return today.AddDate(0, 0, -offset-7), nil
	case "this_month":
		return time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()), nil
	case "last_month":
		return time.Date(today.Year(), today.Month()-1, 1, 0, 0, 0, 0, today.Location()), nil
	}

	return parseOffset(lower, now)
}

// parseOffset handles +Nd, -Nw, +Nm and -Nh.
func parseOffset(input string, now time.Time) (time.Time, error) {
	if len(input) < 3 || (input[0] != '+' && input[0] != '-') {
		return time.Time{}, fmt.Errorf("unrecognized date format: %q", input)
	}
	n, err := strconv.Atoi(input[1 : len(input)-1])
	if err != nil || n < 0 {
		return time.Time{}, fmt.Errorf("unrecognized date format: %q", input)
	}
	if input[0] == '-' {
		n = -n
	}

	switch input[len(input)-1] {
	case 'h':
		return now.Add(time.Duration(n) * time.Hour), nil
	case 'd':
		return startOfDay(now).AddDate(0, 0, n), nil
	case 'w':
		return startOfDay(now).AddDate(0, 0, n*7), nil
	case 'm':
		return startOfDay(now).AddDate(0, n, 0), nil
	}
	return time.Time{}, fmt.Errorf("unknown relative unit %q in %q (use h, d, w, or m)", input[len(input)-1:], input)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
