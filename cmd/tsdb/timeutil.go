package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseTimestamp parses a Unix-millisecond integer, RFC3339, or a handful
// of common date/time layouts into a time.Time.
func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	formats := []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, format := range formats {
		if ts, err := time.Parse(format, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// parseTimeOrRelative additionally accepts "-1h"-style relative offsets and
// the literal "now"/""-as-now.
func parseTimeOrRelative(s string) (time.Time, error) {
	if s == "" || s == "now" {
		return time.Now(), nil
	}
	if strings.HasPrefix(s, "-") {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return time.Time{}, err
		}
		return time.Now().Add(-d), nil
	}
	return parseTimestamp(s)
}

// parseDuration additionally accepts a bare "<n>d" days suffix on top of
// time.ParseDuration's units.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days := s[:len(s)-1]
		var d int
		if _, err := fmt.Sscanf(days, "%d", &d); err != nil {
			return 0, err
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "{}"
	}
	var parts []string
	for name, value := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", name, value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
