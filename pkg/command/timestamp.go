package command

import (
	"strconv"
	"strings"
	"time"

	"github.com/chronoshard/tsdb/pkg/tsdberr"
)

// TimestampKind distinguishes a resolved timestamp from the "*"/"-"/"+"
// range sentinels, which MRANGE/MREVRANGE/MDEL resolve against a series'
// own stored range (pkg/tsquery.Range's UseEarliest/UseLatest).
type TimestampKind int

const (
	TimestampExact TimestampKind = iota
	TimestampNow
	TimestampEarliest
	TimestampLatest
)

// ParseTimestamp parses the timestamp grammar: integer milliseconds, "*"
// (now), "-" (earliest), "+" (latest), or an RFC3339 string. now is the
// caller-supplied current time in Unix milliseconds — this package never
// calls time.Now() itself, keeping timestamp resolution deterministic and
// testable. Bare integers auto-scale by magnitude (seconds vs.
// milliseconds vs. microseconds vs. nanoseconds); RFC3339 is parsed via the
// standard library.
func ParseTimestamp(s string, nowMs int64) (ms int64, kind TimestampKind, err error) {
	switch s {
	case "*":
		return nowMs, TimestampNow, nil
	case "-":
		return 0, TimestampEarliest, nil
	case "+":
		return 0, TimestampLatest, nil
	}

	if v, ok := parseNumericTimestamp(s); ok {
		if v < 0 {
			return 0, 0, tsdberr.New(tsdberr.ParseError, "invalid timestamp %q", s)
		}
		return v, TimestampExact, nil
	}

	t, perr := time.Parse(time.RFC3339, s)
	if perr != nil {
		return 0, 0, tsdberr.Wrap(tsdberr.ParseError, perr, "invalid timestamp %q", s)
	}
	return t.UnixMilli(), TimestampExact, nil
}

// parseNumericTimestamp accepts a bare integer (auto-scaled from seconds,
// milliseconds, microseconds, or nanoseconds by magnitude) or a float with a
// fractional-seconds part (e.g. "1562529662.678").
func parseNumericTimestamp(s string) (int64, bool) {
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		if f >= 1<<32 {
			return int64(f + 0.5), true
		}
		return int64(f*1000 + 0.5), true
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	const (
		thresholdNanos  = (int64(1) << 32) * 1_000_000
		thresholdMicros = (int64(1) << 32) * 1_000
		thresholdMillis = int64(1) << 32
	)
	switch {
	case v >= thresholdNanos:
		return v / 1_000_000, true
	case v >= thresholdMicros:
		return v / 1_000, true
	case v >= thresholdMillis:
		return v, true
	default:
		return v * 1000, true
	}
}
