package command

import (
	"strconv"
	"strings"

	"github.com/chronoshard/tsdb/pkg/tsdberr"
)

const (
	millisPerSecond = 1000.0
	millisPerMinute = 60.0 * millisPerSecond
	millisPerHour   = 60.0 * millisPerMinute
	millisPerDay    = 24.0 * millisPerHour
	millisPerWeek   = 7.0 * millisPerDay
	millisPerYear   = 365.0 * millisPerDay
)

// maxDurationMagnitudeMs mirrors the original parser's overflow guard: a
// duration (in milliseconds) whose magnitude exceeds this is rejected rather
// than silently wrapping.
const maxDurationMagnitudeMs = 1 << 61

// ParseDuration parses a signed, composite duration string into
// milliseconds, accepting forms like "1h30m5s" with the suffix set
// {ms,s,m,h,d,w,y}, or a bare ms integer. Segments are summed left to
// right, and once a segment is negative every later segment is negated
// too: "-1h30m" is -(1h30m), while "1h-30m" is 1h minus 30m.
func ParseDuration(s string) (int64, error) {
	if s == "" {
		return 0, tsdberr.New(tsdberr.ParseError, "empty duration")
	}

	var total float64
	negative := false
	rest := s

	for rest != "" {
		value, consumed, err := scanDurationSegment(rest)
		if err != nil {
			return 0, err
		}
		if negative && value > 0 {
			value = -value
		}
		if value < 0 {
			negative = true
		}
		total += value
		rest = consumed
	}

	if total > maxDurationMagnitudeMs || total < -maxDurationMagnitudeMs {
		return 0, tsdberr.New(tsdberr.ParseError, "duration %q is too large", s)
	}
	return int64(round(total)), nil
}

// ParsePositiveDuration is ParseDuration restricted to non-negative values
// (e.g. a BucketDuration or a retention interval).
func ParsePositiveDuration(s string) (int64, error) {
	d, err := ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, tsdberr.New(tsdberr.ParseError, "duration cannot be negative; got %q", s)
	}
	return d, nil
}

var durationSuffixes = "dhmswy"

func scanDurationSegment(s string) (value float64, rest string, err error) {
	i := strings.IndexAny(s, durationSuffixes)
	var numEnd int
	var suffix byte
	if i < 0 {
		numEnd = len(s)
	} else {
		numEnd = i
		suffix = s[i]
	}

	if numEnd == 0 {
		return 0, "", tsdberr.New(tsdberr.ParseError, "invalid duration %q", s)
	}
	num, err := strconv.ParseFloat(s[:numEnd], 64)
	if err != nil {
		return 0, "", tsdberr.New(tsdberr.ParseError, "invalid duration %q", s[:numEnd])
	}

	switch suffix {
	case 'm':
		// "ms" is a two-byte suffix; a bare "m" means minutes.
		if i+1 < len(s) && s[i+1] == 's' {
			return num, s[i+2:], nil
		}
		return num * millisPerMinute, s[i+1:], nil
	case 's':
		return num * millisPerSecond, s[i+1:], nil
	case 'h':
		return num * millisPerHour, s[i+1:], nil
	case 'd':
		return num * millisPerDay, s[i+1:], nil
	case 'w':
		return num * millisPerWeek, s[i+1:], nil
	case 'y':
		return num * millisPerYear, s[i+1:], nil
	default:
		// No suffix at all: the whole remaining string was the number, and
		// it is already expressed in milliseconds.
		return num, "", nil
	}
}

func round(f float64) float64 {
	if f < 0 {
		return -round(-f)
	}
	return float64(int64(f + 0.5))
}
