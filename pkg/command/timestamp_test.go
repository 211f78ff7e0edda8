package command

import "testing"

func TestParseTimestamp_Sentinels(t *testing.T) {
	now := int64(1_700_000_000_000)

	if ms, kind, err := ParseTimestamp("*", now); err != nil || kind != TimestampNow || ms != now {
		t.Fatalf("ParseTimestamp(*) = (%d, %v, %v)", ms, kind, err)
	}
	if _, kind, err := ParseTimestamp("-", now); err != nil || kind != TimestampEarliest {
		t.Fatalf("ParseTimestamp(-) = (%v, %v)", kind, err)
	}
	if _, kind, err := ParseTimestamp("+", now); err != nil || kind != TimestampLatest {
		t.Fatalf("ParseTimestamp(+) = (%v, %v)", kind, err)
	}
}

func TestParseTimestamp_NumericAutoScale(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1700000000", 1700000000000},    // seconds
		{"1700000000000", 1700000000000}, // already milliseconds
	}
	for _, c := range cases {
		ms, kind, err := ParseTimestamp(c.in, 0)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", c.in, err)
		}
		if kind != TimestampExact {
			t.Fatalf("ParseTimestamp(%q) kind = %v, want TimestampExact", c.in, kind)
		}
		if ms != c.want {
			t.Errorf("ParseTimestamp(%q) = %d, want %d", c.in, ms, c.want)
		}
	}
}

func TestParseTimestamp_RFC3339(t *testing.T) {
	ms, kind, err := ParseTimestamp("2023-11-14T22:13:20Z", 0)
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	if kind != TimestampExact {
		t.Fatalf("kind = %v, want TimestampExact", kind)
	}
	if ms != 1700000000000 {
		t.Errorf("ms = %d, want 1700000000000", ms)
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	if _, _, err := ParseTimestamp("not-a-timestamp", 0); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := ParseTimestamp("-5", 0); err == nil {
		t.Fatal("expected error for negative numeric timestamp")
	}
}
