package bid

import (
	"testing"
	"time"
)

func TestNewParseRoundTrip(t *testing.T) {
	b := New()
	parsed, err := Parse(b.String())
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", b, err)
	}
	if parsed != b {
		t.Fatalf("round trip mismatch: got %q, want %q", parsed, b)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-bid",
		"12345678-1234-1234-1234", // missing group
		"1234567-1234-1234-1234-123456789012",  // short first group
		"zzzzzzzz-1234-1234-1234-123456789012", // non-hex
		"12345678-1234-1234-1234-123456789012-extra",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("Parse(%q) = nil error, want error", c)
		}
	}
}

func TestMonotonicOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := newAt(base)
	later := newAt(base.Add(5 * time.Millisecond))

	if !earlier.Before(later) {
		t.Fatalf("expected %q to sort before %q", earlier, later)
	}
	if later.Before(earlier) {
		t.Fatalf("expected %q to not sort before %q", later, earlier)
	}
}

func TestTimestampExtraction(t *testing.T) {
	at := time.Date(2026, 3, 15, 12, 30, 0, 0, time.UTC)
	b := newAt(at)

	got := b.Timestamp()
	if got.UnixMilli() != at.UnixMilli() {
		t.Fatalf("Timestamp() = %v, want %v", got, at)
	}
}

func TestTimestampOfMalformedIsZero(t *testing.T) {
	var b BID = "garbage"
	if !b.Timestamp().IsZero() {
		t.Fatalf("Timestamp() of malformed BID = %v, want zero", b.Timestamp())
	}
}

func TestDistinctBIDsDiffer(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	a := newAt(at)
	b := newAt(at)
	if a == b {
		t.Fatalf("two BIDs minted at the same instant were equal: %q", a)
	}
}
