// Package bid implements the Bundle Identifier: an opaque, totally-ordered
// token minted once per BundleRef and never reused.
package bid

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BID is an opaque, lexicographically (and therefore time-) ordered bundle
// identifier of the form tttttttt-tttt-rrrr-rrrr-rrrrrrrrrrrr: the first two
// groups are a monotonic millisecond timestamp prefix, the remaining three
// groups are random.
type BID string

// New mints a BID for the current instant. The timestamp occupies the
// high-order 48 bits (first 12 hex digits); the remaining 80 bits are the
// last 10 bytes of a version-4 UUID (random apart from its fixed version and
// variant bits), so two BIDs minted in the same millisecond still differ
// with overwhelming probability.
func New() BID {
	return newAt(time.Now())
}

func newAt(t time.Time) BID {
	var buf [16]byte

	ms := uint64(t.UnixMilli()) & 0xFFFFFFFFFFFF // 48 bits
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)

	random := uuid.New() // 16 random/version-4 bytes; we only need the tail 10
	copy(buf[6:], random[6:16])

	return BID(format(buf))
}

func format(b [16]byte) string {
	h := hex.EncodeToString(b[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

// Parse validates that s has the canonical BID shape and returns it typed.
// parse(format(bid)) == bid for every BID produced by New.
func Parse(s string) (BID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 5 {
		return "", fmt.Errorf("bid: malformed %q: expected 5 groups, got %d", s, len(parts))
	}
	wantLens := [5]int{8, 4, 4, 4, 12}
	for i, p := range parts {
		if len(p) != wantLens[i] {
			return "", fmt.Errorf("bid: malformed %q: group %d has length %d, want %d", s, i, len(p), wantLens[i])
		}
		if _, err := hex.DecodeString(p); err != nil {
			return "", fmt.Errorf("bid: malformed %q: group %d is not hex: %w", s, i, err)
		}
	}
	return BID(s), nil
}

// String satisfies fmt.Stringer.
func (b BID) String() string { return string(b) }

// Before reports whether b was minted strictly earlier than other, to the
// resolution of the millisecond timestamp prefix. It compares the full
// string, so two BIDs minted in the same millisecond are ordered by their
// random suffix, which says nothing about which was minted first.
func (b BID) Before(other BID) bool {
	return string(b) < string(other)
}

// Timestamp extracts the millisecond timestamp prefix as a time.Time. It
// returns the zero Time if b is not well-formed.
func (b BID) Timestamp() time.Time {
	parsed, err := Parse(string(b))
	if err != nil {
		return time.Time{}
	}
	h := strings.ReplaceAll(string(parsed), "-", "")
	tsBytes, err := hex.DecodeString(h[0:12])
	if err != nil || len(tsBytes) != 6 {
		return time.Time{}
	}
	ms := uint64(tsBytes[0])<<40 | uint64(tsBytes[1])<<32 | uint64(tsBytes[2])<<24 |
		uint64(tsBytes[3])<<16 | uint64(tsBytes[4])<<8 | uint64(tsBytes[5])
	return time.UnixMilli(int64(ms)).UTC()
}
