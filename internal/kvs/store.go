// Package kvs implements the namespaced, TTL-aware durable map backing the
// persistent work queue, locator cursors, and dedup sets. Keys are
// hierarchical ":"-separated strings; range scans are half-open [start, end)
// over lexicographic byte order.
package kvs

import (
	"context"
	"errors"
	"time"

	"github.com/oriys/fetchengine/internal/fetchmodel"
)

// ErrNotFound is returned by Get when a key does not exist or has expired.
var ErrNotFound = errors.New("kvs: key not found")

// Store abstracts the durable key-value substrate. All operations are safe
// for concurrent use. A torn read never occurs: Get returns either the full
// prior value or the full new value for a key under concurrent Put.
type Store interface {
	// Put writes value under key. A zero ttl means the entry never expires.
	// Concurrent Put on the same key is last-writer-wins.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// RangeGet returns entries with key in [start, end) in ascending
	// lexicographic order, up to limit entries (0 means unlimited). An empty
	// end means open-ended (no upper bound).
	RangeGet(ctx context.Context, start, end string, limit int) ([]fetchmodel.KVEntry, error)

	// Close releases resources held by the store.
	Close() error
}
