package workqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/kvs"
)

// Queue is a FIFO persistent work queue of fetchmodel.RequestMeta over a
// kvs.Store. Keys are "<prefix>:<runId>:queue:<seq>:<bid>" where seq is a
// zero-padded monotonic counter, so RangeGet's lexicographic order equals
// enqueue order.
type Queue struct {
	store  kvs.Store
	notify Notifier
	prefix string
	runID  string
	seq    atomic.Uint64
}

// NewQueue builds a queue namespaced to runID. notify may be nil, in which
// case NoopNotifier is used.
func NewQueue(store kvs.Store, runID string, notify Notifier) *Queue {
	if notify == nil {
		notify = NewNoopNotifier()
	}
	return &Queue{store: store, notify: notify, prefix: "fetch", runID: runID}
}

func (q *Queue) keyPrefix() string {
	return fmt.Sprintf("%s:%s:queue:", q.prefix, q.runID)
}

func (q *Queue) key(seq uint64, bid string) string {
	return fmt.Sprintf("%s%016d:%s", q.keyPrefix(), seq, bid)
}

// Enqueue writes each item under a fresh key and returns the count actually
// written. A failure partway leaves already-written items enqueued
// (at-least-once semantics): callers should treat a partial count as
// progress made, not as a rollback.
func (q *Queue) Enqueue(ctx context.Context, bidKeys []string, items []fetchmodel.RequestMeta) (int, error) {
	if len(bidKeys) != len(items) {
		return 0, fmt.Errorf("workqueue: bidKeys and items length mismatch (%d != %d)", len(bidKeys), len(items))
	}
	written := 0
	for i, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return written, fmt.Errorf("workqueue: marshal item %d: %w", i, err)
		}
		seq := q.seq.Add(1)
		key := q.key(seq, bidKeys[i])
		if err := q.store.Put(ctx, key, payload, 0); err != nil {
			return written, fmt.Errorf("workqueue: enqueue item %d: %w", i, err)
		}
		written++
	}
	if written > 0 {
		_ = q.notify.Notify(ctx, q.runID)
	}
	return written, nil
}

// Item pairs a dequeued request with the queue key it was stored under, so
// callers needing to acknowledge/requeue can address it precisely.
type Item struct {
	Key     string
	Request fetchmodel.RequestMeta
}

// Dequeue removes and returns up to max of the oldest items. If another
// worker has already removed a key between RangeGet and Delete, that slot
// is simply skipped; Dequeue never blocks waiting for a consistent view.
func (q *Queue) Dequeue(ctx context.Context, max int) ([]Item, error) {
	if max <= 0 {
		max = 1
	}
	entries, err := q.store.RangeGet(ctx, q.keyPrefix(), q.keyPrefix()+"\xff", max)
	if err != nil {
		return nil, fmt.Errorf("workqueue: range scan: %w", err)
	}

	out := make([]Item, 0, len(entries))
	for _, e := range entries {
		ok, err := q.store.Exists(ctx, e.Key)
		if err != nil {
			return out, fmt.Errorf("workqueue: exists check for %q: %w", e.Key, err)
		}
		if !ok {
			continue
		}
		if err := q.store.Delete(ctx, e.Key); err != nil {
			return out, fmt.Errorf("workqueue: delete %q: %w", e.Key, err)
		}
		var req fetchmodel.RequestMeta
		if err := json.Unmarshal(e.Value, &req); err != nil {
			return out, fmt.Errorf("workqueue: unmarshal %q: %w", e.Key, err)
		}
		out = append(out, Item{Key: e.Key, Request: req})
	}
	return out, nil
}

// Peek returns up to max of the oldest items without removing them.
func (q *Queue) Peek(ctx context.Context, max int) ([]Item, error) {
	if max <= 0 {
		max = 1
	}
	entries, err := q.store.RangeGet(ctx, q.keyPrefix(), q.keyPrefix()+"\xff", max)
	if err != nil {
		return nil, fmt.Errorf("workqueue: range scan: %w", err)
	}
	out := make([]Item, 0, len(entries))
	for _, e := range entries {
		var req fetchmodel.RequestMeta
		if err := json.Unmarshal(e.Value, &req); err != nil {
			return out, fmt.Errorf("workqueue: unmarshal %q: %w", e.Key, err)
		}
		out = append(out, Item{Key: e.Key, Request: req})
	}
	return out, nil
}

// Size returns the number of items currently enqueued. It issues an
// unbounded RangeGet, so callers on a hot path should prefer Peek/Dequeue
// with a bound where possible.
func (q *Queue) Size(ctx context.Context) (int, error) {
	entries, err := q.store.RangeGet(ctx, q.keyPrefix(), q.keyPrefix()+"\xff", 0)
	if err != nil {
		return 0, fmt.Errorf("workqueue: range scan: %w", err)
	}
	return len(entries), nil
}

// Clear removes every item currently enqueued for this run.
func (q *Queue) Clear(ctx context.Context) error {
	entries, err := q.store.RangeGet(ctx, q.keyPrefix(), q.keyPrefix()+"\xff", 0)
	if err != nil {
		return fmt.Errorf("workqueue: range scan: %w", err)
	}
	for _, e := range entries {
		if err := q.store.Delete(ctx, e.Key); err != nil {
			return fmt.Errorf("workqueue: delete %q: %w", e.Key, err)
		}
	}
	return nil
}

// Close releases the queue's notifier. It does not close the underlying
// store, which may be shared with other queues/components.
func (q *Queue) Close() error {
	return q.notify.Close()
}
