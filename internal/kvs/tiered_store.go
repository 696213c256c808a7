package kvs

import (
	"context"
	"time"

	"github.com/oriys/fetchengine/internal/fetchmodel"
)

// TieredStore composes a fast L1 (in-memory) store with an authoritative L2
// (typically Redis) store: reads check L1 first, falling through to L2 on
// miss and repopulating L1; writes go to both layers. Appropriate for
// read-heavy locator cursor lookups, where L1 absorbs most traffic but L2
// keeps cursors visible across restarts and across instances.
type TieredStore struct {
	l1    Store
	l2    Store
	l1TTL time.Duration // TTL applied to L1 entries; should be shorter than the caller's L2 ttl
}

// NewTieredStore builds a two-level store. l1TTL controls how long entries
// live in l1 before falling back to l2; zero defaults to 10s.
func NewTieredStore(l1, l2 Store, l1TTL time.Duration) *TieredStore {
	if l1TTL <= 0 {
		l1TTL = 10 * time.Second
	}
	return &TieredStore{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (t *TieredStore) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := t.l1.Get(ctx, key); err == nil {
		return val, nil
	}

	val, err := t.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = t.l1.Put(ctx, key, val, t.l1TTL)
	return val, nil
}

func (t *TieredStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = t.l1.Put(ctx, key, value, t.l1TTL)
	return t.l2.Put(ctx, key, value, ttl)
}

func (t *TieredStore) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

func (t *TieredStore) Exists(ctx context.Context, key string) (bool, error) {
	if ok, err := t.l1.Exists(ctx, key); err == nil && ok {
		return true, nil
	}
	return t.l2.Exists(ctx, key)
}

// RangeGet always serves from l2: l1 holds no ordering index, so a tiered
// store cannot answer a range scan from its fast layer alone.
func (t *TieredStore) RangeGet(ctx context.Context, start, end string, limit int) ([]fetchmodel.KVEntry, error) {
	return t.l2.RangeGet(ctx, start, end, limit)
}

func (t *TieredStore) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}
