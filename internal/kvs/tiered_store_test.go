package kvs

import (
	"context"
	"testing"
	"time"
)

func TestTieredStoreReadsThroughToL2OnL1Miss(t *testing.T) {
	l1, l2 := NewMemoryStore(), NewMemoryStore()
	defer l1.Close()
	defer l2.Close()
	ts := NewTieredStore(l1, l2, time.Second)
	ctx := context.Background()

	if err := l2.Put(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("seed l2: %v", err)
	}

	got, err := ts.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want %q", got, "v")
	}

	if _, err := l1.Get(ctx, "k"); err != nil {
		t.Fatalf("expected l2 hit to populate l1, got: %v", err)
	}
}

func TestTieredStorePutWritesBothLayers(t *testing.T) {
	l1, l2 := NewMemoryStore(), NewMemoryStore()
	defer l1.Close()
	defer l2.Close()
	ts := NewTieredStore(l1, l2, time.Second)
	ctx := context.Background()

	if err := ts.Put(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := l1.Get(ctx, "k"); err != nil {
		t.Fatalf("expected l1 to have k: %v", err)
	}
	if _, err := l2.Get(ctx, "k"); err != nil {
		t.Fatalf("expected l2 to have k: %v", err)
	}
}

func TestTieredStoreDeleteRemovesFromBothLayers(t *testing.T) {
	l1, l2 := NewMemoryStore(), NewMemoryStore()
	defer l1.Close()
	defer l2.Close()
	ts := NewTieredStore(l1, l2, time.Second)
	ctx := context.Background()

	if err := ts.Put(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := ts.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := l1.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("expected l1 miss after delete, got: %v", err)
	}
	if _, err := l2.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("expected l2 miss after delete, got: %v", err)
	}
}

func TestTieredStoreRangeGetDelegatesToL2(t *testing.T) {
	l1, l2 := NewMemoryStore(), NewMemoryStore()
	defer l1.Close()
	defer l2.Close()
	ts := NewTieredStore(l1, l2, time.Second)
	ctx := context.Background()

	if err := l2.Put(ctx, "a:1", []byte("1"), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := l2.Put(ctx, "a:2", []byte("2"), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	entries, err := ts.RangeGet(ctx, "a:", "a:~", 0)
	if err != nil {
		t.Fatalf("RangeGet: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
