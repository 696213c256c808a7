package kvs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	if err := s.Put(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(got) != "1" {
		t.Fatalf("got %q, want %q", got, "1")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	if err := s.Put(ctx, "a", []byte("1"), 10*time.Millisecond); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if ok, _ := s.Exists(ctx, "a"); !ok {
		t.Fatal("expected key to exist immediately after Put")
	}
	time.Sleep(30 * time.Millisecond)
	if ok, _ := s.Exists(ctx, "a"); ok {
		t.Fatal("expected key to have expired")
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after expiry", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	s.Put(ctx, "a", []byte("1"), 0)
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if ok, _ := s.Exists(ctx, "a"); ok {
		t.Fatal("expected key to be gone after Delete")
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete of missing key returned error: %v", err)
	}
}

func TestMemoryStoreRangeGetHalfOpen(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	keys := []string{"fetch:r1:queue:0001", "fetch:r1:queue:0002", "fetch:r1:queue:0003", "fetch:r1:queue:0004"}
	for _, k := range keys {
		s.Put(ctx, k, []byte(k), 0)
	}

	entries, err := s.RangeGet(ctx, "fetch:r1:queue:0001", "fetch:r1:queue:0003", 0)
	if err != nil {
		t.Fatalf("RangeGet returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2 (half-open range excludes the end key)", len(entries))
	}
	if entries[0].Key != keys[0] || entries[1].Key != keys[1] {
		t.Fatalf("unexpected keys: %q, %q", entries[0].Key, entries[1].Key)
	}
}

func TestMemoryStoreRangeGetOpenEnded(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		s.Put(ctx, k, []byte(k), 0)
	}
	entries, err := s.RangeGet(ctx, "b", "", 0)
	if err != nil {
		t.Fatalf("RangeGet returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestMemoryStoreRangeGetRespectsLimit(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c", "d"} {
		s.Put(ctx, k, []byte(k), 0)
	}
	entries, err := s.RangeGet(ctx, "a", "", 2)
	if err != nil {
		t.Fatalf("RangeGet returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestMemoryStoreRangeGetOrdering(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	// Insert out of lexicographic order.
	for _, k := range []string{"z", "a", "m"} {
		s.Put(ctx, k, []byte(k), 0)
	}
	entries, err := s.RangeGet(ctx, "", "", 0)
	if err != nil {
		t.Fatalf("RangeGet returned error: %v", err)
	}
	want := []string{"a", "m", "z"}
	if len(entries) != len(want) {
		t.Fatalf("len(entries) = %d, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].Key != w {
			t.Fatalf("entries[%d].Key = %q, want %q", i, entries[i].Key, w)
		}
	}
}

func TestMemoryStoreCloseRejectsPut(t *testing.T) {
	s := NewMemoryStore()
	s.Close()
	if err := s.Put(context.Background(), "a", []byte("1"), 0); err == nil {
		t.Fatal("expected Put to fail after Close")
	}
}

func TestMemoryStorePutOverwriteKeepsSingleIndexEntry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	s.Put(ctx, "a", []byte("1"), 0)
	s.Put(ctx, "a", []byte("2"), 0)

	entries, err := s.RangeGet(ctx, "", "", 0)
	if err != nil {
		t.Fatalf("RangeGet returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1 (overwrite must not duplicate the index)", len(entries))
	}
	if string(entries[0].Value) != "2" {
		t.Fatalf("value = %q, want %q (last write wins)", entries[0].Value, "2")
	}
}
