package kvs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oriys/fetchengine/internal/fetchmodel"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// MemoryStore is a single-process Store, suitable as the default backend
// and for tests. Keys are kept in a sorted index alongside the map so
// RangeGet can binary-search its bounds instead of scanning every entry.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	sorted  []string
	closed  bool
	stop    chan struct{}
}

// NewMemoryStore creates a store with a background eviction loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memEntry),
		stop:    make(chan struct{}),
	}
	go s.evictLoop()
	return s
}

func (s *MemoryStore) insertSorted(key string) {
	i := sort.SearchStrings(s.sorted, key)
	if i < len(s.sorted) && s.sorted[i] == key {
		return
	}
	s.sorted = append(s.sorted, "")
	copy(s.sorted[i+1:], s.sorted[i:])
	s.sorted[i] = key
}

func (s *MemoryStore) removeSorted(key string) {
	i := sort.SearchStrings(s.sorted, key)
	if i < len(s.sorted) && s.sorted[i] == key {
		s.sorted = append(s.sorted[:i], s.sorted[i+1:]...)
	}
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotFound
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	if _, exists := s.entries[key]; !exists {
		s.insertSorted(key)
	}
	s.entries[key] = &memEntry{value: cp, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.expired() {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.removeSorted(key)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return ok && !e.expired(), nil
}

func (s *MemoryStore) RangeGet(_ context.Context, start, end string, limit int) ([]fetchmodel.KVEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.SearchStrings(s.sorted, start)
	var hi int
	if end == "" {
		hi = len(s.sorted)
	} else {
		hi = sort.SearchStrings(s.sorted, end)
	}

	var out []fetchmodel.KVEntry
	for i := lo; i < hi; i++ {
		key := s.sorted[i]
		e, ok := s.entries[key]
		if !ok || e.expired() {
			continue
		}
		cp := make([]byte, len(e.value))
		copy(cp, e.value)
		out = append(out, fetchmodel.KVEntry{Key: key, Value: cp, ExpiresAt: e.expiresAt})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)
	s.entries = nil
	s.sorted = nil
	return nil
}

func (s *MemoryStore) evictLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			var expired []string
			for _, key := range s.sorted {
				if e := s.entries[key]; e.expired() {
					expired = append(expired, key)
				}
			}
			for _, key := range expired {
				delete(s.entries, key)
				s.removeSorted(key)
			}
			s.mu.Unlock()
		}
	}
}
