package fetchmodel

import "sync"

// SharedMap is a concurrency-safe string-keyed bag of values, carried on
// FetchRunContext so locators and the loader can pass ad-hoc state (e.g. a
// narrowing-strategy instance, a shared counter) without widening every
// interface signature.
type SharedMap struct {
	mu   sync.RWMutex
	vals map[string]any
}

// NewSharedMap creates an empty shared map.
func NewSharedMap() *SharedMap {
	return &SharedMap{vals: make(map[string]any)}
}

func (m *SharedMap) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[key]
	return v, ok
}

func (m *SharedMap) Set(key string, val any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = val
}
