// Package byroute stores one compiled object per route ID.
package byroute

import (
	"maps"
	"slices"
	"sync"
)

// Manager is a thread-safe map from route ID to a compiled per-route value.
type Manager[T any] struct {
	items map[string]T
	mu    sync.RWMutex
}

// New creates a new Manager.
func New[T any]() *Manager[T] {
	return &Manager[T]{}
}

// Add stores an item for the given route ID, replacing any previous one.
func (m *Manager[T]) Add(routeID string, item T) {
	m.mu.Lock()
	if m.items == nil {
		m.items = make(map[string]T)
	}
	m.items[routeID] = item
	m.mu.Unlock()
}

// Get retrieves the item for the given route ID.
func (m *Manager[T]) Get(routeID string) (_ T, ok bool) {
	m.mu.RLock()
	v, ok := m.items[routeID]
	m.mu.RUnlock()
	return v, ok
}

// RouteIDs returns the stored route IDs in sorted order.
func (m *Manager[T]) RouteIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.items))
}

// Range calls fn for every item until it returns false.
func (m *Manager[T]) Range(fn func(id string, item T) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, item := range m.items {
		if !fn(id, item) {
			break
		}
	}
}

// Len returns the number of stored items.
func (m *Manager[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
