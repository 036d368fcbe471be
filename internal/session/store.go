package session

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Store persists session values keyed by session ID.
type Store interface {
	// Load returns the values for id. found is false when the session
	// does not exist or has expired.
	Load(ctx context.Context, id string) (values map[string]string, found bool, err error)
	// Save replaces all values for id and resets its expiry.
	Save(ctx context.Context, id string, values map[string]string, ttl time.Duration) error
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
	Close()
}

type memoryEntry struct {
	values map[string]string
	expiry time.Time
}

// MemoryStore is an in-process session store for single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	cancel  context.CancelFunc
}

// NewMemoryStore creates a new in-memory session store with background cleanup.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 || cleanupInterval > 60*time.Second {
		cleanupInterval = 60 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	ms := &MemoryStore{
		entries: make(map[string]memoryEntry),
		cancel:  cancel,
	}
	go ms.cleanup(ctx, cleanupInterval)
	return ms
}

func (ms *MemoryStore) cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ms.mu.Lock()
			now := time.Now()
			for id, e := range ms.entries {
				if now.After(e.expiry) {
					delete(ms.entries, id)
				}
			}
			ms.mu.Unlock()
		}
	}
}

// Load returns a copy of the stored values.
func (ms *MemoryStore) Load(_ context.Context, id string) (map[string]string, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	e, ok := ms.entries[id]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiry) {
		delete(ms.entries, id)
		return nil, false, nil
	}
	return maps.Clone(e.values), true, nil
}

// Save stores a copy of values; the previous values are replaced wholesale.
func (ms *MemoryStore) Save(_ context.Context, id string, values map[string]string, ttl time.Duration) error {
	ms.mu.Lock()
	ms.entries[id] = memoryEntry{
		values: maps.Clone(values),
		expiry: time.Now().Add(ttl),
	}
	ms.mu.Unlock()
	return nil
}

// Delete removes a session.
func (ms *MemoryStore) Delete(_ context.Context, id string) error {
	ms.mu.Lock()
	delete(ms.entries, id)
	ms.mu.Unlock()
	return nil
}

// Size returns the number of entries (including potentially expired ones).
func (ms *MemoryStore) Size() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.entries)
}

// Close stops the cleanup goroutine.
func (ms *MemoryStore) Close() {
	ms.cancel()
}
