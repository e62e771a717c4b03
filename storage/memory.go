package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps snapshots in process. It lets several coordinators in
// one process share persisted state, and backs tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get retrieves a snapshot.
func (ms *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	v, ok := ms.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a snapshot.
func (ms *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	ms.mu.Lock()
	ms.data[key] = append([]byte(nil), value...)
	ms.mu.Unlock()
	return nil
}

// Delete removes a snapshot.
func (ms *MemoryStore) Delete(_ context.Context, key string) error {
	ms.mu.Lock()
	delete(ms.data, key)
	ms.mu.Unlock()
	return nil
}

// Clear removes every snapshot.
func (ms *MemoryStore) Clear(context.Context) error {
	ms.mu.Lock()
	ms.data = make(map[string][]byte)
	ms.mu.Unlock()
	return nil
}

// Close is a no-op; the data stays readable by other holders.
func (ms *MemoryStore) Close() error { return nil }

// Len returns the number of stored snapshots.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.data)
}

// Keys returns the stored keys in no particular order.
func (ms *MemoryStore) Keys() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]string, 0, len(ms.data))
	for k := range ms.data {
		out = append(out, k)
	}
	return out
}
