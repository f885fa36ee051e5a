package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory ObjectStore used in dev mode and tests.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

type memObject struct {
	body     []byte
	modified time.Time
}

// NewMemStore creates an empty in-memory object store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string]memObject),
		now:     time.Now,
	}
}

// SetClock overrides the modification-time source. Used by tests.
func (m *MemStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// List returns all objects whose key starts with prefix, sorted by key.
func (m *MemStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, ObjectInfo{
				Key:          key,
				SizeBytes:    int64(len(obj.body)),
				LastModified: obj.modified,
			})
		}
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})

	return objects, nil
}

// Read returns a copy of the stored body, or ErrNotFound.
func (m *MemStore) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}

	body := make([]byte, len(obj.body))
	copy(body, obj.body)
	return body, nil
}

// Write replaces the object under key.
func (m *MemStore) Write(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(body))
	copy(stored, body)
	m.objects[key] = memObject{body: stored, modified: m.now()}
	return nil
}

// LastModified returns the stored modification time, or nil for missing keys.
func (m *MemStore) LastModified(_ context.Context, key string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, nil
	}
	t := obj.modified
	return &t, nil
}

// Delete removes the object if present.
func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
