package clientcache

import (
	"errors"
	"sort"
	"sync"
)

// ErrQuotaExceeded is returned by a Storage that has no room for a write
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Storage is a durable string key-value store shared with other users, so
// a Cache only touches keys under its own namespace.
type Storage interface {
	// GetItem returns the stored value and whether the key exists
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Keys() ([]string, error)
}

// MemoryStorage is a Storage held in process memory. A positive quota caps
// the total size of keys plus values in bytes.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
	size  int64
	quota int64
}

func NewMemoryStorage(quota int64) *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string), quota: quota}
}

func (m *MemoryStorage) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemoryStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.size + int64(len(key)+len(value))
	if old, ok := m.items[key]; ok {
		next -= int64(len(key) + len(old))
	}
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}
	m.items[key] = value
	m.size = next
	return nil
}

func (m *MemoryStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.items[key]; ok {
		m.size -= int64(len(key) + len(old))
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStorage) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Size returns the bytes in use
func (m *MemoryStorage) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}
