package servercache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store for development without Redis and for
// tests. Expiry is evaluated against an injectable clock.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
	down  bool
	fns   []func()
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{items: make(map[string]memoryItem), now: now}
}

// SetDown makes every operation fail with ErrUnavailable until cleared.
// Bringing the store back up fires connect notifications.
func (m *MemoryStore) SetDown(down bool) {
	m.mu.Lock()
	wasDown := m.down
	m.down = down
	fns := append([]func(){}, m.fns...)
	m.mu.Unlock()

	if wasDown && !down {
		for _, fn := range fns {
			fn()
		}
	}
}

func (m *MemoryStore) NotifyConnect(fn func()) {
	m.mu.Lock()
	m.fns = append(m.fns, fn)
	m.mu.Unlock()
}

// TTL returns the remaining lifetime of key, or zero when absent
func (m *MemoryStore) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.live(key)
	if !ok {
		return 0
	}
	return it.expiresAt.Sub(m.now())
}

// live returns the item for key, dropping it if expired. Caller holds mu.
func (m *MemoryStore) live(key string) (memoryItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if m.now().After(it.expiresAt) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return it, true
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	return ctx.Err()
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrUnavailable
	}
	it, ok := m.live(key)
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), it.value...), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	m.items[key] = memoryItem{
		value:     append([]byte(nil), value...),
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

func (m *MemoryStore) Del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, ErrUnavailable
	}
	_, ok := m.live(key)
	delete(m.items, key)
	return ok, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, ErrUnavailable
	}
	_, ok := m.live(key)
	return ok, nil
}

func (m *MemoryStore) Flush(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrUnavailable
	}
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	return nil
}

func (m *MemoryStore) Count(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return 0, ErrUnavailable
	}
	var n int64
	for k := range m.items {
		if _, ok := m.live(k); ok && strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }
