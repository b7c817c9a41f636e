package cache

import (
	"context"
	"sync"
	"time"
)

type item struct {
	val     []byte
	expires time.Time
}

// Memory is an in-process Store with lazy expiry.
type Memory struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{items: map[string]item{}, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || m.expired(it) {
		return nil, false, nil
	}
	return append([]byte(nil), it.val...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = m.newItem(val, ttl)
	return nil
}

func (m *Memory) Add(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[key]; ok && !m.expired(it) {
		return false, nil
	}
	m.items[key] = m.newItem(val, ttl)
	return true, nil
}

func (m *Memory) Del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	delete(m.items, key)
	return ok && !m.expired(it), nil
}

// Evict drops key as if its TTL had lapsed.
func (m *Memory) Evict(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

func (m *Memory) newItem(val []byte, ttl time.Duration) item {
	it := item{val: append([]byte(nil), val...)}
	if ttl > 0 {
		it.expires = m.now().Add(ttl)
	}
	return it
}

func (m *Memory) expired(it item) bool {
	return !it.expires.IsZero() && !m.now().Before(it.expires)
}
