package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker is an in-process Locker with the same wait and expiry
// semantics as RedisLocker, minus the watchdog.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memLease
	wake  chan struct{}
	clock func() time.Time
}

type memLease struct {
	token string
	until time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]memLease{}, wake: make(chan struct{}), clock: time.Now}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (*Lease, error) {
	token := uuid.NewString()
	deadline := m.clock().Add(wait)
	for {
		m.mu.Lock()
		cur, taken := m.held[key]
		if !taken || !m.clock().Before(cur.until) {
			m.held[key] = memLease{token: token, until: m.clock().Add(lease)}
			m.mu.Unlock()
			break
		}
		wake := m.wake
		m.mu.Unlock()

		left := deadline.Sub(m.clock())
		if left <= 0 {
			return nil, timedOut(key)
		}
		// wake on any release, or re-check when the holder's lease lapses
		t := time.NewTimer(min(left, cur.until.Sub(m.clock())+time.Millisecond))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-wake:
			t.Stop()
		case <-t.C:
		}
	}
	l := &Lease{Key: key, token: token, done: make(chan struct{})}
	l.rel = func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.held[key]; ok && cur.token == token {
			delete(m.held, key)
			close(m.wake)
			m.wake = make(chan struct{})
		}
		return nil
	}
	return l, nil
}

// Held reports whether key is currently leased. Test helper.
func (m *MemoryLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.held[key]
	return ok && m.clock().Before(cur.until)
}
