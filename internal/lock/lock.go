// Package lock provides per-key leases with a bounded wait, automatic expiry
// and a watchdog that keeps a live holder's lease from lapsing.
package lock

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
)

// ErrTimeout is returned when a lease could not be obtained within the wait budget.
var ErrTimeout = apperr.ErrLockTimeout

// Locker is the capability injected into every component that mutates keyed state.
type Locker interface {
	// Acquire blocks up to wait for key and holds it for at most lease
	// (extended by the watchdog while the holder is alive).
	Acquire(ctx context.Context, key string, wait, lease time.Duration) (*Lease, error)
}

// Lease is one held key. Release is idempotent.
type Lease struct {
	Key   string
	token string
	rel   func(context.Context) error
	done  chan struct{}
	// stopped is closed when the watchdog exits; nil without a watchdog.
	stopped chan struct{}
}

func (l *Lease) Token() string { return l.token }

// Release gives the key back if this lease still owns it. Calling it again,
// or after expiry, is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-l.done:
		return nil
	default:
		close(l.done)
	}
	if l.stopped != nil {
		<-l.stopped
	}
	return l.rel(ctx)
}

// Set is a batch of leases acquired in canonical order.
type Set []*Lease

// Release frees every lease, last acquired first.
func (s Set) Release(ctx context.Context) error {
	var first error
	for i := len(s) - 1; i >= 0; i-- {
		if err := s[i].Release(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Canonical dedupes and sorts keys into the global acquisition order.
func Canonical(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AcquireAll takes every key in canonical order. If one key times out, the
// keys already held are released before returning, so no partial set survives.
func AcquireAll(ctx context.Context, l Locker, keys []string, wait, lease time.Duration) (Set, error) {
	ordered := Canonical(keys)
	held := make(Set, 0, len(ordered))
	for _, k := range ordered {
		ls, err := l.Acquire(ctx, k, wait, lease)
		if err != nil {
			_ = held.Release(context.WithoutCancel(ctx))
			return nil, err
		}
		held = append(held, ls)
	}
	return held, nil
}

func timedOut(key string) error {
	metrics.LockTimeouts.Inc()
	return apperr.Wrap(apperr.KindLockTimeout, ErrTimeout, "lock "+key)
}
