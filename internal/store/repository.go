// Package store implements the cache-first repository shared by stock,
// orders and payments: the cache holds the authoritative value, misses read
// through from the durable store, and every mutation emits a DataSyncEvent
// that the sync consumer replays into the durable store.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/cache"
	"github.com/ariefcatur/go-order-saga/internal/lock"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/ariefcatur/go-order-saga/internal/syncer"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Durable is the lagging replica behind the cache.
type Durable[T any] interface {
	Find(ctx context.Context, id string) (T, bool, error)
	Upsert(ctx context.Context, v T) error
	// Delete is a no-op when id does not exist.
	Delete(ctx context.Context, id string) error
}

type Config[T any] struct {
	// Namespace prefixes cache keys: "<namespace>:<id>".
	Namespace string
	ID        func(T) string
	// TTL picks the cache lifetime per value (e.g. by status). Zero = no expiry.
	TTL       func(T) time.Duration
	LockWait  time.Duration
	LockLease time.Duration
	// TombstoneTTL is how long a delete marker shadows the durable row; it
	// must outlive the sync lag. Zero = 1h.
	TombstoneTTL time.Duration
}

// tombstone marks a deleted key until the DELETE reaches the durable store.
// It is not valid JSON, so it can never collide with an encoded value.
var tombstone = []byte("\x00deleted")

func isTombstone(b []byte) bool { return bytes.Equal(b, tombstone) }

type Repository[T any] struct {
	cfg     Config[T]
	cache   cache.Store
	durable Durable[T]
	locker  lock.Locker
	emitter syncer.Emitter
	log     zerolog.Logger
	group   singleflight.Group
}

func New[T any](cfg Config[T], c cache.Store, d Durable[T], l lock.Locker, e syncer.Emitter, log zerolog.Logger) *Repository[T] {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 10 * time.Second
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = 30 * time.Second
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = time.Hour
	}
	if cfg.TTL == nil {
		cfg.TTL = func(T) time.Duration { return 0 }
	}
	return &Repository[T]{cfg: cfg, cache: c, durable: d, locker: l, emitter: e, log: log.With().Str("repo", cfg.Namespace).Logger()}
}

func (r *Repository[T]) Key(id string) string { return r.cfg.Namespace + ":" + id }

// Get reads without taking the key lease.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, bool, error) {
	return r.Load(ctx, id)
}

// Load returns the cached value, reading through from the durable store on
// a miss. Concurrent misses for one key share a single durable read. A
// tombstoned key is absent without consulting the durable store.
func (r *Repository[T]) Load(ctx context.Context, id string) (T, bool, error) {
	var zero T
	key := r.Key(id)
	v, st, err := r.cached(ctx, key)
	if err != nil || st != miss {
		return v, st == hit, err
	}

	type filled struct {
		v  T
		ok bool
	}
	res, err, _ := r.group.Do(key, func() (any, error) {
		v, ok, err := r.durable.Find(ctx, id)
		if err != nil {
			return nil, apperr.Persistence(err, "durable find "+key)
		}
		if !ok {
			return filled{}, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		// Add, not Set: a mutation committed since the miss wins over the replica.
		added, err := r.cache.Add(ctx, key, b, r.cfg.TTL(v))
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("read-through fill failed")
			return filled{v: v, ok: true}, nil
		}
		if !added {
			// a write or delete landed since the miss; it wins
			if cur, st, err := r.cached(ctx, key); err == nil && st != miss {
				return filled{v: cur, ok: st == hit}, nil
			}
		}
		return filled{v: v, ok: true}, nil
	})
	if err != nil {
		return zero, false, err
	}
	f := res.(filled)
	return f.v, f.ok, nil
}

type cacheState int

const (
	miss cacheState = iota
	hit
	gone
)

func (r *Repository[T]) cached(ctx context.Context, key string) (T, cacheState, error) {
	var v T
	b, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		return v, miss, apperr.Persistence(err, "cache get "+key)
	}
	if !ok {
		return v, miss, nil
	}
	if isTombstone(b) {
		return v, gone, nil
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, miss, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, hit, nil
}

// Put creates or replaces v under its key lease.
func (r *Repository[T]) Put(ctx context.Context, v T) error {
	id := r.cfg.ID(v)
	return r.WithLock(ctx, id, func(ctx context.Context) error {
		_, exists, err := r.Load(ctx, id)
		if err != nil {
			return err
		}
		op := syncer.OpCreate
		if exists {
			op = syncer.OpUpdate
		}
		return r.Save(ctx, v, op)
	})
}

// Update loads id under its lease, applies fn and saves the result.
// A missing entity is NotFound; an error from fn aborts without writing.
func (r *Repository[T]) Update(ctx context.Context, id string, fn func(*T) error) (T, error) {
	var out T
	err := r.WithLock(ctx, id, func(ctx context.Context) error {
		v, ok, err := r.Load(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("%s not found", r.Key(id))
		}
		if err := fn(&v); err != nil {
			return err
		}
		if err := r.Save(ctx, v, syncer.OpUpdate); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Delete removes id under its lease and reports whether it existed.
func (r *Repository[T]) Delete(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := r.WithLock(ctx, id, func(ctx context.Context) error {
		var err error
		existed, err = r.Remove(ctx, id)
		return err
	})
	return existed, err
}

// WithLock runs fn while holding the lease for id.
func (r *Repository[T]) WithLock(ctx context.Context, id string, fn func(context.Context) error) error {
	l, err := r.locker.Acquire(ctx, r.Key(id), r.cfg.LockWait, r.cfg.LockLease)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn().Err(err).Str("key", l.Key).Msg("lease release failed")
		}
	}()
	return fn(ctx)
}

// Save writes v to the cache and emits the sync event. The caller must
// already hold the key lease.
func (r *Repository[T]) Save(ctx context.Context, v T, op syncer.Operation) error {
	key := r.Key(r.cfg.ID(v))
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.cache.Set(ctx, key, b, r.cfg.TTL(v)); err != nil {
		return apperr.Persistence(err, "cache set "+key)
	}
	r.emit(ctx, key, op)
	return nil
}

// Remove replaces the cached value of id with a tombstone and emits DELETE.
// Until the tombstone expires, reads see id as absent even though the
// durable row may still exist. The caller must already hold the key lease.
func (r *Repository[T]) Remove(ctx context.Context, id string) (bool, error) {
	_, ok, err := r.Load(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	key := r.Key(id)
	if err := r.cache.Set(ctx, key, tombstone, r.cfg.TombstoneTTL); err != nil {
		return false, apperr.Persistence(err, "cache tombstone "+key)
	}
	r.emit(ctx, key, syncer.OpDelete)
	return true, nil
}

// The cache write is already committed, so a lost event only delays the
// replica; it is logged and counted rather than failing the caller.
func (r *Repository[T]) emit(ctx context.Context, key string, op syncer.Operation) {
	if r.emitter == nil {
		return
	}
	if err := r.emitter.Emit(ctx, key, op); err != nil {
		metrics.SyncPublishFailures.Inc()
		r.log.Error().Err(err).Str("key", key).Str("op", string(op)).Msg("sync event not published")
	}
}

// Apply converges the durable copy of id to the current cache value. A
// tombstone deletes the durable row whatever op the event carries.
func (r *Repository[T]) Apply(ctx context.Context, op syncer.Operation, id string) error {
	key := r.Key(id)
	b, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		return apperr.Persistence(err, "cache get "+key)
	}
	if ok && isTombstone(b) {
		if err := r.durable.Delete(ctx, id); err != nil {
			return apperr.Persistence(err, "durable delete "+key)
		}
		return nil
	}
	if ok {
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("decode cached %s: %w", key, err)
		}
		if err := r.durable.Upsert(ctx, v); err != nil {
			return apperr.Persistence(err, "durable upsert "+key)
		}
		return nil
	}
	if op == syncer.OpDelete {
		if err := r.durable.Delete(ctx, id); err != nil {
			return apperr.Persistence(err, "durable delete "+key)
		}
		return nil
	}
	// nothing cached: either deleted later (a DELETE follows) or expired
	r.log.Warn().Str("key", key).Str("op", string(op)).Msg("sync skipped, no cached value")
	return nil
}

var _ syncer.Applier = (*Repository[struct{}])(nil)
