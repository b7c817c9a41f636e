// Package cache is the fast keyed store sitting in front of the durable store.
package cache

import (
	"context"
	"time"
)

// Store is the authoritative current-value store. A zero ttl means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Add writes only when key is absent and reports whether it did.
	Add(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) (bool, error)
}
