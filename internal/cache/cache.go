// Package cache provides the injected caching capability used for rate
// limiting and scheduler run locks.
//
// Two implementations exist: a Redis-backed one for multi-process
// deployments and an in-process one for single-node and test use. The
// implementation is selected once at startup; call sites only ever see the
// Cache interface.
package cache

import (
	"context"
	"time"
)

// Cache is the capability consumed by the rest of the system.
type Cache interface {
	// Get retrieves a value; ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores a value with a TTL (zero means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error
	// Incr atomically increments a counter, setting ttl on first write.
	// Used by the fixed-window rate limiter.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// TryLock acquires a lock if nobody holds it, returning true on success.
	// Used to guard against overlapping scheduler passes.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock releases a lock early.
	Unlock(ctx context.Context, key string) error
}
