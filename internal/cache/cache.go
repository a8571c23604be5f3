// Package cache provides the shared key-value store the worker coordinates
// through. All cross-worker mutation goes through Store's atomic primitives;
// no in-process locking is layered on top, so correctness holds across
// process boundaries.
package cache

import (
	"context"
	"time"
)

// Store is a TTL'd key-value store with an atomic check-and-set primitive.
type Store interface {
	// SetIfAbsent stores value under key only if the key does not already
	// exist. Returns true when the write happened. The check and the write
	// are atomic with respect to concurrent callers in other processes.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set unconditionally stores value under key.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any underlying resources.
	Close() error
}
