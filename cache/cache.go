// Package cache defines the shared cache contract used for distributed
// locking, counters, and edge-index caching, with Redis and in-memory
// implementations.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by list operations against a missing key where
// the backend distinguishes absence from emptiness.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the driver contract for the shared cache. Set with
// onlyIfAbsent and a TTL is the primitive the lock manager depends on.
type Cache interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. A zero ttl means no expiry. With
	// onlyIfAbsent it only writes when the key does not exist and
	// reports whether the write happened.
	Set(ctx context.Context, key, value string, ttl time.Duration, onlyIfAbsent bool) (bool, error)

	// Del removes key. Removing a missing key is not an error.
	Del(ctx context.Context, key string) error

	// IncrBy adds delta to the integer at key, creating it at zero.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// DecrBy subtracts delta from the integer at key.
	DecrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Exists reports whether key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// LPush prepends values to the list at key.
	LPush(ctx context.Context, key string, values ...string) error

	// LRange returns list elements between start and stop inclusive;
	// negative indexes count from the tail.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LRem removes count occurrences of value from the list at key and
	// returns how many were removed. count==0 removes all.
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)

	// LPos returns the index of value in the list at key.
	LPos(ctx context.Context, key, value string) (int64, bool, error)

	// LLen returns the length of the list at key.
	LLen(ctx context.Context, key string) (int64, error)
}
