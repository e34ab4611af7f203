// Package memo provides a call-scoped key/value cache with single-flight
// compute. One Cache serves one logical request (an ACL pass and its
// virtual evaluations); it must never be shared across requests or
// processes.
package memo

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type keyState int

const (
	stateUnset keyState = iota
	stateLocked
	stateUnlockable
)

// Cache memoizes expensive lookups within a single call graph. A key in
// the unlockable state is terminal: every later LockAndGet returns the
// pinned value without waiting or computing.
type Cache struct {
	mu     sync.Mutex
	vals   map[string]any
	states map[string]keyState
	group  singleflight.Group
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		vals:   make(map[string]any),
		states: make(map[string]keyState),
	}
}

// Get returns the cached value for key, if any.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vals[key]
	return v, ok
}

// Set stores a value for key without locking semantics.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[key] = value
}

// LockAndGet returns the value for key, computing it at most once among
// concurrent callers. With terminal=true the key moves to its unlockable
// state on success and all future calls short-circuit to the pinned
// value. A failed compute leaves the key unset so a later call may retry.
func (c *Cache) LockAndGet(ctx context.Context, key string, terminal bool, compute func(ctx context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if c.states[key] == stateUnlockable {
		v := c.vals[key]
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if v, ok := c.vals[key]; ok {
			c.mu.Unlock()
			return v, nil
		}
		c.states[key] = stateLocked
		c.mu.Unlock()

		v, err := compute(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.states[key] = stateUnset
			return nil, err
		}
		c.vals[key] = v
		if terminal {
			c.states[key] = stateUnlockable
		} else {
			c.states[key] = stateUnset
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
