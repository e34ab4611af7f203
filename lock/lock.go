// Package lock provides cross-process mutual exclusion over the shared
// cache, used to serialize counter mutation, uniqueness reservation, and
// read-then-write update sequences.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/lattice/cache"
	"github.com/jacentio/lattice/metrics"
)

// ErrTimeout is returned when a lock cannot be acquired within MaxWait.
var ErrTimeout = errors.New("lock: timed out waiting for lock")

// Config holds lock manager tuning.
type Config struct {
	// TTL bounds how long an acquired lock survives a crashed holder.
	// Default: 30s
	TTL time.Duration

	// PollInterval is the wait between acquisition attempts.
	// Default: 50ms
	PollInterval time.Duration

	// MaxWait bounds the total time spent waiting for a contended lock.
	// Default: 10s
	MaxWait time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:          30 * time.Second,
		PollInterval: 50 * time.Millisecond,
		MaxWait:      10 * time.Second,
	}
}

func (c *Config) validate() {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 10 * time.Second
	}
}

// Manager acquires and releases named locks through the cache's
// conditional set primitive. The token returned by Acquire fences the
// matching Release: a lock that expired and was re-acquired by someone
// else is never force-cleared.
type Manager struct {
	cache  cache.Cache
	config Config
	logger *slog.Logger
}

// New creates a Manager over the given cache.
func New(c cache.Cache, config Config, logger *slog.Logger) *Manager {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cache: c, config: config, logger: logger}
}

func lockKey(key string) string {
	return "lock_" + key
}

// Acquire obtains the lock for key, polling while contended. It returns
// the holder token required to release the lock.
func (m *Manager) Acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	start := time.Now()
	deadline := start.Add(m.config.MaxWait)

	for {
		ok, err := m.cache.Set(ctx, lockKey(key), token, m.config.TTL, true)
		if err != nil {
			return "", err
		}
		if ok {
			metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.config.PollInterval):
		}
	}
}

// Release frees the lock for key if token still holds it. A missing lock
// is a no-op (TTL expiry); a lock held by another token is logged and
// left alone.
func (m *Manager) Release(ctx context.Context, key, token string) error {
	holder, ok, err := m.cache.Get(ctx, lockKey(key))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if holder != token {
		m.logger.Warn("lock held by another owner, not releasing",
			"key", key,
		)
		return nil
	}
	return m.cache.Del(ctx, lockKey(key))
}

// WithLock runs fn while holding the lock for key.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token, err := m.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := m.Release(ctx, key, token); rerr != nil {
			m.logger.Warn("failed to release lock",
				"key", key,
				"error", rerr,
			)
		}
	}()
	return fn(ctx)
}
