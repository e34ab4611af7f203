package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jacentio/lattice/cache"
	"github.com/jacentio/lattice/lock"
)

func newManager(cfg lock.Config) (*lock.Manager, *cache.Memory) {
	c := cache.NewMemory()
	return lock.New(c, cfg, nil), c
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	m, c := newManager(lock.DefaultConfig())

	token, err := m.Acquire(ctx, "obj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	holder, found, _ := c.Get(ctx, "lock_obj-1")
	if !found || holder != token {
		t.Errorf("expected cache to hold token %q, got %q found=%v", token, holder, found)
	}

	if err := m.Release(ctx, "obj-1", token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, found, _ = c.Get(ctx, "lock_obj-1")
	if found {
		t.Error("expected lock key to be cleared after release")
	}
}

func TestAcquire_ContendedTimesOut(t *testing.T) {
	cfg := lock.Config{
		TTL:          time.Minute,
		PollInterval: 5 * time.Millisecond,
		MaxWait:      30 * time.Millisecond,
	}
	m, _ := newManager(cfg)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "obj-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := m.Acquire(ctx, "obj-1")
	if !errors.Is(err, lock.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestAcquire_AfterRelease(t *testing.T) {
	cfg := lock.Config{
		TTL:          time.Minute,
		PollInterval: 5 * time.Millisecond,
		MaxWait:      time.Second,
	}
	m, _ := newManager(cfg)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "obj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Release(ctx, "obj-1", token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token2, err := m.Acquire(ctx, "obj-1")
	if err != nil {
		t.Fatalf("expected re-acquire to succeed, got %v", err)
	}
	if token2 == token {
		t.Error("expected a fresh token on re-acquire")
	}
}

func TestRelease_WrongTokenLeavesLock(t *testing.T) {
	ctx := context.Background()
	m, c := newManager(lock.DefaultConfig())

	token, err := m.Acquire(ctx, "obj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Release(ctx, "obj-1", "stale-token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	holder, found, _ := c.Get(ctx, "lock_obj-1")
	if !found || holder != token {
		t.Error("expected lock to survive a release with the wrong token")
	}
}

func TestRelease_MissingLockIsNoop(t *testing.T) {
	m, _ := newManager(lock.DefaultConfig())
	if err := m.Release(context.Background(), "never-held", "token"); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestAcquire_ContextCancel(t *testing.T) {
	cfg := lock.Config{
		TTL:          time.Minute,
		PollInterval: 5 * time.Millisecond,
		MaxWait:      time.Minute,
	}
	m, _ := newManager(cfg)

	if _, err := m.Acquire(context.Background(), "obj-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Acquire(ctx, "obj-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline error, got %v", err)
	}
}

func TestWithLock(t *testing.T) {
	ctx := context.Background()
	m, c := newManager(lock.DefaultConfig())

	ran := false
	err := m.WithLock(ctx, "obj-1", func(ctx context.Context) error {
		ran = true
		_, found, _ := c.Get(ctx, "lock_obj-1")
		if !found {
			t.Error("expected lock to be held inside WithLock")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
	_, found, _ := c.Get(ctx, "lock_obj-1")
	if found {
		t.Error("expected lock to be released after WithLock")
	}
}

func TestWithLock_PropagatesError(t *testing.T) {
	m, c := newManager(lock.DefaultConfig())
	boom := errors.New("boom")

	err := m.WithLock(context.Background(), "obj-1", func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected fn error, got %v", err)
	}
	_, found, _ := c.Get(context.Background(), "lock_obj-1")
	if found {
		t.Error("expected lock to be released after a failing fn")
	}
}
