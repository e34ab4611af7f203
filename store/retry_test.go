package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jacentio/lattice/driver/memory"
	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/store"
)

// flakyDriver fails the first n create calls with a transient error.
type flakyDriver struct {
	*memory.Driver
	failures int
	calls    int
}

func (d *flakyDriver) CreateObject(ctx context.Context, objectType string, obj store.Object) (store.Object, error) {
	d.calls++
	if d.calls <= d.failures {
		return nil, errors.New("connection reset")
	}
	return d.Driver.CreateObject(ctx, objectType, obj)
}

func newFlakyWorld(t *testing.T, failures int) (*store.Store, *flakyDriver) {
	t.Helper()
	registry := testRegistry(t)
	driver := &flakyDriver{Driver: memory.New(registry), failures: failures}
	s := store.New(store.Options{
		Driver:   driver,
		Registry: registry,
		Config:   store.Config{MaxAttempts: 3, RetryBackoff: time.Millisecond},
	})
	return s, driver
}

func TestCreateObject_RetriesTransientFailure(t *testing.T) {
	s, driver := newFlakyWorld(t, 2)

	obj, err := s.CreateObject(context.Background(), "post", store.Object{"title": "t"}, author)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if obj["id"] == nil {
		t.Error("expected created object")
	}
	if driver.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", driver.calls)
	}
}

func TestCreateObject_ExhaustedRetries(t *testing.T) {
	s, driver := newFlakyWorld(t, 5)

	_, err := s.CreateObject(context.Background(), "post", store.Object{"title": "t"}, author)
	if !errs.Is(err, errs.CodeCreationFailed) {
		t.Fatalf("expected object_creation_failed, got %v", err)
	}
	if driver.calls != 3 {
		t.Errorf("expected attempts capped at 3, got %d", driver.calls)
	}
}

func TestCreateObject_PermanentErrorNotRetried(t *testing.T) {
	s, _ := newFlakyWorld(t, 0)
	ctx := context.Background()

	if _, err := s.CreateObject(ctx, "post", store.Object{"title": "a", "slug": "dup"}, author); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The unique conflict is coded, so it surfaces immediately instead of
	// being retried into a storage failure.
	_, err := s.CreateObject(ctx, "post", store.Object{"title": "b", "slug": "dup"}, author)
	if !errs.Is(err, errs.CodeUniqueField) {
		t.Errorf("expected validation_unique_field, got %v", err)
	}
}
