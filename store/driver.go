// Package store provides the persistence orchestrator: validation,
// defaults, uniqueness enforcement, counters, retry, and change-event
// emission over a pluggable storage driver.
package store

import (
	"context"
)

// Object is a stored object: field name to value.
type Object = map[string]any

// Page is one page of a cursor-paginated query.
type Page struct {
	// Results holds the page's objects.
	Results []Object

	// NextCursor resumes the scan; empty means the scan is complete.
	NextCursor string
}

// Driver is the backend-specific storage contract. Implementations must
// be safe to retry: the orchestrator re-issues calls on transient
// failure. Missing ids are reported as typed not-found errors
// (errs.CodeNotFound), never as nil results.
type Driver interface {
	// Init prepares the backend (tables, indexes).
	Init(ctx context.Context) error

	// CreateObject stores a new object and assigns its id.
	CreateObject(ctx context.Context, objectType string, obj Object) (Object, error)

	// GetObject fetches an object by id, excluding soft-deleted ones.
	GetObject(ctx context.Context, id string) (Object, error)

	// UpdateObject merges partial into the stored object and returns the
	// updated document.
	UpdateObject(ctx context.Context, id string, partial Object) (Object, error)

	// ReplaceObject overwrites the stored document and returns it.
	ReplaceObject(ctx context.Context, id string, obj Object) (Object, error)

	// DeleteObject physically removes an object. The orchestrator soft
	// deletes; this exists for offline compaction tooling.
	DeleteObject(ctx context.Context, id string) error

	// QueryObjects scans objects of a type with an optional projection,
	// resuming from afterCursor.
	QueryObjects(ctx context.Context, objectType string, projection []string, afterCursor string) (*Page, error)

	// AddUnique reserves (objectType, field, value); errs.CodeUniqueField
	// if already held.
	AddUnique(ctx context.Context, objectType, field, value string) error

	// RemoveUnique releases a reservation. Releasing a missing
	// reservation is not an error.
	RemoveUnique(ctx context.Context, objectType, field, value string) error

	// CheckUnique reports whether (objectType, field, value) is free.
	CheckUnique(ctx context.Context, objectType, field, value string) (bool, error)

	// CreateEdge appends (src, name, dst) to the forward and reverse
	// edge indices, preserving insertion order.
	CreateEdge(ctx context.Context, src, name, dst string) error

	// DeleteEdge removes (src, name, dst) from both indices.
	DeleteEdge(ctx context.Context, src, name, dst string) error

	// GetEdges returns destination ids for (src, name) in insertion
	// order.
	GetEdges(ctx context.Context, src, name string) ([]string, error)

	// GetReverseEdges returns source ids for (dst, name) in insertion
	// order.
	GetReverseEdges(ctx context.Context, dst, name string) ([]string, error)
}
