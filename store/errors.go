package store

import "github.com/jacentio/lattice/errs"

// Sentinel instances for errors.Is comparisons; matching is by code, so
// these compare equal to any wrapped error carrying the same code.
var (
	// ErrNotFound is returned when an object doesn't exist or is soft
	// deleted.
	ErrNotFound = errs.New(errs.CodeNotFound, "object not found")

	// ErrInvalidID is returned for ids that are not the 35-character
	// token-code shape.
	ErrInvalidID = errs.New(errs.CodeInvalidID, "invalid object id")

	// ErrUnknownType is returned for object type names missing from the
	// schema registry.
	ErrUnknownType = errs.New(errs.CodeUnknownType, "unknown object type")

	// ErrUniqueConflict is returned when a unique field value is already
	// reserved.
	ErrUniqueConflict = errs.New(errs.CodeUniqueField, "unique field value already in use")

	// ErrCreationFailed is returned when object creation fails after
	// retries.
	ErrCreationFailed = errs.New(errs.CodeCreationFailed, "object creation failed")
)
