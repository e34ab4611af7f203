// Package errs defines the typed error taxonomy shared by the ACL
// engine, the persistence orchestrator, and the storage drivers. Every
// error carries a stable code suitable for client-side mapping and
// localization; unrecognized errors surface to callers as internal.
package errs

import "fmt"

// Stable error codes.
const (
	CodeACLDenied          = "acl_denied"
	CodeNoMethodPermission = "acl_no_method_permission"
	CodeFieldUneditable    = "field_uneditable"

	CodeRequiredField = "validation_required_field"
	CodeBadDataType   = "validation_bad_data_type"
	CodeUniqueField   = "validation_unique_field"
	CodeUnknownField  = "validation_unknown_field"

	CodeInvalidID     = "invalid_object_id"
	CodeUnknownType   = "unknown_object_type"
	CodeUnknownEdge   = "unknown_edge"
	CodeNotFound      = "object_not_found"
	CodeEdgeNotFound  = "edge_not_found"
	CodeRefNotAllowed = "reference_type_not_allowed"

	CodeCreationFailed = "object_creation_failed"
	CodeUpdateFailed   = "object_update_failed"
	CodeDeletionFailed = "object_deletion_failed"
	CodeStorageFailed  = "storage_failed"

	CodeLockTimeout = "lock_timeout"
	CodeExpandDepth = "expand_depth_exceeded"
	CodeInternal    = "internal"
)

// Error is a typed error with a stable code.
type Error struct {
	// Code is the stable, machine-readable error code.
	Code string

	// Message is the rendered human-readable message.
	Message string

	cause error
}

// New creates a coded error.
func New(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error wrapping a cause.
func Wrap(cause error, code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so sentinel comparisons like
// errors.Is(err, errs.New(errs.CodeNotFound, "")) work across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Code returns the code of err if it is (or wraps) an *Error, else
// CodeInternal.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return CodeInternal
		}
		err = u.Unwrap()
		if err == nil {
			return CodeInternal
		}
	}
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return Code(err) == code
}
