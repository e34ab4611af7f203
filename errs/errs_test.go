package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jacentio/lattice/errs"
)

func TestNew(t *testing.T) {
	err := errs.New(errs.CodeNotFound, "object %q not found", "abc")
	if err.Code != errs.CodeNotFound {
		t.Errorf("expected code %q, got %q", errs.CodeNotFound, err.Code)
	}
	want := "object_not_found: object \"abc\" not found"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := errs.Wrap(cause, errs.CodeStorageFailed, "write failed")
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to match errors.Is")
	}
	if errors.Unwrap(err) != cause {
		t.Error("expected Unwrap to return the cause")
	}
}

func TestIs_MatchesByCode(t *testing.T) {
	a := errs.New(errs.CodeUniqueField, "email taken")
	b := errs.New(errs.CodeUniqueField, "different message")
	if !errors.Is(a, b) {
		t.Error("expected errors with the same code to match")
	}
	c := errs.New(errs.CodeNotFound, "gone")
	if errors.Is(a, c) {
		t.Error("expected errors with different codes not to match")
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"coded", errs.New(errs.CodeACLDenied, "no"), errs.CodeACLDenied},
		{"wrapped coded", fmt.Errorf("handler: %w", errs.New(errs.CodeLockTimeout, "slow")), errs.CodeLockTimeout},
		{"plain", errors.New("boom"), errs.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errs.Code(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIsHelper(t *testing.T) {
	err := errs.Wrap(errs.New(errs.CodeNotFound, "inner"), errs.CodeDeletionFailed, "outer")
	if !errs.Is(err, errs.CodeDeletionFailed) {
		t.Error("expected the outermost code to match")
	}
	if errs.Is(err, errs.CodeNotFound) {
		t.Error("expected Is to report the outermost code only")
	}
}
