// Package ident generates and validates object ids. An id is a 32
// character random token, a dash, and the object type's 2 character
// code: exactly 35 characters, so the type of any id resolves in O(1)
// from its suffix.
package ident

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Length is the exact length of every object id.
const Length = 35

// ErrInvalid is returned for ids that are not 35 characters in the
// <token>-<code> shape.
var ErrInvalid = errors.New("ident: invalid object id")

// New generates an id for the given 2 character type code.
func New(code string) string {
	tok := strings.ReplaceAll(uuid.NewString(), "-", "")
	return tok + "-" + code
}

// Validate checks the id shape. Every id-accepting call goes through
// this before touching storage.
func Validate(id string) error {
	if len(id) != Length || id[Length-3] != '-' {
		return ErrInvalid
	}
	for i := 0; i < Length-3; i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ErrInvalid
		}
	}
	return nil
}

// Code returns the trailing type code of a valid id.
func Code(id string) (string, error) {
	if err := Validate(id); err != nil {
		return "", err
	}
	return id[Length-2:], nil
}
