package shared

import "errors"

var (
	// ErrNotFound indicates that a principal, role, permission or resource
	// instance required by the operation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input such as a bad permission
	// string or a cyclic role hierarchy.
	ErrValidation = errors.New("validation failed")
)
