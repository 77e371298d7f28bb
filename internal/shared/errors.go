package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the current user lacks a required permission.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated indicates the request carries no resolved user.
	ErrUnauthenticated = errors.New("unauthenticated")
)
