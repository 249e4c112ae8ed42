package store

import "errors"

// Sentinel errors mapped to HTTP statuses by the route handlers.
var (
	// ErrNotFound indicates the resource does not exist or is not owned by
	// the requesting user.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a client-side validation failure.
	ErrInvalidInput = errors.New("invalid input")
)
