package app

import "errors"

// Sentinel errors mapped to HTTP statuses by the server layer.
var (
	// ErrNotFound covers both genuinely missing resources and private
	// resources the viewer may not see.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the viewer may see a resource but
	// not perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized is returned on bad credentials or tokens.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned when a username or email is taken.
	ErrConflict = errors.New("already exists")

	// ErrInvalidInput is returned on validation failures. Wrap it with
	// fmt.Errorf("%w: detail") to carry the reason.
	ErrInvalidInput = errors.New("invalid input")
)
