package storage

import (
	"errors"
	"net/http"
)

var (
	// ErrUnsupportedBackend is returned when the configured backend kind has no implementation.
	ErrUnsupportedBackend = errors.New("storage: unsupported backend")

	// ErrInvalidKey is returned when a key fails namespace or traversal validation.
	ErrInvalidKey = errors.New("storage: invalid key")

	// ErrUnauthorized is returned when a credential is rejected by the backend.
	ErrUnauthorized = errors.New("storage: unauthorized")

	// ErrBackendUnavailable marks transient I/O or network failures. Callers may retry.
	ErrBackendUnavailable = errors.New("storage: backend unavailable")

	// ErrNotFound is returned when no payload is stored under a key.
	ErrNotFound = errors.New("storage: not found")
)

// HTTPStatus maps a storage error to the status code the HTTP layer should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
