package storage

import "errors"

var (
	// ErrNotFound is returned when a requested item is not found in storage
	ErrNotFound = errors.New("item not found")

	// ErrStoreClosed is returned when attempting to use a closed storage instance
	ErrStoreClosed = errors.New("storage is closed")

	// ErrConflict is returned when a unit of work lost a race with a concurrent commit.
	// Retrying the whole unit of work is safe.
	ErrConflict = errors.New("transaction conflict")
)

// IsRetryable reports whether the failed unit of work may be retried as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
