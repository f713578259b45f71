package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail and ErrDuplicateUsername report a uniqueness conflict.
var (
	ErrDuplicateEmail    = errors.New("duplicate email")
	ErrDuplicateUsername = errors.New("duplicate username")
)

// ErrConflict is returned when an optimistic update keeps losing to
// concurrent writers.
var ErrConflict = errors.New("concurrent update conflict")
