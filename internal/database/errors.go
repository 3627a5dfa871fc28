package database

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrResourceExhausted indicates an operation timed out waiting for a
	// storage resource. Callers may retry later.
	ErrResourceExhausted = errors.New("storage resource exhausted")
)
