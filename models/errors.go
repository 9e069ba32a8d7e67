package models

import "errors"

var (
	// ErrValidation marks malformed input rows; the row is skipped.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks references that cannot be resolved; the row is skipped.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict means another run already moved the row on.
	ErrConcurrencyConflict = errors.New("row already transitioned")
	// ErrInfrastructure is the only error class that aborts a sweep.
	ErrInfrastructure = errors.New("store unavailable")
)
