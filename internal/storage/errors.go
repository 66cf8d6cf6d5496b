package storage

import "errors"

// Errors shared by all result store backends.
var (
	// ErrDuplicateKey is returned when one batch carries two rows with the same key.
	// Rows already stored under a key are replaced, not rejected.
	ErrDuplicateKey = errors.New("duplicate key within batch")

	// ErrInvalidInput is returned for nil rows, rows missing their key fields,
	// or an incomplete ResultStore.
	ErrInvalidInput = errors.New("invalid input")
)
