// Package sentinel holds the storage facts every backend reports the same
// way. Stores wrap these; the service maps them to domain errors with the
// entity name attached.
package sentinel

import "errors"

var (
	// ErrNotFound covers both a missing row and a row owned by another fund.
	// Callers must not be able to tell the two apart.
	ErrNotFound = errors.New("not found")
	// ErrConflict is a uniqueness rule rejecting a write.
	ErrConflict = errors.New("conflict")
)
