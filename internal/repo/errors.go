package repo

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a conditional write matched no row: the expected state moved.
	ErrConflict  = errors.New("conflict")
	ErrDuplicate = errors.New("duplicate")
)
