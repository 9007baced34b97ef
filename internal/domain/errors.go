package domain

import "errors"

var (
	// ErrValidation marks input that fails domain validation.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup that matched no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a state transition rejected by the current row state.
	ErrConflict = errors.New("conflict")
	// ErrDuplicate marks an insert rejected by a uniqueness constraint.
	// Callers ingesting provider events treat it as a successful no-op.
	ErrDuplicate = errors.New("duplicate")
)
