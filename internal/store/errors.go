package store

import "errors"

// Sentinel errors. Callers test with errors.Is; store methods wrap them with
// the operation and entity id.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness violation or an invalid status
	// transition.
	ErrConflict = errors.New("conflict")

	// ErrLocked indicates a rule is locked by another editor.
	ErrLocked = errors.New("locked by another editor")

	// ErrBackpressure indicates the pending job queue is at capacity.
	ErrBackpressure = errors.New("job queue at capacity")

	// ErrInvalidInput indicates a request failed validation before any write.
	ErrInvalidInput = errors.New("invalid input")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
