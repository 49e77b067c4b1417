// Package errs defines the error taxonomy shared by the store, the
// aggregator and the callers.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput marks caller contract violations. Never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a keyed document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic version check fails.
	ErrConflict = errors.New("version conflict")
)

// InvalidInput wraps a formatted message around ErrInvalidInput.
func InvalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsInvalidInput reports whether err wraps ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// TransientStoreError is a network, timeout or availability failure of the
// document store. It is retried at the store boundary.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

// PartialBatchFailure reports a chunk that failed after earlier chunks of
// the same job were committed. Committed lists the ids already applied and
// Cursor is the last of them, from which the job resumes.
type PartialBatchFailure struct {
	Job         string
	FailedChunk int
	Committed   []string
	Cursor      string
	Err         error
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("%s: chunk %d failed after %d committed ids (resume after %q): %v",
		e.Job, e.FailedChunk, len(e.Committed), e.Cursor, e.Err)
}

func (e *PartialBatchFailure) Unwrap() error { return e.Err }

// InconsistentAggregateError is a diagnostic raised when a stored rollup
// disagrees with a full recomputation.
type InconsistentAggregateError struct {
	UserID     string
	Mismatches []Mismatch
}

// Mismatch is one differing rollup field.
type Mismatch struct {
	Field      string
	Stored     float64
	Recomputed float64
}

func (e *InconsistentAggregateError) Error() string {
	parts := make([]string, 0, len(e.Mismatches))
	for _, m := range e.Mismatches {
		parts = append(parts, fmt.Sprintf("%s stored=%v recomputed=%v", m.Field, m.Stored, m.Recomputed))
	}
	return fmt.Sprintf("rollup for user %s is inconsistent: %s", e.UserID, strings.Join(parts, ", "))
}
