package hitcounter

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted matches any *RetriesExhaustedError.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrFatal matches any *FatalError.
	ErrFatal = errors.New("fatal increment error")

	ErrEmptyKey        = errors.New("counter key must not be empty")
	ErrNegativeRetries = errors.New("retry budget must not be negative")
)

// RetriesExhaustedError is returned when the datastore kept failing transiently
// through the whole retry budget. Err is the last failure, untouched.
type RetriesExhaustedError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("incrementing %q: %s after %d attempts: %v", e.Key, ErrRetriesExhausted, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// FatalError is returned for failures that are never retried: invalid input,
// non-transient datastore errors and cancellation of the caller's context.
type FatalError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("incrementing %q: %v", e.Key, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func (e *FatalError) Is(target error) bool {
	return target == ErrFatal
}
