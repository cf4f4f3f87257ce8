package datastore

import "errors"

// TransientError marks a failure that is expected to clear up on its own,
// such as a refused or dropped connection to the cache service.
type TransientError struct {
	Err error
}

// NewTransientError wraps err as a TransientError. A nil err stays nil.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether any error in err's chain is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
