package search

import "errors"

// TransientError marks an engine failure worth retrying (connection refused,
// timeout, overload). Anything not wrapped in it is treated as permanent:
// malformed payloads and mapping mismatches do not heal on retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient engine error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
