package worker

import (
	"errors"

	"lotwsync/internal/lotw"
)

// ErrMalformedTask marks a message that cannot be decoded into a task.
var ErrMalformedTask = errors.New("malformed task")

// PermanentError is a task failure retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr) || errors.Is(err, ErrMalformedTask) || errors.Is(err, lotw.ErrAuthRejected)
}
