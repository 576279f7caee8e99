package job

import "errors"

var (
	// ErrNotFound is returned when a job ID does not exist in the store.
	ErrNotFound = errors.New("ripple: job not found")

	// ErrLeaseLost is returned when a transition on an active job is
	// reported by a worker that no longer owns its lease.
	ErrLeaseLost = errors.New("ripple: job lease lost")

	// ErrInvalidState is returned when a transition does not apply to the
	// job's current state, for example retrying a job that has not failed.
	ErrInvalidState = errors.New("ripple: invalid job state for transition")

	// ErrUnknownType is returned when pushing a job whose type is not in
	// the closed set of job types.
	ErrUnknownType = errors.New("ripple: unknown job type")
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. A handler returning a permanent
// error sends the job straight to the failed state.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with
// Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
