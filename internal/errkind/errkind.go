// Package errkind classifies errors along the taxonomy in spec §7:
// transient-transport, logic, and cancellation. Adapters wrap
// their own errors with the appropriate marker so callers can branch on
// classification without sniffing strings or concrete exception types.
package errkind

import "errors"

// transient marks an error as a transient-transport failure eligible for
// the Job Runtime's bounded exponential backoff retry.
type transient struct {
	err error
}

func (t *transient) Error() string { return t.err.Error() }
func (t *transient) Unwrap() error { return t.err }

// Transient wraps err as a transient-transport error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transient{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked transient.
func IsTransient(err error) bool {
	var t *transient
	return errors.As(err, &t)
}

// logic marks an error as a terminal logic failure: empty edit when changes
// were required, validation unfixed after one repair, test failure. Never
// retried.
type logic struct {
	err error
}

func (l *logic) Error() string { return l.err.Error() }
func (l *logic) Unwrap() error { return l.err }

// Logic wraps err as a terminal logic error.
func Logic(err error) error {
	if err == nil {
		return nil
	}
	return &logic{err: err}
}

// IsLogic reports whether err (or anything it wraps) was marked a logic error.
func IsLogic(err error) bool {
	var l *logic
	return errors.As(err, &l)
}

// Cancelled is the cancellation error type, distinct from Logic/Transient.
// The pipeline does not construct it: its checkpoints read the cancellation
// flag directly and route to the cancelled terminal state.
type Cancelled struct {
	CancelledBy   string
	CancelledByID string
	Phase         string
}

func (c *Cancelled) Error() string {
	return "task cancelled during " + c.Phase + " by " + c.CancelledBy
}
