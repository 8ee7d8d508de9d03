package gateway

import (
	"errors"
	"fmt"
)

// ErrConflict is returned by inserts that violate a uniqueness constraint.
// The conversation-creation race treats it as "someone else already won".
var ErrConflict = errors.New("gateway: uniqueness conflict")

// IsConflict reports whether err is a uniqueness violation
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// transientError marks a failure worth retrying (timeouts, connection
// resets, 5xx responses)
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return fmt.Sprintf("gateway: transient: %v", e.err)
}

func (e *transientError) Unwrap() error {
	return e.err
}

// MarkTransient wraps err as transient
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked transient by a gateway
// implementation
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
