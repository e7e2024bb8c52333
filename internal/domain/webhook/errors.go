package webhook

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when the caller-supplied secret does not
	// match the configured webhook secret.
	ErrAuthentication = errors.New("webhook authentication failed")

	// ErrConfiguration is returned when the server itself is misconfigured,
	// e.g. no webhook secret is set. Surfaced distinctly from an auth
	// failure so operators can tell the two apart.
	ErrConfiguration = errors.New("webhook misconfigured")
)

// ValidationError rejects a payload before any persistence. Validation
// failures are never retried and never dead-lettered.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Reason)
}

// PersistenceError marks a storage failure during patient resolution or
// invoice creation. These are the only failures routed to the dead-letter
// queue.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
