package workflow

import (
	"errors"
	"fmt"
)

// Errors returned synchronously by workflow commands.
var (
	ErrInvalidDraft     = errors.New("a source URL or an evidence file is required")
	ErrInvalidState     = errors.New("operation not allowed in current state")
	ErrUnknownCriterion = errors.New("unknown attestation criterion")
	ErrDetailClosed     = errors.New("detail view is not open")
	ErrClosed           = errors.New("workflow closed")
)

// StateError is returned when a command's precondition on the current state
// does not hold. It matches ErrInvalidState.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v (state %s)", e.Op, ErrInvalidState, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
