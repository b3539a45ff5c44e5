package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by commands submitted after the Run loop exited.
var ErrStopped = errors.New("engine stopped")

// ErrInvalidValue is returned for non-finite numeric command arguments.
// Finite out-of-range values are clamped, never rejected.
var ErrInvalidValue = errors.New("invalid value")

// CommandError wraps a failure of a named command.
type CommandError struct {
	Command string
	Err     error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}
