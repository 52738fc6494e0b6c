package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyExists is returned when a DID record is created twice for one principal.
var ErrAlreadyExists = errors.New("already exists")

// InvalidArgumentError indicates a rejected argument: empty string, out-of-range
// enum, non-future due date, or a no-op new value.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateError indicates an operation that conflicts with current state,
// such as completing a completed task or reassigning to the current assignee.
type InvalidStateError struct {
	Reason string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: %s", e.Reason)
}
