package pipeline

import "errors"

var (
	// ErrInvalidState is returned when an operation is attempted on a step
	// or task that is not in the required state.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrUnauthorized is returned when the actor lacks the role or
	// assignment required for the action.
	ErrUnauthorized = errors.New("actor not authorized for action")

	// ErrNotFound is returned when the referenced task or step does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoPreviousStep is returned when returning the first step of a task.
	ErrNoPreviousStep = errors.New("step has no previous step")
)
