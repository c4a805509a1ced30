package task

import (
	"errors"
	"fmt"
)

var (
	// ErrNameCollision is returned when a sibling already uses the name.
	ErrNameCollision = errors.New("name collision")
	// ErrAttached is returned when adding a task that already has a parent.
	ErrAttached = errors.New("task already attached")
	// ErrNotChild is returned when a task is not a child of the receiver.
	ErrNotChild = errors.New("task is not a child")
	// ErrInvalidIndex is returned for out of range child positions.
	ErrInvalidIndex = errors.New("invalid child index")
	// ErrCycle is returned when an edit would make a task its own ancestor.
	ErrCycle = errors.New("task cannot contain itself")
	// ErrRootAccessException is returned when exposing entries above the root.
	ErrRootAccessException = errors.New("the root task has no parent to expose entries to")
	// ErrUnknownKind is returned by the builder for unregistered task kinds.
	ErrUnknownKind = errors.New("unknown task kind")
)

// ExecutionError attributes a failure during a run to the task that caused it.
type ExecutionError struct {
	Task string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
