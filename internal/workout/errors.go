package workout

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkoutInProgress rejects a start while a set is already running.
	ErrWorkoutInProgress = errors.New("workout: a workout is already in progress")
	ErrNoRoutine         = errors.New("workout: no routine loaded")
	ErrNotAttached       = errors.New("workout: controller is not attached to a transport")
	ErrShutdown          = errors.New("workout: controller is shut down")
	ErrInvalidRoutine    = errors.New("workout: invalid routine")
)

// TransportError wraps a failed transport operation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RoutineError names the part of a routine that failed validation.
type RoutineError struct {
	Exercise string
	Set      int // 1-based, 0 when the exercise itself is at fault
	Err      error
}

func (e *RoutineError) Error() string {
	if e.Set > 0 {
		return fmt.Sprintf("exercise %q set %d: %v", e.Exercise, e.Set, e.Err)
	}
	return fmt.Sprintf("exercise %q: %v", e.Exercise, e.Err)
}

func (e *RoutineError) Unwrap() []error { return []error{ErrInvalidRoutine, e.Err} }
