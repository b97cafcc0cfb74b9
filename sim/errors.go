package sim

import (
	"errors"
	"fmt"
)

// InvalidStateError is returned when an operation is applied to an object
// that is not in a state that accepts it.
type InvalidStateError struct {
	Op     string
	State  string
	Reason string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("invalid state for %s", e.Op)
	if e.State != "" {
		msg += fmt.Sprintf(" (state %s)", e.State)
	}

	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	return msg
}

// ResourceExhaustedError is returned by non-blocking resource checks when the
// resource cannot satisfy the request right now.
type ResourceExhaustedError struct {
	Resource  string
	Requested int
	Available int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf(
		"resource %s exhausted: requested %d, available %d",
		e.Resource, e.Requested, e.Available,
	)
}

// ProcessFailure wraps the error that terminated a process body.
type ProcessFailure struct {
	ProcessID string
	Name      string
	Cause     error
}

func (e *ProcessFailure) Error() string {
	return fmt.Sprintf("process %s (%s) failed: %v", e.Name, e.ProcessID, e.Cause)
}

// Unwrap returns the cause of the failure.
func (e *ProcessFailure) Unwrap() error {
	return e.Cause
}

// InterruptSignal is delivered to a suspended process in place of the value
// it waits for. It is a control-flow signal rather than a fault.
type InterruptSignal struct {
	Cause interface{}
}

func (e *InterruptSignal) Error() string {
	if e.Cause == nil {
		return "interrupted"
	}

	return fmt.Sprintf("interrupted: %v", e.Cause)
}

// IsInterrupt tells if the error carries an InterruptSignal.
func IsInterrupt(err error) bool {
	var sig *InterruptSignal
	return errors.As(err, &sig)
}

// IsInvalidState tells if the error carries an InvalidStateError.
func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

// IsResourceExhausted tells if the error carries a ResourceExhaustedError.
func IsResourceExhausted(err error) bool {
	var e *ResourceExhaustedError
	return errors.As(err, &e)
}

// IsProcessFailure tells if the error carries a ProcessFailure.
func IsProcessFailure(err error) bool {
	var e *ProcessFailure
	return errors.As(err, &e)
}
