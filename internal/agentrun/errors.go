package agentrun

import (
	"errors"
	"fmt"
)

// RunError is a structured agent-execution failure that preserves a causal
// chain while still implementing the standard error interface, grounded on
// runtime/agent/toolerrors.ToolError (message + Cause, errors.Is/As-friendly
// via Unwrap).
type RunError struct {
	Message string
	Cause   *RunError
}

// NewRunError constructs a RunError with no wrapped cause.
func NewRunError(message string) *RunError {
	if message == "" {
		message = "agent run error"
	}
	return &RunError{Message: message}
}

// WrapRunError wraps an arbitrary error into a RunError chain.
func WrapRunError(message string, cause error) *RunError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &RunError{Message: message, Cause: fromError(cause)}
}

func fromError(err error) *RunError {
	if err == nil {
		return nil
	}
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	return &RunError{Message: err.Error(), Cause: fromError(errors.Unwrap(err))}
}

func (e *RunError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *RunError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrCwdUnsafe is raised when a resolved working directory is the
// orchestrator's own install root or a subdirectory of it (spec.md §4.3).
var ErrCwdUnsafe = errors.New("agentrun: working directory is unsafe")

// ErrNoProviderAvailable is raised when resolution and fallback both fail to
// find an available, acceptable provider.
var ErrNoProviderAvailable = fmt.Errorf("agentrun: no acceptable provider is available")
