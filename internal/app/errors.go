// Package app holds the process-wide pieces shared by the dbgp commands:
// the root logger and the error types reported to the user.
package app

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig reports a configuration value that cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrShutdownTimeout reports that sessions did not end in time.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// OperationError is a failed command-line operation and what it acted on.
type OperationError struct {
	Op      string // listen, load, register
	Target  string // address, file, idekey
	Context string
	Err     error
}

// NewOperationError creates a new OperationError.
func NewOperationError(op, target string, err error) *OperationError {
	return &OperationError{
		Op:     op,
		Target: target,
		Err:    err,
	}
}

// WithContext adds context to the error. It is safe on a nil receiver.
func (e *OperationError) WithContext(ctx string) *OperationError {
	if e == nil {
		return nil
	}
	e.Context = ctx
	return e
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Op
	if e.Target != "" {
		msg += " " + e.Target
	}
	if e.Context != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Context)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap returns nil for a nil err and an OperationError otherwise.
func Wrap(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return NewOperationError(op, target, err)
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidConfig):
		return 2
	default:
		return 1
	}
}
