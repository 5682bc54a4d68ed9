package lua

import "errors"

// Errors for Lua evaluation.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when an evaluation runs too long.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrIncomplete is returned by Exec when the chunk ends before a
	// statement is complete and more input is expected.
	ErrIncomplete = errors.New("lua chunk is incomplete")
)
