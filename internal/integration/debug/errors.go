package debug

import "errors"

// Session and listener errors.
var (
	// ErrSessionTimeout indicates no response or connection arrived in time.
	ErrSessionTimeout = errors.New("debug: session timed out")

	// ErrUserInterrupt indicates the user cancelled a pending accept.
	ErrUserInterrupt = errors.New("debug: interrupted by user")

	// ErrUnsavedBuffers indicates the editor has modified buffers.
	ErrUnsavedBuffers = errors.New("debug: unsaved buffers")

	// ErrSessionClosed indicates a command on a closed session.
	ErrSessionClosed = errors.New("debug: session closed")

	// ErrBadInit indicates the first message was not a valid init packet.
	ErrBadInit = errors.New("debug: invalid init packet")

	// ErrIDEKeyMismatch indicates an init packet for another IDE.
	ErrIDEKeyMismatch = errors.New("debug: idekey mismatch")

	// ErrProtocolVersion indicates an unsupported protocol_version.
	ErrProtocolVersion = errors.New("debug: unsupported protocol version")

	// ErrAlreadyResumed indicates a continuation command is in flight.
	ErrAlreadyResumed = errors.New("debug: session already resumed")

	// ErrNotSupported indicates the engine lacks a capability.
	ErrNotSupported = errors.New("debug: not supported by engine")

	// ErrNotAvailable indicates a command that needs the break state.
	ErrNotAvailable = errors.New("debug: not available while running")

	// ErrListenerClosed indicates Next on a closed listener.
	ErrListenerClosed = errors.New("debug: listener closed")

	// ErrBreakpointNotFound indicates an unknown breakpoint guid.
	ErrBreakpointNotFound = errors.New("debug: breakpoint not found")
)
