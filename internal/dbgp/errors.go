package dbgp

import (
	"errors"
	"fmt"
)

// Wire and session errors.
var (
	// ErrConnectionClosed indicates the peer closed the socket mid-message.
	ErrConnectionClosed = errors.New("dbgp: connection closed")

	// ErrProtocol indicates a framing violation.
	ErrProtocol = errors.New("dbgp: protocol error")

	// ErrMessageTooLarge indicates a length prefix above MaxMessageLength.
	ErrMessageTooLarge = errors.New("dbgp: message too large")
)

// ErrorCode is a numeric DBGP error code.
type ErrorCode int

// Error codes the engine may emit.
const (
	ErrorOK                     ErrorCode = 0
	ErrorCommandParse           ErrorCode = 1
	ErrorDuplicateArgs          ErrorCode = 2
	ErrorInvalidArgs            ErrorCode = 3
	ErrorCommandNotSupported    ErrorCode = 4
	ErrorCommandNotAvailable    ErrorCode = 5
	ErrorFileAccess             ErrorCode = 100
	ErrorStreamRedirectFailed   ErrorCode = 101
	ErrorBreakpointInvalid      ErrorCode = 200
	ErrorBreakpointType         ErrorCode = 201
	ErrorBreakpointInvalidLine  ErrorCode = 202
	ErrorBreakpointNotReachable ErrorCode = 203
	ErrorBreakpointState        ErrorCode = 204
	ErrorBreakpointDoesNotExist ErrorCode = 205
	ErrorEvalFailed             ErrorCode = 206
	ErrorInvalidExpression      ErrorCode = 207
	ErrorPropertyDoesNotExist   ErrorCode = 300
	ErrorStackDepth             ErrorCode = 301
	ErrorContextInvalid         ErrorCode = 302
	ErrorEncoding               ErrorCode = 900
	ErrorException              ErrorCode = 998
	ErrorUnknown                ErrorCode = 999
)

var errorMessages = map[ErrorCode]string{
	ErrorOK:                     "no error",
	ErrorCommandParse:           "parse error in command",
	ErrorDuplicateArgs:          "duplicate arguments in command",
	ErrorInvalidArgs:            "invalid or missing options",
	ErrorCommandNotSupported:    "unimplemented command",
	ErrorCommandNotAvailable:    "command not available",
	ErrorFileAccess:             "can not open file",
	ErrorStreamRedirectFailed:   "stream redirect failed",
	ErrorBreakpointInvalid:      "breakpoint could not be set",
	ErrorBreakpointType:         "breakpoint type not supported",
	ErrorBreakpointInvalidLine:  "invalid breakpoint",
	ErrorBreakpointNotReachable: "no code on breakpoint line",
	ErrorBreakpointState:        "invalid breakpoint state",
	ErrorBreakpointDoesNotExist: "no such breakpoint",
	ErrorEvalFailed:             "error evaluating code",
	ErrorInvalidExpression:      "invalid expression",
	ErrorPropertyDoesNotExist:   "can not get property",
	ErrorStackDepth:             "stack depth invalid",
	ErrorContextInvalid:         "context invalid",
	ErrorEncoding:               "encoding not supported",
	ErrorException:              "an internal exception in the debugger occurred",
	ErrorUnknown:                "unknown error",
}

// ErrorMessage returns the documented message for code. Codes without a
// documented message get the generic unknown-error text.
func ErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return errorMessages[ErrorUnknown]
}

// String returns the documented message.
func (c ErrorCode) String() string {
	return ErrorMessage(c)
}

// Error is a command failure carried inside a response envelope.
type Error struct {
	Code    ErrorCode
	Message string
}

// NewError creates an Error. An empty message uses the documented text.
func NewError(code ErrorCode, msg string) *Error {
	if msg == "" {
		msg = ErrorMessage(code)
	}
	return &Error{Code: code, Message: msg}
}

// Errorf creates an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("dbgp error %d: %s", e.Code, e.Message)
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the DBGP code from err, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	if err == nil {
		return ErrorOK
	}
	return ErrorUnknown
}
