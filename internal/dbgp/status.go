package dbgp

// Status is the execution state of a debug session.
type Status int

const (
	// StatusStarting is the state right after the handshake.
	StatusStarting Status = iota
	// StatusStopping means the program finished and the engine waits for a final command.
	StatusStopping
	// StatusStopped means the session is over.
	StatusStopped
	// StatusRunning means the program is executing.
	StatusRunning
	// StatusBreak means the program is suspended at a stop condition.
	StatusBreak
	// StatusInteractive means the engine is evaluating interactive input.
	StatusInteractive
)

var statusNames = [...]string{
	StatusStarting:    "starting",
	StatusStopping:    "stopping",
	StatusStopped:     "stopped",
	StatusRunning:     "running",
	StatusBreak:       "break",
	StatusInteractive: "interactive",
}

// String returns the wire name of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// ParseStatus converts a wire name to a Status.
func ParseStatus(name string) (Status, bool) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), true
		}
	}
	return StatusStarting, false
}

// Reason qualifies a status change.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonError
	ReasonAborted
	ReasonException
)

var reasonNames = [...]string{
	ReasonOK:        "ok",
	ReasonError:     "error",
	ReasonAborted:   "aborted",
	ReasonException: "exception",
}

// String returns the wire name of the reason.
func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return "unknown"
	}
	return reasonNames[r]
}

// ParseReason converts a wire name to a Reason.
func ParseReason(name string) (Reason, bool) {
	for i, n := range reasonNames {
		if n == name {
			return Reason(i), true
		}
	}
	return ReasonOK, false
}

// Continuation command names.
const (
	CmdRun      = "run"
	CmdStepInto = "step_into"
	CmdStepOver = "step_over"
	CmdStepOut  = "step_out"
	CmdStop     = "stop"
	CmdDetach   = "detach"
	CmdInteract = "interact"
)

// IsContinuation reports whether the command resumes execution and gets
// its response only at the next stop.
func IsContinuation(name string) bool {
	switch name {
	case CmdRun, CmdStepInto, CmdStepOver, CmdStepOut:
		return true
	}
	return false
}

// IsAsync reports whether the command may be sent while the engine is running.
func IsAsync(name string) bool {
	switch name {
	case "break", "status", "stdin", CmdStop, CmdDetach:
		return true
	}
	return false
}
