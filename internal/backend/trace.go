package backend

import (
	"github.com/dshills/dbgp/internal/dbgp"
)

// Trace reports an execution event of the debugged goroutine. arg
// describes the exception for EventException and is ignored otherwise.
// Trace blocks while the session is in break. It returns false once the
// session stopped or detached; the host should then stop reporting.
func (c *Client) Trace(ev Event, frame Frame, arg any) bool {
	if c.finished() {
		return false
	}
	if isNil(frame) || c.skip(frame) {
		return true
	}

	if c.interrupt.CompareAndSwap(true, false) {
		c.interaction(frame, ev, arg)
		return !c.finished()
	}

	switch ev {
	case EventLine:
		c.dispatchLine(frame)
	case EventCall:
		c.dispatchCall(frame, arg)
	case EventReturn:
		c.dispatchReturn(frame, arg)
	case EventException:
		c.dispatchException(frame, arg)
	}
	return !c.finished()
}

// skip filters frames that never stop.
func (c *Client) skip(frame Frame) bool {
	if frame.Hidden() || frame.Line() == 0 {
		return true
	}
	for p := parentOf(frame); p != nil; p = parentOf(p) {
		if p.HideChildren() {
			return true
		}
	}
	return false
}

// start records the bottom frame on the first traced event.
func (c *Client) start(frame Frame) bool {
	if c.started {
		return false
	}
	c.started = true
	c.botframe = parentOf(frame)
	return true
}

func (c *Client) dispatchLine(frame Frame) {
	c.start(frame)
	if c.stopHere(frame) || c.breakHere(EventLine, frame, nil) {
		c.interaction(frame, EventLine, nil)
	}
}

func (c *Client) dispatchCall(frame Frame, arg any) {
	if c.start(frame) {
		if c.breakOnFirstCall {
			c.breakOnFirstCall = false
			c.dispatchLine(frame)
		}
		return
	}
	if c.stopHere(frame) || c.breakHere(EventCall, frame, arg) {
		c.interaction(frame, EventCall, arg)
	}
}

func (c *Client) dispatchReturn(frame Frame, arg any) {
	c.start(frame)
	if frame == c.stopframe && c.returnframe == nil {
		// stepping over the last line of a frame goes on in its caller
		c.setNext(parentOf(frame))
		if c.breakHere(EventReturn, frame, arg) {
			c.interaction(frame, EventReturn, arg)
		}
		return
	}
	if c.stopHere(frame) || frame == c.returnframe || c.breakHere(EventReturn, frame, arg) {
		c.interaction(frame, EventReturn, arg)
	}
}

func (c *Client) dispatchException(frame Frame, arg any) {
	c.start(frame)
	if c.stopHere(frame) || c.breakHere(EventException, frame, arg) {
		c.interaction(frame, EventException, arg)
	}
}

// stopHere reports whether stepping stops in frame. A nil botframe
// stands for the virtual frame below the outermost one.
func (c *Client) stopHere(frame Frame) bool {
	if c.stopframe != nil && frame == c.stopframe {
		return true
	}
	for f := frame; ; f = parentOf(f) {
		if f == nil {
			return c.botframe == nil && c.policy == policyStep
		}
		if c.stopframe != nil && f == c.stopframe {
			return false
		}
		if c.botframe != nil && f == c.botframe {
			return c.policy == policyStep
		}
	}
}

func (c *Client) breakHere(ev Event, frame Frame, arg any) bool {
	bp, ok := c.dbg.breakHere(ev, frame, arg)
	if ok {
		c.log.V(1).Info("breakpoint hit", "id", bp.ID, "type", bp.Type, "hits", bp.Hits)
	}
	return ok
}

func (c *Client) setStep() {
	c.policy = policyStep
	c.stopframe, c.returnframe = nil, nil
}

func (c *Client) setNext(frame Frame) {
	if frame == nil || frame == c.botframe {
		c.policy = policyStep
	}
	c.stopframe, c.returnframe = frame, nil
}

func (c *Client) setReturn(frame Frame) {
	parent := parentOf(frame)
	switch {
	case frame == c.botframe:
		c.policy = policyContinue
	case parent == c.botframe:
		c.policy = policyStep
	}
	c.stopframe, c.returnframe = parent, frame
}

func (c *Client) setContinue() {
	c.policy = policyContinue
	c.stopframe, c.returnframe = nil, nil
}

// applyResume turns the continuation command that ended the last
// command loop into stepping state. frame is nil before the program
// produced its first event.
func (c *Client) applyResume(frame Frame) {
	switch c.resume {
	case dbgp.CmdStepInto:
		c.setStep()
	case dbgp.CmdStepOver:
		if frame == nil {
			c.setStep()
			return
		}
		c.setNext(frame)
	case dbgp.CmdStepOut:
		if frame == nil {
			c.setStep()
			return
		}
		c.setReturn(frame)
	default:
		c.setContinue()
	}
}

// interaction suspends the program in break and serves commands until
// the IDE resumes it.
func (c *Client) interaction(frame Frame, ev Event, arg any) {
	c.stack = c.collectStack(frame)
	c.current = frame

	reason := dbgp.ReasonOK
	if ev == EventException {
		reason = dbgp.ReasonException
		c.mu.Lock()
		c.lastError = exceptionText(arg)
		c.mu.Unlock()
	}
	c.log.V(1).Info("break", "event", ev.String(), "file", frame.Filename(), "line", frame.Line())

	status := dbgp.StatusBreak
	if c.interactive() {
		status = dbgp.StatusInteractive
	}
	c.sendContinuation(status, reason)

	c.commandLoop()
	c.stack, c.current = nil, nil
	if c.finished() {
		return
	}
	c.applyResume(frame)
}

// collectStack lists the visible frames from frame outward.
func (c *Client) collectStack(frame Frame) []Frame {
	var stack []Frame
	for f := frame; f != nil; f = parentOf(f) {
		if f.Hidden() {
			continue
		}
		stack = append(stack, f)
	}
	return stack
}

func exceptionText(arg any) string {
	switch x := arg.(type) {
	case error:
		return x.Error()
	case string:
		return x
	}
	return ""
}
