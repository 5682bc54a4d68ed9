package backend

import (
	"strings"

	"github.com/dshills/dbgp/internal/dbgp"
)

// Console prompts.
const (
	PromptPrimary  = ">>> "
	PromptContinue = "... "
)

// interactive reports whether the console is open.
func (c *Client) interactive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interactMode
}

func cmdInteract(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	if !c.dbg.opts.Interactive && !c.opts.Interactive {
		return dbgp.Errorf(dbgp.ErrorCommandNotSupported, "interactive mode is not enabled")
	}
	switch c.Status() {
	case dbgp.StatusStarting, dbgp.StatusBreak, dbgp.StatusInteractive:
	default:
		return dbgp.Errorf(dbgp.ErrorCommandNotAvailable, "interact is not available in state %s", c.Status())
	}

	if args.Int('m') == 0 {
		c.interactBuf = nil
		c.mu.Lock()
		c.interactMode = false
		c.mu.Unlock()
		if c.opts.Interactive && len(c.stack) == 0 {
			// a console-only session ends with its console
			c.quitting.Store(true)
			c.setStatus(dbgp.StatusStopped, dbgp.ReasonOK)
			resp.Attr("status", dbgp.StatusStopped.String()).Attr("reason", dbgp.ReasonOK.String())
			return nil
		}
		c.setStatus(dbgp.StatusBreak, dbgp.ReasonOK)
		resp.Attr("status", dbgp.StatusBreak.String()).AttrInt("more", 0).Attr("prompt", "")
		return nil
	}

	code, err := decodeData(args)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.interactMode = true
	c.mu.Unlock()
	c.setStatus(dbgp.StatusInteractive, dbgp.ReasonOK)

	more := c.runConsole(code)
	prompt := PromptPrimary
	if more {
		prompt = PromptContinue
	}
	resp.Attr("status", dbgp.StatusInteractive.String()).
		AttrBool("more", more).
		Attr("prompt", prompt)
	return nil
}

// runConsole adds a line to the console buffer and runs the buffer once
// it forms a complete chunk. It reports whether more input is needed.
func (c *Client) runConsole(line string) bool {
	if line == "" && len(c.interactBuf) == 0 {
		return false
	}
	c.interactBuf = append(c.interactBuf, line)
	code := strings.Join(c.interactBuf, "\n")

	globals, locals, err := c.scopes(0)
	if err != nil {
		c.interactBuf = nil
		c.consoleOutput("stderr", err.Error()+"\n")
		return false
	}

	output, assigned, err := c.exec(globals, locals, code)
	if err != nil && c.dbg.eval.IsIncomplete(err) && line != "" {
		return true
	}
	c.interactBuf = nil

	if output != "" {
		c.consoleOutput("stdout", output)
	}
	if err != nil {
		c.consoleOutput("stderr", err.Error()+"\n")
		return false
	}
	for name, v := range assigned {
		if aerr := c.assign(0, ContextLocals, name, v); aerr != nil {
			c.consoleOutput("stderr", aerr.Error()+"\n")
		}
	}
	return false
}

func (c *Client) exec(globals, locals map[string]any, code string) (output string, assigned map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = dbgp.Errorf(dbgp.ErrorEvalFailed, "evaluation panicked: %v", r)
		}
	}()
	return c.dbg.eval.Exec(globals, locals, code)
}

// consoleOutput sends console text to the IDE as a stream message.
func (c *Client) consoleOutput(kind, text string) {
	_ = c.send(dbgp.NewStream(kind, []byte(text)))
}
