package debug

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dshills/dbgp/internal/dbgp"
)

// StackFrame is one entry of a stack_get response.
type StackFrame struct {
	// Level is 0 for the innermost frame.
	Level int

	// Type is "file" for real files, or the pseudo file kind ("eval").
	Type string

	// Filename is the local path after path mapping; URI is the
	// engine's form.
	Filename string
	URI      string

	Line  int
	Where string
}

// FormatLocation returns "file.go:42".
func (f *StackFrame) FormatLocation() string {
	if f.Filename == "" {
		return fmt.Sprintf("<unknown>:%d", f.Line)
	}
	return fmt.Sprintf("%s:%d", filepath.Base(f.Filename), f.Line)
}

func parseStackFrame(n *dbgp.Node, pm *PathMap) *StackFrame {
	f := &StackFrame{
		Level: n.AttrInt("level"),
		Type:  n.Attr("type"),
		URI:   n.Attr("filename"),
		Line:  n.AttrInt("lineno"),
		Where: n.Attr("where"),
	}
	switch {
	case f.Type != "" && f.Type != "file":
		f.Filename = "<" + f.Type + ">"
	case strings.HasPrefix(f.URI, "dbgp:"):
		f.Filename = "<" + strings.TrimLeft(strings.TrimPrefix(f.URI, "dbgp:"), "/") + ">"
	default:
		f.Filename = pm.LocalPath(f.URI)
	}
	return f
}

// CallStack is the stack of a session at a break.
type CallStack struct {
	// Frames are innermost first.
	Frames []*StackFrame

	// CurrentFrameIndex is the frame selected for inspection.
	CurrentFrameIndex int
}

// CurrentFrame returns the currently selected frame.
func (c *CallStack) CurrentFrame() *StackFrame {
	if c == nil || c.CurrentFrameIndex < 0 || c.CurrentFrameIndex >= len(c.Frames) {
		return nil
	}
	return c.Frames[c.CurrentFrameIndex]
}

// IsAtTop returns true if the innermost frame is selected.
func (c *CallStack) IsAtTop() bool {
	return c.CurrentFrameIndex == 0
}

// IsAtBottom returns true if the outermost frame is selected.
func (c *CallStack) IsAtBottom() bool {
	return c.CurrentFrameIndex == len(c.Frames)-1
}

// StackNavigator tracks the stack of a session and the selected frame.
type StackNavigator struct {
	session *Session
	mu      sync.RWMutex
	stack   *CallStack
}

// NewStackNavigator creates a new stack navigator.
func NewStackNavigator(session *Session) *StackNavigator {
	return &StackNavigator{session: session}
}

// Refresh reloads the stack and selects the innermost frame.
func (n *StackNavigator) Refresh(ctx context.Context) (*CallStack, error) {
	frames, err := n.session.StackGet(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stack: %w", err)
	}
	stack := &CallStack{Frames: frames}

	n.mu.Lock()
	n.stack = stack
	n.mu.Unlock()
	return stack, nil
}

// Set installs a stack fetched elsewhere, such as a break snapshot.
func (n *StackNavigator) Set(frames []*StackFrame) {
	n.mu.Lock()
	n.stack = &CallStack{Frames: frames}
	n.mu.Unlock()
}

// SelectFrame selects a frame by level.
func (n *StackNavigator) SelectFrame(level int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stack == nil {
		return fmt.Errorf("no call stack")
	}
	if level < 0 || level >= len(n.stack.Frames) {
		return fmt.Errorf("frame index %d out of range [0, %d)", level, len(n.stack.Frames))
	}
	n.stack.CurrentFrameIndex = level
	return nil
}

// SelectFrameUp moves towards the caller.
func (n *StackNavigator) SelectFrameUp() error {
	n.mu.RLock()
	if n.stack == nil {
		n.mu.RUnlock()
		return fmt.Errorf("no call stack")
	}
	current, bottom := n.stack.CurrentFrameIndex, n.stack.IsAtBottom()
	n.mu.RUnlock()

	if bottom {
		return fmt.Errorf("already at bottom of stack")
	}
	return n.SelectFrame(current + 1)
}

// SelectFrameDown moves towards the callee.
func (n *StackNavigator) SelectFrameDown() error {
	n.mu.RLock()
	if n.stack == nil {
		n.mu.RUnlock()
		return fmt.Errorf("no call stack")
	}
	current := n.stack.CurrentFrameIndex
	n.mu.RUnlock()

	if current <= 0 {
		return fmt.Errorf("already at top of stack")
	}
	return n.SelectFrame(current - 1)
}

// CurrentFrame returns the selected frame, or nil.
func (n *StackNavigator) CurrentFrame() *StackFrame {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stack.CurrentFrame()
}

// Clear drops the stack; call it when the session resumes.
func (n *StackNavigator) Clear() {
	n.mu.Lock()
	n.stack = nil
	n.mu.Unlock()
}

// FormatStackTrace renders the stack, marking the selected frame.
func (n *StackNavigator) FormatStackTrace() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.stack == nil {
		return ""
	}
	var b strings.Builder
	for i, frame := range n.stack.Frames {
		marker := "  "
		if i == n.stack.CurrentFrameIndex {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s#%d %s at %s\n", marker, i, frame.Where, frame.FormatLocation())
	}
	return b.String()
}
