package backend

import (
	"errors"
	"reflect"
	"strings"
)

// Event is an execution event reported by the host through Client.Trace.
type Event int

const (
	// EventLine fires before a new source line executes.
	EventLine Event = iota
	// EventCall fires when a function is entered. The frame is the callee.
	EventCall
	// EventReturn fires when a function is about to return.
	EventReturn
	// EventException fires when an exception (panic or error) is raised.
	// The Trace argument describes it.
	EventException
)

func (e Event) String() string {
	switch e {
	case EventLine:
		return "line"
	case EventCall:
		return "call"
	case EventReturn:
		return "return"
	case EventException:
		return "exception"
	}
	return "unknown"
}

// Frame is one activation record of the debugged program. Frames are
// compared by identity, so implementations must be pointer-shaped and
// stable for the lifetime of the activation.
type Frame interface {
	// Parent returns the calling frame, or nil at the outermost frame.
	Parent() Frame
	// Filename is the source file of the frame. Pseudo files such as
	// "<eval>" are written in angle brackets.
	Filename() string
	// Line is the current line, 1-based. Zero means unknown.
	Line() int
	// Function is the name of the executing function.
	Function() string
	// Locals returns the local variables by name.
	Locals() map[string]any
	// Globals returns the variables visible at package scope. Stores
	// into the map are assignments.
	Globals() map[string]any
	// SetLocal assigns a local variable.
	SetLocal(name string, value any) error
	// Hidden frames never stop and never show up in stacks.
	Hidden() bool
	// HideChildren hides every frame called from this one.
	HideChildren() bool
}

// isNil reports whether f is nil, including a typed nil pointer.
func isNil(f Frame) bool {
	if f == nil {
		return true
	}
	v := reflect.ValueOf(f)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// parentOf returns f's parent with typed nils normalized.
func parentOf(f Frame) Frame {
	p := f.Parent()
	if isNil(p) {
		return nil
	}
	return p
}

// Exception describes the argument of an EventException. Chain lists the
// names the exception matches, most specific first.
type Exception struct {
	Name    string
	Chain   []string
	Message string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// exceptionNames lists every name an exception argument answers to. An
// *Exception contributes its name and chain; a plain error contributes
// the dynamic type of each error in its wrap chain.
func exceptionNames(arg any) []string {
	var names []string
	switch x := arg.(type) {
	case *Exception:
		names = append(names, x.Name)
		names = append(names, x.Chain...)
	case error:
		for err := x; err != nil; err = errors.Unwrap(err) {
			names = append(names, typeName(err))
		}
	case string:
		names = append(names, x)
	}
	return names
}

// typeName renders a dynamic type without pointer marks, "*fs.PathError"
// becoming "fs.PathError".
func typeName(v any) string {
	return strings.TrimLeft(reflect.TypeOf(v).String(), "*")
}
