package backend

import (
	"github.com/dshills/dbgp/internal/dbgp"
)

// BreakpointType is the DBGP breakpoint kind.
type BreakpointType string

// Breakpoint types.
const (
	BreakpointLine        BreakpointType = "line"
	BreakpointConditional BreakpointType = "conditional"
	BreakpointWatch       BreakpointType = "watch"
	BreakpointCall        BreakpointType = "call"
	BreakpointReturn      BreakpointType = "return"
	BreakpointException   BreakpointType = "exception"
)

// ParseBreakpointType validates a type name.
func ParseBreakpointType(name string) (BreakpointType, bool) {
	switch t := BreakpointType(name); t {
	case BreakpointLine, BreakpointConditional, BreakpointWatch,
		BreakpointCall, BreakpointReturn, BreakpointException:
		return t, true
	}
	return "", false
}

// firesOn reports whether the type is considered for an event.
func (t BreakpointType) firesOn(ev Event) bool {
	switch ev {
	case EventLine:
		return t == BreakpointLine || t == BreakpointConditional || t == BreakpointWatch
	case EventCall:
		return t == BreakpointCall
	case EventReturn:
		return t == BreakpointReturn
	case EventException:
		return t == BreakpointException
	}
	return false
}

// Hit conditions.
const (
	HitGreaterOrEqual = ">="
	HitEqual          = "=="
	HitMultiple       = "%"
)

// Breakpoint is an engine-side breakpoint.
type Breakpoint struct {
	ID   int
	Type BreakpointType

	// File is the canonical path; empty for breakpoints that apply
	// everywhere (call, return, exception without a file).
	File string
	Line int

	Function   string
	Exception  string
	Expression string

	Enabled   bool
	Temporary bool

	HitValue     int
	HitCondition string
	Hits         int

	lastValue any
}

// State renders the enabled flag as DBGP state.
func (bp *Breakpoint) State() string {
	if bp.Enabled {
		return "enabled"
	}
	return "disabled"
}

// Element renders the breakpoint for breakpoint_get and breakpoint_list.
func (bp *Breakpoint) Element() *dbgp.Element {
	el := dbgp.NewElement("breakpoint").
		AttrInt("id", bp.ID).
		Attr("type", string(bp.Type)).
		Attr("filename", dbgp.FileURI(bp.File)).
		AttrInt("lineno", bp.Line).
		Attr("state", bp.State()).
		AttrBool("temporary", bp.Temporary).
		AttrInt("hit_count", bp.Hits)
	if bp.HitValue != 0 {
		el.AttrInt("hit_value", bp.HitValue)
	}
	if bp.HitCondition != "" {
		el.Attr("hit_condition", bp.HitCondition)
	}
	if bp.Function != "" {
		el.Attr("function", bp.Function)
	}
	if bp.Exception != "" {
		el.Attr("exception", bp.Exception)
	}
	if bp.Expression != "" {
		payload, _ := dbgp.EncodeText(bp.Expression, "none")
		el.Child(dbgp.NewElement("expression").CDATA(payload))
	}
	return el
}

// passesHitCondition increments the hit count and applies the hit
// condition. A hit value without a condition means ">=".
func (bp *Breakpoint) passesHitCondition() bool {
	bp.Hits++
	if bp.HitValue == 0 {
		return true
	}
	switch bp.HitCondition {
	case HitEqual:
		return bp.Hits == bp.HitValue
	case HitMultiple:
		return bp.Hits%bp.HitValue == 0
	default:
		return bp.Hits >= bp.HitValue
	}
}

// validHitCondition accepts the three DBGP operators and empty.
func validHitCondition(c string) bool {
	switch c {
	case "", HitGreaterOrEqual, HitEqual, HitMultiple:
		return true
	}
	return false
}

// lineKey indexes breakpoints by position.
type lineKey struct {
	file string
	line int
}
