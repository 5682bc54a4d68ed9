package backend

import (
	"github.com/dshills/dbgp/internal/dbgp"
)

func parseState(s string) (bool, error) {
	switch s {
	case "enabled":
		return true, nil
	case "disabled":
		return false, nil
	}
	return false, dbgp.Errorf(dbgp.ErrorBreakpointState, "invalid breakpoint state %q", s)
}

func cmdBreakpointSet(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	typ, ok := ParseBreakpointType(args.String('t'))
	if !ok {
		return dbgp.Errorf(dbgp.ErrorBreakpointType, "breakpoint type %q is not supported", args.String('t'))
	}
	enabled, err := parseState(args.String('s'))
	if err != nil {
		return err
	}
	expr, err := decodeData(args)
	if err != nil {
		return err
	}

	bp := Breakpoint{
		Type:         typ,
		File:         args.String('f'),
		Line:         args.Int('n'),
		Function:     args.String('m'),
		Exception:    args.String('x'),
		Expression:   expr,
		Enabled:      enabled,
		Temporary:    args.Int('r') != 0,
		HitValue:     args.Int('h'),
		HitCondition: args.String('o'),
	}
	if typ == BreakpointLine {
		if bp.File == "" && c.current != nil {
			bp.File = c.current.Filename()
		}
		if bp.Line <= 0 {
			return dbgp.Errorf(dbgp.ErrorBreakpointInvalid, "line breakpoint without line number")
		}
	}

	installed, err := c.dbg.SetBreakpoint(bp)
	if err != nil {
		return err
	}
	resp.AttrInt("id", installed.ID).Attr("state", installed.State())
	return nil
}

func cmdBreakpointGet(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	bp, err := c.dbg.Breakpoint(args.Int('d'))
	if err != nil {
		return err
	}
	resp.Child(bp.Element())
	return nil
}

func cmdBreakpointUpdate(c *Client, args *dbgp.Args, _ *dbgp.Element) error {
	var u BreakpointUpdate
	if args.Has('s') {
		enabled, err := parseState(args.String('s'))
		if err != nil {
			return err
		}
		u.Enabled = &enabled
	}
	if args.Has('n') {
		line := args.Int('n')
		u.Line = &line
	}
	if args.Has('h') {
		v := args.Int('h')
		u.HitValue = &v
	}
	if args.Has('o') {
		cond := args.String('o')
		u.HitCondition = &cond
	}
	if args.Has('r') {
		temp := args.Int('r') != 0
		u.Temporary = &temp
	}
	_, err := c.dbg.UpdateBreakpoint(args.Int('d'), u)
	return err
}

func setEnabled(c *Client, args *dbgp.Args, resp *dbgp.Element, enabled bool) error {
	bp, err := c.dbg.UpdateBreakpoint(args.Int('d'), BreakpointUpdate{Enabled: &enabled})
	if err != nil {
		return err
	}
	resp.AttrInt("id", bp.ID).Attr("state", bp.State())
	return nil
}

func cmdBreakpointEnable(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	return setEnabled(c, args, resp, true)
}

func cmdBreakpointDisable(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	return setEnabled(c, args, resp, false)
}

func cmdBreakpointRemove(c *Client, args *dbgp.Args, _ *dbgp.Element) error {
	return c.dbg.RemoveBreakpoint(args.Int('d'))
}

func cmdBreakpointList(c *Client, _ *dbgp.Args, resp *dbgp.Element) error {
	for _, bp := range c.dbg.Breakpoints() {
		resp.Child(bp.Element())
	}
	return nil
}
