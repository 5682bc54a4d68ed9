package backend

import (
	"bytes"
	"encoding/base64"
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/dshills/dbgp/internal/backend/property"
	"github.com/dshills/dbgp/internal/dbgp"
)

// Context ids.
const (
	ContextLocals  = 0
	ContextGlobals = 1
)

var contextNames = []string{ContextLocals: "Locals", ContextGlobals: "Globals"}

// frameAt returns the visible frame at depth. Outside a break there are
// no frames and only depth 0 is valid; it yields nil.
func (c *Client) frameAt(depth int) (Frame, error) {
	if depth < 0 || (depth > 0 && depth >= len(c.stack)) {
		return nil, dbgp.Errorf(dbgp.ErrorStackDepth, "stack depth %d is invalid", depth)
	}
	if len(c.stack) == 0 {
		return nil, nil
	}
	return c.stack[depth], nil
}

// scope returns the variables of a context at depth.
func (c *Client) scope(depth, context int) (map[string]any, error) {
	frame, err := c.frameAt(depth)
	if err != nil {
		return nil, err
	}
	switch context {
	case ContextLocals:
		if frame == nil {
			return c.shellLocals, nil
		}
		return frame.Locals(), nil
	case ContextGlobals:
		if frame == nil {
			return c.shellGlobals, nil
		}
		return frame.Globals(), nil
	}
	return nil, dbgp.Errorf(dbgp.ErrorContextInvalid, "context %d is invalid", context)
}

// scopes returns the globals and locals of the frame at depth.
func (c *Client) scopes(depth int) (globals, locals map[string]any, err error) {
	frame, err := c.frameAt(depth)
	if err != nil {
		return nil, nil, err
	}
	if frame == nil {
		return c.shellGlobals, c.shellLocals, nil
	}
	return frame.Globals(), frame.Locals(), nil
}

func (c *Client) stackElement(level int, f Frame) *dbgp.Element {
	file := c.dbg.Canonic(f.Filename())
	typ := "file"
	if dbgp.IsPseudoFile(file) {
		typ = file[1 : len(file)-1]
	}
	return dbgp.NewElement("stack").
		AttrInt("level", level).
		Attr("type", typ).
		Attr("filename", dbgp.FileURI(file)).
		AttrInt("lineno", f.Line()).
		Attr("where", f.Function())
}

func cmdStackDepth(c *Client, _ *dbgp.Args, resp *dbgp.Element) error {
	resp.AttrInt("depth", len(c.stack))
	return nil
}

func cmdStackGet(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	if args.Has('d') {
		depth := args.Int('d')
		if depth < 0 || depth >= len(c.stack) {
			return dbgp.Errorf(dbgp.ErrorStackDepth, "stack depth %d is invalid", depth)
		}
		resp.AttrInt("depth", depth).Child(c.stackElement(depth, c.stack[depth]))
		return nil
	}
	resp.AttrInt("depth", len(c.stack))
	for i, f := range c.stack {
		resp.Child(c.stackElement(i, f))
	}
	return nil
}

func cmdContextNames(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	if _, err := c.frameAt(args.Int('d')); err != nil {
		return err
	}
	for id, name := range contextNames {
		resp.Child(dbgp.NewElement("context").Attr("name", name).AttrInt("id", id))
	}
	return nil
}

func cmdContextGet(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	context := args.Int('c')
	vars, err := c.scope(args.Int('d'), context)
	if err != nil {
		return err
	}
	opts := c.propertyOptions()
	resp.AttrInt("context", context)
	for _, name := range slices.Sorted(maps.Keys(vars)) {
		resp.Child(property.New(name, name, vars[name], opts).Element(0, 0))
	}
	return nil
}

// lookupProperty finds a property by name: first as a path into the
// context, then as an expression.
func (c *Client) lookupProperty(args *dbgp.Args) (*property.Property, error) {
	depth, context := args.Int('d'), args.Int('c')
	vars, err := c.scope(depth, context)
	if err != nil {
		return nil, err
	}
	opts := c.propertyOptions()
	if args.Has('m') {
		opts.MaxData = args.Int('m')
	}

	name := args.String('n')
	if v, rerr := property.Resolve(vars, name); rerr == nil {
		return property.NewValue(name, name, v, opts), nil
	}

	globals, locals, _ := c.scopes(depth)
	v, err := c.eval(globals, locals, name)
	if err != nil {
		return nil, dbgp.Errorf(dbgp.ErrorPropertyDoesNotExist, "property %s does not exist: %v", name, err)
	}
	if v == nil {
		return nil, dbgp.Errorf(dbgp.ErrorPropertyDoesNotExist, "property %s does not exist", name)
	}
	return property.New(name, name, v, opts), nil
}

// eval runs the evaluator, recovering from panics in host values.
func (c *Client) eval(globals, locals map[string]any, expr string) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = dbgp.Errorf(dbgp.ErrorEvalFailed, "evaluation panicked: %v", r)
		}
	}()
	return c.dbg.eval.Eval(globals, locals, expr)
}

func cmdPropertyGet(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	p, err := c.lookupProperty(args)
	if err != nil {
		return err
	}
	opts := c.propertyOptions()
	resp.AttrInt("context", args.Int('c'))
	resp.Child(p.Element(opts.MaxDepth, args.Int('p')))
	return nil
}

func cmdPropertyValue(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	p, err := c.lookupProperty(args)
	if err != nil {
		return err
	}
	maxData := c.propertyOptions().MaxData
	if args.Has('m') {
		maxData = args.Int('m')
	}
	payload, encoding := p.EncodedValue(maxData)
	resp.AttrInt("size", p.Size())
	if encoding != "" {
		resp.Attr("encoding", encoding)
	}
	resp.CDATA(payload)
	return nil
}

func cmdPropertySet(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	depth, context := args.Int('d'), args.Int('c')
	name := args.String('n')
	data, err := decodeData(args)
	if err != nil {
		return err
	}

	var value any = data
	if args.String('t') != "string" {
		globals, locals, err := c.scopes(depth)
		if err != nil {
			return err
		}
		value, err = c.eval(globals, locals, data)
		if err != nil {
			return dbgp.Errorf(dbgp.ErrorEvalFailed, "can not evaluate %q: %v", data, err)
		}
	}

	if err := c.assign(depth, context, name, value); err != nil {
		return dbgp.Errorf(dbgp.ErrorInvalidExpression, "can not assign %s: %v", name, err)
	}
	resp.Attr("success", "1")
	return nil
}

// assign stores value at name, a variable or a path below one.
func (c *Client) assign(depth, context int, name string, value any) error {
	root, steps, err := property.ParsePath(name)
	if err != nil {
		return err
	}
	vars, err := c.scope(depth, context)
	if err != nil {
		return err
	}
	if len(steps) > 0 {
		return property.Assign(vars, name, value)
	}

	frame, _ := c.frameAt(depth)
	if frame == nil {
		vars[root] = value
		return nil
	}
	if _, local := frame.Locals()[root]; context == ContextLocals && local {
		return frame.SetLocal(root, value)
	}
	globals := frame.Globals()
	if globals == nil {
		return errors.New("frame has no global scope")
	}
	globals[root] = value
	return nil
}

func cmdEval(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	expr, err := decodeData(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(expr) == "" {
		return dbgp.Errorf(dbgp.ErrorInvalidArgs, "eval needs an expression")
	}
	globals, locals, err := c.scopes(0)
	if err != nil {
		return err
	}
	v, err := c.eval(globals, locals, expr)
	if err != nil {
		return dbgp.Errorf(dbgp.ErrorEvalFailed, "%v", err)
	}
	opts := c.propertyOptions()
	resp.Child(property.New(expr, expr, v, opts).Element(opts.MaxDepth, args.Int('p')))
	return nil
}

func cmdSource(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	file := args.String('f')
	if file == "" && c.current != nil {
		file = c.current.Filename()
	}
	file = c.dbg.Canonic(file)
	if file == "" || dbgp.IsPseudoFile(file) {
		return dbgp.Errorf(dbgp.ErrorFileAccess, "no source for %q", file)
	}

	data, err := afero.ReadFile(c.dbg.fs, file)
	if err != nil {
		return dbgp.Errorf(dbgp.ErrorFileAccess, "can not open %s: %v", file, err)
	}
	data, err = c.toUTF8(data)
	if err != nil {
		return err
	}

	begin, end := args.Int('b'), args.Int('e')
	if begin > 0 || end > 0 {
		lines := bytes.SplitAfter(data, []byte("\n"))
		if begin < 1 {
			begin = 1
		}
		if end <= 0 || end > len(lines) {
			end = len(lines)
		}
		if begin > end {
			return dbgp.Errorf(dbgp.ErrorFileAccess, "lines %d-%d are outside %s", begin, end, file)
		}
		data = bytes.Join(lines[begin-1:end], nil)
	}

	resp.Attr("success", "1").Attr("encoding", "base64").
		CDATA(base64.StdEncoding.EncodeToString(data))
	return nil
}

// toUTF8 transcodes source text from the negotiated encoding.
func (c *Client) toUTF8(data []byte) ([]byte, error) {
	c.mu.Lock()
	name := c.feat.encoding
	c.mu.Unlock()
	if strings.EqualFold(name, "utf-8") || name == "" {
		return data, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, dbgp.Errorf(dbgp.ErrorEncoding, "encoding %q is not supported", name)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, dbgp.Errorf(dbgp.ErrorEncoding, "can not decode source as %s: %v", name, err)
	}
	return out, nil
}

func cmdTypemapGet(_ *Client, _ *dbgp.Args, resp *dbgp.Element) error {
	resp.Attr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance").
		Attr("xmlns:xsd", "http://www.w3.org/2001/XMLSchema")
	for _, m := range property.TypeMap() {
		el := dbgp.NewElement("map").Attr("type", m.Type).Attr("name", m.Name)
		if m.XSIType != "" {
			el.Attr("xsi:type", m.XSIType)
		}
		resp.Child(el)
	}
	return nil
}
