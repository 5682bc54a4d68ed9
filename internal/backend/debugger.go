package backend

import (
	"bytes"
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"github.com/dshills/dbgp/internal/backend/lua"
	"github.com/dshills/dbgp/internal/backend/property"
	"github.com/dshills/dbgp/internal/dbgp"
)

// Evaluator evaluates expressions in the scope of a paused frame.
type Evaluator interface {
	// Eval evaluates one expression.
	Eval(globals, locals map[string]any, expr string) (any, error)
	// Exec runs console input, returning printed output and the names
	// it assigned.
	Exec(globals, locals map[string]any, code string) (output string, assigned map[string]any, err error)
	// IsIncomplete reports whether an Exec error means more input is
	// needed.
	IsIncomplete(err error) bool
}

// Options are the engine defaults advertised through feature_get.
type Options struct {
	Language        string
	LanguageVersion string
	SupportsThreads bool

	MaxChildren int
	MaxData     int
	MaxDepth    int
	ShowHidden  bool

	// Interactive enables the interact command.
	Interactive bool
	// BreakOnFirstCall stops at the first line of the first call traced.
	BreakOnFirstCall bool
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Language:        "go",
		LanguageVersion: runtime.Version(),
		SupportsThreads: true,
		MaxChildren:     property.DefaultMaxChildren,
		MaxData:         property.DefaultMaxData,
		MaxDepth:        property.DefaultMaxDepth,
	}
}

// Option configures a Debugger.
type Option func(*Debugger)

// WithOptions replaces the engine defaults.
func WithOptions(o Options) Option {
	return func(d *Debugger) {
		d.opts = o
	}
}

// WithFs sets the filesystem sources are read from.
func WithFs(fs afero.Fs) Option {
	return func(d *Debugger) {
		d.fs = fs
	}
}

// WithEvaluator replaces the Lua evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(d *Debugger) {
		d.eval = e
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(d *Debugger) {
		d.log = l
	}
}

// WithProfile turns the engine into a code profiling engine. Sessions
// announce type="code_profiling" and answer profile_data from source.
func WithProfile(source func() ([]byte, error)) Option {
	return func(d *Debugger) {
		d.profile = source
	}
}

// Debugger holds the process-wide debugging state shared by every
// Client: the breakpoint table, the filename cache and the evaluator.
type Debugger struct {
	mu sync.Mutex

	opts    Options
	fs      afero.Fs
	eval    Evaluator
	log     logr.Logger
	profile func() ([]byte, error)

	// byNumber orders breakpoints by id.
	byNumber *treemap.Map
	byLine   map[lineKey][]*Breakpoint
	byFile   map[string]int
	nextID   int

	canon map[string]string
}

// New creates a Debugger.
func New(opts ...Option) *Debugger {
	d := &Debugger{
		opts:     DefaultOptions(),
		fs:       afero.NewOsFs(),
		log:      logr.Discard(),
		byNumber: treemap.NewWithIntComparator(),
		byLine:   make(map[lineKey][]*Breakpoint),
		byFile:   make(map[string]int),
		canon:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.eval == nil {
		d.eval = lua.NewEvaluator()
	}
	return d
}

// Options returns the engine defaults.
func (d *Debugger) Options() Options {
	return d.opts
}

// SetBreakpoint validates and installs bp, assigning its id. File may be
// a path or a file:// URL.
func (d *Debugger) SetBreakpoint(bp Breakpoint) (Breakpoint, error) {
	if _, ok := ParseBreakpointType(string(bp.Type)); !ok {
		return Breakpoint{}, dbgp.Errorf(dbgp.ErrorBreakpointType, "breakpoint type %q is not supported", bp.Type)
	}
	if !validHitCondition(bp.HitCondition) {
		return Breakpoint{}, dbgp.Errorf(dbgp.ErrorBreakpointInvalid, "invalid hit condition %q", bp.HitCondition)
	}
	switch bp.Type {
	case BreakpointConditional, BreakpointWatch:
		if bp.Expression == "" {
			return Breakpoint{}, dbgp.Errorf(dbgp.ErrorBreakpointInvalid, "%s breakpoint without expression", bp.Type)
		}
	case BreakpointCall, BreakpointReturn:
		if bp.Function == "" {
			return Breakpoint{}, dbgp.Errorf(dbgp.ErrorBreakpointInvalid, "%s breakpoint without function", bp.Type)
		}
	case BreakpointException:
		if bp.Exception == "" {
			return Breakpoint{}, dbgp.Errorf(dbgp.ErrorBreakpointInvalid, "exception breakpoint without exception name")
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	bp.File = d.canonic(dbgp.URIToPath(bp.File))
	if bp.Type == BreakpointLine && bp.File == "" {
		return Breakpoint{}, dbgp.Errorf(dbgp.ErrorBreakpointInvalid, "line breakpoint without file")
	}
	if err := d.validateLine(bp.File, bp.Line); err != nil {
		return Breakpoint{}, err
	}

	d.nextID++
	bp.ID = d.nextID
	bp.Hits = 0
	bp.lastValue = nil
	installed := bp
	d.insert(&installed)
	d.log.V(1).Info("breakpoint set", "id", bp.ID, "type", bp.Type, "file", bp.File, "line", bp.Line)
	return installed, nil
}

// validateLine checks that line exists in file. The caller holds d.mu.
func (d *Debugger) validateLine(file string, line int) error {
	if file == "" || line <= 0 || dbgp.IsPseudoFile(file) {
		return nil
	}
	data, err := afero.ReadFile(d.fs, file)
	if err != nil {
		return dbgp.Errorf(dbgp.ErrorBreakpointInvalidLine, "line %s:%d does not exist: %v", file, line, err)
	}
	n := bytes.Count(data, []byte("\n"))
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	if line > n {
		return dbgp.Errorf(dbgp.ErrorBreakpointInvalidLine, "line %s:%d does not exist", file, line)
	}
	return nil
}

func (d *Debugger) insert(bp *Breakpoint) {
	d.byNumber.Put(bp.ID, bp)
	key := lineKey{bp.File, bp.Line}
	d.byLine[key] = append(d.byLine[key], bp)
	d.byFile[bp.File]++
}

func (d *Debugger) remove(bp *Breakpoint) {
	d.byNumber.Remove(bp.ID)
	key := lineKey{bp.File, bp.Line}
	d.byLine[key] = slices.DeleteFunc(d.byLine[key], func(b *Breakpoint) bool { return b == bp })
	if len(d.byLine[key]) == 0 {
		delete(d.byLine, key)
	}
	if d.byFile[bp.File]--; d.byFile[bp.File] <= 0 {
		delete(d.byFile, bp.File)
	}
}

// lookup returns the live breakpoint. The caller holds d.mu.
func (d *Debugger) lookup(id int) (*Breakpoint, error) {
	v, ok := d.byNumber.Get(id)
	if !ok {
		return nil, dbgp.Errorf(dbgp.ErrorBreakpointDoesNotExist, "breakpoint number (%d) out of range", id)
	}
	return v.(*Breakpoint), nil
}

// Breakpoint returns a copy of the breakpoint with the given id.
func (d *Debugger) Breakpoint(id int) (Breakpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bp, err := d.lookup(id)
	if err != nil {
		return Breakpoint{}, err
	}
	return *bp, nil
}

// Breakpoints returns copies of every breakpoint in id order.
func (d *Debugger) Breakpoints() []Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Breakpoint, 0, d.byNumber.Size())
	for _, v := range d.byNumber.Values() {
		out = append(out, *v.(*Breakpoint))
	}
	return out
}

// BreakpointUpdate lists the attributes breakpoint_update may change.
// Nil fields are left alone.
type BreakpointUpdate struct {
	Enabled      *bool
	Line         *int
	HitValue     *int
	HitCondition *string
	Temporary    *bool
}

// UpdateBreakpoint changes a breakpoint in place, keeping its id.
func (d *Debugger) UpdateBreakpoint(id int, u BreakpointUpdate) (Breakpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bp, err := d.lookup(id)
	if err != nil {
		return Breakpoint{}, err
	}
	if u.HitCondition != nil && !validHitCondition(*u.HitCondition) {
		return Breakpoint{}, dbgp.Errorf(dbgp.ErrorBreakpointInvalid, "invalid hit condition %q", *u.HitCondition)
	}
	if u.Line != nil && *u.Line != bp.Line {
		if err := d.validateLine(bp.File, *u.Line); err != nil {
			return Breakpoint{}, err
		}
		d.remove(bp)
		bp.Line = *u.Line
		d.insert(bp)
	}
	if u.Enabled != nil {
		bp.Enabled = *u.Enabled
	}
	if u.HitValue != nil {
		bp.HitValue = *u.HitValue
	}
	if u.HitCondition != nil {
		bp.HitCondition = *u.HitCondition
	}
	if u.Temporary != nil {
		bp.Temporary = *u.Temporary
	}
	return *bp, nil
}

// RemoveBreakpoint deletes a breakpoint.
func (d *Debugger) RemoveBreakpoint(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bp, err := d.lookup(id)
	if err != nil {
		return err
	}
	d.remove(bp)
	return nil
}

// breakHere finds the breakpoint that fires for ev in frame, if any. A
// temporary breakpoint that fires cleanly is removed.
func (d *Debugger) breakHere(ev Event, frame Frame, arg any) (Breakpoint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	file := d.canonic(frame.Filename())
	if d.byFile[file] == 0 && d.byFile[""] == 0 {
		return Breakpoint{}, false
	}

	bp, okToDelete := d.effective(ev, file, frame, arg)
	if bp == nil {
		return Breakpoint{}, false
	}
	if okToDelete && bp.Temporary {
		d.remove(bp)
		d.log.V(1).Info("temporary breakpoint removed", "id", bp.ID)
	}
	return *bp, true
}

// effective picks the first enabled candidate at file:line that
// survives its condition and hit count. okToDelete is false when a
// condition failed to evaluate and the stop happened anyway.
func (d *Debugger) effective(ev Event, file string, frame Frame, arg any) (bp *Breakpoint, okToDelete bool) {
	line := frame.Line()
	keys := []lineKey{{file, line}, {file, 0}, {"", 0}}
	if line == 0 {
		keys = keys[1:]
	}
	if file == "" {
		keys = keys[len(keys)-1:]
	}

	var candidates []*Breakpoint
	for _, k := range keys {
		candidates = append(candidates, d.byLine[k]...)
	}

	for _, b := range candidates {
		if !b.Enabled || !b.Type.firesOn(ev) {
			continue
		}

		switch b.Type {
		case BreakpointConditional:
			v, err := d.evaluate(frame, b.Expression)
			if err != nil {
				d.log.V(1).Info("breakpoint condition failed", "id", b.ID, "error", err.Error())
				return b, false
			}
			if !truthy(v) {
				continue
			}
		case BreakpointWatch:
			v, err := d.evaluate(frame, b.Expression)
			if err != nil {
				continue
			}
			if reflect.DeepEqual(v, b.lastValue) {
				continue
			}
			b.lastValue = v
		case BreakpointCall, BreakpointReturn:
			if b.Function != frame.Function() {
				continue
			}
		case BreakpointException:
			if !slices.Contains(exceptionNames(arg), b.Exception) {
				continue
			}
		}

		if !b.passesHitCondition() {
			continue
		}
		return b, true
	}
	return nil, false
}

// evaluate runs expr against frame's scopes. frame may be nil.
func (d *Debugger) evaluate(frame Frame, expr string) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panicked: %v", r)
		}
	}()
	var globals, locals map[string]any
	if frame != nil {
		globals, locals = frame.Globals(), frame.Locals()
	}
	return d.eval.Eval(globals, locals, expr)
}

// truthy applies Lua truthiness: only nil and false are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	return true
}
