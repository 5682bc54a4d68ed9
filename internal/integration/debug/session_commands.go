package debug

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/dbgp/internal/dbgp"
)

// noAsync refuses commands that need a suspended engine.
func (s *Session) noAsync(cmd string) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.resumed != "" {
		return fmt.Errorf("%s while %s is pending: %w", cmd, s.resumed, ErrNotAvailable)
	}
	return nil
}

// async refuses commands sent to a running engine that cannot take them.
func (s *Session) async(cmd string) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.resumed != "" && !s.features.SupportsAsync {
		return fmt.Errorf("%s: %w", cmd, ErrNotSupported)
	}
	return nil
}

// Initialize negotiates features with the engine and loads its type map.
// Unsupported features are recorded, never fatal.
func (s *Session) Initialize(ctx context.Context) error {
	f := Features{commands: make(map[string]bool)}

	get := func(name string) (string, bool) {
		v, ok, err := s.FeatureGet(ctx, name)
		if err != nil {
			s.log.V(1).Info("feature unavailable", "feature", name, "err", err.Error())
			return "", false
		}
		return v, ok
	}
	atoi := func(name string) int {
		v, _ := get(name)
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}

	v, _ := get("supports_async")
	f.SupportsAsync = v == "1"
	f.LanguageName, _ = get("language_name")
	f.LanguageVersion, _ = get("language_version")
	f.MaxChildren = atoi("max_children")
	f.MaxData = atoi("max_data")
	f.MaxDepth = atoi("max_depth")
	_, f.SupportsHidden = get("show_hidden")
	v, _ = get("supports_postmortem")
	f.SupportsPostmortem = v == "1"

	if s.isClosed() {
		return ErrSessionClosed
	}
	for _, name := range []string{"multiple_sessions", "notify_ok"} {
		if err := s.FeatureSet(ctx, name, "1"); err != nil {
			s.log.V(1).Info("feature_set refused", "feature", name, "err", err.Error())
		}
	}
	for _, cmd := range []string{"break", "eval", "stdin", "detach", "interact", "urimap"} {
		_, f.commands[cmd] = get(cmd)
	}

	if langs, ok := get("breakpoint_languages"); ok && strings.TrimSpace(langs) != "" {
		for _, l := range strings.Split(langs, ",") {
			if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
				f.BreakpointLanguages = append(f.BreakpointLanguages, l)
			}
		}
	} else if lang := firstNonEmpty(f.LanguageName, s.info.Language); lang != "" {
		f.BreakpointLanguages = []string{strings.ToLower(lang)}
	}

	s.stateMu.Lock()
	s.features = f
	s.stateMu.Unlock()

	if tm, err := s.TypemapGet(ctx); err != nil {
		s.reportError("typemap_get", err)
	} else {
		s.stateMu.Lock()
		s.typemap = tm
		s.stateMu.Unlock()
	}

	if f.Supports("urimap") {
		for _, m := range s.cfg.PathMap.Mappings() {
			mapping := dbgp.FileURI(m.Remote) + "=" + dbgp.FileURI(m.Local)
			if err := s.FeatureSet(ctx, "urimap", mapping); err != nil {
				s.log.V(1).Info("urimap refused", "map", mapping, "err", err.Error())
			}
		}
	}

	if s.isClosed() {
		return ErrSessionClosed
	}
	s.log.Info("features negotiated", "async", f.SupportsAsync, "language", f.LanguageName,
		"breakpoint_languages", f.BreakpointLanguages)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// FeatureGet reads a feature. Supported is false when the engine does
// not know the name.
func (s *Session) FeatureGet(ctx context.Context, name string) (value string, supported bool, err error) {
	if err := s.async("feature_get"); err != nil {
		return "", false, err
	}
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("feature_get").With('n', name))
	if err != nil {
		return "", false, err
	}
	if !n.AttrBool("supported") {
		return "", false, nil
	}
	return n.StringValue(), true, nil
}

// FeatureSet changes a feature.
func (s *Session) FeatureSet(ctx context.Context, name, value string) error {
	if err := s.async("feature_set"); err != nil {
		return err
	}
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("feature_set").With('n', name).With('v', value))
	if err != nil {
		return err
	}
	if !n.AttrBool("success") {
		return fmt.Errorf("feature_set %s: %w", name, ErrNotSupported)
	}
	return nil
}

// UpdateStatus asks the engine for its status.
func (s *Session) UpdateStatus(ctx context.Context) (dbgp.Status, error) {
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("status"))
	if err != nil {
		return s.Status(), err
	}
	status, ok := dbgp.ParseStatus(n.Attr("status"))
	if !ok {
		return s.Status(), nil
	}
	reason, _ := dbgp.ParseReason(n.Attr("reason"))
	s.setStatus(status, reason)
	return status, nil
}

// Resume flushes queued breakpoint changes and sends a continuation
// command. The response arrives at the next stop and triggers OnBreak.
func (s *Session) Resume(ctx context.Context, action ResumeAction) error {
	s.stateMu.Lock()
	if s.resumed != "" {
		s.stateMu.Unlock()
		return fmt.Errorf("%s: %w", action, ErrAlreadyResumed)
	}
	s.resumed = action.String()
	u := s.sync
	s.stateMu.Unlock()

	if u != nil {
		if err := u.SendUpdates(ctx, s); err != nil {
			s.reportError("breakpoint sync", err)
		}
	}

	s.setStatus(dbgp.StatusRunning, dbgp.ReasonOK)
	if _, err := s.send(dbgp.NewCommand(action.String()), false); err != nil {
		s.stateMu.Lock()
		s.resumed = ""
		s.stateMu.Unlock()
		return err
	}
	return nil
}

// Resumed returns the continuation command in flight, or "".
func (s *Session) Resumed() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.resumed
}

// Break interrupts a running engine.
func (s *Session) Break(ctx context.Context) error {
	if !s.Features().SupportsAsync {
		return fmt.Errorf("break: %w", ErrNotSupported)
	}
	_, err := s.sendAndWait(ctx, dbgp.NewCommand("break"))
	return err
}

// Stop ends the program and the session.
func (s *Session) Stop(ctx context.Context) error {
	return s.finish(ctx, dbgp.CmdStop)
}

// Detach lets the program run on without the debugger.
func (s *Session) Detach(ctx context.Context) error {
	if !s.Features().Supports(dbgp.CmdDetach) {
		return fmt.Errorf("detach: %w", ErrNotSupported)
	}
	return s.finish(ctx, dbgp.CmdDetach)
}

// finish sends stop or detach, waits briefly for the engine to answer
// and closes the socket either way.
func (s *Session) finish(ctx context.Context, cmd string) error {
	if s.isClosed() {
		return nil
	}
	if _, err := s.send(dbgp.NewCommand(cmd), false); err != nil {
		return err
	}

	timer := time.NewTimer(s.cfg.ResponseTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		s.log.V(1).Info("no answer, closing", "command", cmd)
	case <-ctx.Done():
	}
	return s.Close()
}

// BreakpointSet installs bp and returns the engine's id for it.
func (s *Session) BreakpointSet(ctx context.Context, bp *Breakpoint) (string, error) {
	return s.pointSet(ctx, "breakpoint_set", bp)
}

// BreakpointUpdate sends the updatable attrs of bp.
func (s *Session) BreakpointUpdate(ctx context.Context, id string, bp *Breakpoint, attrs []string) error {
	return s.pointUpdate(ctx, "breakpoint_update", id, bp, attrs)
}

// BreakpointRemove removes an engine breakpoint.
func (s *Session) BreakpointRemove(ctx context.Context, id string) error {
	return s.pointRemove(ctx, "breakpoint_remove", id)
}

// SpawnpointSet installs a spawnpoint.
func (s *Session) SpawnpointSet(ctx context.Context, bp *Breakpoint) (string, error) {
	return s.pointSet(ctx, "spawnpoint_set", bp)
}

// SpawnpointUpdate sends the updatable attrs of a spawnpoint.
func (s *Session) SpawnpointUpdate(ctx context.Context, id string, bp *Breakpoint, attrs []string) error {
	return s.pointUpdate(ctx, "spawnpoint_update", id, bp, attrs)
}

// SpawnpointRemove removes an engine spawnpoint.
func (s *Session) SpawnpointRemove(ctx context.Context, id string) error {
	return s.pointRemove(ctx, "spawnpoint_remove", id)
}

func (s *Session) pointSet(ctx context.Context, name string, bp *Breakpoint) (string, error) {
	if err := s.async(name); err != nil {
		return "", err
	}
	n, err := s.sendAndWait(ctx, bp.setCommand(name, s.cfg.PathMap))
	if err != nil {
		return "", err
	}
	return n.Attr("id"), nil
}

func (s *Session) pointUpdate(ctx context.Context, name, id string, bp *Breakpoint, attrs []string) error {
	if err := s.async(name); err != nil {
		return err
	}
	_, err := s.sendAndWait(ctx, bp.updateCommand(name, id, attrs))
	return err
}

func (s *Session) pointRemove(ctx context.Context, name, id string) error {
	if err := s.async(name); err != nil {
		return err
	}
	_, err := s.sendAndWait(ctx, dbgp.NewCommand(name).With('d', id))
	return err
}

// EngineBreakpoint is a breakpoint as the engine reports it.
type EngineBreakpoint struct {
	ID           string
	Type         string
	State        string
	Filename     string
	Line         int
	Function     string
	Exception    string
	Expression   string
	Temporary    bool
	HitCount     int
	HitValue     int
	HitCondition string
}

func parseEngineBreakpoint(n *dbgp.Node, pm *PathMap) EngineBreakpoint {
	bp := EngineBreakpoint{
		ID:           n.Attr("id"),
		Type:         n.Attr("type"),
		State:        n.Attr("state"),
		Filename:     pm.LocalPath(n.Attr("filename")),
		Line:         n.AttrInt("lineno"),
		Function:     n.Attr("function"),
		Exception:    n.Attr("exception"),
		Temporary:    n.AttrBool("temporary"),
		HitCount:     n.AttrInt("hit_count"),
		HitValue:     n.AttrInt("hit_value"),
		HitCondition: n.Attr("hit_condition"),
	}
	if e := n.Child("expression"); e != nil {
		bp.Expression = e.StringValue()
	}
	return bp
}

// BreakpointList lists the engine's breakpoints.
func (s *Session) BreakpointList(ctx context.Context) ([]EngineBreakpoint, error) {
	if err := s.async("breakpoint_list"); err != nil {
		return nil, err
	}
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("breakpoint_list"))
	if err != nil {
		return nil, err
	}
	var out []EngineBreakpoint
	for _, c := range n.ChildrenNamed("breakpoint") {
		out = append(out, parseEngineBreakpoint(c, s.cfg.PathMap))
	}
	return out, nil
}

// StackDepth returns the number of frames.
func (s *Session) StackDepth(ctx context.Context) (int, error) {
	if err := s.noAsync("stack_depth"); err != nil {
		return 0, err
	}
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("stack_depth"))
	if err != nil {
		return 0, err
	}
	return n.AttrInt("depth"), nil
}

// StackGet returns every frame, innermost first.
func (s *Session) StackGet(ctx context.Context) ([]*StackFrame, error) {
	if err := s.noAsync("stack_get"); err != nil {
		return nil, err
	}
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("stack_get"))
	if err != nil {
		return nil, err
	}
	var frames []*StackFrame
	for _, c := range n.ChildrenNamed("stack") {
		frames = append(frames, parseStackFrame(c, s.cfg.PathMap))
	}
	return frames, nil
}

// ContextNames lists the variable contexts of the frame at depth.
func (s *Session) ContextNames(ctx context.Context, depth int) ([]Context, error) {
	if err := s.noAsync("context_names"); err != nil {
		return nil, err
	}
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("context_names").WithInt('d', depth))
	if err != nil {
		return nil, err
	}
	var out []Context
	for _, c := range n.ChildrenNamed("context") {
		out = append(out, Context{ID: c.AttrInt("id"), Name: c.Attr("name")})
	}
	return out, nil
}

// ContextGet returns the variables of one context.
func (s *Session) ContextGet(ctx context.Context, contextID, depth int) ([]*Property, error) {
	if err := s.noAsync("context_get"); err != nil {
		return nil, err
	}
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("context_get").WithInt('d', depth).WithInt('c', contextID))
	if err != nil {
		return nil, err
	}
	var out []*Property
	for _, c := range n.ChildrenNamed("property") {
		out = append(out, parseProperty(c, contextID, depth))
	}
	return out, nil
}

// PropertyRequest addresses one property.
type PropertyRequest struct {
	Context int
	Depth   int
	Name    string
	Page    int

	// MaxData overrides the engine's max_data when positive.
	MaxData int

	// Type is the data type for PropertySet.
	Type string
}

func (r PropertyRequest) command(name string) *dbgp.Command {
	cmd := dbgp.NewCommand(name).
		WithInt('d', r.Depth).
		WithInt('c', r.Context).
		With('n', r.Name)
	if r.Page > 0 {
		cmd.WithInt('p', r.Page)
	}
	if r.MaxData > 0 {
		cmd.WithInt('m', r.MaxData)
	}
	if r.Type != "" {
		cmd.With('t', r.Type)
	}
	return cmd
}

// PropertyGet fetches a property with one page of children.
func (s *Session) PropertyGet(ctx context.Context, req PropertyRequest) (*Property, error) {
	if err := s.noAsync("property_get"); err != nil {
		return nil, err
	}
	n, err := s.sendAndWait(ctx, req.command("property_get"))
	if err != nil {
		return nil, err
	}
	c := n.Child("property")
	if c == nil {
		return nil, fmt.Errorf("property_get %s: empty response", req.Name)
	}
	return parseProperty(c, req.Context, req.Depth), nil
}

// PropertyGetEx is PropertyGet that turns engine errors into an
// exception-typed property.
func (s *Session) PropertyGetEx(ctx context.Context, req PropertyRequest) (*Property, error) {
	p, err := s.PropertyGet(ctx, req)
	if err != nil {
		var de *dbgp.Error
		if !errors.As(err, &de) {
			return nil, err
		}
		return errorProperty(req.Name, req.Context, req.Depth, err), nil
	}
	return p, nil
}

// PropertyValue returns the full value of a property.
func (s *Session) PropertyValue(ctx context.Context, req PropertyRequest) (string, error) {
	if err := s.noAsync("property_value"); err != nil {
		return "", err
	}
	n, err := s.sendAndWait(ctx, req.command("property_value"))
	if err != nil {
		return "", err
	}
	v, err := n.Value()
	if err != nil {
		return "", fmt.Errorf("property_value %s: %w", req.Name, err)
	}
	return string(v), nil
}

// PropertySet assigns value to a property.
func (s *Session) PropertySet(ctx context.Context, req PropertyRequest, value string) error {
	if err := s.noAsync("property_set"); err != nil {
		return err
	}
	cmd := req.command("property_set").WithInt('l', len(value)).WithData([]byte(value))
	n, err := s.sendAndWait(ctx, cmd)
	if err != nil {
		return err
	}
	if n.HasAttr("success") && !n.AttrBool("success") {
		return fmt.Errorf("property_set %s: %w", req.Name, dbgp.NewError(dbgp.ErrorInvalidExpression, ""))
	}
	return nil
}

// Eval evaluates code in the current frame.
func (s *Session) Eval(ctx context.Context, code string) (*Property, error) {
	if err := s.noAsync("eval"); err != nil {
		return nil, err
	}
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("eval").WithData([]byte(code)))
	if err != nil {
		return nil, err
	}
	c := n.Child("property")
	if c == nil {
		return &Property{Name: code, FullName: code}, nil
	}
	return parseProperty(c, ContextLocals, 0), nil
}

// Interact sends one line to the engine's interactive shell. It returns
// the next prompt and whether the engine waits for more input.
func (s *Session) Interact(ctx context.Context, code string) (prompt string, more bool, err error) {
	if err := s.noAsync(dbgp.CmdInteract); err != nil {
		return "", false, err
	}
	if !s.Features().Supports(dbgp.CmdInteract) {
		return "", false, fmt.Errorf("interact: %w", ErrNotSupported)
	}
	cmd := dbgp.NewCommand(dbgp.CmdInteract).WithInt('m', 1).WithData([]byte(code))
	if _, err := s.sendAndWait(ctx, cmd); err != nil {
		return "", false, err
	}
	prompt, more = s.Prompt()
	return prompt, more, nil
}

// EndInteract leaves interactive mode.
func (s *Session) EndInteract(ctx context.Context) error {
	if err := s.noAsync(dbgp.CmdInteract); err != nil {
		return err
	}
	_, err := s.sendAndWait(ctx, dbgp.NewCommand(dbgp.CmdInteract).WithInt('m', 0))
	return err
}

// Source fetches source text. begin and end are 1-based and inclusive;
// zero means the whole file.
func (s *Session) Source(ctx context.Context, filename string, begin, end int) (string, error) {
	if err := s.noAsync("source"); err != nil {
		return "", err
	}
	cmd := dbgp.NewCommand("source")
	if filename != "" {
		cmd.With('f', s.cfg.PathMap.RemoteURI(filename))
	}
	if begin > 0 {
		cmd.WithInt('b', begin)
	}
	if end > 0 {
		cmd.WithInt('e', end)
	}
	n, err := s.sendAndWait(ctx, cmd)
	if err != nil {
		return "", err
	}
	data, err := n.Value()
	if err != nil {
		return "", fmt.Errorf("source %s: %w", filename, err)
	}
	return string(data), nil
}

// SendStdin feeds data to the program's stdin.
func (s *Session) SendStdin(ctx context.Context, data []byte) error {
	if !s.Features().Supports("stdin") {
		return fmt.Errorf("stdin: %w", ErrNotSupported)
	}
	if err := s.async("stdin"); err != nil {
		return err
	}
	_, err := s.sendAndWait(ctx, dbgp.NewCommand("stdin").WithData(data))
	return err
}

// SetStdin enables or disables stdin redirection.
func (s *Session) SetStdin(ctx context.Context, enabled bool) error {
	if err := s.async("stdin"); err != nil {
		return err
	}
	mode := 0
	if enabled {
		mode = 1
	}
	_, err := s.sendAndWait(ctx, dbgp.NewCommand("stdin").WithInt('c', mode))
	return err
}

// Stream modes for SetStdout and SetStderr.
const (
	StreamDisable  = 0
	StreamCopy     = 1
	StreamRedirect = 2
)

// SetStdout sets the stdout stream mode.
func (s *Session) SetStdout(ctx context.Context, mode int) error {
	return s.setStream(ctx, "stdout", mode)
}

// SetStderr sets the stderr stream mode.
func (s *Session) SetStderr(ctx context.Context, mode int) error {
	return s.setStream(ctx, "stderr", mode)
}

func (s *Session) setStream(ctx context.Context, name string, mode int) error {
	if err := s.noAsync(name); err != nil {
		return err
	}
	_, err := s.sendAndWait(ctx, dbgp.NewCommand(name).WithInt('c', mode))
	return err
}

// TypemapGet fetches the engine's type map.
func (s *Session) TypemapGet(ctx context.Context) ([]TypeMapping, error) {
	if err := s.noAsync("typemap_get"); err != nil {
		return nil, err
	}
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("typemap_get"))
	if err != nil {
		return nil, err
	}
	return parseTypeMap(n), nil
}

// TypeMap returns the type map loaded during Initialize.
func (s *Session) TypeMap() []TypeMapping {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.typemap
}

// ProfileData fetches the profile of a code_profiling session.
func (s *Session) ProfileData(ctx context.Context) ([]byte, error) {
	n, err := s.sendAndWait(ctx, dbgp.NewCommand("profile_data"))
	if err != nil {
		return nil, err
	}
	data, err := n.Value()
	if err != nil {
		return nil, fmt.Errorf("profile_data: %w", err)
	}
	return data, nil
}
