package debug

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/dshills/dbgp/internal/dbgp"
)

// BreakpointType is the DBGP breakpoint type.
type BreakpointType string

const (
	BreakpointLine        BreakpointType = "line"
	BreakpointConditional BreakpointType = "conditional"
	BreakpointWatch       BreakpointType = "watch"
	BreakpointCall        BreakpointType = "call"
	BreakpointReturn      BreakpointType = "return"
	BreakpointException   BreakpointType = "exception"

	// BreakpointSpawn marks a spawnpoint. It only travels with
	// spawnpoint_* commands.
	BreakpointSpawn BreakpointType = "spawn"
)

// Breakpoint states.
const (
	StateEnabled  = "enabled"
	StateDisabled = "disabled"
)

// Breakpoint is the IDE's definition of a breakpoint. Sessions only know
// the id the engine assigned to it.
type Breakpoint struct {
	// GUID is unique for the lifetime of the store.
	GUID int `yaml:"-"`

	Language string         `yaml:"language,omitempty"`
	Type     BreakpointType `yaml:"type"`
	State    string         `yaml:"state"`

	// Filename is the local path.
	Filename string `yaml:"filename,omitempty"`
	Line     int    `yaml:"lineno,omitempty"`

	Function   string `yaml:"function,omitempty"`
	Exception  string `yaml:"exception,omitempty"`
	Expression string `yaml:"expression,omitempty"`

	Temporary    bool   `yaml:"temporary,omitempty"`
	HitValue     int    `yaml:"hit_value,omitempty"`
	HitCondition string `yaml:"hit_condition,omitempty"`
}

// Enabled reports whether the breakpoint is enabled.
func (bp *Breakpoint) Enabled() bool {
	return bp.State != StateDisabled
}

// IsSpawnpoint reports whether bp is a spawnpoint.
func (bp *Breakpoint) IsSpawnpoint() bool {
	return bp.Type == BreakpointSpawn
}

func (bp *Breakpoint) clone() *Breakpoint {
	c := *bp
	return &c
}

// String renders a short description for logs.
func (bp *Breakpoint) String() string {
	switch bp.Type {
	case BreakpointCall, BreakpointReturn:
		return fmt.Sprintf("%s %s", bp.Type, bp.Function)
	case BreakpointException:
		return fmt.Sprintf("exception %s", bp.Exception)
	}
	return fmt.Sprintf("%s %s:%d", bp.Type, filepath.Base(bp.Filename), bp.Line)
}

// Breakpoint attribute names reported by Store.Update.
const (
	AttrLanguage     = "language"
	AttrType         = "type"
	AttrFilename     = "filename"
	AttrLine         = "lineno"
	AttrFunction     = "function"
	AttrState        = "state"
	AttrHitValue     = "hit_value"
	AttrHitCondition = "hit_condition"
	AttrTemporary    = "temporary"
	AttrException    = "exception"
	AttrExpression   = "expression"
)

// updatableAttrs can be changed with breakpoint_update. Any other change
// replaces the engine breakpoint.
var updatableAttrs = map[string]bool{
	AttrState:        true,
	AttrLine:         true,
	AttrHitValue:     true,
	AttrHitCondition: true,
	AttrTemporary:    true,
}

// diff lists the attributes that differ between a and b.
func diff(a, b *Breakpoint) []string {
	var out []string
	add := func(changed bool, name string) {
		if changed {
			out = append(out, name)
		}
	}
	add(a.Language != b.Language, AttrLanguage)
	add(a.Type != b.Type, AttrType)
	add(a.Filename != b.Filename, AttrFilename)
	add(a.Line != b.Line, AttrLine)
	add(a.Function != b.Function, AttrFunction)
	add(a.State != b.State, AttrState)
	add(a.HitValue != b.HitValue, AttrHitValue)
	add(a.HitCondition != b.HitCondition, AttrHitCondition)
	add(a.Temporary != b.Temporary, AttrTemporary)
	add(a.Exception != b.Exception, AttrException)
	add(a.Expression != b.Expression, AttrExpression)
	return out
}

func onlyUpdatable(attrs []string) bool {
	for _, a := range attrs {
		if !updatableAttrs[a] {
			return false
		}
	}
	return true
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// setCommand builds breakpoint_set or spawnpoint_set.
func (bp *Breakpoint) setCommand(name string, pm *PathMap) *dbgp.Command {
	cmd := dbgp.NewCommand(name)
	if !bp.IsSpawnpoint() {
		cmd.With('t', string(bp.Type))
	}
	state := bp.State
	if state == "" {
		state = StateEnabled
	}
	cmd.With('s', state)
	if bp.Filename != "" {
		cmd.With('f', pm.RemoteURI(bp.Filename))
	}
	if bp.Line > 0 {
		cmd.WithInt('n', bp.Line)
	}
	if bp.IsSpawnpoint() {
		if bp.Expression != "" {
			cmd.WithData([]byte(bp.Expression))
		}
		return cmd
	}
	if bp.Function != "" {
		cmd.With('m', bp.Function)
	}
	if bp.Exception != "" {
		cmd.With('x', bp.Exception)
	}
	if bp.HitValue > 0 {
		cmd.WithInt('h', bp.HitValue)
	}
	if bp.HitCondition != "" {
		cmd.With('o', bp.HitCondition)
	}
	if bp.Temporary {
		cmd.With('r', "1")
	}
	if bp.Expression != "" {
		cmd.WithData([]byte(bp.Expression))
	}
	return cmd
}

// updateCommand builds breakpoint_update or spawnpoint_update for the
// updatable attrs.
func (bp *Breakpoint) updateCommand(name, id string, attrs []string) *dbgp.Command {
	cmd := dbgp.NewCommand(name).With('d', id)
	for _, a := range attrs {
		switch a {
		case AttrState:
			cmd.With('s', bp.State)
		case AttrLine:
			cmd.WithInt('n', bp.Line)
		case AttrHitValue:
			cmd.WithInt('h', bp.HitValue)
		case AttrHitCondition:
			cmd.With('o', bp.HitCondition)
		case AttrTemporary:
			cmd.With('r', boolArg(bp.Temporary))
		}
	}
	return cmd
}

// Target is a session the store delivers breakpoints to.
type Target interface {
	Status() dbgp.Status
	BreakpointLanguages() []string

	BreakpointSet(ctx context.Context, bp *Breakpoint) (string, error)
	BreakpointUpdate(ctx context.Context, id string, bp *Breakpoint, attrs []string) error
	BreakpointRemove(ctx context.Context, id string) error

	SpawnpointSet(ctx context.Context, bp *Breakpoint) (string, error)
	SpawnpointUpdate(ctx context.Context, id string, bp *Breakpoint, attrs []string) error
	SpawnpointRemove(ctx context.Context, id string) error
}

// syncTarget lets a target flush the store on its own state changes.
type syncTarget interface {
	attachSync(u updater)
}

type opKind int

const (
	opSet opKind = iota
	opUpdate
	opRemove
)

func (k opKind) String() string {
	switch k {
	case opSet:
		return "set"
	case opUpdate:
		return "update"
	}
	return "remove"
}

// pendingOp is a queued change. bp is a snapshot taken when the change
// was made.
type pendingOp struct {
	kind  opKind
	guid  int
	bp    *Breakpoint
	attrs []string
}

// sessionState is what the store knows about one target.
type sessionState struct {
	ids     map[int]string
	pending []pendingOp
}

func (st *sessionState) hasPendingSet(guid int) bool {
	return slices.ContainsFunc(st.pending, func(op pendingOp) bool {
		return op.kind == opSet && op.guid == guid
	})
}

// Store owns every breakpoint the user defined and keeps attached
// sessions in sync with it.
type Store struct {
	mu       sync.Mutex
	bps      *treemap.Map
	nextGUID int
	sessions map[Target]*sessionState

	fs          afero.Fs
	persistPath string
	log         logr.Logger
}

// NewStore creates a breakpoint store. fs is used by Save and Load.
func NewStore(fs afero.Fs, log logr.Logger) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Store{
		bps:      treemap.NewWithIntComparator(),
		nextGUID: 1,
		sessions: make(map[Target]*sessionState),
		fs:       fs,
		log:      log.WithName("breakpoints"),
	}
}

// SetPersistPath sets the file used by Save and Load.
func (s *Store) SetPersistPath(path string) {
	s.mu.Lock()
	s.persistPath = path
	s.mu.Unlock()
}

func languageMatches(t Target, bp *Breakpoint) bool {
	if bp.Language == "" {
		return true
	}
	return slices.Contains(t.BreakpointLanguages(), strings.ToLower(bp.Language))
}

// apply sends one change to t.
func (s *Store) apply(ctx context.Context, t Target, st *sessionState, op pendingOp) error {
	switch op.kind {
	case opSet:
		var id string
		var err error
		if op.bp.IsSpawnpoint() {
			id, err = t.SpawnpointSet(ctx, op.bp)
		} else {
			id, err = t.BreakpointSet(ctx, op.bp)
		}
		if err != nil {
			return fmt.Errorf("set %s: %w", op.bp, err)
		}
		st.ids[op.guid] = id
	case opUpdate:
		id, ok := st.ids[op.guid]
		if !ok {
			return nil
		}
		var err error
		if op.bp.IsSpawnpoint() {
			err = t.SpawnpointUpdate(ctx, id, op.bp, op.attrs)
		} else {
			err = t.BreakpointUpdate(ctx, id, op.bp, op.attrs)
		}
		if err != nil {
			return fmt.Errorf("update %s: %w", op.bp, err)
		}
	case opRemove:
		id, ok := st.ids[op.guid]
		if !ok {
			return nil
		}
		delete(st.ids, op.guid)
		var err error
		if op.bp.IsSpawnpoint() {
			err = t.SpawnpointRemove(ctx, id)
		} else {
			err = t.BreakpointRemove(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("remove %s: %w", op.bp, err)
		}
	}
	return nil
}

// flush drains the pending queue of t in order. A failed command does
// not stop the rest.
func (s *Store) flush(ctx context.Context, t Target, st *sessionState) error {
	var result *multierror.Error
	for len(st.pending) > 0 {
		op := st.pending[0]
		st.pending = st.pending[1:]
		s.log.V(1).Info("replaying queued change", "op", op.kind.String(), "guid", op.guid)
		if err := s.apply(ctx, t, st, op); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func canSend(t Target) bool {
	switch t.Status() {
	case dbgp.StatusBreak, dbgp.StatusStarting:
		return true
	}
	return false
}

// deliver sends ops to t right away when it is stopped, otherwise queues
// them.
func (s *Store) deliver(ctx context.Context, t Target, st *sessionState, ops ...pendingOp) error {
	if !canSend(t) {
		st.pending = append(st.pending, ops...)
		return nil
	}
	var result *multierror.Error
	if err := s.flush(ctx, t, st); err != nil {
		result = multierror.Append(result, err)
	}
	for _, op := range ops {
		if err := s.apply(ctx, t, st, op); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// broadcast delivers ops for bp to every matching session.
func (s *Store) broadcast(ctx context.Context, bp *Breakpoint, build func(st *sessionState) []pendingOp) error {
	var result *multierror.Error
	for t, st := range s.sessions {
		if !languageMatches(t, bp) {
			continue
		}
		ops := build(st)
		if len(ops) == 0 {
			continue
		}
		if err := s.deliver(ctx, t, st, ops...); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Add stores a copy of bp under a new guid and sends it to attached
// sessions. The breakpoint is kept even when some session refuses it.
// The returned copy carries the guid; change it through Update.
func (s *Store) Add(ctx context.Context, bp *Breakpoint) (*Breakpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := bp.clone()
	err := s.addLocked(ctx, stored)
	return stored.clone(), err
}

func (s *Store) addLocked(ctx context.Context, bp *Breakpoint) error {
	if bp.State == "" {
		bp.State = StateEnabled
	}
	bp.GUID = s.nextGUID
	s.nextGUID++
	s.bps.Put(bp.GUID, bp)
	s.log.V(1).Info("breakpoint added", "guid", bp.GUID, "breakpoint", bp.String())

	snap := bp.clone()
	return s.broadcast(ctx, bp, func(*sessionState) []pendingOp {
		return []pendingOp{{kind: opSet, guid: snap.GUID, bp: snap}}
	})
}

// AddLine adds a line breakpoint.
func (s *Store) AddLine(ctx context.Context, language, filename string, line int) (*Breakpoint, error) {
	return s.Add(ctx, &Breakpoint{Language: language, Type: BreakpointLine, Filename: filename, Line: line})
}

// AddConditional adds a breakpoint that fires when expression is true.
func (s *Store) AddConditional(ctx context.Context, language, filename string, line int, expression string) (*Breakpoint, error) {
	return s.Add(ctx, &Breakpoint{
		Language: language, Type: BreakpointConditional,
		Filename: filename, Line: line, Expression: expression,
	})
}

// AddWatch adds a breakpoint that fires when expression changes.
func (s *Store) AddWatch(ctx context.Context, language, expression string) (*Breakpoint, error) {
	return s.Add(ctx, &Breakpoint{Language: language, Type: BreakpointWatch, Expression: expression})
}

// AddCall adds a breakpoint on entry to function.
func (s *Store) AddCall(ctx context.Context, language, function string) (*Breakpoint, error) {
	return s.Add(ctx, &Breakpoint{Language: language, Type: BreakpointCall, Function: function})
}

// AddReturn adds a breakpoint on return from function.
func (s *Store) AddReturn(ctx context.Context, language, function string) (*Breakpoint, error) {
	return s.Add(ctx, &Breakpoint{Language: language, Type: BreakpointReturn, Function: function})
}

// AddException adds a breakpoint on exceptions named exception.
func (s *Store) AddException(ctx context.Context, language, exception string) (*Breakpoint, error) {
	return s.Add(ctx, &Breakpoint{Language: language, Type: BreakpointException, Exception: exception})
}

// AddSpawnpoint adds a spawnpoint.
func (s *Store) AddSpawnpoint(ctx context.Context, language, filename string, line int, expression string) (*Breakpoint, error) {
	return s.Add(ctx, &Breakpoint{
		Language: language, Type: BreakpointSpawn,
		Filename: filename, Line: line, Expression: expression,
	})
}

// Remove deletes a breakpoint from the store and every session.
func (s *Store) Remove(ctx context.Context, guid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(ctx, guid)
}

func (s *Store) removeLocked(ctx context.Context, guid int) error {
	v, ok := s.bps.Get(guid)
	if !ok {
		return fmt.Errorf("breakpoint %d: %w", guid, ErrBreakpointNotFound)
	}
	bp := v.(*Breakpoint)
	s.bps.Remove(guid)
	s.log.V(1).Info("breakpoint removed", "guid", guid, "breakpoint", bp.String())

	snap := bp.clone()
	return s.broadcast(ctx, bp, func(st *sessionState) []pendingOp {
		if _, known := st.ids[guid]; !known && !st.hasPendingSet(guid) {
			return nil
		}
		return []pendingOp{{kind: opRemove, guid: guid, bp: snap}}
	})
}

// RemoveAll deletes every breakpoint.
func (s *Store) RemoveAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for _, k := range s.bps.Keys() {
		if err := s.removeLocked(ctx, k.(int)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Update applies fn to the breakpoint and sends the difference to every
// session. It returns the names of the changed attributes.
func (s *Store) Update(ctx context.Context, guid int, fn func(bp *Breakpoint)) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.bps.Get(guid)
	if !ok {
		return nil, fmt.Errorf("breakpoint %d: %w", guid, ErrBreakpointNotFound)
	}
	bp := v.(*Breakpoint)
	before := bp.clone()
	fn(bp)
	bp.GUID = guid
	changed := diff(before, bp)
	if len(changed) == 0 {
		return nil, nil
	}
	s.log.V(1).Info("breakpoint updated", "guid", guid, "attrs", changed)

	oldSnap, newSnap := before, bp.clone()
	err := s.broadcastUpdate(ctx, oldSnap, newSnap, changed)
	return changed, err
}

// broadcastUpdate sends an update. Sessions that matched the old
// language get a remove when the new one no longer matches.
func (s *Store) broadcastUpdate(ctx context.Context, before, after *Breakpoint, changed []string) error {
	replace := !onlyUpdatable(changed)
	guid := after.GUID

	var result *multierror.Error
	for t, st := range s.sessions {
		wasIn, isIn := languageMatches(t, before), languageMatches(t, after)
		_, hasID := st.ids[guid]
		known := hasID || st.hasPendingSet(guid)

		var ops []pendingOp
		switch {
		case wasIn && !isIn:
			if known {
				ops = append(ops, pendingOp{kind: opRemove, guid: guid, bp: before})
			}
		case !wasIn && isIn:
			ops = append(ops, pendingOp{kind: opSet, guid: guid, bp: after})
		case !isIn:
		case replace:
			if known {
				ops = append(ops, pendingOp{kind: opRemove, guid: guid, bp: before})
			}
			ops = append(ops, pendingOp{kind: opSet, guid: guid, bp: after})
		case known:
			ops = append(ops, pendingOp{kind: opUpdate, guid: guid, bp: after, attrs: changed})
		}
		if len(ops) == 0 {
			continue
		}
		if err := s.deliver(ctx, t, st, ops...); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Toggle removes the line breakpoint at filename:line, or adds one. It
// returns the added breakpoint, or nil when one was removed.
func (s *Store) Toggle(ctx context.Context, language, filename string, line int) (*Breakpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bp := s.breakpointAtLocked(filename, line); bp != nil {
		return nil, s.removeLocked(ctx, bp.GUID)
	}
	bp := &Breakpoint{Language: language, Type: BreakpointLine, Filename: filename, Line: line}
	err := s.addLocked(ctx, bp)
	return bp.clone(), err
}

// Get returns a copy of a breakpoint.
func (s *Store) Get(guid int) (*Breakpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.bps.Get(guid)
	if !ok {
		return nil, false
	}
	return v.(*Breakpoint).clone(), true
}

// List returns copies of all breakpoints ordered by guid.
func (s *Store) List() []*Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Breakpoint, 0, s.bps.Size())
	for _, v := range s.bps.Values() {
		out = append(out, v.(*Breakpoint).clone())
	}
	return out
}

// Paths returns the files that have breakpoints, sorted.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, v := range s.bps.Values() {
		if f := v.(*Breakpoint).Filename; f != "" && !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return out
}

// HasBreakpointAt checks if there's a breakpoint at the given location.
func (s *Store) HasBreakpointAt(filename string, line int) bool {
	_, ok := s.BreakpointAt(filename, line)
	return ok
}

// BreakpointAt returns the breakpoint at the given location, if any.
func (s *Store) BreakpointAt(filename string, line int) (*Breakpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bp := s.breakpointAtLocked(filename, line); bp != nil {
		return bp.clone(), true
	}
	return nil, false
}

func (s *Store) breakpointAtLocked(filename string, line int) *Breakpoint {
	_, v := s.bps.Find(func(_, v interface{}) bool {
		bp := v.(*Breakpoint)
		return !bp.IsSpawnpoint() && bp.Filename == filename && bp.Line == line
	})
	if v == nil {
		return nil
	}
	return v.(*Breakpoint)
}

// AttachSession sends every matching breakpoint to t. Failures are
// collected into one error and never detach the session.
func (s *Store) AttachSession(ctx context.Context, t Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &sessionState{ids: make(map[int]string)}
	s.sessions[t] = st
	if hook, ok := t.(syncTarget); ok {
		hook.attachSync(s)
	}

	var result *multierror.Error
	for _, v := range s.bps.Values() {
		bp := v.(*Breakpoint)
		if !languageMatches(t, bp) {
			continue
		}
		if err := s.apply(ctx, t, st, pendingOp{kind: opSet, guid: bp.GUID, bp: bp.clone()}); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		s.log.Info("some breakpoints could not be set", "count", len(result.Errors), "err", err.Error())
		return err
	}
	return nil
}

// SendUpdates drains the changes queued for t.
func (s *Store) SendUpdates(ctx context.Context, t Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[t]
	if !ok {
		return nil
	}
	return s.flush(ctx, t, st)
}

// Pending returns the number of changes queued for t.
func (s *Store) Pending(t Target) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[t]; ok {
		return len(st.pending)
	}
	return 0
}

// EngineID returns the id t assigned to a breakpoint.
func (s *Store) EngineID(t Target, guid int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[t]
	if !ok {
		return "", false
	}
	id, ok := st.ids[guid]
	return id, ok
}

// ReleaseSession forgets t.
func (s *Store) ReleaseSession(t Target) {
	s.mu.Lock()
	delete(s.sessions, t)
	s.mu.Unlock()
}

// persistedBreakpoints is the on-disk format.
type persistedBreakpoints struct {
	Version     int           `yaml:"version"`
	Breakpoints []*Breakpoint `yaml:"breakpoints"`
}

// Save writes all breakpoints to the persist path as YAML.
func (s *Store) Save() error {
	path := s.getPersistPath()
	if path == "" {
		return errors.New("persist path not set")
	}
	data := persistedBreakpoints{Version: 1, Breakpoints: s.List()}

	content, err := yaml.Marshal(&data)
	if err != nil {
		return fmt.Errorf("marshal breakpoints: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, path, content, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func (s *Store) getPersistPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistPath
}

// Load replaces the breakpoints with the persisted ones. Guids are
// reassigned and attached sessions are updated.
func (s *Store) Load(ctx context.Context) error {
	path := s.getPersistPath()
	if path == "" {
		return errors.New("persist path not set")
	}
	content, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read file: %w", err)
	}

	var data persistedBreakpoints
	if err := yaml.Unmarshal(content, &data); err != nil {
		return fmt.Errorf("unmarshal breakpoints: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for _, k := range s.bps.Keys() {
		if err := s.removeLocked(ctx, k.(int)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, bp := range data.Breakpoints {
		if bp == nil || bp.Type == "" {
			continue
		}
		if err := s.addLocked(ctx, bp); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.log.Info("breakpoints loaded", "path", path, "count", s.bps.Size())
	return result.ErrorOrNil()
}
