package debug

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blang/semver"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/smallnest/chanx"

	"github.com/dshills/dbgp/internal/dbgp"
)

// Response waiting defaults.
const (
	DefaultResponseTimeout = 5 * time.Second
	DefaultPollInterval    = time.Second
)

// ResumeAction selects the continuation command sent by Resume.
type ResumeAction int

const (
	ResumeRun ResumeAction = iota
	ResumeStepInto
	ResumeStepOver
	ResumeStepOut
)

var resumeCommands = [...]string{
	ResumeRun:      dbgp.CmdRun,
	ResumeStepInto: dbgp.CmdStepInto,
	ResumeStepOver: dbgp.CmdStepOver,
	ResumeStepOut:  dbgp.CmdStepOut,
}

// String returns the continuation command name.
func (a ResumeAction) String() string {
	if a < 0 || int(a) >= len(resumeCommands) {
		return "unknown"
	}
	return resumeCommands[a]
}

// InitInfo is what the engine announced in its init packet.
type InitInfo struct {
	AppID           string
	Thread          string
	Parent          string
	Language        string
	ProtocolVersion string
	FileURI         string
	IDEKey          string
	Cookie          string
	Hostname        string

	// Prompt is set when the engine starts in interactive mode.
	Interactive bool
	Prompt      string

	// Profiling marks a code_profiling session.
	Profiling bool
}

func parseInit(n *dbgp.Node, remote net.Addr) InitInfo {
	info := InitInfo{
		AppID:           n.Attr("appid"),
		Thread:          n.Attr("thread"),
		Parent:          n.Attr("parent"),
		Language:        n.Attr("language"),
		ProtocolVersion: n.Attr("protocol_version"),
		FileURI:         n.Attr("fileuri"),
		IDEKey:          n.Attr("idekey"),
		Cookie:          n.Attr("session"),
		Hostname:        n.Attr("hostname"),
		Interactive:     n.HasAttr("interactive"),
		Prompt:          n.Attr("interactive"),
		Profiling:       n.Attr("type") == "code_profiling",
	}
	if info.Hostname == "" && remote != nil {
		if host, _, err := net.SplitHostPort(remote.String()); err == nil {
			info.Hostname = host
		}
	}
	return info
}

// checkProtocolVersion accepts any 1.x version. A missing attribute is
// tolerated.
func checkProtocolVersion(v string) error {
	if v == "" {
		return nil
	}
	sv, err := semver.ParseTolerant(v)
	if err != nil {
		return fmt.Errorf("protocol_version %q: %w", v, ErrProtocolVersion)
	}
	if sv.Major != 1 {
		return fmt.Errorf("protocol_version %s: %w", sv, ErrProtocolVersion)
	}
	return nil
}

// Features is what feature negotiation learned about the engine.
type Features struct {
	SupportsAsync      bool
	LanguageName       string
	LanguageVersion    string
	MaxChildren        int
	MaxData            int
	MaxDepth           int
	SupportsHidden     bool
	SupportsPostmortem bool

	// BreakpointLanguages lists the languages breakpoints may target,
	// lower-cased.
	BreakpointLanguages []string

	commands map[string]bool
}

// Supports reports whether a capability probe for cmd succeeded.
func (f Features) Supports(cmd string) bool {
	return f.commands[cmd]
}

// Snapshot is the state collected after the engine stopped.
type Snapshot struct {
	Status dbgp.Status
	Reason dbgp.Reason
	Stack  []*StackFrame
	Locals []*Property
}

// SessionHandlers contains callbacks for session events. OnStatusChanged,
// OnOutput and OnNotify run on the reader goroutine and must not issue
// session commands. OnBreak runs on the event goroutine and may.
type SessionHandlers struct {
	// OnStarted is called once the first session of an application
	// finished negotiation and breakpoint sync.
	OnStarted func(s *Session)

	// OnStatusChanged is called when the engine status changes.
	OnStatusChanged func(s *Session, old, new dbgp.Status)

	// OnBreak is called with the stack and locals after a stop, and
	// with an empty snapshot when the program reaches stopping.
	OnBreak func(s *Session, snap *Snapshot)

	// OnOutput is called for stdout/stderr stream packets.
	OnOutput func(s *Session, stream string, data []byte)

	// OnNotify is called for notify packets.
	OnNotify func(s *Session, name string, n *dbgp.Node)

	// OnProfile receives profile_data of a code_profiling session.
	OnProfile func(s *Session, data []byte)

	// OnError reports failures that do not end the session.
	OnError func(s *Session, op string, err error)

	// OnClosed is called once when the session ends.
	OnClosed func(s *Session, err error)
}

// SessionConfig configures an IDE-side session.
type SessionConfig struct {
	// IDEKey, when set, must match the init packet's idekey.
	IDEKey string

	// ResponseTimeout bounds every command round trip.
	ResponseTimeout time.Duration

	// PollInterval is the granularity of response waits.
	PollInterval time.Duration

	PathMap  *PathMap
	Logger   logr.Logger
	Handlers SessionHandlers
}

func (c *SessionConfig) setDefaults() {
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PathMap == nil {
		c.PathMap = NewPathMap()
	}
	if c.Logger.GetSink() == nil {
		c.Logger = logr.Discard()
	}
}

// updater flushes queued breakpoint changes into a session.
type updater interface {
	SendUpdates(ctx context.Context, t Target) error
}

// Session is the IDE end of one engine connection.
type Session struct {
	id   string
	conn *dbgp.Conn
	cfg  SessionConfig
	log  logr.Logger
	info InitInfo

	handlers   SessionHandlers
	handlersMu sync.RWMutex

	// Response waiters.
	mu        sync.Mutex
	cond      *sync.Cond
	waiting   map[int]bool
	responses map[int]*dbgp.Node
	closed    bool
	closeErr  error

	tid atomic.Int64

	stateMu  sync.RWMutex
	status   dbgp.Status
	reason   dbgp.Reason
	resumed  string
	prompt   string
	more     bool
	features Features
	typemap  []TypeMapping
	sync     updater

	events    *chanx.UnboundedChan[*dbgp.Node]
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Handshake reads the init packet from conn and starts the session's
// reader and event goroutines. The connection is closed on failure.
func Handshake(ctx context.Context, conn net.Conn, cfg SessionConfig) (*Session, error) {
	cfg.setDefaults()
	dc := dbgp.NewConn(conn)

	deadline := time.Now().Add(cfg.ResponseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = dc.SetReadDeadline(deadline)
	payload, err := dc.Receive()
	_ = dc.SetReadDeadline(time.Time{})
	if err != nil {
		_ = dc.Close()
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("read init: %w", ErrSessionTimeout)
		}
		return nil, fmt.Errorf("read init: %w", err)
	}

	n, err := dbgp.ParseNode(payload)
	if err != nil || n.Name != "init" {
		_ = dc.Close()
		return nil, fmt.Errorf("handshake with %s: %w", conn.RemoteAddr(), ErrBadInit)
	}
	info := parseInit(n, conn.RemoteAddr())
	if cfg.IDEKey != "" && info.IDEKey != cfg.IDEKey {
		_ = dc.Close()
		return nil, fmt.Errorf("idekey %q: %w", info.IDEKey, ErrIDEKeyMismatch)
	}
	if err := checkProtocolVersion(info.ProtocolVersion); err != nil {
		_ = dc.Close()
		return nil, err
	}

	s := newSession(dc, info, cfg)
	s.start()
	return s, nil
}

func newSession(conn *dbgp.Conn, info InitInfo, cfg SessionConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        uuid.NewString(),
		conn:      conn,
		cfg:       cfg,
		info:      info,
		handlers:  cfg.Handlers,
		waiting:   make(map[int]bool),
		responses: make(map[int]*dbgp.Node),
		status:    dbgp.StatusStarting,
		events:    chanx.NewUnboundedChan[*dbgp.Node](ctx, 4),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	s.log = cfg.Logger.WithName("session").WithValues("appid", info.AppID, "thread", info.Thread, "session", s.id)
	if info.Interactive {
		s.status = dbgp.StatusInteractive
		s.prompt = info.Prompt
	}
	return s
}

func (s *Session) start() {
	go s.readLoop()
	go s.eventLoop()
	go s.tick()
	s.log.Info("session started", "language", s.info.Language, "file", s.info.FileURI)
}

// ID returns the IDE-side correlation id of the session.
func (s *Session) ID() string { return s.id }

// Info returns the init packet data.
func (s *Session) Info() InitInfo { return s.info }

// AppID returns the engine's application id.
func (s *Session) AppID() string { return s.info.AppID }

// Thread returns the engine's thread id.
func (s *Session) Thread() string { return s.info.Thread }

// PathMap returns the path map applied to filenames.
func (s *Session) PathMap() *PathMap { return s.cfg.PathMap }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// SetHandlers sets the session event handlers.
func (s *Session) SetHandlers(handlers SessionHandlers) {
	s.handlersMu.Lock()
	s.handlers = handlers
	s.handlersMu.Unlock()
}

func (s *Session) getHandlers() SessionHandlers {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers
}

func (s *Session) attachSync(u updater) {
	s.stateMu.Lock()
	s.sync = u
	s.stateMu.Unlock()
}

// Status returns the last known engine status.
func (s *Session) Status() dbgp.Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.status
}

// Reason returns the reason of the last status.
func (s *Session) Reason() dbgp.Reason {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.reason
}

// Prompt returns the interactive prompt and whether more input is
// expected. The prompt is empty outside interactive mode.
func (s *Session) Prompt() (string, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.prompt, s.more
}

// Features returns what negotiation learned about the engine.
func (s *Session) Features() Features {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.features
}

// BreakpointLanguages lists the languages this session accepts
// breakpoints for.
func (s *Session) BreakpointLanguages() []string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if len(s.features.BreakpointLanguages) > 0 {
		return s.features.BreakpointLanguages
	}
	if s.info.Language != "" {
		return []string{strings.ToLower(s.info.Language)}
	}
	return nil
}

func (s *Session) setStatus(status dbgp.Status, reason dbgp.Reason) {
	s.stateMu.Lock()
	old := s.status
	s.status, s.reason = status, reason
	s.stateMu.Unlock()

	if old != status {
		s.log.V(1).Info("status", "from", old.String(), "to", status.String(), "reason", reason.String())
		if h := s.getHandlers().OnStatusChanged; h != nil {
			h(s, old, status)
		}
	}
}

func (s *Session) reportError(op string, err error) {
	s.log.Error(err, "session operation failed", "op", op)
	if h := s.getHandlers().OnError; h != nil {
		h(s, op, err)
	}
}

// readLoop dispatches every packet from the engine.
func (s *Session) readLoop() {
	for {
		payload, err := s.conn.Receive()
		if err != nil {
			s.shutdown(err)
			return
		}
		n, err := dbgp.ParseNode(payload)
		if err != nil {
			s.reportError("parse", err)
			continue
		}
		s.dispatch(n)
	}
}

func (s *Session) dispatch(n *dbgp.Node) {
	switch n.Name {
	case "stream":
		data, err := n.Value()
		if err != nil {
			s.reportError("stream", err)
			return
		}
		if h := s.getHandlers().OnOutput; h != nil {
			h(s, strings.ToLower(n.Attr("type")), data)
		}
	case "notify":
		if h := s.getHandlers().OnNotify; h != nil {
			h(s, strings.ToLower(n.Attr("name")), n)
		}
	case "response":
		s.handleResponse(n)
	default:
		s.log.V(1).Info("ignoring packet", "name", n.Name)
	}
}

func (s *Session) handleResponse(n *dbgp.Node) {
	cmd := n.Attr("command")
	tid := n.AttrInt("transaction_id")

	switch {
	case dbgp.IsContinuation(cmd), cmd == dbgp.CmdStop, cmd == dbgp.CmdDetach, cmd == dbgp.CmdInteract:
		s.stateMu.Lock()
		if n.HasAttr("prompt") && n.HasAttr("more") {
			s.prompt, s.more = n.Attr("prompt"), n.AttrBool("more")
		} else {
			s.prompt, s.more = "", false
		}
		if dbgp.IsContinuation(cmd) {
			s.resumed = ""
		}
		s.stateMu.Unlock()

		if st, ok := dbgp.ParseStatus(n.Attr("status")); ok {
			reason, _ := dbgp.ParseReason(n.Attr("reason"))
			s.setStatus(st, reason)
		}
	}

	s.deliver(tid, n)

	switch {
	case dbgp.IsContinuation(cmd):
		select {
		case s.events.In <- n:
		case <-s.ctx.Done():
		}
	case cmd == dbgp.CmdStop, cmd == dbgp.CmdDetach:
		s.shutdown(nil)
	}
}

// deliver hands a response to its waiter. Responses nobody waits for
// are dropped.
func (s *Session) deliver(tid int, n *dbgp.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waiting[tid] {
		return
	}
	delete(s.waiting, tid)
	s.responses[tid] = n
	s.cond.Broadcast()
}

// tick wakes response waiters so they can count timeouts.
func (s *Session) tick() {
	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// eventLoop polls state after every continuation response.
func (s *Session) eventLoop() {
	for {
		select {
		case n, ok := <-s.events.Out:
			if !ok {
				return
			}
			s.poll(n)
		case <-s.done:
			return
		}
	}
}

// poll drains queued breakpoint changes, then refreshes status, stack
// and locals.
func (s *Session) poll(n *dbgp.Node) {
	ctx := s.ctx
	st, _ := dbgp.ParseStatus(n.Attr("status"))
	if st == dbgp.StatusBreak {
		s.stateMu.RLock()
		u := s.sync
		s.stateMu.RUnlock()
		if u != nil {
			if err := u.SendUpdates(ctx, s); err != nil {
				s.reportError("breakpoint sync", err)
			}
		}
	}

	status, err := s.UpdateStatus(ctx)
	if err != nil {
		if s.isClosed() {
			return
		}
		s.reportError("status", err)
		return
	}
	snap := &Snapshot{Status: status, Reason: s.Reason()}
	h := s.getHandlers().OnBreak
	switch status {
	case dbgp.StatusBreak, dbgp.StatusInteractive:
	case dbgp.StatusStopping:
		// the program ended; the engine waits for stop or detach
		if h != nil {
			h(s, snap)
		}
		return
	default:
		return
	}

	if snap.Stack, err = s.StackGet(ctx); err != nil {
		s.reportError("stack_get", err)
	}
	if snap.Locals, err = s.ContextGet(ctx, ContextLocals, 0); err != nil {
		s.reportError("context_get", err)
	}
	if h != nil {
		h(s, snap)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// send writes cmd with the next transaction id. When wait is set the id
// is registered before the write so the response cannot be missed.
func (s *Session) send(cmd *dbgp.Command, wait bool) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, fmt.Errorf("%s: %w", cmd.Name, ErrSessionClosed)
	}
	tid := int(s.tid.Add(1))
	if wait {
		s.waiting[tid] = true
	}
	s.mu.Unlock()

	if cmd.Name != dbgp.CmdInteract {
		s.stateMu.Lock()
		s.prompt, s.more = "", false
		s.stateMu.Unlock()
	}
	s.log.V(1).Info("send", "command", cmd.Name, "tid", tid)
	if err := s.conn.SendCommand(cmd.Encode(tid)); err != nil {
		s.mu.Lock()
		delete(s.waiting, tid)
		s.mu.Unlock()
		s.shutdown(err)
		return tid, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return tid, nil
}

// sendAndWait sends cmd and waits for its response. A response carrying
// an <error> fails with *dbgp.Error.
func (s *Session) sendAndWait(ctx context.Context, cmd *dbgp.Command) (*dbgp.Node, error) {
	tid, err := s.send(cmd, true)
	if err != nil {
		return nil, err
	}
	n, err := s.wait(ctx, tid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	if de := n.Err(); de != nil {
		return n, de
	}
	return n, nil
}

// wait blocks on the condition variable until the response arrives, the
// session closes, ctx ends or the timeout elapses.
func (s *Session) wait(ctx context.Context, tid int) (*dbgp.Node, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	deadline := time.Now().Add(s.cfg.ResponseTimeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if n, ok := s.responses[tid]; ok {
			delete(s.responses, tid)
			return n, nil
		}
		if s.closed {
			delete(s.waiting, tid)
			return nil, ErrSessionClosed
		}
		if err := ctx.Err(); err != nil {
			delete(s.waiting, tid)
			return nil, err
		}
		if !time.Now().Before(deadline) {
			delete(s.waiting, tid)
			return nil, ErrSessionTimeout
		}
		s.cond.Wait()
	}
}

// shutdown closes the connection and wakes every waiter.
func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if err != nil && !isClosedErr(err) {
			s.closeErr = err
		}
		s.cond.Broadcast()
		s.mu.Unlock()

		_ = s.conn.Close()
		s.cancel()
		close(s.done)

		if s.Status() != dbgp.StatusStopped {
			s.setStatus(dbgp.StatusStopped, dbgp.ReasonOK)
		}
		s.log.Info("session closed")

		if h := s.getHandlers().OnClosed; h != nil {
			h(s, s.Err())
		}
	})
}

func isClosedErr(err error) bool {
	return errors.Is(err, dbgp.ErrConnectionClosed) || errors.Is(err, net.ErrClosed)
}

// Close ends the session without telling the engine.
func (s *Session) Close() error {
	s.shutdown(nil)
	return nil
}
