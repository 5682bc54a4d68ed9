package backend

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/smallnest/chanx"

	"github.com/dshills/dbgp/internal/backend/property"
	"github.com/dshills/dbgp/internal/dbgp"
)

// DefaultAddress is where IDEs listen for engines.
const DefaultAddress = "localhost:9000"

// ProtocolVersion is the DBGP version the engine speaks.
const ProtocolVersion = "1.0"

// ConnectOptions describe one debugging session.
type ConnectOptions struct {
	// Address of the IDE or proxy, host:port.
	Address string
	IDEKey  string
	// Cookie is echoed in init as session. Empty generates one.
	Cookie string
	// AppID identifies the process. Empty uses the pid.
	AppID string
	// Thread names the debugged goroutine. Parent is the appid of the
	// session that spawned this one.
	Thread string
	Parent string
	// Filename is the program being debugged, sent as fileuri.
	Filename string
	// Interactive opens a console session with no program: the engine
	// starts in break and announces a prompt.
	Interactive bool
	// Attempts bounds dial retries.
	Attempts uint64

	// Stdin, Stdout and Stderr are the program's original streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (o *ConnectOptions) setDefaults() {
	if o.Address == "" {
		o.Address = DefaultAddress
	}
	if o.AppID == "" {
		o.AppID = strconv.Itoa(os.Getpid())
	}
	if o.Thread == "" {
		o.Thread = "main"
	}
	if o.Cookie == "" {
		o.Cookie = uuid.NewString()
	}
	if o.Attempts == 0 {
		o.Attempts = 5
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// features are the per-session values negotiated with feature_set.
type features struct {
	encoding         string
	dataEncoding     string
	maxChildren      int
	maxData          int
	maxDepth         int
	showHidden       bool
	notifyOK         bool
	multipleSessions bool
}

// request is one command line waiting for the command loop. done is
// closed once a continuation command has been processed.
type request struct {
	argv []string
	done chan struct{}
}

// stepPolicy says what happens when a walk up the stack reaches the
// bottom frame.
type stepPolicy int

const (
	policyContinue stepPolicy = iota
	policyStep
)

// Client is the engine side of one DBGP session. A Client belongs to a
// single goroutine of the debugged program: Trace, Finish and the
// command loop run on it, while a reader goroutine answers the commands
// allowed while the program runs.
type Client struct {
	dbg  *Debugger
	conn *dbgp.Conn
	log  logr.Logger
	opts ConnectOptions

	ctx    context.Context
	cancel context.CancelFunc
	queue  *chanx.UnboundedChan[*request]

	mu        sync.Mutex
	status    dbgp.Status
	reason    dbgp.Reason
	lastError string
	contTID   string
	contCmd   string
	feat      features
	closeOnce sync.Once

	quitting  atomic.Bool
	detached  atomic.Bool
	interrupt atomic.Bool

	// Stepping state. Only the program goroutine touches these.
	started          bool
	botframe         Frame
	stopframe        Frame
	returnframe      Frame
	policy           stepPolicy
	breakOnFirstCall bool
	resume           string
	current          Frame
	stack            []Frame

	interactMode bool
	interactBuf  []string
	// Variables of a console session with no program frames.
	shellGlobals map[string]any
	shellLocals  map[string]any

	stdout *streamOut
	stderr *streamOut
	stdin  *streamIn
}

// Connect dials the IDE, retrying with exponential back-off, and runs
// the session until the IDE issues the first continuation command.
func (d *Debugger) Connect(ctx context.Context, opts ConnectOptions) (*Client, error) {
	opts.setDefaults()

	var conn *dbgp.Conn
	dial := func() error {
		c, err := dbgp.Dial(ctx, opts.Address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), opts.Attempts), ctx)
	notify := func(err error, wait time.Duration) {
		d.log.Info("IDE not reachable, retrying", "address", opts.Address, "error", err.Error(), "wait", wait)
	}
	if err := backoff.RetryNotify(dial, b, notify); err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.Address, err)
	}
	return d.attach(ctx, conn, opts)
}

// Attach runs a session over an established connection.
func (d *Debugger) Attach(ctx context.Context, conn net.Conn, opts ConnectOptions) (*Client, error) {
	opts.setDefaults()
	return d.attach(ctx, dbgp.NewConn(conn), opts)
}

func (d *Debugger) attach(ctx context.Context, conn *dbgp.Conn, opts ConnectOptions) (*Client, error) {
	c := newClient(ctx, d, conn, opts)

	if err := c.send(c.initElement()); err != nil {
		c.Quit()
		return nil, fmt.Errorf("send init: %w", err)
	}
	c.log.Info("session started", "address", conn.RemoteAddr().String())

	go c.readLoop()

	c.commandLoop()
	c.applyResume(nil)
	return c, nil
}

func newClient(ctx context.Context, d *Debugger, conn *dbgp.Conn, opts ConnectOptions) *Client {
	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		dbg:    d,
		conn:   conn,
		log:    d.log.WithName("engine").WithValues("appid", opts.AppID, "thread", opts.Thread),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		queue:  chanx.NewUnboundedChan[*request](ctx, 8),
		status: dbgp.StatusStarting,
		feat: features{
			encoding:     "UTF-8",
			dataEncoding: "base64",
			maxChildren:  d.opts.MaxChildren,
			maxData:      d.opts.MaxData,
			maxDepth:     d.opts.MaxDepth,
			showHidden:   d.opts.ShowHidden,
		},
		breakOnFirstCall: d.opts.BreakOnFirstCall,
		shellGlobals:     make(map[string]any),
		shellLocals:      make(map[string]any),
	}
	if opts.Interactive {
		c.status = dbgp.StatusInteractive
		c.interactMode = true
	}
	c.stdout = &streamOut{client: c, kind: "stdout", orig: opts.Stdout}
	c.stderr = &streamOut{client: c, kind: "stderr", orig: opts.Stderr}
	c.stdin = newStreamIn(c, opts.Stdin)
	return c
}

func (c *Client) initElement() *dbgp.Element {
	hostname, _ := os.Hostname()
	el := dbgp.NewElement("init").
		Attr("xmlns", dbgp.Namespace).
		Attr("appid", c.opts.AppID).
		Attr("idekey", c.opts.IDEKey).
		Attr("session", c.opts.Cookie).
		Attr("thread", c.opts.Thread).
		Attr("parent", c.opts.Parent).
		Attr("language", c.dbg.opts.Language).
		Attr("protocol_version", ProtocolVersion).
		Attr("hostname", hostname)
	if c.opts.Interactive {
		el.Attr("interactive", ">>> ")
	} else {
		el.Attr("fileuri", dbgp.FileURI(c.dbg.canonicPath(c.opts.Filename)))
	}
	if c.dbg.profile != nil {
		el.Attr("type", "code_profiling")
	}
	return el
}

// canonicPath is Canonic for paths that may be empty.
func (d *Debugger) canonicPath(name string) string {
	if name == "" {
		return ""
	}
	return d.Canonic(name)
}

// send writes one message. A failed write ends the session.
func (c *Client) send(el *dbgp.Element) error {
	if err := c.conn.Send(el.Bytes()); err != nil {
		c.log.V(1).Info("send failed", "error", err.Error())
		c.lost()
		return err
	}
	return nil
}

// sendError reports a failed command.
func (c *Client) sendError(command, tid string, err error) {
	de := asError(err)
	c.mu.Lock()
	c.lastError = de.Message
	c.mu.Unlock()
	_ = c.send(dbgp.NewErrorResponse(command, tid, de))
}

// readLoop reads commands until the connection closes. While the
// program runs it answers async commands itself; everything else is
// queued for the command loop.
func (c *Client) readLoop() {
	defer close(c.queue.In)

	for {
		line, err := c.conn.ReceiveCommand()
		if err != nil {
			if c.ctx.Err() == nil && !c.quitting.Load() && !c.detached.Load() {
				c.log.Info("connection closed by IDE", "error", err.Error())
			}
			c.lost()
			return
		}

		argv, err := dbgp.Line2Argv(line)
		if err != nil {
			c.sendError("", "-1", err)
			continue
		}
		if len(argv) == 0 {
			continue
		}
		if c.handleWhileRunning(argv) {
			continue
		}

		req := &request{argv: argv}
		if dbgp.IsContinuation(argv[0]) {
			req.done = make(chan struct{})
		}
		select {
		case c.queue.In <- req:
		case <-c.ctx.Done():
			return
		}
		if req.done != nil {
			select {
			case <-req.done:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// commandLoop serves queued commands until one of them resumes
// execution, the session ends or the context is cancelled.
func (c *Client) commandLoop() {
	c.resume = ""
	for c.resume == "" && !c.finished() {
		select {
		case req, ok := <-c.queue.Out:
			if !ok {
				c.lost()
				return
			}
			c.dispatch(req.argv)
			if req.done != nil {
				close(req.done)
			}
		case <-c.ctx.Done():
			c.lost()
			return
		}
	}
}

// finished reports whether the session no longer traces.
func (c *Client) finished() bool {
	return c.quitting.Load() || c.detached.Load()
}

// lost ends the session after the IDE went away. The program keeps
// running untraced.
func (c *Client) lost() {
	if !c.quitting.Load() {
		c.detached.Store(true)
	}
	c.close()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.stdin.stop()
		c.cancel()
		_ = c.conn.Close()
	})
}

// Status returns the session status.
func (c *Client) Status() dbgp.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(s dbgp.Status, r dbgp.Reason) {
	c.mu.Lock()
	c.status, c.reason = s, r
	c.mu.Unlock()
}

// Quitting reports whether the IDE asked the program to stop.
func (c *Client) Quitting() bool {
	return c.quitting.Load()
}

// Detached reports whether the session ended without stopping the
// program.
func (c *Client) Detached() bool {
	return c.detached.Load()
}

// Break asks the engine to stop at the next traced line, as if the IDE
// had sent break.
func (c *Client) Break() {
	c.interrupt.Store(true)
}

// Quit closes the session immediately.
func (c *Client) Quit() {
	c.quitting.Store(true)
	c.setStatus(dbgp.StatusStopped, dbgp.ReasonAborted)
	c.close()
}

// Finish tells the IDE that the program reached its end. The engine
// reports stopping and keeps serving commands until the IDE sends stop
// or detach, closes the connection, or ctx is done.
func (c *Client) Finish(ctx context.Context) {
	if c.finished() {
		c.close()
		return
	}
	c.sendContinuation(dbgp.StatusStopping, dbgp.ReasonOK)

	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()
	for !c.finished() {
		c.commandLoop()
	}
	c.setStatus(dbgp.StatusStopped, dbgp.ReasonOK)
	c.close()
}

// sendContinuation answers the pending continuation command, if any,
// with the new status.
func (c *Client) sendContinuation(status dbgp.Status, reason dbgp.Reason) {
	c.mu.Lock()
	c.status, c.reason = status, reason
	tid, cmd := c.contTID, c.contCmd
	c.contTID, c.contCmd = "", ""
	c.mu.Unlock()

	if tid == "" {
		return
	}
	el := dbgp.NewResponse(cmd, tid).
		Attr("status", status.String()).
		Attr("reason", reason.String())
	if status == dbgp.StatusInteractive {
		el.Attr("prompt", ">>> ").AttrInt("more", 0)
	}
	_ = c.send(el)
}

// propertyOptions returns the serializer budgets currently negotiated.
func (c *Client) propertyOptions() property.Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return property.Options{
		MaxChildren: c.feat.maxChildren,
		MaxData:     c.feat.maxData,
		MaxDepth:    c.feat.maxDepth,
		Encoding:    c.feat.dataEncoding,
		ShowHidden:  c.feat.showHidden,
	}
}

// Stdout returns a writer that copies or redirects to the IDE as the
// IDE requested with the stdout command.
func (c *Client) Stdout() io.Writer { return c.stdout }

// Stderr is Stdout for the error stream.
func (c *Client) Stderr() io.Writer { return c.stderr }

// Stdin returns a reader fed by the IDE once it enabled stdin
// redirection, and by the original stdin otherwise.
func (c *Client) Stdin() io.Reader { return c.stdin }
