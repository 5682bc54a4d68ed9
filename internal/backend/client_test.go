package backend

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dbgp/internal/dbgp"
)

// fakeIDE accepts one engine connection and talks DBGP to it.
type fakeIDE struct {
	t    *testing.T
	ln   net.Listener
	conn *dbgp.Conn
}

func newFakeIDE(t *testing.T) *fakeIDE {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return &fakeIDE{t: t, ln: ln}
}

func (i *fakeIDE) addr() string { return i.ln.Addr().String() }

// accept waits for the engine and returns its init packet.
func (i *fakeIDE) accept() *dbgp.Node {
	i.t.Helper()
	conn, err := i.ln.Accept()
	require.NoError(i.t, err)
	require.NoError(i.t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	i.conn = dbgp.NewConn(conn)
	i.t.Cleanup(func() { _ = i.conn.Close() })
	return i.recv()
}

func (i *fakeIDE) recv() *dbgp.Node {
	i.t.Helper()
	msg, err := i.conn.Receive()
	require.NoError(i.t, err)
	node, err := dbgp.ParseNode(msg)
	require.NoError(i.t, err)
	return node
}

func (i *fakeIDE) send(cmd string) {
	i.t.Helper()
	require.NoError(i.t, i.conn.SendCommand(cmd))
}

// response reads the next message that is not a notification.
func (i *fakeIDE) response() *dbgp.Node {
	i.t.Helper()
	for {
		node := i.recv()
		if node.Name != "notify" {
			return node
		}
	}
}

func (i *fakeIDE) call(cmd string) *dbgp.Node {
	i.t.Helper()
	i.send(cmd)
	return i.response()
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// program runs fn as the debugged goroutine and reports when it ends.
func program(t *testing.T, d *Debugger, addr string, opts ConnectOptions, fn func(c *Client)) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	opts.Address = addr
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	go func() {
		defer close(done)
		defer cancel()
		c, err := d.Connect(ctx, opts)
		if err != nil {
			t.Errorf("connect: %v", err)
			return
		}
		if fn != nil {
			fn(c)
		}
		c.Finish(ctx)
	}()
	return done
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("program did not finish")
	}
}

func TestSessionRunToCompletion(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	done := program(t, d, ide.addr(), ConnectOptions{IDEKey: "dev", AppID: "1234", Filename: "/p"}, func(c *Client) {
		c.Trace(EventLine, &fakeFrame{file: "/p", line: 3}, nil)
	})

	hello := ide.accept()
	assert.Equal(t, "init", hello.Name)
	assert.Equal(t, "1234", hello.Attr("appid"))
	assert.Equal(t, "dev", hello.Attr("idekey"))
	assert.Equal(t, "go", hello.Attr("language"))
	assert.Equal(t, "1.0", hello.Attr("protocol_version"))
	assert.Equal(t, "file:///p", hello.Attr("fileuri"))
	assert.Equal(t, "main", hello.Attr("thread"))
	assert.NotEmpty(t, hello.Attr("session"))

	resp := ide.call("run -i 1")
	assert.Equal(t, "run", resp.Attr("command"))
	assert.Equal(t, "1", resp.Attr("transaction_id"))
	assert.Equal(t, "stopping", resp.Attr("status"))
	assert.Equal(t, "ok", resp.Attr("reason"))

	resp = ide.call("stop -i 2")
	assert.Equal(t, "stopped", resp.Attr("status"))
	wait(t, done)
}

func TestSessionLineBreakpoint(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	done := program(t, d, ide.addr(), ConnectOptions{Filename: "/p"}, func(c *Client) {
		main := &fakeFrame{file: "/p", line: 40, fn: "main", locals: map[string]any{"n": 7}}
		for line := 40; line <= 44; line++ {
			main.line = line
			if !c.Trace(EventLine, main, nil) {
				return
			}
		}
	})
	ide.accept()

	resp := ide.call("breakpoint_set -i 1 -t line -f file:///p -n 42")
	require.Nil(t, resp.Err())
	id := resp.Attr("id")
	assert.NotEmpty(t, id)
	assert.Equal(t, "enabled", resp.Attr("state"))

	resp = ide.call("run -i 2")
	assert.Equal(t, "2", resp.Attr("transaction_id"))
	assert.Equal(t, "break", resp.Attr("status"))
	assert.Equal(t, "ok", resp.Attr("reason"))

	resp = ide.call("stack_get -i 3")
	frames := resp.ChildrenNamed("stack")
	require.Len(t, frames, 1)
	assert.Equal(t, "42", frames[0].Attr("lineno"))
	assert.Equal(t, "file:///p", frames[0].Attr("filename"))
	assert.Equal(t, "main", frames[0].Attr("where"))
	assert.Equal(t, "file", frames[0].Attr("type"))

	resp = ide.call("breakpoint_get -i 4 -d " + id)
	bp := resp.Child("breakpoint")
	require.NotNil(t, bp)
	assert.Equal(t, "1", bp.Attr("hit_count"))

	resp = ide.call("context_get -i 5")
	props := resp.ChildrenNamed("property")
	require.Len(t, props, 1)
	assert.Equal(t, "n", props[0].Child("name").StringValue())
	assert.Equal(t, "7", props[0].Child("value").StringValue())

	resp = ide.call("run -i 6")
	assert.Equal(t, "stopping", resp.Attr("status"))
	ide.call("stop -i 7")
	wait(t, done)
}

func TestSessionConditionalFailsOpen(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	done := program(t, d, ide.addr(), ConnectOptions{Filename: "/p"}, func(c *Client) {
		c.Trace(EventLine, &fakeFrame{file: "/p", line: 5}, nil)
	})
	ide.accept()

	resp := ide.call("breakpoint_set -i 1 -t conditional -f /p -n 5 -- " + b64("x >"))
	require.Nil(t, resp.Err())

	resp = ide.call("run -i 2")
	assert.Equal(t, "break", resp.Attr("status"))

	resp = ide.call("run -i 3")
	assert.Equal(t, "stopping", resp.Attr("status"))
	ide.call("stop -i 4")
	wait(t, done)
}

func TestSessionWatchBreakpoint(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	values := []int{0, 0, 1, 1, 2}
	done := program(t, d, ide.addr(), ConnectOptions{Filename: "/p"}, func(c *Client) {
		frame := &fakeFrame{file: "/p", line: 8, locals: map[string]any{}}
		for _, v := range values {
			frame.locals["counter"] = v
			if !c.Trace(EventLine, frame, nil) {
				return
			}
		}
	})
	ide.accept()

	resp := ide.call("breakpoint_set -i 1 -t watch -- " + b64("counter"))
	require.Nil(t, resp.Err())

	var seen []string
	tid := 2
	for {
		resp = ide.call("run -i " + strconv.Itoa(tid))
		tid++
		if resp.Attr("status") != "break" {
			break
		}
		v := ide.call("property_value -i " + strconv.Itoa(tid) + " -n counter")
		tid++
		seen = append(seen, v.StringValue())
	}
	assert.Equal(t, []string{"0", "1", "2"}, seen)
	ide.call("stop -i " + strconv.Itoa(tid))
	wait(t, done)
}

func TestSessionPropertyPaging(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	arr := make([]int, 100)
	for i := range arr {
		arr[i] = i
	}
	done := program(t, d, ide.addr(), ConnectOptions{Filename: "/p"}, func(c *Client) {
		c.Trace(EventLine, &fakeFrame{file: "/p", line: 1, locals: map[string]any{"arr": arr}}, nil)
	})
	ide.accept()

	resp := ide.call("feature_set -i 1 -n max_children -v 32")
	assert.Equal(t, "1", resp.Attr("success"))

	resp = ide.call("step_into -i 2")
	assert.Equal(t, "break", resp.Attr("status"))

	resp = ide.call("property_get -i 3 -n arr -p 2")
	require.Nil(t, resp.Err())
	prop := resp.Child("property")
	require.NotNil(t, prop)
	assert.Equal(t, "2", prop.Attr("page"))
	assert.Equal(t, "32", prop.Attr("pagesize"))
	assert.Equal(t, "100", prop.Attr("numchildren"))
	children := prop.ChildrenNamed("property")
	require.Len(t, children, 32)
	assert.Equal(t, "64", children[0].Child("value").StringValue())
	assert.Equal(t, "95", children[31].Child("value").StringValue())

	resp = ide.call("property_get -i 4 -n missing")
	require.NotNil(t, resp.Err())
	assert.Equal(t, dbgp.ErrorPropertyDoesNotExist, resp.Err().Code)

	resp = ide.call("eval -i 5 -- " + b64("#arr + 1"))
	require.Nil(t, resp.Err())
	assert.Equal(t, "101", resp.Child("property").Child("value").StringValue())

	resp = ide.call("property_set -i 6 -n arr[0] -- " + b64("41 + 1"))
	assert.Equal(t, "1", resp.Attr("success"))
	assert.Equal(t, 42, arr[0])

	resp = ide.call("context_get -i 7 -c 5")
	assert.Equal(t, dbgp.ErrorContextInvalid, resp.Err().Code)
	resp = ide.call("stack_get -i 8 -d 3")
	assert.Equal(t, dbgp.ErrorStackDepth, resp.Err().Code)

	ide.call("run -i 9")
	ide.call("stop -i 10")
	wait(t, done)
}

func TestSessionAsyncBreakAndRunningCommands(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	done := program(t, d, ide.addr(), ConnectOptions{Filename: "/p"}, func(c *Client) {
		frame := &fakeFrame{file: "/p", line: 2}
		for i := 0; i < 10000 && c.Trace(EventLine, frame, nil); i++ {
			time.Sleep(time.Millisecond)
		}
	})
	ide.accept()

	ide.send("run -i 1")
	time.Sleep(20 * time.Millisecond)

	resp := ide.call("status -i 2")
	assert.Equal(t, "running", resp.Attr("status"))

	resp = ide.call("stack_get -i 3")
	require.NotNil(t, resp.Err())
	assert.Equal(t, dbgp.ErrorCommandNotAvailable, resp.Err().Code)

	resp = ide.call("break -i 4")
	assert.Equal(t, "1", resp.Attr("success"))

	resp = ide.recv()
	assert.Equal(t, "run", resp.Attr("command"))
	assert.Equal(t, "break", resp.Attr("status"))

	resp = ide.call("break -i 5")
	assert.Equal(t, dbgp.ErrorCommandNotAvailable, resp.Err().Code)

	resp = ide.call("stop -i 6")
	assert.Equal(t, "stopped", resp.Attr("status"))
	wait(t, done)
}

func TestSessionCommandErrors(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	done := program(t, d, ide.addr(), ConnectOptions{Filename: "/p"}, nil)
	ide.accept()

	resp := ide.call("bogus -i 1")
	assert.Equal(t, dbgp.ErrorCommandNotSupported, resp.Err().Code)
	assert.Equal(t, "1", resp.Attr("transaction_id"))

	resp = ide.call("breakpoint_get -i 2")
	assert.Equal(t, dbgp.ErrorInvalidArgs, resp.Err().Code)

	resp = ide.call("breakpoint_get -i 3 -d 99")
	assert.Equal(t, dbgp.ErrorBreakpointDoesNotExist, resp.Err().Code)

	resp = ide.call("breakpoint_set -i 4 -t line -f /p -n 999")
	assert.Equal(t, dbgp.ErrorBreakpointInvalidLine, resp.Err().Code)

	resp = ide.call("status -i 5")
	assert.Equal(t, "starting", resp.Attr("status"))
	assert.Contains(t, resp.Text, "does not exist")

	resp = ide.call("source -i 6 -f /nope")
	assert.Equal(t, dbgp.ErrorFileAccess, resp.Err().Code)

	resp = ide.call("detach -i 7")
	assert.Equal(t, "stopped", resp.Attr("status"))
	wait(t, done)
}

func TestSessionFeatures(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	done := program(t, d, ide.addr(), ConnectOptions{Filename: "/p"}, nil)
	ide.accept()

	resp := ide.call("feature_get -i 1 -n language_name")
	assert.Equal(t, "1", resp.Attr("supported"))
	assert.Equal(t, "go", resp.StringValue())

	resp = ide.call("feature_get -i 2 -n breakpoint_set")
	assert.Equal(t, "1", resp.Attr("supported"))

	resp = ide.call("feature_get -i 3 -n teleport")
	assert.Equal(t, "0", resp.Attr("supported"))

	resp = ide.call("feature_set -i 4 -n encoding -v klingon")
	assert.Equal(t, dbgp.ErrorEncoding, resp.Err().Code)

	resp = ide.call("feature_set -i 5 -n encoding -v iso-8859-1")
	assert.Equal(t, "1", resp.Attr("success"))

	resp = ide.call("feature_set -i 6 -n language_name -v lua")
	assert.Equal(t, dbgp.ErrorInvalidArgs, resp.Err().Code)

	resp = ide.call("source -i 7 -f /p -b 2 -e 3")
	require.Nil(t, resp.Err())
	assert.Equal(t, "line 2\nline 3\n", resp.StringValue())

	resp = ide.call("typemap_get -i 8")
	maps := resp.ChildrenNamed("map")
	require.NotEmpty(t, maps)
	assert.Equal(t, "bool", maps[0].Attr("name"))
	assert.Equal(t, "xsd:boolean", maps[0].Attr("xsi:type"))

	resp = ide.call("context_names -i 9")
	ctxs := resp.ChildrenNamed("context")
	require.Len(t, ctxs, 2)
	assert.Equal(t, "Locals", ctxs[0].Attr("name"))
	assert.Equal(t, "1", ctxs[1].Attr("id"))

	resp = ide.call("help -i 10")
	assert.Contains(t, resp.Text, "breakpoint_set")

	ide.call("stop -i 11")
	wait(t, done)
}

func TestSessionStreams(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	var got string
	done := program(t, d, ide.addr(), ConnectOptions{Filename: "/p"}, func(c *Client) {
		_, _ = io.WriteString(c.Stdout(), "hello")
		b, _ := io.ReadAll(c.Stdin())
		got = string(b)
	})
	ide.accept()

	assert.Equal(t, "1", ide.call("stdout -i 1 -c 2").Attr("success"))
	assert.Equal(t, dbgp.ErrorStreamRedirectFailed, ide.call("stdout -i 2 -c 2").Err().Code)
	assert.Equal(t, dbgp.ErrorStreamRedirectFailed, ide.call("stdin -i 3 -- "+b64("x")).Err().Code)
	assert.Equal(t, "1", ide.call("stdin -i 4 -c 1").Attr("success"))
	assert.Equal(t, "1", ide.call("feature_set -i 5 -n notify_ok -v 1").Attr("success"))

	ide.send("run -i 6")

	stream := ide.recv()
	assert.Equal(t, "stream", stream.Name)
	assert.Equal(t, "stdout", stream.Attr("type"))
	assert.Equal(t, "hello", stream.StringValue())

	notify := ide.recv()
	assert.Equal(t, "notify", notify.Name)
	assert.Equal(t, "stdin", notify.Attr("name"))

	assert.Equal(t, "1", ide.call("stdin -i 7 -- "+b64("typed")).Attr("success"))
	assert.Equal(t, "1", ide.call("stdin -i 8 --").Attr("success"))

	resp := ide.response()
	assert.Equal(t, "6", resp.Attr("transaction_id"))
	assert.Equal(t, "stopping", resp.Attr("status"))
	ide.call("stop -i 9")
	wait(t, done)
	assert.Equal(t, "typed", got)
}

func TestSessionInteractiveConsole(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	done := program(t, d, ide.addr(), ConnectOptions{Interactive: true}, nil)

	hello := ide.accept()
	assert.Equal(t, ">>> ", hello.Attr("interactive"))
	assert.False(t, hello.HasAttr("fileuri"))

	resp := ide.call("interact -i 1 -- " + b64("x = 40 + 2"))
	assert.Equal(t, "interactive", resp.Attr("status"))
	assert.Equal(t, "0", resp.Attr("more"))
	assert.Equal(t, ">>> ", resp.Attr("prompt"))

	resp = ide.call("interact -i 2 -- " + b64("for i = 1, 2 do"))
	assert.Equal(t, "1", resp.Attr("more"))
	assert.Equal(t, "... ", resp.Attr("prompt"))

	resp = ide.call("interact -i 3 -- " + b64("end"))
	assert.Equal(t, "0", resp.Attr("more"))

	ide.send("interact -i 4 -- " + b64("x"))
	out := ide.recv()
	assert.Equal(t, "stream", out.Name)
	assert.Equal(t, "42\n", out.StringValue())
	resp = ide.recv()
	assert.Equal(t, "4", resp.Attr("transaction_id"))

	resp = ide.call("interact -i 5 -m 0")
	assert.Equal(t, "stopped", resp.Attr("status"))
	wait(t, done)
}

func TestSessionIDEGoesAway(t *testing.T) {
	ide := newFakeIDE(t)
	d := newTestDebugger(t)
	var traced []bool
	done := program(t, d, ide.addr(), ConnectOptions{Filename: "/p"}, func(c *Client) {
		frame := &fakeFrame{file: "/p", line: 3}
		traced = append(traced, c.Trace(EventLine, frame, nil))
		traced = append(traced, c.Trace(EventLine, frame, nil))
	})
	ide.accept()

	resp := ide.call("step_into -i 1")
	assert.Equal(t, "break", resp.Attr("status"))
	require.NoError(t, ide.conn.Close())

	wait(t, done)
	assert.Equal(t, []bool{false, false}, traced)
}

func TestConnectRetriesUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = New().Connect(ctx, ConnectOptions{Address: addr, Attempts: 100})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), addr))
}
