package debug

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dbgp/internal/dbgp"
)

// fakeProxy answers proxyinit and proxystop on a TCP socket.
type fakeProxy struct {
	ln     net.Listener
	framed bool
	refuse bool

	mu   sync.Mutex
	cmds [][]string
}

func newFakeProxy(t *testing.T, framed bool) *fakeProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &fakeProxy{ln: ln, framed: framed}
	t.Cleanup(func() { _ = ln.Close() })
	go p.serve()
	return p
}

func (p *fakeProxy) serve() {
	for {
		c, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.handle(c)
	}
}

func (p *fakeProxy) handle(c net.Conn) {
	defer c.Close()
	line, err := dbgp.ReadCommand(bufio.NewReader(c))
	if err != nil {
		return
	}
	argv, err := dbgp.Line2Argv(line)
	if err != nil || len(argv) == 0 {
		return
	}
	p.mu.Lock()
	p.cmds = append(p.cmds, argv)
	refuse := p.refuse
	p.mu.Unlock()

	el := dbgp.NewElement(argv[0]).AttrBool("success", !refuse)
	switch {
	case refuse:
		el.Child(dbgp.NewElement("error").AttrInt("id", 3).
			Child(dbgp.NewElement("message").CDATA("key already registered")))
	case argv[0] == "proxyinit":
		el.Attr("idekey", optValue(argv, "-k")).Attr("address", "10.0.0.5").AttrInt("port", 9001)
	}
	if p.framed {
		_ = dbgp.WriteMessage(c, el.Bytes())
		return
	}
	_, _ = c.Write(el.Bytes())
}

func (p *fakeProxy) commands() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.cmds...)
}

func TestProxyRegister(t *testing.T) {
	for _, framed := range []bool{true, false} {
		name := "raw"
		if framed {
			name = "framed"
		}
		t.Run(name, func(t *testing.T) {
			fp := newFakeProxy(t, framed)
			pc := NewProxyClient(ProxyConfig{Address: fp.ln.Addr().String(), Port: 9123, IDEKey: "dev"})

			ctx := testContext(t)
			require.NoError(t, pc.Register(ctx))
			assert.True(t, pc.Registered())
			addr, port := pc.EngineAddress()
			assert.Equal(t, "10.0.0.5", addr)
			assert.Equal(t, 9001, port)

			require.NoError(t, pc.Deregister(ctx))
			assert.False(t, pc.Registered())

			cmds := fp.commands()
			require.Len(t, cmds, 2)
			assert.Equal(t, []string{"proxyinit", "-p", "9123", "-k", "dev", "-m", "1"}, cmds[0])
			assert.Equal(t, []string{"proxystop", "-k", "dev"}, cmds[1])
		})
	}
}

func TestProxyRefusalIsNotRetried(t *testing.T) {
	fp := newFakeProxy(t, true)
	fp.mu.Lock()
	fp.refuse = true
	fp.mu.Unlock()
	pc := NewProxyClient(ProxyConfig{Address: fp.ln.Addr().String(), Port: 9000, IDEKey: "dev", Attempts: 5})

	err := pc.Register(testContext(t))
	require.Error(t, err)
	assert.False(t, pc.Registered())
	assert.Len(t, fp.commands(), 1)
}

func TestProxyUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	pc := NewProxyClient(ProxyConfig{Address: addr, Port: 9000, IDEKey: "dev", Attempts: 1})
	err = pc.Register(testContext(t))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), addr))
}

func TestProxySetKey(t *testing.T) {
	fp := newFakeProxy(t, true)
	pc := NewProxyClient(ProxyConfig{Address: fp.ln.Addr().String(), Port: 9000, IDEKey: "old"})
	ctx := testContext(t)

	// not registered: only the key changes
	require.NoError(t, pc.SetKey(ctx, "first"))
	assert.Equal(t, "first", pc.Key())
	assert.Empty(t, fp.commands())

	require.NoError(t, pc.Register(ctx))
	require.NoError(t, pc.SetKey(ctx, "second"))
	assert.True(t, pc.Registered())

	var names []string
	for _, c := range fp.commands() {
		names = append(names, c[0]+" "+optValue(c, "-k"))
	}
	assert.Equal(t, []string{"proxyinit first", "proxystop first", "proxyinit second"}, names)

	// unchanged key is a no-op
	require.NoError(t, pc.SetKey(ctx, "second"))
	assert.Len(t, fp.commands(), 3)
}
