package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dbgp/internal/app"
	"github.com/dshills/dbgp/internal/backend"
	"github.com/dshills/dbgp/internal/integration/debug"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// entries decodes a JSON log.
func (s *syncBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(strings.NewReader(s.String()))
	for sc.Scan() {
		var e map[string]any
		if err := json.Unmarshal(sc.Bytes(), &e); err == nil {
			out = append(out, e)
		}
	}
	return out
}

func (s *syncBuffer) find(t *testing.T, msg string) map[string]any {
	t.Helper()
	for _, e := range s.entries(t) {
		if e["msg"] == msg {
			return e
		}
	}
	return nil
}

type harness struct {
	opts   *rootOptions
	stdout *syncBuffer
	stderr *syncBuffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		opts:   &rootOptions{fs: afero.NewOsFs(), environ: func() []string { return nil }},
		stdout: &syncBuffer{},
		stderr: &syncBuffer{},
	}
}

func (h *harness) run(ctx context.Context, args ...string) error {
	root := newRootCmd(BuildInfo{Version: "1.2.3", Commit: "abc123", Date: "2026-10-01"}, h.opts)
	root.SetOut(h.stdout)
	root.SetErr(h.stderr)
	root.SetIn(strings.NewReader(""))
	return execute(ctx, root, h.opts, args)
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(context.Background(), "version"))
	assert.Equal(t, "dbgpd 1.2.3 (commit abc123, built 2026-10-01)\nDBGP protocol 1.0\n", h.stdout.String())
}

func TestBadConfigIsInvalid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dbgp.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[ide]\nport = -1\n"), 0o644))

	h := newHarness(t)
	err := h.run(context.Background(), "breakpoints", "list", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, 2, app.ExitCode(err))
	assert.Contains(t, err.Error(), "load "+cfgPath)
}

func TestBreakpointsCommands(t *testing.T) {
	dir := t.TempDir()
	bpFile := filepath.Join(dir, "state", "breakpoints.yaml")
	src := filepath.Join(dir, "main.lua")
	ctx := context.Background()
	base := []string{"--config", filepath.Join(dir, "none.toml"), "--file", bpFile}

	run := func(args ...string) string {
		t.Helper()
		h := newHarness(t)
		require.NoError(t, h.run(ctx, append(append([]string{"breakpoints"}, args...), base...)...))
		return h.stdout.String()
	}

	assert.Equal(t, "no breakpoints\n", run("list"))
	assert.Equal(t, "added 1: line main.lua:12\n", run("add", src+":12"))
	run("add", src+":40", "--condition", "n > 10")
	run("add", "--call", "handle_request", "--language", "lua", "--temporary")
	run("add", "--exception", "error", "--disabled")

	out := run("list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5, out)
	assert.Regexp(t, `^ID\s+TYPE\s+LOCATION`, lines[0])
	assert.Regexp(t, `^1\s+line\s+`+regexp.QuoteMeta(src)+`:12\s+enabled\s+any`, lines[1])
	assert.Regexp(t, `^2\s+conditional\s+.*:40\s+enabled\s+any\s+n > 10$`, lines[2])
	assert.Regexp(t, `^3\s+call\s+handle_request\s+enabled\s+lua`, lines[3])
	assert.Regexp(t, `^4\s+exception\s+error\s+disabled`, lines[4])

	run("remove", "2", "3")
	out = run("list")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3, out)
	assert.NotContains(t, out, "handle_request")

	run("clear")
	assert.Equal(t, "no breakpoints\n", run("list"))
}

func TestBreakpointsErrors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := []string{"--config", filepath.Join(dir, "none.toml")}

	h := newHarness(t)
	err := h.run(ctx, append([]string{"breakpoints", "list"}, cfg...)...)
	assert.ErrorIs(t, err, errNoBreakpointsFile)

	file := []string{"--file", filepath.Join(dir, "bp.yaml")}
	tests := [][]string{
		{"add"},
		{"add", "main.lua"},
		{"add", "main.lua:zero"},
		{"add", "main.lua:0"},
		{"add", "main.lua:3", "--call", "f"},
		{"add", "--call", "f", "--exception", "e"},
		{"remove", "first"},
	}
	for _, args := range tests {
		h := newHarness(t)
		full := append(append(append([]string{"breakpoints"}, args...), cfg...), file...)
		assert.Error(t, h.run(ctx, full...), "%v", args)
	}
}

func TestParseLocation(t *testing.T) {
	file, line, err := parseLocation("/srv/app/main.lua:7")
	require.NoError(t, err)
	assert.Equal(t, "/srv/app/main.lua", file)
	assert.Equal(t, 7, line)

	for _, bad := range []string{"", ":3", "main.lua", "main.lua:", "main.lua:-2"} {
		_, _, err := parseLocation(bad)
		assert.Error(t, err, bad)
	}
}

// scriptFrame is the single frame of a program walking through a file.
type scriptFrame struct {
	mu     sync.Mutex
	file   string
	line   int
	locals map[string]any
}

func (f *scriptFrame) Parent() backend.Frame   { return nil }
func (f *scriptFrame) Filename() string        { return f.file }
func (f *scriptFrame) Function() string        { return "main" }
func (f *scriptFrame) Hidden() bool            { return false }
func (f *scriptFrame) HideChildren() bool      { return false }
func (f *scriptFrame) Globals() map[string]any { return map[string]any{} }
func (f *scriptFrame) Locals() map[string]any  { return f.locals }

func (f *scriptFrame) Line() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.line
}

func (f *scriptFrame) SetLocal(name string, v any) error {
	f.locals[name] = v
	return nil
}

func (f *scriptFrame) setLine(n int) {
	f.mu.Lock()
	f.line = n
	f.mu.Unlock()
}

// runProgram connects an engine to addr and traces a program through
// lines 1 to 8 of file.
func runProgram(ctx context.Context, addr, file string) error {
	src := afero.NewMemMapFs()
	var b strings.Builder
	for i := 1; i <= 8; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	if err := afero.WriteFile(src, file, []byte(b.String()), 0o644); err != nil {
		return err
	}

	d := backend.New(backend.WithFs(src))
	c, err := d.Connect(ctx, backend.ConnectOptions{
		Address:  addr,
		IDEKey:   "dev",
		AppID:    "77",
		Filename: file,
		Stdin:    strings.NewReader(""),
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	})
	if err != nil {
		return err
	}
	frame := &scriptFrame{file: file, locals: map[string]any{"n": 5}}
	for line := 1; line <= 8; line++ {
		frame.setLine(line)
		if !c.Trace(backend.EventLine, frame, nil) {
			break
		}
	}
	c.Finish(ctx)
	return nil
}

func startListen(t *testing.T, ctx context.Context, h *harness, args ...string) (net.Addr, <-chan error) {
	t.Helper()
	ready := make(chan net.Addr, 1)
	h.opts.listenReady = func(a net.Addr) { ready <- a }

	done := make(chan error, 1)
	go func() {
		done <- h.run(ctx, append([]string{"listen", "--addr", "127.0.0.1", "--port", "0", "--log-format", "json"}, args...)...)
	}()

	select {
	case addr := <-ready:
		return addr, done
	case err := <-done:
		t.Fatalf("listen exited early: %v\n%s", err, h.stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("listen never became ready")
	}
	return nil, nil
}

func TestListenRunsSessionsToCompletion(t *testing.T) {
	dir := t.TempDir()
	bpFile := filepath.Join(dir, "breakpoints.yaml")
	src := filepath.Join(dir, "p.lua")
	cfgPath := filepath.Join(dir, "dbgp.toml")

	setup := newHarness(t)
	require.NoError(t, setup.run(context.Background(), "breakpoints", "add", src+":5", "--file", bpFile, "--config", cfgPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t)
	addr, done := startListen(t, ctx, h, "--config", cfgPath, "--breakpoints", bpFile, "--idekey", "dev", "--no-watch",
		"--watch-expr", "n * 2", "--watch-expr", "missing(")

	require.NoError(t, runProgram(ctx, addr.String(), src))

	require.Eventually(t, func() bool { return h.find(t, "session ended") != nil }, 5*time.Second, 20*time.Millisecond, h.stderr.String())

	stopped := h.find(t, "stopped")
	require.NotNil(t, stopped, h.stderr.String())
	assert.Equal(t, "main at p.lua:5", stopped["location"])
	assert.Equal(t, "77", stopped["appid"])
	watches := h.find(t, "watches")
	require.NotNil(t, watches, h.stderr.String())
	values, ok := watches["values"].([]any)
	require.True(t, ok, "values = %#v", watches["values"])
	require.Len(t, values, 2)
	assert.Contains(t, values[0], "n * 2")
	assert.Contains(t, values[0], "= 10")
	assert.Contains(t, values[1], "missing(: exception")
	assert.NotNil(t, h.find(t, "program finished"))
	assert.NotNil(t, h.find(t, "session started"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not exit")
	}

	data, err := os.ReadFile(bpFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "lineno: 5")
}

func (h *harness) find(t *testing.T, msg string) map[string]any {
	return h.stderr.find(t, msg)
}

func TestListenReloadsConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dbgp.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[ide]\nidekey = \"one\"\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t)
	_, done := startListen(t, ctx, h, "--config", cfgPath)

	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[ide]
idekey = "two"

[[ide.path_map]]
local = "/home/dev/app"
remote = "/srv/app"
`), 0o644))

	require.Eventually(t, func() bool { return h.find(t, "configuration reloaded") != nil }, 5*time.Second, 20*time.Millisecond, h.stderr.String())
	e := h.find(t, "configuration reloaded")
	assert.Equal(t, "two", e["idekey"])
	assert.EqualValues(t, 1, e["pathMaps"])

	// a broken edit keeps the running settings
	require.NoError(t, os.WriteFile(cfgPath, []byte("[ide\n"), 0o644))
	require.Eventually(t, func() bool {
		return h.find(t, "config reload failed, keeping the previous settings") != nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestListenRejectsBadPathMap(t *testing.T) {
	h := newHarness(t)
	err := h.run(context.Background(), "listen", "--config", "", "--port", "0", "--path-map", "nonsense")
	assert.ErrorIs(t, err, app.ErrInvalidConfig)
}

func TestConsole(t *testing.T) {
	output := make(chan string, 4)
	errs := make(chan error, 1)
	m := debug.NewManager(debug.ManagerConfig{
		Address: "127.0.0.1:0",
		IDEKey:  "console",
		Fs:      afero.NewMemMapFs(),
		Handlers: debug.SessionHandlers{
			OnOutput: func(_ *debug.Session, stream string, data []byte) {
				output <- stream + ":" + string(data)
			},
			OnStarted: func(s *debug.Session) {
				ctx := context.Background()
				if !s.Info().Interactive {
					errs <- fmt.Errorf("session is not interactive")
					return
				}
				_, _, err := s.Interact(ctx, "print(6 * 7)")
				if err == nil {
					err = s.Stop(ctx)
				}
				errs <- err
			},
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Listen(ctx))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	go func() { _ = m.Serve(ctx) }()

	h := newHarness(t)
	require.NoError(t, h.run(ctx, "console", "--config", "", "--connect", m.Addr().String(), "--idekey", "console"))

	require.NoError(t, <-errs)
	select {
	case out := <-output:
		assert.True(t, strings.HasPrefix(out, "stdout:42"), out)
	case <-time.After(5 * time.Second):
		t.Fatal("no console output")
	}
}
