package debug

import (
	"strings"
	"testing"

	"github.com/dshills/dbgp/internal/dbgp"
)

func parseTestNode(t *testing.T, el *dbgp.Element) *dbgp.Node {
	t.Helper()
	n, err := dbgp.ParseNode(el.Bytes())
	if err != nil {
		t.Fatalf("ParseNode: %v", err)
	}
	return n
}

func TestParseStackFrame(t *testing.T) {
	pm := NewPathMap(Mapping{Local: "/home/dev/proj", Remote: "/srv/app"})
	tests := []struct {
		name     string
		filename string
		kind     string
		want     string
	}{
		{"mapped file", "file:///srv/app/lib/util.lua", "file", "/home/dev/proj/lib/util.lua"},
		{"unmapped file", "file:///usr/share/lua/x.lua", "file", "/usr/share/lua/x.lua"},
		{"eval frame", "dbgp:///eval/3", "eval", "<eval>"},
		{"dbgp uri", "dbgp:///string", "", "<string>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := dbgp.NewElement("stack").AttrInt("level", 2).Attr("type", tt.kind).
				Attr("filename", tt.filename).AttrInt("lineno", 14).Attr("where", "util.go")
			f := parseStackFrame(parseTestNode(t, el), pm)
			if f.Filename != tt.want {
				t.Errorf("Filename = %q, want %q", f.Filename, tt.want)
			}
			if f.URI != tt.filename {
				t.Errorf("URI = %q, want %q", f.URI, tt.filename)
			}
			if f.Level != 2 || f.Line != 14 || f.Where != "util.go" {
				t.Errorf("unexpected frame %+v", f)
			}
		})
	}
}

func TestStackFrame_FormatLocation(t *testing.T) {
	tests := []struct {
		name     string
		frame    *StackFrame
		expected string
	}{
		{"with file", &StackFrame{Filename: "/path/to/main.lua", Line: 42}, "main.lua:42"},
		{"no file", &StackFrame{Line: 10}, "<unknown>:10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.FormatLocation(); got != tt.expected {
				t.Errorf("FormatLocation() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestCallStack_CurrentFrame(t *testing.T) {
	stack := &CallStack{
		Frames: []*StackFrame{
			{Level: 0, Where: "inner"},
			{Level: 1, Where: "outer"},
		},
		CurrentFrameIndex: 1,
	}
	if f := stack.CurrentFrame(); f == nil || f.Where != "outer" {
		t.Errorf("CurrentFrame() = %+v, want outer", f)
	}
	if stack.IsAtTop() {
		t.Error("IsAtTop() = true at index 1")
	}
	if !stack.IsAtBottom() {
		t.Error("IsAtBottom() = false at the outermost frame")
	}

	stack.CurrentFrameIndex = 5
	if stack.CurrentFrame() != nil {
		t.Error("CurrentFrame() should be nil when out of range")
	}

	var empty *CallStack
	if empty.CurrentFrame() != nil {
		t.Error("nil stack should have no current frame")
	}
}

func TestStackNavigator(t *testing.T) {
	nav := NewStackNavigator(nil)

	if err := nav.SelectFrameUp(); err == nil {
		t.Error("SelectFrameUp without a stack should fail")
	}
	if nav.FormatStackTrace() != "" {
		t.Error("FormatStackTrace without a stack should be empty")
	}

	nav.Set([]*StackFrame{
		{Level: 0, Filename: "/src/a.lua", Line: 3, Where: "inner"},
		{Level: 1, Filename: "/src/b.lua", Line: 9, Where: "middle"},
		{Level: 2, Filename: "/src/c.lua", Line: 1, Where: "main"},
	})

	if err := nav.SelectFrameDown(); err == nil {
		t.Error("SelectFrameDown at the top should fail")
	}
	if err := nav.SelectFrameUp(); err != nil {
		t.Fatalf("SelectFrameUp: %v", err)
	}
	if f := nav.CurrentFrame(); f.Where != "middle" {
		t.Errorf("current frame = %s, want middle", f.Where)
	}
	if err := nav.SelectFrame(2); err != nil {
		t.Fatalf("SelectFrame(2): %v", err)
	}
	if err := nav.SelectFrameUp(); err == nil {
		t.Error("SelectFrameUp at the bottom should fail")
	}
	if err := nav.SelectFrame(3); err == nil {
		t.Error("SelectFrame(3) should be out of range")
	}

	trace := nav.FormatStackTrace()
	lines := strings.Split(strings.TrimRight(trace, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("trace has %d lines:\n%s", len(lines), trace)
	}
	if lines[2] != "> #2 main at c.lua:1" {
		t.Errorf("selected line = %q", lines[2])
	}
	if lines[0] != "  #0 inner at a.lua:3" {
		t.Errorf("first line = %q", lines[0])
	}

	nav.Clear()
	if nav.CurrentFrame() != nil {
		t.Error("CurrentFrame after Clear should be nil")
	}
}
