package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts what evaluated code can reach.
type Sandbox struct {
	L *lua.LState
}

// NewSandbox creates a sandbox for the Lua state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{L: L}
}

// Install removes loaders and replaces require.
func (s *Sandbox) Install() {
	dangerousFuncs := []string{
		"dofile",
		"loadfile",
		"load",
		"loadstring",
		"collectgarbage",
	}
	for _, name := range dangerousFuncs {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafeRequire()
}

// installSafeRequire only resolves the libraries already opened.
func (s *Sandbox) installSafeRequire() {
	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)
		if !safeModules[modName] {
			L.RaiseError("module %q is not available", modName)
			return 0
		}
		L.Push(L.GetGlobal(modName))
		return 1
	}))
}

// NewEnv creates a fresh global environment for one evaluation. Reads
// fall through to the sandboxed globals, writes stay in the returned
// table.
func (s *Sandbox) NewEnv() *lua.LTable {
	env := s.L.NewTable()
	mt := s.L.NewTable()
	mt.RawSetString("__index", s.L.Get(lua.GlobalsIndex))
	s.L.SetMetatable(env, mt)
	return env
}

// CapturePrint installs a print function into env that appends to out
// instead of writing to the process stdout.
func (s *Sandbox) CapturePrint(env *lua.LTable, out *strings.Builder) {
	env.RawSetString("print", s.L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		for i := 1; i <= top; i++ {
			if i > 1 {
				out.WriteByte('\t')
			}
			out.WriteString(L.ToStringMeta(L.Get(i)).String())
		}
		out.WriteByte('\n')
		return 0
	}))
}
