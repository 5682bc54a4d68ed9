package lua

import (
	"context"
	"errors"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Evaluator runs debugger expressions against the variables of a paused
// frame. Each evaluation gets a fresh environment: frame globals first,
// then locals shadowing them, then the sandboxed Lua globals.
type Evaluator struct {
	state  *State
	bridge *Bridge
}

// NewEvaluator creates an evaluator with its own Lua state.
func NewEvaluator(opts ...StateOption) *Evaluator {
	state := NewState(opts...)
	return &Evaluator{
		state:  state,
		bridge: NewBridge(state.L),
	}
}

// Close releases the Lua state.
func (e *Evaluator) Close() error {
	return e.state.Close()
}

// newEnv builds the evaluation environment and records what each name
// was bound to, so assignments can be detected afterwards.
func (e *Evaluator) newEnv(globals, locals map[string]any) (*lua.LTable, map[string]lua.LValue) {
	env := e.state.Sandbox().NewEnv()
	initial := make(map[string]lua.LValue, len(globals)+len(locals))
	bind := func(scope map[string]any) {
		for name, v := range scope {
			lv := e.bridge.ToLuaValue(v)
			env.RawSetString(name, lv)
			initial[name] = lv
		}
	}
	bind(globals)
	bind(locals)
	return env, initial
}

// Eval evaluates a single expression and returns its value.
func (e *Evaluator) Eval(globals, locals map[string]any, expr string) (any, error) {
	var result any
	err := e.state.Do(context.Background(), func(L *lua.LState) error {
		fn, err := L.LoadString("return " + expr)
		if err != nil {
			return err
		}
		env, _ := e.newEnv(globals, locals)
		L.SetFEnv(fn, env)

		L.Push(fn)
		if err := L.PCall(0, 1, nil); err != nil {
			return err
		}
		ret := L.Get(-1)
		L.Pop(1)
		result = e.bridge.ToGoValue(ret)
		return nil
	})
	return result, err
}

// Exec runs a chunk the way an interactive console does. An expression
// has its values printed; a statement runs for its effects. Output of
// print is captured and returned. assigned holds every top-level name
// the chunk bound or rebound. A chunk that stops mid-statement fails
// with ErrIncomplete.
func (e *Evaluator) Exec(globals, locals map[string]any, code string) (output string, assigned map[string]any, err error) {
	err = e.state.Do(context.Background(), func(L *lua.LState) error {
		var out strings.Builder
		env, initial := e.newEnv(globals, locals)
		e.state.Sandbox().CapturePrint(env, &out)
		printFn := env.RawGetString("print")

		fn, err := L.LoadString("return " + code)
		echo := err == nil
		if err != nil {
			fn, err = L.LoadString(code)
			if err != nil {
				if isIncomplete(err) {
					return ErrIncomplete
				}
				return err
			}
		}
		L.SetFEnv(fn, env)

		top := L.GetTop()
		L.Push(fn)
		if err := L.PCall(0, lua.MultRet, nil); err != nil {
			return err
		}
		n := L.GetTop() - top
		if echo && n > 0 {
			for i := 1; i <= n; i++ {
				if i > 1 {
					out.WriteByte('\t')
				}
				out.WriteString(L.ToStringMeta(L.Get(top + i)).String())
			}
			out.WriteByte('\n')
		}
		L.Pop(n)

		env.ForEach(func(k, v lua.LValue) {
			name, ok := k.(lua.LString)
			if !ok || v == printFn {
				return
			}
			if old, bound := initial[string(name)]; bound && old == v {
				return
			}
			if assigned == nil {
				assigned = make(map[string]any)
			}
			assigned[string(name)] = e.bridge.ToGoValue(v)
		})
		output = out.String()
		return nil
	})
	return output, assigned, err
}

// IsIncomplete reports whether err means the chunk needs more input.
func (e *Evaluator) IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}

// isIncomplete recognizes a syntax error raised at end of input.
func isIncomplete(err error) bool {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) || apiErr.Type != lua.ApiErrorSyntax {
		return false
	}
	return strings.Contains(apiErr.Error(), "EOF")
}
