package lua

import (
	"fmt"
	"math"
	"reflect"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/dbgp/internal/backend/property"
)

// maxDeref bounds pointer chasing while indexing self-referential types.
const maxDeref = 64

// goValue is the payload of userdata that wraps a Go composite value.
type goValue struct {
	rv reflect.Value
}

// Bridge converts values between the debugged program and Lua.
//
// Scalars are copied. Maps, slices, structs and pointers are wrapped in
// userdata that resolves fields and elements lazily through reflection,
// so large or cyclic program data costs nothing until it is indexed.
// Sequences use Lua's 1-based indexing.
type Bridge struct {
	L    *lua.LState
	meta *lua.LTable
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	b := &Bridge{L: L}
	b.meta = b.newMetatable()
	return b
}

// ToLuaValue converts a Go value to a Lua value.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case reflect.Value:
		return b.reflectToLua(val)
	default:
		return b.reflectToLua(reflect.ValueOf(v))
	}
}

// reflectToLua uses reflection to convert arbitrary Go values.
func (b *Bridge) reflectToLua(rv reflect.Value) lua.LValue {
	if !rv.IsValid() {
		return lua.LNil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.reflectToLua(rv.Elem())
	case reflect.Pointer, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return lua.LNil
		}
	}

	ud := b.L.NewUserData()
	ud.Value = goValue{rv: rv}
	b.L.SetMetatable(ud, b.meta)
	return ud
}

// ToGoValue converts a Lua value to a Go value.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGoValueWithVisited(lv, make(map[*lua.LTable]bool))
}

// toGoValueWithVisited converts a Lua value to a Go value, tracking visited tables.
func (b *Bridge) toGoValueWithVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return b.tableToGoWithVisited(v, visited)
	case *lua.LNilType:
		return nil
	case *lua.LUserData:
		if gv, ok := v.Value.(goValue); ok && gv.rv.CanInterface() {
			return gv.rv.Interface()
		}
		return v.Value
	default:
		// Functions and coroutines stay opaque; they are never called
		// when the result is serialized.
		return lv
	}
}

// tableToGoWithVisited converts a table to a slice when its keys are
// exactly 1..n, otherwise to a map keyed by the rendered key.
func (b *Bridge) tableToGoWithVisited(t *lua.LTable, visited map[*lua.LTable]bool) any {
	isArray := true
	maxN := 0
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = b.toGoValueWithVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = kv.String()
		default:
			key = k.String()
		}
		m[key] = b.toGoValueWithVisited(v, visited)
	})
	return m
}

// newMetatable builds the metatable shared by all wrapped Go values.
func (b *Bridge) newMetatable() *lua.LTable {
	mt := b.L.NewTable()
	b.L.SetFuncs(mt, map[string]lua.LGFunction{
		"__index":    b.index,
		"__newindex": b.newIndex,
		"__len":      b.length,
		"__tostring": b.toString,
		"__eq":       b.equal,
	})
	return mt
}

func (b *Bridge) checkValue(L *lua.LState, n int) reflect.Value {
	ud := L.CheckUserData(n)
	gv, ok := ud.Value.(goValue)
	if !ok {
		L.ArgError(n, "Go value expected")
	}
	return gv.rv
}

// deref follows pointers and interfaces. It returns an invalid value
// when it meets nil.
func deref(rv reflect.Value) reflect.Value {
	for i := 0; i < maxDeref && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface); i++ {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// lookup resolves key against rv. ok is false when the key does not
// name a member.
func (b *Bridge) lookup(rv reflect.Value, key lua.LValue) (elem reflect.Value, ok bool, err error) {
	rv = deref(rv)
	if !rv.IsValid() {
		return reflect.Value{}, false, fmt.Errorf("attempt to index a nil value")
	}

	switch rv.Kind() {
	case reflect.Struct:
		name, isString := key.(lua.LString)
		if !isString {
			return reflect.Value{}, false, nil
		}
		f, found := rv.Type().FieldByName(string(name))
		if !found || !f.IsExported() {
			return reflect.Value{}, false, nil
		}
		elem, err := rv.FieldByIndexErr(f.Index)
		if err != nil {
			return reflect.Value{}, false, err
		}
		return elem, true, nil

	case reflect.Map:
		k, err := property.ConvertTo(b.ToGoValue(key), rv.Type().Key())
		if err != nil {
			return reflect.Value{}, false, nil
		}
		elem := rv.MapIndex(k)
		return elem, elem.IsValid(), nil

	case reflect.Slice, reflect.Array, reflect.String:
		n, isNumber := key.(lua.LNumber)
		if !isNumber {
			return reflect.Value{}, false, nil
		}
		i := int(n) - 1
		if float64(i+1) != float64(n) || i < 0 || i >= rv.Len() {
			return reflect.Value{}, false, nil
		}
		return rv.Index(i), true, nil
	}
	return reflect.Value{}, false, nil
}

func (b *Bridge) index(L *lua.LState) int {
	rv := b.checkValue(L, 1)
	elem, ok, err := b.lookup(rv, L.Get(2))
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(b.reflectToLua(elem))
	return 1
}

func (b *Bridge) newIndex(L *lua.LState) int {
	rv := deref(b.checkValue(L, 1))
	key := L.Get(2)
	value := b.ToGoValue(L.Get(3))

	if rv.Kind() == reflect.Map {
		if rv.IsNil() {
			L.RaiseError("assignment to entry in nil map")
			return 0
		}
		k, err := property.ConvertTo(b.ToGoValue(key), rv.Type().Key())
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		v, err := property.ConvertTo(value, rv.Type().Elem())
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		rv.SetMapIndex(k, v)
		return 0
	}

	elem, ok, err := b.lookup(rv, key)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if !ok || !elem.CanSet() {
		L.RaiseError("cannot assign to %s", key.String())
		return 0
	}
	v, err := property.ConvertTo(value, elem.Type())
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	elem.Set(v)
	return 0
}

func (b *Bridge) length(L *lua.LState) int {
	rv := deref(b.checkValue(L, 1))
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String, reflect.Chan:
		L.Push(lua.LNumber(rv.Len()))
	default:
		L.Push(lua.LNumber(0))
	}
	return 1
}

func (b *Bridge) toString(L *lua.LState) int {
	rv := b.checkValue(L, 1)
	if !rv.CanInterface() {
		L.Push(lua.LString(rv.Type().String()))
		return 1
	}
	L.Push(lua.LString(fmt.Sprint(rv.Interface())))
	return 1
}

func (b *Bridge) equal(L *lua.LState) int {
	x, y := b.checkValue(L, 1), b.checkValue(L, 2)
	if !x.CanInterface() || !y.CanInterface() {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(reflect.DeepEqual(x.Interface(), y.Interface())))
	return 1
}
