package property

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Path errors.
var (
	// ErrNotFound is returned when a path names nothing.
	ErrNotFound = errors.New("property does not exist")

	// ErrBadPath is returned for malformed path expressions.
	ErrBadPath = errors.New("malformed property path")

	// ErrNotAssignable is returned when a path cannot be written.
	ErrNotAssignable = errors.New("property is not assignable")
)

// stepKind distinguishes field access from indexing.
type stepKind int

const (
	stepField stepKind = iota
	stepIndex
)

// Step is one segment of a parsed path.
type Step struct {
	kind stepKind
	// Name is the field name or the index text.
	Name string
	// Quoted is set for ['k'] and ["k"] indexes.
	Quoted bool
}

// ParsePath splits a fullname expression such as a.b['k'][3] into the
// root variable and the steps that follow it.
func ParsePath(path string) (root string, steps []Step, err error) {
	path = strings.TrimSpace(path)
	i := 0
	for i < len(path) && path[i] != '.' && path[i] != '[' {
		i++
	}
	root = path[:i]
	if root == "" {
		return "", nil, fmt.Errorf("%w: %q", ErrBadPath, path)
	}

	for i < len(path) {
		switch path[i] {
		case '.':
			j := i + 1
			for j < len(path) && path[j] != '.' && path[j] != '[' {
				j++
			}
			if j == i+1 {
				return "", nil, fmt.Errorf("%w: empty field in %q", ErrBadPath, path)
			}
			steps = append(steps, Step{kind: stepField, Name: path[i+1 : j]})
			i = j

		case '[':
			step, next, err := parseIndex(path, i+1)
			if err != nil {
				return "", nil, err
			}
			steps = append(steps, step)
			i = next

		default:
			return "", nil, fmt.Errorf("%w: unexpected %q in %q", ErrBadPath, path[i], path)
		}
	}
	return root, steps, nil
}

// parseIndex reads an index starting after '[' and returns the offset
// just past the closing bracket.
func parseIndex(path string, i int) (Step, int, error) {
	if i < len(path) && (path[i] == '\'' || path[i] == '"') {
		quote := path[i]
		var b strings.Builder
		j := i + 1
		for ; j < len(path); j++ {
			c := path[j]
			if c == '\\' && j+1 < len(path) && path[j+1] == quote {
				b.WriteByte(quote)
				j++
				continue
			}
			if c == quote {
				break
			}
			b.WriteByte(c)
		}
		if j+1 >= len(path) || path[j] != quote || path[j+1] != ']' {
			return Step{}, 0, fmt.Errorf("%w: unterminated index in %q", ErrBadPath, path)
		}
		return Step{kind: stepIndex, Name: b.String(), Quoted: true}, j + 2, nil
	}

	end := strings.IndexByte(path[i:], ']')
	if end < 0 {
		return Step{}, 0, fmt.Errorf("%w: unterminated index in %q", ErrBadPath, path)
	}
	text := strings.TrimSpace(path[i : i+end])
	if text == "" {
		return Step{}, 0, fmt.Errorf("%w: empty index in %q", ErrBadPath, path)
	}
	return Step{kind: stepIndex, Name: text}, i + end + 1, nil
}

// Resolve walks path starting from the variables in scope.
func Resolve(scope map[string]any, path string) (reflect.Value, error) {
	root, steps, err := ParsePath(path)
	if err != nil {
		return reflect.Value{}, err
	}
	v, ok := scope[root]
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrNotFound, root)
	}
	return Walk(reflect.ValueOf(v), steps)
}

// Walk applies steps to v.
func Walk(v reflect.Value, steps []Step) (reflect.Value, error) {
	for _, s := range steps {
		next, err := apply(v, s)
		if err != nil {
			return reflect.Value{}, err
		}
		v = next
	}
	return v, nil
}

func indirect(v reflect.Value) reflect.Value {
	for i := 0; i < maxIndirections && v.IsValid(); i++ {
		if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface {
			break
		}
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func apply(v reflect.Value, s Step) (reflect.Value, error) {
	v = indirect(v)
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: %s of nil value", ErrNotFound, s.Name)
	}

	if s.kind == stepField {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%w: %s has no field %s", ErrNotFound, v.Type(), s.Name)
		}
		f := v.FieldByName(s.Name)
		if !f.IsValid() {
			return reflect.Value{}, fmt.Errorf("%w: %s has no field %s", ErrNotFound, v.Type(), s.Name)
		}
		return f, nil
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		n, err := strconv.Atoi(s.Name)
		if err != nil || s.Quoted {
			return reflect.Value{}, fmt.Errorf("%w: index %q on %s", ErrNotFound, s.Name, v.Type())
		}
		if n < 0 || n >= v.Len() {
			return reflect.Value{}, fmt.Errorf("%w: index %d out of range [0,%d)", ErrNotFound, n, v.Len())
		}
		return v.Index(n), nil

	case reflect.Map:
		key, err := mapKey(v, s)
		if err != nil {
			return reflect.Value{}, err
		}
		val := v.MapIndex(key)
		if !val.IsValid() {
			return reflect.Value{}, fmt.Errorf("%w: key %s", ErrNotFound, s.Name)
		}
		return val, nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %s is not indexable", ErrNotFound, v.Type())
}

// mapKey finds the key of m that step names.
func mapKey(m reflect.Value, s Step) (reflect.Value, error) {
	kt := m.Type().Key()
	switch kt.Kind() {
	case reflect.String:
		return reflect.ValueOf(s.Name).Convert(kt), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s.Name, 10, 64)
		if err == nil {
			return reflect.ValueOf(n).Convert(kt), nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := strconv.ParseUint(s.Name, 10, 64)
		if err == nil {
			return reflect.ValueOf(n).Convert(kt), nil
		}
	}

	iter := m.MapRange()
	for iter.Next() {
		k := iter.Key()
		if renderKey(k) == s.Name {
			return k, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("%w: key %s", ErrNotFound, s.Name)
}

// Assign stores value at path. The path must name an element below a
// variable; bare variables are assigned by the caller.
func Assign(scope map[string]any, path string, value any) error {
	root, steps, err := ParsePath(path)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("%w: %s is a variable", ErrNotAssignable, root)
	}
	base, ok := scope[root]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, root)
	}

	parent, err := Walk(reflect.ValueOf(base), steps[:len(steps)-1])
	if err != nil {
		return err
	}
	last := steps[len(steps)-1]

	if container := indirect(parent); container.IsValid() && container.Kind() == reflect.Map && last.kind == stepIndex {
		key, err := mapKey(container, last)
		if err != nil {
			// new keys are allowed for string-keyed maps
			if container.Type().Key().Kind() != reflect.String {
				return err
			}
			key = reflect.ValueOf(last.Name).Convert(container.Type().Key())
		}
		if container.IsNil() {
			return fmt.Errorf("%w: nil map", ErrNotAssignable)
		}
		nv, err := ConvertTo(value, container.Type().Elem())
		if err != nil {
			return err
		}
		container.SetMapIndex(key, nv)
		return nil
	}

	target, err := apply(parent, last)
	if err != nil {
		return err
	}
	if !target.CanSet() {
		return fmt.Errorf("%w: %s", ErrNotAssignable, path)
	}
	nv, err := ConvertTo(value, target.Type())
	if err != nil {
		return err
	}
	target.Set(nv)
	return nil
}

// ConvertTo converts an evaluated value to type t. Numeric kinds convert
// between each other when no precision is lost; strings convert only to
// string kinds.
func ConvertTo(value any, t reflect.Type) (reflect.Value, error) {
	v, ok := value.(reflect.Value)
	if !ok {
		v = reflect.ValueOf(value)
	}
	if !v.IsValid() {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: nil is not a %s", ErrNotAssignable, t)
	}

	if v.Type().AssignableTo(t) {
		return v, nil
	}

	switch {
	case isNumber(v.Kind()) && isNumber(t.Kind()):
		if isFloat(v.Kind()) && !isFloat(t.Kind()) {
			f := v.Float()
			if f != math.Trunc(f) {
				return reflect.Value{}, fmt.Errorf("%w: %v is not an integer", ErrNotAssignable, f)
			}
		}
		return v.Convert(t), nil
	case v.Kind() == reflect.String && t.Kind() == reflect.String:
		return v.Convert(t), nil
	case v.Kind() == reflect.Bool && t.Kind() == reflect.Bool:
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: cannot use %s as %s", ErrNotAssignable, v.Type(), t)
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
