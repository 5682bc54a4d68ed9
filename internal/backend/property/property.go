package property

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/dbgp/internal/dbgp"
)

// Default serialization budgets.
const (
	DefaultMaxChildren = 32
	DefaultMaxData     = 1024
	DefaultMaxDepth    = 1
)

// maxIndirections bounds pointer chasing for self-referential pointer types.
const maxIndirections = 64

// Options are the serialization budgets negotiated with the IDE.
type Options struct {
	// MaxChildren is the page size. Zero means all children.
	MaxChildren int
	// MaxData truncates rendered values. Zero means unlimited.
	MaxData int
	// MaxDepth is the default depth used by XML.
	MaxDepth int
	// Encoding is "base64" or "none".
	Encoding string
	// ShowHidden includes unexported struct fields.
	ShowHidden bool
}

// DefaultOptions returns the engine's initial budgets.
func DefaultOptions() Options {
	return Options{
		MaxChildren: DefaultMaxChildren,
		MaxData:     DefaultMaxData,
		MaxDepth:    DefaultMaxDepth,
		Encoding:    "base64",
	}
}

// Unavailable stands in for a value the host could not fetch. It is
// rendered as a property of type "Error".
type Unavailable struct {
	Err error
}

func (u Unavailable) Error() string {
	if u.Err == nil {
		return "value unavailable"
	}
	return u.Err.Error()
}

var unavailableType = reflect.TypeOf(Unavailable{})

// Property is a serialized view of one value. Children are computed on
// demand and cached for the lifetime of the Property.
type Property struct {
	name     string
	fullname string
	facet    string

	value     reflect.Value
	shape     Shape
	typeName  string
	className string
	failure   string

	opts Options

	counted     bool
	numChildren int
	keys        []reflect.Value
	fields      []int
}

// New creates a property for value. A reflect.Value is used as is.
func New(name, fullname string, value any, opts Options) *Property {
	if rv, ok := value.(reflect.Value); ok {
		return NewValue(name, fullname, rv, opts)
	}
	return NewValue(name, fullname, reflect.ValueOf(value), opts)
}

// NewValue creates a property for a reflected value.
func NewValue(name, fullname string, v reflect.Value, opts Options) *Property {
	p := &Property{name: name, fullname: fullname, opts: opts}
	p.classify(v)
	return p
}

// Failed creates an Error property carrying msg.
func Failed(name, fullname, msg string, opts Options) *Property {
	return &Property{
		name:     name,
		fullname: fullname,
		shape:    ShapeFailure,
		typeName: TypeError,
		failure:  msg,
		opts:     opts,
		counted:  true,
	}
}

func (p *Property) classify(v reflect.Value) {
	var static reflect.Type
	for i := 0; i < maxIndirections && v.IsValid(); i++ {
		if v.Kind() != reflect.Interface && v.Kind() != reflect.Pointer {
			break
		}
		static = v.Type()
		if v.IsNil() {
			v = reflect.Value{}
			break
		}
		v = v.Elem()
	}
	if v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		// pointer cycle deeper than maxIndirections
		p.shape = ShapeOpaque
		p.value = v
		p.typeName = TypeResource
		p.className = v.Type().String()
		return
	}

	if v.IsValid() && v.Type() == unavailableType {
		p.shape = ShapeFailure
		p.typeName = TypeError
		p.failure = unavailableMessage(v)
		p.counted = true
		return
	}

	p.value = v
	p.shape = shapeOf(v)
	if !v.IsValid() {
		p.typeName = TypeNull
		if static != nil && static.Kind() != reflect.Interface {
			p.className = static.String()
		}
		p.counted = true
		return
	}

	t := v.Type()
	if ct, ok := commonType(t.Kind()); ok {
		p.typeName = ct
		if t.String() != ct {
			p.className = t.String()
		}
	} else {
		p.typeName = t.String()
	}
}

func unavailableMessage(v reflect.Value) string {
	if v.CanInterface() {
		return v.Interface().(Unavailable).Error()
	}
	return fmt.Sprintf("%v", v.Field(0))
}

// Name returns the short name.
func (p *Property) Name() string { return p.name }

// FullName returns the path expression that resolves back to the value.
func (p *Property) FullName() string { return p.fullname }

// Type returns the DBGP type attribute.
func (p *Property) Type() string { return p.typeName }

// ClassName returns the Go type name when it differs from Type.
func (p *Property) ClassName() string { return p.className }

// Shape returns the value shape.
func (p *Property) Shape() Shape { return p.shape }

// Value returns the underlying value after pointer and interface
// indirection.
func (p *Property) Value() reflect.Value { return p.value }

// NumChildren returns the exact child count.
func (p *Property) NumChildren() int {
	if p.counted {
		return p.numChildren
	}
	p.counted = true

	switch p.shape {
	case ShapeMapping, ShapeSequence:
		p.numChildren = p.value.Len()
	case ShapeObject:
		t := p.value.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() || p.opts.ShowHidden {
				p.fields = append(p.fields, i)
			}
		}
		p.numChildren = len(p.fields)
	}
	return p.numChildren
}

// HasChildren reports whether the value has children.
func (p *Property) HasChildren() bool {
	return p.NumChildren() > 0
}

// Children returns children in [start, end), clamped to the child count.
func (p *Property) Children(start, end int) []*Property {
	n := p.NumChildren()
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= end {
		return nil
	}

	if p.shape == ShapeMapping && p.keys == nil {
		p.keys = sortedKeys(p.value)
	}

	out := make([]*Property, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, p.child(i))
	}
	return out
}

// Page returns the children on page, sized by MaxChildren.
func (p *Property) Page(page int) []*Property {
	size := p.pageSize()
	return p.Children(page*size, (page+1)*size)
}

func (p *Property) pageSize() int {
	if p.opts.MaxChildren > 0 {
		return p.opts.MaxChildren
	}
	if n := p.NumChildren(); n > 0 {
		return n
	}
	return 1
}

func (p *Property) child(i int) (c *Property) {
	defer func() {
		if r := recover(); r != nil {
			name := "[" + strconv.Itoa(i) + "]"
			c = Failed(name, p.fullname+name, fmt.Sprintf("Looking at child failed: %v", r), p.opts)
		}
	}()

	switch p.shape {
	case ShapeSequence:
		name := "[" + strconv.Itoa(i) + "]"
		return NewValue(name, p.fullname+name, p.value.Index(i), p.opts)

	case ShapeMapping:
		if i >= len(p.keys) {
			// map mutated between counting and listing
			name := "[" + strconv.Itoa(i) + "]"
			return Failed(name, p.fullname+name, "map changed while listing keys", p.opts)
		}
		key := p.keys[i]
		name := keyName(key)
		val := p.value.MapIndex(key)
		if !val.IsValid() {
			return Failed(name, p.fullname+"["+name+"]", "key no longer present", p.opts)
		}
		return NewValue(name, p.fullname+"["+name+"]", val, p.opts)

	case ShapeObject:
		field := p.value.Type().Field(p.fields[i])
		c := NewValue(field.Name, p.fullname+"."+field.Name, p.value.Field(p.fields[i]), p.opts)
		if !field.IsExported() {
			c.facet = "private"
		}
		return c
	}
	return nil
}

// sortedKeys returns map keys ordered by their rendered form.
func sortedKeys(m reflect.Value) []reflect.Value {
	keys := m.MapKeys()
	rendered := make([]string, len(keys))
	idx := make([]int, len(keys))
	for i, k := range keys {
		idx[i] = i
		rendered[i] = renderKey(k)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return rendered[idx[a]] < rendered[idx[b]]
	})
	out := make([]reflect.Value, len(keys))
	for i, j := range idx {
		out[i] = keys[j]
	}
	return out
}

func renderKey(k reflect.Value) string {
	for k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	if s, ok := renderScalar(k); ok {
		return s
	}
	return fmt.Sprintf("%v", k)
}

// keyName is the child name for a map key: 'k' for strings, k otherwise.
func keyName(k reflect.Value) string {
	for k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	if k.Kind() == reflect.String {
		return "'" + strings.ReplaceAll(k.String(), "'", `\'`) + "'"
	}
	return renderKey(k)
}

// renderScalar renders basic kinds without invoking methods.
func renderScalar(v reflect.Value) (string, bool) {
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10), true
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32), true
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), true
	case reflect.Complex64:
		return strconv.FormatComplex(v.Complex(), 'g', -1, 64), true
	case reflect.Complex128:
		return strconv.FormatComplex(v.Complex(), 'g', -1, 128), true
	case reflect.String:
		return v.String(), true
	}
	return "", false
}

// ValueString renders the value. Containers with children render empty.
func (p *Property) ValueString() string {
	switch p.shape {
	case ShapeFailure:
		return p.failure
	case ShapeNil:
		return ""
	case ShapeScalar:
		s, _ := renderScalar(p.value)
		return s
	case ShapeOpaque:
		return describeOpaque(p.value)
	case ShapeObject:
		if p.NumChildren() == 0 {
			return p.value.Type().String() + "{}"
		}
	}
	return ""
}

func describeOpaque(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Func:
		if v.IsNil() {
			return v.Type().String() + "(nil)"
		}
		return v.Type().String()
	case reflect.Chan:
		if v.IsNil() {
			return v.Type().String() + "(nil)"
		}
		return fmt.Sprintf("%s (len %d, cap %d)", v.Type(), v.Len(), v.Cap())
	case reflect.UnsafePointer:
		return fmt.Sprintf("%#x", v.Pointer())
	}
	return v.Type().String()
}

// hasValue reports whether a <value> tag is emitted.
func (p *Property) hasValue() bool {
	switch p.shape {
	case ShapeScalar, ShapeOpaque, ShapeFailure:
		return true
	case ShapeObject:
		return p.NumChildren() == 0
	}
	return false
}

// Size is the rendered byte length for scalars and the child count for
// containers.
func (p *Property) Size() int {
	switch p.shape {
	case ShapeMapping, ShapeSequence, ShapeObject:
		return p.NumChildren()
	}
	return len(p.ValueString())
}

// EncodedValue renders the value truncated to maxData bytes (zero means
// unlimited) under the encoding policy.
func (p *Property) EncodedValue(maxData int) (payload string, encoding string) {
	s := p.ValueString()
	if maxData > 0 && len(s) > maxData {
		s = s[:maxData]
	}
	return dbgp.EncodeText(s, p.opts.Encoding)
}

// Element renders the property with depth levels of children and the
// given page of direct children.
func (p *Property) Element(depth, page int) *dbgp.Element {
	el := dbgp.NewElement("property").Attr("type", p.typeName)
	if p.className != "" {
		el.Attr("classname", p.className)
	}
	if p.facet != "" {
		el.Attr("facet", p.facet)
	}

	n := p.NumChildren()
	el.AttrBool("children", n > 0)
	el.AttrInt("size", p.Size())
	if n > 0 {
		el.AttrInt("page", page)
		el.AttrInt("pagesize", p.pageSize())
		el.AttrInt("numchildren", n)
	}

	el.Child(nameTag("name", p.name, p.opts.Encoding))
	el.Child(nameTag("fullname", p.fullname, p.opts.Encoding))

	if p.hasValue() {
		payload, encoding := p.EncodedValue(p.opts.MaxData)
		v := dbgp.NewElement("value")
		if encoding != "" {
			v.Attr("encoding", encoding)
		}
		el.Child(v.CDATA(payload))
	}

	if depth > 0 && n > 0 {
		for _, c := range p.Page(page) {
			el.Child(c.Element(depth-1, 0))
		}
	}
	return el
}

// XML renders the property using MaxDepth and the first page.
func (p *Property) XML() string {
	return p.Element(p.opts.MaxDepth, 0).String()
}

func nameTag(tag, text, requested string) *dbgp.Element {
	payload, encoding := dbgp.EncodeText(text, requested)
	el := dbgp.NewElement(tag)
	if encoding != "" {
		el.Attr("encoding", encoding)
	}
	return el.CDATA(payload)
}
