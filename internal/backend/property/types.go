package property

import "reflect"

// Shape classifies how a value exposes children.
type Shape int

const (
	// ShapeScalar has a rendered value and no children.
	ShapeScalar Shape = iota
	// ShapeMapping enumerates keys.
	ShapeMapping
	// ShapeSequence enumerates indices.
	ShapeSequence
	// ShapeObject enumerates named fields.
	ShapeObject
	// ShapeOpaque renders a description and is never expanded.
	ShapeOpaque
	// ShapeNil is an absent value.
	ShapeNil
	// ShapeFailure carries an error raised while fetching the value.
	ShapeFailure
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeScalar:
		return "scalar"
	case ShapeMapping:
		return "mapping"
	case ShapeSequence:
		return "sequence"
	case ShapeObject:
		return "object"
	case ShapeOpaque:
		return "opaque"
	case ShapeNil:
		return "nil"
	case ShapeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// DBGP common type names.
const (
	TypeBool     = "bool"
	TypeInt      = "int"
	TypeFloat    = "float"
	TypeString   = "string"
	TypeNull     = "null"
	TypeArray    = "array"
	TypeHash     = "hash"
	TypeObject   = "object"
	TypeResource = "resource"
	TypeError    = "Error"
)

// shapeOf returns the shape for a dereferenced value.
func shapeOf(v reflect.Value) Shape {
	if !v.IsValid() {
		return ShapeNil
	}
	switch v.Kind() {
	case reflect.Map:
		return ShapeMapping
	case reflect.Slice, reflect.Array:
		return ShapeSequence
	case reflect.Struct:
		return ShapeObject
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return ShapeOpaque
	default:
		return ShapeScalar
	}
}

// commonType maps a Go kind to a DBGP common type. The second result
// is false when no common type applies.
func commonType(k reflect.Kind) (string, bool) {
	switch k {
	case reflect.Bool:
		return TypeBool, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return TypeInt, true
	case reflect.Float32, reflect.Float64:
		return TypeFloat, true
	case reflect.String:
		return TypeString, true
	case reflect.Slice, reflect.Array:
		return TypeArray, true
	case reflect.Map:
		return TypeHash, true
	case reflect.Struct:
		return TypeObject, true
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return TypeResource, true
	}
	return "", false
}

// TypeMapping is one row of the typemap_get answer.
type TypeMapping struct {
	// Type is the DBGP common type.
	Type string
	// Name is the language type name.
	Name string
	// XSIType is the XML schema type, empty when none applies.
	XSIType string
}

// TypeMap lists how Go types map to DBGP common types.
func TypeMap() []TypeMapping {
	return []TypeMapping{
		{Type: TypeBool, Name: "bool", XSIType: "xsd:boolean"},
		{Type: TypeInt, Name: "int", XSIType: "xsd:decimal"},
		{Type: TypeInt, Name: "int64", XSIType: "xsd:decimal"},
		{Type: TypeInt, Name: "uint", XSIType: "xsd:decimal"},
		{Type: TypeInt, Name: "uint64", XSIType: "xsd:decimal"},
		{Type: TypeFloat, Name: "float64", XSIType: "xsd:double"},
		{Type: TypeFloat, Name: "float32", XSIType: "xsd:float"},
		{Type: TypeString, Name: "string", XSIType: "xsd:string"},
		{Type: TypeNull, Name: "nil"},
		{Type: TypeArray, Name: "slice"},
		{Type: TypeArray, Name: "array"},
		{Type: TypeHash, Name: "map"},
		{Type: TypeObject, Name: "struct"},
		{Type: TypeResource, Name: "func"},
		{Type: TypeResource, Name: "chan"},
	}
}
