package tuple

import (
	"bytes"
	"fmt"
	"math"
)

// Kind identifies the runtime type of a field
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindBytes
	// KindAny is only valid on wildcards and matches every concrete kind
	KindAny
)

var kindNames = map[Kind]string{
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindBool:   "bool",
	KindBytes:  "bytes",
	KindAny:    "any",
}

// String returns the name used in the canonical text form
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Field is a single tuple position: either a concrete value or a type wildcard.
// Only the member selected by Kind is meaningful.
type Field struct {
	Kind  Kind    `msgpack:"k" json:"k"`
	Wild  bool    `msgpack:"w,omitempty" json:"w,omitempty"`
	Int   int64   `msgpack:"i,omitempty" json:"i,omitempty"`
	Float float64 `msgpack:"f,omitempty" json:"f,omitempty"`
	Str   string  `msgpack:"s,omitempty" json:"s,omitempty"`
	Bool  bool    `msgpack:"b,omitempty" json:"b,omitempty"`
	Bytes []byte  `msgpack:"y,omitempty" json:"y,omitempty"`
}

// Type wildcards
var (
	IntType    = Field{Kind: KindInt, Wild: true}
	FloatType  = Field{Kind: KindFloat, Wild: true}
	StringType = Field{Kind: KindString, Wild: true}
	BoolType   = Field{Kind: KindBool, Wild: true}
	BytesType  = Field{Kind: KindBytes, Wild: true}
	AnyType    = Field{Kind: KindAny, Wild: true}
)

func Int(v int64) Field     { return Field{Kind: KindInt, Int: v} }
func Float(v float64) Field { return Field{Kind: KindFloat, Float: v} }
func String(v string) Field { return Field{Kind: KindString, Str: v} }
func Bool(v bool) Field     { return Field{Kind: KindBool, Bool: v} }

// Bytes copies v so the field does not alias caller memory
func Bytes(v []byte) Field {
	return Field{Kind: KindBytes, Bytes: append([]byte{}, v...)}
}

// valid reports whether the field is a well-formed value or wildcard
func (f Field) valid() bool {
	if f.Wild {
		return f.Kind >= KindInt && f.Kind <= KindAny
	}
	return f.Kind >= KindInt && f.Kind <= KindBytes
}

// Equal compares kind, wildcard-ness and value. NaN floats compare equal to
// each other so a stored NaN can still be removed by an exact template.
func (f Field) Equal(o Field) bool {
	if f.Kind != o.Kind || f.Wild != o.Wild {
		return false
	}
	if f.Wild {
		return true
	}
	switch f.Kind {
	case KindInt:
		return f.Int == o.Int
	case KindFloat:
		if math.IsNaN(f.Float) && math.IsNaN(o.Float) {
			return true
		}
		return f.Float == o.Float
	case KindString:
		return f.Str == o.Str
	case KindBool:
		return f.Bool == o.Bool
	case KindBytes:
		return bytes.Equal(f.Bytes, o.Bytes)
	}
	return false
}

// accepts reports whether template field f accepts tuple field v
func (f Field) accepts(v Field) bool {
	if v.Wild || !v.valid() {
		return false
	}
	if f.Wild {
		return f.Kind == KindAny || f.Kind == v.Kind
	}
	return f.Equal(v)
}

func (f Field) clone() Field {
	if f.Bytes != nil {
		f.Bytes = append([]byte{}, f.Bytes...)
	}
	return f
}

// fieldOf converts a Go value into a Field
func fieldOf(v any) (Field, error) {
	switch x := v.(type) {
	case Field:
		if !x.valid() {
			return Field{}, fmt.Errorf("%w: invalid field %+v", ErrMalformed, x)
		}
		return x.clone(), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return uintField(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return uintField(x)
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case []byte:
		return Bytes(x), nil
	case nil:
		return Field{}, fmt.Errorf("%w: nil field", ErrMalformed)
	}
	return Field{}, fmt.Errorf("%w: unsupported field type %T", ErrMalformed, v)
}

func uintField(x uint64) (Field, error) {
	if x > math.MaxInt64 {
		return Field{}, fmt.Errorf("%w: %d overflows int64", ErrMalformed, x)
	}
	return Int(int64(x)), nil
}
