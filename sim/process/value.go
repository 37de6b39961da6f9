package process

import (
	"fmt"
	"math"
	"strconv"

	"github.com/inference-sim/simkernel/sim"
)

// Kind tags the dynamic type of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindRef
)

var kindNames = map[Kind]string{
	KindNil:    "nil",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindString: "string",
	KindRef:    "ref",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Value is the unit held in locals and on the operand stack. Values are
// immutable and copied by assignment, so a captured frame never aliases the
// live one.
//
// A ref carries a host object such as a *Resource or *Condition. Refs
// compare by identity and must hold comparable values.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	ref  any
}

// Nil is the zero Value.
var Nil = Value{}

// Int returns an integer Value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating point Value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// Str returns a string Value.
func Str(v string) Value { return Value{kind: KindString, s: v} }

// Ref wraps a host object.
func Ref(v any) Value {
	if v == nil {
		return Nil
	}
	return Value{kind: KindRef, ref: v}
}

// Kind returns the dynamic type tag.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is Nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns v as a float64, converting integers.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.i != 0, v.kind == KindBool }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsRef returns the host object held by v.
func (v Value) AsRef() (any, bool) { return v.ref, v.kind == KindRef }

// Truthy is the condition used by JMPF, JMPT and NOT: false, nil, zero
// numbers and the empty string are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindInt, KindBool:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	}
	return true
}

// Equal compares kind and payload. Floats compare by bit pattern, so a
// restored NaN equals the captured one.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindInt, KindBool:
		return v.i == o.i
	case KindFloat:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindString:
		return v.s == o.s
	case KindRef:
		return v.ref == o.ref
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindString:
		return v.s
	case KindRef:
		if s, ok := v.ref.(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("ref(%T)", v.ref)
	}
	return "?"
}

// ValueOf converts a Go value into a Value. It accepts the Go types that map
// onto a Kind; any other non-nil value becomes a ref.
func ValueOf(x any) Value {
	switch v := x.(type) {
	case nil:
		return Nil
	case Value:
		return v
	case int:
		return Int(int64(v))
	case int64:
		return Int(v)
	case int32:
		return Int(int64(v))
	case sim.Time:
		return Int(int64(v))
	case float64:
		return Float(v)
	case float32:
		return Float(float64(v))
	case bool:
		return Bool(v)
	case string:
		return Str(v)
	}
	return Ref(x)
}
