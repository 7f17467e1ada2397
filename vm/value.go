package vm

import (
	"fmt"
	"math"
	"strconv"
)

// Value is a tagged slot: the unit stored in object fields, struct fields,
// locals and operand stack slots.
//
// The zero Value is void. Values are small and passed by value; struct
// payloads are shared pointers, so code that stores a struct value must
// Copy it to keep by-value semantics.
type Value struct {
	tag TypeTag
	num uint64 // int32, bool, Name or float32 bits
	vec Vector
	str string
	ref *Object
	cls *Class
	agg *StructValue
}

// Vector is a VavoomC vector: three float components.
type Vector struct {
	X, Y, Z float32
}

// StructValue is the payload of a struct-typed value.
type StructValue struct {
	Type   *StructType
	Fields []Value
}

// Copy returns a deep copy; nested structs are copied too.
func (sv *StructValue) Copy() *StructValue {
	if sv == nil {
		return nil
	}
	out := &StructValue{Type: sv.Type, Fields: make([]Value, len(sv.Fields))}
	for i, f := range sv.Fields {
		out.Fields[i] = f.Copy()
	}
	return out
}

// Get returns the named struct field.
func (sv *StructValue) Get(name string) (Value, error) {
	f, err := sv.Type.FindField(name)
	if err != nil {
		return Value{}, err
	}
	return sv.Fields[f.Index], nil
}

// Set type-checks and stores the named struct field.
func (sv *StructValue) Set(name string, v Value) error {
	f, err := sv.Type.FindField(name)
	if err != nil {
		return err
	}
	if err := f.Type.check(sv.Type.Name+"."+name, v); err != nil {
		return err
	}
	sv.Fields[f.Index] = v.Copy()
	return nil
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Void is the absent value, returned by void methods.
var Void = Value{}

// Null is the null object reference.
var Null = Value{tag: TypeReference}

func IntValue(i int32) Value {
	return Value{tag: TypeInt, num: uint64(uint32(i))}
}

func FloatValue(f float32) Value {
	return Value{tag: TypeFloat, num: uint64(math.Float32bits(f))}
}

func BoolValue(b bool) Value {
	v := Value{tag: TypeBool}
	if b {
		v.num = 1
	}
	return v
}

func StringValue(s string) Value {
	return Value{tag: TypeString, str: s}
}

func NameValue(n Name) Value {
	return Value{tag: TypeName, num: uint64(uint32(n))}
}

// ObjectValue wraps an object reference; a nil obj yields Null.
func ObjectValue(obj *Object) Value {
	return Value{tag: TypeReference, ref: obj}
}

// ClassValue wraps a class reference.
func ClassValue(c *Class) Value {
	return Value{tag: TypeClass, cls: c}
}

func VectorValue(v Vector) Value {
	return Value{tag: TypeVector, vec: v}
}

// StructVal wraps a struct payload. The payload is not copied.
func StructVal(sv *StructValue) Value {
	return Value{tag: TypeStruct, agg: sv}
}

// ZeroValue returns the zero value for a declared type. Struct types yield
// a fresh value holding the struct's defaults.
func ZeroValue(ft FieldType) Value {
	switch ft.Tag {
	case TypeStruct:
		if ft.Struct != nil {
			return StructVal(ft.Struct.New())
		}
		return Value{tag: TypeStruct}
	default:
		return Value{tag: ft.Tag}
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Tag returns the dynamic type of v.
func (v Value) Tag() TypeTag { return v.tag }

func (v Value) Int() int32 { return int32(uint32(v.num)) }

func (v Value) Float() float32 { return math.Float32frombits(uint32(v.num)) }

func (v Value) Bool() bool { return v.num != 0 }

func (v Value) Str() string { return v.str }

func (v Value) Name() Name { return Name(int32(uint32(v.num))) }

func (v Value) Object() *Object { return v.ref }

func (v Value) Class() *Class { return v.cls }

func (v Value) Vector() Vector { return v.vec }

func (v Value) Struct() *StructValue { return v.agg }

// IsVoid reports whether v carries no value.
func (v Value) IsVoid() bool { return v.tag == TypeVoid }

// IsNull reports whether v is a null object reference.
func (v Value) IsNull() bool { return v.tag == TypeReference && v.ref == nil }

// Copy returns v with any struct payload deep-copied.
func (v Value) Copy() Value {
	if v.tag == TypeStruct && v.agg != nil {
		v.agg = v.agg.Copy()
	}
	return v
}

// Truthy follows the VavoomC conversion to bool used by conditional jumps.
func (v Value) Truthy() bool {
	switch v.tag {
	case TypeInt, TypeBool, TypeName:
		return v.num != 0
	case TypeFloat:
		return v.Float() != 0
	case TypeString:
		return v.str != ""
	case TypeReference:
		return v.ref != nil
	case TypeClass:
		return v.cls != nil
	case TypeVector:
		return v.vec.X != 0 || v.vec.Y != 0 || v.vec.Z != 0
	}
	return false
}

// Equal compares two values. Struct values compare field by field;
// references compare by identity.
func Equal(a, b Value) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TypeVoid:
		return true
	case TypeString:
		return a.str == b.str
	case TypeReference:
		return a.ref == b.ref
	case TypeClass:
		return a.cls == b.cls
	case TypeVector:
		return a.vec == b.vec
	case TypeStruct:
		if a.agg == nil || b.agg == nil {
			return a.agg == b.agg
		}
		if a.agg.Type != b.agg.Type {
			return false
		}
		for i := range a.agg.Fields {
			if !Equal(a.agg.Fields[i], b.agg.Fields[i]) {
				return false
			}
		}
		return true
	case TypeFloat:
		return a.Float() == b.Float()
	default:
		return a.num == b.num
	}
}

func (v Value) String() string {
	switch v.tag {
	case TypeVoid:
		return "void"
	case TypeInt:
		return strconv.Itoa(int(v.Int()))
	case TypeFloat:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case TypeBool:
		return strconv.FormatBool(v.Bool())
	case TypeString:
		return strconv.Quote(v.str)
	case TypeName:
		return fmt.Sprintf("name#%d", v.Name())
	case TypeReference:
		if v.ref == nil {
			return "none"
		}
		return v.ref.String()
	case TypeClass:
		if v.cls == nil {
			return "class(none)"
		}
		return "class(" + v.cls.Name + ")"
	case TypeVector:
		return fmt.Sprintf("(%g,%g,%g)", v.vec.X, v.vec.Y, v.vec.Z)
	case TypeStruct:
		if v.agg == nil {
			return "struct(nil)"
		}
		return "struct " + v.agg.Type.Name
	}
	return v.tag.String()
}
