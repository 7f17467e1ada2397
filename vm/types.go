package vm

import "fmt"

// TypeTag identifies the type of a field, parameter, return value or
// operand stack slot.
type TypeTag uint8

const (
	TypeVoid TypeTag = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeString
	TypeName
	TypeReference
	TypeClass
	TypeVector
	TypeStruct
)

var typeTagNames = [...]string{
	TypeVoid:      "void",
	TypeInt:       "int",
	TypeFloat:     "float",
	TypeBool:      "bool",
	TypeString:    "string",
	TypeName:      "name",
	TypeReference: "reference",
	TypeClass:     "class",
	TypeVector:    "vector",
	TypeStruct:    "struct",
}

func (t TypeTag) String() string {
	if int(t) < len(typeTagNames) {
		return typeTagNames[t]
	}
	return fmt.Sprintf("TypeTag(%d)", uint8(t))
}

// FieldType is a declared type. Reference and class types name the class
// they are constrained to ("" accepts any class); the name is resolved when
// the class table is finalized.
type FieldType struct {
	Tag       TypeTag
	ClassName string
	Struct    *StructType

	class *Class
}

// Type constructors.
var (
	VoidType   = FieldType{Tag: TypeVoid}
	IntType    = FieldType{Tag: TypeInt}
	FloatType  = FieldType{Tag: TypeFloat}
	BoolType   = FieldType{Tag: TypeBool}
	StringType = FieldType{Tag: TypeString}
	NameType   = FieldType{Tag: TypeName}
	VectorType = FieldType{Tag: TypeVector}
)

// RefType returns a reference type constrained to the named class.
func RefType(className string) FieldType {
	return FieldType{Tag: TypeReference, ClassName: className}
}

// ClassOfType returns a class-value type constrained to the named class.
func ClassOfType(className string) FieldType {
	return FieldType{Tag: TypeClass, ClassName: className}
}

// StructOf returns a by-value struct type.
func StructOf(st *StructType) FieldType {
	return FieldType{Tag: TypeStruct, Struct: st}
}

// Class returns the resolved class constraint, or nil for "any".
func (ft FieldType) Class() *Class {
	return ft.class
}

func (ft FieldType) String() string {
	switch ft.Tag {
	case TypeReference, TypeClass:
		if ft.ClassName != "" {
			return fmt.Sprintf("%s<%s>", ft.Tag, ft.ClassName)
		}
	case TypeStruct:
		if ft.Struct != nil {
			return "struct " + ft.Struct.Name
		}
	}
	return ft.Tag.String()
}

// Equal reports whether two declared types are identical.
func (ft FieldType) Equal(other FieldType) bool {
	return ft.Tag == other.Tag && ft.ClassName == other.ClassName && ft.Struct == other.Struct
}

// Size returns the storage size in bytes, following the VavoomC layout.
func (ft FieldType) Size() int {
	switch ft.Tag {
	case TypeInt, TypeFloat, TypeBool, TypeName:
		return 4
	case TypeString, TypeReference, TypeClass:
		return 8
	case TypeVector:
		return 12
	case TypeStruct:
		if ft.Struct != nil {
			return ft.Struct.size
		}
	}
	return 0
}

// Alignment returns the storage alignment in bytes.
func (ft FieldType) Alignment() int {
	switch ft.Tag {
	case TypeString, TypeReference, TypeClass:
		return 8
	case TypeStruct:
		if ft.Struct != nil {
			return ft.Struct.align
		}
	case TypeVoid:
		return 1
	}
	return 4
}

// hasReferences reports whether values of this type may hold object
// references the collector has to trace.
func (ft FieldType) hasReferences() bool {
	switch ft.Tag {
	case TypeReference:
		return true
	case TypeStruct:
		return ft.Struct != nil && ft.Struct.hasRefs
	}
	return false
}

// accepts reports whether v may be stored in a slot of this type.
func (ft FieldType) accepts(v Value) bool {
	if v.tag != ft.Tag {
		return false
	}
	switch ft.Tag {
	case TypeReference:
		return v.ref == nil || ft.class == nil || v.ref.class.IsSubclassOf(ft.class)
	case TypeClass:
		return v.cls == nil || ft.class == nil || v.cls.IsSubclassOf(ft.class)
	case TypeStruct:
		return v.agg != nil && v.agg.Type == ft.Struct
	}
	return true
}

// check returns a TypeMismatchError when v does not fit ft.
func (ft FieldType) check(context string, v Value) error {
	if ft.accepts(v) {
		return nil
	}
	got := v.tag.String()
	switch {
	case v.tag == TypeReference && v.ref != nil:
		got = fmt.Sprintf("reference<%s>", v.ref.class.Name)
	case v.tag == TypeClass && v.cls != nil:
		got = fmt.Sprintf("class<%s>", v.cls.Name)
	case v.tag == TypeStruct && v.agg != nil:
		got = "struct " + v.agg.Type.Name
	}
	return mismatch(context, ft.String(), got)
}

// align rounds n up to a multiple of a.
func align(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

// ---------------------------------------------------------------------------
// Fields and struct types
// ---------------------------------------------------------------------------

// FieldSpec declares a field of a class or struct. A Void Default means
// the zero value of the field type.
type FieldSpec struct {
	Name    string
	Type    FieldType
	Default Value
}

// FieldDescriptor is a laid-out field.
type FieldDescriptor struct {
	Name   string
	Type   FieldType
	Index  int // storage slot
	Offset int // byte offset in the VavoomC layout
	Size   int
	Owner  string // declaring class or struct
}

// StructType is a by-value aggregate. Struct values are copied on
// assignment, on push and when spawned from a default template.
type StructType struct {
	Name   string
	Fields []*FieldDescriptor

	defaults []Value
	size     int
	align    int
	hasRefs  bool
}

// FindField returns the named struct field.
func (st *StructType) FindField(name string) (*FieldDescriptor, error) {
	for _, f := range st.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, notFound("field", st.Name+"."+name)
}

// Size returns the laid-out size in bytes.
func (st *StructType) Size() int { return st.size }

// New returns a struct value holding the declared defaults.
func (st *StructType) New() *StructValue {
	sv := &StructValue{Type: st, Fields: make([]Value, len(st.defaults))}
	for i, d := range st.defaults {
		sv.Fields[i] = d.Copy()
	}
	return sv
}

func newStructType(name string, specs []FieldSpec) (*StructType, error) {
	st := &StructType{Name: name, align: 1}
	offset := 0
	for i, fs := range specs {
		if fs.Name == "" {
			return nil, defError(name, "", "field %d has no name", i)
		}
		for _, prev := range st.Fields {
			if prev.Name == fs.Name {
				return nil, defError(name, fs.Name, "duplicate field")
			}
		}
		if fs.Type.Tag == TypeVoid {
			return nil, defError(name, fs.Name, "field cannot be void")
		}
		if fs.Type.Tag == TypeStruct && fs.Type.Struct == nil {
			return nil, defError(name, fs.Name, "struct field without struct type")
		}
		a := fs.Type.Alignment()
		offset = align(offset, a)
		st.Fields = append(st.Fields, &FieldDescriptor{
			Name:   fs.Name,
			Type:   fs.Type,
			Index:  i,
			Offset: offset,
			Size:   fs.Type.Size(),
			Owner:  name,
		})
		offset += fs.Type.Size()
		if a > st.align {
			st.align = a
		}
		if fs.Type.hasReferences() {
			st.hasRefs = true
		}
	}
	st.size = align(offset, st.align)

	st.defaults = make([]Value, len(specs))
	for i, fs := range specs {
		d, err := defaultFor(name, fs)
		if err != nil {
			return nil, err
		}
		st.defaults[i] = d
	}
	return st, nil
}

// defaultFor validates a declared default against its field type.
// References cannot have non-nil defaults: no object exists at load time.
func defaultFor(owner string, fs FieldSpec) (Value, error) {
	if fs.Default.tag == TypeVoid {
		return ZeroValue(fs.Type), nil
	}
	if fs.Default.tag != fs.Type.Tag {
		return Value{}, defError(owner, fs.Name, "default is %s, field is %s", fs.Default.tag, fs.Type)
	}
	switch fs.Type.Tag {
	case TypeReference:
		if fs.Default.ref != nil {
			return Value{}, defError(owner, fs.Name, "reference default must be null")
		}
	case TypeStruct:
		if fs.Default.agg == nil || fs.Default.agg.Type != fs.Type.Struct {
			return Value{}, defError(owner, fs.Name, "default is not a %s", fs.Type)
		}
	}
	return fs.Default.Copy(), nil
}
