package vm

import "fmt"

// ObjectFlags is the per-instance flag word.
type ObjectFlags uint32

const (
	// FlagDestroyed is set once Destroy has run. Storage may persist until
	// the next collection.
	FlagDestroyed ObjectFlags = 1 << iota
	// FlagDelayedDestroy marks an object for destruction by the next
	// CollectGarbage(true).
	FlagDelayedDestroy
	// FlagPinned objects are never collected while alive and keep
	// everything they reference reachable.
	FlagPinned
	// FlagReleased is set when the collector returns the object's storage.
	FlagReleased

	// flagDestroying guards the destroy hook against re-entry.
	flagDestroying
)

// Object is a runtime instance of a class.
//
// Objects never move: a *Object stays valid after the object is destroyed
// and released, so collaborators may hold non-owning back-references as
// long as they check IsDestroyed before use. Reference fields of a
// destroyed object are not cleared.
type Object struct {
	class  *Class
	fields []Value
	index  int
	uid    uint64
	mark   uint32
	flags  ObjectFlags
}

// Class returns the object's class.
func (obj *Object) Class() *Class { return obj.class }

// UniqueID returns the object's id. Ids are never 0 and never reused.
func (obj *Object) UniqueID() uint64 { return obj.uid }

// Index returns the registry slot, or -1 once released.
func (obj *Object) Index() int { return obj.index }

// Flags returns the flag word.
func (obj *Object) Flags() ObjectFlags { return obj.flags }

// HasFlag reports whether any of the given flags is set.
func (obj *Object) HasFlag(f ObjectFlags) bool { return obj.flags&f != 0 }

// IsDestroyed reports whether Destroy has run or is running.
func (obj *Object) IsDestroyed() bool {
	return obj.flags&(FlagDestroyed|flagDestroying) != 0
}

// IsGoingToDie reports whether the object is destroyed or scheduled for
// delayed destruction.
func (obj *Object) IsGoingToDie() bool {
	return obj.flags&(FlagDestroyed|flagDestroying|FlagDelayedDestroy) != 0
}

// IsReleased reports whether the collector has returned the storage.
func (obj *Object) IsReleased() bool { return obj.flags&FlagReleased != 0 }

// IsPinned reports whether the object is exempt from collection.
func (obj *Object) IsPinned() bool { return obj.flags&FlagPinned != 0 }

// SetPinned sets or clears FlagPinned.
func (obj *Object) SetPinned(pinned bool) {
	if pinned {
		obj.flags |= FlagPinned
	} else {
		obj.flags &^= FlagPinned
	}
}

// IsA reports whether the object's class is c or descends from it.
func (obj *Object) IsA(c *Class) bool {
	return obj.class.IsSubclassOf(c)
}

func (obj *Object) String() string {
	if obj == nil {
		return "none"
	}
	return fmt.Sprintf("%s#%d", obj.class.Name, obj.uid)
}

// ---------------------------------------------------------------------------
// Field access
// ---------------------------------------------------------------------------

// storage returns the field slots, failing once they have been released.
func (obj *Object) storage() ([]Value, error) {
	if obj.fields == nil && obj.flags&FlagReleased != 0 {
		return nil, &UseAfterDestroyError{Object: obj.String()}
	}
	return obj.fields, nil
}

// Field returns the value in a field slot. Slot indexes come from
// FieldDescriptor.Index.
func (obj *Object) Field(index int) (Value, error) {
	fields, err := obj.storage()
	if err != nil {
		return Value{}, err
	}
	if index < 0 || index >= len(fields) {
		return Value{}, fmt.Errorf("%s: field slot %d out of range", obj, index)
	}
	return fields[index], nil
}

// SetField type-checks v against the slot's declared type and stores it.
func (obj *Object) SetField(index int, v Value) error {
	fields, err := obj.storage()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(fields) {
		return fmt.Errorf("%s: field slot %d out of range", obj, index)
	}
	f := obj.class.Fields[index]
	if err := f.Type.check(obj.class.Name+"."+f.Name, v); err != nil {
		return err
	}
	fields[index] = v.Copy()
	return nil
}

// Get returns a field by name.
func (obj *Object) Get(name string) (Value, error) {
	f, err := obj.class.FindField(name)
	if err != nil {
		return Value{}, err
	}
	return obj.Field(f.Index)
}

// Set stores a field by name, type-checking the value.
func (obj *Object) Set(name string, v Value) error {
	f, err := obj.class.FindField(name)
	if err != nil {
		return err
	}
	return obj.SetField(f.Index, v)
}

// getTyped reads a field after checking its declared tag. It never
// reinterprets the stored value as another type.
func (obj *Object) getTyped(name string, tag TypeTag) (Value, error) {
	f, err := obj.class.FindField(name)
	if err != nil {
		return Value{}, err
	}
	if f.Type.Tag != tag {
		return Value{}, mismatch(obj.class.Name+"."+name, tag.String(), f.Type.String())
	}
	return obj.Field(f.Index)
}

func (obj *Object) GetInt(name string) (int32, error) {
	v, err := obj.getTyped(name, TypeInt)
	return v.Int(), err
}

func (obj *Object) SetInt(name string, i int32) error {
	return obj.Set(name, IntValue(i))
}

func (obj *Object) GetFloat(name string) (float32, error) {
	v, err := obj.getTyped(name, TypeFloat)
	return v.Float(), err
}

func (obj *Object) SetFloat(name string, f float32) error {
	return obj.Set(name, FloatValue(f))
}

func (obj *Object) GetBool(name string) (bool, error) {
	v, err := obj.getTyped(name, TypeBool)
	return v.Bool(), err
}

func (obj *Object) SetBool(name string, b bool) error {
	return obj.Set(name, BoolValue(b))
}

func (obj *Object) GetString(name string) (string, error) {
	v, err := obj.getTyped(name, TypeString)
	return v.Str(), err
}

func (obj *Object) SetString(name string, s string) error {
	return obj.Set(name, StringValue(s))
}

func (obj *Object) GetName(name string) (Name, error) {
	v, err := obj.getTyped(name, TypeName)
	return v.Name(), err
}

func (obj *Object) SetName(name string, n Name) error {
	return obj.Set(name, NameValue(n))
}

// GetObject returns a reference field. The referenced object may be
// destroyed; callers must check.
func (obj *Object) GetObject(name string) (*Object, error) {
	v, err := obj.getTyped(name, TypeReference)
	return v.Object(), err
}

func (obj *Object) SetObject(name string, ref *Object) error {
	return obj.Set(name, ObjectValue(ref))
}

func (obj *Object) GetClass(name string) (*Class, error) {
	v, err := obj.getTyped(name, TypeClass)
	return v.Class(), err
}

func (obj *Object) SetClass(name string, c *Class) error {
	return obj.Set(name, ClassValue(c))
}

func (obj *Object) GetVector(name string) (Vector, error) {
	v, err := obj.getTyped(name, TypeVector)
	return v.Vector(), err
}

func (obj *Object) SetVector(name string, vec Vector) error {
	return obj.Set(name, VectorValue(vec))
}

// GetStruct returns a copy of a struct field.
func (obj *Object) GetStruct(name string) (*StructValue, error) {
	v, err := obj.getTyped(name, TypeStruct)
	if err != nil {
		return nil, err
	}
	return v.Struct().Copy(), nil
}

func (obj *Object) SetStruct(name string, sv *StructValue) error {
	return obj.Set(name, StructVal(sv))
}
