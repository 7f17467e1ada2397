package vm

// ClassFlags describe class-wide properties.
type ClassFlags uint32

const (
	// ClassAbstract classes cannot be spawned.
	ClassAbstract ClassFlags = 1 << iota
	// ClassNative classes are declared by the runtime or a host package.
	ClassNative
)

// ClassSpec declares a class for registration. Parent names the parent
// class; it may be registered later than the child.
type ClassSpec struct {
	Name    string
	Parent  string
	Flags   ClassFlags
	Fields  []FieldSpec
	Methods []*Method

	// Defaults overrides default values of inherited fields.
	Defaults map[string]Value
}

// Class is the immutable description of an object type. Classes are
// created by ClassTable.Finalize and never change afterwards.
type Class struct {
	Name   string
	NameID Name
	Parent *Class
	Flags  ClassFlags

	// Fields holds every field, inherited ones first. The parent's Fields
	// slice is always a prefix of the child's.
	Fields []*FieldDescriptor

	// Methods holds the methods this class declares, in declaration order.
	Methods []*Method

	vtable        *VTable
	ownFields     map[string]*FieldDescriptor
	ownMethods    map[string]*Method
	defaults      []Value
	refSlots      []int
	size          int
	unalignedSize int
	onDestroy     *Method

	// Live instance counters; maintained by spawn and release.
	InstanceCount        int
	InstanceCountWithSub int
}

// FindField returns the named field, searching this class and then its
// ancestors.
func (c *Class) FindField(name string) (*FieldDescriptor, error) {
	for cur := c; cur != nil; cur = cur.Parent {
		if f, ok := cur.ownFields[name]; ok {
			return f, nil
		}
	}
	return nil, notFound("field", c.Name+"."+name)
}

// FindMethod returns the most-derived method with the given name,
// searching this class and then its ancestors.
func (c *Class) FindMethod(name string) (*Method, error) {
	for cur := c; cur != nil; cur = cur.Parent {
		if m, ok := cur.ownMethods[name]; ok {
			return m, nil
		}
	}
	return nil, notFound("method", c.Name+"."+name)
}

// IsSubclassOf returns true if c is other or descends from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Parent {
		if cur == other {
			return true
		}
	}
	return false
}

// IsAbstract reports whether the class cannot be spawned.
func (c *Class) IsAbstract() bool {
	return c.Flags&ClassAbstract != 0
}

// VTable returns the dispatch table.
func (c *Class) VTable() *VTable {
	return c.vtable
}

// NumFields returns the number of field slots an instance carries.
func (c *Class) NumFields() int {
	return len(c.Fields)
}

// Size returns the instance size in bytes in the VavoomC layout.
func (c *Class) Size() int {
	return c.size
}

// Default returns a copy of the default template value of a field.
func (c *Class) Default(name string) (Value, error) {
	f, err := c.FindField(name)
	if err != nil {
		return Value{}, err
	}
	return c.defaults[f.Index].Copy(), nil
}

// Depth returns the number of ancestors.
func (c *Class) Depth() int {
	d := 0
	for cur := c.Parent; cur != nil; cur = cur.Parent {
		d++
	}
	return d
}

func (c *Class) String() string {
	return c.Name
}
