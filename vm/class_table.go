package vm

import (
	"fmt"
	"sort"
)

// ClassTable holds class and struct metadata.
//
// Loading is two-phase. Register records a ClassSpec; Finalize is the
// fixup pass that builds pending classes parent-first, resolves class
// names used in field and parameter types, and builds dispatch tables.
// Finalized classes are immutable; Register may be called again to load
// more classes, followed by another Finalize.
type ClassTable struct {
	names *NameTable

	classes map[string]*Class
	order   []*Class
	structs map[string]*StructType

	pending      map[string]*ClassSpec
	pendingOrder []string
	unresolved   []*StructType
}

// NewClassTable creates an empty table interning class names in names.
func NewClassTable(names *NameTable) *ClassTable {
	return &ClassTable{
		names:   names,
		classes: make(map[string]*Class),
		structs: make(map[string]*StructType),
		pending: make(map[string]*ClassSpec),
	}
}

// Register records a class for the next Finalize. Registering a name
// twice is a DefinitionError.
func (ct *ClassTable) Register(spec ClassSpec) error {
	if spec.Name == "" {
		return defError("<anonymous>", "", "class without a name")
	}
	if _, ok := ct.classes[spec.Name]; ok {
		return defError(spec.Name, "", "class already defined")
	}
	if _, ok := ct.pending[spec.Name]; ok {
		return defError(spec.Name, "", "class already registered")
	}
	if spec.Parent == spec.Name {
		return defError(spec.Name, "", "class cannot be its own parent")
	}
	s := spec
	ct.pending[spec.Name] = &s
	ct.pendingOrder = append(ct.pendingOrder, spec.Name)
	return nil
}

// DefineStruct creates a struct type. Class names used by its reference
// fields are resolved at the next Finalize.
func (ct *ClassTable) DefineStruct(name string, fields []FieldSpec) (*StructType, error) {
	if name == "" {
		return nil, defError("<anonymous>", "", "struct without a name")
	}
	if _, ok := ct.structs[name]; ok {
		return nil, defError(name, "", "struct already defined")
	}
	st, err := newStructType(name, fields)
	if err != nil {
		return nil, err
	}
	ct.structs[name] = st
	ct.unresolved = append(ct.unresolved, st)
	return st, nil
}

// Struct returns a struct type by name.
func (ct *ClassTable) Struct(name string) (*StructType, error) {
	if st, ok := ct.structs[name]; ok {
		return st, nil
	}
	return nil, notFound("struct", name)
}

// Resolve returns a finalized class by name.
func (ct *ClassTable) Resolve(name string) (*Class, error) {
	if c, ok := ct.classes[name]; ok {
		return c, nil
	}
	return nil, notFound("class", name)
}

// All returns finalized classes in finalization order, parents first.
func (ct *ClassTable) All() []*Class {
	out := make([]*Class, len(ct.order))
	copy(out, ct.order)
	return out
}

// Len returns the number of finalized classes.
func (ct *ClassTable) Len() int {
	return len(ct.order)
}

// Pending returns the names of registered but not yet finalized classes.
func (ct *ClassTable) Pending() []string {
	out := make([]string, len(ct.pendingOrder))
	copy(out, ct.pendingOrder)
	return out
}

// Finalize builds every pending class. A class whose parent never
// appears, or that takes part in an inheritance cycle, is a fatal
// DefinitionError.
func (ct *ClassTable) Finalize() error {
	var built []*Class
	for len(ct.pendingOrder) > 0 {
		progress := false
		remaining := ct.pendingOrder[:0:0]
		for _, name := range ct.pendingOrder {
			spec := ct.pending[name]
			var parent *Class
			if spec.Parent != "" {
				p, ok := ct.classes[spec.Parent]
				if !ok {
					remaining = append(remaining, name)
					continue
				}
				parent = p
			}
			c, err := ct.build(spec, parent)
			if err != nil {
				ct.dropPending(name)
				return err
			}
			ct.classes[name] = c
			ct.order = append(ct.order, c)
			delete(ct.pending, name)
			built = append(built, c)
			progress = true
		}
		ct.pendingOrder = remaining
		if !progress {
			return ct.unresolvedParents()
		}
	}

	for _, c := range built {
		if err := ct.resolveClassTypes(c); err != nil {
			return err
		}
	}
	for _, st := range ct.unresolved {
		for _, f := range st.Fields {
			if err := ct.resolveType(st.Name, f.Name, &f.Type); err != nil {
				return err
			}
		}
	}
	ct.unresolved = nil
	return nil
}

// dropPending forgets a class that failed to build and prunes names
// already finalized in the interrupted pass.
func (ct *ClassTable) dropPending(failed string) {
	delete(ct.pending, failed)
	kept := ct.pendingOrder[:0]
	for _, name := range ct.pendingOrder {
		if _, ok := ct.pending[name]; ok {
			kept = append(kept, name)
		}
	}
	ct.pendingOrder = kept
}

// unresolvedParents reports the first class stuck in the fixup pass.
func (ct *ClassTable) unresolvedParents() error {
	names := append([]string(nil), ct.pendingOrder...)
	sort.Strings(names)
	name := names[0]
	spec := ct.pending[name]
	if _, ok := ct.pending[spec.Parent]; ok {
		return defError(name, "", "inheritance cycle through parent %q", spec.Parent)
	}
	return defError(name, "", "unresolved parent class %q", spec.Parent)
}

// build lays out one class whose parent is already finalized.
func (ct *ClassTable) build(spec *ClassSpec, parent *Class) (*Class, error) {
	c := &Class{
		Name:       spec.Name,
		NameID:     ct.names.Intern(spec.Name),
		Parent:     parent,
		Flags:      spec.Flags,
		ownFields:  make(map[string]*FieldDescriptor, len(spec.Fields)),
		ownMethods: make(map[string]*Method, len(spec.Methods)),
	}

	offset := 0
	var defaults []Value
	if parent != nil {
		c.Fields = make([]*FieldDescriptor, len(parent.Fields), len(parent.Fields)+len(spec.Fields))
		copy(c.Fields, parent.Fields)
		offset = parent.unalignedSize
		defaults = make([]Value, len(parent.defaults), len(parent.defaults)+len(spec.Fields))
		for i, d := range parent.defaults {
			defaults[i] = d.Copy()
		}
	}

	for _, fs := range spec.Fields {
		if fs.Name == "" {
			return nil, defError(c.Name, "", "field without a name")
		}
		if _, dup := c.ownFields[fs.Name]; dup {
			return nil, defError(c.Name, fs.Name, "duplicate field")
		}
		if parent != nil {
			if inherited, err := parent.FindField(fs.Name); err == nil {
				return nil, defError(c.Name, fs.Name, "redeclares field inherited from %s", inherited.Owner)
			}
		}
		if fs.Type.Tag == TypeVoid {
			return nil, defError(c.Name, fs.Name, "field cannot be void")
		}
		if fs.Type.Tag == TypeStruct && fs.Type.Struct == nil {
			return nil, defError(c.Name, fs.Name, "struct field without struct type")
		}
		d, err := defaultFor(c.Name, fs)
		if err != nil {
			return nil, err
		}
		offset = align(offset, fs.Type.Alignment())
		f := &FieldDescriptor{
			Name:   fs.Name,
			Type:   fs.Type,
			Index:  len(c.Fields),
			Offset: offset,
			Size:   fs.Type.Size(),
			Owner:  c.Name,
		}
		offset += f.Size
		c.Fields = append(c.Fields, f)
		c.ownFields[f.Name] = f
		defaults = append(defaults, d)
	}
	c.unalignedSize = offset
	c.size = align(offset, 8)

	for name, v := range spec.Defaults {
		f, err := c.FindField(name)
		if err != nil {
			return nil, defError(c.Name, name, "default override for unknown field")
		}
		d, err := defaultFor(c.Name, FieldSpec{Name: name, Type: f.Type, Default: v})
		if err != nil {
			return nil, err
		}
		defaults[f.Index] = d
	}
	c.defaults = defaults

	for _, f := range c.Fields {
		if f.Type.hasReferences() {
			c.refSlots = append(c.refSlots, f.Index)
		}
	}

	next := 0
	if parent != nil {
		next = parent.vtable.Len()
	}
	for _, m := range spec.Methods {
		if err := m.validate(c.Name); err != nil {
			return nil, err
		}
		if _, dup := c.ownMethods[m.Name]; dup {
			return nil, defError(c.Name, m.Name, "duplicate method")
		}
		if err := assignSlot(c, m, &next); err != nil {
			return nil, err
		}
		m.class = c
		c.ownMethods[m.Name] = m
		c.Methods = append(c.Methods, m)
	}
	buildVTable(c, next)

	if hook, err := c.FindMethod(onDestroyMethod); err == nil && !hook.IsStatic() && len(hook.Sig.Params) == 0 {
		c.onDestroy = hook
	}
	return c, nil
}

// resolveClassTypes binds class names in a new class's own fields and
// method signatures, then rechecks class-typed defaults.
func (ct *ClassTable) resolveClassTypes(c *Class) error {
	for _, f := range c.Fields {
		if f.Owner != c.Name {
			continue
		}
		if err := ct.resolveType(c.Name, f.Name, &f.Type); err != nil {
			return err
		}
		if err := f.Type.check(c.Name+"."+f.Name, c.defaults[f.Index]); err != nil {
			return defError(c.Name, f.Name, "default value: %v", err)
		}
	}
	for _, m := range c.Methods {
		for i := range m.Sig.Params {
			p := &m.Sig.Params[i]
			if err := ct.resolveType(c.Name, fmt.Sprintf("%s(%s)", m.Name, p.Name), &p.Type); err != nil {
				return err
			}
		}
		if err := ct.resolveType(c.Name, m.Name, &m.Sig.Return); err != nil {
			return err
		}
	}
	return nil
}

func (ct *ClassTable) resolveType(owner, member string, ft *FieldType) error {
	if ft.Tag != TypeReference && ft.Tag != TypeClass {
		return nil
	}
	if ft.ClassName == "" || ft.class != nil {
		return nil
	}
	c, ok := ct.classes[ft.ClassName]
	if !ok {
		return defError(owner, member, "unresolved class %q", ft.ClassName)
	}
	ft.class = c
	return nil
}
