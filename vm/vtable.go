package vm

// VTable is a class's dispatch table: slot index -> most-derived
// implementation.
//
// Tables are built once, when the class is finalized, by copying the
// parent's table and overwriting the slots of overridden methods. A method
// that does not match an ancestor virtual gets a fresh slot appended after
// the parent's, unless it is final or static, in which case it binds
// directly and has no slot. Final methods cannot be overridden; static
// methods may be shadowed by a static method with the same signature.
type VTable struct {
	class   *Class
	methods []*Method
}

// Lookup returns the method in a slot, or nil when slot is out of range.
func (vt *VTable) Lookup(slot int) *Method {
	if slot < 0 || slot >= len(vt.methods) {
		return nil
	}
	return vt.methods[slot]
}

// Len returns the number of slots.
func (vt *VTable) Len() int {
	return len(vt.methods)
}

// Class returns the class the table belongs to.
func (vt *VTable) Class() *Class {
	return vt.class
}

// Methods returns a copy of the slots.
func (vt *VTable) Methods() []*Method {
	out := make([]*Method, len(vt.methods))
	copy(out, vt.methods)
	return out
}

// assignSlot decides the dispatch slot of a newly declared method and
// checks it against the ancestor it overrides or shadows.
func assignSlot(c *Class, m *Method, next *int) error {
	m.slot = -1
	var anc *Method
	if c.Parent != nil {
		anc, _ = c.Parent.FindMethod(m.Name)
	}

	if anc != nil {
		m.super = anc
		if anc.IsStatic() != m.IsStatic() {
			return defError(c.Name, m.Name, "static-ness differs from %s", anc.FullName())
		}
		if anc.IsFinal() && !anc.IsStatic() {
			return defError(c.Name, m.Name, "cannot override final method %s", anc.FullName())
		}
		if !anc.Sig.Compatible(m.Sig) {
			if anc.IsVirtual() {
				return defError(c.Name, m.Name, "override of %s has signature %s, want %s", anc.FullName(), m.Sig, anc.Sig)
			}
			return defError(c.Name, m.Name, "signature %s is incompatible with static %s %s", m.Sig, anc.FullName(), anc.Sig)
		}
		if anc.IsVirtual() {
			m.slot = anc.slot
			return nil
		}
	}

	if m.IsFinal() || m.IsStatic() {
		return nil
	}
	m.slot = *next
	*next++
	return nil
}

// buildVTable fills c.vtable; slots must already be assigned.
func buildVTable(c *Class, size int) {
	vt := &VTable{class: c, methods: make([]*Method, size)}
	if c.Parent != nil {
		copy(vt.methods, c.Parent.vtable.methods)
	}
	for _, m := range c.Methods {
		if m.slot >= 0 {
			vt.methods[m.slot] = m
		}
	}
	c.vtable = vt
}
