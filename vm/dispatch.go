package vm

import "fmt"

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// DestroyedPolicy decides what happens when a method is invoked on a
// destroyed receiver. Returning nil turns the call into a no-op that
// yields the zero value of the return type; returning an error aborts the
// call with it. Methods flagged MethodAllowDestroyed bypass the policy.
type DestroyedPolicy func(obj *Object, m *Method) error

// AbortOnDestroyed rejects every call on a destroyed receiver.
func AbortOnDestroyed(obj *Object, m *Method) error {
	return &UseAfterDestroyError{Object: obj.String(), Method: m.FullName()}
}

// IgnoreDestroyed silently skips calls on destroyed receivers.
func IgnoreDestroyed(*Object, *Method) error { return nil }

// SetDestroyedPolicy replaces the destroyed-receiver policy. A nil policy
// restores AbortOnDestroyed.
func (rt *Runtime) SetDestroyedPolicy(p DestroyedPolicy) {
	if p == nil {
		p = AbortOnDestroyed
	}
	rt.policy = p
}

// checkLive applies the destroyed-receiver policy. skip means the call
// must not run and the zero value stands in for its result.
func (rt *Runtime) checkLive(self *Object, m *Method) (skip bool, err error) {
	if self == nil || m.AllowsDestroyed() {
		return false, nil
	}
	if self.flags&(FlagDestroyed|FlagReleased) == 0 {
		return false, nil
	}
	if err := rt.policy(self, m); err != nil {
		return false, err
	}
	return true, nil
}

// Resolve returns the implementation obj's class binds to name.
func (rt *Runtime) Resolve(obj *Object, name string) (*Method, error) {
	if obj == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNilReference)
	}
	return obj.class.FindMethod(name)
}

// CallMethod invokes the method called name on obj. Virtual methods go
// through obj's dispatch table; final and static ones bind directly.
func (rt *Runtime) CallMethod(obj *Object, name string, args ...Value) (Value, error) {
	m, err := rt.Resolve(obj, name)
	if err != nil {
		return Value{}, err
	}
	switch {
	case m.IsStatic():
		return rt.invoke(m, nil, args)
	case m.IsVirtual():
		return rt.CallVirtual(obj, m, args...)
	default:
		return rt.invoke(m, obj, args)
	}
}

// CallVirtual invokes virtual method decl on obj through obj's dispatch
// table. decl may be any definition of the method in the receiver's
// ancestry; the implementation is always the one obj's dynamic class
// binds. A receiver outside decl's class is a TypeMismatchError.
func (rt *Runtime) CallVirtual(obj *Object, decl *Method, args ...Value) (Value, error) {
	m, err := virtualTarget(decl, obj)
	if err != nil {
		return Value{}, err
	}
	return rt.invoke(m, obj, args)
}

// virtualTarget resolves decl's dispatch slot against recv's class.
func virtualTarget(decl *Method, recv *Object) (*Method, error) {
	if recv == nil {
		return nil, fmt.Errorf("%s: %w", decl.FullName(), ErrNilReference)
	}
	if !decl.IsVirtual() {
		return nil, fmt.Errorf("%s is not virtual", decl.FullName())
	}
	if !recv.class.IsSubclassOf(decl.class) {
		return nil, mismatch(decl.FullName()+" receiver", "reference<"+decl.class.Name+">", recv.String())
	}
	m := recv.class.vtable.Lookup(decl.slot)
	if m == nil {
		return nil, notFound("slot", fmt.Sprintf("%s[%d]", recv.class.Name, decl.slot))
	}
	return m, nil
}

// CallDirect invokes m without dynamic dispatch. It is how final methods
// and explicit super calls bind.
func (rt *Runtime) CallDirect(m *Method, obj *Object, args ...Value) (Value, error) {
	if m.IsStatic() {
		return rt.invoke(m, nil, args)
	}
	if obj == nil {
		return Value{}, fmt.Errorf("%s: %w", m.FullName(), ErrNilReference)
	}
	return rt.invoke(m, obj, args)
}

// CallStatic invokes the static method className.name.
func (rt *Runtime) CallStatic(className, name string, args ...Value) (Value, error) {
	c, err := rt.Classes.Resolve(className)
	if err != nil {
		return Value{}, err
	}
	m, err := c.FindMethod(name)
	if err != nil {
		return Value{}, err
	}
	if !m.IsStatic() {
		return Value{}, fmt.Errorf("%s is not static", m.FullName())
	}
	return rt.invoke(m, nil, args)
}

// invoke runs m with a host-supplied receiver and arguments. It leaves the
// shared stack exactly as it found it, on success and on error.
func (rt *Runtime) invoke(m *Method, self *Object, args []Value) (Value, error) {
	st := rt.stack
	base := st.Len()
	if !m.IsStatic() {
		st.Push(ObjectValue(self))
	}
	for _, a := range args {
		st.Push(a)
	}

	if err := rt.execute(m, len(args)); err != nil {
		st.Truncate(base)
		if rt.depth == 0 {
			rt.log.Errorf("%s: %s", m.FullName(), err)
		}
		return Value{}, err
	}

	// The result is still on the stack, so a collection here cannot
	// reclaim a freshly spawned return value.
	if rt.depth == 0 && rt.destroying == 0 {
		rt.GC.MaybeCollect()
	}

	var result Value
	if m.Sig.Return.Tag != TypeVoid {
		v, err := st.Pop()
		if err != nil {
			st.Truncate(base)
			return Value{}, fmt.Errorf("%s result: %w", m.FullName(), err)
		}
		result = v
	}
	st.Truncate(base)
	return result, nil
}

// execute runs m against the receiver and argc arguments already on the
// stack and leaves its result (if any) in their place.
func (rt *Runtime) execute(m *Method, argc int) error {
	if rt.depth >= rt.maxDepth {
		return fmt.Errorf("%s: %w", m.FullName(), ErrStackOverflow)
	}
	rt.depth++
	defer func() { rt.depth-- }()

	if m.IsNative() {
		return rt.CallNative(m, rt.stack, argc)
	}
	return rt.interp.call(m, argc)
}
