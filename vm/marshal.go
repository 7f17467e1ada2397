package vm

import "fmt"

// ---------------------------------------------------------------------------
// Native call marshalling
// ---------------------------------------------------------------------------

// Args is the argument view handed to a native function. It always holds
// one value per declared parameter; omitted optional parameters carry
// their declared defaults.
type Args struct {
	values   []Value
	supplied int
}

// Len returns the number of declared parameters.
func (a Args) Len() int { return len(a.values) }

// Supplied returns how many arguments the caller actually passed.
func (a Args) Supplied() int { return a.supplied }

// Specified reports whether parameter i was passed by the caller rather
// than filled from its default.
func (a Args) Specified(i int) bool { return i >= 0 && i < a.supplied }

// Value returns parameter i.
func (a Args) Value(i int) Value {
	if i < 0 || i >= len(a.values) {
		return Value{}
	}
	return a.values[i]
}

func (a Args) Int(i int) int32 { return a.Value(i).Int() }
func (a Args) Float(i int) float32 { return a.Value(i).Float() }
func (a Args) Bool(i int) bool { return a.Value(i).Bool() }
func (a Args) Str(i int) string { return a.Value(i).Str() }
func (a Args) Name(i int) Name { return a.Value(i).Name() }
func (a Args) Object(i int) *Object { return a.Value(i).Object() }
func (a Args) Class(i int) *Class { return a.Value(i).Class() }
func (a Args) Vector(i int) Vector { return a.Value(i).Vector() }
func (a Args) Struct(i int) *StructValue { return a.Value(i).Struct() }

// Values returns a copy of all parameter values.
func (a Args) Values() []Value {
	out := make([]Value, len(a.values))
	copy(out, a.values)
	return out
}

// PopArgs pops a call frame for m off the stack: argc supplied arguments
// in reverse declaration order (the last declared parameter comes off
// first), then the receiver unless m is static. Omitted trailing optional
// parameters are filled from their defaults. Every value is type-checked
// before it is accepted, so a wrong reference class is reported before
// the callee runs.
func PopArgs(m *Method, st *Stack, argc int) (*Object, Args, error) {
	params := m.Sig.Params
	name := m.FullName()
	if argc < 0 || argc > len(params) {
		return nil, Args{}, mismatch(name, fmt.Sprintf("at most %d arguments", len(params)), fmt.Sprintf("%d", argc))
	}
	if argc < m.Sig.Required() {
		return nil, Args{}, mismatch(name, fmt.Sprintf("at least %d arguments", m.Sig.Required()), fmt.Sprintf("%d", argc))
	}

	values := make([]Value, len(params))
	for i := argc - 1; i >= 0; i-- {
		ctx := fmt.Sprintf("%s argument %d (%s)", name, i+1, params[i].Name)
		v, err := st.PopTyped(params[i].Type, ctx)
		if err != nil {
			return nil, Args{}, err
		}
		values[i] = v
	}
	for i := argc; i < len(params); i++ {
		if params[i].Default.tag == TypeVoid {
			values[i] = ZeroValue(params[i].Type)
		} else {
			values[i] = params[i].Default.Copy()
		}
	}

	var self *Object
	if !m.IsStatic() {
		v, err := st.Pop()
		if err != nil {
			return nil, Args{}, fmt.Errorf("%s receiver: %w", name, err)
		}
		if v.tag != TypeReference {
			return nil, Args{}, mismatch(name+" receiver", "reference<"+m.class.Name+">", v.tag.String())
		}
		if v.ref == nil {
			return nil, Args{}, fmt.Errorf("%s: %w", name, ErrNilReference)
		}
		if !v.ref.class.IsSubclassOf(m.class) {
			return nil, Args{}, mismatch(name+" receiver", "reference<"+m.class.Name+">", "reference<"+v.ref.class.Name+">")
		}
		self = v.ref
	}
	return self, Args{values: values, supplied: argc}, nil
}

// CallNative runs a native method whose receiver and argc arguments are
// on st, and pushes exactly one result for non-void methods (none for
// void). On error the consumed slots are not restored; callers that need
// a balanced stack truncate to their saved depth.
func (rt *Runtime) CallNative(m *Method, st *Stack, argc int) error {
	if !m.IsNative() {
		return fmt.Errorf("%s is not native", m.FullName())
	}
	self, args, err := PopArgs(m, st, argc)
	if err != nil {
		return err
	}
	if skip, err := rt.checkLive(self, m); err != nil {
		return err
	} else if skip {
		return st.PushTyped(m.Sig.Return, ZeroValue(m.Sig.Return), m.FullName())
	}

	result, err := rt.interp.callNative(m, self, args)
	if err != nil {
		return err
	}
	return pushResult(m, st, result)
}

// pushResult pushes a method's result, checked against its return type.
func pushResult(m *Method, st *Stack, result Value) error {
	ret := m.Sig.Return
	if ret.Tag == TypeVoid {
		return nil
	}
	if result.tag == TypeVoid {
		result = ZeroValue(ret)
	}
	return st.PushTyped(ret, result, m.FullName()+" result")
}
