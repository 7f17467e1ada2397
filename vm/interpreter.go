package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// CallFrame is the activation of a scripted method.
type CallFrame struct {
	Method *Method
	Self   *Object
	Locals []Value
	pc     int
}

// Interpreter executes scripted method bodies on the runtime's operand
// stack. It keeps one frame per active scripted call and reports frame
// contents to the collector, so a reference held only in a local survives
// a collection triggered during the call.
type Interpreter struct {
	rt      *Runtime
	frames  []*CallFrame
	natives []nativeFrame
	fields  map[fieldKey]int
}

// nativeFrame holds the receiver and arguments of an active native call,
// which PopArgs has already taken off the operand stack.
type nativeFrame struct {
	self *Object
	args []Value
}

type fieldKey struct {
	class *Class
	name  string
}

var errDivideByZero = errors.New("division by zero")

func newInterpreter(rt *Runtime) *Interpreter {
	return &Interpreter{
		rt:     rt,
		fields: make(map[fieldKey]int),
	}
}

// Depth returns the number of active scripted frames.
func (i *Interpreter) Depth() int { return len(i.frames) }

// Frames returns the active frames, innermost last.
func (i *Interpreter) Frames() []*CallFrame {
	out := make([]*CallFrame, len(i.frames))
	copy(out, i.frames)
	return out
}

// Roots implements RootProvider over receivers and locals of active
// frames, scripted and native.
func (i *Interpreter) Roots(visit func(*Object)) {
	for _, fr := range i.frames {
		if fr.Self != nil {
			visit(fr.Self)
		}
		for _, v := range fr.Locals {
			traceValue(v, visit)
		}
	}
	for _, nf := range i.natives {
		if nf.self != nil {
			visit(nf.self)
		}
		for _, v := range nf.args {
			traceValue(v, visit)
		}
	}
}

// callNative runs fn with self and args reported as roots until it returns.
func (i *Interpreter) callNative(m *Method, self *Object, args Args) (Value, error) {
	i.natives = append(i.natives, nativeFrame{self: self, args: args.values})
	defer func() {
		i.natives[len(i.natives)-1] = nativeFrame{}
		i.natives = i.natives[:len(i.natives)-1]
	}()
	return m.Native(i.rt, self, args)
}

// call runs scripted method m whose receiver and argc arguments are on the
// stack, replacing them with the result.
func (i *Interpreter) call(m *Method, argc int) error {
	st := i.rt.stack
	self, args, err := PopArgs(m, st, argc)
	if err != nil {
		return err
	}
	if skip, err := i.rt.checkLive(self, m); err != nil {
		return err
	} else if skip {
		return st.PushTyped(m.Sig.Return, ZeroValue(m.Sig.Return), m.FullName())
	}

	code := m.Code
	locals := make([]Value, max(code.NumLocals, code.NumParams))
	copy(locals, args.values)
	fr := &CallFrame{Method: m, Self: self, Locals: locals}

	base := st.Len()
	i.frames = append(i.frames, fr)
	result, err := i.run(fr)
	i.frames[len(i.frames)-1] = nil
	i.frames = i.frames[:len(i.frames)-1]
	if err != nil {
		st.Truncate(base)
		return err
	}
	st.Truncate(base)
	return pushResult(m, st, result)
}

// run executes fr until it returns or falls off the end of its code.
func (i *Interpreter) run(fr *CallFrame) (Value, error) {
	code := fr.Method.Code
	st := i.rt.stack

	for fr.pc < len(code.Instrs) {
		pc := fr.pc
		in := code.Instrs[pc]
		fr.pc++

		fail := func(err error) (Value, error) {
			return Value{}, fmt.Errorf("%s@%d %s: %w", fr.Method.FullName(), pc, in.Op, err)
		}

		switch in.Op {
		case OpNop:

		case OpPushConst:
			if int(in.A) >= len(code.Consts) {
				return fail(fmt.Errorf("constant %d out of range", in.A))
			}
			st.Push(code.Consts[in.A])

		case OpPushNull:
			st.Push(Null)

		case OpPushSelf:
			st.Push(ObjectValue(fr.Self))

		case OpPushLocal:
			if int(in.A) >= len(fr.Locals) {
				return fail(fmt.Errorf("local %d out of range", in.A))
			}
			st.Push(fr.Locals[in.A])

		case OpStoreLocal:
			if int(in.A) >= len(fr.Locals) {
				return fail(fmt.Errorf("local %d out of range", in.A))
			}
			v, err := st.Pop()
			if err != nil {
				return fail(err)
			}
			fr.Locals[in.A] = v

		case OpPop:
			if _, err := st.Pop(); err != nil {
				return fail(err)
			}

		case OpDup:
			v, err := st.Peek(0)
			if err != nil {
				return fail(err)
			}
			st.Push(v)

		case OpGetField:
			ov, err := st.Pop()
			if err != nil {
				return fail(err)
			}
			obj, idx, err := i.field(ov, code.Consts[in.A].Str())
			if err != nil {
				return fail(err)
			}
			v, err := obj.Field(idx)
			if err != nil {
				return fail(err)
			}
			st.Push(v)

		case OpSetField:
			v, err := st.Pop()
			if err != nil {
				return fail(err)
			}
			ov, err := st.Pop()
			if err != nil {
				return fail(err)
			}
			obj, idx, err := i.field(ov, code.Consts[in.A].Str())
			if err != nil {
				return fail(err)
			}
			if err := obj.SetField(idx, v); err != nil {
				return fail(err)
			}

		case OpCallVirtual:
			m := code.Methods[in.A]
			target := m
			if m.IsVirtual() {
				recv, err := st.Peek(int(in.B))
				if err != nil {
					return fail(err)
				}
				if target, err = virtualTarget(m, recv.ref); err != nil {
					return fail(err)
				}
			}
			if err := i.rt.execute(target, int(in.B)); err != nil {
				return fail(err)
			}

		case OpCallFinal:
			if err := i.rt.execute(code.Methods[in.A], int(in.B)); err != nil {
				return fail(err)
			}

		case OpSend:
			name := code.Consts[in.A].Str()
			recv, err := st.Peek(int(in.B))
			if err != nil {
				return fail(err)
			}
			if recv.tag != TypeReference {
				return fail(mismatch(name+" receiver", "reference", recv.tag.String()))
			}
			if recv.ref == nil {
				return fail(fmt.Errorf("%s: %w", name, ErrNilReference))
			}
			m, err := recv.ref.class.FindMethod(name)
			if err != nil {
				return fail(err)
			}
			if m.IsStatic() {
				return fail(fmt.Errorf("%s is static and takes no receiver", m.FullName()))
			}
			if err := i.rt.execute(m, int(in.B)); err != nil {
				return fail(err)
			}

		case OpSpawn:
			c, err := i.rt.Classes.Resolve(code.Consts[in.A].Str())
			if err != nil {
				return fail(err)
			}
			obj, err := i.rt.Spawn(c)
			if err != nil {
				return fail(err)
			}
			st.Push(ObjectValue(obj))

		case OpReturn:
			return st.Pop()

		case OpReturnVoid:
			return Value{}, nil

		case OpAdd, OpSub, OpMul, OpDiv, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			b, err := st.Pop()
			if err != nil {
				return fail(err)
			}
			a, err := st.Pop()
			if err != nil {
				return fail(err)
			}
			r, err := binary(in.Op, a, b)
			if err != nil {
				return fail(err)
			}
			st.Push(r)

		case OpNeg:
			a, err := st.Pop()
			if err != nil {
				return fail(err)
			}
			switch a.tag {
			case TypeInt:
				st.Push(IntValue(-a.Int()))
			case TypeFloat:
				st.Push(FloatValue(-a.Float()))
			case TypeVector:
				v := a.vec
				st.Push(VectorValue(Vector{-v.X, -v.Y, -v.Z}))
			default:
				return fail(mismatch("negation", "int, float or vector", a.tag.String()))
			}

		case OpNot:
			a, err := st.Pop()
			if err != nil {
				return fail(err)
			}
			st.Push(BoolValue(!a.Truthy()))

		case OpJump:
			fr.pc = int(in.A)

		case OpJumpIfFalse:
			cond, err := st.Pop()
			if err != nil {
				return fail(err)
			}
			if !cond.Truthy() {
				fr.pc = int(in.A)
			}

		default:
			return fail(fmt.Errorf("unknown opcode"))
		}
	}
	return Value{}, nil
}

// field resolves a field access on the object held in v. Field indices are
// cached per concrete class.
func (i *Interpreter) field(v Value, name string) (*Object, int, error) {
	if v.tag != TypeReference {
		return nil, 0, mismatch("field "+name, "reference", v.tag.String())
	}
	obj := v.ref
	if obj == nil {
		return nil, 0, fmt.Errorf("field %s: %w", name, ErrNilReference)
	}
	key := fieldKey{class: obj.class, name: name}
	if idx, ok := i.fields[key]; ok {
		return obj, idx, nil
	}
	f, err := obj.class.FindField(name)
	if err != nil {
		return nil, 0, err
	}
	i.fields[key] = f.Index
	return obj, f.Index, nil
}

// binary evaluates an arithmetic or comparison operator. Operands must
// have the same type; there is no implicit int/float promotion.
func binary(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpEq:
		return BoolValue(Equal(a, b)), nil
	case OpNe:
		return BoolValue(!Equal(a, b)), nil
	}

	if a.tag == TypeVector && b.tag == TypeFloat && (op == OpMul || op == OpDiv) {
		s := b.Float()
		if op == OpDiv {
			if s == 0 {
				return Value{}, errDivideByZero
			}
			s = 1 / s
		}
		v := a.vec
		return VectorValue(Vector{v.X * s, v.Y * s, v.Z * s}), nil
	}
	if a.tag != b.tag {
		return Value{}, mismatch(op.String()+" operands", a.tag.String(), b.tag.String())
	}

	switch a.tag {
	case TypeInt:
		x, y := a.Int(), b.Int()
		switch op {
		case OpAdd:
			return IntValue(x + y), nil
		case OpSub:
			return IntValue(x - y), nil
		case OpMul:
			return IntValue(x * y), nil
		case OpDiv:
			if y == 0 {
				return Value{}, errDivideByZero
			}
			return IntValue(x / y), nil
		case OpLt:
			return BoolValue(x < y), nil
		case OpLe:
			return BoolValue(x <= y), nil
		case OpGt:
			return BoolValue(x > y), nil
		case OpGe:
			return BoolValue(x >= y), nil
		}
	case TypeFloat:
		x, y := a.Float(), b.Float()
		switch op {
		case OpAdd:
			return FloatValue(x + y), nil
		case OpSub:
			return FloatValue(x - y), nil
		case OpMul:
			return FloatValue(x * y), nil
		case OpDiv:
			if y == 0 {
				return Value{}, errDivideByZero
			}
			return FloatValue(x / y), nil
		case OpLt:
			return BoolValue(x < y), nil
		case OpLe:
			return BoolValue(x <= y), nil
		case OpGt:
			return BoolValue(x > y), nil
		case OpGe:
			return BoolValue(x >= y), nil
		}
	case TypeString:
		x, y := a.str, b.str
		switch op {
		case OpAdd:
			return StringValue(x + y), nil
		case OpLt:
			return BoolValue(x < y), nil
		case OpLe:
			return BoolValue(x <= y), nil
		case OpGt:
			return BoolValue(x > y), nil
		case OpGe:
			return BoolValue(x >= y), nil
		}
	case TypeVector:
		x, y := a.vec, b.vec
		switch op {
		case OpAdd:
			return VectorValue(Vector{x.X + y.X, x.Y + y.Y, x.Z + y.Z}), nil
		case OpSub:
			return VectorValue(Vector{x.X - y.X, x.Y - y.Y, x.Z - y.Z}), nil
		}
	}
	return Value{}, mismatch(op.String()+" operands", "operands supporting "+op.String(), a.tag.String())
}
