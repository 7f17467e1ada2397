package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single bytecode operation.
type Opcode uint8

// Stack operations
const (
	OpNop Opcode = iota
	OpPushConst  // push Consts[A]
	OpPushNull   // push a null reference
	OpPushSelf   // push the receiver
	OpPushLocal  // push local A (parameters come first)
	OpStoreLocal // pop into local A
	OpPop        // discard top of stack
	OpDup        // duplicate top of stack
)

// Field access
const (
	OpGetField Opcode = iota + 0x10 // pop object, push its field named Consts[A]
	OpSetField                      // pop value, pop object, store into field Consts[A]
)

// Calls
const (
	OpCallVirtual Opcode = iota + 0x20 // call Methods[A] through the receiver's table, B args
	OpCallFinal                        // call Methods[A] directly, B args
	OpSend                             // look up method Consts[A] on the receiver, B args
	OpSpawn                            // push a new instance of class Consts[A]
	OpReturn                           // return top of stack
	OpReturnVoid                       // return nothing
)

// Arithmetic and comparison
const (
	OpAdd Opcode = iota + 0x30
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpNot
)

// Control flow
const (
	OpJump        Opcode = iota + 0x40 // jump to A
	OpJumpIfFalse                      // pop condition, jump to A when false
)

var opNames = map[Opcode]string{
	OpNop:         "NOP",
	OpPushConst:   "PUSH_CONST",
	OpPushNull:    "PUSH_NULL",
	OpPushSelf:    "PUSH_SELF",
	OpPushLocal:   "PUSH_LOCAL",
	OpStoreLocal:  "STORE_LOCAL",
	OpPop:         "POP",
	OpDup:         "DUP",
	OpGetField:    "GET_FIELD",
	OpSetField:    "SET_FIELD",
	OpCallVirtual: "CALL_VIRTUAL",
	OpCallFinal:   "CALL_FINAL",
	OpSend:        "SEND",
	OpSpawn:       "SPAWN",
	OpReturn:      "RETURN",
	OpReturnVoid:  "RETURN_VOID",
	OpAdd:         "ADD",
	OpSub:         "SUB",
	OpMul:         "MUL",
	OpDiv:         "DIV",
	OpNeg:         "NEG",
	OpEq:          "EQ",
	OpNe:          "NE",
	OpLt:          "LT",
	OpLe:          "LE",
	OpGt:          "GT",
	OpGe:          "GE",
	OpNot:         "NOT",
	OpJump:        "JUMP",
	OpJumpIfFalse: "JUMP_IF_FALSE",
}

func (op Opcode) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(op))
}

// Instruction is one decoded operation with up to two operands.
type Instruction struct {
	Op Opcode
	A  int32
	B  int32
}

func (in Instruction) String() string {
	switch in.Op {
	case OpCallVirtual, OpCallFinal, OpSend:
		return fmt.Sprintf("%s %d %d", in.Op, in.A, in.B)
	case OpPushConst, OpPushLocal, OpStoreLocal, OpGetField, OpSetField, OpSpawn, OpJump, OpJumpIfFalse:
		return fmt.Sprintf("%s %d", in.Op, in.A)
	default:
		return in.Op.String()
	}
}

// Code is the body of a scripted method. Locals 0..NumParams-1 hold the
// parameters; the rest start as void.
type Code struct {
	Instrs    []Instruction
	Consts    []Value
	Methods   []*Method
	NumParams int
	NumLocals int
}

// Disassemble renders the code one instruction per line.
func (c *Code) Disassemble() string {
	var sb strings.Builder
	for pc, in := range c.Instrs {
		fmt.Fprintf(&sb, "%04d  %s", pc, in)
		switch in.Op {
		case OpPushConst, OpGetField, OpSetField, OpSend, OpSpawn:
			if int(in.A) < len(c.Consts) {
				fmt.Fprintf(&sb, "  ; %s", c.Consts[in.A])
			}
		case OpCallVirtual, OpCallFinal:
			if int(in.A) < len(c.Methods) {
				fmt.Fprintf(&sb, "  ; %s", c.Methods[in.A].FullName())
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// CodeBuilder
// ---------------------------------------------------------------------------

// CodeBuilder assembles Code. Methods return the builder so bodies read
// top to bottom.
type CodeBuilder struct {
	code   *Code
	labels map[string]int
	fixups []fixup
	err    error
}

type fixup struct {
	pc    int
	label string
}

// NewCodeBuilder starts a body for a method with numParams parameters.
func NewCodeBuilder(numParams int) *CodeBuilder {
	return &CodeBuilder{
		code:   &Code{NumParams: numParams, NumLocals: numParams},
		labels: make(map[string]int),
	}
}

func (b *CodeBuilder) emit(op Opcode, a, c int) *CodeBuilder {
	b.code.Instrs = append(b.code.Instrs, Instruction{Op: op, A: int32(a), B: int32(c)})
	return b
}

// Const adds v to the constant pool and returns its index. Scalar
// constants are deduplicated.
func (b *CodeBuilder) Const(v Value) int {
	if v.tag != TypeStruct && v.tag != TypeReference {
		for i, c := range b.code.Consts {
			if c.tag == v.tag && Equal(c, v) {
				return i
			}
		}
	}
	b.code.Consts = append(b.code.Consts, v.Copy())
	return len(b.code.Consts) - 1
}

func (b *CodeBuilder) method(m *Method) int {
	for i, x := range b.code.Methods {
		if x == m {
			return i
		}
	}
	b.code.Methods = append(b.code.Methods, m)
	return len(b.code.Methods) - 1
}

// Local reserves a new local variable and returns its index.
func (b *CodeBuilder) Local() int {
	b.code.NumLocals++
	return b.code.NumLocals - 1
}

func (b *CodeBuilder) Nop() *CodeBuilder { return b.emit(OpNop, 0, 0) }
func (b *CodeBuilder) PushConst(v Value) *CodeBuilder { return b.emit(OpPushConst, b.Const(v), 0) }
func (b *CodeBuilder) PushInt(i int32) *CodeBuilder { return b.PushConst(IntValue(i)) }
func (b *CodeBuilder) PushFloat(f float32) *CodeBuilder { return b.PushConst(FloatValue(f)) }
func (b *CodeBuilder) PushBool(v bool) *CodeBuilder { return b.PushConst(BoolValue(v)) }
func (b *CodeBuilder) PushString(s string) *CodeBuilder { return b.PushConst(StringValue(s)) }
func (b *CodeBuilder) PushNull() *CodeBuilder { return b.emit(OpPushNull, 0, 0) }
func (b *CodeBuilder) PushSelf() *CodeBuilder { return b.emit(OpPushSelf, 0, 0) }
func (b *CodeBuilder) PushLocal(i int) *CodeBuilder { return b.emit(OpPushLocal, i, 0) }
func (b *CodeBuilder) StoreLocal(i int) *CodeBuilder { return b.emit(OpStoreLocal, i, 0) }
func (b *CodeBuilder) Pop() *CodeBuilder { return b.emit(OpPop, 0, 0) }
func (b *CodeBuilder) Dup() *CodeBuilder { return b.emit(OpDup, 0, 0) }

// GetField emits a read of the named field of the object on top of the
// stack.
func (b *CodeBuilder) GetField(name string) *CodeBuilder {
	return b.emit(OpGetField, b.Const(StringValue(name)), 0)
}

// SetField emits a store into the named field. The stack holds the
// object, then the value.
func (b *CodeBuilder) SetField(name string) *CodeBuilder {
	return b.emit(OpSetField, b.Const(StringValue(name)), 0)
}

// CallVirtual emits a dynamically dispatched call of m. The receiver and
// argc arguments must already be on the stack.
func (b *CodeBuilder) CallVirtual(m *Method, argc int) *CodeBuilder {
	return b.emit(OpCallVirtual, b.method(m), argc)
}

// CallFinal emits a direct call of m.
func (b *CodeBuilder) CallFinal(m *Method, argc int) *CodeBuilder {
	return b.emit(OpCallFinal, b.method(m), argc)
}

// Send emits a call resolved by name against the receiver's class at run
// time.
func (b *CodeBuilder) Send(name string, argc int) *CodeBuilder {
	return b.emit(OpSend, b.Const(StringValue(name)), argc)
}

// Spawn emits the creation of an instance of the named class.
func (b *CodeBuilder) Spawn(className string) *CodeBuilder {
	return b.emit(OpSpawn, b.Const(StringValue(className)), 0)
}

// Op emits an operand-less arithmetic, comparison or logic instruction.
func (b *CodeBuilder) Op(op Opcode) *CodeBuilder { return b.emit(op, 0, 0) }

func (b *CodeBuilder) Return() *CodeBuilder { return b.emit(OpReturn, 0, 0) }
func (b *CodeBuilder) ReturnVoid() *CodeBuilder { return b.emit(OpReturnVoid, 0, 0) }

// Label marks the next instruction as a jump target.
func (b *CodeBuilder) Label(name string) *CodeBuilder {
	if _, dup := b.labels[name]; dup && b.err == nil {
		b.err = fmt.Errorf("label %q defined twice", name)
	}
	b.labels[name] = len(b.code.Instrs)
	return b
}

func (b *CodeBuilder) Jump(label string) *CodeBuilder {
	b.fixups = append(b.fixups, fixup{pc: len(b.code.Instrs), label: label})
	return b.emit(OpJump, -1, 0)
}

func (b *CodeBuilder) JumpIfFalse(label string) *CodeBuilder {
	b.fixups = append(b.fixups, fixup{pc: len(b.code.Instrs), label: label})
	return b.emit(OpJumpIfFalse, -1, 0)
}

// Build resolves labels and returns the finished code.
func (b *CodeBuilder) Build() (*Code, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, f := range b.fixups {
		target, ok := b.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		b.code.Instrs[f.pc].A = int32(target)
	}
	return b.code, nil
}

// MustBuild is Build for bodies known to be well formed.
func (b *CodeBuilder) MustBuild() *Code {
	code, err := b.Build()
	if err != nil {
		panic(err)
	}
	return code
}
