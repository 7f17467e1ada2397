package vm

import "fmt"

// Stack is the operand stack shared by the interpreter and the native
// call marshaller. Bytecode pushes call arguments left to right, so the
// last declared argument is on top; PopArgs enforces the matching
// reverse-order pop.
type Stack struct {
	slots []Value
}

// NewStack creates a stack with the given initial capacity.
func NewStack(capacity int) *Stack {
	if capacity <= 0 {
		capacity = 256
	}
	return &Stack{slots: make([]Value, 0, capacity)}
}

// Push pushes a copy of v.
func (s *Stack) Push(v Value) {
	s.slots = append(s.slots, v.Copy())
}

// Pop removes and returns the top slot.
func (s *Stack) Pop() (Value, error) {
	n := len(s.slots)
	if n == 0 {
		return Value{}, ErrStackUnderflow
	}
	v := s.slots[n-1]
	s.slots[n-1] = Value{}
	s.slots = s.slots[:n-1]
	return v, nil
}

// PopTyped pops the top slot and checks it against ft. On mismatch the
// slot is still consumed.
func (s *Stack) PopTyped(ft FieldType, context string) (Value, error) {
	v, err := s.Pop()
	if err != nil {
		return Value{}, fmt.Errorf("%s: %w", context, err)
	}
	if err := ft.check(context, v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// PushTyped checks v against ft and pushes it. Void types push nothing.
func (s *Stack) PushTyped(ft FieldType, v Value, context string) error {
	if ft.Tag == TypeVoid {
		return nil
	}
	if err := ft.check(context, v); err != nil {
		return err
	}
	s.Push(v)
	return nil
}

// Peek returns the slot depth positions below the top (0 is the top).
func (s *Stack) Peek(depth int) (Value, error) {
	i := len(s.slots) - 1 - depth
	if depth < 0 || i < 0 {
		return Value{}, ErrStackUnderflow
	}
	return s.slots[i], nil
}

// Len returns the number of slots in use.
func (s *Stack) Len() int {
	return len(s.slots)
}

// Truncate drops slots above n. It is used to restore the stack after an
// aborted call.
func (s *Stack) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	for i := n; i < len(s.slots); i++ {
		s.slots[i] = Value{}
	}
	if n < len(s.slots) {
		s.slots = s.slots[:n]
	}
}

// Roots implements RootProvider: every reference on the stack is live.
func (s *Stack) Roots(visit func(*Object)) {
	for _, v := range s.slots {
		traceValue(v, visit)
	}
}
