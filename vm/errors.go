package vm

import (
	"errors"
	"fmt"
)

// Sentinel errors. Lookups and per-call failures wrap these with context,
// so callers test them with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrNilReference   = errors.New("nil object reference")
	ErrStackUnderflow = errors.New("operand stack underflow")
	ErrStackOverflow  = errors.New("call depth exceeded")
)

// DefinitionError reports malformed class, field or method metadata.
// It is raised while loading metadata and is fatal to startup.
type DefinitionError struct {
	Class  string
	Member string
	Reason string
}

func (e *DefinitionError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("definition error in %s.%s: %s", e.Class, e.Member, e.Reason)
	}
	return fmt.Sprintf("definition error in %s: %s", e.Class, e.Reason)
}

func defError(class, member, format string, args ...any) *DefinitionError {
	return &DefinitionError{Class: class, Member: member, Reason: fmt.Sprintf(format, args...)}
}

// TypeMismatchError reports a disagreement between a declared type and the
// type of a value supplied through reflection or a native call. It aborts
// only the current operation.
type TypeMismatchError struct {
	Context string
	Want    string
	Got     string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch in %s: want %s, got %s", e.Context, e.Want, e.Got)
}

func mismatch(context, want, got string) *TypeMismatchError {
	return &TypeMismatchError{Context: context, Want: want, Got: got}
}

// UseAfterDestroyError reports a method call or field access on a
// destroyed object where live field data is required.
type UseAfterDestroyError struct {
	Object string
	Method string
}

func (e *UseAfterDestroyError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("use of destroyed object %s", e.Object)
	}
	return fmt.Sprintf("call of %s on destroyed object %s", e.Method, e.Object)
}

// notFound wraps ErrNotFound with the kind and name that missed.
func notFound(kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
}
