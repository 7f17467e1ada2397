package vm

import (
	"fmt"
	"strings"
)

// MethodFlags describe how a method binds and what it assumes about its
// receiver.
type MethodFlags uint32

const (
	// MethodNative marks a method implemented by a Go NativeFunc.
	MethodNative MethodFlags = 1 << iota
	// MethodStatic methods take no receiver and never occupy a dispatch slot.
	MethodStatic
	// MethodFinal methods cannot be overridden. A final method that does not
	// override an ancestor gets no dispatch slot and binds directly.
	MethodFinal
	// MethodAllowDestroyed marks bookkeeping methods that may run on a
	// destroyed receiver.
	MethodAllowDestroyed
)

// Param declares a method parameter. Optional parameters must be trailing;
// when a caller omits them the marshaller supplies Default (or the zero
// value of Type when Default is void).
type Param struct {
	Name     string
	Type     FieldType
	Optional bool
	Default  Value
}

// Signature is the declared parameter list and return type of a method.
type Signature struct {
	Params []Param
	Return FieldType
}

// Sig builds a signature from a return type and parameters.
func Sig(ret FieldType, params ...Param) Signature {
	return Signature{Params: params, Return: ret}
}

// Arg declares a required parameter.
func Arg(name string, ft FieldType) Param {
	return Param{Name: name, Type: ft}
}

// OptArg declares an optional parameter with a default.
func OptArg(name string, ft FieldType, def Value) Param {
	return Param{Name: name, Type: ft, Optional: true, Default: def}
}

// Required returns the number of parameters a caller must supply.
func (s Signature) Required() int {
	n := 0
	for _, p := range s.Params {
		if !p.Optional {
			n++
		}
	}
	return n
}

// Compatible reports whether a method with signature o may stand in for
// one with signature s: same parameter types, same optional markers, same
// return type. Default values may differ.
func (s Signature) Compatible(o Signature) bool {
	if len(s.Params) != len(o.Params) || !s.Return.Equal(o.Return) {
		return false
	}
	for i := range s.Params {
		if !s.Params[i].Type.Equal(o.Params[i].Type) || s.Params[i].Optional != o.Params[i].Optional {
			return false
		}
	}
	return true
}

func (s Signature) String() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		if p.Optional {
			parts[i] = "optional " + p.Type.String()
		} else {
			parts[i] = p.Type.String()
		}
	}
	return fmt.Sprintf("%s (%s)", s.Return, strings.Join(parts, ", "))
}

// NativeFunc implements a native method. self is nil for static methods.
// The returned value must match the declared return type; it is ignored
// for void methods.
type NativeFunc func(rt *Runtime, self *Object, args Args) (Value, error)

// Method describes a method of a class. Methods are declared in a
// ClassSpec and bound to their class when the class table is finalized;
// after that they are immutable.
type Method struct {
	Name   string
	Flags  MethodFlags
	Sig    Signature
	Native NativeFunc
	Code   *Code

	class *Class
	slot  int
	super *Method
}

// NewNative declares a native method.
func NewNative(name string, sig Signature, fn NativeFunc, flags MethodFlags) *Method {
	return &Method{Name: name, Flags: flags | MethodNative, Sig: sig, Native: fn, slot: -1}
}

// NewScripted declares a bytecode method.
func NewScripted(name string, sig Signature, code *Code, flags MethodFlags) *Method {
	return &Method{Name: name, Flags: flags &^ MethodNative, Sig: sig, Code: code, slot: -1}
}

// Class returns the declaring class.
func (m *Method) Class() *Class { return m.class }

// Slot returns the dispatch table slot, or -1 for non-virtual methods.
func (m *Method) Slot() int { return m.slot }

// Super returns the ancestor method this one overrides or shadows.
func (m *Method) Super() *Method { return m.super }

func (m *Method) IsNative() bool { return m.Flags&MethodNative != 0 }
func (m *Method) IsStatic() bool { return m.Flags&MethodStatic != 0 }
func (m *Method) IsFinal() bool { return m.Flags&MethodFinal != 0 }
func (m *Method) IsVirtual() bool { return m.slot >= 0 }
func (m *Method) AllowsDestroyed() bool { return m.Flags&MethodAllowDestroyed != 0 }

// FullName returns Class.Method.
func (m *Method) FullName() string {
	if m.class == nil {
		return m.Name
	}
	return m.class.Name + "." + m.Name
}

func (m *Method) String() string {
	return m.FullName() + " " + m.Sig.String()
}

// validate checks a method declaration in isolation.
func (m *Method) validate(className string) error {
	if m.Name == "" {
		return defError(className, "", "method without a name")
	}
	if m.class != nil {
		return defError(className, m.Name, "method already bound to class %s", m.class.Name)
	}
	if m.IsNative() && m.Native == nil {
		return defError(className, m.Name, "native method without implementation")
	}
	if !m.IsNative() && m.Code == nil {
		return defError(className, m.Name, "method has neither native implementation nor code")
	}
	optional := false
	for i := range m.Sig.Params {
		p := &m.Sig.Params[i]
		if p.Type.Tag == TypeVoid {
			return defError(className, m.Name, "parameter %d is void", i)
		}
		if p.Optional {
			optional = true
			if p.Default.tag != TypeVoid && p.Default.tag != p.Type.Tag {
				return defError(className, m.Name, "default of parameter %q is %s, declared %s", p.Name, p.Default.tag, p.Type)
			}
			if p.Type.Tag == TypeReference && p.Default.ref != nil {
				return defError(className, m.Name, "default of parameter %q must be null", p.Name)
			}
		} else if optional {
			return defError(className, m.Name, "required parameter %q follows an optional one", p.Name)
		}
	}
	if m.Code != nil && m.Code.NumParams != len(m.Sig.Params) {
		return defError(className, m.Name, "code expects %d parameters, signature has %d", m.Code.NumParams, len(m.Sig.Params))
	}
	return nil
}
