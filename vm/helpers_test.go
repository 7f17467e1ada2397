package vm

import "testing"

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(rt.Shutdown)
	return rt
}

func mustLoad(t *testing.T, rt *Runtime, specs ...ClassSpec) {
	t.Helper()
	if err := rt.Load(specs...); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func mustClass(t *testing.T, rt *Runtime, name string) *Class {
	t.Helper()
	c, err := rt.Classes.Resolve(name)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", name, err)
	}
	return c
}

func mustSpawn(t *testing.T, rt *Runtime, name string) *Object {
	t.Helper()
	obj, err := rt.SpawnByName(name)
	if err != nil {
		t.Fatalf("SpawnByName(%q): %v", name, err)
	}
	return obj
}

// mustOK fails the test on a setup error.
func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func mustMethod(t *testing.T, c *Class, name string) *Method {
	t.Helper()
	m, err := c.FindMethod(name)
	if err != nil {
		t.Fatalf("%s.FindMethod(%q): %v", c.Name, name, err)
	}
	return m
}

// returns builds a native that always returns v.
func returns(v Value) NativeFunc {
	return func(*Runtime, *Object, Args) (Value, error) { return v, nil }
}

// speakers declares Base and Derived, each with a virtual string speak().
func speakers() []ClassSpec {
	return []ClassSpec{
		{
			Name:    "Base",
			Methods: []*Method{NewNative("speak", Sig(StringType), returns(StringValue("base")), 0)},
		},
		{
			Name:    "Derived",
			Parent:  "Base",
			Methods: []*Method{NewNative("speak", Sig(StringType), returns(StringValue("derived")), 0)},
		},
	}
}

// node declares a class with two reference fields for graph tests.
func nodeSpec() ClassSpec {
	return ClassSpec{
		Name: "Node",
		Fields: []FieldSpec{
			{Name: "next", Type: RefType("Node")},
			{Name: "other", Type: RefType("Node")},
			{Name: "value", Type: IntType},
		},
	}
}
