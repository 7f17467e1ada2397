package vm

import (
	"errors"
	"testing"
)

func scripted(name string, sig Signature, code *Code) *Method {
	return NewScripted(name, sig, code, 0)
}

func TestInterpreterLoop(t *testing.T) {
	rt := newTestRuntime(t)

	// int sum(int n) { int acc = 0; for (int i = 0; i < n; i++) acc += i; return acc; }
	b := NewCodeBuilder(1)
	i, acc := b.Local(), b.Local()
	code := b.
		PushInt(0).StoreLocal(i).
		PushInt(0).StoreLocal(acc).
		Label("loop").
		PushLocal(i).PushLocal(0).Op(OpLt).JumpIfFalse("done").
		PushLocal(acc).PushLocal(i).Op(OpAdd).StoreLocal(acc).
		PushLocal(i).PushInt(1).Op(OpAdd).StoreLocal(i).
		Jump("loop").
		Label("done").
		PushLocal(acc).Return().
		MustBuild()

	mustLoad(t, rt, ClassSpec{Name: "Math", Methods: []*Method{
		NewScripted("sum", Sig(IntType, Arg("n", IntType)), code, MethodStatic),
	}})

	tests := []struct{ n, want int32 }{{0, 0}, {1, 0}, {5, 10}, {100, 4950}}
	for _, tt := range tests {
		got, err := rt.CallStatic("Math", "sum", IntValue(tt.n))
		if err != nil {
			t.Fatalf("sum(%d): %v", tt.n, err)
		}
		if got.Int() != tt.want {
			t.Errorf("sum(%d) = %d, want %d", tt.n, got.Int(), tt.want)
		}
	}
}

func TestInterpreterRecursion(t *testing.T) {
	rt := newTestRuntime(t)
	// int fact(int n) { if (n <= 1) return 1; return n * self.fact(n - 1); }
	code := NewCodeBuilder(1).
		PushLocal(0).PushInt(1).Op(OpLe).JumpIfFalse("rec").
		PushInt(1).Return().
		Label("rec").
		PushLocal(0).
		PushSelf().PushLocal(0).PushInt(1).Op(OpSub).Send("fact", 1).
		Op(OpMul).Return().
		MustBuild()
	mustLoad(t, rt, ClassSpec{Name: "Calc", Methods: []*Method{
		scripted("fact", Sig(IntType, Arg("n", IntType)), code),
	}})
	calc := mustSpawn(t, rt, "Calc")

	got, err := rt.CallMethod(calc, "fact", IntValue(6))
	if err != nil {
		t.Fatal(err)
	}
	if got.Int() != 720 {
		t.Errorf("fact(6) = %d, want 720", got.Int())
	}
}

func TestInterpreterFields(t *testing.T) {
	rt := newTestRuntime(t)
	// void bump(int by) { count = count + by; }
	bump := NewCodeBuilder(1).
		PushSelf().
		PushSelf().GetField("count").PushLocal(0).Op(OpAdd).
		SetField("count").
		ReturnVoid().
		MustBuild()
	mustLoad(t, rt, ClassSpec{
		Name:    "Counter",
		Fields:  []FieldSpec{{Name: "count", Type: IntType, Default: IntValue(1)}},
		Methods: []*Method{scripted("bump", Sig(VoidType, Arg("by", IntType)), bump)},
	})
	c := mustSpawn(t, rt, "Counter")

	for k := 0; k < 3; k++ {
		if _, err := rt.CallMethod(c, "bump", IntValue(2)); err != nil {
			t.Fatal(err)
		}
	}
	if v, _ := c.GetInt("count"); v != 7 {
		t.Errorf("count = %d, want 7", v)
	}
}

func TestInterpreterVirtualAndSuperCalls(t *testing.T) {
	rt := newTestRuntime(t)
	specs := speakers()
	baseSpeak := specs[0].Methods[0]

	ask := NewCodeBuilder(1).PushLocal(0).CallVirtual(baseSpeak, 0).Return().MustBuild()
	askSuper := NewCodeBuilder(1).PushLocal(0).CallFinal(baseSpeak, 0).Return().MustBuild()
	specs = append(specs, ClassSpec{Name: "Caller", Methods: []*Method{
		NewScripted("ask", Sig(StringType, Arg("who", RefType("Base"))), ask, MethodStatic),
		NewScripted("askSuper", Sig(StringType, Arg("who", RefType("Base"))), askSuper, MethodStatic),
	}})
	mustLoad(t, rt, specs...)

	b := mustSpawn(t, rt, "Base")
	d := mustSpawn(t, rt, "Derived")
	tests := []struct {
		method string
		who    *Object
		want   string
	}{
		{"ask", b, "base"},
		{"ask", d, "derived"},
		{"askSuper", d, "base"},
	}
	for _, tt := range tests {
		got, err := rt.CallStatic("Caller", tt.method, ObjectValue(tt.who))
		if err != nil {
			t.Fatalf("%s(%v): %v", tt.method, tt.who, err)
		}
		if got.Str() != tt.want {
			t.Errorf("%s(%v) = %q, want %q", tt.method, tt.who, got.Str(), tt.want)
		}
	}

	if _, err := rt.CallStatic("Caller", "ask", Null); !errors.Is(err, ErrNilReference) {
		t.Errorf("ask(none) error = %v, want ErrNilReference", err)
	}
}

func TestScriptedOverrideOfNative(t *testing.T) {
	rt := newTestRuntime(t)
	specs := speakers()
	specs = append(specs, ClassSpec{Name: "Parrot", Parent: "Derived", Methods: []*Method{
		scripted("speak", Sig(StringType), NewCodeBuilder(0).PushString("polly").Return().MustBuild()),
	}})
	mustLoad(t, rt, specs...)

	p := mustSpawn(t, rt, "Parrot")
	speak := mustMethod(t, mustClass(t, rt, "Base"), "speak")
	got, err := rt.CallVirtual(p, speak)
	if err != nil {
		t.Fatal(err)
	}
	if got.Str() != "polly" {
		t.Errorf("Parrot.speak = %q, want polly", got.Str())
	}
}

func TestFrameLocalsAreRoots(t *testing.T) {
	rt := newTestRuntime(t)
	mustLoad(t, rt, nodeSpec())
	collect := mustMethod(t, rt.ObjectClass, "CollectGarbage")

	// int build() {
	//   Node keep = spawn Node; spawn Node;  // second one is dropped
	//   CollectGarbage();
	//   keep.value = 7; return keep.value;
	// }
	b := NewCodeBuilder(0)
	keep := b.Local()
	code := b.
		Spawn("Node").StoreLocal(keep).
		Spawn("Node").Pop().
		CallFinal(collect, 0).
		PushLocal(keep).PushInt(7).SetField("value").
		PushLocal(keep).GetField("value").Return().
		MustBuild()
	mustLoad(t, rt, ClassSpec{Name: "Factory", Methods: []*Method{
		NewScripted("build", Sig(IntType), code, MethodStatic),
	}})

	got, err := rt.CallStatic("Factory", "build")
	if err != nil {
		t.Fatalf("build(): %v", err)
	}
	if got.Int() != 7 {
		t.Errorf("build() = %d, want 7", got.Int())
	}
	if n := rt.Stats().LastCollected; n != 1 {
		t.Errorf("LastCollected = %d, want 1 (only the dropped node)", n)
	}
}

func TestNativeArgumentsAreRoots(t *testing.T) {
	rt := newTestRuntime(t)
	var selfGone, argGone bool
	run := NewNative("run", Sig(BoolType, Arg("target", RefType("Target"))),
		func(rt *Runtime, self *Object, args Args) (Value, error) {
			rt.CollectGarbage(false)
			selfGone, argGone = self.IsDestroyed(), args.Object(0).IsDestroyed()
			return BoolValue(true), nil
		}, 0)
	mustLoad(t, rt, ClassSpec{Name: "Target"}, ClassSpec{Name: "Holder", Methods: []*Method{run}})

	// bool main() { return (spawn Holder).run(spawn Target); }
	code := NewCodeBuilder(0).
		Spawn("Holder").Spawn("Target").
		CallVirtual(run, 1).Return().
		MustBuild()
	mustLoad(t, rt, ClassSpec{Name: "Script", Methods: []*Method{
		NewScripted("main", Sig(BoolType), code, MethodStatic),
	}})

	if _, err := rt.CallStatic("Script", "main"); err != nil {
		t.Fatalf("main(): %v", err)
	}
	if selfGone || argGone {
		t.Errorf("after collection inside native: self destroyed=%v, arg destroyed=%v; want false, false", selfGone, argGone)
	}

	// Host calls hand the same values over through the stack.
	holder, target := mustSpawn(t, rt, "Holder"), mustSpawn(t, rt, "Target")
	if _, err := rt.CallMethod(holder, "run", ObjectValue(target)); err != nil {
		t.Fatalf("run(): %v", err)
	}
	if selfGone || argGone {
		t.Errorf("host call: self destroyed=%v, arg destroyed=%v; want false, false", selfGone, argGone)
	}
	if n := len(rt.interp.natives); n != 0 {
		t.Errorf("%d native frames left after return", n)
	}
}

func TestReturnedObjectSurvivesSafePoint(t *testing.T) {
	rt := newTestRuntime(t, WithGCThreshold(1))
	mustLoad(t, rt, nodeSpec(), ClassSpec{Name: "Maker", Methods: []*Method{
		NewScripted("make", Sig(RefType("Node")), NewCodeBuilder(0).Spawn("Node").Return().MustBuild(), MethodStatic),
	}})

	v, err := rt.CallStatic("Maker", "make")
	if err != nil {
		t.Fatal(err)
	}
	if rt.Stats().Collections == 0 {
		t.Fatal("threshold of 1 did not trigger a collection")
	}
	if v.Object() == nil || v.Object().IsReleased() {
		t.Error("returned object was collected at the safe point")
	}
}

func TestInterpreterArithmetic(t *testing.T) {
	rt := newTestRuntime(t)
	binop := func(name string, ret, operand FieldType, op Opcode) *Method {
		code := NewCodeBuilder(2).PushLocal(0).PushLocal(1).Op(op).Return().MustBuild()
		return NewScripted(name, Sig(ret, Arg("a", operand), Arg("b", operand)), code, MethodStatic)
	}
	scale := NewScripted("scale", Sig(VectorType, Arg("v", VectorType), Arg("s", FloatType)),
		NewCodeBuilder(2).PushLocal(0).PushLocal(1).Op(OpMul).Return().MustBuild(), MethodStatic)
	neg := NewScripted("neg", Sig(VectorType, Arg("v", VectorType)),
		NewCodeBuilder(1).PushLocal(0).Op(OpNeg).Return().MustBuild(), MethodStatic)
	mustLoad(t, rt, ClassSpec{Name: "Ops", Methods: []*Method{
		binop("idiv", IntType, IntType, OpDiv),
		binop("fsub", FloatType, FloatType, OpSub),
		binop("concat", StringType, StringType, OpAdd),
		binop("less", BoolType, StringType, OpLt),
		binop("vadd", VectorType, VectorType, OpAdd),
		binop("same", BoolType, VectorType, OpEq),
		scale, neg,
	}})

	tests := []struct {
		name string
		args []Value
		want Value
	}{
		{"idiv", []Value{IntValue(7), IntValue(2)}, IntValue(3)},
		{"idiv", []Value{IntValue(-7), IntValue(2)}, IntValue(-3)},
		{"fsub", []Value{FloatValue(1.5), FloatValue(0.25)}, FloatValue(1.25)},
		{"concat", []Value{StringValue("vav"), StringValue("oom")}, StringValue("vavoom")},
		{"less", []Value{StringValue("a"), StringValue("b")}, BoolValue(true)},
		{"vadd", []Value{VectorValue(Vector{1, 2, 3}), VectorValue(Vector{1, 1, 1})}, VectorValue(Vector{2, 3, 4})},
		{"same", []Value{VectorValue(Vector{1, 2, 3}), VectorValue(Vector{1, 2, 3})}, BoolValue(true)},
		{"scale", []Value{VectorValue(Vector{1, 2, 3}), FloatValue(2)}, VectorValue(Vector{2, 4, 6})},
		{"neg", []Value{VectorValue(Vector{1, -2, 0})}, VectorValue(Vector{-1, 2, 0})},
	}
	for _, tt := range tests {
		got, err := rt.CallStatic("Ops", tt.name, tt.args...)
		if err != nil {
			t.Errorf("%s%v: %v", tt.name, tt.args, err)
			continue
		}
		if !Equal(got, tt.want) {
			t.Errorf("%s%v = %v, want %v", tt.name, tt.args, got, tt.want)
		}
	}

	if _, err := rt.CallStatic("Ops", "idiv", IntValue(1), IntValue(0)); !errors.Is(err, errDivideByZero) {
		t.Errorf("idiv(1, 0) error = %v, want division by zero", err)
	}
	if rt.Stack().Len() != 0 || rt.Interpreter().Depth() != 0 {
		t.Errorf("after error stack=%d frames=%d, want 0 0", rt.Stack().Len(), rt.Interpreter().Depth())
	}
}

func TestInterpreterTypeErrors(t *testing.T) {
	rt := newTestRuntime(t)
	mixed := NewCodeBuilder(0).PushInt(1).PushFloat(1).Op(OpAdd).Return().MustBuild()
	nilField := NewCodeBuilder(0).PushNull().GetField("value").Return().MustBuild()
	badStore := NewCodeBuilder(0).PushSelf().PushString("x").SetField("value").ReturnVoid().MustBuild()
	mustLoad(t, rt, nodeSpec(), ClassSpec{Name: "Bad", Parent: "Node", Methods: []*Method{
		scripted("mixed", Sig(IntType), mixed),
		scripted("nilField", Sig(IntType), nilField),
		scripted("badStore", Sig(VoidType), badStore),
	}})
	bad := mustSpawn(t, rt, "Bad")

	var tm *TypeMismatchError
	if _, err := rt.CallMethod(bad, "mixed"); !errors.As(err, &tm) {
		t.Errorf("int + float error = %v, want *TypeMismatchError", err)
	}
	if _, err := rt.CallMethod(bad, "nilField"); !errors.Is(err, ErrNilReference) {
		t.Errorf("none.value error = %v, want ErrNilReference", err)
	}
	if _, err := rt.CallMethod(bad, "badStore"); !errors.As(err, &tm) {
		t.Errorf("string into int field error = %v, want *TypeMismatchError", err)
	}
	if v, _ := bad.GetInt("value"); v != 0 {
		t.Errorf("value = %d after failed store, want 0", v)
	}
}
