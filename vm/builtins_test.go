package vm

import "testing"

func TestIsA(t *testing.T) {
	rt := newTestRuntime(t)
	mustLoad(t, rt, speakers()...)
	d := mustSpawn(t, rt, "Derived")

	tests := []struct {
		class string
		want  bool
	}{
		{"Derived", true},
		{"Base", true},
		{"Object", true},
		{"Node", false},
	}
	for _, tt := range tests {
		got, err := rt.CallMethod(d, "IsA", NameValue(rt.Names.Intern(tt.class)))
		if err != nil {
			t.Fatal(err)
		}
		if got.Bool() != tt.want {
			t.Errorf("Derived.IsA(%s) = %v, want %v", tt.class, got.Bool(), tt.want)
		}
	}
	if !d.IsA(mustClass(t, rt, "Base")) {
		t.Error("Object.IsA(Base) = false")
	}
}

func TestIsDestroyedAndClassName(t *testing.T) {
	rt := newTestRuntime(t)
	mustLoad(t, rt, speakers()...)
	b := mustSpawn(t, rt, "Base")

	name, err := rt.CallMethod(b, "GetClassName")
	if err != nil || name.Str() != "Base" {
		t.Errorf("GetClassName() = %v, %v; want Base", name, err)
	}
	for _, step := range []struct {
		do   func()
		want bool
	}{
		{func() {}, false},
		{func() { rt.DestroyDelayed(b) }, true},
		{func() { rt.Destroy(b) }, true},
	} {
		step.do()
		got, err := rt.CallMethod(b, "IsDestroyed")
		if err != nil {
			t.Fatal(err)
		}
		if got.Bool() != step.want {
			t.Errorf("IsDestroyed() = %v, want %v", got.Bool(), step.want)
		}
	}
}

func TestGCNatives(t *testing.T) {
	rt := newTestRuntime(t)
	mustLoad(t, rt, nodeSpec())

	keep := mustSpawn(t, rt, "Node")
	rt.AddRoot(keep)
	mustSpawn(t, rt, "Node")
	delayed := mustSpawn(t, rt, "Node")
	rt.AddRoot(delayed)
	rt.DestroyDelayed(delayed)

	alive, err := rt.CallStatic(ObjectClassName, "GC_AliveObjects")
	if err != nil || alive.Int() != 3 {
		t.Errorf("GC_AliveObjects() = %v, %v; want 3", alive, err)
	}
	if tm, _ := rt.CallStatic(ObjectClassName, "GC_LastCollectTime"); tm.Float() != 0 {
		t.Errorf("GC_LastCollectTime() before any collection = %g, want 0", tm.Float())
	}

	if _, err := rt.CallStatic(ObjectClassName, "CollectGarbage"); err != nil {
		t.Fatal(err)
	}
	collected, _ := rt.CallStatic(ObjectClassName, "GC_LastCollectedObjects")
	if collected.Int() != 1 {
		t.Errorf("GC_LastCollectedObjects() = %d, want 1", collected.Int())
	}

	if _, err := rt.CallStatic(ObjectClassName, "CollectGarbage", BoolValue(true)); err != nil {
		t.Fatal(err)
	}
	collected, _ = rt.CallStatic(ObjectClassName, "GC_LastCollectedObjects")
	if collected.Int() != 1 || !delayed.IsReleased() {
		t.Errorf("CollectGarbage(true) collected %d, delayed released=%v; want 1, true", collected.Int(), delayed.IsReleased())
	}
	alive, _ = rt.CallStatic(ObjectClassName, "GC_AliveObjects")
	if alive.Int() != 1 {
		t.Errorf("GC_AliveObjects() = %d, want 1", alive.Int())
	}
	if d, _ := rt.CallStatic(ObjectClassName, "GC_LastCollectDuration"); d.Float() < 0 {
		t.Errorf("GC_LastCollectDuration() = %g, want >= 0", d.Float())
	}
	if tm, _ := rt.CallStatic(ObjectClassName, "GC_LastCollectTime"); tm.Float() < 0 {
		t.Errorf("GC_LastCollectTime() = %g, want >= 0", tm.Float())
	}
}

func TestSpawnObject(t *testing.T) {
	rt := newTestRuntime(t)
	mustLoad(t, rt, speakers()...)

	v, err := rt.CallStatic(ObjectClassName, "SpawnObject", ClassValue(mustClass(t, rt, "Derived")))
	if err != nil {
		t.Fatal(err)
	}
	obj := v.Object()
	if obj == nil || obj.Class().Name != "Derived" {
		t.Fatalf("SpawnObject(Derived) = %v", v)
	}
	if _, err := rt.CallStatic(ObjectClassName, "SpawnObject", ClassValue(nil)); err == nil {
		t.Error("SpawnObject(none) should fail")
	}
}
