package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/vavoomc/vm"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[gc]
threshold = 64
messages = true
interval = "2s"

[runtime]
destroyed-calls = "ignore"
max-depth = 128

[log]
verbosity = 2

[server]
addr = ":9000"

[save]
database = "saves/world.db"

[[classes]]
name = "Actor"
abstract = true

[[classes.fields]]
name = "health"
type = "int"
default = 100

[[classes.fields]]
name = "origin"
type = "vector"
default = [0, 1.5, 2]

[[classes]]
name = "Imp"
parent = "Actor"

[[classes.fields]]
name = "target"
type = "ref:Actor"

[[classes.fields]]
name = "species"
type = "name"
default = "imp"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.GC.Threshold != 64 || !c.GC.Messages || c.GC.Interval != "2s" {
		t.Errorf("gc = %+v", c.GC)
	}
	if c.Runtime.MaxDepth != 128 {
		t.Errorf("max-depth = %d, want 128", c.Runtime.MaxDepth)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
	if c.Server.Addr != ":9000" {
		t.Errorf("addr = %q, want :9000", c.Server.Addr)
	}
	if want := filepath.Join(c.Dir, "saves", "world.db"); c.DatabasePath() != want {
		t.Errorf("DatabasePath() = %q, want %q", c.DatabasePath(), want)
	}
	if len(c.Classes) != 2 {
		t.Fatalf("classes = %d, want 2", len(c.Classes))
	}

	rt, err := vm.New(c.Options()...)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Shutdown()
	if rt.GC.Threshold() != 64 {
		t.Errorf("runtime threshold = %d, want 64", rt.GC.Threshold())
	}

	specs, err := c.ClassSpecs(rt.Names)
	if err != nil {
		t.Fatalf("ClassSpecs: %v", err)
	}
	if err := rt.Load(specs...); err != nil {
		t.Fatalf("Load specs: %v", err)
	}
	if _, err := rt.SpawnByName("Actor"); err == nil {
		t.Error("abstract Actor was spawned")
	}
	imp, err := rt.SpawnByName("Imp")
	if err != nil {
		t.Fatal(err)
	}
	if h, _ := imp.GetInt("health"); h != 100 {
		t.Errorf("health = %d, want 100", h)
	}
	if v, _ := imp.GetVector("origin"); v != (vm.Vector{X: 0, Y: 1.5, Z: 2}) {
		t.Errorf("origin = %v, want (0,1.5,2)", v)
	}
	if n, _ := imp.GetName("species"); rt.Names.String(n) != "imp" {
		t.Errorf("species = %q, want imp", rt.Names.String(n))
	}
	target, _ := rt.Classes.Resolve("Imp")
	if f, _ := target.FindField("target"); f.Type.Class() == nil || f.Type.Class().Name != "Actor" {
		t.Error("ref:Actor not resolved to Actor")
	}

	// The ignore policy is in effect.
	rt.Destroy(imp)
	if _, err := rt.CallMethod(imp, "DestroyDelayed"); err != nil {
		t.Errorf("call on destroyed object with ignore policy: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	c := Default()
	if c.GC.Threshold != vm.DefaultGCThreshold {
		t.Errorf("threshold = %d, want %d", c.GC.Threshold, vm.DefaultGCThreshold)
	}
	if c.Runtime.DestroyedCalls != "abort" {
		t.Errorf("destroyed-calls = %q, want abort", c.Runtime.DestroyedCalls)
	}
	if c.Runtime.MaxDepth != vm.DefaultMaxDepth {
		t.Errorf("max-depth = %d, want %d", c.Runtime.MaxDepth, vm.DefaultMaxDepth)
	}
	if c.Server.Addr != "localhost:7420" {
		t.Errorf("addr = %q", c.Server.Addr)
	}
	if c.DatabasePath() != "vavoomc-saves.db" {
		t.Errorf("DatabasePath() = %q", c.DatabasePath())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad toml", "[gc\nthreshold = 1", "parse error"},
		{"bad policy", "[runtime]\ndestroyed-calls = \"explode\"", "unknown policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want one mentioning %q", err, tt.want)
			}
		})
	}
}

func TestClassSpecErrors(t *testing.T) {
	tests := []struct {
		name  string
		field FieldDecl
	}{
		{"unknown type", FieldDecl{Name: "x", Type: "quaternion"}},
		{"string default for int", FieldDecl{Name: "x", Type: "int", Default: "ten"}},
		{"int default out of range", FieldDecl{Name: "x", Type: "int", Default: int64(5000000000)}},
		{"negative int default out of range", FieldDecl{Name: "x", Type: "int", Default: int64(-2147483649)}},
		{"short vector", FieldDecl{Name: "x", Type: "vector", Default: []any{int64(1), int64(2)}}},
		{"ref default", FieldDecl{Name: "x", Type: "ref", Default: "someone"}},
	}
	for _, tt := range tests {
		c := Default()
		c.Classes = []ClassDecl{{Name: "C", Fields: []FieldDecl{tt.field}}}
		if _, err := c.ClassSpecs(vm.NewNameTable()); err == nil {
			t.Errorf("%s: ClassSpecs succeeded", tt.name)
		}
	}
}

func TestIntDefaultLimits(t *testing.T) {
	c := Default()
	c.Classes = []ClassDecl{{Name: "C", Fields: []FieldDecl{
		{Name: "lo", Type: "int", Default: int64(-2147483648)},
		{Name: "hi", Type: "int", Default: int64(2147483647)},
	}}}
	specs, err := c.ClassSpecs(vm.NewNameTable())
	if err != nil {
		t.Fatalf("ClassSpecs: %v", err)
	}
	if got := specs[0].Fields[1].Default.Int(); got != 2147483647 {
		t.Errorf("hi default = %d, want 2147483647", got)
	}

	dir := t.TempDir()
	writeConfig(t, dir, "[[classes]]\nname = \"C\"\n\n[[classes.fields]]\nname = \"x\"\ntype = \"int\"\ndefault = 5000000000\n")
	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loaded.ClassSpecs(vm.NewNameTable()); err == nil || !strings.Contains(err.Error(), "overflows") {
		t.Errorf("ClassSpecs error = %v, want overflow", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[server]\naddr = \":1\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Server.Addr != ":1" {
		t.Fatalf("FindAndLoad = %+v, want the root config", c)
	}
	if got, _ := filepath.EvalSymlinks(c.Dir); got != mustEval(t, root) {
		t.Errorf("Dir = %q, want %q", c.Dir, root)
	}
}

func mustEval(t *testing.T, p string) string {
	t.Helper()
	out, err := filepath.EvalSymlinks(p)
	if err != nil {
		t.Fatal(err)
	}
	return out
}
