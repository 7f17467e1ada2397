// Package config handles vavoomc.toml runtime configuration.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chazu/vavoomc/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "vavoomc.toml"

// Config represents a vavoomc.toml file.
type Config struct {
	GC      GCConfig      `toml:"gc"`
	Runtime RuntimeConfig `toml:"runtime"`
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Save    SaveConfig    `toml:"save"`
	Classes []ClassDecl   `toml:"classes"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// GCConfig configures the collector.
type GCConfig struct {
	Threshold int  `toml:"threshold"`
	Messages  bool `toml:"messages"`
	// Interval, when set, makes the server collect periodically
	// (a Go duration such as "5s").
	Interval string `toml:"interval"`
}

// RuntimeConfig configures dispatch.
type RuntimeConfig struct {
	// DestroyedCalls is "abort" or "ignore".
	DestroyedCalls string `toml:"destroyed-calls"`
	MaxDepth       int    `toml:"max-depth"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// ServerConfig configures the diagnostics server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// SaveConfig configures the save-slot database.
type SaveConfig struct {
	Database string `toml:"database"`
}

// ClassDecl declares a data-only class.
type ClassDecl struct {
	Name     string      `toml:"name"`
	Parent   string      `toml:"parent"`
	Abstract bool        `toml:"abstract"`
	Fields   []FieldDecl `toml:"fields"`
}

// FieldDecl declares a field. Type is one of int, float, bool, string,
// name, vector, ref[:Class] or class[:Class].
type FieldDecl struct {
	Name    string `toml:"name"`
	Type    string `toml:"type"`
	Default any    `toml:"default"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.GC.Threshold <= 0 {
		c.GC.Threshold = vm.DefaultGCThreshold
	}
	if c.Runtime.DestroyedCalls == "" {
		c.Runtime.DestroyedCalls = "abort"
	}
	if c.Runtime.MaxDepth <= 0 {
		c.Runtime.MaxDepth = vm.DefaultMaxDepth
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:7420"
	}
	if c.Save.Database == "" {
		c.Save.Database = "vavoomc-saves.db"
	}
}

// Load parses vavoomc.toml from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	c.applyDefaults()

	if _, err := c.Policy(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a vavoomc.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// DatabasePath returns the save database path, relative paths being
// resolved against the config directory.
func (c *Config) DatabasePath() string {
	if c.Dir == "" || filepath.IsAbs(c.Save.Database) {
		return c.Save.Database
	}
	return filepath.Join(c.Dir, c.Save.Database)
}

// Policy returns the configured destroyed-receiver policy.
func (c *Config) Policy() (vm.DestroyedPolicy, error) {
	switch strings.ToLower(c.Runtime.DestroyedCalls) {
	case "", "abort":
		return vm.AbortOnDestroyed, nil
	case "ignore":
		return vm.IgnoreDestroyed, nil
	}
	return nil, fmt.Errorf("runtime.destroyed-calls: unknown policy %q", c.Runtime.DestroyedCalls)
}

// Options converts the configuration to runtime options.
func (c *Config) Options() []vm.Option {
	policy, err := c.Policy()
	if err != nil {
		policy = vm.AbortOnDestroyed
	}
	return []vm.Option{
		vm.WithGCThreshold(c.GC.Threshold),
		vm.WithGCMessages(c.GC.Messages),
		vm.WithDestroyedPolicy(policy),
		vm.WithMaxDepth(c.Runtime.MaxDepth),
	}
}

// ClassSpecs converts the declared classes to class specs. Name defaults
// are interned in names.
func (c *Config) ClassSpecs(names *vm.NameTable) ([]vm.ClassSpec, error) {
	specs := make([]vm.ClassSpec, 0, len(c.Classes))
	for _, decl := range c.Classes {
		spec := vm.ClassSpec{Name: decl.Name, Parent: decl.Parent}
		if decl.Abstract {
			spec.Flags |= vm.ClassAbstract
		}
		for _, fd := range decl.Fields {
			ft, err := ParseType(fd.Type)
			if err != nil {
				return nil, fmt.Errorf("class %s field %s: %w", decl.Name, fd.Name, err)
			}
			def, err := defaultValue(ft, fd.Default, names)
			if err != nil {
				return nil, fmt.Errorf("class %s field %s: %w", decl.Name, fd.Name, err)
			}
			spec.Fields = append(spec.Fields, vm.FieldSpec{Name: fd.Name, Type: ft, Default: def})
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ParseType parses a field type name.
func ParseType(s string) (vm.FieldType, error) {
	kind, class, _ := strings.Cut(strings.TrimSpace(s), ":")
	switch kind {
	case "int":
		return vm.IntType, nil
	case "float":
		return vm.FloatType, nil
	case "bool":
		return vm.BoolType, nil
	case "string":
		return vm.StringType, nil
	case "name":
		return vm.NameType, nil
	case "vector":
		return vm.VectorType, nil
	case "ref":
		return vm.RefType(class), nil
	case "class":
		return vm.ClassOfType(class), nil
	}
	return vm.FieldType{}, fmt.Errorf("unknown type %q", s)
}

// defaultValue converts a decoded toml value to a field default.
func defaultValue(ft vm.FieldType, raw any, names *vm.NameTable) (vm.Value, error) {
	if raw == nil {
		return vm.Void, nil
	}
	bad := func() (vm.Value, error) {
		return vm.Value{}, fmt.Errorf("default %v (%T) does not fit %s", raw, raw, ft)
	}
	switch ft.Tag {
	case vm.TypeInt:
		if i, ok := raw.(int64); ok {
			if i < math.MinInt32 || i > math.MaxInt32 {
				return vm.Value{}, fmt.Errorf("default %d overflows %s", i, ft)
			}
			return vm.IntValue(int32(i)), nil
		}
	case vm.TypeFloat:
		switch f := raw.(type) {
		case float64:
			return vm.FloatValue(float32(f)), nil
		case int64:
			return vm.FloatValue(float32(f)), nil
		}
	case vm.TypeBool:
		if b, ok := raw.(bool); ok {
			return vm.BoolValue(b), nil
		}
	case vm.TypeString:
		if s, ok := raw.(string); ok {
			return vm.StringValue(s), nil
		}
	case vm.TypeName:
		if s, ok := raw.(string); ok {
			return vm.NameValue(names.Intern(s)), nil
		}
	case vm.TypeVector:
		if arr, ok := raw.([]any); ok && len(arr) == 3 {
			var v [3]float32
			for i, x := range arr {
				switch n := x.(type) {
				case float64:
					v[i] = float32(n)
				case int64:
					v[i] = float32(n)
				default:
					return bad()
				}
			}
			return vm.VectorValue(vm.Vector{X: v[0], Y: v[1], Z: v[2]}), nil
		}
	}
	return bad()
}
