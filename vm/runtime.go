package vm

import (
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Runtime: the object system
// ---------------------------------------------------------------------------

// ErrShutdown is returned by operations attempted after Shutdown.
var ErrShutdown = errors.New("runtime shut down")

// DefaultMaxDepth bounds nested method invocations.
const DefaultMaxDepth = 1024

// Runtime owns the class table, the object registry, the collector and the
// interpreter. It is single-threaded: every method must be called from the
// goroutine that owns it (see server.Worker for a serializing wrapper).
type Runtime struct {
	Names   *NameTable
	Classes *ClassTable
	Objects *ObjectRegistry
	GC      *Collector

	// ObjectClass is the root class every loaded class descends from.
	ObjectClass *Class

	roots     *RootSet
	providers map[int]RootProvider
	nextProv  int

	stack  *Stack
	interp *Interpreter

	policy     DestroyedPolicy
	maxDepth   int
	depth      int
	destroying int

	started  time.Time
	shutdown bool

	log commonlog.Logger
}

type options struct {
	gcThreshold int
	gcMessages  bool
	policy      DestroyedPolicy
	maxDepth    int
	stackCap    int
}

// Option configures a Runtime.
type Option func(*options)

// WithGCThreshold sets the spawn count that requests a collection.
func WithGCThreshold(n int) Option {
	return func(o *options) { o.gcThreshold = n }
}

// WithGCMessages logs every collection at info level instead of debug.
func WithGCMessages(on bool) Option {
	return func(o *options) { o.gcMessages = on }
}

// WithDestroyedPolicy sets what happens when a method is called on a
// destroyed object.
func WithDestroyedPolicy(p DestroyedPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithMaxDepth bounds nested invocations.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// WithStackCapacity sets the initial operand stack capacity.
func WithStackCapacity(n int) Option {
	return func(o *options) { o.stackCap = n }
}

// New creates a runtime with the built-in Object class loaded.
func New(opts ...Option) (*Runtime, error) {
	o := options{
		gcThreshold: DefaultGCThreshold,
		policy:      AbortOnDestroyed,
		maxDepth:    DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.policy == nil {
		o.policy = AbortOnDestroyed
	}
	if o.maxDepth <= 0 {
		o.maxDepth = DefaultMaxDepth
	}

	names := NewNameTable()
	rt := &Runtime{
		Names:     names,
		Classes:   NewClassTable(names),
		Objects:   newObjectRegistry(),
		roots:     NewRootSet(),
		providers: make(map[int]RootProvider),
		stack:     NewStack(o.stackCap),
		policy:    o.policy,
		maxDepth:  o.maxDepth,
		started:   time.Now(),
		log:       commonlog.GetLogger("vavoomc.runtime"),
	}
	rt.GC = newCollector(rt, o.gcThreshold, o.gcMessages)
	rt.interp = newInterpreter(rt)
	rt.AddRootProvider(rt.stack)
	rt.AddRootProvider(rt.interp)

	if err := rt.Classes.Register(objectClassSpec()); err != nil {
		return nil, err
	}
	if err := rt.Classes.Finalize(); err != nil {
		return nil, err
	}
	obj, err := rt.Classes.Resolve(ObjectClassName)
	if err != nil {
		return nil, err
	}
	rt.ObjectClass = obj
	return rt, nil
}

// Load registers and finalizes classes. A spec without a parent descends
// from Object. A DefinitionError leaves the class table half built and is
// meant to abort startup.
func (rt *Runtime) Load(specs ...ClassSpec) error {
	for _, spec := range specs {
		if spec.Parent == "" {
			spec.Parent = ObjectClassName
		}
		if err := rt.Classes.Register(spec); err != nil {
			return err
		}
	}
	if err := rt.Classes.Finalize(); err != nil {
		return err
	}
	rt.log.Debugf("loaded %d classes (%d total)", len(specs), rt.Classes.Len())
	return nil
}

// Interpreter returns the bytecode interpreter.
func (rt *Runtime) Interpreter() *Interpreter { return rt.interp }

// Stack returns the operand stack shared by scripted and native calls.
func (rt *Runtime) Stack() *Stack { return rt.stack }

// Depth returns the current invocation depth; 0 means no call is active.
func (rt *Runtime) Depth() int { return rt.depth }

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() commonlog.Logger { return rt.log }

// Uptime returns the time since the runtime was created.
func (rt *Runtime) Uptime() time.Duration { return time.Since(rt.started) }

// ---------------------------------------------------------------------------
// Object lifecycle
// ---------------------------------------------------------------------------

// Spawn creates an instance of c with every field set to its class
// default.
func (rt *Runtime) Spawn(c *Class) (*Object, error) {
	if rt.shutdown {
		return nil, ErrShutdown
	}
	if c == nil {
		return nil, fmt.Errorf("spawn: %w", ErrNilReference)
	}
	if c.IsAbstract() {
		return nil, defError(c.Name, "", "cannot spawn an abstract class")
	}
	obj := &Object{class: c, fields: make([]Value, len(c.defaults))}
	for i, d := range c.defaults {
		obj.fields[i] = d.Copy()
	}
	rt.Objects.add(obj)
	c.InstanceCount++
	for cur := c; cur != nil; cur = cur.Parent {
		cur.InstanceCountWithSub++
	}
	rt.GC.noteSpawn(obj)
	return obj, nil
}

// SpawnByName creates an instance of the named class.
func (rt *Runtime) SpawnByName(name string) (*Object, error) {
	c, err := rt.Classes.Resolve(name)
	if err != nil {
		return nil, err
	}
	return rt.Spawn(c)
}

// Destroy runs obj's OnDestroy hook once and marks it destroyed. The
// storage stays readable until the next collection. Destroying an object
// twice, or from inside its own hook, does nothing. Errors raised by the
// hook are logged and swallowed.
func (rt *Runtime) Destroy(obj *Object) {
	if obj == nil || obj.flags&(FlagDestroyed|flagDestroying|FlagReleased) != 0 {
		return
	}
	obj.flags |= flagDestroying
	if hook := obj.class.onDestroy; hook != nil {
		rt.destroying++
		if _, err := rt.invoke(hook, obj, nil); err != nil {
			rt.log.Warningf("%s: destroy hook failed: %s", obj, err)
		}
		rt.destroying--
	}
	obj.flags = obj.flags&^(flagDestroying|FlagDelayedDestroy) | FlagDestroyed
}

// DestroyDelayed schedules obj for destruction by the next
// CollectGarbage(true).
func (rt *Runtime) DestroyDelayed(obj *Object) {
	if obj == nil || obj.flags&(FlagDestroyed|flagDestroying|FlagReleased) != 0 {
		return
	}
	obj.flags |= FlagDelayedDestroy
}

// release returns obj's storage. Only the collector calls it, after the
// destroy hook has run.
func (rt *Runtime) release(obj *Object) {
	if obj.flags&FlagReleased != 0 {
		return
	}
	obj.fields = nil
	obj.flags |= FlagReleased
	rt.Objects.remove(obj)
	rt.roots.forget(obj)
	c := obj.class
	c.InstanceCount--
	for cur := c; cur != nil; cur = cur.Parent {
		cur.InstanceCountWithSub--
	}
}

// ---------------------------------------------------------------------------
// Roots and collection
// ---------------------------------------------------------------------------

// AddRoot pins obj as a global reference.
func (rt *Runtime) AddRoot(obj *Object) { rt.roots.Add(obj) }

// RemoveRoot drops one pin added by AddRoot.
func (rt *Runtime) RemoveRoot(obj *Object) { rt.roots.Remove(obj) }

// IsRoot reports whether obj is pinned by AddRoot.
func (rt *Runtime) IsRoot(obj *Object) bool { return rt.roots.Contains(obj) }

// Roots returns the global root set.
func (rt *Runtime) Roots() *RootSet { return rt.roots }

// AddRootProvider registers an additional root source and returns a
// function that unregisters it.
func (rt *Runtime) AddRootProvider(p RootProvider) (remove func()) {
	id := rt.nextProv
	rt.nextProv++
	rt.providers[id] = p
	return func() { delete(rt.providers, id) }
}

// Collect runs a full collection.
func (rt *Runtime) Collect() GCStats { return rt.GC.Collect() }

// CollectGarbage runs a full collection, destroying delayed objects first
// when destroyDelayed is set.
func (rt *Runtime) CollectGarbage(destroyDelayed bool) GCStats {
	return rt.GC.CollectGarbage(destroyDelayed)
}

// Stats returns collector statistics.
func (rt *Runtime) Stats() GCStats { return rt.GC.Stats() }

// Shutdown destroys every remaining object and releases all storage,
// pinned and rooted objects included. The runtime cannot spawn afterwards.
func (rt *Runtime) Shutdown() {
	if rt.shutdown {
		return
	}
	rt.shutdown = true
	var live []*Object
	rt.Objects.Each(func(obj *Object) bool {
		live = append(live, obj)
		return true
	})
	for _, obj := range live {
		rt.Destroy(obj)
	}
	for _, obj := range live {
		rt.release(obj)
	}
	rt.stack.Truncate(0)
	rt.log.Infof("shut down, released %d objects", len(live))
}
