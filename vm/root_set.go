package vm

// RootProvider supplies objects reachable from outside the traced graph:
// interpreter frames, host-side tables, native caches. Omitting an object
// lets the collector reclaim it while it is still in use; the collector
// cannot detect that. Over-reporting only costs marking time.
type RootProvider interface {
	Roots(visit func(*Object))
}

// RootFunc adapts a function to RootProvider.
type RootFunc func(visit func(*Object))

// Roots calls f.
func (f RootFunc) Roots(visit func(*Object)) { f(visit) }

// RootSet is the table of global references held by the host. Adding an
// object n times requires n removals.
type RootSet struct {
	pins map[*Object]int
}

// NewRootSet creates an empty root set.
func NewRootSet() *RootSet {
	return &RootSet{pins: make(map[*Object]int)}
}

// Add pins obj.
func (rs *RootSet) Add(obj *Object) {
	if obj != nil {
		rs.pins[obj]++
	}
}

// Remove drops one pin of obj.
func (rs *RootSet) Remove(obj *Object) {
	n, ok := rs.pins[obj]
	if !ok {
		return
	}
	if n <= 1 {
		delete(rs.pins, obj)
	} else {
		rs.pins[obj] = n - 1
	}
}

// Contains reports whether obj is pinned.
func (rs *RootSet) Contains(obj *Object) bool {
	_, ok := rs.pins[obj]
	return ok
}

// Len returns the number of distinct pinned objects.
func (rs *RootSet) Len() int {
	return len(rs.pins)
}

// Roots implements RootProvider.
func (rs *RootSet) Roots(visit func(*Object)) {
	for obj := range rs.pins {
		visit(obj)
	}
}

// forget drops obj entirely; used when its storage is released.
func (rs *RootSet) forget(obj *Object) {
	delete(rs.pins, obj)
}
