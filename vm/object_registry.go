package vm

// ObjectRegistry is the live-object registry: a flat slot map that the
// collector sweeps in one linear pass.
//
// Released slots are reused lowest-first. firstFree is a hint: every slot
// below it is occupied.
type ObjectRegistry struct {
	objects   []*Object
	firstFree int
	count     int
	nextUID   uint64
}

func newObjectRegistry() *ObjectRegistry {
	return &ObjectRegistry{
		objects: make([]*Object, 0, 1024),
	}
}

// add places obj in the lowest free slot and assigns its unique id.
func (r *ObjectRegistry) add(obj *Object) {
	r.nextUID++
	obj.uid = r.nextUID

	i := r.firstFree
	for i < len(r.objects) && r.objects[i] != nil {
		i++
	}
	if i == len(r.objects) {
		r.objects = append(r.objects, obj)
	} else {
		r.objects[i] = obj
	}
	obj.index = i
	r.firstFree = i + 1
	r.count++
}

// remove frees obj's slot.
func (r *ObjectRegistry) remove(obj *Object) {
	i := obj.index
	if i < 0 || i >= len(r.objects) || r.objects[i] != obj {
		return
	}
	r.objects[i] = nil
	obj.index = -1
	r.count--
	if i < r.firstFree {
		r.firstFree = i
	}
}

// Get returns the object in a slot, or nil.
func (r *ObjectRegistry) Get(index int) *Object {
	if index < 0 || index >= len(r.objects) {
		return nil
	}
	return r.objects[index]
}

// Count returns the number of registered objects, destroyed-but-unreleased
// ones included.
func (r *ObjectRegistry) Count() int {
	return r.count
}

// PoolSize returns the number of slots, free ones included.
func (r *ObjectRegistry) PoolSize() int {
	return len(r.objects)
}

// PoolAllocated returns the slot capacity.
func (r *ObjectRegistry) PoolAllocated() int {
	return cap(r.objects)
}

// FirstFree returns the lowest free slot, or PoolSize when the pool is full.
func (r *ObjectRegistry) FirstFree() int {
	i := r.firstFree
	for i < len(r.objects) && r.objects[i] != nil {
		i++
	}
	return i
}

// Each calls fn for every registered object in slot order until fn
// returns false. Objects registered during the walk may or may not be
// visited.
func (r *ObjectRegistry) Each(fn func(*Object) bool) {
	for i := 0; i < len(r.objects); i++ {
		if obj := r.objects[i]; obj != nil {
			if !fn(obj) {
				return
			}
		}
	}
}

// Live returns the registered objects that are not destroyed.
func (r *ObjectRegistry) Live() []*Object {
	out := make([]*Object, 0, r.count)
	r.Each(func(obj *Object) bool {
		if !obj.IsDestroyed() {
			out = append(out, obj)
		}
		return true
	})
	return out
}

// OfClass returns live instances of c and its subclasses.
func (r *ObjectRegistry) OfClass(c *Class) []*Object {
	var out []*Object
	r.Each(func(obj *Object) bool {
		if !obj.IsDestroyed() && obj.class.IsSubclassOf(c) {
			out = append(out, obj)
		}
		return true
	})
	return out
}
