package vm

import (
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Collector: mark-and-sweep over the live-object registry
// ---------------------------------------------------------------------------

// GCStats is a read-only snapshot of collector state.
type GCStats struct {
	Alive               int // registered objects not destroyed
	MarkedDead          int // destroyed objects whose storage is not yet released
	LastCollected       int // objects released by the last collection
	LastMarked          int // objects marked reachable by the last collection
	PoolSize            int
	PoolAllocated       int
	FirstFree           int
	LastCollectDuration time.Duration
	LastCollectTime     time.Time
	Collections         uint64
}

// DefaultGCThreshold is the number of spawns after which a collection is
// requested at the next safe point.
const DefaultGCThreshold = 4096

// Collector is a non-generational, non-moving mark-and-sweep collector.
//
// Each run increments the pass counter; an object is reachable in this
// pass iff its mark equals the counter, so marks never need clearing.
// Collection runs synchronously on the runtime's thread.
type Collector struct {
	rt *Runtime

	pass         uint32
	threshold    int
	allocated    int
	pending      bool
	inCollection bool
	messages     bool

	work []*Object

	lastCollected int
	lastMarked    int
	lastDuration  time.Duration
	lastTime      time.Time
	collections   uint64

	log commonlog.Logger
}

func newCollector(rt *Runtime, threshold int, messages bool) *Collector {
	if threshold <= 0 {
		threshold = DefaultGCThreshold
	}
	return &Collector{
		rt:        rt,
		threshold: threshold,
		messages:  messages,
		log:       commonlog.GetLogger("vavoomc.gc"),
	}
}

// Threshold returns the spawn count that requests a collection.
func (gc *Collector) Threshold() int { return gc.threshold }

// SetThreshold changes the spawn threshold; n <= 0 restores the default.
func (gc *Collector) SetThreshold(n int) {
	if n <= 0 {
		n = DefaultGCThreshold
	}
	gc.threshold = n
}

// Pending reports whether the threshold was crossed since the last run.
func (gc *Collector) Pending() bool { return gc.pending }

// InCollection reports whether a collection is running.
func (gc *Collector) InCollection() bool { return gc.inCollection }

// noteSpawn counts an allocation and stamps the new object so a sweep in
// progress does not reclaim it.
func (gc *Collector) noteSpawn(obj *Object) {
	if gc.inCollection {
		obj.mark = gc.pass
	}
	gc.allocated++
	if gc.allocated >= gc.threshold {
		gc.pending = true
	}
}

// MaybeCollect runs a collection if one is pending. The interpreter calls
// it when an outermost invocation returns; hosts call it from their tick.
func (gc *Collector) MaybeCollect() bool {
	if !gc.pending || gc.inCollection {
		return false
	}
	gc.CollectGarbage(false)
	return true
}

// Collect runs a full collection.
func (gc *Collector) Collect() GCStats {
	return gc.CollectGarbage(false)
}

// CollectGarbage runs a full collection. With destroyDelayed, objects
// flagged FlagDelayedDestroy are destroyed first and reclaimed in the
// same run. A request made from inside a destroy hook is ignored.
func (gc *Collector) CollectGarbage(destroyDelayed bool) GCStats {
	if gc.inCollection {
		return gc.Stats()
	}
	gc.inCollection = true
	defer func() { gc.inCollection = false }()

	start := time.Now()
	rt := gc.rt

	if destroyDelayed {
		var delayed []*Object
		rt.Objects.Each(func(obj *Object) bool {
			if obj.flags&FlagDelayedDestroy != 0 && !obj.IsDestroyed() {
				delayed = append(delayed, obj)
			}
			return true
		})
		for _, obj := range delayed {
			rt.Destroy(obj)
		}
	}

	gc.pass++
	if gc.pass == 0 {
		// Wrapped: clear stale marks so no object looks marked by accident.
		rt.Objects.Each(func(obj *Object) bool {
			obj.mark = 0
			return true
		})
		gc.pass = 1
	}

	marked := gc.mark()
	collected := gc.sweep()

	gc.allocated = 0
	gc.pending = false
	gc.lastMarked = marked
	gc.lastCollected = collected
	gc.lastDuration = time.Since(start)
	gc.lastTime = start
	gc.collections++

	if gc.messages {
		gc.log.Infof("collected %d objects (%d reachable, %d alive) in %s", collected, marked, rt.Objects.Count(), gc.lastDuration)
	} else {
		gc.log.Debugf("collected %d objects (%d reachable, %d alive) in %s", collected, marked, rt.Objects.Count(), gc.lastDuration)
	}
	return gc.Stats()
}

// mark traces from the root set and returns the number of objects marked.
// The mark bit doubles as the visited set, so cycles terminate and each
// object is traced at most once per pass.
func (gc *Collector) mark() int {
	rt := gc.rt
	marked := 0
	gc.work = gc.work[:0]

	visit := func(obj *Object) {
		if obj == nil || obj.mark == gc.pass || obj.flags&FlagReleased != 0 {
			return
		}
		obj.mark = gc.pass
		marked++
		// Destroyed objects do not keep their referents alive.
		if !obj.IsDestroyed() {
			gc.work = append(gc.work, obj)
		}
	}

	rt.roots.Roots(visit)
	for _, p := range rt.providers {
		p.Roots(visit)
	}
	rt.Objects.Each(func(obj *Object) bool {
		if obj.flags&FlagPinned != 0 {
			visit(obj)
		}
		return true
	})

	for len(gc.work) > 0 {
		obj := gc.work[len(gc.work)-1]
		gc.work = gc.work[:len(gc.work)-1]
		for _, slot := range obj.class.refSlots {
			traceValue(obj.fields[slot], visit)
		}
	}
	return marked
}

// traceValue visits the references held by v, descending into structs.
func traceValue(v Value, visit func(*Object)) {
	switch v.tag {
	case TypeReference:
		if v.ref != nil {
			visit(v.ref)
		}
	case TypeStruct:
		if v.agg != nil && v.agg.Type.hasRefs {
			for _, f := range v.agg.Fields {
				traceValue(f, visit)
			}
		}
	}
}

// sweep reclaims unmarked objects and the storage of destroyed ones.
// All destroy hooks run before any storage is released, so a hook may
// still read the fields of other objects dying in the same pass.
func (gc *Collector) sweep() int {
	rt := gc.rt
	var dead []*Object
	rt.Objects.Each(func(obj *Object) bool {
		if obj.mark != gc.pass || obj.flags&FlagDestroyed != 0 {
			dead = append(dead, obj)
		}
		return true
	})

	for _, obj := range dead {
		rt.Destroy(obj)
	}
	for _, obj := range dead {
		rt.release(obj)
	}
	return len(dead)
}

// Stats returns a snapshot of collector and registry state.
func (gc *Collector) Stats() GCStats {
	objs := gc.rt.Objects
	dead := 0
	objs.Each(func(obj *Object) bool {
		if obj.IsDestroyed() {
			dead++
		}
		return true
	})
	return GCStats{
		Alive:               objs.Count() - dead,
		MarkedDead:          dead,
		LastCollected:       gc.lastCollected,
		LastMarked:          gc.lastMarked,
		PoolSize:            objs.PoolSize(),
		PoolAllocated:       objs.PoolAllocated(),
		FirstFree:           objs.FirstFree(),
		LastCollectDuration: gc.lastDuration,
		LastCollectTime:     gc.lastTime,
		Collections:         gc.collections,
	}
}
