// Package persist saves and restores the object graph of a runtime.
//
// A snapshot records every live object by class name and every field by
// name, so it survives class layout changes: fields that no longer exist
// are skipped on restore and new fields keep their defaults. References
// are stored as the unique id of the target object.
package persist

import (
	"fmt"

	"github.com/chazu/vavoomc/vm"
	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
)

// SnapshotVersion is the current snapshot format.
const SnapshotVersion = 1

var log = commonlog.GetLogger("vavoomc.persist")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("persist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is a serializable image of the live objects of a runtime.
type Snapshot struct {
	Version int            `cbor:"1,keyasint"`
	Objects []ObjectRecord `cbor:"2,keyasint"`
}

// ObjectRecord is one saved object.
type ObjectRecord struct {
	ID      uint64        `cbor:"1,keyasint"`
	Class   string        `cbor:"2,keyasint"`
	Rooted  bool          `cbor:"3,keyasint,omitempty"`
	Pinned  bool          `cbor:"4,keyasint,omitempty"`
	Delayed bool          `cbor:"5,keyasint,omitempty"`
	Fields  []FieldRecord `cbor:"6,keyasint,omitempty"`
}

// FieldRecord is one saved field.
type FieldRecord struct {
	Name  string      `cbor:"1,keyasint"`
	Value ValueRecord `cbor:"2,keyasint"`
}

// ValueRecord is the encoded form of a vm.Value. Names and classes are
// stored as text because name ids differ between runtimes.
type ValueRecord struct {
	Tag    uint8         `cbor:"1,keyasint"`
	Int    int32         `cbor:"2,keyasint,omitempty"`
	Float  float32       `cbor:"3,keyasint,omitempty"`
	Bool   bool          `cbor:"4,keyasint,omitempty"`
	Text   string        `cbor:"5,keyasint,omitempty"`
	Ref    uint64        `cbor:"6,keyasint,omitempty"`
	Vec    [3]float32    `cbor:"7,keyasint,omitempty"`
	Fields []FieldRecord `cbor:"8,keyasint,omitempty"`
}

// Encode serializes a snapshot to canonical CBOR.
func Encode(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Decode deserializes a snapshot.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("persist: unmarshal snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("persist: unsupported snapshot version %d", s.Version)
	}
	return &s, nil
}

// ---------------------------------------------------------------------------
// Capture
// ---------------------------------------------------------------------------

// Capture records every object that is not destroyed, in registry order.
func Capture(rt *vm.Runtime) (*Snapshot, error) {
	snap := &Snapshot{Version: SnapshotVersion}
	var err error
	rt.Objects.Each(func(obj *vm.Object) bool {
		if obj.HasFlag(vm.FlagDestroyed | vm.FlagReleased) {
			return true
		}
		rec := ObjectRecord{
			ID:      obj.UniqueID(),
			Class:   obj.Class().Name,
			Rooted:  rt.IsRoot(obj),
			Pinned:  obj.IsPinned(),
			Delayed: obj.HasFlag(vm.FlagDelayedDestroy),
		}
		for i, f := range obj.Class().Fields {
			v, ferr := obj.Field(i)
			if ferr != nil {
				err = ferr
				return false
			}
			rec.Fields = append(rec.Fields, FieldRecord{Name: f.Name, Value: encodeValue(rt, v)})
		}
		snap.Objects = append(snap.Objects, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func encodeValue(rt *vm.Runtime, v vm.Value) ValueRecord {
	rec := ValueRecord{Tag: uint8(v.Tag())}
	switch v.Tag() {
	case vm.TypeInt:
		rec.Int = v.Int()
	case vm.TypeFloat:
		rec.Float = v.Float()
	case vm.TypeBool:
		rec.Bool = v.Bool()
	case vm.TypeString:
		rec.Text = v.Str()
	case vm.TypeName:
		rec.Text = rt.Names.String(v.Name())
	case vm.TypeReference:
		if obj := v.Object(); obj != nil && !obj.HasFlag(vm.FlagDestroyed|vm.FlagReleased) {
			rec.Ref = obj.UniqueID()
		}
	case vm.TypeClass:
		if c := v.Class(); c != nil {
			rec.Text = c.Name
		}
	case vm.TypeVector:
		vec := v.Vector()
		rec.Vec = [3]float32{vec.X, vec.Y, vec.Z}
	case vm.TypeStruct:
		if sv := v.Struct(); sv != nil {
			rec.Text = sv.Type.Name
			for i, f := range sv.Type.Fields {
				rec.Fields = append(rec.Fields, FieldRecord{Name: f.Name, Value: encodeValue(rt, sv.Fields[i])})
			}
		}
	}
	return rec
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// Restore spawns the objects of a snapshot into rt and returns them keyed
// by their saved ids. Every class must exist; a missing class aborts the
// restore before anything is spawned. Unknown or mistyped fields are
// logged and skipped, leaving the class default in place.
func Restore(rt *vm.Runtime, snap *Snapshot) (map[uint64]*vm.Object, error) {
	classes := make(map[string]*vm.Class)
	for _, rec := range snap.Objects {
		if _, ok := classes[rec.Class]; ok {
			continue
		}
		c, err := rt.Classes.Resolve(rec.Class)
		if err != nil {
			return nil, fmt.Errorf("persist: object %d: %w", rec.ID, err)
		}
		classes[rec.Class] = c
	}

	byID := make(map[uint64]*vm.Object, len(snap.Objects))
	for _, rec := range snap.Objects {
		obj, err := rt.Spawn(classes[rec.Class])
		if err != nil {
			return nil, fmt.Errorf("persist: object %d: %w", rec.ID, err)
		}
		byID[rec.ID] = obj
	}

	for _, rec := range snap.Objects {
		obj := byID[rec.ID]
		for _, fr := range rec.Fields {
			v, err := decodeValue(rt, fr.Value, byID)
			if err != nil {
				log.Warningf("%s.%s: %s", rec.Class, fr.Name, err)
				continue
			}
			if err := obj.Set(fr.Name, v); err != nil {
				log.Warningf("%s.%s: %s", rec.Class, fr.Name, err)
			}
		}
		if rec.Rooted {
			rt.AddRoot(obj)
		}
		obj.SetPinned(rec.Pinned)
		if rec.Delayed {
			rt.DestroyDelayed(obj)
		}
	}
	log.Infof("restored %d objects", len(byID))
	return byID, nil
}

func decodeValue(rt *vm.Runtime, rec ValueRecord, byID map[uint64]*vm.Object) (vm.Value, error) {
	switch vm.TypeTag(rec.Tag) {
	case vm.TypeVoid:
		return vm.Void, nil
	case vm.TypeInt:
		return vm.IntValue(rec.Int), nil
	case vm.TypeFloat:
		return vm.FloatValue(rec.Float), nil
	case vm.TypeBool:
		return vm.BoolValue(rec.Bool), nil
	case vm.TypeString:
		return vm.StringValue(rec.Text), nil
	case vm.TypeName:
		return vm.NameValue(rt.Names.Intern(rec.Text)), nil
	case vm.TypeReference:
		if rec.Ref == 0 {
			return vm.Null, nil
		}
		obj, ok := byID[rec.Ref]
		if !ok {
			return vm.Value{}, fmt.Errorf("dangling reference to object %d", rec.Ref)
		}
		return vm.ObjectValue(obj), nil
	case vm.TypeClass:
		if rec.Text == "" {
			return vm.ClassValue(nil), nil
		}
		c, err := rt.Classes.Resolve(rec.Text)
		if err != nil {
			return vm.Value{}, err
		}
		return vm.ClassValue(c), nil
	case vm.TypeVector:
		return vm.VectorValue(vm.Vector{X: rec.Vec[0], Y: rec.Vec[1], Z: rec.Vec[2]}), nil
	case vm.TypeStruct:
		st, err := rt.Classes.Struct(rec.Text)
		if err != nil {
			return vm.Value{}, err
		}
		sv := st.New()
		for _, fr := range rec.Fields {
			v, err := decodeValue(rt, fr.Value, byID)
			if err != nil {
				return vm.Value{}, err
			}
			if err := sv.Set(fr.Name, v); err != nil {
				log.Warningf("%s.%s: %s", st.Name, fr.Name, err)
			}
		}
		return vm.StructVal(sv), nil
	}
	return vm.Value{}, fmt.Errorf("unknown value tag %d", rec.Tag)
}
