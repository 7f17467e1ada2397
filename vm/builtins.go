package vm

// ObjectClassName is the name of the root class.
const ObjectClassName = "Object"

// onDestroyMethod is the virtual hook Destroy runs. Classes override it to
// release what they hold; the root implementation does nothing.
const onDestroyMethod = "OnDestroy"

// objectClassSpec declares the root class and its natives.
func objectClassSpec() ClassSpec {
	return ClassSpec{
		Name:  ObjectClassName,
		Flags: ClassNative,
		Methods: []*Method{
			NewNative("Destroy", Sig(VoidType), nativeDestroy, MethodFinal|MethodAllowDestroyed),
			NewNative(onDestroyMethod, Sig(VoidType), nativeOnDestroy, MethodAllowDestroyed),
			NewNative("DestroyDelayed", Sig(VoidType), nativeDestroyDelayed, MethodFinal),
			NewNative("IsA", Sig(BoolType, Arg("className", NameType)), nativeIsA, MethodFinal|MethodAllowDestroyed),
			NewNative("IsDestroyed", Sig(BoolType), nativeIsDestroyed, MethodFinal|MethodAllowDestroyed),
			NewNative("GetClassName", Sig(StringType), nativeGetClassName, MethodFinal|MethodAllowDestroyed),

			NewNative("CollectGarbage", Sig(VoidType, OptArg("destroyDelayed", BoolType, BoolValue(false))), nativeCollectGarbage, MethodStatic|MethodFinal),
			NewNative("GC_AliveObjects", Sig(IntType), nativeAliveObjects, MethodStatic|MethodFinal),
			NewNative("GC_LastCollectedObjects", Sig(IntType), nativeLastCollected, MethodStatic|MethodFinal),
			NewNative("GC_LastCollectDuration", Sig(FloatType), nativeLastCollectDuration, MethodStatic|MethodFinal),
			NewNative("GC_LastCollectTime", Sig(FloatType), nativeLastCollectTime, MethodStatic|MethodFinal),
			NewNative("SpawnObject", Sig(RefType(ObjectClassName), Arg("cls", ClassOfType(ObjectClassName))), nativeSpawnObject, MethodStatic|MethodFinal),
		},
	}
}

func nativeDestroy(rt *Runtime, self *Object, _ Args) (Value, error) {
	rt.Destroy(self)
	return Void, nil
}

func nativeOnDestroy(*Runtime, *Object, Args) (Value, error) {
	return Void, nil
}

func nativeDestroyDelayed(rt *Runtime, self *Object, _ Args) (Value, error) {
	rt.DestroyDelayed(self)
	return Void, nil
}

// nativeIsA matches class names up the inheritance chain.
func nativeIsA(rt *Runtime, self *Object, args Args) (Value, error) {
	want := args.Name(0)
	for c := self.class; c != nil; c = c.Parent {
		if c.NameID == want {
			return BoolValue(true), nil
		}
	}
	return BoolValue(false), nil
}

func nativeIsDestroyed(_ *Runtime, self *Object, _ Args) (Value, error) {
	return BoolValue(self.IsGoingToDie()), nil
}

func nativeGetClassName(_ *Runtime, self *Object, _ Args) (Value, error) {
	return StringValue(self.class.Name), nil
}

func nativeCollectGarbage(rt *Runtime, _ *Object, args Args) (Value, error) {
	rt.CollectGarbage(args.Bool(0))
	return Void, nil
}

func nativeAliveObjects(rt *Runtime, _ *Object, _ Args) (Value, error) {
	return IntValue(int32(rt.Stats().Alive)), nil
}

func nativeLastCollected(rt *Runtime, _ *Object, _ Args) (Value, error) {
	return IntValue(int32(rt.GC.lastCollected)), nil
}

// nativeLastCollectDuration reports seconds.
func nativeLastCollectDuration(rt *Runtime, _ *Object, _ Args) (Value, error) {
	return FloatValue(float32(rt.GC.lastDuration.Seconds())), nil
}

// nativeLastCollectTime reports seconds since the runtime started, or 0
// before the first collection.
func nativeLastCollectTime(rt *Runtime, _ *Object, _ Args) (Value, error) {
	if rt.GC.lastTime.IsZero() {
		return FloatValue(0), nil
	}
	return FloatValue(float32(rt.GC.lastTime.Sub(rt.started).Seconds())), nil
}

func nativeSpawnObject(rt *Runtime, _ *Object, args Args) (Value, error) {
	obj, err := rt.Spawn(args.Class(0))
	if err != nil {
		return Value{}, err
	}
	return ObjectValue(obj), nil
}
