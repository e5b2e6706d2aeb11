/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package interp

import (
	"testing"

	"embervm/internal/classfile"
	"embervm/internal/classloader"
	"embervm/internal/frame"
	"embervm/internal/heap"
	"embervm/internal/natives"
	"embervm/internal/object"
	"embervm/internal/opcodes"
	"embervm/internal/types"
	"embervm/internal/vmthread"
)

// dynamicCP builds a constant pool for one invokedynamic call site
// whose bootstrap method handle points at Provider.bootstrap, and
// whose invoked name/descriptor is identify()Ljava/lang/Object; (no
// declared parameters, so the call site needs nothing pre-pushed on
// the operand stack).
// Constant-pool index 0 is unused, per the class-file format.
func dynamicCP() *classfile.ConstantPool {
	cp := &classfile.ConstantPool{CpIndex: make([]classfile.CPEntry, 12)}
	addUtf8 := func(i int, s string) {
		cp.CpIndex[i] = classfile.CPEntry{Tag: classfile.TagUtf8, Slot: len(cp.Utf8Refs)}
		cp.Utf8Refs = append(cp.Utf8Refs, s)
	}

	addUtf8(1, "Provider")
	cp.CpIndex[2] = classfile.CPEntry{Tag: classfile.TagClass, Slot: len(cp.ClassRefs)}
	cp.ClassRefs = append(cp.ClassRefs, 1)

	addUtf8(3, "bootstrap")
	addUtf8(4, "(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/Object;")
	cp.CpIndex[5] = classfile.CPEntry{Tag: classfile.TagNameAndType, Slot: len(cp.NameAndTypes)}
	cp.NameAndTypes = append(cp.NameAndTypes, classfile.NameAndTypeEntry{NameIndex: 3, DescIndex: 4})

	cp.CpIndex[6] = classfile.CPEntry{Tag: classfile.TagMethodref, Slot: len(cp.MethodRefs)}
	cp.MethodRefs = append(cp.MethodRefs, classfile.RefEntry{ClassIndex: 2, NameAndTypeIndex: 5})

	cp.CpIndex[7] = classfile.CPEntry{Tag: classfile.TagMethodHandle, Slot: len(cp.MethodHandles)}
	cp.MethodHandles = append(cp.MethodHandles, classfile.MethodHandleEntry{ReferenceKind: classfile.RefInvokeStatic, ReferenceIndex: 6})

	addUtf8(8, "identify")
	addUtf8(9, "()Ljava/lang/Object;")
	cp.CpIndex[10] = classfile.CPEntry{Tag: classfile.TagNameAndType, Slot: len(cp.NameAndTypes)}
	cp.NameAndTypes = append(cp.NameAndTypes, classfile.NameAndTypeEntry{NameIndex: 8, DescIndex: 9})

	cp.CpIndex[11] = classfile.CPEntry{Tag: classfile.TagInvokeDynamic, Slot: len(cp.InvokeDynamics)}
	cp.InvokeDynamics = append(cp.InvokeDynamics, classfile.InvokeDynamicEntry{BootstrapMethodAttrIndex: 0, NameAndTypeIndex: 10})

	return cp
}

func TestInvokeDynamicBootstrapsOnFirstUseAndCachesCallSite(t *testing.T) {
	loader := classloader.NewLoader("test", "", classloader.NewClasspath(""))
	h := heap.New(loader)
	nat := natives.NewRegistry()

	// identify() just returns the receiver, so the test can confirm the
	// call site really did bind to the instance the bootstrap returned.
	target := &classloader.Klass{Name: "Target", InitState: types.Initialised}
	identify := &classloader.Method{
		Method: classfile.Method{
			Name:       "identify",
			Descriptor: "()Ljava/lang/Object;",
			Code:       []byte{opcodes.Aload0, opcodes.Areturn},
			MaxStack:   1,
			MaxLocals:  1,
		},
		Owner:          target,
		ReturnSlotType: types.REF,
	}
	target.MethodTable = map[string]*classloader.Method{"identify()Ljava/lang/Object;": identify}
	loader.Register("Target", target)

	provider := &classloader.Klass{Name: "Provider", InitState: types.Initialised}
	var bootstrapCalls int
	bootstrap := &classloader.Method{
		Method: classfile.Method{
			Name:        "bootstrap",
			Descriptor:  "(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/Object;",
			AccessFlags: classfile.AccStatic | classfile.AccNative,
		},
		Owner:          provider,
		ParamSlotTypes: []types.SlotType{types.REF, types.REF},
		ReturnSlotType: types.REF,
	}
	provider.MethodTable = map[string]*classloader.Method{"bootstrap(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/Object;": bootstrap}
	loader.Register("Provider", provider)
	nat.Register("Provider", "bootstrap", "(Ljava/lang/String;Ljava/lang/String;)Ljava/lang/Object;",
		func(f *frame.Frame, th *vmthread.Thread, h *heap.Heap) (interface{}, error) {
			bootstrapCalls++
			return h.NewInstance(th.ID, target), nil
		})

	caller := &classloader.Klass{Name: "Caller", InitState: types.Initialised, CP: dynamicCP(), Bootstraps: []classfile.BootstrapMethod{{MethodHandleIndex: 7}}}
	run := &classloader.Method{
		Method: classfile.Method{
			Name:        "run",
			Descriptor:  "()Ljava/lang/String;",
			Code:        []byte{opcodes.Invokedynamic, 0x00, 0x0b, 0, 0, opcodes.Areturn},
			MaxStack:    1,
			MaxLocals:   0,
			AccessFlags: classfile.AccStatic,
		},
		Owner:          caller,
		ReturnSlotType: types.REF,
	}
	caller.MethodTable = map[string]*classloader.Method{"run()Ljava/lang/String;": run}

	in := NewInterpreter(loader, h, nat, vmthread.NewRegistry(), nil)
	th := &vmthread.Thread{ID: 1, Holder: h.HolderFor(1)}

	ret, err := in.Invoke(th, run, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, ok := ret.(*object.Object)
	if !ok || obj.ClassName != "Target" {
		t.Fatalf("expected a Target instance bound as the call site's receiver, got %#v", ret)
	}
	if bootstrapCalls != 1 {
		t.Fatalf("expected the bootstrap method to run exactly once, ran %d times", bootstrapCalls)
	}

	if _, err := in.Invoke(th, run, nil); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if bootstrapCalls != 1 {
		t.Errorf("expected the cached call site to skip a second bootstrap call, bootstrap ran %d times", bootstrapCalls)
	}
}

func TestInvokeDynamicWithUnsupportedBootstrapKindThrows(t *testing.T) {
	loader := classloader.NewLoader("test", "", classloader.NewClasspath(""))
	h := heap.New(loader)
	nat := natives.NewRegistry()

	cp := dynamicCP()
	cp.MethodHandles[0].ReferenceKind = classfile.RefInvokeVirtual // not the required RefInvokeStatic

	caller := &classloader.Klass{Name: "Caller2", InitState: types.Initialised, CP: cp, Bootstraps: []classfile.BootstrapMethod{{MethodHandleIndex: 7}}}
	run := &classloader.Method{
		Method: classfile.Method{
			Name:        "run",
			Descriptor:  "()Ljava/lang/String;",
			Code:        []byte{opcodes.Invokedynamic, 0x00, 0x0b, 0, 0, opcodes.Areturn},
			MaxStack:    1,
			AccessFlags: classfile.AccStatic,
		},
		Owner:          caller,
		ReturnSlotType: types.REF,
	}
	caller.MethodTable = map[string]*classloader.Method{"run()Ljava/lang/String;": run}

	in := NewInterpreter(loader, h, nat, vmthread.NewRegistry(), nil)
	th := &vmthread.Thread{ID: 1, Holder: h.HolderFor(1)}

	_, err := in.Invoke(th, run, nil)
	if err == nil {
		t.Fatalf("expected a BootstrapMethodError for a non-invokestatic method handle kind")
	}
}
