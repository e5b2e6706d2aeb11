/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package interp

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"embervm/internal/classfile"
	"embervm/internal/classloader"
	"embervm/internal/excnames"
	"embervm/internal/frame"
	"embervm/internal/object"
	"embervm/internal/opcodes"
	"embervm/internal/types"
	"embervm/internal/vmthread"
)

// resolveField links a field-ref constant-pool entry through the
// owning class's loader, mapping any link failure into a catchable
// exception.
func (in *Interpreter) resolveField(th *vmthread.Thread, owner *classloader.Klass, cpIndex int, isStatic bool) (*classloader.Field, error) {
	field, _, err := in.Loader.LinkRef(owner, cpIndex, isStatic)
	if err != nil {
		return nil, in.classError(th, err)
	}
	if field == nil {
		return nil, in.classError(th, errors.Errorf("constant pool entry %d did not resolve to a field", cpIndex))
	}
	return field, nil
}

// resolveMethod links a method-ref (or interface-method-ref) constant
// pool entry, the declared call-site target before any virtual
// dispatch override.
func (in *Interpreter) resolveMethod(th *vmthread.Thread, owner *classloader.Klass, cpIndex int) (*classloader.Method, error) {
	_, method, err := in.Loader.LinkRef(owner, cpIndex, false)
	if err != nil {
		return nil, in.classError(th, err)
	}
	if method == nil {
		return nil, in.classError(th, errors.Errorf("constant pool entry %d did not resolve to a method", cpIndex))
	}
	return method, nil
}

func (in *Interpreter) getStatic(th *vmthread.Thread, owner *classloader.Klass, cpIndex int) (interface{}, types.SlotType, error) {
	field, err := in.resolveField(th, owner, cpIndex, true)
	if err != nil {
		return nil, types.NONE, err
	}
	if err := in.ensureInitialized(th, field.Owner); err != nil {
		return nil, types.NONE, err
	}
	return field.Owner.StaticFields[field.Name].Value, field.SlotType, nil
}

func (in *Interpreter) putStatic(th *vmthread.Thread, owner *classloader.Klass, cpIndex int, v interface{}) error {
	field, err := in.resolveField(th, owner, cpIndex, true)
	if err != nil {
		return err
	}
	if err := in.ensureInitialized(th, field.Owner); err != nil {
		return err
	}
	field.Owner.StaticFields[field.Name].Value = v
	return nil
}

func (in *Interpreter) getField(th *vmthread.Thread, owner *classloader.Klass, cpIndex int, objRef interface{}) (interface{}, types.SlotType, error) {
	if objRef == nil {
		return nil, types.NONE, in.throwable(th, excnames.NullPointerException, "getfield on null reference")
	}
	field, err := in.resolveField(th, owner, cpIndex, false)
	if err != nil {
		return nil, types.NONE, err
	}
	obj := objRef.(*object.Object)
	return obj.Fields[field.SlotID], field.SlotType, nil
}

func (in *Interpreter) putField(th *vmthread.Thread, owner *classloader.Klass, cpIndex int, objRef, v interface{}) error {
	if objRef == nil {
		return in.throwable(th, excnames.NullPointerException, "putfield on null reference")
	}
	field, err := in.resolveField(th, owner, cpIndex, false)
	if err != nil {
		return err
	}
	obj := objRef.(*object.Object)
	obj.Fields[field.SlotID] = v
	return nil
}

// allocInstance implements "new": resolve, initialize, allocate.
func (in *Interpreter) allocInstance(th *vmthread.Thread, owner *classloader.Klass, cpIndex int) (*object.Object, error) {
	name, err := owner.CP.ClassNameAt(cpIndex)
	if err != nil {
		return nil, err
	}
	k, err := in.Loader.LoadClass(name)
	if err != nil {
		return nil, in.classError(th, err)
	}
	if err := in.ensureInitialized(th, k); err != nil {
		return nil, err
	}
	return in.Heap.NewInstance(th.ID, k), nil
}

var newarrayTypeLetters = map[byte]string{
	4: "Z", 5: "C", 6: "F", 7: "D", 8: "B", 9: "S", 10: "I", 11: "J",
}

// allocTypedArray implements "newarray" for the eight primitive
// component types, keyed by the JVM's atype codes.
func (in *Interpreter) allocTypedArray(th *vmthread.Thread, atype byte, count int32) (*object.Object, error) {
	if count < 0 {
		return nil, in.throwable(th, excnames.NegativeArraySizeException, fmt.Sprintf("%d", count))
	}
	letter, ok := newarrayTypeLetters[atype]
	if !ok {
		return nil, errors.Errorf("newarray: unknown atype %d", atype)
	}
	elemType := types.SlotTypeFromDescriptor(letter)
	return in.Heap.NewTypeArray(th.ID, "["+letter, elemType, int(count)), nil
}

// allocObjectArray implements "anewarray". The referenced class may
// itself be an array type (anewarray [I builds a [[I), in which case
// the allocated array's class name needs the extra leading bracket
// rather than object.NewObjectArray's "[Lclass;" convention, which
// only applies to a non-array component.
func (in *Interpreter) allocObjectArray(th *vmthread.Thread, owner *classloader.Klass, cpIndex int, count int32) (*object.Object, error) {
	if count < 0 {
		return nil, in.throwable(th, excnames.NegativeArraySizeException, fmt.Sprintf("%d", count))
	}
	componentName, err := owner.CP.ClassNameAt(cpIndex)
	if err != nil {
		return nil, err
	}
	if _, err := in.Loader.LoadClass(componentName); err != nil {
		return nil, in.classError(th, err)
	}
	arr := in.Heap.NewObjectArray(th.ID, componentName, int(count))
	if strings.HasPrefix(componentName, "[") {
		arr.ClassName = "[" + componentName
	}
	return arr, nil
}

// allocMultiArray implements "multianewarray": it resolves the full
// array descriptor once, then recurses per dimension, leaving any
// dimension past len(counts) unallocated (nil elements), matching the
// JVM's "only the first N dimensions are allocated" rule.
func (in *Interpreter) allocMultiArray(th *vmthread.Thread, owner *classloader.Klass, cpIndex int, counts []int32) (*object.Object, error) {
	name, err := owner.CP.ClassNameAt(cpIndex)
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		if c < 0 {
			return nil, in.throwable(th, excnames.NegativeArraySizeException, fmt.Sprintf("%d", c))
		}
	}
	return in.buildMultiArray(th, name, counts)
}

func (in *Interpreter) buildMultiArray(th *vmthread.Thread, arrayDesc string, counts []int32) (*object.Object, error) {
	component := arrayDesc[1:]
	length := int(counts[0])

	var arr *object.Object
	switch component[0] {
	case '[':
		if _, err := in.Loader.LoadClass(component); err != nil {
			return nil, in.classError(th, err)
		}
		arr = in.Heap.NewObjectArray(th.ID, component, length)
		arr.ClassName = arrayDesc
	case 'L':
		className := strings.TrimSuffix(component[1:], ";")
		if _, err := in.Loader.LoadClass(className); err != nil {
			return nil, in.classError(th, err)
		}
		arr = in.Heap.NewObjectArray(th.ID, className, length)
	default:
		arr = in.Heap.NewTypeArray(th.ID, arrayDesc, types.SlotTypeFromDescriptor(component), length)
	}

	if len(counts) > 1 {
		for i := 0; i < length; i++ {
			sub, err := in.buildMultiArray(th, component, counts[1:])
			if err != nil {
				return nil, err
			}
			arr.Elements[i] = sub
		}
	}
	return arr, nil
}

// arrayLoad implements the *aload family: the array's own
// ElementType (authoritative, set at allocation) decides the pushed
// value's slot type, not the specific opcode used to read it.
func (in *Interpreter) arrayLoad(th *vmthread.Thread, arrRef, idx interface{}) (interface{}, types.SlotType, error) {
	if arrRef == nil {
		return nil, types.NONE, in.throwable(th, excnames.NullPointerException, "array load on null reference")
	}
	arr := arrRef.(*object.Object)
	v, err := arr.At(int(idx.(int32)))
	if err != nil {
		return nil, types.NONE, in.arrayIndexException(th, err)
	}
	return v, arr.ElementType, nil
}

// arrayStore implements the *astore family, truncating byte/char/short
// component stores to their native width (the operand stack always
// carries these widened to int32).
func (in *Interpreter) arrayStore(th *vmthread.Thread, arrRef, idx, val interface{}, opcode byte) error {
	if arrRef == nil {
		return in.throwable(th, excnames.NullPointerException, "array store on null reference")
	}
	arr := arrRef.(*object.Object)

	stored := val
	switch opcode {
	case opcodes.Bastore:
		stored = int32(int8(val.(int32)))
	case opcodes.Castore:
		stored = int32(uint16(val.(int32)))
	case opcodes.Sastore:
		stored = int32(int16(val.(int32)))
	case opcodes.Aastore:
		if val != nil {
			ref := val.(*object.Object)
			if ref != nil && arr.ComponentClass != "" && !in.isAssignable(ref.ClassName, arr.ComponentClass) {
				return in.throwable(th, excnames.ArrayStoreException, ref.ClassName)
			}
		}
	}

	if err := arr.SetAt(int(idx.(int32)), stored); err != nil {
		return in.arrayIndexException(th, err)
	}
	return nil
}

func (in *Interpreter) arrayLength(th *vmthread.Thread, arrRef interface{}) (int32, error) {
	if arrRef == nil {
		return 0, in.throwable(th, excnames.NullPointerException, "arraylength on null reference")
	}
	return int32(arrRef.(*object.Object).Len()), nil
}

func (in *Interpreter) checkCast(th *vmthread.Thread, owner *classloader.Klass, cpIndex int, ref interface{}) error {
	if ref == nil {
		return nil
	}
	className, err := owner.CP.ClassNameAt(cpIndex)
	if err != nil {
		return err
	}
	obj := ref.(*object.Object)
	if !in.isAssignable(obj.ClassName, className) {
		return in.throwable(th, excnames.ClassCastException, obj.ClassName+" cannot be cast to "+className)
	}
	return nil
}

func (in *Interpreter) instanceOf(owner *classloader.Klass, cpIndex int, ref interface{}) (int32, error) {
	if ref == nil {
		return 0, nil
	}
	className, err := owner.CP.ClassNameAt(cpIndex)
	if err != nil {
		return 0, err
	}
	obj := ref.(*object.Object)
	if in.isAssignable(obj.ClassName, className) {
		return 1, nil
	}
	return 0, nil
}

// popArgs pops the arguments for a descriptor (and the receiver,
// unless static) off the operand stack and returns them in call
// order — receiver first, if present — ready for bindArgs.
func popArgs(f *frame.Frame, paramTypes []types.SlotType, withReceiver bool) []interface{} {
	n := len(paramTypes)
	if withReceiver {
		n++
	}
	args := make([]interface{}, n)
	for i := len(paramTypes) - 1; i >= 0; i-- {
		v, _, _ := f.Pop()
		idx := i
		if withReceiver {
			idx++
		}
		args[idx] = v
	}
	if withReceiver {
		v, _, _ := f.Pop()
		args[0] = v
	}
	return args
}

func pushReturn(f *frame.Frame, m *classloader.Method, ret interface{}) {
	if m.ReturnSlotType == types.NONE {
		return
	}
	f.Push(ret, m.ReturnSlotType)
}

func (in *Interpreter) doInvokeStatic(f *frame.Frame, th *vmthread.Thread, cpIndex int) error {
	m, err := in.resolveMethod(th, f.Method.Owner, cpIndex)
	if err != nil {
		return err
	}
	args := popArgs(f, m.ParamSlotTypes, false)
	ret, err := in.Invoke(th, m, args)
	if err != nil {
		return err
	}
	pushReturn(f, m, ret)
	return nil
}

func (in *Interpreter) doInvokeSpecial(f *frame.Frame, th *vmthread.Thread, cpIndex int) error {
	m, err := in.resolveMethod(th, f.Method.Owner, cpIndex)
	if err != nil {
		return err
	}
	args := popArgs(f, m.ParamSlotTypes, true)
	if args[0] == nil {
		return in.throwable(th, excnames.NullPointerException, "invokespecial on null reference")
	}
	ret, err := in.Invoke(th, m, args)
	if err != nil {
		return err
	}
	pushReturn(f, m, ret)
	return nil
}

// doInvokeVirtual resolves the declared call-site signature, then
// re-dispatches against the receiver's own runtime class — the method
// table lookup that makes overriding work.
func (in *Interpreter) doInvokeVirtual(f *frame.Frame, th *vmthread.Thread, cpIndex int) error {
	declared, err := in.resolveMethod(th, f.Method.Owner, cpIndex)
	if err != nil {
		return err
	}
	args := popArgs(f, declared.ParamSlotTypes, true)
	if args[0] == nil {
		return in.throwable(th, excnames.NullPointerException, "invokevirtual on null reference")
	}
	recv := args[0].(*object.Object)
	runtimeClass := in.Loader.Lookup(recv.ClassName)
	if runtimeClass == nil {
		return in.throwable(th, excnames.NoClassDefFoundError, recv.ClassName)
	}
	m, err := in.Loader.FindMethod(runtimeClass, declared.Name, declared.Descriptor)
	if err != nil {
		return in.classError(th, err)
	}
	ret, err := in.Invoke(th, m, args)
	if err != nil {
		return err
	}
	pushReturn(f, m, ret)
	return nil
}

// doInvokeInterface reuses virtual dispatch: the count and trailing
// reserved byte in the class-file encoding are historical, and the
// real argument count comes from the resolved descriptor either way.
func (in *Interpreter) doInvokeInterface(f *frame.Frame, th *vmthread.Thread, cpIndex int) error {
	return in.doInvokeVirtual(f, th, cpIndex)
}

// doInvokeDynamic resolves cpIndex's invokedynamic site, calling its
// bootstrap method on first use and caching the resulting call site on
// f.Method by constant-pool index; later executions of the same
// instruction skip straight to the cached target.
//
// This VM models a call site's target as a (class, name, descriptor)
// triple rather than first-class MethodHandle/CallSite/MethodType
// values: the bootstrap method is invoked like any other static
// method, and the runtime class of whatever it returns supplies the
// method the call site binds to — the same relationship a lambda's
// synthetic implementation class has to the functional interface's
// single abstract method.
func (in *Interpreter) doInvokeDynamic(f *frame.Frame, th *vmthread.Thread, cpIndex int) error {
	m := f.Method
	cs := m.CachedDynamic(cpIndex)
	if cs == nil {
		resolved, err := in.linkDynamic(f, th, cpIndex)
		if err != nil {
			return err
		}
		cs = resolved
		m.CacheDynamic(cpIndex, cs)
	}

	// invokedynamic's own descriptor never carries a receiver — any
	// bound instance came from the call site's bootstrap, not the
	// operand stack — so args are popped as if the target were static
	// and the receiver, if any, is prepended afterward.
	args := popArgs(f, cs.Target.ParamSlotTypes, false)
	if !cs.Target.IsStatic() {
		args = append([]interface{}{cs.Bound}, args...)
	}
	ret, err := in.Invoke(th, cs.Target, args)
	if err != nil {
		return err
	}
	pushReturn(f, cs.Target, ret)
	return nil
}

// linkDynamic performs an invokedynamic call site's first-use
// bootstrap: resolve the bootstrap method handle (which the
// class-file format requires to be RefInvokeStatic), invoke it with
// the invoked name and descriptor plus the bootstrap's own static
// arguments, and bind the call site to the method matching the
// invoked name/descriptor on the returned object's runtime class.
func (in *Interpreter) linkDynamic(f *frame.Frame, th *vmthread.Thread, cpIndex int) (*classloader.DynamicCallSite, error) {
	owner := f.Method.Owner
	cp := owner.CP
	if cpIndex < 1 || cpIndex >= len(cp.CpIndex) || cp.CpIndex[cpIndex].Tag != classfile.TagInvokeDynamic {
		return nil, in.throwable(th, excnames.BootstrapMethodError, "constant pool entry is not an invokedynamic site")
	}
	dyn := cp.InvokeDynamics[cp.CpIndex[cpIndex].Slot]
	if dyn.BootstrapMethodAttrIndex < 0 || dyn.BootstrapMethodAttrIndex >= len(owner.Bootstraps) {
		return nil, in.throwable(th, excnames.BootstrapMethodError, "bootstrap method attribute index out of range")
	}
	bsm := owner.Bootstraps[dyn.BootstrapMethodAttrIndex]

	invokedName, invokedDesc, err := cp.NameAndTypeAt(dyn.NameAndTypeIndex)
	if err != nil {
		return nil, in.throwable(th, excnames.BootstrapMethodError, err.Error())
	}

	if bsm.MethodHandleIndex < 1 || bsm.MethodHandleIndex >= len(cp.CpIndex) || cp.CpIndex[bsm.MethodHandleIndex].Tag != classfile.TagMethodHandle {
		return nil, in.throwable(th, excnames.BootstrapMethodError, "bootstrap method handle index is not a MethodHandle entry")
	}
	mh := cp.MethodHandles[cp.CpIndex[bsm.MethodHandleIndex].Slot]
	if mh.ReferenceKind != classfile.RefInvokeStatic {
		return nil, in.throwable(th, excnames.BootstrapMethodError, "only invokestatic bootstrap methods are supported")
	}
	bsmClass, bsmName, bsmDesc, err := cp.RefAt(mh.ReferenceIndex)
	if err != nil {
		return nil, in.throwable(th, excnames.BootstrapMethodError, err.Error())
	}
	bsmOwner, err := in.Loader.LoadClass(bsmClass)
	if err != nil {
		return nil, in.classError(th, err)
	}
	bsmMethod, ok := bsmOwner.MethodTable[bsmName+bsmDesc]
	if !ok {
		return nil, in.throwable(th, excnames.BootstrapMethodError, "bootstrap method not found: "+bsmClass+"."+bsmName+bsmDesc)
	}

	args := []interface{}{
		in.Heap.NewString(th.ID, []byte(invokedName)),
		in.Heap.NewString(th.ID, []byte(invokedDesc)),
	}
	for _, argIdx := range bsm.Arguments {
		v, err := in.staticArgValue(th, cp, argIdx)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	ret, err := in.Invoke(th, bsmMethod, args)
	if err != nil {
		return nil, err
	}
	retObj, ok := ret.(*object.Object)
	if !ok || retObj == nil {
		return nil, in.throwable(th, excnames.BootstrapMethodError, "bootstrap method did not return a call site object")
	}
	targetOwner := in.Loader.Lookup(retObj.ClassName)
	if targetOwner == nil {
		return nil, in.throwable(th, excnames.NoClassDefFoundError, retObj.ClassName)
	}
	target, err := in.Loader.FindMethod(targetOwner, invokedName, invokedDesc)
	if err != nil {
		return nil, in.classError(th, err)
	}

	cs := &classloader.DynamicCallSite{Target: target}
	if !target.IsStatic() {
		cs.Bound = retObj
	}
	return cs, nil
}

// staticArgValue resolves one of a bootstrap method's static
// arguments from the constant pool into a runtime value. MethodHandle
// and MethodType constants (used by real bootstraps like
// LambdaMetafactory to describe a captured signature) have no
// first-class runtime representation here and report
// BootstrapMethodError instead of silently mismatching.
func (in *Interpreter) staticArgValue(th *vmthread.Thread, cp *classfile.ConstantPool, idx int) (interface{}, error) {
	if idx < 1 || idx >= len(cp.CpIndex) {
		return nil, in.throwable(th, excnames.BootstrapMethodError, "bootstrap argument index out of range")
	}
	e := cp.CpIndex[idx]
	switch e.Tag {
	case classfile.TagString:
		s, err := cp.Utf8At(cp.StringRefs[e.Slot])
		if err != nil {
			return nil, in.throwable(th, excnames.BootstrapMethodError, err.Error())
		}
		return in.Heap.NewString(th.ID, []byte(s)), nil
	case classfile.TagInteger:
		return cp.IntConsts[e.Slot], nil
	case classfile.TagLong:
		return cp.LongConsts[e.Slot], nil
	case classfile.TagFloat:
		return cp.FloatConsts[e.Slot], nil
	case classfile.TagDouble:
		return cp.DoubleConsts[e.Slot], nil
	case classfile.TagClass:
		name, err := cp.ClassNameAt(idx)
		if err != nil {
			return nil, in.throwable(th, excnames.BootstrapMethodError, err.Error())
		}
		k, err := in.Loader.LoadClass(name)
		if err != nil {
			return nil, in.classError(th, err)
		}
		return in.Heap.Mirror(th.ID, k), nil
	default:
		return nil, in.throwable(th, excnames.BootstrapMethodError, "unsupported bootstrap argument constant")
	}
}
