/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package interp

import (
	"github.com/pkg/errors"

	"embervm/internal/classfile"
	"embervm/internal/frame"
	"embervm/internal/stringpool"
	"embervm/internal/types"
	"embervm/internal/vmthread"
)

// pushConstant implements ldc/ldc_w/ldc2_w: all three only differ in
// operand width, already consumed by the caller, so one resolver
// serves all three against whichever constant-pool tag idx names.
func (in *Interpreter) pushConstant(f *frame.Frame, th *vmthread.Thread, cp *classfile.ConstantPool, idx int) error {
	if idx < 1 || idx >= len(cp.CpIndex) {
		return errors.Errorf("ldc: constant pool index %d out of range", idx)
	}
	e := cp.CpIndex[idx]
	switch e.Tag {
	case classfile.TagInteger:
		f.Push(cp.IntConsts[e.Slot], types.INT)
	case classfile.TagFloat:
		f.Push(cp.FloatConsts[e.Slot], types.FLOAT)
	case classfile.TagLong:
		f.Push(cp.LongConsts[e.Slot], types.LONG)
	case classfile.TagDouble:
		f.Push(cp.DoubleConsts[e.Slot], types.DOUBLE)
	case classfile.TagString:
		s, err := cp.Utf8At(cp.StringRefs[e.Slot])
		if err != nil {
			return err
		}
		ref := in.Loader.Strings.GetOrCreate(s, func() stringpool.ObjectRef {
			return in.Heap.NewString(th.ID, []byte(s))
		})
		f.Push(ref, types.REF)
	case classfile.TagClass:
		name, err := cp.ClassNameAt(idx)
		if err != nil {
			return err
		}
		k, err := in.Loader.LoadClass(name)
		if err != nil {
			return in.classError(th, err)
		}
		f.Push(in.Heap.Mirror(th.ID, k), types.REF)
	default:
		return errors.Errorf("ldc: unsupported constant pool tag %d at index %d", e.Tag, idx)
	}
	return nil
}
