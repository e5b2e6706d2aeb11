/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

// Constant pool tag values, per the widely documented class-file
// format; the decoder reads each entry's payload verbatim.
const (
	TagUtf8              = 1
	TagInteger           = 3
	TagFloat             = 4
	TagLong              = 5
	TagDouble            = 6
	TagClass             = 7
	TagString            = 8
	TagFieldref          = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// CPEntry is one slot in the constant pool's master index: its tag and
// the slot number within the tag-specific sub-array (mirrors
// artipop-jacobin's classloader.go cpEntry{entryType, slot} shape,
// generalised from Go's unexported fields to an exported decoder type).
type CPEntry struct {
	Tag  byte
	Slot int
}

// FieldRefEntry / MethodRefEntry / InterfaceMethodRefEntry point (by CP
// index) to a class and a name-and-type.
type RefEntry struct {
	ClassIndex       int
	NameAndTypeIndex int
}

type NameAndTypeEntry struct {
	NameIndex int
	DescIndex int
}

type MethodHandleEntry struct {
	ReferenceKind  byte
	ReferenceIndex int
}

// Reference kinds a MethodHandle constant-pool entry may carry, per
// the class-file format. invokedynamic's bootstrap method handle must
// be RefInvokeStatic; the class-file format permits no other kind
// there.
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

type InvokeDynamicEntry struct {
	BootstrapMethodAttrIndex int
	NameAndTypeIndex         int
}

type DynamicEntry struct {
	BootstrapMethodAttrIndex int
	NameAndTypeIndex         int
}

// ConstantPool holds every tag-specific sub-array, in the same shape
// artipop-jacobin's CPool struct uses, plus the master CpIndex that
// maps a raw constant-pool index to (tag, slot).
type ConstantPool struct {
	CpIndex []CPEntry // index 0 is unused, per the class-file format

	Utf8Refs       []string
	ClassRefs      []int // index into Utf8Refs (by way of CpIndex) for the class name
	StringRefs     []int // index into Utf8Refs for the string's content
	IntConsts      []int32
	FloatConsts    []float32
	LongConsts     []int64
	DoubleConsts   []float64
	FieldRefs      []RefEntry
	MethodRefs     []RefEntry
	InterfaceRefs  []RefEntry
	NameAndTypes   []NameAndTypeEntry
	MethodHandles  []MethodHandleEntry
	MethodTypes    []int // index into Utf8Refs for the descriptor
	InvokeDynamics []InvokeDynamicEntry
	Dynamics       []DynamicEntry
}

func newConstantPool(count int) *ConstantPool {
	return &ConstantPool{
		CpIndex: make([]CPEntry, count),
	}
}

// Utf8At returns the UTF-8 string held at raw constant-pool index idx,
// or an error if idx doesn't point at a UTF8 entry. Used throughout
// the decoder and, later, by the class loader and interpreter for
// name/descriptor lookups.
func (cp *ConstantPool) Utf8At(idx int) (string, error) {
	if idx < 1 || idx >= len(cp.CpIndex) {
		return "", cfe("constant pool index out of range: %d", idx)
	}
	e := cp.CpIndex[idx]
	if e.Tag != TagUtf8 {
		return "", cfe("constant pool entry %d is not UTF8 (tag %d)", idx, e.Tag)
	}
	if e.Slot < 0 || e.Slot >= len(cp.Utf8Refs) {
		return "", cfe("invalid UTF8 slot %d for CP entry %d", e.Slot, idx)
	}
	return cp.Utf8Refs[e.Slot], nil
}

// ClassNameAt resolves a TagClass entry at idx to its internal class
// name (e.g. "java/lang/Object").
func (cp *ConstantPool) ClassNameAt(idx int) (string, error) {
	if idx < 1 || idx >= len(cp.CpIndex) {
		return "", cfe("constant pool index out of range: %d", idx)
	}
	e := cp.CpIndex[idx]
	if e.Tag != TagClass {
		return "", cfe("constant pool entry %d is not a class ref (tag %d)", idx, e.Tag)
	}
	if e.Slot < 0 || e.Slot >= len(cp.ClassRefs) {
		return "", cfe("invalid class-ref slot %d for CP entry %d", e.Slot, idx)
	}
	return cp.Utf8At(cp.ClassRefs[e.Slot])
}

// NameAndTypeAt resolves a TagNameAndType entry to its (name,
// descriptor) string pair.
func (cp *ConstantPool) NameAndTypeAt(idx int) (name, desc string, err error) {
	if idx < 1 || idx >= len(cp.CpIndex) {
		return "", "", cfe("constant pool index out of range: %d", idx)
	}
	e := cp.CpIndex[idx]
	if e.Tag != TagNameAndType {
		return "", "", cfe("constant pool entry %d is not NameAndType (tag %d)", idx, e.Tag)
	}
	nt := cp.NameAndTypes[e.Slot]
	name, err = cp.Utf8At(nt.NameIndex)
	if err != nil {
		return "", "", err
	}
	desc, err = cp.Utf8At(nt.DescIndex)
	if err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// RefAt resolves a field/method/interface-method ref entry to the
// owning class name, member name, and descriptor in one call, which is
// what every caller (the class loader's linker, the interpreter's
// getfield/invoke* handlers) actually wants.
func (cp *ConstantPool) RefAt(idx int) (class, name, desc string, err error) {
	if idx < 1 || idx >= len(cp.CpIndex) {
		return "", "", "", cfe("constant pool index out of range: %d", idx)
	}
	e := cp.CpIndex[idx]
	var ref RefEntry
	switch e.Tag {
	case TagFieldref:
		ref = cp.FieldRefs[e.Slot]
	case TagMethodref:
		ref = cp.MethodRefs[e.Slot]
	case TagInterfaceMethodref:
		ref = cp.InterfaceRefs[e.Slot]
	default:
		return "", "", "", cfe("constant pool entry %d is not a member ref (tag %d)", idx, e.Tag)
	}
	class, err = cp.ClassNameAt(ref.ClassIndex)
	if err != nil {
		return "", "", "", err
	}
	name, desc, err = cp.NameAndTypeAt(ref.NameAndTypeIndex)
	if err != nil {
		return "", "", "", err
	}
	return class, name, desc, nil
}
