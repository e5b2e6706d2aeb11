/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Decode turns a raw class-unit byte stream into a *ClassFile. This is
// component 2, grounded in and generalising jacobin's
// classloader/parserUtils.go (intFrom2Bytes/intFrom4Bytes/
// fetchUTF8string/fetchAttribute), which only handled a single method
// attribute's worth of bytes; here the same reader-forward style is
// extended across the whole class-unit layout (magic, versions,
// constant pool, access flags, this/super/interfaces, fields, methods,
// attributes).
package classfile

import (
	"math"

	"embervm/internal/bytereader"
)

const classMagic = 0xCAFEBABE

// Decode parses a complete class-unit byte stream.
func Decode(data []byte) (*ClassFile, error) {
	r := bytereader.New(data)

	magic, err := r.U4()
	if err != nil {
		return nil, Wrap(err, "reading magic")
	}
	if magic != classMagic {
		return nil, cfe("not a class file: bad magic 0x%08X", magic)
	}

	minor, err := r.U2()
	if err != nil {
		return nil, Wrap(err, "reading minor version")
	}
	major, err := r.U2()
	if err != nil {
		return nil, Wrap(err, "reading major version")
	}

	cp, err := decodeConstantPool(r)
	if err != nil {
		return nil, Wrap(err, "decoding constant pool")
	}

	cf := &ClassFile{
		MinorVersion: int(minor),
		MajorVersion: int(major),
		CP:           cp,
	}

	accessFlags, err := r.U2()
	if err != nil {
		return nil, Wrap(err, "reading access flags")
	}
	cf.AccessFlags = int(accessFlags)

	thisIdx, err := r.U2()
	if err != nil {
		return nil, Wrap(err, "reading this_class")
	}
	cf.ThisClass, err = cp.ClassNameAt(int(thisIdx))
	if err != nil {
		return nil, Wrap(err, "resolving this_class")
	}

	superIdx, err := r.U2()
	if err != nil {
		return nil, Wrap(err, "reading super_class")
	}
	if superIdx != 0 {
		cf.SuperClass, err = cp.ClassNameAt(int(superIdx))
		if err != nil {
			return nil, Wrap(err, "resolving super_class")
		}
	}

	ifaceCount, err := r.U2()
	if err != nil {
		return nil, Wrap(err, "reading interfaces_count")
	}
	for i := 0; i < int(ifaceCount); i++ {
		idx, err := r.U2()
		if err != nil {
			return nil, Wrap(err, "reading interface index %d", i)
		}
		name, err := cp.ClassNameAt(int(idx))
		if err != nil {
			return nil, Wrap(err, "resolving interface %d", i)
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}

	fieldCount, err := r.U2()
	if err != nil {
		return nil, Wrap(err, "reading fields_count")
	}
	for i := 0; i < int(fieldCount); i++ {
		f, err := decodeField(r, cp)
		if err != nil {
			return nil, Wrap(err, "decoding field %d", i)
		}
		cf.Fields = append(cf.Fields, *f)
	}

	methodCount, err := r.U2()
	if err != nil {
		return nil, Wrap(err, "reading methods_count")
	}
	for i := 0; i < int(methodCount); i++ {
		m, err := decodeMethod(r, cp)
		if err != nil {
			return nil, Wrap(err, "decoding method %d", i)
		}
		cf.Methods = append(cf.Methods, *m)
	}

	attrCount, err := r.U2()
	if err != nil {
		return nil, Wrap(err, "reading class attributes_count")
	}
	for i := 0; i < int(attrCount); i++ {
		a, err := decodeAttribute(r, cp)
		if err != nil {
			return nil, Wrap(err, "decoding class attribute %d", i)
		}
		switch a.Name {
		case "SourceFile":
			ar := bytereader.New(a.Data)
			idx, _ := ar.U2()
			cf.SourceFile, _ = cp.Utf8At(int(idx))
		case "BootstrapMethods":
			bsms, err := decodeBootstrapMethods(a.Data)
			if err != nil {
				return nil, Wrap(err, "decoding BootstrapMethods")
			}
			cf.Bootstraps = bsms
		case "Deprecated":
			cf.Deprecated = true
		}
		cf.Attributes = append(cf.Attributes, *a)
	}

	return cf, nil
}

func decodeConstantPool(r *bytereader.Reader) (*ConstantPool, error) {
	count, err := r.U2()
	if err != nil {
		return nil, Wrap(err, "reading constant_pool_count")
	}
	cp := newConstantPool(int(count))

	// Deferred resolution: several tags reference a UTF8/Class entry by
	// index before that entry may have been decoded (forward refs are
	// legal). We store raw indices in the tag-specific sub-arrays and
	// resolve them lazily via the Utf8At/ClassNameAt helpers, so no
	// second pass is required here.
	for i := 1; i < int(count); i++ {
		tag, err := r.U1()
		if err != nil {
			return nil, Wrap(err, "reading CP tag at entry %d", i)
		}
		switch tag {
		case TagUtf8:
			length, err := r.U2()
			if err != nil {
				return nil, err
			}
			b, err := r.Bytes(int(length))
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagUtf8, len(cp.Utf8Refs)}
			cp.Utf8Refs = append(cp.Utf8Refs, string(b))

		case TagInteger:
			v, err := r.U4()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagInteger, len(cp.IntConsts)}
			cp.IntConsts = append(cp.IntConsts, int32(v))

		case TagFloat:
			v, err := r.U4()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagFloat, len(cp.FloatConsts)}
			cp.FloatConsts = append(cp.FloatConsts, math.Float32frombits(v))

		case TagLong:
			v, err := r.U8()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagLong, len(cp.LongConsts)}
			cp.LongConsts = append(cp.LongConsts, int64(v))
			// Longs and doubles occupy two consecutive CP slots; the
			// second slot is unusable per the class-file format.
			i++

		case TagDouble:
			v, err := r.U8()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagDouble, len(cp.DoubleConsts)}
			cp.DoubleConsts = append(cp.DoubleConsts, math.Float64frombits(v))
			i++

		case TagClass:
			idx, err := r.U2()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagClass, len(cp.ClassRefs)}
			cp.ClassRefs = append(cp.ClassRefs, int(idx))

		case TagString:
			idx, err := r.U2()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagString, len(cp.StringRefs)}
			cp.StringRefs = append(cp.StringRefs, int(idx))

		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			classIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			ntIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			ref := RefEntry{ClassIndex: int(classIdx), NameAndTypeIndex: int(ntIdx)}
			switch tag {
			case TagFieldref:
				cp.CpIndex[i] = CPEntry{tag, len(cp.FieldRefs)}
				cp.FieldRefs = append(cp.FieldRefs, ref)
			case TagMethodref:
				cp.CpIndex[i] = CPEntry{tag, len(cp.MethodRefs)}
				cp.MethodRefs = append(cp.MethodRefs, ref)
			case TagInterfaceMethodref:
				cp.CpIndex[i] = CPEntry{tag, len(cp.InterfaceRefs)}
				cp.InterfaceRefs = append(cp.InterfaceRefs, ref)
			}

		case TagNameAndType:
			nameIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			descIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagNameAndType, len(cp.NameAndTypes)}
			cp.NameAndTypes = append(cp.NameAndTypes, NameAndTypeEntry{int(nameIdx), int(descIdx)})

		case TagMethodHandle:
			kind, err := r.U1()
			if err != nil {
				return nil, err
			}
			refIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagMethodHandle, len(cp.MethodHandles)}
			cp.MethodHandles = append(cp.MethodHandles, MethodHandleEntry{kind, int(refIdx)})

		case TagMethodType:
			descIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagMethodType, len(cp.MethodTypes)}
			cp.MethodTypes = append(cp.MethodTypes, int(descIdx))

		case TagDynamic:
			bsmIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			ntIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagDynamic, len(cp.Dynamics)}
			cp.Dynamics = append(cp.Dynamics, DynamicEntry{int(bsmIdx), int(ntIdx)})

		case TagInvokeDynamic:
			bsmIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			ntIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{TagInvokeDynamic, len(cp.InvokeDynamics)}
			cp.InvokeDynamics = append(cp.InvokeDynamics, InvokeDynamicEntry{int(bsmIdx), int(ntIdx)})

		case TagModule, TagPackage:
			// name index only; modules are out of this core's scope
			// (Non-goals: "module systems"), but we must still
			// consume the bytes to keep the cursor aligned.
			if _, err := r.U2(); err != nil {
				return nil, err
			}
			cp.CpIndex[i] = CPEntry{tag, 0}

		default:
			return nil, cfe("unknown constant pool tag %d at entry %d", tag, i)
		}
	}
	return cp, nil
}

func decodeField(r *bytereader.Reader, cp *ConstantPool) (*Field, error) {
	accessFlags, err := r.U2()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.U2()
	if err != nil {
		return nil, err
	}
	descIdx, err := r.U2()
	if err != nil {
		return nil, err
	}
	name, err := cp.Utf8At(int(nameIdx))
	if err != nil {
		return nil, Wrap(err, "field name")
	}
	desc, err := cp.Utf8At(int(descIdx))
	if err != nil {
		return nil, Wrap(err, "field descriptor")
	}

	f := &Field{
		AccessFlags: int(accessFlags),
		Name:        name,
		Descriptor:  desc,
		IsStatic:    int(accessFlags)&AccStatic != 0,
	}

	attrCount, err := r.U2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		a, err := decodeAttribute(r, cp)
		if err != nil {
			return nil, Wrap(err, "field attribute %d", i)
		}
		if a.Name == "ConstantValue" {
			ar := bytereader.New(a.Data)
			idx, _ := ar.U2()
			f.ConstantValue = resolveConstantValue(cp, int(idx))
		}
		f.Attributes = append(f.Attributes, *a)
	}
	return f, nil
}

func resolveConstantValue(cp *ConstantPool, idx int) interface{} {
	if idx < 1 || idx >= len(cp.CpIndex) {
		return nil
	}
	e := cp.CpIndex[idx]
	switch e.Tag {
	case TagInteger:
		return cp.IntConsts[e.Slot]
	case TagLong:
		return cp.LongConsts[e.Slot]
	case TagFloat:
		return cp.FloatConsts[e.Slot]
	case TagDouble:
		return cp.DoubleConsts[e.Slot]
	case TagString:
		s, _ := cp.Utf8At(cp.StringRefs[e.Slot])
		return s
	default:
		return nil
	}
}

func decodeMethod(r *bytereader.Reader, cp *ConstantPool) (*Method, error) {
	accessFlags, err := r.U2()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.U2()
	if err != nil {
		return nil, err
	}
	descIdx, err := r.U2()
	if err != nil {
		return nil, err
	}
	name, err := cp.Utf8At(int(nameIdx))
	if err != nil {
		return nil, Wrap(err, "method name")
	}
	desc, err := cp.Utf8At(int(descIdx))
	if err != nil {
		return nil, Wrap(err, "method descriptor")
	}

	m := &Method{
		AccessFlags: int(accessFlags),
		Name:        name,
		Descriptor:  desc,
	}

	attrCount, err := r.U2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		a, err := decodeAttribute(r, cp)
		if err != nil {
			return nil, Wrap(err, "method attribute %d", i)
		}
		switch a.Name {
		case "Code":
			if err := decodeCodeAttribute(a.Data, cp, m); err != nil {
				return nil, Wrap(err, "Code attribute")
			}
		case "Exceptions":
			ar := bytereader.New(a.Data)
			n, _ := ar.U2()
			for j := 0; j < int(n); j++ {
				idx, _ := ar.U2()
				name, err := cp.ClassNameAt(int(idx))
				if err != nil {
					return nil, Wrap(err, "Exceptions entry %d", j)
				}
				m.Exceptions = append(m.Exceptions, name)
			}
		case "Deprecated":
			m.Deprecated = true
		}
		m.Attributes = append(m.Attributes, *a)
	}
	return m, nil
}

// decodeCodeAttribute decodes a Code attribute's sub-structure
// (max_stack, max_locals, code[], exception_table[], and the
// LineNumberTable sub-attribute if present), generalising the
// jacobin's parseCodeAttribute fixture from methodParser_test.go to a
// real decoder rather than a hand-fed byte literal.
func decodeCodeAttribute(data []byte, cp *ConstantPool, m *Method) error {
	r := bytereader.New(data)
	maxStack, err := r.U2()
	if err != nil {
		return err
	}
	maxLocals, err := r.U2()
	if err != nil {
		return err
	}
	codeLen, err := r.U4()
	if err != nil {
		return err
	}
	code, err := r.Bytes(int(codeLen))
	if err != nil {
		return err
	}

	m.MaxStack = int(maxStack)
	m.MaxLocals = int(maxLocals)
	m.Code = append([]byte(nil), code...)

	excCount, err := r.U2()
	if err != nil {
		return err
	}
	for i := 0; i < int(excCount); i++ {
		startPC, err := r.U2()
		if err != nil {
			return err
		}
		endPC, err := r.U2()
		if err != nil {
			return err
		}
		handlerPC, err := r.U2()
		if err != nil {
			return err
		}
		catchIdx, err := r.U2()
		if err != nil {
			return err
		}
		entry := ExceptionTableEntry{StartPC: int(startPC), EndPC: int(endPC), HandlerPC: int(handlerPC)}
		if catchIdx != 0 {
			name, err := cp.ClassNameAt(int(catchIdx))
			if err != nil {
				return Wrap(err, "exception table entry %d catch_type", i)
			}
			entry.CatchType = name
		}
		m.ExceptionTable = append(m.ExceptionTable, entry)
	}

	subAttrCount, err := r.U2()
	if err != nil {
		return err
	}
	for i := 0; i < int(subAttrCount); i++ {
		a, err := decodeAttribute(r, cp)
		if err != nil {
			return Wrap(err, "Code sub-attribute %d", i)
		}
		if a.Name == "LineNumberTable" {
			lr := bytereader.New(a.Data)
			n, _ := lr.U2()
			for j := 0; j < int(n); j++ {
				startPC, _ := lr.U2()
				line, _ := lr.U2()
				m.LineNumbers = append(m.LineNumbers, LineNumberEntry{int(startPC), int(line)})
			}
		}
	}
	return nil
}

func decodeBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	r := bytereader.New(data)
	n, err := r.U2()
	if err != nil {
		return nil, err
	}
	out := make([]BootstrapMethod, 0, n)
	for i := 0; i < int(n); i++ {
		mhIdx, err := r.U2()
		if err != nil {
			return nil, err
		}
		argCount, err := r.U2()
		if err != nil {
			return nil, err
		}
		bsm := BootstrapMethod{MethodHandleIndex: int(mhIdx)}
		for j := 0; j < int(argCount); j++ {
			argIdx, err := r.U2()
			if err != nil {
				return nil, err
			}
			bsm.Arguments = append(bsm.Arguments, int(argIdx))
		}
		out = append(out, bsm)
	}
	return out, nil
}

// decodeAttribute reads one generic attribute_info block (name index,
// length, raw payload), the same shape jacobin's fetchAttribute
// handles for a single field attribute, generalised to any attribute
// owner (field, method, class, or Code).
func decodeAttribute(r *bytereader.Reader, cp *ConstantPool) (*Attribute, error) {
	nameIdx, err := r.U2()
	if err != nil {
		return nil, err
	}
	name, err := cp.Utf8At(int(nameIdx))
	if err != nil {
		return nil, Wrap(err, "attribute name")
	}
	length, err := r.U4()
	if err != nil {
		return nil, err
	}
	data, err := r.Bytes(int(length))
	if err != nil {
		return nil, err
	}
	return &Attribute{Name: name, Data: append([]byte(nil), data...)}, nil
}
