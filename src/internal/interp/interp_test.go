/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package interp

import (
	"testing"

	"embervm/internal/classfile"
	"embervm/internal/classloader"
	"embervm/internal/excnames"
	"embervm/internal/heap"
	"embervm/internal/natives"
	"embervm/internal/object"
	"embervm/internal/opcodes"
	"embervm/internal/types"
	"embervm/internal/vmthread"
)

// codeBuilder assembles a method's bytecode with named branch targets,
// so a test can read as a sequence of instructions instead of hand
// computed offsets. Test-only scaffolding, not part of the VM itself.
type codeBuilder struct {
	buf     []byte
	labels  map[string]int
	fixups  []branchFixup
}

type branchFixup struct {
	at    int
	pos   int
	label string
}

func newCode() *codeBuilder { return &codeBuilder{labels: map[string]int{}} }

func (c *codeBuilder) mark(label string) *codeBuilder {
	c.labels[label] = len(c.buf)
	return c
}

func (c *codeBuilder) b(bytes ...byte) *codeBuilder {
	c.buf = append(c.buf, bytes...)
	return c
}

func (c *codeBuilder) branch(opcode byte, label string) *codeBuilder {
	at := len(c.buf)
	c.buf = append(c.buf, opcode, 0, 0)
	c.fixups = append(c.fixups, branchFixup{at: at, pos: at + 1, label: label})
	return c
}

func (c *codeBuilder) pos() int { return len(c.buf) }

func (c *codeBuilder) code() []byte {
	out := make([]byte, len(c.buf))
	copy(out, c.buf)
	for _, fx := range c.fixups {
		target, ok := c.labels[fx.label]
		if !ok {
			panic("interp test: undefined label " + fx.label)
		}
		off := int16(target - fx.at)
		out[fx.pos] = byte(off >> 8)
		out[fx.pos+1] = byte(off)
	}
	return out
}

// testOwner is a minimal, Loader-unregistered class good enough to own
// a test method: its zero-value Shape (ShapePrimitive) makes
// Loader.Initialize's superclass walk a no-op, so no real class file
// needs to back it.
func testOwner() *classloader.Klass {
	return &classloader.Klass{Name: "TestClass"}
}

func testMethod(code []byte, maxStack, maxLocals int, params []types.SlotType, ret types.SlotType) *classloader.Method {
	return &classloader.Method{
		Method: classfile.Method{
			Name:        "m",
			Descriptor:  "test",
			Code:        code,
			MaxStack:    maxStack,
			MaxLocals:   maxLocals,
			AccessFlags: classfile.AccStatic,
		},
		Owner:          testOwner(),
		ParamSlotTypes: params,
		ReturnSlotType: ret,
	}
}

func newTestInterpreter() (*Interpreter, *vmthread.Thread) {
	loader := classloader.NewLoader("test", "", classloader.NewClasspath(""))
	h := heap.New(loader)
	in := NewInterpreter(loader, h, natives.NewRegistry(), vmthread.NewRegistry(), nil)
	th := &vmthread.Thread{ID: 1, Holder: h.HolderFor(1)}
	return in, th
}

func TestSumLoopComputesExpectedTotal(t *testing.T) {
	c := newCode()
	c.b(opcodes.Iconst0).b(opcodes.Istore0) // i = 0
	c.b(opcodes.Iconst0).b(opcodes.Istore1) // sum = 0
	c.mark("loop")
	c.b(opcodes.Iload0)
	c.b(opcodes.Iconst5)
	c.branch(opcodes.IfIcmpge, "end")
	c.b(opcodes.Iload1)
	c.b(opcodes.Iload0)
	c.b(opcodes.Iadd)
	c.b(opcodes.Istore1)
	c.b(opcodes.Iinc, 0, 1)
	c.branch(opcodes.Goto, "loop")
	c.mark("end")
	c.b(opcodes.Iload1)
	c.b(opcodes.Ireturn)

	m := testMethod(c.code(), 3, 2, nil, types.INT)
	in, th := newTestInterpreter()

	ret, err := in.Invoke(th, m, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ret.(int32) != 10 {
		t.Errorf("expected sum 10, got %v", ret)
	}
}

func TestDupThenAddDoublesTheValue(t *testing.T) {
	c := newCode()
	c.b(opcodes.Iconst2)
	c.b(opcodes.Dup)
	c.b(opcodes.Iadd)
	c.b(opcodes.Ireturn)

	m := testMethod(c.code(), 2, 0, nil, types.INT)
	in, th := newTestInterpreter()

	ret, err := in.Invoke(th, m, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ret.(int32) != 4 {
		t.Errorf("expected 4, got %v", ret)
	}
}

func TestDup2DuplicatesWideValueAsOneUnit(t *testing.T) {
	c := newCode()
	c.b(opcodes.Lconst1)
	c.b(opcodes.Dup2)
	c.b(opcodes.Ladd)
	c.b(opcodes.Lreturn)

	m := testMethod(c.code(), 4, 0, nil, types.LONG)
	in, th := newTestInterpreter()

	ret, err := in.Invoke(th, m, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ret.(int64) != 2 {
		t.Errorf("expected 2, got %v", ret)
	}
}

func TestIntDivideByZeroThrowsUncaught(t *testing.T) {
	c := newCode()
	c.b(opcodes.Iconst1)
	c.b(opcodes.Iconst0)
	c.b(opcodes.Idiv)
	c.b(opcodes.Ireturn)

	m := testMethod(c.code(), 2, 0, nil, types.INT)
	in, th := newTestInterpreter()

	_, err := in.Invoke(th, m, nil)
	te, ok := err.(*ThrownException)
	if !ok {
		t.Fatalf("expected *ThrownException, got %T: %v", err, err)
	}
	if te.Obj.ClassName != excnames.ArithmeticException {
		t.Errorf("expected %s, got %s", excnames.ArithmeticException, te.Obj.ClassName)
	}
}

func TestIntDivideByZeroCaughtByHandler(t *testing.T) {
	c := newCode()
	c.mark("try")
	c.b(opcodes.Iconst1)
	c.b(opcodes.Iconst0)
	c.b(opcodes.Idiv)
	c.b(opcodes.Ireturn)
	c.mark("handler")
	c.b(opcodes.Pop)
	c.b(opcodes.Bipush, 99)
	c.b(opcodes.Ireturn)

	m := testMethod(c.code(), 2, 0, nil, types.INT)
	m.ExceptionTable = []classfile.ExceptionTableEntry{
		{StartPC: 0, EndPC: c.labels["handler"], HandlerPC: c.labels["handler"], CatchType: excnames.ArithmeticException},
	}
	in, th := newTestInterpreter()

	ret, err := in.Invoke(th, m, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ret.(int32) != 99 {
		t.Errorf("expected handler result 99, got %v", ret)
	}
}

func TestNewarrayStoreAndLoadRoundTrip(t *testing.T) {
	c := newCode()
	c.b(opcodes.Iconst5)
	c.b(opcodes.Newarray, 10) // T_INT
	c.b(opcodes.Astore0)
	c.b(opcodes.Aload0)
	c.b(opcodes.Iconst0)
	c.b(opcodes.Bipush, 42)
	c.b(opcodes.Iastore)
	c.b(opcodes.Aload0)
	c.b(opcodes.Iconst0)
	c.b(opcodes.Iaload)
	c.b(opcodes.Ireturn)

	m := testMethod(c.code(), 4, 1, nil, types.INT)
	in, th := newTestInterpreter()

	ret, err := in.Invoke(th, m, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ret.(int32) != 42 {
		t.Errorf("expected 42, got %v", ret)
	}
}

func TestArrayLoadOutOfBoundsThrows(t *testing.T) {
	c := newCode()
	c.b(opcodes.Iconst5)
	c.b(opcodes.Newarray, 10)
	c.b(opcodes.Astore0)
	c.b(opcodes.Aload0)
	c.b(opcodes.Bipush, 10)
	c.b(opcodes.Iaload)
	c.b(opcodes.Ireturn)

	m := testMethod(c.code(), 3, 1, nil, types.INT)
	in, th := newTestInterpreter()

	_, err := in.Invoke(th, m, nil)
	te, ok := err.(*ThrownException)
	if !ok {
		t.Fatalf("expected *ThrownException, got %T: %v", err, err)
	}
	if te.Obj.ClassName != excnames.ArrayIndexOutOfBoundsException {
		t.Errorf("expected %s, got %s", excnames.ArrayIndexOutOfBoundsException, te.Obj.ClassName)
	}
}

func TestMonitorEnterExitRoundTrip(t *testing.T) {
	c := newCode()
	c.b(opcodes.Aload0)
	c.b(opcodes.Monitorenter)
	c.b(opcodes.Aload0)
	c.b(opcodes.Monitorexit)
	c.b(opcodes.Iconst1)
	c.b(opcodes.Ireturn)

	m := testMethod(c.code(), 2, 1, []types.SlotType{types.REF}, types.INT)
	in, th := newTestInterpreter()

	obj := &object.Object{ClassName: "java/lang/Object"}
	ret, err := in.Invoke(th, m, []interface{}{obj})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ret.(int32) != 1 {
		t.Errorf("expected 1, got %v", ret)
	}
	if obj.HoldCount() != 0 {
		t.Errorf("expected monitor fully released, hold count %d", obj.HoldCount())
	}
}

func TestMonitorExitWithoutOwnershipThrows(t *testing.T) {
	c := newCode()
	c.b(opcodes.Aload0)
	c.b(opcodes.Monitorexit)
	c.b(opcodes.Iconst1)
	c.b(opcodes.Ireturn)

	m := testMethod(c.code(), 1, 1, []types.SlotType{types.REF}, types.INT)
	in, th := newTestInterpreter()

	obj := &object.Object{ClassName: "java/lang/Object"}
	_, err := in.Invoke(th, m, []interface{}{obj})
	te, ok := err.(*ThrownException)
	if !ok {
		t.Fatalf("expected *ThrownException, got %T: %v", err, err)
	}
	if te.Obj.ClassName != excnames.IllegalMonitorStateException {
		t.Errorf("expected %s, got %s", excnames.IllegalMonitorStateException, te.Obj.ClassName)
	}
}

func TestMonitorEnterOnNullThrowsNullPointerException(t *testing.T) {
	c := newCode()
	c.b(opcodes.AconstNull)
	c.b(opcodes.Monitorenter)
	c.b(opcodes.Iconst1)
	c.b(opcodes.Ireturn)

	m := testMethod(c.code(), 1, 0, nil, types.INT)
	in, th := newTestInterpreter()

	_, err := in.Invoke(th, m, nil)
	te, ok := err.(*ThrownException)
	if !ok {
		t.Fatalf("expected *ThrownException, got %T: %v", err, err)
	}
	if te.Obj.ClassName != excnames.NullPointerException {
		t.Errorf("expected %s, got %s", excnames.NullPointerException, te.Obj.ClassName)
	}
}

func TestIfAcmpComparesNullReferencesAsEqual(t *testing.T) {
	c := newCode()
	c.b(opcodes.AconstNull)
	c.b(opcodes.AconstNull)
	c.branch(opcodes.IfAcmpeq, "equal")
	c.b(opcodes.Iconst0)
	c.b(opcodes.Ireturn)
	c.mark("equal")
	c.b(opcodes.Iconst1)
	c.b(opcodes.Ireturn)

	m := testMethod(c.code(), 2, 0, nil, types.INT)
	in, th := newTestInterpreter()

	ret, err := in.Invoke(th, m, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ret.(int32) != 1 {
		t.Errorf("expected two null references to compare equal, got %v", ret)
	}
}
