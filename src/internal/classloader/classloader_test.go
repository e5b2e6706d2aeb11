/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classloader

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"embervm/internal/types"
)

// writeMinimalClass drops a tiny, well-formed class file named
// name+".class" into dir, extending java/lang/Object, with one static
// no-arg void method "m" whose body is a single return (0xB1).
func writeMinimalClass(t *testing.T, dir, name string, superName string) {
	t.Helper()
	var buf bytes.Buffer
	u1 := func(v byte) { buf.WriteByte(v) }
	u2 := func(v uint16) { binary.Write(&buf, binary.BigEndian, v) }
	u4 := func(v uint32) { binary.Write(&buf, binary.BigEndian, v) }
	utf8 := func(s string) { u1(1); u2(uint16(len(s))); buf.WriteString(s) }
	classRef := func(idx uint16) { u1(7); u2(idx) }

	u4(0xCAFEBABE)
	u2(0)
	u2(52)

	u2(8) // constant pool count
	utf8("Code")     // 1
	utf8("m")        // 2
	utf8("()V")      // 3
	utf8(name)       // 4
	classRef(4)      // 5
	utf8(superName)  // 6
	classRef(6)      // 7

	u2(0x0021) // access: public super
	u2(5)      // this_class
	u2(7)      // super_class
	u2(0)      // interfaces
	u2(0)      // fields

	u2(1) // methods
	u2(0x0009) // public static
	u2(2)
	u2(3)
	u2(1)
	u2(1) // attribute name: Code

	code := []byte{0xB1} // return
	var codeAttr bytes.Buffer
	binary.Write(&codeAttr, binary.BigEndian, uint16(1))
	binary.Write(&codeAttr, binary.BigEndian, uint16(1))
	binary.Write(&codeAttr, binary.BigEndian, uint32(len(code)))
	codeAttr.Write(code)
	binary.Write(&codeAttr, binary.BigEndian, uint16(0))
	binary.Write(&codeAttr, binary.BigEndian, uint16(0))
	u4(uint32(codeAttr.Len()))
	buf.Write(codeAttr.Bytes())

	u2(0) // class attributes

	if err := os.WriteFile(filepath.Join(dir, name+".class"), buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing fixture class: %v", err)
	}
}

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	dir := t.TempDir()
	return NewLoader("bootstrap", "", NewClasspath(dir)), dir
}

func TestLoadClassPublishesOnce(t *testing.T) {
	l, dir := newTestLoader(t)
	writeMinimalClass(t, dir, "Foo", "java/lang/Object")
	writeMinimalClass(t, dir, "java/lang/Object", "")

	k1, err := l.LoadClass("Foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := l.LoadClass("Foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1 != k2 {
		t.Error("expected second LoadClass to return the same published Klass")
	}
}

func TestLoadClassMissingReturnsClassNotFound(t *testing.T) {
	l, _ := newTestLoader(t)
	_, err := l.LoadClass("DoesNotExist")
	if _, ok := err.(*ErrClassNotFound); !ok {
		t.Fatalf("expected ErrClassNotFound, got %v (%T)", err, err)
	}
}

func TestLoadArrayClassOfPrimitive(t *testing.T) {
	l, _ := newTestLoader(t)
	k, err := l.LoadClass("[I")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.Shape != types.ShapeTypeArray {
		t.Errorf("expected ShapeTypeArray, got %v", k.Shape)
	}
	if k.ElementType != types.INT {
		t.Errorf("expected element type INT, got %v", k.ElementType)
	}
}

func TestLoadArrayClassOfObjectsLoadsComponent(t *testing.T) {
	l, dir := newTestLoader(t)
	writeMinimalClass(t, dir, "Foo", "java/lang/Object")
	writeMinimalClass(t, dir, "java/lang/Object", "")

	k, err := l.LoadClass("[LFoo;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.Shape != types.ShapeObjectArray || k.ComponentClass != "Foo" {
		t.Errorf("unexpected array class: shape=%v component=%q", k.Shape, k.ComponentClass)
	}
	if l.Lookup("Foo") == nil {
		t.Error("expected component class Foo to be loaded as a side effect")
	}
}

func TestInitializeRunsSuperclassFirstThenSelf(t *testing.T) {
	l, dir := newTestLoader(t)
	writeMinimalClass(t, dir, "Child", "Parent")
	writeMinimalClass(t, dir, "Parent", "java/lang/Object")
	writeMinimalClass(t, dir, "java/lang/Object", "")

	child, err := l.LoadClass("Child")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var order []string
	run := func(k *Klass) error {
		order = append(order, k.Name)
		return nil
	}

	if err := l.Initialize(child, 1, run); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}
	if len(order) != 3 || order[0] != "java/lang/Object" || order[1] != "Parent" || order[2] != "Child" {
		t.Errorf("unexpected init order: %v", order)
	}
	if child.InitState != types.Initialised {
		t.Errorf("expected child Initialised, got %v", child.InitState)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	l, dir := newTestLoader(t)
	writeMinimalClass(t, dir, "Foo", "java/lang/Object")
	writeMinimalClass(t, dir, "java/lang/Object", "")
	k, _ := l.LoadClass("Foo")

	calls := 0
	run := func(*Klass) error { calls++; return nil }

	_ = l.Initialize(k, 1, run)
	_ = l.Initialize(k, 1, run)
	_ = l.Initialize(k, 2, run)

	if calls != 2 { // once for Foo, once for java/lang/Object, on the first call only
		t.Errorf("expected exactly 2 clinit runs total, got %d", calls)
	}
}

func TestInitializeReentrantFromSameThread(t *testing.T) {
	l, dir := newTestLoader(t)
	writeMinimalClass(t, dir, "Foo", "java/lang/Object")
	writeMinimalClass(t, dir, "java/lang/Object", "")
	k, _ := l.LoadClass("Foo")

	var reentered bool
	run := func(self *Klass) error {
		if self.Name == "Foo" {
			// simulate <clinit> referencing its own class mid-init
			reentered = l.Initialize(k, 1, nil) == nil
		}
		return nil
	}
	if err := l.Initialize(k, 1, run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reentered {
		t.Error("expected re-entrant Initialize from the owning thread to succeed")
	}
}

func TestInitializeErrorIsSticky(t *testing.T) {
	l, dir := newTestLoader(t)
	writeMinimalClass(t, dir, "Foo", "java/lang/Object")
	writeMinimalClass(t, dir, "java/lang/Object", "")
	k, _ := l.LoadClass("Foo")

	boom := errTest("boom")
	run := func(self *Klass) error {
		if self.Name == "Foo" {
			return boom
		}
		return nil
	}
	if err := l.Initialize(k, 1, run); err != boom {
		t.Fatalf("expected boom error, got %v", err)
	}
	if k.InitState != types.Errored {
		t.Fatalf("expected Errored state, got %v", k.InitState)
	}
	if err := l.Initialize(k, 2, run); err == nil {
		t.Fatal("expected NoClassDefFound on subsequent init of an errored class")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestFindMethodResolvesDeclaredMethod(t *testing.T) {
	l, dir := newTestLoader(t)
	writeMinimalClass(t, dir, "Foo", "java/lang/Object")
	writeMinimalClass(t, dir, "java/lang/Object", "")
	k, _ := l.LoadClass("Foo")

	// Foo's own CP has a method ref at... it doesn't directly, so
	// exercise FindMethod instead, which LinkRef builds on.
	m, err := l.FindMethod(k, "m", "()V")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name != "m" {
		t.Errorf("expected method m, got %s", m.Name)
	}
}
