/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package natives

import (
	"testing"

	"embervm/internal/classfile"
	"embervm/internal/classloader"
	"embervm/internal/frame"
	"embervm/internal/heap"
	"embervm/internal/object"
	"embervm/internal/vmthread"
)

func newTestRig(t *testing.T) (*classloader.Loader, *heap.Heap, *vmthread.Registry) {
	t.Helper()
	dir := t.TempDir()
	loader := classloader.NewLoader("bootstrap", "", classloader.NewClasspath(dir))
	h := heap.New(loader)
	reg := vmthread.NewRegistry()
	return loader, h, reg
}

func TestLookupSeedNatives(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("java/lang/Object", "registerNatives", "()V"); !ok {
		t.Error("expected registerNatives to be registered")
	}
	if _, ok := r.Lookup("java/lang/Object", "initIDs", "()V"); !ok {
		t.Error("expected initIDs to be registered")
	}
	if _, ok := r.Lookup("java/lang/Thread", "initIDs", "()V"); !ok {
		t.Error("expected initIDs to be registered for every seeded owner")
	}
	if _, ok := r.Lookup("java/lang/Foo", "bar", "()V"); ok {
		t.Error("expected no entry for an unregistered key")
	}
}

func TestObjectHashCodeStable(t *testing.T) {
	r := NewRegistry()
	_, h, reg := newTestRig(t)
	th := reg.Spawn(h)

	m := &classloader.Method{Method: classfile.Method{MaxLocals: 1}}
	f := frame.New(m)
	f.Locals[0] = object.NewInstance("Foo", 0)

	fn, ok := r.Lookup("java/lang/Object", "hashCode", "()I")
	if !ok {
		t.Fatal("expected hashCode to be registered")
	}
	v1, err := fn(f, th, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := fn(f, th, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v1 != v2 {
		t.Errorf("expected stable hash code, got %v then %v", v1, v2)
	}
}

func TestRegisterClassAwareGetClass(t *testing.T) {
	loader, h, reg := newTestRig(t)
	th := reg.Spawn(h)
	r := NewRegistry()
	r.RegisterClassAware(loader)

	k := &classloader.Klass{Name: "Foo"}
	// k is never published, so the loader has no class named Foo.
	_ = k

	m := &classloader.Method{Method: classfile.Method{MaxLocals: 1}}
	f := frame.New(m)
	recv := object.NewInstance("java/lang/Object", 0)
	f.Locals[0] = recv

	fn, ok := r.Lookup("java/lang/Object", "getClass", "()Ljava/lang/Class;")
	if !ok {
		t.Fatal("expected getClass to be registered")
	}
	if _, err := fn(f, th, h); err == nil {
		t.Error("expected NoClassDefFound for a receiver whose class was never loaded")
	}
}
