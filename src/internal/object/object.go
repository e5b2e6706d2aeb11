/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package object defines the heap's value shapes and the per-object
// monitor every synchronized method and monitorenter/monitorexit pair
// locks. Grounded in jacobin's object/String.go (Object{Klass,
// Fields}) and artipop-jacobin's javaByteArray.go (byte-array/string
// conversion helpers), generalised so this package carries no
// dependency on internal/classloader: an instance's back-pointer to
// its class is a lookup key, not an owning edge, so Object stores
// that key as a plain string rather than a class pointer.
package object

import (
	"sync"

	"embervm/internal/excnames"
	"embervm/internal/types"
)

// MarkBits holds the bookkeeping the mark-sweep collector and the
// identity-hash/finalizer protocol need per object.
type MarkBits struct {
	Marked    bool
	Finalized bool
	Hash      int32
}

// Object is every heap value: an instance, an object array, a
// primitive-typed array, or a class mirror (itself an Instance of
// java/lang/Class carrying an extra Represents back-reference), kept
// as a tagged sum dispatched on Shape rather than ad hoc type
// assertions.
type Object struct {
	mu sync.Mutex

	ClassName string // lookup key into the class loader; never an owning reference
	Shape     types.ClassShape

	// ---- Instance shape ----
	Fields []interface{} // indexed by classloader.Field.SlotID

	// ---- ObjectArray / TypeArray shape ----
	Elements       []interface{}
	ElementType    types.SlotType
	ComponentClass string // for ObjectArray: component class name

	// ---- Mirror extension ----
	// Represents is non-empty exactly when ClassName == "java/lang/Class":
	// the name of the class this mirror stands for (root (a)).
	Represents string

	Mark MarkBits

	monitorOwner int
	monitorDepth int
	waitCond     *sync.Cond
}

// NewInstance allocates a zeroed instance with slotCount field slots.
func NewInstance(className string, slotCount int) *Object {
	return &Object{
		ClassName: className,
		Shape:     types.ShapeInstance,
		Fields:    make([]interface{}, slotCount),
	}
}

// NewObjectArray allocates a reference-typed array of the given
// length, every element initialised to nil (the JVM's null default).
func NewObjectArray(componentClass string, length int) *Object {
	return &Object{
		ClassName:      "[L" + componentClass + ";",
		Shape:          types.ShapeObjectArray,
		ComponentClass: componentClass,
		ElementType:    types.REF,
		Elements:       make([]interface{}, length),
	}
}

// NewTypeArray allocates a primitive-typed array of the given length,
// every element zero-valued for elemType.
func NewTypeArray(arrayClassName string, elemType types.SlotType, length int) *Object {
	elems := make([]interface{}, length)
	zero := zeroValue(elemType)
	for i := range elems {
		elems[i] = zero
	}
	return &Object{
		ClassName:   arrayClassName,
		Shape:       types.ShapeTypeArray,
		ElementType: elemType,
		Elements:    elems,
	}
}

// NewMirror allocates a java/lang/Class instance representing
// represents.
func NewMirror(represents string) *Object {
	return &Object{
		ClassName:  "java/lang/Class",
		Shape:      types.ShapeInstance,
		Represents: represents,
	}
}

func zeroValue(t types.SlotType) interface{} {
	switch t {
	case types.INT:
		return int32(0)
	case types.LONG:
		return int64(0)
	case types.FLOAT:
		return float32(0)
	case types.DOUBLE:
		return float64(0)
	default:
		return nil
	}
}

// Len returns the element count of an array object.
func (o *Object) Len() int { return len(o.Elements) }

// ArrayIndexError is returned by At/SetAt on an out-of-bounds index
//.
type ArrayIndexError struct {
	Index, Length int
}

func (e *ArrayIndexError) Error() string { return excnames.ArrayIndexOutOfBoundsException }

// At returns element i of an array object, bounds-checked.
func (o *Object) At(i int) (interface{}, error) {
	if i < 0 || i >= len(o.Elements) {
		return nil, &ArrayIndexError{Index: i, Length: len(o.Elements)}
	}
	return o.Elements[i], nil
}

// SetAt stores v at element i of an array object, bounds-checked.
func (o *Object) SetAt(i int, v interface{}) error {
	if i < 0 || i >= len(o.Elements) {
		return &ArrayIndexError{Index: i, Length: len(o.Elements)}
	}
	o.Elements[i] = v
	return nil
}

// MonitorEnter acquires the object's intrinsic lock, reentrant for the
// same owning thread ID. threadID 0 must never
// be used as a real thread ID.
func (o *Object) MonitorEnter(threadID int) {
	o.mu.Lock()
	if o.waitCond == nil {
		o.waitCond = sync.NewCond(&o.mu)
	}
	for o.monitorOwner != 0 && o.monitorOwner != threadID {
		o.waitCond.Wait()
	}
	o.monitorOwner = threadID
	o.monitorDepth++
	o.mu.Unlock()
}

// ErrNotMonitorOwner is returned by MonitorExit when the calling
// thread does not hold the monitor.
type ErrNotMonitorOwner struct{ ThreadID int }

func (e *ErrNotMonitorOwner) Error() string { return "thread does not own monitor" }

// MonitorExit releases one level of the object's intrinsic lock.
func (o *Object) MonitorExit(threadID int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.monitorOwner != threadID {
		return &ErrNotMonitorOwner{ThreadID: threadID}
	}
	o.monitorDepth--
	if o.monitorDepth == 0 {
		o.monitorOwner = 0
		o.waitCond.Signal()
	}
	return nil
}

// HoldCount reports the calling code's diagnostic view of how deeply
// the monitor is held (used by tests only; real callers track this
// through their own call/return discipline).
func (o *Object) HoldCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.monitorDepth
}

// IdentityHash lazily computes and caches an identity hash the first
// time it's asked for, imitating Object.hashCode()'s "stable for the
// object's lifetime" contract without requiring every allocation to
// pay the cost.
func (o *Object) IdentityHash(seed func() int32) int32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Mark.Hash == 0 {
		o.Mark.Hash = seed()
	}
	return o.Mark.Hash
}

// GoBytes extracts a Java string instance's backing byte content,
// assuming the heap's string layout convention of storing it at field
// slot 0. Returns nil for anything else.
func GoBytes(s *Object) []byte {
	if s == nil || s.ClassName != "java/lang/String" || len(s.Fields) == 0 {
		return nil
	}
	b, _ := s.Fields[0].([]byte)
	return b
}

// GoString is the convenience accessor for reading a Java string
// instance as a Go string.
func GoString(s *Object) string {
	return string(GoBytes(s))
}
