/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package heap is the object manager: it allocates instances,
// mirrors, and arrays, computes each new instance's field layout from
// its loaded class (walking the superclass chain so inherited fields
// get slots too), and tracks every live allocation in a per-thread
// "oop holder" for the collector's sweep. Grounded in jacobin's
// jvm/instantiate.go (field-layout walk) and object/String.go
// (built-in string layout), generalised into its own package to keep
// the object manager a distinct component from both the class loader
// and the interpreter.
package heap

import (
	"sync"
	"sync/atomic"

	"embervm/internal/classloader"
	"embervm/internal/object"
	"embervm/internal/types"
)

// Holder is one thread's share of the heap for GC bookkeeping: every
// new allocation is appended to the oop holder of the allocating
// thread, so the collector can sweep each thread's slice independently.
type Holder struct {
	mutex     sync.Mutex
	Allocated []*object.Object
}

func (h *Holder) append(o *object.Object) {
	h.mutex.Lock()
	h.Allocated = append(h.Allocated, o)
	h.mutex.Unlock()
}

// Snapshot returns a copy of the holder's current allocation list, safe
// to iterate while new allocations race in on the mutator.
func (h *Holder) Snapshot() []*object.Object {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	out := make([]*object.Object, len(h.Allocated))
	copy(out, h.Allocated)
	return out
}

// Replace installs a new allocation list, used by the sweep to drop
// references to collected objects so they can themselves be reclaimed
// by the Go runtime's own GC.
func (h *Holder) Replace(kept []*object.Object) {
	h.mutex.Lock()
	h.Allocated = kept
	h.mutex.Unlock()
}

// Heap is the process-wide allocator and byte-threshold tracker: once
// live bytes cross a configured threshold, the GC driver issues a
// collection.
type Heap struct {
	Loader *classloader.Loader

	mutex       sync.RWMutex
	holders     map[int]*Holder
	bytesLive   int64
	hashCounter int32

	defaultHolder *Holder // bootstrap allocations before any thread is registered
}

// New creates a heap bound to a class loader.
func New(loader *classloader.Loader) *Heap {
	return &Heap{
		Loader:        loader,
		holders:       make(map[int]*Holder),
		defaultHolder: &Holder{},
	}
}

// HolderFor returns (creating if necessary) the oop holder for a
// thread ID.
func (h *Heap) HolderFor(threadID int) *Holder {
	if threadID == 0 {
		return h.defaultHolder
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if hd, ok := h.holders[threadID]; ok {
		return hd
	}
	hd := &Holder{}
	h.holders[threadID] = hd
	return hd
}

// Holders returns every registered holder plus the default one, the
// view the collector's mark/sweep passes need.
func (h *Heap) Holders() []*Holder {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	out := make([]*Holder, 0, len(h.holders)+1)
	out = append(out, h.defaultHolder)
	for _, hd := range h.holders {
		out = append(out, hd)
	}
	return out
}

// BytesLive reports the heap's running size estimate.
func (h *Heap) BytesLive() int64 { return atomic.LoadInt64(&h.bytesLive) }

// AddBytes adjusts the running size estimate; negative deltas are used
// by the sweep.
func (h *Heap) AddBytes(delta int64) { atomic.AddInt64(&h.bytesLive, delta) }

// approxSize is a crude per-shape byte estimate, good enough to drive
// a threshold check without pretending to match a real allocator's
// accounting.
func approxSize(o *object.Object) int64 {
	switch o.Shape {
	case types.ShapeObjectArray, types.ShapeTypeArray:
		return int64(24 + o.Len()*8)
	default:
		return int64(32 + len(o.Fields)*8)
	}
}

// ApproxSize exposes approxSize for internal/gc's sweep-time byte
// accounting, which needs to subtract a collected object's estimated
// footprint the same way AddBytes added it on allocation.
func ApproxSize(o *object.Object) int64 { return approxSize(o) }

// NextHash hands out process-unique identity-hash seeds for
// Object.hashCode's contract: stable and, in practice, distinct.
func (h *Heap) NextHash() int32 {
	return atomic.AddInt32(&h.hashCounter, 1)
}

// fieldSlotCount walks k and its superclass chain, returning the total
// instance-slot width an instance of k needs. Inherited fields keep
// the slot numbers the loader assigned when it linked each class, so
// this just finds the high-water mark.
func (h *Heap) fieldSlotCount(k *classloader.Klass) int {
	max := 0
	cur := k
	for cur != nil {
		for _, f := range cur.Fields {
			if f.IsStatic() {
				continue
			}
			end := f.SlotID + types.SlotWidth(f.SlotType)
			if end > max {
				max = end
			}
		}
		if cur.Superclass == "" {
			break
		}
		super := h.Loader.Lookup(cur.Superclass)
		if super == nil {
			break
		}
		cur = super
	}
	return max
}

// NewInstance allocates a zeroed instance of class k, with every
// declared field (including inherited ones) given its slot and
// default-zero value, recorded in threadID's oop holder.
func (h *Heap) NewInstance(threadID int, k *classloader.Klass) *object.Object {
	slots := h.fieldSlotCount(k)
	obj := object.NewInstance(k.Name, slots)
	h.HolderFor(threadID).append(obj)
	h.AddBytes(approxSize(obj))
	return obj
}

// NewObjectArray allocates a reference-typed array.
func (h *Heap) NewObjectArray(threadID int, componentClass string, length int) *object.Object {
	arr := object.NewObjectArray(componentClass, length)
	h.HolderFor(threadID).append(arr)
	h.AddBytes(approxSize(arr))
	return arr
}

// NewTypeArray allocates a primitive-typed array.
func (h *Heap) NewTypeArray(threadID int, arrayClassName string, elemType types.SlotType, length int) *object.Object {
	arr := object.NewTypeArray(arrayClassName, elemType, length)
	h.HolderFor(threadID).append(arr)
	h.AddBytes(approxSize(arr))
	return arr
}

// NewString allocates a java/lang/String instance whose content is
// content, using the built-in single-slot layout object.GoString/
// GoBytes expect. Interning, if desired, is the caller's job (the
// interpreter's ldc handler consults the loader's string pool first).
func (h *Heap) NewString(threadID int, content []byte) *object.Object {
	s := object.NewInstance("java/lang/String", 1)
	s.Fields[0] = content
	h.HolderFor(threadID).append(s)
	h.AddBytes(approxSize(s))
	return s
}

// Mirror returns the class's already-allocated mirror, allocating and
// publishing it on first use.
func (h *Heap) Mirror(threadID int, k *classloader.Klass) *object.Object {
	ref := k.MirrorOrSet(func() interface{} {
		m := object.NewMirror(k.Name)
		h.HolderFor(threadID).append(m)
		h.AddBytes(approxSize(m))
		return m
	})
	return ref.(*object.Object)
}
