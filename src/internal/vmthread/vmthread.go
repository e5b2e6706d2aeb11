/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package vmthread holds per-thread VM state plus the cooperative
// stop-the-world protocol: the collector sets a collect-requested
// flag, then each mutator thread checks this flag at safe points, and
// if set, flips its own stopForCollect bit and blocks on a condition
// variable until the collector clears the flag. Grounded in the
// jacobin's globals.go thread
// bookkeeping (Threads map) and jvm/run.go's per-thread frame stack,
// generalised into its own package so internal/gc can drive the pause
// protocol without reaching into the interpreter.
package vmthread

import (
	"sync"

	"embervm/internal/frame"
	"embervm/internal/heap"
	"embervm/internal/object"
	"embervm/internal/types"
)

// Thread is one VM thread of execution.
type Thread struct {
	ID     int
	Status types.ThreadStatus
	Top    *frame.Frame // top of the singly linked frame stack; nil when idle
	Holder *heap.Holder
	Mirror *object.Object

	// Thrown holds the exception currently propagating out of this
	// thread's frame stack, if any, so a concurrent collection cycle
	// can trace it as a root even though no frame on the stack still
	// references it on the operand stack.
	Thrown *object.Object

	stopForCollect bool
	inNative       bool
}

// StopForCollect reports whether the thread has reached a safepoint
// and parked for the collector.
func (t *Thread) StopForCollect() bool { return t.stopForCollect }

// InNativeCall reports whether the thread is currently inside a
// foreign (native) call and therefore cannot reach a safepoint: if any
// mutator is inside a native call, a requested collection is aborted.
func (t *Thread) InNativeCall() bool { return t.inNative }

// PushFrame installs f as the new top of the call stack.
func (t *Thread) PushFrame(f *frame.Frame) {
	f.Previous = t.Top
	t.Top = f
}

// PopFrame removes and returns the current top frame.
func (t *Thread) PopFrame() *frame.Frame {
	f := t.Top
	if f != nil {
		t.Top = f.Previous
	}
	return f
}

// Registry owns thread creation/lookup and the pause coordination
// every Safepoint call and the collector both touch.
type Registry struct {
	mu      sync.Mutex
	cond    *sync.Cond
	threads map[int]*Thread
	nextID  int

	collectRequested bool
}

// NewRegistry creates an empty thread registry.
func NewRegistry() *Registry {
	r := &Registry{threads: make(map[int]*Thread)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Spawn creates and registers a new thread, returning it in the NEW
// state. The caller is responsible for transitioning it to RUNNABLE
// once it begins executing.
func (r *Registry) Spawn(h *heap.Heap) *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t := &Thread{ID: r.nextID, Status: types.ThreadNew}
	t.Holder = h.HolderFor(t.ID)
	r.threads[t.ID] = t
	return t
}

// Remove drops a terminated thread from the registry.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, id)
}

// Snapshot returns every currently registered thread.
func (r *Registry) Snapshot() []*Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Thread, 0, len(r.threads))
	for _, t := range r.threads {
		out = append(out, t)
	}
	return out
}

// RequestCollect raises the markCollect flag every thread's next
// Safepoint call will observe.
func (r *Registry) RequestCollect() {
	r.mu.Lock()
	r.collectRequested = true
	r.mu.Unlock()
}

// ClearCollect lowers the markCollect flag and wakes every thread
// parked in Safepoint.
func (r *Registry) ClearCollect() {
	r.mu.Lock()
	r.collectRequested = false
	for _, t := range r.threads {
		t.stopForCollect = false
	}
	r.cond.Broadcast()
	r.mu.Unlock()
}

// CollectRequested reports the current markCollect flag.
func (r *Registry) CollectRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collectRequested
}

// AllStopped reports whether every registered thread other than the
// calling collector thread has either parked (stopForCollect) or
// terminated.
func (r *Registry) AllStopped(collectorID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.threads {
		if id == collectorID {
			continue
		}
		if t.Status == types.ThreadTerminated {
			continue
		}
		if !t.stopForCollect {
			return false
		}
	}
	return true
}

// AnyInNativeCall reports whether a mutator thread is currently
// uninterruptible inside a native call, which forces the
// collector to abort this cycle.
func (r *Registry) AnyInNativeCall(collectorID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.threads {
		if id == collectorID {
			continue
		}
		if t.inNative {
			return true
		}
	}
	return false
}

// EnterNative marks t as having entered a foreign call, exempting it
// from the safepoint protocol until ExitNative.
func (t *Thread) EnterNative() { t.inNative = true }

// ExitNative clears the native-call exemption.
func (t *Thread) ExitNative() { t.inNative = false }

// Safepoint is the mandatory check requires at every method
// entry: "method entry is the mandatory safe point". A thread that
// observes the markCollect flag parks until the collector clears it.
func (t *Thread) Safepoint(r *Registry) {
	r.mu.Lock()
	for r.collectRequested {
		t.stopForCollect = true
		r.cond.Wait()
	}
	r.mu.Unlock()
}
