/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package natives is the foreign-entry-points collaborator: a
// registry keyed by (owner, name, descriptor) and called with the
// current frame. The interpreter looks a method up here whenever it
// finds the ACC_NATIVE flag set instead of a Code attribute. Grounded
// in artipop-jacobin's gfunction package (native trampolines
// registered by class/method/descriptor), trimmed to the handful of
// platform methods needed to run anything at all.
package natives

import (
	"fmt"
	"sync"

	"embervm/internal/classloader"
	"embervm/internal/excnames"
	"embervm/internal/frame"
	"embervm/internal/heap"
	"embervm/internal/object"
	"embervm/internal/vmthread"
)

// Key identifies a native method by its owning class, name, and
// descriptor.
type Key struct {
	Owner, Name, Descriptor string
}

// Func is the shape every registered native body implements: given
// the calling frame (already popped of its own args into locals, the
// way an ordinary invocation would have been), the active thread, and
// the heap, it returns the method's result (nil for void) or an error
// representing a thrown Java exception.
type Func func(f *frame.Frame, th *vmthread.Thread, h *heap.Heap) (interface{}, error)

// Registry is the (owner, name, descriptor) -> Func table.
type Registry struct {
	mu    sync.RWMutex
	table map[Key]Func
}

// NewRegistry creates a registry pre-populated with the seed natives
// every bootstrap sequence needs: the unavoidable primitives the class
// library's object/thread/throwable plumbing calls into directly.
func NewRegistry() *Registry {
	r := &Registry{table: make(map[Key]Func)}
	r.registerSeed()
	return r
}

// Register installs or replaces the native body for a key.
func (r *Registry) Register(owner, name, desc string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[Key{owner, name, desc}] = fn
}

// Lookup finds a native body, returning ok=false if none is
// registered.
func (r *Registry) Lookup(owner, name, desc string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.table[Key{owner, name, desc}]
	if !ok && desc == "()V" && (name == "registerNatives" || name == "initIDs") {
		return func(*frame.Frame, *vmthread.Thread, *heap.Heap) (interface{}, error) { return nil, nil }, true
	}
	return fn, ok
}

// ErrUnsatisfiedLink is returned when the interpreter hits a native
// method with no registered body.
type ErrUnsatisfiedLink struct{ Owner, Name, Descriptor string }

func (e *ErrUnsatisfiedLink) Error() string {
	return fmt.Sprintf("%s: %s.%s%s", excnames.UnsatisfiedLinkError, e.Owner, e.Name, e.Descriptor)
}

func (r *Registry) registerSeed() {
	// registerNatives/initIDs are called by the platform class
	// library's static initialisers purely to wire up JNI-era
	// bookkeeping this VM doesn't have. They are registered here for the
	// core classes, and Lookup answers with a no-op for any other owner.
	noop := func(f *frame.Frame, th *vmthread.Thread, h *heap.Heap) (interface{}, error) { return nil, nil }
	for _, owner := range []string{"java/lang/Object", "java/lang/Thread", "java/lang/Class", "java/lang/System"} {
		r.Register(owner, "registerNatives", "()V", noop)
		r.Register(owner, "initIDs", "()V", noop)
	}
	r.Register("java/lang/System", "initPhase1", "()V", noop)

	r.Register("java/lang/Object", "hashCode", "()I", objectHashCode)
	r.Register("java/lang/Thread", "currentThread", "()Ljava/lang/Thread;", threadCurrentThread)
	r.Register("java/lang/Throwable", "fillInStackTrace", "(I)Ljava/lang/Throwable;", throwableFillInStackTrace)
}

func receiverOf(f *frame.Frame) *object.Object {
	if len(f.Locals) == 0 {
		return nil
	}
	obj, _ := f.Locals[0].(*object.Object)
	return obj
}

// ErrNullReceiver signals a native call dispatched on a null `this`,
// which ordinarily the interpreter's own invoke handler catches before
// ever reaching a native body; kept here only as a defensive fallback.
type ErrNullReceiver struct{}

func (ErrNullReceiver) Error() string { return excnames.NullPointerException }

func objectHashCode(f *frame.Frame, th *vmthread.Thread, h *heap.Heap) (interface{}, error) {
	recv := receiverOf(f)
	if recv == nil {
		return nil, ErrNullReceiver{}
	}
	return recv.IdentityHash(h.NextHash), nil
}

func threadCurrentThread(f *frame.Frame, th *vmthread.Thread, h *heap.Heap) (interface{}, error) {
	return th.Mirror, nil
}

func throwableFillInStackTrace(f *frame.Frame, th *vmthread.Thread, h *heap.Heap) (interface{}, error) {
	recv := receiverOf(f)
	return recv, nil
}

// RegisterClassAware lets the VM wiring layer add natives that need
// loader access (object.getClass must resolve the receiver's actual
// runtime class, not the declaring class) without this package
// importing classloader's full surface just for that one case.
func (r *Registry) RegisterClassAware(loader *classloader.Loader) {
	r.Register("java/lang/Object", "getClass", "()Ljava/lang/Class;",
		func(f *frame.Frame, th *vmthread.Thread, h *heap.Heap) (interface{}, error) {
			recv := receiverOf(f)
			if recv == nil {
				return nil, nil
			}
			k := loader.Lookup(recv.ClassName)
			if k == nil {
				return nil, &classloader.ErrNoClassDefFound{Name: recv.ClassName}
			}
			return h.Mirror(th.ID, k), nil
		})
}
