/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package interp is the tree-walking bytecode interpreter: it resolves
// a method's invocation to either its native handler, its JIT-compiled
// handler, or a fresh frame walked opcode by opcode, and it is the
// Invoke entry point both invokestatic-family opcodes and the VM's own
// bootstrap call back into. Grounded in jacobin's jvm/run.go (the
// dispatch loop and invocation plumbing) and jvm/runJava.go (the
// native/compiled/interpreted method split), generalized around this
// module's typed-slot frame and its Go-error exception model instead
// of jacobin's uniform int64 stack and global-exit-on-uncaught-throw
// behavior.
package interp

import (
	"sync"
	"sync/atomic"

	"embervm/internal/classloader"
	"embervm/internal/frame"
	"embervm/internal/heap"
	"embervm/internal/jit"
	"embervm/internal/natives"
	"embervm/internal/types"
	"embervm/internal/vmthread"
)

// Interpreter owns every subsystem a running method needs to reach:
// the class loader for resolution, the heap for allocation, the
// native registry for JNI-style calls, the thread registry for
// safepoints, and an optional JIT backend for hot methods.
type Interpreter struct {
	Loader  *classloader.Loader
	Heap    *heap.Heap
	Natives *natives.Registry
	Threads *vmthread.Registry

	Backend      jit.Assembler
	JITThreshold uint64
	Trace        bool

	noJITMu sync.Mutex
	noJIT   map[*classloader.Method]bool
}

// NewInterpreter wires the four subsystems together. Backend may be
// nil, which disables JIT compilation entirely and runs every method
// tree-walked.
func NewInterpreter(loader *classloader.Loader, h *heap.Heap, nat *natives.Registry, threads *vmthread.Registry, backend jit.Assembler) *Interpreter {
	return &Interpreter{
		Loader:       loader,
		Heap:         h,
		Natives:      nat,
		Threads:      threads,
		Backend:      backend,
		JITThreshold: 1500,
		noJIT:        make(map[*classloader.Method]bool),
	}
}

// clinitFor returns the callback classloader.Loader.Initialize runs to
// execute a class's static initializer, re-entering the interpreter on
// thread th.
func (in *Interpreter) clinitFor(th *vmthread.Thread) func(*classloader.Klass) error {
	return func(k *classloader.Klass) error {
		m, ok := k.MethodTable["<clinit>()V"]
		if !ok {
			return nil
		}
		_, err := in.Invoke(th, m, nil)
		return err
	}
}

// ensureInitialized runs k's class initializer if it hasn't already,
// mapping any failure into a catchable exception.
func (in *Interpreter) ensureInitialized(th *vmthread.Thread, k *classloader.Klass) error {
	if err := in.Loader.Initialize(k, th.ID, in.clinitFor(th)); err != nil {
		return in.classError(th, err)
	}
	return nil
}

// isAssignable reports whether an object of class sub may be used
// where super is expected: identity, Throwable/Object as a universal
// supertype, or a walk up sub's loaded superclass chain and declared
// interfaces. A class absent from the loader's table (a built-in
// exception fabricated without a real class file behind it) is only
// ever assignable to itself, Throwable, or Object, which is enough to
// make catch(SomeBuiltinException) and catch(Throwable) both behave
// correctly without a full descriptor-based type lattice.
func (in *Interpreter) isAssignable(sub, super string) bool {
	if sub == super {
		return true
	}
	switch super {
	case "java/lang/Throwable", "java/lang/Object":
		return true
	}
	k := in.Loader.Lookup(sub)
	for k != nil {
		if k.Name == super {
			return true
		}
		for _, ifc := range k.Interfaces {
			if ifc == super {
				return true
			}
		}
		if k.Superclass == "" {
			break
		}
		next, err := in.Loader.LoadClass(k.Superclass)
		if err != nil {
			break
		}
		k = next
	}
	return false
}

// Invoke runs method m on thread th with args holding one entry per
// logical parameter (plus the receiver first, for an instance method).
// It dispatches, in order, to m's native handler, its JIT-compiled
// handler if one exists (falling back to tree-walking on a miss), or a
// freshly built frame.
func (in *Interpreter) Invoke(th *vmthread.Thread, m *classloader.Method, args []interface{}) (interface{}, error) {
	if err := in.ensureInitialized(th, m.Owner); err != nil {
		return nil, err
	}

	if m.IsNative() {
		return in.invokeNative(th, m, args)
	}

	atomic.AddUint64(&m.InvocationCount, 1)
	if compiled := in.tryJIT(m); compiled != nil {
		return in.invokeCompiled(th, m, compiled, args)
	}

	return in.invokeInterpreted(th, m, args)
}

// bindArgs places args (one entry per logical parameter) into f's
// physical local slots, accounting for wide parameters occupying two
// slots.
func bindArgs(f *frame.Frame, m *classloader.Method, args []interface{}) {
	slot := 0
	argIdx := 0
	if !m.IsStatic() {
		f.SetLocal(slot, args[argIdx], types.REF)
		slot++
		argIdx++
	}
	for _, t := range m.ParamSlotTypes {
		f.SetLocal(slot, args[argIdx], t)
		slot += types.SlotWidth(t)
		argIdx++
	}
}

func (in *Interpreter) invokeInterpreted(th *vmthread.Thread, m *classloader.Method, args []interface{}) (interface{}, error) {
	f := frame.New(m)
	f.Thread = th
	bindArgs(f, m, args)

	th.PushFrame(f)
	defer th.PopFrame()
	th.Safepoint(in.Threads)

	ret, err := in.runFrame(th, f)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (in *Interpreter) invokeNative(th *vmthread.Thread, m *classloader.Method, args []interface{}) (interface{}, error) {
	fn, ok := in.Natives.Lookup(m.Owner.Name, m.Name, m.Descriptor)
	if !ok {
		return nil, &natives.ErrUnsatisfiedLink{Owner: m.Owner.Name, Name: m.Name, Descriptor: m.Descriptor}
	}

	f := frame.New(m)
	bindArgs(f, m, args)

	th.EnterNative()
	defer th.ExitNative()

	return fn(f, th, in.Heap)
}
