/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package vm wires every subsystem together into a runnable virtual
// machine: the class loader, heap, native registry, thread registry,
// interpreter, and collector. It is the home of the entry-point flow
// the teacher's exec/run.go and jvm/run.go both sketch in their own
// ways: resolve the starting class's main method, build its String[]
// argument array, spawn the main thread, invoke, and report an
// uncaught exception the way a real launcher would before exiting.
package vm

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"embervm/internal/classloader"
	"embervm/internal/gc"
	"embervm/internal/heap"
	"embervm/internal/interp"
	"embervm/internal/jit"
	"embervm/internal/jit/asmgo"
	"embervm/internal/natives"
	"embervm/internal/object"
	"embervm/internal/types"
	"embervm/internal/vmthread"
	"embervm/log"
)

// Config carries the handful of knobs cmd/embervm's flags populate.
type Config struct {
	Classpath    string
	Trace        bool
	DisableJIT   bool
	JITThreshold uint64
	GCByteLimit  int64
}

// VM owns the fully wired subsystem graph for one run.
type VM struct {
	Loader  *classloader.Loader
	Heap    *heap.Heap
	Natives *natives.Registry
	Threads *vmthread.Registry
	Interp  *interp.Interpreter
	GC      *gc.Collector
}

// New builds a VM from cfg, wiring natives' class-aware entries and
// the collector's finalizer callback back into the interpreter.
func New(cfg Config) *VM {
	log.Init()

	loader := classloader.NewLoader("app", "", classloader.NewClasspath(cfg.Classpath))
	h := heap.New(loader)
	nat := natives.NewRegistry()
	nat.RegisterClassAware(loader)
	threads := vmthread.NewRegistry()

	var backend jit.Assembler
	if !cfg.DisableJIT {
		if b, err := tryBackend(); err == nil {
			backend = b
		} else {
			_ = log.Log("JIT backend unavailable, running interpreted only: "+err.Error(), log.INFO)
		}
	}

	in := interp.NewInterpreter(loader, h, nat, threads, backend)
	in.Trace = cfg.Trace
	if cfg.JITThreshold > 0 {
		in.JITThreshold = cfg.JITThreshold
	}

	finalizerThread := threads.Spawn(h)
	collector := gc.New(h, loader, threads, func(obj *object.Object) error {
		return runFinalize(in, finalizerThread, obj)
	})
	collector.CollectorID = finalizerThread.ID
	if cfg.GCByteLimit > 0 {
		collector.ByteThreshold = cfg.GCByteLimit
	}

	return &VM{Loader: loader, Heap: h, Natives: nat, Threads: threads, Interp: in, GC: collector}
}

// tryBackend asks asmgo for its golang-asm backend (which maps a fixed
// stub and runs compiled programs through the IR interpreter); callers fall
// back to the interpreter-only path (backend == nil, which
// Interpreter treats as "never JIT") on any error, including the
// backend reporting its platform/arch isn't supported.
func tryBackend() (jit.Assembler, error) {
	b, err := asmgo.New()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// runFinalize invokes obj's finalize()V override through the ordinary
// interpreter entry point, on the dedicated finalizer thread so a
// finalizer that itself allocates or blocks cannot stall a mutator.
func runFinalize(in *interp.Interpreter, th *vmthread.Thread, obj *object.Object) error {
	k := in.Loader.Lookup(obj.ClassName)
	if k == nil {
		return nil
	}
	m, err := in.Loader.FindMethod(k, "finalize", "()V")
	if err != nil {
		return nil
	}
	_, err = in.Invoke(th, m, []interface{}{obj})
	return err
}

// ErrNoMain reports that the requested entry class has no
// main(String[]) method.
type ErrNoMain struct{ Class string }

func (e *ErrNoMain) Error() string { return "no main method found in class " + e.Class }

// Run loads className, resolves its main(String[]) method, builds the
// argument array, and invokes it on a fresh main thread. The
// collector's polling driver and the finalizer daemon both run for the
// duration of the call, joined via errgroup alongside the main
// thread's own invocation so a VM-fatal error on any of the three
// tears down the others.
func (v *VM) Run(ctx context.Context, className string, args []string) error {
	k, err := v.Loader.LoadClass(className)
	if err != nil {
		return err
	}
	m, ok := k.MethodTable["main([Ljava/lang/String;)V"]
	if !ok {
		return &ErrNoMain{Class: className}
	}

	mainThread := v.Threads.Spawn(v.Heap)

	g, gctx := errgroup.WithContext(ctx)
	stopGC := v.GC.Run(gctx)
	defer stopGC()

	finalizerStop := make(chan struct{})
	g.Go(func() error {
		runFinalizerDaemon(v.GC, finalizerStop)
		return nil
	})

	g.Go(func() error {
		defer close(finalizerStop)
		mainThread.Status = types.ThreadRunnable
		_, invokeErr := v.Interp.Invoke(mainThread, m, []interface{}{v.stringArray(mainThread.ID, args)})
		mainThread.Status = types.ThreadTerminated
		return v.reportUncaught(invokeErr)
	})

	return g.Wait()
}

// runFinalizerDaemon drives the collector's finalizer queue until
// stop is closed, blocking on a select over stop and the queue so an
// idle daemon exits as soon as stop closes.
func runFinalizerDaemon(c *gc.Collector, stop <-chan struct{}) {
	c.FinalizerLoop(stop)
}

// stringArray builds a Java String[] from plain Go strings, the shape
// main(String[]) expects as its sole parameter.
func (v *VM) stringArray(threadID int, args []string) *object.Object {
	arr := v.Heap.NewObjectArray(threadID, "java/lang/String", len(args))
	for i, a := range args {
		_ = arr.SetAt(i, v.Heap.NewString(threadID, []byte(a)))
	}
	return arr
}

// reportUncaught prints an uncaught exception's class and message to
// stderr the way a real launcher reports an escaping Throwable from
// main, then returns it unwrapped so the caller's process exit code
// can reflect failure.
func (v *VM) reportUncaught(err error) error {
	if err == nil {
		return nil
	}
	te, ok := err.(*interp.ThrownException)
	if !ok {
		return err
	}
	msg := "Exception in thread \"main\" " + te.Obj.ClassName
	if m := v.uncaughtMessage(te.Obj); m != "" {
		msg += ": " + m
	}
	fmt.Fprintln(os.Stderr, msg)
	return err
}

// uncaughtMessage reads an exception object's detail message, whether
// it's a fully-linked instance (detailMessage holds a *object.Object
// String) or a fabricated built-in exception (its single field holds
// the raw []byte message directly, per interp.fabricatedException).
func (v *VM) uncaughtMessage(obj *object.Object) string {
	k := v.Loader.Lookup(obj.ClassName)
	if k == nil {
		if len(obj.Fields) > 0 {
			if b, ok := obj.Fields[0].([]byte); ok {
				return string(b)
			}
		}
		return ""
	}
	field, err := v.Loader.FindField(k, "detailMessage")
	if err != nil || field.SlotID >= len(obj.Fields) {
		return ""
	}
	s, _ := obj.Fields[field.SlotID].(*object.Object)
	return object.GoString(s)
}
