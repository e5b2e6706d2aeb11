/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// This file binds the interpreter's runtime semantics (field/array
// access, allocation, dispatch, exceptions, monitors) to a
// *jit.HelpTable so a compiled method's OpCallHelp ops can call back
// into them, and drives the compile-on-threshold decision itself.
//
// A compiled method's CompiledFunc closure is cached once on
// classloader.Method.CompiledHandler, shared across every thread that
// later invokes it, so the HelpTable bound into it cannot close over a
// single *vmthread.Thread directly — frame.Frame.Thread instead
// carries the calling thread, recovered per call by frameContext.
//
// lower.go only emits OpCallHelp for a known opcode subset (field and
// array access, allocation via "new", throw, checked cast/instanceof,
// monitors, the return family, and the zero-divisor check before an
// integer div/rem); any method whose bytecode uses an
// invoke* opcode, invokedynamic, newarray/anewarray/multianewarray, or
// tableswitch/lookupswitch falls through Lower's default case as
// ErrNotCompilable and always runs tree-walked. HelpInvokeMethod,
// HelpInvokeVirtual, HelpNewArray, HelpNewMultiArray,
// HelpCheckClassInit, and HelpMatchCatch therefore have no caller in
// the fake backend's callHelp switch either; this HelpTable still
// binds them in case a future Assembler backend extends lowering to
// cover that opcode set.
package interp

import (
	"sync/atomic"

	"embervm/internal/classloader"
	"embervm/internal/excnames"
	"embervm/internal/frame"
	"embervm/internal/jit"
	"embervm/internal/object"
	"embervm/internal/vmthread"
)

// frameContext recovers the concrete frame and its owning thread from
// the interface{}-typed frame argument every HelpTable entry receives.
func frameContext(frameArg interface{}) (*frame.Frame, *vmthread.Thread) {
	f := frameArg.(*frame.Frame)
	th, _ := f.Thread.(*vmthread.Thread)
	return f, th
}

// tryJIT returns m's cached compiled handler, attempting a fresh
// compile once its invocation count crosses JITThreshold. A method
// that previously failed to lower or build is marked in noJIT so it
// isn't retried on every subsequent call.
func (in *Interpreter) tryJIT(m *classloader.Method) classloader.CompiledHandler {
	if in.Backend == nil {
		return nil
	}
	if m.CompiledHandler != nil {
		return m.CompiledHandler
	}

	in.noJITMu.Lock()
	skip := in.noJIT[m]
	in.noJITMu.Unlock()
	if skip {
		return nil
	}

	if atomic.LoadUint64(&m.InvocationCount) < in.JITThreshold {
		return nil
	}

	prog, err := jit.Lower(m)
	if err != nil {
		in.markNoJIT(m)
		return nil
	}

	compiled, err := in.Backend.Build(prog, in.helpTable())
	if err != nil {
		in.markNoJIT(m)
		return nil
	}

	handler := classloader.CompiledHandler(compiled)
	m.CompiledHandler = handler
	return handler
}

func (in *Interpreter) markNoJIT(m *classloader.Method) {
	in.noJITMu.Lock()
	in.noJIT[m] = true
	in.noJITMu.Unlock()
}

func (in *Interpreter) invokeCompiled(th *vmthread.Thread, m *classloader.Method, compiled classloader.CompiledHandler, args []interface{}) (interface{}, error) {
	f := frame.New(m)
	f.Thread = th
	bindArgs(f, m, args)

	th.PushFrame(f)
	defer th.PopFrame()
	th.Safepoint(in.Threads)

	var thrown error
	compiled(f, f.Locals, f.LocalTypes, &thrown)
	if thrown != nil {
		return nil, thrown
	}
	return f.ReturnValue, nil
}

// helpTable builds the table bound into a compiled method; tryJIT
// builds a fresh one for each compile. None of its closures capture per-call state,
// only in itself, recovering the call's frame and thread from the
// frame argument each routine receives.
func (in *Interpreter) helpTable() *jit.HelpTable {
	return &jit.HelpTable{
		GetField: func(frameArg, objRef interface{}, cpIndex int64) (interface{}, error) {
			f, th := frameContext(frameArg)
			v, _, err := in.getField(th, f.Method.Owner, int(cpIndex), objRef)
			return v, err
		},
		PutField: func(frameArg, objRef, val interface{}, cpIndex int64) error {
			f, th := frameContext(frameArg)
			return in.putField(th, f.Method.Owner, int(cpIndex), objRef, val)
		},
		GetStatic: func(frameArg interface{}, cpIndex int64) (interface{}, error) {
			f, th := frameContext(frameArg)
			v, _, err := in.getStatic(th, f.Method.Owner, int(cpIndex))
			return v, err
		},
		PutStatic: func(frameArg interface{}, val interface{}, cpIndex int64) error {
			f, th := frameContext(frameArg)
			return in.putStatic(th, f.Method.Owner, int(cpIndex), val)
		},
		ArrayLoad: func(frameArg, arrayRef, index interface{}, opcode int64) (interface{}, error) {
			_, th := frameContext(frameArg)
			v, _, err := in.arrayLoad(th, arrayRef, index)
			return v, err
		},
		ArrayStore: func(frameArg, arrayRef, index, val interface{}, opcode int64) error {
			_, th := frameContext(frameArg)
			return in.arrayStore(th, arrayRef, index, val, byte(opcode))
		},
		ArrayLength: func(frameArg, arrayRef interface{}) (interface{}, error) {
			_, th := frameContext(frameArg)
			return in.arrayLength(th, arrayRef)
		},
		NewInstance: func(frameArg interface{}, cpIndex int64) (interface{}, error) {
			f, th := frameContext(frameArg)
			return in.allocInstance(th, f.Method.Owner, int(cpIndex))
		},
		NewArray: func(frameArg interface{}, cpIndex int64, count interface{}) (interface{}, error) {
			_, th := frameContext(frameArg)
			return in.allocTypedArray(th, byte(cpIndex), count.(int32))
		},
		NewMultiArray: func(frameArg interface{}, cpIndex int64, dims []interface{}) (interface{}, error) {
			f, th := frameContext(frameArg)
			counts := make([]int32, len(dims))
			for i, d := range dims {
				counts[i] = d.(int32)
			}
			return in.allocMultiArray(th, f.Method.Owner, int(cpIndex), counts)
		},
		Throw: func(frameArg interface{}, exc interface{}) error {
			_, th := frameContext(frameArg)
			if exc == nil {
				return in.throwable(th, excnames.NullPointerException, "athrow on null reference")
			}
			return &ThrownException{Obj: exc.(*object.Object)}
		},
		MatchCatch: func(frameArg interface{}, exc interface{}, pc int) (int, bool) {
			f, _ := frameContext(frameArg)
			className := ""
			if obj, ok := exc.(*object.Object); ok && obj != nil {
				className = obj.ClassName
			}
			return f.FindHandler(pc, className, in.isAssignable)
		},
		ReturnValue: func(frameArg interface{}, v interface{}) {
			f, _ := frameContext(frameArg)
			f.ReturnValue = v
		},
		InvokeMethod: func(frameArg interface{}, cpIndex int64, args []interface{}) (interface{}, error) {
			f, th := frameContext(frameArg)
			m, err := in.resolveMethod(th, f.Method.Owner, int(cpIndex))
			if err != nil {
				return nil, err
			}
			return in.Invoke(th, m, args)
		},
		InvokeVirtual: func(frameArg interface{}, cpIndex int64, args []interface{}) (interface{}, error) {
			f, th := frameContext(frameArg)
			declared, err := in.resolveMethod(th, f.Method.Owner, int(cpIndex))
			if err != nil {
				return nil, err
			}
			if len(args) == 0 || args[0] == nil {
				return nil, in.throwable(th, excnames.NullPointerException, "invokevirtual on null reference")
			}
			recv := args[0].(*object.Object)
			runtimeClass := in.Loader.Lookup(recv.ClassName)
			if runtimeClass == nil {
				return nil, in.throwable(th, excnames.NoClassDefFoundError, recv.ClassName)
			}
			m, err := in.Loader.FindMethod(runtimeClass, declared.Name, declared.Descriptor)
			if err != nil {
				return nil, in.classError(th, err)
			}
			return in.Invoke(th, m, args)
		},
		CheckClassInit: func(frameArg interface{}, cpIndex int64) error {
			f, th := frameContext(frameArg)
			name, err := f.Method.Owner.CP.ClassNameAt(int(cpIndex))
			if err != nil {
				return err
			}
			k, err := in.Loader.LoadClass(name)
			if err != nil {
				return in.classError(th, err)
			}
			return in.ensureInitialized(th, k)
		},
		InstanceOf: func(frameArg interface{}, ref interface{}, cpIndex int64) (interface{}, error) {
			f, _ := frameContext(frameArg)
			v, err := in.instanceOf(f.Method.Owner, int(cpIndex), ref)
			return v, err
		},
		CheckCast: func(frameArg interface{}, ref interface{}, cpIndex int64) error {
			f, th := frameContext(frameArg)
			return in.checkCast(th, f.Method.Owner, int(cpIndex), ref)
		},
		MonitorEnter: func(frameArg interface{}, ref interface{}) error {
			_, th := frameContext(frameArg)
			if ref == nil {
				return in.throwable(th, excnames.NullPointerException, "monitorenter on null reference")
			}
			ref.(*object.Object).MonitorEnter(th.ID)
			return nil
		},
		MonitorExit: func(frameArg interface{}, ref interface{}) error {
			_, th := frameContext(frameArg)
			if ref == nil {
				return in.throwable(th, excnames.NullPointerException, "monitorexit on null reference")
			}
			if err := ref.(*object.Object).MonitorExit(th.ID); err != nil {
				return in.throwable(th, excnames.IllegalMonitorStateException, err.Error())
			}
			return nil
		},
		CheckDivisor: func(frameArg interface{}, divisor interface{}) error {
			_, th := frameContext(frameArg)
			zero := false
			switch d := divisor.(type) {
			case int32:
				zero = d == 0
			case int64:
				zero = d == 0
			}
			if zero {
				return in.throwable(th, excnames.ArithmeticException, "/ by zero")
			}
			return nil
		},
	}
}
