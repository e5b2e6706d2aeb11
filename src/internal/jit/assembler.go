/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package jit

import "github.com/pkg/errors"

// CompiledFunc is the shape a compiled method takes once installed on
// classloader.Method.CompiledHandler: given the calling frame, its
// locals/local-types slices, and an out-param for a thrown value, it
// runs to completion or records a thrown exception. Kept as a plain
// function value (rather than a named interface) so it satisfies
// classloader.CompiledHandler structurally without jit importing
// classloader's frame-adjacent types.
type CompiledFunc func(frame, locals, localTypes, thrownOut interface{})

// HelpTable is the fixed set of runtime entry points a compiled
// method's OpCallHelp ops invoke. Arguments and results are passed as
// already-resolved runtime values (interface{}), exactly the shape
// the tree-walking interpreter's own operand stack holds — the IR's
// IDs and Kinds exist only to drive lowering and register/slot
// assignment, not to flow across this boundary. One field per
// HelpRoutine; every Assembler backend closes over the same table so
// compiled code never needs its own copy of field layout, array
// bounds checks, or monitor logic — those stay in the interpreter's
// runtime package, the same one the tree-walking interpreter calls.
type HelpTable struct {
	GetField       func(frame interface{}, objRef interface{}, cpIndex int64) (interface{}, error)
	PutField       func(frame interface{}, objRef, val interface{}, cpIndex int64) error
	GetStatic      func(frame interface{}, cpIndex int64) (interface{}, error)
	PutStatic      func(frame interface{}, val interface{}, cpIndex int64) error
	ArrayLoad      func(frame interface{}, arrayRef, index interface{}, opcode int64) (interface{}, error)
	ArrayStore     func(frame interface{}, arrayRef, index, val interface{}, opcode int64) error
	ArrayLength    func(frame interface{}, arrayRef interface{}) (interface{}, error)
	NewInstance    func(frame interface{}, cpIndex int64) (interface{}, error)
	NewArray       func(frame interface{}, cpIndex int64, count interface{}) (interface{}, error)
	NewMultiArray  func(frame interface{}, cpIndex int64, dims []interface{}) (interface{}, error)
	Throw          func(frame interface{}, exc interface{}) error
	MatchCatch     func(frame interface{}, exc interface{}, pc int) (int, bool)
	ReturnValue    func(frame interface{}, v interface{})
	InvokeMethod   func(frame interface{}, cpIndex int64, args []interface{}) (interface{}, error)
	InvokeVirtual  func(frame interface{}, cpIndex int64, args []interface{}) (interface{}, error)
	CheckClassInit func(frame interface{}, cpIndex int64) error
	InstanceOf     func(frame interface{}, ref interface{}, cpIndex int64) (interface{}, error)
	CheckCast      func(frame interface{}, ref interface{}, cpIndex int64) error
	MonitorEnter   func(frame interface{}, ref interface{}) error
	MonitorExit    func(frame interface{}, ref interface{}) error
	CheckDivisor   func(frame interface{}, divisor interface{}) error
}

// Assembler turns a lowered Program into a callable CompiledFunc. Its
// two implementations are internal/jit/asmgo (which maps a fixed
// golang-asm stub and runs the program through the fakeAssembler) and
// the in-package fakeAssembler, which executes the IR directly, grounded in wdamron-wagon's split between an instructionBuilder
// that emits real code and the scanner that decides what to emit.
type Assembler interface {
	Build(prog *Program, help *HelpTable) (CompiledFunc, error)
}

// ErrEmptyProgram guards against compiling a method with no blocks,
// which Lower never produces but a hand-built Program might.
var ErrEmptyProgram = errors.New("jit: program has no blocks")
