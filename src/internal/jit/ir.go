/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package jit is the compiler that lowers a method's control-flow
// graph into a small typed IR, reconciling the operand stack across
// block merges with phi values, then hands the IR to a pluggable
// Assembler to produce callable native code. Grounded in
// wdamron-wagon's exec/native_compile.go instructionBuilder/
// pageAllocator split (mined from other_examples, since no pack repo
// ships a full JIT): this package is the "Scanner decides, Builder
// compiles" shape generalised from WebAssembly opcodes to this
// platform's bytecode, with a help-routine table standing in for
// wagon's native arithmetic sequences.
package jit

import "embervm/internal/types"

// ValueKind is the IR's small value-type lattice: a simulated operand
// stack holds IR values of the correct typed shape (i32, i64, f32,
// f64, or pointer).
type ValueKind byte

const (
	KindI32 ValueKind = iota
	KindI64
	KindF32
	KindF64
	KindPtr
)

func KindFromSlotType(t types.SlotType) ValueKind {
	switch t {
	case types.LONG:
		return KindI64
	case types.FLOAT:
		return KindF32
	case types.DOUBLE:
		return KindF64
	case types.REF:
		return KindPtr
	default:
		return KindI32
	}
}

// Value is a reference to an IR value by its definition site: either a
// numbered SSA-style value within the current function, or a block
// parameter (phi) at a merge point.
type Value struct {
	ID   int
	Kind ValueKind
}

// Op is one IR instruction. Kind names the operation; Args are its
// operand Values; Result is the Value it defines (zero ID for
// instructions with no result, like a bare branch or a store help
// call).
type Op struct {
	Kind   OpKind
	Args   []Value
	Result Value

	// HelpRoutine names the runtime function this op calls into, valid
	// when Kind == OpCallHelp.
	HelpRoutine HelpRoutine
	// Imm carries small immediate operands (constant-pool indices,
	// branch targets, switch tables) whose meaning depends on Kind.
	Imm []int64
	// BlockArgs carries the live operand-stack values handed to the
	// target block's Params on a terminator (OpBranch/OpCondBranch);
	// both arms of a conditional branch receive the same BlockArgs
	// since the simulated stack at the branch point is shared.
	BlockArgs []Value
}

type OpKind byte

const (
	OpConst OpKind = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpNeg
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpUshr
	OpConvert
	OpCompare  // lcmp/fcmpl/fcmpg/dcmpl/dcmpg -> i32 in {-1,0,1}
	OpBranch   // unconditional jump to Imm[0] (block index)
	OpCondBranch // Args[0] compared against Args[1] (or zero when there is one arg) per Imm[1] (condition code), true->Imm[0], false->Imm[2]
	OpPhi
	OpCallHelp
	OpReturn
)

// HelpRoutine enumerates the fixed table of runtime entry points:
// field, array, and method accesses, allocation, throw/match-catch,
// and return are never inlined — they always call into the runtime so
// the heap layout stays an abstraction boundary the GC can ignore.
type HelpRoutine byte

const (
	HelpGetField HelpRoutine = iota
	HelpPutField
	HelpGetStatic
	HelpPutStatic
	HelpArrayLoad
	HelpArrayStore
	HelpNewInstance
	HelpNewArray
	HelpNewMultiArray
	HelpThrow
	HelpMatchCatch
	HelpReturnValue
	HelpInvokeMethod
	HelpInvokeVirtual
	HelpCheckClassInit
	HelpInstanceOf
	HelpCheckCast
	HelpMonitorEnter
	HelpMonitorExit
	HelpArrayLength
	HelpCheckDivisor
)

// Block is one lowered basic block: its parameter values (phis fed by
// predecessors), its body, and its terminator (always the last Op,
// OpBranch/OpCondBranch/OpReturn).
type Block struct {
	Index  int
	Params []Value
	Body   []Op
}

// Program is a fully lowered method: a top-level entry block that
// allocates IR values mirroring the locals and zero-initialises stack
// slots, plus one IR block per CFG block.
type Program struct {
	MethodOwner string
	MethodName  string
	MethodDesc  string
	NumLocals   int
	Blocks      []Block
}
