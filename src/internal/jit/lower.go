/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package jit

import (
	"github.com/pkg/errors"

	"embervm/internal/cfg"
	"embervm/internal/classloader"
	"embervm/internal/opcodes"
)

// ErrNotCompilable is returned by Lower when the method's body uses an
// opcode this compiler doesn't lower to native code. The caller's
// correct response is to keep interpreting the method — the
// interpreter handles every opcode on its own; the JIT only ever
// needs to cover the subset worth compiling.
type ErrNotCompilable struct {
	Opcode byte
	PC     int
}

func (e *ErrNotCompilable) Error() string {
	return errors.Errorf("jit: opcode 0x%x at pc %d has no native lowering", e.Opcode, e.PC).Error()
}

// stackSim tracks one block's simulated IR-value stack during lowering.
type stackSim struct {
	values []Value
}

func (s *stackSim) push(v Value)    { s.values = append(s.values, v) }
func (s *stackSim) pop() Value      { n := len(s.values) - 1; v := s.values[n]; s.values = s.values[:n]; return v }
func (s *stackSim) top() Value      { return s.values[len(s.values)-1] }
func (s *stackSim) clone() []Value  { out := make([]Value, len(s.values)); copy(out, s.values); return out }

// lowering holds the mutable state threaded through one method's lowering pass.
type lowering struct {
	m        *classloader.Method
	graph    *cfg.Graph
	nextID   int
	locals   []Value // current IR value per local slot
	blockOut map[int][]Value // exit-stack shape per CFG block index, filled as blocks lower
	prog     *Program
}

func (lw *lowering) newValue(k ValueKind) Value {
	lw.nextID++
	return Value{ID: lw.nextID, Kind: k}
}

// Lower builds a Program for m, or returns ErrNotCompilable if any
// instruction in its body has no native lowering.
func Lower(m *classloader.Method) (*Program, error) {
	graph, err := cfg.Build(&m.Method)
	if err != nil {
		return nil, err
	}

	lw := &lowering{m: m, graph: graph, blockOut: make(map[int][]Value)}
	lw.locals = make([]Value, m.MaxLocals)
	for i := range lw.locals {
		lw.locals[i] = lw.newValue(KindI32)
	}

	prog := &Program{
		MethodOwner: m.Owner.Name,
		MethodName:  m.Name,
		MethodDesc:  m.Descriptor,
		NumLocals:   m.MaxLocals,
	}
	lw.prog = prog

	for bi, b := range graph.Blocks {
		irBlock, err := lw.lowerBlock(bi, b)
		if err != nil {
			return nil, err
		}
		prog.Blocks = append(prog.Blocks, irBlock)
	}
	return prog, nil
}

func (lw *lowering) lowerBlock(idx int, b cfg.Block) (Block, error) {
	code := lw.m.Code
	stack := &stackSim{}

	// Seed this block's entry stack from its first predecessor's exit
	// shape, if any — every predecessor agrees on the stack shape at a
	// join point. The entry values become this block's Params (phis);
	// a block with no recorded predecessor (the very first block)
	// starts with an empty stack.
	var params []Value
	for _, e := range lw.graph.Edges {
		if e.ToBlock == idx {
			if out, ok := lw.blockOut[e.FromBlock]; ok {
				for _, v := range out {
					p := lw.newValue(v.Kind)
					params = append(params, p)
					stack.push(p)
				}
			}
			break
		}
	}

	irBlock := Block{Index: idx, Params: params}
	pc := b.Start
	for pc < b.End {
		op := code[pc]
		length, err := opcodes.Length(code, pc, 0)
		if err != nil {
			return Block{}, err
		}
		ops, err := lw.lowerInstruction(op, pc, code, stack)
		if err != nil {
			return Block{}, err
		}
		irBlock.Body = append(irBlock.Body, ops...)
		pc += length
	}

	out := stack.clone()
	lw.blockOut[idx] = out

	terminates := len(irBlock.Body) > 0 &&
		(irBlock.Body[len(irBlock.Body)-1].Kind == OpBranch ||
			irBlock.Body[len(irBlock.Body)-1].Kind == OpCondBranch ||
			irBlock.Body[len(irBlock.Body)-1].Kind == OpReturn)

	if terminates {
		last := &irBlock.Body[len(irBlock.Body)-1]
		if last.Kind == OpBranch || last.Kind == OpCondBranch {
			last.BlockArgs = out
		}
	} else if b.FallThrough {
		// This block's last instruction neither branches nor returns
		// (cfg.Build's FallThrough flag), so control reaches the next
		// block's start implicitly; make that explicit in the IR as a
		// plain OpBranch so the assembler never needs to special-case
		// fall-through.
		target := -1
		for _, e := range lw.graph.Edges {
			if e.FromBlock == idx && e.ToBlock != idx {
				target = e.ToBlock
			}
		}
		irBlock.Body = append(irBlock.Body, Op{Kind: OpBranch, Imm: []int64{int64(target)}, BlockArgs: out})
	}

	return irBlock, nil
}

func (lw *lowering) lowerInstruction(op byte, pc int, code []byte, stack *stackSim) ([]Op, error) {
	switch op {
	case opcodes.Nop:
		return nil, nil

	case opcodes.Iconst0, opcodes.Iconst1, opcodes.Iconst2, opcodes.Iconst3, opcodes.Iconst4, opcodes.Iconst5, opcodes.IconstM1:
		v := lw.newValue(KindI32)
		stack.push(v)
		return []Op{{Kind: OpConst, Result: v, Imm: []int64{int64(op) - int64(opcodes.Iconst0)}}}, nil

	case opcodes.Iload0, opcodes.Iload1, opcodes.Iload2, opcodes.Iload3:
		slot := int(op - opcodes.Iload0)
		stack.push(lw.locals[slot])
		return nil, nil

	case opcodes.Istore0, opcodes.Istore1, opcodes.Istore2, opcodes.Istore3:
		slot := int(op - opcodes.Istore0)
		lw.locals[slot] = stack.pop()
		return nil, nil

	case opcodes.Idiv, opcodes.Ldiv, opcodes.Irem, opcodes.Lrem:
		b := stack.pop()
		a := stack.pop()
		result := lw.newValue(a.Kind)
		stack.push(result)
		// Integer div/rem need a zero-divisor check the interpreter's
		// Idiv/Ldiv/Irem/Lrem cases also make (run.go) — a zero divisor
		// raises ArithmeticException rather than faulting the process,
		// unlike Fdiv/Ddiv/Frem/Drem below, which IEEE 754 defines for
		// a zero divisor.
		return []Op{
			{Kind: OpCallHelp, HelpRoutine: HelpCheckDivisor, Args: []Value{b}},
			{Kind: arithmeticKind(op), Args: []Value{a, b}, Result: result},
		}, nil

	case opcodes.Iadd, opcodes.Ladd, opcodes.Fadd, opcodes.Dadd,
		opcodes.Isub, opcodes.Lsub, opcodes.Fsub, opcodes.Dsub,
		opcodes.Imul, opcodes.Lmul, opcodes.Fmul, opcodes.Dmul,
		opcodes.Fdiv, opcodes.Ddiv, opcodes.Frem, opcodes.Drem,
		opcodes.Iand, opcodes.Land, opcodes.Ior, opcodes.Lor, opcodes.Ixor, opcodes.Lxor,
		opcodes.Ishl, opcodes.Lshl, opcodes.Ishr, opcodes.Lshr, opcodes.Iushr, opcodes.Lushr:
		b := stack.pop()
		a := stack.pop()
		result := lw.newValue(a.Kind)
		stack.push(result)
		return []Op{{Kind: arithmeticKind(op), Args: []Value{a, b}, Result: result}}, nil

	case opcodes.Ineg, opcodes.Lneg, opcodes.Fneg, opcodes.Dneg:
		a := stack.pop()
		result := lw.newValue(a.Kind)
		stack.push(result)
		return []Op{{Kind: OpNeg, Args: []Value{a}, Result: result}}, nil

	case opcodes.Lcmp, opcodes.Fcmpl, opcodes.Fcmpg, opcodes.Dcmpl, opcodes.Dcmpg:
		b := stack.pop()
		a := stack.pop()
		result := lw.newValue(KindI32)
		stack.push(result)
		return []Op{{Kind: OpCompare, Args: []Value{a, b}, Result: result}}, nil

	case opcodes.Ifeq, opcodes.Ifne, opcodes.Iflt, opcodes.Ifge, opcodes.Ifgt, opcodes.Ifle,
		opcodes.IfIcmpeq, opcodes.IfIcmpne, opcodes.IfIcmplt, opcodes.IfIcmpge, opcodes.IfIcmpgt, opcodes.IfIcmple,
		opcodes.IfAcmpeq, opcodes.IfAcmpne, opcodes.Ifnull, opcodes.Ifnonnull:
		return lw.lowerConditionalBranch(op, pc, stack)

	case opcodes.Goto, opcodes.GotoW:
		targets, err := opcodes.BranchTargets(code, pc, 0)
		if err != nil {
			return nil, err
		}
		target := lw.graph.BlockContaining(targets[0])
		return []Op{{Kind: OpBranch, Imm: []int64{int64(target)}}}, nil

	case opcodes.Getfield, opcodes.Putfield, opcodes.Getstatic, opcodes.Putstatic:
		return lw.lowerFieldAccess(op, pc, code, stack)

	case opcodes.Iaload, opcodes.Laload, opcodes.Faload, opcodes.Daload, opcodes.Aaload, opcodes.Baload, opcodes.Caload, opcodes.Saload:
		index := stack.pop()
		arrayRef := stack.pop()
		result := lw.newValue(elementKind(op))
		stack.push(result)
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpArrayLoad, Args: []Value{arrayRef, index}, Result: result, Imm: []int64{int64(op)}}}, nil

	case opcodes.Iastore, opcodes.Lastore, opcodes.Fastore, opcodes.Dastore, opcodes.Aastore, opcodes.Bastore, opcodes.Castore, opcodes.Sastore:
		value := stack.pop()
		index := stack.pop()
		arrayRef := stack.pop()
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpArrayStore, Args: []Value{arrayRef, index, value}, Imm: []int64{int64(op)}}}, nil

	case opcodes.Arraylength:
		arrayRef := stack.pop()
		result := lw.newValue(KindI32)
		stack.push(result)
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpArrayLength, Args: []Value{arrayRef}, Result: result}}, nil

	case opcodes.Athrow:
		exc := stack.pop()
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpThrow, Args: []Value{exc}}}, nil

	case opcodes.Monitorenter:
		ref := stack.pop()
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpMonitorEnter, Args: []Value{ref}}}, nil

	case opcodes.Monitorexit:
		ref := stack.pop()
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpMonitorExit, Args: []Value{ref}}}, nil

	case opcodes.Checkcast:
		idx := be16(code, pc+1)
		ref := stack.top()
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpCheckCast, Args: []Value{ref}, Imm: []int64{int64(idx)}}}, nil

	case opcodes.Instanceof:
		idx := be16(code, pc+1)
		ref := stack.pop()
		result := lw.newValue(KindI32)
		stack.push(result)
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpInstanceOf, Args: []Value{ref}, Result: result, Imm: []int64{int64(idx)}}}, nil

	case opcodes.New:
		idx := be16(code, pc+1)
		result := lw.newValue(KindPtr)
		stack.push(result)
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpNewInstance, Result: result, Imm: []int64{int64(idx)}}}, nil

	case opcodes.Ireturn, opcodes.Lreturn, opcodes.Freturn, opcodes.Dreturn, opcodes.Areturn:
		v := stack.pop()
		return []Op{
			{Kind: OpCallHelp, HelpRoutine: HelpReturnValue, Args: []Value{v}},
			{Kind: OpReturn},
		}, nil

	case opcodes.Return:
		return []Op{{Kind: OpReturn}}, nil

	case opcodes.Dup:
		v := stack.top()
		stack.push(v)
		return nil, nil

	case opcodes.Pop:
		stack.pop()
		return nil, nil

	default:
		return nil, &ErrNotCompilable{Opcode: op, PC: pc}
	}
}

func (lw *lowering) lowerConditionalBranch(op byte, pc int, stack *stackSim) ([]Op, error) {
	code := lw.m.Code
	targets, err := opcodes.BranchTargets(code, pc, 0)
	if err != nil {
		return nil, err
	}
	length, err := opcodes.Length(code, pc, 0)
	if err != nil {
		return nil, err
	}
	thenBlock := lw.graph.BlockContaining(targets[0])
	elseBlock := lw.graph.BlockContaining(pc + length)

	var args []Value
	switch op {
	case opcodes.IfIcmpeq, opcodes.IfIcmpne, opcodes.IfIcmplt, opcodes.IfIcmpge, opcodes.IfIcmpgt, opcodes.IfIcmple,
		opcodes.IfAcmpeq, opcodes.IfAcmpne:
		b := stack.pop()
		a := stack.pop()
		args = []Value{a, b}
	default:
		a := stack.pop()
		args = []Value{a}
	}
	return []Op{{Kind: OpCondBranch, Args: args, Imm: []int64{int64(thenBlock), int64(op), int64(elseBlock)}}}, nil
}

func (lw *lowering) lowerFieldAccess(op byte, pc int, code []byte, stack *stackSim) ([]Op, error) {
	idx := int64(be16(code, pc+1))
	switch op {
	case opcodes.Getstatic:
		result := lw.newValue(KindI32)
		stack.push(result)
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpGetStatic, Result: result, Imm: []int64{idx}}}, nil
	case opcodes.Putstatic:
		v := stack.pop()
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpPutStatic, Args: []Value{v}, Imm: []int64{idx}}}, nil
	case opcodes.Getfield:
		obj := stack.pop()
		result := lw.newValue(KindI32)
		stack.push(result)
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpGetField, Args: []Value{obj}, Result: result, Imm: []int64{idx}}}, nil
	default: // Putfield
		v := stack.pop()
		obj := stack.pop()
		return []Op{{Kind: OpCallHelp, HelpRoutine: HelpPutField, Args: []Value{obj, v}, Imm: []int64{idx}}}, nil
	}
}

func arithmeticKind(op byte) OpKind {
	switch op {
	case opcodes.Iadd, opcodes.Ladd, opcodes.Fadd, opcodes.Dadd:
		return OpAdd
	case opcodes.Isub, opcodes.Lsub, opcodes.Fsub, opcodes.Dsub:
		return OpSub
	case opcodes.Imul, opcodes.Lmul, opcodes.Fmul, opcodes.Dmul:
		return OpMul
	case opcodes.Idiv, opcodes.Ldiv, opcodes.Fdiv, opcodes.Ddiv:
		return OpDiv
	case opcodes.Irem, opcodes.Lrem, opcodes.Frem, opcodes.Drem:
		return OpRem
	case opcodes.Iand, opcodes.Land:
		return OpAnd
	case opcodes.Ior, opcodes.Lor:
		return OpOr
	case opcodes.Ixor, opcodes.Lxor:
		return OpXor
	case opcodes.Ishl, opcodes.Lshl:
		return OpShl
	case opcodes.Ishr, opcodes.Lshr:
		return OpShr
	default:
		return OpUshr
	}
}

func elementKind(op byte) ValueKind {
	switch op {
	case opcodes.Laload:
		return KindI64
	case opcodes.Faload:
		return KindF32
	case opcodes.Daload:
		return KindF64
	case opcodes.Aaload:
		return KindPtr
	default:
		return KindI32
	}
}

func be16(b []byte, off int) uint16 {
	return uint16(b[off])<<8 | uint16(b[off+1])
}
