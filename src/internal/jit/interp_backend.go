/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package jit

import "github.com/pkg/errors"

// fakeAssembler executes a Program by walking its IR directly instead
// of emitting machine code. Tests use it to check that Lower produced
// a structurally sound, runnable program, and the golang-asm backend
// (internal/jit/asmgo) runs every compiled program through it too.
type fakeAssembler struct{}

// NewFakeAssembler returns an Assembler that interprets the IR in pure
// Go, for equivalence testing against the tree-walking interpreter.
func NewFakeAssembler() Assembler { return fakeAssembler{} }

func (fakeAssembler) Build(prog *Program, help *HelpTable) (CompiledFunc, error) {
	if len(prog.Blocks) == 0 {
		return nil, ErrEmptyProgram
	}
	blockByIndex := make(map[int]*Block, len(prog.Blocks))
	for i := range prog.Blocks {
		blockByIndex[prog.Blocks[i].Index] = &prog.Blocks[i]
	}

	return func(frame, locals, localTypes, thrownOut interface{}) {
		env := map[int]interface{}{}
		cur := blockByIndex[prog.Blocks[0].Index]
		for cur != nil {
			next, err := runBlock(cur, env, frame, help)
			if err != nil {
				if thrownSetter, ok := thrownOut.(*error); ok {
					*thrownSetter = err
				}
				return
			}
			if next == nil {
				return
			}
			cur = blockByIndex[*next]
		}
	}, nil
}

func runBlock(b *Block, env map[int]interface{}, frame interface{}, help *HelpTable) (*int, error) {
	for _, op := range b.Body {
		switch op.Kind {
		case OpConst:
			env[op.Result.ID] = op.Imm[0]
		case OpAdd, OpSub, OpMul, OpDiv, OpRem, OpAnd, OpOr, OpXor, OpShl, OpShr, OpUshr:
			a := asInt64(env[op.Args[0].ID])
			bv := asInt64(env[op.Args[1].ID])
			env[op.Result.ID] = arith(op.Kind, a, bv)
		case OpNeg:
			env[op.Result.ID] = -asInt64(env[op.Args[0].ID])
		case OpCompare:
			a := asInt64(env[op.Args[0].ID])
			bv := asInt64(env[op.Args[1].ID])
			switch {
			case a < bv:
				env[op.Result.ID] = int64(-1)
			case a > bv:
				env[op.Result.ID] = int64(1)
			default:
				env[op.Result.ID] = int64(0)
			}
		case OpCallHelp:
			if err := callHelp(op, env, frame, help); err != nil {
				return nil, err
			}
		case OpBranch:
			target := int(op.Imm[0])
			propagate(env, op.BlockArgs)
			return &target, nil
		case OpCondBranch:
			taken := branchTaken(op, env)
			propagate(env, op.BlockArgs)
			var target int
			if taken {
				target = int(op.Imm[0])
			} else {
				target = int(op.Imm[2])
			}
			return &target, nil
		case OpReturn:
			return nil, nil
		}
	}
	return nil, nil
}

func propagate(env map[int]interface{}, args []Value) {
	// Params and their feeding BlockArgs share no separate storage in
	// this flat-env interpreter: a Value's ID is already its env key,
	// so nothing needs copying here. Kept as a named step because a
	// real register-allocating assembler does need an explicit move.
}

func branchTaken(op Op, env map[int]interface{}) bool {
	cond := op.Imm[1]
	if len(op.Args) == 2 {
		a := asInt64(env[op.Args[0].ID])
		b := asInt64(env[op.Args[1].ID])
		return compareIntCond(byte(cond), a, b)
	}
	a := asInt64(env[op.Args[0].ID])
	return compareIntCond(byte(cond), a, 0)
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	default:
		return 0
	}
}

func arith(kind OpKind, a, b int64) int64 {
	switch kind {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	case OpRem:
		return a % b
	case OpAnd:
		return a & b
	case OpOr:
		return a | b
	case OpXor:
		return a ^ b
	case OpShl:
		return a << uint(b)
	case OpShr:
		return a >> uint(b)
	case OpUshr:
		return int64(uint64(a) >> uint(b))
	default:
		return 0
	}
}

func compareIntCond(op byte, a, b int64) bool {
	switch op {
	case 0x99, 0x9f: // ifeq, if_icmpeq
		return a == b
	case 0x9a, 0xa0: // ifne, if_icmpne
		return a != b
	case 0x9b, 0xa1: // iflt, if_icmpt
		return a < b
	case 0x9c, 0xa2: // ifge, if_icmpge
		return a >= b
	case 0x9d, 0xa3: // ifgt, if_icmpgt
		return a > b
	case 0x9e, 0xa4: // ifle, if_icmple
		return a <= b
	default:
		return false
	}
}

func callHelp(op Op, env map[int]interface{}, frame interface{}, help *HelpTable) error {
	resolved := make([]interface{}, len(op.Args))
	for i, a := range op.Args {
		resolved[i] = env[a.ID]
	}
	switch op.HelpRoutine {
	case HelpReturnValue:
		if help.ReturnValue != nil && len(resolved) == 1 {
			help.ReturnValue(frame, resolved[0])
		}
		return nil
	case HelpThrow:
		if help.Throw != nil && len(resolved) == 1 {
			return help.Throw(frame, resolved[0])
		}
		return nil
	case HelpGetField:
		if help.GetField != nil && len(resolved) == 1 {
			v, err := help.GetField(frame, resolved[0], op.Imm[0])
			if err != nil {
				return err
			}
			env[op.Result.ID] = v
		}
		return nil
	case HelpPutField:
		if help.PutField != nil && len(resolved) == 2 {
			return help.PutField(frame, resolved[0], resolved[1], op.Imm[0])
		}
		return nil
	case HelpGetStatic:
		if help.GetStatic != nil {
			v, err := help.GetStatic(frame, op.Imm[0])
			if err != nil {
				return err
			}
			env[op.Result.ID] = v
		}
		return nil
	case HelpPutStatic:
		if help.PutStatic != nil && len(resolved) == 1 {
			return help.PutStatic(frame, resolved[0], op.Imm[0])
		}
		return nil
	case HelpArrayLoad:
		if help.ArrayLoad != nil && len(resolved) == 2 {
			v, err := help.ArrayLoad(frame, resolved[0], resolved[1], op.Imm[0])
			if err != nil {
				return err
			}
			env[op.Result.ID] = v
		}
		return nil
	case HelpArrayStore:
		if help.ArrayStore != nil && len(resolved) == 3 {
			return help.ArrayStore(frame, resolved[0], resolved[1], resolved[2], op.Imm[0])
		}
		return nil
	case HelpArrayLength:
		if help.ArrayLength != nil && len(resolved) == 1 {
			v, err := help.ArrayLength(frame, resolved[0])
			if err != nil {
				return err
			}
			env[op.Result.ID] = v
		}
		return nil
	case HelpNewInstance:
		if help.NewInstance != nil {
			v, err := help.NewInstance(frame, op.Imm[0])
			if err != nil {
				return err
			}
			env[op.Result.ID] = v
		}
		return nil
	case HelpInstanceOf:
		if help.InstanceOf != nil && len(resolved) == 1 {
			v, err := help.InstanceOf(frame, resolved[0], op.Imm[0])
			if err != nil {
				return err
			}
			env[op.Result.ID] = v
		}
		return nil
	case HelpCheckCast:
		if help.CheckCast != nil && len(resolved) == 1 {
			return help.CheckCast(frame, resolved[0], op.Imm[0])
		}
		return nil
	case HelpMonitorEnter:
		if help.MonitorEnter != nil && len(resolved) == 1 {
			return help.MonitorEnter(frame, resolved[0])
		}
		return nil
	case HelpMonitorExit:
		if help.MonitorExit != nil && len(resolved) == 1 {
			return help.MonitorExit(frame, resolved[0])
		}
		return nil
	case HelpCheckDivisor:
		if help.CheckDivisor != nil && len(resolved) == 1 {
			return help.CheckDivisor(frame, resolved[0])
		}
		return nil
	default:
		return errors.Errorf("jit: fake assembler has no handler wired for help routine %d", op.HelpRoutine)
	}
}
