/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package interp

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"embervm/internal/excnames"
	"embervm/internal/frame"
	"embervm/internal/log"
	"embervm/internal/object"
	"embervm/internal/opcodes"
	"embervm/internal/trace"
	"embervm/internal/types"
	"embervm/internal/vmthread"
)

// runFrame is the tree-walking dispatch loop: one iteration decodes
// one instruction, executes it against f's operand stack and locals,
// and either falls through to the next instruction, jumps via the
// reader's cursor, returns to the caller, or — on a thrown exception —
// walks f's exception table looking for a handler in range. A thrown
// value that isn't a *ThrownException (a fatal VM condition, not a
// catchable Java exception) propagates straight back to Invoke.
func (in *Interpreter) runFrame(th *vmthread.Thread, f *frame.Frame) (interface{}, error) {
	for {
		th.Safepoint(in.Threads)

		pc := f.Reader.Pos()
		op, err := f.Reader.U1()
		if err != nil {
			return nil, err
		}

		if in.Trace {
			log.Log(trace.Instruction(f.Method.Owner.Name, f.Method.Name, pc, opcodeName(op), tosDesc(f)), log.TRACE_INST)
		}

		var thrown error

		switch op {

		// --- constants ---
		case opcodes.AconstNull:
			f.Push(nil, types.REF)
		case opcodes.IconstM1, opcodes.Iconst0, opcodes.Iconst1, opcodes.Iconst2, opcodes.Iconst3, opcodes.Iconst4, opcodes.Iconst5:
			f.Push(int32(int(op)-int(opcodes.Iconst0)), types.INT)
		case opcodes.Lconst0, opcodes.Lconst1:
			f.Push(int64(op-opcodes.Lconst0), types.LONG)
		case opcodes.Fconst0, opcodes.Fconst1, opcodes.Fconst2:
			f.Push(float32(op-opcodes.Fconst0), types.FLOAT)
		case opcodes.Dconst0, opcodes.Dconst1:
			f.Push(float64(op-opcodes.Dconst0), types.DOUBLE)
		case opcodes.Bipush:
			b, _ := f.Reader.S1()
			f.Push(int32(b), types.INT)
		case opcodes.Sipush:
			s, _ := f.Reader.S2()
			f.Push(int32(s), types.INT)
		case opcodes.Ldc:
			idx, _ := f.Reader.U1()
			thrown = in.pushConstant(f, th, f.Method.Owner.CP, int(idx))
		case opcodes.LdcW, opcodes.Ldc2W:
			idx, _ := f.Reader.U2()
			thrown = in.pushConstant(f, th, f.Method.Owner.CP, int(idx))

		// --- loads ---
		case opcodes.Iload, opcodes.Lload, opcodes.Fload, opcodes.Dload, opcodes.Aload:
			idx, _ := f.Reader.U1()
			v, t := f.GetLocal(int(idx))
			f.Push(v, t)
		case opcodes.Iload0, opcodes.Lload0, opcodes.Fload0, opcodes.Dload0, opcodes.Aload0:
			v, t := f.GetLocal(0)
			f.Push(v, t)
		case opcodes.Iload1, opcodes.Lload1, opcodes.Fload1, opcodes.Dload1, opcodes.Aload1:
			v, t := f.GetLocal(1)
			f.Push(v, t)
		case opcodes.Iload2, opcodes.Lload2, opcodes.Fload2, opcodes.Dload2, opcodes.Aload2:
			v, t := f.GetLocal(2)
			f.Push(v, t)
		case opcodes.Iload3, opcodes.Lload3, opcodes.Fload3, opcodes.Dload3, opcodes.Aload3:
			v, t := f.GetLocal(3)
			f.Push(v, t)

		// --- stores ---
		case opcodes.Istore, opcodes.Lstore, opcodes.Fstore, opcodes.Dstore, opcodes.Astore:
			idx, _ := f.Reader.U1()
			v, t, _ := f.Pop()
			f.SetLocal(int(idx), v, t)
		case opcodes.Istore0, opcodes.Lstore0, opcodes.Fstore0, opcodes.Dstore0, opcodes.Astore0:
			v, t, _ := f.Pop()
			f.SetLocal(0, v, t)
		case opcodes.Istore1, opcodes.Lstore1, opcodes.Fstore1, opcodes.Dstore1, opcodes.Astore1:
			v, t, _ := f.Pop()
			f.SetLocal(1, v, t)
		case opcodes.Istore2, opcodes.Lstore2, opcodes.Fstore2, opcodes.Dstore2, opcodes.Astore2:
			v, t, _ := f.Pop()
			f.SetLocal(2, v, t)
		case opcodes.Istore3, opcodes.Lstore3, opcodes.Fstore3, opcodes.Dstore3, opcodes.Astore3:
			v, t, _ := f.Pop()
			f.SetLocal(3, v, t)

		case opcodes.Iinc:
			idx, _ := f.Reader.U1()
			delta, _ := f.Reader.S1()
			v, t := f.GetLocal(int(idx))
			f.SetLocal(int(idx), v.(int32)+int32(delta), t)

		case opcodes.Wide:
			thrown = in.runWide(f)

		// --- stack manipulation ---
		case opcodes.Pop:
			f.Pop()
		case opcodes.Pop2:
			_, t, _ := f.Pop()
			if !t.IsWide() {
				f.Pop()
			}
		case opcodes.Dup:
			v, t, _ := f.Peek()
			f.Push(v, t)
		case opcodes.DupX1:
			v1, t1, _ := f.Pop()
			v2, t2, _ := f.Pop()
			f.Push(v1, t1)
			f.Push(v2, t2)
			f.Push(v1, t1)
		case opcodes.DupX2:
			v1, t1, _ := f.Pop()
			v2, t2, _ := f.Pop()
			if t2.IsWide() {
				f.Push(v1, t1)
				f.Push(v2, t2)
				f.Push(v1, t1)
			} else {
				v3, t3, _ := f.Pop()
				f.Push(v1, t1)
				f.Push(v3, t3)
				f.Push(v2, t2)
				f.Push(v1, t1)
			}
		case opcodes.Dup2:
			v1, t1, _ := f.Pop()
			if t1.IsWide() {
				f.Push(v1, t1)
				f.Push(v1, t1)
			} else {
				v2, t2, _ := f.Pop()
				f.Push(v2, t2)
				f.Push(v1, t1)
				f.Push(v2, t2)
				f.Push(v1, t1)
			}
		case opcodes.Dup2X1:
			v1, t1, _ := f.Pop()
			if t1.IsWide() {
				v2, t2, _ := f.Pop()
				f.Push(v1, t1)
				f.Push(v2, t2)
				f.Push(v1, t1)
			} else {
				v2, t2, _ := f.Pop()
				v3, t3, _ := f.Pop()
				f.Push(v2, t2)
				f.Push(v1, t1)
				f.Push(v3, t3)
				f.Push(v2, t2)
				f.Push(v1, t1)
			}
		case opcodes.Dup2X2:
			v1, t1, _ := f.Pop()
			if t1.IsWide() {
				v2, t2, _ := f.Pop()
				if t2.IsWide() {
					f.Push(v1, t1)
					f.Push(v2, t2)
					f.Push(v1, t1)
				} else {
					v3, t3, _ := f.Pop()
					f.Push(v1, t1)
					f.Push(v3, t3)
					f.Push(v2, t2)
					f.Push(v1, t1)
				}
			} else {
				v2, t2, _ := f.Pop()
				v3, t3, _ := f.Pop()
				if t3.IsWide() {
					f.Push(v2, t2)
					f.Push(v1, t1)
					f.Push(v3, t3)
					f.Push(v2, t2)
					f.Push(v1, t1)
				} else {
					v4, t4, _ := f.Pop()
					f.Push(v2, t2)
					f.Push(v1, t1)
					f.Push(v4, t4)
					f.Push(v3, t3)
					f.Push(v2, t2)
					f.Push(v1, t1)
				}
			}
		case opcodes.Swap:
			v1, t1, _ := f.Pop()
			v2, t2, _ := f.Pop()
			f.Push(v1, t1)
			f.Push(v2, t2)

		// --- arithmetic ---
		case opcodes.Iadd, opcodes.Isub, opcodes.Imul, opcodes.Iand, opcodes.Ior, opcodes.Ixor:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(intBinOp(arithTag(op), a.(int32), b.(int32)), types.INT)
		case opcodes.Ladd, opcodes.Lsub, opcodes.Lmul, opcodes.Land, opcodes.Lor, opcodes.Lxor:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(longBinOp(arithTag(op), a.(int64), b.(int64)), types.LONG)
		case opcodes.Fadd, opcodes.Fsub, opcodes.Fmul:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(floatBinOp(arithTag(op), a.(float32), b.(float32)), types.FLOAT)
		case opcodes.Dadd, opcodes.Dsub, opcodes.Dmul:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(doubleBinOp(arithTag(op), a.(float64), b.(float64)), types.DOUBLE)

		case opcodes.Idiv:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			bi := b.(int32)
			if bi == 0 {
				thrown = in.throwable(th, excnames.ArithmeticException, "/ by zero")
				break
			}
			f.Push(a.(int32)/bi, types.INT)
		case opcodes.Irem:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			bi := b.(int32)
			if bi == 0 {
				thrown = in.throwable(th, excnames.ArithmeticException, "/ by zero")
				break
			}
			f.Push(a.(int32)%bi, types.INT)
		case opcodes.Ldiv:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			bi := b.(int64)
			if bi == 0 {
				thrown = in.throwable(th, excnames.ArithmeticException, "/ by zero")
				break
			}
			f.Push(a.(int64)/bi, types.LONG)
		case opcodes.Lrem:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			bi := b.(int64)
			if bi == 0 {
				thrown = in.throwable(th, excnames.ArithmeticException, "/ by zero")
				break
			}
			f.Push(a.(int64)%bi, types.LONG)
		case opcodes.Fdiv:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(a.(float32)/b.(float32), types.FLOAT)
		case opcodes.Frem:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(float32(math.Mod(float64(a.(float32)), float64(b.(float32)))), types.FLOAT)
		case opcodes.Ddiv:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(a.(float64)/b.(float64), types.DOUBLE)
		case opcodes.Drem:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(math.Mod(a.(float64), b.(float64)), types.DOUBLE)

		case opcodes.Ineg:
			a, _, _ := f.Pop()
			f.Push(-a.(int32), types.INT)
		case opcodes.Lneg:
			a, _, _ := f.Pop()
			f.Push(-a.(int64), types.LONG)
		case opcodes.Fneg:
			a, _, _ := f.Pop()
			f.Push(-a.(float32), types.FLOAT)
		case opcodes.Dneg:
			a, _, _ := f.Pop()
			f.Push(-a.(float64), types.DOUBLE)

		case opcodes.Ishl:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(a.(int32)<<(uint32(b.(int32))&0x1F), types.INT)
		case opcodes.Ishr:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(a.(int32)>>(uint32(b.(int32))&0x1F), types.INT)
		case opcodes.Iushr:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(int32(uint32(a.(int32))>>(uint32(b.(int32))&0x1F)), types.INT)
		case opcodes.Lshl:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(a.(int64)<<(uint64(b.(int32))&0x3F), types.LONG)
		case opcodes.Lshr:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(a.(int64)>>(uint64(b.(int32))&0x3F), types.LONG)
		case opcodes.Lushr:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(int64(uint64(a.(int64))>>(uint64(b.(int32))&0x3F)), types.LONG)

		case opcodes.Lcmp:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(cmp64(a.(int64), b.(int64)), types.INT)
		case opcodes.Fcmpl, opcodes.Fcmpg:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(fcmp(float64(a.(float32)), float64(b.(float32)), op == opcodes.Fcmpg), types.INT)
		case opcodes.Dcmpl, opcodes.Dcmpg:
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			f.Push(fcmp(a.(float64), b.(float64), op == opcodes.Dcmpg), types.INT)

		// --- conversions ---
		case opcodes.I2l:
			a, _, _ := f.Pop()
			f.Push(int64(a.(int32)), types.LONG)
		case opcodes.I2f:
			a, _, _ := f.Pop()
			f.Push(float32(a.(int32)), types.FLOAT)
		case opcodes.I2d:
			a, _, _ := f.Pop()
			f.Push(float64(a.(int32)), types.DOUBLE)
		case opcodes.L2i:
			a, _, _ := f.Pop()
			f.Push(int32(a.(int64)), types.INT)
		case opcodes.L2f:
			a, _, _ := f.Pop()
			f.Push(float32(a.(int64)), types.FLOAT)
		case opcodes.L2d:
			a, _, _ := f.Pop()
			f.Push(float64(a.(int64)), types.DOUBLE)
		case opcodes.F2i:
			a, _, _ := f.Pop()
			f.Push(f2i(a.(float32)), types.INT)
		case opcodes.F2l:
			a, _, _ := f.Pop()
			f.Push(f2l(a.(float32)), types.LONG)
		case opcodes.F2d:
			a, _, _ := f.Pop()
			f.Push(float64(a.(float32)), types.DOUBLE)
		case opcodes.D2i:
			a, _, _ := f.Pop()
			f.Push(d2i(a.(float64)), types.INT)
		case opcodes.D2l:
			a, _, _ := f.Pop()
			f.Push(d2l(a.(float64)), types.LONG)
		case opcodes.D2f:
			a, _, _ := f.Pop()
			f.Push(float32(a.(float64)), types.FLOAT)
		case opcodes.I2b:
			a, _, _ := f.Pop()
			f.Push(int32(int8(a.(int32))), types.INT)
		case opcodes.I2c:
			a, _, _ := f.Pop()
			f.Push(int32(uint16(a.(int32))), types.INT)
		case opcodes.I2s:
			a, _, _ := f.Pop()
			f.Push(int32(int16(a.(int32))), types.INT)

		// --- array access ---
		case opcodes.Iaload, opcodes.Laload, opcodes.Faload, opcodes.Daload, opcodes.Aaload, opcodes.Baload, opcodes.Caload, opcodes.Saload:
			idx, _, _ := f.Pop()
			arrRef, _, _ := f.Pop()
			var v interface{}
			var t types.SlotType
			v, t, thrown = in.arrayLoad(th, arrRef, idx)
			if thrown == nil {
				f.Push(v, t)
			}
		case opcodes.Iastore, opcodes.Lastore, opcodes.Fastore, opcodes.Dastore, opcodes.Aastore, opcodes.Bastore, opcodes.Castore, opcodes.Sastore:
			val, _, _ := f.Pop()
			idx, _, _ := f.Pop()
			arrRef, _, _ := f.Pop()
			thrown = in.arrayStore(th, arrRef, idx, val, op)
		case opcodes.Arraylength:
			arrRef, _, _ := f.Pop()
			var l int32
			l, thrown = in.arrayLength(th, arrRef)
			if thrown == nil {
				f.Push(l, types.INT)
			}

		// --- fields ---
		case opcodes.Getstatic:
			idx, _ := f.Reader.U2()
			var v interface{}
			var t types.SlotType
			v, t, thrown = in.getStatic(th, f.Method.Owner, int(idx))
			if thrown == nil {
				f.Push(v, t)
			}
		case opcodes.Putstatic:
			idx, _ := f.Reader.U2()
			v, _, _ := f.Pop()
			thrown = in.putStatic(th, f.Method.Owner, int(idx), v)
		case opcodes.Getfield:
			idx, _ := f.Reader.U2()
			objRef, _, _ := f.Pop()
			var v interface{}
			var t types.SlotType
			v, t, thrown = in.getField(th, f.Method.Owner, int(idx), objRef)
			if thrown == nil {
				f.Push(v, t)
			}
		case opcodes.Putfield:
			idx, _ := f.Reader.U2()
			val, _, _ := f.Pop()
			objRef, _, _ := f.Pop()
			thrown = in.putField(th, f.Method.Owner, int(idx), objRef, val)

		// --- object/array allocation ---
		case opcodes.New:
			idx, _ := f.Reader.U2()
			var obj *object.Object
			obj, thrown = in.allocInstance(th, f.Method.Owner, int(idx))
			if thrown == nil {
				f.Push(obj, types.REF)
			}
		case opcodes.Newarray:
			atype, _ := f.Reader.U1()
			count, _, _ := f.Pop()
			var arr *object.Object
			arr, thrown = in.allocTypedArray(th, atype, count.(int32))
			if thrown == nil {
				f.Push(arr, types.REF)
			}
		case opcodes.Anewarray:
			idx, _ := f.Reader.U2()
			count, _, _ := f.Pop()
			var arr *object.Object
			arr, thrown = in.allocObjectArray(th, f.Method.Owner, int(idx), count.(int32))
			if thrown == nil {
				f.Push(arr, types.REF)
			}
		case opcodes.Multianewarray:
			idx, _ := f.Reader.U2()
			dims, _ := f.Reader.U1()
			counts := make([]int32, dims)
			for i := int(dims) - 1; i >= 0; i-- {
				v, _, _ := f.Pop()
				counts[i] = v.(int32)
			}
			var arr *object.Object
			arr, thrown = in.allocMultiArray(th, f.Method.Owner, int(idx), counts)
			if thrown == nil {
				f.Push(arr, types.REF)
			}

		case opcodes.Checkcast:
			idx, _ := f.Reader.U2()
			v, _, err := f.Peek()
			if err != nil {
				return nil, err
			}
			thrown = in.checkCast(th, f.Method.Owner, int(idx), v)
		case opcodes.Instanceof:
			idx, _ := f.Reader.U2()
			v, _, _ := f.Pop()
			var result int32
			result, thrown = in.instanceOf(f.Method.Owner, int(idx), v)
			if thrown == nil {
				f.Push(result, types.INT)
			}

		case opcodes.Monitorenter:
			v, _, _ := f.Pop()
			if v == nil {
				thrown = in.throwable(th, excnames.NullPointerException, "monitorenter on null reference")
				break
			}
			v.(*object.Object).MonitorEnter(th.ID)
		case opcodes.Monitorexit:
			v, _, _ := f.Pop()
			if v == nil {
				thrown = in.throwable(th, excnames.NullPointerException, "monitorexit on null reference")
				break
			}
			if err := v.(*object.Object).MonitorExit(th.ID); err != nil {
				thrown = in.throwable(th, excnames.IllegalMonitorStateException, err.Error())
			}

		// --- invocation ---
		case opcodes.Invokestatic:
			idx, _ := f.Reader.U2()
			thrown = in.doInvokeStatic(f, th, int(idx))
		case opcodes.Invokespecial:
			idx, _ := f.Reader.U2()
			thrown = in.doInvokeSpecial(f, th, int(idx))
		case opcodes.Invokevirtual:
			idx, _ := f.Reader.U2()
			thrown = in.doInvokeVirtual(f, th, int(idx))
		case opcodes.Invokeinterface:
			idx, _ := f.Reader.U2()
			f.Reader.U1() // argument count: historical, derived from the descriptor instead
			f.Reader.U1() // reserved zero byte
			thrown = in.doInvokeInterface(f, th, int(idx))
		case opcodes.Invokedynamic:
			idx, _ := f.Reader.U2()
			f.Reader.U2() // reserved
			thrown = in.doInvokeDynamic(f, th, int(idx))

		// --- branches ---
		case opcodes.Goto:
			off, _ := f.Reader.S2()
			f.Reader.SetPos(pc + int(off))
		case opcodes.GotoW:
			off, _ := f.Reader.S4()
			f.Reader.SetPos(pc + int(off))
		case opcodes.Jsr:
			off, _ := f.Reader.S2()
			f.Push(int32(f.Reader.Pos()), types.INT)
			f.Reader.SetPos(pc + int(off))
		case opcodes.JsrW:
			off, _ := f.Reader.S4()
			f.Push(int32(f.Reader.Pos()), types.INT)
			f.Reader.SetPos(pc + int(off))
		case opcodes.Ret:
			idx, _ := f.Reader.U1()
			v, _ := f.GetLocal(int(idx))
			f.Reader.SetPos(int(v.(int32)))

		case opcodes.Ifeq, opcodes.Ifne, opcodes.Iflt, opcodes.Ifge, opcodes.Ifgt, opcodes.Ifle:
			off, _ := f.Reader.S2()
			v, _, _ := f.Pop()
			if compareToZero(op, v.(int32)) {
				f.Reader.SetPos(pc + int(off))
			}
		case opcodes.IfIcmpeq, opcodes.IfIcmpne, opcodes.IfIcmplt, opcodes.IfIcmpge, opcodes.IfIcmpgt, opcodes.IfIcmple:
			off, _ := f.Reader.S2()
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			if compareInts(op, a.(int32), b.(int32)) {
				f.Reader.SetPos(pc + int(off))
			}
		case opcodes.IfAcmpeq, opcodes.IfAcmpne:
			off, _ := f.Reader.S2()
			b, _, _ := f.Pop()
			a, _, _ := f.Pop()
			eq := a == b
			if (op == opcodes.IfAcmpeq) == eq {
				f.Reader.SetPos(pc + int(off))
			}
		case opcodes.Ifnull, opcodes.Ifnonnull:
			off, _ := f.Reader.S2()
			v, _, _ := f.Pop()
			isNull := v == nil
			if (op == opcodes.Ifnull) == isNull {
				f.Reader.SetPos(pc + int(off))
			}

		case opcodes.Tableswitch:
			f.Reader.PadTo4(0)
			def, _ := f.Reader.S4()
			low, _ := f.Reader.S4()
			high, _ := f.Reader.S4()
			v, _, _ := f.Pop()
			key := v.(int32)
			if key < low || key > high {
				f.Reader.SetPos(pc + int(def))
			} else {
				skip := int(key-low) * 4
				f.Reader.SetPos(f.Reader.Pos() + skip)
				off, _ := f.Reader.S4()
				f.Reader.SetPos(pc + int(off))
			}
		case opcodes.Lookupswitch:
			f.Reader.PadTo4(0)
			def, _ := f.Reader.S4()
			npairs, _ := f.Reader.S4()
			v, _, _ := f.Pop()
			key := v.(int32)
			target := pc + int(def)
			for i := int32(0); i < npairs; i++ {
				matchVal, _ := f.Reader.S4()
				offVal, _ := f.Reader.S4()
				if matchVal == key {
					target = pc + int(offVal)
					break
				}
			}
			f.Reader.SetPos(target)

		// --- returns ---
		case opcodes.Ireturn, opcodes.Lreturn, opcodes.Freturn, opcodes.Dreturn, opcodes.Areturn:
			v, t, _ := f.Pop()
			f.ReturnValue = v
			f.ReturnType = t
			return v, nil
		case opcodes.Return:
			return nil, nil

		case opcodes.Athrow:
			v, _, _ := f.Pop()
			if v == nil {
				thrown = in.throwable(th, excnames.NullPointerException, "athrow on null reference")
			} else {
				thrown = &ThrownException{Obj: v.(*object.Object)}
			}

		case opcodes.Nop:
			// no-op

		default:
			return nil, errors.Errorf("interp: unimplemented opcode 0x%02x at pc %d in %s.%s", op, pc, f.Method.Owner.Name, f.Method.Name)
		}

		if thrown != nil {
			te, ok := thrown.(*ThrownException)
			if !ok {
				return nil, thrown
			}
			className := ""
			if te.Obj != nil {
				className = te.Obj.ClassName
			}
			handlerPC, found := f.FindHandler(pc, className, in.isAssignable)
			if !found {
				// Propagating past this frame: record it as a thread root so a
				// collection racing the unwind can still trace it, since no
				// frame's operand stack holds it once this frame returns.
				th.Thrown = te.Obj
				return nil, thrown
			}
			th.Thrown = nil
			f.ClearOperandStack()
			f.Push(te.Obj, types.REF)
			f.Reader.SetPos(handlerPC)
		}
	}
}

// runWide implements the wide prefix: the next opcode's local-variable
// index (and, for iinc, its constant) is read as a two-byte operand
// instead of one.
func (in *Interpreter) runWide(f *frame.Frame) error {
	inner, _ := f.Reader.U1()
	idx, _ := f.Reader.U2()
	switch inner {
	case opcodes.Iload, opcodes.Lload, opcodes.Fload, opcodes.Dload, opcodes.Aload:
		v, t := f.GetLocal(int(idx))
		f.Push(v, t)
	case opcodes.Istore, opcodes.Lstore, opcodes.Fstore, opcodes.Dstore, opcodes.Astore:
		v, t, _ := f.Pop()
		f.SetLocal(int(idx), v, t)
	case opcodes.Iinc:
		delta, _ := f.Reader.S2()
		v, t := f.GetLocal(int(idx))
		f.SetLocal(int(idx), v.(int32)+int32(delta), t)
	case opcodes.Ret:
		v, _ := f.GetLocal(int(idx))
		f.Reader.SetPos(int(v.(int32)))
	default:
		return errors.Errorf("wide: unsupported inner opcode 0x%02x", inner)
	}
	return nil
}

// arithTag maps an opcode to the type-independent operator tag
// intBinOp/longBinOp/floatBinOp/doubleBinOp dispatch on.
func arithTag(op byte) byte {
	switch op {
	case opcodes.Iadd, opcodes.Ladd, opcodes.Fadd, opcodes.Dadd:
		return opAdd
	case opcodes.Isub, opcodes.Lsub, opcodes.Fsub, opcodes.Dsub:
		return opSub
	case opcodes.Imul, opcodes.Lmul, opcodes.Fmul, opcodes.Dmul:
		return opMul
	case opcodes.Iand, opcodes.Land:
		return opAnd
	case opcodes.Ior, opcodes.Lor:
		return opOr
	case opcodes.Ixor, opcodes.Lxor:
		return opXor
	}
	return opAdd
}

func compareToZero(op byte, v int32) bool {
	switch op {
	case opcodes.Ifeq:
		return v == 0
	case opcodes.Ifne:
		return v != 0
	case opcodes.Iflt:
		return v < 0
	case opcodes.Ifge:
		return v >= 0
	case opcodes.Ifgt:
		return v > 0
	case opcodes.Ifle:
		return v <= 0
	}
	return false
}

func compareInts(op byte, a, b int32) bool {
	switch op {
	case opcodes.IfIcmpeq:
		return a == b
	case opcodes.IfIcmpne:
		return a != b
	case opcodes.IfIcmplt:
		return a < b
	case opcodes.IfIcmpge:
		return a >= b
	case opcodes.IfIcmpgt:
		return a > b
	case opcodes.IfIcmple:
		return a <= b
	}
	return false
}

func opcodeName(op byte) string { return fmt.Sprintf("op_0x%02x", op) }

func tosDesc(f *frame.Frame) string {
	if f.StackDepth() == 0 {
		return "<empty>"
	}
	v, t, _ := f.Peek()
	return fmt.Sprintf("%v:%s", v, t)
}
