/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package jit

import (
	"errors"
	"testing"

	"embervm/internal/classfile"
	"embervm/internal/classloader"
	"embervm/internal/opcodes"
)

func addMethod() *classloader.Method {
	code := []byte{
		opcodes.Iconst1,
		opcodes.Iconst2,
		opcodes.Iadd,
		opcodes.Ireturn,
	}
	return &classloader.Method{
		Method: classfile.Method{Name: "add", Descriptor: "()I", Code: code, MaxStack: 2, MaxLocals: 1},
		Owner:  &classloader.Klass{Name: "Arith"},
	}
}

func branchingMethod() *classloader.Method {
	// iconst_0; ifeq -> L1; iconst_1; goto L2; L1: iconst_2; L2: ireturn
	code := []byte{
		opcodes.Iconst0,           // 0
		opcodes.Ifeq, 0x00, 0x07, // 1: target pc 1+7=8? use relative math below
		opcodes.Iconst1, // 4
		opcodes.Goto, 0x00, 0x04, // 5: target 5+4=9
		opcodes.Iconst2,  // 8
		opcodes.Ireturn,  // 9
	}
	return &classloader.Method{
		Method: classfile.Method{Name: "branchy", Descriptor: "()I", Code: code, MaxStack: 2, MaxLocals: 1},
		Owner:  &classloader.Klass{Name: "Arith"},
	}
}

func TestLowerStraightLineProducesSingleBlock(t *testing.T) {
	prog, err := Lower(addMethod())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prog.Blocks) != 1 {
		t.Fatalf("expected 1 block for straight-line code, got %d", len(prog.Blocks))
	}
	last := prog.Blocks[0].Body[len(prog.Blocks[0].Body)-1]
	if last.Kind != OpReturn {
		t.Errorf("expected last op to be OpReturn, got %v", last.Kind)
	}
}

func TestLowerBranchingMethodProducesMultipleBlocks(t *testing.T) {
	prog, err := Lower(branchingMethod())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prog.Blocks) < 3 {
		t.Fatalf("expected at least 3 blocks for a conditional branch, got %d", len(prog.Blocks))
	}
}

func divMethod() *classloader.Method {
	code := []byte{
		opcodes.Iconst1,
		opcodes.Iconst0,
		opcodes.Idiv,
		opcodes.Ireturn,
	}
	return &classloader.Method{
		Method: classfile.Method{Name: "div", Descriptor: "()I", Code: code, MaxStack: 2, MaxLocals: 1},
		Owner:  &classloader.Klass{Name: "Arith"},
	}
}

func TestLowerIntegerDivEmitsCheckDivisorBeforeDiv(t *testing.T) {
	prog, err := Lower(divMethod())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := prog.Blocks[0].Body
	var sawCheck, sawDiv bool
	for _, op := range body {
		if op.Kind == OpCallHelp && op.HelpRoutine == HelpCheckDivisor {
			sawCheck = true
		}
		if op.Kind == OpDiv {
			sawDiv = true
			if !sawCheck {
				t.Fatalf("OpDiv lowered before its HelpCheckDivisor guard")
			}
		}
	}
	if !sawCheck || !sawDiv {
		t.Fatalf("expected both a HelpCheckDivisor guard and an OpDiv, got %+v", body)
	}
}

func TestFakeAssemblerDivByZeroStopsAtCheckDivisor(t *testing.T) {
	prog, err := Lower(divMethod())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantErr := errors.New("/ by zero")
	var returned bool
	help := &HelpTable{
		CheckDivisor: func(frame interface{}, divisor interface{}) error {
			if divisor.(int64) == 0 {
				return wantErr
			}
			return nil
		},
		ReturnValue: func(frame interface{}, v interface{}) {
			returned = true
		},
	}

	asm := NewFakeAssembler()
	fn, err := asm.Build(prog, help)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	var thrown error
	fn(nil, nil, nil, &thrown)
	if thrown != wantErr {
		t.Fatalf("expected CheckDivisor's error to propagate as the thrown value, got %v", thrown)
	}
	if returned {
		t.Fatalf("expected execution to stop at the zero-divisor check, but ReturnValue still ran")
	}
}

func TestLowerUnknownOpcodeReportsNotCompilable(t *testing.T) {
	code := []byte{opcodes.Invokedynamic, 0x00, 0x01, 0x00, opcodes.Areturn}
	m := &classloader.Method{
		Method: classfile.Method{Name: "dyn", Descriptor: "()Ljava/lang/Object;", Code: code, MaxStack: 1, MaxLocals: 1},
		Owner:  &classloader.Klass{Name: "Arith"},
	}
	_, err := Lower(m)
	if err == nil {
		t.Fatal("expected ErrNotCompilable for invokedynamic")
	}
	if _, ok := err.(*ErrNotCompilable); !ok {
		t.Errorf("expected *ErrNotCompilable, got %T", err)
	}
}

func TestFakeAssemblerRunsAdditionAndReturns(t *testing.T) {
	prog, err := Lower(addMethod())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result int64
	help := &HelpTable{
		ReturnValue: func(frame interface{}, v interface{}) {
			*(frame.(*int64)) = v.(int64)
		},
	}

	asm := NewFakeAssembler()
	fn, err := asm.Build(prog, help)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	fn(&result, nil, nil, nil)
	if result != 3 {
		t.Errorf("expected 1+2=3, got %d", result)
	}
}
