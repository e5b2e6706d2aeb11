/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package cfg

import (
	"testing"

	"embervm/internal/classfile"
	"embervm/internal/opcodes"
)

// assertPartition checks invariant: blocks are
// half-open, contiguous, non-overlapping, and together cover exactly
// [0, codeLen).
func assertPartition(t *testing.T, g *Graph, codeLen int) {
	t.Helper()
	if len(g.Blocks) == 0 {
		t.Fatal("expected at least one block")
	}
	if g.Blocks[0].Start != 0 {
		t.Errorf("expected first block to start at 0, got %d", g.Blocks[0].Start)
	}
	for i, b := range g.Blocks {
		if b.Start >= b.End {
			t.Errorf("block %d is empty or inverted: [%d,%d)", i, b.Start, b.End)
		}
		if i+1 < len(g.Blocks) && b.End != g.Blocks[i+1].Start {
			t.Errorf("block %d ends at %d but block %d starts at %d", i, b.End, i+1, g.Blocks[i+1].Start)
		}
	}
	if g.Blocks[len(g.Blocks)-1].End != codeLen {
		t.Errorf("expected last block to end at codeLen %d, got %d", codeLen, g.Blocks[len(g.Blocks)-1].End)
	}
}

func TestBuildStraightLineCode(t *testing.T) {
	code := []byte{opcodes.Iconst0, opcodes.Iconst1, opcodes.Iadd, opcodes.Ireturn}
	g, err := Build(&classfile.Method{Code: code})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertPartition(t, g, len(code))
	if len(g.Blocks) != 1 {
		t.Errorf("expected 1 block for straight-line code, got %d", len(g.Blocks))
	}
}

func TestBuildConditionalBranchSplitsBlocks(t *testing.T) {
	// iconst_0; ifeq +7 (to pc 8); iconst_1; goto +4 (to pc 9); iconst_2; ireturn
	code := []byte{
		opcodes.Iconst0,               // 0
		opcodes.Ifeq, 0x00, 0x07,       // 1: branch to pc 8
		opcodes.Iconst1,               // 4
		opcodes.Goto, 0x00, 0x04,       // 5: branch to pc 9
		opcodes.Iconst2,               // 8
		opcodes.Ireturn,                // 9
	}
	g, err := Build(&classfile.Method{Code: code})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertPartition(t, g, len(code))

	leaders := make(map[int]bool)
	for _, b := range g.Blocks {
		leaders[b.Start] = true
	}
	for _, want := range []int{0, 4, 8, 9} {
		if !leaders[want] {
			t.Errorf("expected a leader at pc %d, leaders=%v", want, leaders)
		}
	}
}

func TestBuildTableswitchPadsFromCodeStart(t *testing.T) {
	// nop (pc 0); tableswitch at pc 1, padded to pc 4; default=0, low=0, high=1,
	// two 4-byte jump offsets.
	code := []byte{
		opcodes.Nop,
		opcodes.Tableswitch, 0, 0, // padding bytes at pc 2,3 to reach pc 4
		0, 0, 0, 20, // default offset -> pc 21
		0, 0, 0, 0, // low = 0
		0, 0, 0, 1, // high = 1
		0, 0, 0, 30, // offset[0] -> pc 31
		0, 0, 0, 40, // offset[1] -> pc 41
	}
	// pad out the rest of the method so targets are in range
	full := make([]byte, 50)
	copy(full, code)
	for i := len(code); i < len(full); i++ {
		full[i] = opcodes.Nop
	}
	full[len(full)-1] = opcodes.Return

	g, err := Build(&classfile.Method{Code: full})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertPartition(t, g, len(full))

	leaders := make(map[int]bool)
	for _, b := range g.Blocks {
		leaders[b.Start] = true
	}
	for _, want := range []int{21, 31, 41} {
		if !leaders[want] {
			t.Errorf("expected a leader at pc %d from tableswitch targets, leaders=%v", want, leaders)
		}
	}
}

func TestBlockContaining(t *testing.T) {
	code := []byte{opcodes.Iconst0, opcodes.Ifeq, 0, 4, opcodes.Iconst1, opcodes.Ireturn}
	g, err := Build(&classfile.Method{Code: code})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx := g.BlockContaining(0); idx != 0 {
		t.Errorf("expected block 0 at pc 0, got %d", idx)
	}
	if idx := g.BlockContaining(len(code)); idx != -1 {
		t.Errorf("expected -1 past end of code, got %d", idx)
	}
}
