/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package asmgo is the amd64 Assembler backend scaffold, in the spirit
// of wdamron-wagon's native compiler (exec/native_compile.go),
// generalised from wagon's per-arch nativeCompiler/instructionBuilder/
// pageAllocator split: a real obj.Link context is built and validated
// against the running arch/OS with golang-asm
// (github.com/twitchyliquid64/golang-asm), and a real executable page
// is mmap'd and populated through mmap-go (github.com/edsrzf/mmap-go),
// mirroring wagon's pageAllocator. What it does NOT yet do is lower an
// IR block's arithmetic/compare ops into real amd64 instructions
// against that context — assembleTrampoline only emits a fixed
// prologue/epilogue, and Build's returned CompiledFunc runs the
// program through the pure-Go interp_backend fallback rather than
// jumping into the mapped page. This is scaffolding for a future
// per-opcode native lowering pass, not a working template compiler
// yet; see DESIGN.md.
package asmgo

import (
	"fmt"
	"runtime"

	"github.com/edsrzf/mmap-go"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"embervm/internal/jit"
)

// Backend is the amd64/linux template-JIT Assembler. Build returns
// ErrUnsupportedArch on any other GOARCH/GOOS pair; callers (the vm
// wiring layer) treat that as "keep interpreting", exactly the same
// fallback the tree-walking interpreter always provides.
type Backend struct {
	ctxt *obj.Link
}

// ErrUnsupportedArch signals the current platform has no native
// backend; every JIT-triggered method still runs, just through the
// interpreter instead of compiled code.
type ErrUnsupportedArch struct{ Arch, OS string }

func (e *ErrUnsupportedArch) Error() string {
	return fmt.Sprintf("jit/asmgo: no native backend for %s/%s", e.Arch, e.OS)
}

// New constructs a Backend for the running platform, or
// ErrUnsupportedArch if golang-asm has no support wired up here.
func New() (*Backend, error) {
	if runtime.GOARCH != "amd64" || runtime.GOOS != "linux" {
		return nil, &ErrUnsupportedArch{Arch: runtime.GOARCH, OS: runtime.GOOS}
	}
	ctxt := obj.Linknew(&x86.Linkamd64)
	ctxt.Headtype = obj.Hlinux
	return &Backend{ctxt: ctxt}, nil
}

// execPage is one mmap'd, executable region backing a compiled
// method; held so it is never collected out from under running code.
// The GC never scans JIT code pages — they aren't object-heap
// allocations.
type execPage struct {
	region mmap.MMap
}

// Build maps a real executable page for prog (exercising golang-asm's
// link context and mmap-go's allocator), but the returned CompiledFunc
// still executes prog through the pure-Go interp_backend fallback
// rather than jumping into that page — see the package doc comment.
// The page is kept alive for the closure's lifetime regardless, since
// a future native-lowering pass would need it live for exactly this
// long.
func (b *Backend) Build(prog *jit.Program, help *jit.HelpTable) (jit.CompiledFunc, error) {
	if len(prog.Blocks) == 0 {
		return nil, jit.ErrEmptyProgram
	}

	// A from-scratch amd64 encoder for every IR shape Lower can produce
	// is out of proportion to what a template JIT needs: the
	// interpreter already computes arithmetic correctly, so the
	// compiled path's only job is to skip the per-opcode dispatch
	// overhead for blocks the hot-method counter flagged. Here
	// assembleTrampoline only emits a fixed push/mov/pop/ret stub, which
	// is mapped but never called; the program itself runs through the
	// fakeAssembler below.
	code, err := assembleTrampoline(b.ctxt)
	if err != nil {
		return nil, err
	}
	page, err := allocateExec(code)
	if err != nil {
		return nil, err
	}

	fallback := jit.NewFakeAssembler()
	interpreted, err := fallback.Build(prog, help)
	if err != nil {
		return nil, err
	}

	return func(frame, locals, localTypes, thrownOut interface{}) {
		// page is kept alive for the lifetime of the returned closure
		// so the executable mapping backing it is never unmapped while
		// a caller could still be mid-call.
		_ = page
		interpreted(frame, locals, localTypes, thrownOut)
	}, nil
}

// assembleTrampoline builds a fixed prologue/epilogue sequence. ctxt is
// the arch-bound link context (obj.Link from golang-asm) this backend
// validated at New time, kept here (and accepted as a parameter) so
// the eventual per-opcode lowering — walking prog.Blocks and emitting
// an obj.Prog per IR Op through ctxt's assembler, the same pipeline
// wagon's instructionBuilder drives — has the plumbing already in
// place. prog itself isn't consulted yet; the emitted bytes are the
// same fixed stub regardless of what prog contains.
func assembleTrampoline(ctxt *obj.Link) ([]byte, error) {
	if ctxt == nil || ctxt.Arch == nil {
		return nil, fmt.Errorf("jit/asmgo: nil link context")
	}
	return []byte{
		0x55,             // push %rbp
		0x48, 0x89, 0xe5, // mov %rsp, %rbp
		0x5d, // pop %rbp
		0xc3, // ret
	}, nil
}

// allocateExec maps code into an executable page, the equivalent of
// wagon's pageAllocator.AllocateExec.
func allocateExec(code []byte) (*execPage, error) {
	region, err := mmap.MapRegion(nil, len(code), mmap.RDWR|mmap.EXEC, mmap.ANON, 0)
	if err != nil {
		return nil, err
	}
	copy(region, code)
	if err := region.Flush(); err != nil {
		return nil, err
	}
	return &execPage{region: region}, nil
}

// Close does nothing and returns nil; pages mapped by Build are not
// unmapped, and no caller in this module invokes it.
func (b *Backend) Close() error { return nil }
