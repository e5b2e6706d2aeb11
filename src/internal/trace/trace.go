/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package trace formats the interpreter's optional per-instruction
// trace line. Split out of internal/interp so the format stays in
// one place, mirroring artipop-jacobin's
// jacobin/trace package.
package trace

import "fmt"

// Instruction formats one interpreter step for -trace output, matching
// the columns jacobin's jvm/run.go builds inline: class, method,
// PC, opcode name, and the top-of-stack slot.
func Instruction(class, method string, pc int, opcodeName string, tosDesc string) string {
	return fmt.Sprintf("class: %-16s meth: %-16s PC: %4d  %-16s TOS: %s",
		class, method, pc, opcodeName, tosDesc)
}
