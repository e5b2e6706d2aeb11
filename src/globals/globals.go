/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package globals holds the handful of process-wide values the rest of
// the VM needs to reach without threading them through every call: the
// VM's own identity and the parsed command line. Live thread
// bookkeeping lives in internal/vmthread.Registry instead, since the GC
// needs typed *vmthread.Thread values for root-scanning, not this
// package's interface{}-erased ones.
package globals

import (
	"sync"
	"time"
)

// VerifyLevel mirrors the commented-out enum jacobin's globals.go
// sketched (`verifyLevel.remote`) but never implemented in Go. Bytecode
// structural verification itself is a Non-goal; the setting is still
// carried in Globals.VerifyBytecode, though no other package reads it.
type VerifyLevel int

const (
	VerifyNone VerifyLevel = iota
	VerifyRemote
	VerifyAll
)

// Option is one parsed command-line option: whether it was set, and
// its string argument (if any). Mirrors the shape `jvm/run.go` already
// assumes (`globals.Options["-trace"]` with a `.Set` field).
type Option struct {
	Set bool
	Arg string
}

// Globals is the single process-wide configuration/bookkeeping block.
type Globals struct {
	// ---- version ----
	Version string

	// ---- logging ----
	LogLevel  int
	StartTime time.Time

	// ---- command-line items ----
	JacobinName string
	Args        []string
	CommandLine string
	Options     map[string]Option

	// ---- classloading items ----
	VerifyBytecode   VerifyLevel
	AssertionStatus  bool
	StrictJDK        bool
	Classpath        string

	// ---- runtime bookkeeping ----
	JvmFrameStackShown bool
}

var (
	globalPointer *Globals
	once          sync.Once
)

// InitGlobals (re)initialises the process-wide Globals and returns it.
// Safe to call repeatedly from tests; each call produces a fresh block
// so test state never leaks across tests, matching how
// errors_test.go expects globals.InitGlobals("test") to reset state.
func InitGlobals(progName string) *Globals {
	g := &Globals{
		Version:     "0.1.0",
		LogLevel:    1, // log.WARNING, duplicated here to avoid an import cycle with package log
		StartTime:   time.Now(),
		JacobinName: progName,
		Options:     make(map[string]Option),
	}
	globalPointer = g
	return g
}

// GetGlobalRef returns the current Globals, initialising a default one
// on first use so packages that run before main() (like package-level
// init in tests) never see a nil pointer.
func GetGlobalRef() *Globals {
	once.Do(func() {
		if globalPointer == nil {
			globalPointer = InitGlobals("embervm")
		}
	})
	if globalPointer == nil {
		globalPointer = InitGlobals("embervm")
	}
	return globalPointer
}

