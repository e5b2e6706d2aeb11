/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package shutdown centralises the VM's process-exit paths so that a
// fatal error always goes through one choke point,
// and so tests can intercept the exit instead of killing the test
// binary.
package shutdown

import "os"

// Exit codes returned to the OS.
const (
	OK             = 0
	APP_EXCEPTION  = 1 // an uncaught managed exception reached the top frame
	JVM_EXCEPTION  = 2 // a linkage failure (ClassNotFound, NoClassDefFound, ...)
	UNKNOWN_ERROR  = 3 // an invariant violation internal to the VM
)

// ExitFunc is called by Exit. Tests replace it to capture the code
// instead of terminating the process.
var ExitFunc = os.Exit

// Exit terminates the VM with the given code.
func Exit(code int) {
	ExitFunc(code)
}
