/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package excnames names the platform throwable classes the
// interpreter, the JIT help routines, and the class loader raise
// directly. Centralised here (mined from
// artipop-jacobin's jacobin/excNames import) so a catch-class
// comparison and a thrown object's construction always use the same
// string.
package excnames

const (
	ArithmeticException          = "java/lang/ArithmeticException"
	ArrayIndexOutOfBoundsException = "java/lang/ArrayIndexOutOfBoundsException"
	ArrayStoreException          = "java/lang/ArrayStoreException"
	BootstrapMethodError         = "java/lang/BootstrapMethodError"
	ClassCastException           = "java/lang/ClassCastException"
	ClassNotFoundException       = "java/lang/ClassNotFoundException"
	IllegalMonitorStateException = "java/lang/IllegalMonitorStateException"
	NegativeArraySizeException   = "java/lang/NegativeArraySizeException"
	NoClassDefFoundError         = "java/lang/NoClassDefFoundError"
	NullPointerException         = "java/lang/NullPointerException"
	OutOfMemoryError             = "java/lang/OutOfMemoryError"
	StackOverflowError           = "java/lang/StackOverflowError"
	UnsatisfiedLinkError         = "java/lang/UnsatisfiedLinkError"
	VerifyError                  = "java/lang/VerifyError"
	Throwable                    = "java/lang/Throwable"
	Object                       = "java/lang/Object"
	StringClass                 = "java/lang/String"
)
