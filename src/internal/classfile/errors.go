/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classfile

import "github.com/pkg/errors"

// cfe ("class format error") wraps a formatted message the way
// mewmew-x/disasm/x86/x86.go and golint-fixer-exp/cmd/bin2ll/ll.go use
// github.com/pkg/errors directly: call-site context attached without
// losing the ability to unwrap to the original cause elsewhere.
func cfe(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap attaches additional context to an existing error without
// discarding it, for the decoder's higher-level callers (e.g. "while
// decoding method %d").
func Wrap(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
