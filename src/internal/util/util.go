/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package util collects the small string/descriptor helpers every
// layer of the VM needs repeatedly: splitting a method descriptor into
// its parameter and return types, and classpath-separator handling
//.
package util

import (
	"runtime"
	"strings"
)

// ParseMethodDescriptor splits a JVM method descriptor such as
// "(ILjava/lang/String;)V" into its ordered parameter descriptors and
// its return descriptor.
func ParseMethodDescriptor(desc string) (params []string, ret string) {
	if len(desc) < 2 || desc[0] != '(' {
		return nil, ""
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		start := i
		for desc[i] == '[' {
			i++
		}
		switch desc[i] {
		case 'L':
			for desc[i] != ';' {
				i++
			}
			i++
		default:
			i++
		}
		params = append(params, desc[start:i])
	}
	if i+1 <= len(desc) {
		ret = desc[i+1:]
	}
	return params, ret
}

// IsCategory2 reports whether a single field/return descriptor is a
// long or double.
func IsCategory2(desc string) bool {
	return desc == "J" || desc == "D"
}

// ClasspathSeparator returns the platform path-list separator jacobin
// uses for the CLASSPATH-style string.
func ClasspathSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

// SplitClasspath splits a classpath string on the platform separator,
// dropping empty segments.
func SplitClasspath(cp string) []string {
	sep := ClasspathSeparator()
	parts := strings.Split(cp, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NameToPath converts an internal class name ("java/lang/String") to
// the ".class" resource name the classpath collaborator looks up
// ("java/lang/String.class").
func NameToPath(internalName string) string {
	return internalName + ".class"
}

// IsArrayDescriptor reports whether a class/descriptor name denotes an
// array type.
func IsArrayDescriptor(name string) bool {
	return strings.HasPrefix(name, "[")
}
