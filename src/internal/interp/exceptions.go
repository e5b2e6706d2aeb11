/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package interp

import (
	"fmt"

	"embervm/internal/classloader"
	"embervm/internal/excnames"
	"embervm/internal/object"
	"embervm/internal/vmthread"
)

// ThrownException wraps a live Java exception/error object as a Go
// error so it can travel up through ordinary function returns from
// runFrame and Invoke. Only this type is consulted against a frame's
// exception table; any other error is a fatal VM condition, not
// something bytecode can catch.
type ThrownException struct {
	Obj *object.Object
}

func (t *ThrownException) Error() string {
	if t.Obj == nil {
		return "thrown exception (nil)"
	}
	return t.Obj.ClassName
}

// throwable builds and wraps a fresh instance of className as a
// ThrownException, the form every built-in runtime check raises.
func (in *Interpreter) throwable(th *vmthread.Thread, className, message string) error {
	return &ThrownException{Obj: in.newException(th, className, message)}
}

// newException allocates an instance of className, running its class
// initializer and populating detailMessage if the class declares one.
// When className isn't reachable on the classpath (common for a
// minimal bootstrap classpath exercising only a handful of runtime
// exceptions), a bare instance is fabricated so the exception can
// still be thrown and matched by name.
func (in *Interpreter) newException(th *vmthread.Thread, className, message string) *object.Object {
	k, err := in.Loader.LoadClass(className)
	if err != nil {
		return fabricatedException(className, message)
	}
	if err := in.Loader.Initialize(k, th.ID, in.clinitFor(th)); err != nil {
		return fabricatedException(className, message)
	}
	obj := in.Heap.NewInstance(th.ID, k)
	if field, ferr := in.Loader.FindField(k, "detailMessage"); ferr == nil {
		obj.Fields[field.SlotID] = in.Heap.NewString(th.ID, []byte(message))
	}
	return obj
}

func fabricatedException(className, message string) *object.Object {
	return &object.Object{
		ClassName: className,
		Fields:    []interface{}{[]byte(message)},
	}
}

// arrayIndexException turns an *object.ArrayIndexError from an array
// access into the matching catchable Java exception.
func (in *Interpreter) arrayIndexException(th *vmthread.Thread, err error) error {
	if aie, ok := err.(*object.ArrayIndexError); ok {
		return in.throwable(th, excnames.ArrayIndexOutOfBoundsException,
			fmt.Sprintf("Index %d out of bounds for length %d", aie.Index, aie.Length))
	}
	return err
}

// classError maps a class-loader failure reached mid-execution into a
// catchable Java exception. Classloader errors it doesn't recognize
// (including the package's unexported vmError) default to
// NoClassDefFoundError, which is what the JVM itself raises for most
// link-time resolution failures.
func (in *Interpreter) classError(th *vmthread.Thread, err error) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*ThrownException); ok {
		return te
	}
	switch e := err.(type) {
	case *classloader.ErrClassNotFound:
		return in.throwable(th, excnames.ClassNotFoundException, e.Name)
	case *classloader.ErrNoClassDefFound:
		return in.throwable(th, excnames.NoClassDefFoundError, e.Name)
	}
	return in.throwable(th, excnames.NoClassDefFoundError, err.Error())
}
