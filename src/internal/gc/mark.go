/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package gc

import (
	"embervm/internal/classloader"
	"embervm/internal/object"
	"embervm/internal/types"
)

// mark depth-first traces obj and everything reachable from it,
// recording each visited object in marked so sweep can tell reachable
// from collectable and so a cycle in the object graph terminates
// instead of looping forever.
func mark(obj *object.Object, loader *classloader.Loader, marked map[*object.Object]bool) {
	if obj == nil || marked[obj] {
		return
	}
	marked[obj] = true

	switch obj.Shape {
	case types.ShapeInstance:
		markInstanceFields(obj, loader, marked)
	case types.ShapeObjectArray:
		if obj.ElementType != types.REF {
			return
		}
		for _, e := range obj.Elements {
			if child, ok := e.(*object.Object); ok {
				mark(child, loader, marked)
			}
		}
	case types.ShapeTypeArray:
		// primitive elements, nothing further to trace
	}
}

// markInstanceFields marks every REF-typed instance field of obj,
// resolved by walking obj's class and its superclass chain the same
// way heap.fieldSlotCount lays slots out in the first place. A class
// absent from the loader (a fabricated built-in exception with no
// backing class file) simply has no fields to walk, which is safe:
// the object itself is already marked.
func markInstanceFields(obj *object.Object, loader *classloader.Loader, marked map[*object.Object]bool) {
	k := loader.Lookup(obj.ClassName)
	for k != nil {
		for _, f := range k.Fields {
			if f.IsStatic() || f.SlotType != types.REF {
				continue
			}
			if f.SlotID >= len(obj.Fields) {
				continue
			}
			if child, ok := obj.Fields[f.SlotID].(*object.Object); ok {
				mark(child, loader, marked)
			}
		}
		if k.Superclass == "" {
			break
		}
		k = loader.Lookup(k.Superclass)
	}
}
