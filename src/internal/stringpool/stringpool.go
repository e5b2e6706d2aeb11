/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package stringpool implements the JVM's string-interning table,
// shared by the class loader (constant-pool string literals) and the
// interpreter's LDC opcode handling. Mined from artipop-jacobin's
// jacobin/stringPool import in classloader.go.
package stringpool

import "sync"

// ObjectRef is anything the heap can hand back for an interned string;
// kept as an opaque interface{} here (rather than *object.Object) so
// this package has no import-cycle dependency on internal/object.
type ObjectRef = interface{}

// Pool is the process-wide intern table: Go-string content to the heap
// object representing it.
type Pool struct {
	mutex   sync.RWMutex
	entries map[string]ObjectRef
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{entries: make(map[string]ObjectRef)}
}

// GetOrCreate returns the existing interned object for s if present;
// otherwise it calls create(), stores the result, and returns it. This
// mirrors the ldc opcode's "has this literal already been interned"
// check.
func (p *Pool) GetOrCreate(s string, create func() ObjectRef) ObjectRef {
	p.mutex.RLock()
	if obj, ok := p.entries[s]; ok {
		p.mutex.RUnlock()
		return obj
	}
	p.mutex.RUnlock()

	p.mutex.Lock()
	defer p.mutex.Unlock()
	// re-check: another thread may have interned it while we waited
	// for the write lock.
	if obj, ok := p.entries[s]; ok {
		return obj
	}
	obj := create()
	p.entries[s] = obj
	return obj
}

// Get looks up s without creating it.
func (p *Pool) Get(s string) (ObjectRef, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	obj, ok := p.entries[s]
	return obj, ok
}

// Remove drops s from the pool by key. The GC's sweep does not use it;
// it calls RemoveByValue, since it holds the object rather than the key.
func (p *Pool) Remove(s string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.entries, s)
}

// RemoveByValue removes whichever key currently maps to obj, used by
// the sweep when it has the object but not (efficiently) its backing
// string. O(n) in pool size; the sweep only calls this for objects it
// has already identified as unreachable strings, which is rare
// relative to total allocation volume.
func (p *Pool) RemoveByValue(obj ObjectRef) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for k, v := range p.entries {
		if v == obj {
			delete(p.entries, k)
			return
		}
	}
}

// Len reports the number of interned strings.
func (p *Pool) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.entries)
}
