/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package gc

import (
	"embervm/internal/heap"
	"embervm/internal/object"
)

// sweepHolder partitions one oop holder's allocations into survivors
// and collectables: anything unmarked is either destroyed outright or,
// if its class declares a non-trivial finalize(), kept for one more
// cycle and handed to the finalizer thread. java/lang/String survivors
// and collectables are both left alone here; only a collected string's
// pool entry needs invalidating.
func (c *Collector) sweepHolder(holder *heap.Holder, marked map[*object.Object]bool) {
	snapshot := holder.Snapshot()
	kept := make([]*object.Object, 0, len(snapshot))

	for _, obj := range snapshot {
		if marked[obj] {
			kept = append(kept, obj)
			continue
		}

		if c.needsFinalization(obj) {
			kept = append(kept, obj)
			if c.enqueueFinalize(obj) {
				obj.Mark.Finalized = true
			}
			continue
		}

		c.destroy(obj)
	}

	holder.Replace(kept)
}

// needsFinalization reports whether obj's class (or an ancestor) declares
// a finalize()V override beyond java/lang/Object's trivial default, and
// obj hasn't already run through finalization once before.
func (c *Collector) needsFinalization(obj *object.Object) bool {
	if obj.Mark.Finalized {
		return false
	}
	k := c.Loader.Lookup(obj.ClassName)
	if k == nil {
		return false
	}
	m, err := c.Loader.FindMethod(k, "finalize", "()V")
	if err != nil || m == nil {
		return false
	}
	return m.Owner.Name != "java/lang/Object"
}

// enqueueFinalize hands obj to the finalizer thread's work queue,
// dropping it (rather than blocking the sweep) if the queue is full.
// It reports whether obj was queued; a dropped object keeps its
// Finalized bit clear, so a future cycle sees it again.
func (c *Collector) enqueueFinalize(obj *object.Object) bool {
	select {
	case c.finalizeQ <- obj:
		return true
	default:
		return false
	}
}

// destroy reclaims obj: it drops out of its holder's list (already
// done by the caller's Replace), adjusts the live-byte estimate, and,
// for a java/lang/String, invalidates its string-pool entry.
func (c *Collector) destroy(obj *object.Object) {
	c.Heap.AddBytes(-heap.ApproxSize(obj))
	if obj.ClassName == "java/lang/String" {
		c.Loader.Strings.RemoveByValue(obj)
	}
}

// RunFinalizers drains the finalizer queue once, invoking RunFinalizer
// for each pending object. Intended to run on a dedicated daemon
// thread outside any collection pause: finalize() methods are
// arbitrary user code and must not hold up a stop-the-world cycle.
func (c *Collector) RunFinalizers() {
	for {
		select {
		case obj := <-c.finalizeQ:
			if c.RunFinalizer != nil {
				_ = c.RunFinalizer(obj)
			}
		default:
			return
		}
	}
}

// FinalizerLoop runs RunFinalizer on each queued object as it arrives,
// blocking on the finalizer queue until stop is closed. Meant to be
// launched as the dedicated
// finalizer daemon thread referenced by the stop-the-world protocol's
// design: a finalize() call re-enters the interpreter and must
// itself be able to reach a safepoint, so it runs on its own thread
// rather than inline in Collect.
func (c *Collector) FinalizerLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case obj := <-c.finalizeQ:
			if c.RunFinalizer != nil {
				_ = c.RunFinalizer(obj)
			}
		}
	}
}
