/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package gc

import (
	"testing"

	"embervm/internal/classfile"
	"embervm/internal/classloader"
	"embervm/internal/frame"
	"embervm/internal/heap"
	"embervm/internal/object"
	"embervm/internal/types"
	"embervm/internal/vmthread"
)

func newTestCollector() (*Collector, *classloader.Loader, *heap.Heap, *vmthread.Registry) {
	loader := classloader.NewLoader("test", "", classloader.NewClasspath(""))
	h := heap.New(loader)
	threads := vmthread.NewRegistry()
	return New(h, loader, threads, nil), loader, h, threads
}

func plainKlass(name string) *classloader.Klass {
	return &classloader.Klass{Name: name}
}

func TestCollectKeepsRootReachableAndDropsUnreachable(t *testing.T) {
	c, loader, h, threads := newTestCollector()
	loader.Register("Widget", plainKlass("Widget"))

	reachable := h.NewInstance(1, plainKlass("Widget"))
	unreachable := h.NewInstance(1, plainKlass("Widget"))

	th := threads.Spawn(h)
	th.Top = &frame.Frame{
		Locals:     []interface{}{reachable},
		LocalTypes: []types.SlotType{types.REF},
	}

	parked := make(chan struct{})
	go func() {
		close(parked)
		th.Safepoint(threads)
	}()
	<-parked

	if err := c.CollectNow(); err != nil {
		t.Fatalf("unexpected collection error: %v", err)
	}

	kept := h.HolderFor(1).Snapshot()
	foundReachable, foundUnreachable := false, false
	for _, o := range kept {
		if o == reachable {
			foundReachable = true
		}
		if o == unreachable {
			foundUnreachable = true
		}
	}
	if !foundReachable {
		t.Errorf("root-referenced object was collected")
	}
	if foundUnreachable {
		t.Errorf("unreachable object survived the sweep")
	}
}

func TestCollectTracesStaticFieldsAndClassMirrors(t *testing.T) {
	c, loader, h, threads := newTestCollector()

	held := h.NewInstance(1, plainKlass("Widget"))
	k := plainKlass("Holder")
	k.Shape = types.ShapeInstance
	k.InitState = types.Initialised
	k.StaticFields = map[string]*classloader.StaticField{
		"instance": {
			Field: &classloader.Field{Name: "instance", SlotType: types.REF},
			Value: held,
		},
	}
	loader.Register("Holder", k)
	loader.Register("Widget", plainKlass("Widget"))

	mirror := h.Mirror(1, k)

	th := threads.Spawn(h)
	th.Top = &frame.Frame{}
	parked := make(chan struct{})
	go func() {
		close(parked)
		th.Safepoint(threads)
	}()
	<-parked

	if err := c.CollectNow(); err != nil {
		t.Fatalf("unexpected collection error: %v", err)
	}

	kept := h.HolderFor(1).Snapshot()
	var foundHeld, foundMirror bool
	for _, o := range kept {
		if o == held {
			foundHeld = true
		}
		if o == mirror {
			foundMirror = true
		}
	}
	if !foundHeld {
		t.Errorf("object referenced only by a static field was collected")
	}
	if !foundMirror {
		t.Errorf("class mirror was collected")
	}
}

func TestCollectAbortsWhenMutatorIsInNativeCall(t *testing.T) {
	c, _, h, threads := newTestCollector()
	c.StopTimeout = 20_000_000 // 20ms, keep the test fast

	th := threads.Spawn(h)
	th.EnterNative()

	err := c.CollectNow()
	if err == nil {
		t.Fatalf("expected collection to abort while a thread is in a native call")
	}
	if _, ok := err.(*ErrCollectionAborted); !ok {
		t.Errorf("expected *ErrCollectionAborted, got %T: %v", err, err)
	}
}

// finalizeOwner is a distinct class from java/lang/Object so
// needsFinalization's "non-trivial override" check passes.
func finalizeOwner() *classloader.Klass {
	owner := plainKlass("Doomed")
	m := &classloader.Method{
		Method: classfile.Method{Name: "finalize", Descriptor: "()V"},
		Owner:  owner,
	}
	owner.MethodTable = map[string]*classloader.Method{"finalize()V": m}
	return owner
}

func TestSweepEnqueuesFinalizableSurvivorInsteadOfDestroyingIt(t *testing.T) {
	c, loader, h, threads := newTestCollector()
	loader.Register("Doomed", finalizeOwner())

	doomed := h.NewInstance(1, plainKlass("Doomed"))

	th := threads.Spawn(h)
	th.Top = &frame.Frame{}
	parked := make(chan struct{})
	go func() {
		close(parked)
		th.Safepoint(threads)
	}()
	<-parked

	if err := c.CollectNow(); err != nil {
		t.Fatalf("unexpected collection error: %v", err)
	}

	kept := h.HolderFor(1).Snapshot()
	var survived bool
	for _, o := range kept {
		if o == doomed {
			survived = true
		}
	}
	if !survived {
		t.Fatalf("finalizable object was destroyed instead of surviving for finalization")
	}
	if !doomed.Mark.Finalized {
		t.Errorf("finalizable object was not marked Finalized")
	}

	var ranOn *object.Object
	c.RunFinalizer = func(obj *object.Object) error {
		ranOn = obj
		return nil
	}
	c.RunFinalizers()
	if ranOn != doomed {
		t.Errorf("expected RunFinalizer to run on the enqueued object, got %v", ranOn)
	}

	// th has already returned from its one Safepoint call and won't make
	// another; drop it so it doesn't block the next cycle's AllStopped check.
	threads.Remove(th.ID)

	// A second collection with nothing else changed destroys it for real,
	// since Finalized is now true.
	th2 := threads.Spawn(h)
	th2.Top = &frame.Frame{}
	parked2 := make(chan struct{})
	go func() {
		close(parked2)
		th2.Safepoint(threads)
	}()
	<-parked2
	if err := c.CollectNow(); err != nil {
		t.Fatalf("unexpected collection error on second cycle: %v", err)
	}
	kept = h.HolderFor(1).Snapshot()
	for _, o := range kept {
		if o == doomed {
			t.Errorf("finalized object should have been destroyed on its second unreachable cycle")
		}
	}
}
