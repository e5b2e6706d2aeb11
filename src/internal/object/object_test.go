/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package object

import (
	"sync"
	"testing"

	"embervm/internal/types"
)

func TestNewTypeArrayZeroesElements(t *testing.T) {
	arr := NewTypeArray("[I", types.INT, 3)
	if arr.Len() != 3 {
		t.Fatalf("expected length 3, got %d", arr.Len())
	}
	for i := 0; i < 3; i++ {
		v, err := arr.At(i)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.(int32) != 0 {
			t.Errorf("expected zero at %d, got %v", i, v)
		}
	}
}

func TestArrayBoundsChecked(t *testing.T) {
	arr := NewTypeArray("[I", types.INT, 2)
	if _, err := arr.At(2); err == nil {
		t.Error("expected ArrayIndexError for index == length")
	}
	if _, err := arr.At(-1); err == nil {
		t.Error("expected ArrayIndexError for negative index")
	}
	if err := arr.SetAt(5, int32(1)); err == nil {
		t.Error("expected ArrayIndexError on out-of-bounds SetAt")
	}
}

func TestMonitorReentrantForSameThread(t *testing.T) {
	obj := NewInstance("Foo", 0)
	obj.MonitorEnter(1)
	obj.MonitorEnter(1) // reentrant
	if obj.HoldCount() != 2 {
		t.Fatalf("expected hold count 2, got %d", obj.HoldCount())
	}
	if err := obj.MonitorExit(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.HoldCount() != 1 {
		t.Fatalf("expected hold count 1 after one exit, got %d", obj.HoldCount())
	}
	if err := obj.MonitorExit(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.HoldCount() != 0 {
		t.Fatalf("expected hold count 0, got %d", obj.HoldCount())
	}
}

func TestMonitorExitByNonOwnerFails(t *testing.T) {
	obj := NewInstance("Foo", 0)
	obj.MonitorEnter(1)
	if err := obj.MonitorExit(2); err == nil {
		t.Error("expected error when a non-owning thread releases the monitor")
	}
}

func TestMonitorBlocksOtherThreadUntilReleased(t *testing.T) {
	obj := NewInstance("Foo", 0)
	obj.MonitorEnter(1)

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		obj.MonitorEnter(2)
		close(acquired)
		obj.MonitorExit(2)
	}()

	select {
	case <-acquired:
		t.Fatal("second thread acquired monitor while first thread still holds it")
	default:
	}

	if err := obj.MonitorExit(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wg.Wait()
}

func TestIdentityHashStableAcrossCalls(t *testing.T) {
	obj := NewInstance("Foo", 0)
	calls := 0
	seed := func() int32 { calls++; return 42 }
	h1 := obj.IdentityHash(seed)
	h2 := obj.IdentityHash(seed)
	if h1 != h2 {
		t.Errorf("expected stable identity hash, got %d then %d", h1, h2)
	}
	if calls != 1 {
		t.Errorf("expected seed called once, got %d", calls)
	}
}

func TestGoStringRoundTrip(t *testing.T) {
	s := NewInstance("java/lang/String", 1)
	s.Fields[0] = []byte("hello")
	if GoString(s) != "hello" {
		t.Errorf("expected hello, got %q", GoString(s))
	}
}
