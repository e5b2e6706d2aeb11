/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package gc is the stop-the-world mark-sweep collector: it pauses
// every mutator thread at its next safepoint, traces reachability from
// the class table, static fields, and live thread stacks, sweeps every
// heap holder for anything left unmarked, and hands unreachable
// finalizable instances to a dedicated finalizer thread before
// reclaiming them. Grounded in jacobin's garbage_collect.cpp (the
// request/wait/collect/resume cycle polled off a wake interval and a
// byte-live threshold) and globals.go's thread table, generalised onto
// this module's vmthread.Registry safepoint protocol and typed-slot
// frames instead of a global int64 stack.
package gc

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"embervm/internal/classloader"
	"embervm/internal/heap"
	"embervm/internal/object"
	"embervm/internal/types"
	"embervm/internal/vmthread"
)

// Collector owns the heap, loader, and thread registry a collection
// cycle needs, plus the policy knobs that decide when one runs.
type Collector struct {
	Heap    *heap.Heap
	Loader  *classloader.Loader
	Threads *vmthread.Registry

	// RunFinalizer invokes a finalizable instance's finalize() method
	// through the normal interpreter entry point. Injected rather than
	// imported directly, since internal/interp already imports
	// internal/heap and internal/classloader and this package must not
	// import internal/interp in turn.
	RunFinalizer func(obj *object.Object) error

	// WakeInterval is how often the driver loop started by Run checks
	// BytesLive against ByteThreshold. ByteThreshold is the live-byte
	// high-water mark that triggers a collection. Both are supplemented
	// knobs this module adds beyond the polled single-threshold
	// behavior the original describes, so tests can make an end-to-end
	// collection deterministic.
	WakeInterval  time.Duration
	ByteThreshold int64

	// StopTimeout bounds how long a cycle waits for every mutator to
	// reach a safepoint before aborting the cycle.
	StopTimeout time.Duration

	// CollectorID is the thread ID the registry's AllStopped/
	// AnyInNativeCall calls exempt as the collector's own.
	CollectorID int

	finalizeQ chan *object.Object
	stop      chan struct{}
}

// New builds a collector with the supplied policy defaults.
func New(h *heap.Heap, loader *classloader.Loader, threads *vmthread.Registry, runFinalizer func(*object.Object) error) *Collector {
	return &Collector{
		Heap:          h,
		Loader:        loader,
		Threads:       threads,
		RunFinalizer:  runFinalizer,
		WakeInterval:  200 * time.Millisecond,
		ByteThreshold: 64 << 20, // 64MiB
		StopTimeout:   2 * time.Second,
		CollectorID:   -1,
		finalizeQ:     make(chan *object.Object, 64),
		stop:          make(chan struct{}),
	}
}

// ErrCollectionAborted reports that a cycle could not get every
// mutator to a safepoint within StopTimeout (typically because one was
// stuck in a native call) and was abandoned without sweeping anything.
type ErrCollectionAborted struct{ Reason string }

func (e *ErrCollectionAborted) Error() string { return "gc: collection aborted: " + e.Reason }

// Run starts the polling driver loop in the background, returning a
// stop function. Each tick checks the heap's live-byte estimate
// against ByteThreshold and runs a cycle if it's been crossed.
func (c *Collector) Run(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.WakeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if c.Heap.BytesLive() >= c.ByteThreshold {
					_ = c.Collect(ctx)
				}
			}
		}
	}()
	return func() {
		close(c.stop)
		<-done
	}
}

// CollectNow bypasses WakeInterval/ByteThreshold entirely, running one
// synchronous cycle unconditionally. Exists purely to make collection
// behavior deterministic in tests.
func (c *Collector) CollectNow() error {
	return c.Collect(context.Background())
}

// Collect runs one full stop-the-world mark-sweep-finalize cycle:
// request every mutator to park at its next safepoint, wait (bounded
// by StopTimeout) for all of them to do so, trace reachability, sweep
// every holder (enqueueing newly-finalizable survivors for the
// finalizer thread, which runs them outside the pause), then release
// the mutators.
func (c *Collector) Collect(ctx context.Context) error {
	c.Threads.RequestCollect()
	defer c.Threads.ClearCollect()

	if err := c.waitForStop(ctx); err != nil {
		return err
	}

	roots := c.collectRoots()
	marked := make(map[*object.Object]bool)
	for _, r := range roots {
		mark(r, c.Loader, marked)
	}

	for _, holder := range c.Heap.Holders() {
		c.sweepHolder(holder, marked)
	}

	return nil
}

// waitForStop polls Threads.AllStopped until every mutator has parked,
// aborting early if one is stuck inside a native call or StopTimeout
// elapses. Run as a single errgroup worker against a timeout-derived
// context so the timeout and the poll loop share one cancellation path.
func (c *Collector) waitForStop(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, c.StopTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if c.Threads.AnyInNativeCall(c.CollectorID) {
					return &ErrCollectionAborted{Reason: "mutator blocked in native call"}
				}
				if c.Threads.AllStopped(c.CollectorID) {
					return nil
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		if err == context.DeadlineExceeded {
			return &ErrCollectionAborted{Reason: "timed out waiting for safepoint"}
		}
		return err
	}
	return nil
}

// collectRoots gathers roots (a)-(c): every loaded class's mirror and
// REF-typed static fields of each initialised instance class, plus,
// for every live thread, its frame stack's REF locals/operand-stack
// slots, its in-flight thrown exception, and its thread mirror.
func (c *Collector) collectRoots() []*object.Object {
	var roots []*object.Object

	for _, k := range c.Loader.LoadedClasses() {
		if m, ok := k.Mirror.(*object.Object); ok && m != nil {
			roots = append(roots, m)
		}
		if k.Shape != types.ShapeInstance || k.InitState != types.Initialised {
			continue
		}
		for _, sf := range k.StaticFields {
			if sf.Field.SlotType != types.REF {
				continue
			}
			if v, ok := sf.Value.(*object.Object); ok && v != nil {
				roots = append(roots, v)
			}
		}
	}

	for _, th := range c.Threads.Snapshot() {
		if th.Mirror != nil {
			roots = append(roots, th.Mirror)
		}
		if th.Thrown != nil {
			roots = append(roots, th.Thrown)
		}
		for f := th.Top; f != nil; f = f.Previous {
			for i, t := range f.OperandTypes {
				if t != types.REF {
					continue
				}
				if v, ok := f.OperandStack[i].(*object.Object); ok && v != nil {
					roots = append(roots, v)
				}
			}
			for i, t := range f.LocalTypes {
				if t != types.REF {
					continue
				}
				if v, ok := f.Locals[i].(*object.Object); ok && v != nil {
					roots = append(roots, v)
				}
			}
			if thrown, ok := f.Thrown.(*object.Object); ok && thrown != nil {
				roots = append(roots, thrown)
			}
		}
	}

	return roots
}
