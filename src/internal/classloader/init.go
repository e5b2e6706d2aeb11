/*
 * EmberVM - A Java virtual machine
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package classloader

import (
	"embervm/internal/types"
)

// Initialize drives a class through protocol: "A thread
// that finds a class LOADED transitions it to INITIALISING ... and
// runs the class initialiser. A thread that finds a class
// INITIALISING, on a different thread, blocks until it leaves that
// state. The same thread re-entering is let through once (the common
// case being a static initialiser that references its own class).
// Successful completion moves to INITIALISED. A failure moves to
// ERRORED permanently, and every subsequent request ... fails the same
// way." Superclasses are initialised first, matching normal JVM
// semantics, before the class's own <clinit> is run.
//
// runClinit is injected by the caller (typically the interpreter,
// invoking <clinit> through the normal method-execution path) so this
// package has no dependency on the frame/interpreter machinery.
func (l *Loader) Initialize(k *Klass, threadID int, runClinit func(*Klass) error) error {
	k.mutex.Lock()
	for {
		switch k.InitState {
		case types.Initialised:
			k.mutex.Unlock()
			return nil
		case types.Errored:
			k.mutex.Unlock()
			return &ErrNoClassDefFound{Name: k.Name}
		case types.Initialising:
			if k.initOwnerThread == threadID {
				k.mutex.Unlock()
				return nil
			}
			k.initCond.Wait()
			continue
		case types.Loaded:
			k.InitState = types.Initialising
			k.initOwnerThread = threadID
			k.mutex.Unlock()

			if err := l.initSuperAndInterfaces(k, threadID, runClinit); err != nil {
				k.mutex.Lock()
				k.InitState = types.Errored
				k.initErr = err
				k.initCond.Broadcast()
				k.mutex.Unlock()
				return err
			}

			var runErr error
			if runClinit != nil {
				runErr = runClinit(k)
			}

			k.mutex.Lock()
			if runErr != nil {
				k.InitState = types.Errored
				k.initErr = runErr
			} else {
				k.InitState = types.Initialised
			}
			k.initCond.Broadcast()
			k.mutex.Unlock()
			return runErr
		}
	}
}

func (l *Loader) initSuperAndInterfaces(k *Klass, threadID int, runClinit func(*Klass) error) error {
	if k.Shape != types.ShapeInstance {
		return nil
	}
	if k.Superclass != "" {
		super, err := l.LoadClass(k.Superclass)
		if err != nil {
			return err
		}
		if err := l.Initialize(super, threadID, runClinit); err != nil {
			return err
		}
	}
	return nil
}

// InitError returns the sticky initialisation failure for a class in
// the ERRORED state, or nil.
func (k *Klass) InitError() error {
	return k.initErr
}

// MirrorOrSet returns k.Mirror if already set; otherwise it calls
// create(), publishes the result, and returns it. Locked on the
// class's own mutex so two threads racing to mirror the same class
// can't each allocate one.
func (k *Klass) MirrorOrSet(create func() interface{}) interface{} {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	if k.Mirror != nil {
		return k.Mirror
	}
	k.Mirror = create()
	return k.Mirror
}
