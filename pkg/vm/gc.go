package vm

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// GC is the stop-the-world mark-and-sweep collector. It runs on its own
// thread: sleep, suspend every mutator, trace from the roots, sweep
// unmarked objects into the finalizer's inbox, release what the
// finalizer processed last cycle, resume.
type GC struct {
	vm       *VM
	interval time.Duration
	running  atomic.Bool
	stop     chan struct{}
}

func newGC(vm *VM, interval time.Duration) *GC {
	gc := &GC{vm: vm, interval: interval, stop: make(chan struct{})}
	gc.running.Store(true)
	return gc
}

// Stop requests the collection loop to exit.
func (gc *GC) Stop() {
	if gc.running.CompareAndSwap(true, false) {
		close(gc.stop)
	}
}

// run is the GC thread body: sleep, then collect, until stopped.
func (gc *GC) run() {
	for {
		select {
		case <-gc.stop:
			return
		case <-time.After(gc.interval):
			gc.Collect()
		}
	}
}

// Collect performs one full collection cycle.
func (gc *GC) Collect() {
	gc.collect(nil)
}

// CollectFrom performs a cycle initiated by a mutator (System.gc); the
// initiating thread is not suspended.
func (gc *GC) CollectFrom(t *Thread) {
	gc.collect(t)
}

func (gc *GC) collect(initiator *Thread) {
	vm := gc.vm

	// No thread creation or removal during the cycle.
	vm.threadsMu.Lock()
	defer vm.threadsMu.Unlock()

	suspended := gc.suspend(initiator)
	start := time.Now()

	vm.heap.ClearMarks()
	gc.markRoots()

	swept := vm.heap.SweepUnmarked()
	gc.pruneTerminatedLocked()

	for _, o := range swept {
		vm.finalizer.Enqueue(o)
	}
	for _, o := range vm.finalizer.DrainOutbox() {
		vm.heap.Release(o)
	}

	gc.resume(suspended)

	if vm.opts.Verbose.GC {
		vm.log.Infow("gc cycle",
			"swept", len(swept),
			"live", vm.heap.Count(),
			"reclaimed", humanize.Bytes(uint64(len(swept))*16),
			"pause", time.Since(start))
	}
}

// suspend acquires every mutator's block mutex and parks runnable
// bytecode threads at their next safepoint.
func (gc *GC) suspend(initiator *Thread) []*Thread {
	var suspended []*Thread
	for _, t := range gc.vm.threads {
		if t == initiator || !t.IsAlive() {
			continue
		}
		if t.kind != ThreadVM && t.kind != ThreadFinalizer {
			continue
		}

		// Blocks while the thread is inside a native call.
		t.Block()
		t.waitRequested.Store(true)
		suspended = append(suspended, t)
	}

	// Wait for every runnable thread whose top frame is bytecode to
	// either leave the runnable state or reach its safepoint.
	for _, t := range suspended {
		for t.State() == StateRunnable && !t.atSafepoint.Load() {
			frame := t.Executor().CurrentFrame()
			if frame == nil || frame.Kind != FrameBytecode {
				break
			}
			runtime.Gosched()
		}
	}
	return suspended
}

// resume clears the safepoint requests, wakes the parked threads and
// releases the block mutexes.
func (gc *GC) resume(suspended []*Thread) {
	for _, t := range suspended {
		t.waitRequested.Store(false)
		t.waitMu.Lock()
		t.waitCond.Broadcast()
		t.waitMu.Unlock()
		t.Unblock()
	}
}

// markRoots traces the full root set.
func (gc *GC) markRoots() {
	vm := gc.vm

	for _, t := range vm.threads {
		if t.kind != ThreadVM && t.kind != ThreadFinalizer {
			continue
		}
		gc.mark(t.javaObject)
		exec := t.Executor()
		if exec == nil {
			continue
		}
		gc.mark(exec.UncaughtException())

		for _, frame := range exec.Frames() {
			gc.mark(frame.Exception)
			for _, ref := range frame.LocalRefs {
				gc.mark(ref)
			}
			if frame.Kind != FrameBytecode {
				continue
			}
			for _, v := range frame.Locals {
				if v.IsReference() {
					gc.mark(v.Ref())
				}
			}
			for i := int32(0); i < frame.OperandCount(); i++ {
				if v := frame.operands[i]; v.IsReference() {
					gc.mark(v.Ref())
				}
			}
		}
	}

	for _, c := range vm.registry.All() {
		gc.mark(c.Mirror)
		gc.mark(c.DefiningLoader)
		for _, v := range c.StaticData {
			if v.IsReference() {
				gc.mark(v.Ref())
			}
		}
	}

	vm.interner.ForEachInterned(func(o *Object) { gc.mark(o) })
	vm.refs.ForEachRoot(func(o *Object) { gc.mark(o) })

	gc.mark(vm.preallocated.outOfMemory)
	gc.mark(vm.preallocated.stackOverflow)
}

// mark traces an object graph iteratively: arrays of references recurse
// into their elements, ordinary objects into their reference-typed
// fields.
func (gc *GC) mark(root *Object) {
	if root == nil || root.mark {
		return
	}
	stack := []*Object{root}
	root.mark = true

	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visit := func(ref *Object) {
			if ref != nil && !ref.mark {
				ref.mark = true
				stack = append(stack, ref)
			}
		}

		if o.IsArray() {
			if !o.class.Component.IsPrimitive() {
				for i := int32(0); i < o.length; i++ {
					if v := o.Element(i); v.IsReference() {
						visit(v.Ref())
					}
				}
			}
			continue
		}
		for _, v := range o.fields {
			if v.IsReference() {
				visit(v.Ref())
			}
		}
	}
}

// pruneTerminatedLocked drops terminated VM threads whose bound Java
// object did not survive the mark. Called with threadsMu held.
func (gc *GC) pruneTerminatedLocked() {
	vm := gc.vm
	kept := vm.threads[:0]
	for _, t := range vm.threads {
		if t.kind == ThreadVM && t.State() == StateTerminated &&
			(t.javaObject == nil || !t.javaObject.mark) {
			delete(vm.threadsByObject, t.javaObject)
			continue
		}
		kept = append(kept, t)
	}
	vm.threads = kept
}
