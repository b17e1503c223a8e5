package vm

import "sync"

// Finalizer consumes the objects a collection cycle found unreachable,
// runs their finalize methods on the finalizer thread, and parks them
// in an outbox the next cycle releases.
type Finalizer struct {
	vm *VM

	mu      sync.Mutex
	cond    *sync.Cond
	inbox   []*Object
	outbox  []*Object
	running bool
}

func newFinalizer(vm *VM) *Finalizer {
	f := &Finalizer{vm: vm, running: true}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Enqueue adds an unreachable object to the inbox.
func (f *Finalizer) Enqueue(o *Object) {
	f.mu.Lock()
	f.inbox = append(f.inbox, o)
	f.cond.Signal()
	f.mu.Unlock()
}

// DrainOutbox removes and returns every finalized object.
func (f *Finalizer) DrainOutbox() []*Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.outbox
	f.outbox = nil
	return out
}

// Stop wakes the finalizer thread and lets it drain and exit.
func (f *Finalizer) Stop() {
	f.mu.Lock()
	f.running = false
	f.cond.Broadcast()
	f.mu.Unlock()
}

// run is the finalizer thread body.
func (f *Finalizer) run(t *Thread) {
	for {
		f.mu.Lock()
		for len(f.inbox) == 0 && f.running {
			t.setState(StateWaiting)
			f.cond.Wait()
		}
		if len(f.inbox) == 0 && !f.running {
			f.mu.Unlock()
			return
		}
		o := f.inbox[0]
		f.inbox = f.inbox[1:]
		t.setState(StateRunnable)
		f.mu.Unlock()

		f.finalize(t, o)

		f.mu.Lock()
		f.outbox = append(f.outbox, o)
		f.mu.Unlock()
	}
}

// finalize invokes the object's finalize method through the
// interpreter when its class overrides the default. A throw out of
// finalize is dropped.
func (f *Finalizer) finalize(t *Thread, o *Object) {
	m := o.Class().LookupMethod("finalize", "()V")
	if m == nil || m.Class.Name == "java/lang/Object" {
		return
	}
	if _, err := f.vm.InvokeMethod(t, m, []Value{RefValue(o)}); err != nil {
		f.vm.logDebug("exception in finalize discarded",
			"class", o.Class().Name, "error", err)
	}
}
