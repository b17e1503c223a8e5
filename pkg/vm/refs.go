package vm

import (
	"errors"
	"sync"
)

// ErrNoLocalScope is returned when a local reference is requested while
// the top frame is a bytecode frame: the reference would have no scope
// to die with.
var ErrNoLocalScope = errors.New("local reference requested outside a native frame")

// ReferenceRegistry tracks the handles native code pins objects with.
// Globals live until removed; locals live for the extent of the native
// frame on top of the requesting thread's executor; the process-level
// pool backs locals created with no native frame present (bootstrap,
// callbacks).
type ReferenceRegistry struct {
	mu           sync.Mutex
	globals      []*Object
	processLocal []*Object
}

func newReferenceRegistry() *ReferenceRegistry {
	return &ReferenceRegistry{}
}

// AddGlobal pins an object as an unconditional root.
func (r *ReferenceRegistry) AddGlobal(o *Object) {
	if o == nil {
		return
	}
	r.mu.Lock()
	r.globals = append(r.globals, o)
	r.mu.Unlock()
}

// RemoveGlobal unpins the first matching global reference.
func (r *ReferenceRegistry) RemoveGlobal(o *Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, g := range r.globals {
		if g == o {
			r.globals = append(r.globals[:i], r.globals[i+1:]...)
			return
		}
	}
}

// NewLocalRef scopes a reference to the native frame atop the thread's
// executor. With no executor at all (bootstrap) the process-level pool
// is used; a bytecode top frame is an error.
func (r *ReferenceRegistry) NewLocalRef(t *Thread, o *Object) error {
	if o == nil {
		return nil
	}
	exec := t.Executor()
	if exec == nil || exec.CurrentFrame() == nil {
		r.mu.Lock()
		r.processLocal = append(r.processLocal, o)
		r.mu.Unlock()
		return nil
	}
	frame := exec.CurrentFrame()
	if frame.Kind != FrameNative {
		return ErrNoLocalScope
	}
	frame.LocalRefs = append(frame.LocalRefs, o)
	return nil
}

// RemoveLocalRef drops a reference from the current native frame or
// the process-level pool.
func (r *ReferenceRegistry) RemoveLocalRef(t *Thread, o *Object) {
	exec := t.Executor()
	if exec != nil {
		if frame := exec.CurrentFrame(); frame != nil && frame.Kind == FrameNative {
			for i, ref := range frame.LocalRefs {
				if ref == o {
					frame.LocalRefs = append(frame.LocalRefs[:i], frame.LocalRefs[i+1:]...)
					return
				}
			}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ref := range r.processLocal {
		if ref == o {
			r.processLocal = append(r.processLocal[:i], r.processLocal[i+1:]...)
			return
		}
	}
}

// ForEachRoot visits every pinned reference.
func (r *ReferenceRegistry) ForEachRoot(fn func(*Object)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.globals {
		fn(o)
	}
	for _, o := range r.processLocal {
		fn(o)
	}
}
