package vm

import (
	"strings"
	"sync"
)

// NativeFunc is the signature every bound native method presents to the
// interpreter: an environment pointer, the receiver (or class mirror
// for static methods), and the declared arguments. A Java exception is
// returned as *ThrownException.
type NativeFunc func(env *Env, recv *Object, args []Value) (Value, error)

// Env is the opaque environment handed to native code.
type Env struct {
	VM     *VM
	Thread *Thread
}

// Call invokes a Java method from native code. The thread's block
// mutex is released for the duration so the collector can run while
// the nested interpreter executes.
func (e *Env) Call(m *Method, args []Value) (Value, error) {
	e.Thread.Unblock()
	defer e.Thread.Block()
	return e.VM.InvokeMethod(e.Thread, m, args)
}

// Blocking releases the thread's block mutex around a native section
// that may park (monitor wait, sleep, join), so a collection cycle is
// not held up by it.
func (e *Env) Blocking(fn func() error) error {
	e.Thread.Unblock()
	defer e.Thread.Block()
	return fn()
}

// Throw deposits a new exception of the named class.
func (e *Env) Throw(className, message string) error {
	return e.VM.throwNew(e.Thread, className, message)
}

// NewLocalRef registers a local reference scoped to the current native
// frame.
func (e *Env) NewLocalRef(o *Object) error {
	return e.VM.refs.NewLocalRef(e.Thread, o)
}

// NewGlobalRef pins an object until explicitly released.
func (e *Env) NewGlobalRef(o *Object) {
	e.VM.refs.AddGlobal(o)
}

// DeleteGlobalRef unpins a global reference.
func (e *Env) DeleteGlobalRef(o *Object) {
	e.VM.refs.RemoveGlobal(o)
}

// NativeRegistry maps derived native names to bound functions.
type NativeRegistry struct {
	mu    sync.Mutex
	funcs map[string]NativeFunc
}

func newNativeRegistry() *NativeRegistry {
	return &NativeRegistry{funcs: make(map[string]NativeFunc)}
}

// Register binds a native implementation for the given class, method
// and descriptor under both the short and the overloaded derived name.
func (r *NativeRegistry) Register(className, methodName, descriptor string, fn NativeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[DeriveNativeName(className, methodName)] = fn
	r.funcs[DeriveOverloadedNativeName(className, methodName, descriptor)] = fn
}

// Lookup finds a bound function, preferring the overload-qualified
// name.
func (r *NativeRegistry) Lookup(className, methodName, descriptor string) NativeFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn, ok := r.funcs[DeriveOverloadedNativeName(className, methodName, descriptor)]; ok {
		return fn
	}
	return r.funcs[DeriveNativeName(className, methodName)]
}

// escapeNativeName applies the JNI name-mangling character map.
func escapeNativeName(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '/':
			b.WriteByte('_')
		case '_':
			b.WriteString("_1")
		case ';':
			b.WriteString("_2")
		case '[':
			b.WriteString("_3")
		case '$':
			b.WriteString("_00024")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// DeriveNativeName derives the short native symbol for a method.
func DeriveNativeName(className, methodName string) string {
	return "Java_" + escapeNativeName(className) + "_" + escapeNativeName(methodName)
}

// DeriveOverloadedNativeName derives the overload-qualified native
// symbol: the short name plus "__" and the escaped concatenation of
// the parameter descriptors.
func DeriveOverloadedNativeName(className, methodName, descriptor string) string {
	params, _, err := SplitMethodDescriptor(descriptor)
	if err != nil {
		return DeriveNativeName(className, methodName)
	}
	return DeriveNativeName(className, methodName) + "__" + escapeNativeName(strings.Join(params, ""))
}

// callNative dispatches a native method. The thread's block mutex is
// held from entry to return, so the collector never observes a native
// call mid-handoff. A native frame is pushed so the receiver and
// arguments stay visible as GC roots and local references have a
// scope.
func (vm *VM) callNative(t *Thread, m *Method, args []Value) (Value, error) {
	if m.native == nil {
		fn := vm.natives.Lookup(m.Class.Name, m.Name, m.Descriptor)
		if fn == nil {
			return Value{}, vm.throwNew(t, ClassUnsatisfiedLinkError, m.QualifiedName())
		}
		m.native = fn
	}

	exec := t.Executor()
	frame, err := exec.PushFrame(FrameNative, m.Class, m)
	if err != nil {
		return Value{}, err
	}
	slot := int32(0)
	for _, arg := range args {
		frame.SetLocal(slot, arg)
		slot += arg.Kind.SlotCount()
	}

	var recv *Object
	declared := args
	if m.IsStatic() {
		recv = m.Class.Mirror
	} else {
		recv = args[0].Ref()
		declared = args[1:]
	}

	vm.logJNI("native call", m.QualifiedName())

	t.Block()
	ret, callErr := m.native(&Env{VM: vm, Thread: t}, recv, declared)
	t.Unblock()

	if te, ok := AsThrown(callErr); ok {
		frame.Exception = te.Object
	}
	exec.PopFrame()
	return ret, callErr
}
