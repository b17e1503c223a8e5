package vm

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// VM is the virtual machine instance: registry, heap, threads, interned
// strings, reference pools and the special GC and finalizer threads.
// The zero value is not usable; construct with New and call Initialize
// before Run, and Release afterwards.
type VM struct {
	opts *Options
	log  *zap.SugaredLogger

	registry *Registry
	heap     *Heap
	interner *InternTable
	natives  *NativeRegistry
	refs     *ReferenceRegistry

	threadsMu       sync.Mutex
	threads         []*Thread
	threadsByObject map[*Object]*Thread

	gc        *GC
	gcThread  *Thread
	finalizer *Finalizer
	finThread *Thread

	mainThread *Thread

	propsMu sync.Mutex
	props   map[string]string

	// Stdout receives PrintStream-style output from natives.
	Stdout io.Writer

	builtin struct {
		objectClass       *Class
		classClass        *Class
		stringClass       *Class
		throwableClass    *Class
		threadClass       *Class
		cloneableClass    *Class
		serializableClass *Class
	}

	preallocated struct {
		outOfMemory   *Object
		stackOverflow *Object
	}
}

// New creates an uninitialized VM with the given options.
func New(opts *Options) *VM {
	if opts == nil {
		opts = &Options{}
	}
	opts.normalize()

	vm := &VM{
		opts:            opts,
		log:             opts.Logger.Sugar(),
		heap:            NewHeap(),
		interner:        newInternTable(),
		natives:         newNativeRegistry(),
		refs:            newReferenceRegistry(),
		threadsByObject: make(map[*Object]*Thread),
		props:           make(map[string]string),
		Stdout:          os.Stdout,
	}
	vm.registry = newRegistry(vm, ParseClassPath(opts.ClassPath))
	vm.gc = newGC(vm, opts.GCInterval)
	vm.finalizer = newFinalizer(vm)
	return vm
}

// Natives exposes the host-bridge registration surface.
func (vm *VM) Natives() *NativeRegistry { return vm.natives }

// Registry exposes the type registry.
func (vm *VM) Registry() *Registry { return vm.registry }

// Heap exposes the memory manager.
func (vm *VM) Heap() *Heap { return vm.heap }

// MainThread returns the attached main thread.
func (vm *VM) MainThread() *Thread { return vm.mainThread }

// Initialize loads the root set of builtin classes, attaches the main
// thread, preallocates the fail-safe errors and starts the GC and
// finalizer threads.
func (vm *VM) Initialize() error {
	vm.setupProperties()

	boot := newThread(vm, ThreadVM, "main")
	boot.setState(StateRunnable)
	vm.mainThread = boot

	// Root set of builtin classes. String must come early: interning
	// and throwable messages depend on it.
	var err error
	if vm.builtin.objectClass, err = vm.registry.LoadClass(boot, "java/lang/Object", nil); err != nil {
		return fmt.Errorf("bootstrapping java/lang/Object: %w", err)
	}
	if vm.builtin.classClass, err = vm.registry.LoadClass(boot, "java/lang/Class", nil); err != nil {
		return fmt.Errorf("bootstrapping java/lang/Class: %w", err)
	}
	vm.registry.lock.Lock(boot)
	vm.registry.flushPendingMirrors()
	vm.registry.lock.Unlock(boot)

	if vm.builtin.stringClass, err = vm.registry.LoadClass(boot, "java/lang/String", nil); err != nil {
		return fmt.Errorf("bootstrapping java/lang/String: %w", err)
	}
	if vm.builtin.throwableClass, err = vm.registry.LoadClass(boot, "java/lang/Throwable", nil); err != nil {
		return fmt.Errorf("bootstrapping java/lang/Throwable: %w", err)
	}
	if vm.builtin.threadClass, err = vm.registry.LoadClass(boot, "java/lang/Thread", nil); err != nil {
		return fmt.Errorf("bootstrapping java/lang/Thread: %w", err)
	}
	if vm.builtin.cloneableClass, err = vm.registry.LoadClass(boot, "java/lang/Cloneable", nil); err != nil {
		return fmt.Errorf("bootstrapping java/lang/Cloneable: %w", err)
	}
	if vm.builtin.serializableClass, err = vm.registry.LoadClass(boot, "java/io/Serializable", nil); err != nil {
		return fmt.Errorf("bootstrapping java/io/Serializable: %w", err)
	}

	// Fail-safe errors exist before any allocation can fail.
	if vm.preallocated.outOfMemory, err = vm.newThrowable(boot, ClassOutOfMemoryError, "Java heap space"); err != nil {
		return fmt.Errorf("preallocating OutOfMemoryError: %w", err)
	}
	if vm.preallocated.stackOverflow, err = vm.newThrowable(boot, ClassStackOverflowError, ""); err != nil {
		return fmt.Errorf("preallocating StackOverflowError: %w", err)
	}

	// Console streams for the System class.
	if err := vm.initSystemStreams(boot); err != nil {
		return err
	}

	// Bind the main thread's Java object.
	mainObj := vm.heap.AllocateObject(vm.builtin.threadClass)
	if f := vm.builtin.threadClass.LookupField("name", "Ljava/lang/String;"); f != nil {
		mainObj.SetFieldValue(f, RefValue(vm.Intern("main")))
	}
	boot.javaObject = mainObj

	vm.threadsMu.Lock()
	vm.threads = append(vm.threads, boot)
	vm.threadsByObject[mainObj] = boot
	vm.threadsMu.Unlock()

	// Special threads.
	vm.finThread = newThread(vm, ThreadFinalizer, "finalizer")
	vm.finThread.SetDaemon(true)
	vm.gcThread = newThread(vm, ThreadGC, "gc")
	vm.gcThread.SetDaemon(true)

	vm.threadsMu.Lock()
	vm.threads = append(vm.threads, vm.finThread, vm.gcThread)
	vm.threadsMu.Unlock()

	vm.finThread.start(func() { vm.finalizer.run(vm.finThread) })
	vm.gcThread.start(vm.gc.run)

	return nil
}

// initSystemStreams allocates the PrintStream instances behind
// System.out and System.err.
func (vm *VM) initSystemStreams(t *Thread) error {
	system, err := vm.registry.LoadClass(t, "java/lang/System", nil)
	if err != nil {
		return fmt.Errorf("bootstrapping java/lang/System: %w", err)
	}
	ps, err := vm.registry.LoadClass(t, "java/io/PrintStream", nil)
	if err != nil {
		return fmt.Errorf("bootstrapping java/io/PrintStream: %w", err)
	}
	for _, fieldName := range []string{"out", "err"} {
		if f := system.FindDeclaredField(fieldName, "Ljava/io/PrintStream;"); f != nil {
			stream := vm.heap.AllocateObject(ps)
			stream.str = fieldName
			system.SetStaticValue(f, RefValue(stream))
		}
	}
	return nil
}

// Run loads the main class, invokes its main method and drives the
// shutdown sequence. The return value is the process exit code.
func (vm *VM) Run(mainClass string, args []string) int {
	t := vm.mainThread

	name := strings.ReplaceAll(mainClass, ".", "/")
	c, err := vm.registry.LoadClass(t, name, nil)
	if err != nil {
		vm.reportStartupError(err)
		return 1
	}
	if err := vm.registry.Initialize(t, c); err != nil {
		vm.reportStartupError(err)
		return 1
	}

	main := c.FindDeclaredMethod("main", "([Ljava/lang/String;)V")
	if main == nil || !main.IsStatic() {
		fmt.Fprintf(os.Stderr, "Error: Main method not found in class %s\n", mainClass)
		return 1
	}

	argArray, err := vm.newStringArray(t, args)
	if err != nil {
		vm.reportStartupError(err)
		return 1
	}

	exitCode := 0
	if _, err := vm.InvokeMethod(t, main, []Value{RefValue(argArray)}); err != nil {
		if te, ok := AsThrown(err); ok {
			t.Executor().SetUncaughtException(te.Object)
			vm.reportUncaught(t, te.Object)
		} else {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		}
		exitCode = 1
	}

	vm.shutdown()
	return exitCode
}

func (vm *VM) newStringArray(t *Thread, strs []string) (*Object, error) {
	arrayClass, err := vm.registry.LoadArray(t, "[Ljava/lang/String;", nil)
	if err != nil {
		return nil, err
	}
	arr := vm.heap.AllocateArray(arrayClass, int32(len(strs)))
	for i, s := range strs {
		arr.SetElement(int32(i), RefValue(vm.Intern(s)))
	}
	return arr, nil
}

// reportUncaught prints the classic uncaught-exception banner.
func (vm *VM) reportUncaught(t *Thread, exc *Object) {
	name := strings.ReplaceAll(exc.Class().Name, "/", ".")
	if msg := exc.ThrowableMessage(); msg != "" {
		fmt.Fprintf(os.Stderr, "Exception in thread %q %s: %s\n", t.Name(), name, msg)
	} else {
		fmt.Fprintf(os.Stderr, "Exception in thread %q %s\n", t.Name(), name)
	}
}

func (vm *VM) reportStartupError(err error) {
	if te, ok := AsThrown(err); ok {
		name := strings.ReplaceAll(te.Object.Class().Name, "/", ".")
		if msg := te.Object.ThrowableMessage(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s: %s\n", name, msg)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", name)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// shutdown waits for all non-daemon VM threads, stops the finalizer,
// best-effort kills daemon VM threads, then stops the GC. Every object
// still live moves through the finalizer before the VM exits.
func (vm *VM) shutdown() {
	vm.mainThread.setState(StateTerminated)

	for {
		var pending *Thread
		vm.threadsMu.Lock()
		for _, t := range vm.threads {
			if t.kind == ThreadVM && !t.IsDaemon() && t != vm.mainThread && t.IsAlive() {
				pending = t
				break
			}
		}
		vm.threadsMu.Unlock()
		if pending == nil {
			break
		}
		pending.Join()
	}

	// Everything still on the heap gets a finalization pass.
	for _, o := range vm.heap.DrainAll() {
		vm.finalizer.Enqueue(o)
	}
	vm.finalizer.Stop()
	vm.finThread.Join()
	for _, o := range vm.finalizer.DrainOutbox() {
		vm.heap.Release(o)
	}

	vm.threadsMu.Lock()
	for _, t := range vm.threads {
		if t.kind == ThreadVM && t.IsDaemon() && t.IsAlive() {
			t.Stop()
		}
	}
	vm.threadsMu.Unlock()

	vm.gc.Stop()
	vm.gcThread.Join()
}

// Release tears the instance down without running the full shutdown
// protocol; used by embedders and tests.
func (vm *VM) Release() {
	vm.gc.Stop()
	vm.finalizer.Stop()
}

// AttachThread registers an externally created execution context as a
// VM thread with a bound Java thread object.
func (vm *VM) AttachThread(name string, daemon bool) *Thread {
	t := newThread(vm, ThreadVM, name)
	t.SetDaemon(daemon)
	t.setState(StateRunnable)

	obj := vm.heap.AllocateObject(vm.builtin.threadClass)
	if f := vm.builtin.threadClass.LookupField("name", "Ljava/lang/String;"); f != nil {
		obj.SetFieldValue(f, RefValue(vm.Intern(name)))
	}
	t.javaObject = obj

	vm.threadsMu.Lock()
	vm.threads = append(vm.threads, t)
	vm.threadsByObject[obj] = t
	vm.threadsMu.Unlock()
	return t
}

// DetachThread removes a thread from the thread list.
func (vm *VM) DetachThread(t *Thread) {
	vm.threadsMu.Lock()
	defer vm.threadsMu.Unlock()
	for i, cur := range vm.threads {
		if cur == t {
			vm.threads = append(vm.threads[:i], vm.threads[i+1:]...)
			break
		}
	}
	delete(vm.threadsByObject, t.javaObject)
}

// StartJavaThread spawns the VM thread behind a java/lang/Thread
// object and runs its run method.
func (vm *VM) StartJavaThread(obj *Object) error {
	daemon := false
	if f := obj.Class().LookupField("daemon", "Z"); f != nil {
		daemon = obj.FieldValue(f).Bool()
	}
	name := "Thread"
	if f := obj.Class().LookupField("name", "Ljava/lang/String;"); f != nil {
		if s := obj.FieldValue(f).Ref(); s != nil {
			name = s.GoString()
		}
	}

	t := newThread(vm, ThreadVM, name)
	t.SetDaemon(daemon)
	t.javaObject = obj

	vm.threadsMu.Lock()
	vm.threads = append(vm.threads, t)
	vm.threadsByObject[obj] = t
	vm.threadsMu.Unlock()

	run := obj.Class().LookupMethod("run", "()V")
	t.start(func() {
		if run == nil {
			return
		}
		if _, err := vm.InvokeMethod(t, run, []Value{RefValue(obj)}); err != nil {
			if te, ok := AsThrown(err); ok {
				t.Executor().SetUncaughtException(te.Object)
				vm.reportUncaught(t, te.Object)
			}
		}
	})
	return nil
}

// ThreadForObject returns the VM thread bound to a java/lang/Thread
// object, or nil.
func (vm *VM) ThreadForObject(obj *Object) *Thread {
	return vm.threadForObject(obj)
}

func (vm *VM) threadForObject(obj *Object) *Thread {
	vm.threadsMu.Lock()
	defer vm.threadsMu.Unlock()
	return vm.threadsByObject[obj]
}

// newThrowable allocates an exception object of the named class and
// stores its detail message directly, bypassing constructors so errors
// can be raised from any VM state.
func (vm *VM) newThrowable(t *Thread, className, message string) (*Object, error) {
	c, err := vm.registry.LoadClass(t, className, nil)
	if err != nil {
		return nil, fmt.Errorf("loading throwable class %s: %w", className, err)
	}
	obj := vm.heap.AllocateObject(c)
	if message != "" && vm.builtin.stringClass != nil {
		if f := c.LookupField("detailMessage", "Ljava/lang/String;"); f != nil {
			obj.SetFieldValue(f, RefValue(vm.Intern(message)))
		}
	}
	return obj, nil
}

// isInstanceOfName checks assignability against a class name without
// forcing any loading.
func (vm *VM) isInstanceOfName(obj *Object, className string) bool {
	if obj == nil {
		return false
	}
	for cur := obj.Class(); cur != nil; cur = cur.Super {
		if cur.Name == className {
			return true
		}
		for _, iface := range cur.Interfaces {
			if interfaceHasName(iface, className) {
				return true
			}
		}
	}
	return false
}

func interfaceHasName(iface *Class, className string) bool {
	if iface.Name == className {
		return true
	}
	for _, parent := range iface.Interfaces {
		if interfaceHasName(parent, className) {
			return true
		}
	}
	return false
}

// Property reads a system property.
func (vm *VM) Property(key string) (string, bool) {
	vm.propsMu.Lock()
	defer vm.propsMu.Unlock()
	v, ok := vm.props[key]
	return v, ok
}

// SetProperty writes a system property.
func (vm *VM) SetProperty(key, value string) {
	vm.propsMu.Lock()
	vm.props[key] = value
	vm.propsMu.Unlock()
}

// Verbose-gated logging helpers.

func (vm *VM) logClass(msg, name string) {
	if vm.opts.Verbose.Class {
		vm.log.Infow(msg, "class", name)
	}
}

func (vm *VM) logExecute(msg, what string) {
	if vm.opts.Verbose.Execute {
		vm.log.Debugw(msg, "method", what)
	}
}

func (vm *VM) logJNI(msg, what string) {
	if vm.opts.Verbose.JNI {
		vm.log.Debugw(msg, "target", what)
	}
}

func (vm *VM) logDebug(msg string, kv ...interface{}) {
	if vm.opts.Verbose.Debug {
		vm.log.Debugw(msg, kv...)
	}
}
