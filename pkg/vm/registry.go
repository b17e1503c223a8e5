package vm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/glaciervm/glacier/pkg/classfile"
)

// reentrantLock serializes load/define/initialize. It is reentrant per
// thread so recursive loading during linking and <clinit> execution by
// the owning thread never self-deadlocks; concurrent initialization by
// another thread waits here.
type reentrantLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner *Thread
	depth int
}

func newReentrantLock() *reentrantLock {
	l := &reentrantLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *reentrantLock) Lock(t *Thread) {
	l.mu.Lock()
	for l.owner != nil && l.owner != t {
		l.cond.Wait()
	}
	l.owner = t
	l.depth++
	l.mu.Unlock()
}

func (l *reentrantLock) Unlock(t *Thread) {
	l.mu.Lock()
	l.depth--
	if l.depth == 0 {
		l.owner = nil
		l.cond.Signal()
	}
	l.mu.Unlock()
}

// Registry holds the identity of every loaded class, keyed by
// (defining loader, name).
type Registry struct {
	vm   *VM
	lock *reentrantLock

	bootstrap  map[string]*Class
	byLoader   map[*Object]map[string]*Class
	primitives map[byte]*Class

	classpath *ClassPath

	// all is a GC-visible snapshot list with its own lock so the
	// collector never contends with the coarse registry lock.
	allMu sync.Mutex
	all   []*Class

	pendingMirrors []*Class
}

func newRegistry(vm *VM, classpath *ClassPath) *Registry {
	return &Registry{
		vm:         vm,
		lock:       newReentrantLock(),
		bootstrap:  make(map[string]*Class),
		byLoader:   make(map[*Object]map[string]*Class),
		primitives: make(map[byte]*Class),
		classpath:  classpath,
	}
}

// All returns a snapshot of every loaded class.
func (r *Registry) All() []*Class {
	r.allMu.Lock()
	defer r.allMu.Unlock()
	out := make([]*Class, len(r.all))
	copy(out, r.all)
	return out
}

func (r *Registry) classesFor(loader *Object) map[string]*Class {
	if loader == nil {
		return r.bootstrap
	}
	m, ok := r.byLoader[loader]
	if !ok {
		m = make(map[string]*Class)
		r.byLoader[loader] = m
	}
	return m
}

func (r *Registry) register(loader *Object, c *Class) {
	r.classesFor(loader)[c.Name] = c
	r.allMu.Lock()
	r.all = append(r.all, c)
	r.allMu.Unlock()
}

// LoadClass returns the class with the given internal name for the
// given defining loader, loading and linking it on first use. Loading
// is idempotent per (loader, name).
func (r *Registry) LoadClass(t *Thread, name string, loader *Object) (*Class, error) {
	r.lock.Lock(t)
	defer r.lock.Unlock(t)
	return r.loadClassLocked(t, name, loader)
}

func (r *Registry) loadClassLocked(t *Thread, name string, loader *Object) (*Class, error) {
	if strings.HasPrefix(name, "[") {
		return r.loadArrayLocked(t, name, loader)
	}
	if c, ok := r.classesFor(loader)[name]; ok {
		// An erroneous class with no recorded initializer error failed
		// during linking and stays unusable.
		if c.state == stateErroneous && c.initError == nil {
			return nil, r.vm.throwNew(t, ClassNoClassDefFoundError, name)
		}
		return c, nil
	}
	if loader == nil {
		return r.loadBootstrapLocked(t, name)
	}
	return r.loadThroughLoaderLocked(t, name, loader)
}

func (r *Registry) loadBootstrapLocked(t *Thread, name string) (*Class, error) {
	data, err := r.classpath.ReadClass(name)
	if err != nil {
		if isBuiltinName(name) {
			return r.synthesizeLocked(t, name)
		}
		return nil, r.vm.throwNew(t, ClassNoClassDefFoundError, name)
	}
	r.vm.logClass("loading class", name)
	return r.defineClassLocked(t, name, nil, data)
}

// loadThroughLoaderLocked asks a user class loader for the class by
// invoking its loadClass method through the interpreter.
func (r *Registry) loadThroughLoaderLocked(t *Thread, name string, loader *Object) (*Class, error) {
	method := loader.Class().LookupMethod("loadClass", "(Ljava/lang/String;)Ljava/lang/Class;")
	if method == nil {
		return nil, r.vm.throwNew(t, ClassNoClassDefFoundError, name)
	}

	dotted := strings.ReplaceAll(name, "/", ".")
	ret, err := r.vm.InvokeMethod(t, method, []Value{RefValue(loader), RefValue(r.vm.Intern(dotted))})
	if err != nil {
		if te, ok := AsThrown(err); ok && r.vm.isInstanceOfName(te.Object, ClassClassNotFoundException) {
			return nil, r.vm.throwNew(t, ClassNoClassDefFoundError, name)
		}
		return nil, err
	}

	mirror := ret.Ref()
	if mirror == nil || mirror.mirrorOf == nil {
		return nil, r.vm.throwNew(t, ClassNoClassDefFoundError, name)
	}

	c := mirror.mirrorOf
	if _, ok := r.classesFor(loader)[name]; !ok {
		r.classesFor(loader)[name] = c
	}
	return c, nil
}

// DefineClass turns class-file bytes into a registered, linked class.
func (r *Registry) DefineClass(t *Thread, name string, loader *Object, data []byte) (*Class, error) {
	r.lock.Lock(t)
	defer r.lock.Unlock(t)
	if c, ok := r.classesFor(loader)[name]; ok {
		return c, nil
	}
	return r.defineClassLocked(t, name, loader, data)
}

func (r *Registry) defineClassLocked(t *Thread, name string, loader *Object, data []byte) (*Class, error) {
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, r.vm.throwNew(t, ClassLinkageError, fmt.Sprintf("%s: %v", name, err))
	}
	declared, err := cf.ClassName()
	if err != nil {
		return nil, r.vm.throwNew(t, ClassLinkageError, fmt.Sprintf("%s: %v", name, err))
	}
	if declared != name {
		return nil, r.vm.throwNew(t, ClassNoClassDefFoundError,
			fmt.Sprintf("%s (wrong name: %s)", name, declared))
	}

	kind := KindOrdinary
	if cf.AccessFlags&classfile.AccInterface != 0 {
		kind = KindInterface
	}
	c := newClass(name, kind)
	c.file = cf
	c.AccessFlags = cf.AccessFlags
	c.DefiningLoader = loader
	c.rtPool = make([]interface{}, len(cf.ConstantPool))

	// Register before linking so cyclic references resolve to this
	// same class object.
	r.register(loader, c)

	if err := r.linkLocked(t, c); err != nil {
		c.state = stateErroneous
		return nil, err
	}
	return c, nil
}

// linkLocked resolves the class's direct supertypes, materializes its
// declared members and prepares its storage layout.
func (r *Registry) linkLocked(t *Thread, c *Class) error {
	cf := c.file

	if superName := cf.SuperClassName(); superName != "" {
		super, err := r.loadClassLocked(t, superName, c.DefiningLoader)
		if err != nil {
			return err
		}
		c.Super = super
	}

	for _, idx := range cf.Interfaces {
		name, err := classfile.GetClassName(cf.ConstantPool, idx)
		if err != nil {
			return r.vm.throwNew(t, ClassLinkageError, fmt.Sprintf("%s: %v", c.Name, err))
		}
		iface, err := r.loadClassLocked(t, name, c.DefiningLoader)
		if err != nil {
			return err
		}
		c.Interfaces[name] = iface
	}

	c.SourceFile = cf.SourceFile()

	if err := r.layoutFieldsLocked(t, c); err != nil {
		return err
	}
	if err := r.buildMethodsLocked(t, c); err != nil {
		return err
	}

	r.ensureMirrorLocked(c)
	c.state = stateLinked
	r.vm.logClass("linked class", c.Name)
	return nil
}

func (r *Registry) layoutFieldsLocked(t *Thread, c *Class) error {
	cf := c.file

	instanceOffset := int32(0)
	if c.Super != nil {
		instanceOffset = c.Super.InstanceSlots
	}
	staticOffset := int32(0)

	for i := range cf.Fields {
		fi := &cf.Fields[i]
		fieldType, err := r.classForDescriptorLocked(t, fi.Descriptor, c.DefiningLoader)
		if err != nil {
			return err
		}

		f := &Field{
			Class:              c,
			Name:               fi.Name,
			Descriptor:         fi.Descriptor,
			Type:               fieldType,
			AccessFlags:        fi.AccessFlags,
			Slot:               int32(i),
			constantValueIndex: fi.ConstantValueIndex,
		}

		size := descriptorType(fi.Descriptor).SlotCount()
		if f.IsStatic() {
			f.Offset = staticOffset
			staticOffset += size
		} else {
			f.Offset = instanceOffset
			instanceOffset += size
		}

		c.DeclaredFields = append(c.DeclaredFields, f)
		c.fieldsByKey[memberKey{f.Name, f.Descriptor}] = f
	}

	c.InstanceSlots = instanceOffset
	c.StaticData = make([]Value, staticOffset)
	for _, f := range c.DeclaredFields {
		if f.IsStatic() {
			c.StaticData[f.Offset] = valueOfType(f.Descriptor)
		}
	}

	// Preparation assigns ConstantValue initializers.
	for _, f := range c.DeclaredFields {
		if !f.IsStatic() || f.constantValueIndex == 0 {
			continue
		}
		v, err := r.constantValueLocked(t, c, f.constantValueIndex)
		if err != nil {
			return err
		}
		c.SetStaticValue(f, v)
	}
	return nil
}

func (r *Registry) constantValueLocked(t *Thread, c *Class, index uint16) (Value, error) {
	pool := c.file.ConstantPool
	if int(index) >= len(pool) || pool[index] == nil {
		return Value{}, r.vm.throwNew(t, ClassLinkageError,
			fmt.Sprintf("%s: bad ConstantValue index %d", c.Name, index))
	}
	switch entry := pool[index].(type) {
	case *classfile.ConstantInteger:
		return IntValue(entry.Value), nil
	case *classfile.ConstantFloat:
		return FloatValue(entry.Value), nil
	case *classfile.ConstantLong:
		return LongValue(entry.Value), nil
	case *classfile.ConstantDouble:
		return DoubleValue(entry.Value), nil
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(pool, entry.StringIndex)
		if err != nil {
			return Value{}, r.vm.throwNew(t, ClassLinkageError, err.Error())
		}
		return RefValue(r.vm.Intern(s)), nil
	default:
		return Value{}, r.vm.throwNew(t, ClassLinkageError,
			fmt.Sprintf("%s: ConstantValue index %d has tag %d", c.Name, index, pool[index].Tag()))
	}
}

func (r *Registry) buildMethodsLocked(t *Thread, c *Class) error {
	cf := c.file

	for i := range cf.Methods {
		mi := &cf.Methods[i]

		params, ret, err := SplitMethodDescriptor(mi.Descriptor)
		if err != nil {
			return r.vm.throwNew(t, ClassLinkageError, fmt.Sprintf("%s.%s: %v", c.Name, mi.Name, err))
		}

		m := &Method{
			Class:       c,
			Name:        mi.Name,
			Descriptor:  mi.Descriptor,
			AccessFlags: mi.AccessFlags,
			Slot:        int32(i),
		}

		for _, p := range params {
			pc, err := r.classForDescriptorLocked(t, p, c.DefiningLoader)
			if err != nil {
				return err
			}
			m.ParamTypes = append(m.ParamTypes, pc)
		}
		m.ReturnType, err = r.classForDescriptorLocked(t, ret, c.DefiningLoader)
		if err != nil {
			return err
		}

		if mi.Code != nil {
			m.Code = mi.Code.Code
			m.MaxLocals = mi.Code.MaxLocals
			m.MaxOperands = mi.Code.MaxStack
			m.Handlers = mi.Code.ExceptionHandlers
			m.LineNumbers = mi.Code.LineNumbers()
		} else {
			// Native and abstract methods still get locals so a native
			// frame can expose its arguments to the collector.
			locals := m.ArgSlots()
			if !m.IsStatic() {
				locals++
			}
			m.MaxLocals = uint16(locals)
		}
		m.FrameSlots = int32(m.MaxLocals) + int32(m.MaxOperands)

		c.DeclaredMethods = append(c.DeclaredMethods, m)
		c.methodsByKey[memberKey{m.Name, m.Descriptor}] = m
	}
	return nil
}

// classForDescriptorLocked materializes the class a field or parameter
// descriptor names.
func (r *Registry) classForDescriptorLocked(t *Thread, descriptor string, loader *Object) (*Class, error) {
	switch descriptor[0] {
	case 'L':
		return r.loadClassLocked(t, descriptor[1:len(descriptor)-1], loader)
	case '[':
		return r.loadArrayLocked(t, descriptor, loader)
	default:
		return r.LoadPrimitive(descriptor[0])
	}
}

// LoadArray returns the array class for a descriptor like "[I" or
// "[Ljava/lang/String;". All arrays over one component share a class.
func (r *Registry) LoadArray(t *Thread, descriptor string, loader *Object) (*Class, error) {
	r.lock.Lock(t)
	defer r.lock.Unlock(t)
	return r.loadArrayLocked(t, descriptor, loader)
}

func (r *Registry) loadArrayLocked(t *Thread, descriptor string, loader *Object) (*Class, error) {
	// Array classes are registered under the requesting loader's key.
	if c, ok := r.classesFor(loader)[descriptor]; ok {
		return c, nil
	}

	component, err := r.classForDescriptorLocked(t, descriptor[1:], loader)
	if err != nil {
		return nil, err
	}

	super, err := r.loadClassLocked(t, "java/lang/Object", nil)
	if err != nil {
		return nil, err
	}
	cloneable, err := r.loadClassLocked(t, "java/lang/Cloneable", nil)
	if err != nil {
		return nil, err
	}
	serializable, err := r.loadClassLocked(t, "java/io/Serializable", nil)
	if err != nil {
		return nil, err
	}

	c := newClass(descriptor, KindArray)
	c.DefiningLoader = loader
	c.Super = super
	c.Interfaces[cloneable.Name] = cloneable
	c.Interfaces[serializable.Name] = serializable
	c.Component = component
	c.state = stateInitialized

	r.register(loader, c)
	r.ensureMirrorLocked(c)
	r.vm.logClass("synthesized array class", descriptor)
	return c, nil
}

var primitiveNames = map[byte]string{
	'V': "void", 'Z': "boolean", 'B': "byte", 'C': "char", 'S': "short",
	'I': "int", 'F': "float", 'J': "long", 'D': "double",
}

// LoadPrimitive returns the singleton class for a primitive descriptor
// character.
func (r *Registry) LoadPrimitive(ch byte) (*Class, error) {
	name, ok := primitiveNames[ch]
	if !ok {
		return nil, fmt.Errorf("unknown primitive descriptor %q", ch)
	}
	if c, ok := r.primitives[ch]; ok {
		return c, nil
	}

	c := newClass(name, KindPrimitive)
	c.PrimKind = descriptorTypes[ch]
	c.PrimSlots = c.PrimKind.SlotCount()
	if c.PrimKind == TypeVoid {
		c.PrimSlots = 0
	}
	c.state = stateInitialized
	r.primitives[ch] = c
	r.allMu.Lock()
	r.all = append(r.all, c)
	r.allMu.Unlock()
	r.ensureMirrorLocked(c)
	return c, nil
}

func (r *Registry) ensureMirrorLocked(c *Class) {
	if c.Mirror != nil {
		return
	}
	cc := r.vm.builtin.classClass
	if cc == nil {
		// Bootstrapping: java/lang/Class itself is not loaded yet.
		r.pendingMirrors = append(r.pendingMirrors, c)
		return
	}
	mirror := r.vm.heap.AllocateObject(cc)
	mirror.mirrorOf = c
	c.Mirror = mirror
}

func (r *Registry) flushPendingMirrors() {
	pending := r.pendingMirrors
	r.pendingMirrors = nil
	for _, c := range pending {
		r.ensureMirrorLocked(c)
	}
}

// Initialize drives the class through its initialization state machine:
// raw → linked → initializing → initialized | erroneous. The registry
// lock is held across <clinit>, so a class's initializer happens-before
// any use of the class from another thread.
func (r *Registry) Initialize(t *Thread, c *Class) error {
	r.lock.Lock(t)
	defer r.lock.Unlock(t)
	return r.initializeLocked(t, c)
}

func (r *Registry) initializeLocked(t *Thread, c *Class) error {
	switch c.state {
	case stateInitialized:
		return nil
	case stateErroneous:
		if c.initError == nil {
			return r.vm.throwNew(t, ClassNoClassDefFoundError, "Could not initialize class "+c.Name)
		}
		// Every later access raises the same wrapped error.
		return Thrown(c.initError)
	case stateInitializing:
		if c.initThread == t {
			// Recursive initialization by the same thread is a no-op.
			return nil
		}
	case stateRaw:
		return fmt.Errorf("initializing unlinked class %s", c.Name)
	}

	c.state = stateInitializing
	c.initThread = t
	r.vm.logClass("initializing class", c.Name)

	if c.Super != nil {
		if err := r.initializeLocked(t, c.Super); err != nil {
			c.state = stateErroneous
			c.initError = r.initErrorObject(t, err)
			return Thrown(c.initError)
		}
	}

	if clinit := c.FindDeclaredMethod("<clinit>", "()V"); clinit != nil {
		if _, err := r.vm.InvokeMethod(t, clinit, nil); err != nil {
			c.state = stateErroneous
			c.initError = r.initErrorObject(t, err)
			c.initThread = nil
			return Thrown(c.initError)
		}
	}

	c.state = stateInitialized
	c.initThread = nil
	return nil
}

// initErrorObject wraps a <clinit> failure. Errors propagate as-is;
// other throwables wrap in ExceptionInInitializerError.
func (r *Registry) initErrorObject(t *Thread, err error) *Object {
	te, ok := AsThrown(err)
	if !ok {
		obj, _ := r.vm.newThrowable(t, ClassExceptionInInitializer, err.Error())
		return obj
	}
	if r.vm.isInstanceOfName(te.Object, "java/lang/Error") {
		return te.Object
	}
	obj, _ := r.vm.newThrowable(t, ClassExceptionInInitializer, te.Object.Class().Name)
	return obj
}
