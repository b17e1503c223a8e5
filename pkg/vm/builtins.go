package vm

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/glaciervm/glacier/pkg/classfile"
)

// The bootstrap loader synthesizes a minimal definition for core
// platform classes when the class path carries no host archive. Real
// archive classes always win: synthesis only runs on a class-path miss.

type synthField struct {
	name  string
	desc  string
	flags uint16
}

type synthMethod struct {
	name  string
	desc  string
	flags uint16
	impl  NativeFunc
}

type synthDef struct {
	super   string
	ifaces  []string
	kind    ClassKind
	fields  []synthField
	methods []synthMethod
}

func isBuiltinName(name string) bool {
	if _, ok := builtinDefs[name]; ok {
		return true
	}
	for _, prefix := range []string{"java/", "javax/", "jdk/", "sun/"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (r *Registry) synthesizeLocked(t *Thread, name string) (*Class, error) {
	def, ok := builtinDefs[name]
	if !ok {
		// Unknown platform class: an empty ordinary class is enough to
		// link against.
		def = synthDef{super: "java/lang/Object"}
	}

	kind := def.kind
	c := newClass(name, kind)
	c.AccessFlags = classfile.AccPublic
	if kind == KindInterface {
		c.AccessFlags |= classfile.AccInterface | classfile.AccAbstract
	}
	r.register(nil, c)

	if def.super != "" {
		super, err := r.loadClassLocked(t, def.super, nil)
		if err != nil {
			return nil, err
		}
		c.Super = super
	}
	for _, ifaceName := range def.ifaces {
		iface, err := r.loadClassLocked(t, ifaceName, nil)
		if err != nil {
			return nil, err
		}
		c.Interfaces[ifaceName] = iface
	}

	instanceOffset := int32(0)
	if c.Super != nil {
		instanceOffset = c.Super.InstanceSlots
	}
	staticOffset := int32(0)
	for i, sf := range def.fields {
		fieldType, err := r.classForDescriptorLocked(t, sf.desc, nil)
		if err != nil {
			return nil, err
		}
		f := &Field{
			Class:       c,
			Name:        sf.name,
			Descriptor:  sf.desc,
			Type:        fieldType,
			AccessFlags: sf.flags,
			Slot:        int32(i),
		}
		size := descriptorType(sf.desc).SlotCount()
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

	for i, sm := range def.methods {
		params, ret, err := SplitMethodDescriptor(sm.desc)
		if err != nil {
			return nil, fmt.Errorf("builtin %s.%s: %w", name, sm.name, err)
		}
		flags := sm.flags
		if sm.impl != nil {
			flags |= classfile.AccNative
		}
		m := &Method{
			Class:       c,
			Name:        sm.name,
			Descriptor:  sm.desc,
			AccessFlags: flags,
			Slot:        int32(i),
			native:      sm.impl,
		}
		for _, p := range params {
			pc, err := r.classForDescriptorLocked(t, p, nil)
			if err != nil {
				return nil, err
			}
			m.ParamTypes = append(m.ParamTypes, pc)
		}
		if m.ReturnType, err = r.classForDescriptorLocked(t, ret, nil); err != nil {
			return nil, err
		}
		locals := m.ArgSlots()
		if !m.IsStatic() {
			locals++
		}
		m.MaxLocals = uint16(locals)
		m.FrameSlots = int32(m.MaxLocals)
		c.DeclaredMethods = append(c.DeclaredMethods, m)
		c.methodsByKey[memberKey{m.Name, m.Descriptor}] = m
	}

	c.state = stateLinked
	r.ensureMirrorLocked(c)
	r.vm.logClass("synthesized builtin class", name)
	return c, nil
}

const (
	pub       = classfile.AccPublic
	pubStatic = classfile.AccPublic | classfile.AccStatic
	pubAbs    = classfile.AccPublic | classfile.AccAbstract
)

func nopCtor(env *Env, recv *Object, args []Value) (Value, error) {
	return VoidValue(), nil
}

// throwableCtors builds the two standard constructors shared by every
// synthesized throwable class.
func throwableCtors() []synthMethod {
	return []synthMethod{
		{"<init>", "()V", pub, nopCtor},
		{"<init>", "(Ljava/lang/String;)V", pub, func(env *Env, recv *Object, args []Value) (Value, error) {
			if f := recv.Class().LookupField("detailMessage", "Ljava/lang/String;"); f != nil {
				recv.SetFieldValue(f, args[0])
			}
			return VoidValue(), nil
		}},
	}
}

func throwableDef(super string) synthDef {
	return synthDef{super: super, methods: throwableCtors()}
}

var builtinDefs map[string]synthDef

func init() {
	builtinDefs = map[string]synthDef{
		"java/lang/Object": {
			methods: []synthMethod{
				{"<init>", "()V", pub, nopCtor},
				{"hashCode", "()I", pub, nativeObjectHashCode},
				{"equals", "(Ljava/lang/Object;)Z", pub, nativeObjectEquals},
				{"getClass", "()Ljava/lang/Class;", pub, nativeObjectGetClass},
				{"clone", "()Ljava/lang/Object;", classfile.AccProtected, nativeObjectClone},
				{"toString", "()Ljava/lang/String;", pub, nativeObjectToString},
				{"wait", "()V", pub, nativeObjectWaitIndefinite},
				{"wait", "(J)V", pub, nativeObjectWait},
				{"notify", "()V", pub, nativeObjectNotify},
				{"notifyAll", "()V", pub, nativeObjectNotifyAll},
				{"finalize", "()V", classfile.AccProtected, nopCtor},
			},
		},
		"java/lang/Class": {
			super: "java/lang/Object",
			methods: []synthMethod{
				{"getName", "()Ljava/lang/String;", pub, nativeClassGetName},
				{"isInterface", "()Z", pub, nativeClassIsInterface},
				{"isArray", "()Z", pub, nativeClassIsArray},
				{"isPrimitive", "()Z", pub, nativeClassIsPrimitive},
			},
		},
		"java/lang/String": {
			super:  "java/lang/Object",
			ifaces: []string{"java/io/Serializable"},
			methods: []synthMethod{
				{"intern", "()Ljava/lang/String;", pub, nativeStringIntern},
				{"length", "()I", pub, nativeStringLength},
				{"hashCode", "()I", pub, nativeStringHashCode},
				{"equals", "(Ljava/lang/Object;)Z", pub, nativeStringEquals},
				{"toString", "()Ljava/lang/String;", pub, func(env *Env, recv *Object, args []Value) (Value, error) {
					return RefValue(recv), nil
				}},
			},
		},
		"java/lang/ClassLoader": {
			super: "java/lang/Object",
			fields: []synthField{
				{"parent", "Ljava/lang/ClassLoader;", classfile.AccPrivate},
			},
			methods: []synthMethod{
				{"<init>", "()V", pub, nopCtor},
				{"loadClass", "(Ljava/lang/String;)Ljava/lang/Class;", pub, nativeLoaderLoadClass},
				{"defineClass", "(Ljava/lang/String;[BII)Ljava/lang/Class;", classfile.AccProtected, nativeLoaderDefineClass},
			},
		},
		"java/io/PrintStream": {
			super: "java/lang/Object",
			methods: []synthMethod{
				{"println", "()V", pub, nativePrintln},
				{"println", "(I)V", pub, nativePrintln},
				{"println", "(J)V", pub, nativePrintln},
				{"println", "(F)V", pub, nativePrintln},
				{"println", "(D)V", pub, nativePrintln},
				{"println", "(Z)V", pub, nativePrintln},
				{"println", "(C)V", pub, nativePrintln},
				{"println", "(Ljava/lang/String;)V", pub, nativePrintln},
				{"println", "(Ljava/lang/Object;)V", pub, nativePrintln},
				{"print", "(I)V", pub, nativePrint},
				{"print", "(J)V", pub, nativePrint},
				{"print", "(F)V", pub, nativePrint},
				{"print", "(D)V", pub, nativePrint},
				{"print", "(Z)V", pub, nativePrint},
				{"print", "(C)V", pub, nativePrint},
				{"print", "(Ljava/lang/String;)V", pub, nativePrint},
			},
		},
		"java/lang/System": {
			super: "java/lang/Object",
			fields: []synthField{
				{"out", "Ljava/io/PrintStream;", pubStatic | classfile.AccFinal},
				{"err", "Ljava/io/PrintStream;", pubStatic | classfile.AccFinal},
			},
			methods: []synthMethod{
				{"arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", pubStatic, nativeSystemArraycopy},
				{"currentTimeMillis", "()J", pubStatic, func(env *Env, recv *Object, args []Value) (Value, error) {
					return LongValue(time.Now().UnixMilli()), nil
				}},
				{"nanoTime", "()J", pubStatic, func(env *Env, recv *Object, args []Value) (Value, error) {
					return LongValue(time.Now().UnixNano()), nil
				}},
				{"identityHashCode", "(Ljava/lang/Object;)I", pubStatic, func(env *Env, recv *Object, args []Value) (Value, error) {
					if args[0].Ref() == nil {
						return IntValue(0), nil
					}
					return IntValue(args[0].Ref().IdentityHash()), nil
				}},
				{"gc", "()V", pubStatic, func(env *Env, recv *Object, args []Value) (Value, error) {
					env.VM.gc.CollectFrom(env.Thread)
					return VoidValue(), nil
				}},
				{"getProperty", "(Ljava/lang/String;)Ljava/lang/String;", pubStatic, nativeSystemGetProperty},
			},
		},
		"java/lang/Thread": {
			super:  "java/lang/Object",
			ifaces: []string{"java/lang/Runnable"},
			fields: []synthField{
				{"name", "Ljava/lang/String;", classfile.AccPrivate},
				{"daemon", "Z", classfile.AccPrivate},
				{"priority", "I", classfile.AccPrivate},
				{"target", "Ljava/lang/Runnable;", classfile.AccPrivate},
			},
			methods: []synthMethod{
				{"<init>", "()V", pub, nopCtor},
				{"<init>", "(Ljava/lang/Runnable;)V", pub, func(env *Env, recv *Object, args []Value) (Value, error) {
					if f := recv.Class().LookupField("target", "Ljava/lang/Runnable;"); f != nil {
						recv.SetFieldValue(f, args[0])
					}
					return VoidValue(), nil
				}},
				{"start", "()V", pub, nativeThreadStart},
				{"run", "()V", pub, nativeThreadRun},
				{"currentThread", "()Ljava/lang/Thread;", pubStatic, nativeThreadCurrent},
				{"sleep", "(J)V", pubStatic, nativeThreadSleep},
				{"join", "()V", pub, nativeThreadJoin},
				{"setDaemon", "(Z)V", pub, nativeThreadSetDaemon},
				{"isDaemon", "()Z", pub, nativeThreadIsDaemon},
				{"isAlive", "()Z", pub, nativeThreadIsAlive},
				{"interrupt", "()V", pub, nativeThreadInterrupt},
				{"isInterrupted", "()Z", pub, nativeThreadIsInterrupted},
			},
		},
		"java/lang/Float": {
			super: "java/lang/Object",
			methods: []synthMethod{
				{"floatToRawIntBits", "(F)I", pubStatic, func(env *Env, recv *Object, args []Value) (Value, error) {
					return IntValue(int32(uint32(args[0].Bits()))), nil
				}},
				{"floatToIntBits", "(F)I", pubStatic, func(env *Env, recv *Object, args []Value) (Value, error) {
					return IntValue(int32(uint32(args[0].Bits()))), nil
				}},
				{"intBitsToFloat", "(I)F", pubStatic, func(env *Env, recv *Object, args []Value) (Value, error) {
					return Value{Kind: TypeFloat, bits: uint64(uint32(args[0].Int()))}, nil
				}},
			},
		},
		"java/lang/Double": {
			super: "java/lang/Object",
			methods: []synthMethod{
				{"doubleToRawLongBits", "(D)J", pubStatic, func(env *Env, recv *Object, args []Value) (Value, error) {
					return LongValue(int64(args[0].Bits())), nil
				}},
				{"doubleToLongBits", "(D)J", pubStatic, func(env *Env, recv *Object, args []Value) (Value, error) {
					return LongValue(int64(args[0].Bits())), nil
				}},
				{"longBitsToDouble", "(J)D", pubStatic, func(env *Env, recv *Object, args []Value) (Value, error) {
					return Value{Kind: TypeDouble, bits: args[0].Bits()}, nil
				}},
			},
		},

		"java/lang/Cloneable":   {kind: KindInterface},
		"java/io/Serializable":  {kind: KindInterface},
		"java/lang/Runnable": {
			kind: KindInterface,
			methods: []synthMethod{
				{"run", "()V", pubAbs, nil},
			},
		},

		"java/lang/Throwable": {
			super:  "java/lang/Object",
			ifaces: []string{"java/io/Serializable"},
			fields: []synthField{
				{"detailMessage", "Ljava/lang/String;", classfile.AccPrivate},
			},
			methods: append(throwableCtors(),
				synthMethod{"getMessage", "()Ljava/lang/String;", pub, nativeThrowableGetMessage},
				synthMethod{"toString", "()Ljava/lang/String;", pub, nativeThrowableToString},
				synthMethod{"fillInStackTrace", "()Ljava/lang/Throwable;", pub, func(env *Env, recv *Object, args []Value) (Value, error) {
					return RefValue(recv), nil
				}},
			),
		},

		"java/lang/Exception":                      throwableDef("java/lang/Throwable"),
		"java/lang/RuntimeException":               throwableDef("java/lang/Exception"),
		"java/lang/Error":                          throwableDef("java/lang/Throwable"),
		"java/lang/VirtualMachineError":            throwableDef("java/lang/Error"),
		ClassLinkageError:                          throwableDef("java/lang/Error"),
		ClassNoClassDefFoundError:                  throwableDef(ClassLinkageError),
		ClassUnsatisfiedLinkError:                  throwableDef(ClassLinkageError),
		ClassExceptionInInitializer:                throwableDef(ClassLinkageError),
		ClassIncompatibleClassChange:               throwableDef(ClassLinkageError),
		ClassNoSuchFieldError:                      throwableDef(ClassIncompatibleClassChange),
		ClassNoSuchMethodError:                     throwableDef(ClassIncompatibleClassChange),
		ClassAbstractMethodError:                   throwableDef(ClassIncompatibleClassChange),
		ClassInstantiationError:                    throwableDef(ClassIncompatibleClassChange),
		ClassOutOfMemoryError:                      throwableDef("java/lang/VirtualMachineError"),
		ClassStackOverflowError:                    throwableDef("java/lang/VirtualMachineError"),
		ClassClassNotFoundException:                throwableDef("java/lang/Exception"),
		ClassInterruptedException:                  throwableDef("java/lang/Exception"),
		ClassCloneNotSupported:                     throwableDef("java/lang/Exception"),
		ClassNullPointerException:                  throwableDef("java/lang/RuntimeException"),
		ClassArithmeticException:                   throwableDef("java/lang/RuntimeException"),
		ClassClassCastException:                    throwableDef("java/lang/RuntimeException"),
		ClassNegativeArraySizeException:            throwableDef("java/lang/RuntimeException"),
		ClassIllegalMonitorState:                   throwableDef("java/lang/RuntimeException"),
		ClassArrayStoreException:                   throwableDef("java/lang/RuntimeException"),
		"java/lang/IndexOutOfBoundsException":      throwableDef("java/lang/RuntimeException"),
		ClassArrayIndexOutOfBounds:                 throwableDef("java/lang/IndexOutOfBoundsException"),
		"java/lang/IllegalArgumentException":       throwableDef("java/lang/RuntimeException"),
	}
}

// --- builtin native implementations ---

// javaFormat renders an argument value the way println does.
func javaFormat(env *Env, descriptor string, v Value) string {
	switch descriptor {
	case "(I)V":
		return fmt.Sprintf("%d", v.Int())
	case "(J)V":
		return fmt.Sprintf("%d", v.Long())
	case "(F)V":
		return formatFloat(float64(v.Float()))
	case "(D)V":
		return formatFloat(v.Double())
	case "(Z)V":
		if v.Bool() {
			return "true"
		}
		return "false"
	case "(C)V":
		return string(rune(v.Char()))
	default:
		obj := v.Ref()
		if obj == nil {
			return "null"
		}
		if obj.Class() == env.VM.builtin.stringClass {
			return obj.GoString()
		}
		if m := obj.Class().LookupMethod("toString", "()Ljava/lang/String;"); m != nil {
			if ret, err := env.Call(m, []Value{RefValue(obj)}); err == nil && ret.Ref() != nil {
				return ret.Ref().GoString()
			}
		}
		return strings.ReplaceAll(obj.Class().Name, "/", ".")
	}
}

// formatFloat matches Java's Double.toString for the common cases.
func formatFloat(d float64) string {
	if d == float64(int64(d)) && !math.IsInf(d, 0) {
		return strconv.FormatFloat(d, 'f', 1, 64)
	}
	return strconv.FormatFloat(d, 'f', -1, 64)
}

// streamWriter selects the writer behind a PrintStream instance.
func streamWriter(env *Env, recv *Object) io.Writer {
	if recv != nil && recv.GoString() == "err" {
		return os.Stderr
	}
	return env.VM.Stdout
}

func nativePrintln(env *Env, recv *Object, args []Value) (Value, error) {
	w := streamWriter(env, recv)
	if len(args) == 0 {
		fmt.Fprintln(w)
		return VoidValue(), nil
	}
	frame := env.Thread.Executor().CurrentFrame()
	fmt.Fprintln(w, javaFormat(env, frame.Method.Descriptor, args[0]))
	return VoidValue(), nil
}

func nativePrint(env *Env, recv *Object, args []Value) (Value, error) {
	frame := env.Thread.Executor().CurrentFrame()
	fmt.Fprint(streamWriter(env, recv), javaFormat(env, frame.Method.Descriptor, args[0]))
	return VoidValue(), nil
}

func nativeObjectHashCode(env *Env, recv *Object, args []Value) (Value, error) {
	return IntValue(recv.IdentityHash()), nil
}

func nativeObjectEquals(env *Env, recv *Object, args []Value) (Value, error) {
	return BooleanValue(recv == args[0].Ref()), nil
}

func nativeObjectGetClass(env *Env, recv *Object, args []Value) (Value, error) {
	return RefValue(recv.Class().Mirror), nil
}

func nativeObjectClone(env *Env, recv *Object, args []Value) (Value, error) {
	if !env.VM.isInstanceOfName(recv, "java/lang/Cloneable") && !recv.IsArray() {
		return Value{}, env.Throw(ClassCloneNotSupported, recv.Class().Name)
	}
	return RefValue(env.VM.heap.Clone(recv)), nil
}

func nativeObjectToString(env *Env, recv *Object, args []Value) (Value, error) {
	s := strings.ReplaceAll(recv.Class().Name, "/", ".") +
		"@" + fmt.Sprintf("%x", recv.IdentityHash())
	return RefValue(env.VM.NewString(s)), nil
}

func monitorError(env *Env, err error) error {
	if err == ErrNotMonitorOwner {
		return env.Throw(ClassIllegalMonitorState, "current thread not owner")
	}
	return err
}

func nativeObjectWaitIndefinite(env *Env, recv *Object, args []Value) (Value, error) {
	err := env.Blocking(func() error {
		return recv.Monitor().Wait(env.Thread, 0)
	})
	if err != nil {
		return Value{}, monitorError(env, err)
	}
	return VoidValue(), nil
}

func nativeObjectWait(env *Env, recv *Object, args []Value) (Value, error) {
	ms := args[0].Long()
	if ms < 0 {
		return Value{}, env.Throw("java/lang/IllegalArgumentException", "timeout value is negative")
	}
	err := env.Blocking(func() error {
		return recv.Monitor().Wait(env.Thread, ms)
	})
	if err != nil {
		return Value{}, monitorError(env, err)
	}
	return VoidValue(), nil
}

func nativeObjectNotify(env *Env, recv *Object, args []Value) (Value, error) {
	if err := recv.Monitor().Notify(env.Thread); err != nil {
		return Value{}, monitorError(env, err)
	}
	return VoidValue(), nil
}

func nativeObjectNotifyAll(env *Env, recv *Object, args []Value) (Value, error) {
	if err := recv.Monitor().NotifyAll(env.Thread); err != nil {
		return Value{}, monitorError(env, err)
	}
	return VoidValue(), nil
}

func nativeClassGetName(env *Env, recv *Object, args []Value) (Value, error) {
	c := recv.mirrorOf
	if c == nil {
		return RefValue(nil), nil
	}
	return RefValue(env.VM.Intern(strings.ReplaceAll(c.Name, "/", "."))), nil
}

func nativeClassIsInterface(env *Env, recv *Object, args []Value) (Value, error) {
	return BooleanValue(recv.mirrorOf != nil && recv.mirrorOf.IsInterface()), nil
}

func nativeClassIsArray(env *Env, recv *Object, args []Value) (Value, error) {
	return BooleanValue(recv.mirrorOf != nil && recv.mirrorOf.IsArray()), nil
}

func nativeClassIsPrimitive(env *Env, recv *Object, args []Value) (Value, error) {
	return BooleanValue(recv.mirrorOf != nil && recv.mirrorOf.IsPrimitive()), nil
}

func nativeStringIntern(env *Env, recv *Object, args []Value) (Value, error) {
	return RefValue(env.VM.Intern(recv.GoString())), nil
}

func nativeStringLength(env *Env, recv *Object, args []Value) (Value, error) {
	return IntValue(int32(len([]rune(recv.GoString())))), nil
}

func nativeStringHashCode(env *Env, recv *Object, args []Value) (Value, error) {
	var h int32
	for _, r := range recv.GoString() {
		h = 31*h + int32(r)
	}
	return IntValue(h), nil
}

func nativeStringEquals(env *Env, recv *Object, args []Value) (Value, error) {
	other := args[0].Ref()
	if other == nil || other.Class() != recv.Class() {
		return BooleanValue(false), nil
	}
	return BooleanValue(recv.GoString() == other.GoString()), nil
}

func nativeThrowableGetMessage(env *Env, recv *Object, args []Value) (Value, error) {
	f := recv.Class().LookupField("detailMessage", "Ljava/lang/String;")
	if f == nil {
		return RefValue(nil), nil
	}
	return recv.FieldValue(f), nil
}

func nativeThrowableToString(env *Env, recv *Object, args []Value) (Value, error) {
	name := strings.ReplaceAll(recv.Class().Name, "/", ".")
	if msg := recv.ThrowableMessage(); msg != "" {
		name += ": " + msg
	}
	return RefValue(env.VM.NewString(name)), nil
}

func nativeSystemGetProperty(env *Env, recv *Object, args []Value) (Value, error) {
	key := args[0].Ref()
	if key == nil {
		return Value{}, env.Throw(ClassNullPointerException, "key")
	}
	value, ok := env.VM.Property(key.GoString())
	if !ok {
		return RefValue(nil), nil
	}
	return RefValue(env.VM.Intern(value)), nil
}

func nativeSystemArraycopy(env *Env, recv *Object, args []Value) (Value, error) {
	src, dst := args[0].Ref(), args[2].Ref()
	srcPos, dstPos, length := args[1].Int(), args[3].Int(), args[4].Int()

	if src == nil || dst == nil {
		return Value{}, env.Throw(ClassNullPointerException, "")
	}
	if !src.IsArray() || !dst.IsArray() {
		return Value{}, env.Throw(ClassArrayStoreException, "not an array")
	}
	sc, dc := src.Class().Component, dst.Class().Component
	if sc.IsPrimitive() != dc.IsPrimitive() || (sc.IsPrimitive() && sc != dc) {
		return Value{}, env.Throw(ClassArrayStoreException,
			src.Class().Name+" -> "+dst.Class().Name)
	}
	if srcPos < 0 || dstPos < 0 || length < 0 ||
		srcPos+length > src.Length() || dstPos+length > dst.Length() {
		return Value{}, env.Throw(ClassArrayIndexOutOfBounds,
			fmt.Sprintf("arraycopy: last source index %d out of bounds", srcPos+length))
	}

	if src == dst && dstPos > srcPos {
		for i := length - 1; i >= 0; i-- {
			dst.SetElement(dstPos+i, src.Element(srcPos+i))
		}
	} else {
		for i := int32(0); i < length; i++ {
			dst.SetElement(dstPos+i, src.Element(srcPos+i))
		}
	}
	return VoidValue(), nil
}

func nativeThreadStart(env *Env, recv *Object, args []Value) (Value, error) {
	return VoidValue(), env.VM.StartJavaThread(recv)
}

func nativeThreadRun(env *Env, recv *Object, args []Value) (Value, error) {
	f := recv.Class().LookupField("target", "Ljava/lang/Runnable;")
	if f == nil {
		return VoidValue(), nil
	}
	target := recv.FieldValue(f).Ref()
	if target == nil {
		return VoidValue(), nil
	}
	run := target.Class().LookupMethod("run", "()V")
	if run == nil {
		return VoidValue(), nil
	}
	_, err := env.Call(run, []Value{RefValue(target)})
	return VoidValue(), err
}

func nativeThreadCurrent(env *Env, recv *Object, args []Value) (Value, error) {
	return RefValue(env.Thread.JavaObject()), nil
}

func nativeThreadSleep(env *Env, recv *Object, args []Value) (Value, error) {
	_ = env.Blocking(func() error {
		env.Thread.setState(StateTimedWaiting)
		time.Sleep(time.Duration(args[0].Long()) * time.Millisecond)
		env.Thread.setState(StateRunnable)
		return nil
	})
	return VoidValue(), nil
}

func nativeThreadJoin(env *Env, recv *Object, args []Value) (Value, error) {
	if other := env.VM.threadForObject(recv); other != nil {
		_ = env.Blocking(func() error {
			env.Thread.setState(StateWaiting)
			other.Join()
			env.Thread.setState(StateRunnable)
			return nil
		})
	}
	return VoidValue(), nil
}

func nativeThreadSetDaemon(env *Env, recv *Object, args []Value) (Value, error) {
	if f := recv.Class().LookupField("daemon", "Z"); f != nil {
		recv.SetFieldValue(f, args[0])
	}
	if other := env.VM.threadForObject(recv); other != nil {
		other.SetDaemon(args[0].Bool())
	}
	return VoidValue(), nil
}

func nativeThreadIsDaemon(env *Env, recv *Object, args []Value) (Value, error) {
	if f := recv.Class().LookupField("daemon", "Z"); f != nil {
		return BooleanValue(recv.FieldValue(f).Bool()), nil
	}
	return BooleanValue(false), nil
}

func nativeThreadIsAlive(env *Env, recv *Object, args []Value) (Value, error) {
	other := env.VM.threadForObject(recv)
	return BooleanValue(other != nil && other.IsAlive()), nil
}

func nativeThreadInterrupt(env *Env, recv *Object, args []Value) (Value, error) {
	if other := env.VM.threadForObject(recv); other != nil {
		other.Interrupt()
	}
	return VoidValue(), nil
}

func nativeThreadIsInterrupted(env *Env, recv *Object, args []Value) (Value, error) {
	other := env.VM.threadForObject(recv)
	return BooleanValue(other != nil && other.Interrupted()), nil
}

func nativeLoaderLoadClass(env *Env, recv *Object, args []Value) (Value, error) {
	nameObj := args[0].Ref()
	if nameObj == nil {
		return Value{}, env.Throw(ClassNullPointerException, "name")
	}
	name := strings.ReplaceAll(nameObj.GoString(), ".", "/")
	c, err := env.VM.registry.LoadClass(env.Thread, name, nil)
	if err != nil {
		return Value{}, env.Throw(ClassClassNotFoundException, nameObj.GoString())
	}
	return RefValue(c.Mirror), nil
}

func nativeLoaderDefineClass(env *Env, recv *Object, args []Value) (Value, error) {
	nameObj := args[0].Ref()
	buf := args[1].Ref()
	off, length := args[2].Int(), args[3].Int()

	if nameObj == nil || buf == nil {
		return Value{}, env.Throw(ClassNullPointerException, "")
	}
	if off < 0 || length < 0 || off+length > buf.Length() {
		return Value{}, env.Throw(ClassArrayIndexOutOfBounds, fmt.Sprintf("%d..%d", off, off+length))
	}

	data := make([]byte, length)
	for i := int32(0); i < length; i++ {
		data[i] = byte(buf.Element(off + i).Byte())
	}
	name := strings.ReplaceAll(nameObj.GoString(), ".", "/")

	c, err := env.VM.registry.DefineClass(env.Thread, name, recv, data)
	if err != nil {
		return Value{}, err
	}
	return RefValue(c.Mirror), nil
}
