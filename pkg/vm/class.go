package vm

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/glaciervm/glacier/pkg/classfile"
)

// ClassKind discriminates the four flavors of runtime types.
type ClassKind uint8

const (
	KindOrdinary ClassKind = iota
	KindInterface
	KindPrimitive
	KindArray
)

// Class initialization states.
type classState int32

const (
	stateRaw classState = iota
	stateLinked
	stateInitializing
	stateInitialized
	stateErroneous
)

type memberKey struct {
	name       string
	descriptor string
}

const memberCacheSize = 128

// Class is the runtime descriptor of a loaded type.
type Class struct {
	Name       string
	SourceFile string

	// DefiningLoader is the loader object that defined this class;
	// nil means the bootstrap loader.
	DefiningLoader *Object

	Super      *Class
	Interfaces map[string]*Class

	DeclaredFields  []*Field
	DeclaredMethods []*Method

	fieldsByKey  map[memberKey]*Field
	methodsByKey map[memberKey]*Method

	// Inherited-lookup memoization.
	fieldCache  *lru.Cache[memberKey, *Field]
	methodCache *lru.Cache[memberKey, *Method]

	// StaticData is the class's static storage, offsets in value slots.
	StaticData []Value

	// InstanceSlots is the size of an instance's field region in value
	// slots, inherited fields included.
	InstanceSlots int32

	Kind        ClassKind
	AccessFlags uint16

	// Component is set for arrays.
	Component *Class

	// PrimKind and PrimSlots are set for primitives.
	PrimKind  Type
	PrimSlots int32

	// Mirror is the Java-visible java/lang/Class instance.
	Mirror *Object

	// file is the decoded class file; nil for arrays and primitives.
	file *classfile.ClassFile

	// rtPool parallels the class-file constant pool; slots are filled
	// lazily with resolved values under the registry lock.
	rtPool []interface{}

	state      classState
	initThread *Thread
	// initError is the throwable that marked the class erroneous.
	initError *Object
}

func newClass(name string, kind ClassKind) *Class {
	c := &Class{
		Name:         name,
		Kind:         kind,
		Interfaces:   make(map[string]*Class),
		fieldsByKey:  make(map[memberKey]*Field),
		methodsByKey: make(map[memberKey]*Method),
	}
	c.fieldCache, _ = lru.New[memberKey, *Field](memberCacheSize)
	c.methodCache, _ = lru.New[memberKey, *Method](memberCacheSize)
	return c
}

func (c *Class) IsInterface() bool { return c.Kind == KindInterface }
func (c *Class) IsArray() bool     { return c.Kind == KindArray }
func (c *Class) IsPrimitive() bool { return c.Kind == KindPrimitive }

func (c *Class) IsLinked() bool      { return c.state >= stateLinked }
func (c *Class) IsInitialized() bool { return c.state == stateInitialized }

// Descriptor returns the type descriptor form of the class name.
func (c *Class) Descriptor() string {
	switch c.Kind {
	case KindArray:
		return c.Name
	case KindPrimitive:
		for ch, t := range descriptorTypes {
			if t == c.PrimKind {
				return string(ch)
			}
		}
		return "V"
	default:
		return "L" + c.Name + ";"
	}
}

// ValueKind returns the slot type values of this class take.
func (c *Class) ValueKind() Type {
	if c.Kind == KindPrimitive {
		return c.PrimKind
	}
	return TypeReference
}

// SlotSize returns the per-value slot count of this class used for
// array element strides and field layout.
func (c *Class) SlotSize() int32 {
	if c.Kind == KindPrimitive {
		return c.PrimSlots
	}
	return 1
}

// FindDeclaredField returns the declared field with the given name and
// descriptor, or nil.
func (c *Class) FindDeclaredField(name, descriptor string) *Field {
	return c.fieldsByKey[memberKey{name, descriptor}]
}

// FindDeclaredFieldByName returns the first declared field with the
// given name, or nil.
func (c *Class) FindDeclaredFieldByName(name string) *Field {
	for _, f := range c.DeclaredFields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FindDeclaredMethod returns the declared method with the given name
// and descriptor, or nil.
func (c *Class) FindDeclaredMethod(name, descriptor string) *Method {
	return c.methodsByKey[memberKey{name, descriptor}]
}

// LookupField resolves a field reference against this class, its super
// chain and its interfaces. Results are memoized.
func (c *Class) LookupField(name, descriptor string) *Field {
	key := memberKey{name, descriptor}
	if f, ok := c.fieldCache.Get(key); ok {
		return f
	}

	for cur := c; cur != nil; cur = cur.Super {
		if f := cur.fieldsByKey[key]; f != nil {
			c.fieldCache.Add(key, f)
			return f
		}
		for _, iface := range cur.Interfaces {
			if f := iface.LookupField(name, descriptor); f != nil {
				c.fieldCache.Add(key, f)
				return f
			}
		}
	}
	return nil
}

// LookupMethod resolves a method reference against this class, its
// super chain and, for default methods, its interfaces. Results are
// memoized.
func (c *Class) LookupMethod(name, descriptor string) *Method {
	key := memberKey{name, descriptor}
	if m, ok := c.methodCache.Get(key); ok {
		return m
	}

	for cur := c; cur != nil; cur = cur.Super {
		if m := cur.methodsByKey[key]; m != nil {
			c.methodCache.Add(key, m)
			return m
		}
	}
	for cur := c; cur != nil; cur = cur.Super {
		for _, iface := range cur.Interfaces {
			if m := iface.LookupMethod(name, descriptor); m != nil {
				c.methodCache.Add(key, m)
				return m
			}
		}
	}
	return nil
}

// IsSubclassOf reports whether c equals other or has it on its super
// chain.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Super {
		if cur == other {
			return true
		}
	}
	return false
}

// implements reports whether c or one of its supertypes declares the
// interface, directly or transitively.
func (c *Class) implements(iface *Class) bool {
	for cur := c; cur != nil; cur = cur.Super {
		for _, direct := range cur.Interfaces {
			if direct == iface || direct.implements(iface) {
				return true
			}
		}
	}
	return false
}

// IsAssignableFrom reports whether a value of class src can be assigned
// to a variable of class c (the checkcast/instanceof relation).
func (c *Class) IsAssignableFrom(src *Class) bool {
	if c == src {
		return true
	}
	switch {
	case src.IsArray():
		if c.IsArray() {
			sc, tc := src.Component, c.Component
			if sc.IsPrimitive() || tc.IsPrimitive() {
				return sc == tc
			}
			return tc.IsAssignableFrom(sc)
		}
		// Arrays convert to Object and their synthetic interfaces.
		return c.Name == "java/lang/Object" ||
			c.Name == "java/lang/Cloneable" ||
			c.Name == "java/io/Serializable"
	case src.IsPrimitive():
		return false
	case c.IsInterface():
		return src.implements(c)
	default:
		return src.IsSubclassOf(c)
	}
}

// StaticValue reads the static storage at a field's offset.
func (c *Class) StaticValue(f *Field) Value {
	return c.StaticData[f.Offset]
}

// SetStaticValue writes the static storage at a field's offset.
func (c *Class) SetStaticValue(f *Field, v Value) {
	c.StaticData[f.Offset] = v
	if v.Kind.IsCategory2() {
		c.StaticData[f.Offset+1] = padValue()
	}
}

// The high bit of a field id marks static fields for the native bridge.
const fieldIDStaticBit = int32(1) << 30

// Field is a declared field of a class.
type Field struct {
	Class       *Class
	Name        string
	Descriptor  string
	Type        *Class
	AccessFlags uint16

	// Slot is the stable declaration index; Offset is the value-slot
	// offset into the instance field region or static storage.
	Slot   int32
	Offset int32

	// constantValueIndex is the ConstantValue attribute's pool index,
	// 0 if absent.
	constantValueIndex uint16
}

func (f *Field) IsStatic() bool { return f.AccessFlags&classfile.AccStatic != 0 }
func (f *Field) IsFinal() bool  { return f.AccessFlags&classfile.AccFinal != 0 }

// ID encodes the field for the native bridge: the offset with the
// static marker in the high bit.
func (f *Field) ID() int32 {
	if f.IsStatic() {
		return f.Offset | fieldIDStaticBit
	}
	return f.Offset
}

// Method is a declared method of a class.
type Method struct {
	Class       *Class
	Name        string
	Descriptor  string
	ReturnType  *Class
	ParamTypes  []*Class
	AccessFlags uint16

	Handlers    []classfile.ExceptionHandler
	Code        []byte
	MaxLocals   uint16
	MaxOperands uint16

	// FrameSlots is the arena reservation for one invocation: locals
	// plus operands.
	FrameSlots int32

	// LineNumbers is the debug line table, nil when stripped.
	LineNumbers []classfile.LineNumberEntry

	// Slot is the stable declaration index.
	Slot int32

	// native is the bound bridge function, resolved on first call.
	native NativeFunc
}

func (m *Method) IsStatic() bool       { return m.AccessFlags&classfile.AccStatic != 0 }
func (m *Method) IsNative() bool       { return m.AccessFlags&classfile.AccNative != 0 }
func (m *Method) IsAbstract() bool     { return m.AccessFlags&classfile.AccAbstract != 0 }
func (m *Method) IsSynchronized() bool { return m.AccessFlags&classfile.AccSynchronized != 0 }

// ArgSlots returns the local-variable slots the declared parameters
// consume, receiver excluded.
func (m *Method) ArgSlots() int32 {
	var slots int32
	for _, p := range m.ParamTypes {
		slots += p.ValueKind().SlotCount()
	}
	return slots
}

// QualifiedName formats the method as class.name:descriptor.
func (m *Method) QualifiedName() string {
	return m.Class.Name + "." + m.Name + ":" + m.Descriptor
}

// LineForPC returns the source line covering pc, or -1.
func (m *Method) LineForPC(pc int32) int32 {
	line := int32(-1)
	for _, entry := range m.LineNumbers {
		if int32(entry.StartPC) <= pc {
			line = int32(entry.Line)
		}
	}
	return line
}
