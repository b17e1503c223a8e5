package classfile

import "math"

// Builder assembles a class file image. It exists for tests and
// tooling: hand-rolled classes exercise the decoder and the runtime
// without shipping binary fixtures.
type Builder struct {
	constants [][]byte
	// count is the next constant index; long/double burn two.
	count uint16

	utf8Index map[string]uint16

	accessFlags uint16
	thisClass   uint16
	superClass  uint16
	interfaces  []uint16
	fields      [][]byte
	methods     [][]byte
}

// NewBuilder starts a class named name with the given super class
// (internal form).
func NewBuilder(name, superName string, accessFlags uint16) *Builder {
	b := &Builder{count: 1, utf8Index: make(map[string]uint16)}
	b.accessFlags = accessFlags
	b.thisClass = b.ClassRef(name)
	if superName != "" {
		b.superClass = b.ClassRef(superName)
	}
	return b
}

func (b *Builder) add(entry []byte, slots uint16) uint16 {
	index := b.count
	b.constants = append(b.constants, entry)
	b.count += slots
	return index
}

func u2(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func u4(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// Utf8 interns a modified-UTF-8 constant (ASCII payloads only, which
// covers names and descriptors).
func (b *Builder) Utf8(s string) uint16 {
	if index, ok := b.utf8Index[s]; ok {
		return index
	}
	entry := append([]byte{TagUtf8}, u2(uint16(len(s)))...)
	entry = append(entry, s...)
	index := b.add(entry, 1)
	b.utf8Index[s] = index
	return index
}

// ClassRef adds a CONSTANT_Class entry for the internal name.
func (b *Builder) ClassRef(name string) uint16 {
	return b.add(append([]byte{TagClass}, u2(b.Utf8(name))...), 1)
}

// StringRef adds a CONSTANT_String entry.
func (b *Builder) StringRef(s string) uint16 {
	return b.add(append([]byte{TagString}, u2(b.Utf8(s))...), 1)
}

// IntConst adds a CONSTANT_Integer entry.
func (b *Builder) IntConst(v int32) uint16 {
	return b.add(append([]byte{TagInteger}, u4(uint32(v))...), 1)
}

// FloatConst adds a CONSTANT_Float entry.
func (b *Builder) FloatConst(v float32) uint16 {
	return b.add(append([]byte{TagFloat}, u4(math.Float32bits(v))...), 1)
}

// LongConst adds a CONSTANT_Long entry (two pool slots).
func (b *Builder) LongConst(v int64) uint16 {
	entry := append([]byte{TagLong}, u4(uint32(uint64(v)>>32))...)
	entry = append(entry, u4(uint32(uint64(v)))...)
	return b.add(entry, 2)
}

// DoubleConst adds a CONSTANT_Double entry (two pool slots).
func (b *Builder) DoubleConst(v float64) uint16 {
	bits := math.Float64bits(v)
	entry := append([]byte{TagDouble}, u4(uint32(bits>>32))...)
	entry = append(entry, u4(uint32(bits))...)
	return b.add(entry, 2)
}

func (b *Builder) nameAndType(name, descriptor string) uint16 {
	entry := append([]byte{TagNameAndType}, u2(b.Utf8(name))...)
	entry = append(entry, u2(b.Utf8(descriptor))...)
	return b.add(entry, 1)
}

// FieldRef adds a CONSTANT_Fieldref entry.
func (b *Builder) FieldRef(className, name, descriptor string) uint16 {
	entry := append([]byte{TagFieldref}, u2(b.ClassRef(className))...)
	entry = append(entry, u2(b.nameAndType(name, descriptor))...)
	return b.add(entry, 1)
}

// MethodRef adds a CONSTANT_Methodref entry.
func (b *Builder) MethodRef(className, name, descriptor string) uint16 {
	entry := append([]byte{TagMethodref}, u2(b.ClassRef(className))...)
	entry = append(entry, u2(b.nameAndType(name, descriptor))...)
	return b.add(entry, 1)
}

// InterfaceMethodRef adds a CONSTANT_InterfaceMethodref entry.
func (b *Builder) InterfaceMethodRef(className, name, descriptor string) uint16 {
	entry := append([]byte{TagInterfaceMethodref}, u2(b.ClassRef(className))...)
	entry = append(entry, u2(b.nameAndType(name, descriptor))...)
	return b.add(entry, 1)
}

// AddInterface declares a direct super-interface.
func (b *Builder) AddInterface(name string) {
	b.interfaces = append(b.interfaces, b.ClassRef(name))
}

// AddField declares a field without attributes.
func (b *Builder) AddField(accessFlags uint16, name, descriptor string) {
	entry := u2(accessFlags)
	entry = append(entry, u2(b.Utf8(name))...)
	entry = append(entry, u2(b.Utf8(descriptor))...)
	entry = append(entry, u2(0)...)
	b.fields = append(b.fields, entry)
}

// Handler describes one exception-table row of a method under
// construction. CatchClass "" produces a catch-all entry.
type Handler struct {
	StartPC    uint16
	EndPC      uint16
	HandlerPC  uint16
	CatchClass string
}

// AddMethod declares a method with a Code attribute.
func (b *Builder) AddMethod(accessFlags uint16, name, descriptor string, maxStack, maxLocals uint16, code []byte, handlers ...Handler) {
	table := u2(uint16(len(handlers)))
	for _, h := range handlers {
		catchType := uint16(0)
		if h.CatchClass != "" {
			catchType = b.ClassRef(h.CatchClass)
		}
		table = append(table, u2(h.StartPC)...)
		table = append(table, u2(h.EndPC)...)
		table = append(table, u2(h.HandlerPC)...)
		table = append(table, u2(catchType)...)
	}

	body := u2(maxStack)
	body = append(body, u2(maxLocals)...)
	body = append(body, u4(uint32(len(code)))...)
	body = append(body, code...)
	body = append(body, table...)
	body = append(body, u2(0)...) // code attributes

	entry := u2(accessFlags)
	entry = append(entry, u2(b.Utf8(name))...)
	entry = append(entry, u2(b.Utf8(descriptor))...)
	entry = append(entry, u2(1)...) // one attribute: Code
	entry = append(entry, u2(b.Utf8("Code"))...)
	entry = append(entry, u4(uint32(len(body)))...)
	entry = append(entry, body...)
	b.methods = append(b.methods, entry)
}

// AddAbstractMethod declares a method without a Code attribute.
func (b *Builder) AddAbstractMethod(accessFlags uint16, name, descriptor string) {
	entry := u2(accessFlags)
	entry = append(entry, u2(b.Utf8(name))...)
	entry = append(entry, u2(b.Utf8(descriptor))...)
	entry = append(entry, u2(0)...)
	b.methods = append(b.methods, entry)
}

// Bytes assembles the final class-file image (major version 51).
func (b *Builder) Bytes() []byte {
	out := u4(0xCAFEBABE)
	out = append(out, u2(0)...)  // minor
	out = append(out, u2(51)...) // major

	out = append(out, u2(b.count)...)
	for _, entry := range b.constants {
		out = append(out, entry...)
	}

	out = append(out, u2(b.accessFlags)...)
	out = append(out, u2(b.thisClass)...)
	out = append(out, u2(b.superClass)...)

	out = append(out, u2(uint16(len(b.interfaces)))...)
	for _, iface := range b.interfaces {
		out = append(out, u2(iface)...)
	}

	out = append(out, u2(uint16(len(b.fields)))...)
	for _, f := range b.fields {
		out = append(out, f...)
	}
	out = append(out, u2(uint16(len(b.methods)))...)
	for _, m := range b.methods {
		out = append(out, m...)
	}

	out = append(out, u2(0)...) // class attributes
	return out
}
