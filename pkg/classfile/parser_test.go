package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildHello assembles a minimal class with a static main method.
func buildHello(t *testing.T) []byte {
	t.Helper()
	b := NewBuilder("Hello", "java/lang/Object", AccPublic|AccSuper)
	b.AddMethod(AccPublic|AccStatic, "main", "([Ljava/lang/String;)V", 1, 1,
		[]byte{0xB1}) // return
	return b.Bytes()
}

func TestParseMinimalClass(t *testing.T) {
	cf, err := ParseBytes(buildHello(t))
	require.NoError(t, err)

	name, err := cf.ClassName()
	require.NoError(t, err)
	assert.Equal(t, "Hello", name)
	assert.Equal(t, "java/lang/Object", cf.SuperClassName())
	assert.Equal(t, uint16(51), cf.MajorVersion)

	main := cf.FindMethod("main", "([Ljava/lang/String;)V")
	require.NotNil(t, main)
	require.NotNil(t, main.Code)
	assert.Equal(t, []byte{0xB1}, main.Code.Code)
	assert.Equal(t, uint16(1), main.Code.MaxStack)
	assert.Equal(t, uint16(1), main.Code.MaxLocals)
}

func TestParseRejectsBadMagic(t *testing.T) {
	data := buildHello(t)
	data[0] = 0xDE

	_, err := ParseBytes(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}

func TestParseRejectsTruncatedInput(t *testing.T) {
	data := buildHello(t)
	for _, cut := range []int{3, 9, 20, len(data) / 2, len(data) - 1} {
		_, err := ParseBytes(data[:cut])
		assert.Error(t, err, "truncation at %d bytes", cut)
	}
}

func TestParseRejectsUnknownAttribute(t *testing.T) {
	b := NewBuilder("Odd", "java/lang/Object", AccPublic|AccSuper)
	// A field carrying an attribute the decoder does not recognize.
	nameIdx := b.Utf8("x")
	descIdx := b.Utf8("I")
	attrIdx := b.Utf8("WhoKnows")
	entry := u2(AccPrivate)
	entry = append(entry, u2(nameIdx)...)
	entry = append(entry, u2(descIdx)...)
	entry = append(entry, u2(1)...)
	entry = append(entry, u2(attrIdx)...)
	entry = append(entry, u4(0)...)
	b.fields = append(b.fields, entry)

	_, err := ParseBytes(b.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WhoKnows")
}

func TestParseExceptionTable(t *testing.T) {
	b := NewBuilder("Catches", "java/lang/Object", AccPublic|AccSuper)
	b.AddMethod(AccPublic|AccStatic, "f", "()I", 2, 0,
		[]byte{0x08, 0x03, 0x6C, 0xAC, 0x57, 0x02, 0xAC},
		Handler{StartPC: 0, EndPC: 4, HandlerPC: 4, CatchClass: "java/lang/ArithmeticException"},
		Handler{StartPC: 0, EndPC: 4, HandlerPC: 4})

	cf, err := ParseBytes(b.Bytes())
	require.NoError(t, err)

	m := cf.FindMethod("f", "()I")
	require.NotNil(t, m)
	require.Len(t, m.Code.ExceptionHandlers, 2)

	h := m.Code.ExceptionHandlers[0]
	assert.Equal(t, uint16(0), h.StartPC)
	assert.Equal(t, uint16(4), h.EndPC)
	assert.Equal(t, uint16(4), h.HandlerPC)
	catch, err := GetClassName(cf.ConstantPool, h.CatchType)
	require.NoError(t, err)
	assert.Equal(t, "java/lang/ArithmeticException", catch)

	// Second entry is a catch-all.
	assert.Equal(t, uint16(0), m.Code.ExceptionHandlers[1].CatchType)
}

func TestParseInterfaces(t *testing.T) {
	b := NewBuilder("Impl", "java/lang/Object", AccPublic|AccSuper)
	b.AddInterface("java/lang/Cloneable")
	b.AddInterface("java/io/Serializable")

	cf, err := ParseBytes(b.Bytes())
	require.NoError(t, err)
	require.Len(t, cf.Interfaces, 2)

	first, err := GetClassName(cf.ConstantPool, cf.Interfaces[0])
	require.NoError(t, err)
	assert.Equal(t, "java/lang/Cloneable", first)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	data := append(buildHello(t), 0x00)
	_, err := ParseBytes(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing")
}

func TestDecodeStackMapTable(t *testing.T) {
	// frame_type 0 (same), frame_type 255 (full_frame) with one
	// Integer local and an empty stack, frame_type 64 with a Null
	// stack item.
	raw := []byte{
		0x00, 0x03, // number_of_entries
		0x00,                                           // same_frame
		0xFF, 0x00, 0x10, 0x00, 0x01, 0x01, 0x00, 0x00, // full_frame
		0x40, 0x05, // same_locals_1_stack_item, Null
	}
	attr, err := decodeAttribute("StackMapTable", raw, nil)
	require.NoError(t, err)

	table := attr.(*StackMapTableAttribute)
	require.Len(t, table.Frames, 3)
	assert.Equal(t, uint8(0), table.Frames[0].FrameType)
	assert.Equal(t, uint16(0x10), table.Frames[1].OffsetDelta)
	require.Len(t, table.Frames[1].Locals, 1)
	assert.Equal(t, uint8(ItemInteger), table.Frames[1].Locals[0].Tag)
	require.Len(t, table.Frames[2].Stack, 1)
	assert.Equal(t, uint8(ItemNull), table.Frames[2].Stack[0].Tag)
}

func TestDecodeStackMapTableRejectsReservedFrameType(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x80}
	_, err := decodeAttribute("StackMapTable", raw, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}
