package classfile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantPoolNumericEntries(t *testing.T) {
	b := NewBuilder("Consts", "java/lang/Object", AccPublic|AccSuper)
	intIdx := b.IntConst(-42)
	floatIdx := b.FloatConst(float32(math.Pi))
	longIdx := b.LongConst(-1 << 40)
	doubleIdx := b.DoubleConst(2.5e-300)
	afterIdx := b.IntConst(7)

	cf, err := ParseBytes(b.Bytes())
	require.NoError(t, err)
	pool := cf.ConstantPool

	assert.Equal(t, int32(-42), pool[intIdx].(*ConstantInteger).Value)
	assert.Equal(t, float32(math.Pi), pool[floatIdx].(*ConstantFloat).Value)
	assert.Equal(t, int64(-1<<40), pool[longIdx].(*ConstantLong).Value)
	assert.Equal(t, 2.5e-300, pool[doubleIdx].(*ConstantDouble).Value)

	// The slots after long and double entries stay nil.
	assert.Nil(t, pool[longIdx+1])
	assert.Nil(t, pool[doubleIdx+1])
	assert.Equal(t, int32(7), pool[afterIdx].(*ConstantInteger).Value)
}

func TestResolveMemberRef(t *testing.T) {
	b := NewBuilder("Refs", "java/lang/Object", AccPublic|AccSuper)
	fieldIdx := b.FieldRef("Refs", "count", "I")
	methodIdx := b.MethodRef("java/lang/Object", "hashCode", "()I")
	ifaceIdx := b.InterfaceMethodRef("java/lang/Runnable", "run", "()V")

	cf, err := ParseBytes(b.Bytes())
	require.NoError(t, err)

	field, err := ResolveMemberRef(cf.ConstantPool, fieldIdx)
	require.NoError(t, err)
	assert.Equal(t, "Refs", field.ClassName)
	assert.Equal(t, "count", field.Name)
	assert.Equal(t, "I", field.Descriptor)

	method, err := ResolveMemberRef(cf.ConstantPool, methodIdx)
	require.NoError(t, err)
	assert.Equal(t, "java/lang/Object", method.ClassName)
	assert.Equal(t, "hashCode", method.Name)

	iface, err := ResolveMemberRef(cf.ConstantPool, ifaceIdx)
	require.NoError(t, err)
	assert.Equal(t, "java/lang/Runnable", iface.ClassName)

	_, err = ResolveMemberRef(cf.ConstantPool, 0)
	assert.Error(t, err)
}

func TestGetUtf8Errors(t *testing.T) {
	b := NewBuilder("U", "java/lang/Object", AccPublic|AccSuper)
	classIdx := b.ClassRef("U")

	cf, err := ParseBytes(b.Bytes())
	require.NoError(t, err)

	_, err = GetUtf8(cf.ConstantPool, 0)
	assert.Error(t, err)
	_, err = GetUtf8(cf.ConstantPool, uint16(len(cf.ConstantPool)))
	assert.Error(t, err)
	_, err = GetUtf8(cf.ConstantPool, classIdx)
	assert.Error(t, err, "Class entry is not Utf8")
}

func TestDecodeModifiedUTF8(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"ascii", []byte("hello"), "hello"},
		{"embedded nul", []byte{'a', 0xC0, 0x80, 'b'}, "a\x00b"},
		{"two byte", []byte{0xC3, 0xA9}, "é"},
		{"three byte", []byte{0xE2, 0x82, 0xAC}, "€"},
		{"surrogate pair", []byte{0xED, 0xA0, 0xBD, 0xED, 0xB8, 0x80}, "😀"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeModifiedUTF8(tt.raw))
		})
	}
}
