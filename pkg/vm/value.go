package vm

import "math"

// Type identifies the kind of a Value slot.
type Type uint8

const (
	TypeVoid Type = iota
	TypeBoolean
	TypeByte
	TypeChar
	TypeShort
	TypeInt
	TypeFloat
	TypeReference
	TypeReturnAddress
	TypeLong
	TypeDouble
)

// descriptorTypes maps primitive descriptor characters to types.
var descriptorTypes = map[byte]Type{
	'V': TypeVoid,
	'Z': TypeBoolean,
	'B': TypeByte,
	'C': TypeChar,
	'S': TypeShort,
	'I': TypeInt,
	'F': TypeFloat,
	'J': TypeLong,
	'D': TypeDouble,
}

// SlotCount returns how many local-variable or operand slots a value
// of this type consumes. long and double are category-2 types.
func (t Type) SlotCount() int32 {
	if t == TypeLong || t == TypeDouble {
		return 2
	}
	return 1
}

// IsCategory2 reports whether the type takes two slots.
func (t Type) IsCategory2() bool {
	return t == TypeLong || t == TypeDouble
}

func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeBoolean:
		return "boolean"
	case TypeByte:
		return "byte"
	case TypeChar:
		return "char"
	case TypeShort:
		return "short"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeReference:
		return "reference"
	case TypeReturnAddress:
		return "returnAddress"
	case TypeLong:
		return "long"
	case TypeDouble:
		return "double"
	}
	return "unknown"
}

// Value is a tagged slot. Numeric payloads live in a single 64-bit word
// so reinterpret-cast conversions are bit-preserving; references carry
// the object pointer directly.
type Value struct {
	Kind Type
	bits uint64
	ref  *Object
}

func VoidValue() Value { return Value{Kind: TypeVoid} }

func BooleanValue(b bool) Value {
	v := Value{Kind: TypeBoolean}
	if b {
		v.bits = 1
	}
	return v
}

func ByteValue(b int8) Value {
	return Value{Kind: TypeByte, bits: uint64(uint32(int32(b)))}
}

func CharValue(c uint16) Value {
	return Value{Kind: TypeChar, bits: uint64(c)}
}

func ShortValue(s int16) Value {
	return Value{Kind: TypeShort, bits: uint64(uint32(int32(s)))}
}

func IntValue(i int32) Value {
	return Value{Kind: TypeInt, bits: uint64(uint32(i))}
}

func FloatValue(f float32) Value {
	return Value{Kind: TypeFloat, bits: uint64(math.Float32bits(f))}
}

func LongValue(l int64) Value {
	return Value{Kind: TypeLong, bits: uint64(l)}
}

func DoubleValue(d float64) Value {
	return Value{Kind: TypeDouble, bits: math.Float64bits(d)}
}

func RefValue(o *Object) Value {
	return Value{Kind: TypeReference, ref: o}
}

// NullValue creates a null reference.
func NullValue() Value {
	return Value{Kind: TypeReference}
}

// RetAddrValue creates a returnAddress value used by jsr/ret.
func RetAddrValue(pc int32) Value {
	return Value{Kind: TypeReturnAddress, bits: uint64(uint32(pc))}
}

// padValue fills the second slot of a category-2 value.
func padValue() Value { return Value{Kind: TypeVoid} }

func (v Value) Bool() bool     { return v.bits != 0 }
func (v Value) Byte() int8     { return int8(v.bits) }
func (v Value) Char() uint16   { return uint16(v.bits) }
func (v Value) Short() int16   { return int16(v.bits) }
func (v Value) Int() int32     { return int32(uint32(v.bits)) }
func (v Value) Long() int64    { return int64(v.bits) }
func (v Value) Float() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Value) Double() float64 {
	return math.Float64frombits(v.bits)
}
func (v Value) Ref() *Object  { return v.ref }
func (v Value) RetAddr() int32 { return int32(uint32(v.bits)) }

// Bits exposes the raw payload word for the native bridge.
func (v Value) Bits() uint64 { return v.bits }

func (v Value) IsReference() bool { return v.Kind == TypeReference }
func (v Value) IsNull() bool      { return v.Kind == TypeReference && v.ref == nil }

// valueOfType returns the zero value for a field or element of the
// given descriptor.
func valueOfType(descriptor string) Value {
	if descriptor == "" {
		return NullValue()
	}
	switch descriptor[0] {
	case 'L', '[':
		return NullValue()
	case 'F':
		return FloatValue(0)
	case 'D':
		return DoubleValue(0)
	case 'J':
		return LongValue(0)
	case 'Z':
		return BooleanValue(false)
	case 'B':
		return ByteValue(0)
	case 'C':
		return CharValue(0)
	case 'S':
		return ShortValue(0)
	default:
		return IntValue(0)
	}
}
