package classfile

import (
	"fmt"
	"math"
	"unicode/utf16"
)

// Constant pool tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagInvokeDynamic      = 18
)

// ConstantPoolEntry is implemented by all constant pool variants.
type ConstantPoolEntry interface {
	Tag() uint8
}

type ConstantUtf8 struct {
	Value string
}

func (c *ConstantUtf8) Tag() uint8 { return TagUtf8 }

type ConstantInteger struct {
	Value int32
}

func (c *ConstantInteger) Tag() uint8 { return TagInteger }

type ConstantFloat struct {
	Value float32
}

func (c *ConstantFloat) Tag() uint8 { return TagFloat }

type ConstantLong struct {
	Value int64
}

func (c *ConstantLong) Tag() uint8 { return TagLong }

type ConstantDouble struct {
	Value float64
}

func (c *ConstantDouble) Tag() uint8 { return TagDouble }

type ConstantClass struct {
	NameIndex uint16
}

func (c *ConstantClass) Tag() uint8 { return TagClass }

type ConstantString struct {
	StringIndex uint16
}

func (c *ConstantString) Tag() uint8 { return TagString }

type ConstantFieldref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantFieldref) Tag() uint8 { return TagFieldref }

type ConstantMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantMethodref) Tag() uint8 { return TagMethodref }

type ConstantInterfaceMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantInterfaceMethodref) Tag() uint8 { return TagInterfaceMethodref }

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

func (c *ConstantNameAndType) Tag() uint8 { return TagNameAndType }

type ConstantMethodHandle struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

func (c *ConstantMethodHandle) Tag() uint8 { return TagMethodHandle }

type ConstantMethodType struct {
	DescriptorIndex uint16
}

func (c *ConstantMethodType) Tag() uint8 { return TagMethodType }

type ConstantInvokeDynamic struct {
	BootstrapMethodAttrIndex uint16
	NameAndTypeIndex         uint16
}

func (c *ConstantInvokeDynamic) Tag() uint8 { return TagInvokeDynamic }

// parseConstantPool reads constant_pool_count-1 entries.
// The returned slice is 1-indexed: slot 0 is nil, and the slot
// following a long or double entry stays nil.
func parseConstantPool(r *reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := uint16(1); i < count; i++ {
		tag := r.u1()
		if r.err != nil {
			return nil, fmt.Errorf("reading constant pool tag at index %d: %w", i, r.err)
		}

		switch tag {
		case TagUtf8:
			length := r.u2()
			raw := r.bytes(int(length))
			if r.err != nil {
				return nil, fmt.Errorf("reading Utf8 at index %d: %w", i, r.err)
			}
			pool[i] = &ConstantUtf8{Value: decodeModifiedUTF8(raw)}

		case TagInteger:
			pool[i] = &ConstantInteger{Value: int32(r.u4())}

		case TagFloat:
			pool[i] = &ConstantFloat{Value: math.Float32frombits(r.u4())}

		case TagLong:
			hi := uint64(r.u4())
			lo := uint64(r.u4())
			pool[i] = &ConstantLong{Value: int64(hi<<32 | lo)}
			i++ // long takes 2 slots

		case TagDouble:
			hi := uint64(r.u4())
			lo := uint64(r.u4())
			pool[i] = &ConstantDouble{Value: math.Float64frombits(hi<<32 | lo)}
			i++ // double takes 2 slots

		case TagClass:
			pool[i] = &ConstantClass{NameIndex: r.u2()}

		case TagString:
			pool[i] = &ConstantString{StringIndex: r.u2()}

		case TagFieldref:
			pool[i] = &ConstantFieldref{ClassIndex: r.u2(), NameAndTypeIndex: r.u2()}

		case TagMethodref:
			pool[i] = &ConstantMethodref{ClassIndex: r.u2(), NameAndTypeIndex: r.u2()}

		case TagInterfaceMethodref:
			pool[i] = &ConstantInterfaceMethodref{ClassIndex: r.u2(), NameAndTypeIndex: r.u2()}

		case TagNameAndType:
			pool[i] = &ConstantNameAndType{NameIndex: r.u2(), DescriptorIndex: r.u2()}

		case TagMethodHandle:
			pool[i] = &ConstantMethodHandle{ReferenceKind: r.u1(), ReferenceIndex: r.u2()}

		case TagMethodType:
			pool[i] = &ConstantMethodType{DescriptorIndex: r.u2()}

		case TagInvokeDynamic:
			pool[i] = &ConstantInvokeDynamic{BootstrapMethodAttrIndex: r.u2(), NameAndTypeIndex: r.u2()}

		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}

		if r.err != nil {
			return nil, fmt.Errorf("reading constant pool entry at index %d: %w", i, r.err)
		}
	}

	return pool, nil
}

// decodeModifiedUTF8 decodes the class-file variant of UTF-8:
// U+0000 is encoded as 0xC0 0x80 and supplementary characters as
// surrogate pairs of 3-byte sequences.
func decodeModifiedUTF8(raw []byte) string {
	units := make([]uint16, 0, len(raw))
	for i := 0; i < len(raw); {
		b := raw[i]
		switch {
		case b&0x80 == 0:
			units = append(units, uint16(b))
			i++
		case b&0xE0 == 0xC0 && i+1 < len(raw):
			units = append(units, uint16(b&0x1F)<<6|uint16(raw[i+1]&0x3F))
			i += 2
		case b&0xF0 == 0xE0 && i+2 < len(raw):
			units = append(units, uint16(b&0x0F)<<12|uint16(raw[i+1]&0x3F)<<6|uint16(raw[i+2]&0x3F))
			i += 3
		default:
			// Malformed byte: keep it as-is and move on.
			units = append(units, uint16(b))
			i++
		}
	}
	return string(utf16.Decode(units))
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return "", fmt.Errorf("invalid constant pool index %d", index)
	}
	utf8, ok := pool[index].(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, pool[index].Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	if int(classIndex) >= len(pool) || pool[classIndex] == nil {
		return "", fmt.Errorf("invalid constant pool index %d", classIndex)
	}
	class, ok := pool[classIndex].(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Class", classIndex)
	}
	return GetUtf8(pool, class.NameIndex)
}

// GetNameAndType returns the (name, descriptor) pair of a
// CONSTANT_NameAndType entry.
func GetNameAndType(pool []ConstantPoolEntry, index uint16) (string, string, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return "", "", fmt.Errorf("invalid constant pool index %d", index)
	}
	nat, ok := pool[index].(*ConstantNameAndType)
	if !ok {
		return "", "", fmt.Errorf("constant pool index %d is not NameAndType", index)
	}
	name, err := GetUtf8(pool, nat.NameIndex)
	if err != nil {
		return "", "", fmt.Errorf("resolving name: %w", err)
	}
	descriptor, err := GetUtf8(pool, nat.DescriptorIndex)
	if err != nil {
		return "", "", fmt.Errorf("resolving descriptor: %w", err)
	}
	return name, descriptor, nil
}

// MemberRefInfo holds the symbolic parts of a field, method or
// interface-method reference.
type MemberRefInfo struct {
	ClassName  string
	Name       string
	Descriptor string
}

// ResolveMemberRef resolves a Fieldref, Methodref or InterfaceMethodref
// entry into its symbolic parts.
func ResolveMemberRef(pool []ConstantPoolEntry, index uint16) (*MemberRefInfo, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}

	var classIndex, natIndex uint16
	switch ref := pool[index].(type) {
	case *ConstantFieldref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
	case *ConstantMethodref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
	case *ConstantInterfaceMethodref:
		classIndex, natIndex = ref.ClassIndex, ref.NameAndTypeIndex
	default:
		return nil, fmt.Errorf("constant pool index %d is not a member reference (tag=%d)", index, pool[index].Tag())
	}

	className, err := GetClassName(pool, classIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving member reference class: %w", err)
	}
	name, descriptor, err := GetNameAndType(pool, natIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving member reference name-and-type: %w", err)
	}

	return &MemberRefInfo{ClassName: className, Name: name, Descriptor: descriptor}, nil
}
