package classfile

import (
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(r io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading class file: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses a .class file from a byte slice.
func ParseBytes(data []byte) (*ClassFile, error) {
	cf := &ClassFile{}
	r := &reader{data: data}

	magic := r.u4()
	if r.err != nil {
		return nil, fmt.Errorf("reading magic number: %w", r.err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	// Version words are read but not range-checked here.
	cf.MinorVersion = r.u2()
	cf.MajorVersion = r.u2()

	cpCount := r.u2()
	if r.err != nil {
		return nil, fmt.Errorf("reading constant pool count: %w", r.err)
	}
	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.ConstantPool = pool

	cf.AccessFlags = r.u2()
	cf.ThisClass = r.u2()
	cf.SuperClass = r.u2()

	interfacesCount := r.u2()
	if r.err != nil {
		return nil, fmt.Errorf("reading class header: %w", r.err)
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := range cf.Interfaces {
		cf.Interfaces[i] = r.u2()
	}

	fieldsCount := r.u2()
	if r.err != nil {
		return nil, fmt.Errorf("reading fields count: %w", r.err)
	}
	cf.Fields, err = parseFields(r, pool, fieldsCount)
	if err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}

	methodsCount := r.u2()
	if r.err != nil {
		return nil, fmt.Errorf("reading methods count: %w", r.err)
	}
	cf.Methods, err = parseMethods(r, pool, methodsCount)
	if err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}

	attrCount := r.u2()
	if r.err != nil {
		return nil, fmt.Errorf("reading class attributes count: %w", r.err)
	}
	cf.Attributes, err = parseAttributes(r, pool, attrCount)
	if err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("trailing garbage: %d bytes after class attributes", r.remaining())
	}

	return cf, nil
}

func parseFields(r *reader, pool []ConstantPoolEntry, count uint16) ([]FieldInfo, error) {
	fields := make([]FieldInfo, count)
	for i := uint16(0); i < count; i++ {
		accessFlags := r.u2()
		nameIndex := r.u2()
		descIndex := r.u2()
		attrCount := r.u2()
		if r.err != nil {
			return nil, fmt.Errorf("reading field %d header: %w", i, r.err)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving field %d name: %w", i, err)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving field %d descriptor: %w", i, err)
		}

		attrs, err := parseAttributes(r, pool, attrCount)
		if err != nil {
			return nil, fmt.Errorf("parsing field %s attributes: %w", name, err)
		}

		f := FieldInfo{
			AccessFlags: accessFlags,
			Name:        name,
			Descriptor:  desc,
			Attributes:  attrs,
		}
		for _, attr := range attrs {
			if cv, ok := attr.(*ConstantValueAttribute); ok {
				f.ConstantValueIndex = cv.Index
				break
			}
		}
		fields[i] = f
	}
	return fields, nil
}

func parseMethods(r *reader, pool []ConstantPoolEntry, count uint16) ([]MethodInfo, error) {
	methods := make([]MethodInfo, count)
	for i := uint16(0); i < count; i++ {
		accessFlags := r.u2()
		nameIndex := r.u2()
		descIndex := r.u2()
		attrCount := r.u2()
		if r.err != nil {
			return nil, fmt.Errorf("reading method %d header: %w", i, r.err)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving method %d name: %w", i, err)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving method %d descriptor: %w", i, err)
		}

		attrs, err := parseAttributes(r, pool, attrCount)
		if err != nil {
			return nil, fmt.Errorf("parsing method %s attributes: %w", name, err)
		}

		m := MethodInfo{
			AccessFlags: accessFlags,
			Name:        name,
			Descriptor:  desc,
			Attributes:  attrs,
		}
		for _, attr := range attrs {
			if code, ok := attr.(*CodeAttribute); ok {
				m.Code = code
				break
			}
		}
		methods[i] = m
	}
	return methods, nil
}
