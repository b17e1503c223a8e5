package vm

import (
	"fmt"

	"github.com/glaciervm/glacier/pkg/classfile"
)

// Runtime constant pool resolution. Each slot of a class's rtPool is
// filled at most once; repeated resolution returns the identical
// object. Mutation happens under the registry lock, which also covers
// the recursive class loading resolution triggers.

// ResolveClassRef materializes a CONSTANT_Class entry.
func (vm *VM) ResolveClassRef(t *Thread, c *Class, index uint16) (*Class, error) {
	vm.registry.lock.Lock(t)
	defer vm.registry.lock.Unlock(t)

	if cached, ok := c.rtPool[index].(*Class); ok {
		return cached, nil
	}

	name, err := classfile.GetClassName(c.file.ConstantPool, index)
	if err != nil {
		return nil, vm.throwNew(t, ClassLinkageError, fmt.Sprintf("%s: %v", c.Name, err))
	}
	resolved, err := vm.registry.loadClassLocked(t, name, c.DefiningLoader)
	if err != nil {
		return nil, err
	}
	c.rtPool[index] = resolved
	return resolved, nil
}

// ResolveFieldRef materializes a CONSTANT_Fieldref entry with the
// inherited lookup applied.
func (vm *VM) ResolveFieldRef(t *Thread, c *Class, index uint16) (*Field, error) {
	vm.registry.lock.Lock(t)
	defer vm.registry.lock.Unlock(t)

	if cached, ok := c.rtPool[index].(*Field); ok {
		return cached, nil
	}

	ref, err := classfile.ResolveMemberRef(c.file.ConstantPool, index)
	if err != nil {
		return nil, vm.throwNew(t, ClassLinkageError, fmt.Sprintf("%s: %v", c.Name, err))
	}
	holder, err := vm.registry.loadClassLocked(t, ref.ClassName, c.DefiningLoader)
	if err != nil {
		return nil, err
	}
	field := holder.LookupField(ref.Name, ref.Descriptor)
	if field == nil {
		return nil, vm.throwNew(t, ClassNoSuchFieldError,
			ref.ClassName+"."+ref.Name+":"+ref.Descriptor)
	}
	c.rtPool[index] = field
	return field, nil
}

// ResolveMethodRef materializes a CONSTANT_Methodref or
// CONSTANT_InterfaceMethodref entry.
func (vm *VM) ResolveMethodRef(t *Thread, c *Class, index uint16) (*Method, error) {
	vm.registry.lock.Lock(t)
	defer vm.registry.lock.Unlock(t)

	if cached, ok := c.rtPool[index].(*Method); ok {
		return cached, nil
	}

	ref, err := classfile.ResolveMemberRef(c.file.ConstantPool, index)
	if err != nil {
		return nil, vm.throwNew(t, ClassLinkageError, fmt.Sprintf("%s: %v", c.Name, err))
	}
	holder, err := vm.registry.loadClassLocked(t, ref.ClassName, c.DefiningLoader)
	if err != nil {
		return nil, err
	}
	method := holder.LookupMethod(ref.Name, ref.Descriptor)
	if method == nil {
		return nil, vm.throwNew(t, ClassNoSuchMethodError,
			ref.ClassName+"."+ref.Name+":"+ref.Descriptor)
	}
	c.rtPool[index] = method
	return method, nil
}

// ResolveString materializes a CONSTANT_String entry as an interned
// string object: at most one instance per literal content, VM-wide.
func (vm *VM) ResolveString(t *Thread, c *Class, index uint16) (*Object, error) {
	vm.registry.lock.Lock(t)
	defer vm.registry.lock.Unlock(t)

	if cached, ok := c.rtPool[index].(*Object); ok {
		return cached, nil
	}

	entry, ok := c.file.ConstantPool[index].(*classfile.ConstantString)
	if !ok {
		return nil, vm.throwNew(t, ClassLinkageError,
			fmt.Sprintf("%s: constant %d is not a string", c.Name, index))
	}
	s, err := classfile.GetUtf8(c.file.ConstantPool, entry.StringIndex)
	if err != nil {
		return nil, vm.throwNew(t, ClassLinkageError, fmt.Sprintf("%s: %v", c.Name, err))
	}
	interned := vm.Intern(s)
	c.rtPool[index] = interned
	return interned, nil
}

// ResolveConstant materializes an ldc-style constant: a primitive
// value, an interned string, or a class mirror reference.
func (vm *VM) ResolveConstant(t *Thread, c *Class, index uint16) (Value, error) {
	pool := c.file.ConstantPool
	if int(index) >= len(pool) || pool[index] == nil {
		return Value{}, vm.throwNew(t, ClassLinkageError,
			fmt.Sprintf("%s: invalid constant pool index %d", c.Name, index))
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
		s, err := vm.ResolveString(t, c, index)
		if err != nil {
			return Value{}, err
		}
		return RefValue(s), nil
	case *classfile.ConstantClass:
		resolved, err := vm.ResolveClassRef(t, c, index)
		if err != nil {
			return Value{}, err
		}
		return RefValue(resolved.Mirror), nil
	default:
		return Value{}, vm.throwNew(t, ClassLinkageError,
			fmt.Sprintf("%s: constant %d (tag %d) is not loadable", c.Name, index, pool[index].Tag()))
	}
}
