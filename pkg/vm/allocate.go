package vm

import (
	"fmt"

	"github.com/glaciervm/glacier/pkg/classfile"
)

// Allocation, type check and array access opcodes.

// executeNew allocates an uninitialized instance. Abstract classes and
// interfaces cannot be instantiated.
func (vm *VM) executeNew(t *Thread, frame *Frame) (Value, bool, error) {
	class, err := vm.ResolveClassRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	if class.IsInterface() || class.AccessFlags&classfile.AccAbstract != 0 {
		return Value{}, false, vm.throwNew(t, ClassInstantiationError, class.Name)
	}
	if err := vm.registry.Initialize(t, class); err != nil {
		return Value{}, false, err
	}
	frame.Push(RefValue(vm.heap.AllocateObject(class)))
	return Value{}, false, nil
}

var newarrayDescriptors = map[uint8]string{
	ArrayTypeBoolean: "[Z",
	ArrayTypeChar:    "[C",
	ArrayTypeFloat:   "[F",
	ArrayTypeDouble:  "[D",
	ArrayTypeByte:    "[B",
	ArrayTypeShort:   "[S",
	ArrayTypeInt:     "[I",
	ArrayTypeLong:    "[J",
}

// executeNewarray allocates a primitive array selected by its type
// code.
func (vm *VM) executeNewarray(t *Thread, frame *Frame) (Value, bool, error) {
	code := frame.ReadU8()
	descriptor, ok := newarrayDescriptors[code]
	if !ok {
		return Value{}, false, fmt.Errorf("newarray: unknown primitive code %d", code)
	}

	length := frame.Pop().Int()
	if length < 0 {
		return Value{}, false, vm.throwNew(t, ClassNegativeArraySizeException, fmt.Sprintf("%d", length))
	}
	class, err := vm.registry.LoadArray(t, descriptor, frame.Class.DefiningLoader)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(RefValue(vm.heap.AllocateArray(class, length)))
	return Value{}, false, nil
}

// executeAnewarray allocates a reference array of the resolved
// component class.
func (vm *VM) executeAnewarray(t *Thread, frame *Frame) (Value, bool, error) {
	component, err := vm.ResolveClassRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	length := frame.Pop().Int()
	if length < 0 {
		return Value{}, false, vm.throwNew(t, ClassNegativeArraySizeException, fmt.Sprintf("%d", length))
	}
	class, err := vm.registry.LoadArray(t, "["+component.Descriptor(), frame.Class.DefiningLoader)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(RefValue(vm.heap.AllocateArray(class, length)))
	return Value{}, false, nil
}

// executeMultianewarray allocates a rectangular array of the given
// dimension count; any negative size raises
// NegativeArraySizeException before allocation starts.
func (vm *VM) executeMultianewarray(t *Thread, frame *Frame) (Value, bool, error) {
	class, err := vm.ResolveClassRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	dims := int32(frame.ReadU8())

	sizes := make([]int32, dims)
	for i := dims - 1; i >= 0; i-- {
		sizes[i] = frame.Pop().Int()
	}
	for _, size := range sizes {
		if size < 0 {
			return Value{}, false, vm.throwNew(t, ClassNegativeArraySizeException, fmt.Sprintf("%d", size))
		}
	}

	arr, err := vm.allocateMultiArray(t, class, sizes)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(RefValue(arr))
	return Value{}, false, nil
}

func (vm *VM) allocateMultiArray(t *Thread, class *Class, sizes []int32) (*Object, error) {
	arr := vm.heap.AllocateArray(class, sizes[0])
	if len(sizes) == 1 {
		return arr, nil
	}
	for i := int32(0); i < sizes[0]; i++ {
		sub, err := vm.allocateMultiArray(t, class.Component, sizes[1:])
		if err != nil {
			return nil, err
		}
		arr.SetElement(i, RefValue(sub))
	}
	return arr, nil
}

// executeCheckcast passes null through and otherwise demands
// assignability.
func (vm *VM) executeCheckcast(t *Thread, frame *Frame) (Value, bool, error) {
	target, err := vm.ResolveClassRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	v := frame.Peek()
	if obj := v.Ref(); obj != nil && !target.IsAssignableFrom(obj.Class()) {
		return Value{}, false, vm.throwNew(t, ClassClassCastException,
			obj.Class().Name+" cannot be cast to "+target.Name)
	}
	return Value{}, false, nil
}

// executeInstanceof pushes 1 for an assignable non-null reference, 0
// otherwise.
func (vm *VM) executeInstanceof(t *Thread, frame *Frame) (Value, bool, error) {
	target, err := vm.ResolveClassRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	obj := frame.Pop().Ref()
	if obj != nil && target.IsAssignableFrom(obj.Class()) {
		frame.Push(IntValue(1))
	} else {
		frame.Push(IntValue(0))
	}
	return Value{}, false, nil
}

// checkArrayAccess pops index and array reference and validates both.
func (vm *VM) checkArrayAccess(t *Thread, frame *Frame) (*Object, int32, error) {
	index := frame.Pop().Int()
	arr := frame.Pop().Ref()
	if arr == nil {
		return nil, 0, vm.throwNew(t, ClassNullPointerException, "")
	}
	if index < 0 || index >= arr.Length() {
		return nil, 0, vm.throwNew(t, ClassArrayIndexOutOfBounds,
			fmt.Sprintf("Index %d out of bounds for length %d", index, arr.Length()))
	}
	return arr, index, nil
}

// executeArrayLoad covers the typed array-element load family.
func (vm *VM) executeArrayLoad(t *Thread, frame *Frame, opcode uint8) (Value, bool, error) {
	arr, index, err := vm.checkArrayAccess(t, frame)
	if err != nil {
		return Value{}, false, err
	}
	elem := arr.Element(index)

	switch opcode {
	case OpIaload, OpBaload, OpCaload, OpSaload:
		frame.Push(IntValue(elem.Int()))
	case OpLaload:
		frame.Push(LongValue(elem.Long()))
	case OpFaload:
		frame.Push(FloatValue(elem.Float()))
	case OpDaload:
		frame.Push(DoubleValue(elem.Double()))
	case OpAaload:
		frame.Push(elem)
	}
	return Value{}, false, nil
}

// executeArrayStore covers the typed array-element store family,
// including the aastore component type check.
func (vm *VM) executeArrayStore(t *Thread, frame *Frame, opcode uint8) (Value, bool, error) {
	value := frame.Pop()
	arr, index, err := vm.checkArrayAccess(t, frame)
	if err != nil {
		return Value{}, false, err
	}

	switch opcode {
	case OpIastore:
		arr.SetElement(index, IntValue(value.Int()))
	case OpLastore:
		arr.SetElement(index, LongValue(value.Long()))
	case OpFastore:
		arr.SetElement(index, FloatValue(value.Float()))
	case OpDastore:
		arr.SetElement(index, DoubleValue(value.Double()))
	case OpBastore:
		arr.SetElement(index, ByteValue(int8(value.Int())))
	case OpCastore:
		arr.SetElement(index, CharValue(uint16(value.Int())))
	case OpSastore:
		arr.SetElement(index, ShortValue(int16(value.Int())))
	case OpAastore:
		if obj := value.Ref(); obj != nil && !arr.Class().Component.IsAssignableFrom(obj.Class()) {
			return Value{}, false, vm.throwNew(t, ClassArrayStoreException, obj.Class().Name)
		}
		arr.SetElement(index, value)
	}
	return Value{}, false, nil
}
