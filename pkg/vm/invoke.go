package vm

import "github.com/glaciervm/glacier/pkg/classfile"

// Field access and method invocation opcodes, including the four
// dispatch rules for resolved method references.

// executeGetstatic pushes a static field's value, initializing the
// declaring class first.
func (vm *VM) executeGetstatic(t *Thread, frame *Frame) (Value, bool, error) {
	t.Safepoint()
	field, err := vm.ResolveFieldRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	if !field.IsStatic() {
		return Value{}, false, vm.throwNew(t, ClassIncompatibleClassChange,
			"expected static field "+field.Class.Name+"."+field.Name)
	}
	if err := vm.registry.Initialize(t, field.Class); err != nil {
		return Value{}, false, err
	}
	frame.Push(field.Class.StaticValue(field))
	return Value{}, false, nil
}

// executePutstatic stores into a static field, initializing the
// declaring class first.
func (vm *VM) executePutstatic(t *Thread, frame *Frame) (Value, bool, error) {
	t.Safepoint()
	field, err := vm.ResolveFieldRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	if !field.IsStatic() {
		return Value{}, false, vm.throwNew(t, ClassIncompatibleClassChange,
			"expected static field "+field.Class.Name+"."+field.Name)
	}
	if err := vm.registry.Initialize(t, field.Class); err != nil {
		return Value{}, false, err
	}
	field.Class.SetStaticValue(field, frame.Pop())
	return Value{}, false, nil
}

// executeGetfield pushes an instance field's value.
func (vm *VM) executeGetfield(t *Thread, frame *Frame) (Value, bool, error) {
	field, err := vm.ResolveFieldRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	if field.IsStatic() {
		return Value{}, false, vm.throwNew(t, ClassIncompatibleClassChange,
			"expected instance field "+field.Class.Name+"."+field.Name)
	}
	obj := frame.Pop().Ref()
	if obj == nil {
		return Value{}, false, vm.throwNew(t, ClassNullPointerException, field.Name)
	}
	frame.Push(obj.FieldValue(field))
	return Value{}, false, nil
}

// executePutfield stores into an instance field.
func (vm *VM) executePutfield(t *Thread, frame *Frame) (Value, bool, error) {
	field, err := vm.ResolveFieldRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	if field.IsStatic() {
		return Value{}, false, vm.throwNew(t, ClassIncompatibleClassChange,
			"expected instance field "+field.Class.Name+"."+field.Name)
	}
	value := frame.Pop()
	obj := frame.Pop().Ref()
	if obj == nil {
		return Value{}, false, vm.throwNew(t, ClassNullPointerException, field.Name)
	}
	obj.SetFieldValue(field, value)
	return Value{}, false, nil
}

// popArguments pops the declared parameters off the operand stack in
// reverse and, for instance calls, the receiver underneath them.
func popArguments(frame *Frame, m *Method, withReceiver bool) []Value {
	count := len(m.ParamTypes)
	total := count
	if withReceiver {
		total++
	}
	args := make([]Value, total)
	for i := count - 1; i >= 0; i-- {
		idx := i
		if withReceiver {
			idx++
		}
		args[idx] = frame.Pop()
	}
	if withReceiver {
		args[0] = frame.Pop()
	}
	return args
}

// finishInvoke pushes a non-void result back onto the caller's stack.
func finishInvoke(frame *Frame, m *Method, ret Value) {
	if m.ReturnType != nil && m.ReturnType.ValueKind() != TypeVoid {
		frame.Push(ret)
	}
}

// executeInvokestatic initializes the declaring class and calls the
// referenced method directly; the operand stack yields arguments only.
func (vm *VM) executeInvokestatic(t *Thread, frame *Frame) (Value, bool, error) {
	t.Safepoint()
	method, err := vm.ResolveMethodRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	if !method.IsStatic() {
		return Value{}, false, vm.throwNew(t, ClassIncompatibleClassChange,
			"expected static method "+method.QualifiedName())
	}
	if err := vm.registry.Initialize(t, method.Class); err != nil {
		return Value{}, false, err
	}

	args := popArguments(frame, method, false)
	ret, err := vm.InvokeMethod(t, method, args)
	if err != nil {
		return Value{}, false, err
	}
	finishInvoke(frame, method, ret)
	return Value{}, false, nil
}

// executeInvokespecial handles constructors, private methods and super
// calls. With the current class's ACC_SUPER bit set, a non-<init>
// reference to a proper ancestor re-selects the method starting at the
// current class's superclass.
func (vm *VM) executeInvokespecial(t *Thread, frame *Frame) (Value, bool, error) {
	t.Safepoint()
	method, err := vm.ResolveMethodRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}

	if frame.Class.AccessFlags&classfile.AccSuper != 0 &&
		method.Name != "<init>" &&
		method.Class != frame.Class &&
		frame.Class.IsSubclassOf(method.Class) {
		if selected := frame.Class.Super.LookupMethod(method.Name, method.Descriptor); selected != nil {
			method = selected
		}
	}

	args := popArguments(frame, method, true)
	if args[0].Ref() == nil {
		return Value{}, false, vm.throwNew(t, ClassNullPointerException, method.QualifiedName())
	}

	ret, err := vm.InvokeMethod(t, method, args)
	if err != nil {
		return Value{}, false, err
	}
	finishInvoke(frame, method, ret)
	return Value{}, false, nil
}

// executeInvokevirtual selects the target by the receiver's actual
// class, searching up its super chain.
func (vm *VM) executeInvokevirtual(t *Thread, frame *Frame) (Value, bool, error) {
	t.Safepoint()
	method, err := vm.ResolveMethodRef(t, frame.Class, frame.ReadU16())
	if err != nil {
		return Value{}, false, err
	}
	return vm.invokeReceiverDirected(t, frame, method)
}

// executeInvokeinterface uses the same receiver-directed lookup as
// invokevirtual; the count and zero operand bytes are decoded and
// discarded.
func (vm *VM) executeInvokeinterface(t *Thread, frame *Frame) (Value, bool, error) {
	t.Safepoint()
	index := frame.ReadU16()
	frame.ReadU8() // count
	frame.ReadU8() // reserved zero

	method, err := vm.ResolveMethodRef(t, frame.Class, index)
	if err != nil {
		return Value{}, false, err
	}
	return vm.invokeReceiverDirected(t, frame, method)
}

func (vm *VM) invokeReceiverDirected(t *Thread, frame *Frame, method *Method) (Value, bool, error) {
	args := popArguments(frame, method, true)
	recv := args[0].Ref()
	if recv == nil {
		return Value{}, false, vm.throwNew(t, ClassNullPointerException, method.QualifiedName())
	}

	selected := recv.Class().LookupMethod(method.Name, method.Descriptor)
	if selected == nil || selected.IsAbstract() {
		return Value{}, false, vm.throwNew(t, ClassAbstractMethodError, method.QualifiedName())
	}

	ret, err := vm.InvokeMethod(t, selected, args)
	if err != nil {
		return Value{}, false, err
	}
	finishInvoke(frame, selected, ret)
	return Value{}, false, nil
}
