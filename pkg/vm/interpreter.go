package vm

import "fmt"

// InvokeMethod pushes a frame for the method and interprets it to
// completion. Arguments arrive in evaluation order, receiver first for
// instance methods, and are spread into the local-variable slots.
// A Java exception escaping the method is returned as *ThrownException
// after the frame has been unwound.
func (vm *VM) InvokeMethod(t *Thread, m *Method, args []Value) (Value, error) {
	if m.IsNative() {
		return vm.callNative(t, m, args)
	}
	if m.IsAbstract() || m.Code == nil {
		return Value{}, vm.throwNew(t, ClassAbstractMethodError, m.QualifiedName())
	}

	exec := t.Executor()
	frame, err := exec.PushFrame(FrameBytecode, m.Class, m)
	if err != nil {
		return Value{}, err
	}

	slot := int32(0)
	for _, arg := range args {
		frame.SetLocal(slot, arg)
		slot += arg.Kind.SlotCount()
	}

	// A synchronized method holds the receiver's monitor (the class
	// mirror for static methods) for its whole activation.
	var monitor *Monitor
	if m.IsSynchronized() {
		if recv := frame.Receiver(); recv != nil {
			monitor = recv.Monitor()
			monitor.Enter(t)
		}
	}

	vm.logExecute("invoke", m.QualifiedName())

	ret, err := vm.runFrame(t, frame)

	if monitor != nil {
		// Exits on both normal return and unwind delivery.
		_ = monitor.Exit(t)
	}
	exec.PopFrame()
	return ret, err
}

// runFrame is the dispatch loop over one frame's instruction stream,
// including the handler scan of the unwinder: a pending exception
// either lands on a matching handler in this frame or propagates to
// the caller with the frame popped.
func (vm *VM) runFrame(t *Thread, frame *Frame) (Value, error) {
	code := frame.Method.Code
	for frame.PC < int32(len(code)) {
		insnPC := frame.PC
		opcode := frame.ReadU8()

		ret, returned, err := vm.execute(t, frame, opcode, insnPC)
		if err != nil {
			te, ok := AsThrown(err)
			if !ok {
				return Value{}, fmt.Errorf("in %s at pc=%d: %w", frame.Method.QualifiedName(), insnPC, err)
			}
			handlerPC, found := vm.findHandler(t, frame, insnPC, te.Object)
			if !found {
				return Value{}, err
			}
			frame.PC = handlerPC
			frame.ClearOperands()
			frame.Push(RefValue(te.Object))
			frame.Exception = nil
			continue
		}
		if returned {
			return ret, nil
		}
	}
	// Fell off the end: implicit void return.
	return VoidValue(), nil
}

// findHandler scans the method's exception table for a handler whose
// range covers pc and whose catch class (none = finally) admits the
// exception.
func (vm *VM) findHandler(t *Thread, frame *Frame, pc int32, exc *Object) (int32, bool) {
	for i := range frame.Method.Handlers {
		h := &frame.Method.Handlers[i]
		if pc < int32(h.StartPC) || pc >= int32(h.EndPC) {
			continue
		}
		if h.CatchType == 0 {
			return int32(h.HandlerPC), true
		}
		catch, err := vm.ResolveClassRef(t, frame.Class, h.CatchType)
		if err != nil {
			continue
		}
		if catch.IsAssignableFrom(exc.Class()) {
			return int32(h.HandlerPC), true
		}
	}
	return 0, false
}

// throwNew constructs an exception of the named class and returns it
// in thrown form.
func (vm *VM) throwNew(t *Thread, className, message string) error {
	obj, err := vm.newThrowable(t, className, message)
	if err != nil {
		return err
	}
	return Thrown(obj)
}

// execute decodes and runs a single instruction. insnPC is the offset
// of the opcode byte, the base for branch targets and switch padding.
func (vm *VM) execute(t *Thread, frame *Frame, opcode uint8, insnPC int32) (Value, bool, error) {
	switch opcode {
	case OpNop:

	// --- Constants ---
	case OpAconstNull:
		frame.Push(NullValue())
	case OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5:
		frame.Push(IntValue(int32(opcode) - int32(OpIconst0)))
	case OpLconst0, OpLconst1:
		frame.Push(LongValue(int64(opcode - OpLconst0)))
	case OpFconst0, OpFconst1, OpFconst2:
		frame.Push(FloatValue(float32(opcode - OpFconst0)))
	case OpDconst0, OpDconst1:
		frame.Push(DoubleValue(float64(opcode - OpDconst0)))
	case OpBipush:
		frame.Push(IntValue(int32(frame.ReadI8())))
	case OpSipush:
		frame.Push(IntValue(int32(frame.ReadI16())))

	case OpLdc:
		return vm.executeLdc(t, frame, uint16(frame.ReadU8()))
	case OpLdcW, OpLdc2W:
		return vm.executeLdc(t, frame, frame.ReadU16())

	// --- Loads ---
	case OpIload:
		frame.Push(IntValue(frame.GetLocal(int32(frame.ReadU8())).Int()))
	case OpLload:
		frame.Push(LongValue(frame.GetLocal(int32(frame.ReadU8())).Long()))
	case OpFload:
		frame.Push(FloatValue(frame.GetLocal(int32(frame.ReadU8())).Float()))
	case OpDload:
		frame.Push(DoubleValue(frame.GetLocal(int32(frame.ReadU8())).Double()))
	case OpAload:
		frame.Push(frame.GetLocal(int32(frame.ReadU8())))
	case OpIload0, OpIload1, OpIload2, OpIload3:
		frame.Push(IntValue(frame.GetLocal(int32(opcode - OpIload0)).Int()))
	case OpLload0, OpLload1, OpLload2, OpLload3:
		frame.Push(LongValue(frame.GetLocal(int32(opcode - OpLload0)).Long()))
	case OpFload0, OpFload1, OpFload2, OpFload3:
		frame.Push(FloatValue(frame.GetLocal(int32(opcode - OpFload0)).Float()))
	case OpDload0, OpDload1, OpDload2, OpDload3:
		frame.Push(DoubleValue(frame.GetLocal(int32(opcode - OpDload0)).Double()))
	case OpAload0, OpAload1, OpAload2, OpAload3:
		frame.Push(frame.GetLocal(int32(opcode - OpAload0)))

	// --- Stores ---
	case OpIstore:
		frame.SetLocal(int32(frame.ReadU8()), IntValue(frame.Pop().Int()))
	case OpLstore:
		frame.SetLocal(int32(frame.ReadU8()), LongValue(frame.Pop().Long()))
	case OpFstore:
		frame.SetLocal(int32(frame.ReadU8()), FloatValue(frame.Pop().Float()))
	case OpDstore:
		frame.SetLocal(int32(frame.ReadU8()), DoubleValue(frame.Pop().Double()))
	case OpAstore:
		frame.SetLocal(int32(frame.ReadU8()), frame.Pop())
	case OpIstore0, OpIstore1, OpIstore2, OpIstore3:
		frame.SetLocal(int32(opcode-OpIstore0), IntValue(frame.Pop().Int()))
	case OpLstore0, OpLstore1, OpLstore2, OpLstore3:
		frame.SetLocal(int32(opcode-OpLstore0), LongValue(frame.Pop().Long()))
	case OpFstore0, OpFstore1, OpFstore2, OpFstore3:
		frame.SetLocal(int32(opcode-OpFstore0), FloatValue(frame.Pop().Float()))
	case OpDstore0, OpDstore1, OpDstore2, OpDstore3:
		frame.SetLocal(int32(opcode-OpDstore0), DoubleValue(frame.Pop().Double()))
	case OpAstore0, OpAstore1, OpAstore2, OpAstore3:
		frame.SetLocal(int32(opcode-OpAstore0), frame.Pop())

	// --- Array loads/stores ---
	case OpIaload, OpLaload, OpFaload, OpDaload, OpAaload, OpBaload, OpCaload, OpSaload:
		return vm.executeArrayLoad(t, frame, opcode)
	case OpIastore, OpLastore, OpFastore, OpDastore, OpAastore, OpBastore, OpCastore, OpSastore:
		return vm.executeArrayStore(t, frame, opcode)

	// --- Stack shuffles (raw slot operations: category-2 values span
	// two slots, so the slot arithmetic below is the category rule) ---
	case OpPop:
		frame.popSlot()
	case OpPop2:
		frame.popSlot()
		frame.popSlot()
	case OpDup:
		frame.pushSlot(frame.peekSlot(0))
	case OpDupX1:
		v1 := frame.popSlot()
		v2 := frame.popSlot()
		frame.pushSlot(v1)
		frame.pushSlot(v2)
		frame.pushSlot(v1)
	case OpDupX2:
		v1 := frame.popSlot()
		v2 := frame.popSlot()
		v3 := frame.popSlot()
		frame.pushSlot(v1)
		frame.pushSlot(v3)
		frame.pushSlot(v2)
		frame.pushSlot(v1)
	case OpDup2:
		v1 := frame.peekSlot(0)
		v2 := frame.peekSlot(1)
		frame.pushSlot(v2)
		frame.pushSlot(v1)
	case OpDup2X1:
		v1 := frame.popSlot()
		v2 := frame.popSlot()
		v3 := frame.popSlot()
		frame.pushSlot(v2)
		frame.pushSlot(v1)
		frame.pushSlot(v3)
		frame.pushSlot(v2)
		frame.pushSlot(v1)
	case OpDup2X2:
		v1 := frame.popSlot()
		v2 := frame.popSlot()
		v3 := frame.popSlot()
		v4 := frame.popSlot()
		frame.pushSlot(v2)
		frame.pushSlot(v1)
		frame.pushSlot(v4)
		frame.pushSlot(v3)
		frame.pushSlot(v2)
		frame.pushSlot(v1)
	case OpSwap:
		v1 := frame.popSlot()
		v2 := frame.popSlot()
		frame.pushSlot(v1)
		frame.pushSlot(v2)

	// --- Arithmetic, logic, conversions, comparisons ---
	case OpIadd, OpLadd, OpFadd, OpDadd,
		OpIsub, OpLsub, OpFsub, OpDsub,
		OpImul, OpLmul, OpFmul, OpDmul,
		OpIdiv, OpLdiv, OpFdiv, OpDdiv,
		OpIrem, OpLrem, OpFrem, OpDrem,
		OpIneg, OpLneg, OpFneg, OpDneg,
		OpIshl, OpLshl, OpIshr, OpLshr, OpIushr, OpLushr,
		OpIand, OpLand, OpIor, OpLor, OpIxor, OpLxor,
		OpI2l, OpI2f, OpI2d, OpL2i, OpL2f, OpL2d,
		OpF2i, OpF2l, OpF2d, OpD2i, OpD2l, OpD2f,
		OpI2b, OpI2c, OpI2s,
		OpLcmp, OpFcmpl, OpFcmpg, OpDcmpl, OpDcmpg:
		return vm.executeArithmetic(t, frame, opcode)

	case OpIinc:
		index := int32(frame.ReadU8())
		delta := int32(frame.ReadI8())
		frame.SetLocal(index, IntValue(frame.GetLocal(index).Int()+delta))

	// --- Conditional branches ---
	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle:
		offset := int32(frame.ReadI16())
		v := frame.Pop().Int()
		if intCondition(opcode-OpIfeq+OpIfIcmpeq, v, 0) {
			frame.PC = insnPC + offset
		}
		t.Safepoint()
	case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple:
		offset := int32(frame.ReadI16())
		v2 := frame.Pop().Int()
		v1 := frame.Pop().Int()
		if intCondition(opcode, v1, v2) {
			frame.PC = insnPC + offset
		}
		t.Safepoint()
	case OpIfAcmpeq:
		offset := int32(frame.ReadI16())
		v2 := frame.Pop().Ref()
		v1 := frame.Pop().Ref()
		if v1 == v2 {
			frame.PC = insnPC + offset
		}
		t.Safepoint()
	case OpIfAcmpne:
		offset := int32(frame.ReadI16())
		v2 := frame.Pop().Ref()
		v1 := frame.Pop().Ref()
		if v1 != v2 {
			frame.PC = insnPC + offset
		}
		t.Safepoint()
	case OpIfnull:
		offset := int32(frame.ReadI16())
		if frame.Pop().Ref() == nil {
			frame.PC = insnPC + offset
		}
		t.Safepoint()
	case OpIfnonnull:
		offset := int32(frame.ReadI16())
		if frame.Pop().Ref() != nil {
			frame.PC = insnPC + offset
		}
		t.Safepoint()

	// --- Unconditional branches ---
	case OpGoto:
		offset := int32(frame.ReadI16())
		frame.PC = insnPC + offset
		t.Safepoint()
	case OpGotoW:
		offset := frame.ReadI32()
		frame.PC = insnPC + offset
		t.Safepoint()
	case OpJsr:
		offset := int32(frame.ReadI16())
		frame.Push(RetAddrValue(frame.PC))
		frame.PC = insnPC + offset
		t.Safepoint()
	case OpJsrW:
		offset := frame.ReadI32()
		frame.Push(RetAddrValue(frame.PC))
		frame.PC = insnPC + offset
		t.Safepoint()
	case OpRet:
		index := int32(frame.ReadU8())
		frame.PC = frame.GetLocal(index).RetAddr()
		t.Safepoint()

	case OpTableswitch:
		vm.executeTableswitch(t, frame, insnPC)
	case OpLookupswitch:
		vm.executeLookupswitch(t, frame, insnPC)

	// --- Returns ---
	case OpIreturn:
		return IntValue(frame.Pop().Int()), true, nil
	case OpLreturn:
		return LongValue(frame.Pop().Long()), true, nil
	case OpFreturn:
		return FloatValue(frame.Pop().Float()), true, nil
	case OpDreturn:
		return DoubleValue(frame.Pop().Double()), true, nil
	case OpAreturn:
		return frame.Pop(), true, nil
	case OpReturn:
		return VoidValue(), true, nil

	// --- Field access ---
	case OpGetstatic:
		return vm.executeGetstatic(t, frame)
	case OpPutstatic:
		return vm.executePutstatic(t, frame)
	case OpGetfield:
		return vm.executeGetfield(t, frame)
	case OpPutfield:
		return vm.executePutfield(t, frame)

	// --- Invocations ---
	case OpInvokevirtual:
		return vm.executeInvokevirtual(t, frame)
	case OpInvokespecial:
		return vm.executeInvokespecial(t, frame)
	case OpInvokestatic:
		return vm.executeInvokestatic(t, frame)
	case OpInvokeinterface:
		return vm.executeInvokeinterface(t, frame)
	case OpInvokedynamic:
		return Value{}, false, fmt.Errorf("invokedynamic is not supported (pc=%d in %s)",
			insnPC, frame.Method.QualifiedName())

	// --- Allocation and type checks ---
	case OpNew:
		return vm.executeNew(t, frame)
	case OpNewarray:
		return vm.executeNewarray(t, frame)
	case OpAnewarray:
		return vm.executeAnewarray(t, frame)
	case OpMultianewarray:
		return vm.executeMultianewarray(t, frame)
	case OpCheckcast:
		return vm.executeCheckcast(t, frame)
	case OpInstanceof:
		return vm.executeInstanceof(t, frame)

	case OpArraylength:
		arr := frame.Pop().Ref()
		if arr == nil {
			return Value{}, false, vm.throwNew(t, ClassNullPointerException, "")
		}
		frame.Push(IntValue(arr.Length()))

	case OpAthrow:
		exc := frame.Pop().Ref()
		if exc == nil {
			return Value{}, false, vm.throwNew(t, ClassNullPointerException, "")
		}
		return Value{}, false, Thrown(exc)

	case OpMonitorenter:
		obj := frame.Pop().Ref()
		if obj == nil {
			return Value{}, false, vm.throwNew(t, ClassNullPointerException, "")
		}
		obj.Monitor().Enter(t)
	case OpMonitorexit:
		obj := frame.Pop().Ref()
		if obj == nil {
			return Value{}, false, vm.throwNew(t, ClassNullPointerException, "")
		}
		if err := obj.Monitor().Exit(t); err != nil {
			return Value{}, false, vm.throwNew(t, ClassIllegalMonitorState, "current thread not owner")
		}

	case OpWide:
		return vm.executeWide(t, frame)

	default:
		return Value{}, false, fmt.Errorf("unknown opcode 0x%02X at pc=%d in %s",
			opcode, insnPC, frame.Method.QualifiedName())
	}

	return Value{}, false, nil
}

// intCondition evaluates the if_icmp family (and, with zero as the
// second operand, the if family).
func intCondition(opcode uint8, v1, v2 int32) bool {
	switch opcode {
	case OpIfIcmpeq:
		return v1 == v2
	case OpIfIcmpne:
		return v1 != v2
	case OpIfIcmplt:
		return v1 < v2
	case OpIfIcmpge:
		return v1 >= v2
	case OpIfIcmpgt:
		return v1 > v2
	case OpIfIcmple:
		return v1 <= v2
	}
	return false
}

// executeLdc pushes a loadable constant, dispatching on the pool tag.
func (vm *VM) executeLdc(t *Thread, frame *Frame, index uint16) (Value, bool, error) {
	v, err := vm.ResolveConstant(t, frame.Class, index)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(v)
	return Value{}, false, nil
}

// executeTableswitch decodes the 4-byte-aligned jump table and branches.
func (vm *VM) executeTableswitch(t *Thread, frame *Frame, insnPC int32) {
	frame.PC = alignPC(frame.PC)
	defaultOffset := frame.ReadI32()
	low := frame.ReadI32()
	high := frame.ReadI32()

	index := frame.Pop().Int()
	if index < low || index > high {
		frame.PC = insnPC + defaultOffset
	} else {
		frame.PC += (index - low) * 4
		offset := frame.ReadI32()
		frame.PC = insnPC + offset
	}
	t.Safepoint()
}

// executeLookupswitch scans the match-offset pairs and branches.
func (vm *VM) executeLookupswitch(t *Thread, frame *Frame, insnPC int32) {
	frame.PC = alignPC(frame.PC)
	defaultOffset := frame.ReadI32()
	npairs := frame.ReadI32()

	key := frame.Pop().Int()
	target := insnPC + defaultOffset
	for i := int32(0); i < npairs; i++ {
		match := frame.ReadI32()
		offset := frame.ReadI32()
		if match == key {
			target = insnPC + offset
			break
		}
	}
	frame.PC = target
	t.Safepoint()
}

// alignPC rounds the program counter up to the next 4-byte boundary
// relative to the method's code start.
func alignPC(pc int32) int32 {
	return (pc + 3) &^ 3
}

// executeWide extends the operand of the following load, store, iinc
// or ret instruction to 16 bits.
func (vm *VM) executeWide(t *Thread, frame *Frame) (Value, bool, error) {
	opcode := frame.ReadU8()
	index := int32(frame.ReadU16())

	switch opcode {
	case OpIload:
		frame.Push(IntValue(frame.GetLocal(index).Int()))
	case OpLload:
		frame.Push(LongValue(frame.GetLocal(index).Long()))
	case OpFload:
		frame.Push(FloatValue(frame.GetLocal(index).Float()))
	case OpDload:
		frame.Push(DoubleValue(frame.GetLocal(index).Double()))
	case OpAload:
		frame.Push(frame.GetLocal(index))
	case OpIstore:
		frame.SetLocal(index, IntValue(frame.Pop().Int()))
	case OpLstore:
		frame.SetLocal(index, LongValue(frame.Pop().Long()))
	case OpFstore:
		frame.SetLocal(index, FloatValue(frame.Pop().Float()))
	case OpDstore:
		frame.SetLocal(index, DoubleValue(frame.Pop().Double()))
	case OpAstore:
		frame.SetLocal(index, frame.Pop())
	case OpIinc:
		delta := int32(frame.ReadI16())
		frame.SetLocal(index, IntValue(frame.GetLocal(index).Int()+delta))
	case OpRet:
		frame.PC = frame.GetLocal(index).RetAddr()
		t.Safepoint()
	default:
		return Value{}, false, fmt.Errorf("wide prefix before unsupported opcode 0x%02X", opcode)
	}
	return Value{}, false, nil
}
