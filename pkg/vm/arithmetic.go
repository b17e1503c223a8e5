package vm

import "math"

// executeArithmetic covers the arithmetic, logical, shift, conversion
// and comparison opcodes. Integer division and remainder by zero raise
// ArithmeticException; MIN_VALUE / -1 wraps without trapping.
func (vm *VM) executeArithmetic(t *Thread, frame *Frame, opcode uint8) (Value, bool, error) {
	switch opcode {
	// --- int ---
	case OpIadd:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(IntValue(v1 + v2))
	case OpIsub:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(IntValue(v1 - v2))
	case OpImul:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(IntValue(v1 * v2))
	case OpIdiv:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		if v2 == 0 {
			return Value{}, false, vm.throwNew(t, ClassArithmeticException, "/ by zero")
		}
		if v1 == math.MinInt32 && v2 == -1 {
			frame.Push(IntValue(math.MinInt32))
		} else {
			frame.Push(IntValue(v1 / v2))
		}
	case OpIrem:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		if v2 == 0 {
			return Value{}, false, vm.throwNew(t, ClassArithmeticException, "/ by zero")
		}
		if v1 == math.MinInt32 && v2 == -1 {
			frame.Push(IntValue(0))
		} else {
			frame.Push(IntValue(v1 % v2))
		}
	case OpIneg:
		frame.Push(IntValue(-frame.Pop().Int()))
	case OpIshl:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(IntValue(v1 << (uint32(v2) & 0x1F)))
	case OpIshr:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(IntValue(v1 >> (uint32(v2) & 0x1F)))
	case OpIushr:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(IntValue(int32(uint32(v1) >> (uint32(v2) & 0x1F))))
	case OpIand:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(IntValue(v1 & v2))
	case OpIor:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(IntValue(v1 | v2))
	case OpIxor:
		v2, v1 := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(IntValue(v1 ^ v2))

	// --- long ---
	case OpLadd:
		v2, v1 := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(LongValue(v1 + v2))
	case OpLsub:
		v2, v1 := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(LongValue(v1 - v2))
	case OpLmul:
		v2, v1 := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(LongValue(v1 * v2))
	case OpLdiv:
		v2, v1 := frame.Pop().Long(), frame.Pop().Long()
		if v2 == 0 {
			return Value{}, false, vm.throwNew(t, ClassArithmeticException, "/ by zero")
		}
		if v1 == math.MinInt64 && v2 == -1 {
			frame.Push(LongValue(math.MinInt64))
		} else {
			frame.Push(LongValue(v1 / v2))
		}
	case OpLrem:
		v2, v1 := frame.Pop().Long(), frame.Pop().Long()
		if v2 == 0 {
			return Value{}, false, vm.throwNew(t, ClassArithmeticException, "/ by zero")
		}
		if v1 == math.MinInt64 && v2 == -1 {
			frame.Push(LongValue(0))
		} else {
			frame.Push(LongValue(v1 % v2))
		}
	case OpLneg:
		frame.Push(LongValue(-frame.Pop().Long()))
	case OpLshl:
		v2, v1 := frame.Pop().Int(), frame.Pop().Long()
		frame.Push(LongValue(v1 << (uint32(v2) & 0x3F)))
	case OpLshr:
		v2, v1 := frame.Pop().Int(), frame.Pop().Long()
		frame.Push(LongValue(v1 >> (uint32(v2) & 0x3F)))
	case OpLushr:
		v2, v1 := frame.Pop().Int(), frame.Pop().Long()
		frame.Push(LongValue(int64(uint64(v1) >> (uint32(v2) & 0x3F))))
	case OpLand:
		v2, v1 := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(LongValue(v1 & v2))
	case OpLor:
		v2, v1 := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(LongValue(v1 | v2))
	case OpLxor:
		v2, v1 := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(LongValue(v1 ^ v2))

	// --- float ---
	case OpFadd:
		v2, v1 := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(FloatValue(v1 + v2))
	case OpFsub:
		v2, v1 := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(FloatValue(v1 - v2))
	case OpFmul:
		v2, v1 := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(FloatValue(v1 * v2))
	case OpFdiv:
		v2, v1 := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(FloatValue(v1 / v2))
	case OpFrem:
		v2, v1 := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(FloatValue(float32(math.Mod(float64(v1), float64(v2)))))
	case OpFneg:
		frame.Push(FloatValue(-frame.Pop().Float()))

	// --- double ---
	case OpDadd:
		v2, v1 := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(DoubleValue(v1 + v2))
	case OpDsub:
		v2, v1 := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(DoubleValue(v1 - v2))
	case OpDmul:
		v2, v1 := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(DoubleValue(v1 * v2))
	case OpDdiv:
		v2, v1 := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(DoubleValue(v1 / v2))
	case OpDrem:
		v2, v1 := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(DoubleValue(math.Mod(v1, v2)))
	case OpDneg:
		frame.Push(DoubleValue(-frame.Pop().Double()))

	// --- Conversions: widening preserves sign, narrowing truncates;
	// byte/char/short narrow through int. ---
	case OpI2l:
		frame.Push(LongValue(int64(frame.Pop().Int())))
	case OpI2f:
		frame.Push(FloatValue(float32(frame.Pop().Int())))
	case OpI2d:
		frame.Push(DoubleValue(float64(frame.Pop().Int())))
	case OpL2i:
		frame.Push(IntValue(int32(frame.Pop().Long())))
	case OpL2f:
		frame.Push(FloatValue(float32(frame.Pop().Long())))
	case OpL2d:
		frame.Push(DoubleValue(float64(frame.Pop().Long())))
	case OpF2i:
		frame.Push(IntValue(floatToInt32(float64(frame.Pop().Float()))))
	case OpF2l:
		frame.Push(LongValue(floatToInt64(float64(frame.Pop().Float()))))
	case OpF2d:
		frame.Push(DoubleValue(float64(frame.Pop().Float())))
	case OpD2i:
		frame.Push(IntValue(floatToInt32(frame.Pop().Double())))
	case OpD2l:
		frame.Push(LongValue(floatToInt64(frame.Pop().Double())))
	case OpD2f:
		frame.Push(FloatValue(float32(frame.Pop().Double())))
	case OpI2b:
		frame.Push(IntValue(int32(int8(frame.Pop().Int()))))
	case OpI2c:
		frame.Push(IntValue(int32(uint16(frame.Pop().Int()))))
	case OpI2s:
		frame.Push(IntValue(int32(int16(frame.Pop().Int()))))

	// --- Comparisons ---
	case OpLcmp:
		v2, v1 := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(IntValue(compareOrdered(v1, v2)))
	case OpFcmpl, OpFcmpg:
		v2, v1 := float64(frame.Pop().Float()), float64(frame.Pop().Float())
		frame.Push(IntValue(compareFloating(v1, v2, opcode == OpFcmpg)))
	case OpDcmpl, OpDcmpg:
		v2, v1 := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(IntValue(compareFloating(v1, v2, opcode == OpDcmpg)))
	}

	return Value{}, false, nil
}

func compareOrdered(v1, v2 int64) int32 {
	switch {
	case v1 < v2:
		return -1
	case v1 > v2:
		return 1
	default:
		return 0
	}
}

// compareFloating implements fcmpl/fcmpg and dcmpl/dcmpg: the g
// variants treat NaN as greater, the l variants as less.
func compareFloating(v1, v2 float64, nanIsGreater bool) int32 {
	switch {
	case math.IsNaN(v1) || math.IsNaN(v2):
		if nanIsGreater {
			return 1
		}
		return -1
	case v1 < v2:
		return -1
	case v1 > v2:
		return 1
	default:
		return 0
	}
}

// floatToInt32 saturates like the JVM's d2i/f2i: NaN becomes 0 and
// out-of-range values clamp to the integer extremes.
func floatToInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}

func floatToInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(v)
	}
}
