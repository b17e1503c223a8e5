package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciervm/glacier/pkg/classfile"
)

func be32(v int32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func TestConstantInstructions(t *testing.T) {
	v := newTestVM(t)
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"iconst_m1", []byte{0x02, 0xAC}, -1},
		{"iconst_5", []byte{0x08, 0xAC}, 5},
		{"bipush", []byte{0x10, 0x85, 0xAC}, -123},
		{"sipush", []byte{0x11, 0x30, 0x39, 0xAC}, 12345},
		{"sipush negative", []byte{0x11, 0xFF, 0xFF, 0xAC}, -1},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runCode(t, v, "Const"+string(rune('A'+i)), 2, tt.code)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArithmeticChain(t *testing.T) {
	v := newTestVM(t)
	// (5 + 3) * 2 / 4 == 4
	code := []byte{
		0x08,       // iconst_5
		0x06,       // iconst_3
		0x60,       // iadd
		0x05,       // iconst_2
		0x68,       // imul
		0x07,       // iconst_4
		0x6C,       // idiv
		0xAC,       // ireturn
	}
	assert.Equal(t, int32(4), runCode(t, v, "Chain", 2, code))
}

func TestIntArithmetic(t *testing.T) {
	v := newTestVM(t)
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"isub", []byte{0x08, 0x06, 0x64, 0xAC}, 2},
		{"irem", []byte{0x08, 0x05, 0x70, 0xAC}, 1},
		{"ineg", []byte{0x08, 0x74, 0xAC}, -5},
		{"ishl", []byte{0x04, 0x10, 0x1F, 0x78, 0xAC}, math.MinInt32},
		{"ishr", []byte{0x10, 0xF0, 0x05, 0x7A, 0xAC}, -4}, // -16 >> 2
		{"iushr", []byte{0x02, 0x04, 0x7C, 0xAC}, math.MaxInt32}, // -1 >>> 1
		{"iand", []byte{0x10, 0x0C, 0x10, 0x0A, 0x7E, 0xAC}, 8},
		{"ior", []byte{0x10, 0x0C, 0x10, 0x0A, 0x80, 0xAC}, 14},
		{"ixor", []byte{0x10, 0x0C, 0x10, 0x0A, 0x82, 0xAC}, 6},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runCode(t, v, "IntOp"+string(rune('A'+i)), 3, tt.code))
		})
	}
}

func TestDivisionByZero(t *testing.T) {
	v := newTestVM(t)

	c := codeClass(t, v, "DivZero", "()I", 2, 4, []byte{0x08, 0x03, 0x6C, 0xAC})
	_, err := runStatic(t, v, c, "run", "()I")
	require.Error(t, err)
	assert.Equal(t, ClassArithmeticException, thrownClass(t, err))

	// ldiv by zero as well.
	c = codeClass(t, v, "LDivZero", "()J", 4, 4, []byte{0x0A, 0x09, 0x6D, 0xAD})
	_, err = runStatic(t, v, c, "run", "()J")
	require.Error(t, err)
	assert.Equal(t, ClassArithmeticException, thrownClass(t, err))
}

func TestDivisionMinValueByMinusOne(t *testing.T) {
	v := newTestVM(t)
	// MIN_VALUE / -1 returns MIN_VALUE, no exception.
	code := []byte{
		0x04, 0x10, 0x1F, 0x78, // 1 << 31
		0x02, // iconst_m1
		0x6C, // idiv
		0xAC,
	}
	assert.Equal(t, int32(math.MinInt32), runCode(t, v, "MinDiv", 2, code))
}

func TestNarrowingConversions(t *testing.T) {
	v := newTestVM(t)
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		// i2b truncates then sign-extends: 0x1FF -> -1
		{"i2b", []byte{0x11, 0x01, 0xFF, 0x91, 0xAC}, -1},
		// i2c truncates then zero-extends: -1 -> 65535
		{"i2c", []byte{0x02, 0x92, 0xAC}, 65535},
		// i2s truncates then sign-extends: 0x8001 -> -32767
		{"i2s", []byte{0x11, 0x7F, 0xFF, 0x04, 0x60, 0x04, 0x60, 0x93, 0xAC}, -32767},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runCode(t, v, "Conv"+string(rune('A'+i)), 3, tt.code))
		})
	}
}

func TestLongArithmeticAndCompare(t *testing.T) {
	v := newTestVM(t)
	// lconst_1 compared with lconst_0 via lcmp.
	code := []byte{
		0x0A,       // lconst_1
		0x09,       // lconst_0
		0x94,       // lcmp -> 1
		0xAC,       // ireturn
	}
	assert.Equal(t, int32(1), runCode(t, v, "LCmp", 4, code))

	// long add through locals: run(J J) J
	b := builderFor("LAdd")
	b.AddMethod(accPublicStatic, "run", "(JJ)J", 4, 4, []byte{
		0x1E,       // lload_0
		0x20,       // lload_2
		0x61,       // ladd
		0xAD,       // lreturn
	})
	c := defineClass(t, v, "LAdd", b)
	ret, err := runStatic(t, v, c, "run", "(JJ)J", LongValue(1<<40), LongValue(5))
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40)+5, ret.Long())
}

func TestFloatCompareNaN(t *testing.T) {
	v := newTestVM(t)
	// 0.0/0.0 is NaN; fcmpg pushes 1, fcmpl pushes -1.
	nanCmp := func(cmp byte) []byte {
		return []byte{
			0x0B, 0x0B, 0x6E, // fconst_0, fconst_0, fdiv -> NaN
			0x0B, // fconst_0
			cmp,
			0xAC,
		}
	}
	assert.Equal(t, int32(1), runCode(t, v, "FcmpG", 4, nanCmp(0x96)))
	assert.Equal(t, int32(-1), runCode(t, v, "FcmpL", 4, nanCmp(0x95)))
}

func TestStackShuffles(t *testing.T) {
	v := newTestVM(t)
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		// swap: [1,2] -> [2,1]; isub -> 2-1
		{"swap", []byte{0x04, 0x05, 0x5F, 0x64, 0xAC}, 1},
		// dup: 3 dup iadd -> 6
		{"dup", []byte{0x06, 0x59, 0x60, 0xAC}, 6},
		// dup_x1: [1,2] -> [2,1,2]; iadd, iadd -> 5
		{"dup_x1", []byte{0x04, 0x05, 0x5A, 0x60, 0x60, 0xAC}, 5},
		// pop2 removes a long in one go
		{"pop2 long", []byte{0x0A, 0x58, 0x08, 0xAC}, 5},
		// dup2 duplicates a long; ladd -> 2, l2i
		{"dup2 long", []byte{0x0A, 0x5C, 0x61, 0x88, 0xAC}, 2},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runCode(t, v, "Shuffle"+string(rune('A'+i)), 6, tt.code))
		})
	}
}

func TestConditionalBranches(t *testing.T) {
	v := newTestVM(t)
	// run(I)I: return arg < 0 ? -1 : 1
	b := builderFor("Sign")
	b.AddMethod(accPublicStatic, "run", "(I)I", 1, 1, []byte{
		0x1A,             // iload_0
		0x9B, 0x00, 0x06, // iflt +6 -> pc 7
		0x04, // iconst_1
		0xAC,
		0x00, // nop (pad)
		0x02, // iconst_m1 at pc 7
		0xAC,
	})
	c := defineClass(t, v, "Sign", b)

	ret, err := runStatic(t, v, c, "run", "(I)I", IntValue(-42))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), ret.Int())

	ret, err = runStatic(t, v, c, "run", "(I)I", IntValue(42))
	require.NoError(t, err)
	assert.Equal(t, int32(1), ret.Int())
}

func TestLoopWithIinc(t *testing.T) {
	v := newTestVM(t)
	// for (i = 0, acc = 0; i < 5; i++) acc += i; return acc;  == 10
	b := builderFor("Loop")
	b.AddMethod(accPublicStatic, "run", "()I", 2, 2, []byte{
		0x03,             // iconst_0
		0x3B,             // istore_0 (i)
		0x03,             // iconst_0
		0x3C,             // istore_1 (acc)
		0x1A,             // pc4: iload_0
		0x08,             // iconst_5
		0xA2, 0x00, 0x0D, // pc6: if_icmpge +13 -> pc 19
		0x1B,             // iload_1
		0x1A,             // iload_0
		0x60,             // iadd
		0x3C,             // istore_1
		0x84, 0x00, 0x01, // iinc 0, 1
		0xA7, 0xFF, 0xF4, // pc16: goto -12 -> pc 4
		0x1B,             // pc19: iload_1
		0xAC,
	})
	c := defineClass(t, v, "Loop", b)
	ret, err := runStatic(t, v, c, "run", "()I")
	require.NoError(t, err)
	assert.Equal(t, int32(10), ret.Int())
}

func TestTableswitch(t *testing.T) {
	v := newTestVM(t)
	code := []byte{0x1A, 0xAA, 0x00, 0x00}
	code = append(code, be32(27)...) // default -> pc 28
	code = append(code, be32(0)...)  // low
	code = append(code, be32(1)...)  // high
	code = append(code, be32(23)...) // case 0 -> pc 24
	code = append(code, be32(25)...) // case 1 -> pc 26
	code = append(code,
		0x04, 0xAC, // pc24: iconst_1
		0x05, 0xAC, // pc26: iconst_2
		0x08, 0xAC, // pc28: iconst_5
	)

	b := builderFor("TSwitch")
	b.AddMethod(accPublicStatic, "run", "(I)I", 1, 1, code)
	c := defineClass(t, v, "TSwitch", b)

	for arg, want := range map[int32]int32{0: 1, 1: 2, 7: 5, -3: 5} {
		ret, err := runStatic(t, v, c, "run", "(I)I", IntValue(arg))
		require.NoError(t, err)
		assert.Equal(t, want, ret.Int(), "tableswitch(%d)", arg)
	}
}

func TestLookupswitch(t *testing.T) {
	v := newTestVM(t)
	code := []byte{0x1A, 0xAB, 0x00, 0x00}
	code = append(code, be32(31)...) // default -> pc 32
	code = append(code, be32(2)...)  // npairs
	code = append(code, be32(5)...)
	code = append(code, be32(27)...) // 5 -> pc 28
	code = append(code, be32(900)...)
	code = append(code, be32(29)...) // 900 -> pc 30
	code = append(code,
		0x04, 0xAC, // pc28: iconst_1
		0x05, 0xAC, // pc30: iconst_2
		0x08, 0xAC, // pc32: iconst_5
	)

	b := builderFor("LSwitch")
	b.AddMethod(accPublicStatic, "run", "(I)I", 1, 1, code)
	c := defineClass(t, v, "LSwitch", b)

	for arg, want := range map[int32]int32{5: 1, 900: 2, 6: 5} {
		ret, err := runStatic(t, v, c, "run", "(I)I", IntValue(arg))
		require.NoError(t, err)
		assert.Equal(t, want, ret.Int(), "lookupswitch(%d)", arg)
	}
}

func TestWidePrefix(t *testing.T) {
	v := newTestVM(t)
	// wide iinc local0 by 300, wide iload local0.
	b := builderFor("Wide")
	b.AddMethod(accPublicStatic, "run", "(I)I", 1, 1, []byte{
		0xC4, 0x84, 0x00, 0x00, 0x01, 0x2C, // wide iinc 0, 300
		0xC4, 0x15, 0x00, 0x00, // wide iload 0
		0xAC,
	})
	c := defineClass(t, v, "Wide", b)
	ret, err := runStatic(t, v, c, "run", "(I)I", IntValue(1))
	require.NoError(t, err)
	assert.Equal(t, int32(301), ret.Int())
}

func TestJsrRet(t *testing.T) {
	v := newTestVM(t)
	code := []byte{
		0xA8, 0x00, 0x06, // pc0: jsr -> pc6
		0x08,             // pc3: iconst_5
		0xAC,             // pc4: ireturn
		0x00,             // pc5: nop
		0x4B,             // pc6: astore_0 (return address)
		0xA9, 0x00,       // pc7: ret 0 -> pc3
	}
	b := builderFor("Sub")
	b.AddMethod(accPublicStatic, "run", "()I", 2, 1, code)
	c := defineClass(t, v, "Sub", b)
	ret, err := runStatic(t, v, c, "run", "()I")
	require.NoError(t, err)
	assert.Equal(t, int32(5), ret.Int())
}

func TestLdcConstants(t *testing.T) {
	v := newTestVM(t)

	b := builderFor("Ldc")
	intIdx := b.IntConst(123456789)
	floatIdx := b.FloatConst(float32(math.Pi))
	longIdx := b.LongConst(math.MaxInt64)
	doubleIdx := b.DoubleConst(2.25)

	b.AddMethod(accPublicStatic, "i", "()I", 1, 0, []byte{0x13, byte(intIdx >> 8), byte(intIdx), 0xAC})
	b.AddMethod(accPublicStatic, "f", "()F", 1, 0, []byte{0x13, byte(floatIdx >> 8), byte(floatIdx), 0xAE})
	b.AddMethod(accPublicStatic, "l", "()J", 2, 0, []byte{0x14, byte(longIdx >> 8), byte(longIdx), 0xAD})
	b.AddMethod(accPublicStatic, "d", "()D", 2, 0, []byte{0x14, byte(doubleIdx >> 8), byte(doubleIdx), 0xAF})
	c := defineClass(t, v, "Ldc", b)

	ret, err := runStatic(t, v, c, "i", "()I")
	require.NoError(t, err)
	assert.Equal(t, int32(123456789), ret.Int())

	ret, err = runStatic(t, v, c, "f", "()F")
	require.NoError(t, err)
	assert.Equal(t, math.Float32bits(float32(math.Pi)), uint32(ret.Bits()),
		"ldc of float is bit-pattern preserving")

	ret, err = runStatic(t, v, c, "l", "()J")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), ret.Long())

	ret, err = runStatic(t, v, c, "d", "()D")
	require.NoError(t, err)
	assert.Equal(t, 2.25, ret.Double())
}

func TestExceptionHandlerMatch(t *testing.T) {
	v := newTestVM(t)
	// try { return 5/0; } catch (ArithmeticException e) { return 20; }
	b := builderFor("Catch")
	b.AddMethod(accPublicStatic, "run", "()I", 2, 1,
		[]byte{
			0x08,       // pc0: iconst_5
			0x03,       // pc1: iconst_0
			0x6C,       // pc2: idiv
			0xAC,       // pc3: ireturn
			0x4B,       // pc4: astore_0 (the exception object)
			0x10, 0x14, // pc5: bipush 20
			0xAC, // pc7: ireturn
		},
		classfile.Handler{StartPC: 0, EndPC: 4, HandlerPC: 4, CatchClass: ClassArithmeticException})
	c := defineClass(t, v, "Catch", b)

	ret, err := runStatic(t, v, c, "run", "()I")
	require.NoError(t, err)
	assert.Equal(t, int32(20), ret.Int())
}

func TestHandlerReceivesExceptionOnClearedStack(t *testing.T) {
	v := newTestVM(t)
	// The handler entry sees exactly one operand: the exception.
	// It proves this by returning instanceof ArithmeticException.
	b := builderFor("Stacked")
	excIdx := b.ClassRef(ClassArithmeticException)
	b.AddMethod(accPublicStatic, "run", "()I", 3, 1,
		[]byte{
			0x04,       // pc0: iconst_1 (junk that must be cleared)
			0x08,       // pc1: iconst_5
			0x03,       // pc2: iconst_0
			0x6C,       // pc3: idiv
			0xAC,       // pc4: ireturn
			0xC1, byte(excIdx >> 8), byte(excIdx), // pc5: instanceof
			0xAC, // pc8: ireturn
		},
		classfile.Handler{StartPC: 0, EndPC: 5, HandlerPC: 5, CatchClass: ClassArithmeticException})
	c := defineClass(t, v, "Stacked", b)

	ret, err := runStatic(t, v, c, "run", "()I")
	require.NoError(t, err)
	assert.Equal(t, int32(1), ret.Int())
}

func TestUnmatchedExceptionPropagates(t *testing.T) {
	v := newTestVM(t)
	// The handler catches a different class; the exception escapes.
	b := builderFor("Escape")
	b.AddMethod(accPublicStatic, "run", "()I", 2, 1,
		[]byte{0x08, 0x03, 0x6C, 0xAC, 0x03, 0xAC},
		classfile.Handler{StartPC: 0, EndPC: 4, HandlerPC: 4, CatchClass: ClassClassCastException})
	c := defineClass(t, v, "Escape", b)

	_, err := runStatic(t, v, c, "run", "()I")
	require.Error(t, err)
	assert.Equal(t, ClassArithmeticException, thrownClass(t, err))
}

func TestCatchAllHandler(t *testing.T) {
	v := newTestVM(t)
	// A zero catch_type entry matches everything (finally).
	b := builderFor("Finally")
	b.AddMethod(accPublicStatic, "run", "()I", 2, 1,
		[]byte{0x08, 0x03, 0x6C, 0xAC, 0x57, 0x10, 0x2A, 0xAC},
		classfile.Handler{StartPC: 0, EndPC: 4, HandlerPC: 4})
	c := defineClass(t, v, "Finally", b)

	ret, err := runStatic(t, v, c, "run", "()I")
	require.NoError(t, err)
	assert.Equal(t, int32(42), ret.Int())
}

func TestAthrowNullRaisesNPE(t *testing.T) {
	v := newTestVM(t)
	c := codeClass(t, v, "ThrowNull", "()V", 1, 1, []byte{0x01, 0xBF})
	_, err := runStatic(t, v, c, "run", "()V")
	require.Error(t, err)
	assert.Equal(t, ClassNullPointerException, thrownClass(t, err))
}
