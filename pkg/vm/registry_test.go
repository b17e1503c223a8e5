package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciervm/glacier/pkg/classfile"
)

func TestLoadClassIsIdempotent(t *testing.T) {
	v := newTestVM(t)
	t1 := v.mainThread

	a, err := v.registry.LoadClass(t1, "java/lang/Object", nil)
	require.NoError(t, err)
	b, err := v.registry.LoadClass(t1, "java/lang/Object", nil)
	require.NoError(t, err)
	assert.Same(t, a, b, "one Class per (loader, name)")
}

func TestArraySynthesis(t *testing.T) {
	v := newTestVM(t)
	t1 := v.mainThread

	intArray, err := v.registry.LoadArray(t1, "[I", nil)
	require.NoError(t, err)
	assert.Equal(t, KindArray, intArray.Kind)
	assert.Equal(t, "java/lang/Object", intArray.Super.Name)
	assert.Contains(t, intArray.Interfaces, "java/lang/Cloneable")
	assert.Contains(t, intArray.Interfaces, "java/io/Serializable")
	assert.True(t, intArray.Component.IsPrimitive())
	assert.Empty(t, intArray.DeclaredFields)
	assert.Empty(t, intArray.DeclaredMethods)

	again, err := v.registry.LoadArray(t1, "[I", nil)
	require.NoError(t, err)
	assert.Same(t, intArray, again, "arrays with one component share a class")

	matrix, err := v.registry.LoadArray(t1, "[[I", nil)
	require.NoError(t, err)
	assert.Same(t, intArray, matrix.Component)
}

func TestPrimitiveSingletons(t *testing.T) {
	v := newTestVM(t)

	intClass, err := v.registry.LoadPrimitive('I')
	require.NoError(t, err)
	assert.Equal(t, "int", intClass.Name)
	assert.True(t, intClass.IsInitialized())

	again, err := v.registry.LoadPrimitive('I')
	require.NoError(t, err)
	assert.Same(t, intClass, again)

	for _, ch := range []byte{'V', 'Z', 'B', 'C', 'S', 'F', 'J', 'D'} {
		c, err := v.registry.LoadPrimitive(ch)
		require.NoError(t, err)
		assert.Equal(t, KindPrimitive, c.Kind)
	}

	_, err = v.registry.LoadPrimitive('Q')
	assert.Error(t, err)
}

func TestFieldLayoutOffsets(t *testing.T) {
	v := newTestVM(t)

	b := builderFor("Layout")
	b.AddField(classfile.AccPrivate, "a", "I")
	b.AddField(classfile.AccPrivate, "b", "J")
	b.AddField(classfile.AccPrivate, "c", "Ljava/lang/String;")
	b.AddField(accPublicStatic, "s1", "D")
	b.AddField(accPublicStatic, "s2", "I")
	c := defineClass(t, v, "Layout", b)

	assert.Equal(t, int32(0), c.FindDeclaredField("a", "I").Offset)
	assert.Equal(t, int32(1), c.FindDeclaredField("b", "J").Offset)
	assert.Equal(t, int32(3), c.FindDeclaredField("c", "Ljava/lang/String;").Offset)
	assert.Equal(t, int32(4), c.InstanceSlots)

	assert.Equal(t, int32(0), c.FindDeclaredField("s1", "D").Offset)
	assert.Equal(t, int32(2), c.FindDeclaredField("s2", "I").Offset)
	assert.Len(t, c.StaticData, 3)

	// The static marker bit distinguishes field ids for the bridge.
	assert.True(t, c.FindDeclaredField("s2", "I").ID()&fieldIDStaticBit != 0)
	assert.True(t, c.FindDeclaredField("a", "I").ID()&fieldIDStaticBit == 0)
}

func TestInheritedFieldOffsets(t *testing.T) {
	v := newTestVM(t)

	base := builderFor("Base")
	base.AddField(classfile.AccProtected, "x", "I")
	defineClass(t, v, "Base", base)

	derived := classfile.NewBuilder("Derived", "Base", classfile.AccPublic|classfile.AccSuper)
	derived.AddField(classfile.AccPrivate, "y", "I")
	d := defineClass(t, v, "Derived", derived)

	assert.Equal(t, int32(2), d.InstanceSlots, "inherited fields counted in instance size")
	assert.Equal(t, int32(1), d.FindDeclaredField("y", "I").Offset)

	// Inherited lookup resolves the superclass field, memoized.
	f := d.LookupField("x", "I")
	require.NotNil(t, f)
	assert.Equal(t, "Base", f.Class.Name)
	assert.Same(t, f, d.LookupField("x", "I"))
}

func TestInitializationRunsClinitOnce(t *testing.T) {
	v := newTestVM(t)

	// static int x; static { x = 42; }
	b := builderFor("WithInit")
	b.AddField(accPublicStatic, "x", "I")
	fieldIdx := b.FieldRef("WithInit", "x", "I")
	b.AddMethod(classfile.AccStatic, "<clinit>", "()V", 1, 0, []byte{
		0x10, 0x2A, // bipush 42
		0xB3, byte(fieldIdx >> 8), byte(fieldIdx), // putstatic
		0xB1,
	})
	c := defineClass(t, v, "WithInit", b)
	require.False(t, c.IsInitialized())

	require.NoError(t, v.registry.Initialize(v.mainThread, c))
	require.True(t, c.IsInitialized())
	assert.Equal(t, int32(42), c.StaticValue(c.FindDeclaredField("x", "I")).Int())

	// Re-initialization is a no-op.
	require.NoError(t, v.registry.Initialize(v.mainThread, c))
}

func TestInitializationInitializesSuperFirst(t *testing.T) {
	v := newTestVM(t)

	base := builderFor("InitBase")
	base.AddField(accPublicStatic, "x", "I")
	baseField := base.FieldRef("InitBase", "x", "I")
	base.AddMethod(classfile.AccStatic, "<clinit>", "()V", 1, 0, []byte{
		0x04, 0xB3, byte(baseField >> 8), byte(baseField), 0xB1,
	})
	bc := defineClass(t, v, "InitBase", base)

	derived := classfile.NewBuilder("InitDerived", "InitBase", classfile.AccPublic|classfile.AccSuper)
	dc := defineClass(t, v, "InitDerived", derived)

	require.NoError(t, v.registry.Initialize(v.mainThread, dc))
	assert.True(t, bc.IsInitialized(), "super initialized before subclass")

	// Invariant: initialized implies super initialized.
	for _, c := range v.registry.All() {
		if c.IsInitialized() && c.Super != nil {
			assert.True(t, c.Super.IsInitialized(), "class %s", c.Name)
		}
	}
}

func TestErroneousClinitRethrowsSameError(t *testing.T) {
	v := newTestVM(t)

	// static { throw new ArithmeticException(); } (via 1/0)
	b := builderFor("Broken")
	b.AddMethod(classfile.AccStatic, "<clinit>", "()V", 2, 0, []byte{
		0x04, 0x03, 0x6C, // 1/0
		0x57, 0xB1,
	})
	c := defineClass(t, v, "Broken", b)

	err1 := v.registry.Initialize(v.mainThread, c)
	require.Error(t, err1)
	first, ok := AsThrown(err1)
	require.True(t, ok)

	err2 := v.registry.Initialize(v.mainThread, c)
	require.Error(t, err2)
	second, ok := AsThrown(err2)
	require.True(t, ok)

	assert.Same(t, first.Object, second.Object, "<clinit> not re-run; the same wrapped error is raised")
}

func TestMissingClassThrowsNoClassDef(t *testing.T) {
	v := newTestVM(t)
	_, err := v.registry.LoadClass(v.mainThread, "com/example/Nope", nil)
	require.Error(t, err)
	assert.Equal(t, ClassNoClassDefFoundError, thrownClass(t, err))
}

func TestDefineClassRejectsWrongName(t *testing.T) {
	v := newTestVM(t)
	b := builderFor("Actual")
	_, err := v.registry.DefineClass(v.mainThread, "Expected", nil, b.Bytes())
	require.Error(t, err)
	assert.Equal(t, ClassNoClassDefFoundError, thrownClass(t, err))
}

func TestDefineClassRejectsGarbage(t *testing.T) {
	v := newTestVM(t)
	_, err := v.registry.DefineClass(v.mainThread, "X", nil, []byte{1, 2, 3})
	require.Error(t, err)
	assert.Equal(t, ClassLinkageError, thrownClass(t, err))
}

func TestUserDefinedLoader(t *testing.T) {
	v := newTestVM(t)
	t1 := v.mainThread

	loaderClass, err := v.registry.LoadClass(t1, "java/lang/ClassLoader", nil)
	require.NoError(t, err)
	loader := v.heap.AllocateObject(loaderClass)

	payload := builderFor("loaded/ByLoader").Bytes()
	c, err := v.registry.DefineClass(t1, "loaded/ByLoader", loader, payload)
	require.NoError(t, err)
	assert.Same(t, loader, c.DefiningLoader)

	// Registered under the (loader, name) key, not the bootstrap key.
	again, err := v.registry.LoadClass(t1, "loaded/ByLoader", loader)
	require.NoError(t, err)
	assert.Same(t, c, again)
}

func TestConstantPoolResolutionIdentity(t *testing.T) {
	v := newTestVM(t)

	b := builderFor("Resolver")
	classIdx := b.ClassRef("java/lang/Object")
	stringIdx := b.StringRef("pooled")
	methodIdx := b.MethodRef("java/lang/Object", "hashCode", "()I")
	c := defineClass(t, v, "Resolver", b)

	t1 := v.mainThread

	c1, err := v.ResolveClassRef(t1, c, classIdx)
	require.NoError(t, err)
	c2, err := v.ResolveClassRef(t1, c, classIdx)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	s1, err := v.ResolveString(t1, c, stringIdx)
	require.NoError(t, err)
	s2, err := v.ResolveString(t1, c, stringIdx)
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	m1, err := v.ResolveMethodRef(t1, c, methodIdx)
	require.NoError(t, err)
	m2, err := v.ResolveMethodRef(t1, c, methodIdx)
	require.NoError(t, err)
	assert.Same(t, m1, m2)
}

func TestStringInterning(t *testing.T) {
	v := newTestVM(t)

	a := v.Intern("shared literal")
	b := v.Intern("shared literal")
	assert.Same(t, a, b, "equal content interns to one object")
	assert.NotSame(t, a, v.Intern("different"))

	fresh := v.NewString("shared literal")
	assert.NotSame(t, a, fresh)
	assert.Same(t, a, v.Intern(fresh.GoString()))
}
