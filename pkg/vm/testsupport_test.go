package vm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glaciervm/glacier/pkg/classfile"
)

// newTestVM builds an initialized VM whose GC thread stays dormant so
// tests control collection cycles explicitly.
func newTestVM(t *testing.T) *VM {
	t.Helper()
	v := New(&Options{
		ClassPath:  t.TempDir(),
		GCInterval: time.Hour,
	})
	require.NoError(t, v.Initialize())
	t.Cleanup(v.Release)
	return v
}

const accPublicStatic = classfile.AccPublic | classfile.AccStatic

// builderFor starts a public class extending Object.
func builderFor(name string) *classfile.Builder {
	return classfile.NewBuilder(name, "java/lang/Object", classfile.AccPublic|classfile.AccSuper)
}

// defineClass feeds builder output through the registry.
func defineClass(t *testing.T, v *VM, name string, b *classfile.Builder) *Class {
	t.Helper()
	c, err := v.registry.DefineClass(v.mainThread, name, nil, b.Bytes())
	require.NoError(t, err)
	return c
}

// runStatic invokes a declared static method and returns its result.
func runStatic(t *testing.T, v *VM, c *Class, name, descriptor string, args ...Value) (Value, error) {
	t.Helper()
	m := c.FindDeclaredMethod(name, descriptor)
	require.NotNil(t, m, "method %s%s not found", name, descriptor)
	return v.InvokeMethod(v.mainThread, m, args)
}

// codeClass wraps raw bytecode in a class with a single static method
// so interpreter tests stay close to the instruction stream.
func codeClass(t *testing.T, v *VM, name, descriptor string, maxStack, maxLocals uint16, code []byte) *Class {
	t.Helper()
	b := classfile.NewBuilder(name, "java/lang/Object", classfile.AccPublic|classfile.AccSuper)
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "run", descriptor, maxStack, maxLocals, code)
	return defineClass(t, v, name, b)
}

// runCode executes raw bytecode as a static ()I method.
func runCode(t *testing.T, v *VM, name string, maxStack uint16, code []byte) int32 {
	t.Helper()
	c := codeClass(t, v, name, "()I", maxStack, 4, code)
	ret, err := runStatic(t, v, c, "run", "()I")
	require.NoError(t, err)
	return ret.Int()
}

// thrownClass returns the class name of a thrown Java exception.
func thrownClass(t *testing.T, err error) string {
	t.Helper()
	te, ok := AsThrown(err)
	require.True(t, ok, "expected a Java exception, got %v", err)
	return te.Object.Class().Name
}
