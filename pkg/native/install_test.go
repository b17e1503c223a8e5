package native

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciervm/glacier/pkg/classfile"
	"github.com/glaciervm/glacier/pkg/vm"
)

func newVM(t *testing.T) *vm.VM {
	t.Helper()
	v := vm.New(&vm.Options{ClassPath: t.TempDir(), GCInterval: time.Hour})
	Install(v)
	require.NoError(t, v.Initialize())
	t.Cleanup(v.Release)
	return v
}

func TestInstallBindsDerivedNames(t *testing.T) {
	v := newVM(t)
	reg := v.Natives()

	assert.NotNil(t, reg.Lookup("java/lang/Object", "hashCode", "()I"))
	assert.NotNil(t, reg.Lookup("java/lang/System", "currentTimeMillis", "()J"))
	assert.NotNil(t, reg.Lookup("java/lang/Math", "sqrt", "(D)D"))
	assert.NotNil(t, reg.Lookup("java/io/FileDescriptor", "initIDs", "()V"))
	assert.Nil(t, reg.Lookup("java/lang/Object", "noSuchNative", "()V"))
}

func TestMathNatives(t *testing.T) {
	v := newVM(t)
	env := &vm.Env{VM: v, Thread: v.MainThread()}

	sqrt := v.Natives().Lookup("java/lang/Math", "sqrt", "(D)D")
	require.NotNil(t, sqrt)
	ret, err := sqrt(env, nil, []vm.Value{vm.DoubleValue(9)})
	require.NoError(t, err)
	assert.Equal(t, 3.0, ret.Double())

	pow := v.Natives().Lookup("java/lang/Math", "pow", "(DD)D")
	require.NotNil(t, pow)
	ret, err = pow(env, nil, []vm.Value{vm.DoubleValue(2), vm.DoubleValue(10)})
	require.NoError(t, err)
	assert.Equal(t, 1024.0, ret.Double())
}

// TestParkedNativeDoesNotStallCollection drives Thread.sleep through a
// real archive-loaded class, so the call goes through the bridge's
// block-mutex machinery instead of the registry entry directly. A
// collection cycle must complete while the thread is parked inside the
// native.
func TestParkedNativeDoesNotStallCollection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "java", "lang"), 0o755))

	// An archive definition of java/lang/Thread whose native sleep
	// binds through the derived-name registry.
	b := classfile.NewBuilder("java/lang/Thread", "java/lang/Object",
		classfile.AccPublic|classfile.AccSuper)
	b.AddAbstractMethod(classfile.AccPublic|classfile.AccStatic|classfile.AccNative,
		"sleep", "(J)V")
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "java", "lang", "Thread.class"), b.Bytes(), 0o644))

	v := vm.New(&vm.Options{ClassPath: dir, GCInterval: time.Hour})
	Install(v)
	require.NoError(t, v.Initialize())
	t.Cleanup(v.Release)

	thread, err := v.Registry().LoadClass(v.MainThread(), "java/lang/Thread", nil)
	require.NoError(t, err)
	sleep := thread.FindDeclaredMethod("sleep", "(J)V")
	require.NotNil(t, sleep)
	require.True(t, sleep.IsNative(), "archive definition keeps the method native")

	sleeper := v.AttachThread("sleeper", false)
	go func() {
		_, _ = v.InvokeMethod(sleeper, sleep, []vm.Value{vm.LongValue(3000)})
	}()
	// Let the native park.
	time.Sleep(50 * time.Millisecond)

	// System.gc suspends every other mutator, including the sleeper.
	system, err := v.Registry().LoadClass(v.MainThread(), "java/lang/System", nil)
	require.NoError(t, err)
	gc := system.FindDeclaredMethod("gc", "()V")
	require.NotNil(t, gc)

	collected := make(chan struct{})
	go func() {
		_, _ = v.InvokeMethod(v.MainThread(), gc, nil)
		close(collected)
	}()
	select {
	case <-collected:
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("collection cycle stalled behind a thread parked in Thread.sleep")
	}
}

func TestBitCastNatives(t *testing.T) {
	v := newVM(t)
	env := &vm.Env{VM: v, Thread: v.MainThread()}

	toBits := v.Natives().Lookup("java/lang/Double", "doubleToRawLongBits", "(D)J")
	fromBits := v.Natives().Lookup("java/lang/Double", "longBitsToDouble", "(J)D")
	require.NotNil(t, toBits)
	require.NotNil(t, fromBits)

	bits, err := toBits(env, nil, []vm.Value{vm.DoubleValue(-2.5)})
	require.NoError(t, err)
	back, err := fromBits(env, nil, []vm.Value{bits})
	require.NoError(t, err)
	assert.Equal(t, -2.5, back.Double())
}
