package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalRefsAreRoots(t *testing.T) {
	v := newTestVM(t)

	o := v.heap.AllocateObject(v.builtin.objectClass)
	v.refs.AddGlobal(o)

	seen := 0
	v.refs.ForEachRoot(func(ref *Object) {
		if ref == o {
			seen++
		}
	})
	assert.Equal(t, 1, seen)

	v.refs.RemoveGlobal(o)
	seen = 0
	v.refs.ForEachRoot(func(ref *Object) {
		if ref == o {
			seen++
		}
	})
	assert.Equal(t, 0, seen)
}

func TestLocalRefRequiresNativeFrame(t *testing.T) {
	v := newTestVM(t)
	t1 := v.mainThread
	o := v.heap.AllocateObject(v.builtin.objectClass)

	// No frame at all: falls back to the process-level pool.
	require.NoError(t, v.refs.NewLocalRef(t1, o))
	v.refs.RemoveLocalRef(t1, o)

	// A bytecode top frame gives the reference no scope.
	exec := t1.Executor()
	_, err := exec.PushFrame(FrameBytecode, v.builtin.objectClass, testMethod(v.builtin.objectClass, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, ErrNoLocalScope, v.refs.NewLocalRef(t1, o))
	exec.PopFrame()

	// A native frame scopes the reference to itself.
	frame, err := exec.PushFrame(FrameNative, v.builtin.objectClass, testMethod(v.builtin.objectClass, 1, 0))
	require.NoError(t, err)
	require.NoError(t, v.refs.NewLocalRef(t1, o))
	assert.Contains(t, frame.LocalRefs, o)
	exec.PopFrame()
}
