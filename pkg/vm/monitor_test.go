package vm

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testThreads(t *testing.T) (*VM, *Thread, *Thread) {
	v := newTestVM(t)
	return v, v.mainThread, v.AttachThread("worker", false)
}

func TestMonitorReentrancy(t *testing.T) {
	_, t1, _ := testThreads(t)
	m := NewMonitor()

	m.Enter(t1)
	m.Enter(t1)
	require.NoError(t, m.Exit(t1))
	assert.Equal(t, t1, m.Owner(), "still owned after one of two exits")
	require.NoError(t, m.Exit(t1))
	assert.Nil(t, m.Owner(), "unlocked after matching exits")
}

func TestMonitorExitByNonOwner(t *testing.T) {
	_, t1, t2 := testThreads(t)
	m := NewMonitor()

	assert.Equal(t, ErrNotMonitorOwner, m.Exit(t2))

	m.Enter(t1)
	assert.Equal(t, ErrNotMonitorOwner, m.Exit(t2))
	require.NoError(t, m.Exit(t1))
}

func TestMonitorBlocksSecondThreadUntilFullExit(t *testing.T) {
	_, t1, t2 := testThreads(t)
	m := NewMonitor()

	m.Enter(t1)
	m.Enter(t1)

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		m.Enter(t2)
		acquired.Store(true)
		_ = m.Exit(t2)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load(), "second thread entered through a held monitor")

	require.NoError(t, m.Exit(t1))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load(), "second thread entered after only one of two exits")

	require.NoError(t, m.Exit(t1))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second thread never acquired the released monitor")
	}
	assert.True(t, acquired.Load())
}

func TestMonitorWaitRequiresOwnership(t *testing.T) {
	_, t1, _ := testThreads(t)
	m := NewMonitor()
	assert.Equal(t, ErrNotMonitorOwner, m.Wait(t1, 0))
	assert.Equal(t, ErrNotMonitorOwner, m.Notify(t1))
	assert.Equal(t, ErrNotMonitorOwner, m.NotifyAll(t1))
}

func TestMonitorWaitNotify(t *testing.T) {
	_, t1, t2 := testThreads(t)
	m := NewMonitor()

	released := make(chan struct{})
	woke := make(chan struct{})
	go func() {
		m.Enter(t2)
		m.Enter(t2) // recursion must be restored around wait
		close(released)
		assert.NoError(t, m.Wait(t2, 0))
		assert.Equal(t, t2, m.Owner())
		_ = m.Exit(t2)
		_ = m.Exit(t2)
		close(woke)
	}()

	<-released
	// Wait fully releases the lock even at recursion depth 2.
	m.Enter(t1)
	require.NoError(t, m.Notify(t1))
	require.NoError(t, m.Exit(t1))

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by notify")
	}
}

func TestMonitorTimedWait(t *testing.T) {
	_, t1, _ := testThreads(t)
	m := NewMonitor()

	m.Enter(t1)
	start := time.Now()
	require.NoError(t, m.Wait(t1, 30))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, t1, m.Owner(), "lock reacquired after timeout")
	require.NoError(t, m.Exit(t1))
}

func TestMonitorNotifyAll(t *testing.T) {
	v, t1, _ := testThreads(t)
	m := NewMonitor()

	const waiters = 3
	var woke atomic.Int32
	for i := 0; i < waiters; i++ {
		w := v.AttachThread("waiter", false)
		go func() {
			m.Enter(w)
			assert.NoError(t, m.Wait(w, 0))
			woke.Add(1)
			_ = m.Exit(w)
		}()
	}

	// Give every waiter time to park.
	time.Sleep(50 * time.Millisecond)

	m.Enter(t1)
	require.NoError(t, m.NotifyAll(t1))
	require.NoError(t, m.Exit(t1))

	deadline := time.Now().Add(time.Second)
	for woke.Load() != waiters && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int32(waiters), woke.Load())
}
