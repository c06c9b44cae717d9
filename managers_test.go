package dieselrhi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestFenceManagerReuse(t *testing.T) {
	drv := newFakeDriver()
	m := NewFenceManager(drv, 3)

	f, err := m.CreateFence(false)
	require.NoError(t, err)
	assert.Equal(t, FenceNotReady, f.State())
	assert.Equal(t, 1, m.UsedCount())

	m.ReleaseFence(&f)
	assert.Nil(t, f)
	assert.Equal(t, 0, m.UsedCount())
	assert.Equal(t, 1, m.FreeCount())

	g, err := m.CreateFence(true)
	require.NoError(t, err)
	assert.True(t, g.IsSignaled())
	assert.Equal(t, 1, drv.calls["CreateFence"], "the released fence is reused")

	m.Destroy()
	assert.Equal(t, 0, drv.liveCount("fence"))
}

func TestFenceManagerCreateFailure(t *testing.T) {
	drv := newFakeDriver()
	drv.fail["CreateFence"] = errFake
	_, err := NewFenceManager(drv, 3).CreateFence(false)
	assert.ErrorIs(t, err, ErrFenceAllocation)
	assert.True(t, IsFatal(err))
}

func TestWaitForFenceSignals(t *testing.T) {
	drv := newFakeDriver()
	m := NewFenceManager(drv, 3)
	f, _ := m.CreateFence(false)

	ok, err := m.WaitForFence(f, 1000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f.IsSignaled())
}

func TestWaitForFenceRetryBudget(t *testing.T) {
	drv := newFakeDriver()
	m := NewFenceManager(drv, 3)
	f, _ := m.CreateFence(false)
	drv.script("WaitForFence", vk.Timeout, vk.Timeout, vk.Timeout)

	for i := 0; i < 2; i++ {
		ok, err := m.WaitForFence(f, 1000)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, FenceNotReady, f.State())
	}
	ok, err := m.WaitForFence(f, 1000)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDeviceLost)
}

func TestWaitForFenceSuccessResetsBudget(t *testing.T) {
	drv := newFakeDriver()
	m := NewFenceManager(drv, 2)
	f, _ := m.CreateFence(false)
	drv.script("WaitForFence", vk.Timeout, vk.Success, vk.Timeout)

	_, err := m.WaitForFence(f, 1)
	require.NoError(t, err)
	_, err = m.WaitForFence(f, 1)
	require.NoError(t, err)
	m.ResetFence(f)
	_, err = m.WaitForFence(f, 1)
	assert.NoError(t, err, "a signal in between starts the count over")
}

func TestWaitForFenceDeviceLost(t *testing.T) {
	drv := newFakeDriver()
	m := NewFenceManager(drv, 3)
	f, _ := m.CreateFence(false)
	drv.script("WaitForFence", vk.ErrorDeviceLost)

	ok, err := m.WaitForFence(f, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDeviceLost)
	assert.Equal(t, vk.ErrorDeviceLost, ResultOf(err))
}

func TestWaitForFenceOtherFailure(t *testing.T) {
	drv := newFakeDriver()
	m := NewFenceManager(drv, 3)
	f, _ := m.CreateFence(false)
	drv.script("WaitForFence", vk.ErrorOutOfHostMemory)

	ok, err := m.WaitForFence(f, 1)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestIsFenceSignaledCachesState(t *testing.T) {
	drv := newFakeDriver()
	m := NewFenceManager(drv, 3)
	f, _ := m.CreateFence(false)
	drv.script("GetFenceStatus", vk.NotReady)

	assert.False(t, m.IsFenceSignaled(f))
	assert.True(t, m.IsFenceSignaled(f))
	assert.True(t, m.IsFenceSignaled(f))
	assert.Equal(t, 2, drv.calls["GetFenceStatus"], "a signaled fence is not polled again")
}

func TestResetFence(t *testing.T) {
	drv := newFakeDriver()
	m := NewFenceManager(drv, 3)
	f, _ := m.CreateFence(true)

	drv.script("ResetFence", vk.ErrorDeviceLost)
	m.ResetFence(f)
	assert.True(t, f.IsSignaled(), "a failed reset leaves the state alone")

	m.ResetFence(f)
	assert.False(t, f.IsSignaled())
	m.ResetFence(f)
	assert.Equal(t, 2, drv.calls["ResetFence"], "a NotReady fence is not reset")
}

func TestWaitAndReleaseFence(t *testing.T) {
	drv := newFakeDriver()
	m := NewFenceManager(drv, 3)

	f, _ := m.CreateFence(true)
	ok, err := m.WaitAndReleaseFence(&f, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, f)
	assert.Equal(t, 0, drv.calls["WaitForFence"])

	g, _ := m.CreateFence(false)
	ok, err = m.WaitAndReleaseFence(&g, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, drv.calls["WaitForFence"])
	assert.Equal(t, 1, m.FreeCount())

	var none *Fence
	ok, err = m.WaitAndReleaseFence(&none, 1)
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestSemaphoreManager(t *testing.T) {
	drv := newFakeDriver()
	m := NewSemaphoreManager(drv)

	a, err := m.Get()
	require.NoError(t, err)
	b, err := m.Get()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	m.Put(a)
	m.Put(NullHandle)
	assert.Equal(t, 1, m.FreeCount())

	c, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Equal(t, 2, drv.calls["CreateSemaphore"])

	m.Put(b)
	m.Put(c)
	m.Destroy()
	assert.Equal(t, 0, drv.liveCount("semaphore"))
}

func TestSemaphoreManagerDiscard(t *testing.T) {
	drv := newFakeDriver()
	m := NewSemaphoreManager(drv)
	s, err := m.Get()
	require.NoError(t, err)

	m.Discard(s)
	m.Discard(NullHandle)
	assert.Zero(t, drv.liveCount("semaphore"))
	assert.Zero(t, m.FreeCount())

	next, err := m.Get()
	require.NoError(t, err)
	assert.NotEqual(t, s, next)
	m.Put(next)
	m.Destroy()
	assert.Zero(t, drv.liveCount("semaphore"))
}

func TestSemaphoreManagerCreateFailure(t *testing.T) {
	drv := newFakeDriver()
	drv.fail["CreateSemaphore"] = errFake
	_, err := NewSemaphoreManager(drv).Get()
	assert.ErrorIs(t, err, errFake)
}
