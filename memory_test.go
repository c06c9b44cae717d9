package dieselrhi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

const (
	deviceLocal  = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	hostCoherent = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	hostCached   = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit)
)

func newTestMemory(drv *fakeDriver) *MemoryManager {
	gpu := drv.gpus[0]
	return NewMemoryManager(drv, gpu.Memory, gpu.Limits)
}

func TestMemoryTypeSelection(t *testing.T) {
	m := newTestMemory(newFakeDriver())

	idx, err := m.GetMemoryTypeFromProperties(^uint32(0), deviceLocal)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)

	idx, err = m.GetMemoryTypeFromProperties(^uint32(0), vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), idx)

	idx, err = m.GetMemoryTypeFromPropertiesExcluding(^uint32(0), vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit), 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), idx)

	_, err = m.GetMemoryTypeFromProperties(0b001, hostCoherent)
	assert.ErrorIs(t, err, ErrNoMemoryType)

	assert.True(t, m.SupportsMemoryType(hostCached))
	assert.False(t, m.SupportsMemoryType(vk.MemoryPropertyFlags(vk.MemoryPropertyLazilyAllocatedBit)))
}

func TestAllocAccounting(t *testing.T) {
	drv := newFakeDriver()
	m := newTestMemory(drv)

	a, err := m.Alloc(false, 4096, 0)
	require.NoError(t, err)
	b, err := m.Alloc(false, 1024, 0)
	require.NoError(t, err)
	c, err := m.Alloc(false, 512, 1)
	require.NoError(t, err)

	used, peak := m.HeapUsage(0)
	assert.Equal(t, uint64(5120), used)
	assert.Equal(t, uint64(5120), peak)
	used, _ = m.HeapUsage(1)
	assert.Equal(t, uint64(512), used)
	assert.Equal(t, uint32(3), m.AllocationCount())

	m.Free(a)
	m.Free(a)
	used, peak = m.HeapUsage(0)
	assert.Equal(t, uint64(1024), used)
	assert.Equal(t, uint64(5120), peak)
	assert.Equal(t, uint32(2), m.AllocationCount())
	assert.Equal(t, uint32(3), m.PeakAllocationCount())

	m.Destroy()
	assert.Equal(t, 0, drv.liveCount("memory"))
	assert.Equal(t, NullHandle, b.Handle())
	assert.Equal(t, NullHandle, c.Handle())
}

func TestAllocOutOfMemory(t *testing.T) {
	drv := newFakeDriver()
	m := newTestMemory(drv)

	drv.script("AllocateMemory", vk.ErrorOutOfDeviceMemory)
	a, err := m.Alloc(true, 64, 0)
	assert.NoError(t, err)
	assert.Nil(t, a)

	drv.script("AllocateMemory", vk.ErrorOutOfDeviceMemory)
	_, err = m.Alloc(false, 64, 0)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, vk.ErrorOutOfDeviceMemory, ResultOf(err))

	_, err = m.Alloc(false, 64, 9)
	assert.ErrorIs(t, err, ErrNoMemoryType)
	assert.Equal(t, uint32(0), m.AllocationCount())
}

func TestHeapBudget(t *testing.T) {
	m := newTestMemory(newFakeDriver())
	assert.Equal(t, uint64(1<<30)/100*95, m.HeapBudget(0))
	assert.Equal(t, uint64(256<<20), m.HeapBudget(1))
	assert.Equal(t, uint64(0), m.HeapBudget(7))
}

func TestMapAndFlush(t *testing.T) {
	drv := newFakeDriver()
	m := newTestMemory(drv)

	local, _ := m.Alloc(false, 256, 0)
	_, err := local.Map(WholeSize, 0)
	assert.Error(t, err, "device-local memory is not mappable")

	cached, _ := m.Alloc(false, 1000, 2)
	assert.True(t, cached.CanBeMapped())
	assert.False(t, cached.IsCoherent())
	assert.True(t, cached.IsCached())

	data, err := cached.Map(WholeSize, 0)
	require.NoError(t, err)
	assert.Len(t, data, 1000)
	_, err = cached.Map(WholeSize, 0)
	assert.Error(t, err, "a second map is refused")

	require.NoError(t, cached.Flush(70, 10))
	require.NoError(t, cached.Invalidate(990, 100))
	require.NoError(t, cached.Flush(0, WholeSize))
	assert.Equal(t, [][2]uint64{{64, 64}, {960, 40}, {0, WholeSize}}, drv.flushes)

	cached.Unmap()
	assert.False(t, cached.IsMapped())

	coherent, _ := m.Alloc(false, 128, 1)
	require.NoError(t, coherent.Flush(0, 16))
	assert.Len(t, drv.flushes, 3, "coherent memory never flushes")
}

func TestJoinConsecutiveRanges(t *testing.T) {
	out := JoinConsecutiveRanges([]Range{{Offset: 32, Size: 16}, {Offset: 0, Size: 16}, {Offset: 16, Size: 16}, {Offset: 64, Size: 8}})
	assert.Equal(t, []Range{{Offset: 0, Size: 48}, {Offset: 64, Size: 8}}, out)
	assert.Empty(t, JoinConsecutiveRanges(nil))
}

func TestSubAllocator(t *testing.T) {
	s := NewSubAllocator(1024, 16)

	a := s.TryAllocate(100, 0)
	require.NotNil(t, a)
	assert.Equal(t, uint64(0), a.Offset)

	b := s.TryAllocate(64, 256)
	require.NotNil(t, b)
	assert.Equal(t, uint64(256), b.Offset)
	assert.Equal(t, uint64(320), s.Used(), "alignment padding counts as used")

	assert.Nil(t, s.TryAllocate(1024, 0))

	c := s.TryAllocate(512, 0)
	require.NotNil(t, c)
	assert.Equal(t, uint64(320), c.Offset)

	assert.False(t, s.Release(b))
	assert.False(t, s.Release(a))
	assert.True(t, s.Release(c))
	assert.Equal(t, []Range{{Offset: 0, Size: 1024}}, s.FreeRanges())
	assert.Equal(t, uint64(0), s.Used())
	assert.Equal(t, uint64(1024), s.MaxSize())
}
