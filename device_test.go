package dieselrhi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func testDeviceOptions() DeviceOptions {
	return DeviceOptions{
		FenceRetryBudget:   3,
		RequiredExtensions: []string{"VK_KHR_swapchain"},
	}
}

// newTestDevice brings up a device on the driver's first GPU with a present queue for a fresh
// surface.
func newTestDevice(t *testing.T, drv *fakeDriver) (*LogicalDevice, Handle) {
	t.Helper()
	dev := NewLogicalDevice(drv, testDeviceOptions())
	require.NoError(t, dev.InitGPU(0))
	surface, err := drv.CreateSurface(&fakeWindow{width: 640, height: 480})
	require.NoError(t, err)
	require.NoError(t, dev.SetupPresentQueue(surface))
	return dev, surface
}

func TestRankDevices(t *testing.T) {
	drv := newFakeDriver()
	drv.gpus = []PhysicalDeviceInfo{
		testGPU("cpu", vk.PhysicalDeviceTypeCpu, 0x10005),
		testGPU("igpu", vk.PhysicalDeviceTypeIntegratedGpu, 0x8086),
		testGPU("amd", vk.PhysicalDeviceTypeDiscreteGpu, 0x1002),
		testGPU("nvidia", vk.PhysicalDeviceTypeDiscreteGpu, 0x10de),
	}

	dev := NewLogicalDevice(drv, DeviceOptions{})
	assert.Equal(t, []int{2, 3, 1, 0}, dev.RankDevices([]int{0, 1, 2, 3}))
	gpu, err := dev.SelectDevice([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, gpu, "integrated beats everything but discrete")

	dev = NewLogicalDevice(drv, DeviceOptions{PreferredVendor: 0x10de})
	assert.Equal(t, []int{3, 2, 1, 0}, dev.RankDevices([]int{0, 1, 2, 3}))
	assert.Equal(t, []int{1, 0}, dev.RankDevices([]int{0, 1}), "vendor preference stays within a class")

	_, err = dev.SelectDevice(nil)
	assert.ErrorIs(t, err, ErrNoPhysicalDevice)
	assert.True(t, IsFatal(err))
}

func TestInitGPUSingleFamily(t *testing.T) {
	drv := newFakeDriver()
	dev, _ := newTestDevice(t, drv)

	assert.Same(t, dev.GraphicsQueue(), dev.ComputeQueue())
	assert.Same(t, dev.GraphicsQueue(), dev.TransferQueue())
	assert.Same(t, dev.GraphicsQueue(), dev.PresentQueue())
	require.Len(t, drv.deviceInfo.Queues, 1)
	assert.Equal(t, []string{"VK_KHR_swapchain"}, dev.Extensions())
	assert.Equal(t, 0, dev.GPU())
	assert.Equal(t, "fake discrete", dev.Info().Name)
	assert.Equal(t, int(pixelFormatMax)-1, dev.Formats().SupportedCount())

	for _, m := range []any{dev.MemoryManager(), dev.FenceManager(), dev.SemaphoreManager(), dev.DescriptorPools(),
		dev.LayoutCache(), dev.PipelineCache(), dev.ShaderModules(), dev.ImmediateContext()} {
		assert.NotNil(t, m)
	}
	assert.True(t, dev.ImmediateContext().IsImmediate())
}

func TestInitGPUDedicatedFamilies(t *testing.T) {
	drv := newFakeDriver()
	gpu := testGPU("async", vk.PhysicalDeviceTypeDiscreteGpu, 0x1002)
	gpu.QueueFamilies = []QueueFamily{
		{Flags: vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit), Count: 16},
		{Flags: vk.QueueFlags(vk.QueueComputeBit | vk.QueueTransferBit), Count: 8},
		{Flags: vk.QueueFlags(vk.QueueTransferBit), Count: 2},
	}
	drv.gpus = []PhysicalDeviceInfo{gpu}

	dev, _ := newTestDevice(t, drv)
	assert.Equal(t, uint32(0), dev.GraphicsQueue().FamilyIndex())
	assert.Equal(t, uint32(1), dev.ComputeQueue().FamilyIndex())
	assert.Equal(t, uint32(2), dev.TransferQueue().FamilyIndex())
	require.Len(t, drv.deviceInfo.Queues, 3)
	assert.Equal(t, []float32{1.0}, drv.deviceInfo.Queues[2].Priorities)

	assert.Same(t, dev.ComputeQueue(), dev.PresentQueue(), "a separate compute family that can present is preferred")
}

func TestSetupPresentQueue(t *testing.T) {
	twoFamilies := func() *fakeDriver {
		drv := newFakeDriver()
		gpu := testGPU("two", vk.PhysicalDeviceTypeDiscreteGpu, 0x1002)
		gpu.QueueFamilies = []QueueFamily{
			{Flags: vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit), Count: 1},
			{Flags: vk.QueueFlags(vk.QueueComputeBit), Count: 1},
		}
		drv.gpus = []PhysicalDeviceInfo{gpu}
		return drv
	}

	drv := twoFamilies()
	drv.noPresent[1] = true
	dev, surface := newTestDevice(t, drv)
	assert.Same(t, dev.GraphicsQueue(), dev.PresentQueue())

	drv.noPresent[0] = true
	drv.noPresent[1] = false
	require.NoError(t, dev.SetupPresentQueue(surface))
	assert.Same(t, dev.GraphicsQueue(), dev.PresentQueue(), "the present queue is decided once")

	drv = newFakeDriver()
	drv.noPresent[0] = true
	dev = NewLogicalDevice(drv, testDeviceOptions())
	require.NoError(t, dev.InitGPU(0))
	err := dev.SetupPresentQueue(1)
	assert.ErrorIs(t, err, ErrNoPresentQueue)
	assert.True(t, IsFatal(err))
}

func TestInitGPUFailures(t *testing.T) {
	t.Run("no graphics family", func(t *testing.T) {
		drv := newFakeDriver()
		drv.gpus[0].QueueFamilies = []QueueFamily{{Flags: vk.QueueFlags(vk.QueueComputeBit), Count: 1}}
		err := NewLogicalDevice(drv, testDeviceOptions()).InitGPU(0)
		assert.ErrorIs(t, err, ErrDeviceCreation)
		assert.True(t, IsFatal(err))
	})
	t.Run("missing required extension", func(t *testing.T) {
		drv := newFakeDriver()
		drv.gpus[0].Extensions = nil
		err := NewLogicalDevice(drv, testDeviceOptions()).InitGPU(0)
		assert.ErrorIs(t, err, ErrMissingExtension)
		assert.True(t, IsFatal(err))
		assert.Zero(t, drv.calls["CreateDevice"])
	})
	t.Run("create device", func(t *testing.T) {
		drv := newFakeDriver()
		drv.fail["CreateDevice"] = errFake
		dev := NewLogicalDevice(drv, testDeviceOptions())
		err := dev.InitGPU(0)
		assert.ErrorIs(t, err, ErrDeviceCreation)
		assert.ErrorIs(t, err, errFake)
		dev.Destroy()
		assert.Zero(t, drv.calls["DestroyDevice"], "nothing to destroy")
	})
	t.Run("no formats", func(t *testing.T) {
		drv := newFakeDriver()
		for _, info := range pixelFormatTable {
			drv.unsupported[info.Format] = true
		}
		err := NewLogicalDevice(drv, testDeviceOptions()).InitGPU(0)
		assert.ErrorIs(t, err, ErrNoFormats)
		assert.True(t, IsFatal(err))
	})
}

func TestInitGPUWantedExtensions(t *testing.T) {
	drv := newFakeDriver()
	drv.gpus[0].Extensions = []string{"VK_KHR_swapchain", "VK_EXT_memory_budget"}
	opts := testDeviceOptions()
	opts.WantedExtensions = []string{"VK_EXT_memory_budget", "VK_KHR_ray_query"}
	dev := NewLogicalDevice(drv, opts)
	require.NoError(t, dev.InitGPU(0))

	assert.ElementsMatch(t, []string{"VK_KHR_swapchain", "VK_EXT_memory_budget"}, drv.deviceInfo.Extensions)
}

func TestLogicalDeviceDestroy(t *testing.T) {
	drv := newFakeDriver()
	dev, _ := newTestDevice(t, drv)

	_, err := dev.CreateBuffer(vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), 512, make([]byte, 512))
	require.NoError(t, err)
	_, err = dev.SemaphoreManager().Get()
	require.NoError(t, err)

	dev.PrepareForDestroy()
	assert.Equal(t, 1, drv.calls["DeviceWaitIdle"])
	dev.Destroy()
	dev.Destroy()

	assert.Equal(t, 1, drv.calls["DestroyDevice"])
	assert.Nil(t, dev.GraphicsQueue())
	for _, kind := range []string{"commandPool", "fence", "memory", "setLayout", "pipelineLayout", "pipeline", "descriptorPool"} {
		assert.Zero(t, drv.liveCount(kind), kind)
	}
}

func TestCreateShaderThroughDevice(t *testing.T) {
	drv := newFakeDriver()
	dev, _ := newTestDevice(t, drv)
	dir := t.TempDir()
	vsPath := writeModule(t, dir, "lit.vert.spv", vertexModule())
	fsPath := writeModule(t, dir, "lit.frag.spv", fragmentModule())

	s, err := dev.CreateShader("lit", map[vk.ShaderStageFlagBits]string{
		vk.ShaderStageFragmentBit: fsPath,
		vk.ShaderStageVertexBit:   vsPath,
	})
	require.NoError(t, err)
	require.Len(t, s.Modules(), 2)
	assert.Equal(t, vk.ShaderStageVertexBit, s.Modules()[0].Stage, "stages are linked in pipeline order")
	assert.Equal(t, 2, dev.ShaderModules().Len())

	_, err = dev.CreateShader("broken", map[vk.ShaderStageFlagBits]string{vk.ShaderStageVertexBit: dir + "/nope.spv"})
	assert.ErrorIs(t, err, ErrShaderLoad)
}
