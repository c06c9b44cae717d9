// Package vkdriver implements dieselrhi.Driver on top of github.com/vulkan-go/vulkan.
//
// Vulkan objects live in generation-checked slot arenas and cross the seam as dieselrhi.Handle
// values. The loader must be initialized with vk.SetGetInstanceProcAddr and vk.Init before any
// call, which the display package does for glfw windows.
package vkdriver

import (
	"sync"

	"github.com/andewx/dieselrhi"
	vk "github.com/vulkan-go/vulkan"
)

type memory struct {
	mem  vk.DeviceMemory
	size uint64
}

type commandBuffer struct {
	pool vk.CommandPool
	cmd  vk.CommandBuffer
}

type swapchain struct {
	handle vk.Swapchain
	images []dieselrhi.Handle
}

// Driver owns one instance and at most one logical device.
type Driver struct {
	// mu guards the arenas. Layout and pipeline caches create objects from several goroutines.
	mu sync.RWMutex

	instance vk.Instance
	debug    vk.DebugReportCallback
	gpus     []vk.PhysicalDevice
	infos    []dieselrhi.PhysicalDeviceInfo
	gpu      vk.PhysicalDevice
	device   vk.Device

	queues          dieselrhi.Slots[vk.Queue]
	queueHandles    map[[2]uint32]dieselrhi.Handle
	surfaces        dieselrhi.Slots[vk.Surface]
	swapchains      dieselrhi.Slots[swapchain]
	fences          dieselrhi.Slots[vk.Fence]
	semaphores      dieselrhi.Slots[vk.Semaphore]
	commandPools    dieselrhi.Slots[vk.CommandPool]
	commandBuffers  dieselrhi.Slots[commandBuffer]
	memories        dieselrhi.Slots[memory]
	buffers         dieselrhi.Slots[vk.Buffer]
	images          dieselrhi.Slots[vk.Image]
	imageViews      dieselrhi.Slots[vk.ImageView]
	shaderModules   dieselrhi.Slots[vk.ShaderModule]
	setLayouts      dieselrhi.Slots[vk.DescriptorSetLayout]
	pipelineLayouts dieselrhi.Slots[vk.PipelineLayout]
	pipelines       dieselrhi.Slots[vk.Pipeline]
	descriptorPools dieselrhi.Slots[vk.DescriptorPool]
	descriptorSets  dieselrhi.Slots[vk.DescriptorSet]
	setOwners       map[dieselrhi.Handle][]dieselrhi.Handle
	renderPasses    dieselrhi.Slots[vk.RenderPass]
	framebuffers    dieselrhi.Slots[vk.Framebuffer]
}

var _ dieselrhi.Driver = (*Driver)(nil)

func New() *Driver {
	return &Driver{
		queueHandles: make(map[[2]uint32]dieselrhi.Handle),
		setOwners:    make(map[dieselrhi.Handle][]dieselrhi.Handle),
	}
}

func put[T any](d *Driver, s *dieselrhi.Slots[T], v T) dieselrhi.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.Insert(v)
}

func get[T any](d *Driver, s *dieselrhi.Slots[T], h dieselrhi.Handle) T {
	d.mu.RLock()
	v, ok := s.Get(h)
	d.mu.RUnlock()
	if !ok && h != dieselrhi.NullHandle {
		dieselrhi.Logger().Warn("vulkan: stale handle", "handle", uint64(h))
	}
	return v
}

func getAll[T any](d *Driver, s *dieselrhi.Slots[T], hs []dieselrhi.Handle) []T {
	out := make([]T, len(hs))
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i, h := range hs {
		out[i], _ = s.Get(h)
	}
	return out
}

func take[T any](d *Driver, s *dieselrhi.Slots[T], h dieselrhi.Handle) (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.Remove(h)
}

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != '\x00' {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}

func bool32(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
