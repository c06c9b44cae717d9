package dieselrhi

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

var errFake = errors.New("fake driver failure")

// fakeDriver is an in-memory Driver. Every object gets a unique handle and is tracked by kind until
// destroyed. Methods returning a vk.Result pop scripted results and otherwise succeed. Creation
// calls fail when their method name is in fail.
type fakeDriver struct {
	next  Handle
	live  map[string]map[Handle]bool
	calls map[string]int

	fail    map[string]error
	results map[string][]vk.Result
	sticky  map[string]vk.Result

	gpus        []PhysicalDeviceInfo
	unsupported map[vk.Format]bool

	noPresent      map[uint32]bool
	caps           SurfaceCapabilities
	surfaceFormats []SurfaceFormat
	presentModes   []vk.PresentMode
	imageCount     int
	acquired       uint32

	queues         map[[2]uint32]Handle
	swapchainImgs  map[Handle][]Handle
	memSizes       map[Handle]uint64
	memData        map[Handle][]byte
	requirements   MemoryRequirements
	poolCapacity   map[Handle]uint32
	poolUsed       map[Handle]uint32
	poolSizes      map[Handle][]DescriptorPoolSize
	cmdBufferState map[Handle]string

	instanceInfo   InstanceCreateInfo
	deviceInfo     DeviceCreateInfo
	submits        []SubmitInfo
	presents       []PresentInfo
	swapchainInfos []SwapchainCreateInfo
	pipelineInfos  []GraphicsPipelineCreateInfo
	setLayouts     [][]DescriptorSetLayoutBinding
	writes         []DescriptorWrite
	flushes        [][2]uint64
	copies         []BufferCopy
	draws          int
	viewports      []Viewport
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		live:           make(map[string]map[Handle]bool),
		calls:          make(map[string]int),
		fail:           make(map[string]error),
		results:        make(map[string][]vk.Result),
		sticky:         make(map[string]vk.Result),
		gpus:           []PhysicalDeviceInfo{testGPU("fake discrete", vk.PhysicalDeviceTypeDiscreteGpu, 0x10de)},
		unsupported:    make(map[vk.Format]bool),
		noPresent:      make(map[uint32]bool),
		caps:           testCaps(),
		surfaceFormats: []SurfaceFormat{{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}},
		presentModes:   []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox},
		imageCount:     3,
		queues:         make(map[[2]uint32]Handle),
		swapchainImgs:  make(map[Handle][]Handle),
		memSizes:       make(map[Handle]uint64),
		memData:        make(map[Handle][]byte),
		requirements:   MemoryRequirements{Alignment: 256, TypeBits: ^uint32(0)},
		poolCapacity:   make(map[Handle]uint32),
		poolUsed:       make(map[Handle]uint32),
		poolSizes:      make(map[Handle][]DescriptorPoolSize),
		cmdBufferState: make(map[Handle]string),
	}
}

func testGPU(name string, kind vk.PhysicalDeviceType, vendor uint32) PhysicalDeviceInfo {
	return PhysicalDeviceInfo{
		Name:     name,
		VendorID: vendor,
		Type:     kind,
		Limits:   testLimits(),
		Memory: MemoryProperties{
			Types: []MemoryType{
				{Flags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), HeapIndex: 0},
				{Flags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit), HeapIndex: 1},
				{Flags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit), HeapIndex: 1},
			},
			Heaps: []MemoryHeap{
				{Size: 1 << 30, Flags: vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit)},
				{Size: 256 << 20},
			},
		},
		QueueFamilies: []QueueFamily{
			{Flags: vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit), Count: 1},
		},
		Extensions: []string{"VK_KHR_swapchain"},
	}
}

func testLimits() DeviceLimits {
	return DeviceLimits{
		MaxBoundDescriptorSets:                4,
		MaxDescriptorSetSamplers:              16,
		MaxDescriptorSetUniformBuffers:        8,
		MaxDescriptorSetUniformBuffersDynamic: 2,
		MaxDescriptorSetStorageBuffers:        8,
		MaxDescriptorSetStorageBuffersDynamic: 2,
		MaxDescriptorSetSampledImages:         16,
		MaxDescriptorSetStorageImages:         4,
		MaxDescriptorSetInputAttachments:      4,
		MaxMemoryAllocationCount:              4096,
		NonCoherentAtomSize:                   64,
		BufferImageGranularity:                1024,
		MinUniformBufferOffsetAlignment:       256,
	}
}

func testCaps() SurfaceCapabilities {
	return SurfaceCapabilities{
		MinImageCount:           2,
		MaxImageCount:           8,
		CurrentExtent:           Extent2D{Width: 640, Height: 480},
		MinImageExtent:          Extent2D{Width: 1, Height: 1},
		MaxImageExtent:          Extent2D{Width: 4096, Height: 4096},
		SupportedTransforms:     vk.SurfaceTransformFlags(vk.SurfaceTransformIdentityBit),
		CurrentTransform:        vk.SurfaceTransformIdentityBit,
		SupportedCompositeAlpha: vk.CompositeAlphaFlags(vk.CompositeAlphaOpaqueBit),
	}
}

func (f *fakeDriver) create(kind string) Handle {
	f.next++
	if f.live[kind] == nil {
		f.live[kind] = make(map[Handle]bool)
	}
	f.live[kind][f.next] = true
	return f.next
}

func (f *fakeDriver) destroy(kind string, h Handle) {
	delete(f.live[kind], h)
}

func (f *fakeDriver) liveCount(kind string) int {
	return len(f.live[kind])
}

func (f *fakeDriver) call(name string) error {
	f.calls[name]++
	return f.fail[name]
}

// script queues results for method, returned in order before falling back to the sticky result or
// Success.
func (f *fakeDriver) script(method string, results ...vk.Result) {
	f.results[method] = append(f.results[method], results...)
}

func (f *fakeDriver) result(method string) vk.Result {
	f.calls[method]++
	q := f.results[method]
	if len(q) == 0 {
		if ret, ok := f.sticky[method]; ok {
			return ret
		}
		return vk.Success
	}
	f.results[method] = q[1:]
	return q[0]
}

func (f *fakeDriver) AvailableInstanceExtensions() ([]string, error) {
	return []string{"VK_KHR_surface", "VK_EXT_debug_report"}, f.call("AvailableInstanceExtensions")
}

func (f *fakeDriver) AvailableLayers() ([]string, error) {
	return []string{"VK_LAYER_KHRONOS_validation"}, f.call("AvailableLayers")
}

func (f *fakeDriver) CreateInstance(info InstanceCreateInfo) error {
	if err := f.call("CreateInstance"); err != nil {
		return err
	}
	f.instanceInfo = info
	f.create("instance")
	return nil
}

func (f *fakeDriver) DestroyInstance() {
	f.calls["DestroyInstance"]++
	f.live["instance"] = nil
}

func (f *fakeDriver) EnumeratePhysicalDevices() (int, error) {
	return len(f.gpus), f.call("EnumeratePhysicalDevices")
}

func (f *fakeDriver) PhysicalDevice(index int) PhysicalDeviceInfo {
	info := f.gpus[index]
	info.Index = index
	return info
}

func (f *fakeDriver) FormatProperties(gpu int, format vk.Format) FormatProperties {
	if f.unsupported[format] {
		return FormatProperties{}
	}
	return FormatProperties{Optimal: vk.FormatFeatureFlags(vk.FormatFeatureSampledImageBit)}
}

func (f *fakeDriver) CreateDevice(info DeviceCreateInfo) error {
	if err := f.call("CreateDevice"); err != nil {
		return err
	}
	f.deviceInfo = info
	f.create("device")
	return nil
}

func (f *fakeDriver) DestroyDevice() {
	f.calls["DestroyDevice"]++
	f.live["device"] = nil
	f.queues = make(map[[2]uint32]Handle)
}

func (f *fakeDriver) DeviceWaitIdle() vk.Result { return f.result("DeviceWaitIdle") }

func (f *fakeDriver) GetQueue(family, index uint32) Handle {
	key := [2]uint32{family, index}
	if h, ok := f.queues[key]; ok {
		return h
	}
	h := f.create("queue")
	f.queues[key] = h
	return h
}

func (f *fakeDriver) QueueSubmit(queue Handle, submits []SubmitInfo, fence Handle) vk.Result {
	ret := f.result("QueueSubmit")
	if ret == vk.Success {
		f.submits = append(f.submits, submits...)
		for _, s := range submits {
			for _, c := range s.CommandBuffers {
				f.cmdBufferState[c] = "submitted"
			}
		}
	}
	return ret
}

func (f *fakeDriver) QueueWaitIdle(queue Handle) vk.Result { return f.result("QueueWaitIdle") }

func (f *fakeDriver) CreateSurface(w Window) (Handle, error) {
	if err := f.call("CreateSurface"); err != nil {
		return NullHandle, err
	}
	if _, err := w.CreateSurface(nil); err != nil {
		return NullHandle, err
	}
	return f.create("surface"), nil
}

func (f *fakeDriver) DestroySurface(surface Handle) { f.destroy("surface", surface) }

func (f *fakeDriver) SurfaceSupport(gpu int, family uint32, surface Handle) bool {
	return !f.noPresent[family]
}

func (f *fakeDriver) SurfaceCapabilities(gpu int, surface Handle) (SurfaceCapabilities, error) {
	return f.caps, f.call("SurfaceCapabilities")
}

func (f *fakeDriver) SurfaceFormats(gpu int, surface Handle) ([]SurfaceFormat, error) {
	return f.surfaceFormats, f.call("SurfaceFormats")
}

func (f *fakeDriver) SurfacePresentModes(gpu int, surface Handle) ([]vk.PresentMode, error) {
	return f.presentModes, f.call("SurfacePresentModes")
}

func (f *fakeDriver) CreateSwapchain(info SwapchainCreateInfo) (Handle, error) {
	if err := f.call("CreateSwapchain"); err != nil {
		return NullHandle, err
	}
	f.swapchainInfos = append(f.swapchainInfos, info)
	h := f.create("swapchain")
	images := make([]Handle, f.imageCount)
	for i := range images {
		images[i] = f.create("swapchainImage")
	}
	f.swapchainImgs[h] = images
	f.acquired = 0
	return h, nil
}

func (f *fakeDriver) DestroySwapchain(swapchain Handle) {
	for _, img := range f.swapchainImgs[swapchain] {
		f.destroy("swapchainImage", img)
	}
	delete(f.swapchainImgs, swapchain)
	f.destroy("swapchain", swapchain)
}

func (f *fakeDriver) SwapchainImages(swapchain Handle) ([]Handle, error) {
	return f.swapchainImgs[swapchain], f.call("SwapchainImages")
}

func (f *fakeDriver) AcquireNextImage(swapchain Handle, timeout uint64, semaphore, fence Handle) (uint32, vk.Result) {
	ret := f.result("AcquireNextImage")
	if ret != vk.Success && ret != vk.Suboptimal {
		return 0, ret
	}
	idx := f.acquired % uint32(len(f.swapchainImgs[swapchain]))
	f.acquired++
	return idx, ret
}

func (f *fakeDriver) QueuePresent(queue Handle, info PresentInfo) vk.Result {
	ret := f.result("QueuePresent")
	f.presents = append(f.presents, info)
	return ret
}

func (f *fakeDriver) CreateFence(signaled bool) (Handle, error) {
	if err := f.call("CreateFence"); err != nil {
		return NullHandle, err
	}
	return f.create("fence"), nil
}

func (f *fakeDriver) DestroyFence(fence Handle) { f.destroy("fence", fence) }

func (f *fakeDriver) WaitForFence(fence Handle, timeout uint64) vk.Result {
	return f.result("WaitForFence")
}

func (f *fakeDriver) GetFenceStatus(fence Handle) vk.Result { return f.result("GetFenceStatus") }

func (f *fakeDriver) ResetFence(fence Handle) vk.Result { return f.result("ResetFence") }

func (f *fakeDriver) CreateSemaphore() (Handle, error) {
	if err := f.call("CreateSemaphore"); err != nil {
		return NullHandle, err
	}
	return f.create("semaphore"), nil
}

func (f *fakeDriver) DestroySemaphore(semaphore Handle) { f.destroy("semaphore", semaphore) }

func (f *fakeDriver) CreateCommandPool(family uint32) (Handle, error) {
	if err := f.call("CreateCommandPool"); err != nil {
		return NullHandle, err
	}
	return f.create("commandPool"), nil
}

func (f *fakeDriver) DestroyCommandPool(pool Handle) { f.destroy("commandPool", pool) }

func (f *fakeDriver) AllocateCommandBuffer(pool Handle) (Handle, error) {
	if err := f.call("AllocateCommandBuffer"); err != nil {
		return NullHandle, err
	}
	h := f.create("commandBuffer")
	f.cmdBufferState[h] = "initial"
	return h, nil
}

func (f *fakeDriver) FreeCommandBuffer(pool, cmd Handle) {
	f.destroy("commandBuffer", cmd)
	delete(f.cmdBufferState, cmd)
}

func (f *fakeDriver) BeginCommandBuffer(cmd Handle, oneTimeSubmit bool) vk.Result {
	ret := f.result("BeginCommandBuffer")
	if ret == vk.Success {
		f.cmdBufferState[cmd] = "recording"
	}
	return ret
}

func (f *fakeDriver) EndCommandBuffer(cmd Handle) vk.Result {
	ret := f.result("EndCommandBuffer")
	if ret == vk.Success {
		f.cmdBufferState[cmd] = "executable"
	}
	return ret
}

func (f *fakeDriver) CmdBeginRenderPass(cmd Handle, info RenderPassBeginInfo) {
	f.calls["CmdBeginRenderPass"]++
}

func (f *fakeDriver) CmdEndRenderPass(cmd Handle) { f.calls["CmdEndRenderPass"]++ }

func (f *fakeDriver) CmdBindPipeline(cmd, pipeline Handle) { f.calls["CmdBindPipeline"]++ }

func (f *fakeDriver) CmdBindDescriptorSets(cmd, layout Handle, firstSet uint32, sets []Handle, dynamicOffsets []uint32) {
	f.calls["CmdBindDescriptorSets"]++
}

func (f *fakeDriver) CmdBindVertexBuffers(cmd Handle, first uint32, buffers []Handle, offsets []uint64) {
	f.calls["CmdBindVertexBuffers"]++
}

func (f *fakeDriver) CmdBindIndexBuffer(cmd, buffer Handle, offset uint64, indexType vk.IndexType) {
	f.calls["CmdBindIndexBuffer"]++
}

func (f *fakeDriver) CmdDraw(cmd Handle, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	f.draws++
}

func (f *fakeDriver) CmdDrawIndexed(cmd Handle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	f.draws++
}

func (f *fakeDriver) CmdSetViewport(cmd Handle, viewport Viewport) {
	f.viewports = append(f.viewports, viewport)
}

func (f *fakeDriver) CmdSetScissor(cmd Handle, scissor Rect2D) { f.calls["CmdSetScissor"]++ }

func (f *fakeDriver) CmdSetStencilReference(cmd Handle, reference uint32) {
	f.calls["CmdSetStencilReference"]++
}

func (f *fakeDriver) CmdCopyBuffer(cmd, src, dst Handle, regions []BufferCopy) {
	f.copies = append(f.copies, regions...)
}

func (f *fakeDriver) AllocateMemory(size uint64, typeIndex uint32) (Handle, vk.Result) {
	if ret := f.result("AllocateMemory"); ret != vk.Success {
		return NullHandle, ret
	}
	h := f.create("memory")
	f.memSizes[h] = size
	return h, vk.Success
}

func (f *fakeDriver) FreeMemory(memory Handle) {
	f.destroy("memory", memory)
	delete(f.memSizes, memory)
	delete(f.memData, memory)
}

func (f *fakeDriver) MapMemory(memory Handle, offset, size uint64) ([]byte, vk.Result) {
	if ret := f.result("MapMemory"); ret != vk.Success {
		return nil, ret
	}
	data, ok := f.memData[memory]
	if !ok {
		data = make([]byte, f.memSizes[memory])
		f.memData[memory] = data
	}
	if size == WholeSize {
		return data[offset:], vk.Success
	}
	return data[offset : offset+size], vk.Success
}

func (f *fakeDriver) UnmapMemory(memory Handle) { f.calls["UnmapMemory"]++ }

func (f *fakeDriver) FlushMemory(memory Handle, offset, size uint64) vk.Result {
	f.flushes = append(f.flushes, [2]uint64{offset, size})
	return f.result("FlushMemory")
}

func (f *fakeDriver) InvalidateMemory(memory Handle, offset, size uint64) vk.Result {
	f.flushes = append(f.flushes, [2]uint64{offset, size})
	return f.result("InvalidateMemory")
}

func (f *fakeDriver) CreateBuffer(info BufferCreateInfo) (Handle, MemoryRequirements, error) {
	if err := f.call("CreateBuffer"); err != nil {
		return NullHandle, MemoryRequirements{}, err
	}
	req := f.requirements
	req.Size = alignUp(info.Size, req.Alignment)
	return f.create("buffer"), req, nil
}

func (f *fakeDriver) DestroyBuffer(buffer Handle) { f.destroy("buffer", buffer) }

func (f *fakeDriver) BindBufferMemory(buffer, memory Handle, offset uint64) vk.Result {
	return f.result("BindBufferMemory")
}

func (f *fakeDriver) CreateImage(info ImageCreateInfo) (Handle, MemoryRequirements, error) {
	if err := f.call("CreateImage"); err != nil {
		return NullHandle, MemoryRequirements{}, err
	}
	req := f.requirements
	req.Size = alignUp(uint64(info.Extent.Width)*uint64(info.Extent.Height)*4, req.Alignment)
	return f.create("image"), req, nil
}

func (f *fakeDriver) DestroyImage(image Handle) { f.destroy("image", image) }

func (f *fakeDriver) BindImageMemory(image, memory Handle, offset uint64) vk.Result {
	return f.result("BindImageMemory")
}

func (f *fakeDriver) CreateImageView(info ImageViewCreateInfo) (Handle, error) {
	if err := f.call("CreateImageView"); err != nil {
		return NullHandle, err
	}
	return f.create("imageView"), nil
}

func (f *fakeDriver) DestroyImageView(view Handle) { f.destroy("imageView", view) }

func (f *fakeDriver) CreateShaderModule(code []uint32) (Handle, error) {
	if err := f.call("CreateShaderModule"); err != nil {
		return NullHandle, err
	}
	return f.create("shaderModule"), nil
}

func (f *fakeDriver) DestroyShaderModule(module Handle) { f.destroy("shaderModule", module) }

func (f *fakeDriver) CreateDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) (Handle, error) {
	if err := f.call("CreateDescriptorSetLayout"); err != nil {
		return NullHandle, err
	}
	f.setLayouts = append(f.setLayouts, bindings)
	return f.create("setLayout"), nil
}

func (f *fakeDriver) DestroyDescriptorSetLayout(layout Handle) { f.destroy("setLayout", layout) }

func (f *fakeDriver) CreatePipelineLayout(setLayouts []Handle) (Handle, error) {
	if err := f.call("CreatePipelineLayout"); err != nil {
		return NullHandle, err
	}
	return f.create("pipelineLayout"), nil
}

func (f *fakeDriver) DestroyPipelineLayout(layout Handle) { f.destroy("pipelineLayout", layout) }

func (f *fakeDriver) CreateGraphicsPipeline(info GraphicsPipelineCreateInfo) (Handle, error) {
	if err := f.call("CreateGraphicsPipeline"); err != nil {
		return NullHandle, err
	}
	f.pipelineInfos = append(f.pipelineInfos, info)
	return f.create("pipeline"), nil
}

func (f *fakeDriver) DestroyPipeline(pipeline Handle) { f.destroy("pipeline", pipeline) }

func (f *fakeDriver) CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (Handle, error) {
	if err := f.call("CreateDescriptorPool"); err != nil {
		return NullHandle, err
	}
	h := f.create("descriptorPool")
	f.poolCapacity[h] = maxSets
	f.poolSizes[h] = sizes
	return h, nil
}

func (f *fakeDriver) DestroyDescriptorPool(pool Handle) {
	f.destroy("descriptorPool", pool)
	delete(f.poolCapacity, pool)
	delete(f.poolUsed, pool)
}

func (f *fakeDriver) ResetDescriptorPool(pool Handle) vk.Result {
	ret := f.result("ResetDescriptorPool")
	if ret == vk.Success {
		f.poolUsed[pool] = 0
	}
	return ret
}

func (f *fakeDriver) AllocateDescriptorSets(pool Handle, layouts []Handle) ([]Handle, vk.Result) {
	if ret := f.result("AllocateDescriptorSets"); ret != vk.Success {
		return nil, ret
	}
	if f.poolUsed[pool]+uint32(len(layouts)) > f.poolCapacity[pool] {
		return nil, vk.ErrorOutOfPoolMemory
	}
	f.poolUsed[pool] += uint32(len(layouts))
	sets := make([]Handle, len(layouts))
	for i := range sets {
		sets[i] = f.create("descriptorSet")
	}
	return sets, vk.Success
}

func (f *fakeDriver) UpdateDescriptorSets(writes []DescriptorWrite) {
	f.writes = append(f.writes, writes...)
}

func (f *fakeDriver) CreateRenderPass(info RenderPassCreateInfo) (Handle, error) {
	if err := f.call("CreateRenderPass"); err != nil {
		return NullHandle, err
	}
	return f.create("renderPass"), nil
}

func (f *fakeDriver) DestroyRenderPass(pass Handle) { f.destroy("renderPass", pass) }

func (f *fakeDriver) CreateFramebuffer(info FramebufferCreateInfo) (Handle, error) {
	if err := f.call("CreateFramebuffer"); err != nil {
		return NullHandle, err
	}
	return f.create("framebuffer"), nil
}

func (f *fakeDriver) DestroyFramebuffer(framebuffer Handle) { f.destroy("framebuffer", framebuffer) }

var _ Driver = (*fakeDriver)(nil)

// fakeWindow is a host window of a fixed, adjustable size.
type fakeWindow struct {
	width, height int
}

func (w *fakeWindow) GetRequiredInstanceExtensions() []string { return []string{"VK_KHR_surface"} }
func (w *fakeWindow) CreateSurface(instance interface{}) (uintptr, error) {
	return 1, nil
}
func (w *fakeWindow) GetWidth() int    { return w.width }
func (w *fakeWindow) GetHeight() int   { return w.height }
func (w *fakeWindow) GetTitle() string { return "test" }
