package dieselrhi

import vk "github.com/vulkan-go/vulkan"

// Handle is an opaque reference to a driver object. Zero is the null handle.
type Handle uint64

const NullHandle Handle = 0

// Extent2D is a width/height pair in pixels.
type Extent2D struct {
	Width, Height uint32
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect2D struct {
	X, Y          int32
	Width, Height uint32
}

// ClearValue clears a color attachment, or a depth/stencil attachment when Depth is set.
type ClearValue struct {
	Color        [4]float32
	IsDepth      bool
	Depth        float32
	StencilValue uint32
}

type QueueFamily struct {
	Flags              vk.QueueFlags
	Count              uint32
	TimestampValidBits uint32
}

type MemoryType struct {
	Flags     vk.MemoryPropertyFlags
	HeapIndex uint32
}

type MemoryHeap struct {
	Size  uint64
	Flags vk.MemoryHeapFlags
}

type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

// DeviceLimits is the subset of physical device limits the core validates against.
type DeviceLimits struct {
	MaxBoundDescriptorSets                uint32
	MaxDescriptorSetSamplers              uint32
	MaxDescriptorSetUniformBuffers        uint32
	MaxDescriptorSetUniformBuffersDynamic uint32
	MaxDescriptorSetStorageBuffers        uint32
	MaxDescriptorSetStorageBuffersDynamic uint32
	MaxDescriptorSetSampledImages         uint32
	MaxDescriptorSetStorageImages         uint32
	MaxDescriptorSetInputAttachments      uint32
	MaxMemoryAllocationCount              uint32
	NonCoherentAtomSize                   uint64
	BufferImageGranularity                uint64
	MinUniformBufferOffsetAlignment       uint64
}

// PhysicalDeviceInfo is a read-only description of one candidate GPU.
type PhysicalDeviceInfo struct {
	Index         int
	Name          string
	VendorID      uint32
	DeviceID      uint32
	Type          vk.PhysicalDeviceType
	APIVersion    uint32
	DriverVersion uint32
	Limits        DeviceLimits
	Memory        MemoryProperties
	QueueFamilies []QueueFamily
	Extensions    []string
}

func (p PhysicalDeviceInfo) IsDiscrete() bool {
	return p.Type == vk.PhysicalDeviceTypeDiscreteGpu
}

func (p PhysicalDeviceInfo) IsIntegrated() bool {
	return p.Type == vk.PhysicalDeviceTypeIntegratedGpu
}

type InstanceCreateInfo struct {
	AppName    string
	EngineName string
	APIVersion uint32
	Extensions []string
	Layers     []string
	Debug      bool
}

type QueueRequest struct {
	FamilyIndex uint32
	Priorities  []float32
}

type DeviceCreateInfo struct {
	PhysicalDevice int
	Queues         []QueueRequest
	Extensions     []string
	Layers         []string
}

type FormatProperties struct {
	Linear  vk.FormatFeatureFlags
	Optimal vk.FormatFeatureFlags
	Buffer  vk.FormatFeatureFlags
}

func (f FormatProperties) Any() bool {
	return f.Linear != 0 || f.Optimal != 0 || f.Buffer != 0
}

type SurfaceFormat struct {
	Format     vk.Format
	ColorSpace vk.ColorSpace
}

type SurfaceCapabilities struct {
	MinImageCount           uint32
	MaxImageCount           uint32
	CurrentExtent           Extent2D
	MinImageExtent          Extent2D
	MaxImageExtent          Extent2D
	SupportedTransforms     vk.SurfaceTransformFlags
	CurrentTransform        vk.SurfaceTransformFlagBits
	SupportedCompositeAlpha vk.CompositeAlphaFlags
	SupportedUsage          vk.ImageUsageFlags
}

type SwapchainCreateInfo struct {
	Surface        Handle
	MinImageCount  uint32
	Format         vk.Format
	ColorSpace     vk.ColorSpace
	Extent         Extent2D
	Usage          vk.ImageUsageFlags
	PreTransform   vk.SurfaceTransformFlagBits
	CompositeAlpha vk.CompositeAlphaFlagBits
	PresentMode    vk.PresentMode
	QueueFamilies  []uint32
	OldSwapchain   Handle
}

type PresentInfo struct {
	WaitSemaphores []Handle
	Swapchain      Handle
	ImageIndex     uint32
}

type SubmitInfo struct {
	CommandBuffers   []Handle
	WaitSemaphores   []Handle
	WaitStages       []vk.PipelineStageFlags
	SignalSemaphores []Handle
}

type RenderPassBeginInfo struct {
	RenderPass  Handle
	Framebuffer Handle
	Area        Rect2D
	ClearValues []ClearValue
}

type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
	TypeBits  uint32
}

type BufferCreateInfo struct {
	Size  uint64
	Usage vk.BufferUsageFlags
}

type BufferCopy struct {
	SrcOffset, DstOffset, Size uint64
}

type ImageCreateInfo struct {
	Format      vk.Format
	Extent      Extent2D
	MipLevels   uint32
	ArrayLayers uint32
	Samples     vk.SampleCountFlagBits
	Tiling      vk.ImageTiling
	Usage       vk.ImageUsageFlags
}

type ImageViewCreateInfo struct {
	Image      Handle
	Format     vk.Format
	Aspect     vk.ImageAspectFlags
	MipLevels  uint32
	LayerCount uint32
}

type DescriptorSetLayoutBinding struct {
	Binding          uint32
	DescriptorType   vk.DescriptorType
	DescriptorCount  uint32
	StageFlags       vk.ShaderStageFlags
	ImmutableSampler Handle
}

type DescriptorPoolSize struct {
	Type  vk.DescriptorType
	Count uint32
}

type DescriptorBufferInfo struct {
	Buffer Handle
	Offset uint64
	Range  uint64
}

type DescriptorImageInfo struct {
	Sampler Handle
	View    Handle
	Layout  vk.ImageLayout
}

type DescriptorWrite struct {
	Set          Handle
	Binding      uint32
	ArrayElement uint32
	Type         vk.DescriptorType
	Buffers      []DescriptorBufferInfo
	Images       []DescriptorImageInfo
}

type ShaderStageInfo struct {
	Stage  vk.ShaderStageFlagBits
	Module Handle
	Entry  string
}

type VertexBindingDesc struct {
	Binding   uint32
	Stride    uint32
	InputRate vk.VertexInputRate
}

type VertexAttributeDesc struct {
	Location uint32
	Binding  uint32
	Format   vk.Format
	Offset   uint32
}

type GraphicsPipelineCreateInfo struct {
	Stages           []ShaderStageInfo
	VertexBindings   []VertexBindingDesc
	VertexAttributes []VertexAttributeDesc
	State            PipelineStateInfo
	DynamicStates    []vk.DynamicState
	Layout           Handle
	RenderPass       Handle
	Subpass          uint32
}

type AttachmentDesc struct {
	Format         vk.Format
	Samples        vk.SampleCountFlagBits
	LoadOp         vk.AttachmentLoadOp
	StoreOp        vk.AttachmentStoreOp
	StencilLoadOp  vk.AttachmentLoadOp
	StencilStoreOp vk.AttachmentStoreOp
	InitialLayout  vk.ImageLayout
	FinalLayout    vk.ImageLayout
}

type AttachmentRef struct {
	Attachment uint32
	Layout     vk.ImageLayout
}

type SubpassDependency struct {
	SrcSubpass    uint32
	DstSubpass    uint32
	SrcStageMask  vk.PipelineStageFlags
	DstStageMask  vk.PipelineStageFlags
	SrcAccessMask vk.AccessFlags
	DstAccessMask vk.AccessFlags
	Flags         vk.DependencyFlags
}

type RenderPassCreateInfo struct {
	Attachments      []AttachmentDesc
	ColorAttachments []AttachmentRef
	DepthAttachment  *AttachmentRef
	Dependencies     []SubpassDependency
}

type FramebufferCreateInfo struct {
	RenderPass  Handle
	Attachments []Handle
	Width       uint32
	Height      uint32
	Layers      uint32
}

// Driver is the seam between the core and the graphics API. Calls that block on the GPU or whose
// outcome the caller must branch on return a vk.Result; creation calls return an error.
type Driver interface {
	AvailableInstanceExtensions() ([]string, error)
	AvailableLayers() ([]string, error)
	CreateInstance(info InstanceCreateInfo) error
	DestroyInstance()
	EnumeratePhysicalDevices() (int, error)
	PhysicalDevice(index int) PhysicalDeviceInfo
	FormatProperties(gpu int, format vk.Format) FormatProperties

	CreateDevice(info DeviceCreateInfo) error
	DestroyDevice()
	DeviceWaitIdle() vk.Result
	GetQueue(family, index uint32) Handle
	QueueSubmit(queue Handle, submits []SubmitInfo, fence Handle) vk.Result
	QueueWaitIdle(queue Handle) vk.Result

	CreateSurface(w Window) (Handle, error)
	DestroySurface(surface Handle)
	SurfaceSupport(gpu int, family uint32, surface Handle) bool
	SurfaceCapabilities(gpu int, surface Handle) (SurfaceCapabilities, error)
	SurfaceFormats(gpu int, surface Handle) ([]SurfaceFormat, error)
	SurfacePresentModes(gpu int, surface Handle) ([]vk.PresentMode, error)
	CreateSwapchain(info SwapchainCreateInfo) (Handle, error)
	DestroySwapchain(swapchain Handle)
	SwapchainImages(swapchain Handle) ([]Handle, error)
	AcquireNextImage(swapchain Handle, timeout uint64, semaphore, fence Handle) (uint32, vk.Result)
	QueuePresent(queue Handle, info PresentInfo) vk.Result

	CreateFence(signaled bool) (Handle, error)
	DestroyFence(fence Handle)
	WaitForFence(fence Handle, timeout uint64) vk.Result
	GetFenceStatus(fence Handle) vk.Result
	ResetFence(fence Handle) vk.Result
	CreateSemaphore() (Handle, error)
	DestroySemaphore(semaphore Handle)

	CreateCommandPool(family uint32) (Handle, error)
	DestroyCommandPool(pool Handle)
	AllocateCommandBuffer(pool Handle) (Handle, error)
	FreeCommandBuffer(pool, cmd Handle)
	BeginCommandBuffer(cmd Handle, oneTimeSubmit bool) vk.Result
	EndCommandBuffer(cmd Handle) vk.Result
	CmdBeginRenderPass(cmd Handle, info RenderPassBeginInfo)
	CmdEndRenderPass(cmd Handle)
	CmdBindPipeline(cmd, pipeline Handle)
	CmdBindDescriptorSets(cmd, layout Handle, firstSet uint32, sets []Handle, dynamicOffsets []uint32)
	CmdBindVertexBuffers(cmd Handle, first uint32, buffers []Handle, offsets []uint64)
	CmdBindIndexBuffer(cmd, buffer Handle, offset uint64, indexType vk.IndexType)
	CmdDraw(cmd Handle, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cmd Handle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	CmdSetViewport(cmd Handle, viewport Viewport)
	CmdSetScissor(cmd Handle, scissor Rect2D)
	CmdSetStencilReference(cmd Handle, reference uint32)
	CmdCopyBuffer(cmd, src, dst Handle, regions []BufferCopy)

	AllocateMemory(size uint64, typeIndex uint32) (Handle, vk.Result)
	FreeMemory(memory Handle)
	MapMemory(memory Handle, offset, size uint64) ([]byte, vk.Result)
	UnmapMemory(memory Handle)
	FlushMemory(memory Handle, offset, size uint64) vk.Result
	InvalidateMemory(memory Handle, offset, size uint64) vk.Result
	CreateBuffer(info BufferCreateInfo) (Handle, MemoryRequirements, error)
	DestroyBuffer(buffer Handle)
	BindBufferMemory(buffer, memory Handle, offset uint64) vk.Result
	CreateImage(info ImageCreateInfo) (Handle, MemoryRequirements, error)
	DestroyImage(image Handle)
	BindImageMemory(image, memory Handle, offset uint64) vk.Result
	CreateImageView(info ImageViewCreateInfo) (Handle, error)
	DestroyImageView(view Handle)

	CreateShaderModule(code []uint32) (Handle, error)
	DestroyShaderModule(module Handle)
	CreateDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) (Handle, error)
	DestroyDescriptorSetLayout(layout Handle)
	CreatePipelineLayout(setLayouts []Handle) (Handle, error)
	DestroyPipelineLayout(layout Handle)
	CreateGraphicsPipeline(info GraphicsPipelineCreateInfo) (Handle, error)
	DestroyPipeline(pipeline Handle)
	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (Handle, error)
	DestroyDescriptorPool(pool Handle)
	ResetDescriptorPool(pool Handle) vk.Result
	AllocateDescriptorSets(pool Handle, layouts []Handle) ([]Handle, vk.Result)
	UpdateDescriptorSets(writes []DescriptorWrite)
	CreateRenderPass(info RenderPassCreateInfo) (Handle, error)
	DestroyRenderPass(pass Handle)
	CreateFramebuffer(info FramebufferCreateInfo) (Handle, error)
	DestroyFramebuffer(framebuffer Handle)
}
