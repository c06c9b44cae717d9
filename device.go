package dieselrhi

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// DeviceOptions tune device selection and the sizes of the per-device managers.
type DeviceOptions struct {
	PreferredVendor    uint32
	FenceRetryBudget   int
	DescriptorPoolSets uint32
	WantedExtensions   []string
	RequiredExtensions []string
	Layers             []string
}

// LogicalDevice is the one logical device of a process together with its queues and every manager
// that allocates from it. Queues for different roles alias when they share a family.
type LogicalDevice struct {
	driver Driver
	opts   DeviceOptions

	gpu     int
	info    PhysicalDeviceInfo
	created bool

	gfxQueue      *Queue
	computeQueue  *Queue
	transferQueue *Queue
	presentQueue  *Queue

	formats         *PixelFormats
	extensions      []string
	memory          *MemoryManager
	fences          *FenceManager
	semaphores      *SemaphoreManager
	descriptorPools *DescriptorPoolManager
	layouts         *LayoutCache
	pipelines       *PipelineStateCache
	shaders         *ShaderModuleCache
	immediate       *CommandListContext
}

func NewLogicalDevice(driver Driver, opts DeviceOptions) *LogicalDevice {
	return &LogicalDevice{driver: driver, opts: opts, gpu: -1}
}

// QueryGPU describes one physical device and reports whether it is discrete. Nothing is created.
func (d *LogicalDevice) QueryGPU(index int) bool {
	info := d.driver.PhysicalDevice(index)
	Logger().Info("physical device", "index", index, "name", info.Name,
		"vendor", info.VendorID, "device", info.DeviceID, "type", deviceTypeString(info.Type),
		"api", apiVersionString(info.APIVersion), "queueFamilies", len(info.QueueFamilies))
	return info.IsDiscrete()
}

// SelectDevice picks from candidates: discrete devices first, then integrated, then the rest. The
// preferred vendor moves to the front of its class. No candidates is fatal.
func (d *LogicalDevice) SelectDevice(candidates []int) (int, error) {
	ranked := d.RankDevices(candidates)
	if len(ranked) == 0 {
		return -1, Fatal("select device", errors.WithStack(ErrNoPhysicalDevice))
	}
	return ranked[0], nil
}

// RankDevices orders candidates the way SelectDevice chooses among them.
func (d *LogicalDevice) RankDevices(candidates []int) []int {
	var discrete, integrated, other []int
	for _, idx := range candidates {
		switch {
		case d.QueryGPU(idx):
			discrete = append(discrete, idx)
		case d.driver.PhysicalDevice(idx).IsIntegrated():
			integrated = append(integrated, idx)
		default:
			other = append(other, idx)
		}
	}
	if v := d.opts.PreferredVendor; v != 0 {
		d.vendorFirst(discrete, v)
		d.vendorFirst(integrated, v)
		d.vendorFirst(other, v)
	}
	ranked := append(discrete, integrated...)
	return append(ranked, other...)
}

func (d *LogicalDevice) vendorFirst(list []int, vendor uint32) {
	for i, idx := range list {
		if d.driver.PhysicalDevice(idx).VendorID == vendor {
			copy(list[1:i+1], list[:i])
			list[0] = idx
			return
		}
	}
}

// InitGPU creates the logical device on physical device index, with one queue per distinct family
// among the graphics, compute and transfer roles, and sets up every per-device manager.
func (d *LogicalDevice) InitGPU(index int) error {
	info := d.driver.PhysicalDevice(index)
	for i, f := range info.QueueFamilies {
		Logger().Info("queue family", "index", i, "flags", queueFlagsString(f.Flags), "count", f.Count)
	}

	gfx, ok := findFamily(info.QueueFamilies, vk.QueueGraphicsBit, 0)
	if !ok {
		return Fatal("device creation", errors.Wrap(ErrDeviceCreation, "no graphics queue family"))
	}
	compute, ok := findFamily(info.QueueFamilies, vk.QueueComputeBit, vk.QueueGraphicsBit)
	if !ok {
		compute, ok = findFamily(info.QueueFamilies, vk.QueueComputeBit, 0)
	}
	if !ok {
		compute = gfx
	}
	transfer, ok := findFamily(info.QueueFamilies, vk.QueueTransferBit, vk.QueueGraphicsBit|vk.QueueComputeBit)
	if !ok {
		transfer = gfx
	}

	exts := NewExtensionSet("device extension", d.opts.WantedExtensions, d.opts.RequiredExtensions, info.Extensions)
	if err := exts.Check(); err != nil {
		return Fatal("device creation", err)
	}
	d.extensions = exts.GetExtensions()

	families := []uint32{gfx}
	for _, f := range []uint32{compute, transfer} {
		if !containsFamily(families, f) {
			families = append(families, f)
		}
	}
	requests := make([]QueueRequest, len(families))
	for i, f := range families {
		requests[i] = QueueRequest{FamilyIndex: f, Priorities: []float32{1.0}}
	}

	err := d.driver.CreateDevice(DeviceCreateInfo{
		PhysicalDevice: index,
		Queues:         requests,
		Extensions:     d.extensions,
		Layers:         d.opts.Layers,
	})
	if err != nil {
		return Fatal("device creation", stageError(ErrDeviceCreation, err, "create device on "+info.Name))
	}
	d.gpu = index
	d.info = info
	d.created = true

	queues := make(map[uint32]*Queue, len(families))
	for _, f := range families {
		queues[f] = NewQueue(d.driver, f, 0, info.QueueFamilies[f].Flags)
	}
	d.gfxQueue = queues[gfx]
	d.computeQueue = queues[compute]
	d.transferQueue = queues[transfer]
	Logger().Info("logical device created", "gpu", info.Name, "graphics", gfx, "compute", compute,
		"transfer", transfer, "extensions", d.extensions)

	d.memory = NewMemoryManager(d.driver, info.Memory, info.Limits)
	d.fences = NewFenceManager(d.driver, d.opts.FenceRetryBudget)
	d.semaphores = NewSemaphoreManager(d.driver)
	d.descriptorPools = NewDescriptorPoolManager(d.driver, d.opts.DescriptorPoolSets)
	d.layouts = NewLayoutCache(d.driver)
	d.pipelines = NewPipelineStateCache(d.driver)
	d.shaders = NewShaderModuleCache(d.driver)

	if err := d.SetupFormats(); err != nil {
		return err
	}
	d.immediate, err = NewCommandListContext(d.driver, d.fences, d.gfxQueue, nil)
	return err
}

// findFamily returns the first family with every bit of want and none of avoid.
func findFamily(families []QueueFamily, want, avoid vk.QueueFlagBits) (uint32, bool) {
	for i, f := range families {
		if f.Count == 0 {
			continue
		}
		if f.Flags&vk.QueueFlags(want) == vk.QueueFlags(want) && f.Flags&vk.QueueFlags(avoid) == 0 {
			return uint32(i), true
		}
	}
	return 0, false
}

func containsFamily(list []uint32, f uint32) bool {
	for _, x := range list {
		if x == f {
			return true
		}
	}
	return false
}

// SetupPresentQueue picks the queue presenting to surface: the compute queue when it is a separate
// family that can present, the graphics queue otherwise. It is decided once.
func (d *LogicalDevice) SetupPresentQueue(surface Handle) error {
	if d.presentQueue != nil {
		return nil
	}
	supports := func(q *Queue) bool {
		ok := d.driver.SurfaceSupport(d.gpu, q.FamilyIndex(), surface)
		if ok {
			Logger().Info("queue family supports present", "family", q.FamilyIndex())
		}
		return ok
	}
	gfx := supports(d.gfxQueue)
	if d.computeQueue.FamilyIndex() != d.gfxQueue.FamilyIndex() && supports(d.computeQueue) {
		d.presentQueue = d.computeQueue
		return nil
	}
	if !gfx {
		return Fatal("present queue", errors.WithStack(ErrNoPresentQueue))
	}
	d.presentQueue = d.gfxQueue
	return nil
}

// SetupFormats marks every pixel format the device supports in any tiling or as a buffer.
func (d *LogicalDevice) SetupFormats() error {
	d.formats = newPixelFormats()
	for i := PixelFormat(1); i < pixelFormatMax; i++ {
		info := &d.formats.infos[i]
		info.Supported = d.driver.FormatProperties(d.gpu, info.Format).Any()
	}
	n := d.formats.SupportedCount()
	if n == 0 {
		return Fatal("setup formats", errors.WithStack(ErrNoFormats))
	}
	Logger().Debug("pixel formats", "supported", n, "total", int(pixelFormatMax)-1)
	return nil
}

func (d *LogicalDevice) Driver() Driver                          { return d.driver }
func (d *LogicalDevice) GPU() int                                { return d.gpu }
func (d *LogicalDevice) Info() PhysicalDeviceInfo                { return d.info }
func (d *LogicalDevice) Limits() DeviceLimits                    { return d.info.Limits }
func (d *LogicalDevice) Extensions() []string                    { return d.extensions }
func (d *LogicalDevice) GraphicsQueue() *Queue                   { return d.gfxQueue }
func (d *LogicalDevice) ComputeQueue() *Queue                    { return d.computeQueue }
func (d *LogicalDevice) TransferQueue() *Queue                   { return d.transferQueue }
func (d *LogicalDevice) PresentQueue() *Queue                    { return d.presentQueue }
func (d *LogicalDevice) Formats() *PixelFormats                  { return d.formats }
func (d *LogicalDevice) MemoryManager() *MemoryManager           { return d.memory }
func (d *LogicalDevice) FenceManager() *FenceManager             { return d.fences }
func (d *LogicalDevice) SemaphoreManager() *SemaphoreManager     { return d.semaphores }
func (d *LogicalDevice) DescriptorPools() *DescriptorPoolManager { return d.descriptorPools }
func (d *LogicalDevice) LayoutCache() *LayoutCache               { return d.layouts }
func (d *LogicalDevice) PipelineCache() *PipelineStateCache      { return d.pipelines }
func (d *LogicalDevice) ShaderModules() *ShaderModuleCache       { return d.shaders }
func (d *LogicalDevice) ImmediateContext() *CommandListContext   { return d.immediate }

// CreateShader loads the given stages through the module cache and links them.
func (d *LogicalDevice) CreateShader(name string, stages map[vk.ShaderStageFlagBits]string) (*Shader, error) {
	order := []vk.ShaderStageFlagBits{
		vk.ShaderStageVertexBit, vk.ShaderStageTessellationControlBit, vk.ShaderStageTessellationEvaluationBit,
		vk.ShaderStageGeometryBit, vk.ShaderStageFragmentBit, vk.ShaderStageComputeBit,
	}
	var modules []*ShaderModule
	for _, stage := range order {
		path, ok := stages[stage]
		if !ok {
			continue
		}
		m, err := d.shaders.Get(path, stage)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return NewShader(d.layouts, d.info.Limits, name, modules...)
}

// CreateBuffer creates a buffer filled with data, uploading through the immediate context when
// memFlags is not host visible.
func (d *LogicalDevice) CreateBuffer(usage vk.BufferUsageFlags, memFlags vk.MemoryPropertyFlags, size uint64, data []byte) (*Buffer, error) {
	return CreateBuffer(d.driver, d.memory, d.immediate.CommandBufferManager(), usage, memFlags, size, data)
}

// WaitUntilIdle blocks until the device has finished all submitted work.
func (d *LogicalDevice) WaitUntilIdle() {
	if !d.created {
		return
	}
	if ret := d.driver.DeviceWaitIdle(); isError(ret) {
		Logger().Warn("device wait idle failed", "err", NewOpError("vkDeviceWaitIdle", ret))
	}
}

// PrepareForDestroy waits for the GPU so that Destroy never releases objects still in use.
func (d *LogicalDevice) PrepareForDestroy() {
	d.WaitUntilIdle()
}

// Destroy releases managers in reverse order of creation, then the device itself.
func (d *LogicalDevice) Destroy() {
	if !d.created {
		return
	}
	if d.immediate != nil {
		d.immediate.Destroy()
		d.immediate = nil
	}
	d.pipelines.Destroy()
	d.shaders.Destroy()
	d.descriptorPools.Destroy()
	d.layouts.Destroy()
	d.semaphores.Destroy()
	d.fences.Destroy()
	d.memory.Destroy()
	d.driver.DestroyDevice()
	d.created = false
	d.gfxQueue, d.computeQueue, d.transferQueue, d.presentQueue = nil, nil, nil, nil
}

func deviceTypeString(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	}
	return "other"
}

func apiVersionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>22, (v>>12)&0x3ff, v&0xfff)
}

func queueFlagsString(f vk.QueueFlags) string {
	var parts []string
	if f&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
		parts = append(parts, "graphics")
	}
	if f&vk.QueueFlags(vk.QueueComputeBit) != 0 {
		parts = append(parts, "compute")
	}
	if f&vk.QueueFlags(vk.QueueTransferBit) != 0 {
		parts = append(parts, "transfer")
	}
	if f&vk.QueueFlags(vk.QueueSparseBindingBit) != 0 {
		parts = append(parts, "sparse")
	}
	return strings.Join(parts, "|")
}
