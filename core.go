package dieselrhi

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

const (
	engineName = "dieselrhi"

	debugReportExtension = "VK_EXT_debug_report"

	// Command buffers idle for this many pool submits are freed at the end of a frame.
	cmdBufferMaxIdle = 16
)

// depthFallbacks are tried in order when the configured depth format is unsupported.
var depthFallbacks = []PixelFormat{PixelFormatDepthStencil, PixelFormatD24, PixelFormatShadowDepth}

// RHI brings up an instance, one logical device and a swapchain on a host window, and drives the
// frame loop on top of them. It is not safe for concurrent use.
type RHI struct {
	cfg    Config
	driver Driver
	window Window

	instance     bool
	layerNames   []string
	device       *LogicalDevice
	surface      Handle
	swapchain    *Swapchain
	renderPass   *RenderPass
	framebuffers *Framebuffers
	depthFormat  vk.Format

	// Per swapchain image: the semaphore present waits on, and the command buffer last submitted
	// for the image with its fence counter at submit time.
	renderComplete []Handle
	imageCmd       []*CommandBuffer
	imageCounter   []uint64

	clearColor    [4]float32
	frameCount    uint64
	droppedFrames uint64
	needsRecreate bool
}

// NewRHI validates cfg. Nothing is created until Init.
func NewRHI(cfg Config, driver Driver, window Window) (*RHI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if driver == nil || window == nil {
		return nil, errors.New("rhi needs a driver and a window")
	}
	return &RHI{
		cfg:        cfg,
		driver:     driver,
		window:     window,
		clearColor: [4]float32{0, 0, 0, 1},
	}, nil
}

// Init creates the instance, selects and initializes a GPU, then builds the surface, present
// queue, swapchain, render pass and framebuffers. Every failure is fatal.
func (r *RHI) Init() error {
	if err := r.createInstance(); err != nil {
		return err
	}

	n, err := r.driver.EnumeratePhysicalDevices()
	if err != nil {
		return Fatal("enumerate devices", err, r.Shutdown)
	}
	candidates := make([]int, n)
	for i := range candidates {
		candidates[i] = i
	}
	r.device = NewLogicalDevice(r.driver, DeviceOptions{
		PreferredVendor:    r.cfg.PreferredVendor,
		FenceRetryBudget:   r.cfg.FenceRetryBudget,
		DescriptorPoolSets: uint32(r.cfg.DescriptorPoolSets),
		WantedExtensions:   r.cfg.DeviceExtensions,
		RequiredExtensions: []string{"VK_KHR_swapchain"},
		Layers:             r.layerNames,
	})
	gpu, err := r.device.SelectDevice(candidates)
	if err != nil {
		return Fatal("select device", err, r.Shutdown)
	}
	if err := r.device.InitGPU(gpu); err != nil {
		return Fatal("init gpu", err, r.Shutdown)
	}

	r.surface, err = r.driver.CreateSurface(r.window)
	if err != nil {
		return Fatal("create surface", err, r.Shutdown)
	}
	if err := r.device.SetupPresentQueue(r.surface); err != nil {
		return Fatal("present queue", err, r.Shutdown)
	}
	if err := r.createSwapchain(NullHandle); err != nil {
		return Fatal("swapchain", err, r.Shutdown)
	}
	return nil
}

func (r *RHI) layers() []string {
	if !r.cfg.Validation {
		return nil
	}
	available, err := r.driver.AvailableLayers()
	if err != nil {
		Logger().Warn("layer enumeration failed", "err", err)
		return nil
	}
	set := NewExtensionSet("layer", r.cfg.ValidationLayers, nil, available)
	_ = set.Check()
	return set.GetExtensions()
}

func (r *RHI) createInstance() error {
	available, err := r.driver.AvailableInstanceExtensions()
	if err != nil {
		return Fatal("instance", errors.Wrap(err, "enumerate instance extensions"))
	}
	wanted := append([]string(nil), r.cfg.InstanceExtensions...)
	if r.cfg.Validation {
		wanted = append(wanted, debugReportExtension)
	}
	exts := NewExtensionSet("instance extension", wanted, r.window.GetRequiredInstanceExtensions(), available)
	if err := exts.Check(); err != nil {
		return Fatal("instance", err)
	}
	r.layerNames = r.layers()
	err = r.driver.CreateInstance(InstanceCreateInfo{
		AppName:    r.cfg.Title,
		EngineName: engineName,
		APIVersion: uint32(vk.MakeVersion(1, 1, 0)),
		Extensions: exts.GetExtensions(),
		Layers:     r.layerNames,
		Debug:      r.cfg.Validation && exts.has(debugReportExtension),
	})
	if err != nil {
		return Fatal("instance", errors.Wrap(err, "create instance"))
	}
	r.instance = true
	return nil
}

func (r *RHI) chooseDepthFormat() vk.Format {
	formats := r.device.Formats()
	if pf, ok := PixelFormatByName(r.cfg.DepthFormat); ok && formats.IsSupported(pf) {
		return formats.Format(pf)
	}
	for _, pf := range depthFallbacks {
		if formats.IsSupported(pf) {
			Logger().Warn("depth format unsupported, using fallback", "requested", r.cfg.DepthFormat, "using", pf.String())
			return formats.Format(pf)
		}
	}
	Logger().Warn("no depth format supported, rendering without depth")
	return vk.FormatUndefined
}

// createSwapchain builds the swapchain and everything sized by it. The render pass is rebuilt only
// when the color format changes, and then cached pipelines built against it go too.
func (r *RHI) createSwapchain(old Handle) error {
	extent := windowExtent(r.window)
	pf, _ := PixelFormatByName(r.cfg.PixelFormat)
	sc, err := NewSwapchain(r.device, r.surface, SwapchainOptions{
		PixelFormat: pf,
		BackBuffers: uint32(r.cfg.BackBuffers),
		VSync:       r.cfg.VSync,
		Width:       extent.Width,
		Height:      extent.Height,
	}, old)
	if err != nil {
		return err
	}
	r.swapchain = sc

	if r.renderPass == nil || r.renderPass.colorFormat != sc.Format().Format {
		if r.renderPass != nil {
			r.device.PipelineCache().Destroy()
			r.renderPass.Destroy()
		}
		r.depthFormat = r.chooseDepthFormat()
		r.renderPass, err = NewRenderPass(r.driver, sc.Format().Format, r.depthFormat)
		if err != nil {
			return err
		}
	}
	r.framebuffers, err = NewFramebuffers(r.device, r.renderPass, sc)
	if err != nil {
		return err
	}

	n := sc.ImageCount()
	r.renderComplete = make([]Handle, n)
	r.imageCmd = make([]*CommandBuffer, n)
	r.imageCounter = make([]uint64, n)
	for i := range r.renderComplete {
		if r.renderComplete[i], err = r.device.SemaphoreManager().Get(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RHI) destroySwapchainResources() {
	if r.framebuffers != nil {
		r.framebuffers.Destroy()
		r.framebuffers = nil
	}
	for _, s := range r.renderComplete {
		r.device.SemaphoreManager().Put(s)
	}
	r.renderComplete = nil
	r.imageCmd = nil
	r.imageCounter = nil
}

// RecreateSwapchain rebuilds the swapchain at the window's current size. While the window has no
// area it does nothing and leaves the recreation pending.
func (r *RHI) RecreateSwapchain() error {
	extent := windowExtent(r.window)
	if extent.Width == 0 || extent.Height == 0 {
		r.needsRecreate = true
		return nil
	}
	r.device.WaitUntilIdle()
	r.destroySwapchainResources()
	old := r.swapchain
	err := r.createSwapchain(old.Handle())
	old.Destroy()
	if err != nil {
		return Fatal("recreate swapchain", err)
	}
	r.needsRecreate = false
	Logger().Info("swapchain recreated", "width", r.swapchain.Extent().Width, "height", r.swapchain.Extent().Height)
	return nil
}

// CreatePipeline returns the cached graphics pipeline for shader and state on the RHI's render
// pass.
func (r *RHI) CreatePipeline(state *PipelineStateInfo, shader *Shader, vertex *VertexInputDeclareInfo) (Handle, error) {
	return r.device.PipelineCache().GetGfxPipeline(state, shader, vertex, r.renderPass.Handle())
}

func (r *RHI) Config() Config              { return r.cfg }
func (r *RHI) Device() *LogicalDevice      { return r.device }
func (r *RHI) Swapchain() *Swapchain       { return r.swapchain }
func (r *RHI) RenderPass() *RenderPass     { return r.renderPass }
func (r *RHI) Framebuffers() *Framebuffers { return r.framebuffers }
func (r *RHI) FrameCount() uint64          { return r.frameCount }
func (r *RHI) DroppedFrames() uint64       { return r.droppedFrames }

func (r *RHI) SetClearColor(c [4]float32) {
	r.clearColor = c
}

// Shutdown waits for the GPU and releases everything Init created, in reverse order. It is safe to
// call on a partially initialized RHI.
func (r *RHI) Shutdown() {
	if r.device != nil {
		r.device.PrepareForDestroy()
		if r.device.SemaphoreManager() != nil {
			r.destroySwapchainResources()
		}
	}
	if r.swapchain != nil {
		r.swapchain.Destroy()
		r.swapchain = nil
	}
	if r.renderPass != nil {
		r.renderPass.Destroy()
		r.renderPass = nil
	}
	if r.device != nil {
		r.device.Destroy()
		r.device = nil
	}
	if r.surface != NullHandle {
		r.driver.DestroySurface(r.surface)
		r.surface = NullHandle
	}
	if r.instance {
		r.driver.DestroyInstance()
		r.instance = false
	}
}
