package dieselrhi

import (
	"math"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// SwapchainStatus is what acquire and present report besides hard errors.
type SwapchainStatus int32

const (
	SwapchainHealthy     SwapchainStatus = 0
	SwapchainOutOfDate   SwapchainStatus = -1
	SwapchainSurfaceLost SwapchainStatus = -2
)

func (s SwapchainStatus) String() string {
	switch s {
	case SwapchainHealthy:
		return "healthy"
	case SwapchainOutOfDate:
		return "out of date"
	case SwapchainSurfaceLost:
		return "surface lost"
	}
	return "unknown"
}

const swapchainUsage = vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit)

var compositeAlphaOrder = []vk.CompositeAlphaFlagBits{
	vk.CompositeAlphaOpaqueBit,
	vk.CompositeAlphaInheritBit,
	vk.CompositeAlphaPreMultipliedBit,
	vk.CompositeAlphaPostMultipliedBit,
}

// SwapchainOptions are the requested swapchain properties. Width and Height are the window's
// framebuffer size, used when the surface leaves the extent to the application.
type SwapchainOptions struct {
	PixelFormat PixelFormat
	BackBuffers uint32
	VSync       bool
	Width       uint32
	Height      uint32
}

// Swapchain is the set of presentable images for one surface, with a ring of acquire semaphores.
type Swapchain struct {
	driver     Driver
	semaphores *SemaphoreManager

	handle      Handle
	surface     Handle
	format      SurfaceFormat
	pixelFormat PixelFormat
	presentMode vk.PresentMode
	extent      Extent2D

	images       []Handle
	views        []Handle
	acquireSems  []Handle
	semIndex     int
	currentImage int

	numAcquireCalls uint64
	numPresentCalls uint64
}

// NewSwapchain creates a swapchain on surface. old, when not null, is handed to the driver so the
// presentation engine can reuse its resources; the caller still destroys it.
func NewSwapchain(device *LogicalDevice, surface Handle, opts SwapchainOptions, old Handle) (*Swapchain, error) {
	driver := device.Driver()
	gpu := device.GPU()

	caps, err := driver.SurfaceCapabilities(gpu, surface)
	if err != nil {
		return nil, errors.Wrap(err, "surface capabilities")
	}
	formats, err := driver.SurfaceFormats(gpu, surface)
	if err != nil {
		return nil, errors.Wrap(err, "surface formats")
	}
	format, pixelFormat, err := ChooseSurfaceFormat(formats, opts.PixelFormat, device.Formats())
	if err != nil {
		return nil, err
	}
	modes, err := driver.SurfacePresentModes(gpu, surface)
	if err != nil {
		return nil, errors.Wrap(err, "surface present modes")
	}
	mode, err := ChoosePresentMode(modes, opts.VSync)
	if err != nil {
		return nil, err
	}
	extent := ChooseExtent(caps, opts.Width, opts.Height)
	count := ChooseImageCount(caps, opts.BackBuffers)

	transform := caps.CurrentTransform
	if caps.SupportedTransforms&vk.SurfaceTransformFlags(vk.SurfaceTransformIdentityBit) != 0 {
		transform = vk.SurfaceTransformIdentityBit
	}
	alpha := vk.CompositeAlphaOpaqueBit
	for _, a := range compositeAlphaOrder {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(a) != 0 {
			alpha = a
			break
		}
	}

	var families []uint32
	gfx, present := device.GraphicsQueue(), device.PresentQueue()
	if present != nil && present.FamilyIndex() != gfx.FamilyIndex() {
		families = []uint32{gfx.FamilyIndex(), present.FamilyIndex()}
	}

	handle, err := driver.CreateSwapchain(SwapchainCreateInfo{
		Surface:        surface,
		MinImageCount:  count,
		Format:         format.Format,
		ColorSpace:     format.ColorSpace,
		Extent:         extent,
		Usage:          swapchainUsage,
		PreTransform:   transform,
		CompositeAlpha: alpha,
		PresentMode:    mode,
		QueueFamilies:  families,
		OldSwapchain:   old,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}

	s := &Swapchain{
		driver:       driver,
		semaphores:   device.SemaphoreManager(),
		handle:       handle,
		surface:      surface,
		format:       format,
		pixelFormat:  pixelFormat,
		presentMode:  mode,
		extent:       extent,
		currentImage: -1,
	}
	if s.images, err = driver.SwapchainImages(handle); err != nil {
		s.Destroy()
		return nil, errors.Wrap(err, "swapchain images")
	}
	if len(s.images) == 0 {
		s.Destroy()
		return nil, errors.WithStack(ErrNoSwapchainImages)
	}
	for _, img := range s.images {
		view, err := driver.CreateImageView(ImageViewCreateInfo{
			Image:      img,
			Format:     format.Format,
			Aspect:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevels:  1,
			LayerCount: 1,
		})
		if err != nil {
			s.Destroy()
			return nil, errors.Wrap(err, "swapchain image view")
		}
		s.views = append(s.views, view)

		sem, err := s.semaphores.Get()
		if err != nil {
			s.Destroy()
			return nil, err
		}
		s.acquireSems = append(s.acquireSems, sem)
	}
	s.semIndex = len(s.acquireSems) - 1

	Logger().Info("swapchain created", "format", pixelFormat.String(), "presentMode", int32(mode),
		"width", extent.Width, "height", extent.Height, "images", len(s.images), "requested", count)
	return s, nil
}

// ChooseSurfaceFormat picks the requested pixel format when the device and surface both support
// it, else the first surface format the format table knows. A surface reporting only Undefined
// accepts the requested format.
func ChooseSurfaceFormat(formats []SurfaceFormat, requested PixelFormat, table *PixelFormats) (SurfaceFormat, PixelFormat, error) {
	if len(formats) == 0 {
		return SurfaceFormat{}, PixelFormatUnknown, Fatal("surface format", errors.WithStack(ErrNoSurfaceFormat))
	}
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined && requested != PixelFormatUnknown {
		return SurfaceFormat{Format: table.Format(requested), ColorSpace: formats[0].ColorSpace}, requested, nil
	}
	if requested != PixelFormatUnknown && table.IsSupported(requested) {
		want := table.Format(requested)
		for _, f := range formats {
			if f.Format == want {
				return f, requested, nil
			}
		}
	}
	for _, f := range formats {
		if pf, ok := PixelFormatFromVk(f.Format); ok && table.IsSupported(pf) {
			if requested != PixelFormatUnknown {
				Logger().Warn("requested surface format unavailable", "requested", requested.String(), "using", pf.String())
			}
			return f, pf, nil
		}
	}
	return SurfaceFormat{}, PixelFormatUnknown, Fatal("surface format", errors.WithStack(ErrNoSurfaceFormat))
}

// ChoosePresentMode prefers IMMEDIATE when vsync is off, then MAILBOX, then FIFO, then whatever
// the surface reports first.
func ChoosePresentMode(modes []vk.PresentMode, vsync bool) (vk.PresentMode, error) {
	if len(modes) == 0 {
		return 0, Fatal("present mode", errors.WithStack(ErrNoPresentMode))
	}
	order := []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeFifo}
	if !vsync {
		order = append([]vk.PresentMode{vk.PresentModeImmediate}, order...)
	}
	for _, want := range order {
		for _, m := range modes {
			if m == want {
				return m, nil
			}
		}
	}
	return modes[0], nil
}

// ChooseExtent uses the surface's current extent unless the surface leaves it to the
// application, in which case the window size is clamped to the allowed range.
func ChooseExtent(caps SurfaceCapabilities, width, height uint32) Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 && caps.CurrentExtent.Width != 0 && caps.CurrentExtent.Height != 0 {
		return caps.CurrentExtent
	}
	e := Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width == math.MaxUint32 {
		e.Width = clampU32(e.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
		e.Height = clampU32(e.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	}
	return e
}

// ChooseImageCount clamps desired to the surface's image count range. A zero maximum means
// unbounded.
func ChooseImageCount(caps SurfaceCapabilities, desired uint32) uint32 {
	if desired < caps.MinImageCount {
		desired = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && desired > caps.MaxImageCount {
		desired = caps.MaxImageCount
	}
	return desired
}

func clampU32(v, lo, hi uint32) uint32 {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// AcquireImageIndex takes the next presentable image. The returned semaphore is signaled when the
// image is ready to be written. On OutOfDate or SurfaceLost the semaphore ring is rolled back and
// the caller should recreate the swapchain.
func (s *Swapchain) AcquireImageIndex() (int, Handle, SwapchainStatus, error) {
	prev := s.semIndex
	s.semIndex = (s.semIndex + 1) % len(s.acquireSems)
	sem := s.acquireSems[s.semIndex]

	idx, ret := s.driver.AcquireNextImage(s.handle, math.MaxUint64, sem, NullHandle)
	switch ret {
	case vk.Success, vk.Suboptimal:
	case vk.ErrorOutOfDate:
		s.semIndex = prev
		return -1, NullHandle, SwapchainOutOfDate, nil
	case vk.ErrorSurfaceLost:
		s.semIndex = prev
		return -1, NullHandle, SwapchainSurfaceLost, nil
	default:
		s.semIndex = prev
		return -1, NullHandle, SwapchainHealthy, NewOpError("vkAcquireNextImageKHR", ret)
	}
	s.numAcquireCalls++
	s.currentImage = int(idx)
	return int(idx), sem, SwapchainHealthy, nil
}

// Present queues the current image on queue once signal fires. Before the first acquire there is
// nothing to present and Present does nothing.
func (s *Swapchain) Present(queue *Queue, signal Handle) (SwapchainStatus, error) {
	if s.currentImage < 0 {
		return SwapchainHealthy, nil
	}
	info := PresentInfo{Swapchain: s.handle, ImageIndex: uint32(s.currentImage)}
	if signal != NullHandle {
		info.WaitSemaphores = []Handle{signal}
	}
	ret := s.driver.QueuePresent(queue.Handle(), info)
	switch ret {
	case vk.Success, vk.Suboptimal:
	case vk.ErrorOutOfDate:
		return SwapchainOutOfDate, nil
	case vk.ErrorSurfaceLost:
		return SwapchainSurfaceLost, nil
	default:
		return SwapchainHealthy, NewOpError("vkQueuePresentKHR", ret)
	}
	s.numPresentCalls++
	return SwapchainHealthy, nil
}

// ReplaceAcquireSemaphore swaps sem, signaled by an acquire nobody waited on, for a fresh
// semaphore in the ring.
func (s *Swapchain) ReplaceAcquireSemaphore(sem Handle) error {
	for i, h := range s.acquireSems {
		if h != sem {
			continue
		}
		fresh, err := s.semaphores.Get()
		if err != nil {
			return err
		}
		s.semaphores.Discard(h)
		s.acquireSems[i] = fresh
		return nil
	}
	return nil
}

func (s *Swapchain) Handle() Handle              { return s.handle }
func (s *Swapchain) Surface() Handle             { return s.surface }
func (s *Swapchain) Format() SurfaceFormat       { return s.format }
func (s *Swapchain) PixelFormat() PixelFormat    { return s.pixelFormat }
func (s *Swapchain) PresentMode() vk.PresentMode { return s.presentMode }
func (s *Swapchain) Extent() Extent2D            { return s.extent }
func (s *Swapchain) ImageCount() int             { return len(s.images) }
func (s *Swapchain) Images() []Handle            { return s.images }
func (s *Swapchain) Views() []Handle             { return s.views }
func (s *Swapchain) CurrentImageIndex() int      { return s.currentImage }
func (s *Swapchain) NumAcquireCalls() uint64     { return s.numAcquireCalls }
func (s *Swapchain) NumPresentCalls() uint64     { return s.numPresentCalls }

// Destroy releases the views, semaphores and the chain. The surface belongs to the caller.
func (s *Swapchain) Destroy() {
	for _, v := range s.views {
		s.driver.DestroyImageView(v)
	}
	s.views = nil
	for _, sem := range s.acquireSems {
		s.semaphores.Put(sem)
	}
	s.acquireSems = nil
	if s.handle != NullHandle {
		s.driver.DestroySwapchain(s.handle)
		s.handle = NullHandle
	}
	s.images = nil
	s.currentImage = -1
}
