package vkdriver

import (
	"github.com/andewx/dieselrhi"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func (d *Driver) physical(gpu int) (vk.PhysicalDevice, error) {
	if gpu < 0 || gpu >= len(d.gpus) {
		return nil, errors.Errorf("vulkan: no physical device %d", gpu)
	}
	return d.gpus[gpu], nil
}

func extent(e vk.Extent2D) dieselrhi.Extent2D {
	e.Deref()
	return dieselrhi.Extent2D{Width: e.Width, Height: e.Height}
}

func (d *Driver) CreateSurface(w dieselrhi.Window) (dieselrhi.Handle, error) {
	if d.instance == nil {
		return dieselrhi.NullHandle, errors.New("vulkan: surface needs an instance")
	}
	ptr, err := w.CreateSurface(d.instance)
	if err != nil {
		return dieselrhi.NullHandle, errors.Wrap(err, "vulkan: create window surface")
	}
	surface := vk.SurfaceFromPointer(ptr)
	if surface == vk.NullSurface {
		return dieselrhi.NullHandle, errors.New("vulkan: window returned a null surface")
	}
	return put(d, &d.surfaces, surface), nil
}

func (d *Driver) DestroySurface(surface dieselrhi.Handle) {
	if s, ok := take(d, &d.surfaces, surface); ok && d.instance != nil {
		vk.DestroySurface(d.instance, s, nil)
	}
}

func (d *Driver) SurfaceSupport(gpu int, family uint32, surface dieselrhi.Handle) bool {
	pd, err := d.physical(gpu)
	if err != nil {
		return false
	}
	var supported vk.Bool32
	ret := vk.GetPhysicalDeviceSurfaceSupport(pd, family, get(d, &d.surfaces, surface), &supported)
	return ret == vk.Success && supported.B()
}

func (d *Driver) SurfaceCapabilities(gpu int, surface dieselrhi.Handle) (dieselrhi.SurfaceCapabilities, error) {
	pd, err := d.physical(gpu)
	if err != nil {
		return dieselrhi.SurfaceCapabilities{}, err
	}
	var caps vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(pd, get(d, &d.surfaces, surface), &caps)
	if ret != vk.Success {
		return dieselrhi.SurfaceCapabilities{}, dieselrhi.NewOpError("surface capabilities", ret)
	}
	caps.Deref()
	return dieselrhi.SurfaceCapabilities{
		MinImageCount:           caps.MinImageCount,
		MaxImageCount:           caps.MaxImageCount,
		CurrentExtent:           extent(caps.CurrentExtent),
		MinImageExtent:          extent(caps.MinImageExtent),
		MaxImageExtent:          extent(caps.MaxImageExtent),
		SupportedTransforms:     caps.SupportedTransforms,
		CurrentTransform:        caps.CurrentTransform,
		SupportedCompositeAlpha: caps.SupportedCompositeAlpha,
		SupportedUsage:          caps.SupportedUsageFlags,
	}, nil
}

func (d *Driver) SurfaceFormats(gpu int, surface dieselrhi.Handle) ([]dieselrhi.SurfaceFormat, error) {
	pd, err := d.physical(gpu)
	if err != nil {
		return nil, err
	}
	s := get(d, &d.surfaces, surface)
	var count uint32
	ret := vk.GetPhysicalDeviceSurfaceFormats(pd, s, &count, nil)
	if ret != vk.Success {
		return nil, dieselrhi.NewOpError("surface formats", ret)
	}
	list := make([]vk.SurfaceFormat, count)
	ret = vk.GetPhysicalDeviceSurfaceFormats(pd, s, &count, list)
	if ret != vk.Success {
		return nil, dieselrhi.NewOpError("surface formats", ret)
	}
	formats := make([]dieselrhi.SurfaceFormat, 0, count)
	for _, f := range list[:count] {
		f.Deref()
		formats = append(formats, dieselrhi.SurfaceFormat{Format: f.Format, ColorSpace: f.ColorSpace})
	}
	return formats, nil
}

func (d *Driver) SurfacePresentModes(gpu int, surface dieselrhi.Handle) ([]vk.PresentMode, error) {
	pd, err := d.physical(gpu)
	if err != nil {
		return nil, err
	}
	s := get(d, &d.surfaces, surface)
	var count uint32
	ret := vk.GetPhysicalDeviceSurfacePresentModes(pd, s, &count, nil)
	if ret != vk.Success {
		return nil, dieselrhi.NewOpError("present modes", ret)
	}
	modes := make([]vk.PresentMode, count)
	ret = vk.GetPhysicalDeviceSurfacePresentModes(pd, s, &count, modes)
	if ret != vk.Success {
		return nil, dieselrhi.NewOpError("present modes", ret)
	}
	return modes[:count], nil
}

func (d *Driver) CreateSwapchain(info dieselrhi.SwapchainCreateInfo) (dieselrhi.Handle, error) {
	sharing := vk.SharingModeExclusive
	if len(info.QueueFamilies) > 1 {
		sharing = vk.SharingModeConcurrent
	}
	old := vk.NullSwapchain
	if info.OldSwapchain != dieselrhi.NullHandle {
		old = get(d, &d.swapchains, info.OldSwapchain).handle
	}
	var sc vk.Swapchain
	ret := vk.CreateSwapchain(d.device, &vk.SwapchainCreateInfo{
		SType:                 vk.StructureTypeSwapchainCreateInfo,
		Surface:               get(d, &d.surfaces, info.Surface),
		MinImageCount:         info.MinImageCount,
		ImageFormat:           info.Format,
		ImageColorSpace:       info.ColorSpace,
		ImageExtent:           vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
		ImageArrayLayers:      1,
		ImageUsage:            info.Usage,
		ImageSharingMode:      sharing,
		QueueFamilyIndexCount: uint32(len(info.QueueFamilies)),
		PQueueFamilyIndices:   info.QueueFamilies,
		PreTransform:          info.PreTransform,
		CompositeAlpha:        info.CompositeAlpha,
		PresentMode:           info.PresentMode,
		Clipped:               vk.True,
		OldSwapchain:          old,
	}, nil, &sc)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create swapchain", ret)
	}

	var count uint32
	ret = vk.GetSwapchainImages(d.device, sc, &count, nil)
	if ret != vk.Success {
		vk.DestroySwapchain(d.device, sc, nil)
		return dieselrhi.NullHandle, dieselrhi.NewOpError("swapchain images", ret)
	}
	images := make([]vk.Image, count)
	ret = vk.GetSwapchainImages(d.device, sc, &count, images)
	if ret != vk.Success {
		vk.DestroySwapchain(d.device, sc, nil)
		return dieselrhi.NullHandle, dieselrhi.NewOpError("swapchain images", ret)
	}
	entry := swapchain{handle: sc}
	for _, img := range images[:count] {
		entry.images = append(entry.images, put(d, &d.images, img))
	}
	return put(d, &d.swapchains, entry), nil
}

// DestroySwapchain also forgets the swapchain's images. They belong to the swapchain and are
// never passed to DestroyImage.
func (d *Driver) DestroySwapchain(h dieselrhi.Handle) {
	sc, ok := take(d, &d.swapchains, h)
	if !ok {
		return
	}
	for _, img := range sc.images {
		take(d, &d.images, img)
	}
	vk.DestroySwapchain(d.device, sc.handle, nil)
}

func (d *Driver) SwapchainImages(h dieselrhi.Handle) ([]dieselrhi.Handle, error) {
	d.mu.RLock()
	sc, ok := d.swapchains.Get(h)
	d.mu.RUnlock()
	if !ok {
		return nil, errors.New("vulkan: unknown swapchain")
	}
	return append([]dieselrhi.Handle(nil), sc.images...), nil
}

func (d *Driver) AcquireNextImage(h dieselrhi.Handle, timeout uint64, semaphore, fence dieselrhi.Handle) (uint32, vk.Result) {
	var index uint32
	ret := vk.AcquireNextImage(d.device, get(d, &d.swapchains, h).handle, timeout,
		get(d, &d.semaphores, semaphore), get(d, &d.fences, fence), &index)
	return index, ret
}

func (d *Driver) QueuePresent(queue dieselrhi.Handle, info dieselrhi.PresentInfo) vk.Result {
	wait := getAll(d, &d.semaphores, info.WaitSemaphores)
	return vk.QueuePresent(get(d, &d.queues, queue), &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(wait)),
		PWaitSemaphores:    wait,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{get(d, &d.swapchains, info.Swapchain).handle},
		PImageIndices:      []uint32{info.ImageIndex},
	})
}
