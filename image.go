package dieselrhi

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Image is a 2D device-local image with one view over all of it.
type Image struct {
	driver Driver
	memory *MemoryManager
	handle Handle
	view   Handle
	alloc  *DeviceMemoryAllocation
	format vk.Format
	extent Extent2D
}

func NewImage(driver Driver, memory *MemoryManager, info ImageCreateInfo, aspect vk.ImageAspectFlags) (*Image, error) {
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	if info.ArrayLayers == 0 {
		info.ArrayLayers = 1
	}
	if info.Samples == 0 {
		info.Samples = vk.SampleCount1Bit
	}
	h, req, err := driver.CreateImage(info)
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}
	img := &Image{driver: driver, memory: memory, handle: h, format: info.Format, extent: info.Extent}
	img.alloc, err = memory.AllocFor(false, req, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		img.Destroy()
		return nil, err
	}
	if ret := driver.BindImageMemory(h, img.alloc.Handle(), 0); isError(ret) {
		img.Destroy()
		return nil, NewOpError("vkBindImageMemory", ret)
	}
	img.view, err = driver.CreateImageView(ImageViewCreateInfo{
		Image:      h,
		Format:     info.Format,
		Aspect:     aspect,
		MipLevels:  info.MipLevels,
		LayerCount: info.ArrayLayers,
	})
	if err != nil {
		img.Destroy()
		return nil, errors.Wrap(err, "create image view")
	}
	return img, nil
}

// NewDepthImage creates a depth attachment for format, with the stencil aspect when it has one.
func NewDepthImage(driver Driver, memory *MemoryManager, format vk.Format, extent Extent2D) (*Image, error) {
	aspect := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	if hasStencil(format) {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return NewImage(driver, memory, ImageCreateInfo{
		Format: format,
		Extent: extent,
		Tiling: vk.ImageTilingOptimal,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
	}, aspect)
}

func hasStencil(f vk.Format) bool {
	switch f {
	case vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint, vk.FormatD16UnormS8Uint, vk.FormatS8Uint:
		return true
	}
	return false
}

func (i *Image) Handle() Handle {
	return i.handle
}

func (i *Image) View() Handle {
	return i.view
}

func (i *Image) Format() vk.Format {
	return i.format
}

func (i *Image) Extent() Extent2D {
	return i.extent
}

func (i *Image) Destroy() {
	if i.view != NullHandle {
		i.driver.DestroyImageView(i.view)
		i.view = NullHandle
	}
	if i.handle != NullHandle {
		i.driver.DestroyImage(i.handle)
		i.handle = NullHandle
	}
	if i.alloc != nil {
		i.memory.Free(i.alloc)
		i.alloc = nil
	}
}
