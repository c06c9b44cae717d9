package vkdriver

import (
	"unsafe"

	"github.com/andewx/dieselrhi"
	vk "github.com/vulkan-go/vulkan"
)

const wholeSize = ^uint64(0)

func (d *Driver) AllocateMemory(size uint64, typeIndex uint32) (dieselrhi.Handle, vk.Result) {
	var mem vk.DeviceMemory
	ret := vk.AllocateMemory(d.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: typeIndex,
	}, nil, &mem)
	if ret != vk.Success {
		return dieselrhi.NullHandle, ret
	}
	return put(d, &d.memories, memory{mem: mem, size: size}), vk.Success
}

func (d *Driver) FreeMemory(h dieselrhi.Handle) {
	if m, ok := take(d, &d.memories, h); ok {
		vk.FreeMemory(d.device, m.mem, nil)
	}
}

// MapMemory maps [offset, offset+size) and returns it as a byte slice. A size of VK_WHOLE_SIZE
// maps to the end of the allocation.
func (d *Driver) MapMemory(h dieselrhi.Handle, offset, size uint64) ([]byte, vk.Result) {
	m := get(d, &d.memories, h)
	if size == wholeSize {
		size = m.size - offset
	}
	var ptr unsafe.Pointer
	ret := vk.MapMemory(d.device, m.mem, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr)
	if ret != vk.Success {
		return nil, ret
	}
	return unsafe.Slice((*byte)(ptr), int(size)), vk.Success
}

func (d *Driver) UnmapMemory(h dieselrhi.Handle) {
	vk.UnmapMemory(d.device, get(d, &d.memories, h).mem)
}

func (d *Driver) mappedRange(h dieselrhi.Handle, offset, size uint64) []vk.MappedMemoryRange {
	return []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: get(d, &d.memories, h).mem,
		Offset: vk.DeviceSize(offset),
		Size:   vk.DeviceSize(size),
	}}
}

func (d *Driver) FlushMemory(h dieselrhi.Handle, offset, size uint64) vk.Result {
	return vk.FlushMappedMemoryRanges(d.device, 1, d.mappedRange(h, offset, size))
}

func (d *Driver) InvalidateMemory(h dieselrhi.Handle, offset, size uint64) vk.Result {
	return vk.InvalidateMappedMemoryRanges(d.device, 1, d.mappedRange(h, offset, size))
}

func requirements(r vk.MemoryRequirements) dieselrhi.MemoryRequirements {
	r.Deref()
	return dieselrhi.MemoryRequirements{
		Size:      uint64(r.Size),
		Alignment: uint64(r.Alignment),
		TypeBits:  r.MemoryTypeBits,
	}
}

func (d *Driver) CreateBuffer(info dieselrhi.BufferCreateInfo) (dieselrhi.Handle, dieselrhi.MemoryRequirements, error) {
	var buffer vk.Buffer
	ret := vk.CreateBuffer(d.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       info.Usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buffer)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.MemoryRequirements{}, dieselrhi.NewOpError("create buffer", ret)
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buffer, &reqs)
	return put(d, &d.buffers, buffer), requirements(reqs), nil
}

func (d *Driver) DestroyBuffer(h dieselrhi.Handle) {
	if b, ok := take(d, &d.buffers, h); ok {
		vk.DestroyBuffer(d.device, b, nil)
	}
}

func (d *Driver) BindBufferMemory(buffer, mem dieselrhi.Handle, offset uint64) vk.Result {
	return vk.BindBufferMemory(d.device, get(d, &d.buffers, buffer), get(d, &d.memories, mem).mem, vk.DeviceSize(offset))
}

func (d *Driver) CreateImage(info dieselrhi.ImageCreateInfo) (dieselrhi.Handle, dieselrhi.MemoryRequirements, error) {
	var image vk.Image
	ret := vk.CreateImage(d.device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    info.Format,
		Extent: vk.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  1,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   info.ArrayLayers,
		Samples:       info.Samples,
		Tiling:        info.Tiling,
		Usage:         info.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &image)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.MemoryRequirements{}, dieselrhi.NewOpError("create image", ret)
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, image, &reqs)
	return put(d, &d.images, image), requirements(reqs), nil
}

func (d *Driver) DestroyImage(h dieselrhi.Handle) {
	if img, ok := take(d, &d.images, h); ok {
		vk.DestroyImage(d.device, img, nil)
	}
}

func (d *Driver) BindImageMemory(image, mem dieselrhi.Handle, offset uint64) vk.Result {
	return vk.BindImageMemory(d.device, get(d, &d.images, image), get(d, &d.memories, mem).mem, vk.DeviceSize(offset))
}

func (d *Driver) CreateImageView(info dieselrhi.ImageViewCreateInfo) (dieselrhi.Handle, error) {
	var view vk.ImageView
	ret := vk.CreateImageView(d.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    get(d, &d.images, info.Image),
		ViewType: vk.ImageViewType2d,
		Format:   info.Format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: info.Aspect,
			LevelCount: info.MipLevels,
			LayerCount: info.LayerCount,
		},
	}, nil, &view)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create image view", ret)
	}
	return put(d, &d.imageViews, view), nil
}

func (d *Driver) DestroyImageView(h dieselrhi.Handle) {
	if v, ok := take(d, &d.imageViews, h); ok {
		vk.DestroyImageView(d.device, v, nil)
	}
}
