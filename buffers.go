package dieselrhi

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

var hostVisible = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)

// Buffer is a driver buffer bound to its own memory allocation.
type Buffer struct {
	driver   Driver
	memory   *MemoryManager
	handle   Handle
	alloc    *DeviceMemoryAllocation
	size     uint64
	usage    vk.BufferUsageFlags
	memFlags vk.MemoryPropertyFlags
}

// CreateBuffer creates a buffer of size bytes and, when data is given, fills it. Host-visible
// memory is written through a mapping. Other memory is filled by a copy recorded on the upload
// command buffer of uploader, which is submitted and waited on before CreateBuffer returns.
func CreateBuffer(driver Driver, memory *MemoryManager, uploader *CommandBufferManager,
	usage vk.BufferUsageFlags, memFlags vk.MemoryPropertyFlags, size uint64, data []byte) (*Buffer, error) {
	if uint64(len(data)) > size {
		return nil, errors.Errorf("buffer data is %d bytes, buffer is %d", len(data), size)
	}
	hostWritable := memFlags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0
	if len(data) > 0 && !hostWritable {
		usage |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}

	b, err := newBuffer(driver, memory, usage, memFlags, size)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return b, nil
	}
	if hostWritable {
		err = b.write(data)
	} else {
		err = b.upload(uploader, data)
	}
	if err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

func newBuffer(driver Driver, memory *MemoryManager, usage vk.BufferUsageFlags, memFlags vk.MemoryPropertyFlags, size uint64) (*Buffer, error) {
	h, req, err := driver.CreateBuffer(BufferCreateInfo{Size: size, Usage: usage})
	if err != nil {
		return nil, errors.Wrap(err, "create buffer")
	}
	alloc, err := memory.AllocFor(false, req, memFlags)
	if err != nil {
		driver.DestroyBuffer(h)
		return nil, err
	}
	if ret := driver.BindBufferMemory(h, alloc.Handle(), 0); isError(ret) {
		memory.Free(alloc)
		driver.DestroyBuffer(h)
		return nil, NewOpError("vkBindBufferMemory", ret)
	}
	return &Buffer{
		driver:   driver,
		memory:   memory,
		handle:   h,
		alloc:    alloc,
		size:     size,
		usage:    usage,
		memFlags: memFlags,
	}, nil
}

func (b *Buffer) write(data []byte) error {
	mapped, err := b.alloc.Map(WholeSize, 0)
	if err != nil {
		return err
	}
	copy(mapped, data)
	err = b.alloc.Flush(0, uint64(len(data)))
	b.alloc.Unmap()
	return err
}

func (b *Buffer) upload(uploader *CommandBufferManager, data []byte) error {
	if uploader == nil {
		return errors.New("device-local buffer data needs an upload command buffer")
	}
	staging, err := newBuffer(b.driver, b.memory, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), hostVisible, uint64(len(data)))
	if err != nil {
		return errors.Wrap(err, "staging buffer")
	}
	defer staging.Destroy()
	if err := staging.write(data); err != nil {
		return err
	}

	cmd, err := uploader.GetUploadCmdBuffer()
	if err != nil {
		return err
	}
	cmd.CopyBuffer(staging.handle, b.handle, BufferCopy{Size: uint64(len(data))})
	uploader.SubmitUploadCmdBuffer()
	ok, err := uploader.WaitForCmdBuffer(cmd, 0)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("buffer upload did not complete")
	}
	return nil
}

func (b *Buffer) Handle() Handle {
	return b.handle
}

func (b *Buffer) Size() uint64 {
	return b.size
}

func (b *Buffer) Allocation() *DeviceMemoryAllocation {
	return b.alloc
}

func (b *Buffer) Destroy() {
	if b.handle != NullHandle {
		b.driver.DestroyBuffer(b.handle)
		b.handle = NullHandle
	}
	if b.alloc != nil {
		b.memory.Free(b.alloc)
		b.alloc = nil
	}
}

// BufferSlice is a sub-range of a BufferArena buffer.
type BufferSlice struct {
	Buffer Handle
	Offset uint64
	Size   uint64
	// Data is the mapped bytes of the slice.
	Data []byte

	sub *SubAllocation
}

// DescriptorInfo describes the slice for a buffer descriptor write.
func (s *BufferSlice) DescriptorInfo() DescriptorBufferInfo {
	return DescriptorBufferInfo{Buffer: s.Buffer, Offset: s.Offset, Range: s.Size}
}

// BufferArena serves many small host-visible buffers, uniform blocks mostly, out of one
// persistently mapped buffer.
type BufferArena struct {
	buffer    *Buffer
	mapped    []byte
	sub       *SubAllocator
	alignment uint64
}

func NewBufferArena(driver Driver, memory *MemoryManager, usage vk.BufferUsageFlags, size, alignment uint64) (*BufferArena, error) {
	b, err := newBuffer(driver, memory, usage, hostVisible, size)
	if err != nil {
		return nil, err
	}
	mapped, err := b.alloc.Map(WholeSize, 0)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	return &BufferArena{
		buffer:    b,
		mapped:    mapped,
		sub:       NewSubAllocator(size, alignment),
		alignment: alignment,
	}, nil
}

// Allocate returns nil when the arena is full.
func (a *BufferArena) Allocate(size uint64) *BufferSlice {
	sub := a.sub.TryAllocate(size, a.alignment)
	if sub == nil {
		return nil
	}
	return &BufferSlice{
		Buffer: a.buffer.handle,
		Offset: sub.Offset,
		Size:   size,
		Data:   a.mapped[sub.Offset : sub.Offset+size],
		sub:    sub,
	}
}

func (a *BufferArena) Release(s *BufferSlice) {
	if s == nil || s.sub == nil {
		return
	}
	a.sub.Release(s.sub)
	s.sub = nil
	s.Data = nil
}

func (a *BufferArena) Used() uint64 {
	return a.sub.Used()
}

func (a *BufferArena) Destroy() {
	a.buffer.alloc.Unmap()
	a.buffer.Destroy()
	a.mapped = nil
}
