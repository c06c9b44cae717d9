package dieselrhi

import (
	"sort"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// WholeSize maps, flushes or invalidates from the offset to the end of the allocation.
const WholeSize = ^uint64(0)

func alignUp(v, a uint64) uint64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

func alignDown(v, a uint64) uint64 {
	if a <= 1 {
		return v
	}
	return v / a * a
}

type heapInfo struct {
	total       uint64
	used        uint64
	peak        uint64
	allocations int
}

// MemoryManager allocates device memory and keeps per-heap accounting of what is in use.
type MemoryManager struct {
	driver Driver
	props  MemoryProperties
	limits DeviceLimits
	heaps  []heapInfo
	live   map[*DeviceMemoryAllocation]struct{}

	numAllocations  uint32
	peakAllocations uint32
}

func NewMemoryManager(driver Driver, props MemoryProperties, limits DeviceLimits) *MemoryManager {
	m := &MemoryManager{
		driver: driver,
		props:  props,
		limits: limits,
		heaps:  make([]heapInfo, len(props.Heaps)),
		live:   make(map[*DeviceMemoryAllocation]struct{}),
	}
	for i, h := range props.Heaps {
		m.heaps[i].total = h.Size
		Logger().Debug("memory heap", "index", i, "size", h.Size,
			"deviceLocal", h.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0)
	}
	for i, t := range props.Types {
		Logger().Debug("memory type", "index", i, "heap", t.HeapIndex, "flags", uint32(t.Flags))
	}
	return m
}

func (m *MemoryManager) Properties() MemoryProperties {
	return m.props
}

// GetMemoryTypeFromProperties returns the first type allowed by typeBits that has every flag in props.
func (m *MemoryManager) GetMemoryTypeFromProperties(typeBits uint32, props vk.MemoryPropertyFlags) (uint32, error) {
	return m.findType(typeBits, props, ^uint32(0))
}

// GetMemoryTypeFromPropertiesExcluding is GetMemoryTypeFromProperties skipping type index exclude.
func (m *MemoryManager) GetMemoryTypeFromPropertiesExcluding(typeBits uint32, props vk.MemoryPropertyFlags, exclude uint32) (uint32, error) {
	return m.findType(typeBits, props, exclude)
}

func (m *MemoryManager) findType(typeBits uint32, props vk.MemoryPropertyFlags, exclude uint32) (uint32, error) {
	for i := 0; i < len(m.props.Types) && typeBits != 0; i++ {
		if typeBits&1 == 1 && m.props.Types[i].Flags&props == props && uint32(i) != exclude {
			return uint32(i), nil
		}
		typeBits >>= 1
	}
	return 0, errors.Wrapf(ErrNoMemoryType, "flags 0x%x", uint32(props))
}

// SupportsMemoryType reports whether some type has exactly props.
func (m *MemoryManager) SupportsMemoryType(props vk.MemoryPropertyFlags) bool {
	for _, t := range m.props.Types {
		if t.Flags == props {
			return true
		}
	}
	return false
}

// Alloc allocates size bytes of memory type typeIndex. When the device is out of memory and canFail
// is set, Alloc returns nil, nil so the caller can try another type; otherwise it is ErrOutOfMemory.
func (m *MemoryManager) Alloc(canFail bool, size uint64, typeIndex uint32) (*DeviceMemoryAllocation, error) {
	if int(typeIndex) >= len(m.props.Types) {
		return nil, errors.Wrapf(ErrNoMemoryType, "type index %d of %d", typeIndex, len(m.props.Types))
	}
	flags := m.props.Types[typeIndex].Flags
	h, ret := m.driver.AllocateMemory(size, typeIndex)
	switch ret {
	case vk.Success:
	case vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfHostMemory:
		if canFail {
			Logger().Warn("memory allocation failed", "size", size, "type", typeIndex, "result", int32(ret))
			return nil, nil
		}
		m.DumpMemory()
		return nil, stageError(ErrOutOfMemory, NewOpError("vkAllocateMemory", ret), "allocate memory")
	default:
		return nil, NewOpError("vkAllocateMemory", ret)
	}

	m.numAllocations++
	if m.numAllocations > m.peakAllocations {
		m.peakAllocations = m.numAllocations
	}
	if limit := m.limits.MaxMemoryAllocationCount; limit > 0 && m.numAllocations == limit {
		Logger().Warn("hit maximum number of memory allocations", "count", m.numAllocations)
	}

	a := &DeviceMemoryAllocation{
		owner:       m,
		handle:      h,
		size:        size,
		typeIndex:   typeIndex,
		canBeMapped: flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0,
		coherent:    flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0,
		cached:      flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit) != 0,
	}
	heap := &m.heaps[m.props.Types[typeIndex].HeapIndex]
	heap.used += size
	heap.allocations++
	if heap.used > heap.peak {
		heap.peak = heap.used
	}
	m.live[a] = struct{}{}
	return a, nil
}

// AllocFor picks a memory type for req with props and allocates from it.
func (m *MemoryManager) AllocFor(canFail bool, req MemoryRequirements, props vk.MemoryPropertyFlags) (*DeviceMemoryAllocation, error) {
	typeIndex, err := m.GetMemoryTypeFromProperties(req.TypeBits, props)
	if err != nil {
		return nil, err
	}
	return m.Alloc(canFail, req.Size, typeIndex)
}

// Free releases the allocation and reverses its accounting. Freeing twice is a no-op.
func (m *MemoryManager) Free(a *DeviceMemoryAllocation) {
	if a == nil || a.handle == NullHandle {
		return
	}
	if a.mapped != nil {
		a.Unmap()
	}
	m.driver.FreeMemory(a.handle)
	a.handle = NullHandle
	heap := &m.heaps[m.props.Types[a.typeIndex].HeapIndex]
	heap.used -= a.size
	heap.allocations--
	m.numAllocations--
	delete(m.live, a)
}

// HeapBudget is the usable size of a heap: 95% of a device-local heap, all of any other.
func (m *MemoryManager) HeapBudget(heap int) uint64 {
	if heap < 0 || heap >= len(m.props.Heaps) {
		return 0
	}
	h := m.props.Heaps[heap]
	if h.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
		return h.Size / 100 * 95
	}
	return h.Size
}

// HeapUsage returns the bytes in use on a heap and the high-water mark.
func (m *MemoryManager) HeapUsage(heap int) (used, peak uint64) {
	if heap < 0 || heap >= len(m.heaps) {
		return 0, 0
	}
	return m.heaps[heap].used, m.heaps[heap].peak
}

func (m *MemoryManager) AllocationCount() uint32 {
	return m.numAllocations
}

func (m *MemoryManager) PeakAllocationCount() uint32 {
	return m.peakAllocations
}

func (m *MemoryManager) DumpMemory() {
	Logger().Info("device memory", "allocations", m.numAllocations, "peak", m.peakAllocations, "heaps", len(m.heaps))
	for i, h := range m.heaps {
		Logger().Info("device memory heap", "index", i, "allocations", h.allocations,
			"used", h.used, "peak", h.peak, "size", h.total, "budget", m.HeapBudget(i))
	}
}

// Destroy frees whatever is still allocated.
func (m *MemoryManager) Destroy() {
	if len(m.live) > 0 {
		Logger().Warn("memory manager destroyed with live allocations", "count", len(m.live))
	}
	for a := range m.live {
		m.Free(a)
	}
}

// DeviceMemoryAllocation is one block of device memory.
type DeviceMemoryAllocation struct {
	owner       *MemoryManager
	handle      Handle
	size        uint64
	typeIndex   uint32
	canBeMapped bool
	coherent    bool
	cached      bool
	mapped      []byte
}

func (a *DeviceMemoryAllocation) Handle() Handle          { return a.handle }
func (a *DeviceMemoryAllocation) Size() uint64            { return a.size }
func (a *DeviceMemoryAllocation) MemoryTypeIndex() uint32 { return a.typeIndex }
func (a *DeviceMemoryAllocation) CanBeMapped() bool       { return a.canBeMapped }
func (a *DeviceMemoryAllocation) IsCoherent() bool        { return a.coherent }
func (a *DeviceMemoryAllocation) IsCached() bool          { return a.cached }
func (a *DeviceMemoryAllocation) IsMapped() bool          { return a.mapped != nil }
func (a *DeviceMemoryAllocation) Mapped() []byte          { return a.mapped }

// Map maps size bytes at offset, or the rest of the allocation for WholeSize.
func (a *DeviceMemoryAllocation) Map(size, offset uint64) ([]byte, error) {
	if !a.canBeMapped {
		return nil, errors.Errorf("memory type %d is not host visible", a.typeIndex)
	}
	if a.mapped != nil {
		return nil, errors.New("memory is already mapped")
	}
	data, ret := a.owner.driver.MapMemory(a.handle, offset, size)
	if isError(ret) {
		return nil, NewOpError("vkMapMemory", ret)
	}
	a.mapped = data
	return data, nil
}

func (a *DeviceMemoryAllocation) Unmap() {
	if a.mapped == nil {
		return
	}
	a.owner.driver.UnmapMemory(a.handle)
	a.mapped = nil
}

// atomRange widens offset/size to the non-coherent atom size.
func (a *DeviceMemoryAllocation) atomRange(offset, size uint64) (uint64, uint64) {
	atom := a.owner.limits.NonCoherentAtomSize
	start := alignDown(offset, atom)
	if size == WholeSize {
		return start, WholeSize
	}
	end := alignUp(offset+size, atom)
	if end > a.size {
		end = a.size
	}
	return start, end - start
}

// Flush makes host writes visible to the device. It is a no-op on coherent memory.
func (a *DeviceMemoryAllocation) Flush(offset, size uint64) error {
	if a.coherent {
		return nil
	}
	off, sz := a.atomRange(offset, size)
	return NewOpError("vkFlushMappedMemoryRanges", a.owner.driver.FlushMemory(a.handle, off, sz))
}

// Invalidate makes device writes visible to the host. It is a no-op on coherent memory.
func (a *DeviceMemoryAllocation) Invalidate(offset, size uint64) error {
	if a.coherent {
		return nil
	}
	off, sz := a.atomRange(offset, size)
	return NewOpError("vkInvalidateMappedMemoryRanges", a.owner.driver.InvalidateMemory(a.handle, off, sz))
}

// Range is a span of bytes inside an allocation.
type Range struct {
	Offset uint64
	Size   uint64
}

// JoinConsecutiveRanges sorts ranges by offset and merges those that touch.
func JoinConsecutiveRanges(ranges []Range) []Range {
	if len(ranges) < 2 {
		return ranges
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Offset < ranges[j].Offset })
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if last.Offset+last.Size == r.Offset {
			last.Size += r.Size
			continue
		}
		out = append(out, r)
	}
	return out
}

// SubAllocation is a piece handed out by a SubAllocator. Offset is aligned; the span it took from
// the free list may start earlier.
type SubAllocation struct {
	Offset uint64
	Size   uint64

	owner      *SubAllocator
	allocStart uint64
	allocSize  uint64
}

// SubAllocator carves aligned pieces out of a fixed span, first fit, merging neighbours on release.
type SubAllocator struct {
	maxSize   uint64
	used      uint64
	alignment uint64
	free      []Range
	live      int
}

func NewSubAllocator(size, alignment uint64) *SubAllocator {
	return &SubAllocator{
		maxSize:   size,
		alignment: alignment,
		free:      []Range{{Offset: 0, Size: size}},
	}
}

// TryAllocate returns nil when no free range can hold size at the required alignment.
func (s *SubAllocator) TryAllocate(size, alignment uint64) *SubAllocation {
	if alignment < s.alignment {
		alignment = s.alignment
	}
	for i := range s.free {
		e := &s.free[i]
		aligned := alignUp(e.Offset, alignment)
		need := aligned - e.Offset + size
		if need > e.Size {
			continue
		}
		sub := &SubAllocation{Offset: aligned, Size: size, owner: s, allocStart: e.Offset, allocSize: need}
		if need < e.Size {
			e.Offset += need
			e.Size -= need
		} else {
			s.free = append(s.free[:i], s.free[i+1:]...)
		}
		s.used += need
		s.live++
		return sub
	}
	return nil
}

// Release hands the piece back and reports whether the allocator is now empty.
func (s *SubAllocator) Release(sub *SubAllocation) bool {
	if sub == nil || sub.owner != s {
		return s.live == 0
	}
	sub.owner = nil
	s.free = JoinConsecutiveRanges(append(s.free, Range{Offset: sub.allocStart, Size: sub.allocSize}))
	s.used -= sub.allocSize
	s.live--
	if s.live == 0 && (len(s.free) != 1 || s.free[0].Size != s.maxSize) {
		Logger().Warn("sub allocation leak", "free", len(s.free), "used", s.used, "size", s.maxSize)
	}
	return s.live == 0
}

func (s *SubAllocator) Used() uint64        { return s.used }
func (s *SubAllocator) MaxSize() uint64     { return s.maxSize }
func (s *SubAllocator) FreeRanges() []Range { return s.free }
