package dieselrhi

import (
	"sync"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

type descriptorPool struct {
	handle    Handle
	maxSets   uint32
	allocated uint32
	peak      uint32
}

// typedPoolSet holds the pools serving one layout. Pools are sized for that layout only, so every
// allocation from them fits exactly.
type typedPoolSet struct {
	layout     *DescriptorSetsLayoutInfo
	pools      []*descriptorPool
	current    int
	poolsCount uint32
}

// DescriptorSetAllocation is one set of descriptor sets, indexed by set number.
type DescriptorSetAllocation struct {
	Sets       []Handle
	layoutHash uint64
	pool       *descriptorPool
}

// DescriptorPoolManager hands out descriptor sets from per-layout pools, growing a new pool when the
// current one runs dry. Pools are recycled wholesale by GC once every set taken from them has been
// released.
type DescriptorPoolManager struct {
	driver   Driver
	baseSets uint32

	mu   sync.Mutex
	sets map[uint64]*typedPoolSet
}

func NewDescriptorPoolManager(driver Driver, baseSets uint32) *DescriptorPoolManager {
	if baseSets == 0 {
		baseSets = 32
	}
	return &DescriptorPoolManager{
		driver:   driver,
		baseSets: baseSets,
		sets:     make(map[uint64]*typedPoolSet),
	}
}

// Allocate creates one descriptor set per entry of setLayouts for a compiled layout.
func (m *DescriptorPoolManager) Allocate(layout *DescriptorSetsLayoutInfo, setLayouts []Handle) (*DescriptorSetAllocation, error) {
	if !layout.Compiled() {
		return nil, errors.Wrap(ErrPoolAllocation, "layout is not compiled")
	}
	if len(setLayouts) == 0 {
		return &DescriptorSetAllocation{layoutHash: layout.Hash}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.sets[layout.Hash]
	if ps == nil {
		ps = &typedPoolSet{layout: layout}
		if _, err := m.pushPool(ps); err != nil {
			return nil, err
		}
		m.sets[layout.Hash] = ps
	}

	for {
		pool := ps.pools[ps.current]
		sets, ret := m.driver.AllocateDescriptorSets(pool.handle, setLayouts)
		if ret == vk.Success {
			pool.allocated += uint32(len(sets))
			if pool.allocated > pool.peak {
				pool.peak = pool.allocated
			}
			return &DescriptorSetAllocation{Sets: sets, layoutHash: layout.Hash, pool: pool}, nil
		}
		if ret != vk.ErrorOutOfPoolMemory && ret != vk.ErrorFragmentedPool {
			return nil, stageError(ErrPoolAllocation, NewOpError("vkAllocateDescriptorSets", ret), "allocate descriptor sets")
		}
		fresh := pool.allocated == 0
		if ps.current+1 < len(ps.pools) {
			ps.current++
			continue
		}
		if fresh {
			// An empty pool sized for this layout could not serve it, another one will not either.
			return nil, stageError(ErrPoolAllocation, NewOpError("vkAllocateDescriptorSets", ret), "allocate from an empty pool")
		}
		if _, err := m.pushPool(ps); err != nil {
			return nil, err
		}
	}
}

func (m *DescriptorPoolManager) pushPool(ps *typedPoolSet) (*descriptorPool, error) {
	shift := ps.poolsCount
	if shift > 2 {
		shift = 2
	}
	maxSets := m.baseSets << shift
	ps.poolsCount++

	handle, err := m.driver.CreateDescriptorPool(maxSets, ps.layout.PoolSizes(maxSets))
	if err != nil {
		return nil, stageError(ErrPoolAllocation, err, "create descriptor pool")
	}
	pool := &descriptorPool{handle: handle, maxSets: maxSets}
	ps.pools = append(ps.pools, pool)
	ps.current = len(ps.pools) - 1
	Logger().Debug("descriptor pool created", "layout", ps.layout.Hash, "maxSets", maxSets, "pools", len(ps.pools))
	return pool, nil
}

// Release returns an allocation's sets. The sets stay valid on the GPU side until GC resets their
// pool, so callers release only once the GPU is done with them.
func (m *DescriptorPoolManager) Release(a *DescriptorSetAllocation) {
	if a == nil || a.pool == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := uint32(len(a.Sets))
	if n > a.pool.allocated {
		n = a.pool.allocated
	}
	a.pool.allocated -= n
	a.pool = nil
	a.Sets = nil
}

// GC resets every pool that handed out sets and has had all of them released. It returns the
// number of pools reset.
func (m *DescriptorPoolManager) GC() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	reset := 0
	for _, ps := range m.sets {
		for i, pool := range ps.pools {
			if pool.allocated != 0 || pool.peak == 0 {
				continue
			}
			if ret := m.driver.ResetDescriptorPool(pool.handle); isError(ret) {
				Logger().Warn("descriptor pool reset failed", "result", int32(ret))
				continue
			}
			pool.peak = 0
			if i < ps.current {
				ps.current = i
			}
			reset++
		}
	}
	return reset
}

// PoolCount is the number of pools created for a layout.
func (m *DescriptorPoolManager) PoolCount(layout *DescriptorSetsLayoutInfo) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps := m.sets[layout.Hash]; ps != nil {
		return len(ps.pools)
	}
	return 0
}

func (m *DescriptorPoolManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ps := range m.sets {
		for _, pool := range ps.pools {
			m.driver.DestroyDescriptorPool(pool.handle)
		}
	}
	m.sets = make(map[uint64]*typedPoolSet)
}

// DescriptorWriter batches writes for one descriptor set and checks each against the layout.
type DescriptorWriter struct {
	layout *DescriptorSetsLayoutInfo
	set    uint32
	handle Handle
	writes []DescriptorWrite
}

func NewDescriptorWriter(layout *DescriptorSetsLayoutInfo, set uint32, handle Handle) *DescriptorWriter {
	return &DescriptorWriter{layout: layout, set: set, handle: handle}
}

func isBufferDescriptor(t vk.DescriptorType) bool {
	switch t {
	case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeUniformBufferDynamic,
		vk.DescriptorTypeStorageBuffer, vk.DescriptorTypeStorageBufferDynamic:
		return true
	}
	return false
}

func isImageDescriptor(t vk.DescriptorType) bool {
	switch t {
	case vk.DescriptorTypeSampler, vk.DescriptorTypeCombinedImageSampler, vk.DescriptorTypeSampledImage,
		vk.DescriptorTypeStorageImage, vk.DescriptorTypeInputAttachment:
		return true
	}
	return false
}

func isDynamicDescriptor(t vk.DescriptorType) bool {
	return t == vk.DescriptorTypeUniformBufferDynamic || t == vk.DescriptorTypeStorageBufferDynamic
}

func (w *DescriptorWriter) WriteBuffer(binding uint32, infos ...DescriptorBufferInfo) error {
	t, ok := w.layout.GetDescriptorType(w.set, binding)
	if !ok || !isBufferDescriptor(t) {
		return errors.Wrapf(ErrDescriptorMismatch, "set %d binding %d is not a buffer descriptor", w.set, binding)
	}
	w.writes = append(w.writes, DescriptorWrite{Set: w.handle, Binding: binding, Type: t, Buffers: infos})
	return nil
}

func (w *DescriptorWriter) WriteImage(binding uint32, infos ...DescriptorImageInfo) error {
	t, ok := w.layout.GetDescriptorType(w.set, binding)
	if !ok || !isImageDescriptor(t) {
		return errors.Wrapf(ErrDescriptorMismatch, "set %d binding %d is not an image descriptor", w.set, binding)
	}
	w.writes = append(w.writes, DescriptorWrite{Set: w.handle, Binding: binding, Type: t, Images: infos})
	return nil
}

// WriteBufferByName resolves name through the layout's reflected parameters.
func (w *DescriptorWriter) WriteBufferByName(name string, infos ...DescriptorBufferInfo) error {
	b, ok := w.layout.Lookup(name)
	if !ok || b.Set != w.set {
		return errors.Wrapf(ErrDescriptorMismatch, "no resource %q in set %d", name, w.set)
	}
	return w.WriteBuffer(b.Binding, infos...)
}

func (w *DescriptorWriter) WriteImageByName(name string, infos ...DescriptorImageInfo) error {
	b, ok := w.layout.Lookup(name)
	if !ok || b.Set != w.set {
		return errors.Wrapf(ErrDescriptorMismatch, "no resource %q in set %d", name, w.set)
	}
	return w.WriteImage(b.Binding, infos...)
}

// DynamicOffsetCount is the number of dynamic offsets a bind of this set must supply.
func (w *DescriptorWriter) DynamicOffsetCount() int {
	n := 0
	if l := w.layout.setLayout(w.set); l != nil {
		for _, b := range l.Bindings {
			if isDynamicDescriptor(b.DescriptorType) {
				n += int(b.DescriptorCount)
			}
		}
	}
	return n
}

// Flush sends the pending writes in one update and reports how many were sent.
func (w *DescriptorWriter) Flush(driver Driver) int {
	n := len(w.writes)
	if n > 0 {
		driver.UpdateDescriptorSets(w.writes)
		w.writes = nil
	}
	return n
}
