package dieselrhi

import (
	"encoding/binary"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/sync/singleflight"
)

// DescriptorSetLayoutInfo is the binding list of one descriptor set. Hash covers the bindings only,
// so the same list used at a different set index maps to the same layout object.
type DescriptorSetLayoutInfo struct {
	Set      uint32
	Bindings []DescriptorSetLayoutBinding
	Hash     uint64
}

func (l *DescriptorSetLayoutInfo) compile() {
	sort.SliceStable(l.Bindings, func(i, j int) bool { return l.Bindings[i].Binding < l.Bindings[j].Binding })
	l.Hash = hashBindings(l.Bindings)
}

func hashBindings(bindings []DescriptorSetLayoutBinding) uint64 {
	h := fnv.New64a()
	var buf [24]byte
	for _, b := range bindings {
		binary.LittleEndian.PutUint32(buf[0:], b.Binding)
		binary.LittleEndian.PutUint32(buf[4:], uint32(b.DescriptorType))
		binary.LittleEndian.PutUint32(buf[8:], b.DescriptorCount)
		binary.LittleEndian.PutUint32(buf[12:], uint32(b.StageFlags))
		binary.LittleEndian.PutUint64(buf[16:], uint64(b.ImmutableSampler))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// BindInfo locates a named shader resource.
type BindInfo struct {
	Set     uint32
	Binding uint32
}

// DescriptorSetsLayoutInfo aggregates every set a shader uses, built up one reflected resource at a
// time. It becomes read-only once Compile succeeds.
type DescriptorSetsLayoutInfo struct {
	SetLayouts  []*DescriptorSetLayoutInfo
	LayoutTypes map[vk.DescriptorType]uint32
	Params      map[string]BindInfo
	Hash        uint64
	compiled    bool
}

func NewDescriptorSetsLayoutInfo() *DescriptorSetsLayoutInfo {
	return &DescriptorSetsLayoutInfo{
		LayoutTypes: make(map[vk.DescriptorType]uint32),
		Params:      make(map[string]BindInfo),
	}
}

// AddDescriptor merges one binding into set. A binding equal to an existing one in every field
// except the count adds to that entry's count. The same slot and type seen from another stage
// widens the stage mask. The same slot with a different type is rejected.
func (d *DescriptorSetsLayoutInfo) AddDescriptor(name string, set uint32, b DescriptorSetLayoutBinding) error {
	if d.compiled {
		return errors.Wrapf(ErrLayoutCreation, "add %q to a compiled layout", name)
	}
	if b.DescriptorCount == 0 {
		b.DescriptorCount = 1
	}
	layout := d.setLayout(set)
	if layout == nil {
		layout = &DescriptorSetLayoutInfo{Set: set}
		d.SetLayouts = append(d.SetLayouts, layout)
	}
	if err := layout.merge(b, d.LayoutTypes); err != nil {
		return errors.Wrapf(err, "set %d", set)
	}
	if name != "" {
		d.Params[name] = BindInfo{Set: set, Binding: b.Binding}
	}
	return nil
}

// merge folds b into the set's bindings and counts what it added in types. Nothing changes when b
// conflicts with an existing binding.
func (l *DescriptorSetLayoutInfo) merge(b DescriptorSetLayoutBinding, types map[vk.DescriptorType]uint32) error {
	for i := range l.Bindings {
		e := &l.Bindings[i]
		if e.Binding != b.Binding {
			continue
		}
		if e.DescriptorType != b.DescriptorType {
			return errors.Wrapf(ErrInvalidShader, "binding %d declared as type %d and %d",
				b.Binding, e.DescriptorType, b.DescriptorType)
		}
		if e.StageFlags == b.StageFlags && e.ImmutableSampler == b.ImmutableSampler {
			e.DescriptorCount += b.DescriptorCount
			types[b.DescriptorType] += b.DescriptorCount
			return nil
		}
		e.StageFlags |= b.StageFlags
		return nil
	}
	l.Bindings = append(l.Bindings, b)
	types[b.DescriptorType] += b.DescriptorCount
	return nil
}

func (d *DescriptorSetsLayoutInfo) setLayout(set uint32) *DescriptorSetLayoutInfo {
	for _, l := range d.SetLayouts {
		if l.Set == set {
			return l
		}
	}
	return nil
}

// GetDescriptorType reports the type declared at set/binding.
func (d *DescriptorSetsLayoutInfo) GetDescriptorType(set, binding uint32) (vk.DescriptorType, bool) {
	if l := d.setLayout(set); l != nil {
		for _, b := range l.Bindings {
			if b.Binding == binding {
				return b.DescriptorType, true
			}
		}
	}
	return 0, false
}

// Lookup finds a resource by its shader variable name.
func (d *DescriptorSetsLayoutInfo) Lookup(name string) (BindInfo, bool) {
	b, ok := d.Params[name]
	return b, ok
}

func (d *DescriptorSetsLayoutInfo) TypesUsed(t vk.DescriptorType) uint32 {
	return d.LayoutTypes[t]
}

// Compiled reports whether Compile has succeeded.
func (d *DescriptorSetsLayoutInfo) Compiled() bool {
	return d.compiled
}

// Compile orders sets and bindings, computes the per-set hashes and the aggregate hash, and checks
// the per-type totals against limits. Exceeding a limit is fatal for this layout and leaves it
// uncompiled.
func (d *DescriptorSetsLayoutInfo) Compile(limits DeviceLimits) error {
	if d.compiled {
		return nil
	}
	sort.SliceStable(d.SetLayouts, func(i, j int) bool { return d.SetLayouts[i].Set < d.SetLayouts[j].Set })

	h := fnv.New64a()
	var buf [12]byte
	for _, l := range d.SetLayouts {
		l.compile()
		binary.LittleEndian.PutUint32(buf[0:], l.Set)
		binary.LittleEndian.PutUint64(buf[4:], l.Hash)
		h.Write(buf[:])
	}

	if err := d.checkLimits(limits); err != nil {
		return Fatal("descriptor limits", err)
	}
	d.Hash = h.Sum64()
	d.compiled = true
	return nil
}

func (d *DescriptorSetsLayoutInfo) checkLimits(limits DeviceLimits) error {
	t := d.LayoutTypes
	checks := []struct {
		name  string
		used  uint32
		limit uint32
	}{
		{"maxDescriptorSetSamplers", t[vk.DescriptorTypeSampler] + t[vk.DescriptorTypeCombinedImageSampler], limits.MaxDescriptorSetSamplers},
		{"maxDescriptorSetUniformBuffers", t[vk.DescriptorTypeUniformBuffer] + t[vk.DescriptorTypeUniformBufferDynamic], limits.MaxDescriptorSetUniformBuffers},
		{"maxDescriptorSetUniformBuffersDynamic", t[vk.DescriptorTypeUniformBufferDynamic], limits.MaxDescriptorSetUniformBuffersDynamic},
		{"maxDescriptorSetStorageBuffers", t[vk.DescriptorTypeStorageBuffer] + t[vk.DescriptorTypeStorageBufferDynamic], limits.MaxDescriptorSetStorageBuffers},
		{"maxDescriptorSetStorageBuffersDynamic", t[vk.DescriptorTypeStorageBufferDynamic], limits.MaxDescriptorSetStorageBuffersDynamic},
		{"maxDescriptorSetSampledImages", t[vk.DescriptorTypeCombinedImageSampler] + t[vk.DescriptorTypeSampledImage] + t[vk.DescriptorTypeUniformTexelBuffer], limits.MaxDescriptorSetSampledImages},
		{"maxDescriptorSetStorageImages", t[vk.DescriptorTypeStorageImage] + t[vk.DescriptorTypeStorageTexelBuffer], limits.MaxDescriptorSetStorageImages},
		{"maxDescriptorSetInputAttachments", t[vk.DescriptorTypeInputAttachment], limits.MaxDescriptorSetInputAttachments},
		{"maxBoundDescriptorSets", uint32(d.setSpan()), limits.MaxBoundDescriptorSets},
	}
	for _, c := range checks {
		if c.used > c.limit {
			return errors.Wrapf(ErrDescriptorLimits, "%s: %d used, limit %d", c.name, c.used, c.limit)
		}
	}
	return nil
}

// setSpan is the number of set slots a pipeline layout needs, gaps included.
func (d *DescriptorSetsLayoutInfo) setSpan() int {
	span := 0
	for _, l := range d.SetLayouts {
		if int(l.Set)+1 > span {
			span = int(l.Set) + 1
		}
	}
	return span
}

// PoolSizes is the per-type descriptor count needed for maxSets copies of this layout.
func (d *DescriptorSetsLayoutInfo) PoolSizes(maxSets uint32) []DescriptorPoolSize {
	types := make([]vk.DescriptorType, 0, len(d.LayoutTypes))
	for t, n := range d.LayoutTypes {
		if n > 0 {
			types = append(types, t)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	sizes := make([]DescriptorPoolSize, 0, len(types))
	for _, t := range types {
		sizes = append(sizes, DescriptorPoolSize{Type: t, Count: d.LayoutTypes[t] * maxSets})
	}
	return sizes
}

// LayoutCache owns descriptor set layouts and pipeline layouts for one device. Identical binding
// lists always resolve to the same layout handle, and identical set lists to the same pipeline
// layout.
//
// LayoutCache is safe for concurrent use.
type LayoutCache struct {
	driver Driver

	mu              sync.RWMutex
	setLayouts      map[uint64]Handle
	pipelineLayouts map[uint64]pipelineLayoutEntry
	group           singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

type pipelineLayoutEntry struct {
	layout Handle
	sets   []Handle
}

func NewLayoutCache(driver Driver) *LayoutCache {
	return &LayoutCache{
		driver:          driver,
		setLayouts:      make(map[uint64]Handle),
		pipelineLayouts: make(map[uint64]pipelineLayoutEntry),
	}
}

// GetOrCreateDescriptorSetLayout returns the layout for info's bindings, creating it on first use.
func (c *LayoutCache) GetOrCreateDescriptorSetLayout(info *DescriptorSetLayoutInfo) (Handle, error) {
	if info.Hash == 0 {
		info.compile()
	}
	key := info.Hash

	c.mu.RLock()
	h, ok := c.setLayouts[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return h, nil
	}

	v, err, _ := c.group.Do("set:"+strconv.FormatUint(key, 16), func() (any, error) {
		c.mu.RLock()
		h, ok := c.setLayouts[key]
		c.mu.RUnlock()
		if ok {
			c.hits.Add(1)
			return h, nil
		}
		h, err := c.driver.CreateDescriptorSetLayout(info.Bindings)
		if err != nil {
			return NullHandle, Fatal("descriptor set layout", stageError(ErrLayoutCreation, err, "create descriptor set layout"))
		}
		c.mu.Lock()
		c.setLayouts[key] = h
		c.mu.Unlock()
		c.misses.Add(1)
		Logger().Debug("descriptor set layout created", "hash", key, "bindings", len(info.Bindings))
		return h, nil
	})
	if err != nil {
		return NullHandle, err
	}
	return v.(Handle), nil
}

// GetOrCreatePipelineLayout returns the pipeline layout for a compiled set list together with the
// set layout handles indexed by set number. Unused set numbers below the highest one get an empty
// layout.
func (c *LayoutCache) GetOrCreatePipelineLayout(sets *DescriptorSetsLayoutInfo) (Handle, []Handle, error) {
	if !sets.compiled {
		return NullHandle, nil, errors.Wrap(ErrLayoutCreation, "pipeline layout from an uncompiled set list")
	}
	key := sets.Hash

	c.mu.RLock()
	e, ok := c.pipelineLayouts[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return e.layout, e.sets, nil
	}

	v, err, _ := c.group.Do("pipeline:"+strconv.FormatUint(key, 16), func() (any, error) {
		c.mu.RLock()
		e, ok := c.pipelineLayouts[key]
		c.mu.RUnlock()
		if ok {
			c.hits.Add(1)
			return e, nil
		}
		handles := make([]Handle, sets.setSpan())
		for i := range handles {
			info := sets.setLayout(uint32(i))
			if info == nil {
				info = &DescriptorSetLayoutInfo{Set: uint32(i)}
			}
			h, err := c.GetOrCreateDescriptorSetLayout(info)
			if err != nil {
				return nil, err
			}
			handles[i] = h
		}
		layout, err := c.driver.CreatePipelineLayout(handles)
		if err != nil {
			return nil, Fatal("pipeline layout", stageError(ErrLayoutCreation, err, "create pipeline layout"))
		}
		e = pipelineLayoutEntry{layout: layout, sets: handles}
		c.mu.Lock()
		c.pipelineLayouts[key] = e
		c.mu.Unlock()
		c.misses.Add(1)
		Logger().Debug("pipeline layout created", "hash", key, "sets", len(handles))
		return e, nil
	})
	if err != nil {
		return NullHandle, nil, err
	}
	e = v.(pipelineLayoutEntry)
	return e.layout, e.sets, nil
}

// Stats returns cache hits and misses across both layout kinds.
func (c *LayoutCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of descriptor set layouts and pipeline layouts held.
func (c *LayoutCache) Len() (setLayouts, pipelineLayouts int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.setLayouts), len(c.pipelineLayouts)
}

// Destroy releases every layout. Pipelines built on them must be gone already.
func (c *LayoutCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.pipelineLayouts {
		c.driver.DestroyPipelineLayout(e.layout)
	}
	for _, h := range c.setLayouts {
		c.driver.DestroyDescriptorSetLayout(h)
	}
	c.pipelineLayouts = make(map[uint64]pipelineLayoutEntry)
	c.setLayouts = make(map[uint64]Handle)
}
