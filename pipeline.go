package dieselrhi

import (
	"encoding/binary"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/sync/singleflight"
)

type StencilOpState struct {
	FailOp      vk.StencilOp
	PassOp      vk.StencilOp
	DepthFailOp vk.StencilOp
	CompareOp   vk.CompareOp
	CompareMask uint32
	WriteMask   uint32
	Reference   uint32
}

// PipelineStateInfo is the fixed-function state of a graphics pipeline. It holds plain values only,
// so two states with the same bytes are the same pipeline variant.
type PipelineStateInfo struct {
	// Input assembly.
	Topology         vk.PrimitiveTopology
	PrimitiveRestart bool

	// Rasterization.
	DepthClamp        bool
	RasterizerDiscard bool
	PolygonMode       vk.PolygonMode
	CullMode          vk.CullModeFlags
	FrontFace         vk.FrontFace
	DepthBias         bool
	DepthBiasConstant float32
	DepthBiasClamp    float32
	DepthBiasSlope    float32
	LineWidth         float32

	// One color blend attachment.
	BlendEnable    bool
	SrcColorBlend  vk.BlendFactor
	DstColorBlend  vk.BlendFactor
	ColorBlendOp   vk.BlendOp
	SrcAlphaBlend  vk.BlendFactor
	DstAlphaBlend  vk.BlendFactor
	AlphaBlendOp   vk.BlendOp
	ColorWriteMask vk.ColorComponentFlags

	ViewportCount uint32
	ScissorCount  uint32

	// Depth and stencil.
	DepthTest       bool
	DepthWrite      bool
	DepthCompare    vk.CompareOp
	DepthBoundsTest bool
	StencilTest     bool
	Front           StencilOpState
	Back            StencilOpState
	MinDepthBounds  float32
	MaxDepthBounds  float32

	// Multisample.
	Samples          vk.SampleCountFlagBits
	SampleShading    bool
	MinSampleShading float32
	AlphaToCoverage  bool
	AlphaToOne       bool
}

func DefaultPipelineStateInfo() PipelineStateInfo {
	stencil := StencilOpState{
		FailOp:      vk.StencilOpKeep,
		PassOp:      vk.StencilOpKeep,
		DepthFailOp: vk.StencilOpKeep,
		CompareOp:   vk.CompareOpAlways,
	}
	return PipelineStateInfo{
		Topology:    vk.PrimitiveTopologyTriangleList,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1.0,

		SrcColorBlend: vk.BlendFactorOne,
		DstColorBlend: vk.BlendFactorZero,
		ColorBlendOp:  vk.BlendOpAdd,
		SrcAlphaBlend: vk.BlendFactorOne,
		DstAlphaBlend: vk.BlendFactorZero,
		AlphaBlendOp:  vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
			vk.ColorComponentBBit | vk.ColorComponentABit),

		ViewportCount: 1,
		ScissorCount:  1,

		DepthTest:      true,
		DepthWrite:     true,
		DepthCompare:   vk.CompareOpLessOrEqual,
		Front:          stencil,
		Back:           stencil,
		MinDepthBounds: 0,
		MaxDepthBounds: 1,

		Samples:          vk.SampleCount1Bit,
		MinSampleShading: 1.0,
	}
}

// Bytes is the little-endian image of the state, the blob the pipeline key is hashed from.
func (s *PipelineStateInfo) Bytes() []byte {
	out, err := binary.Append(nil, binary.LittleEndian, s)
	if err != nil {
		// Every field is fixed size.
		panic(err)
	}
	return out
}

// PipelineKey combines state, shader and vertex layout into one cache key, in that order.
func PipelineKey(state *PipelineStateInfo, shaderHash uint64, vertex *VertexInputDeclareInfo) uint64 {
	h := fnv.New64a()
	h.Write(state.Bytes())
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], shaderHash)
	h.Write(buf[:])
	if vertex != nil {
		h.Write(vertex.Bytes())
	}
	return h.Sum64()
}

// PipelineStats reports cache behaviour. Failures are creation attempts the driver rejected.
type PipelineStats struct {
	Hits     uint64
	Misses   uint64
	Failures uint64
	Size     int
}

// PipelineStateCache creates each distinct graphics pipeline once and hands the same handle back
// for every later request with the same key. Entries live until Destroy. Failed creations are not
// remembered, the next request retries.
//
// PipelineStateCache is safe for concurrent use.
type PipelineStateCache struct {
	driver Driver

	mu        sync.RWMutex
	pipelines map[uint64]Handle
	group     singleflight.Group

	hits     atomic.Uint64
	misses   atomic.Uint64
	failures atomic.Uint64
}

func NewPipelineStateCache(driver Driver) *PipelineStateCache {
	return &PipelineStateCache{
		driver:    driver,
		pipelines: make(map[uint64]Handle),
	}
}

// GetGfxPipeline returns the pipeline for (state, shader, vertex) on renderPass. Vertex attributes
// are placed on the locations the shader declared; attributes it does not read are left out.
func (c *PipelineStateCache) GetGfxPipeline(state *PipelineStateInfo, shader *Shader, vertex *VertexInputDeclareInfo, renderPass Handle) (Handle, error) {
	if state == nil || shader == nil {
		return NullHandle, errors.Wrap(ErrPipelineCreation, "nil state or shader")
	}
	key := PipelineKey(state, shader.Hash(), vertex)

	c.mu.RLock()
	h, ok := c.pipelines[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return h, nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(key, 16), func() (any, error) {
		c.mu.RLock()
		h, ok := c.pipelines[key]
		c.mu.RUnlock()
		if ok {
			c.hits.Add(1)
			return h, nil
		}

		info := GraphicsPipelineCreateInfo{
			Stages:        shader.StageInfos(),
			State:         *state,
			DynamicStates: []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
			Layout:        shader.PipelineLayout(),
			RenderPass:    renderPass,
		}
		if vertex != nil {
			info.VertexBindings, info.VertexAttributes = vertex.Resolve(shader.VertexInputs())
		}
		h, err := c.driver.CreateGraphicsPipeline(info)
		if err != nil {
			c.failures.Add(1)
			Logger().Error("graphics pipeline creation failed",
				"key", key, "shader", shader.Name(), "stages", len(info.Stages),
				"attributes", len(info.VertexAttributes), "err", err)
			return NullHandle, Fatal("pipeline", stageError(ErrPipelineCreation, err, "create graphics pipeline"))
		}
		c.mu.Lock()
		c.pipelines[key] = h
		c.mu.Unlock()
		c.misses.Add(1)
		Logger().Debug("graphics pipeline created", "key", key, "shader", shader.Name())
		return h, nil
	})
	if err != nil {
		return NullHandle, err
	}
	return v.(Handle), nil
}

func (c *PipelineStateCache) Stats() PipelineStats {
	c.mu.RLock()
	size := len(c.pipelines)
	c.mu.RUnlock()
	return PipelineStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Failures: c.failures.Load(),
		Size:     size,
	}
}

// Destroy releases every pipeline and empties the cache.
func (c *PipelineStateCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.pipelines {
		c.driver.DestroyPipeline(h)
	}
	c.pipelines = make(map[uint64]Handle)
}
