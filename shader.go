package dieselrhi

import (
	"encoding/binary"
	"hash/fnv"
	"os"
	"sync"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// ShaderModule is one compiled stage: its SPIR-V, what reflection found in it and the driver module.
type ShaderModule struct {
	Stage      vk.ShaderStageFlagBits
	Entry      string
	Path       string
	Code       []byte
	Words      []uint32
	Reflection *Reflection
	Handle     Handle
	hash       uint64
}

// NewShaderModule reflects code and creates the driver module. A zero stage is taken from the
// module's first entry point.
func NewShaderModule(driver Driver, stage vk.ShaderStageFlagBits, code []byte) (*ShaderModule, error) {
	words, err := WordsFromBytes(code)
	if err != nil {
		return nil, err
	}
	refl, err := ParseSPIRV(words)
	if err != nil {
		return nil, err
	}
	if stage == 0 {
		stage = refl.Stage()
	}
	if stage == 0 {
		return nil, errors.Wrap(ErrInvalidShader, "module declares no entry point and no stage was given")
	}
	entry := "main"
	for _, ep := range refl.EntryPoints {
		if ep.Stage == stage {
			entry = ep.Name
			break
		}
	}

	h, err := driver.CreateShaderModule(words)
	if err != nil {
		return nil, stageError(ErrShaderLoad, err, "create shader module")
	}

	hasher := fnv.New64a()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(stage))
	hasher.Write(buf[:])
	hasher.Write(code)

	return &ShaderModule{
		Stage:      stage,
		Entry:      entry,
		Code:       code,
		Words:      words,
		Reflection: refl,
		Handle:     h,
		hash:       hasher.Sum64(),
	}, nil
}

// LoadShaderModule reads a SPIR-V file. A file that cannot be read is ErrShaderLoad.
func LoadShaderModule(driver Driver, path string, stage vk.ShaderStageFlagBits) (*ShaderModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, stageError(ErrShaderLoad, err, "read "+path)
	}
	m, err := NewShaderModule(driver, stage, code)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", path)
	}
	m.Path = path
	return m, nil
}

func (m *ShaderModule) Hash() uint64 {
	return m.hash
}

func (m *ShaderModule) Destroy(driver Driver) {
	if m.Handle != NullHandle {
		driver.DestroyShaderModule(m.Handle)
		m.Handle = NullHandle
	}
}

// ShaderModuleCache loads each path once.
type ShaderModuleCache struct {
	driver  Driver
	mu      sync.Mutex
	modules map[string]*ShaderModule
}

func NewShaderModuleCache(driver Driver) *ShaderModuleCache {
	return &ShaderModuleCache{driver: driver, modules: make(map[string]*ShaderModule)}
}

func (c *ShaderModuleCache) Get(path string, stage vk.ShaderStageFlagBits) (*ShaderModule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.modules[path]; ok {
		return m, nil
	}
	m, err := LoadShaderModule(c.driver, path, stage)
	if err != nil {
		return nil, err
	}
	c.modules[path] = m
	return m, nil
}

func (c *ShaderModuleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.modules)
}

func (c *ShaderModuleCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.modules {
		m.Destroy(c.driver)
	}
	c.modules = make(map[string]*ShaderModule)
}

// Shader is a set of stages linked into one program: the aggregate descriptor layout of all
// stages, the vertex inputs of the vertex stage and the pipeline layout built from them.
type Shader struct {
	name    string
	modules []*ShaderModule

	layout         *DescriptorSetsLayoutInfo
	inputs         *VertexInputBindingInfo
	blockSizes     map[string]uint32
	pipelineLayout Handle
	setLayouts     []Handle
	hash           uint64
}

// NewShader reflects every module into one layout, validates it against limits and fetches the
// set layouts and pipeline layout from layouts.
func NewShader(layouts *LayoutCache, limits DeviceLimits, name string, modules ...*ShaderModule) (*Shader, error) {
	if len(modules) == 0 {
		return nil, errors.Wrapf(ErrInvalidShader, "shader %q has no stages", name)
	}
	s := &Shader{
		name:       name,
		modules:    modules,
		layout:     NewDescriptorSetsLayoutInfo(),
		inputs:     &VertexInputBindingInfo{},
		blockSizes: make(map[string]uint32),
	}
	for _, m := range modules {
		if err := s.reflect(m); err != nil {
			return nil, errors.Wrapf(err, "shader %q", name)
		}
	}
	if err := s.layout.Compile(limits); err != nil {
		return nil, err
	}
	var err error
	s.pipelineLayout, s.setLayouts, err = layouts.GetOrCreatePipelineLayout(s.layout)
	if err != nil {
		return nil, err
	}
	s.hash = s.computeHash()
	Logger().Debug("shader linked", "shader", name, "stages", len(modules),
		"sets", len(s.setLayouts), "inputs", s.inputs.Len(), "layout", s.layout.Hash)
	return s, nil
}

func (s *Shader) reflect(m *ShaderModule) error {
	stage := vk.ShaderStageFlags(m.Stage)
	for _, res := range m.Reflection.Resources {
		err := s.layout.AddDescriptor(res.Name, res.Set, DescriptorSetLayoutBinding{
			Binding:         res.Binding,
			DescriptorType:  res.Type,
			DescriptorCount: res.Count,
			StageFlags:      stage,
		})
		if err != nil {
			return err
		}
		if res.Size > s.blockSizes[res.Name] {
			s.blockSizes[res.Name] = res.Size
		}
	}
	if m.Stage != vk.ShaderStageVertexBit {
		return nil
	}
	for _, in := range m.Reflection.Inputs {
		if !in.HasLocation {
			Logger().Warn("vertex input without location ignored", "shader", s.name, "input", in.Name)
			continue
		}
		attr := StringToVertexAttribute(in.Name)
		if attr == AttributeNone {
			attr = InstanceAttribute(in.VecSize)
			Logger().Warn("unknown vertex input treated as instance attribute",
				"shader", s.name, "input", in.Name, "size", in.VecSize, "attribute", attr.String())
		}
		// Instance attributes repeat, one per input; named semantics appear once.
		if attr == AttributeNone || (!attr.IsInstance() && s.inputs.GetLocation(attr) >= 0) {
			Logger().Warn("vertex input ignored", "shader", s.name, "input", in.Name, "location", in.Location)
			continue
		}
		s.inputs.AddBinding(attr, in.Location)
	}
	return nil
}

func (s *Shader) computeHash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], s.layout.Hash)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], s.inputs.Hash())
	h.Write(buf[:])
	for _, m := range s.modules {
		binary.LittleEndian.PutUint64(buf[:], m.hash)
		h.Write(buf[:])
	}
	return h.Sum64()
}

func (s *Shader) Name() string {
	return s.name
}

// Hash identifies the program in pipeline keys: its layout, vertex inputs and stage code.
func (s *Shader) Hash() uint64 {
	return s.hash
}

func (s *Shader) Modules() []*ShaderModule {
	return s.modules
}

func (s *Shader) SetsLayout() *DescriptorSetsLayoutInfo {
	return s.layout
}

// SetLayouts is indexed by set number, gaps filled with empty layouts.
func (s *Shader) SetLayouts() []Handle {
	return s.setLayouts
}

func (s *Shader) PipelineLayout() Handle {
	return s.pipelineLayout
}

// BlockSize is the declared size of the named uniform or storage block, the largest any stage
// declares. It is zero for unknown names and for other resources.
func (s *Shader) BlockSize(name string) uint32 {
	return s.blockSizes[name]
}

func (s *Shader) VertexInputs() *VertexInputBindingInfo {
	return s.inputs
}

func (s *Shader) StageInfos() []ShaderStageInfo {
	infos := make([]ShaderStageInfo, len(s.modules))
	for i, m := range s.modules {
		infos[i] = ShaderStageInfo{Stage: m.Stage, Module: m.Handle, Entry: m.Entry}
	}
	return infos
}

// VertexDeclare lays the shader's own inputs out tightly, in location order, per-vertex attributes
// in binding 0 and instance attributes in binding 1. Meshes built for this shader can use it as is.
func (s *Shader) VertexDeclare() *VertexInputDeclareInfo {
	// Inputs were added in location order.
	return NewVertexInputDeclare(s.inputs.Attributes...)
}
