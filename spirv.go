package dieselrhi

import (
	"encoding/binary"
	"math/bits"
	"sort"
	"strings"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

const spirvMagic uint32 = 0x07230203

const spirvHeaderWords = 5

// SPIR-V opcodes the reflection pass reads. Everything else is skipped by word count.
const (
	opName             = 5
	opMemberName       = 6
	opEntryPoint       = 15
	opTypeVoid         = 19
	opTypeBool         = 20
	opTypeInt          = 21
	opTypeFloat        = 22
	opTypeVector       = 23
	opTypeMatrix       = 24
	opTypeImage        = 25
	opTypeSampler      = 26
	opTypeSampledImage = 27
	opTypeArray        = 28
	opTypeRuntimeArray = 29
	opTypeStruct       = 30
	opTypePointer      = 32
	opConstant         = 43
	opVariable         = 59
	opDecorate         = 71
	opMemberDecorate   = 72
)

const (
	storageUniformConstant = 0
	storageInput           = 1
	storageUniform         = 2
	storagePushConstant    = 9
	storageStorageBuffer   = 12
)

const (
	decorationBlock                = 2
	decorationBufferBlock          = 3
	decorationRowMajor             = 4
	decorationArrayStride          = 6
	decorationMatrixStride         = 7
	decorationBuiltIn              = 11
	decorationLocation             = 30
	decorationBinding              = 33
	decorationDescriptorSet        = 34
	decorationOffset               = 35
	decorationInputAttachmentIndex = 43
)

const (
	dimBuffer      = 5
	dimSubpassData = 6
)

// dynamicMarker in a buffer block's type name selects the dynamic descriptor type.
const dynamicMarker = "Dynamic"

// maxTypeDepth bounds type nesting when sizing blocks.
const maxTypeDepth = 16

// ComponentKind is the scalar kind of a stage input.
type ComponentKind uint8

const (
	ComponentUnknown ComponentKind = iota
	ComponentFloat
	ComponentSint
	ComponentUint
)

// EntryPoint is one OpEntryPoint of a module.
type EntryPoint struct {
	Name  string
	Stage vk.ShaderStageFlagBits
}

// ShaderResource is a descriptor-backed variable found in a module.
type ShaderResource struct {
	Name     string
	TypeName string
	Set      uint32
	Binding  uint32
	Type     vk.DescriptorType
	Count    uint32
	// Size is the declared byte size of a uniform or storage block. A trailing runtime array
	// adds nothing.
	Size uint32
	// InputAttachment is the input attachment index of subpass inputs.
	InputAttachment uint32
}

// StageInput is a non-builtin Input variable.
type StageInput struct {
	Name        string
	Location    uint32
	HasLocation bool
	VecSize     uint32
	Kind        ComponentKind
}

// Reflection is what ParseSPIRV extracts from a module. Resources keep declaration order, Inputs
// are sorted by location.
type Reflection struct {
	Version     uint32
	EntryPoints []EntryPoint
	Resources   []ShaderResource
	Inputs      []StageInput
}

// Stage returns the stage of the first entry point, or 0 when the module declares none.
func (r *Reflection) Stage() vk.ShaderStageFlagBits {
	if len(r.EntryPoints) == 0 {
		return 0
	}
	return r.EntryPoints[0].Stage
}

type spvType struct {
	op       uint32
	operands []uint32
}

type spvVariable struct {
	id      uint32
	typeID  uint32
	storage uint32
}

type memberDeco struct {
	member     uint32
	decoration uint32
}

type spvModule struct {
	names       map[uint32]string
	decorations map[uint32]map[uint32]uint32
	memberDecos map[uint32]map[memberDeco]uint32
	types       map[uint32]spvType
	constants   map[uint32]uint32
	variables   []spvVariable
	entryPoints []EntryPoint
}

// WordsFromBytes reinterprets a little-endian SPIR-V file as words.
func WordsFromBytes(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Wrapf(ErrInvalidShader, "code size %d is not a multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, nil
}

// ParseSPIRV reflects descriptor resources, stage inputs and entry points out of a SPIR-V module.
// The module is never modified; a byte-swapped module is read through a swapped copy.
func ParseSPIRV(words []uint32) (*Reflection, error) {
	if len(words) < spirvHeaderWords {
		return nil, errors.Wrapf(ErrInvalidShader, "module has %d words, header needs %d", len(words), spirvHeaderWords)
	}
	switch words[0] {
	case spirvMagic:
	case bits.ReverseBytes32(spirvMagic):
		swapped := make([]uint32, len(words))
		for i, w := range words {
			swapped[i] = bits.ReverseBytes32(w)
		}
		words = swapped
	default:
		return nil, errors.Wrapf(ErrInvalidShader, "bad magic 0x%08x", words[0])
	}

	m := &spvModule{
		names:       make(map[uint32]string),
		decorations: make(map[uint32]map[uint32]uint32),
		memberDecos: make(map[uint32]map[memberDeco]uint32),
		types:       make(map[uint32]spvType),
		constants:   make(map[uint32]uint32),
	}
	if err := m.scan(words[spirvHeaderWords:]); err != nil {
		return nil, err
	}

	r := &Reflection{Version: words[1], EntryPoints: m.entryPoints}
	for _, v := range m.variables {
		switch v.storage {
		case storageUniformConstant, storageUniform, storageStorageBuffer:
			if res, ok := m.resource(v); ok {
				r.Resources = append(r.Resources, res)
			}
		case storageInput:
			if in, ok := m.input(v); ok {
				r.Inputs = append(r.Inputs, in)
			}
		}
	}
	sort.SliceStable(r.Inputs, func(i, j int) bool { return r.Inputs[i].Location < r.Inputs[j].Location })
	return r, nil
}

func (m *spvModule) scan(stream []uint32) error {
	for pos := 0; pos < len(stream); {
		count := int(stream[pos] >> 16)
		op := stream[pos] & 0xffff
		if count == 0 || pos+count > len(stream) {
			return errors.Wrapf(ErrInvalidShader, "instruction %d at word %d has bad length %d", op, pos+spirvHeaderWords, count)
		}
		args := stream[pos+1 : pos+count]
		pos += count

		switch op {
		case opName:
			if len(args) >= 2 {
				m.names[args[0]], _ = spvString(args[1:])
			}
		case opEntryPoint:
			if len(args) >= 3 {
				name, _ := spvString(args[2:])
				m.entryPoints = append(m.entryPoints, EntryPoint{Name: name, Stage: executionModelStage(args[0])})
			}
		case opDecorate:
			if len(args) >= 2 {
				var value uint32
				if len(args) >= 3 {
					value = args[2]
				}
				d := m.decorations[args[0]]
				if d == nil {
					d = make(map[uint32]uint32)
					m.decorations[args[0]] = d
				}
				d[args[1]] = value
			}
		case opMemberDecorate:
			if len(args) >= 3 {
				var value uint32
				if len(args) >= 4 {
					value = args[3]
				}
				d := m.memberDecos[args[0]]
				if d == nil {
					d = make(map[memberDeco]uint32)
					m.memberDecos[args[0]] = d
				}
				d[memberDeco{member: args[1], decoration: args[2]}] = value
			}
		case opTypeVoid, opTypeBool, opTypeInt, opTypeFloat, opTypeVector, opTypeMatrix, opTypeImage,
			opTypeSampler, opTypeSampledImage, opTypeArray, opTypeRuntimeArray, opTypeStruct, opTypePointer:
			if len(args) >= 1 {
				m.types[args[0]] = spvType{op: op, operands: args[1:]}
			}
		case opConstant:
			if len(args) >= 3 {
				m.constants[args[1]] = args[2]
			}
		case opVariable:
			if len(args) >= 3 {
				m.variables = append(m.variables, spvVariable{typeID: args[0], id: args[1], storage: args[2]})
			}
		}
	}
	return nil
}

func (m *spvModule) decoration(id, deco uint32) (uint32, bool) {
	v, ok := m.decorations[id][deco]
	return v, ok
}

func (m *spvModule) memberDecoration(structID, member, deco uint32) (uint32, bool) {
	v, ok := m.memberDecos[structID][memberDeco{member: member, decoration: deco}]
	return v, ok
}

// pointee resolves a variable's pointer type to the underlying type id.
func (m *spvModule) pointee(v spvVariable) (uint32, bool) {
	ptr, ok := m.types[v.typeID]
	if !ok || ptr.op != opTypePointer || len(ptr.operands) < 2 {
		return 0, false
	}
	return ptr.operands[1], true
}

func (m *spvModule) resource(v spvVariable) (ShaderResource, bool) {
	base, ok := m.pointee(v)
	if !ok {
		return ShaderResource{}, false
	}
	count := uint32(1)
	for {
		t := m.types[base]
		if t.op == opTypeArray && len(t.operands) >= 2 {
			if n, ok := m.constants[t.operands[1]]; ok && n > 0 {
				count *= n
			}
			base = t.operands[0]
			continue
		}
		if t.op == opTypeRuntimeArray && len(t.operands) >= 1 {
			base = t.operands[0]
			continue
		}
		break
	}

	res := ShaderResource{Name: m.names[v.id], TypeName: m.names[base], Count: count}
	res.Set, _ = m.decoration(v.id, decorationDescriptorSet)
	res.Binding, _ = m.decoration(v.id, decorationBinding)

	t := m.types[base]
	switch t.op {
	case opTypeStruct:
		_, block := m.decoration(base, decorationBlock)
		_, bufferBlock := m.decoration(base, decorationBufferBlock)
		res.TypeName = m.blockName(base)
		res.Size = m.typeSize(base, 0)
		dynamic := strings.Contains(res.TypeName, dynamicMarker)
		switch {
		case v.storage == storageStorageBuffer || (v.storage == storageUniform && bufferBlock):
			res.Type = vk.DescriptorTypeStorageBuffer
			if dynamic {
				res.Type = vk.DescriptorTypeStorageBufferDynamic
			}
		case v.storage == storageUniform && block:
			res.Type = vk.DescriptorTypeUniformBuffer
			if dynamic {
				res.Type = vk.DescriptorTypeUniformBufferDynamic
			}
		default:
			return ShaderResource{}, false
		}
	case opTypeSampledImage:
		res.Type = vk.DescriptorTypeCombinedImageSampler
	case opTypeSampler:
		res.Type = vk.DescriptorTypeSampler
	case opTypeImage:
		if len(t.operands) < 6 {
			return ShaderResource{}, false
		}
		dim, sampled := t.operands[1], t.operands[5]
		switch {
		case dim == dimSubpassData:
			res.Type = vk.DescriptorTypeInputAttachment
			res.InputAttachment, _ = m.decoration(v.id, decorationInputAttachmentIndex)
		case dim == dimBuffer && sampled == 2:
			res.Type = vk.DescriptorTypeStorageTexelBuffer
		case dim == dimBuffer:
			res.Type = vk.DescriptorTypeUniformTexelBuffer
		case sampled == 2:
			res.Type = vk.DescriptorTypeStorageImage
		default:
			res.Type = vk.DescriptorTypeSampledImage
		}
	default:
		return ShaderResource{}, false
	}
	return res, true
}

// typeSize is the byte size of a type as laid out by its explicit offsets and strides. Without
// them, members are packed back to back.
func (m *spvModule) typeSize(id uint32, depth int) uint32 {
	if depth > maxTypeDepth {
		return 0
	}
	t := m.types[id]
	switch t.op {
	case opTypeBool:
		return 4
	case opTypeInt, opTypeFloat:
		if len(t.operands) >= 1 {
			return t.operands[0] / 8
		}
	case opTypeVector, opTypeMatrix:
		if len(t.operands) >= 2 {
			return t.operands[1] * m.typeSize(t.operands[0], depth+1)
		}
	case opTypeArray:
		if len(t.operands) >= 2 {
			stride, ok := m.decoration(id, decorationArrayStride)
			if !ok {
				stride = m.typeSize(t.operands[0], depth+1)
			}
			return m.constants[t.operands[1]] * stride
		}
	case opTypeStruct:
		var size uint32
		for i, member := range t.operands {
			offset, ok := m.memberDecoration(id, uint32(i), decorationOffset)
			if !ok {
				offset = size
			}
			if end := offset + m.memberSize(id, uint32(i), member, depth+1); end > size {
				size = end
			}
		}
		return size
	}
	return 0
}

// memberSize applies the member's matrix stride. Column-major matrices take one stride per
// column, row-major ones one per row.
func (m *spvModule) memberSize(structID, member, typeID uint32, depth int) uint32 {
	t := m.types[typeID]
	stride, ok := m.memberDecoration(structID, member, decorationMatrixStride)
	if t.op != opTypeMatrix || !ok || len(t.operands) < 2 {
		return m.typeSize(typeID, depth)
	}
	if _, rowMajor := m.memberDecoration(structID, member, decorationRowMajor); rowMajor {
		if col := m.types[t.operands[0]]; len(col.operands) >= 2 {
			return col.operands[1] * stride
		}
	}
	return t.operands[1] * stride
}

// blockName is the struct's own name, or for a nameless wrapper around a single struct, the
// wrapped struct's name.
func (m *spvModule) blockName(id uint32) string {
	if name := m.names[id]; name != "" {
		return name
	}
	t := m.types[id]
	if len(t.operands) == 1 {
		if inner, ok := m.types[t.operands[0]]; ok && inner.op == opTypeStruct {
			return m.names[t.operands[0]]
		}
	}
	return ""
}

func (m *spvModule) input(v spvVariable) (StageInput, bool) {
	if _, builtin := m.decoration(v.id, decorationBuiltIn); builtin {
		return StageInput{}, false
	}
	base, ok := m.pointee(v)
	if !ok {
		return StageInput{}, false
	}
	t := m.types[base]
	in := StageInput{Name: m.names[v.id], VecSize: 1}
	in.Location, in.HasLocation = m.decoration(v.id, decorationLocation)
	switch t.op {
	case opTypeStruct:
		// Interface blocks such as gl_PerVertex.
		return StageInput{}, false
	case opTypeVector:
		if len(t.operands) < 2 {
			return StageInput{}, false
		}
		in.VecSize = t.operands[1]
		in.Kind = m.componentKind(t.operands[0])
	default:
		in.Kind = m.componentKind(base)
	}
	return in, true
}

func (m *spvModule) componentKind(id uint32) ComponentKind {
	t := m.types[id]
	switch t.op {
	case opTypeFloat:
		return ComponentFloat
	case opTypeInt:
		if len(t.operands) >= 2 && t.operands[1] == 1 {
			return ComponentSint
		}
		return ComponentUint
	}
	return ComponentUnknown
}

// spvString decodes a nul-terminated literal and reports how many words it used.
func spvString(words []uint32) (string, int) {
	var sb strings.Builder
	for i, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		}
	}
	return sb.String(), len(words)
}

func executionModelStage(model uint32) vk.ShaderStageFlagBits {
	switch model {
	case 0:
		return vk.ShaderStageVertexBit
	case 1:
		return vk.ShaderStageTessellationControlBit
	case 2:
		return vk.ShaderStageTessellationEvaluationBit
	case 3:
		return vk.ShaderStageGeometryBit
	case 4:
		return vk.ShaderStageFragmentBit
	case 5:
		return vk.ShaderStageComputeBit
	}
	return 0
}
