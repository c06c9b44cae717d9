package dieselrhi

import (
	"encoding/binary"
	"hash/fnv"

	vk "github.com/vulkan-go/vulkan"
)

// VertexAttribute is the semantic of one vertex stream element.
type VertexAttribute int32

const (
	AttributeNone VertexAttribute = iota
	AttributePosition
	AttributeUV0
	AttributeUV1
	AttributeNormal
	AttributeTangent
	AttributeColor
	AttributeSkinWeight
	AttributeSkinIndex
	AttributeSkinPack
	AttributeInstanceFloat1
	AttributeInstanceFloat2
	AttributeInstanceFloat3
	AttributeInstanceFloat4
	AttributeCustom0
	AttributeCustom1
	AttributeCustom2
	AttributeCustom3
	AttributeCount
)

var attributeNames = map[string]VertexAttribute{
	"inPosition":   AttributePosition,
	"inUV0":        AttributeUV0,
	"inUV1":        AttributeUV1,
	"inNormal":     AttributeNormal,
	"inTangent":    AttributeTangent,
	"inColor":      AttributeColor,
	"inSkinWeight": AttributeSkinWeight,
	"inSkinIndex":  AttributeSkinIndex,
	"inSkinPack":   AttributeSkinPack,
	"inCustom0":    AttributeCustom0,
	"inCustom1":    AttributeCustom1,
	"inCustom2":    AttributeCustom2,
	"inCustom3":    AttributeCustom3,
}

// StringToVertexAttribute maps a shader input name to its semantic, AttributeNone when unknown.
func StringToVertexAttribute(name string) VertexAttribute {
	return attributeNames[name]
}

func (a VertexAttribute) String() string {
	switch a {
	case AttributePosition:
		return "Position"
	case AttributeUV0:
		return "UV0"
	case AttributeUV1:
		return "UV1"
	case AttributeNormal:
		return "Normal"
	case AttributeTangent:
		return "Tangent"
	case AttributeColor:
		return "Color"
	case AttributeSkinWeight:
		return "SkinWeight"
	case AttributeSkinIndex:
		return "SkinIndex"
	case AttributeSkinPack:
		return "SkinPack"
	case AttributeInstanceFloat1, AttributeInstanceFloat2, AttributeInstanceFloat3, AttributeInstanceFloat4:
		return "InstanceFloat"
	case AttributeCustom0, AttributeCustom1, AttributeCustom2, AttributeCustom3:
		return "Custom"
	}
	return "None"
}

// IsInstance reports whether the attribute is fed per instance.
func (a VertexAttribute) IsInstance() bool {
	return a >= AttributeInstanceFloat1 && a <= AttributeInstanceFloat4
}

// InstanceAttribute picks the per-instance attribute for a vector of size n.
func InstanceAttribute(n uint32) VertexAttribute {
	switch n {
	case 1:
		return AttributeInstanceFloat1
	case 2:
		return AttributeInstanceFloat2
	case 3:
		return AttributeInstanceFloat3
	case 4:
		return AttributeInstanceFloat4
	}
	return AttributeNone
}

// VertexAttributeToSize is the byte size of one element of the attribute.
func VertexAttributeToSize(a VertexAttribute) uint32 {
	switch a {
	case AttributePosition, AttributeNormal, AttributeColor, AttributeSkinPack:
		return 3 * 4
	case AttributeUV0, AttributeUV1:
		return 2 * 4
	case AttributeTangent, AttributeSkinWeight, AttributeSkinIndex:
		return 4 * 4
	case AttributeInstanceFloat1:
		return 4
	case AttributeInstanceFloat2:
		return 2 * 4
	case AttributeInstanceFloat3:
		return 3 * 4
	case AttributeInstanceFloat4:
		return 4 * 4
	case AttributeCustom0, AttributeCustom1, AttributeCustom2, AttributeCustom3:
		return 4 * 4
	}
	return 0
}

func VertexAttributeToFormat(a VertexAttribute) vk.Format {
	switch VertexAttributeToSize(a) {
	case 4:
		return vk.FormatR32Sfloat
	case 8:
		return vk.FormatR32g32Sfloat
	case 12:
		return vk.FormatR32g32b32Sfloat
	case 16:
		return vk.FormatR32g32b32a32Sfloat
	}
	return vk.FormatUndefined
}

// VertexInputBindingInfo records which location the shader declared for each attribute it reads.
type VertexInputBindingInfo struct {
	Attributes []VertexAttribute
	Locations  []uint32
	hash       uint64
}

func (v *VertexInputBindingInfo) AddBinding(attr VertexAttribute, location uint32) {
	v.Attributes = append(v.Attributes, attr)
	v.Locations = append(v.Locations, location)
	v.hash = 0
}

// GetLocation returns the location for attr, or -1 when the shader does not read it.
func (v *VertexInputBindingInfo) GetLocation(attr VertexAttribute) int32 {
	return v.GetLocationN(attr, 0)
}

// GetLocationN returns the location of the n-th input reading attr, or -1. Only instance
// attributes have more than one.
func (v *VertexInputBindingInfo) GetLocationN(attr VertexAttribute, n int) int32 {
	for i, a := range v.Attributes {
		if a != attr {
			continue
		}
		if n == 0 {
			return int32(v.Locations[i])
		}
		n--
	}
	return -1
}

func (v *VertexInputBindingInfo) Len() int {
	return len(v.Attributes)
}

func (v *VertexInputBindingInfo) Hash() uint64 {
	if v.hash == 0 {
		h := fnv.New64a()
		var buf [8]byte
		for i := range v.Attributes {
			binary.LittleEndian.PutUint32(buf[0:], uint32(v.Attributes[i]))
			binary.LittleEndian.PutUint32(buf[4:], v.Locations[i])
			h.Write(buf[:])
		}
		v.hash = h.Sum64()
	}
	return v.hash
}

// VertexInputBinding is one vertex buffer slot.
type VertexInputBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate vk.VertexInputRate
}

// VertexInputAttribute places an attribute inside a binding. Location is filled from the shader
// when the pipeline is built.
type VertexInputAttribute struct {
	Binding   uint32
	Location  uint32
	Format    vk.Format
	Offset    uint32
	Attribute VertexAttribute
}

// VertexInputDeclareInfo describes how a mesh lays out its vertex data.
type VertexInputDeclareInfo struct {
	Bindings   []VertexInputBinding
	Attributes []VertexInputAttribute
	hash       uint64
}

func (d *VertexInputDeclareInfo) AddBinding(b VertexInputBinding) {
	d.Bindings = append(d.Bindings, b)
	d.hash = 0
}

func (d *VertexInputDeclareInfo) AddAttribute(a VertexInputAttribute) {
	d.Attributes = append(d.Attributes, a)
	d.hash = 0
}

// NewVertexInputDeclare packs attrs tightly into binding 0 in order. Instance attributes go to
// binding 1 with the instance rate.
func NewVertexInputDeclare(attrs ...VertexAttribute) *VertexInputDeclareInfo {
	d := &VertexInputDeclareInfo{}
	var strides [2]uint32
	for _, a := range attrs {
		binding := uint32(0)
		if a.IsInstance() {
			binding = 1
		}
		d.AddAttribute(VertexInputAttribute{
			Binding:   binding,
			Location:  uint32(len(d.Attributes)),
			Format:    VertexAttributeToFormat(a),
			Offset:    strides[binding],
			Attribute: a,
		})
		strides[binding] += VertexAttributeToSize(a)
	}
	if strides[0] > 0 {
		d.AddBinding(VertexInputBinding{Binding: 0, Stride: strides[0], InputRate: vk.VertexInputRateVertex})
	}
	if strides[1] > 0 {
		d.AddBinding(VertexInputBinding{Binding: 1, Stride: strides[1], InputRate: vk.VertexInputRateInstance})
	}
	return d
}

// Bytes serializes bindings then attributes as little-endian words.
func (d *VertexInputDeclareInfo) Bytes() []byte {
	out := make([]byte, 0, 8+len(d.Bindings)*12+len(d.Attributes)*20)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(d.Bindings)))
	for _, b := range d.Bindings {
		out = binary.LittleEndian.AppendUint32(out, b.Binding)
		out = binary.LittleEndian.AppendUint32(out, b.Stride)
		out = binary.LittleEndian.AppendUint32(out, uint32(b.InputRate))
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(d.Attributes)))
	for _, a := range d.Attributes {
		out = binary.LittleEndian.AppendUint32(out, a.Binding)
		out = binary.LittleEndian.AppendUint32(out, a.Location)
		out = binary.LittleEndian.AppendUint32(out, uint32(a.Format))
		out = binary.LittleEndian.AppendUint32(out, a.Offset)
		out = binary.LittleEndian.AppendUint32(out, uint32(a.Attribute))
	}
	return out
}

func (d *VertexInputDeclareInfo) Hash() uint64 {
	if d.hash == 0 {
		h := fnv.New64a()
		h.Write(d.Bytes())
		d.hash = h.Sum64()
	}
	return d.hash
}

// Resolve remaps the declared attributes through the shader's locations. Attributes the shader
// does not read are dropped, as are bindings left without attributes.
func (d *VertexInputDeclareInfo) Resolve(inputs *VertexInputBindingInfo) ([]VertexBindingDesc, []VertexAttributeDesc) {
	var attrs []VertexAttributeDesc
	used := make(map[uint32]bool)
	// Repeated attributes pair up with the shader's inputs in order.
	seen := make(map[VertexAttribute]int)
	for _, a := range d.Attributes {
		loc := inputs.GetLocationN(a.Attribute, seen[a.Attribute])
		seen[a.Attribute]++
		if loc < 0 {
			continue
		}
		attrs = append(attrs, VertexAttributeDesc{Location: uint32(loc), Binding: a.Binding, Format: a.Format, Offset: a.Offset})
		used[a.Binding] = true
	}
	var bindings []VertexBindingDesc
	for _, b := range d.Bindings {
		if used[b.Binding] {
			bindings = append(bindings, VertexBindingDesc{Binding: b.Binding, Stride: b.Stride, InputRate: b.InputRate})
		}
	}
	return bindings, attrs
}
