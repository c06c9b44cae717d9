package dieselrhi

import vk "github.com/vulkan-go/vulkan"

// PixelFormat is the engine-side name of a texel format. The device maps each to a vk.Format and
// records whether the GPU supports it.
type PixelFormat int32

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatA32B32G32R32F
	PixelFormatB8G8R8A8
	PixelFormatG8
	PixelFormatG16
	PixelFormatFloatRGB
	PixelFormatFloatRGBA
	PixelFormatDepthStencil
	PixelFormatShadowDepth
	PixelFormatR32Float
	PixelFormatG16R16
	PixelFormatG16R16F
	PixelFormatG32R32F
	PixelFormatA2B10G10R10
	PixelFormatA16B16G16R16
	PixelFormatD24
	PixelFormatR16F
	PixelFormatFloatR11G11B10
	PixelFormatR32Uint
	PixelFormatR32Sint
	PixelFormatR16Uint
	PixelFormatR16Sint
	PixelFormatR8G8B8A8
	PixelFormatR8G8
	PixelFormatR8Uint
	PixelFormatR32G32B32A32Uint
	pixelFormatMax
)

// PixelFormatInfo is one row of the device's format table.
type PixelFormatInfo struct {
	Name          string
	BlockBytes    uint32
	NumComponents uint32
	Format        vk.Format
	Supported     bool
	IsDepth       bool
}

var pixelFormatTable = [pixelFormatMax]PixelFormatInfo{
	PixelFormatUnknown:          {Name: "Unknown", Format: vk.FormatUndefined},
	PixelFormatA32B32G32R32F:    {Name: "A32B32G32R32F", BlockBytes: 16, NumComponents: 4, Format: vk.FormatR32g32b32a32Sfloat},
	PixelFormatB8G8R8A8:         {Name: "B8G8R8A8", BlockBytes: 4, NumComponents: 4, Format: vk.FormatB8g8r8a8Unorm},
	PixelFormatG8:               {Name: "G8", BlockBytes: 1, NumComponents: 1, Format: vk.FormatR8Unorm},
	PixelFormatG16:              {Name: "G16", BlockBytes: 2, NumComponents: 1, Format: vk.FormatR16Unorm},
	PixelFormatFloatRGB:         {Name: "FloatRGB", BlockBytes: 4, NumComponents: 3, Format: vk.FormatB10g11r11UfloatPack32},
	PixelFormatFloatRGBA:        {Name: "FloatRGBA", BlockBytes: 8, NumComponents: 4, Format: vk.FormatR16g16b16a16Sfloat},
	PixelFormatDepthStencil:     {Name: "DepthStencil", BlockBytes: 4, NumComponents: 2, Format: vk.FormatD24UnormS8Uint, IsDepth: true},
	PixelFormatShadowDepth:      {Name: "ShadowDepth", BlockBytes: 2, NumComponents: 1, Format: vk.FormatD16Unorm, IsDepth: true},
	PixelFormatR32Float:         {Name: "R32Float", BlockBytes: 4, NumComponents: 1, Format: vk.FormatR32Sfloat},
	PixelFormatG16R16:           {Name: "G16R16", BlockBytes: 4, NumComponents: 2, Format: vk.FormatR16g16Unorm},
	PixelFormatG16R16F:          {Name: "G16R16F", BlockBytes: 4, NumComponents: 2, Format: vk.FormatR16g16Sfloat},
	PixelFormatG32R32F:          {Name: "G32R32F", BlockBytes: 8, NumComponents: 2, Format: vk.FormatR32g32Sfloat},
	PixelFormatA2B10G10R10:      {Name: "A2B10G10R10", BlockBytes: 4, NumComponents: 4, Format: vk.FormatA2b10g10r10UnormPack32},
	PixelFormatA16B16G16R16:     {Name: "A16B16G16R16", BlockBytes: 8, NumComponents: 4, Format: vk.FormatR16g16b16a16Unorm},
	PixelFormatD24:              {Name: "D24", BlockBytes: 4, NumComponents: 1, Format: vk.FormatX8D24UnormPack32, IsDepth: true},
	PixelFormatR16F:             {Name: "R16F", BlockBytes: 2, NumComponents: 1, Format: vk.FormatR16Sfloat},
	PixelFormatFloatR11G11B10:   {Name: "FloatR11G11B10", BlockBytes: 4, NumComponents: 3, Format: vk.FormatB10g11r11UfloatPack32},
	PixelFormatR32Uint:          {Name: "R32Uint", BlockBytes: 4, NumComponents: 1, Format: vk.FormatR32Uint},
	PixelFormatR32Sint:          {Name: "R32Sint", BlockBytes: 4, NumComponents: 1, Format: vk.FormatR32Sint},
	PixelFormatR16Uint:          {Name: "R16Uint", BlockBytes: 2, NumComponents: 1, Format: vk.FormatR16Uint},
	PixelFormatR16Sint:          {Name: "R16Sint", BlockBytes: 2, NumComponents: 1, Format: vk.FormatR16Sint},
	PixelFormatR8G8B8A8:         {Name: "R8G8B8A8", BlockBytes: 4, NumComponents: 4, Format: vk.FormatR8g8b8a8Unorm},
	PixelFormatR8G8:             {Name: "R8G8", BlockBytes: 2, NumComponents: 2, Format: vk.FormatR8g8Unorm},
	PixelFormatR8Uint:           {Name: "R8Uint", BlockBytes: 1, NumComponents: 1, Format: vk.FormatR8Uint},
	PixelFormatR32G32B32A32Uint: {Name: "R32G32B32A32Uint", BlockBytes: 16, NumComponents: 4, Format: vk.FormatR32g32b32a32Uint},
}

func (p PixelFormat) String() string {
	if p < 0 || p >= pixelFormatMax {
		return "Invalid"
	}
	return pixelFormatTable[p].Name
}

// PixelFormatByName looks a format up by its table name, as used in config files.
func PixelFormatByName(name string) (PixelFormat, bool) {
	for i := PixelFormat(1); i < pixelFormatMax; i++ {
		if pixelFormatTable[i].Name == name {
			return i, true
		}
	}
	return PixelFormatUnknown, false
}

// PixelFormatFromVk finds the first table entry mapped to f.
func PixelFormatFromVk(f vk.Format) (PixelFormat, bool) {
	if f == vk.FormatUndefined {
		return PixelFormatUnknown, false
	}
	for i := PixelFormat(1); i < pixelFormatMax; i++ {
		if pixelFormatTable[i].Format == f {
			return i, true
		}
	}
	return PixelFormatUnknown, false
}

// PixelFormats is a device's copy of the format table with support bits filled in.
type PixelFormats struct {
	infos [pixelFormatMax]PixelFormatInfo
}

func newPixelFormats() *PixelFormats {
	return &PixelFormats{infos: pixelFormatTable}
}

func (p *PixelFormats) Info(f PixelFormat) PixelFormatInfo {
	if f < 0 || f >= pixelFormatMax {
		return PixelFormatInfo{}
	}
	return p.infos[f]
}

func (p *PixelFormats) IsSupported(f PixelFormat) bool {
	return p.Info(f).Supported
}

func (p *PixelFormats) Format(f PixelFormat) vk.Format {
	return p.Info(f).Format
}

// SupportedCount is the number of formats marked supported.
func (p *PixelFormats) SupportedCount() int {
	n := 0
	for i := range p.infos {
		if p.infos[i].Supported {
			n++
		}
	}
	return n
}
