package dieselrhi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"
)

func TestPixelFormatLookup(t *testing.T) {
	pf, ok := PixelFormatByName("B8G8R8A8")
	assert.True(t, ok)
	assert.Equal(t, PixelFormatB8G8R8A8, pf)

	_, ok = PixelFormatByName("Unknown")
	assert.False(t, ok, "the unknown row is not addressable by name")

	pf, ok = PixelFormatFromVk(vk.FormatD16Unorm)
	assert.True(t, ok)
	assert.Equal(t, PixelFormatShadowDepth, pf)

	pf, _ = PixelFormatFromVk(vk.FormatB10g11r11UfloatPack32)
	assert.Equal(t, PixelFormatFloatRGB, pf, "the first row mapped to a format wins")

	_, ok = PixelFormatFromVk(vk.FormatUndefined)
	assert.False(t, ok)

	assert.Equal(t, "DepthStencil", PixelFormatDepthStencil.String())
	assert.Equal(t, "Invalid", PixelFormat(-1).String())
	assert.Equal(t, "Invalid", pixelFormatMax.String())
}

func TestPixelFormatsTable(t *testing.T) {
	formats := newPixelFormats()
	assert.Zero(t, formats.SupportedCount())
	assert.True(t, formats.Info(PixelFormatD24).IsDepth)
	assert.Equal(t, uint32(16), formats.Info(PixelFormatA32B32G32R32F).BlockBytes)
	assert.Equal(t, PixelFormatInfo{}, formats.Info(pixelFormatMax))
	assert.False(t, formats.IsSupported(PixelFormatR8G8))
	assert.Equal(t, vk.FormatR8g8Unorm, formats.Format(PixelFormatR8G8))
}
