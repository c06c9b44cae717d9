package dieselrhi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func allSupported() *PixelFormats {
	table := newPixelFormats()
	for i := range table.infos {
		table.infos[i].Supported = i != int(PixelFormatUnknown)
	}
	return table
}

func TestChooseSurfaceFormat(t *testing.T) {
	table := allSupported()
	srgb := vk.ColorSpaceSrgbNonlinear

	f, pf, err := ChooseSurfaceFormat([]SurfaceFormat{{Format: vk.FormatUndefined, ColorSpace: srgb}}, PixelFormatR8G8B8A8, table)
	require.NoError(t, err)
	assert.Equal(t, SurfaceFormat{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: srgb}, f, "an undefined surface takes the request")
	assert.Equal(t, PixelFormatR8G8B8A8, pf)

	surface := []SurfaceFormat{
		{Format: vk.FormatR5g6b5UnormPack16, ColorSpace: srgb},
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: srgb},
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: srgb},
	}
	f, pf, err = ChooseSurfaceFormat(surface, PixelFormatB8G8R8A8, table)
	require.NoError(t, err)
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, f.Format)
	assert.Equal(t, PixelFormatB8G8R8A8, pf)

	f, pf, err = ChooseSurfaceFormat(surface, PixelFormatA2B10G10R10, table)
	require.NoError(t, err)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, f.Format, "the first known format is the fallback")
	assert.Equal(t, PixelFormatR8G8B8A8, pf)

	table.infos[PixelFormatB8G8R8A8].Supported = false
	_, pf, err = ChooseSurfaceFormat(surface[2:], PixelFormatB8G8R8A8, table)
	assert.ErrorIs(t, err, ErrNoSurfaceFormat, "formats the device cannot use do not count")
	assert.Equal(t, PixelFormatUnknown, pf)

	_, _, err = ChooseSurfaceFormat(nil, PixelFormatB8G8R8A8, table)
	assert.ErrorIs(t, err, ErrNoSurfaceFormat)
	assert.True(t, IsFatal(err))
}

func TestChoosePresentMode(t *testing.T) {
	tests := map[string]struct {
		modes []vk.PresentMode
		vsync bool
		want  vk.PresentMode
	}{
		"immediate without vsync": {[]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate}, false, vk.PresentModeImmediate},
		"no immediate with vsync": {[]vk.PresentMode{vk.PresentModeImmediate, vk.PresentModeFifo}, true, vk.PresentModeFifo},
		"mailbox before fifo":     {[]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}, true, vk.PresentModeMailbox},
		"first reported":          {[]vk.PresentMode{vk.PresentModeFifoRelaxed}, true, vk.PresentModeFifoRelaxed},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ChoosePresentMode(tt.modes, tt.vsync)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ChoosePresentMode(nil, true)
	assert.ErrorIs(t, err, ErrNoPresentMode)
	assert.True(t, IsFatal(err))
}

func TestChooseExtentAndImageCount(t *testing.T) {
	caps := testCaps()
	assert.Equal(t, Extent2D{Width: 640, Height: 480}, ChooseExtent(caps, 1920, 1080), "the surface extent wins")

	caps.CurrentExtent = Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}
	assert.Equal(t, Extent2D{Width: 4096, Height: 1}, ChooseExtent(caps, 5000, 0))
	assert.Equal(t, Extent2D{Width: 800, Height: 600}, ChooseExtent(caps, 800, 600))

	caps = testCaps()
	assert.Equal(t, uint32(2), ChooseImageCount(caps, 1))
	assert.Equal(t, uint32(3), ChooseImageCount(caps, 3))
	assert.Equal(t, uint32(8), ChooseImageCount(caps, 12))
	caps.MaxImageCount = 0
	assert.Equal(t, uint32(12), ChooseImageCount(caps, 12), "no maximum")
}

func newTestSwapchain(t *testing.T, drv *fakeDriver) (*LogicalDevice, *Swapchain) {
	t.Helper()
	dev, surface := newTestDevice(t, drv)
	sc, err := NewSwapchain(dev, surface, SwapchainOptions{
		PixelFormat: PixelFormatB8G8R8A8,
		BackBuffers: 3,
		VSync:       true,
		Width:       640,
		Height:      480,
	}, NullHandle)
	require.NoError(t, err)
	return dev, sc
}

func TestNewSwapchain(t *testing.T) {
	drv := newFakeDriver()
	_, sc := newTestSwapchain(t, drv)

	require.Len(t, drv.swapchainInfos, 1)
	info := drv.swapchainInfos[0]
	assert.Equal(t, uint32(3), info.MinImageCount)
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, info.Format)
	assert.Equal(t, vk.PresentModeMailbox, info.PresentMode)
	assert.Equal(t, Extent2D{Width: 640, Height: 480}, info.Extent)
	assert.Equal(t, vk.SurfaceTransformIdentityBit, info.PreTransform)
	assert.Equal(t, vk.CompositeAlphaOpaqueBit, info.CompositeAlpha)
	assert.Nil(t, info.QueueFamilies, "one family needs no sharing")

	assert.Equal(t, 3, sc.ImageCount())
	assert.Len(t, sc.Views(), 3)
	assert.Equal(t, PixelFormatB8G8R8A8, sc.PixelFormat())
	assert.Equal(t, -1, sc.CurrentImageIndex())
	assert.Equal(t, 3, drv.liveCount("semaphore"))
}

func TestSwapchainAcquireAndPresent(t *testing.T) {
	drv := newFakeDriver()
	dev, sc := newTestSwapchain(t, drv)
	queue := dev.PresentQueue()

	status, err := sc.Present(queue, 99)
	require.NoError(t, err)
	assert.Equal(t, SwapchainHealthy, status)
	assert.Empty(t, drv.presents, "nothing is presented before the first acquire")

	idx, sem0, status, err := sc.AcquireImageIndex()
	require.NoError(t, err)
	assert.Equal(t, SwapchainHealthy, status)
	assert.Equal(t, 0, idx)

	drv.script("AcquireNextImage", vk.ErrorOutOfDate)
	idx, sem, status, err := sc.AcquireImageIndex()
	require.NoError(t, err)
	assert.Equal(t, SwapchainOutOfDate, status)
	assert.Equal(t, -1, idx)
	assert.Equal(t, NullHandle, sem)

	idx, sem1, _, err := sc.AcquireImageIndex()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.NotEqual(t, sem0, sem1)
	_, sem2, _, err := sc.AcquireImageIndex()
	require.NoError(t, err)
	_, sem3, _, err := sc.AcquireImageIndex()
	require.NoError(t, err)
	assert.NotEqual(t, sem1, sem2)
	assert.Equal(t, sem0, sem3, "the failed acquire did not advance the ring")
	assert.Equal(t, uint64(4), sc.NumAcquireCalls())

	status, err = sc.Present(queue, 99)
	require.NoError(t, err)
	assert.Equal(t, SwapchainHealthy, status)
	require.Len(t, drv.presents, 1)
	assert.Equal(t, PresentInfo{WaitSemaphores: []Handle{99}, Swapchain: sc.Handle(), ImageIndex: 0}, drv.presents[0])

	drv.script("QueuePresent", vk.Suboptimal, vk.ErrorSurfaceLost, vk.ErrorDeviceLost)
	status, err = sc.Present(queue, NullHandle)
	require.NoError(t, err)
	assert.Equal(t, SwapchainHealthy, status)
	assert.Nil(t, drv.presents[1].WaitSemaphores)
	status, err = sc.Present(queue, 99)
	require.NoError(t, err)
	assert.Equal(t, SwapchainSurfaceLost, status)
	_, err = sc.Present(queue, 99)
	assert.Equal(t, vk.ErrorDeviceLost, ResultOf(err))
	assert.Equal(t, uint64(2), sc.NumPresentCalls())

	drv.script("AcquireNextImage", vk.ErrorDeviceLost)
	_, _, _, err = sc.AcquireImageIndex()
	assert.Equal(t, vk.ErrorDeviceLost, ResultOf(err))
}

func TestSwapchainDestroy(t *testing.T) {
	drv := newFakeDriver()
	dev, sc := newTestSwapchain(t, drv)

	sc.Destroy()
	sc.Destroy()
	assert.Zero(t, drv.liveCount("swapchain"))
	assert.Zero(t, drv.liveCount("swapchainImage"))
	assert.Zero(t, drv.liveCount("imageView"))
	assert.Equal(t, 3, dev.SemaphoreManager().FreeCount(), "acquire semaphores go back to the pool")
	assert.Equal(t, NullHandle, sc.Handle())
}

func TestNewSwapchainFailures(t *testing.T) {
	drv := newFakeDriver()
	dev, surface := newTestDevice(t, drv)
	opts := SwapchainOptions{PixelFormat: PixelFormatB8G8R8A8, BackBuffers: 3, Width: 640, Height: 480}

	drv.surfaceFormats = nil
	_, err := NewSwapchain(dev, surface, opts, NullHandle)
	assert.ErrorIs(t, err, ErrNoSurfaceFormat)

	drv.surfaceFormats = []SurfaceFormat{{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}}
	drv.fail["CreateImageView"] = errFake
	_, err = NewSwapchain(dev, surface, opts, 5)
	assert.ErrorIs(t, err, errFake)
	assert.Equal(t, Handle(5), drv.swapchainInfos[0].OldSwapchain)
	assert.Zero(t, drv.liveCount("swapchain"), "a half-built swapchain is destroyed")

	delete(drv.fail, "CreateImageView")
	drv.imageCount = 0
	_, err = NewSwapchain(dev, surface, opts, NullHandle)
	assert.ErrorIs(t, err, ErrNoSwapchainImages)
	assert.Zero(t, drv.liveCount("swapchain"))
}
