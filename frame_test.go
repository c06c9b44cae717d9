package dieselrhi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestFrame(t *testing.T) {
	drv := newFakeDriver()
	r := newTestRHI(t, drv, &fakeWindow{width: 640, height: 480})
	r.SetClearColor([4]float32{0.1, 0.2, 0.3, 1})

	var seen []FrameInfo
	record := func(cmd *CommandBuffer, info FrameInfo) error {
		assert.Equal(t, CmdIsInsideRenderPass, cmd.State())
		cmd.Draw(3, 1, 0, 0)
		seen = append(seen, info)
		return nil
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Frame(record))
	}

	assert.Equal(t, uint64(4), r.FrameCount())
	assert.Zero(t, r.DroppedFrames())
	assert.Equal(t, 4, drv.draws)
	require.Len(t, seen, 4)
	assert.Equal(t, []int{0, 1, 2, 0}, []int{seen[0].ImageIndex, seen[1].ImageIndex, seen[2].ImageIndex, seen[3].ImageIndex})
	assert.Equal(t, uint64(3), seen[3].Frame)
	assert.Equal(t, Extent2D{Width: 640, Height: 480}, seen[0].Extent)
	assert.Equal(t, r.Framebuffers().Get(1), seen[1].Framebuffer)
	assert.Equal(t, Viewport{Width: 640, Height: 480, MaxDepth: 1}, drv.viewports[0])

	require.Len(t, drv.submits, 4)
	require.Len(t, drv.presents, 4)
	for i := range drv.submits {
		submit, present := drv.submits[i], drv.presents[i]
		require.Len(t, submit.WaitSemaphores, 1)
		assert.Equal(t, []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}, submit.WaitStages)
		assert.Equal(t, submit.SignalSemaphores, present.WaitSemaphores, "present waits on the frame's render-complete semaphore")
		assert.Equal(t, uint32(seen[i].ImageIndex), present.ImageIndex)
	}
	assert.Equal(t, drv.submits[0].SignalSemaphores, drv.submits[3].SignalSemaphores, "render-complete semaphores are per image")
}

func TestFrameAcquireOutOfDate(t *testing.T) {
	drv := newFakeDriver()
	r := newTestRHI(t, drv, &fakeWindow{width: 640, height: 480})
	first := r.Swapchain().Handle()

	drv.script("AcquireNextImage", vk.ErrorOutOfDate)
	called := false
	require.NoError(t, r.Frame(func(*CommandBuffer, FrameInfo) error { called = true; return nil }))

	assert.False(t, called, "the frame is skipped")
	assert.Zero(t, r.FrameCount())
	require.Len(t, drv.swapchainInfos, 2)
	assert.Equal(t, first, drv.swapchainInfos[1].OldSwapchain)
	assert.Equal(t, 1, drv.liveCount("swapchain"))
	assert.Equal(t, 3, drv.liveCount("framebuffer"))

	require.NoError(t, r.Frame(nil))
	assert.Equal(t, uint64(1), r.FrameCount())
}

func TestFramePresentOutOfDate(t *testing.T) {
	drv := newFakeDriver()
	r := newTestRHI(t, drv, &fakeWindow{width: 640, height: 480})

	drv.script("QueuePresent", vk.ErrorOutOfDate)
	require.NoError(t, r.Frame(nil))
	assert.Equal(t, uint64(1), r.FrameCount(), "the frame was submitted before the swapchain went stale")
	assert.Len(t, drv.swapchainInfos, 2)
}

func TestFrameSubmitRejected(t *testing.T) {
	drv := newFakeDriver()
	r := newTestRHI(t, drv, &fakeWindow{width: 640, height: 480})

	signaled := r.Swapchain().acquireSems[0]
	liveSems := drv.liveCount("semaphore")
	drv.script("QueueSubmit", vk.ErrorOutOfHostMemory)
	require.NoError(t, r.Frame(nil))
	assert.Equal(t, uint64(1), r.DroppedFrames())
	assert.Zero(t, r.FrameCount())
	assert.Empty(t, drv.presents, "nothing signals render-complete, so nothing is presented")

	assert.False(t, drv.live["semaphore"][signaled], "the still signaled acquire semaphore is destroyed")
	assert.NotContains(t, r.Swapchain().acquireSems, signaled)
	assert.NotContains(t, r.Device().SemaphoreManager().free, signaled)
	assert.Equal(t, liveSems, drv.liveCount("semaphore"), "a fresh semaphore takes its place")

	require.NoError(t, r.Frame(nil))
	assert.Len(t, drv.swapchainInfos, 2, "the next frame rebuilds the swapchain first")
	assert.Equal(t, uint64(1), r.FrameCount())
	assert.Len(t, drv.presents, 1)
}

func TestFrameMinimized(t *testing.T) {
	drv := newFakeDriver()
	win := &fakeWindow{width: 640, height: 480}
	r := newTestRHI(t, drv, win)

	win.width, win.height = 0, 0
	drv.script("AcquireNextImage", vk.ErrorOutOfDate)
	require.NoError(t, r.Frame(nil))
	require.NoError(t, r.Frame(nil))
	assert.Equal(t, 1, drv.calls["AcquireNextImage"], "nothing is acquired while the window has no area")
	assert.Len(t, drv.swapchainInfos, 1)

	win.width, win.height = 800, 600
	require.NoError(t, r.Frame(nil))
	assert.Len(t, drv.swapchainInfos, 2)
	assert.Equal(t, uint64(1), r.FrameCount())
}

func TestFrameRecordError(t *testing.T) {
	drv := newFakeDriver()
	r := newTestRHI(t, drv, &fakeWindow{width: 640, height: 480})

	err := r.Frame(func(*CommandBuffer, FrameInfo) error { return errFake })
	assert.ErrorIs(t, err, errFake)
	assert.False(t, IsFatal(err))
	assert.Equal(t, uint64(1), r.FrameCount(), "the frame is still submitted and presented")
	assert.Len(t, drv.presents, 1)
}

func TestFrameDeviceLost(t *testing.T) {
	drv := newFakeDriver()
	r := newTestRHI(t, drv, &fakeWindow{width: 640, height: 480})

	drv.script("AcquireNextImage", vk.ErrorDeviceLost)
	err := r.Frame(nil)
	assert.True(t, IsFatal(err))
	assert.Equal(t, vk.ErrorDeviceLost, ResultOf(err))

	drv.script("QueuePresent", vk.ErrorDeviceLost)
	err = r.Frame(nil)
	assert.True(t, IsFatal(err))
}

func TestFrameWaitsForBusyImage(t *testing.T) {
	drv := newFakeDriver()
	r := newTestRHI(t, drv, &fakeWindow{width: 640, height: 480})

	// Fences never signal, so image 0's buffer is still in flight when the ring comes back to it.
	drv.sticky["GetFenceStatus"] = vk.NotReady
	drv.sticky["WaitForFence"] = vk.Timeout
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Frame(nil))
	}
	assert.Zero(t, drv.calls["WaitForFence"])

	err := r.Frame(nil)
	assert.ErrorIs(t, err, ErrDeviceLost)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 3, drv.calls["WaitForFence"], "one wait per timeout until the retry budget runs out")
	assert.Equal(t, uint64(3), r.FrameCount())
}
