package dieselrhi

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// FrameInfo describes the frame being recorded.
type FrameInfo struct {
	Frame       uint64
	ImageIndex  int
	Extent      Extent2D
	RenderPass  Handle
	Framebuffer Handle
}

// Frame runs one iteration of the frame loop:
//  1. acquire a swapchain image
//  2. wait for the command buffer last submitted for that image
//  3. record into the active command buffer inside the render pass
//  4. submit, waiting on the acquire semaphore and signaling the image's render-complete semaphore
//  5. present, waiting on that semaphore
//
// An out-of-date or lost surface recreates the swapchain and skips the frame. An error returned
// by record is reported after the frame has been submitted and presented.
func (r *RHI) Frame(record func(*CommandBuffer, FrameInfo) error) error {
	if r.needsRecreate {
		if err := r.RecreateSwapchain(); err != nil {
			return err
		}
		if r.needsRecreate {
			return nil
		}
	}

	idx, acquired, status, err := r.swapchain.AcquireImageIndex()
	if err != nil {
		return r.frameError("acquire", err)
	}
	if status != SwapchainHealthy {
		Logger().Debug("acquire needs swapchain recreation", "status", status.String())
		return r.RecreateSwapchain()
	}

	if err := r.waitForImage(idx); err != nil {
		return r.frameError("wait for image", err)
	}

	ctx := r.device.ImmediateContext()
	cmd, err := ctx.BeginFrame(acquired)
	if err != nil {
		return r.frameError("begin frame", err)
	}
	extent := r.swapchain.Extent()
	info := FrameInfo{
		Frame:       r.frameCount,
		ImageIndex:  idx,
		Extent:      extent,
		RenderPass:  r.renderPass.Handle(),
		Framebuffer: r.framebuffers.Get(idx),
	}
	cmd.BeginRenderPass(RenderPassBeginInfo{
		RenderPass:  info.RenderPass,
		Framebuffer: info.Framebuffer,
		Area:        Rect2D{Width: extent.Width, Height: extent.Height},
		ClearValues: r.renderPass.ClearValues(r.clearColor),
	})
	cmd.SetViewport(Viewport{Width: float32(extent.Width), Height: float32(extent.Height), MaxDepth: 1})
	cmd.SetScissor(Rect2D{Width: extent.Width, Height: extent.Height})

	var recordErr error
	if record != nil {
		recordErr = record(cmd, info)
	}
	cmd.EndRenderPass()

	queue := ctx.Queue()
	before := queue.SubmitCount()
	counter := cmd.FenceSignaledCounter()
	if err := ctx.EndFrame(r.renderComplete[idx]); err != nil {
		return r.frameError("end frame", err)
	}
	if queue.SubmitCount() == before {
		// The submit was rejected: nothing will signal render-complete, so present would hang, and
		// nothing waited on the acquire semaphore, so it stays signaled.
		r.droppedFrames++
		r.needsRecreate = true
		Logger().Warn("frame dropped", "frame", r.frameCount, "image", idx)
		if err := r.swapchain.ReplaceAcquireSemaphore(acquired); err != nil {
			return r.frameError("replace acquire semaphore", err)
		}
		return recordErr
	}
	r.imageCmd[idx] = cmd
	r.imageCounter[idx] = counter

	status, err = r.swapchain.Present(r.device.PresentQueue(), r.renderComplete[idx])
	if err != nil {
		return r.frameError("present", err)
	}
	r.frameCount++
	if freed := ctx.CommandBufferManager().FreeUnusedCmdBuffers(cmdBufferMaxIdle); freed > 0 {
		Logger().Debug("freed idle command buffers", "count", freed)
	}
	if status != SwapchainHealthy {
		Logger().Debug("present needs swapchain recreation", "status", status.String())
		if err := r.RecreateSwapchain(); err != nil {
			return err
		}
	}
	if recordErr != nil {
		return errors.Wrapf(recordErr, "record frame %d", info.Frame)
	}
	return nil
}

// waitForImage blocks until the work last submitted for image has finished. A buffer whose fence
// counter moved past the value seen at submit has completed and may already be recording again.
func (r *RHI) waitForImage(image int) error {
	cmd := r.imageCmd[image]
	if cmd == nil || cmd.FenceSignaledCounter() > r.imageCounter[image] {
		return nil
	}
	mgr := r.device.ImmediateContext().CommandBufferManager()
	timeout := uint64(r.cfg.FenceTimeout.Nanoseconds())
	for attempt := 0; attempt <= r.cfg.FenceRetryBudget; attempt++ {
		ok, err := mgr.WaitForCmdBuffer(cmd, timeout)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return errors.Wrapf(ErrDeviceLost, "image %d still busy after %d waits", image, r.cfg.FenceRetryBudget+1)
}

// frameError makes device loss and other driver failures fatal. Everything else is returned as is.
func (r *RHI) frameError(stage string, err error) error {
	if errors.Is(err, ErrDeviceLost) || ResultOf(err) != vk.Success {
		return Fatal(stage, err)
	}
	return errors.Wrap(err, stage)
}
