package dieselrhi

import (
	vk "github.com/vulkan-go/vulkan"
)

type CmdBufferState uint8

const (
	CmdNotAllocated CmdBufferState = iota
	CmdReadyForBegin
	CmdIsInsideBegin
	CmdIsInsideRenderPass
	CmdHasEnded
	CmdSubmitted
)

func (s CmdBufferState) String() string {
	switch s {
	case CmdNotAllocated:
		return "NotAllocated"
	case CmdReadyForBegin:
		return "ReadyForBegin"
	case CmdIsInsideBegin:
		return "IsInsideBegin"
	case CmdIsInsideRenderPass:
		return "IsInsideRenderPass"
	case CmdHasEnded:
		return "HasEnded"
	case CmdSubmitted:
		return "Submitted"
	}
	return "Unknown"
}

type waitSemaphore struct {
	semaphore Handle
	stage     vk.PipelineStageFlags
}

// CommandBuffer is a primary command buffer with its own fence. It moves
// ReadyForBegin -> IsInsideBegin <-> IsInsideRenderPass -> HasEnded -> Submitted and back to
// ReadyForBegin once its fence has signaled.
type CommandBuffer struct {
	pool   *CommandBufferPool
	driver Driver
	handle Handle
	state  CmdBufferState
	upload bool
	fence  *Fence

	// fenceSignaledCounter advances every time the buffer is found completed. A reference that
	// remembers the value it saw at submit time can tell whether its work is done.
	fenceSignaledCounter  uint64
	submittedFenceCounter uint64
	lastSubmit            uint64

	waits []waitSemaphore

	viewport    Viewport
	hasViewport bool
	scissor     Rect2D
	hasScissor  bool
	stencilRef  uint32
	hasStencil  bool
}

func (c *CommandBuffer) Handle() Handle {
	return c.handle
}

func (c *CommandBuffer) State() CmdBufferState {
	return c.state
}

func (c *CommandBuffer) IsUploadOnly() bool {
	return c.upload
}

func (c *CommandBuffer) Fence() *Fence {
	return c.fence
}

func (c *CommandBuffer) FenceSignaledCounter() uint64 {
	return c.fenceSignaledCounter
}

func (c *CommandBuffer) SubmittedFenceCounter() uint64 {
	return c.submittedFenceCounter
}

func (c *CommandBuffer) IsAllocated() bool {
	return c.state != CmdNotAllocated
}

func (c *CommandBuffer) HasBegun() bool {
	return c.state == CmdIsInsideBegin || c.state == CmdIsInsideRenderPass
}

func (c *CommandBuffer) IsInsideRenderPass() bool {
	return c.state == CmdIsInsideRenderPass
}

func (c *CommandBuffer) IsOutsideRenderPass() bool {
	return c.state == CmdIsInsideBegin
}

func (c *CommandBuffer) HasEnded() bool {
	return c.state == CmdHasEnded
}

func (c *CommandBuffer) IsSubmitted() bool {
	return c.state == CmdSubmitted
}

// Begin starts recording. Only a ReadyForBegin buffer can begin; anything else is logged and
// ignored.
func (c *CommandBuffer) Begin() bool {
	if c.state != CmdReadyForBegin {
		Logger().Warn("command buffer begin in wrong state", "state", c.state.String())
		return false
	}
	if ret := c.driver.BeginCommandBuffer(c.handle, true); isError(ret) {
		Logger().Error("begin command buffer failed", "err", NewOpError("vkBeginCommandBuffer", ret))
		return false
	}
	c.state = CmdIsInsideBegin
	return true
}

// End closes recording. A render pass still open is closed first.
func (c *CommandBuffer) End() bool {
	if c.state == CmdIsInsideRenderPass {
		Logger().Warn("command buffer ended inside a render pass")
		c.EndRenderPass()
	}
	if c.state != CmdIsInsideBegin {
		Logger().Warn("command buffer end in wrong state", "state", c.state.String())
		return false
	}
	if ret := c.driver.EndCommandBuffer(c.handle); isError(ret) {
		Logger().Error("end command buffer failed", "err", NewOpError("vkEndCommandBuffer", ret))
		return false
	}
	c.state = CmdHasEnded
	return true
}

func (c *CommandBuffer) BeginRenderPass(info RenderPassBeginInfo) {
	if c.state != CmdIsInsideBegin {
		Logger().Warn("render pass begin in wrong state", "state", c.state.String())
		return
	}
	c.driver.CmdBeginRenderPass(c.handle, info)
	c.state = CmdIsInsideRenderPass
}

func (c *CommandBuffer) EndRenderPass() {
	if c.state != CmdIsInsideRenderPass {
		Logger().Warn("render pass end in wrong state", "state", c.state.String())
		return
	}
	c.driver.CmdEndRenderPass(c.handle)
	c.state = CmdIsInsideBegin
}

func (c *CommandBuffer) recording(op string) bool {
	if !c.HasBegun() {
		Logger().Warn("command recorded outside begin", "op", op, "state", c.state.String())
		return false
	}
	return true
}

// SetViewport skips the driver call when the viewport has not changed since the last set.
func (c *CommandBuffer) SetViewport(vp Viewport) {
	if !c.recording("set viewport") || (c.hasViewport && c.viewport == vp) {
		return
	}
	c.driver.CmdSetViewport(c.handle, vp)
	c.viewport = vp
	c.hasViewport = true
}

func (c *CommandBuffer) SetScissor(r Rect2D) {
	if !c.recording("set scissor") || (c.hasScissor && c.scissor == r) {
		return
	}
	c.driver.CmdSetScissor(c.handle, r)
	c.scissor = r
	c.hasScissor = true
}

func (c *CommandBuffer) SetStencilRef(ref uint32) {
	if !c.recording("set stencil reference") || (c.hasStencil && c.stencilRef == ref) {
		return
	}
	c.driver.CmdSetStencilReference(c.handle, ref)
	c.stencilRef = ref
	c.hasStencil = true
}

func (c *CommandBuffer) BindPipeline(pipeline Handle) {
	if c.recording("bind pipeline") {
		c.driver.CmdBindPipeline(c.handle, pipeline)
	}
}

func (c *CommandBuffer) BindDescriptorSets(layout Handle, firstSet uint32, sets []Handle, dynamicOffsets []uint32) {
	if c.recording("bind descriptor sets") {
		c.driver.CmdBindDescriptorSets(c.handle, layout, firstSet, sets, dynamicOffsets)
	}
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, buffers []Handle, offsets []uint64) {
	if c.recording("bind vertex buffers") {
		c.driver.CmdBindVertexBuffers(c.handle, first, buffers, offsets)
	}
}

func (c *CommandBuffer) BindIndexBuffer(buffer Handle, offset uint64, indexType vk.IndexType) {
	if c.recording("bind index buffer") {
		c.driver.CmdBindIndexBuffer(c.handle, buffer, offset, indexType)
	}
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if c.recording("draw") {
		c.driver.CmdDraw(c.handle, vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if c.recording("draw indexed") {
		c.driver.CmdDrawIndexed(c.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	}
}

// CopyBuffer is only valid outside a render pass.
func (c *CommandBuffer) CopyBuffer(src, dst Handle, regions ...BufferCopy) {
	if c.state != CmdIsInsideBegin {
		Logger().Warn("buffer copy in wrong state", "state", c.state.String())
		return
	}
	c.driver.CmdCopyBuffer(c.handle, src, dst, regions)
}

// AddWaitSemaphore makes the next submit wait on sem at stage. Waits are consumed by that submit.
func (c *CommandBuffer) AddWaitSemaphore(stage vk.PipelineStageFlags, sem Handle) {
	if sem == NullHandle {
		return
	}
	c.waits = append(c.waits, waitSemaphore{semaphore: sem, stage: stage})
}

func (c *CommandBuffer) waitSemaphores() ([]Handle, []vk.PipelineStageFlags) {
	if len(c.waits) == 0 {
		return nil, nil
	}
	sems := make([]Handle, len(c.waits))
	stages := make([]vk.PipelineStageFlags, len(c.waits))
	for i, w := range c.waits {
		sems[i] = w.semaphore
		stages[i] = w.stage
	}
	return sems, stages
}

func (c *CommandBuffer) markSubmitted() {
	c.waits = c.waits[:0]
	c.state = CmdSubmitted
	c.submittedFenceCounter = c.fenceSignaledCounter
	if c.pool != nil {
		c.pool.submits++
		c.lastSubmit = c.pool.submits
	}
}

// dropSubmit puts an ended buffer whose submit was rejected back to ReadyForBegin. Its recorded
// work is lost.
func (c *CommandBuffer) dropSubmit() {
	c.waits = c.waits[:0]
	c.resetDynamicState()
	c.state = CmdReadyForBegin
}

func (c *CommandBuffer) resetDynamicState() {
	c.hasViewport = false
	c.hasScissor = false
	c.hasStencil = false
}

// RefreshFenceStatus moves a submitted buffer back to ReadyForBegin when its fence has signaled.
func (c *CommandBuffer) RefreshFenceStatus() {
	if c.state != CmdSubmitted || c.fence == nil {
		return
	}
	fences := c.pool.fences
	if !fences.IsFenceSignaled(c.fence) {
		return
	}
	c.waits = c.waits[:0]
	c.resetDynamicState()
	c.fenceSignaledCounter++
	fences.ResetFence(c.fence)
	c.state = CmdReadyForBegin
}

// FreeMemory returns the driver buffer to its pool. The CommandBuffer can be allocated again.
func (c *CommandBuffer) FreeMemory() {
	if c.handle != NullHandle {
		c.driver.FreeCommandBuffer(c.pool.handle, c.handle)
		c.handle = NullHandle
	}
	if c.fence != nil {
		c.pool.fences.ReleaseFence(&c.fence)
	}
	c.waits = nil
	c.resetDynamicState()
	c.state = CmdNotAllocated
}

func (c *CommandBuffer) allocate() error {
	h, err := c.driver.AllocateCommandBuffer(c.pool.handle)
	if err != nil {
		return Fatal("command buffer", stageError(ErrCommandBufferAllocation, err, "allocate command buffer"))
	}
	f, err := c.pool.fences.CreateFence(false)
	if err != nil {
		c.driver.FreeCommandBuffer(c.pool.handle, h)
		return err
	}
	c.handle = h
	c.fence = f
	c.state = CmdReadyForBegin
	return nil
}
