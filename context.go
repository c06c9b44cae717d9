package dieselrhi

import (
	vk "github.com/vulkan-go/vulkan"
)

// CommandListContext is where command buffers for one queue are recorded. The device owns an
// immediate context; other contexts point back at it.
type CommandListContext struct {
	immediate *CommandListContext
	queue     *Queue
	cmds      *CommandBufferManager
}

// NewCommandListContext creates a context on queue. Passing a nil immediate makes the new context
// the immediate one.
func NewCommandListContext(driver Driver, fences *FenceManager, queue *Queue, immediate *CommandListContext) (*CommandListContext, error) {
	cmds, err := NewCommandBufferManager(driver, fences, queue)
	if err != nil {
		return nil, err
	}
	return &CommandListContext{
		immediate: immediate,
		queue:     queue,
		cmds:      cmds,
	}, nil
}

func (c *CommandListContext) IsImmediate() bool {
	return c.immediate == nil
}

// Immediate returns the device's immediate context, which may be c itself.
func (c *CommandListContext) Immediate() *CommandListContext {
	if c.immediate == nil {
		return c
	}
	return c.immediate
}

func (c *CommandListContext) Queue() *Queue {
	return c.queue
}

func (c *CommandListContext) CommandBufferManager() *CommandBufferManager {
	return c.cmds
}

// BeginFrame returns the active command buffer, set to wait on acquire before writing color
// output.
func (c *CommandListContext) BeginFrame(acquire Handle) (*CommandBuffer, error) {
	cmd, err := c.cmds.GetActiveCmdBuffer()
	if err != nil {
		return nil, err
	}
	cmd.AddWaitSemaphore(vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), acquire)
	return cmd, nil
}

// EndFrame submits the active buffer signaling renderComplete, the semaphore present waits on,
// and begins the next active buffer.
func (c *CommandListContext) EndFrame(renderComplete Handle) error {
	c.cmds.SubmitActiveCmdBuffer(renderComplete)
	return c.cmds.NewActiveCommandBuffer()
}

func (c *CommandListContext) Destroy() {
	if c.cmds != nil {
		c.cmds.Destroy()
		c.cmds = nil
	}
}
