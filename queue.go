package dieselrhi

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Queue is a device queue. Queues are shared by pointer; a device creates at most one per family.
type Queue struct {
	driver      Driver
	handle      Handle
	familyIndex uint32
	queueIndex  uint32
	flags       vk.QueueFlags

	submits uint64
}

func NewQueue(driver Driver, family, index uint32, flags vk.QueueFlags) *Queue {
	return &Queue{
		driver:      driver,
		handle:      driver.GetQueue(family, index),
		familyIndex: family,
		queueIndex:  index,
		flags:       flags,
	}
}

func (q *Queue) Handle() Handle {
	return q.handle
}

func (q *Queue) FamilyIndex() uint32 {
	return q.familyIndex
}

func (q *Queue) QueueIndex() uint32 {
	return q.queueIndex
}

func (q *Queue) Flags() vk.QueueFlags {
	return q.flags
}

// SubmitCount is the number of successful submits made on the queue.
func (q *Queue) SubmitCount() uint64 {
	return q.submits
}

// Submit sends an ended command buffer with its wait semaphores and signals the given semaphores
// when it completes. The buffer's fence tracks completion. A rejected submit leaves the buffer
// ready for reuse and returns the driver error.
func (q *Queue) Submit(cmd *CommandBuffer, signal ...Handle) error {
	if !cmd.HasEnded() {
		return errors.Errorf("submit of command buffer in state %s", cmd.State())
	}
	waits, stages := cmd.waitSemaphores()
	info := SubmitInfo{
		CommandBuffers:   []Handle{cmd.handle},
		WaitSemaphores:   waits,
		WaitStages:       stages,
		SignalSemaphores: signal,
	}
	fence := NullHandle
	if cmd.fence != nil {
		fence = cmd.fence.handle
	}
	if ret := q.driver.QueueSubmit(q.handle, []SubmitInfo{info}, fence); isError(ret) {
		cmd.dropSubmit()
		return NewOpError("vkQueueSubmit", ret)
	}
	cmd.markSubmitted()
	q.submits++
	return nil
}

// SubmitBuffers submits raw command buffers with no fence. It is meant for work whose completion
// is observed through semaphores or WaitIdle.
func (q *Queue) SubmitBuffers(cmds []Handle, waits []Handle, stages []vk.PipelineStageFlags, signal []Handle) error {
	info := SubmitInfo{
		CommandBuffers:   cmds,
		WaitSemaphores:   waits,
		WaitStages:       stages,
		SignalSemaphores: signal,
	}
	if ret := q.driver.QueueSubmit(q.handle, []SubmitInfo{info}, NullHandle); isError(ret) {
		return NewOpError("vkQueueSubmit", ret)
	}
	q.submits++
	return nil
}

func (q *Queue) WaitIdle() vk.Result {
	return q.driver.QueueWaitIdle(q.handle)
}
