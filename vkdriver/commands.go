package vkdriver

import (
	"github.com/andewx/dieselrhi"
	vk "github.com/vulkan-go/vulkan"
)

func (d *Driver) CreateFence(signaled bool) (dieselrhi.Handle, error) {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	ret := vk.CreateFence(d.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}, nil, &fence)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create fence", ret)
	}
	return put(d, &d.fences, fence), nil
}

func (d *Driver) DestroyFence(h dieselrhi.Handle) {
	if f, ok := take(d, &d.fences, h); ok {
		vk.DestroyFence(d.device, f, nil)
	}
}

func (d *Driver) WaitForFence(h dieselrhi.Handle, timeout uint64) vk.Result {
	return vk.WaitForFences(d.device, 1, []vk.Fence{get(d, &d.fences, h)}, vk.True, timeout)
}

func (d *Driver) GetFenceStatus(h dieselrhi.Handle) vk.Result {
	return vk.GetFenceStatus(d.device, get(d, &d.fences, h))
}

func (d *Driver) ResetFence(h dieselrhi.Handle) vk.Result {
	return vk.ResetFences(d.device, 1, []vk.Fence{get(d, &d.fences, h)})
}

func (d *Driver) CreateSemaphore() (dieselrhi.Handle, error) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(d.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create semaphore", ret)
	}
	return put(d, &d.semaphores, sem), nil
}

func (d *Driver) DestroySemaphore(h dieselrhi.Handle) {
	if s, ok := take(d, &d.semaphores, h); ok {
		vk.DestroySemaphore(d.device, s, nil)
	}
}

func (d *Driver) CreateCommandPool(family uint32) (dieselrhi.Handle, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(d.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: family,
	}, nil, &pool)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create command pool", ret)
	}
	return put(d, &d.commandPools, pool), nil
}

// DestroyCommandPool frees the pool's command buffers along with it.
func (d *Driver) DestroyCommandPool(h dieselrhi.Handle) {
	pool, ok := take(d, &d.commandPools, h)
	if !ok {
		return
	}
	d.mu.Lock()
	var owned []dieselrhi.Handle
	d.commandBuffers.Each(func(ch dieselrhi.Handle, c commandBuffer) {
		if c.pool == pool {
			owned = append(owned, ch)
		}
	})
	for _, ch := range owned {
		d.commandBuffers.Remove(ch)
	}
	d.mu.Unlock()
	vk.DestroyCommandPool(d.device, pool, nil)
}

func (d *Driver) AllocateCommandBuffer(h dieselrhi.Handle) (dieselrhi.Handle, error) {
	pool := get(d, &d.commandPools, h)
	cmds := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(d.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cmds)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("allocate command buffer", ret)
	}
	return put(d, &d.commandBuffers, commandBuffer{pool: pool, cmd: cmds[0]}), nil
}

func (d *Driver) FreeCommandBuffer(pool, h dieselrhi.Handle) {
	c, ok := take(d, &d.commandBuffers, h)
	if !ok {
		return
	}
	vk.FreeCommandBuffers(d.device, get(d, &d.commandPools, pool), 1, []vk.CommandBuffer{c.cmd})
}

func (d *Driver) cmd(h dieselrhi.Handle) vk.CommandBuffer {
	return get(d, &d.commandBuffers, h).cmd
}

func (d *Driver) BeginCommandBuffer(h dieselrhi.Handle, oneTimeSubmit bool) vk.Result {
	var flags vk.CommandBufferUsageFlags
	if oneTimeSubmit {
		flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	return vk.BeginCommandBuffer(d.cmd(h), &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: flags,
	})
}

func (d *Driver) EndCommandBuffer(h dieselrhi.Handle) vk.Result {
	return vk.EndCommandBuffer(d.cmd(h))
}

func (d *Driver) CmdBeginRenderPass(h dieselrhi.Handle, info dieselrhi.RenderPassBeginInfo) {
	clears := make([]vk.ClearValue, len(info.ClearValues))
	for i, cv := range info.ClearValues {
		if cv.IsDepth {
			clears[i].SetDepthStencil(cv.Depth, cv.StencilValue)
		} else {
			clears[i].SetColor(cv.Color[:])
		}
	}
	vk.CmdBeginRenderPass(d.cmd(h), &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  get(d, &d.renderPasses, info.RenderPass),
		Framebuffer: get(d, &d.framebuffers, info.Framebuffer),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: info.Area.X, Y: info.Area.Y},
			Extent: vk.Extent2D{Width: info.Area.Width, Height: info.Area.Height},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)
}

func (d *Driver) CmdEndRenderPass(h dieselrhi.Handle) {
	vk.CmdEndRenderPass(d.cmd(h))
}

func (d *Driver) CmdBindPipeline(h, pipeline dieselrhi.Handle) {
	vk.CmdBindPipeline(d.cmd(h), vk.PipelineBindPointGraphics, get(d, &d.pipelines, pipeline))
}

func (d *Driver) CmdBindDescriptorSets(h, layout dieselrhi.Handle, firstSet uint32, sets []dieselrhi.Handle, dynamicOffsets []uint32) {
	vkSets := getAll(d, &d.descriptorSets, sets)
	vk.CmdBindDescriptorSets(d.cmd(h), vk.PipelineBindPointGraphics, get(d, &d.pipelineLayouts, layout),
		firstSet, uint32(len(vkSets)), vkSets, uint32(len(dynamicOffsets)), dynamicOffsets)
}

func (d *Driver) CmdBindVertexBuffers(h dieselrhi.Handle, first uint32, buffers []dieselrhi.Handle, offsets []uint64) {
	vkBuffers := getAll(d, &d.buffers, buffers)
	vkOffsets := make([]vk.DeviceSize, len(vkBuffers))
	for i := range vkOffsets {
		if i < len(offsets) {
			vkOffsets[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(d.cmd(h), first, uint32(len(vkBuffers)), vkBuffers, vkOffsets)
}

func (d *Driver) CmdBindIndexBuffer(h, buffer dieselrhi.Handle, offset uint64, indexType vk.IndexType) {
	vk.CmdBindIndexBuffer(d.cmd(h), get(d, &d.buffers, buffer), vk.DeviceSize(offset), indexType)
}

func (d *Driver) CmdDraw(h dieselrhi.Handle, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(d.cmd(h), vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *Driver) CmdDrawIndexed(h dieselrhi.Handle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(d.cmd(h), indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (d *Driver) CmdSetViewport(h dieselrhi.Handle, v dieselrhi.Viewport) {
	vk.CmdSetViewport(d.cmd(h), 0, 1, []vk.Viewport{{
		X: v.X, Y: v.Y, Width: v.Width, Height: v.Height,
		MinDepth: v.MinDepth, MaxDepth: v.MaxDepth,
	}})
}

func (d *Driver) CmdSetScissor(h dieselrhi.Handle, r dieselrhi.Rect2D) {
	vk.CmdSetScissor(d.cmd(h), 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}})
}

func (d *Driver) CmdSetStencilReference(h dieselrhi.Handle, reference uint32) {
	vk.CmdSetStencilReference(d.cmd(h), vk.StencilFaceFlags(vk.StencilFaceFrontBit|vk.StencilFaceBackBit), reference)
}

func (d *Driver) CmdCopyBuffer(h, src, dst dieselrhi.Handle, regions []dieselrhi.BufferCopy) {
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(d.cmd(h), get(d, &d.buffers, src), get(d, &d.buffers, dst), uint32(len(copies)), copies)
}
