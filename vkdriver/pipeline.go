package vkdriver

import (
	"github.com/andewx/dieselrhi"
	vk "github.com/vulkan-go/vulkan"
)

func (d *Driver) CreateShaderModule(code []uint32) (dieselrhi.Handle, error) {
	var module vk.ShaderModule
	ret := vk.CreateShaderModule(d.device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}, nil, &module)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create shader module", ret)
	}
	return put(d, &d.shaderModules, module), nil
}

func (d *Driver) DestroyShaderModule(h dieselrhi.Handle) {
	if m, ok := take(d, &d.shaderModules, h); ok {
		vk.DestroyShaderModule(d.device, m, nil)
	}
}

// CreateDescriptorSetLayout ignores ImmutableSampler: samplers are not created through the driver.
func (d *Driver) CreateDescriptorSetLayout(bindings []dieselrhi.DescriptorSetLayoutBinding) (dieselrhi.Handle, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.DescriptorType,
			DescriptorCount: b.DescriptorCount,
			StageFlags:      b.StageFlags,
		}
	}
	var layout vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(d.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}, nil, &layout)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create descriptor set layout", ret)
	}
	return put(d, &d.setLayouts, layout), nil
}

func (d *Driver) DestroyDescriptorSetLayout(h dieselrhi.Handle) {
	if l, ok := take(d, &d.setLayouts, h); ok {
		vk.DestroyDescriptorSetLayout(d.device, l, nil)
	}
}

func (d *Driver) CreatePipelineLayout(setLayouts []dieselrhi.Handle) (dieselrhi.Handle, error) {
	layouts := getAll(d, &d.setLayouts, setLayouts)
	var layout vk.PipelineLayout
	ret := vk.CreatePipelineLayout(d.device, &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}, nil, &layout)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create pipeline layout", ret)
	}
	return put(d, &d.pipelineLayouts, layout), nil
}

func (d *Driver) DestroyPipelineLayout(h dieselrhi.Handle) {
	if l, ok := take(d, &d.pipelineLayouts, h); ok {
		vk.DestroyPipelineLayout(d.device, l, nil)
	}
}

func stencilOp(s dieselrhi.StencilOpState) vk.StencilOpState {
	return vk.StencilOpState{
		FailOp:      s.FailOp,
		PassOp:      s.PassOp,
		DepthFailOp: s.DepthFailOp,
		CompareOp:   s.CompareOp,
		CompareMask: s.CompareMask,
		WriteMask:   s.WriteMask,
		Reference:   s.Reference,
	}
}

func (d *Driver) CreateGraphicsPipeline(info dieselrhi.GraphicsPipelineCreateInfo) (dieselrhi.Handle, error) {
	st := info.State

	stages := make([]vk.PipelineShaderStageCreateInfo, len(info.Stages))
	for i, s := range info.Stages {
		stages[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  s.Stage,
			Module: get(d, &d.shaderModules, s.Module),
			PName:  safeString(s.Entry),
		}
	}

	bindings := make([]vk.VertexInputBindingDescription, len(info.VertexBindings))
	for i, b := range info.VertexBindings {
		bindings[i] = vk.VertexInputBindingDescription{Binding: b.Binding, Stride: b.Stride, InputRate: b.InputRate}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(info.VertexAttributes))
	for i, a := range info.VertexAttributes {
		attributes[i] = vk.VertexInputAttributeDescription{Location: a.Location, Binding: a.Binding, Format: a.Format, Offset: a.Offset}
	}

	pipelineCreateInfos := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology:               st.Topology,
			PrimitiveRestartEnable: bool32(st.PrimitiveRestart),
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: st.ViewportCount,
			ScissorCount:  st.ScissorCount,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
			DepthClampEnable:        bool32(st.DepthClamp),
			RasterizerDiscardEnable: bool32(st.RasterizerDiscard),
			PolygonMode:             st.PolygonMode,
			CullMode:                st.CullMode,
			FrontFace:               st.FrontFace,
			DepthBiasEnable:         bool32(st.DepthBias),
			DepthBiasConstantFactor: st.DepthBiasConstant,
			DepthBiasClamp:          st.DepthBiasClamp,
			DepthBiasSlopeFactor:    st.DepthBiasSlope,
			LineWidth:               st.LineWidth,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples:  st.Samples,
			SampleShadingEnable:   bool32(st.SampleShading),
			MinSampleShading:      st.MinSampleShading,
			AlphaToCoverageEnable: bool32(st.AlphaToCoverage),
			AlphaToOneEnable:      bool32(st.AlphaToOne),
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       bool32(st.DepthTest),
			DepthWriteEnable:      bool32(st.DepthWrite),
			DepthCompareOp:        st.DepthCompare,
			DepthBoundsTestEnable: bool32(st.DepthBoundsTest),
			StencilTestEnable:     bool32(st.StencilTest),
			Front:                 stencilOp(st.Front),
			Back:                  stencilOp(st.Back),
			MinDepthBounds:        st.MinDepthBounds,
			MaxDepthBounds:        st.MaxDepthBounds,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			LogicOp:         vk.LogicOpCopy,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				BlendEnable:         bool32(st.BlendEnable),
				SrcColorBlendFactor: st.SrcColorBlend,
				DstColorBlendFactor: st.DstColorBlend,
				ColorBlendOp:        st.ColorBlendOp,
				SrcAlphaBlendFactor: st.SrcAlphaBlend,
				DstAlphaBlendFactor: st.DstAlphaBlend,
				AlphaBlendOp:        st.AlphaBlendOp,
				ColorWriteMask:      st.ColorWriteMask,
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(info.DynamicStates)),
			PDynamicStates:    info.DynamicStates,
		},
		Layout:     get(d, &d.pipelineLayouts, info.Layout),
		RenderPass: get(d, &d.renderPasses, info.RenderPass),
		Subpass:    info.Subpass,
	}}
	pipelines := make([]vk.Pipeline, 1)
	ret := vk.CreateGraphicsPipelines(d.device, vk.PipelineCache(vk.NullHandle), 1, pipelineCreateInfos, nil, pipelines)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create graphics pipeline", ret)
	}
	return put(d, &d.pipelines, pipelines[0]), nil
}

func (d *Driver) DestroyPipeline(h dieselrhi.Handle) {
	if p, ok := take(d, &d.pipelines, h); ok {
		vk.DestroyPipeline(d.device, p, nil)
	}
}

func (d *Driver) CreateDescriptorPool(maxSets uint32, sizes []dieselrhi.DescriptorPoolSize) (dieselrhi.Handle, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{Type: s.Type, DescriptorCount: s.Count}
	}
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(d.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}, nil, &pool)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create descriptor pool", ret)
	}
	return put(d, &d.descriptorPools, pool), nil
}

// forgetSets drops the set handles allocated from pool. The caller holds mu.
func (d *Driver) forgetSets(pool dieselrhi.Handle) {
	for _, s := range d.setOwners[pool] {
		d.descriptorSets.Remove(s)
	}
	delete(d.setOwners, pool)
}

func (d *Driver) DestroyDescriptorPool(h dieselrhi.Handle) {
	d.mu.Lock()
	pool, ok := d.descriptorPools.Remove(h)
	if ok {
		d.forgetSets(h)
	}
	d.mu.Unlock()
	if ok {
		vk.DestroyDescriptorPool(d.device, pool, nil)
	}
}

func (d *Driver) ResetDescriptorPool(h dieselrhi.Handle) vk.Result {
	d.mu.Lock()
	pool, _ := d.descriptorPools.Get(h)
	d.forgetSets(h)
	d.mu.Unlock()
	return vk.ResetDescriptorPool(d.device, pool, 0)
}

func (d *Driver) AllocateDescriptorSets(h dieselrhi.Handle, layouts []dieselrhi.Handle) ([]dieselrhi.Handle, vk.Result) {
	if len(layouts) == 0 {
		return nil, vk.Success
	}
	vkLayouts := getAll(d, &d.setLayouts, layouts)
	sets := make([]vk.DescriptorSet, len(vkLayouts))
	ret := vk.AllocateDescriptorSets(d.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     get(d, &d.descriptorPools, h),
		DescriptorSetCount: uint32(len(vkLayouts)),
		PSetLayouts:        vkLayouts,
	}, &sets[0])
	if ret != vk.Success {
		return nil, ret
	}
	handles := make([]dieselrhi.Handle, len(sets))
	d.mu.Lock()
	for i, s := range sets {
		handles[i] = d.descriptorSets.Insert(s)
	}
	d.setOwners[h] = append(d.setOwners[h], handles...)
	d.mu.Unlock()
	return handles, vk.Success
}

func (d *Driver) UpdateDescriptorSets(writes []dieselrhi.DescriptorWrite) {
	if len(writes) == 0 {
		return
	}
	vkWrites := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		vkWrites[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          get(d, &d.descriptorSets, w.Set),
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  w.Type,
		}
		if len(w.Buffers) > 0 {
			infos := make([]vk.DescriptorBufferInfo, len(w.Buffers))
			for j, b := range w.Buffers {
				infos[j] = vk.DescriptorBufferInfo{
					Buffer: get(d, &d.buffers, b.Buffer),
					Offset: vk.DeviceSize(b.Offset),
					Range:  vk.DeviceSize(b.Range),
				}
			}
			vkWrites[i].DescriptorCount = uint32(len(infos))
			vkWrites[i].PBufferInfo = infos
		}
		if len(w.Images) > 0 {
			infos := make([]vk.DescriptorImageInfo, len(w.Images))
			for j, img := range w.Images {
				infos[j] = vk.DescriptorImageInfo{
					ImageView:   get(d, &d.imageViews, img.View),
					ImageLayout: img.Layout,
				}
			}
			vkWrites[i].DescriptorCount = uint32(len(infos))
			vkWrites[i].PImageInfo = infos
		}
	}
	vk.UpdateDescriptorSets(d.device, uint32(len(vkWrites)), vkWrites, 0, nil)
}

func (d *Driver) CreateRenderPass(info dieselrhi.RenderPassCreateInfo) (dieselrhi.Handle, error) {
	attachments := make([]vk.AttachmentDescription, len(info.Attachments))
	for i, a := range info.Attachments {
		attachments[i] = vk.AttachmentDescription{
			Format:         a.Format,
			Samples:        a.Samples,
			LoadOp:         a.LoadOp,
			StoreOp:        a.StoreOp,
			StencilLoadOp:  a.StencilLoadOp,
			StencilStoreOp: a.StencilStoreOp,
			InitialLayout:  a.InitialLayout,
			FinalLayout:    a.FinalLayout,
		}
	}
	colorRefs := make([]vk.AttachmentReference, len(info.ColorAttachments))
	for i, r := range info.ColorAttachments {
		colorRefs[i] = vk.AttachmentReference{Attachment: r.Attachment, Layout: r.Layout}
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if info.DepthAttachment != nil {
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: info.DepthAttachment.Attachment,
			Layout:     info.DepthAttachment.Layout,
		}
	}
	deps := make([]vk.SubpassDependency, len(info.Dependencies))
	for i, dep := range info.Dependencies {
		deps[i] = vk.SubpassDependency{
			SrcSubpass:      dep.SrcSubpass,
			DstSubpass:      dep.DstSubpass,
			SrcStageMask:    dep.SrcStageMask,
			DstStageMask:    dep.DstStageMask,
			SrcAccessMask:   dep.SrcAccessMask,
			DstAccessMask:   dep.DstAccessMask,
			DependencyFlags: dep.Flags,
		}
	}
	var pass vk.RenderPass
	ret := vk.CreateRenderPass(d.device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(deps)),
		PDependencies:   deps,
	}, nil, &pass)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create render pass", ret)
	}
	return put(d, &d.renderPasses, pass), nil
}

func (d *Driver) DestroyRenderPass(h dieselrhi.Handle) {
	if p, ok := take(d, &d.renderPasses, h); ok {
		vk.DestroyRenderPass(d.device, p, nil)
	}
}

func (d *Driver) CreateFramebuffer(info dieselrhi.FramebufferCreateInfo) (dieselrhi.Handle, error) {
	views := getAll(d, &d.imageViews, info.Attachments)
	var fb vk.Framebuffer
	ret := vk.CreateFramebuffer(d.device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      get(d, &d.renderPasses, info.RenderPass),
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           info.Width,
		Height:          info.Height,
		Layers:          info.Layers,
	}, nil, &fb)
	if ret != vk.Success {
		return dieselrhi.NullHandle, dieselrhi.NewOpError("create framebuffer", ret)
	}
	return put(d, &d.framebuffers, fb), nil
}

func (d *Driver) DestroyFramebuffer(h dieselrhi.Handle) {
	if fb, ok := take(d, &d.framebuffers, h); ok {
		vk.DestroyFramebuffer(d.device, fb, nil)
	}
}
