package dieselrhi

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// RenderPass is a single-subpass pass with one color attachment and an optional depth attachment.
type RenderPass struct {
	driver      Driver
	handle      Handle
	colorFormat vk.Format
	depthFormat vk.Format
}

// NewRenderPass creates the default pass: color is cleared and stored for presentation, depth is
// cleared and discarded. depthFormat may be vk.FormatUndefined for a color-only pass.
func NewRenderPass(driver Driver, colorFormat, depthFormat vk.Format) (*RenderPass, error) {
	info := RenderPassCreateInfo{
		Attachments: []AttachmentDesc{{
			Format:         colorFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		}},
		ColorAttachments: []AttachmentRef{{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal}},
		Dependencies: []SubpassDependency{
			{
				SrcSubpass:    vk.SubpassExternal,
				DstSubpass:    0,
				SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
				DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
				SrcAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit),
				DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
				Flags:         vk.DependencyFlags(vk.DependencyByRegionBit),
			},
			{
				SrcSubpass:    0,
				DstSubpass:    vk.SubpassExternal,
				SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
				DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
				SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit),
				Flags:         vk.DependencyFlags(vk.DependencyByRegionBit),
			},
		},
	}
	if depthFormat != vk.FormatUndefined {
		info.Attachments = append(info.Attachments, AttachmentDesc{
			Format:         depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpClear,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		info.DepthAttachment = &AttachmentRef{Attachment: 1, Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}
	}
	h, err := driver.CreateRenderPass(info)
	if err != nil {
		return nil, errors.Wrap(err, "create render pass")
	}
	return &RenderPass{driver: driver, handle: h, colorFormat: colorFormat, depthFormat: depthFormat}, nil
}

func (r *RenderPass) Handle() Handle {
	return r.handle
}

func (r *RenderPass) HasDepth() bool {
	return r.depthFormat != vk.FormatUndefined
}

// ClearValues returns one clear value per attachment: color, then depth 1.0 and stencil 0.
func (r *RenderPass) ClearValues(color [4]float32) []ClearValue {
	values := []ClearValue{{Color: color}}
	if r.HasDepth() {
		values = append(values, ClearValue{IsDepth: true, Depth: 1})
	}
	return values
}

func (r *RenderPass) Destroy() {
	if r.handle != NullHandle {
		r.driver.DestroyRenderPass(r.handle)
		r.handle = NullHandle
	}
}

// Framebuffers holds one framebuffer per swapchain image, all sharing one depth image.
type Framebuffers struct {
	driver  Driver
	depth   *Image
	handles []Handle
	extent  Extent2D
}

// NewFramebuffers creates the depth image sized to the swapchain and a framebuffer per view.
func NewFramebuffers(device *LogicalDevice, pass *RenderPass, swapchain *Swapchain) (*Framebuffers, error) {
	driver := device.Driver()
	fb := &Framebuffers{driver: driver, extent: swapchain.Extent()}
	if pass.HasDepth() {
		depth, err := NewDepthImage(driver, device.MemoryManager(), pass.depthFormat, fb.extent)
		if err != nil {
			return nil, errors.Wrap(err, "depth image")
		}
		fb.depth = depth
	}
	for _, view := range swapchain.Views() {
		attachments := []Handle{view}
		if fb.depth != nil {
			attachments = append(attachments, fb.depth.View())
		}
		h, err := driver.CreateFramebuffer(FramebufferCreateInfo{
			RenderPass:  pass.Handle(),
			Attachments: attachments,
			Width:       fb.extent.Width,
			Height:      fb.extent.Height,
			Layers:      1,
		})
		if err != nil {
			fb.Destroy()
			return nil, errors.Wrap(err, "create framebuffer")
		}
		fb.handles = append(fb.handles, h)
	}
	return fb, nil
}

func (f *Framebuffers) Get(image int) Handle {
	return f.handles[image]
}

func (f *Framebuffers) Len() int {
	return len(f.handles)
}

func (f *Framebuffers) Extent() Extent2D {
	return f.extent
}

// Destroy must run before the swapchain it was built for is recreated.
func (f *Framebuffers) Destroy() {
	for _, h := range f.handles {
		f.driver.DestroyFramebuffer(h)
	}
	f.handles = nil
	if f.depth != nil {
		f.depth.Destroy()
		f.depth = nil
	}
}
