package rendergraph

import (
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// boundSet is a descriptor set and the set index it binds to.
type boundSet struct {
	index uint32
	set   rhi.DescriptorSet
}

// imageWrite is a descriptor write that references the image of a texture,
// kept so the write can be reissued when the image is replaced.
type imageWrite struct {
	id    ResourceID
	write rhi.DescriptorWrite
}

// framebufferKey is the attachment-resource identity of a pass.
type framebufferKey string

// CompiledRenderPass is a contiguous range of passes merged into one native
// render pass, one subpass per valid pass.
type CompiledRenderPass struct {
	label      string
	head, tail int
	passes     []*PassNode

	bindings   BindingInfo
	meta       AttachmentMeta
	setLayouts []rhi.DescriptorSetLayout
	layout     rhi.PipelineLayout
	renderPass rhi.RenderPass
	pipelines  []rhi.Pipeline

	// framebuffers are owned, one per non-present attachment identity, in
	// first-use order.
	framebuffers []rhi.Framebuffer
	fbKeys       []framebufferKey

	// present holds one framebuffer per swapchain image when the group
	// renders to the swapchain. The swapchain owns them.
	present     []rhi.Framebuffer
	presentSlot int
	presentImgs []rhi.Image

	// width and height are the render area used when the group does not
	// follow the swapchain extent.
	width, height uint32

	pool        rhi.DescriptorPool
	passSets    [][]boundSet
	meshSets    [][][]boundSet
	imageWrites []imageWrite
}

// Head returns the index of the first pass of the range.
func (c *CompiledRenderPass) Head() int { return c.head }

// Tail returns the index of the last pass of the range.
func (c *CompiledRenderPass) Tail() int { return c.tail }

// Passes returns the non-culled passes of the range in subpass order.
func (c *CompiledRenderPass) Passes() []*PassNode {
	return append([]*PassNode(nil), c.passes...)
}

// BindingInfo returns the merged descriptor layout.
func (c *CompiledRenderPass) BindingInfo() BindingInfo { return c.bindings }

// RenderPass returns the native render pass.
func (c *CompiledRenderPass) RenderPass() rhi.RenderPass { return c.renderPass }

// PipelineLayout returns the pipeline layout shared by all subpasses.
func (c *CompiledRenderPass) PipelineLayout() rhi.PipelineLayout { return c.layout }

// HasPresent reports whether the group renders into the swapchain image.
func (c *CompiledRenderPass) HasPresent() bool { return c.present != nil }

// FramebufferCount returns the number of distinct attachment identities:
// owned framebuffers plus one for the present identity.
func (c *CompiledRenderPass) FramebufferCount() int {
	n := len(c.framebuffers)
	if c.present != nil {
		n++
	}
	return n
}

// framebuffer returns the framebuffer to begin the render pass with when
// image is the acquired swapchain image.
func (c *CompiledRenderPass) framebuffer(image uint32) rhi.Framebuffer {
	if c.present != nil {
		return c.present[int(image)%len(c.present)]
	}
	return c.framebuffers[0]
}

// extent returns the render area for one frame.
func (c *CompiledRenderPass) extent(sc rhi.Swapchain) (uint32, uint32) {
	if c.present != nil && c.meta.FullScreen {
		return sc.Extent()
	}
	return c.width, c.height
}

func (c *CompiledRenderPass) destroy() {
	for _, p := range c.pipelines {
		if p != nil {
			p.Destroy()
		}
	}
	c.pipelines = nil
	c.destroyFramebuffers()
	if c.pool != nil {
		c.pool.Destroy()
		c.pool = nil
	}
	c.passSets, c.meshSets, c.imageWrites = nil, nil, nil
	if c.renderPass != nil {
		c.renderPass.Destroy()
		c.renderPass = nil
	}
	if c.layout != nil {
		c.layout.Destroy()
		c.layout = nil
	}
	for _, l := range c.setLayouts {
		l.Destroy()
	}
	c.setLayouts = nil
}

// destroyFramebuffers destroys the owned framebuffers and forgets the
// swapchain ones.
func (c *CompiledRenderPass) destroyFramebuffers() {
	for _, fb := range c.framebuffers {
		fb.Destroy()
	}
	c.framebuffers, c.fbKeys = nil, nil
	c.present, c.presentImgs = nil, nil
}

// CompiledPassInfo is a read-only summary of a CompiledRenderPass.
type CompiledPassInfo struct {
	Head, Tail   int
	Passes       []string
	Subpasses    int
	Sets         []uint32
	Framebuffers int
	Present      bool
}

// Info summarizes c.
func (c *CompiledRenderPass) Info() CompiledPassInfo {
	names := make([]string, len(c.passes))
	for i, p := range c.passes {
		names[i] = p.name
	}
	return CompiledPassInfo{
		Head:         c.head,
		Tail:         c.tail,
		Passes:       names,
		Subpasses:    len(c.passes),
		Sets:         c.bindings.Sets(),
		Framebuffers: c.FramebufferCount(),
		Present:      c.HasPresent(),
	}
}

// CompiledPasses returns the compiled render passes in execution order.
func (g *RenderGraph) CompiledPasses() []*CompiledRenderPass {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*CompiledRenderPass(nil), g.groups...)
}

// frameSync is the per-swapchain-image ring slot.
type frameSync struct {
	cmd            rhi.CommandBuffer
	fence          rhi.Fence
	imageAvailable rhi.Semaphore
	renderFinished rhi.Semaphore
}

func (f *frameSync) destroy() {
	for _, o := range []rhi.Object{f.renderFinished, f.imageAvailable, f.fence, f.cmd} {
		if o != nil {
			o.Destroy()
		}
	}
}
