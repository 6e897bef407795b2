//go:build !nogpu

package vulkan

import (
	"github.com/gogpu/gputypes"
	vk "github.com/vulkan-go/vulkan"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

type object struct {
	dev       *Device
	label     string
	destroyed bool
}

func (o *object) Label() string { return o.label }

// release marks the object destroyed and reports whether the caller should
// free native handles.
func (o *object) release() bool {
	if o.destroyed {
		return false
	}
	o.destroyed = true
	o.dev.live.Add(-1)
	slogger().Debug("vulkan: destroy", "label", o.label)
	return true
}

func (o *object) owner() *Device { return o.dev }

type owned interface{ owner() *Device }

type buffer struct {
	object
	raw  vk.Buffer
	mem  vk.DeviceMemory
	size uint64
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Destroy() {
	if b.release() {
		vk.DestroyBuffer(b.dev.raw, b.raw, nil)
		vk.FreeMemory(b.dev.raw, b.mem, nil)
	}
}

type image struct {
	object
	raw    vk.Image
	mem    vk.DeviceMemory
	view   vk.ImageView
	width  uint32
	height uint32
	format gputypes.TextureFormat

	// swapchain images belong to the swapchain; only their view is ours.
	swapchain bool
}

func (i *image) Width() uint32                  { return i.width }
func (i *image) Height() uint32                 { return i.height }
func (i *image) Format() gputypes.TextureFormat { return i.format }

func (i *image) Destroy() {
	if i.swapchain {
		return
	}
	if i.release() {
		i.free()
	}
}

func (i *image) free() {
	vk.DestroyImageView(i.dev.raw, i.view, nil)
	if !i.swapchain {
		vk.DestroyImage(i.dev.raw, i.raw, nil)
		vk.FreeMemory(i.dev.raw, i.mem, nil)
	}
}

type sampler struct {
	object
	raw vk.Sampler
}

func (s *sampler) Destroy() {
	if s.release() {
		vk.DestroySampler(s.dev.raw, s.raw, nil)
	}
}

type setLayout struct {
	object
	raw      vk.DescriptorSetLayout
	bindings []rhi.DescriptorBinding
}

func (l *setLayout) Destroy() {
	if l.release() {
		vk.DestroyDescriptorSetLayout(l.dev.raw, l.raw, nil)
	}
}

type pipelineLayout struct {
	object
	raw vk.PipelineLayout
}

func (l *pipelineLayout) Destroy() {
	if l.release() {
		vk.DestroyPipelineLayout(l.dev.raw, l.raw, nil)
	}
}

type renderPass struct {
	object
	raw  vk.RenderPass
	desc rhi.RenderPassDescriptor
}

func (r *renderPass) Destroy() {
	if r.release() {
		vk.DestroyRenderPass(r.dev.raw, r.raw, nil)
	}
}

type framebuffer struct {
	object
	raw    vk.Framebuffer
	rp     *renderPass
	width  uint32
	height uint32
}

func (f *framebuffer) Destroy() {
	if f.release() {
		vk.DestroyFramebuffer(f.dev.raw, f.raw, nil)
	}
}

type pipeline struct {
	object
	raw     vk.Pipeline
	module  vk.ShaderModule
	rp      *renderPass
	subpass uint32
}

func (p *pipeline) Destroy() {
	if p.release() {
		vk.DestroyPipeline(p.dev.raw, p.raw, nil)
		vk.DestroyShaderModule(p.dev.raw, p.module, nil)
	}
}

type descriptorPool struct {
	object
	raw       vk.DescriptorPool
	remaining uint32
	sets      []*descriptorSet
}

// Destroy frees the pool together with every set allocated from it.
func (p *descriptorPool) Destroy() {
	if !p.release() {
		return
	}
	for _, s := range p.sets {
		s.release()
	}
	p.sets = nil
	vk.DestroyDescriptorPool(p.dev.raw, p.raw, nil)
}

type descriptorSet struct {
	object
	raw    vk.DescriptorSet
	pool   *descriptorPool
	layout *setLayout
}

// Destroy is a no-op; sets are freed with their pool.
func (s *descriptorSet) Destroy() {}

type fence struct {
	object
	raw     vk.Fence
	pending bool
}

func (f *fence) Destroy() {
	if f.release() {
		vk.DestroyFence(f.dev.raw, f.raw, nil)
	}
}

type semaphore struct {
	object
	raw vk.Semaphore
}

func (s *semaphore) Destroy() {
	if s.release() {
		vk.DestroySemaphore(s.dev.raw, s.raw, nil)
	}
}

// compatible reports whether pipelines built for a can be used in b.
func compatible(a, b *renderPass) bool {
	if a == b {
		return true
	}
	if len(a.desc.Attachments) != len(b.desc.Attachments) || len(a.desc.Subpasses) != len(b.desc.Subpasses) {
		return false
	}
	for i := range a.desc.Attachments {
		if a.desc.Attachments[i].Format != b.desc.Attachments[i].Format ||
			a.desc.Attachments[i].Samples != b.desc.Attachments[i].Samples {
			return false
		}
	}
	return true
}
