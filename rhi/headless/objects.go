package headless

import (
	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// Object kinds, as counted by Device.LiveCount.
const (
	KindBuffer              = "buffer"
	KindImage               = "image"
	KindSampler             = "sampler"
	KindDescriptorSetLayout = "descriptorSetLayout"
	KindPipelineLayout      = "pipelineLayout"
	KindRenderPass          = "renderPass"
	KindFramebuffer         = "framebuffer"
	KindPipeline            = "pipeline"
	KindDescriptorPool      = "descriptorPool"
	KindDescriptorSet       = "descriptorSet"
	KindCommandBuffer       = "commandBuffer"
	KindFence               = "fence"
	KindSemaphore           = "semaphore"
)

// object is the bookkeeping shared by all headless GPU objects.
type object struct {
	dev       *Device
	kind      string
	label     string
	destroyed bool
}

func (o *object) Label() string { return o.label }

func (o *object) Destroy() {
	if o == nil || o.destroyed {
		return
	}
	o.destroyed = true
	o.dev.release(o.kind, o.label)
}

func (o *object) owner() *Device { return o.dev }

// owned is implemented by every headless object.
type owned interface {
	owner() *Device
}

type buffer struct {
	object
	size uint64
	data []byte
}

func (b *buffer) Size() uint64 { return b.size }

type image struct {
	object
	width, height uint32
	format        gputypes.TextureFormat
	swapchain     bool
}

func (i *image) Width() uint32                  { return i.width }
func (i *image) Height() uint32                 { return i.height }
func (i *image) Format() gputypes.TextureFormat { return i.format }

// Destroy is a no-op for swapchain images, which the swapchain owns.
func (i *image) Destroy() {
	if i.swapchain {
		return
	}
	i.object.Destroy()
}

type sampler struct{ object }

type setLayout struct {
	object
	bindings []rhi.DescriptorBinding
}

type pipelineLayout struct {
	object
	sets []*setLayout
}

type renderPass struct {
	object
	desc rhi.RenderPassDescriptor
}

type framebuffer struct {
	object
	rp          *renderPass
	attachments []rhi.Image
	width       uint32
	height      uint32
}

type pipeline struct {
	object
	rp      *renderPass
	subpass uint32
	layout  *pipelineLayout
}

type descriptorPool struct {
	object
	maxSets   uint32
	allocated uint32
	remaining map[rhi.DescriptorType]uint32
	sets      []*descriptorSet
}

// Destroy frees the pool and every set allocated from it.
func (p *descriptorPool) Destroy() {
	if p.destroyed {
		return
	}
	for _, s := range p.sets {
		s.object.Destroy()
	}
	p.sets = nil
	p.object.Destroy()
}

type descriptorSet struct {
	object
	pool   *descriptorPool
	layout *setLayout
	writes map[uint32]rhi.DescriptorWrite
}

// Destroy is a no-op; descriptor sets are freed with their pool.
func (s *descriptorSet) Destroy() {}

// Bound reports whether binding has been written.
func (s *descriptorSet) Bound(binding uint32) bool {
	_, ok := s.writes[binding]
	return ok
}

// fenceState tracks a fence through submit and wait.
type fenceState int

const (
	fenceUnsignaled fenceState = iota
	fencePending
	fenceSignaled
)

type fence struct {
	object
	state fenceState
}

type semaphore struct {
	object
	signaled bool
}
