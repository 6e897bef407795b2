package halrhi

import (
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// SamplerBindingOffset is added to the binding number of a combined image
// sampler to place its sampler half. WGSL has no combined type, so shaders
// declare the texture at N and the sampler at N+SamplerBindingOffset.
const SamplerBindingOffset = 16

// object is the bookkeeping shared by all objects of this backend.
type object struct {
	dev       *Device
	label     string
	destroyed bool
}

func (o *object) Label() string { return o.label }

// Destroy releases CPU-only objects.
func (o *object) Destroy() { o.release() }

// release marks the object destroyed and reports whether this call did it.
func (o *object) release() bool {
	if o == nil || o.destroyed {
		return false
	}
	o.destroyed = true
	o.dev.live.Add(-1)
	slogger().Debug("halrhi: destroy", "label", o.label)
	return true
}

func (o *object) owner() *Device { return o.dev }

type owned interface {
	owner() *Device
}

type buffer struct {
	object
	raw  hal.Buffer
	size uint64
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Destroy() {
	if b.release() {
		b.dev.device.DestroyBuffer(b.raw)
	}
}

type image struct {
	object
	raw           hal.Texture
	view          hal.TextureView
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
	i.free()
}

func (i *image) free() {
	if i.release() {
		i.dev.device.DestroyTextureView(i.view)
		i.dev.device.DestroyTexture(i.raw)
	}
}

type sampler struct {
	object
	raw hal.Sampler
}

func (s *sampler) Destroy() {
	if s.release() {
		s.dev.device.DestroySampler(s.raw)
	}
}

type setLayout struct {
	object
	raw      hal.BindGroupLayout
	bindings []rhi.DescriptorBinding
}

func (l *setLayout) Destroy() {
	if l.release() {
		l.dev.device.DestroyBindGroupLayout(l.raw)
	}
}

// layoutEntries maps descriptor bindings to bind group layout entries.
func layoutEntries(bindings []rhi.DescriptorBinding) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(bindings))
	for _, b := range bindings {
		stages := b.Stages
		if stages == 0 {
			stages = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
		}
		e := gputypes.BindGroupLayoutEntry{Binding: b.Binding, Visibility: stages}
		switch b.Type {
		case rhi.DescriptorTypeUniformBuffer:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case rhi.DescriptorTypeStorageBuffer:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
		case rhi.DescriptorTypeCombinedImageSampler:
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
			entries = append(entries, gputypes.BindGroupLayoutEntry{
				Binding:    b.Binding + SamplerBindingOffset,
				Visibility: stages,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			})
		case rhi.DescriptorTypeInputAttachment:
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeUnfilterableFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Binding < entries[j].Binding })
	return entries
}

type pipelineLayout struct {
	object
	raw  hal.PipelineLayout
	sets []*setLayout
}

func (l *pipelineLayout) Destroy() {
	if l.release() {
		l.dev.device.DestroyPipelineLayout(l.raw)
	}
}

// renderPass has no native counterpart; each subpass becomes one hal render
// pass at record time.
type renderPass struct {
	object
	desc rhi.RenderPassDescriptor

	// lastUse is the last subpass referencing each attachment.
	lastUse []int
}

func newLastUse(desc *rhi.RenderPassDescriptor) []int {
	last := make([]int, len(desc.Attachments))
	for i := range last {
		last[i] = -1
	}
	for k, sp := range desc.Subpasses {
		for _, r := range sp.InputAttachments {
			last[r.Attachment] = k
		}
		for _, r := range sp.ColorAttachments {
			last[r.Attachment] = k
		}
		if sp.DepthStencil != nil {
			last[sp.DepthStencil.Attachment] = k
		}
	}
	return last
}

// compatible reports whether two render passes have identical attachments.
func compatible(a, b *renderPass) bool {
	if len(a.desc.Attachments) != len(b.desc.Attachments) {
		return false
	}
	for i := range a.desc.Attachments {
		if a.desc.Attachments[i] != b.desc.Attachments[i] {
			return false
		}
	}
	return true
}

type framebuffer struct {
	object
	rp            *renderPass
	attachments   []*image
	width, height uint32
}

type pipeline struct {
	object
	raw     hal.RenderPipeline
	module  hal.ShaderModule
	rp      *renderPass
	subpass uint32
}

func (p *pipeline) Destroy() {
	if p.release() {
		p.dev.device.DestroyRenderPipeline(p.raw)
		p.dev.device.DestroyShaderModule(p.module)
	}
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
		s.free()
	}
	p.sets = nil
	p.release()
}

// descriptorSet keeps its writes on the CPU and builds the bind group when
// it is first bound after a change.
type descriptorSet struct {
	object
	pool   *descriptorPool
	layout *setLayout
	writes map[uint32]rhi.DescriptorWrite
	group  hal.BindGroup
	dirty  bool
}

// Destroy is a no-op; descriptor sets are freed with their pool.
func (s *descriptorSet) Destroy() {}

func (s *descriptorSet) free() {
	if s.release() && s.group != nil {
		s.dev.device.DestroyBindGroup(s.group)
		s.group = nil
	}
}

// bindGroup returns the bind group for the current writes.
func (s *descriptorSet) bindGroup() (hal.BindGroup, error) {
	if s.group != nil && !s.dirty {
		return s.group, nil
	}
	entries := make([]gputypes.BindGroupEntry, 0, len(s.layout.bindings))
	for _, b := range s.layout.bindings {
		w, ok := s.writes[b.Binding]
		if !ok {
			return nil, fmt.Errorf("halrhi: descriptor set %q binding %d: %w", s.label, b.Binding, ErrUnwrittenBinding)
		}
		switch b.Type {
		case rhi.DescriptorTypeUniformBuffer, rhi.DescriptorTypeStorageBuffer:
			buf := w.Buffer.(*buffer)
			size := w.Range
			if size == 0 {
				size = buf.size - w.Offset
			}
			entries = append(entries, gputypes.BindGroupEntry{
				Binding:  b.Binding,
				Resource: gputypes.BufferBinding{Buffer: buf.raw.NativeHandle(), Offset: w.Offset, Size: size},
			})
		case rhi.DescriptorTypeCombinedImageSampler:
			img := w.Image.(*image)
			smp, ok := w.Sampler.(*sampler)
			if !ok {
				return nil, fmt.Errorf("halrhi: descriptor set %q binding %d: %w: missing sampler",
					s.label, b.Binding, rhi.ErrInvalidDescriptor)
			}
			entries = append(entries,
				gputypes.BindGroupEntry{Binding: b.Binding, Resource: gputypes.TextureViewBinding{TextureView: img.view.NativeHandle()}},
				gputypes.BindGroupEntry{Binding: b.Binding + SamplerBindingOffset, Resource: gputypes.SamplerBinding{Sampler: smp.raw.NativeHandle()}},
			)
		case rhi.DescriptorTypeInputAttachment:
			img := w.Image.(*image)
			entries = append(entries, gputypes.BindGroupEntry{
				Binding:  b.Binding,
				Resource: gputypes.TextureViewBinding{TextureView: img.view.NativeHandle()},
			})
		}
	}
	group, err := s.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   s.label,
		Layout:  s.layout.raw,
		Entries: entries,
	})
	if err != nil {
		return nil, wrap("create bind group "+s.label, err)
	}
	if s.group != nil {
		s.dev.device.DestroyBindGroup(s.group)
	}
	s.group = group
	s.dirty = false
	return group, nil
}

// fenceState tracks a fence through submit and wait.
type fenceState int

const (
	fenceUnsignaled fenceState = iota
	fencePending
	fenceSignaled
)

// fence signals once the queue reports its submission index complete.
type fence struct {
	object
	state      fenceState
	submission uint64
}

type semaphore struct {
	object
	signaled bool
}
