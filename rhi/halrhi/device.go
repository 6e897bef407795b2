// Copyright 2026 The JoshuaVulkanEngine Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package halrhi implements rhi.Device over the wgpu hardware abstraction
// layer (github.com/gogpu/wgpu/hal).
//
// Any hal backend works: a device shared by a host application through
// gpucontext.DeviceProvider, or the built-in noop backend opened with
// OpenNoop. hal has no subpasses, so each subpass is recorded as its own
// hal render pass and attachments carry over between them through store and
// load ops. The swapchain is an offscreen ring of render targets.
//
// The package registers itself as the "noop" backend.
package halrhi

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

func init() {
	rhi.Register("noop", func(cfg rhi.Config) (rhi.Device, error) {
		d, err := OpenNoop(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// Backend errors.
var (
	// ErrNoHALDevice is returned when a provider does not expose hal types.
	ErrNoHALDevice = errors.New("halrhi: provider does not expose a hal device")

	// ErrIncompleteRenderPass is reported when a render pass ends before its
	// last subpass.
	ErrIncompleteRenderPass = errors.New("halrhi: render pass ended before its last subpass")

	// ErrPipelineMismatch is reported when the bound pipeline was built for a
	// different render pass or subpass.
	ErrPipelineMismatch = errors.New("halrhi: pipeline does not match the active subpass")

	// ErrUnwrittenBinding is reported when a descriptor set is bound before
	// all of its bindings were written.
	ErrUnwrittenBinding = errors.New("halrhi: descriptor binding was never written")

	// ErrSemaphoreNotSignaled is returned when waiting on a semaphore nobody signaled.
	ErrSemaphoreNotSignaled = errors.New("halrhi: semaphore is not signaled")
)

// wrap maps hal errors onto the rhi sentinels.
func wrap(op string, err error) error {
	switch {
	case errors.Is(err, hal.ErrDeviceLost):
		return &rhi.ResultError{Op: op, Code: -4, Err: fmt.Errorf("%w: %w", rhi.ErrDeviceLost, err)}
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return &rhi.ResultError{Op: op, Code: -2, Err: fmt.Errorf("%w: %w", rhi.ErrOutOfMemory, err)}
	case errors.Is(err, hal.ErrTimeout):
		return &rhi.ResultError{Op: op, Code: 2, Err: fmt.Errorf("%w: %w", rhi.ErrTimeout, err)}
	}
	return fmt.Errorf("halrhi: %s: %w", op, err)
}

// Device is an rhi.Device over a hal device and queue.
//
// Device is safe for concurrent use; the objects it returns are not.
type Device struct {
	device hal.Device
	queue  hal.Queue

	// instance is set when the device was opened by this package and must
	// be torn down with it.
	instance hal.Instance

	mu        sync.Mutex
	live      atomic.Int64
	swapchain *Swapchain

	// pollInterval is the sleep between PollCompleted calls in WaitFence.
	pollInterval time.Duration
}

var _ rhi.Device = (*Device)(nil)

// New wraps an open hal device. The caller keeps ownership of device and
// queue. Zero fields of cfg take their values from rhi.DefaultConfig.
func New(device hal.Device, queue hal.Queue, cfg rhi.Config) (*Device, error) {
	if device == nil || queue == nil {
		return nil, ErrNoHALDevice
	}
	def := rhi.DefaultConfig()
	if cfg.Width == 0 {
		cfg.Width = def.Width
	}
	if cfg.Height == 0 {
		cfg.Height = def.Height
	}
	if cfg.ImageCount <= 0 {
		cfg.ImageCount = def.ImageCount
	}
	if cfg.Format == gputypes.TextureFormatUndefined {
		cfg.Format = def.Format
	}
	d := &Device{device: device, queue: queue, pollInterval: 100 * time.Microsecond}
	sc, err := newSwapchain(d, cfg)
	if err != nil {
		return nil, err
	}
	d.swapchain = sc
	slogger().Debug("halrhi: device created",
		"width", cfg.Width, "height", cfg.Height, "images", cfg.ImageCount)
	return d, nil
}

// NewFromProvider wraps the device of a host application. The provider must
// implement HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue. The surface format of the provider is used when cfg leaves the
// format undefined.
func NewFromProvider(provider gpucontext.DeviceProvider, cfg rhi.Config) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALDevice
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is %T", ErrNoHALDevice, hp.HalDevice())
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is %T", ErrNoHALDevice, hp.HalQueue())
	}
	if cfg.Format == gputypes.TextureFormatUndefined {
		cfg.Format = provider.SurfaceFormat()
	}
	info := provider.AdapterInfo()
	slogger().Info("halrhi: using provider device", "adapter", info.Name, "type", info.Type)
	return New(device, queue, cfg)
}

// OpenNoop opens a device on the hal noop backend. Commands are validated
// and discarded; submissions complete immediately.
func OpenNoop(cfg rhi.Config) (*Device, error) {
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		return nil, wrap("create instance", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("halrhi: noop backend exposes no adapter")
	}
	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, wrap("open adapter", err)
	}
	d, err := New(open.Device, open.Queue, cfg)
	if err != nil {
		open.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	return d, nil
}

// SetLogger sets the logger used by the hal backend.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// LiveObjects returns the number of live objects, swapchain images excluded.
func (d *Device) LiveObjects() int { return int(d.live.Load()) }

// HAL returns the underlying hal device and queue.
func (d *Device) HAL() (hal.Device, hal.Queue) { return d.device, d.queue }

func (d *Device) newObject(label string) object {
	d.live.Add(1)
	return object{dev: d, label: label}
}

func (d *Device) own(o any) error {
	ow, ok := o.(owned)
	if !ok || ow.owner() != d {
		return rhi.ErrForeignObject
	}
	return nil
}

// CreateBuffer implements rhi.Device. Sizes are rounded up to four bytes.
func (d *Device) CreateBuffer(desc *rhi.BufferDescriptor) (rhi.Buffer, error) {
	size := desc.Size
	if size == 0 {
		size = uint64(len(desc.Data))
	}
	if size == 0 {
		return nil, fmt.Errorf("halrhi: buffer %q: %w: zero size", desc.Label, rhi.ErrInvalidDescriptor)
	}
	if uint64(len(desc.Data)) > size {
		return nil, fmt.Errorf("halrhi: buffer %q: %w: %d bytes of data for size %d",
			desc.Label, rhi.ErrInvalidDescriptor, len(desc.Data), size)
	}
	aligned := (size + 3) &^ 3
	usage := desc.Usage
	if len(desc.Data) > 0 {
		usage |= gputypes.BufferUsageCopyDst
	}
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{Label: desc.Label, Size: aligned, Usage: usage})
	if err != nil {
		return nil, wrap("create buffer "+desc.Label, err)
	}
	if len(desc.Data) > 0 {
		data := desc.Data
		if n := (uint64(len(data)) + 3) &^ 3; n != uint64(len(data)) {
			data = make([]byte, n)
			copy(data, desc.Data)
		}
		if err := d.queue.WriteBuffer(raw, 0, data); err != nil {
			d.device.DestroyBuffer(raw)
			return nil, wrap("upload buffer "+desc.Label, err)
		}
	}
	return &buffer{object: d.newObject(desc.Label), raw: raw, size: size}, nil
}

// CreateImage implements rhi.Device.
func (d *Device) CreateImage(desc *rhi.ImageDescriptor) (rhi.Image, error) {
	img, err := d.createImage(desc)
	if err != nil {
		return nil, err
	}
	img.object = d.newObject(desc.Label)
	return img, nil
}

// createImage creates the texture and view without counting the object.
func (d *Device) createImage(desc *rhi.ImageDescriptor) (*image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("halrhi: image %q: %w: zero extent", desc.Label, rhi.ErrInvalidDescriptor)
	}
	layers := max(desc.Layers, 1)
	mips := max(desc.MipLevels, 1)
	samples := max(desc.Samples, 1)
	usage := desc.Usage
	if len(desc.Pixels) > 0 {
		usage |= gputypes.TextureUsageCopyDst
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: layers},
		MipLevelCount: mips,
		SampleCount:   samples,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         usage,
	})
	if err != nil {
		return nil, wrap("create texture "+desc.Label, err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           desc.Label + "/view",
		Format:          desc.Format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   mips,
		ArrayLayerCount: layers,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return nil, wrap("create view "+desc.Label, err)
	}
	if len(desc.Pixels) > 0 {
		err := d.queue.WriteTexture(
			&hal.ImageCopyTexture{Texture: tex, Aspect: gputypes.TextureAspectAll},
			desc.Pixels,
			&hal.ImageDataLayout{BytesPerRow: uint32(len(desc.Pixels)) / desc.Height, RowsPerImage: desc.Height},
			&hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		)
		if err != nil {
			d.device.DestroyTextureView(view)
			d.device.DestroyTexture(tex)
			return nil, wrap("upload texture "+desc.Label, err)
		}
	}
	return &image{
		object: object{dev: d, label: desc.Label},
		raw:    tex,
		view:   view,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
	}, nil
}

// CreateSampler implements rhi.Device.
func (d *Device) CreateSampler(desc *rhi.SamplerDescriptor) (rhi.Sampler, error) {
	def := rhi.DefaultSamplerDescriptor(desc.Label)
	mag, minf, mode := desc.MagFilter, desc.MinFilter, desc.AddressMode
	if mag == gputypes.FilterModeUndefined {
		mag = def.MagFilter
	}
	if minf == gputypes.FilterModeUndefined {
		minf = def.MinFilter
	}
	if mode == gputypes.AddressModeUndefined {
		mode = def.AddressMode
	}
	raw, err := d.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: mode,
		AddressModeV: mode,
		AddressModeW: mode,
		MagFilter:    mag,
		MinFilter:    minf,
		MipmapFilter: gputypes.FilterModeNearest,
		LodMaxClamp:  32,
		Anisotropy:   1,
	})
	if err != nil {
		return nil, wrap("create sampler "+desc.Label, err)
	}
	return &sampler{object: d.newObject(desc.Label), raw: raw}, nil
}

// CreateDescriptorSetLayout implements rhi.Device.
func (d *Device) CreateDescriptorSetLayout(desc *rhi.DescriptorSetLayoutDescriptor) (rhi.DescriptorSetLayout, error) {
	seen := make(map[uint32]bool, len(desc.Bindings))
	for _, b := range desc.Bindings {
		if seen[b.Binding] {
			return nil, fmt.Errorf("halrhi: set layout %q: %w: binding %d declared twice",
				desc.Label, rhi.ErrInvalidDescriptor, b.Binding)
		}
		if b.Binding >= SamplerBindingOffset {
			return nil, fmt.Errorf("halrhi: set layout %q: %w: binding %d collides with sampler bindings",
				desc.Label, rhi.ErrInvalidDescriptor, b.Binding)
		}
		seen[b.Binding] = true
	}
	raw, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: layoutEntries(desc.Bindings),
	})
	if err != nil {
		return nil, wrap("create bind group layout "+desc.Label, err)
	}
	return &setLayout{
		object:   d.newObject(desc.Label),
		raw:      raw,
		bindings: append([]rhi.DescriptorBinding(nil), desc.Bindings...),
	}, nil
}

// CreatePipelineLayout implements rhi.Device.
func (d *Device) CreatePipelineLayout(desc *rhi.PipelineLayoutDescriptor) (rhi.PipelineLayout, error) {
	sets := make([]*setLayout, len(desc.SetLayouts))
	raws := make([]hal.BindGroupLayout, len(desc.SetLayouts))
	for i, l := range desc.SetLayouts {
		sl, ok := l.(*setLayout)
		if !ok || sl.dev != d {
			return nil, fmt.Errorf("halrhi: pipeline layout %q set %d: %w", desc.Label, i, rhi.ErrForeignObject)
		}
		sets[i] = sl
		raws[i] = sl.raw
	}
	raw, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{Label: desc.Label, BindGroupLayouts: raws})
	if err != nil {
		return nil, wrap("create pipeline layout "+desc.Label, err)
	}
	return &pipelineLayout{object: d.newObject(desc.Label), raw: raw, sets: sets}, nil
}

// CreateRenderPass implements rhi.Device.
func (d *Device) CreateRenderPass(desc *rhi.RenderPassDescriptor) (rhi.RenderPass, error) {
	if len(desc.Subpasses) == 0 {
		return nil, fmt.Errorf("halrhi: render pass %q: %w: no subpasses", desc.Label, rhi.ErrInvalidDescriptor)
	}
	n := uint32(len(desc.Attachments))
	for i, sp := range desc.Subpasses {
		refs := append(append([]rhi.AttachmentReference(nil), sp.ColorAttachments...), sp.InputAttachments...)
		if sp.DepthStencil != nil {
			refs = append(refs, *sp.DepthStencil)
		}
		for _, r := range refs {
			if r.Attachment >= n {
				return nil, fmt.Errorf("halrhi: render pass %q subpass %d: %w: attachment %d of %d",
					desc.Label, i, rhi.ErrInvalidDescriptor, r.Attachment, n)
			}
		}
	}
	for _, dep := range desc.Dependencies {
		if !validSubpass(dep.SrcSubpass, len(desc.Subpasses)) || !validSubpass(dep.DstSubpass, len(desc.Subpasses)) {
			return nil, fmt.Errorf("halrhi: render pass %q: %w: dependency %d -> %d",
				desc.Label, rhi.ErrInvalidDescriptor, int32(dep.SrcSubpass), int32(dep.DstSubpass))
		}
	}
	cp := *desc
	cp.Attachments = append([]rhi.AttachmentDescription(nil), desc.Attachments...)
	cp.Subpasses = append([]rhi.SubpassDescription(nil), desc.Subpasses...)
	cp.Dependencies = append([]rhi.SubpassDependency(nil), desc.Dependencies...)
	return &renderPass{object: d.newObject(desc.Label), desc: cp, lastUse: newLastUse(&cp)}, nil
}

func validSubpass(idx uint32, count int) bool {
	return idx == rhi.SubpassExternal || int(idx) < count
}

// CreateFramebuffer implements rhi.Device.
func (d *Device) CreateFramebuffer(desc *rhi.FramebufferDescriptor) (rhi.Framebuffer, error) {
	rp, ok := desc.RenderPass.(*renderPass)
	if !ok || rp.dev != d {
		return nil, fmt.Errorf("halrhi: framebuffer %q: %w", desc.Label, rhi.ErrForeignObject)
	}
	if len(desc.Attachments) != len(rp.desc.Attachments) {
		return nil, fmt.Errorf("halrhi: framebuffer %q: %w: %d attachments for render pass with %d",
			desc.Label, rhi.ErrInvalidDescriptor, len(desc.Attachments), len(rp.desc.Attachments))
	}
	atts := make([]*image, len(desc.Attachments))
	for i, a := range desc.Attachments {
		img, ok := a.(*image)
		if !ok || img.dev != d {
			return nil, fmt.Errorf("halrhi: framebuffer %q attachment %d: %w", desc.Label, i, rhi.ErrForeignObject)
		}
		atts[i] = img
	}
	return &framebuffer{
		object:      d.newObject(desc.Label),
		rp:          rp,
		attachments: atts,
		width:       desc.Width,
		height:      desc.Height,
	}, nil
}

// CreateGraphicsPipeline implements rhi.Device.
func (d *Device) CreateGraphicsPipeline(desc *rhi.PipelineDescriptor) (rhi.Pipeline, error) {
	rp, ok := desc.RenderPass.(*renderPass)
	if !ok || rp.dev != d {
		return nil, fmt.Errorf("halrhi: pipeline %q: %w", desc.Label, rhi.ErrForeignObject)
	}
	layout, ok := desc.Layout.(*pipelineLayout)
	if !ok || layout.dev != d {
		return nil, fmt.Errorf("halrhi: pipeline %q layout: %w", desc.Label, rhi.ErrForeignObject)
	}
	if int(desc.Subpass) >= len(rp.desc.Subpasses) {
		return nil, fmt.Errorf("halrhi: pipeline %q: %w: subpass %d of %d",
			desc.Label, rhi.ErrInvalidDescriptor, desc.Subpass, len(rp.desc.Subpasses))
	}
	if desc.Shader.WGSL == "" {
		return nil, fmt.Errorf("halrhi: pipeline %q: %w: empty shader", desc.Label, rhi.ErrInvalidDescriptor)
	}

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Shader.Label,
		Source: hal.ShaderSource{WGSL: desc.Shader.WGSL},
	})
	if err != nil {
		return nil, wrap("create shader module "+desc.Label, err)
	}

	samples := max(desc.Samples, 1)
	pd := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.raw,
		Vertex: hal.VertexState{
			Module:     module,
			EntryPoint: desc.Shader.VertexEntry,
			Buffers:    desc.VertexBuffers,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  desc.Topology,
			FrontFace: gputypes.FrontFaceCCW,
			CullMode:  desc.CullMode,
		},
		Multisample: gputypes.MultisampleState{Count: samples, Mask: 0xFFFFFFFF},
	}
	if desc.Depth != nil && desc.DepthFormat != gputypes.TextureFormatUndefined {
		pd.DepthStencil = &hal.DepthStencilState{
			Format:            desc.DepthFormat,
			DepthWriteEnabled: desc.Depth.Write,
			DepthCompare:      desc.Depth.Compare,
		}
	}
	if desc.Shader.FragmentEntry != "" {
		targets := make([]gputypes.ColorTargetState, len(desc.ColorFormats))
		for i, f := range desc.ColorFormats {
			targets[i] = gputypes.ColorTargetState{Format: f, Blend: desc.Blend, WriteMask: gputypes.ColorWriteMaskAll}
		}
		pd.Fragment = &hal.FragmentState{Module: module, EntryPoint: desc.Shader.FragmentEntry, Targets: targets}
	}
	raw, err := d.device.CreateRenderPipeline(pd)
	if err != nil {
		d.device.DestroyShaderModule(module)
		return nil, wrap("create render pipeline "+desc.Label, err)
	}
	return &pipeline{
		object:  d.newObject(desc.Label),
		raw:     raw,
		module:  module,
		rp:      rp,
		subpass: desc.Subpass,
	}, nil
}

// CreateDescriptorPool implements rhi.Device. hal allocates bind groups
// individually, so the pool only enforces its limits.
func (d *Device) CreateDescriptorPool(desc *rhi.DescriptorPoolDescriptor) (rhi.DescriptorPool, error) {
	if desc.MaxSets == 0 {
		return nil, fmt.Errorf("halrhi: descriptor pool %q: %w: MaxSets is zero", desc.Label, rhi.ErrInvalidDescriptor)
	}
	remaining := make(map[rhi.DescriptorType]uint32, len(desc.Sizes))
	for _, s := range desc.Sizes {
		remaining[s.Type] += s.Count
	}
	return &descriptorPool{
		object:    d.newObject(desc.Label),
		maxSets:   desc.MaxSets,
		remaining: remaining,
	}, nil
}

// AllocateDescriptorSet implements rhi.Device.
func (d *Device) AllocateDescriptorSet(pool rhi.DescriptorPool, layout rhi.DescriptorSetLayout) (rhi.DescriptorSet, error) {
	p, ok := pool.(*descriptorPool)
	if !ok || p.dev != d {
		return nil, rhi.ErrForeignObject
	}
	l, ok := layout.(*setLayout)
	if !ok || l.dev != d {
		return nil, rhi.ErrForeignObject
	}
	if p.destroyed {
		return nil, rhi.ErrDestroyed
	}
	if p.allocated >= p.maxSets {
		return nil, fmt.Errorf("halrhi: descriptor pool %q: %w: %d sets allocated", p.label, rhi.ErrOutOfMemory, p.allocated)
	}
	for _, b := range l.bindings {
		if p.remaining[b.Type] < max(b.Count, 1) {
			return nil, fmt.Errorf("halrhi: descriptor pool %q: %w: no %s descriptors left",
				p.label, rhi.ErrOutOfMemory, b.Type)
		}
	}
	for _, b := range l.bindings {
		p.remaining[b.Type] -= max(b.Count, 1)
	}
	p.allocated++
	s := &descriptorSet{
		object: d.newObject(p.label + "/" + l.label),
		pool:   p,
		layout: l,
		writes: make(map[uint32]rhi.DescriptorWrite),
	}
	p.sets = append(p.sets, s)
	return s, nil
}

// UpdateDescriptorSets implements rhi.Device. Bind groups are rebuilt the
// next time an updated set is bound.
func (d *Device) UpdateDescriptorSets(writes []rhi.DescriptorWrite) error {
	for i, w := range writes {
		s, ok := w.Set.(*descriptorSet)
		if !ok || s.dev != d {
			return fmt.Errorf("halrhi: descriptor write %d: %w", i, rhi.ErrForeignObject)
		}
		var binding *rhi.DescriptorBinding
		for j := range s.layout.bindings {
			if s.layout.bindings[j].Binding == w.Binding {
				binding = &s.layout.bindings[j]
				break
			}
		}
		if binding == nil {
			return fmt.Errorf("halrhi: descriptor write %d: %w: set %q has no binding %d",
				i, rhi.ErrInvalidDescriptor, s.label, w.Binding)
		}
		if binding.Type != w.Type {
			return fmt.Errorf("halrhi: descriptor write %d: %w: binding %d is %s, got %s",
				i, rhi.ErrInvalidDescriptor, w.Binding, binding.Type, w.Type)
		}
		if w.Type.IsBuffer() {
			if w.Buffer == nil {
				return fmt.Errorf("halrhi: descriptor write %d: %w: missing buffer", i, rhi.ErrInvalidDescriptor)
			}
			if err := d.own(w.Buffer); err != nil {
				return fmt.Errorf("halrhi: descriptor write %d buffer: %w", i, err)
			}
			continue
		}
		if w.Image == nil {
			return fmt.Errorf("halrhi: descriptor write %d: %w: missing image", i, rhi.ErrInvalidDescriptor)
		}
		if err := d.own(w.Image); err != nil {
			return fmt.Errorf("halrhi: descriptor write %d image: %w", i, err)
		}
		if w.Sampler != nil {
			if err := d.own(w.Sampler); err != nil {
				return fmt.Errorf("halrhi: descriptor write %d sampler: %w", i, err)
			}
		}
	}
	for _, w := range writes {
		s := w.Set.(*descriptorSet)
		s.writes[w.Binding] = w
		s.dirty = true
	}
	return nil
}

// AllocateCommandBuffer implements rhi.Device.
func (d *Device) AllocateCommandBuffer(label string) (rhi.CommandBuffer, error) {
	return &CommandBuffer{object: d.newObject(label)}, nil
}

// CreateFence implements rhi.Device.
func (d *Device) CreateFence(label string, signaled bool) (rhi.Fence, error) {
	f := &fence{object: d.newObject(label)}
	if signaled {
		f.state = fenceSignaled
	}
	return f, nil
}

// CreateSemaphore implements rhi.Device.
func (d *Device) CreateSemaphore(label string) (rhi.Semaphore, error) {
	return &semaphore{object: d.newObject(label)}, nil
}

// WaitFence implements rhi.Device. It polls the queue until the fence's
// submission completes.
func (d *Device) WaitFence(f rhi.Fence, timeout time.Duration) error {
	hf, ok := f.(*fence)
	if !ok || hf.dev != d {
		return rhi.ErrForeignObject
	}
	switch hf.state {
	case fenceSignaled:
		return nil
	case fenceUnsignaled:
		return fmt.Errorf("halrhi: fence %q never submitted: %w", hf.label, rhi.ErrTimeout)
	}
	deadline := time.Now().Add(timeout)
	for d.queue.PollCompleted() < hf.submission {
		if timeout != rhi.WaitForever && !time.Now().Before(deadline) {
			return fmt.Errorf("halrhi: fence %q after %v: %w", hf.label, timeout, rhi.ErrTimeout)
		}
		time.Sleep(d.pollInterval)
	}
	hf.state = fenceSignaled
	return nil
}

// ResetFence implements rhi.Device.
func (d *Device) ResetFence(f rhi.Fence) error {
	hf, ok := f.(*fence)
	if !ok || hf.dev != d {
		return rhi.ErrForeignObject
	}
	if hf.state == fencePending {
		if d.queue.PollCompleted() < hf.submission {
			return fmt.Errorf("halrhi: reset fence %q: %w", hf.label, rhi.ErrFenceInUse)
		}
	}
	hf.state = fenceUnsignaled
	return nil
}

// Submit implements rhi.Device.
func (d *Device) Submit(info *rhi.SubmitInfo) error {
	cb, ok := info.CommandBuffer.(*CommandBuffer)
	if !ok || cb.dev != d {
		return fmt.Errorf("halrhi: submit: %w", rhi.ErrForeignObject)
	}
	if cb.state != stateExecutable || cb.raw == nil {
		return fmt.Errorf("halrhi: submit %q: %w", cb.label, rhi.ErrNotRecording)
	}
	var hf *fence
	if info.Fence != nil {
		hf, ok = info.Fence.(*fence)
		if !ok || hf.dev != d {
			return fmt.Errorf("halrhi: submit fence: %w", rhi.ErrForeignObject)
		}
		switch hf.state {
		case fencePending:
			return fmt.Errorf("halrhi: submit fence %q: %w", hf.label, rhi.ErrFenceInUse)
		case fenceSignaled:
			return fmt.Errorf("halrhi: submit fence %q: %w", hf.label, rhi.ErrFenceSignaled)
		}
	}
	var wait, signal *semaphore
	if info.WaitSemaphore != nil {
		wait, ok = info.WaitSemaphore.(*semaphore)
		if !ok || wait.dev != d {
			return fmt.Errorf("halrhi: submit wait semaphore: %w", rhi.ErrForeignObject)
		}
		if !wait.signaled {
			return fmt.Errorf("halrhi: submit semaphore %q: %w", wait.label, ErrSemaphoreNotSignaled)
		}
	}
	if info.SignalSemaphore != nil {
		signal, ok = info.SignalSemaphore.(*semaphore)
		if !ok || signal.dev != d {
			return fmt.Errorf("halrhi: submit signal semaphore: %w", rhi.ErrForeignObject)
		}
	}

	d.mu.Lock()
	index, err := d.queue.Submit([]hal.CommandBuffer{cb.raw})
	d.mu.Unlock()
	if err != nil {
		return wrap("submit "+cb.label, err)
	}
	if wait != nil {
		wait.signaled = false
	}
	if signal != nil {
		signal.signaled = true
	}
	if hf != nil {
		hf.state = fencePending
		hf.submission = index
	}
	cb.submission = index
	return nil
}

// WaitIdle implements rhi.Device.
func (d *Device) WaitIdle() error {
	if err := d.device.WaitIdle(); err != nil {
		return wrap("wait idle", err)
	}
	return nil
}

// Swapchain implements rhi.Device.
func (d *Device) Swapchain() rhi.Swapchain { return d.swapchain }

// OffscreenSwapchain returns the concrete swapchain.
func (d *Device) OffscreenSwapchain() *Swapchain { return d.swapchain }

// Destroy releases the swapchain. A device opened by OpenNoop also closes
// the hal device and instance.
func (d *Device) Destroy() {
	d.swapchain.destroy()
	if d.instance != nil {
		d.device.Destroy()
		d.instance.Destroy()
		d.instance = nil
	}
}
