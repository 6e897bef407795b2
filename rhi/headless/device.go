// Copyright 2026 The JoshuaVulkanEngine Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package headless implements an in-memory rhi.Device.
//
// The device executes nothing. It validates usage the way a validation layer
// would, records every command buffer it is handed at submit time, and keeps a
// count of live objects per kind so callers can check for leaks. Fences follow
// the Vulkan model: a submitted fence is pending until a wait observes it, and
// resetting or resubmitting a pending fence is an error.
//
// Faults can be injected with Swapchain.QueueAcquireStatus,
// Swapchain.QueuePresentStatus and Device.FailNext.
//
// The package registers itself as the "headless" backend.
package headless

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

func init() {
	rhi.Register("headless", func(cfg rhi.Config) (rhi.Device, error) {
		return New(cfg), nil
	})
}

// Operations that accept injected failures via FailNext.
const (
	OpAcquire   = "acquire"
	OpPresent   = "present"
	OpSubmit    = "submit"
	OpWaitFence = "waitFence"
	OpCreate    = "create"
)

// ErrInjected is the default error used by FailNext when err is nil.
var ErrInjected = errors.New("headless: injected failure")

// Submission is one command buffer handed to Submit.
type Submission struct {
	CommandBuffer string
	Fence         string
	Commands      []Command
}

// Device is an in-memory rhi.Device.
//
// Device is safe for concurrent use; the objects it returns are not.
type Device struct {
	mu        sync.Mutex
	live      map[string]int
	created   map[string]int
	submits   []Submission
	failures  map[string][]error
	swapchain *Swapchain
}

var _ rhi.Device = (*Device)(nil)

// New creates a headless device with a swapchain described by cfg. Zero
// fields of cfg take their values from rhi.DefaultConfig.
func New(cfg rhi.Config) *Device {
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
	d := &Device{
		live:     make(map[string]int),
		created:  make(map[string]int),
		failures: make(map[string][]error),
	}
	d.swapchain = newSwapchain(d, cfg)
	slogger().Debug("headless: device created",
		"width", cfg.Width, "height", cfg.Height, "images", cfg.ImageCount)
	return d
}

// SetLogger sets the logger used by the headless backend.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// FailNext makes the next call of op return err. Calls queue up.
func (d *Device) FailNext(op string, err error) {
	if err == nil {
		err = ErrInjected
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = append(d.failures[op], err)
}

func (d *Device) takeFailure(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.failures[op]
	if len(q) == 0 {
		return nil
	}
	d.failures[op] = q[1:]
	return q[0]
}

// LiveCount returns the number of live objects of kind.
func (d *Device) LiveCount(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[kind]
}

// CreatedCount returns how many objects of kind were ever created.
func (d *Device) CreatedCount(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

// LiveObjects returns the total number of live objects.
func (d *Device) LiveObjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.live {
		n += c
	}
	return n
}

// LiveKinds returns the kinds with live objects, sorted.
func (d *Device) LiveKinds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var kinds []string
	for k, c := range d.live {
		if c > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}

// Submissions returns every submission so far, oldest first.
func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Submission, len(d.submits))
	copy(out, d.submits)
	return out
}

// LastSubmission returns the most recent submission.
func (d *Device) LastSubmission() (Submission, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.submits) == 0 {
		return Submission{}, false
	}
	return d.submits[len(d.submits)-1], true
}

func (d *Device) newObject(kind, label string) object {
	d.mu.Lock()
	d.live[kind]++
	d.created[kind]++
	d.mu.Unlock()
	return object{dev: d, kind: kind, label: label}
}

func (d *Device) release(kind, label string) {
	d.mu.Lock()
	d.live[kind]--
	d.mu.Unlock()
	slogger().Debug("headless: destroy", "kind", kind, "label", label)
}

// own checks that o was created by d and is still alive.
func (d *Device) own(o any) error {
	ow, ok := o.(owned)
	if !ok || ow.owner() != d {
		return rhi.ErrForeignObject
	}
	return nil
}

// CreateBuffer implements rhi.Device.
func (d *Device) CreateBuffer(desc *rhi.BufferDescriptor) (rhi.Buffer, error) {
	if err := d.takeFailure(OpCreate); err != nil {
		return nil, err
	}
	size := desc.Size
	if size == 0 {
		size = uint64(len(desc.Data))
	}
	if size == 0 {
		return nil, fmt.Errorf("headless: buffer %q: %w: zero size", desc.Label, rhi.ErrInvalidDescriptor)
	}
	if uint64(len(desc.Data)) > size {
		return nil, fmt.Errorf("headless: buffer %q: %w: %d bytes of data for size %d",
			desc.Label, rhi.ErrInvalidDescriptor, len(desc.Data), size)
	}
	b := &buffer{object: d.newObject(KindBuffer, desc.Label), size: size}
	if len(desc.Data) > 0 {
		b.data = append([]byte(nil), desc.Data...)
	}
	return b, nil
}

// CreateImage implements rhi.Device.
func (d *Device) CreateImage(desc *rhi.ImageDescriptor) (rhi.Image, error) {
	if err := d.takeFailure(OpCreate); err != nil {
		return nil, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("headless: image %q: %w: zero extent", desc.Label, rhi.ErrInvalidDescriptor)
	}
	return &image{
		object: d.newObject(KindImage, desc.Label),
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
	}, nil
}

// CreateSampler implements rhi.Device.
func (d *Device) CreateSampler(desc *rhi.SamplerDescriptor) (rhi.Sampler, error) {
	if err := d.takeFailure(OpCreate); err != nil {
		return nil, err
	}
	return &sampler{object: d.newObject(KindSampler, desc.Label)}, nil
}

// CreateDescriptorSetLayout implements rhi.Device.
func (d *Device) CreateDescriptorSetLayout(desc *rhi.DescriptorSetLayoutDescriptor) (rhi.DescriptorSetLayout, error) {
	seen := make(map[uint32]bool, len(desc.Bindings))
	for _, b := range desc.Bindings {
		if seen[b.Binding] {
			return nil, fmt.Errorf("headless: set layout %q: %w: binding %d declared twice",
				desc.Label, rhi.ErrInvalidDescriptor, b.Binding)
		}
		seen[b.Binding] = true
	}
	return &setLayout{
		object:   d.newObject(KindDescriptorSetLayout, desc.Label),
		bindings: append([]rhi.DescriptorBinding(nil), desc.Bindings...),
	}, nil
}

// CreatePipelineLayout implements rhi.Device.
func (d *Device) CreatePipelineLayout(desc *rhi.PipelineLayoutDescriptor) (rhi.PipelineLayout, error) {
	sets := make([]*setLayout, len(desc.SetLayouts))
	for i, l := range desc.SetLayouts {
		sl, ok := l.(*setLayout)
		if !ok || sl.dev != d {
			return nil, fmt.Errorf("headless: pipeline layout %q set %d: %w", desc.Label, i, rhi.ErrForeignObject)
		}
		sets[i] = sl
	}
	return &pipelineLayout{object: d.newObject(KindPipelineLayout, desc.Label), sets: sets}, nil
}

// CreateRenderPass implements rhi.Device.
func (d *Device) CreateRenderPass(desc *rhi.RenderPassDescriptor) (rhi.RenderPass, error) {
	if len(desc.Subpasses) == 0 {
		return nil, fmt.Errorf("headless: render pass %q: %w: no subpasses", desc.Label, rhi.ErrInvalidDescriptor)
	}
	n := uint32(len(desc.Attachments))
	for i, sp := range desc.Subpasses {
		refs := append(append([]rhi.AttachmentReference(nil), sp.ColorAttachments...), sp.InputAttachments...)
		if sp.DepthStencil != nil {
			refs = append(refs, *sp.DepthStencil)
		}
		for _, r := range refs {
			if r.Attachment >= n {
				return nil, fmt.Errorf("headless: render pass %q subpass %d: %w: attachment %d of %d",
					desc.Label, i, rhi.ErrInvalidDescriptor, r.Attachment, n)
			}
		}
	}
	for _, dep := range desc.Dependencies {
		if !validSubpass(dep.SrcSubpass, len(desc.Subpasses)) || !validSubpass(dep.DstSubpass, len(desc.Subpasses)) {
			return nil, fmt.Errorf("headless: render pass %q: %w: dependency %d -> %d",
				desc.Label, rhi.ErrInvalidDescriptor, int32(dep.SrcSubpass), int32(dep.DstSubpass))
		}
	}
	cp := *desc
	cp.Attachments = append([]rhi.AttachmentDescription(nil), desc.Attachments...)
	cp.Subpasses = append([]rhi.SubpassDescription(nil), desc.Subpasses...)
	cp.Dependencies = append([]rhi.SubpassDependency(nil), desc.Dependencies...)
	return &renderPass{object: d.newObject(KindRenderPass, desc.Label), desc: cp}, nil
}

func validSubpass(idx uint32, count int) bool {
	return idx == rhi.SubpassExternal || int(idx) < count
}

// CreateFramebuffer implements rhi.Device.
func (d *Device) CreateFramebuffer(desc *rhi.FramebufferDescriptor) (rhi.Framebuffer, error) {
	rp, ok := desc.RenderPass.(*renderPass)
	if !ok || rp.dev != d {
		return nil, fmt.Errorf("headless: framebuffer %q: %w", desc.Label, rhi.ErrForeignObject)
	}
	if len(desc.Attachments) != len(rp.desc.Attachments) {
		return nil, fmt.Errorf("headless: framebuffer %q: %w: %d attachments for render pass with %d",
			desc.Label, rhi.ErrInvalidDescriptor, len(desc.Attachments), len(rp.desc.Attachments))
	}
	for i, a := range desc.Attachments {
		if a == nil {
			return nil, fmt.Errorf("headless: framebuffer %q: %w: attachment %d is nil",
				desc.Label, rhi.ErrInvalidDescriptor, i)
		}
		if err := d.own(a); err != nil {
			return nil, fmt.Errorf("headless: framebuffer %q attachment %d: %w", desc.Label, i, err)
		}
		if a.Width() < desc.Width || a.Height() < desc.Height {
			return nil, fmt.Errorf("headless: framebuffer %q: %w: attachment %d is %dx%d, framebuffer is %dx%d",
				desc.Label, rhi.ErrInvalidDescriptor, i, a.Width(), a.Height(), desc.Width, desc.Height)
		}
	}
	return &framebuffer{
		object:      d.newObject(KindFramebuffer, desc.Label),
		rp:          rp,
		attachments: append([]rhi.Image(nil), desc.Attachments...),
		width:       desc.Width,
		height:      desc.Height,
	}, nil
}

// CreateGraphicsPipeline implements rhi.Device.
func (d *Device) CreateGraphicsPipeline(desc *rhi.PipelineDescriptor) (rhi.Pipeline, error) {
	rp, ok := desc.RenderPass.(*renderPass)
	if !ok || rp.dev != d {
		return nil, fmt.Errorf("headless: pipeline %q: %w", desc.Label, rhi.ErrForeignObject)
	}
	layout, ok := desc.Layout.(*pipelineLayout)
	if !ok || layout.dev != d {
		return nil, fmt.Errorf("headless: pipeline %q layout: %w", desc.Label, rhi.ErrForeignObject)
	}
	if int(desc.Subpass) >= len(rp.desc.Subpasses) {
		return nil, fmt.Errorf("headless: pipeline %q: %w: subpass %d of %d",
			desc.Label, rhi.ErrInvalidDescriptor, desc.Subpass, len(rp.desc.Subpasses))
	}
	if desc.Shader.WGSL == "" {
		return nil, fmt.Errorf("headless: pipeline %q: %w: empty shader", desc.Label, rhi.ErrInvalidDescriptor)
	}
	return &pipeline{
		object:  d.newObject(KindPipeline, desc.Label),
		rp:      rp,
		subpass: desc.Subpass,
		layout:  layout,
	}, nil
}

// CreateDescriptorPool implements rhi.Device.
func (d *Device) CreateDescriptorPool(desc *rhi.DescriptorPoolDescriptor) (rhi.DescriptorPool, error) {
	if desc.MaxSets == 0 {
		return nil, fmt.Errorf("headless: descriptor pool %q: %w: MaxSets is zero", desc.Label, rhi.ErrInvalidDescriptor)
	}
	remaining := make(map[rhi.DescriptorType]uint32, len(desc.Sizes))
	for _, s := range desc.Sizes {
		remaining[s.Type] += s.Count
	}
	return &descriptorPool{
		object:    d.newObject(KindDescriptorPool, desc.Label),
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
		return nil, fmt.Errorf("headless: descriptor pool %q: %w: %d sets allocated", p.label, rhi.ErrOutOfMemory, p.allocated)
	}
	for _, b := range l.bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		if p.remaining[b.Type] < count {
			return nil, fmt.Errorf("headless: descriptor pool %q: %w: no %s descriptors left",
				p.label, rhi.ErrOutOfMemory, b.Type)
		}
	}
	for _, b := range l.bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		p.remaining[b.Type] -= count
	}
	p.allocated++
	s := &descriptorSet{
		object: d.newObject(KindDescriptorSet, p.label+"/"+l.label),
		pool:   p,
		layout: l,
		writes: make(map[uint32]rhi.DescriptorWrite),
	}
	p.sets = append(p.sets, s)
	return s, nil
}

// UpdateDescriptorSets implements rhi.Device.
func (d *Device) UpdateDescriptorSets(writes []rhi.DescriptorWrite) error {
	for i, w := range writes {
		s, ok := w.Set.(*descriptorSet)
		if !ok || s.dev != d {
			return fmt.Errorf("headless: descriptor write %d: %w", i, rhi.ErrForeignObject)
		}
		var binding *rhi.DescriptorBinding
		for j := range s.layout.bindings {
			if s.layout.bindings[j].Binding == w.Binding {
				binding = &s.layout.bindings[j]
				break
			}
		}
		if binding == nil {
			return fmt.Errorf("headless: descriptor write %d: %w: set %q has no binding %d",
				i, rhi.ErrInvalidDescriptor, s.label, w.Binding)
		}
		if binding.Type != w.Type {
			return fmt.Errorf("headless: descriptor write %d: %w: binding %d is %s, got %s",
				i, rhi.ErrInvalidDescriptor, w.Binding, binding.Type, w.Type)
		}
		if w.Type.IsBuffer() && w.Buffer == nil {
			return fmt.Errorf("headless: descriptor write %d: %w: missing buffer", i, rhi.ErrInvalidDescriptor)
		}
		if !w.Type.IsBuffer() && w.Image == nil {
			return fmt.Errorf("headless: descriptor write %d: %w: missing image", i, rhi.ErrInvalidDescriptor)
		}
	}
	for _, w := range writes {
		s := w.Set.(*descriptorSet)
		s.writes[w.Binding] = w
	}
	return nil
}

// AllocateCommandBuffer implements rhi.Device.
func (d *Device) AllocateCommandBuffer(label string) (rhi.CommandBuffer, error) {
	return &CommandBuffer{object: d.newObject(KindCommandBuffer, label)}, nil
}

// CreateFence implements rhi.Device.
func (d *Device) CreateFence(label string, signaled bool) (rhi.Fence, error) {
	f := &fence{object: d.newObject(KindFence, label)}
	if signaled {
		f.state = fenceSignaled
	}
	return f, nil
}

// CreateSemaphore implements rhi.Device.
func (d *Device) CreateSemaphore(label string) (rhi.Semaphore, error) {
	return &semaphore{object: d.newObject(KindSemaphore, label)}, nil
}

// WaitFence implements rhi.Device. A pending fence completes immediately; a
// fence that was reset and never submitted would block forever, so it times out.
func (d *Device) WaitFence(f rhi.Fence, timeout time.Duration) error {
	if err := d.takeFailure(OpWaitFence); err != nil {
		return err
	}
	hf, ok := f.(*fence)
	if !ok || hf.dev != d {
		return rhi.ErrForeignObject
	}
	switch hf.state {
	case fencePending:
		hf.state = fenceSignaled
	case fenceUnsignaled:
		return fmt.Errorf("headless: fence %q never submitted: %w", hf.label, rhi.ErrTimeout)
	}
	return nil
}

// ResetFence implements rhi.Device.
func (d *Device) ResetFence(f rhi.Fence) error {
	hf, ok := f.(*fence)
	if !ok || hf.dev != d {
		return rhi.ErrForeignObject
	}
	if hf.state == fencePending {
		return fmt.Errorf("headless: reset fence %q: %w", hf.label, rhi.ErrFenceInUse)
	}
	hf.state = fenceUnsignaled
	return nil
}

// Submit implements rhi.Device.
func (d *Device) Submit(info *rhi.SubmitInfo) error {
	if err := d.takeFailure(OpSubmit); err != nil {
		return err
	}
	cb, ok := info.CommandBuffer.(*CommandBuffer)
	if !ok || cb.dev != d {
		return fmt.Errorf("headless: submit: %w", rhi.ErrForeignObject)
	}
	if cb.state != StateExecutable {
		return fmt.Errorf("headless: submit %q in state %s: %w", cb.label, cb.state, rhi.ErrNotRecording)
	}
	var hf *fence
	if info.Fence != nil {
		hf, ok = info.Fence.(*fence)
		if !ok || hf.dev != d {
			return fmt.Errorf("headless: submit fence: %w", rhi.ErrForeignObject)
		}
		switch hf.state {
		case fencePending:
			return fmt.Errorf("headless: submit fence %q: %w", hf.label, rhi.ErrFenceInUse)
		case fenceSignaled:
			return fmt.Errorf("headless: submit fence %q: %w", hf.label, rhi.ErrFenceSignaled)
		}
	}
	if info.WaitSemaphore != nil {
		s, ok := info.WaitSemaphore.(*semaphore)
		if !ok || s.dev != d {
			return fmt.Errorf("headless: submit wait semaphore: %w", rhi.ErrForeignObject)
		}
		if !s.signaled {
			return fmt.Errorf("headless: submit semaphore %q: %w", s.label, ErrSemaphoreNotSignaled)
		}
		s.signaled = false
	}
	if info.SignalSemaphore != nil {
		s, ok := info.SignalSemaphore.(*semaphore)
		if !ok || s.dev != d {
			return fmt.Errorf("headless: submit signal semaphore: %w", rhi.ErrForeignObject)
		}
		s.signaled = true
	}

	sub := Submission{CommandBuffer: cb.label, Commands: append([]Command(nil), cb.commands...)}
	if hf != nil {
		hf.state = fencePending
		sub.Fence = hf.label
	}
	d.mu.Lock()
	d.submits = append(d.submits, sub)
	d.mu.Unlock()
	return nil
}

// WaitIdle implements rhi.Device. All submitted work completes.
func (d *Device) WaitIdle() error {
	return nil
}

// Swapchain implements rhi.Device.
func (d *Device) Swapchain() rhi.Swapchain { return d.swapchain }

// HeadlessSwapchain returns the concrete swapchain for fault injection.
func (d *Device) HeadlessSwapchain() *Swapchain { return d.swapchain }

// Destroy releases the swapchain images and framebuffers.
func (d *Device) Destroy() {
	d.swapchain.destroy()
}
