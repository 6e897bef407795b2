// Copyright 2026 The JoshuaVulkanEngine Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package vulkan implements rhi.Device with native Vulkan calls through
// github.com/vulkan-go/vulkan.
//
// The host owns the instance, the logical device and the surface: it loads
// the Vulkan loader (vk.SetDefaultGetInstanceProcAddr and vk.Init), creates
// the device with the swapchain extension enabled and passes the handles to
// New. The package does not register a backend name because it cannot open
// a device on its own.
//
// Build with the nogpu tag to leave the package out.
package vulkan

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	vk "github.com/vulkan-go/vulkan"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

var (
	// ErrNoDevice is returned when Handles lacks the device or queue.
	ErrNoDevice = errors.New("vulkan: no device handles")

	// ErrNoSurface is returned when Handles has no presentation surface.
	ErrNoSurface = errors.New("vulkan: no surface")

	// ErrUnsupportedFormat is returned for a format without a Vulkan mapping.
	ErrUnsupportedFormat = errors.New("vulkan: unsupported format")

	// ErrNoMemoryType is returned when no memory type has the requested properties.
	ErrNoMemoryType = errors.New("vulkan: no suitable memory type")

	// ErrPipelineMismatch is reported when the bound pipeline was built for an
	// incompatible render pass or another subpass.
	ErrPipelineMismatch = errors.New("vulkan: pipeline does not match the active subpass")
)

// Handles are the native objects a host application shares with Device.
type Handles struct {
	PhysicalDevice vk.PhysicalDevice
	Device         vk.Device
	Queue          vk.Queue
	QueueFamily    uint32
	Surface        vk.Surface
}

// Device is an rhi.Device over a host-created Vulkan device.
type Device struct {
	gpu      vk.PhysicalDevice
	raw      vk.Device
	queue    vk.Queue
	family   uint32
	memProps vk.PhysicalDeviceMemoryProperties

	// mu guards the queue and the command pool.
	mu   sync.Mutex
	pool vk.CommandPool

	live      atomic.Int64
	swapchain *Swapchain
}

var _ rhi.Device = (*Device)(nil)

// New wraps the host handles. Zero fields of cfg take their values from
// rhi.DefaultConfig; the surface decides the final extent and format.
func New(h Handles, cfg rhi.Config) (*Device, error) {
	if h.Device == nil || h.Queue == nil {
		return nil, ErrNoDevice
	}
	if h.Surface == vk.NullSurface {
		return nil, ErrNoSurface
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

	d := &Device{gpu: h.PhysicalDevice, raw: h.Device, queue: h.Queue, family: h.QueueFamily}
	vk.GetPhysicalDeviceMemoryProperties(d.gpu, &d.memProps)
	d.memProps.Deref()

	var pool vk.CommandPool
	err := check("create command pool", vk.CreateCommandPool(d.raw, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.family,
	}, nil, &pool))
	if err != nil {
		return nil, err
	}
	d.pool = pool

	sc, err := newSwapchain(d, h.Surface, cfg)
	if err != nil {
		vk.DestroyCommandPool(d.raw, d.pool, nil)
		return nil, err
	}
	d.swapchain = sc
	slogger().Info("vulkan: device created",
		"width", sc.width, "height", sc.height, "images", len(sc.images), "format", sc.format)
	return d, nil
}

// SetLogger sets the logger used by the Vulkan backend.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// LiveObjects returns the number of live objects, swapchain images excluded.
func (d *Device) LiveObjects() int { return int(d.live.Load()) }

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

func (d *Device) findMemoryType(bits uint32, props vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < d.memProps.MemoryTypeCount; i++ {
		mt := d.memProps.MemoryTypes[i]
		mt.Deref()
		if bits&(1<<i) != 0 && mt.PropertyFlags&props == props {
			return i, nil
		}
	}
	return 0, ErrNoMemoryType
}

func (d *Device) allocate(req vk.MemoryRequirements, props vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	req.Deref()
	idx, err := d.findMemoryType(req.MemoryTypeBits, props)
	if err != nil {
		return nil, err
	}
	var mem vk.DeviceMemory
	err = check("allocate memory", vk.AllocateMemory(d.raw, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: idx,
	}, nil, &mem))
	return mem, err
}

func (d *Device) createRawBuffer(size uint64, usage vk.BufferUsageFlags, sharing rhi.SharingMode, props vk.MemoryPropertyFlags) (vk.Buffer, vk.DeviceMemory, error) {
	mode := vk.SharingModeExclusive
	if sharing == rhi.SharingModeConcurrent {
		mode = vk.SharingModeConcurrent
	}
	var buf vk.Buffer
	err := check("create buffer", vk.CreateBuffer(d.raw, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: mode,
	}, nil, &buf))
	if err != nil {
		return nil, nil, err
	}
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.raw, buf, &req)
	mem, err := d.allocate(req, props)
	if err != nil {
		vk.DestroyBuffer(d.raw, buf, nil)
		return nil, nil, err
	}
	if err := check("bind buffer memory", vk.BindBufferMemory(d.raw, buf, mem, 0)); err != nil {
		vk.FreeMemory(d.raw, mem, nil)
		vk.DestroyBuffer(d.raw, buf, nil)
		return nil, nil, err
	}
	return buf, mem, nil
}

func (d *Device) write(mem vk.DeviceMemory, data []byte) error {
	var ptr unsafe.Pointer
	if err := check("map memory", vk.MapMemory(d.raw, mem, 0, vk.DeviceSize(len(data)), 0, &ptr)); err != nil {
		return err
	}
	vk.Memcopy(ptr, data)
	vk.UnmapMemory(d.raw, mem)
	return nil
}

// staging copies data into a host-visible transfer source buffer.
func (d *Device) staging(data []byte) (vk.Buffer, vk.DeviceMemory, error) {
	buf, mem, err := d.createRawBuffer(uint64(len(data)),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), rhi.SharingModeExclusive,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, nil, err
	}
	if err := d.write(mem, data); err != nil {
		vk.DestroyBuffer(d.raw, buf, nil)
		vk.FreeMemory(d.raw, mem, nil)
		return nil, nil, err
	}
	return buf, mem, nil
}

// oneShot records commands into a temporary command buffer and waits for
// the queue to finish them.
func (d *Device) oneShot(op string, record func(cb vk.CommandBuffer)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cbs := make([]vk.CommandBuffer, 1)
	err := check(op, vk.AllocateCommandBuffers(d.raw, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cbs))
	if err != nil {
		return err
	}
	defer vk.FreeCommandBuffers(d.raw, d.pool, 1, cbs)

	err = check(op, vk.BeginCommandBuffer(cbs[0], &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}))
	if err != nil {
		return err
	}
	record(cbs[0])
	if err := check(op, vk.EndCommandBuffer(cbs[0])); err != nil {
		return err
	}
	err = check(op, vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cbs,
	}}, vk.NullFence))
	if err != nil {
		return err
	}
	return check(op, vk.QueueWaitIdle(d.queue))
}

// CreateBuffer implements rhi.Device. Data goes through a staging buffer
// unless the buffer is host visible.
func (d *Device) CreateBuffer(desc *rhi.BufferDescriptor) (rhi.Buffer, error) {
	size := desc.Size
	if size == 0 {
		size = uint64(len(desc.Data))
	}
	if size == 0 {
		return nil, fmt.Errorf("vulkan: buffer %q: %w: zero size", desc.Label, rhi.ErrInvalidDescriptor)
	}
	if uint64(len(desc.Data)) > size {
		return nil, fmt.Errorf("vulkan: buffer %q: %w: %d bytes of data for size %d",
			desc.Label, rhi.ErrInvalidDescriptor, len(desc.Data), size)
	}
	hostVisible := desc.Memory&rhi.MemoryPropertyHostVisible != 0
	usage := desc.Usage
	if len(desc.Data) > 0 && !hostVisible {
		usage |= gputypes.BufferUsageCopyDst
	}
	raw, mem, err := d.createRawBuffer(size, bufferUsage(usage), desc.Sharing, memoryProperties(desc.Memory))
	if err != nil {
		return nil, fmt.Errorf("vulkan: buffer %q: %w", desc.Label, err)
	}
	if len(desc.Data) > 0 {
		if hostVisible {
			err = d.write(mem, desc.Data)
		} else {
			err = d.uploadBuffer(raw, desc.Data)
		}
		if err != nil {
			vk.DestroyBuffer(d.raw, raw, nil)
			vk.FreeMemory(d.raw, mem, nil)
			return nil, fmt.Errorf("vulkan: upload buffer %q: %w", desc.Label, err)
		}
	}
	return &buffer{object: d.newObject(desc.Label), raw: raw, mem: mem, size: size}, nil
}

func (d *Device) uploadBuffer(dst vk.Buffer, data []byte) error {
	src, mem, err := d.staging(data)
	if err != nil {
		return err
	}
	defer vk.FreeMemory(d.raw, mem, nil)
	defer vk.DestroyBuffer(d.raw, src, nil)
	return d.oneShot("copy buffer", func(cb vk.CommandBuffer) {
		vk.CmdCopyBuffer(cb, src, dst, 1, []vk.BufferCopy{{Size: vk.DeviceSize(len(data))}})
	})
}

// CreateImage implements rhi.Device. Pixels are uploaded through a staging
// buffer and leave the image in the shader read-only layout.
func (d *Device) CreateImage(desc *rhi.ImageDescriptor) (rhi.Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("vulkan: image %q: %w: zero extent", desc.Label, rhi.ErrInvalidDescriptor)
	}
	format, ok := vkFormat(desc.Format)
	if !ok {
		return nil, fmt.Errorf("vulkan: image %q: %w: %v", desc.Label, ErrUnsupportedFormat, desc.Format)
	}
	layers := max(desc.Layers, 1)
	mips := max(desc.MipLevels, 1)
	usage := desc.Usage
	if len(desc.Pixels) > 0 {
		usage |= gputypes.TextureUsageCopyDst
	}

	var raw vk.Image
	err := check("create image "+desc.Label, vk.CreateImage(d.raw, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        format,
		Extent:        vk.Extent3D{Width: desc.Width, Height: desc.Height, Depth: 1},
		MipLevels:     mips,
		ArrayLayers:   layers,
		Samples:       sampleCount(desc.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(usage, desc.Format),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &raw))
	if err != nil {
		return nil, err
	}
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.raw, raw, &req)
	mem, err := d.allocate(req, memoryProperties(desc.Memory))
	if err != nil {
		vk.DestroyImage(d.raw, raw, nil)
		return nil, fmt.Errorf("vulkan: image %q: %w", desc.Label, err)
	}
	if err := check("bind image memory "+desc.Label, vk.BindImageMemory(d.raw, raw, mem, 0)); err != nil {
		vk.FreeMemory(d.raw, mem, nil)
		vk.DestroyImage(d.raw, raw, nil)
		return nil, err
	}
	view, err := d.createView(raw, format, aspectOf(desc.Format), mips, layers)
	if err != nil {
		vk.FreeMemory(d.raw, mem, nil)
		vk.DestroyImage(d.raw, raw, nil)
		return nil, err
	}
	img := &image{
		object: d.newObject(desc.Label),
		raw:    raw,
		mem:    mem,
		view:   view,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
	}
	if len(desc.Pixels) > 0 {
		if err := d.uploadImage(img, desc.Pixels); err != nil {
			img.Destroy()
			return nil, fmt.Errorf("vulkan: upload image %q: %w", desc.Label, err)
		}
	}
	return img, nil
}

func (d *Device) createView(raw vk.Image, format vk.Format, aspect vk.ImageAspectFlags, mips, layers uint32) (vk.ImageView, error) {
	var view vk.ImageView
	err := check("create image view", vk.CreateImageView(d.raw, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    raw,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: mips,
			LayerCount: layers,
		},
	}, nil, &view))
	return view, err
}

func (d *Device) uploadImage(img *image, pixels []byte) error {
	src, mem, err := d.staging(pixels)
	if err != nil {
		return err
	}
	defer vk.FreeMemory(d.raw, mem, nil)
	defer vk.DestroyBuffer(d.raw, src, nil)
	aspect := aspectOf(img.format)
	return d.oneShot("copy image", func(cb vk.CommandBuffer) {
		barrier(cb, img.raw, aspect, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
		vk.CmdCopyBufferToImage(cb, src, img.raw, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
			ImageSubresource: vk.ImageSubresourceLayers{AspectMask: aspect, LayerCount: 1},
			ImageExtent:      vk.Extent3D{Width: img.width, Height: img.height, Depth: 1},
		}})
		barrier(cb, img.raw, aspect, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
	})
}

// barrier records the two layout transitions used by image uploads.
func barrier(cb vk.CommandBuffer, img vk.Image, aspect vk.ImageAspectFlags, from, to vk.ImageLayout) {
	b := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange:    vk.ImageSubresourceRange{AspectMask: aspect, LevelCount: 1, LayerCount: 1},
	}
	var src, dst vk.PipelineStageFlagBits
	if from == vk.ImageLayoutUndefined {
		b.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		src, dst = vk.PipelineStageTopOfPipeBit, vk.PipelineStageTransferBit
	} else {
		b.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		b.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		src, dst = vk.PipelineStageTransferBit, vk.PipelineStageFragmentShaderBit
	}
	vk.CmdPipelineBarrier(cb, vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{b})
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
	var raw vk.Sampler
	err := check("create sampler "+desc.Label, vk.CreateSampler(d.raw, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter(mag),
		MinFilter:               filter(minf),
		MipmapMode:              vk.SamplerMipmapModeNearest,
		AddressModeU:            addressMode(mode),
		AddressModeV:            addressMode(mode),
		AddressModeW:            addressMode(mode),
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MaxLod:                  32,
		UnnormalizedCoordinates: vk.False,
	}, nil, &raw))
	if err != nil {
		return nil, err
	}
	return &sampler{object: d.newObject(desc.Label), raw: raw}, nil
}

// CreateDescriptorSetLayout implements rhi.Device.
func (d *Device) CreateDescriptorSetLayout(desc *rhi.DescriptorSetLayoutDescriptor) (rhi.DescriptorSetLayout, error) {
	seen := make(map[uint32]bool, len(desc.Bindings))
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(desc.Bindings))
	for _, b := range desc.Bindings {
		if seen[b.Binding] {
			return nil, fmt.Errorf("vulkan: set layout %q: %w: binding %d declared twice",
				desc.Label, rhi.ErrInvalidDescriptor, b.Binding)
		}
		seen[b.Binding] = true
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  descriptorType(b.Type),
			DescriptorCount: max(b.Count, 1),
			StageFlags:      shaderStages(b.Stages),
		})
	}
	var raw vk.DescriptorSetLayout
	err := check("create set layout "+desc.Label, vk.CreateDescriptorSetLayout(d.raw, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, nil, &raw))
	if err != nil {
		return nil, err
	}
	return &setLayout{
		object:   d.newObject(desc.Label),
		raw:      raw,
		bindings: append([]rhi.DescriptorBinding(nil), desc.Bindings...),
	}, nil
}

// CreatePipelineLayout implements rhi.Device.
func (d *Device) CreatePipelineLayout(desc *rhi.PipelineLayoutDescriptor) (rhi.PipelineLayout, error) {
	raws := make([]vk.DescriptorSetLayout, len(desc.SetLayouts))
	for i, l := range desc.SetLayouts {
		sl, ok := l.(*setLayout)
		if !ok || sl.dev != d {
			return nil, fmt.Errorf("vulkan: pipeline layout %q set %d: %w", desc.Label, i, rhi.ErrForeignObject)
		}
		raws[i] = sl.raw
	}
	var raw vk.PipelineLayout
	err := check("create pipeline layout "+desc.Label, vk.CreatePipelineLayout(d.raw, &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(raws)),
		PSetLayouts:    raws,
	}, nil, &raw))
	if err != nil {
		return nil, err
	}
	return &pipelineLayout{object: d.newObject(desc.Label), raw: raw}, nil
}

// CreateRenderPass implements rhi.Device.
func (d *Device) CreateRenderPass(desc *rhi.RenderPassDescriptor) (rhi.RenderPass, error) {
	info, err := renderPassInfo(desc)
	if err != nil {
		return nil, fmt.Errorf("vulkan: render pass %q: %w", desc.Label, err)
	}
	var raw vk.RenderPass
	if err := check("create render pass "+desc.Label, vk.CreateRenderPass(d.raw, info, nil, &raw)); err != nil {
		return nil, err
	}
	cp := *desc
	cp.Attachments = append([]rhi.AttachmentDescription(nil), desc.Attachments...)
	cp.Subpasses = append([]rhi.SubpassDescription(nil), desc.Subpasses...)
	cp.Dependencies = append([]rhi.SubpassDependency(nil), desc.Dependencies...)
	return &renderPass{object: d.newObject(desc.Label), raw: raw, desc: cp}, nil
}

// renderPassInfo validates desc and converts it to its Vulkan form.
func renderPassInfo(desc *rhi.RenderPassDescriptor) (*vk.RenderPassCreateInfo, error) {
	if len(desc.Subpasses) == 0 {
		return nil, fmt.Errorf("%w: no subpasses", rhi.ErrInvalidDescriptor)
	}
	n := uint32(len(desc.Attachments))
	atts := make([]vk.AttachmentDescription, len(desc.Attachments))
	for i, a := range desc.Attachments {
		format, ok := vkFormat(a.Format)
		if !ok {
			return nil, fmt.Errorf("attachment %d: %w: %v", i, ErrUnsupportedFormat, a.Format)
		}
		atts[i] = vk.AttachmentDescription{
			Format:         format,
			Samples:        sampleCount(a.Samples),
			LoadOp:         loadOp(a.LoadOp),
			StoreOp:        storeOp(a.StoreOp),
			StencilLoadOp:  loadOp(a.StencilLoadOp),
			StencilStoreOp: storeOp(a.StencilStoreOp),
			InitialLayout:  imageLayout(a.InitialLayout),
			FinalLayout:    finalLayout(a),
		}
	}
	refs := func(rs []rhi.AttachmentReference) ([]vk.AttachmentReference, error) {
		out := make([]vk.AttachmentReference, len(rs))
		for i, r := range rs {
			if r.Attachment >= n {
				return nil, fmt.Errorf("%w: attachment %d of %d", rhi.ErrInvalidDescriptor, r.Attachment, n)
			}
			out[i] = vk.AttachmentReference{Attachment: r.Attachment, Layout: imageLayout(r.Layout)}
		}
		return out, nil
	}
	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, sp := range desc.Subpasses {
		inputs, err := refs(sp.InputAttachments)
		if err != nil {
			return nil, fmt.Errorf("subpass %d: %w", i, err)
		}
		colors, err := refs(sp.ColorAttachments)
		if err != nil {
			return nil, fmt.Errorf("subpass %d: %w", i, err)
		}
		subpasses[i] = vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			InputAttachmentCount: uint32(len(inputs)),
			PInputAttachments:    inputs,
			ColorAttachmentCount: uint32(len(colors)),
			PColorAttachments:    colors,
		}
		if sp.DepthStencil != nil {
			ds, err := refs([]rhi.AttachmentReference{*sp.DepthStencil})
			if err != nil {
				return nil, fmt.Errorf("subpass %d depth: %w", i, err)
			}
			subpasses[i].PDepthStencilAttachment = &ds[0]
		}
	}
	deps := make([]vk.SubpassDependency, len(desc.Dependencies))
	for i, dep := range desc.Dependencies {
		if !validSubpass(dep.SrcSubpass, len(desc.Subpasses)) || !validSubpass(dep.DstSubpass, len(desc.Subpasses)) {
			return nil, fmt.Errorf("%w: dependency %d -> %d",
				rhi.ErrInvalidDescriptor, int32(dep.SrcSubpass), int32(dep.DstSubpass))
		}
		deps[i] = vk.SubpassDependency{
			SrcSubpass:      dep.SrcSubpass,
			DstSubpass:      dep.DstSubpass,
			SrcStageMask:    pipelineStages(dep.SrcStage),
			DstStageMask:    pipelineStages(dep.DstStage),
			SrcAccessMask:   accessFlags(dep.SrcAccess),
			DstAccessMask:   accessFlags(dep.DstAccess),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		}
	}
	return &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(atts)),
		PAttachments:    atts,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(deps)),
		PDependencies:   deps,
	}, nil
}

func validSubpass(idx uint32, count int) bool {
	return idx == rhi.SubpassExternal || int(idx) < count
}

// CreateFramebuffer implements rhi.Device.
func (d *Device) CreateFramebuffer(desc *rhi.FramebufferDescriptor) (rhi.Framebuffer, error) {
	rp, ok := desc.RenderPass.(*renderPass)
	if !ok || rp.dev != d {
		return nil, fmt.Errorf("vulkan: framebuffer %q: %w", desc.Label, rhi.ErrForeignObject)
	}
	if len(desc.Attachments) != len(rp.desc.Attachments) {
		return nil, fmt.Errorf("vulkan: framebuffer %q: %w: %d attachments for a render pass with %d",
			desc.Label, rhi.ErrInvalidDescriptor, len(desc.Attachments), len(rp.desc.Attachments))
	}
	views := make([]vk.ImageView, len(desc.Attachments))
	for i, a := range desc.Attachments {
		img, ok := a.(*image)
		if !ok || img.dev != d {
			return nil, fmt.Errorf("vulkan: framebuffer %q attachment %d: %w", desc.Label, i, rhi.ErrForeignObject)
		}
		views[i] = img.view
	}
	var raw vk.Framebuffer
	err := check("create framebuffer "+desc.Label, vk.CreateFramebuffer(d.raw, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.raw,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           desc.Width,
		Height:          desc.Height,
		Layers:          max(desc.Layers, 1),
	}, nil, &raw))
	if err != nil {
		return nil, err
	}
	return &framebuffer{object: d.newObject(desc.Label), raw: raw, rp: rp, width: desc.Width, height: desc.Height}, nil
}

// CreateGraphicsPipeline implements rhi.Device. Viewport and scissor are
// dynamic and set by BeginRenderPass.
func (d *Device) CreateGraphicsPipeline(desc *rhi.PipelineDescriptor) (rhi.Pipeline, error) {
	rp, ok := desc.RenderPass.(*renderPass)
	if !ok || rp.dev != d {
		return nil, fmt.Errorf("vulkan: pipeline %q: %w", desc.Label, rhi.ErrForeignObject)
	}
	layout, ok := desc.Layout.(*pipelineLayout)
	if !ok || layout.dev != d {
		return nil, fmt.Errorf("vulkan: pipeline %q layout: %w", desc.Label, rhi.ErrForeignObject)
	}
	if int(desc.Subpass) >= len(rp.desc.Subpasses) {
		return nil, fmt.Errorf("vulkan: pipeline %q: %w: subpass %d of %d",
			desc.Label, rhi.ErrInvalidDescriptor, desc.Subpass, len(rp.desc.Subpasses))
	}
	if desc.Shader.VertexEntry == "" {
		return nil, fmt.Errorf("vulkan: pipeline %q: %w: no vertex entry point", desc.Label, rhi.ErrInvalidDescriptor)
	}
	words, err := rhi.CompileWGSL(desc.Shader.WGSL)
	if err != nil {
		return nil, fmt.Errorf("vulkan: pipeline %q: %w", desc.Label, err)
	}
	var module vk.ShaderModule
	err = check("create shader module "+desc.Shader.Label, vk.CreateShaderModule(d.raw, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(words) * 4),
		PCode:    words,
	}, nil, &module))
	if err != nil {
		return nil, err
	}

	stages := []vk.PipelineShaderStageCreateInfo{{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageVertexBit,
		Module: module,
		PName:  desc.Shader.VertexEntry + "\x00",
	}}
	if desc.Shader.FragmentEntry != "" {
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: module,
			PName:  desc.Shader.FragmentEntry + "\x00",
		})
	}

	var bindings []vk.VertexInputBindingDescription
	var attrs []vk.VertexInputAttributeDescription
	for slot, vb := range desc.VertexBuffers {
		rate := vk.VertexInputRateVertex
		if vb.StepMode == gputypes.VertexStepModeInstance {
			rate = vk.VertexInputRateInstance
		}
		bindings = append(bindings, vk.VertexInputBindingDescription{
			Binding: uint32(slot), Stride: uint32(vb.ArrayStride), InputRate: rate,
		})
		for _, a := range vb.Attributes {
			f, ok := vertexFormats[a.Format]
			if !ok {
				vk.DestroyShaderModule(d.raw, module, nil)
				return nil, fmt.Errorf("vulkan: pipeline %q: %w: vertex format %v", desc.Label, ErrUnsupportedFormat, a.Format)
			}
			attrs = append(attrs, vk.VertexInputAttributeDescription{
				Location: a.ShaderLocation, Binding: uint32(slot), Format: f, Offset: uint32(a.Offset),
			})
		}
	}

	blends := make([]vk.PipelineColorBlendAttachmentState, len(rp.desc.Subpasses[desc.Subpass].ColorAttachments))
	for i := range blends {
		blends[i] = blendAttachment(desc.Blend)
	}
	depth := vk.PipelineDepthStencilStateCreateInfo{
		SType:          vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp: vk.CompareOpAlways,
		MaxDepthBounds: 1,
	}
	if desc.Depth != nil {
		depth.DepthTestEnable = vk.True
		depth.DepthCompareOp = compareOp(desc.Depth.Compare)
		if desc.Depth.Write {
			depth.DepthWriteEnable = vk.True
		}
	}
	dynamic := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}

	info := vk.GraphicsPipelineCreateInfo{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attrs)),
			PVertexAttributeDescriptions:    attrs,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: topology(desc.Topology),
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    cullMode(desc.CullMode),
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: sampleCount(desc.Samples),
		},
		PDepthStencilState: &depth,
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: uint32(len(blends)),
			PAttachments:    blends,
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamic)),
			PDynamicStates:    dynamic,
		},
		Layout:            layout.raw,
		RenderPass:        rp.raw,
		Subpass:           desc.Subpass,
		BasePipelineIndex: -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	err = check("create pipeline "+desc.Label, vk.CreateGraphicsPipelines(d.raw, vk.PipelineCache(vk.NullHandle), 1,
		[]vk.GraphicsPipelineCreateInfo{info}, nil, pipelines))
	if err != nil {
		vk.DestroyShaderModule(d.raw, module, nil)
		return nil, err
	}
	return &pipeline{object: d.newObject(desc.Label), raw: pipelines[0], module: module, rp: rp, subpass: desc.Subpass}, nil
}

// CreateDescriptorPool implements rhi.Device.
func (d *Device) CreateDescriptorPool(desc *rhi.DescriptorPoolDescriptor) (rhi.DescriptorPool, error) {
	if desc.MaxSets == 0 {
		return nil, fmt.Errorf("vulkan: descriptor pool %q: %w: zero sets", desc.Label, rhi.ErrInvalidDescriptor)
	}
	sizes := make([]vk.DescriptorPoolSize, 0, len(desc.Sizes))
	for _, s := range desc.Sizes {
		if s.Count == 0 {
			continue
		}
		sizes = append(sizes, vk.DescriptorPoolSize{Type: descriptorType(s.Type), DescriptorCount: s.Count})
	}
	var raw vk.DescriptorPool
	err := check("create descriptor pool "+desc.Label, vk.CreateDescriptorPool(d.raw, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       desc.MaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &raw))
	if err != nil {
		return nil, err
	}
	return &descriptorPool{object: d.newObject(desc.Label), raw: raw, remaining: desc.MaxSets}, nil
}

// AllocateDescriptorSet implements rhi.Device.
func (d *Device) AllocateDescriptorSet(pool rhi.DescriptorPool, layout rhi.DescriptorSetLayout) (rhi.DescriptorSet, error) {
	p, ok := pool.(*descriptorPool)
	if !ok || p.dev != d {
		return nil, fmt.Errorf("vulkan: allocate set: %w", rhi.ErrForeignObject)
	}
	l, ok := layout.(*setLayout)
	if !ok || l.dev != d {
		return nil, fmt.Errorf("vulkan: allocate set: %w", rhi.ErrForeignObject)
	}
	if p.destroyed {
		return nil, fmt.Errorf("vulkan: allocate set from %q: %w", p.label, rhi.ErrDestroyed)
	}
	if p.remaining == 0 {
		return nil, &rhi.ResultError{Op: "allocate descriptor set", Code: int32(vk.ErrorOutOfHostMemory),
			Err: fmt.Errorf("%w: pool %q exhausted", rhi.ErrOutOfMemory, p.label)}
	}
	var raw vk.DescriptorSet
	err := check("allocate descriptor set", vk.AllocateDescriptorSets(d.raw, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.raw,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{l.raw},
	}, &raw))
	if err != nil {
		return nil, err
	}
	p.remaining--
	s := &descriptorSet{object: d.newObject(p.label + "/" + l.label), raw: raw, pool: p, layout: l}
	p.sets = append(p.sets, s)
	return s, nil
}

// UpdateDescriptorSets implements rhi.Device.
func (d *Device) UpdateDescriptorSets(writes []rhi.DescriptorWrite) error {
	out := make([]vk.WriteDescriptorSet, 0, len(writes))
	for i, w := range writes {
		set, ok := w.Set.(*descriptorSet)
		if !ok || set.dev != d {
			return fmt.Errorf("vulkan: descriptor write %d: %w", i, rhi.ErrForeignObject)
		}
		vw := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.raw,
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  descriptorType(w.Type),
		}
		switch {
		case w.Type.IsBuffer():
			buf, ok := w.Buffer.(*buffer)
			if !ok || buf.dev != d {
				return fmt.Errorf("vulkan: descriptor write %d buffer: %w", i, rhi.ErrForeignObject)
			}
			rng := vk.DeviceSize(w.Range)
			if w.Range == 0 {
				rng = vk.DeviceSize(vk.WholeSize)
			}
			vw.PBufferInfo = []vk.DescriptorBufferInfo{{Buffer: buf.raw, Offset: vk.DeviceSize(w.Offset), Range: rng}}
		default:
			img, ok := w.Image.(*image)
			if !ok || img.dev != d {
				return fmt.Errorf("vulkan: descriptor write %d image: %w", i, rhi.ErrForeignObject)
			}
			info := vk.DescriptorImageInfo{ImageView: img.view, ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal}
			if w.Type == rhi.DescriptorTypeCombinedImageSampler {
				smp, ok := w.Sampler.(*sampler)
				if !ok || smp.dev != d {
					return fmt.Errorf("vulkan: descriptor write %d sampler: %w", i, rhi.ErrForeignObject)
				}
				info.Sampler = smp.raw
			}
			vw.PImageInfo = []vk.DescriptorImageInfo{info}
		}
		out = append(out, vw)
	}
	if len(out) > 0 {
		vk.UpdateDescriptorSets(d.raw, uint32(len(out)), out, 0, nil)
	}
	return nil
}

// AllocateCommandBuffer implements rhi.Device.
func (d *Device) AllocateCommandBuffer(label string) (rhi.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cbs := make([]vk.CommandBuffer, 1)
	err := check("allocate command buffer "+label, vk.AllocateCommandBuffers(d.raw, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cbs))
	if err != nil {
		return nil, err
	}
	return &CommandBuffer{object: d.newObject(label), raw: cbs[0]}, nil
}

// CreateFence implements rhi.Device.
func (d *Device) CreateFence(label string, signaled bool) (rhi.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var raw vk.Fence
	if err := check("create fence "+label, vk.CreateFence(d.raw, &info, nil, &raw)); err != nil {
		return nil, err
	}
	return &fence{object: d.newObject(label), raw: raw}, nil
}

// CreateSemaphore implements rhi.Device.
func (d *Device) CreateSemaphore(label string) (rhi.Semaphore, error) {
	var raw vk.Semaphore
	err := check("create semaphore "+label, vk.CreateSemaphore(d.raw, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &raw))
	if err != nil {
		return nil, err
	}
	return &semaphore{object: d.newObject(label), raw: raw}, nil
}

// WaitFence implements rhi.Device.
func (d *Device) WaitFence(f rhi.Fence, timeout time.Duration) error {
	fc, ok := f.(*fence)
	if !ok || fc.dev != d {
		return fmt.Errorf("vulkan: wait fence: %w", rhi.ErrForeignObject)
	}
	ns := uint64(vk.MaxUint64)
	if timeout != rhi.WaitForever {
		ns = uint64(max(timeout, 0))
	}
	res := vk.WaitForFences(d.raw, 1, []vk.Fence{fc.raw}, vk.True, ns)
	if err := check("wait fence "+fc.label, res); err != nil {
		return err
	}
	fc.pending = false
	return nil
}

// ResetFence implements rhi.Device.
func (d *Device) ResetFence(f rhi.Fence) error {
	fc, ok := f.(*fence)
	if !ok || fc.dev != d {
		return fmt.Errorf("vulkan: reset fence: %w", rhi.ErrForeignObject)
	}
	if fc.pending && vk.GetFenceStatus(d.raw, fc.raw) == vk.NotReady {
		return fmt.Errorf("vulkan: reset fence %q: %w", fc.label, rhi.ErrFenceInUse)
	}
	fc.pending = false
	return check("reset fence "+fc.label, vk.ResetFences(d.raw, 1, []vk.Fence{fc.raw}))
}

// Submit implements rhi.Device. The wait semaphore blocks color output.
func (d *Device) Submit(info *rhi.SubmitInfo) error {
	cb, ok := info.CommandBuffer.(*CommandBuffer)
	if !ok || cb.dev != d {
		return fmt.Errorf("vulkan: submit: %w", rhi.ErrForeignObject)
	}
	if cb.state != stateExecutable {
		return fmt.Errorf("vulkan: submit %q: command buffer is not executable", cb.label)
	}
	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.raw},
	}
	if info.WaitSemaphore != nil {
		s, ok := info.WaitSemaphore.(*semaphore)
		if !ok || s.dev != d {
			return fmt.Errorf("vulkan: submit wait semaphore: %w", rhi.ErrForeignObject)
		}
		si.WaitSemaphoreCount = 1
		si.PWaitSemaphores = []vk.Semaphore{s.raw}
		si.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
	}
	if info.SignalSemaphore != nil {
		s, ok := info.SignalSemaphore.(*semaphore)
		if !ok || s.dev != d {
			return fmt.Errorf("vulkan: submit signal semaphore: %w", rhi.ErrForeignObject)
		}
		si.SignalSemaphoreCount = 1
		si.PSignalSemaphores = []vk.Semaphore{s.raw}
	}
	raw := vk.NullFence
	var fc *fence
	if info.Fence != nil {
		fc, ok = info.Fence.(*fence)
		if !ok || fc.dev != d {
			return fmt.Errorf("vulkan: submit fence: %w", rhi.ErrForeignObject)
		}
		if fc.pending {
			return fmt.Errorf("vulkan: submit fence %q: %w", fc.label, rhi.ErrFenceInUse)
		}
		if vk.GetFenceStatus(d.raw, fc.raw) == vk.Success {
			return fmt.Errorf("vulkan: submit fence %q: %w", fc.label, rhi.ErrFenceSignaled)
		}
		raw = fc.raw
	}

	d.mu.Lock()
	res := vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{si}, raw)
	d.mu.Unlock()
	if err := check("queue submit", res); err != nil {
		return err
	}
	if fc != nil {
		fc.pending = true
	}
	return nil
}

// WaitIdle implements rhi.Device.
func (d *Device) WaitIdle() error {
	return check("device wait idle", vk.DeviceWaitIdle(d.raw))
}

// Swapchain implements rhi.Device.
func (d *Device) Swapchain() rhi.Swapchain { return d.swapchain }

// Destroy waits for the device to go idle and releases the swapchain and the
// command pool. Host handles stay alive.
func (d *Device) Destroy() {
	vk.DeviceWaitIdle(d.raw)
	if d.swapchain != nil {
		d.swapchain.destroy()
		d.swapchain = nil
	}
	vk.DestroyCommandPool(d.raw, d.pool, nil)
	slogger().Info("vulkan: device destroyed", "leaked", d.live.Load())
}
