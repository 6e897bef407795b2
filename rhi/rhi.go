// Copyright 2026 The JoshuaVulkanEngine Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package rhi defines the device capability surface the render graph consumes.
//
// A backend implements Device, CommandBuffer and Swapchain over a concrete
// graphics API. Backends register themselves by name from init, following the
// database/sql driver pattern:
//
//	import _ "github.com/JIA-ss/JoshuaVulkanEngine/rhi/headless"
//
//	dev, err := rhi.Open("headless", rhi.DefaultConfig())
//
// Object lifetime is explicit: every object returned by a Device is released
// with its Destroy method. Descriptor sets are owned by their pool.
package rhi

import (
	"time"

	"github.com/gogpu/gputypes"
)

// Object is implemented by every GPU object.
type Object interface {
	// Label returns the debug label given at creation.
	Label() string

	// Destroy releases the object. Calling Destroy twice is a no-op.
	Destroy()
}

// Buffer is a GPU buffer.
type Buffer interface {
	Object
	Size() uint64
}

// Image is a 2D GPU image together with its default view.
type Image interface {
	Object
	Width() uint32
	Height() uint32
	Format() gputypes.TextureFormat
}

type (
	// Sampler is a texture sampler.
	Sampler interface{ Object }

	// DescriptorSetLayout is the layout of one descriptor set.
	DescriptorSetLayout interface{ Object }

	// PipelineLayout is the set-layout list of a pipeline.
	PipelineLayout interface{ Object }

	// RenderPass is a native render pass with one or more subpasses.
	RenderPass interface{ Object }

	// Framebuffer binds images to a render pass.
	Framebuffer interface{ Object }

	// Pipeline is a graphics pipeline.
	Pipeline interface{ Object }

	// DescriptorPool allocates descriptor sets.
	DescriptorPool interface{ Object }

	// DescriptorSet is a set of bound resources. It is freed with its pool.
	DescriptorSet interface{ Object }

	// Fence is a GPU to CPU signal.
	Fence interface{ Object }

	// Semaphore is a GPU to GPU signal.
	Semaphore interface{ Object }
)

// CommandBuffer records GPU commands.
//
// Recording methods do not return errors; a recording failure is reported
// by End. A CommandBuffer is not safe for concurrent use.
type CommandBuffer interface {
	Object

	Begin() error
	End() error
	Reset() error

	BeginRenderPass(info *RenderPassBeginInfo)
	NextSubpass()
	EndRenderPass()

	BindPipeline(p Pipeline)
	BindDescriptorSets(layout PipelineLayout, firstSet uint32, sets []DescriptorSet)
	BindVertexBuffer(slot uint32, buf Buffer, offset uint64)
	BindIndexBuffer(buf Buffer, offset uint64, indexType IndexType)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
}

// Swapchain is the presentation surface.
type Swapchain interface {
	ImageCount() int
	Extent() (width, height uint32)
	Format() gputypes.TextureFormat

	// AcquireNextImage returns the index of the next image. signal is
	// signaled when the image may be rendered to.
	AcquireNextImage(signal Semaphore) (uint32, Status, error)

	// Present queues image index for presentation after wait is signaled.
	Present(index uint32, wait Semaphore) (Status, error)

	// Recreate rebuilds the swapchain for the current surface. Framebuffers
	// returned earlier are invalid afterwards.
	Recreate() error

	// Framebuffers returns one framebuffer per swapchain image for rp. The
	// swapchain image is inserted into attachments at presentSlot. The
	// swapchain owns the returned framebuffers.
	Framebuffers(rp RenderPass, attachments []Image, presentSlot int) ([]Framebuffer, error)
}

// Device creates GPU objects and submits work.
type Device interface {
	CreateBuffer(desc *BufferDescriptor) (Buffer, error)
	CreateImage(desc *ImageDescriptor) (Image, error)
	CreateSampler(desc *SamplerDescriptor) (Sampler, error)

	CreateDescriptorSetLayout(desc *DescriptorSetLayoutDescriptor) (DescriptorSetLayout, error)
	CreatePipelineLayout(desc *PipelineLayoutDescriptor) (PipelineLayout, error)
	CreateRenderPass(desc *RenderPassDescriptor) (RenderPass, error)
	CreateFramebuffer(desc *FramebufferDescriptor) (Framebuffer, error)
	CreateGraphicsPipeline(desc *PipelineDescriptor) (Pipeline, error)

	CreateDescriptorPool(desc *DescriptorPoolDescriptor) (DescriptorPool, error)
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSets(writes []DescriptorWrite) error

	AllocateCommandBuffer(label string) (CommandBuffer, error)
	CreateFence(label string, signaled bool) (Fence, error)
	CreateSemaphore(label string) (Semaphore, error)
	WaitFence(f Fence, timeout time.Duration) error
	ResetFence(f Fence) error

	Submit(info *SubmitInfo) error
	WaitIdle() error

	Swapchain() Swapchain

	// Destroy releases the swapchain and every object still owned by the
	// device. The device is unusable afterwards.
	Destroy()
}
