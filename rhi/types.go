package rhi

import (
	"fmt"
	"math"
	"time"

	"github.com/gogpu/gputypes"
)

// SubpassExternal refers to work outside the render pass in a SubpassDependency.
const SubpassExternal = ^uint32(0)

// WaitForever makes WaitFence block until the fence signals.
const WaitForever time.Duration = math.MaxInt64

// Status is the non-error outcome of acquire and present.
type Status int

const (
	// StatusSuccess means the operation completed normally.
	StatusSuccess Status = iota

	// StatusSuboptimal means the swapchain still works but no longer matches
	// the surface exactly.
	StatusSuboptimal

	// StatusOutOfDate means the swapchain can no longer be used and must be
	// recreated.
	StatusOutOfDate
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusSuboptimal:
		return "Suboptimal"
	case StatusOutOfDate:
		return "OutOfDate"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// DescriptorType identifies what a descriptor binding refers to.
type DescriptorType int

const (
	DescriptorTypeUniformBuffer DescriptorType = iota
	DescriptorTypeStorageBuffer
	DescriptorTypeCombinedImageSampler
	DescriptorTypeInputAttachment
)

// String returns the string representation of DescriptorType.
func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeUniformBuffer:
		return "UniformBuffer"
	case DescriptorTypeStorageBuffer:
		return "StorageBuffer"
	case DescriptorTypeCombinedImageSampler:
		return "CombinedImageSampler"
	case DescriptorTypeInputAttachment:
		return "InputAttachment"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// IsBuffer reports whether descriptors of this type reference a buffer.
func (t DescriptorType) IsBuffer() bool {
	return t == DescriptorTypeUniformBuffer || t == DescriptorTypeStorageBuffer
}

// ImageLayout is the layout an attachment is in at a point of the render pass.
type ImageLayout int

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutColorAttachment
	ImageLayoutDepthStencilAttachment
	ImageLayoutShaderReadOnly
	ImageLayoutPresentSrc
)

// PipelineStage is a bit set of pipeline stages used by subpass dependencies.
type PipelineStage uint32

const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageVertexShader
	PipelineStageFragmentShader
	PipelineStageEarlyFragmentTests
	PipelineStageLateFragmentTests
	PipelineStageColorAttachmentOutput
	PipelineStageBottomOfPipe
)

// Access is a bit set of memory access kinds used by subpass dependencies.
type Access uint32

const (
	AccessShaderRead Access = 1 << iota
	AccessInputAttachmentRead
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilRead
	AccessDepthStencilWrite
	AccessMemoryRead
)

// MemoryProperty is a bit set describing where an allocation lives.
type MemoryProperty uint32

const (
	MemoryPropertyDeviceLocal MemoryProperty = 1 << iota
	MemoryPropertyHostVisible
	MemoryPropertyHostCoherent
)

// SharingMode controls queue-family ownership of a buffer.
type SharingMode int

const (
	SharingModeExclusive SharingMode = iota
	SharingModeConcurrent
)

// IndexType is the element type of an index buffer.
type IndexType int

const (
	IndexTypeUint16 IndexType = iota
	IndexTypeUint32
)

// Size returns the size of one index in bytes.
func (t IndexType) Size() uint64 {
	if t == IndexTypeUint32 {
		return 4
	}
	return 2
}

// IsDepthFormat reports whether f is a depth or depth-stencil format.
func IsDepthFormat(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth16Unorm:
		return true
	}
	return false
}

// DescriptorBinding describes one binding slot of a descriptor set layout.
type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  gputypes.ShaderStage
}

// AttachmentDescription describes one attachment of a render pass.
// It is comparable; render passes with equal descriptions are compatible.
type AttachmentDescription struct {
	Format         gputypes.TextureFormat
	Samples        uint32
	LoadOp         gputypes.LoadOp
	StoreOp        gputypes.StoreOp
	StencilLoadOp  gputypes.LoadOp
	StencilStoreOp gputypes.StoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
}

// AttachmentReference points a subpass at one attachment of its render pass.
type AttachmentReference struct {
	Attachment uint32
	Layout     ImageLayout
}

// SubpassDescription lists the attachments one subpass uses.
type SubpassDescription struct {
	InputAttachments []AttachmentReference
	ColorAttachments []AttachmentReference
	DepthStencil     *AttachmentReference
}

// SubpassDependency orders two subpasses, or a subpass and external work.
type SubpassDependency struct {
	SrcSubpass uint32
	DstSubpass uint32
	SrcStage   PipelineStage
	DstStage   PipelineStage
	SrcAccess  Access
	DstAccess  Access
}

// RenderPassDescriptor describes a render pass.
type RenderPassDescriptor struct {
	Label        string
	Attachments  []AttachmentDescription
	Subpasses    []SubpassDescription
	Dependencies []SubpassDependency
}

// FramebufferDescriptor binds concrete images to a render pass.
type FramebufferDescriptor struct {
	Label       string
	RenderPass  RenderPass
	Attachments []Image
	Width       uint32
	Height      uint32
	Layers      uint32
}

// BufferDescriptor describes a buffer. Data, when set, is uploaded at creation
// and Size may be left zero to use len(Data).
type BufferDescriptor struct {
	Label   string
	Size    uint64
	Usage   gputypes.BufferUsage
	Memory  MemoryProperty
	Sharing SharingMode
	Data    []byte
}

// ImageDescriptor describes a 2D image. Pixels, when set, holds tightly packed
// texel rows uploaded at creation.
type ImageDescriptor struct {
	Label     string
	Width     uint32
	Height    uint32
	Layers    uint32
	MipLevels uint32
	Samples   uint32
	Format    gputypes.TextureFormat
	Usage     gputypes.TextureUsage
	Memory    MemoryProperty
	Pixels    []byte
}

// SamplerDescriptor describes a sampler.
type SamplerDescriptor struct {
	Label       string
	MagFilter   gputypes.FilterMode
	MinFilter   gputypes.FilterMode
	AddressMode gputypes.AddressMode
}

// DefaultSamplerDescriptor returns a linear, clamp-to-edge sampler.
func DefaultSamplerDescriptor(label string) SamplerDescriptor {
	return SamplerDescriptor{
		Label:       label,
		MagFilter:   gputypes.FilterModeLinear,
		MinFilter:   gputypes.FilterModeLinear,
		AddressMode: gputypes.AddressModeClampToEdge,
	}
}

// DescriptorSetLayoutDescriptor describes the bindings of one descriptor set.
type DescriptorSetLayoutDescriptor struct {
	Label    string
	Bindings []DescriptorBinding
}

// PipelineLayoutDescriptor lists the set layouts of a pipeline, indexed by set.
type PipelineLayoutDescriptor struct {
	Label      string
	SetLayouts []DescriptorSetLayout
}

// ShaderSource is a WGSL module with its vertex and fragment entry points.
type ShaderSource struct {
	Label         string
	WGSL          string
	VertexEntry   string
	FragmentEntry string
}

// DepthState configures depth testing. A nil *DepthState disables it.
type DepthState struct {
	Write   bool
	Compare gputypes.CompareFunction
}

// PipelineDescriptor describes a graphics pipeline for one subpass.
type PipelineDescriptor struct {
	Label         string
	Layout        PipelineLayout
	RenderPass    RenderPass
	Subpass       uint32
	Shader        ShaderSource
	VertexBuffers []gputypes.VertexBufferLayout
	Topology      gputypes.PrimitiveTopology
	CullMode      gputypes.CullMode
	Depth         *DepthState
	Blend         *gputypes.BlendState
	ColorFormats  []gputypes.TextureFormat
	DepthFormat   gputypes.TextureFormat
	Samples       uint32
}

// DescriptorPoolSize is the number of descriptors of one type in a pool.
type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorPoolDescriptor describes a descriptor pool.
type DescriptorPoolDescriptor struct {
	Label   string
	MaxSets uint32
	Sizes   []DescriptorPoolSize
}

// DescriptorWrite updates one binding of a descriptor set. Buffer descriptors
// use Buffer, Offset and Range; image descriptors use Image and Sampler.
type DescriptorWrite struct {
	Set     DescriptorSet
	Binding uint32
	Type    DescriptorType
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	Image   Image
	Sampler Sampler
}

// ClearValue is the clear color or depth/stencil value of one attachment.
type ClearValue struct {
	Color   gputypes.Color
	Depth   float32
	Stencil uint32
}

// RenderPassBeginInfo starts a render pass on a framebuffer.
type RenderPassBeginInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Width       uint32
	Height      uint32
	ClearValues []ClearValue
}

// SubmitInfo submits one command buffer to the graphics queue.
type SubmitInfo struct {
	CommandBuffer   CommandBuffer
	WaitSemaphore   Semaphore
	SignalSemaphore Semaphore
	Fence           Fence
}

// Config is passed to backend factories.
type Config struct {
	Width      uint32
	Height     uint32
	ImageCount int
	Format     gputypes.TextureFormat
}

// DefaultConfig returns a 1280x720 triple-buffered BGRA8 configuration.
func DefaultConfig() Config {
	return Config{
		Width:      1280,
		Height:     720,
		ImageCount: 3,
		Format:     gputypes.TextureFormatBGRA8Unorm,
	}
}
