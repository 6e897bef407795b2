package rendergraph

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/internal/depgraph"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// Kind identifies the physical type behind a resource node.
type Kind int

const (
	KindBuffer Kind = iota
	KindTexture
	KindVertexBuffer
	KindIndexBuffer
	KindPresent
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "Buffer"
	case KindTexture:
		return "Texture"
	case KindVertexBuffer:
		return "VertexBuffer"
	case KindIndexBuffer:
		return "IndexBuffer"
	case KindPresent:
		return "Present"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Physical is implemented by the GPU objects a Resource can own:
// *Buffer, *Texture, *VertexBuffer, *IndexBuffer and *PresentImage.
type Physical interface {
	Kind() Kind
	destroy()
}

// Buffer is a uniform or storage buffer.
type Buffer struct {
	Buffer rhi.Buffer
}

func (*Buffer) Kind() Kind { return KindBuffer }

func (b *Buffer) destroy() { b.Buffer.Destroy() }

// Texture is an image with the sampler used to read it.
type Texture struct {
	Image   rhi.Image
	Sampler rhi.Sampler

	// FullScreen records that the image was sized to the swapchain. Such
	// images are recreated when the swapchain extent changes.
	FullScreen bool

	desc rhi.ImageDescriptor
}

func (*Texture) Kind() Kind { return KindTexture }

// resize replaces the image of a full-screen texture whose extent differs
// from width x height. It reports whether the image was replaced.
func (t *Texture) resize(dev rhi.Device, width, height uint32) (bool, error) {
	if !t.FullScreen || (t.Image.Width() == width && t.Image.Height() == height) {
		return false, nil
	}
	desc := t.desc
	desc.Width, desc.Height = width, height
	if desc.Format == gputypes.TextureFormatUndefined {
		desc.Format = t.Image.Format()
	}
	if desc.Label == "" {
		desc.Label = t.Image.Label()
	}
	img, err := dev.CreateImage(&desc)
	if err != nil {
		return false, err
	}
	t.Image.Destroy()
	t.Image = img
	return true, nil
}

func (t *Texture) destroy() {
	if t.Sampler != nil {
		t.Sampler.Destroy()
	}
	t.Image.Destroy()
}

// VertexBuffer is a vertex buffer with its element count and layout.
type VertexBuffer struct {
	Buffer rhi.Buffer
	Count  uint32
	Layout gputypes.VertexBufferLayout
}

func (*VertexBuffer) Kind() Kind { return KindVertexBuffer }

func (v *VertexBuffer) destroy() { v.Buffer.Destroy() }

// IndexBuffer is an index buffer with its index count and type.
type IndexBuffer struct {
	Buffer rhi.Buffer
	Count  uint32
	Type   rhi.IndexType
}

func (*IndexBuffer) Kind() Kind { return KindIndexBuffer }

func (i *IndexBuffer) destroy() { i.Buffer.Destroy() }

// PresentImage stands for the swapchain image. It owns nothing: the
// swapchain provides one image per frame.
type PresentImage struct{}

func (*PresentImage) Kind() Kind { return KindPresent }

func (*PresentImage) destroy() {}

// Resource owns one physical object and destroys it when the last reference
// is released.
type Resource[T Physical] struct {
	object T
	refs   atomic.Int32
}

// NewResource wraps object with a reference count of one.
func NewResource[T Physical](object T) *Resource[T] {
	r := &Resource[T]{object: object}
	r.refs.Store(1)
	return r
}

// Get returns the physical object.
func (r *Resource[T]) Get() T { return r.object }

// Retain adds a reference.
func (r *Resource[T]) Retain() *Resource[T] {
	r.refs.Add(1)
	return r
}

// Release drops a reference and destroys the object when none remain.
// It reports whether the object was destroyed.
func (r *Resource[T]) Release() bool {
	n := r.refs.Add(-1)
	if n < 0 {
		panic("rendergraph: Resource released more times than retained")
	}
	if n > 0 {
		return false
	}
	r.object.destroy()
	return true
}

// RefCount returns the number of live references.
func (r *Resource[T]) RefCount() int { return int(r.refs.Load()) }

// Unbound is the Set value of a Description that is not a descriptor.
const Unbound = ^uint32(0)

// Description says where a resource is bound when a pass reads it.
type Description struct {
	Set     uint32
	Binding uint32
	Type    rhi.DescriptorType
	Stages  gputypes.ShaderStage

	// Offset and Range select part of a buffer. A zero Range binds the
	// whole buffer.
	Offset uint64
	Range  uint64
}

// UnboundDescription returns the Description of a resource that is never
// bound as a descriptor, such as an attachment or a vertex buffer.
func UnboundDescription() Description {
	return Description{Set: Unbound, Binding: Unbound}
}

// Bound reports whether the description names a descriptor binding.
func (d Description) Bound() bool { return d.Set != Unbound }

// DescriptorBinding returns the layout entry for d.
func (d Description) DescriptorBinding() rhi.DescriptorBinding {
	return rhi.DescriptorBinding{Binding: d.Binding, Type: d.Type, Count: 1, Stages: d.Stages}
}

// VirtualResource pairs a Description with a reference to the physical
// Resource. The physical side can be released on its own; the description
// stays for diagnostics.
type VirtualResource[T Physical] struct {
	desc     Description
	resource *Resource[T]
}

func newVirtualResource[T Physical](desc Description, object T) *VirtualResource[T] {
	return &VirtualResource[T]{desc: desc, resource: NewResource(object)}
}

// Description returns the binding description.
func (v *VirtualResource[T]) Description() Description { return v.desc }

// SetDescription replaces the binding description.
func (v *VirtualResource[T]) SetDescription(d Description) { v.desc = d }

// Resource returns the physical resource, or nil once released.
func (v *VirtualResource[T]) Resource() *Resource[T] { return v.resource }

// Physical returns the physical object. ok is false once released.
func (v *VirtualResource[T]) Physical() (object T, ok bool) {
	if v.resource == nil {
		return object, false
	}
	return v.resource.Get(), true
}

// Release drops the reference to the physical resource.
func (v *VirtualResource[T]) Release() {
	if v.resource == nil {
		return
	}
	v.resource.Release()
	v.resource = nil
}

// Released reports whether Release was called.
func (v *VirtualResource[T]) Released() bool { return v.resource == nil }

func (v *VirtualResource[T]) description() Description     { return v.desc }
func (v *VirtualResource[T]) setDescription(d Description) { v.desc = d }
func (v *VirtualResource[T]) release()                     { v.Release() }
func (v *VirtualResource[T]) released() bool               { return v.Released() }

func (v *VirtualResource[T]) physical() Physical {
	if v.resource == nil {
		return nil
	}
	return v.resource.Get()
}

// virtualResource is the kind-erased view of a VirtualResource.
type virtualResource interface {
	description() Description
	setDescription(Description)
	release()
	released() bool
	physical() Physical
}

// ResourceNode is the graph identity of a resource.
type ResourceNode struct {
	depgraph.Base

	name    string
	id      ResourceID
	kind    Kind
	virtual virtualResource
}

var _ depgraph.Node = (*ResourceNode)(nil)

// Name returns the unique resource name.
func (n *ResourceNode) Name() string { return n.name }

// ID returns the resource id.
func (n *ResourceNode) ID() ResourceID { return n.id }

// Kind returns the physical kind.
func (n *ResourceNode) Kind() Kind { return n.kind }

// Description returns the binding description of the virtual resource.
func (n *ResourceNode) Description() Description { return n.virtual.description() }

// Released reports whether the physical resource has been released.
func (n *ResourceNode) Released() bool { return n.virtual.released() }

// Readers returns the number of passes that read the resource.
func (n *ResourceNode) Readers() int { return n.RefCount() }

// String implements fmt.Stringer.
func (n *ResourceNode) String() string {
	return fmt.Sprintf("%s %q %s", n.kind, n.name, n.id)
}
