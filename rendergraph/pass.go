package rendergraph

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/internal/depgraph"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// ExecuteFunc records the commands of one pass. It runs once per frame inside
// the pass's subpass, after the graph has bound the subpass pipeline and the
// pass-level descriptor sets. Physical resources must be resolved through reg
// at record time rather than captured during setup.
type ExecuteFunc func(reg *Registry, cmd rhi.CommandBuffer)

// passExecutor wraps the ExecuteFunc returned by a setup callback.
type passExecutor struct {
	fn ExecuteFunc
}

func (e *passExecutor) execute(reg *Registry, cmd rhi.CommandBuffer) {
	e.fn(reg, cmd)
}

// Attachment is one framebuffer attachment of a pass.
type Attachment struct {
	Resource    ResourceID
	Description rhi.AttachmentDescription
}

// AttachmentMeta is the render area and clear values of a pass. Passes merge
// into one render pass only when their metas are equal.
type AttachmentMeta struct {
	Width  uint32
	Height uint32
	Layers uint32

	// FullScreen sizes the render area to the swapchain extent; Width and
	// Height are ignored.
	FullScreen bool

	// ClearValues holds one value per attachment, in attachment order.
	ClearValues []rhi.ClearValue
}

// Equal reports whether m and o describe the same render area and clears.
func (m AttachmentMeta) Equal(o AttachmentMeta) bool {
	if m.FullScreen != o.FullScreen || m.layers() != o.layers() {
		return false
	}
	if !m.FullScreen && (m.Width != o.Width || m.Height != o.Height) {
		return false
	}
	return slices.Equal(m.ClearValues, o.ClearValues)
}

func (m AttachmentMeta) layers() uint32 {
	if m.Layers == 0 {
		return 1
	}
	return m.Layers
}

// FullScreenMeta returns the meta of a swapchain-sized pass.
func FullScreenMeta(clears ...rhi.ClearValue) AttachmentMeta {
	return AttachmentMeta{FullScreen: true, Layers: 1, ClearValues: clears}
}

// MeshPassData is one draw of a pass. DrawMeshes binds the mesh's
// descriptor resources, vertex buffer and optional index buffer, then draws.
type MeshPassData struct {
	Vertex Handle[*VertexBuffer]

	// Index is InvalidHandle for non-indexed draws.
	Index Handle[*IndexBuffer]

	// Resources are bound to per-mesh descriptor sets at the set and
	// binding of their Description.
	Resources []ResourceID

	// Instances defaults to 1.
	Instances uint32
}

// PipelineState is the fixed-function and shader state of a pass's pipeline.
// A pass with an empty shader gets no pipeline; its executor binds its own.
type PipelineState struct {
	Shader        rhi.ShaderSource
	VertexBuffers []gputypes.VertexBufferLayout
	Topology      gputypes.PrimitiveTopology
	CullMode      gputypes.CullMode
	Depth         *rhi.DepthState
	Blend         *gputypes.BlendState
}

// access is one declared read or write of a pass.
type access struct {
	id    ResourceID
	flags rhi.Access
}

// PassNode is one unit of GPU work: its attachments, descriptor layout,
// subpass description, draws and executor.
type PassNode struct {
	depgraph.Base

	name  string
	index int

	bindings    BindingInfo
	attachments []Attachment
	meta        AttachmentMeta
	subpass     rhi.SubpassDescription
	entry, exit *rhi.SubpassDependency
	meshes      []MeshPassData
	pipeline    PipelineState

	reads  []access
	writes []access

	executor *passExecutor
	culled   bool
}

var _ depgraph.Node = (*PassNode)(nil)

func newPassNode(name string, index int) *PassNode {
	return &PassNode{name: name, index: index}
}

// Name returns the pass name.
func (p *PassNode) Name() string { return p.name }

// Index returns the registration index.
func (p *PassNode) Index() int { return p.index }

// Culled reports whether Compile removed the pass.
func (p *PassNode) Culled() bool { return p.culled }

// SetBindingInfo sets the descriptor layout the pass needs.
func (p *PassNode) SetBindingInfo(b BindingInfo) { p.bindings = b.Clone() }

// BindingInfo returns the descriptor layout of the pass.
func (p *PassNode) BindingInfo() BindingInfo { return p.bindings }

// SetAttachments sets the framebuffer attachments in attachment order.
func (p *PassNode) SetAttachments(a []Attachment) { p.attachments = slices.Clone(a) }

// Attachments returns the framebuffer attachments.
func (p *PassNode) Attachments() []Attachment { return p.attachments }

// SetAttachmentMeta sets the render area and clear values.
func (p *PassNode) SetAttachmentMeta(m AttachmentMeta) { p.meta = m }

// AttachmentMeta returns the render area and clear values.
func (p *PassNode) AttachmentMeta() AttachmentMeta { return p.meta }

// SetSubpassDescription sets the attachment references of the pass's subpass.
func (p *PassNode) SetSubpassDescription(d rhi.SubpassDescription) { p.subpass = d }

// SubpassDescription returns the subpass description.
func (p *PassNode) SubpassDescription() rhi.SubpassDescription { return p.subpass }

// SetPipelineState sets the pipeline the graph builds for the pass.
func (p *PassNode) SetPipelineState(s PipelineState) { p.pipeline = s }

// PipelineState returns the pipeline state.
func (p *PassNode) PipelineState() PipelineState { return p.pipeline }

// SetSubpassDependencies sets the dependencies into and out of the pass's
// subpass. Either may be nil to keep the default chain. Subpass indices are
// filled in at compile time.
func (p *PassNode) SetSubpassDependencies(entry, exit *rhi.SubpassDependency) {
	p.entry, p.exit = entry, exit
}

// SubpassDependencies returns the entry and exit dependencies.
func (p *PassNode) SubpassDependencies() (entry, exit *rhi.SubpassDependency) {
	return p.entry, p.exit
}

// AddMeshPassData appends a draw. It declares no reads; Builder.AddMesh does.
func (p *PassNode) AddMeshPassData(m MeshPassData) {
	if m.Instances == 0 {
		m.Instances = 1
	}
	p.meshes = append(p.meshes, m)
}

// MeshPassData returns the draws of the pass.
func (p *PassNode) MeshPassData() []MeshPassData { return p.meshes }

// MarkSideEffect keeps the pass alive through culling even if it writes
// nothing.
func (p *PassNode) MarkSideEffect() { p.Pin() }

// HasSideEffect reports whether MarkSideEffect was called.
func (p *PassNode) HasSideEffect() bool { return p.Pinned() }

// Reads returns the ids of the resources the pass reads, in declaration order.
func (p *PassNode) Reads() []ResourceID { return ids(p.reads) }

// Writes returns the ids of the resources the pass writes.
func (p *PassNode) Writes() []ResourceID { return ids(p.writes) }

func ids(list []access) []ResourceID {
	out := make([]ResourceID, len(list))
	for i, a := range list {
		out[i] = a.id
	}
	return out
}

// attachmentDescriptions returns the descriptions of p's attachments.
func (p *PassNode) attachmentDescriptions() []rhi.AttachmentDescription {
	out := make([]rhi.AttachmentDescription, len(p.attachments))
	for i, a := range p.attachments {
		out[i] = a.Description
	}
	return out
}

// String implements fmt.Stringer.
func (p *PassNode) String() string {
	return fmt.Sprintf("pass %q #%d", p.name, p.index)
}
