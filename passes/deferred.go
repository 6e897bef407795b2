package passes

import (
	_ "embed"
	"fmt"
	"image/color"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rendergraph"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

var (
	//go:embed shaders/zprepass.wgsl
	zPrePassWGSL string
	//go:embed shaders/gbuffer.wgsl
	gBufferWGSL string
	//go:embed shaders/lighting.wgsl
	lightingWGSL string
)

// Pass names of the deferred pipeline.
const (
	ZPrePassName = "ZPrePass"
	GBufferName  = "GBuffer"
	LightingName = "Lighting"
)

// Descriptor sets: set 0 holds per-pass resources, set 1 per-mesh ones.
const (
	setPass = 0
	setMesh = 1

	bindingCamera = 0
	bindingLight  = 1
	bindingAlbedo = 2
	bindingNormal = 3
	bindingDepth  = 4

	bindingMeshAlbedo = 0
)

// Attachment slots shared by every pass of the pipeline.
const (
	slotPresent = iota
	slotAlbedo
	slotNormal
	slotDepth
)

// G-buffer formats.
const (
	AlbedoFormat = gputypes.TextureFormatRGBA8Unorm
	NormalFormat = gputypes.TextureFormatRGBA16Float
	DepthFormat  = gputypes.TextureFormatDepth32Float
)

// meshResources are the graph resources of one scene mesh.
type meshResources struct {
	vertex rendergraph.Handle[*rendergraph.VertexBuffer]
	index  rendergraph.Handle[*rendergraph.IndexBuffer]
	albedo rendergraph.Handle[*rendergraph.Texture]
}

// Deferred holds the resources of the deferred pipeline and its three
// passes. The passes share one attachment list and one descriptor layout,
// so the graph merges them into a single render pass with three subpasses.
type Deferred struct {
	Present rendergraph.ResourceID
	Albedo  rendergraph.Handle[*rendergraph.Texture]
	Normal  rendergraph.Handle[*rendergraph.Texture]
	Depth   rendergraph.Handle[*rendergraph.Texture]
	Camera  rendergraph.Handle[*rendergraph.Buffer]
	Light   rendergraph.Handle[*rendergraph.Buffer]

	ZPrePass *ZPrePass
	GBuffer  *GBufferPass
	Lighting *LightingPass

	presentFormat gputypes.TextureFormat
	meshes        []meshResources
}

// NewDeferred creates the g-buffer targets, the camera and light buffers
// and the mesh resources of s in g.
func NewDeferred(g *rendergraph.RenderGraph, s *Scene) (*Deferred, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	b := g.Builder()
	d := &Deferred{
		Present:       b.Present().ID(),
		presentFormat: g.Device().Swapchain().Format(),
	}

	d.Camera = b.CreateBufferResourceNode("Camera",
		rendergraph.Description{Set: setPass, Binding: bindingCamera, Type: rhi.DescriptorTypeUniformBuffer, Stages: gputypes.ShaderStageVertex},
		uniform(s.CameraBytes()))
	d.Light = b.CreateBufferResourceNode("Light",
		rendergraph.Description{Set: setPass, Binding: bindingLight, Type: rhi.DescriptorTypeUniformBuffer, Stages: gputypes.ShaderStageFragment},
		uniform(s.Light.Bytes()))
	d.Albedo = gbufferTarget(b, "GBufferAlbedo", bindingAlbedo, AlbedoFormat)
	d.Normal = gbufferTarget(b, "GBufferNormal", bindingNormal, NormalFormat)
	d.Depth = gbufferTarget(b, "GBufferDepth", bindingDepth, DepthFormat)

	for i := range s.Meshes {
		m := &s.Meshes[i]
		albedo := m.Albedo
		if albedo == nil {
			albedo = Checker(1, 1, color.White, color.White)
		}
		mr := meshResources{
			vertex: b.CreateVertexBufferResourceNode(m.Name+".vertices", m.VertexBytes(), uint32(len(m.Vertices)), VertexLayout),
			index:  rendergraph.InvalidHandle[*rendergraph.IndexBuffer](),
			albedo: b.CreateTextureResourceNode(m.Name+".albedo",
				rendergraph.Description{Set: setMesh, Binding: bindingMeshAlbedo, Type: rhi.DescriptorTypeCombinedImageSampler, Stages: gputypes.ShaderStageFragment},
				TextureFromImage(m.Name+".albedo", albedo),
				rhi.DefaultSamplerDescriptor("")),
		}
		if len(m.Indices) > 0 {
			mr.index = b.CreateIndexBufferResourceNode(m.Name+".indices", m.IndexBytes(), uint32(len(m.Indices)), rhi.IndexTypeUint16)
		}
		d.meshes = append(d.meshes, mr)
	}
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("passes: deferred resources: %w", err)
	}

	d.ZPrePass = &ZPrePass{d: d}
	d.GBuffer = &GBufferPass{d: d}
	d.Lighting = &LightingPass{d: d}
	return d, nil
}

func uniform(data []byte) rhi.BufferDescriptor {
	return rhi.BufferDescriptor{
		Size:   uint64(len(data)),
		Usage:  gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		Memory: rhi.MemoryPropertyHostVisible | rhi.MemoryPropertyHostCoherent,
		Data:   data,
	}
}

// gbufferTarget creates a full-screen attachment that the lighting pass
// reads as an input attachment.
func gbufferTarget(b *rendergraph.Builder, name string, binding uint32, format gputypes.TextureFormat) rendergraph.Handle[*rendergraph.Texture] {
	return b.CreateTextureResourceNode(name,
		rendergraph.Description{Set: setPass, Binding: binding, Type: rhi.DescriptorTypeInputAttachment, Stages: gputypes.ShaderStageFragment},
		rhi.ImageDescriptor{
			Format: format,
			Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
		},
		rhi.DefaultSamplerDescriptor(""))
}

// Passes returns the pipeline's passes in execution order.
func (d *Deferred) Passes() []Pass {
	return []Pass{d.ZPrePass, d.GBuffer, d.Lighting}
}

// Add registers the three passes with b.
func (d *Deferred) Add(b *rendergraph.Builder) error {
	return AddAll(b, d.Passes()...)
}

// attachments is the attachment list of every pass of the pipeline.
func (d *Deferred) attachments() []rendergraph.Attachment {
	target := func(format gputypes.TextureFormat, final rhi.ImageLayout) rhi.AttachmentDescription {
		return rhi.AttachmentDescription{
			Format:      format,
			Samples:     1,
			LoadOp:      gputypes.LoadOpClear,
			StoreOp:     gputypes.StoreOpDiscard,
			FinalLayout: final,
		}
	}
	present := target(d.presentFormat, rhi.ImageLayoutPresentSrc)
	present.StoreOp = gputypes.StoreOpStore
	return []rendergraph.Attachment{
		slotPresent: {Resource: d.Present, Description: present},
		slotAlbedo:  {Resource: d.Albedo.ID(), Description: target(AlbedoFormat, rhi.ImageLayoutShaderReadOnly)},
		slotNormal:  {Resource: d.Normal.ID(), Description: target(NormalFormat, rhi.ImageLayoutShaderReadOnly)},
		slotDepth:   {Resource: d.Depth.ID(), Description: target(DepthFormat, rhi.ImageLayoutDepthStencilAttachment)},
	}
}

func (d *Deferred) meta() rendergraph.AttachmentMeta {
	return rendergraph.FullScreenMeta(
		rhi.ClearValue{Color: gputypes.Color{A: 1}},
		rhi.ClearValue{},
		rhi.ClearValue{},
		rhi.ClearValue{Depth: 1},
	)
}

// bindings is the descriptor layout of every pass of the pipeline.
func bindings() rendergraph.BindingInfo {
	frag := gputypes.ShaderStageFragment
	input := func(binding uint32) rhi.DescriptorBinding {
		return rhi.DescriptorBinding{Binding: binding, Type: rhi.DescriptorTypeInputAttachment, Count: 1, Stages: frag}
	}
	return rendergraph.BindingInfo{
		setPass: {
			{Binding: bindingCamera, Type: rhi.DescriptorTypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageVertex},
			{Binding: bindingLight, Type: rhi.DescriptorTypeUniformBuffer, Count: 1, Stages: frag},
			input(bindingAlbedo),
			input(bindingNormal),
			input(bindingDepth),
		},
		setMesh: {
			{Binding: bindingMeshAlbedo, Type: rhi.DescriptorTypeCombinedImageSampler, Count: 1, Stages: frag},
		},
	}
}

func depthRef() *rhi.AttachmentReference {
	return &rhi.AttachmentReference{Attachment: slotDepth, Layout: rhi.ImageLayoutDepthStencilAttachment}
}

// ZPrePass fills the depth buffer so the g-buffer pass shades each pixel
// once.
type ZPrePass struct {
	d *Deferred
}

// Name implements Pass.
func (*ZPrePass) Name() string { return ZPrePassName }

// PrepareResources implements Pass.
func (z *ZPrePass) PrepareResources(b *rendergraph.Builder) {
	b.Read(z.d.Camera.ID(), rhi.AccessShaderRead)
	b.Write(z.d.Depth.ID(), rhi.AccessDepthStencilWrite)
	for _, m := range z.d.meshes {
		b.AddMesh(rendergraph.MeshPassData{Vertex: m.vertex, Index: m.index})
	}
}

// PrepareAttachments implements Pass.
func (z *ZPrePass) PrepareAttachments(p *rendergraph.PassNode) {
	p.SetAttachments(z.d.attachments())
	p.SetAttachmentMeta(z.d.meta())
	p.SetSubpassDescription(rhi.SubpassDescription{DepthStencil: depthRef()})
	p.SetSubpassDependencies(&rhi.SubpassDependency{
		SrcStage:  rhi.PipelineStageBottomOfPipe,
		DstStage:  rhi.PipelineStageEarlyFragmentTests | rhi.PipelineStageLateFragmentTests,
		SrcAccess: rhi.AccessMemoryRead,
		DstAccess: rhi.AccessDepthStencilRead | rhi.AccessDepthStencilWrite,
	}, nil)
}

// PreparePipeline implements Pass.
func (*ZPrePass) PreparePipeline(p *rendergraph.PassNode) {
	p.SetBindingInfo(bindings())
	p.SetPipelineState(rendergraph.PipelineState{
		Shader:        rhi.ShaderSource{Label: "zprepass", WGSL: zPrePassWGSL, VertexEntry: "vs_main", FragmentEntry: "fs_main"},
		VertexBuffers: []gputypes.VertexBufferLayout{VertexLayout},
		Topology:      gputypes.PrimitiveTopologyTriangleList,
		CullMode:      gputypes.CullModeBack,
		Depth:         &rhi.DepthState{Write: true, Compare: gputypes.CompareFunctionLess},
	})
}

// Render implements Pass.
func (*ZPrePass) Render(reg *rendergraph.Registry, cmd rhi.CommandBuffer) { reg.DrawMeshes(cmd) }

// GBufferPass writes albedo and normals of the visible surfaces, testing
// against the prepass depth without writing it.
type GBufferPass struct {
	d *Deferred
}

// Name implements Pass.
func (*GBufferPass) Name() string { return GBufferName }

// PrepareResources implements Pass.
func (gp *GBufferPass) PrepareResources(b *rendergraph.Builder) {
	d := gp.d
	b.Read(d.Camera.ID(), rhi.AccessShaderRead)
	b.Read(d.Depth.ID(), rhi.AccessDepthStencilRead)
	b.Write(d.Albedo.ID(), rhi.AccessColorAttachmentWrite)
	b.Write(d.Normal.ID(), rhi.AccessColorAttachmentWrite)
	for _, m := range d.meshes {
		b.AddMesh(rendergraph.MeshPassData{
			Vertex:    m.vertex,
			Index:     m.index,
			Resources: []rendergraph.ResourceID{m.albedo.ID()},
		})
	}
}

// PrepareAttachments implements Pass.
func (gp *GBufferPass) PrepareAttachments(p *rendergraph.PassNode) {
	p.SetAttachments(gp.d.attachments())
	p.SetAttachmentMeta(gp.d.meta())
	p.SetSubpassDescription(rhi.SubpassDescription{
		ColorAttachments: []rhi.AttachmentReference{
			{Attachment: slotAlbedo, Layout: rhi.ImageLayoutColorAttachment},
			{Attachment: slotNormal, Layout: rhi.ImageLayoutColorAttachment},
		},
		DepthStencil: depthRef(),
	})
}

// PreparePipeline implements Pass.
func (*GBufferPass) PreparePipeline(p *rendergraph.PassNode) {
	p.SetBindingInfo(bindings())
	p.SetPipelineState(rendergraph.PipelineState{
		Shader:        rhi.ShaderSource{Label: "gbuffer", WGSL: gBufferWGSL, VertexEntry: "vs_main", FragmentEntry: "fs_main"},
		VertexBuffers: []gputypes.VertexBufferLayout{VertexLayout},
		Topology:      gputypes.PrimitiveTopologyTriangleList,
		CullMode:      gputypes.CullModeBack,
		Depth:         &rhi.DepthState{Compare: gputypes.CompareFunctionLessEqual},
	})
}

// Render implements Pass.
func (*GBufferPass) Render(reg *rendergraph.Registry, cmd rhi.CommandBuffer) { reg.DrawMeshes(cmd) }

// LightingPass shades the g-buffer with the scene light into the present
// image.
type LightingPass struct {
	d *Deferred
}

// Name implements Pass.
func (*LightingPass) Name() string { return LightingName }

// PrepareResources implements Pass.
func (l *LightingPass) PrepareResources(b *rendergraph.Builder) {
	d := l.d
	b.Read(d.Light.ID(), rhi.AccessShaderRead)
	b.Read(d.Albedo.ID(), rhi.AccessInputAttachmentRead)
	b.Read(d.Normal.ID(), rhi.AccessInputAttachmentRead)
	b.Read(d.Depth.ID(), rhi.AccessInputAttachmentRead)
	b.Write(d.Present, rhi.AccessColorAttachmentWrite)
}

// PrepareAttachments implements Pass.
func (l *LightingPass) PrepareAttachments(p *rendergraph.PassNode) {
	p.SetAttachments(l.d.attachments())
	p.SetAttachmentMeta(l.d.meta())
	p.SetSubpassDescription(rhi.SubpassDescription{
		InputAttachments: []rhi.AttachmentReference{
			{Attachment: slotAlbedo, Layout: rhi.ImageLayoutShaderReadOnly},
			{Attachment: slotNormal, Layout: rhi.ImageLayoutShaderReadOnly},
			{Attachment: slotDepth, Layout: rhi.ImageLayoutShaderReadOnly},
		},
		ColorAttachments: []rhi.AttachmentReference{
			{Attachment: slotPresent, Layout: rhi.ImageLayoutColorAttachment},
		},
	})
}

// PreparePipeline implements Pass.
func (*LightingPass) PreparePipeline(p *rendergraph.PassNode) {
	p.SetBindingInfo(bindings())
	p.SetPipelineState(rendergraph.PipelineState{
		Shader:   rhi.ShaderSource{Label: "lighting", WGSL: lightingWGSL, VertexEntry: "vs_main", FragmentEntry: "fs_main"},
		Topology: gputypes.PrimitiveTopologyTriangleList,
	})
}

// Render draws one full-screen triangle.
func (*LightingPass) Render(_ *rendergraph.Registry, cmd rhi.CommandBuffer) {
	cmd.Draw(3, 1, 0, 0)
}
