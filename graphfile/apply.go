package graphfile

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rendergraph"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// PresentName refers to the swapchain image in reads, writes and
// attachments.
const PresentName = rendergraph.DefaultPresentName

// Apply creates the resources and passes of f through b. executors supplies
// per-pass executors by pass name; a pass without one draws its meshes and
// then draw_vertices vertices.
//
// Every pass declares the descriptor layout formed by all bound resources
// of the file, so consecutive passes with equal attachments merge.
func (f *File) Apply(b *rendergraph.Builder, executors map[string]rendergraph.ExecuteFunc) error {
	layout, err := f.layout()
	if err != nil {
		return err
	}
	a := &applier{
		f:        f,
		b:        b,
		ids:      map[string]rendergraph.ResourceID{PresentName: b.Present().ID()},
		formats:  map[string]gputypes.TextureFormat{PresentName: f.swapchainFormat()},
		vertices: map[string]rendergraph.Handle[*rendergraph.VertexBuffer]{},
		indices:  map[string]rendergraph.Handle[*rendergraph.IndexBuffer]{},
		layouts:  map[string]gputypes.VertexBufferLayout{},
	}
	for _, r := range f.Resources {
		if err := a.createResource(r); err != nil {
			return fmt.Errorf("graphfile: resource %q: %w", r.Name, err)
		}
	}
	if err := b.Err(); err != nil {
		return err
	}
	for _, p := range f.Passes {
		if err := a.addPass(p, layout, executors[p.Name]); err != nil {
			return fmt.Errorf("graphfile: pass %q: %w", p.Name, err)
		}
	}
	return b.Err()
}

func (f *File) swapchainFormat() gputypes.TextureFormat {
	if f.vars.SwapchainFormat != gputypes.TextureFormatUndefined {
		return f.vars.SwapchainFormat
	}
	return rhi.DefaultConfig().Format
}

// layout collects the binding of every bound resource.
func (f *File) layout() (rendergraph.BindingInfo, error) {
	info := rendergraph.BindingInfo{}
	for _, r := range f.Resources {
		if r.Binding == nil {
			continue
		}
		desc, err := description(r.Binding)
		if err != nil {
			return nil, fmt.Errorf("graphfile: resource %q: %w", r.Name, err)
		}
		entry := desc.DescriptorBinding()
		if prev, ok := info.Lookup(desc.Set, desc.Binding); ok {
			if prev != entry {
				return nil, fmt.Errorf("%w: resource %q conflicts at set %d binding %d",
					ErrInvalid, r.Name, desc.Set, desc.Binding)
			}
			continue
		}
		info[desc.Set] = append(info[desc.Set], entry)
	}
	for set := range info {
		slices.SortFunc(info[set], func(a, b rhi.DescriptorBinding) int { return int(a.Binding) - int(b.Binding) })
	}
	return info, nil
}

func description(bb *BindingBlock) (rendergraph.Description, error) {
	if bb == nil {
		return rendergraph.UnboundDescription(), nil
	}
	t, err := descriptorType(bb.Type)
	if err != nil {
		return rendergraph.Description{}, err
	}
	stages, err := flags("shader stage", bb.Stages, shaderStages)
	if err != nil {
		return rendergraph.Description{}, err
	}
	if stages == gputypes.ShaderStageNone {
		stages = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	}
	return rendergraph.Description{Set: bb.Set, Binding: bb.Binding, Type: t, Stages: stages}, nil
}

type applier struct {
	f        *File
	b        *rendergraph.Builder
	ids      map[string]rendergraph.ResourceID
	formats  map[string]gputypes.TextureFormat
	vertices map[string]rendergraph.Handle[*rendergraph.VertexBuffer]
	indices  map[string]rendergraph.Handle[*rendergraph.IndexBuffer]
	layouts  map[string]gputypes.VertexBufferLayout
}

func (a *applier) createResource(r *ResourceBlock) error {
	desc, err := description(r.Binding)
	if err != nil {
		return err
	}
	switch r.Kind {
	case KindTexture:
		return a.createTexture(r, desc)
	case KindBuffer:
		data := packFloats(r.Floats)
		usage, err := flags("buffer usage", r.Usage, bufferUsages)
		if err != nil {
			return err
		}
		if usage == 0 {
			usage = gputypes.BufferUsageUniform
		}
		h := a.b.CreateBufferResourceNode(r.Name, desc, rhi.BufferDescriptor{
			Size:   max(r.Size, uint64(len(data))),
			Usage:  usage | gputypes.BufferUsageCopyDst,
			Memory: rhi.MemoryPropertyHostVisible | rhi.MemoryPropertyHostCoherent,
			Data:   data,
		})
		a.ids[r.Name] = h.ID()
	case KindVertexBuffer:
		layout, count, err := vertexLayout(r)
		if err != nil {
			return err
		}
		h := a.b.CreateVertexBufferResourceNode(r.Name, packFloats(r.Floats), count, layout)
		a.ids[r.Name] = h.ID()
		a.vertices[r.Name] = h
		a.layouts[r.Name] = layout
	case KindIndexBuffer:
		data, t, err := packIndices(r.Indices, r.Wide)
		if err != nil {
			return err
		}
		h := a.b.CreateIndexBufferResourceNode(r.Name, data, uint32(len(r.Indices)), t)
		a.ids[r.Name] = h.ID()
		a.indices[r.Name] = h
	}
	return nil
}

func (a *applier) createTexture(r *ResourceBlock, desc rendergraph.Description) error {
	format := a.f.swapchainFormat()
	if r.Format != "" {
		var err error
		if format, err = textureFormat(r.Format); err != nil {
			return err
		}
	}
	usage, err := flags("texture usage", r.Usage, textureUsages)
	if err != nil {
		return err
	}
	if usage == 0 {
		usage = gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding
	}
	filter, err := filterMode(r.Filter)
	if err != nil {
		return err
	}
	smp := rhi.DefaultSamplerDescriptor("")
	smp.MinFilter, smp.MagFilter = filter, filter

	h := a.b.CreateTextureResourceNode(r.Name, desc,
		rhi.ImageDescriptor{Width: r.Width, Height: r.Height, Format: format, Usage: usage},
		smp)
	a.ids[r.Name] = h.ID()
	a.formats[r.Name] = format
	return nil
}

func vertexLayout(r *ResourceBlock) (gputypes.VertexBufferLayout, uint32, error) {
	if r.Stride == 0 {
		return gputypes.VertexBufferLayout{}, 0, fmt.Errorf("%w: vertex buffer needs a stride", ErrInvalid)
	}
	layout := gputypes.VertexBufferLayout{ArrayStride: r.Stride, StepMode: gputypes.VertexStepModeVertex}
	for _, attr := range r.Attributes {
		f, err := vertexFormat(attr.Format)
		if err != nil {
			return layout, 0, err
		}
		layout.Attributes = append(layout.Attributes, gputypes.VertexAttribute{
			Format:         f,
			Offset:         attr.Offset,
			ShaderLocation: attr.Location,
		})
	}
	count := r.Count
	if count == 0 {
		count = uint32(uint64(len(r.Floats)*4) / r.Stride)
	}
	return layout, count, nil
}

func packFloats(fs []float64) []byte {
	buf := make([]byte, len(fs)*4)
	for i, f := range fs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(f)))
	}
	return buf
}

func packIndices(indices []uint32, wide bool) ([]byte, rhi.IndexType, error) {
	if wide {
		buf := make([]byte, len(indices)*4)
		for i, idx := range indices {
			binary.LittleEndian.PutUint32(buf[i*4:], idx)
		}
		return buf, rhi.IndexTypeUint32, nil
	}
	buf := make([]byte, len(indices)*2)
	for i, idx := range indices {
		if idx > math.MaxUint16 {
			return nil, 0, fmt.Errorf("%w: index %d does not fit 16 bits; set wide = true", ErrInvalid, idx)
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(idx))
	}
	return buf, rhi.IndexTypeUint16, nil
}

// passPlan is everything a pass setup applies, resolved up front so the
// setup callback cannot fail.
type passPlan struct {
	reads, writes []rendergraph.ResourceID
	attachments   []rendergraph.Attachment
	meta          rendergraph.AttachmentMeta
	subpass       rhi.SubpassDescription
	meshes        []rendergraph.MeshPassData
	pipeline      rendergraph.PipelineState
}

func (a *applier) addPass(p *PassBlock, layout rendergraph.BindingInfo, exec rendergraph.ExecuteFunc) error {
	plan, err := a.plan(p)
	if err != nil {
		return err
	}
	if exec == nil {
		vertices := p.DrawVertices
		exec = func(reg *rendergraph.Registry, cmd rhi.CommandBuffer) {
			reg.DrawMeshes(cmd)
			if vertices > 0 {
				cmd.Draw(vertices, 1, 0, 0)
			}
		}
	}

	_, err = a.b.AddPassNode(p.Name, func(b *rendergraph.Builder, _ *rendergraph.Registry) rendergraph.ExecuteFunc {
		node := b.CurrentPass()
		for _, id := range plan.reads {
			b.Read(id, rhi.AccessShaderRead|rhi.AccessInputAttachmentRead)
		}
		for _, id := range plan.writes {
			b.Write(id, rhi.AccessColorAttachmentWrite|rhi.AccessDepthStencilWrite)
		}
		for _, m := range plan.meshes {
			b.AddMesh(m)
		}
		node.SetAttachments(plan.attachments)
		node.SetAttachmentMeta(plan.meta)
		node.SetSubpassDescription(plan.subpass)
		node.SetBindingInfo(layout)
		node.SetPipelineState(plan.pipeline)
		if p.SideEffect {
			node.MarkSideEffect()
		}
		return exec
	})
	return err
}

func (a *applier) resolve(names []string) []rendergraph.ResourceID {
	ids := make([]rendergraph.ResourceID, len(names))
	for i, n := range names {
		ids[i] = a.ids[n]
	}
	return ids
}

func (a *applier) plan(p *PassBlock) (*passPlan, error) {
	plan := &passPlan{reads: a.resolve(p.Reads), writes: a.resolve(p.Writes)}

	slot := map[string]uint32{}
	clears := make([]rhi.ClearValue, 0, len(p.Attachments))
	for i, ab := range p.Attachments {
		desc, cv, err := a.attachment(ab)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", ab.Resource, err)
		}
		slot[ab.Resource] = uint32(i)
		plan.attachments = append(plan.attachments, rendergraph.Attachment{Resource: a.ids[ab.Resource], Description: desc})
		clears = append(clears, cv)
	}

	for _, n := range p.Input {
		plan.subpass.InputAttachments = append(plan.subpass.InputAttachments,
			rhi.AttachmentReference{Attachment: slot[n], Layout: rhi.ImageLayoutShaderReadOnly})
	}
	for _, n := range p.Color {
		plan.subpass.ColorAttachments = append(plan.subpass.ColorAttachments,
			rhi.AttachmentReference{Attachment: slot[n], Layout: rhi.ImageLayoutColorAttachment})
	}
	if p.Depth != "" {
		plan.subpass.DepthStencil = &rhi.AttachmentReference{Attachment: slot[p.Depth], Layout: rhi.ImageLayoutDepthStencilAttachment}
	}

	if p.Width == 0 || p.Height == 0 {
		plan.meta = rendergraph.FullScreenMeta(clears...)
		if p.Layers > 0 {
			plan.meta.Layers = p.Layers
		}
	} else {
		plan.meta = rendergraph.AttachmentMeta{Width: p.Width, Height: p.Height, Layers: max(p.Layers, 1), ClearValues: clears}
	}

	for _, m := range p.Meshes {
		md := rendergraph.MeshPassData{
			Vertex:    a.vertices[m.Vertex],
			Index:     rendergraph.InvalidHandle[*rendergraph.IndexBuffer](),
			Resources: a.resolve(m.Resources),
			Instances: m.Instances,
		}
		if m.Index != "" {
			md.Index = a.indices[m.Index]
		}
		plan.meshes = append(plan.meshes, md)
	}

	pipe, err := a.pipeline(p)
	if err != nil {
		return nil, err
	}
	plan.pipeline = pipe
	return plan, nil
}

func (a *applier) attachment(ab *AttachmentBlock) (rhi.AttachmentDescription, rhi.ClearValue, error) {
	format, ok := a.formats[ab.Resource]
	if !ok {
		return rhi.AttachmentDescription{}, rhi.ClearValue{}, fmt.Errorf("%w: only textures and %s can be attached", ErrInvalid, PresentName)
	}
	load, err := loadOp(ab.Load)
	if err != nil {
		return rhi.AttachmentDescription{}, rhi.ClearValue{}, err
	}
	store, err := storeOp(ab.Store)
	if err != nil {
		return rhi.AttachmentDescription{}, rhi.ClearValue{}, err
	}

	var final rhi.ImageLayout
	switch {
	case ab.FinalLayout != "":
		if final, err = imageLayout(ab.FinalLayout); err != nil {
			return rhi.AttachmentDescription{}, rhi.ClearValue{}, err
		}
	case ab.Resource == PresentName:
		final = rhi.ImageLayoutPresentSrc
	case rhi.IsDepthFormat(format):
		final = rhi.ImageLayoutDepthStencilAttachment
	default:
		final = rhi.ImageLayoutShaderReadOnly
	}

	if len(ab.Clear) > 4 {
		return rhi.AttachmentDescription{}, rhi.ClearValue{}, fmt.Errorf("%w: clear has %d components", ErrInvalid, len(ab.Clear))
	}
	var rgba [4]float64
	rgba[3] = 1
	copy(rgba[:], ab.Clear)
	cv := rhi.ClearValue{Color: gputypes.Color{R: rgba[0], G: rgba[1], B: rgba[2], A: rgba[3]}}
	if rhi.IsDepthFormat(format) {
		cv.Depth = 1
	}
	if ab.ClearDepth != nil {
		cv.Depth = float32(*ab.ClearDepth)
	}

	return rhi.AttachmentDescription{
		Format:      format,
		Samples:     1,
		LoadOp:      load,
		StoreOp:     store,
		FinalLayout: final,
	}, cv, nil
}

func (a *applier) pipeline(p *PassBlock) (rendergraph.PipelineState, error) {
	var st rendergraph.PipelineState
	if p.Shader == nil {
		return st, nil
	}
	src := p.Shader.WGSL
	if p.Shader.File != "" {
		path := p.Shader.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.f.dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return st, fmt.Errorf("shader: %w", err)
		}
		src = string(data)
	}
	st.Shader = rhi.ShaderSource{
		Label:         p.Name,
		WGSL:          src,
		VertexEntry:   cmp.Or(p.Shader.VertexEntry, "vs_main"),
		FragmentEntry: cmp.Or(p.Shader.FragmentEntry, "fs_main"),
	}

	var err error
	if st.Topology, err = topology(p.Topology); err != nil {
		return st, err
	}
	if st.CullMode, err = cullMode(p.Cull); err != nil {
		return st, err
	}
	if dt := p.DepthTest; dt != nil {
		compare, err := compareFunction(dt.Compare)
		if err != nil {
			return st, err
		}
		st.Depth = &rhi.DepthState{Write: dt.Write, Compare: compare}
	}

	seen := map[string]bool{}
	for _, m := range p.Meshes {
		if seen[m.Vertex] {
			continue
		}
		seen[m.Vertex] = true
		layout := a.layouts[m.Vertex]
		if len(st.VertexBuffers) > 0 && !slices.Equal(st.VertexBuffers[0].Attributes, layout.Attributes) {
			return st, fmt.Errorf("%w: meshes use different vertex layouts", ErrInvalid)
		}
		if len(st.VertexBuffers) == 0 {
			st.VertexBuffers = append(st.VertexBuffers, layout)
		}
	}
	return st, nil
}
