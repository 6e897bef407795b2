package rendergraph

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// Builder is the write side of a RenderGraph: it registers passes, creates
// resources and declares reads and writes.
//
// Resource creation errors are sticky, in the manner of bufio.Writer: the
// first one is kept, later creations return InvalidHandle, and Compile
// reports it. Err returns it at any time.
type Builder struct {
	g       *RenderGraph
	current *PassNode
	err     error
}

// Err returns the first error recorded by the builder.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// AddPassNode registers a pass and runs setup to describe it. setup declares
// the pass's reads and writes through the builder and returns the executor.
//
// Passes cannot nest: calling AddPassNode from inside setup panics.
func (b *Builder) AddPassNode(name string, setup func(b *Builder, reg *Registry) ExecuteFunc) (*PassNode, error) {
	if b.current != nil {
		panic(fmt.Sprintf("rendergraph: AddPassNode(%q) called while building %q", name, b.current.name))
	}
	g := b.g
	if g.compiled {
		return nil, fmt.Errorf("rendergraph: add pass %q: %w", name, ErrGraphCompiled)
	}
	if _, dup := g.passByName[name]; dup {
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePass, name)
	}

	p := newPassNode(name, len(g.passes))
	g.dag.AddNode(p)
	g.passes = append(g.passes, p)
	g.passByName[name] = p

	fn := b.runSetup(p, setup)
	if fn == nil {
		err := fmt.Errorf("%w: pass %q", ErrNilExecutor, name)
		b.fail(err)
		return p, err
	}
	p.executor = &passExecutor{fn: fn}
	g.logger().Debug("rendergraph: pass added", "pass", name, "index", p.index,
		"reads", len(p.reads), "writes", len(p.writes))
	return p, nil
}

func (b *Builder) runSetup(p *PassNode, setup func(*Builder, *Registry) ExecuteFunc) ExecuteFunc {
	b.current = p
	b.g.registry.current = p
	defer func() {
		b.current = nil
		b.g.registry.current = nil
	}()
	return setup(b, b.g.registry)
}

// CurrentPass returns the pass being built, or nil outside a setup callback.
func (b *Builder) CurrentPass() *PassNode { return b.current }

func (b *Builder) mustCurrent(op string) *PassNode {
	if b.current == nil {
		panic("rendergraph: " + op + " called outside a pass setup callback")
	}
	return b.current
}

// Read declares that the current pass reads id, adding the edge
// resource -> pass.
func (b *Builder) Read(id ResourceID, flags rhi.Access) {
	p := b.mustCurrent("Read")
	if b.err != nil && !id.IsValid() {
		return
	}
	b.g.registry.RegisterPassReadingDependency(id, p)
	p.reads = append(p.reads, access{id: id, flags: flags})
}

// Write declares that the current pass writes id, adding the edge
// pass -> resource.
func (b *Builder) Write(id ResourceID, flags rhi.Access) {
	p := b.mustCurrent("Write")
	if b.err != nil && !id.IsValid() {
		return
	}
	b.g.registry.RegisterPassWritingDependency(p, id)
	p.writes = append(p.writes, access{id: id, flags: flags})
}

// AddMesh appends a draw to the current pass and declares reads of its
// vertex buffer, index buffer and descriptor resources.
func (b *Builder) AddMesh(m MeshPassData) {
	p := b.mustCurrent("AddMesh")
	b.Read(m.Vertex.ID(), 0)
	if m.Index.IsValid() {
		b.Read(m.Index.ID(), 0)
	}
	for _, id := range m.Resources {
		b.Read(id, rhi.AccessShaderRead)
	}
	p.AddMeshPassData(m)
}

// SetResourceDescriptor replaces the Description of id, for example to bind
// a resource once the pass that consumes it is known.
func (b *Builder) SetResourceDescriptor(id ResourceID, desc Description) {
	b.g.registry.GetResourceNode(id).virtual.setDescription(desc)
}

// Present returns the handle of the swapchain image.
func (b *Builder) Present() Handle[*PresentImage] {
	return Handle[*PresentImage]{id: b.g.presentID}
}

// existing returns the handle registered for name, asserting its kind.
// ok is false if name is new.
func existing[T Physical](b *Builder, name string) (Handle[T], bool) {
	id, ok := b.g.resourceByName[name]
	if !ok {
		return InvalidHandle[T](), false
	}
	node := b.g.resources[id]
	var zero T
	if node.kind != zero.Kind() {
		panic(fmt.Sprintf("rendergraph: resource %q is a %s, not a %s", name, node.kind, zero.Kind()))
	}
	return Handle[T]{id: id}, true
}

// usable reports whether a new resource may be created.
func (b *Builder) usable(name string) bool {
	if b.err != nil {
		return false
	}
	if b.g.compiled {
		b.fail(fmt.Errorf("rendergraph: create %q: %w", name, ErrGraphCompiled))
		return false
	}
	return true
}

// CreateBufferResourceNode creates a uniform or storage buffer named name.
// If name is already registered its handle is returned and no buffer is
// created.
func (b *Builder) CreateBufferResourceNode(name string, desc Description, bd rhi.BufferDescriptor) Handle[*Buffer] {
	if h, ok := existing[*Buffer](b, name); ok {
		return h
	}
	if !b.usable(name) {
		return InvalidHandle[*Buffer]()
	}
	if bd.Label == "" {
		bd.Label = name
	}
	buf, err := b.g.device.CreateBuffer(&bd)
	if err != nil {
		b.fail(fmt.Errorf("rendergraph: create buffer %q: %w", name, err))
		return InvalidHandle[*Buffer]()
	}
	return RegisterResourceNode(b.g.registry, name, desc, &Buffer{Buffer: buf})
}

// CreateTextureResourceNode creates an image and its sampler. A zero width
// or height in img sizes the image to the swapchain and marks it full-screen.
func (b *Builder) CreateTextureResourceNode(name string, desc Description, img rhi.ImageDescriptor, smp rhi.SamplerDescriptor) Handle[*Texture] {
	if h, ok := existing[*Texture](b, name); ok {
		return h
	}
	if !b.usable(name) {
		return InvalidHandle[*Texture]()
	}
	if img.Label == "" {
		img.Label = name
	}
	if smp.Label == "" {
		smp.Label = name
	}
	fullScreen := img.Width == 0 || img.Height == 0
	if fullScreen {
		img.Width, img.Height = b.g.device.Swapchain().Extent()
	}
	if img.Format == gputypes.TextureFormatUndefined {
		img.Format = b.g.device.Swapchain().Format()
	}
	image, err := b.g.device.CreateImage(&img)
	if err != nil {
		b.fail(fmt.Errorf("rendergraph: create image %q: %w", name, err))
		return InvalidHandle[*Texture]()
	}
	sampler, err := b.g.device.CreateSampler(&smp)
	if err != nil {
		image.Destroy()
		b.fail(fmt.Errorf("rendergraph: create sampler %q: %w", name, err))
		return InvalidHandle[*Texture]()
	}
	return RegisterResourceNode(b.g.registry, name, desc,
		&Texture{Image: image, Sampler: sampler, FullScreen: fullScreen, desc: img})
}

// CreateVertexBufferResourceNode uploads count vertices laid out as layout.
func (b *Builder) CreateVertexBufferResourceNode(name string, data []byte, count uint32, layout gputypes.VertexBufferLayout) Handle[*VertexBuffer] {
	if h, ok := existing[*VertexBuffer](b, name); ok {
		return h
	}
	if !b.usable(name) {
		return InvalidHandle[*VertexBuffer]()
	}
	buf, err := b.g.device.CreateBuffer(&rhi.BufferDescriptor{
		Label:  name,
		Usage:  gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
		Memory: rhi.MemoryPropertyDeviceLocal,
		Data:   data,
	})
	if err != nil {
		b.fail(fmt.Errorf("rendergraph: create vertex buffer %q: %w", name, err))
		return InvalidHandle[*VertexBuffer]()
	}
	return RegisterResourceNode(b.g.registry, name, UnboundDescription(),
		&VertexBuffer{Buffer: buf, Count: count, Layout: layout})
}

// CreateIndexBufferResourceNode uploads count indices of type t.
func (b *Builder) CreateIndexBufferResourceNode(name string, data []byte, count uint32, t rhi.IndexType) Handle[*IndexBuffer] {
	if h, ok := existing[*IndexBuffer](b, name); ok {
		return h
	}
	if !b.usable(name) {
		return InvalidHandle[*IndexBuffer]()
	}
	buf, err := b.g.device.CreateBuffer(&rhi.BufferDescriptor{
		Label:  name,
		Usage:  gputypes.BufferUsageIndex | gputypes.BufferUsageCopyDst,
		Memory: rhi.MemoryPropertyDeviceLocal,
		Data:   data,
	})
	if err != nil {
		b.fail(fmt.Errorf("rendergraph: create index buffer %q: %w", name, err))
		return InvalidHandle[*IndexBuffer]()
	}
	return RegisterResourceNode(b.g.registry, name, UnboundDescription(),
		&IndexBuffer{Buffer: buf, Count: count, Type: t})
}
