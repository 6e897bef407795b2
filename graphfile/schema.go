package graphfile

// Resource kinds.
const (
	KindTexture      = "texture"
	KindBuffer       = "buffer"
	KindVertexBuffer = "vertex_buffer"
	KindIndexBuffer  = "index_buffer"
)

// document is the top level of a graph file.
type document struct {
	Resources []*ResourceBlock `hcl:"resource,block"`
	Passes    []*PassBlock     `hcl:"pass,block"`
}

// ResourceBlock is a `resource "<kind>" "<name>"` block.
type ResourceBlock struct {
	Kind string `hcl:"kind,label"`
	Name string `hcl:"name,label"`

	// Textures. A zero width or height sizes the texture to the swapchain.
	Format string   `hcl:"format,optional"`
	Width  uint32   `hcl:"width,optional"`
	Height uint32   `hcl:"height,optional"`
	Usage  []string `hcl:"usage,optional"`
	Filter string   `hcl:"filter,optional"`

	// Buffers. Floats are packed little-endian into the initial contents;
	// Size defaults to their byte length.
	Size   uint64    `hcl:"size,optional"`
	Floats []float64 `hcl:"floats,optional"`

	// Vertex buffers.
	Stride     uint64            `hcl:"stride,optional"`
	Count      uint32            `hcl:"count,optional"`
	Attributes []*AttributeBlock `hcl:"attribute,block"`

	// Index buffers.
	Indices []uint32 `hcl:"indices,optional"`
	Wide    bool     `hcl:"wide,optional"`

	Binding *BindingBlock `hcl:"binding,block"`
}

// AttributeBlock is one vertex attribute.
type AttributeBlock struct {
	Location uint32 `hcl:"location"`
	Format   string `hcl:"format"`
	Offset   uint64 `hcl:"offset,optional"`
}

// BindingBlock places a resource in a descriptor set.
type BindingBlock struct {
	Set     uint32   `hcl:"set"`
	Binding uint32   `hcl:"binding"`
	Type    string   `hcl:"type"`
	Stages  []string `hcl:"stages,optional"`
}

// PassBlock is a `pass "<name>"` block.
type PassBlock struct {
	Name string `hcl:"name,label"`

	Reads      []string `hcl:"reads,optional"`
	Writes     []string `hcl:"writes,optional"`
	SideEffect bool     `hcl:"side_effect,optional"`

	Attachments []*AttachmentBlock `hcl:"attachment,block"`
	Input       []string           `hcl:"input,optional"`
	Color       []string           `hcl:"color,optional"`
	Depth       string             `hcl:"depth,optional"`

	// A zero width or height makes the pass full-screen.
	Width  uint32 `hcl:"width,optional"`
	Height uint32 `hcl:"height,optional"`
	Layers uint32 `hcl:"layers,optional"`

	Meshes []*MeshBlock `hcl:"mesh,block"`

	// DrawVertices, when set, makes the default executor draw that many
	// vertices after the meshes, for full-screen passes.
	DrawVertices uint32 `hcl:"draw_vertices,optional"`

	Shader    *ShaderBlock    `hcl:"shader,block"`
	Topology  string          `hcl:"topology,optional"`
	Cull      string          `hcl:"cull,optional"`
	DepthTest *DepthTestBlock `hcl:"depth_test,block"`
}

// AttachmentBlock is an `attachment "<resource>"` block. Attachments take
// slots in the order they are written.
type AttachmentBlock struct {
	Resource    string    `hcl:"resource,label"`
	Load        string    `hcl:"load,optional"`
	Store       string    `hcl:"store,optional"`
	FinalLayout string    `hcl:"final_layout,optional"`
	Clear       []float64 `hcl:"clear,optional"`
	ClearDepth  *float64  `hcl:"clear_depth,optional"`
}

// MeshBlock is one draw of a pass.
type MeshBlock struct {
	Vertex    string   `hcl:"vertex"`
	Index     string   `hcl:"index,optional"`
	Resources []string `hcl:"resources,optional"`
	Instances uint32   `hcl:"instances,optional"`
}

// ShaderBlock names the WGSL source of a pass: inline or from a file
// relative to the graph file.
type ShaderBlock struct {
	WGSL          string `hcl:"wgsl,optional"`
	File          string `hcl:"file,optional"`
	VertexEntry   string `hcl:"vertex_entry,optional"`
	FragmentEntry string `hcl:"fragment_entry,optional"`
}

// DepthTestBlock enables depth testing.
type DepthTestBlock struct {
	Write   bool   `hcl:"write,optional"`
	Compare string `hcl:"compare,optional"`
}
