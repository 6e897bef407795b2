package rendergraph

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi/headless"
)

const testShader = "@fragment fn fs_main() -> @location(0) vec4<f32> { return vec4<f32>(1.0); }"

var colorDesc = rhi.AttachmentDescription{
	Format:      gputypes.TextureFormatBGRA8Unorm,
	Samples:     1,
	LoadOp:      gputypes.LoadOpClear,
	StoreOp:     gputypes.StoreOpStore,
	FinalLayout: rhi.ImageLayoutColorAttachment,
}

// newTestGraph returns a graph over a 64x32 headless device with two
// swapchain images.
func newTestGraph(t *testing.T, opts ...Option) (*RenderGraph, *headless.Device) {
	t.Helper()
	dev := headless.New(rhi.Config{Width: 64, Height: 32, ImageCount: 2})
	g := New(dev, append([]Option{WithLabel("rg")}, opts...)...)
	t.Cleanup(func() {
		g.Destroy()
		dev.Destroy()
	})
	return g, dev
}

// inputTarget creates a full-screen color target that later passes read as
// an input attachment at set 0, binding 0.
func inputTarget(b *Builder, name string) Handle[*Texture] {
	return b.CreateTextureResourceNode(name,
		Description{Set: 0, Binding: 0, Type: rhi.DescriptorTypeInputAttachment, Stages: gputypes.ShaderStageFragment},
		rhi.ImageDescriptor{Usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding},
		rhi.DefaultSamplerDescriptor(""))
}

// passSpec describes a test pass.
type passSpec struct {
	name        string
	reads       []ResourceID // read as input attachments
	writes      []ResourceID
	attachments []ResourceID
	desc        rhi.AttachmentDescription
	meta        AttachmentMeta
	bindings    BindingInfo
	subpass     rhi.SubpassDescription
	noShader    bool
	sideEffect  bool
	execute     ExecuteFunc
}

func addPass(t *testing.T, g *RenderGraph, s passSpec) *PassNode {
	t.Helper()
	if s.desc == (rhi.AttachmentDescription{}) {
		s.desc = colorDesc
	}
	p, err := g.Builder().AddPassNode(s.name, func(b *Builder, _ *Registry) ExecuteFunc {
		p := b.CurrentPass()
		for _, id := range s.reads {
			b.Read(id, rhi.AccessInputAttachmentRead)
		}
		for _, id := range s.writes {
			b.Write(id, rhi.AccessColorAttachmentWrite)
		}
		atts := make([]Attachment, len(s.attachments))
		for i, id := range s.attachments {
			atts[i] = Attachment{Resource: id, Description: s.desc}
		}
		p.SetAttachments(atts)
		p.SetAttachmentMeta(s.meta)
		p.SetBindingInfo(s.bindings)
		p.SetSubpassDescription(s.subpass)
		if !s.noShader {
			p.SetPipelineState(PipelineState{
				Shader:   rhi.ShaderSource{Label: s.name, WGSL: testShader, VertexEntry: "vs_main", FragmentEntry: "fs_main"},
				Topology: gputypes.PrimitiveTopologyTriangleList,
			})
		}
		if s.sideEffect {
			p.MarkSideEffect()
		}
		if s.execute != nil {
			return s.execute
		}
		if s.noShader {
			return func(*Registry, rhi.CommandBuffer) {}
		}
		return func(_ *Registry, cmd rhi.CommandBuffer) {
			cmd.Draw(3, 1, 0, 0)
		}
	})
	if err != nil {
		t.Fatalf("AddPassNode(%q): %v", s.name, err)
	}
	return p
}

func colorRef(i uint32) rhi.AttachmentReference {
	return rhi.AttachmentReference{Attachment: i, Layout: rhi.ImageLayoutColorAttachment}
}

func inputRef(i uint32) rhi.AttachmentReference {
	return rhi.AttachmentReference{Attachment: i, Layout: rhi.ImageLayoutShaderReadOnly}
}

// buildChain registers P1 (write X), P2 (read X, write Y) and P3 (read Y,
// write present). All three attach [present, X, Y] with colorDesc; metas
// returns the AttachmentMeta of each pass.
func buildChain(t *testing.T, g *RenderGraph, metas func(i int) AttachmentMeta) (x, y Handle[*Texture]) {
	t.Helper()
	b := g.Builder()
	x = inputTarget(b, "X")
	y = inputTarget(b, "Y")
	present := b.Present().ID()
	atts := []ResourceID{present, x.ID(), y.ID()}
	readSet := BindingInfo{0: {{Binding: 0, Type: rhi.DescriptorTypeInputAttachment, Count: 1, Stages: gputypes.ShaderStageFragment}}}

	addPass(t, g, passSpec{
		name:        "P1",
		writes:      []ResourceID{x.ID()},
		attachments: atts,
		meta:        metas(0),
		subpass:     rhi.SubpassDescription{ColorAttachments: []rhi.AttachmentReference{colorRef(1)}},
	})
	addPass(t, g, passSpec{
		name:        "P2",
		reads:       []ResourceID{x.ID()},
		writes:      []ResourceID{y.ID()},
		attachments: atts,
		meta:        metas(1),
		bindings:    readSet,
		subpass: rhi.SubpassDescription{
			InputAttachments: []rhi.AttachmentReference{inputRef(1)},
			ColorAttachments: []rhi.AttachmentReference{colorRef(2)},
		},
	})
	addPass(t, g, passSpec{
		name:        "P3",
		reads:       []ResourceID{y.ID()},
		writes:      []ResourceID{present},
		attachments: atts,
		meta:        metas(2),
		bindings:    readSet,
		subpass: rhi.SubpassDescription{
			InputAttachments: []rhi.AttachmentReference{inputRef(2)},
			ColorAttachments: []rhi.AttachmentReference{colorRef(0)},
		},
	})
	return x, y
}

func sameMeta(int) AttachmentMeta {
	return FullScreenMeta(rhi.ClearValue{}, rhi.ClearValue{}, rhi.ClearValue{})
}

func groupNames(g *RenderGraph) [][]string {
	var out [][]string
	for _, c := range g.CompiledPasses() {
		out = append(out, c.Info().Passes)
	}
	return out
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}

func lastOps(t *testing.T, dev *headless.Device) []string {
	t.Helper()
	sub, ok := dev.LastSubmission()
	if !ok {
		t.Fatal("no submission recorded")
	}
	return headless.Ops(sub.Commands)
}
