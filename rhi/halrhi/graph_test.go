package halrhi_test

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rendergraph"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi/halrhi"
)

const fullscreenWGSL = `
@vertex fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
	let uv = vec2<f32>(f32((i << 1u) & 2u), f32(i & 2u));
	return vec4<f32>(uv * 2.0 - 1.0, 0.0, 1.0);
}
@fragment fn fs_main() -> @location(0) vec4<f32> { return vec4<f32>(1.0); }
`

func TestRenderGraphOnNoop(t *testing.T) {
	dev, err := halrhi.OpenNoop(rhi.Config{Width: 64, Height: 32, ImageCount: 2})
	if err != nil {
		t.Fatalf("OpenNoop: %v", err)
	}
	defer dev.Destroy()

	g := rendergraph.New(dev, rendergraph.WithLabel("noop"))
	b := g.Builder()
	present := b.Present().ID()
	scene := b.CreateTextureResourceNode("scene",
		rendergraph.Description{Set: 0, Binding: 0, Type: rhi.DescriptorTypeInputAttachment, Stages: gputypes.ShaderStageFragment},
		rhi.ImageDescriptor{Usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding},
		rhi.DefaultSamplerDescriptor("scene"))

	color := rhi.AttachmentDescription{
		Format:      gputypes.TextureFormatBGRA8Unorm,
		Samples:     1,
		LoadOp:      gputypes.LoadOpClear,
		StoreOp:     gputypes.StoreOpStore,
		FinalLayout: rhi.ImageLayoutColorAttachment,
	}
	atts := []rendergraph.Attachment{{Resource: present, Description: color}, {Resource: scene.ID(), Description: color}}
	shader := rendergraph.PipelineState{
		Shader:   rhi.ShaderSource{Label: "fullscreen", WGSL: fullscreenWGSL, VertexEntry: "vs_main", FragmentEntry: "fs_main"},
		Topology: gputypes.PrimitiveTopologyTriangleList,
	}
	draw := func(_ *rendergraph.Registry, cmd rhi.CommandBuffer) { cmd.Draw(3, 1, 0, 0) }

	_, err = b.AddPassNode("geometry", func(b *rendergraph.Builder, _ *rendergraph.Registry) rendergraph.ExecuteFunc {
		p := b.CurrentPass()
		b.Write(scene.ID(), rhi.AccessColorAttachmentWrite)
		p.SetAttachments(atts)
		p.SetAttachmentMeta(rendergraph.FullScreenMeta())
		p.SetSubpassDescription(rhi.SubpassDescription{
			ColorAttachments: []rhi.AttachmentReference{{Attachment: 1, Layout: rhi.ImageLayoutColorAttachment}},
		})
		p.SetPipelineState(shader)
		return draw
	})
	if err != nil {
		t.Fatalf("AddPassNode(geometry): %v", err)
	}
	_, err = b.AddPassNode("composite", func(b *rendergraph.Builder, _ *rendergraph.Registry) rendergraph.ExecuteFunc {
		p := b.CurrentPass()
		b.Read(scene.ID(), rhi.AccessInputAttachmentRead)
		b.Write(present, rhi.AccessColorAttachmentWrite)
		p.SetAttachments(atts)
		p.SetAttachmentMeta(rendergraph.FullScreenMeta())
		p.SetBindingInfo(rendergraph.BindingInfo{0: {{
			Binding: 0, Type: rhi.DescriptorTypeInputAttachment, Count: 1, Stages: gputypes.ShaderStageFragment,
		}}})
		p.SetSubpassDescription(rhi.SubpassDescription{
			InputAttachments: []rhi.AttachmentReference{{Attachment: 1, Layout: rhi.ImageLayoutShaderReadOnly}},
			ColorAttachments: []rhi.AttachmentReference{{Attachment: 0, Layout: rhi.ImageLayoutColorAttachment}},
		})
		p.SetPipelineState(shader)
		return draw
	})
	if err != nil {
		t.Fatalf("AddPassNode(composite): %v", err)
	}

	if err := g.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := len(g.CompiledPasses()); got != 1 {
		t.Fatalf("compiled %d render passes, want the two passes merged into 1", got)
	}
	for i := 0; i < 5; i++ {
		if err := g.Execute(); err != nil {
			t.Fatalf("Execute frame %d: %v", i, err)
		}
	}

	dev.OffscreenSwapchain().Resize(32, 16)
	for i := 0; i < 2; i++ {
		if err := g.Execute(); err != nil {
			t.Fatalf("Execute after resize: %v", err)
		}
	}
	st := g.Stats()
	if st.FramesExecuted != 6 || st.FramesSkipped != 1 || st.Recreations != 1 {
		t.Errorf("Stats() = %+v, want 6 executed, 1 skipped, 1 recreation", st)
	}
	if got := dev.OffscreenSwapchain().Presents(); got != 6 {
		t.Errorf("Presents() = %d, want 6", got)
	}

	g.Destroy()
	dev.Destroy()
	if got := dev.LiveObjects(); got != 0 {
		t.Errorf("LiveObjects() after Destroy = %d, want 0", got)
	}
}
