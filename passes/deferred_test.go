package passes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JIA-ss/JoshuaVulkanEngine/passes"
	"github.com/JIA-ss/JoshuaVulkanEngine/rendergraph"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi/headless"
)

func newGraph(t *testing.T) (*rendergraph.RenderGraph, *headless.Device) {
	t.Helper()
	dev := headless.New(rhi.Config{Width: 64, Height: 32, ImageCount: 2})
	g := rendergraph.New(dev, rendergraph.WithLabel("deferred"))
	t.Cleanup(func() {
		g.Destroy()
		dev.Destroy()
	})
	return g, dev
}

func TestDeferredMergesIntoOneRenderPass(t *testing.T) {
	g, dev := newGraph(t)
	d, err := passes.NewDeferred(g, passes.DemoScene())
	require.NoError(t, err)
	require.NoError(t, d.Add(g.Builder()))
	require.NoError(t, g.Compile())

	compiled := g.CompiledPasses()
	require.Len(t, compiled, 1)
	info := compiled[0].Info()
	assert.Equal(t, []string{passes.ZPrePassName, passes.GBufferName, passes.LightingName}, info.Passes)
	assert.Equal(t, []uint32{0, 1}, info.Sets)
	assert.True(t, info.Present)
	assert.Equal(t, 1, info.Framebuffers, "one attachment identity, served by the swapchain")

	st := g.Stats()
	assert.Zero(t, st.CulledPasses)
	assert.Zero(t, st.CulledResources)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Execute(), "frame %d", i)
	}
	sub, ok := dev.LastSubmission()
	require.True(t, ok)
	assert.Equal(t, []string{
		"beginRenderPass",
		"bindPipeline", "bindDescriptorSets", "bindVertexBuffer", "bindIndexBuffer", "drawIndexed",
		"nextSubpass",
		"bindPipeline", "bindDescriptorSets", "bindDescriptorSets", "bindVertexBuffer", "bindIndexBuffer", "drawIndexed",
		"nextSubpass",
		"bindPipeline", "bindDescriptorSets", "draw",
		"endRenderPass",
	}, headless.Ops(sub.Commands))
	assert.Equal(t, 3, dev.HeadlessSwapchain().Presents())
}

func TestDeferredWithoutLighting(t *testing.T) {
	g, dev := newGraph(t)
	d, err := passes.NewDeferred(g, passes.DemoScene())
	require.NoError(t, err)
	require.NoError(t, passes.AddAll(g.Builder(), d.ZPrePass, d.GBuffer))
	require.NoError(t, g.Compile())

	// Culling does not cascade: both passes keep their write edges. The
	// unread g-buffer targets are culled but stay attached.
	compiled := g.CompiledPasses()
	require.Len(t, compiled, 1)
	assert.Equal(t, []string{passes.ZPrePassName, passes.GBufferName}, compiled[0].Info().Passes)
	for _, p := range g.Passes() {
		assert.False(t, p.Culled(), "pass %s", p.Name())
	}

	st := g.Stats()
	assert.Zero(t, st.CulledPasses)
	assert.Equal(t, 3, st.CulledResources, "Light, GBufferAlbedo and GBufferNormal")
	reg := g.Registry()
	for _, name := range []string{"Light", "GBufferAlbedo", "GBufferNormal"} {
		assert.True(t, reg.GetResourceNode(reg.GetResourceHandle(name)).Released(), "%s released", name)
	}

	require.NoError(t, g.Execute())
	assert.Equal(t, 1, dev.HeadlessSwapchain().Presents())
}

func TestDeferredRecreatesOnResize(t *testing.T) {
	g, dev := newGraph(t)
	d, err := passes.NewDeferred(g, passes.DemoScene())
	require.NoError(t, err)
	require.NoError(t, d.Add(g.Builder()))
	require.NoError(t, g.Compile())

	require.NoError(t, g.Execute())
	dev.HeadlessSwapchain().Resize(128, 64)
	require.NoError(t, g.Execute())
	require.NoError(t, g.Execute())

	st := g.Stats()
	assert.Equal(t, 1, st.Recreations)
	assert.Equal(t, 2, st.FramesExecuted)
	assert.Equal(t, 1, st.FramesSkipped)

	for _, h := range []rendergraph.Handle[*rendergraph.Texture]{d.Albedo, d.Normal, d.Depth} {
		tex, ok := rendergraph.GetResource(g.Registry(), h)
		require.True(t, ok)
		assert.Equal(t, uint32(128), tex.Image.Width(), tex.Image.Label())
		assert.Equal(t, uint32(64), tex.Image.Height(), tex.Image.Label())
	}
}

func TestAddDuplicatePass(t *testing.T) {
	g, _ := newGraph(t)
	d, err := passes.NewDeferred(g, passes.DemoScene())
	require.NoError(t, err)

	_, err = passes.Add(g.Builder(), d.Lighting)
	require.NoError(t, err)
	_, err = passes.Add(g.Builder(), d.Lighting)
	require.ErrorIs(t, err, rendergraph.ErrDuplicatePass)
	assert.Contains(t, err.Error(), passes.LightingName)
}

func TestNewDeferredRejectsInvalidScene(t *testing.T) {
	g, dev := newGraph(t)
	s := passes.DemoScene()
	s.Meshes = append(s.Meshes, passes.Mesh{Name: "empty"})

	_, err := passes.NewDeferred(g, s)
	require.ErrorIs(t, err, passes.ErrEmptyMesh)
	assert.Zero(t, dev.LiveObjects(), "no GPU objects are created for an invalid scene")
}

func TestNewDeferredSurfacesDeviceErrors(t *testing.T) {
	g, dev := newGraph(t)
	dev.FailNext(headless.OpCreate, nil)

	_, err := passes.NewDeferred(g, passes.DemoScene())
	require.ErrorIs(t, err, headless.ErrInjected)
}
