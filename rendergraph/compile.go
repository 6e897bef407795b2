package rendergraph

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// compilePhase names a step of Compile, for logs and errors.
type compilePhase int

const (
	phaseCull compilePhase = iota
	phaseMerge
	phaseDescriptors
	phasePipelines
	phaseFramebuffers
	phaseSync
	phaseDone
)

// String returns the string representation of compilePhase.
func (p compilePhase) String() string {
	switch p {
	case phaseCull:
		return "cull"
	case phaseMerge:
		return "merge"
	case phaseDescriptors:
		return "descriptors"
	case phasePipelines:
		return "pipelines"
	case phaseFramebuffers:
		return "framebuffers"
	case phaseSync:
		return "sync"
	case phaseDone:
		return "done"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// Compile culls dead nodes, merges passes into render passes and creates
// every GPU object needed to execute frames. It runs once; later calls
// return ErrGraphCompiled.
//
// If a GPU object cannot be created, the objects created so far by Compile
// are destroyed and the error is returned. Culling is not undone.
func (g *RenderGraph) Compile() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.destroyed {
		return ErrDestroyed
	}
	if g.compiled {
		return ErrGraphCompiled
	}
	if err := g.builder.Err(); err != nil {
		return fmt.Errorf("rendergraph: compile: %w", err)
	}

	g.cullNodes()
	g.groups = g.mergePasses()
	g.logger().Debug("rendergraph: passes merged", "groups", len(g.groups))

	for i, grp := range g.groups {
		if err := g.compileGroup(i, grp); err != nil {
			g.destroyGroups()
			return err
		}
	}
	if err := g.createSyncObjects(); err != nil {
		g.destroySync()
		g.destroyGroups()
		return fmt.Errorf("rendergraph: compile %s: %w", phaseSync, err)
	}

	g.compiled = true
	g.slot = 0
	g.stats.Groups = len(g.groups)
	g.stats.Subpasses = 0
	for _, grp := range g.groups {
		g.stats.Subpasses += len(grp.passes)
	}
	g.logger().Info("rendergraph: compiled",
		"label", g.opts.label,
		"passes", len(g.passes),
		"culledPasses", g.stats.CulledPasses,
		"culledResources", g.stats.CulledResources,
		"renderPasses", g.stats.Groups,
		"subpasses", g.stats.Subpasses)
	return nil
}

func (g *RenderGraph) compileGroup(i int, grp *CompiledRenderPass) error {
	label := fmt.Sprintf("%s/rp%d", g.opts.label, i)
	grp.label = label
	if err := g.compileDescriptorSets(label, grp); err != nil {
		return fmt.Errorf("rendergraph: compile %s %s: %w", phaseDescriptors, label, err)
	}
	if err := g.createLayout(label, grp); err != nil {
		return fmt.Errorf("rendergraph: compile %s %s: %w", phasePipelines, label, err)
	}
	if err := g.createRenderPass(label, grp); err != nil {
		return fmt.Errorf("rendergraph: compile %s %s: %w", phasePipelines, label, err)
	}
	if err := g.createPipelines(label, grp); err != nil {
		return fmt.Errorf("rendergraph: compile %s %s: %w", phasePipelines, label, err)
	}
	if err := g.compileFramebuffers(label, grp); err != nil {
		return fmt.Errorf("rendergraph: compile %s %s: %w", phaseFramebuffers, label, err)
	}
	g.logger().Debug("rendergraph: render pass compiled", "label", label,
		"head", grp.head, "tail", grp.tail, "subpasses", len(grp.passes),
		"framebuffers", grp.FramebufferCount(), "present", grp.HasPresent())
	return nil
}

// cullNodes removes isolate nodes. Culled passes are flagged and never
// scheduled. Culled resources release their virtual resource; a culled
// texture that a surviving pass still attaches keeps its image alive in
// g.retained until Destroy.
func (g *RenderGraph) cullNodes() {
	culled := g.dag.CullIsolateNodes()
	for _, n := range culled {
		if p, ok := n.(*PassNode); ok {
			p.culled = true
			g.stats.CulledPasses++
			g.logger().Debug("rendergraph: pass culled", "name", p.name)
		}
	}

	attached := make(map[ResourceID]bool)
	for _, p := range g.passes {
		if p.culled {
			continue
		}
		for _, a := range p.attachments {
			attached[a.Resource] = true
		}
	}
	for _, n := range culled {
		r, ok := n.(*ResourceNode)
		if !ok {
			continue
		}
		if v, ok := r.virtual.(*VirtualResource[*Texture]); ok && attached[r.id] && v.resource != nil {
			if g.retained == nil {
				g.retained = make(map[ResourceID]*Resource[*Texture])
			}
			g.retained[r.id] = v.resource.Retain()
			g.logger().Debug("rendergraph: culled resource kept as attachment", "name", r.name)
		}
		r.virtual.release()
		g.stats.CulledResources++
		g.logger().Debug("rendergraph: resource culled", "name", r.name)
	}
}

// mergePasses groups consecutive compatible passes, starting at the first
// non-culled one. Culled passes inside a range do not break it.
func (g *RenderGraph) mergePasses() []*CompiledRenderPass {
	head := slices.IndexFunc(g.passes, func(p *PassNode) bool { return !p.culled })
	if head < 0 {
		return nil
	}
	var groups []*CompiledRenderPass
	cur := newGroup(g.passes[head])
	for i := head + 1; i < len(g.passes); i++ {
		p := g.passes[i]
		if p.culled {
			continue
		}
		if merged, ok := tryMerge(cur, p); ok {
			cur.bindings = merged
			cur.passes = append(cur.passes, p)
			cur.tail = i
			continue
		}
		cur.tail = i - 1
		groups = append(groups, cur)
		cur = newGroup(p)
	}
	cur.tail = len(g.passes) - 1
	return append(groups, cur)
}

func newGroup(head *PassNode) *CompiledRenderPass {
	return &CompiledRenderPass{
		head:     head.index,
		tail:     head.index,
		passes:   []*PassNode{head},
		bindings: head.bindings.Clone(),
		meta:     head.meta,
	}
}

// tryMerge reports whether p can join cur as its next subpass, and the
// merged binding layout if so.
func tryMerge(cur *CompiledRenderPass, p *PassNode) (BindingInfo, bool) {
	merged, ok := cur.bindings.Merge(p.bindings)
	if !ok {
		return nil, false
	}
	if !cur.meta.Equal(p.meta) {
		return nil, false
	}
	if !slices.Equal(cur.passes[0].attachmentDescriptions(), p.attachmentDescriptions()) {
		return nil, false
	}
	return merged, true
}

// compileDescriptorSets creates the set layouts and the pool of grp,
// allocates one set per declared set index for each pass and each mesh,
// and writes them in a single batched update.
func (g *RenderGraph) compileDescriptorSets(label string, grp *CompiledRenderPass) error {
	setCount := grp.bindings.SetCount()
	grp.setLayouts = make([]rhi.DescriptorSetLayout, setCount)
	for s := uint32(0); s < setCount; s++ {
		l, err := g.device.CreateDescriptorSetLayout(&rhi.DescriptorSetLayoutDescriptor{
			Label:    fmt.Sprintf("%s/set%d", label, s),
			Bindings: grp.bindings[s],
		})
		if err != nil {
			return err
		}
		grp.setLayouts[s] = l
	}

	grp.passSets = make([][]boundSet, len(grp.passes))
	grp.meshSets = make([][][]boundSet, len(grp.passes))
	for k, p := range grp.passes {
		grp.meshSets[k] = make([][]boundSet, len(p.meshes))
	}
	if len(grp.bindings) == 0 {
		return nil
	}

	units := uint32(len(grp.passes))
	for _, p := range grp.passes {
		units += uint32(len(p.meshes))
	}
	pool, err := g.device.CreateDescriptorPool(&rhi.DescriptorPoolDescriptor{
		Label:   label + "/pool",
		MaxSets: units * uint32(len(grp.bindings)),
		Sizes:   grp.bindings.PoolSizes(units),
	})
	if err != nil {
		return err
	}
	grp.pool = pool

	var writes []rhi.DescriptorWrite
	for k, p := range grp.passes {
		meshOwned := make(map[ResourceID]bool)
		for _, m := range p.meshes {
			for _, id := range m.Resources {
				meshOwned[id] = true
			}
		}
		var passRes []ResourceID
		for _, a := range p.reads {
			if !meshOwned[a.id] {
				passRes = append(passRes, a.id)
			}
		}
		sets, w, err := g.allocateSets(grp, passRes)
		if err != nil {
			return fmt.Errorf("pass %q: %w", p.name, err)
		}
		grp.passSets[k] = sets
		writes = append(writes, w...)

		for i, m := range p.meshes {
			sets, w, err := g.allocateSets(grp, m.Resources)
			if err != nil {
				return fmt.Errorf("pass %q mesh %d: %w", p.name, i, err)
			}
			grp.meshSets[k][i] = sets
			writes = append(writes, w...)
		}
	}
	if len(writes) == 0 {
		return nil
	}
	return g.device.UpdateDescriptorSets(writes)
}

// allocateSets allocates one descriptor set per set index used by the bound
// resources in ids and returns the writes that fill them. Unbound resources
// are skipped.
func (g *RenderGraph) allocateSets(grp *CompiledRenderPass, ids []ResourceID) ([]boundSet, []rhi.DescriptorWrite, error) {
	bySet := make(map[uint32][]*ResourceNode)
	var order []uint32
	seen := make(map[ResourceID]bool)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		n := g.resources[id]
		d := n.virtual.description()
		if !d.Bound() {
			continue
		}
		decl, ok := grp.bindings.Lookup(d.Set, d.Binding)
		if !ok || decl.Type != d.Type {
			return nil, nil, fmt.Errorf("%w: %q at set %d binding %d (%s)",
				ErrUndeclaredBinding, n.name, d.Set, d.Binding, d.Type)
		}
		if _, ok := bySet[d.Set]; !ok {
			order = append(order, d.Set)
		}
		bySet[d.Set] = append(bySet[d.Set], n)
	}
	slices.Sort(order)

	sets := make([]boundSet, 0, len(order))
	var writes []rhi.DescriptorWrite
	for _, s := range order {
		set, err := g.device.AllocateDescriptorSet(grp.pool, grp.setLayouts[s])
		if err != nil {
			return nil, nil, err
		}
		sets = append(sets, boundSet{index: s, set: set})
		for _, n := range bySet[s] {
			w, err := descriptorWrite(set, n)
			if err != nil {
				return nil, nil, err
			}
			writes = append(writes, w)
			if w.Image != nil {
				grp.imageWrites = append(grp.imageWrites, imageWrite{id: n.id, write: w})
			}
		}
	}
	return sets, writes, nil
}

func descriptorWrite(set rhi.DescriptorSet, n *ResourceNode) (rhi.DescriptorWrite, error) {
	d := n.virtual.description()
	w := rhi.DescriptorWrite{Set: set, Binding: d.Binding, Type: d.Type}
	switch obj := n.virtual.physical().(type) {
	case *Buffer:
		size := obj.Buffer.Size()
		if d.Offset > size || d.Range > size-d.Offset {
			return w, fmt.Errorf("%w: %s offset %d range %d, size %d", ErrBufferRange, n, d.Offset, d.Range, size)
		}
		w.Buffer = obj.Buffer
		w.Offset = d.Offset
		w.Range = d.Range
		if w.Range == 0 {
			w.Range = size - d.Offset
		}
	case *Texture:
		w.Image = obj.Image
		if d.Type == rhi.DescriptorTypeCombinedImageSampler {
			w.Sampler = obj.Sampler
		}
	default:
		return w, fmt.Errorf("%w: %s", ErrNotBindable, n)
	}
	return w, nil
}

// createLayout creates the pipeline layout shared by the group's subpasses.
func (g *RenderGraph) createLayout(label string, grp *CompiledRenderPass) error {
	layout, err := g.device.CreatePipelineLayout(&rhi.PipelineLayoutDescriptor{
		Label:      label + "/layout",
		SetLayouts: grp.setLayouts,
	})
	if err != nil {
		return err
	}
	grp.layout = layout
	return nil
}

// Default subpass dependencies.
var (
	defaultEntry = rhi.SubpassDependency{
		SrcStage:  rhi.PipelineStageBottomOfPipe,
		DstStage:  rhi.PipelineStageColorAttachmentOutput,
		SrcAccess: rhi.AccessMemoryRead,
		DstAccess: rhi.AccessColorAttachmentRead | rhi.AccessColorAttachmentWrite,
	}
	defaultChain = rhi.SubpassDependency{
		SrcStage:  rhi.PipelineStageColorAttachmentOutput | rhi.PipelineStageLateFragmentTests,
		DstStage:  rhi.PipelineStageFragmentShader | rhi.PipelineStageEarlyFragmentTests,
		SrcAccess: rhi.AccessColorAttachmentWrite | rhi.AccessDepthStencilWrite,
		DstAccess: rhi.AccessInputAttachmentRead | rhi.AccessShaderRead | rhi.AccessDepthStencilRead,
	}
	defaultExit = rhi.SubpassDependency{
		SrcStage:  rhi.PipelineStageColorAttachmentOutput,
		DstStage:  rhi.PipelineStageBottomOfPipe,
		SrcAccess: rhi.AccessColorAttachmentRead | rhi.AccessColorAttachmentWrite,
		DstAccess: rhi.AccessMemoryRead,
	}
)

// subpassDependencies chains External -> 0 -> 1 -> ... -> External. Entry
// and exit overrides of a pass replace the dependency into or out of its
// subpass; when both target the same edge the entry wins.
func subpassDependencies(passes []*PassNode) []rhi.SubpassDependency {
	n := len(passes)
	deps := make([]rhi.SubpassDependency, n+1)
	for k := 0; k <= n; k++ {
		switch {
		case k == 0:
			deps[k] = defaultEntry
		case k == n:
			deps[k] = defaultExit
		default:
			deps[k] = defaultChain
		}
		if k > 0 && passes[k-1].exit != nil {
			deps[k] = *passes[k-1].exit
		}
		if k < n && passes[k].entry != nil {
			deps[k] = *passes[k].entry
		}
		deps[k].SrcSubpass = rhi.SubpassExternal
		if k > 0 {
			deps[k].SrcSubpass = uint32(k - 1)
		}
		deps[k].DstSubpass = rhi.SubpassExternal
		if k < n {
			deps[k].DstSubpass = uint32(k)
		}
	}
	return deps
}

// createRenderPass builds the native render pass: the head's attachments,
// one subpass per valid pass, and the dependency chain.
func (g *RenderGraph) createRenderPass(label string, grp *CompiledRenderPass) error {
	subpasses := make([]rhi.SubpassDescription, len(grp.passes))
	for k, p := range grp.passes {
		subpasses[k] = p.subpass
	}
	rp, err := g.device.CreateRenderPass(&rhi.RenderPassDescriptor{
		Label:        label,
		Attachments:  grp.passes[0].attachmentDescriptions(),
		Subpasses:    subpasses,
		Dependencies: subpassDependencies(grp.passes),
	})
	if err != nil {
		return err
	}
	grp.renderPass = rp
	return nil
}

// createPipelines builds one graphics pipeline per subpass. Passes without a
// shader get none.
func (g *RenderGraph) createPipelines(label string, grp *CompiledRenderPass) error {
	attachments := grp.passes[0].attachmentDescriptions()
	grp.pipelines = make([]rhi.Pipeline, len(grp.passes))
	for k, p := range grp.passes {
		st := p.pipeline
		if st.Shader.WGSL == "" {
			continue
		}
		desc := &rhi.PipelineDescriptor{
			Label:         label + "/" + p.name,
			Layout:        grp.layout,
			RenderPass:    grp.renderPass,
			Subpass:       uint32(k),
			Shader:        st.Shader,
			VertexBuffers: st.VertexBuffers,
			Topology:      st.Topology,
			CullMode:      st.CullMode,
			Depth:         st.Depth,
			Blend:         st.Blend,
			Samples:       1,
		}
		for _, ref := range p.subpass.ColorAttachments {
			desc.ColorFormats = append(desc.ColorFormats, attachments[ref.Attachment].Format)
		}
		if ref := p.subpass.DepthStencil; ref != nil {
			desc.DepthFormat = attachments[ref.Attachment].Format
		}
		if len(attachments) > 0 && attachments[0].Samples > 0 {
			desc.Samples = attachments[0].Samples
		}
		pipe, err := g.device.CreateGraphicsPipeline(desc)
		if err != nil {
			return fmt.Errorf("pass %q: %w", p.name, err)
		}
		grp.pipelines[k] = pipe
	}
	return nil
}

func keyOf(p *PassNode) framebufferKey {
	var sb strings.Builder
	for i, a := range p.attachments {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(a.Resource), 10))
	}
	return framebufferKey(sb.String())
}

// compileFramebuffers creates one framebuffer per distinct attachment
// identity of the group. The identity that contains the present image is
// served by the swapchain, one framebuffer per image; a group may have at
// most one such identity.
func (g *RenderGraph) compileFramebuffers(label string, grp *CompiledRenderPass) error {
	sc := g.device.Swapchain()
	grp.width, grp.height = grp.meta.Width, grp.meta.Height
	if grp.meta.FullScreen {
		grp.width, grp.height = sc.Extent()
	}

	var presentKey *framebufferKey
	seen := make(map[framebufferKey]bool)
	for _, p := range grp.passes {
		key := keyOf(p)
		if seen[key] {
			continue
		}
		seen[key] = true

		slot := -1
		var images []rhi.Image
		for i, a := range p.attachments {
			if a.Resource == g.presentID {
				if slot >= 0 {
					return fmt.Errorf("%w: pass %q attaches the present image twice", ErrMultiplePresentFramebuffers, p.name)
				}
				slot = i
				continue
			}
			img, err := g.attachmentImage(a.Resource)
			if err != nil {
				return fmt.Errorf("pass %q: %w", p.name, err)
			}
			images = append(images, img)
		}

		if slot >= 0 {
			if presentKey != nil {
				return fmt.Errorf("%w: pass %q", ErrMultiplePresentFramebuffers, p.name)
			}
			fbs, err := sc.Framebuffers(grp.renderPass, images, slot)
			if err != nil {
				return err
			}
			presentKey = &key
			grp.present = fbs
			grp.presentSlot = slot
			grp.presentImgs = images
			continue
		}

		fb, err := g.device.CreateFramebuffer(&rhi.FramebufferDescriptor{
			Label:       fmt.Sprintf("%s/fb%d", label, len(grp.framebuffers)),
			RenderPass:  grp.renderPass,
			Attachments: images,
			Width:       grp.width,
			Height:      grp.height,
			Layers:      grp.meta.layers(),
		})
		if err != nil {
			return err
		}
		grp.framebuffers = append(grp.framebuffers, fb)
		grp.fbKeys = append(grp.fbKeys, key)
	}
	return nil
}

func (g *RenderGraph) attachmentImage(id ResourceID) (rhi.Image, error) {
	if r, ok := g.retained[id]; ok {
		return r.Get().Image, nil
	}
	n := g.registry.GetResourceNode(id)
	tex, ok := n.virtual.physical().(*Texture)
	if !ok {
		if n.virtual.released() {
			return nil, fmt.Errorf("%w: %s was released", ErrNotAttachable, n)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotAttachable, n)
	}
	return tex.Image, nil
}

// createSyncObjects allocates one command buffer, one signaled fence and two
// semaphores per swapchain image.
func (g *RenderGraph) createSyncObjects() error {
	n := g.device.Swapchain().ImageCount()
	g.frames = make([]*frameSync, 0, n)
	for i := 0; i < n; i++ {
		f := &frameSync{}
		g.frames = append(g.frames, f)
		var err error
		label := fmt.Sprintf("%s/frame%d", g.opts.label, i)
		if f.cmd, err = g.device.AllocateCommandBuffer(label + "/cmd"); err != nil {
			return err
		}
		if f.fence, err = g.device.CreateFence(label+"/fence", true); err != nil {
			return err
		}
		if f.imageAvailable, err = g.device.CreateSemaphore(label + "/imageAvailable"); err != nil {
			return err
		}
		if f.renderFinished, err = g.device.CreateSemaphore(label + "/renderFinished"); err != nil {
			return err
		}
	}
	return nil
}
