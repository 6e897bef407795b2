package rendergraph

import (
	"fmt"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// Execute records, submits and presents one frame.
//
// An out-of-date swapchain at acquire recreates the swapchain and skips the
// frame; Execute returns nil and the frame slot is not advanced. An
// out-of-date or suboptimal result at present recreates the swapchain after
// the frame. Any other failure is returned.
func (g *RenderGraph) Execute() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.destroyed {
		return ErrDestroyed
	}
	if !g.compiled {
		return ErrNotCompiled
	}

	f := g.frames[g.slot]
	image, ok, err := g.prepareCommand(f)
	if err != nil {
		return err
	}
	if !ok {
		g.stats.FramesSkipped++
		return nil
	}
	g.executeCompiledPasses(f.cmd, image)
	return g.finishCommand(f, image)
}

// prepareCommand waits for the slot, acquires an image and begins the
// slot's command buffer. ok is false when the frame must be skipped.
func (g *RenderGraph) prepareCommand(f *frameSync) (image uint32, ok bool, err error) {
	if err := g.device.WaitFence(f.fence, g.opts.fenceTimeout); err != nil {
		return 0, false, fmt.Errorf("rendergraph: wait frame slot %d: %w", g.slot, err)
	}
	sc := g.device.Swapchain()
	image, status, err := sc.AcquireNextImage(f.imageAvailable)
	if err != nil {
		return 0, false, fmt.Errorf("rendergraph: acquire image: %w", err)
	}
	if status == rhi.StatusOutOfDate {
		g.logger().Debug("rendergraph: swapchain out of date at acquire, frame skipped", "slot", g.slot)
		if err := g.recreateSwapchain(); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}
	if err := g.device.ResetFence(f.fence); err != nil {
		return 0, false, fmt.Errorf("rendergraph: reset fence of slot %d: %w", g.slot, err)
	}
	if err := f.cmd.Reset(); err != nil {
		return 0, false, fmt.Errorf("rendergraph: reset command buffer: %w", err)
	}
	if err := f.cmd.Begin(); err != nil {
		return 0, false, fmt.Errorf("rendergraph: begin command buffer: %w", err)
	}
	return image, true, nil
}

// executeCompiledPasses records every compiled render pass in order, one
// subpass per merged pass.
func (g *RenderGraph) executeCompiledPasses(cmd rhi.CommandBuffer, image uint32) {
	sc := g.device.Swapchain()
	for _, grp := range g.groups {
		w, h := grp.extent(sc)
		cmd.BeginRenderPass(&rhi.RenderPassBeginInfo{
			RenderPass:  grp.renderPass,
			Framebuffer: grp.framebuffer(image),
			Width:       w,
			Height:      h,
			ClearValues: grp.meta.ClearValues,
		})
		for k, p := range grp.passes {
			if k > 0 {
				cmd.NextSubpass()
			}
			if pipe := grp.pipelines[k]; pipe != nil {
				cmd.BindPipeline(pipe)
			}
			for _, bs := range grp.passSets[k] {
				cmd.BindDescriptorSets(grp.layout, bs.index, []rhi.DescriptorSet{bs.set})
			}
			g.registry.enter(grp, k, p)
			p.executor.execute(g.registry, cmd)
			g.registry.leave()
		}
		cmd.EndRenderPass()
	}
}

// finishCommand ends and submits the command buffer, presents the image and
// advances the frame slot.
func (g *RenderGraph) finishCommand(f *frameSync, image uint32) error {
	if err := f.cmd.End(); err != nil {
		return fmt.Errorf("rendergraph: end command buffer: %w", err)
	}
	err := g.device.Submit(&rhi.SubmitInfo{
		CommandBuffer:   f.cmd,
		WaitSemaphore:   f.imageAvailable,
		SignalSemaphore: f.renderFinished,
		Fence:           f.fence,
	})
	if err != nil {
		return fmt.Errorf("rendergraph: submit: %w", err)
	}
	status, err := g.device.Swapchain().Present(image, f.renderFinished)
	if err != nil {
		return fmt.Errorf("rendergraph: present image %d: %w", image, err)
	}
	g.slot = (g.slot + 1) % len(g.frames)
	g.stats.FramesExecuted++
	if status == rhi.StatusOutOfDate || status == rhi.StatusSuboptimal {
		g.logger().Debug("rendergraph: swapchain needs recreation after present", "status", status)
		return g.recreateSwapchain()
	}
	return nil
}

// recreateSwapchain rebuilds the swapchain. Full-screen textures follow the
// new extent; the framebuffers of every compiled pass are rebuilt and the
// descriptor writes of replaced images are reissued.
func (g *RenderGraph) recreateSwapchain() error {
	if err := g.device.WaitIdle(); err != nil {
		return fmt.Errorf("rendergraph: recreate swapchain: %w", err)
	}
	sc := g.device.Swapchain()
	if err := sc.Recreate(); err != nil {
		return fmt.Errorf("rendergraph: recreate swapchain: %w", err)
	}
	w, h := sc.Extent()

	resized, err := g.resizeTextures(w, h)
	if err != nil {
		return fmt.Errorf("rendergraph: recreate swapchain: %w", err)
	}
	var writes []rhi.DescriptorWrite
	for _, grp := range g.groups {
		grp.destroyFramebuffers()
		if err := g.compileFramebuffers(grp.label, grp); err != nil {
			return fmt.Errorf("rendergraph: recreate framebuffers %s: %w", grp.label, err)
		}
		for i, iw := range grp.imageWrites {
			tex, ok := resized[iw.id]
			if !ok {
				continue
			}
			iw.write.Image = tex.Image
			grp.imageWrites[i] = iw
			writes = append(writes, iw.write)
		}
	}
	if len(writes) > 0 {
		if err := g.device.UpdateDescriptorSets(writes); err != nil {
			return fmt.Errorf("rendergraph: recreate descriptor writes: %w", err)
		}
	}
	g.stats.Recreations++
	g.logger().Info("rendergraph: swapchain recreated", "width", w, "height", h, "resizedTextures", len(resized))
	return nil
}

// resizeTextures recreates the image of every live full-screen texture,
// retained ones included, whose extent is not width x height.
func (g *RenderGraph) resizeTextures(width, height uint32) (map[ResourceID]*Texture, error) {
	resized := make(map[ResourceID]*Texture)
	resize := func(id ResourceID, tex *Texture) error {
		ok, err := tex.resize(g.device, width, height)
		if err != nil {
			return fmt.Errorf("resize %s: %w", g.resources[id], err)
		}
		if ok {
			resized[id] = tex
		}
		return nil
	}
	for _, n := range g.resources {
		if tex, ok := n.virtual.physical().(*Texture); ok {
			if err := resize(n.id, tex); err != nil {
				return resized, err
			}
		}
	}
	for id, r := range g.retained {
		if err := resize(id, r.Get()); err != nil {
			return resized, err
		}
	}
	return resized, nil
}
