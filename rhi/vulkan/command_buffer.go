//go:build !nogpu

package vulkan

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

type cmdState int

const (
	stateInitial cmdState = iota
	stateRecording
	stateExecutable
	stateInvalid
)

// CommandBuffer is a primary Vulkan command buffer. Misuse that Vulkan
// leaves undefined is caught here and reported by End.
type CommandBuffer struct {
	object

	raw   vk.CommandBuffer
	state cmdState
	err   error

	rp       *renderPass
	subpass  uint32
	pipeline *pipeline
}

var _ rhi.CommandBuffer = (*CommandBuffer)(nil)

func (c *CommandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	c.state = stateInvalid
}

func (c *CommandBuffer) checkRecording(op string) bool {
	switch c.state {
	case stateRecording:
		return true
	case stateInvalid:
		return false
	default:
		c.fail(fmt.Errorf("vulkan: %s on %q: %w", op, c.label, rhi.ErrNotRecording))
		return false
	}
}

func (c *CommandBuffer) checkInPass(op string) bool {
	if !c.checkRecording(op) {
		return false
	}
	if c.rp == nil {
		c.fail(fmt.Errorf("vulkan: %s on %q: %w", op, c.label, rhi.ErrNoRenderPass))
		return false
	}
	return true
}

// Begin implements rhi.CommandBuffer.
func (c *CommandBuffer) Begin() error {
	if c.destroyed {
		return fmt.Errorf("vulkan: begin %q: %w", c.label, rhi.ErrDestroyed)
	}
	if c.state == stateRecording {
		return fmt.Errorf("vulkan: begin %q: %w", c.label, rhi.ErrAlreadyRecording)
	}
	err := check("begin command buffer "+c.label, vk.BeginCommandBuffer(c.raw, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}))
	if err != nil {
		return err
	}
	c.state = stateRecording
	c.err = nil
	return nil
}

// End implements rhi.CommandBuffer.
func (c *CommandBuffer) End() error {
	switch c.state {
	case stateInvalid:
		vk.EndCommandBuffer(c.raw)
		return c.err
	case stateRecording:
	default:
		return fmt.Errorf("vulkan: end %q: %w", c.label, rhi.ErrNotRecording)
	}
	if c.rp != nil {
		c.fail(fmt.Errorf("vulkan: end %q: %w", c.label, rhi.ErrRenderPassActive))
		vk.CmdEndRenderPass(c.raw)
		vk.EndCommandBuffer(c.raw)
		return c.err
	}
	if err := check("end command buffer "+c.label, vk.EndCommandBuffer(c.raw)); err != nil {
		c.fail(err)
		return err
	}
	c.state = stateExecutable
	return nil
}

// Reset implements rhi.CommandBuffer.
func (c *CommandBuffer) Reset() error {
	if c.destroyed {
		return fmt.Errorf("vulkan: reset %q: %w", c.label, rhi.ErrDestroyed)
	}
	if err := check("reset command buffer "+c.label, vk.ResetCommandBuffer(c.raw, 0)); err != nil {
		return err
	}
	c.state = stateInitial
	c.err = nil
	c.rp = nil
	c.pipeline = nil
	return nil
}

// Destroy implements rhi.Object.
func (c *CommandBuffer) Destroy() {
	if !c.release() {
		return
	}
	c.dev.mu.Lock()
	vk.FreeCommandBuffers(c.dev.raw, c.dev.pool, 1, []vk.CommandBuffer{c.raw})
	c.dev.mu.Unlock()
}

// BeginRenderPass implements rhi.CommandBuffer. It also sets the viewport
// and scissor to the render area.
func (c *CommandBuffer) BeginRenderPass(info *rhi.RenderPassBeginInfo) {
	if !c.checkRecording("begin render pass") {
		return
	}
	if c.rp != nil {
		c.fail(fmt.Errorf("vulkan: begin render pass on %q: %w", c.label, rhi.ErrRenderPassActive))
		return
	}
	rp, ok := info.RenderPass.(*renderPass)
	if !ok || rp.dev != c.dev {
		c.fail(fmt.Errorf("vulkan: begin render pass on %q: %w", c.label, rhi.ErrForeignObject))
		return
	}
	fb, ok := info.Framebuffer.(*framebuffer)
	if !ok || fb.dev != c.dev {
		c.fail(fmt.Errorf("vulkan: begin render pass on %q: framebuffer: %w", c.label, rhi.ErrForeignObject))
		return
	}
	if !compatible(fb.rp, rp) {
		c.fail(fmt.Errorf("vulkan: begin render pass %q on %q: %w: framebuffer %q was made for %q",
			rp.label, c.label, rhi.ErrInvalidDescriptor, fb.label, fb.rp.label))
		return
	}
	clears := make([]vk.ClearValue, len(rp.desc.Attachments))
	for i, a := range rp.desc.Attachments {
		var cv rhi.ClearValue
		if i < len(info.ClearValues) {
			cv = info.ClearValues[i]
		}
		clears[i] = clearValue(a.Format, cv)
	}
	w, h := info.Width, info.Height
	if w == 0 || h == 0 {
		w, h = fb.width, fb.height
	}
	extent := vk.Extent2D{Width: w, Height: h}
	vk.CmdBeginRenderPass(c.raw, &vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.raw,
		Framebuffer:     fb.raw,
		RenderArea:      vk.Rect2D{Extent: extent},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)
	vk.CmdSetViewport(c.raw, 0, 1, []vk.Viewport{{Width: float32(w), Height: float32(h), MaxDepth: 1}})
	vk.CmdSetScissor(c.raw, 0, 1, []vk.Rect2D{{Extent: extent}})
	c.rp = rp
	c.subpass = 0
	c.pipeline = nil
}

// NextSubpass implements rhi.CommandBuffer.
func (c *CommandBuffer) NextSubpass() {
	if !c.checkInPass("next subpass") {
		return
	}
	if int(c.subpass)+1 >= len(c.rp.desc.Subpasses) {
		c.fail(fmt.Errorf("vulkan: next subpass in %q: %w", c.rp.label, rhi.ErrSubpassOverflow))
		return
	}
	vk.CmdNextSubpass(c.raw, vk.SubpassContentsInline)
	c.subpass++
	c.pipeline = nil
}

// EndRenderPass implements rhi.CommandBuffer.
func (c *CommandBuffer) EndRenderPass() {
	if !c.checkInPass("end render pass") {
		return
	}
	if int(c.subpass)+1 != len(c.rp.desc.Subpasses) {
		c.fail(fmt.Errorf("vulkan: end render pass %q at subpass %d of %d: %w",
			c.rp.label, c.subpass, len(c.rp.desc.Subpasses), rhi.ErrInvalidDescriptor))
		return
	}
	vk.CmdEndRenderPass(c.raw)
	c.rp = nil
	c.pipeline = nil
}

// BindPipeline implements rhi.CommandBuffer.
func (c *CommandBuffer) BindPipeline(p rhi.Pipeline) {
	if !c.checkInPass("bind pipeline") {
		return
	}
	pl, ok := p.(*pipeline)
	if !ok || pl.dev != c.dev {
		c.fail(fmt.Errorf("vulkan: bind pipeline on %q: %w", c.label, rhi.ErrForeignObject))
		return
	}
	if pl.subpass != c.subpass || !compatible(pl.rp, c.rp) {
		c.fail(fmt.Errorf("vulkan: bind %q in %q subpass %d: %w", pl.label, c.rp.label, c.subpass, ErrPipelineMismatch))
		return
	}
	vk.CmdBindPipeline(c.raw, vk.PipelineBindPointGraphics, pl.raw)
	c.pipeline = pl
}

// BindDescriptorSets implements rhi.CommandBuffer.
func (c *CommandBuffer) BindDescriptorSets(layout rhi.PipelineLayout, firstSet uint32, sets []rhi.DescriptorSet) {
	if !c.checkInPass("bind descriptor sets") {
		return
	}
	pl, ok := layout.(*pipelineLayout)
	if !ok || pl.dev != c.dev {
		c.fail(fmt.Errorf("vulkan: bind descriptor sets on %q: %w", c.label, rhi.ErrForeignObject))
		return
	}
	raws := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		ds, ok := s.(*descriptorSet)
		if !ok || ds.dev != c.dev {
			c.fail(fmt.Errorf("vulkan: bind descriptor set %d on %q: %w", i, c.label, rhi.ErrForeignObject))
			return
		}
		if ds.destroyed {
			c.fail(fmt.Errorf("vulkan: bind descriptor set %q: %w", ds.label, rhi.ErrDestroyed))
			return
		}
		raws[i] = ds.raw
	}
	vk.CmdBindDescriptorSets(c.raw, vk.PipelineBindPointGraphics, pl.raw, firstSet, uint32(len(raws)), raws, 0, nil)
}

// BindVertexBuffer implements rhi.CommandBuffer.
func (c *CommandBuffer) BindVertexBuffer(slot uint32, buf rhi.Buffer, offset uint64) {
	if !c.checkInPass("bind vertex buffer") {
		return
	}
	b, ok := buf.(*buffer)
	if !ok || b.dev != c.dev {
		c.fail(fmt.Errorf("vulkan: bind vertex buffer on %q: %w", c.label, rhi.ErrForeignObject))
		return
	}
	vk.CmdBindVertexBuffers(c.raw, slot, 1, []vk.Buffer{b.raw}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

// BindIndexBuffer implements rhi.CommandBuffer.
func (c *CommandBuffer) BindIndexBuffer(buf rhi.Buffer, offset uint64, t rhi.IndexType) {
	if !c.checkInPass("bind index buffer") {
		return
	}
	b, ok := buf.(*buffer)
	if !ok || b.dev != c.dev {
		c.fail(fmt.Errorf("vulkan: bind index buffer on %q: %w", c.label, rhi.ErrForeignObject))
		return
	}
	vk.CmdBindIndexBuffer(c.raw, b.raw, vk.DeviceSize(offset), indexType(t))
}

// Draw implements rhi.CommandBuffer.
func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !c.checkInPass("draw") {
		return
	}
	if c.pipeline == nil {
		c.fail(fmt.Errorf("vulkan: draw on %q: %w", c.label, rhi.ErrNoPipeline))
		return
	}
	vk.CmdDraw(c.raw, vertexCount, instanceCount, firstVertex, firstInstance)
}

// DrawIndexed implements rhi.CommandBuffer.
func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !c.checkInPass("draw indexed") {
		return
	}
	if c.pipeline == nil {
		c.fail(fmt.Errorf("vulkan: draw indexed on %q: %w", c.label, rhi.ErrNoPipeline))
		return
	}
	vk.CmdDrawIndexed(c.raw, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}
