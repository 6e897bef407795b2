package halrhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

type cmdState int

const (
	stateInitial cmdState = iota
	stateRecording
	stateExecutable
	stateInvalid
)

// CommandBuffer records into a hal command encoder.
//
// Every subpass opens its own hal render pass. An attachment is loaded with
// its LoadOp on its first use in the render pass and with LoadOpLoad after
// that; it is stored on every use but the last, which takes its StoreOp.
type CommandBuffer struct {
	object

	state      cmdState
	err        error
	encoder    hal.CommandEncoder
	encoding   bool
	raw        hal.CommandBuffer
	submission uint64

	pass     hal.RenderPassEncoder
	rp       *renderPass
	fb       *framebuffer
	clears   []rhi.ClearValue
	width    uint32
	height   uint32
	subpass  int
	started  []bool
	pipeline *pipeline
}

var _ rhi.CommandBuffer = (*CommandBuffer)(nil)

// Submission returns the queue index of the last submit of this buffer.
func (c *CommandBuffer) Submission() uint64 { return c.submission }

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
		c.fail(fmt.Errorf("halrhi: %s on %q: %w", op, c.label, rhi.ErrNotRecording))
		return false
	}
}

func (c *CommandBuffer) checkInPass(op string) bool {
	if !c.checkRecording(op) {
		return false
	}
	if c.rp == nil {
		c.fail(fmt.Errorf("halrhi: %s on %q: %w", op, c.label, rhi.ErrNoRenderPass))
		return false
	}
	return true
}

// Begin implements rhi.CommandBuffer.
func (c *CommandBuffer) Begin() error {
	if c.state == stateRecording {
		return fmt.Errorf("halrhi: begin %q: %w", c.label, rhi.ErrAlreadyRecording)
	}
	if c.state != stateInitial {
		return fmt.Errorf("halrhi: begin %q without reset", c.label)
	}
	if c.encoder == nil {
		enc, err := c.dev.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: c.label})
		if err != nil {
			return wrap("create command encoder "+c.label, err)
		}
		c.encoder = enc
	}
	if err := c.encoder.BeginEncoding(c.label); err != nil {
		return wrap("begin encoding "+c.label, err)
	}
	c.encoding = true
	c.state = stateRecording
	return nil
}

// End implements rhi.CommandBuffer.
func (c *CommandBuffer) End() error {
	if c.state == stateInvalid {
		c.discard()
		return c.err
	}
	if c.state != stateRecording {
		return fmt.Errorf("halrhi: end %q: %w", c.label, rhi.ErrNotRecording)
	}
	if c.rp != nil {
		c.fail(fmt.Errorf("halrhi: end %q: %w", c.label, rhi.ErrRenderPassActive))
		c.discard()
		return c.err
	}
	raw, err := c.encoder.EndEncoding()
	c.encoding = false
	if err != nil {
		c.fail(wrap("end encoding "+c.label, err))
		return c.err
	}
	c.raw = raw
	c.state = stateExecutable
	return nil
}

// discard drops a failed recording.
func (c *CommandBuffer) discard() {
	if c.pass != nil {
		c.pass.End()
		c.pass = nil
	}
	if c.encoding {
		c.encoder.DiscardEncoding()
		c.encoding = false
	}
	c.rp = nil
}

// Reset implements rhi.CommandBuffer.
func (c *CommandBuffer) Reset() error {
	c.discard()
	if c.raw != nil {
		c.dev.device.FreeCommandBuffer(c.raw)
		c.raw = nil
	}
	c.state = stateInitial
	c.err = nil
	c.rp = nil
	c.fb = nil
	c.pipeline = nil
	c.subpass = 0
	return nil
}

// Destroy implements rhi.Object.
func (c *CommandBuffer) Destroy() {
	if c.destroyed {
		return
	}
	_ = c.Reset()
	if c.encoder != nil {
		c.encoder.Destroy()
		c.encoder = nil
	}
	c.release()
}

// BeginRenderPass implements rhi.CommandBuffer.
func (c *CommandBuffer) BeginRenderPass(info *rhi.RenderPassBeginInfo) {
	if !c.checkRecording("beginRenderPass") {
		return
	}
	if c.rp != nil {
		c.fail(fmt.Errorf("halrhi: beginRenderPass on %q: %w", c.label, rhi.ErrRenderPassActive))
		return
	}
	rp, ok := info.RenderPass.(*renderPass)
	if !ok || rp.dev != c.dev {
		c.fail(fmt.Errorf("halrhi: beginRenderPass: %w", rhi.ErrForeignObject))
		return
	}
	fb, ok := info.Framebuffer.(*framebuffer)
	if !ok || fb.dev != c.dev {
		c.fail(fmt.Errorf("halrhi: beginRenderPass framebuffer: %w", rhi.ErrForeignObject))
		return
	}
	if fb.destroyed {
		c.fail(fmt.Errorf("halrhi: beginRenderPass framebuffer %q: %w", fb.label, rhi.ErrDestroyed))
		return
	}
	if fb.rp != rp && !compatible(fb.rp, rp) {
		c.fail(fmt.Errorf("halrhi: beginRenderPass %q with %q: %w", rp.label, fb.label, rhi.ErrInvalidDescriptor))
		return
	}
	c.rp = rp
	c.fb = fb
	c.clears = info.ClearValues
	c.width, c.height = info.Width, info.Height
	c.started = make([]bool, len(rp.desc.Attachments))
	c.beginSubpass(0)
}

func (c *CommandBuffer) clearValue(a uint32) rhi.ClearValue {
	if int(a) < len(c.clears) {
		return c.clears[a]
	}
	return rhi.ClearValue{}
}

func (c *CommandBuffer) loadOp(a uint32, op gputypes.LoadOp) gputypes.LoadOp {
	if c.started[a] {
		return gputypes.LoadOpLoad
	}
	if op == gputypes.LoadOpUndefined {
		return gputypes.LoadOpClear
	}
	return op
}

func (c *CommandBuffer) storeOp(a uint32, op gputypes.StoreOp) gputypes.StoreOp {
	if c.subpass < c.rp.lastUse[a] || op == gputypes.StoreOpUndefined {
		return gputypes.StoreOpStore
	}
	return op
}

func (c *CommandBuffer) beginSubpass(k int) {
	c.subpass = k
	c.pipeline = nil
	sp := c.rp.desc.Subpasses[k]
	desc := &hal.RenderPassDescriptor{Label: fmt.Sprintf("%s/subpass%d", c.rp.label, k)}
	for _, ref := range sp.ColorAttachments {
		att := c.rp.desc.Attachments[ref.Attachment]
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:       c.fb.attachments[ref.Attachment].view,
			LoadOp:     c.loadOp(ref.Attachment, att.LoadOp),
			StoreOp:    c.storeOp(ref.Attachment, att.StoreOp),
			ClearValue: c.clearValue(ref.Attachment).Color,
		})
		c.started[ref.Attachment] = true
	}
	if ref := sp.DepthStencil; ref != nil {
		att := c.rp.desc.Attachments[ref.Attachment]
		cv := c.clearValue(ref.Attachment)
		ds := &hal.RenderPassDepthStencilAttachment{
			View:            c.fb.attachments[ref.Attachment].view,
			DepthLoadOp:     c.loadOp(ref.Attachment, att.LoadOp),
			DepthStoreOp:    c.storeOp(ref.Attachment, att.StoreOp),
			DepthClearValue: cv.Depth,
		}
		if att.Format == gputypes.TextureFormatDepth24PlusStencil8 {
			ds.StencilLoadOp = c.loadOp(ref.Attachment, att.StencilLoadOp)
			ds.StencilStoreOp = c.storeOp(ref.Attachment, att.StencilStoreOp)
			ds.StencilClearValue = cv.Stencil
		}
		desc.DepthStencilAttachment = ds
		c.started[ref.Attachment] = true
	}
	c.pass = c.encoder.BeginRenderPass(desc)
	c.pass.SetViewport(0, 0, float32(c.width), float32(c.height), 0, 1)
}

// NextSubpass implements rhi.CommandBuffer.
func (c *CommandBuffer) NextSubpass() {
	if !c.checkInPass("nextSubpass") {
		return
	}
	if c.subpass+1 >= len(c.rp.desc.Subpasses) {
		c.fail(fmt.Errorf("halrhi: nextSubpass on %q: %w", c.label, rhi.ErrSubpassOverflow))
		return
	}
	c.pass.End()
	c.beginSubpass(c.subpass + 1)
}

// EndRenderPass implements rhi.CommandBuffer.
func (c *CommandBuffer) EndRenderPass() {
	if !c.checkInPass("endRenderPass") {
		return
	}
	if c.subpass != len(c.rp.desc.Subpasses)-1 {
		c.fail(fmt.Errorf("halrhi: endRenderPass %q at subpass %d of %d: %w",
			c.rp.label, c.subpass, len(c.rp.desc.Subpasses), ErrIncompleteRenderPass))
		return
	}
	c.pass.End()
	c.pass = nil
	c.rp = nil
	c.fb = nil
	c.pipeline = nil
}

// BindPipeline implements rhi.CommandBuffer.
func (c *CommandBuffer) BindPipeline(p rhi.Pipeline) {
	if !c.checkInPass("bindPipeline") {
		return
	}
	hp, ok := p.(*pipeline)
	if !ok || hp.dev != c.dev {
		c.fail(fmt.Errorf("halrhi: bindPipeline: %w", rhi.ErrForeignObject))
		return
	}
	if (hp.rp != c.rp && !compatible(hp.rp, c.rp)) || int(hp.subpass) != c.subpass {
		c.fail(fmt.Errorf("halrhi: bindPipeline %q (subpass %d) in subpass %d: %w",
			hp.label, hp.subpass, c.subpass, ErrPipelineMismatch))
		return
	}
	c.pipeline = hp
	c.pass.SetPipeline(hp.raw)
}

// BindDescriptorSets implements rhi.CommandBuffer.
func (c *CommandBuffer) BindDescriptorSets(layout rhi.PipelineLayout, firstSet uint32, sets []rhi.DescriptorSet) {
	if !c.checkInPass("bindDescriptorSets") {
		return
	}
	pl, ok := layout.(*pipelineLayout)
	if !ok || pl.dev != c.dev {
		c.fail(fmt.Errorf("halrhi: bindDescriptorSets layout: %w", rhi.ErrForeignObject))
		return
	}
	if int(firstSet)+len(sets) > len(pl.sets) {
		c.fail(fmt.Errorf("halrhi: bindDescriptorSets %d..%d beyond %d sets of %q: %w",
			firstSet, int(firstSet)+len(sets), len(pl.sets), pl.label, rhi.ErrInvalidDescriptor))
		return
	}
	for i, s := range sets {
		hs, ok := s.(*descriptorSet)
		if !ok || hs.dev != c.dev {
			c.fail(fmt.Errorf("halrhi: bindDescriptorSets set %d: %w", i, rhi.ErrForeignObject))
			return
		}
		if hs.pool.destroyed {
			c.fail(fmt.Errorf("halrhi: bindDescriptorSets set %q: %w", hs.label, rhi.ErrDestroyed))
			return
		}
		group, err := hs.bindGroup()
		if err != nil {
			c.fail(err)
			return
		}
		c.pass.SetBindGroup(firstSet+uint32(i), group, nil)
	}
}

// BindVertexBuffer implements rhi.CommandBuffer.
func (c *CommandBuffer) BindVertexBuffer(slot uint32, buf rhi.Buffer, offset uint64) {
	if !c.checkInPass("bindVertexBuffer") {
		return
	}
	b, ok := buf.(*buffer)
	if !ok || b.dev != c.dev {
		c.fail(fmt.Errorf("halrhi: bindVertexBuffer: %w", rhi.ErrForeignObject))
		return
	}
	c.pass.SetVertexBuffer(slot, b.raw, offset)
}

// BindIndexBuffer implements rhi.CommandBuffer.
func (c *CommandBuffer) BindIndexBuffer(buf rhi.Buffer, offset uint64, indexType rhi.IndexType) {
	if !c.checkInPass("bindIndexBuffer") {
		return
	}
	b, ok := buf.(*buffer)
	if !ok || b.dev != c.dev {
		c.fail(fmt.Errorf("halrhi: bindIndexBuffer: %w", rhi.ErrForeignObject))
		return
	}
	format := gputypes.IndexFormatUint16
	if indexType == rhi.IndexTypeUint32 {
		format = gputypes.IndexFormatUint32
	}
	c.pass.SetIndexBuffer(b.raw, format, offset)
}

// Draw implements rhi.CommandBuffer.
func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !c.checkInPass("draw") {
		return
	}
	if c.pipeline == nil {
		c.fail(fmt.Errorf("halrhi: draw on %q: %w", c.label, rhi.ErrNoPipeline))
		return
	}
	c.pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

// DrawIndexed implements rhi.CommandBuffer.
func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !c.checkInPass("drawIndexed") {
		return
	}
	if c.pipeline == nil {
		c.fail(fmt.Errorf("halrhi: drawIndexed on %q: %w", c.label, rhi.ErrNoPipeline))
		return
	}
	c.pass.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}
