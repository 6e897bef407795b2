package headless

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// Validation errors specific to the headless backend.
var (
	// ErrIncompleteRenderPass is reported when a render pass ends before its
	// last subpass.
	ErrIncompleteRenderPass = errors.New("headless: render pass ended before its last subpass")

	// ErrPipelineMismatch is reported when the bound pipeline was built for a
	// different render pass or subpass.
	ErrPipelineMismatch = errors.New("headless: pipeline does not match the active subpass")

	// ErrFramebufferMismatch is reported when a framebuffer was created for a
	// different render pass.
	ErrFramebufferMismatch = errors.New("headless: framebuffer does not match the render pass")

	// ErrSemaphoreNotSignaled is returned when waiting on a semaphore nobody signaled.
	ErrSemaphoreNotSignaled = errors.New("headless: semaphore is not signaled")
)

// State is the lifecycle state of a command buffer.
type State int

const (
	// StateInitial means the buffer is empty and may begin recording.
	StateInitial State = iota

	// StateRecording means commands are being recorded.
	StateRecording

	// StateExecutable means recording finished and the buffer may be submitted.
	StateExecutable

	// StateInvalid means recording failed; the buffer must be reset.
	StateInvalid
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateRecording:
		return "Recording"
	case StateExecutable:
		return "Executable"
	case StateInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Command is one recorded command.
type Command struct {
	// Op names the command, e.g. "beginRenderPass" or "drawIndexed".
	Op string

	// Object is the label of the main object involved, if any.
	Object string

	// Args holds the numeric arguments in call order.
	Args []int64
}

// String formats the command as op(object, args...).
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	if c.Object != "" {
		parts = append(parts, c.Object)
	}
	for _, a := range c.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	return c.Op + "(" + strings.Join(parts, ", ") + ")"
}

// Ops returns the Op of every command.
func Ops(cmds []Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Op
	}
	return out
}

// CommandBuffer records commands in memory and validates their order.
//
// State Machine:
//
//	Initial -> Begin() -> Recording -> End() -> Executable
//	any     -> Reset() -> Initial
//
// A recording error moves the buffer to Invalid; End reports it.
type CommandBuffer struct {
	object

	state    State
	err      error
	commands []Command

	renderPass *renderPass
	subpass    int
	pipeline   *pipeline
}

var _ rhi.CommandBuffer = (*CommandBuffer)(nil)

// State returns the current state.
func (c *CommandBuffer) State() State { return c.state }

// Commands returns the commands recorded since the last Reset.
func (c *CommandBuffer) Commands() []Command {
	return append([]Command(nil), c.commands...)
}

// fail records the first recording error.
func (c *CommandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	c.state = StateInvalid
}

// checkRecording returns false and records an error if the buffer is not
// recording.
func (c *CommandBuffer) checkRecording(op string) bool {
	switch c.state {
	case StateRecording:
		return true
	case StateInvalid:
		return false
	default:
		c.fail(fmt.Errorf("headless: %s on %q in state %s: %w", op, c.label, c.state, rhi.ErrNotRecording))
		return false
	}
}

func (c *CommandBuffer) checkInPass(op string) bool {
	if !c.checkRecording(op) {
		return false
	}
	if c.renderPass == nil {
		c.fail(fmt.Errorf("headless: %s on %q: %w", op, c.label, rhi.ErrNoRenderPass))
		return false
	}
	return true
}

func (c *CommandBuffer) record(op, obj string, args ...int64) {
	c.commands = append(c.commands, Command{Op: op, Object: obj, Args: args})
}

// Begin implements rhi.CommandBuffer.
func (c *CommandBuffer) Begin() error {
	if c.state == StateRecording {
		return fmt.Errorf("headless: begin %q: %w", c.label, rhi.ErrAlreadyRecording)
	}
	if c.state != StateInitial {
		return fmt.Errorf("headless: begin %q in state %s without reset", c.label, c.state)
	}
	c.state = StateRecording
	return nil
}

// End implements rhi.CommandBuffer.
func (c *CommandBuffer) End() error {
	if c.state == StateInvalid {
		return c.err
	}
	if c.state != StateRecording {
		return fmt.Errorf("headless: end %q in state %s: %w", c.label, c.state, rhi.ErrNotRecording)
	}
	if c.renderPass != nil {
		c.fail(fmt.Errorf("headless: end %q: %w", c.label, rhi.ErrRenderPassActive))
		return c.err
	}
	c.state = StateExecutable
	return nil
}

// Reset implements rhi.CommandBuffer.
func (c *CommandBuffer) Reset() error {
	c.state = StateInitial
	c.err = nil
	c.commands = c.commands[:0]
	c.renderPass = nil
	c.pipeline = nil
	c.subpass = 0
	return nil
}

// BeginRenderPass implements rhi.CommandBuffer.
func (c *CommandBuffer) BeginRenderPass(info *rhi.RenderPassBeginInfo) {
	if !c.checkRecording("beginRenderPass") {
		return
	}
	if c.renderPass != nil {
		c.fail(fmt.Errorf("headless: beginRenderPass on %q: %w", c.label, rhi.ErrRenderPassActive))
		return
	}
	rp, ok := info.RenderPass.(*renderPass)
	if !ok || rp.dev != c.dev {
		c.fail(fmt.Errorf("headless: beginRenderPass: %w", rhi.ErrForeignObject))
		return
	}
	fb, ok := info.Framebuffer.(*framebuffer)
	if !ok || fb.dev != c.dev {
		c.fail(fmt.Errorf("headless: beginRenderPass framebuffer: %w", rhi.ErrForeignObject))
		return
	}
	if fb.destroyed {
		c.fail(fmt.Errorf("headless: beginRenderPass framebuffer %q: %w", fb.label, rhi.ErrDestroyed))
		return
	}
	if fb.rp != rp && !compatible(fb.rp, rp) {
		c.fail(fmt.Errorf("headless: beginRenderPass %q with %q: %w", rp.label, fb.label, ErrFramebufferMismatch))
		return
	}
	c.renderPass = rp
	c.subpass = 0
	c.pipeline = nil
	c.record("beginRenderPass", rp.label+"@"+fb.label,
		int64(info.Width), int64(info.Height), int64(len(info.ClearValues)))
}

// compatible reports whether two render passes have identical attachments.
func compatible(a, b *renderPass) bool {
	if len(a.desc.Attachments) != len(b.desc.Attachments) {
		return false
	}
	for i := range a.desc.Attachments {
		if a.desc.Attachments[i] != b.desc.Attachments[i] {
			return false
		}
	}
	return true
}

// NextSubpass implements rhi.CommandBuffer.
func (c *CommandBuffer) NextSubpass() {
	if !c.checkInPass("nextSubpass") {
		return
	}
	if c.subpass+1 >= len(c.renderPass.desc.Subpasses) {
		c.fail(fmt.Errorf("headless: nextSubpass on %q: %w", c.label, rhi.ErrSubpassOverflow))
		return
	}
	c.subpass++
	c.pipeline = nil
	c.record("nextSubpass", "", int64(c.subpass))
}

// EndRenderPass implements rhi.CommandBuffer.
func (c *CommandBuffer) EndRenderPass() {
	if !c.checkInPass("endRenderPass") {
		return
	}
	if c.subpass != len(c.renderPass.desc.Subpasses)-1 {
		c.fail(fmt.Errorf("headless: endRenderPass %q at subpass %d of %d: %w",
			c.renderPass.label, c.subpass, len(c.renderPass.desc.Subpasses), ErrIncompleteRenderPass))
		return
	}
	c.record("endRenderPass", c.renderPass.label)
	c.renderPass = nil
	c.pipeline = nil
}

// BindPipeline implements rhi.CommandBuffer.
func (c *CommandBuffer) BindPipeline(p rhi.Pipeline) {
	if !c.checkInPass("bindPipeline") {
		return
	}
	hp, ok := p.(*pipeline)
	if !ok || hp.dev != c.dev {
		c.fail(fmt.Errorf("headless: bindPipeline: %w", rhi.ErrForeignObject))
		return
	}
	if (hp.rp != c.renderPass && !compatible(hp.rp, c.renderPass)) || int(hp.subpass) != c.subpass {
		c.fail(fmt.Errorf("headless: bindPipeline %q (subpass %d) in subpass %d: %w",
			hp.label, hp.subpass, c.subpass, ErrPipelineMismatch))
		return
	}
	c.pipeline = hp
	c.record("bindPipeline", hp.label)
}

// BindDescriptorSets implements rhi.CommandBuffer.
func (c *CommandBuffer) BindDescriptorSets(layout rhi.PipelineLayout, firstSet uint32, sets []rhi.DescriptorSet) {
	if !c.checkInPass("bindDescriptorSets") {
		return
	}
	pl, ok := layout.(*pipelineLayout)
	if !ok || pl.dev != c.dev {
		c.fail(fmt.Errorf("headless: bindDescriptorSets layout: %w", rhi.ErrForeignObject))
		return
	}
	if int(firstSet)+len(sets) > len(pl.sets) {
		c.fail(fmt.Errorf("headless: bindDescriptorSets %d..%d beyond %d sets of %q: %w",
			firstSet, int(firstSet)+len(sets), len(pl.sets), pl.label, rhi.ErrInvalidDescriptor))
		return
	}
	labels := make([]string, len(sets))
	for i, s := range sets {
		hs, ok := s.(*descriptorSet)
		if !ok || hs.dev != c.dev {
			c.fail(fmt.Errorf("headless: bindDescriptorSets set %d: %w", i, rhi.ErrForeignObject))
			return
		}
		if hs.pool.destroyed {
			c.fail(fmt.Errorf("headless: bindDescriptorSets set %q: %w", hs.label, rhi.ErrDestroyed))
			return
		}
		labels[i] = hs.label
	}
	c.record("bindDescriptorSets", strings.Join(labels, ","), int64(firstSet), int64(len(sets)))
}

// BindVertexBuffer implements rhi.CommandBuffer.
func (c *CommandBuffer) BindVertexBuffer(slot uint32, buf rhi.Buffer, offset uint64) {
	if !c.checkInPass("bindVertexBuffer") {
		return
	}
	b, ok := buf.(*buffer)
	if !ok || b.dev != c.dev {
		c.fail(fmt.Errorf("headless: bindVertexBuffer: %w", rhi.ErrForeignObject))
		return
	}
	c.record("bindVertexBuffer", b.label, int64(slot), int64(offset))
}

// BindIndexBuffer implements rhi.CommandBuffer.
func (c *CommandBuffer) BindIndexBuffer(buf rhi.Buffer, offset uint64, indexType rhi.IndexType) {
	if !c.checkInPass("bindIndexBuffer") {
		return
	}
	b, ok := buf.(*buffer)
	if !ok || b.dev != c.dev {
		c.fail(fmt.Errorf("headless: bindIndexBuffer: %w", rhi.ErrForeignObject))
		return
	}
	c.record("bindIndexBuffer", b.label, int64(offset), int64(indexType))
}

// Draw implements rhi.CommandBuffer.
func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !c.checkInPass("draw") {
		return
	}
	if c.pipeline == nil {
		c.fail(fmt.Errorf("headless: draw on %q: %w", c.label, rhi.ErrNoPipeline))
		return
	}
	c.record("draw", c.pipeline.label,
		int64(vertexCount), int64(instanceCount), int64(firstVertex), int64(firstInstance))
}

// DrawIndexed implements rhi.CommandBuffer.
func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !c.checkInPass("drawIndexed") {
		return
	}
	if c.pipeline == nil {
		c.fail(fmt.Errorf("headless: drawIndexed on %q: %w", c.label, rhi.ErrNoPipeline))
		return
	}
	c.record("drawIndexed", c.pipeline.label,
		int64(indexCount), int64(instanceCount), int64(firstIndex), int64(vertexOffset), int64(firstInstance))
}
