package headless

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/google/go-cmp/cmp"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d := New(rhi.Config{Width: 64, Height: 32, ImageCount: 2})
	t.Cleanup(d.Destroy)
	return d
}

// singlePass builds a one-subpass render pass with one color attachment, a
// framebuffer for it, a pipeline layout with one uniform binding and a pipeline.
type singlePass struct {
	rp     rhi.RenderPass
	fb     rhi.Framebuffer
	layout rhi.PipelineLayout
	set    rhi.DescriptorSetLayout
	pipe   rhi.Pipeline
	target rhi.Image
}

func newSinglePass(t *testing.T, d *Device, subpasses int) *singlePass {
	t.Helper()
	sp := &singlePass{}
	var err error
	descs := make([]rhi.SubpassDescription, subpasses)
	for i := range descs {
		descs[i] = rhi.SubpassDescription{
			ColorAttachments: []rhi.AttachmentReference{{Attachment: 0, Layout: rhi.ImageLayoutColorAttachment}},
		}
	}
	sp.rp, err = d.CreateRenderPass(&rhi.RenderPassDescriptor{
		Label: "rp",
		Attachments: []rhi.AttachmentDescription{{
			Format:      gputypes.TextureFormatRGBA8Unorm,
			Samples:     1,
			LoadOp:      gputypes.LoadOpClear,
			StoreOp:     gputypes.StoreOpStore,
			FinalLayout: rhi.ImageLayoutShaderReadOnly,
		}},
		Subpasses: descs,
	})
	if err != nil {
		t.Fatalf("CreateRenderPass: %v", err)
	}
	sp.target, err = d.CreateImage(&rhi.ImageDescriptor{
		Label: "target", Width: 64, Height: 32, Format: gputypes.TextureFormatRGBA8Unorm,
		Usage: gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	sp.fb, err = d.CreateFramebuffer(&rhi.FramebufferDescriptor{
		Label: "fb", RenderPass: sp.rp, Attachments: []rhi.Image{sp.target}, Width: 64, Height: 32, Layers: 1,
	})
	if err != nil {
		t.Fatalf("CreateFramebuffer: %v", err)
	}
	sp.set, err = d.CreateDescriptorSetLayout(&rhi.DescriptorSetLayoutDescriptor{
		Label: "set0",
		Bindings: []rhi.DescriptorBinding{
			{Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageVertex},
		},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorSetLayout: %v", err)
	}
	sp.layout, err = d.CreatePipelineLayout(&rhi.PipelineLayoutDescriptor{Label: "layout", SetLayouts: []rhi.DescriptorSetLayout{sp.set}})
	if err != nil {
		t.Fatalf("CreatePipelineLayout: %v", err)
	}
	sp.pipe, err = d.CreateGraphicsPipeline(&rhi.PipelineDescriptor{
		Label: "pipe", Layout: sp.layout, RenderPass: sp.rp, Subpass: 0,
		Shader: rhi.ShaderSource{WGSL: "@vertex fn vs() {}", VertexEntry: "vs"},
	})
	if err != nil {
		t.Fatalf("CreateGraphicsPipeline: %v", err)
	}
	return sp
}

func (sp *singlePass) destroy() {
	for _, o := range []rhi.Object{sp.pipe, sp.layout, sp.set, sp.fb, sp.target, sp.rp} {
		o.Destroy()
	}
}

// =============================================================================
// Registration and object tracking
// =============================================================================

func TestRegisteredAsHeadless(t *testing.T) {
	if !rhi.IsRegistered("headless") {
		t.Fatal("headless backend not registered")
	}
	dev, err := rhi.Open("headless", rhi.Config{})
	if err != nil {
		t.Fatalf("Open(headless): %v", err)
	}
	if got := dev.Swapchain().ImageCount(); got != rhi.DefaultConfig().ImageCount {
		t.Errorf("ImageCount() = %d, want default %d", got, rhi.DefaultConfig().ImageCount)
	}
}

func TestLiveCounts(t *testing.T) {
	d := newTestDevice(t)
	b, err := d.CreateBuffer(&rhi.BufferDescriptor{Label: "ubo", Size: 64, Usage: gputypes.BufferUsageUniform})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if d.LiveCount(KindBuffer) != 1 {
		t.Errorf("LiveCount(buffer) = %d, want 1", d.LiveCount(KindBuffer))
	}
	b.Destroy()
	b.Destroy()
	if d.LiveCount(KindBuffer) != 0 {
		t.Errorf("LiveCount(buffer) after double Destroy = %d, want 0", d.LiveCount(KindBuffer))
	}
	if d.CreatedCount(KindBuffer) != 1 {
		t.Errorf("CreatedCount(buffer) = %d, want 1", d.CreatedCount(KindBuffer))
	}
}

func TestCreateBufferValidation(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name string
		desc rhi.BufferDescriptor
		ok   bool
	}{
		{"size from data", rhi.BufferDescriptor{Data: []byte{1, 2, 3, 4}}, true},
		{"explicit size", rhi.BufferDescriptor{Size: 16}, true},
		{"zero", rhi.BufferDescriptor{}, false},
		{"data exceeds size", rhi.BufferDescriptor{Size: 2, Data: []byte{1, 2, 3}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := d.CreateBuffer(&tt.desc)
			if tt.ok {
				if err != nil {
					t.Fatalf("CreateBuffer() error = %v", err)
				}
				b.Destroy()
				return
			}
			if !errors.Is(err, rhi.ErrInvalidDescriptor) {
				t.Errorf("CreateBuffer() error = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestFailNextCreate(t *testing.T) {
	d := newTestDevice(t)
	d.FailNext(OpCreate, rhi.ErrOutOfMemory)
	if _, err := d.CreateImage(&rhi.ImageDescriptor{Width: 1, Height: 1}); !errors.Is(err, rhi.ErrOutOfMemory) {
		t.Errorf("CreateImage() error = %v, want ErrOutOfMemory", err)
	}
	img, err := d.CreateImage(&rhi.ImageDescriptor{Width: 1, Height: 1})
	if err != nil {
		t.Fatalf("second CreateImage() error = %v", err)
	}
	img.Destroy()
}

// =============================================================================
// Render pass validation
// =============================================================================

func TestCreateRenderPassValidation(t *testing.T) {
	d := newTestDevice(t)
	color := rhi.AttachmentDescription{Format: gputypes.TextureFormatRGBA8Unorm}
	tests := []struct {
		name string
		desc rhi.RenderPassDescriptor
	}{
		{"no subpasses", rhi.RenderPassDescriptor{Attachments: []rhi.AttachmentDescription{color}}},
		{"bad reference", rhi.RenderPassDescriptor{
			Attachments: []rhi.AttachmentDescription{color},
			Subpasses:   []rhi.SubpassDescription{{ColorAttachments: []rhi.AttachmentReference{{Attachment: 1}}}},
		}},
		{"bad dependency", rhi.RenderPassDescriptor{
			Attachments:  []rhi.AttachmentDescription{color},
			Subpasses:    []rhi.SubpassDescription{{}},
			Dependencies: []rhi.SubpassDependency{{SrcSubpass: 0, DstSubpass: 3}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.CreateRenderPass(&tt.desc); !errors.Is(err, rhi.ErrInvalidDescriptor) {
				t.Errorf("CreateRenderPass() error = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestFramebufferAttachmentCount(t *testing.T) {
	d := newTestDevice(t)
	sp := newSinglePass(t, d, 1)
	defer sp.destroy()

	_, err := d.CreateFramebuffer(&rhi.FramebufferDescriptor{RenderPass: sp.rp, Width: 1, Height: 1})
	if !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("CreateFramebuffer() error = %v, want ErrInvalidDescriptor", err)
	}
}

func TestFramebufferAttachmentExtent(t *testing.T) {
	d := newTestDevice(t)
	sp := newSinglePass(t, d, 1)
	defer sp.destroy()

	_, err := d.CreateFramebuffer(&rhi.FramebufferDescriptor{
		RenderPass: sp.rp, Attachments: []rhi.Image{sp.target}, Width: 128, Height: 32, Layers: 1,
	})
	if !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("CreateFramebuffer(larger than attachment) error = %v, want ErrInvalidDescriptor", err)
	}
}

// =============================================================================
// Command buffer state machine
// =============================================================================

func TestCommandBufferRecording(t *testing.T) {
	d := newTestDevice(t)
	sp := newSinglePass(t, d, 2)
	defer sp.destroy()

	cb, _ := d.AllocateCommandBuffer("cmd")
	defer cb.Destroy()

	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	cb.BeginRenderPass(&rhi.RenderPassBeginInfo{RenderPass: sp.rp, Framebuffer: sp.fb, Width: 64, Height: 32})
	cb.BindPipeline(sp.pipe)
	cb.Draw(3, 1, 0, 0)
	cb.NextSubpass()
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	got := Ops(cb.(*CommandBuffer).Commands())
	want := []string{"beginRenderPass", "bindPipeline", "draw", "nextSubpass", "endRenderPass"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("recorded ops mismatch (-want +got):\n%s", diff)
	}
	if s := cb.(*CommandBuffer).State(); s != StateExecutable {
		t.Errorf("State() = %v, want Executable", s)
	}
}

func TestCommandBufferErrors(t *testing.T) {
	d := newTestDevice(t)
	sp := newSinglePass(t, d, 2)
	defer sp.destroy()

	begin := func(cb rhi.CommandBuffer) {
		cb.BeginRenderPass(&rhi.RenderPassBeginInfo{RenderPass: sp.rp, Framebuffer: sp.fb})
	}
	tests := []struct {
		name   string
		record func(cb rhi.CommandBuffer)
		want   error
	}{
		{"draw outside pass", func(cb rhi.CommandBuffer) { cb.Draw(3, 1, 0, 0) }, rhi.ErrNoRenderPass},
		{"draw without pipeline", func(cb rhi.CommandBuffer) {
			begin(cb)
			cb.Draw(3, 1, 0, 0)
		}, rhi.ErrNoPipeline},
		{"pipeline in wrong subpass", func(cb rhi.CommandBuffer) {
			begin(cb)
			cb.NextSubpass()
			cb.BindPipeline(sp.pipe)
		}, ErrPipelineMismatch},
		{"subpass overflow", func(cb rhi.CommandBuffer) {
			begin(cb)
			cb.NextSubpass()
			cb.NextSubpass()
		}, rhi.ErrSubpassOverflow},
		{"end render pass early", func(cb rhi.CommandBuffer) {
			begin(cb)
			cb.EndRenderPass()
		}, ErrIncompleteRenderPass},
		{"end with open pass", func(cb rhi.CommandBuffer) { begin(cb) }, rhi.ErrRenderPassActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _ := d.AllocateCommandBuffer(tt.name)
			defer cb.Destroy()
			if err := cb.Begin(); err != nil {
				t.Fatalf("Begin: %v", err)
			}
			tt.record(cb)
			if err := cb.End(); !errors.Is(err, tt.want) {
				t.Errorf("End() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCommandBufferBeginTwice(t *testing.T) {
	d := newTestDevice(t)
	cb, _ := d.AllocateCommandBuffer("cmd")
	defer cb.Destroy()
	_ = cb.Begin()
	if err := cb.Begin(); !errors.Is(err, rhi.ErrAlreadyRecording) {
		t.Errorf("second Begin() = %v, want ErrAlreadyRecording", err)
	}
	_ = cb.Reset()
	if err := cb.Begin(); err != nil {
		t.Errorf("Begin() after Reset = %v", err)
	}
}

// =============================================================================
// Descriptors
// =============================================================================

func TestDescriptorPoolExhaustion(t *testing.T) {
	d := newTestDevice(t)
	sp := newSinglePass(t, d, 1)
	defer sp.destroy()

	pool, err := d.CreateDescriptorPool(&rhi.DescriptorPoolDescriptor{
		Label:   "pool",
		MaxSets: 2,
		Sizes:   []rhi.DescriptorPoolSize{{Type: rhi.DescriptorTypeUniformBuffer, Count: 1}},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorPool: %v", err)
	}
	defer pool.Destroy()

	if _, err := d.AllocateDescriptorSet(pool, sp.set); err != nil {
		t.Fatalf("first AllocateDescriptorSet: %v", err)
	}
	if _, err := d.AllocateDescriptorSet(pool, sp.set); !errors.Is(err, rhi.ErrOutOfMemory) {
		t.Errorf("second AllocateDescriptorSet() = %v, want ErrOutOfMemory (uniform descriptors exhausted)", err)
	}
	if d.LiveCount(KindDescriptorSet) != 1 {
		t.Errorf("LiveCount(descriptorSet) = %d, want 1", d.LiveCount(KindDescriptorSet))
	}
	pool.Destroy()
	if d.LiveCount(KindDescriptorSet) != 0 {
		t.Errorf("LiveCount(descriptorSet) after pool destroy = %d, want 0", d.LiveCount(KindDescriptorSet))
	}
}

func TestUpdateDescriptorSetsValidation(t *testing.T) {
	d := newTestDevice(t)
	sp := newSinglePass(t, d, 1)
	defer sp.destroy()

	pool, _ := d.CreateDescriptorPool(&rhi.DescriptorPoolDescriptor{
		MaxSets: 1, Sizes: []rhi.DescriptorPoolSize{{Type: rhi.DescriptorTypeUniformBuffer, Count: 1}},
	})
	defer pool.Destroy()
	set, _ := d.AllocateDescriptorSet(pool, sp.set)
	buf, _ := d.CreateBuffer(&rhi.BufferDescriptor{Size: 64})
	defer buf.Destroy()

	tests := []struct {
		name  string
		write rhi.DescriptorWrite
		ok    bool
	}{
		{"valid", rhi.DescriptorWrite{Set: set, Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Buffer: buf, Range: 64}, true},
		{"unknown binding", rhi.DescriptorWrite{Set: set, Binding: 5, Type: rhi.DescriptorTypeUniformBuffer, Buffer: buf}, false},
		{"type mismatch", rhi.DescriptorWrite{Set: set, Binding: 0, Type: rhi.DescriptorTypeStorageBuffer, Buffer: buf}, false},
		{"missing buffer", rhi.DescriptorWrite{Set: set, Binding: 0, Type: rhi.DescriptorTypeUniformBuffer}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.UpdateDescriptorSets([]rhi.DescriptorWrite{tt.write})
			if tt.ok && err != nil {
				t.Errorf("UpdateDescriptorSets() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, rhi.ErrInvalidDescriptor) {
				t.Errorf("UpdateDescriptorSets() = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
	if !set.(*descriptorSet).Bound(0) {
		t.Error("binding 0 not recorded after valid write")
	}
}

// =============================================================================
// Fences, submit and presentation
// =============================================================================

func TestFenceModel(t *testing.T) {
	d := newTestDevice(t)
	f, _ := d.CreateFence("f", true)
	defer f.Destroy()
	cb, _ := d.AllocateCommandBuffer("cmd")
	defer cb.Destroy()

	_ = cb.Begin()
	_ = cb.End()

	if err := d.Submit(&rhi.SubmitInfo{CommandBuffer: cb, Fence: f}); !errors.Is(err, rhi.ErrFenceSignaled) {
		t.Errorf("Submit with signaled fence = %v, want ErrFenceSignaled", err)
	}
	if err := d.ResetFence(f); err != nil {
		t.Fatalf("ResetFence: %v", err)
	}
	if err := d.WaitFence(f, rhi.WaitForever); !errors.Is(err, rhi.ErrTimeout) {
		t.Errorf("WaitFence on unsubmitted fence = %v, want ErrTimeout", err)
	}
	if err := d.Submit(&rhi.SubmitInfo{CommandBuffer: cb, Fence: f}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := d.ResetFence(f); !errors.Is(err, rhi.ErrFenceInUse) {
		t.Errorf("ResetFence on pending fence = %v, want ErrFenceInUse", err)
	}
	if err := d.WaitFence(f, rhi.WaitForever); err != nil {
		t.Errorf("WaitFence on pending fence = %v", err)
	}
	if err := d.ResetFence(f); err != nil {
		t.Errorf("ResetFence after wait = %v", err)
	}

	subs := d.Submissions()
	if len(subs) != 1 || subs[0].CommandBuffer != "cmd" || subs[0].Fence != "f" {
		t.Errorf("Submissions() = %+v", subs)
	}
}

func TestSubmitRequiresExecutable(t *testing.T) {
	d := newTestDevice(t)
	cb, _ := d.AllocateCommandBuffer("cmd")
	defer cb.Destroy()
	if err := d.Submit(&rhi.SubmitInfo{CommandBuffer: cb}); !errors.Is(err, rhi.ErrNotRecording) {
		t.Errorf("Submit(initial buffer) = %v, want ErrNotRecording", err)
	}
}

func TestSwapchainAcquirePresent(t *testing.T) {
	d := newTestDevice(t)
	sc := d.HeadlessSwapchain()
	avail, _ := d.CreateSemaphore("avail")
	done, _ := d.CreateSemaphore("done")
	defer avail.Destroy()
	defer done.Destroy()
	cb, _ := d.AllocateCommandBuffer("cmd")
	defer cb.Destroy()

	for frame := 0; frame < 4; frame++ {
		idx, st, err := sc.AcquireNextImage(avail)
		if err != nil || st != rhi.StatusSuccess {
			t.Fatalf("frame %d: Acquire = %d, %v, %v", frame, idx, st, err)
		}
		if want := uint32(frame % 2); idx != want {
			t.Errorf("frame %d: image %d, want %d", frame, idx, want)
		}
		_ = cb.Reset()
		_ = cb.Begin()
		_ = cb.End()
		if err := d.Submit(&rhi.SubmitInfo{CommandBuffer: cb, WaitSemaphore: avail, SignalSemaphore: done}); err != nil {
			t.Fatalf("frame %d: Submit: %v", frame, err)
		}
		if st, err := sc.Present(idx, done); err != nil || st != rhi.StatusSuccess {
			t.Fatalf("frame %d: Present = %v, %v", frame, st, err)
		}
	}
	if sc.Presents() != 4 {
		t.Errorf("Presents() = %d, want 4", sc.Presents())
	}
}

func TestSwapchainInjectedStatus(t *testing.T) {
	d := newTestDevice(t)
	sc := d.HeadlessSwapchain()
	avail, _ := d.CreateSemaphore("avail")
	defer avail.Destroy()

	sc.QueueAcquireStatus(rhi.StatusOutOfDate)
	if _, st, err := sc.AcquireNextImage(avail); err != nil || st != rhi.StatusOutOfDate {
		t.Errorf("Acquire = %v, %v; want OutOfDate", st, err)
	}

	sc.Resize(10, 20)
	if _, st, _ := sc.AcquireNextImage(avail); st != rhi.StatusOutOfDate {
		t.Errorf("Acquire after Resize = %v, want OutOfDate", st)
	}
	if err := sc.Recreate(); err != nil {
		t.Fatalf("Recreate: %v", err)
	}
	if w, h := sc.Extent(); w != 10 || h != 20 {
		t.Errorf("Extent() = %dx%d, want 10x20", w, h)
	}
	if sc.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", sc.Generation())
	}
	if _, st, err := sc.AcquireNextImage(avail); err != nil || st != rhi.StatusSuccess {
		t.Errorf("Acquire after Recreate = %v, %v", st, err)
	}
}

func TestSwapchainFramebuffers(t *testing.T) {
	d := newTestDevice(t)
	sp := newSinglePass(t, d, 1)
	defer sp.destroy()

	fbs, err := d.Swapchain().Framebuffers(sp.rp, nil, 0)
	if err != nil {
		t.Fatalf("Framebuffers: %v", err)
	}
	if len(fbs) != 2 {
		t.Fatalf("len(Framebuffers) = %d, want 2", len(fbs))
	}
	before := d.LiveCount(KindFramebuffer)
	if err := d.Swapchain().Recreate(); err != nil {
		t.Fatalf("Recreate: %v", err)
	}
	if got := d.LiveCount(KindFramebuffer); got != before-2 {
		t.Errorf("LiveCount(framebuffer) after Recreate = %d, want %d", got, before-2)
	}
	if _, err := d.Swapchain().Framebuffers(sp.rp, nil, 3); !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("Framebuffers(bad slot) = %v, want ErrInvalidDescriptor", err)
	}
}
