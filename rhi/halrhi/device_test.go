package halrhi

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/google/go-cmp/cmp"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// createNoopDevice opens a small noop-backed device closed at cleanup.
func createNoopDevice(t *testing.T) *Device {
	t.Helper()
	d, err := OpenNoop(rhi.Config{Width: 64, Height: 32, ImageCount: 2})
	if err != nil {
		t.Fatalf("OpenNoop: %v", err)
	}
	t.Cleanup(d.Destroy)
	return d
}

// recordingDevice captures the hal render passes begun on its encoders.
type recordingDevice struct {
	hal.Device
	passes []*hal.RenderPassDescriptor
}

func (r *recordingDevice) CreateCommandEncoder(*hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	return &recordingEncoder{dev: r}, nil
}

type recordingEncoder struct {
	noop.CommandEncoder
	dev *recordingDevice
}

func (e *recordingEncoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	cp := *desc
	e.dev.passes = append(e.dev.passes, &cp)
	return &noop.RenderPassEncoder{}
}

func createRecordingDevice(t *testing.T) (*Device, *recordingDevice) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	open, err := instance.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := &recordingDevice{Device: open.Device}
	d, err := New(rec, open.Queue, rhi.Config{Width: 64, Height: 32, ImageCount: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		d.Destroy()
		open.Device.Destroy()
		instance.Destroy()
	})
	return d, rec
}

func TestOpenRegisteredBackend(t *testing.T) {
	dev, err := rhi.Open("noop", rhi.Config{Width: 320, Height: 200})
	if err != nil {
		t.Fatalf("Open(noop): %v", err)
	}
	d := dev.(*Device)
	defer d.Destroy()

	sc := d.Swapchain()
	if w, h := sc.Extent(); w != 320 || h != 200 {
		t.Errorf("Extent() = %dx%d, want 320x200", w, h)
	}
	if got := sc.ImageCount(); got != 3 {
		t.Errorf("ImageCount() = %d, want 3", got)
	}
	if got := sc.Format(); got != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("Format() = %v, want BGRA8Unorm", got)
	}
	if got := d.LiveObjects(); got != 0 {
		t.Errorf("LiveObjects() = %d, want 0 (swapchain images are not counted)", got)
	}
}

// fakeProvider is a gpucontext.DeviceProvider backed by a noop device.
type fakeProvider struct {
	device hal.Device
	queue  hal.Queue
	format gputypes.TextureFormat
}

func (p *fakeProvider) Device() gpucontext.Device             { return nil }
func (p *fakeProvider) Queue() gpucontext.Queue               { return nil }
func (p *fakeProvider) SurfaceFormat() gputypes.TextureFormat { return p.format }
func (p *fakeProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *fakeProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "fake"}
}

type halFakeProvider struct{ *fakeProvider }

func (p halFakeProvider) HalDevice() any { return p.device }
func (p halFakeProvider) HalQueue() any  { return p.queue }

func TestNewFromProvider(t *testing.T) {
	open, err := (&noop.Adapter{}).Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	base := &fakeProvider{device: open.Device, queue: open.Queue, format: gputypes.TextureFormatRGBA8Unorm}

	t.Run("exposes hal", func(t *testing.T) {
		d, err := NewFromProvider(halFakeProvider{base}, rhi.Config{Width: 16, Height: 16})
		if err != nil {
			t.Fatalf("NewFromProvider: %v", err)
		}
		defer d.Destroy()
		if got := d.Swapchain().Format(); got != gputypes.TextureFormatRGBA8Unorm {
			t.Errorf("Format() = %v, want the provider's surface format", got)
		}
	})

	t.Run("no hal", func(t *testing.T) {
		_, err := NewFromProvider(base, rhi.Config{})
		if !errors.Is(err, ErrNoHALDevice) {
			t.Errorf("NewFromProvider() error = %v, want ErrNoHALDevice", err)
		}
	})

	t.Run("wrong hal types", func(t *testing.T) {
		_, err := NewFromProvider(halFakeProvider{&fakeProvider{device: nil, queue: open.Queue}}, rhi.Config{})
		if !errors.Is(err, ErrNoHALDevice) {
			t.Errorf("NewFromProvider() error = %v, want ErrNoHALDevice", err)
		}
	})
}

func TestResourceLifecycle(t *testing.T) {
	d := createNoopDevice(t)

	buf, err := d.CreateBuffer(&rhi.BufferDescriptor{
		Label: "ubo",
		Usage: gputypes.BufferUsageUniform,
		Data:  []byte{1, 2, 3, 4, 5, 6},
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if got := buf.Size(); got != 6 {
		t.Errorf("Size() = %d, want 6", got)
	}

	img, err := d.CreateImage(&rhi.ImageDescriptor{
		Label:  "albedo",
		Width:  2,
		Height: 2,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding,
		Pixels: make([]byte, 16),
	})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	smp, err := d.CreateSampler(&rhi.SamplerDescriptor{Label: "nearest", MagFilter: gputypes.FilterModeNearest})
	if err != nil {
		t.Fatalf("CreateSampler: %v", err)
	}
	if got := d.LiveObjects(); got != 3 {
		t.Errorf("LiveObjects() = %d, want 3", got)
	}

	buf.Destroy()
	buf.Destroy()
	img.Destroy()
	smp.Destroy()
	if got := d.LiveObjects(); got != 0 {
		t.Errorf("LiveObjects() after Destroy = %d, want 0", got)
	}
}

func TestInvalidDescriptors(t *testing.T) {
	d := createNoopDevice(t)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"zero size buffer", func() error {
			_, err := d.CreateBuffer(&rhi.BufferDescriptor{Label: "empty"})
			return err
		}},
		{"data larger than buffer", func() error {
			_, err := d.CreateBuffer(&rhi.BufferDescriptor{Label: "small", Size: 2, Data: []byte{1, 2, 3}})
			return err
		}},
		{"zero extent image", func() error {
			_, err := d.CreateImage(&rhi.ImageDescriptor{Label: "flat", Width: 4})
			return err
		}},
		{"duplicate binding", func() error {
			_, err := d.CreateDescriptorSetLayout(&rhi.DescriptorSetLayoutDescriptor{
				Label:    "dup",
				Bindings: []rhi.DescriptorBinding{{Binding: 0}, {Binding: 0}},
			})
			return err
		}},
		{"binding in sampler range", func() error {
			_, err := d.CreateDescriptorSetLayout(&rhi.DescriptorSetLayoutDescriptor{
				Label:    "high",
				Bindings: []rhi.DescriptorBinding{{Binding: SamplerBindingOffset}},
			})
			return err
		}},
		{"render pass without subpasses", func() error {
			_, err := d.CreateRenderPass(&rhi.RenderPassDescriptor{Label: "none"})
			return err
		}},
		{"attachment out of range", func() error {
			_, err := d.CreateRenderPass(&rhi.RenderPassDescriptor{
				Label:     "oob",
				Subpasses: []rhi.SubpassDescription{{ColorAttachments: []rhi.AttachmentReference{{Attachment: 1}}}},
			})
			return err
		}},
		{"empty pool", func() error {
			_, err := d.CreateDescriptorPool(&rhi.DescriptorPoolDescriptor{Label: "pool"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, rhi.ErrInvalidDescriptor) {
				t.Errorf("error = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestLayoutEntries(t *testing.T) {
	got := layoutEntries([]rhi.DescriptorBinding{
		{Binding: 1, Type: rhi.DescriptorTypeCombinedImageSampler, Stages: gputypes.ShaderStageFragment},
		{Binding: 0, Type: rhi.DescriptorTypeUniformBuffer},
		{Binding: 2, Type: rhi.DescriptorTypeInputAttachment, Stages: gputypes.ShaderStageFragment},
	})
	bindings := make([]uint32, len(got))
	for i, e := range got {
		bindings[i] = e.Binding
	}
	if diff := cmp.Diff([]uint32{0, 1, 2, 1 + SamplerBindingOffset}, bindings); diff != "" {
		t.Errorf("layoutEntries bindings mismatch (-want +got):\n%s", diff)
	}
	if got[0].Buffer == nil || got[0].Buffer.Type != gputypes.BufferBindingTypeUniform {
		t.Errorf("binding 0 = %+v, want a uniform buffer", got[0])
	}
	if got[0].Visibility != gputypes.ShaderStageVertex|gputypes.ShaderStageFragment {
		t.Errorf("binding 0 visibility = %v, want vertex|fragment", got[0].Visibility)
	}
	if got[1].Texture == nil || got[1].Texture.SampleType != gputypes.TextureSampleTypeFloat {
		t.Errorf("binding 1 = %+v, want a float texture", got[1])
	}
	if got[2].Texture == nil || got[2].Texture.SampleType != gputypes.TextureSampleTypeUnfilterableFloat {
		t.Errorf("binding 2 = %+v, want an unfilterable texture", got[2])
	}
	if got[3].Sampler == nil {
		t.Errorf("binding %d = %+v, want a sampler", got[3].Binding, got[3])
	}
}

// singlePass creates a one-subpass render pass over one color attachment
// with a pipeline and a one-binding uniform set.
func singlePass(t *testing.T, d *Device) (rhi.RenderPass, rhi.PipelineLayout, rhi.Pipeline, rhi.DescriptorSetLayout) {
	t.Helper()
	rp, err := d.CreateRenderPass(&rhi.RenderPassDescriptor{
		Label: "main",
		Attachments: []rhi.AttachmentDescription{{
			Format:  gputypes.TextureFormatBGRA8Unorm,
			Samples: 1,
			LoadOp:  gputypes.LoadOpClear,
			StoreOp: gputypes.StoreOpStore,
		}},
		Subpasses: []rhi.SubpassDescription{{
			ColorAttachments: []rhi.AttachmentReference{{Attachment: 0, Layout: rhi.ImageLayoutColorAttachment}},
		}},
	})
	if err != nil {
		t.Fatalf("CreateRenderPass: %v", err)
	}
	sl, err := d.CreateDescriptorSetLayout(&rhi.DescriptorSetLayoutDescriptor{
		Label:    "set0",
		Bindings: []rhi.DescriptorBinding{{Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Count: 1}},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorSetLayout: %v", err)
	}
	pl, err := d.CreatePipelineLayout(&rhi.PipelineLayoutDescriptor{Label: "layout", SetLayouts: []rhi.DescriptorSetLayout{sl}})
	if err != nil {
		t.Fatalf("CreatePipelineLayout: %v", err)
	}
	p, err := d.CreateGraphicsPipeline(&rhi.PipelineDescriptor{
		Label:        "tri",
		Layout:       pl,
		RenderPass:   rp,
		Shader:       rhi.ShaderSource{Label: "tri", WGSL: "@vertex fn vs_main() {}", VertexEntry: "vs_main", FragmentEntry: "fs_main"},
		Topology:     gputypes.PrimitiveTopologyTriangleList,
		ColorFormats: []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm},
	})
	if err != nil {
		t.Fatalf("CreateGraphicsPipeline: %v", err)
	}
	return rp, pl, p, sl
}

func TestDescriptorSetBinding(t *testing.T) {
	d := createNoopDevice(t)
	rp, pl, p, sl := singlePass(t, d)

	pool, err := d.CreateDescriptorPool(&rhi.DescriptorPoolDescriptor{
		Label:   "pool",
		MaxSets: 1,
		Sizes:   []rhi.DescriptorPoolSize{{Type: rhi.DescriptorTypeUniformBuffer, Count: 1}},
	})
	if err != nil {
		t.Fatalf("CreateDescriptorPool: %v", err)
	}
	set, err := d.AllocateDescriptorSet(pool, sl)
	if err != nil {
		t.Fatalf("AllocateDescriptorSet: %v", err)
	}
	if _, err := d.AllocateDescriptorSet(pool, sl); !errors.Is(err, rhi.ErrOutOfMemory) {
		t.Errorf("second AllocateDescriptorSet error = %v, want ErrOutOfMemory", err)
	}

	fbs, err := d.Swapchain().Framebuffers(rp, nil, 0)
	if err != nil {
		t.Fatalf("Framebuffers: %v", err)
	}
	record := func() error {
		cmd, err := d.AllocateCommandBuffer("cmd")
		if err != nil {
			t.Fatalf("AllocateCommandBuffer: %v", err)
		}
		defer cmd.Destroy()
		if err := cmd.Begin(); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		cmd.BeginRenderPass(&rhi.RenderPassBeginInfo{RenderPass: rp, Framebuffer: fbs[0], Width: 64, Height: 32})
		cmd.BindPipeline(p)
		cmd.BindDescriptorSets(pl, 0, []rhi.DescriptorSet{set})
		cmd.Draw(3, 1, 0, 0)
		cmd.EndRenderPass()
		return cmd.End()
	}

	if err := record(); !errors.Is(err, ErrUnwrittenBinding) {
		t.Fatalf("End() with unwritten binding = %v, want ErrUnwrittenBinding", err)
	}

	buf, err := d.CreateBuffer(&rhi.BufferDescriptor{Label: "ubo", Size: 64, Usage: gputypes.BufferUsageUniform})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	err = d.UpdateDescriptorSets([]rhi.DescriptorWrite{{Set: set, Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Buffer: buf}})
	if err != nil {
		t.Fatalf("UpdateDescriptorSets: %v", err)
	}
	if err := record(); err != nil {
		t.Fatalf("End() = %v", err)
	}
	if set.(*descriptorSet).group == nil {
		t.Error("bind group was not built at bind time")
	}

	err = d.UpdateDescriptorSets([]rhi.DescriptorWrite{{Set: set, Binding: 0, Type: rhi.DescriptorTypeInputAttachment}})
	if !errors.Is(err, rhi.ErrInvalidDescriptor) {
		t.Errorf("mistyped write error = %v, want ErrInvalidDescriptor", err)
	}

	live := d.LiveObjects()
	pool.Destroy()
	if got := d.LiveObjects(); got != live-2 {
		t.Errorf("LiveObjects() after pool Destroy = %d, want %d", got, live-2)
	}
}

func TestSubpassLoadStoreOps(t *testing.T) {
	d, rec := createRecordingDevice(t)

	color := func(load gputypes.LoadOp, store gputypes.StoreOp) rhi.AttachmentDescription {
		return rhi.AttachmentDescription{Format: gputypes.TextureFormatBGRA8Unorm, Samples: 1, LoadOp: load, StoreOp: store}
	}
	ref := func(i uint32) rhi.AttachmentReference { return rhi.AttachmentReference{Attachment: i} }

	// 0 is presented, 1 and 2 are intermediate targets. Subpass 1 writes 1
	// a second time.
	rp, err := d.CreateRenderPass(&rhi.RenderPassDescriptor{
		Label: "deferred",
		Attachments: []rhi.AttachmentDescription{
			color(gputypes.LoadOpClear, gputypes.StoreOpStore),
			color(gputypes.LoadOpClear, gputypes.StoreOpDiscard),
			color(gputypes.LoadOpClear, gputypes.StoreOpDiscard),
		},
		Subpasses: []rhi.SubpassDescription{
			{ColorAttachments: []rhi.AttachmentReference{ref(1)}},
			{InputAttachments: []rhi.AttachmentReference{ref(1)}, ColorAttachments: []rhi.AttachmentReference{ref(2), ref(1)}},
			{InputAttachments: []rhi.AttachmentReference{ref(2)}, ColorAttachments: []rhi.AttachmentReference{ref(0)}},
		},
	})
	if err != nil {
		t.Fatalf("CreateRenderPass: %v", err)
	}
	var targets []rhi.Image
	for _, name := range []string{"X", "Y"} {
		img, err := d.CreateImage(&rhi.ImageDescriptor{
			Label: name, Width: 64, Height: 32,
			Format: gputypes.TextureFormatBGRA8Unorm,
			Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
		})
		if err != nil {
			t.Fatalf("CreateImage: %v", err)
		}
		targets = append(targets, img)
	}
	fbs, err := d.Swapchain().Framebuffers(rp, targets, 0)
	if err != nil {
		t.Fatalf("Framebuffers: %v", err)
	}

	cmd, _ := d.AllocateCommandBuffer("cmd")
	if err := cmd.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	cmd.BeginRenderPass(&rhi.RenderPassBeginInfo{
		RenderPass:  rp,
		Framebuffer: fbs[1],
		Width:       64,
		Height:      32,
		ClearValues: []rhi.ClearValue{{Color: gputypes.Color{A: 1}}, {}, {}},
	})
	cmd.NextSubpass()
	cmd.NextSubpass()
	cmd.EndRenderPass()
	if err := cmd.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	type op struct {
		Load  gputypes.LoadOp
		Store gputypes.StoreOp
	}
	var got [][]op
	for _, p := range rec.passes {
		var ops []op
		for _, a := range p.ColorAttachments {
			ops = append(ops, op{a.LoadOp, a.StoreOp})
		}
		got = append(got, ops)
	}
	want := [][]op{
		{{gputypes.LoadOpClear, gputypes.StoreOpStore}},
		{{gputypes.LoadOpClear, gputypes.StoreOpDiscard}, {gputypes.LoadOpLoad, gputypes.StoreOpDiscard}},
		{{gputypes.LoadOpClear, gputypes.StoreOpStore}},
	}
	// Y is read in subpass 2, so it is stored in subpass 1.
	want[1][0].Store = gputypes.StoreOpStore
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("hal render passes mismatch (-want +got):\n%s", diff)
	}
	if c := rec.passes[2].ColorAttachments[0].ClearValue; c.A != 1 {
		t.Errorf("present clear value = %+v, want alpha 1", c)
	}
}

func TestCommandBufferErrors(t *testing.T) {
	d := createNoopDevice(t)
	rp, _, p, _ := singlePass(t, d)
	fbs, err := d.Swapchain().Framebuffers(rp, nil, 0)
	if err != nil {
		t.Fatalf("Framebuffers: %v", err)
	}
	begin := &rhi.RenderPassBeginInfo{RenderPass: rp, Framebuffer: fbs[0], Width: 64, Height: 32}

	tests := []struct {
		name   string
		record func(cmd rhi.CommandBuffer)
		want   error
	}{
		{"draw without pipeline", func(cmd rhi.CommandBuffer) {
			cmd.BeginRenderPass(begin)
			cmd.Draw(3, 1, 0, 0)
		}, rhi.ErrNoPipeline},
		{"draw outside pass", func(cmd rhi.CommandBuffer) {
			cmd.BindPipeline(p)
		}, rhi.ErrNoRenderPass},
		{"pass left open", func(cmd rhi.CommandBuffer) {
			cmd.BeginRenderPass(begin)
		}, rhi.ErrRenderPassActive},
		{"subpass overflow", func(cmd rhi.CommandBuffer) {
			cmd.BeginRenderPass(begin)
			cmd.NextSubpass()
		}, rhi.ErrSubpassOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, _ := d.AllocateCommandBuffer(tt.name)
			defer cmd.Destroy()
			if err := cmd.Begin(); err != nil {
				t.Fatalf("Begin: %v", err)
			}
			tt.record(cmd)
			if err := cmd.End(); !errors.Is(err, tt.want) {
				t.Errorf("End() = %v, want %v", err, tt.want)
			}
			if err := cmd.Reset(); err != nil {
				t.Fatalf("Reset: %v", err)
			}
			if err := cmd.Begin(); err != nil {
				t.Errorf("Begin after Reset: %v", err)
			}
		})
	}
}

func TestFenceLifecycle(t *testing.T) {
	d := createNoopDevice(t)
	rp, _, _, _ := singlePass(t, d)
	fbs, err := d.Swapchain().Framebuffers(rp, nil, 0)
	if err != nil {
		t.Fatalf("Framebuffers: %v", err)
	}

	f, _ := d.CreateFence("fence", false)
	if err := d.WaitFence(f, time.Millisecond); !errors.Is(err, rhi.ErrTimeout) {
		t.Errorf("WaitFence(unsubmitted) = %v, want ErrTimeout", err)
	}

	cmd, _ := d.AllocateCommandBuffer("cmd")
	if err := d.Submit(&rhi.SubmitInfo{CommandBuffer: cmd, Fence: f}); !errors.Is(err, rhi.ErrNotRecording) {
		t.Errorf("Submit(unrecorded) = %v, want ErrNotRecording", err)
	}
	if err := cmd.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	cmd.BeginRenderPass(&rhi.RenderPassBeginInfo{RenderPass: rp, Framebuffer: fbs[0], Width: 64, Height: 32})
	cmd.EndRenderPass()
	if err := cmd.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := d.Submit(&rhi.SubmitInfo{CommandBuffer: cmd, Fence: f}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if cmd.(*CommandBuffer).Submission() == 0 {
		t.Error("Submission() = 0 after submit")
	}
	if err := d.Submit(&rhi.SubmitInfo{CommandBuffer: cmd, Fence: f}); !errors.Is(err, rhi.ErrFenceInUse) {
		t.Errorf("Submit(pending fence) = %v, want ErrFenceInUse", err)
	}
	if err := d.WaitFence(f, rhi.WaitForever); err != nil {
		t.Fatalf("WaitFence: %v", err)
	}
	if err := d.WaitFence(f, 0); err != nil {
		t.Errorf("WaitFence(signaled) = %v, want nil", err)
	}
	if err := d.Submit(&rhi.SubmitInfo{CommandBuffer: cmd, Fence: f}); !errors.Is(err, rhi.ErrFenceSignaled) {
		t.Errorf("Submit(signaled fence) = %v, want ErrFenceSignaled", err)
	}
	if err := d.ResetFence(f); err != nil {
		t.Errorf("ResetFence: %v", err)
	}
	if err := d.WaitIdle(); err != nil {
		t.Errorf("WaitIdle: %v", err)
	}
}

func TestSwapchainRing(t *testing.T) {
	d := createNoopDevice(t)
	sc := d.OffscreenSwapchain()
	acquire, _ := d.CreateSemaphore("acquire")
	render, _ := d.CreateSemaphore("render")

	for frame := 0; frame < 4; frame++ {
		idx, st, err := sc.AcquireNextImage(acquire)
		if err != nil || st != rhi.StatusSuccess {
			t.Fatalf("frame %d: AcquireNextImage = %v, %v", frame, st, err)
		}
		if want := uint32(frame % 2); idx != want {
			t.Errorf("frame %d: image %d, want %d", frame, idx, want)
		}
		acquire.(*semaphore).signaled = false
		if _, err := sc.Present(idx, render); !errors.Is(err, ErrSemaphoreNotSignaled) {
			t.Errorf("Present without signal = %v, want ErrSemaphoreNotSignaled", err)
		}
		render.(*semaphore).signaled = true
		if st, err := sc.Present(idx, render); err != nil || st != rhi.StatusSuccess {
			t.Fatalf("frame %d: Present = %v, %v", frame, st, err)
		}
	}
	if got := sc.Presents(); got != 4 {
		t.Errorf("Presents() = %d, want 4", got)
	}

	sc.Resize(100, 50)
	if _, st, _ := sc.AcquireNextImage(acquire); st != rhi.StatusOutOfDate {
		t.Errorf("AcquireNextImage after Resize = %v, want OutOfDate", st)
	}
	if err := sc.Recreate(); err != nil {
		t.Fatalf("Recreate: %v", err)
	}
	if w, h := sc.Extent(); w != 100 || h != 50 {
		t.Errorf("Extent() = %dx%d, want 100x50", w, h)
	}
	if got := sc.Image(0).Width(); got != 100 {
		t.Errorf("Image(0).Width() = %d, want 100", got)
	}
	if got := sc.Generation(); got != 1 {
		t.Errorf("Generation() = %d, want 1", got)
	}
	if got := d.LiveObjects(); got != 2 {
		t.Errorf("LiveObjects() = %d, want the two semaphores", got)
	}
}
