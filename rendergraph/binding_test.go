package rendergraph

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/google/go-cmp/cmp"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

func ubo(binding uint32) rhi.DescriptorBinding {
	return rhi.DescriptorBinding{Binding: binding, Type: rhi.DescriptorTypeUniformBuffer, Count: 1, Stages: gputypes.ShaderStageVertex}
}

func input(binding uint32) rhi.DescriptorBinding {
	return rhi.DescriptorBinding{Binding: binding, Type: rhi.DescriptorTypeInputAttachment, Count: 1, Stages: gputypes.ShaderStageFragment}
}

func TestBindingInfoMerge(t *testing.T) {
	tests := []struct {
		name   string
		a, b   BindingInfo
		want   BindingInfo
		wantOK bool
	}{
		{
			name:   "both empty",
			wantOK: true,
		},
		{
			name:   "disjoint sets",
			a:      BindingInfo{0: {ubo(0)}},
			b:      BindingInfo{1: {input(0)}},
			want:   BindingInfo{0: {ubo(0)}, 1: {input(0)}},
			wantOK: true,
		},
		{
			name:   "identical shared set",
			a:      BindingInfo{0: {ubo(0), input(1)}},
			b:      BindingInfo{0: {ubo(0), input(1)}},
			want:   BindingInfo{0: {ubo(0), input(1)}},
			wantOK: true,
		},
		{
			name:   "empty into populated",
			a:      BindingInfo{2: {ubo(0)}},
			want:   BindingInfo{2: {ubo(0)}},
			wantOK: true,
		},
		{
			name:   "populated into empty",
			b:      BindingInfo{2: {ubo(0)}},
			want:   BindingInfo{2: {ubo(0)}},
			wantOK: true,
		},
		{
			name: "shared set differs in type",
			a:    BindingInfo{0: {ubo(0)}},
			b:    BindingInfo{0: {input(0)}},
		},
		{
			name: "shared set differs in length",
			a:    BindingInfo{0: {ubo(0)}},
			b:    BindingInfo{0: {ubo(0), ubo(1)}},
		},
		{
			name: "shared set differs in order",
			a:    BindingInfo{0: {ubo(0), input(1)}},
			b:    BindingInfo{0: {input(1), ubo(0)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.a.Clone()
			got, ok := tt.a.Merge(tt.b)
			if ok != tt.wantOK {
				t.Fatalf("Merge() ok = %v, want %v", ok, tt.wantOK)
			}
			if !tt.a.Equal(before) {
				t.Errorf("Merge() modified its receiver")
			}
			if !ok {
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("Merge() mismatch (-want +got):\n%s", cmp.Diff(tt.want, got))
			}
		})
	}
}

func TestBindingInfoShape(t *testing.T) {
	b := BindingInfo{
		2: {ubo(0), ubo(1)},
		0: {input(0)},
	}
	if diff := cmp.Diff([]uint32{0, 2}, b.Sets()); diff != "" {
		t.Errorf("Sets() mismatch (-want +got):\n%s", diff)
	}
	if got := b.SetCount(); got != 3 {
		t.Errorf("SetCount() = %d, want 3", got)
	}
	if _, ok := b.Lookup(2, 1); !ok {
		t.Error("Lookup(2, 1) not found")
	}
	if _, ok := b.Lookup(1, 0); ok {
		t.Error("Lookup(1, 0) found an undeclared set")
	}

	want := []rhi.DescriptorPoolSize{
		{Type: rhi.DescriptorTypeUniformBuffer, Count: 8},
		{Type: rhi.DescriptorTypeInputAttachment, Count: 4},
	}
	if diff := cmp.Diff(want, b.PoolSizes(4)); diff != "" {
		t.Errorf("PoolSizes(4) mismatch (-want +got):\n%s", diff)
	}
}

func TestAttachmentMetaEqual(t *testing.T) {
	black := rhi.ClearValue{Color: gputypes.Color{A: 1}}
	tests := []struct {
		name string
		a, b AttachmentMeta
		want bool
	}{
		{"full screen ignores size", AttachmentMeta{FullScreen: true, Width: 1}, AttachmentMeta{FullScreen: true, Width: 2}, true},
		{"zero layers is one", AttachmentMeta{Width: 4, Height: 4}, AttachmentMeta{Width: 4, Height: 4, Layers: 1}, true},
		{"width", AttachmentMeta{Width: 4, Height: 4}, AttachmentMeta{Width: 5, Height: 4}, false},
		{"full screen vs fixed", FullScreenMeta(), AttachmentMeta{Width: 4, Height: 4}, false},
		{"clear values", FullScreenMeta(black), FullScreenMeta(), false},
		{"same clear values", FullScreenMeta(black), FullScreenMeta(black), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}
