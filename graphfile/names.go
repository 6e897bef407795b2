package graphfile

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// normalize folds case and drops '_' and '-', so "triangle_list",
// "TriangleList" and "triangle-list" name the same value.
func normalize(s string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(s))
}

// lookup returns the value among values whose String matches name.
func lookup[T fmt.Stringer](what, name string, values ...T) (T, error) {
	n := normalize(name)
	for _, v := range values {
		if normalize(v.String()) == n {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s %q", ErrUnknownName, what, name)
}

// flags ORs the named bits of table.
func flags[T ~uint32 | ~uint64](what string, names []string, table map[string]T) (T, error) {
	var out T
	for _, name := range names {
		bit, ok := table[normalize(name)]
		if !ok {
			return 0, fmt.Errorf("%w: %s %q", ErrUnknownName, what, name)
		}
		out |= bit
	}
	return out, nil
}

var textureFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatR8Unorm,
	gputypes.TextureFormatRG8Unorm,
	gputypes.TextureFormatR16Float,
	gputypes.TextureFormatR32Float,
	gputypes.TextureFormatRG16Float,
	gputypes.TextureFormatRGBA8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb,
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatBGRA8UnormSrgb,
	gputypes.TextureFormatRGB10A2Unorm,
	gputypes.TextureFormatRGBA16Float,
	gputypes.TextureFormatRGBA32Float,
	gputypes.TextureFormatDepth16Unorm,
	gputypes.TextureFormatDepth24Plus,
	gputypes.TextureFormatDepth24PlusStencil8,
	gputypes.TextureFormatDepth32Float,
}

// vertexFormats have no String method in gputypes.
var vertexFormats = map[string]gputypes.VertexFormat{
	"float32":   gputypes.VertexFormatFloat32,
	"float32x2": gputypes.VertexFormatFloat32x2,
	"float32x3": gputypes.VertexFormatFloat32x3,
	"float32x4": gputypes.VertexFormatFloat32x4,
	"uint32":    gputypes.VertexFormatUint32,
	"uint32x2":  gputypes.VertexFormatUint32x2,
	"uint32x3":  gputypes.VertexFormatUint32x3,
	"uint32x4":  gputypes.VertexFormatUint32x4,
	"sint32":    gputypes.VertexFormatSint32,
	"unorm8x4":  gputypes.VertexFormatUnorm8x4,
	"float16x2": gputypes.VertexFormatFloat16x2,
	"float16x4": gputypes.VertexFormatFloat16x4,
}

var textureUsages = map[string]gputypes.TextureUsage{
	"copysrc":          gputypes.TextureUsageCopySrc,
	"copydst":          gputypes.TextureUsageCopyDst,
	"texturebinding":   gputypes.TextureUsageTextureBinding,
	"storagebinding":   gputypes.TextureUsageStorageBinding,
	"renderattachment": gputypes.TextureUsageRenderAttachment,
}

var bufferUsages = map[string]gputypes.BufferUsage{
	"copysrc": gputypes.BufferUsageCopySrc,
	"copydst": gputypes.BufferUsageCopyDst,
	"index":   gputypes.BufferUsageIndex,
	"vertex":  gputypes.BufferUsageVertex,
	"uniform": gputypes.BufferUsageUniform,
	"storage": gputypes.BufferUsageStorage,
}

var shaderStages = map[string]gputypes.ShaderStage{
	"vertex":   gputypes.ShaderStageVertex,
	"fragment": gputypes.ShaderStageFragment,
	"compute":  gputypes.ShaderStageCompute,
}

var imageLayouts = map[string]rhi.ImageLayout{
	"undefined":              rhi.ImageLayoutUndefined,
	"colorattachment":        rhi.ImageLayoutColorAttachment,
	"depthstencilattachment": rhi.ImageLayoutDepthStencilAttachment,
	"shaderreadonly":         rhi.ImageLayoutShaderReadOnly,
	"presentsrc":             rhi.ImageLayoutPresentSrc,
}

func textureFormat(name string) (gputypes.TextureFormat, error) {
	return lookup("texture format", name, textureFormats...)
}

func vertexFormat(name string) (gputypes.VertexFormat, error) {
	f, ok := vertexFormats[normalize(name)]
	if !ok {
		return 0, fmt.Errorf("%w: vertex format %q", ErrUnknownName, name)
	}
	return f, nil
}

func descriptorType(name string) (rhi.DescriptorType, error) {
	return lookup("descriptor type", name,
		rhi.DescriptorTypeUniformBuffer,
		rhi.DescriptorTypeStorageBuffer,
		rhi.DescriptorTypeCombinedImageSampler,
		rhi.DescriptorTypeInputAttachment)
}

func imageLayout(name string) (rhi.ImageLayout, error) {
	l, ok := imageLayouts[normalize(name)]
	if !ok {
		return 0, fmt.Errorf("%w: image layout %q", ErrUnknownName, name)
	}
	return l, nil
}

// orDefault returns def for an empty name and parse(name) otherwise.
func orDefault[T any](name string, def T, parse func(string) (T, error)) (T, error) {
	if name == "" {
		return def, nil
	}
	return parse(name)
}

func loadOp(name string) (gputypes.LoadOp, error) {
	return orDefault(name, gputypes.LoadOpClear, func(n string) (gputypes.LoadOp, error) {
		return lookup("load op", n, gputypes.LoadOpLoad, gputypes.LoadOpClear)
	})
}

func storeOp(name string) (gputypes.StoreOp, error) {
	return orDefault(name, gputypes.StoreOpStore, func(n string) (gputypes.StoreOp, error) {
		return lookup("store op", n, gputypes.StoreOpStore, gputypes.StoreOpDiscard)
	})
}

func topology(name string) (gputypes.PrimitiveTopology, error) {
	return orDefault(name, gputypes.PrimitiveTopologyTriangleList, func(n string) (gputypes.PrimitiveTopology, error) {
		return lookup("topology", n,
			gputypes.PrimitiveTopologyPointList,
			gputypes.PrimitiveTopologyLineList,
			gputypes.PrimitiveTopologyLineStrip,
			gputypes.PrimitiveTopologyTriangleList,
			gputypes.PrimitiveTopologyTriangleStrip)
	})
}

func cullMode(name string) (gputypes.CullMode, error) {
	return orDefault(name, gputypes.CullModeNone, func(n string) (gputypes.CullMode, error) {
		return lookup("cull mode", n, gputypes.CullModeNone, gputypes.CullModeFront, gputypes.CullModeBack)
	})
}

func compareFunction(name string) (gputypes.CompareFunction, error) {
	return orDefault(name, gputypes.CompareFunctionLess, func(n string) (gputypes.CompareFunction, error) {
		return lookup("compare function", n,
			gputypes.CompareFunctionNever,
			gputypes.CompareFunctionLess,
			gputypes.CompareFunctionEqual,
			gputypes.CompareFunctionLessEqual,
			gputypes.CompareFunctionGreater,
			gputypes.CompareFunctionNotEqual,
			gputypes.CompareFunctionGreaterEqual,
			gputypes.CompareFunctionAlways)
	})
}

func filterMode(name string) (gputypes.FilterMode, error) {
	return orDefault(name, gputypes.FilterModeLinear, func(n string) (gputypes.FilterMode, error) {
		return lookup("filter", n, gputypes.FilterModeNearest, gputypes.FilterModeLinear)
	})
}
