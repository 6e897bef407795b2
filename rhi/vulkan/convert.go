//go:build !nogpu

package vulkan

import (
	"github.com/gogpu/gputypes"
	vk "github.com/vulkan-go/vulkan"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

var textureFormats = map[gputypes.TextureFormat]vk.Format{
	gputypes.TextureFormatR8Unorm:             vk.FormatR8Unorm,
	gputypes.TextureFormatRG8Unorm:            vk.FormatR8g8Unorm,
	gputypes.TextureFormatR16Float:            vk.FormatR16Sfloat,
	gputypes.TextureFormatR32Float:            vk.FormatR32Sfloat,
	gputypes.TextureFormatRG16Float:           vk.FormatR16g16Sfloat,
	gputypes.TextureFormatRGBA8Unorm:          vk.FormatR8g8b8a8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb:      vk.FormatR8g8b8a8Srgb,
	gputypes.TextureFormatBGRA8Unorm:          vk.FormatB8g8r8a8Unorm,
	gputypes.TextureFormatBGRA8UnormSrgb:      vk.FormatB8g8r8a8Srgb,
	gputypes.TextureFormatRGB10A2Unorm:        vk.FormatA2b10g10r10UnormPack32,
	gputypes.TextureFormatRGBA16Float:         vk.FormatR16g16b16a16Sfloat,
	gputypes.TextureFormatRGBA32Float:         vk.FormatR32g32b32a32Sfloat,
	gputypes.TextureFormatDepth16Unorm:        vk.FormatD16Unorm,
	gputypes.TextureFormatDepth24Plus:         vk.FormatX8D24UnormPack32,
	gputypes.TextureFormatDepth24PlusStencil8: vk.FormatD24UnormS8Uint,
	gputypes.TextureFormatDepth32Float:        vk.FormatD32Sfloat,
}

func vkFormat(f gputypes.TextureFormat) (vk.Format, bool) {
	v, ok := textureFormats[f]
	return v, ok
}

func fromVkFormat(f vk.Format) gputypes.TextureFormat {
	for k, v := range textureFormats {
		if v == f {
			return k
		}
	}
	return gputypes.TextureFormatUndefined
}

var vertexFormats = map[gputypes.VertexFormat]vk.Format{
	gputypes.VertexFormatUnorm8x4:     vk.FormatR8g8b8a8Unorm,
	gputypes.VertexFormatFloat16x2:    vk.FormatR16g16Sfloat,
	gputypes.VertexFormatFloat16x4:    vk.FormatR16g16b16a16Sfloat,
	gputypes.VertexFormatFloat32:      vk.FormatR32Sfloat,
	gputypes.VertexFormatFloat32x2:    vk.FormatR32g32Sfloat,
	gputypes.VertexFormatFloat32x3:    vk.FormatR32g32b32Sfloat,
	gputypes.VertexFormatFloat32x4:    vk.FormatR32g32b32a32Sfloat,
	gputypes.VertexFormatUint32:       vk.FormatR32Uint,
	gputypes.VertexFormatUint32x2:     vk.FormatR32g32Uint,
	gputypes.VertexFormatUint32x3:     vk.FormatR32g32b32Uint,
	gputypes.VertexFormatUint32x4:     vk.FormatR32g32b32a32Uint,
	gputypes.VertexFormatSint32:       vk.FormatR32Sint,
	gputypes.VertexFormatSint32x2:     vk.FormatR32g32Sint,
	gputypes.VertexFormatSint32x3:     vk.FormatR32g32b32Sint,
	gputypes.VertexFormatSint32x4:     vk.FormatR32g32b32a32Sint,
	gputypes.VertexFormatUnorm16x2:    vk.FormatR16g16Unorm,
	gputypes.VertexFormatUnorm16x4:    vk.FormatR16g16b16a16Unorm,
	gputypes.VertexFormatUnorm8x2:     vk.FormatR8g8Unorm,
	gputypes.VertexFormatSnorm8x4:     vk.FormatR8g8b8a8Snorm,
	gputypes.VertexFormatUint8x4:      vk.FormatR8g8b8a8Uint,
	gputypes.VertexFormatUnorm1010102: vk.FormatA2b10g10r10UnormPack32,
}

func aspectOf(f gputypes.TextureFormat) vk.ImageAspectFlags {
	switch f {
	case gputypes.TextureFormatDepth24PlusStencil8:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	case gputypes.TextureFormatDepth16Unorm, gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth32Float:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func loadOp(op gputypes.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case gputypes.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case gputypes.LoadOpClear:
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpDontCare
}

func storeOp(op gputypes.StoreOp) vk.AttachmentStoreOp {
	if op == gputypes.StoreOpStore {
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}

func imageLayout(l rhi.ImageLayout) vk.ImageLayout {
	switch l {
	case rhi.ImageLayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case rhi.ImageLayoutDepthStencilAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case rhi.ImageLayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case rhi.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

// finalLayout picks a usable layout when the description leaves the final
// layout undefined, which Vulkan does not allow.
func finalLayout(a rhi.AttachmentDescription) vk.ImageLayout {
	if a.FinalLayout != rhi.ImageLayoutUndefined {
		return imageLayout(a.FinalLayout)
	}
	if rhi.IsDepthFormat(a.Format) {
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	}
	return vk.ImageLayoutColorAttachmentOptimal
}

func pipelineStages(s rhi.PipelineStage) vk.PipelineStageFlags {
	pairs := [...]struct {
		from rhi.PipelineStage
		to   vk.PipelineStageFlagBits
	}{
		{rhi.PipelineStageTopOfPipe, vk.PipelineStageTopOfPipeBit},
		{rhi.PipelineStageVertexShader, vk.PipelineStageVertexShaderBit},
		{rhi.PipelineStageFragmentShader, vk.PipelineStageFragmentShaderBit},
		{rhi.PipelineStageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit},
		{rhi.PipelineStageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit},
		{rhi.PipelineStageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
		{rhi.PipelineStageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
	}
	var out vk.PipelineStageFlagBits
	for _, p := range pairs {
		if s&p.from != 0 {
			out |= p.to
		}
	}
	return vk.PipelineStageFlags(out)
}

func accessFlags(a rhi.Access) vk.AccessFlags {
	pairs := [...]struct {
		from rhi.Access
		to   vk.AccessFlagBits
	}{
		{rhi.AccessShaderRead, vk.AccessShaderReadBit},
		{rhi.AccessInputAttachmentRead, vk.AccessInputAttachmentReadBit},
		{rhi.AccessColorAttachmentRead, vk.AccessColorAttachmentReadBit},
		{rhi.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
		{rhi.AccessDepthStencilRead, vk.AccessDepthStencilAttachmentReadBit},
		{rhi.AccessDepthStencilWrite, vk.AccessDepthStencilAttachmentWriteBit},
		{rhi.AccessMemoryRead, vk.AccessMemoryReadBit},
	}
	var out vk.AccessFlagBits
	for _, p := range pairs {
		if a&p.from != 0 {
			out |= p.to
		}
	}
	return vk.AccessFlags(out)
}

func descriptorType(t rhi.DescriptorType) vk.DescriptorType {
	switch t {
	case rhi.DescriptorTypeStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case rhi.DescriptorTypeCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case rhi.DescriptorTypeInputAttachment:
		return vk.DescriptorTypeInputAttachment
	}
	return vk.DescriptorTypeUniformBuffer
}

func shaderStages(s gputypes.ShaderStage) vk.ShaderStageFlags {
	if s == gputypes.ShaderStageNone {
		s = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	}
	var out vk.ShaderStageFlagBits
	if s&gputypes.ShaderStageVertex != 0 {
		out |= vk.ShaderStageVertexBit
	}
	if s&gputypes.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFragmentBit
	}
	if s&gputypes.ShaderStageCompute != 0 {
		out |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(out)
}

func bufferUsage(u gputypes.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&gputypes.BufferUsageCopySrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&gputypes.BufferUsageCopyDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	if u&gputypes.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	if u&gputypes.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	if u&gputypes.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&gputypes.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&gputypes.BufferUsageIndirect != 0 {
		out |= vk.BufferUsageIndirectBufferBit
	}
	return vk.BufferUsageFlags(out)
}

// imageUsage maps texture usage. Render attachments that are sampled are
// also usable as input attachments.
func imageUsage(u gputypes.TextureUsage, f gputypes.TextureFormat) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if u&gputypes.TextureUsageCopySrc != 0 {
		out |= vk.ImageUsageTransferSrcBit
	}
	if u&gputypes.TextureUsageCopyDst != 0 {
		out |= vk.ImageUsageTransferDstBit
	}
	if u&gputypes.TextureUsageTextureBinding != 0 {
		out |= vk.ImageUsageSampledBit
	}
	if u&gputypes.TextureUsageStorageBinding != 0 {
		out |= vk.ImageUsageStorageBit
	}
	if u&gputypes.TextureUsageRenderAttachment != 0 {
		if rhi.IsDepthFormat(f) {
			out |= vk.ImageUsageDepthStencilAttachmentBit
		} else {
			out |= vk.ImageUsageColorAttachmentBit
		}
		if u&gputypes.TextureUsageTextureBinding != 0 {
			out |= vk.ImageUsageInputAttachmentBit
		}
	}
	return vk.ImageUsageFlags(out)
}

func memoryProperties(m rhi.MemoryProperty) vk.MemoryPropertyFlags {
	if m == 0 {
		m = rhi.MemoryPropertyDeviceLocal
	}
	var out vk.MemoryPropertyFlagBits
	if m&rhi.MemoryPropertyDeviceLocal != 0 {
		out |= vk.MemoryPropertyDeviceLocalBit
	}
	if m&rhi.MemoryPropertyHostVisible != 0 {
		out |= vk.MemoryPropertyHostVisibleBit
	}
	if m&rhi.MemoryPropertyHostCoherent != 0 {
		out |= vk.MemoryPropertyHostCoherentBit
	}
	return vk.MemoryPropertyFlags(out)
}

func filter(f gputypes.FilterMode) vk.Filter {
	if f == gputypes.FilterModeNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func addressMode(m gputypes.AddressMode) vk.SamplerAddressMode {
	switch m {
	case gputypes.AddressModeRepeat:
		return vk.SamplerAddressModeRepeat
	case gputypes.AddressModeMirrorRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	}
	return vk.SamplerAddressModeClampToEdge
}

func topology(t gputypes.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return vk.PrimitiveTopologyPointList
	case gputypes.PrimitiveTopologyLineList:
		return vk.PrimitiveTopologyLineList
	case gputypes.PrimitiveTopologyLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case gputypes.PrimitiveTopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	}
	return vk.PrimitiveTopologyTriangleList
}

func cullMode(c gputypes.CullMode) vk.CullModeFlags {
	switch c {
	case gputypes.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case gputypes.CullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func compareOp(c gputypes.CompareFunction) vk.CompareOp {
	switch c {
	case gputypes.CompareFunctionNever:
		return vk.CompareOpNever
	case gputypes.CompareFunctionEqual:
		return vk.CompareOpEqual
	case gputypes.CompareFunctionLessEqual:
		return vk.CompareOpLessOrEqual
	case gputypes.CompareFunctionGreater:
		return vk.CompareOpGreater
	case gputypes.CompareFunctionNotEqual:
		return vk.CompareOpNotEqual
	case gputypes.CompareFunctionGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	case gputypes.CompareFunctionAlways:
		return vk.CompareOpAlways
	}
	return vk.CompareOpLess
}

func blendFactor(f gputypes.BlendFactor) vk.BlendFactor {
	switch f {
	case gputypes.BlendFactorZero:
		return vk.BlendFactorZero
	case gputypes.BlendFactorSrc:
		return vk.BlendFactorSrcColor
	case gputypes.BlendFactorOneMinusSrc:
		return vk.BlendFactorOneMinusSrcColor
	case gputypes.BlendFactorSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case gputypes.BlendFactorDst:
		return vk.BlendFactorDstColor
	case gputypes.BlendFactorOneMinusDst:
		return vk.BlendFactorOneMinusDstColor
	case gputypes.BlendFactorDstAlpha:
		return vk.BlendFactorDstAlpha
	case gputypes.BlendFactorOneMinusDstAlpha:
		return vk.BlendFactorOneMinusDstAlpha
	case gputypes.BlendFactorSrcAlphaSaturated:
		return vk.BlendFactorSrcAlphaSaturate
	case gputypes.BlendFactorConstant:
		return vk.BlendFactorConstantColor
	case gputypes.BlendFactorOneMinusConstant:
		return vk.BlendFactorOneMinusConstantColor
	}
	return vk.BlendFactorOne
}

func blendOp(op gputypes.BlendOperation) vk.BlendOp {
	switch op {
	case gputypes.BlendOperationSubtract:
		return vk.BlendOpSubtract
	case gputypes.BlendOperationReverseSubtract:
		return vk.BlendOpReverseSubtract
	case gputypes.BlendOperationMin:
		return vk.BlendOpMin
	case gputypes.BlendOperationMax:
		return vk.BlendOpMax
	}
	return vk.BlendOpAdd
}

func blendAttachment(b *gputypes.BlendState) vk.PipelineColorBlendAttachmentState {
	st := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
		BlendEnable: vk.False,
	}
	if b == nil {
		return st
	}
	st.BlendEnable = vk.True
	st.SrcColorBlendFactor = blendFactor(b.Color.SrcFactor)
	st.DstColorBlendFactor = blendFactor(b.Color.DstFactor)
	st.ColorBlendOp = blendOp(b.Color.Operation)
	st.SrcAlphaBlendFactor = blendFactor(b.Alpha.SrcFactor)
	st.DstAlphaBlendFactor = blendFactor(b.Alpha.DstFactor)
	st.AlphaBlendOp = blendOp(b.Alpha.Operation)
	return st
}

func indexType(t rhi.IndexType) vk.IndexType {
	if t == rhi.IndexTypeUint32 {
		return vk.IndexTypeUint32
	}
	return vk.IndexTypeUint16
}

func sampleCount(n uint32) vk.SampleCountFlagBits {
	switch n {
	case 2, 4, 8, 16, 32, 64:
		return vk.SampleCountFlagBits(n)
	}
	return vk.SampleCount1Bit
}

func clearValue(f gputypes.TextureFormat, cv rhi.ClearValue) vk.ClearValue {
	if rhi.IsDepthFormat(f) {
		return vk.NewClearDepthStencil(cv.Depth, cv.Stencil)
	}
	return vk.NewClearValue([]float32{
		float32(cv.Color.R), float32(cv.Color.G), float32(cv.Color.B), float32(cv.Color.A),
	})
}
