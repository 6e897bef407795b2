package rhi

import (
	"fmt"

	"github.com/gogpu/naga"

	"github.com/JIA-ss/JoshuaVulkanEngine/internal/cache"
)

// spirvCache holds compiled modules keyed by WGSL source.
var spirvCache = cache.New[string, []uint32](64)

// CompileWGSL compiles WGSL source to SPIR-V words for backends that do not
// accept WGSL directly. Results are cached by source; callers must not
// modify the returned slice.
func CompileWGSL(source string) ([]uint32, error) {
	return spirvCache.GetOrCreate(source, func() ([]uint32, error) {
		return compileWGSL(source)
	})
}

func compileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("rhi: compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("rhi: compile shader: SPIR-V size %d is not a multiple of 4", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}
