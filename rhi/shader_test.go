package rhi

import (
	"strings"
	"testing"
)

const triangleWGSL = `
@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    var pos = array<vec2<f32>, 3>(
        vec2<f32>(0.0, 0.5),
        vec2<f32>(-0.5, -0.5),
        vec2<f32>(0.5, -0.5),
    );
    return vec4<f32>(pos[idx], 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`

func TestCompileWGSL(t *testing.T) {
	words, err := CompileWGSL(triangleWGSL)
	if err != nil {
		if strings.Contains(err.Error(), "not yet implemented") || strings.Contains(err.Error(), "not supported") {
			t.Skipf("Skipping: naga feature not yet implemented: %v", err)
		}
		t.Fatalf("CompileWGSL failed: %v", err)
	}
	if len(words) == 0 {
		t.Fatal("SPIR-V output is empty")
	}
	// SPIR-V magic number
	if words[0] != 0x07230203 {
		t.Errorf("SPIR-V magic = %#x, want 0x07230203", words[0])
	}
}

func TestCompileWGSLInvalid(t *testing.T) {
	if _, err := CompileWGSL("fn broken( {"); err == nil {
		t.Error("CompileWGSL accepted invalid source")
	}
}

func TestCompileWGSLCached(t *testing.T) {
	first, err := CompileWGSL(triangleWGSL)
	if err != nil {
		t.Skipf("Skipping: %v", err)
	}
	before := spirvCache.Stats().Hits
	second, err := CompileWGSL(triangleWGSL)
	if err != nil {
		t.Fatalf("second CompileWGSL failed: %v", err)
	}
	if &first[0] != &second[0] {
		t.Error("second compile did not reuse the cached module")
	}
	if got := spirvCache.Stats().Hits; got != before+1 {
		t.Errorf("cache hits = %d, want %d", got, before+1)
	}
}
