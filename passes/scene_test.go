package passes

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float32At(buf []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
}

func TestCube(t *testing.T) {
	m := Cube("cube", nil)
	require.NoError(t, m.Validate())
	assert.Len(t, m.Vertices, 24)
	assert.Len(t, m.Indices, 36)

	for _, v := range m.Vertices {
		for k := range v.Position {
			assert.InDelta(t, 0.5, math.Abs(float64(v.Position[k])), 1e-6, "corner %v of the unit cube", v.Position)
		}
		// Every vertex lies on the face its normal points out of.
		var dot float32
		for k := range v.Position {
			dot += v.Position[k] * v.Normal[k]
		}
		assert.InDelta(t, 0.5, dot, 1e-6)
	}
}

func TestMeshBytes(t *testing.T) {
	m := Mesh{
		Name: "tri",
		Vertices: []Vertex{
			{Position: [3]float32{1, 2, 3}, Normal: [3]float32{0, 0, 1}, UV: [2]float32{0.25, 0.75}},
			{Position: [3]float32{4, 5, 6}},
		},
		Indices: []uint16{0, 1, 0},
	}
	vb := m.VertexBytes()
	require.Len(t, vb, 2*VertexSize)
	assert.Equal(t, float32(1), float32At(vb, 0))
	assert.Equal(t, float32(1), float32At(vb, 5), "normal z")
	assert.Equal(t, float32(0.75), float32At(vb, 7), "uv v")
	assert.Equal(t, float32(4), float32At(vb, 8), "second vertex starts at the stride")

	ib := m.IndexBytes()
	assert.Equal(t, []byte{0, 0, 1, 0, 0, 0}, ib)
	assert.Equal(t, uint64(VertexSize), VertexLayout.ArrayStride)
}

func TestMeshValidate(t *testing.T) {
	tests := []struct {
		name    string
		mesh    Mesh
		wantErr bool
	}{
		{"ok", Mesh{Name: "a", Vertices: make([]Vertex, 3), Indices: []uint16{0, 1, 2}}, false},
		{"non-indexed", Mesh{Name: "a", Vertices: make([]Vertex, 3)}, false},
		{"empty", Mesh{Name: "a"}, true},
		{"index out of range", Mesh{Name: "a", Vertices: make([]Vertex, 3), Indices: []uint16{0, 1, 3}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mesh.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSceneValidateDuplicateMesh(t *testing.T) {
	s := DemoScene()
	s.Meshes = append(s.Meshes, s.Meshes[0])
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate mesh")
}

func TestUniformBlocks(t *testing.T) {
	s := DemoScene()
	cam := s.CameraBytes()
	require.Len(t, cam, 64)
	assert.Equal(t, float32(1), float32At(cam, 0))
	assert.Equal(t, float32(1), float32At(cam, 15))

	light := s.Light.Bytes()
	require.Len(t, light, 32)
	assert.Equal(t, float32(0), float32At(light, 3), "direction w is padding")
	assert.Equal(t, s.Light.Ambient, float32At(light, 7))
}

func TestTextureFromImage(t *testing.T) {
	t.Run("converts to RGBA", func(t *testing.T) {
		src := image.NewGray(image.Rect(10, 10, 14, 12))
		src.SetGray(10, 10, color.Gray{Y: 200})
		desc := TextureFromImage("gray", src)

		assert.Equal(t, uint32(4), desc.Width)
		assert.Equal(t, uint32(2), desc.Height)
		assert.Equal(t, gputypes.TextureFormatRGBA8Unorm, desc.Format)
		require.Len(t, desc.Pixels, 4*2*4)
		assert.Equal(t, []byte{200, 200, 200, 255}, desc.Pixels[:4])
		assert.Equal(t, []byte{0, 0, 0, 255}, desc.Pixels[4:8])
	})

	t.Run("downscales large images", func(t *testing.T) {
		src := image.NewRGBA(image.Rect(0, 0, 2*MaxTextureSize, MaxTextureSize))
		desc := TextureFromImage("big", src)
		assert.Equal(t, uint32(MaxTextureSize), desc.Width)
		assert.Equal(t, uint32(MaxTextureSize/2), desc.Height)
		assert.Len(t, desc.Pixels, MaxTextureSize*MaxTextureSize/2*4)
	})
}

func TestChecker(t *testing.T) {
	a := color.RGBA{R: 255, A: 255}
	b := color.RGBA{B: 255, A: 255}
	img := Checker(4, 2, a, b)
	assert.Equal(t, a, img.At(0, 0))
	assert.Equal(t, b, img.At(2, 0))
	assert.Equal(t, b, img.At(0, 3))
	assert.Equal(t, a, img.At(3, 3))
}
