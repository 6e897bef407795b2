package passes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/gputypes"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// VertexSize is the byte stride of a packed Vertex.
const VertexSize = 32

// MaxTextureSize bounds mesh textures; larger images are downscaled.
const MaxTextureSize = 1024

// ErrEmptyMesh is returned for a mesh without vertices.
var ErrEmptyMesh = errors.New("passes: mesh has no vertices")

// Vertex is one mesh vertex: position, normal and texture coordinate.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	UV       [2]float32
}

// VertexLayout is the vertex buffer layout of Vertex, with position,
// normal and uv at locations 0, 1 and 2.
var VertexLayout = gputypes.VertexBufferLayout{
	ArrayStride: VertexSize,
	StepMode:    gputypes.VertexStepModeVertex,
	Attributes: []gputypes.VertexAttribute{
		{Format: gputypes.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
		{Format: gputypes.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
		{Format: gputypes.VertexFormatFloat32x2, Offset: 24, ShaderLocation: 2},
	},
}

// Mesh is an indexed triangle list with an albedo texture. A nil Albedo
// samples plain white.
type Mesh struct {
	Name     string
	Vertices []Vertex
	Indices  []uint16
	Albedo   image.Image
}

// Validate reports whether m can be uploaded.
func (m *Mesh) Validate() error {
	if len(m.Vertices) == 0 {
		return fmt.Errorf("%w: %q", ErrEmptyMesh, m.Name)
	}
	for i, idx := range m.Indices {
		if int(idx) >= len(m.Vertices) {
			return fmt.Errorf("passes: mesh %q index %d refers to vertex %d of %d",
				m.Name, i, idx, len(m.Vertices))
		}
	}
	return nil
}

// VertexBytes packs the vertices little-endian at VertexSize stride.
func (m *Mesh) VertexBytes() []byte {
	buf := make([]byte, len(m.Vertices)*VertexSize)
	for i, v := range m.Vertices {
		off := i * VertexSize
		floats := [8]float32{
			v.Position[0], v.Position[1], v.Position[2],
			v.Normal[0], v.Normal[1], v.Normal[2],
			v.UV[0], v.UV[1],
		}
		for j, f := range floats {
			binary.LittleEndian.PutUint32(buf[off+j*4:], math.Float32bits(f))
		}
	}
	return buf
}

// IndexBytes packs the indices as little-endian uint16.
func (m *Mesh) IndexBytes() []byte {
	buf := make([]byte, len(m.Indices)*2)
	for i, idx := range m.Indices {
		binary.LittleEndian.PutUint16(buf[i*2:], idx)
	}
	return buf
}

// Light is a directional light with an ambient term.
type Light struct {
	Direction [3]float32
	Color     [3]float32
	Ambient   float32
}

// Bytes packs the light as the lighting shader's uniform block.
func (l Light) Bytes() []byte {
	return packFloats([]float32{
		l.Direction[0], l.Direction[1], l.Direction[2], 0,
		l.Color[0], l.Color[1], l.Color[2], l.Ambient,
	})
}

// Scene is what the deferred pipeline draws.
type Scene struct {
	Meshes []Mesh

	// ViewProj is a column-major clip-from-world matrix.
	ViewProj [16]float32
	Light    Light
}

// Validate checks every mesh and rejects duplicate names.
func (s *Scene) Validate() error {
	seen := make(map[string]bool, len(s.Meshes))
	for i := range s.Meshes {
		m := &s.Meshes[i]
		if seen[m.Name] {
			return fmt.Errorf("passes: duplicate mesh %q", m.Name)
		}
		seen[m.Name] = true
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CameraBytes packs ViewProj as the camera uniform block.
func (s *Scene) CameraBytes() []byte { return packFloats(s.ViewProj[:]) }

func packFloats(fs []float32) []byte {
	buf := make([]byte, len(fs)*4)
	for i, f := range fs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Identity returns the identity matrix.
func Identity() [16]float32 {
	return [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// TextureFromImage converts img to a tightly packed RGBA8 image descriptor.
// Images wider or taller than MaxTextureSize are scaled down, keeping the
// aspect ratio.
func TextureFromImage(label string, img image.Image) rhi.ImageDescriptor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > MaxTextureSize || h > MaxTextureSize {
		scale := float64(MaxTextureSize) / float64(max(w, h))
		w = max(1, int(float64(w)*scale))
		h = max(1, int(float64(h)*scale))
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	}
	return rhi.ImageDescriptor{
		Label:  label,
		Width:  uint32(w),
		Height: uint32(h),
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		Pixels: dst.Pix,
	}
}

// Checker returns a size x size checkerboard of cell-pixel squares.
func Checker(size, cell int, a, b color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := a
			if (x/cell+y/cell)%2 == 1 {
				c = b
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// Cube returns a unit cube centered on the origin with per-face normals.
func Cube(name string, albedo image.Image) Mesh {
	faces := [6]struct{ n, u, v [3]float32 }{
		{[3]float32{0, 0, 1}, [3]float32{1, 0, 0}, [3]float32{0, 1, 0}},
		{[3]float32{0, 0, -1}, [3]float32{-1, 0, 0}, [3]float32{0, 1, 0}},
		{[3]float32{1, 0, 0}, [3]float32{0, 0, -1}, [3]float32{0, 1, 0}},
		{[3]float32{-1, 0, 0}, [3]float32{0, 0, 1}, [3]float32{0, 1, 0}},
		{[3]float32{0, 1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, -1}},
		{[3]float32{0, -1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, 1}},
	}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}

	m := Mesh{Name: name, Albedo: albedo}
	for _, f := range faces {
		base := uint16(len(m.Vertices))
		for _, c := range corners {
			var pos [3]float32
			for k := range pos {
				pos[k] = 0.5 * (f.n[k] + c[0]*f.u[k] + c[1]*f.v[k])
			}
			m.Vertices = append(m.Vertices, Vertex{
				Position: pos,
				Normal:   f.n,
				UV:       [2]float32{(c[0] + 1) / 2, (1 - c[1]) / 2},
			})
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return m
}

// DemoScene is a single checkered cube lit from the upper left.
func DemoScene() *Scene {
	return &Scene{
		Meshes: []Mesh{
			Cube("cube", Checker(64, 8, color.RGBA{R: 220, G: 220, B: 220, A: 255}, color.RGBA{R: 40, G: 90, B: 160, A: 255})),
		},
		ViewProj: Identity(),
		Light: Light{
			Direction: [3]float32{-0.4, -0.7, -0.6},
			Color:     [3]float32{1, 0.95, 0.9},
			Ambient:   0.15,
		},
	}
}
