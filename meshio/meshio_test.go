package meshio

import (
	"bytes"
	"errors"
	"image/png"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot/cmpimg"
)

// cube returns the unit cube as six outward facing quads.
func cube() *mesh.Mesh {
	return &mesh.Mesh{
		Deg: 4,
		V: []r3.Vec{
			{}, {X: 1}, {X: 1, Y: 1}, {Y: 1},
			{Z: 1}, {X: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {Y: 1, Z: 1},
		},
		F: []uint32{
			0, 3, 2, 1,
			4, 5, 6, 7,
			0, 1, 5, 4,
			1, 2, 6, 5,
			2, 3, 7, 6,
			3, 0, 4, 7,
		},
	}
}

func TestSTLRoundTrip(t *testing.T) {
	src := cube()
	var buf bytes.Buffer
	require.NoError(t, WriteSTL(&buf, src))
	assert.Equal(t, 84+12*50, buf.Len())

	got, err := ReadSTL(&buf, 0)
	require.NoError(t, err)
	require.NoError(t, mesh.Validate(got))
	assert.Equal(t, 3, got.Deg)
	assert.Len(t, got.V, 8)
	assert.Equal(t, 12, got.NumFaces())
	area := 0.0
	for f := 0; f < got.NumFaces(); f++ {
		area += got.Triangle(f).Area()
	}
	assert.InDelta(t, 6, area, 1e-6)

	d, err := mesh.BuildDEdge(got, nil)
	require.NoError(t, err)
	assert.Zero(t, d.CountBoundary())
	assert.Zero(t, d.CountNonManifold())
}

func TestReadSTLSources(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSTL(&buf, cube()))
	data := buf.Bytes()

	// Readers that cannot seek are buffered.
	m, err := ReadSTL(iotest.HalfReader(bytes.NewReader(data)), 0)
	require.NoError(t, err)
	assert.Equal(t, 12, m.NumFaces())

	_, err = ReadSTL(iotest.ErrReader(errors.New("disk on fire")), 0)
	require.ErrorIs(t, err, errs.ErrInput)

	path := filepath.Join(t.TempDir(), "cube.stl")
	require.NoError(t, WriteSTLFile(path, cube()))
	m, err = ReadSTLFile(path, 0)
	require.NoError(t, err)
	assert.Len(t, m.V, 8)
	assert.Equal(t, 12, m.NumFaces())
}

func TestReadASCIISTL(t *testing.T) {
	const solid = `solid square
facet normal 0 0 1
  outer loop
    vertex 0 0 0
    vertex 1 0 0
    vertex 1 1 0
  endloop
endfacet
facet normal 0 0 1
  outer loop
    vertex 0 0 0
    vertex 1 1 0
    vertex 0 1 0
  endloop
endfacet
endsolid square
`
	m, err := ReadSTL(strings.NewReader(solid), 0)
	require.NoError(t, err)
	assert.Len(t, m.V, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, m.F)
}

func TestReadSTLRejects(t *testing.T) {
	_, err := ReadSTL(strings.NewReader("not an stl"), 0)
	require.ErrorIs(t, err, errs.ErrInput)

	_, err = Weld(nil, 0)
	require.ErrorIs(t, err, errs.ErrInput)

	var e *errs.Error
	_, err = Weld(cubeTriangles(), 10)
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errs.ErrConfig, e.Kind)
}

func cubeTriangles() []d3.Triangle {
	m := mesh.Triangulate(cube())
	tris := make([]d3.Triangle, m.NumFaces())
	for f := range tris {
		tris[f] = m.Triangle(f)
	}
	return tris
}

func TestWriteOBJ(t *testing.T) {
	m := &mesh.Mesh{
		Deg: 4,
		V:   []r3.Vec{{}, {X: 1}, {X: 1, Y: 1}, {Y: 1}, {X: 2}},
		F:   []uint32{0, 1, 2, 3, 1, 4, 2, 2},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteOBJ(&buf, m))
	want := "v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nv 2 0 0\nf 1 2 3 4\nf 2 5 3\n"
	assert.Equal(t, want, buf.String())

	m.N = []r3.Vec{{Z: 1}, {Z: 1}, {Z: 1}, {Z: 1}, {Z: 1}}
	buf.Reset()
	require.NoError(t, WriteOBJ(&buf, m))
	assert.Contains(t, buf.String(), "vn 0 0 1\n")
	assert.Contains(t, buf.String(), "f 2//2 5//5 3//3\n")
}

func TestRenderRepeatable(t *testing.T) {
	view := DefaultView()
	view.Width, view.Height, view.Supersample = 160, 90, 2
	encode := func() []byte {
		img, err := Render(cube(), view)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		return buf.Bytes()
	}
	a, b := encode(), encode()
	equal, err := cmpimg.EqualApprox("png", a, b, 0)
	require.NoError(t, err)
	assert.True(t, equal)

	_, err = Render(&mesh.Mesh{Deg: 3, V: []r3.Vec{{}}}, view)
	require.ErrorIs(t, err, errs.ErrInput)
}
