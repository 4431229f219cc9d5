// Package meshio reads input meshes and writes remeshed output.
package meshio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/chewxy/math32"
	"github.com/hschendel/stl"
	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

const stage = "meshio"

// ReadSTL reads an ASCII or binary STL solid and welds vertices closer
// than tol. A zero tol is inferred from the shortest edge.
func ReadSTL(r io.Reader, tol float64) (*mesh.Mesh, error) {
	// The STL decoder seeks to tell ASCII from binary solids.
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, errs.New(errs.ErrInput, stage, "reading STL: %v", err)
		}
		rs = bytes.NewReader(b)
	}
	solid, err := stl.ReadAll(rs)
	if err != nil {
		return nil, errs.New(errs.ErrInput, stage, "reading STL: %v", err)
	}
	tris := make([]d3.Triangle, len(solid.Triangles))
	for i, t := range solid.Triangles {
		for k, v := range t.Vertices {
			if bad3F32(v) {
				return nil, errs.New(errs.ErrInput, stage, "triangle %d has a non finite vertex", i)
			}
			tris[i][k] = r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
		}
	}
	return Weld(tris, tol)
}

// ReadSTLFile is ReadSTL over the named file.
func ReadSTLFile(path string, tol float64) (*mesh.Mesh, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return ReadSTL(fp, tol)
}

func bad3F32(f [3]float32) bool {
	return math32.IsNaN(f[0]) || math32.IsInf(f[0], 0) ||
		math32.IsNaN(f[1]) || math32.IsInf(f[1], 0) ||
		math32.IsNaN(f[2]) || math32.IsInf(f[2], 0)
}

// Weld builds an indexed triangle mesh from a triangle soup. Vertices
// falling in the same cell of a grid with spacing tol share an index. A
// zero tol is 1/256 of the shortest edge.
func Weld(tris []d3.Triangle, tol float64) (*mesh.Mesh, error) {
	if len(tris) == 0 {
		return nil, errs.New(errs.ErrInput, stage, "no triangles")
	}
	bb := d3.EmptyBox()
	minDist2, maxDist2 := math.MaxFloat64, 0.0
	for _, tri := range tris {
		for k, v := range tri {
			bb = bb.Include(v)
			side2 := r3.Norm2(r3.Sub(tri[(k+1)%3], v))
			if side2 > 0 {
				minDist2 = math.Min(minDist2, side2)
			}
			maxDist2 = math.Max(maxDist2, side2)
		}
	}
	if maxDist2 == 0 {
		return nil, errs.New(errs.ErrInput, stage, "every triangle is degenerate")
	}
	suggested := math.Sqrt(minDist2) / 256
	if tol > math.Sqrt(maxDist2)/2 {
		return nil, errs.New(errs.ErrConfig, stage, "weld tolerance %g too large, suggested %g", tol, suggested)
	}
	if tol <= 0 {
		tol = suggested
	}
	size := bb.Size()
	if maxDim := math.Max(size.X, math.Max(size.Y, size.Z)); maxDim/tol > math.MaxInt64/2 {
		return nil, errs.New(errs.ErrConfig, stage, "weld tolerance %g too small for a model of size %g", tol, maxDim)
	}
	m := &mesh.Mesh{Deg: 3, F: make([]uint32, 0, 3*len(tris))}
	cache := make(map[[3]int64]uint32)
	ri := 1 / tol
	for _, tri := range tris {
		for _, v := range tri {
			s := r3.Scale(ri, r3.Sub(v, bb.Min))
			key := [3]int64{int64(s.X + 0.5), int64(s.Y + 0.5), int64(s.Z + 0.5)}
			idx, ok := cache[key]
			if !ok {
				idx = uint32(len(m.V))
				cache[key] = idx
				m.V = append(m.V, v)
			}
			m.F = append(m.F, idx)
		}
	}
	return m, nil
}

// stlHeader is the binary STL file header.
type stlHeader struct {
	_     [80]uint8
	Count uint32
}

// stlTriangle is one binary STL record.
type stlTriangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
	_       uint16 // attribute byte count
}

func (t stlTriangle) put(b []byte) {
	if len(b) < 50 {
		panic("need length 50 to marshal stlTriangle")
	}
	put3F32(b, t.Normal)
	put3F32(b[12:], t.Vertex1)
	put3F32(b[24:], t.Vertex2)
	put3F32(b[36:], t.Vertex3)
	binary.LittleEndian.PutUint16(b[48:], 0)
}

func put3F32(b []byte, f [3]float32) {
	_ = b[11] // early bounds check
	binary.LittleEndian.PutUint32(b, math.Float32bits(f[0]))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(f[1]))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(f[2]))
}

func f32(v r3.Vec) [3]float32 { return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)} }

// WriteSTL writes m as a binary STL. Quads are split along their 0-2
// diagonal.
func WriteSTL(w io.Writer, m *mesh.Mesh) error {
	t := mesh.Triangulate(m)
	if t.NumFaces() == 0 {
		return errs.New(errs.ErrInput, stage, "no faces to write")
	}
	bw := bufio.NewWriter(w)
	header := stlHeader{Count: uint32(t.NumFaces())}
	if err := binary.Write(bw, binary.LittleEndian, &header); err != nil {
		return err
	}
	var b [50]byte
	for f := 0; f < t.NumFaces(); f++ {
		tri := t.Triangle(f)
		d := stlTriangle{
			Normal:  f32(tri.Normal()),
			Vertex1: f32(tri[0]),
			Vertex2: f32(tri[1]),
			Vertex3: f32(tri[2]),
		}
		d.put(b[:])
		if _, err := bw.Write(b[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteSTLFile is WriteSTL to the named file.
func WriteSTLFile(path string, m *mesh.Mesh) error {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSTL(fp, m); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}
