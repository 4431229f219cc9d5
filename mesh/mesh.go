// Package mesh holds the input surface representation and the preprocessing
// stages that run before field optimization: directed edges, normals, dual
// areas, statistics, subdivision and the Link adjacency graphs.
package mesh

import (
	"fmt"
	"math"

	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/errs"
	"gonum.org/v1/gonum/spatial/r3"
)

// Invalid marks a missing edge, vertex or face index.
const Invalid = ^uint32(0)

// Mesh is an indexed polygon mesh. F holds Deg vertex indices per face,
// stored contiguously so that face f is F[Deg*f : Deg*f+Deg]. Deg is 3 or 4.
// A quad whose last index repeats its third one is a triangle. A mesh with
// no faces is an oriented point cloud; N is then required.
type Mesh struct {
	F   []uint32
	Deg int
	V   []r3.Vec
	N   []r3.Vec
}

// NumFaces returns the number of faces.
func (m *Mesh) NumFaces() int {
	if m.Deg == 0 {
		return 0
	}
	return len(m.F) / m.Deg
}

// NumVertices returns the number of vertices.
func (m *Mesh) NumVertices() int { return len(m.V) }

// IsPointCloud reports whether m has vertices but no faces.
func (m *Mesh) IsPointCloud() bool { return len(m.F) == 0 }

// Face returns the vertex indices of face f. The returned slice aliases F.
func (m *Mesh) Face(f int) []uint32 {
	return m.F[m.Deg*f : m.Deg*f+m.Deg]
}

// Triangle returns the corner positions of triangular face f.
func (m *Mesh) Triangle(f int) d3.Triangle {
	i := 3 * f
	return d3.Triangle{m.V[m.F[i]], m.V[m.F[i+1]], m.V[m.F[i+2]]}
}

// Validate checks face arity, index bounds and coordinates. It returns an
// error of kind errs.ErrInput describing the first problem found.
func Validate(m *Mesh) error {
	const stage = "validate"
	nv := uint32(len(m.V))
	if nv == 0 {
		return errs.New(errs.ErrInput, stage, "mesh has no vertices")
	}
	if len(m.N) != 0 && len(m.N) != len(m.V) {
		return errs.New(errs.ErrInput, stage, "%d normals for %d vertices", len(m.N), len(m.V))
	}
	if len(m.F) == 0 {
		if len(m.N) == 0 {
			return errs.New(errs.ErrInput, stage, "point cloud requires normals")
		}
	} else {
		if m.Deg != 3 && m.Deg != 4 {
			return errs.New(errs.ErrInput, stage, "unsupported face degree %d", m.Deg)
		}
		if len(m.F)%m.Deg != 0 {
			return errs.New(errs.ErrInput, stage, "index buffer length %d is not a multiple of %d", len(m.F), m.Deg)
		}
		for k, idx := range m.F {
			if idx >= nv {
				return errs.New(errs.ErrInput, stage, "face %d references vertex %d of %d", k/m.Deg, idx, nv)
			}
		}
	}
	for i, v := range m.V {
		if !d3.IsFinite(v) {
			return errs.New(errs.ErrInput, stage, "vertex %d has non finite coordinates %v", i, v)
		}
	}
	for i, n := range m.N {
		if !d3.IsFinite(n) {
			return errs.New(errs.ErrInput, stage, "normal %d has non finite components %v", i, n)
		}
	}
	return nil
}

// Triangulate returns m with every quad split along its 0-2 diagonal.
// Degenerate quads become a single triangle. Vertex data is shared.
func Triangulate(m *Mesh) *Mesh {
	if m.Deg != 4 {
		return m
	}
	out := &Mesh{Deg: 3, V: m.V, N: m.N, F: make([]uint32, 0, 6*m.NumFaces())}
	for f := 0; f < m.NumFaces(); f++ {
		q := m.Face(f)
		out.F = append(out.F, q[0], q[1], q[2])
		if q[3] != q[2] {
			out.F = append(out.F, q[0], q[2], q[3])
		}
	}
	return out
}

// Diagnostics tallies recovered numerical and topological degeneracies.
// They never abort processing.
type Diagnostics struct {
	// DegenerateFaces counts faces with zero area or zero length edges.
	DegenerateFaces int
	// DegenerateAngles counts cotangent angles whose sine underflowed.
	DegenerateAngles int
	// NonManifoldVertices counts vertices excluded from umbrella traversal.
	NonManifoldVertices int
	// IsolatedVertices counts vertices referenced by no face.
	IsolatedVertices int
	// Outliers counts point cloud points discarded as small components.
	Outliers int
}

// Add returns the element-wise sum of two tallies.
func (d Diagnostics) Add(o Diagnostics) Diagnostics {
	d.DegenerateFaces += o.DegenerateFaces
	d.DegenerateAngles += o.DegenerateAngles
	d.NonManifoldVertices += o.NonManifoldVertices
	d.IsolatedVertices += o.IsolatedVertices
	d.Outliers += o.Outliers
	return d
}

// Empty reports whether nothing was counted.
func (d Diagnostics) Empty() bool { return d == Diagnostics{} }

func (d Diagnostics) String() string {
	return fmt.Sprintf("degenerate faces=%d angles=%d, non-manifold vertices=%d, isolated=%d, outliers=%d",
		d.DegenerateFaces, d.DegenerateAngles, d.NonManifoldVertices, d.IsolatedVertices, d.Outliers)
}

// infVec is the position given to discarded point cloud outliers.
var infVec = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
