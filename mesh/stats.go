package mesh

import (
	"math"

	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/parallel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the size of a mesh.
type Stats struct {
	Box            d3.Box
	WeightedCenter r3.Vec
	SurfaceArea    float64

	AverageEdgeLength float64
	MaximumEdgeLength float64
	MinimumEdgeLength float64
}

// ComputeStats computes bounding box, area weighted center, surface area
// and edge length statistics of m. Each face corner contributes its
// outgoing edge, so interior edges are counted twice. Point clouds use the
// distance from each point to its nearest neighbour instead of edge lengths
// which requires nn; nn is unused for meshes and may be nil.
func ComputeStats(m *Mesh, nn NeighborQuerier, pool *parallel.Pool) Stats {
	var st Stats
	st.Box = d3.EmptyBox()
	for _, v := range m.V {
		if d3.IsFinite(v) {
			st.Box = st.Box.Include(v)
		}
	}
	if m.IsPointCloud() {
		if nn == nil || len(m.V) < 2 {
			st.WeightedCenter = st.Box.Center()
			return st
		}
		dist := NearestDistances(m, nn, pool)
		st.AverageEdgeLength = stat.Mean(dist, nil)
		st.MaximumEdgeLength = floats.Max(dist)
		st.MinimumEdgeLength = floats.Min(dist)
		xs, ys, zs := coords(m.V)
		st.WeightedCenter = r3.Vec{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
		return st
	}

	nf := m.NumFaces()
	deg := m.Deg
	lengths := make([]float64, len(m.F))
	areas := make([]float64, nf)
	cx, cy, cz := make([]float64, nf), make([]float64, nf), make([]float64, nf)
	pool.ForRange(nf, 0, func(lo, hi int) {
		for f := lo; f < hi; f++ {
			face := m.Face(f)
			var centroid r3.Vec
			var area float64
			for k := 0; k < deg; k++ {
				a, b := m.V[face[k]], m.V[face[(k+1)%deg]]
				lengths[deg*f+k] = r3.Norm(r3.Sub(b, a))
				centroid = r3.Add(centroid, a)
			}
			// Fan triangulation about corner 0 also covers degenerate quads.
			for k := 1; k+1 < deg; k++ {
				area += d3.Triangle{m.V[face[0]], m.V[face[k]], m.V[face[k+1]]}.Area()
			}
			centroid = r3.Scale(1/float64(deg), centroid)
			areas[f] = area
			cx[f], cy[f], cz[f] = centroid.X, centroid.Y, centroid.Z
		}
	})
	st.SurfaceArea = floats.Sum(areas)
	if st.SurfaceArea > 0 {
		st.WeightedCenter = r3.Vec{X: stat.Mean(cx, areas), Y: stat.Mean(cy, areas), Z: stat.Mean(cz, areas)}
	} else {
		st.WeightedCenter = st.Box.Center()
	}
	if len(lengths) > 0 {
		st.AverageEdgeLength = stat.Mean(lengths, nil)
		st.MaximumEdgeLength = floats.Max(lengths)
		st.MinimumEdgeLength = floats.Min(lengths)
	}
	return st
}

func coords(v []r3.Vec) (xs, ys, zs []float64) {
	xs, ys, zs = make([]float64, 0, len(v)), make([]float64, 0, len(v)), make([]float64, 0, len(v))
	for _, p := range v {
		if !d3.IsFinite(p) {
			continue
		}
		xs = append(xs, p.X)
		ys = append(ys, p.Y)
		zs = append(zs, p.Z)
	}
	return xs, ys, zs
}

// DualVertexAreas returns the barycentric dual cell area of every vertex of
// a triangle mesh: the part of each incident triangle closer to the vertex
// than the edge midpoints and centroid. Non-manifold and isolated vertices
// get zero area.
func DualVertexAreas(m *Mesh, d *DEdge, pool *parallel.Pool) []float64 {
	A := make([]float64, len(m.V))
	pool.ForRange(len(m.V), 0, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			v := m.V[i]
			var area float64
			d.Umbrella(uint32(i), func(e uint32) {
				next := m.V[m.F[d.Next(e)]]
				prev := m.V[m.F[d.Prev(e)]]
				if m.Deg == 4 {
					// Dual cell of the quad corner: vertex, both edge midpoints
					// and the face centroid.
					f := e / 4
					face := m.Face(int(f))
					if face[3] != face[2] {
						c := r3.Scale(0.25, r3.Add(r3.Add(m.V[face[0]], m.V[face[1]]), r3.Add(m.V[face[2]], m.V[face[3]])))
						area += dualCorner(v, next, prev, c)
						return
					}
				}
				c := r3.Scale(1./3, r3.Add(v, r3.Add(next, prev)))
				area += dualCorner(v, next, prev, c)
			})
			if math.IsNaN(area) {
				area = 0
			}
			A[i] = area
		}
	})
	return A
}

func dualCorner(v, next, prev, centroid r3.Vec) float64 {
	midNext := r3.Scale(0.5, r3.Add(v, next))
	midPrev := r3.Scale(0.5, r3.Add(v, prev))
	vc := r3.Sub(v, centroid)
	return 0.5 * (r3.Norm(r3.Cross(r3.Sub(v, midPrev), vc)) + r3.Norm(r3.Cross(r3.Sub(v, midNext), vc)))
}
