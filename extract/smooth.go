package extract

import (
	"context"
	"sync/atomic"

	"github.com/soypat/imesh/bvh"
	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Surface projects points back onto the input geometry.
type Surface interface {
	// Project moves p along its normal n onto the surface. ok is false
	// when no surface point lies within maxDist.
	Project(p, n r3.Vec, maxDist float64) (q r3.Vec, ok bool)
}

// TriangleSurface projects onto a triangle mesh by casting rays both ways
// along the normal.
type TriangleSurface struct {
	Tree *bvh.Tree
}

func (s TriangleSurface) Project(p, n r3.Vec, maxDist float64) (q r3.Vec, ok bool) {
	n = d3.Unit(n)
	if n == (r3.Vec{}) {
		return p, false
	}
	best := maxDist
	for _, dir := range [2]r3.Vec{n, r3.Scale(-1, n)} {
		ray := d3.Ray{Origin: p, Dir: dir}
		if hit, hitOK := s.Tree.RayIntersect(ray, best); hitOK {
			best, q, ok = hit.T, ray.At(hit.T), true
		}
	}
	return q, ok
}

// PointSurface projects onto the tangent plane of the nearest point of an
// oriented point cloud. The distance bound is not applied since every
// query has a nearest point.
type PointSurface struct {
	Index *bvh.PointIndex
	V, N  []r3.Vec
}

func (s PointSurface) Project(p, n r3.Vec, maxDist float64) (r3.Vec, bool) {
	i, _, ok := s.Index.Nearest(p)
	if !ok {
		return p, false
	}
	vi, ni := s.V[i], s.N[i]
	return r3.Sub(p, r3.Scale(r3.Dot(r3.Sub(p, vi), ni), ni)), true
}

// smooth runs Laplacian smoothing rounds over the non crease vertices of
// m. After each round vertex normals are re-estimated from the covariance
// of the one ring and, when surf is set, vertices are projected back onto
// it. It returns the number of failed projections in the last round.
func smooth(ctx context.Context, m *mesh.Mesh, crease []bool, rounds int, scale float64, surf Surface, pool *parallel.Pool) int {
	adj := vertexNeighbours(m)
	next := make([]r3.Vec, len(m.V))
	var misses atomic.Int64
	for r := 0; r < rounds && ctx.Err() == nil; r++ {
		misses.Store(0)
		pool.For(len(m.V), func(i int) {
			next[i] = m.V[i]
			if crease[i] || len(adj[i]) == 0 {
				return
			}
			var c r3.Vec
			for _, j := range adj[i] {
				c = r3.Add(c, m.V[j])
			}
			next[i] = r3.Scale(1/float64(len(adj[i])), c)
		})
		m.V, next = next, m.V
		pool.For(len(m.V), func(i int) {
			if n, ok := covarianceNormal(m.V, i, adj[i]); ok {
				if r3.Dot(n, m.N[i]) < 0 {
					n = r3.Scale(-1, n)
				}
				m.N[i] = n
			}
		})
		if surf == nil {
			continue
		}
		pool.For(len(m.V), func(i int) {
			if crease[i] {
				return
			}
			if q, ok := surf.Project(m.V[i], m.N[i], scale/2); ok {
				m.V[i] = q
			} else {
				misses.Add(1)
			}
		})
	}
	return int(misses.Load())
}

// covarianceNormal estimates the normal at vertex i as the direction of
// least variance of i and its neighbours.
func covarianceNormal(V []r3.Vec, i int, nbrs []uint32) (r3.Vec, bool) {
	if len(nbrs) < 2 {
		return r3.Vec{}, false
	}
	mean := V[i]
	for _, j := range nbrs {
		mean = r3.Add(mean, V[j])
	}
	mean = r3.Scale(1/float64(len(nbrs)+1), mean)
	cov := mat.NewSymDense(3, nil)
	accum := func(p r3.Vec) {
		d := [3]float64{p.X - mean.X, p.Y - mean.Y, p.Z - mean.Z}
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				cov.SetSym(a, b, cov.At(a, b)+d[a]*d[b])
			}
		}
	}
	accum(V[i])
	for _, j := range nbrs {
		accum(V[j])
	}
	var svd mat.SVD
	if !svd.Factorize(cov, mat.SVDFull) {
		return r3.Vec{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	n := d3.Unit(r3.Vec{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)})
	return n, n != (r3.Vec{})
}
