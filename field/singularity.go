package field

import (
	"math"

	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// corners returns the distinct corners of face f, dropping the repeated
// last corner of a triangle stored in a quad mesh.
func corners(m *mesh.Mesh, f int, buf []uint32) []uint32 {
	face := m.Face(f)
	buf = append(buf[:0], face...)
	if len(buf) == 4 && buf[3] == buf[2] {
		buf = buf[:3]
	}
	return buf
}

// OrientationSingularities returns the faces of m around which the
// orientation field Q does not close up, mapped to their index in units of
// 2π/Rosy. Only the indices 1 and Rosy-1 of valence changing singularities
// are reported; higher indices come from degenerate faces.
func OrientationSingularities(m *mesh.Mesh, Q, N []r3.Vec, fn *Functors, pool *parallel.Pool) map[uint32]int {
	nf := m.NumFaces()
	index := make([]int, nf)
	pool.ForRange(nf, parallel.DefaultGrain, func(lo, hi int) {
		var buf []uint32
		for f := lo; f < hi; f++ {
			c := corners(m, f, buf)
			buf = c
			sum := 0
			for k := range c {
				i, j := c[k], c[(k+1)%len(c)]
				a, b := fn.OrientationIndex(Q[i], N[i], Q[j], N[j])
				sum += b - a
			}
			index[f] = d3.Mod(sum, fn.Rosy)
		}
	})
	out := make(map[uint32]int)
	for f, idx := range index {
		if idx == 1 || idx == fn.Rosy-1 {
			out[uint32(f)] = idx
		}
	}
	return out
}

// PositionSingularities returns the faces of m around which the position
// field O does not close up, mapped to the accumulated lattice shift. The
// rotation of each corner is chosen among all Rosy^corners assignments to
// maximize the smallest pairwise agreement.
func PositionSingularities(m *mesh.Mesh, V, N, Q, O []r3.Vec, fn *Functors, scale float64, pool *parallel.Pool) map[uint32]Index2 {
	nf := m.NumFaces()
	shift := make([]Index2, nf)
	inv := 1 / scale
	pool.ForRange(nf, parallel.DefaultGrain, func(lo, hi int) {
		var buf []uint32
		for f := lo; f < hi; f++ {
			c := corners(m, f, buf)
			buf = c
			q := bestRotations(c, Q, N, fn)
			var trans Index2
			for k := range c {
				i, j := c[k], c[(k+1)%len(c)]
				a, b, _ := fn.PositionIndex(V[i], N[i], q[k], O[i], V[j], N[j], q[(k+1)%len(c)], O[j], scale, inv)
				trans = trans.Add(a.Sub(b))
			}
			shift[f] = trans
		}
	})
	out := make(map[uint32]Index2)
	for f, s := range shift {
		if !s.IsZero() {
			out[uint32(f)] = s
		}
	}
	return out
}

// bestRotations brute forces the rotation of each corner orientation.
func bestRotations(c []uint32, Q, N []r3.Vec, fn *Functors) [4]r3.Vec {
	var rot [4][6]r3.Vec
	for k, i := range c {
		for r := 0; r < fn.Rosy; r++ {
			rot[k][r] = fn.Rotate(Q[i], N[i], r)
		}
	}
	var best, cur [4]int
	bestDp := math.Inf(-1)
	total := 1
	for range c {
		total *= fn.Rosy
	}
	for code := 0; code < total; code++ {
		x := code
		for k := range c {
			cur[k] = x % fn.Rosy
			x /= fn.Rosy
		}
		dp := math.Inf(1)
		for k := range c {
			a, b := rot[k][cur[k]], rot[(k+1)%len(c)][cur[(k+1)%len(c)]]
			dp = math.Min(dp, r3.Dot(a, b))
		}
		if dp > bestDp {
			bestDp, best = dp, cur
		}
	}
	var q [4]r3.Vec
	for k := range c {
		q[k] = rot[k][best[k]]
	}
	return q
}
