package field

import (
	"math"

	"github.com/soypat/imesh/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

const sqrt3Over2 = 0.866025403784439

// Index2 is a pair of integer lattice coordinates.
type Index2 [2]int

func (a Index2) Add(b Index2) Index2 { return Index2{a[0] + b[0], a[1] + b[1]} }
func (a Index2) Sub(b Index2) Index2 { return Index2{a[0] - b[0], a[1] - b[1]} }

// IsZero reports whether both coordinates are zero.
func (a Index2) IsZero() bool { return a == Index2{} }

// lattice describes the position symmetry: the two basis vectors of the
// lattice spanned by the frame (q, n).
type lattice func(q, n r3.Vec) (a, b r3.Vec)

// square is the PoSy 4 lattice.
func square(q, n r3.Vec) (r3.Vec, r3.Vec) {
	return q, r3.Cross(n, q)
}

// triangular is the PoSy 3 lattice.
func triangular(q, n r3.Vec) (r3.Vec, r3.Vec) {
	return q, r3.Add(r3.Scale(0.5, q), r3.Scale(sqrt3Over2, r3.Cross(n, q)))
}

// coords returns the lattice coordinates of d in the basis (a, b) where
// (q, t) is the orthonormal frame a lies in.
func (lat lattice) coords(q, n, d r3.Vec) (u, v float64) {
	t := r3.Cross(n, q)
	dq, dt := r3.Dot(q, d), r3.Dot(t, d)
	_, b := lat(q, n)
	bq, bt := r3.Dot(b, q), r3.Dot(b, t)
	v = dt / bt
	u = dq - v*bq
	return u, v
}

func (lat lattice) point(o, q, n r3.Vec, idx Index2, scale float64) r3.Vec {
	a, b := lat(q, n)
	return r3.Add(o, r3.Scale(scale, r3.Add(r3.Scale(float64(idx[0]), a), r3.Scale(float64(idx[1]), b))))
}

// floorIndex returns the lattice cell of origin o and frame (q, n) that
// contains p.
func (lat lattice) floorIndex(o, q, n, p r3.Vec, invScale float64) Index2 {
	u, v := lat.coords(q, n, r3.Sub(p, o))
	return Index2{int(math.Floor(u * invScale)), int(math.Floor(v * invScale))}
}

// roundIndex returns the lattice point of origin o and frame (q, n)
// closest to p.
func (lat lattice) roundIndex(o, q, n, p r3.Vec, scale, invScale float64) Index2 {
	base := lat.floorIndex(o, q, n, p, invScale)
	best, bestDist := base, math.Inf(1)
	for c := 0; c < 4; c++ {
		idx := base.Add(Index2{c & 1, c >> 1})
		if d := r3.Norm2(r3.Sub(lat.point(o, q, n, idx, scale), p)); d < bestDist {
			best, bestDist = idx, d
		}
	}
	return best
}

func (lat lattice) floor(o, q, n, p r3.Vec, scale, invScale float64) r3.Vec {
	return lat.point(o, q, n, lat.floorIndex(o, q, n, p, invScale), scale)
}

func (lat lattice) round(o, q, n, p r3.Vec, scale, invScale float64) r3.Vec {
	return lat.point(o, q, n, lat.roundIndex(o, q, n, p, scale, invScale), scale)
}

// MiddlePoint returns the point between p0 and p1 that best agrees with
// both tangent planes. The normals n0 and n1 must be unit length.
func MiddlePoint(p0, n0, p1, n1 r3.Vec) r3.Vec {
	n0p0, n0p1 := r3.Dot(n0, p0), r3.Dot(n0, p1)
	n1p0, n1p1 := r3.Dot(n1, p0), r3.Dot(n1, p1)
	n0n1 := r3.Dot(n0, n1)
	denom := 1 / (1 - n0n1*n0n1 + 1e-4)
	lambda0 := 2 * (n0p1 - n0p0 - n0n1*(n1p0-n1p1)) * denom
	lambda1 := 2 * (n1p0 - n1p1 - n0n1*(n0p1-n0p0)) * denom
	mid := r3.Scale(0.5, r3.Add(p0, p1))
	return r3.Sub(mid, r3.Scale(0.25, r3.Add(r3.Scale(lambda0, n0), r3.Scale(lambda1, n1))))
}

// compatPositionIndex finds the corners of the lattice cells around the
// middle point of the two vertices that are closest to each other. It
// returns their lattice indices and the squared distance between them.
func (lat lattice) compatPositionIndex(p0, n0, q0, o0, p1, n1, q1, o1 r3.Vec, scale, invScale float64) (Index2, Index2, float64) {
	mid := MiddlePoint(p0, n0, p1, n1)
	c0 := lat.floorIndex(o0, q0, n0, mid, invScale)
	c1 := lat.floorIndex(o1, q1, n1, mid, invScale)
	var corners0, corners1 [4]r3.Vec
	for c := 0; c < 4; c++ {
		off := Index2{c & 1, c >> 1}
		corners0[c] = lat.point(o0, q0, n0, c0.Add(off), scale)
		corners1[c] = lat.point(o1, q1, n1, c1.Add(off), scale)
	}
	best, bi, bj := math.Inf(1), 0, 0
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if d := r3.Norm2(r3.Sub(corners0[i], corners1[j])); d < best {
				best, bi, bj = d, i, j
			}
		}
	}
	return c0.Add(Index2{bi & 1, bi >> 1}), c1.Add(Index2{bj & 1, bj >> 1}), best
}

func (lat lattice) compatPositionExtrinsic(p0, n0, q0, o0, p1, n1, q1, o1 r3.Vec, scale, invScale float64) (r3.Vec, r3.Vec) {
	i0, i1, _ := lat.compatPositionIndex(p0, n0, q0, o0, p1, n1, q1, o1, scale, invScale)
	return lat.point(o0, q0, n0, i0, scale), lat.point(o1, q1, n1, i1, scale)
}

// intrinsicFrame rotates the frame of vertex 1 into the tangent plane of
// vertex 0.
func intrinsicFrame(n0, p1, n1, q1, o1 r3.Vec) (q, o r3.Vec) {
	q = d3.RotateIntoPlane(q1, n1, n0)
	o = r3.Add(d3.RotateIntoPlane(r3.Sub(o1, p1), n1, n0), p1)
	return q, o
}

func (lat lattice) compatPositionIntrinsic(p0, n0, q0, o0, p1, n1, q1, o1 r3.Vec, scale, invScale float64) (r3.Vec, r3.Vec) {
	q1, o1 = intrinsicFrame(n0, p1, n1, q1, o1)
	return lat.compatPositionExtrinsic(p0, n0, q0, o0, p1, n0, q1, o1, scale, invScale)
}

func (lat lattice) compatPositionIntrinsicIndex(p0, n0, q0, o0, p1, n1, q1, o1 r3.Vec, scale, invScale float64) (Index2, Index2, float64) {
	q1, o1 = intrinsicFrame(n0, p1, n1, q1, o1)
	return lat.compatPositionIndex(p0, n0, q0, o0, p1, n0, q1, o1, scale, invScale)
}
