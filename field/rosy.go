package field

import (
	"math"

	"github.com/soypat/imesh/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// Orientation compatibility functions return representatives of the
// tangent directions q0 and q1 (with normals n0 and n1) that agree best
// under N-fold rotational symmetry. The extrinsic variants compare the raw
// vectors. The intrinsic variants first rotate q1 into the tangent plane
// of n0.
//
// The index variants return the number of 2π/N turns that map q0 and q1
// onto the representatives returned by the matching continuous variant.

func compatOrientationExtrinsic2(q0, n0, q1, n1 r3.Vec) (r3.Vec, r3.Vec) {
	return q0, r3.Scale(d3.Signum(r3.Dot(q0, q1)), q1)
}

func compatOrientationExtrinsicIndex2(q0, n0, q1, n1 r3.Vec) (int, int) {
	if r3.Dot(q0, q1) < 0 {
		return 0, 1
	}
	return 0, 0
}

func compatOrientationIntrinsic2(q0, n0, q1, n1 r3.Vec) (r3.Vec, r3.Vec) {
	q1 = d3.RotateIntoPlane(q1, n1, n0)
	return q0, r3.Scale(d3.Signum(r3.Dot(q0, q1)), q1)
}

func compatOrientationIntrinsicIndex2(q0, n0, q1, n1 r3.Vec) (int, int) {
	q1 = d3.RotateIntoPlane(q1, n1, n0)
	if r3.Dot(q0, q1) < 0 {
		return 0, 1
	}
	return 0, 0
}

// bestPair returns the indices of the pair of A and B with the largest
// absolute dot product.
func bestPair(A, B []r3.Vec) (ba, bb int, dp float64) {
	best := math.Inf(-1)
	for i, a := range A {
		for j, b := range B {
			if s := math.Abs(r3.Dot(a, b)); s > best {
				best, ba, bb = s, i, j
			}
		}
	}
	return ba, bb, r3.Dot(A[ba], B[bb])
}

func compatOrientationExtrinsic4(q0, n0, q1, n1 r3.Vec) (r3.Vec, r3.Vec) {
	A := [2]r3.Vec{q0, r3.Cross(n0, q0)}
	B := [2]r3.Vec{q1, r3.Cross(n1, q1)}
	a, b, dp := bestPair(A[:], B[:])
	return A[a], r3.Scale(d3.Signum(dp), B[b])
}

func compatOrientationExtrinsicIndex4(q0, n0, q1, n1 r3.Vec) (int, int) {
	A := [2]r3.Vec{q0, r3.Cross(n0, q0)}
	B := [2]r3.Vec{q1, r3.Cross(n1, q1)}
	a, b, dp := bestPair(A[:], B[:])
	if dp < 0 {
		b += 2
	}
	return a, b
}

func compatOrientationIntrinsic4(q0, n0, q1, n1 r3.Vec) (r3.Vec, r3.Vec) {
	q1 = d3.RotateIntoPlane(q1, n1, n0)
	t1 := r3.Cross(n0, q1)
	dp0, dp1 := r3.Dot(q1, q0), r3.Dot(t1, q0)
	if math.Abs(dp0) > math.Abs(dp1) {
		return q0, r3.Scale(d3.Signum(dp0), q1)
	}
	return q0, r3.Scale(d3.Signum(dp1), t1)
}

func compatOrientationIntrinsicIndex4(q0, n0, q1, n1 r3.Vec) (int, int) {
	q1 = d3.RotateIntoPlane(q1, n1, n0)
	t1 := r3.Cross(n0, q1)
	dp0, dp1 := r3.Dot(q1, q0), r3.Dot(t1, q0)
	if math.Abs(dp0) > math.Abs(dp1) {
		if dp0 < 0 {
			return 0, 2
		}
		return 0, 0
	}
	if dp1 < 0 {
		return 0, 3
	}
	return 0, 1
}

// sixfold lists the turns of the candidates {-60°, 0°, 60°} used by the
// six-fold functions.
var sixfold = [3]int{5, 0, 1}

func compatOrientationExtrinsic6(q0, n0, q1, n1 r3.Vec) (r3.Vec, r3.Vec) {
	A := [3]r3.Vec{d3.Rotate60(q0, r3.Scale(-1, n0)), q0, d3.Rotate60(q0, n0)}
	B := [3]r3.Vec{d3.Rotate60(q1, r3.Scale(-1, n1)), q1, d3.Rotate60(q1, n1)}
	a, b, dp := bestPair(A[:], B[:])
	return A[a], r3.Scale(d3.Signum(dp), B[b])
}

func compatOrientationExtrinsicIndex6(q0, n0, q1, n1 r3.Vec) (int, int) {
	A := [3]r3.Vec{d3.Rotate60(q0, r3.Scale(-1, n0)), q0, d3.Rotate60(q0, n0)}
	B := [3]r3.Vec{d3.Rotate60(q1, r3.Scale(-1, n1)), q1, d3.Rotate60(q1, n1)}
	a, b, dp := bestPair(A[:], B[:])
	ib := sixfold[b]
	if dp < 0 {
		ib = (ib + 3) % 6
	}
	return sixfold[a], ib
}

func compatOrientationIntrinsic6(q0, n0, q1, n1 r3.Vec) (r3.Vec, r3.Vec) {
	q1 = d3.RotateIntoPlane(q1, n1, n0)
	B := [3]r3.Vec{d3.Rotate60(q1, r3.Scale(-1, n0)), q1, d3.Rotate60(q1, n0)}
	_, b, dp := bestPair([]r3.Vec{q0}, B[:])
	return q0, r3.Scale(d3.Signum(dp), B[b])
}

func compatOrientationIntrinsicIndex6(q0, n0, q1, n1 r3.Vec) (int, int) {
	q1 = d3.RotateIntoPlane(q1, n1, n0)
	B := [3]r3.Vec{d3.Rotate60(q1, r3.Scale(-1, n0)), q1, d3.Rotate60(q1, n0)}
	_, b, dp := bestPair([]r3.Vec{q0}, B[:])
	ib := sixfold[b]
	if dp < 0 {
		ib = (ib + 3) % 6
	}
	return 0, ib
}

// RotateIndex rotates the tangent vector q about n by k turns of 2π/rosy.
func RotateIndex(q, n r3.Vec, k, rosy int) r3.Vec {
	k = d3.Mod(k, rosy)
	switch rosy {
	case 2:
		if k == 1 {
			return r3.Scale(-1, q)
		}
		return q
	case 4:
		return d3.Rotate90By(q, n, k)
	case 6:
		return d3.Rotate60By(q, n, k)
	}
	panic("field: unsupported rotational symmetry")
}
