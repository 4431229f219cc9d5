package d3

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// R3 vector helpers missing from gonum's r3 package.

// RcpOverflow is the smallest float32 whose reciprocal does not overflow.
// Sines and lengths below it are treated as degenerate.
const RcpOverflow = 2.93873587705571876e-39

func Elem(sides float64) r3.Vec {
	return r3.Vec{
		X: sides,
		Y: sides,
		Z: sides,
	}
}

func EqualWithin(a, b r3.Vec, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol &&
		math.Abs(a.Y-b.Y) <= tol &&
		math.Abs(a.Z-b.Z) <= tol
}

// MinElem return a vector with the minimum components of two vectors.
func MinElem(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)}
}

// MaxElem return a vector with the maximum components of two vectors.
func MaxElem(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)}
}

// Comp returns the i'th component of v: 0 for X, 1 for Y and 2 for Z.
func Comp(v r3.Vec, i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

// IsFinite reports whether no component of v is NaN or infinite.
func IsFinite(v r3.Vec) bool {
	return !math.IsNaN(v.X+v.Y+v.Z) && !math.IsInf(v.X+v.Y+v.Z, 0)
}

// Unit returns v normalized, or the zero vector when v has no length.
// Unlike r3.Unit it never produces NaN.
func Unit(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n < RcpOverflow {
		return r3.Vec{}
	}
	return r3.Scale(1/n, v)
}

// Lerp returns a + t*(b-a).
func Lerp(a, b r3.Vec, t float64) r3.Vec {
	return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
}

// ProjectTangent removes the component of v along the unit normal n.
func ProjectTangent(v, n r3.Vec) r3.Vec {
	return r3.Sub(v, r3.Scale(r3.Dot(n, v), n))
}

// CoordinateSystem returns two unit vectors forming an orthonormal frame
// with the unit vector n.
func CoordinateSystem(n r3.Vec) (s, t r3.Vec) {
	if math.Abs(n.X) > math.Abs(n.Y) {
		inv := 1 / math.Sqrt(n.X*n.X+n.Z*n.Z)
		t = r3.Vec{X: n.Z * inv, Y: 0, Z: -n.X * inv}
	} else {
		inv := 1 / math.Sqrt(n.Y*n.Y+n.Z*n.Z)
		t = r3.Vec{X: 0, Y: n.Z * inv, Z: -n.Y * inv}
	}
	return r3.Cross(t, n), t
}

// RotateIntoPlane rotates q about the axis src × dst so that a vector
// tangent to the plane with normal src becomes tangent to the plane with
// normal dst.
func RotateIntoPlane(q, src, dst r3.Vec) r3.Vec {
	cosTheta := r3.Dot(src, dst)
	if cosTheta >= 0.9999 {
		return q
	}
	axis := r3.Cross(src, dst)
	a2 := r3.Dot(axis, axis)
	if a2 < RcpOverflow {
		return q
	}
	r := r3.Add(r3.Scale(cosTheta, q), r3.Cross(axis, q))
	return r3.Add(r, r3.Scale(r3.Dot(axis, q)*(1-cosTheta)/a2, axis))
}

// Rotate90By rotates q about n by amount quarter turns. amount must be in [0,4).
func Rotate90By(q, n r3.Vec, amount int) r3.Vec {
	if amount&1 != 0 {
		q = r3.Cross(n, q)
	}
	if amount >= 2 {
		q = r3.Scale(-1, q)
	}
	return q
}

// Rotate60 rotates the tangent vector d about n by 60 degrees.
func Rotate60(d, n r3.Vec) r3.Vec {
	return r3.Add(r3.Scale(0.5, d), r3.Scale(0.866025404, r3.Cross(n, d)))
}

// Rotate60By applies Rotate60 amount times. amount must be in [0,6).
func Rotate60By(d, n r3.Vec, amount int) r3.Vec {
	for ; amount > 0; amount-- {
		d = Rotate60(d, n)
	}
	return d
}

// Signum returns -1 for negative x and 1 otherwise.
func Signum(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// Mod returns the non-negative remainder of a/b for b > 0.
func Mod(a, b int) int {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}
