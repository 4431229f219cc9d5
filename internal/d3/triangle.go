package d3

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Ray is a half line starting at Origin. Dir need not be normalized;
// ray parameters are expressed in units of Dir.
type Ray struct {
	Origin r3.Vec
	Dir    r3.Vec
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float64) r3.Vec {
	return r3.Add(r.Origin, r3.Scale(t, r.Dir))
}

// Triangle is a 3d triangle with counter-clockwise winding.
type Triangle [3]r3.Vec

// AreaNormal returns the cross product of the triangle edges. Its length
// is twice the triangle area.
func (t Triangle) AreaNormal() r3.Vec {
	return r3.Cross(r3.Sub(t[1], t[0]), r3.Sub(t[2], t[0]))
}

// Normal returns the unit normal of the triangle or the zero vector for
// degenerate triangles.
func (t Triangle) Normal() r3.Vec {
	return Unit(t.AreaNormal())
}

// Area returns the surface area of the triangle.
func (t Triangle) Area() float64 {
	return 0.5 * r3.Norm(t.AreaNormal())
}

// Centroid returns the mean of the triangle vertices.
func (t Triangle) Centroid() r3.Vec {
	return r3.Scale(1./3, r3.Add(t[0], r3.Add(t[1], t[2])))
}

// Bounds returns the bounding box of the triangle.
func (t Triangle) Bounds() Box {
	return BoxOf(t[0], t[1], t[2])
}

// Angle returns the interior angle at corner k.
func (t Triangle) Angle(k int) float64 {
	return AngleBetween(r3.Sub(t[(k+1)%3], t[k]), r3.Sub(t[(k+2)%3], t[k]))
}

// AngleBetween returns the unsigned angle between a and b using a formula
// that stays accurate for small and near straight angles.
func AngleBetween(a, b r3.Vec) float64 {
	return math.Atan2(r3.Norm(r3.Cross(a, b)), r3.Dot(a, b))
}

// Cotan returns the cotangent of the angle between a and b. ok is false
// when the angle is degenerate, in which case the result is zero.
func Cotan(a, b r3.Vec) (cot float64, ok bool) {
	sin := r3.Norm(r3.Cross(a, b))
	if sin < RcpOverflow {
		return 0, false
	}
	return r3.Dot(a, b) / sin, true
}

// IntersectRay computes the ray parameter and barycentric coordinates of the
// intersection of r with the triangle using the Möller–Trumbore algorithm.
func (t Triangle) IntersectRay(r Ray) (tHit, u, v float64, ok bool) {
	const eps = 1e-12
	e1 := r3.Sub(t[1], t[0])
	e2 := r3.Sub(t[2], t[0])
	p := r3.Cross(r.Dir, e2)
	det := r3.Dot(e1, p)
	if math.Abs(det) < eps {
		return 0, 0, 0, false
	}
	inv := 1 / det
	s := r3.Sub(r.Origin, t[0])
	u = r3.Dot(s, p) * inv
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}
	q := r3.Cross(s, e1)
	v = r3.Dot(r.Dir, q) * inv
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}
	return r3.Dot(e2, q) * inv, u, v, true
}

// Closest returns the closest point on the solid triangle to p.
// Based on Geometric Tool's algorithm for the distance between a point and
// a solid triangle, licensed under the Boost Software License.
func (t Triangle) Closest(p r3.Vec) r3.Vec {
	a := t[0]
	diff := r3.Sub(p, a)
	edge0 := r3.Sub(t[1], a)
	edge1 := r3.Sub(t[2], a)

	a00 := r3.Dot(edge0, edge0)
	a01 := r3.Dot(edge0, edge1)
	a11 := r3.Dot(edge1, edge1)
	b0 := -r3.Dot(diff, edge0)
	b1 := -r3.Dot(diff, edge1)

	f00 := b0
	f10 := b0 + a00
	f01 := b0 + a01

	var p0, p1, st [2]float64
	var dt1, h0, h1 float64
	switch {
	case f00 >= 0:
		if f01 >= 0 {
			st = minEdge02(a11, b1)
			break
		}
		p0 = [2]float64{0, f00 / (f00 - f01)}
		p1[0] = f01 / (f01 - f10)
		p1[1] = 1 - p1[0]
		dt1 = p1[1] - p0[1]
		h0 = dt1 * (a11*p0[1] + b1)
		if h0 >= 0 {
			st = minEdge02(a11, b1)
			break
		}
		h1 = dt1 * (a01*p1[0] + a11*p1[1] + b1)
		if h1 <= 0 {
			st = minEdge12(a01, a11, b1, f10, f01)
		} else {
			st = minInterior(p0, h0, p1, h1)
		}
	case f01 <= 0:
		if f10 <= 0 {
			st = minEdge12(a01, a11, b1, f10, f01)
			break
		}
		p0 = [2]float64{f00 / (f00 - f10), 0}
		p1[0] = f01 / (f01 - f10)
		p1[1] = 1 - p1[0]
		h0 = p1[1] * (a01*p0[0] + b1)
		if h0 >= 0 {
			st = p0
			break
		}
		h1 = p1[1] * (a01*p1[0] + a11*p1[1] + b1)
		if h1 <= 0 {
			st = minEdge12(a01, a11, b1, f10, f01)
		} else {
			st = minInterior(p0, h0, p1, h1)
		}
	case f10 <= 0:
		p0 = [2]float64{0, f00 / (f00 - f01)}
		p1[0] = f01 / (f01 - f10)
		p1[1] = 1 - p1[0]
		dt1 = p1[1] - p0[1]
		h0 = dt1 * (a11*p0[1] + b1)
		if h0 >= 0 {
			st = minEdge02(a11, b1)
			break
		}
		h1 = dt1 * (a01*p1[0] + a11*p1[1] + b1)
		if h1 <= 0 {
			st = minEdge12(a01, a11, b1, f10, f01)
		} else {
			st = minInterior(p0, h0, p1, h1)
		}
	default:
		p0 = [2]float64{f00 / (f00 - f10), 0}
		p1 = [2]float64{0, f00 / (f00 - f01)}
		h0 = p1[1] * (a01*p0[0] + b1)
		if h0 >= 0 {
			st = p0
			break
		}
		h1 = p1[1] * (a11*p1[1] + b1)
		if h1 <= 0 {
			st = minEdge02(a11, b1)
		} else {
			st = minInterior(p0, h0, p1, h1)
		}
	}
	return r3.Add(a, r3.Add(r3.Scale(st[0], edge0), r3.Scale(st[1], edge1)))
}

func minEdge02(a11, b1 float64) (p [2]float64) {
	switch {
	case b1 >= 0:
		p[1] = 0
	case a11+b1 <= 0:
		p[1] = 1
	default:
		p[1] = -b1 / a11
	}
	return p
}

func minEdge12(a01, a11, b1, f10, f01 float64) (p [2]float64) {
	h0 := a01 + b1 - f10
	if h0 >= 0 {
		p[1] = 0
	} else {
		h1 := a11 + b1 - f01
		if h1 <= 0 {
			p[1] = 1
		} else {
			p[1] = h0 / (h0 - h1)
		}
	}
	p[0] = 1 - p[1]
	return p
}

func minInterior(p0 [2]float64, h0 float64, p1 [2]float64, h1 float64) (p [2]float64) {
	z := h0 / (h0 - h1)
	omz := 1 - z
	p[0] = omz*p0[0] + z*p1[0]
	p[1] = omz*p0[1] + z*p1[1]
	return p
}
