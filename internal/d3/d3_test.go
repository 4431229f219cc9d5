package d3

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"
)

const tol = 1e-12

func TestTriangleClosest(t *testing.T) {
	tri := Triangle{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	for _, test := range []struct {
		p    r3.Vec
		want r3.Vec
	}{
		{p: r3.Vec{0.25, 0.25, 1}, want: r3.Vec{0.25, 0.25, 0}},
		{p: r3.Vec{-1, -1, 0}, want: r3.Vec{0, 0, 0}},
		{p: r3.Vec{2, -1, 3}, want: r3.Vec{1, 0, 0}},
		{p: r3.Vec{1, 1, 0}, want: r3.Vec{0.5, 0.5, 0}},
		{p: r3.Vec{0.5, -2, -1}, want: r3.Vec{0.5, 0, 0}},
		{p: r3.Vec{-3, 0.5, 0}, want: r3.Vec{0, 0.5, 0}},
	} {
		got := tri.Closest(test.p)
		if !EqualWithin(got, test.want, tol) {
			t.Errorf("closest to %v: got %v, want %v", test.p, got, test.want)
		}
	}
}

func TestTriangleIntersectRay(t *testing.T) {
	tri := Triangle{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	hit, u, v, ok := tri.IntersectRay(Ray{Origin: r3.Vec{0.2, 0.3, 2}, Dir: r3.Vec{Z: -1}})
	if !ok {
		t.Fatal("expected hit")
	}
	if math.Abs(hit-2) > tol || math.Abs(u-0.2) > tol || math.Abs(v-0.3) > tol {
		t.Errorf("got t=%g u=%g v=%g", hit, u, v)
	}
	if _, _, _, ok := tri.IntersectRay(Ray{Origin: r3.Vec{2, 2, 1}, Dir: r3.Vec{Z: -1}}); ok {
		t.Error("ray outside triangle reported a hit")
	}
	if _, _, _, ok := tri.IntersectRay(Ray{Origin: r3.Vec{0.1, 0.1, 1}, Dir: r3.Vec{X: 1}}); ok {
		t.Error("parallel ray reported a hit")
	}
}

func TestBoxIntersectRay(t *testing.T) {
	b := Box{Min: r3.Vec{-1, -1, -1}, Max: r3.Vec{1, 1, 1}}
	near, far, ok := b.IntersectRay(Ray{Origin: r3.Vec{X: -3}, Dir: r3.Vec{X: 1}}, 0, math.Inf(1))
	if !ok || math.Abs(near-2) > tol || math.Abs(far-4) > tol {
		t.Errorf("got near=%g far=%g ok=%v", near, far, ok)
	}
	if _, _, ok := b.IntersectRay(Ray{Origin: r3.Vec{X: -3, Y: 2}, Dir: r3.Vec{X: 1}}, 0, math.Inf(1)); ok {
		t.Error("miss reported as hit")
	}
	if _, _, ok := b.IntersectRay(Ray{Origin: r3.Vec{X: -3}, Dir: r3.Vec{X: 1}}, 0, 1); ok {
		t.Error("box beyond tmax reported as hit")
	}
	if d := b.Dist2(r3.Vec{X: 3, Y: 3}); math.Abs(d-8) > tol {
		t.Errorf("Dist2 got %g, want 8", d)
	}
}

func TestRotations(t *testing.T) {
	n := r3.Vec{Z: 1}
	q := r3.Vec{X: 1}
	for k := 0; k < 4; k++ {
		want := r3.Vec{X: math.Cos(float64(k) * math.Pi / 2), Y: math.Sin(float64(k) * math.Pi / 2)}
		if got := Rotate90By(q, n, k); !EqualWithin(got, want, 1e-15) {
			t.Errorf("Rotate90By %d: got %v, want %v", k, got, want)
		}
	}
	for k := 0; k < 6; k++ {
		want := r3.Vec{X: math.Cos(float64(k) * math.Pi / 3), Y: math.Sin(float64(k) * math.Pi / 3)}
		if got := Rotate60By(q, n, k); !EqualWithin(got, want, 1e-8) {
			t.Errorf("Rotate60By %d: got %v, want %v", k, got, want)
		}
	}
	src := r3.Vec{Z: 1}
	dst := r3.Unit(r3.Vec{X: 1, Z: 1})
	got := RotateIntoPlane(r3.Vec{X: 1}, src, dst)
	if math.Abs(r3.Dot(got, dst)) > 1e-12 {
		t.Errorf("rotated vector %v not tangent to %v", got, dst)
	}
	if math.Abs(r3.Norm(got)-1) > 1e-12 {
		t.Errorf("rotation changed length: %v", got)
	}
	s, tt := CoordinateSystem(dst)
	if math.Abs(r3.Dot(s, tt)) > tol || math.Abs(r3.Dot(s, dst)) > tol || math.Abs(r3.Dot(tt, dst)) > tol {
		t.Errorf("frame not orthogonal: %v %v %v", s, tt, dst)
	}
}

func TestRotateIntoPlane(t *testing.T) {
	src := r3.Vec{Z: 1}
	dst := r3.Unit(r3.Vec{Y: 1, Z: 1})
	if got := RotateIntoPlane(r3.Vec{X: 1}, src, dst); !EqualWithin(got, r3.Vec{X: 1}, 1e-12) {
		t.Errorf("vector on the rotation axis moved: got %v", got)
	}
	if got, want := RotateIntoPlane(r3.Vec{Y: 1}, src, dst), r3.Unit(r3.Vec{Y: 1, Z: -1}); !EqualWithin(got, want, 1e-12) {
		t.Errorf("got %v, want %v", got, want)
	}

	rng := rand.New(rand.NewSource(1))
	randUnit := func() r3.Vec {
		for {
			v := r3.Vec{X: 2*rng.Float64() - 1, Y: 2*rng.Float64() - 1, Z: 2*rng.Float64() - 1}
			if n := r3.Norm(v); n > 0.1 && n <= 1 {
				return r3.Scale(1/n, v)
			}
		}
	}
	for i := 0; i < 1000; i++ {
		n1, n0 := randUnit(), randUnit()
		if c := r3.Dot(n1, n0); c < -0.9 || c >= 0.9999 {
			continue
		}
		q := ProjectTangent(randUnit(), n1)
		rq := RotateIntoPlane(q, n1, n0)
		if math.Abs(r3.Norm(rq)-r3.Norm(q)) > 1e-9 {
			t.Fatalf("length changed: |%v|=%g, |%v|=%g", q, r3.Norm(q), rq, r3.Norm(rq))
		}
		if math.Abs(r3.Dot(rq, n0)) > 1e-9 {
			t.Fatalf("%v not tangent to %v", rq, n0)
		}
		// A rotation taking n1 to n0 commutes with the cross product.
		lhs := RotateIntoPlane(r3.Cross(n1, q), n1, n0)
		rhs := r3.Cross(n0, rq)
		if !EqualWithin(lhs, rhs, 1e-9) {
			t.Fatalf("n1=%v n0=%v q=%v: R(n1×q)=%v, n0×R(q)=%v", n1, n0, q, lhs, rhs)
		}
	}
}

func TestCotan(t *testing.T) {
	cot, ok := Cotan(r3.Vec{X: 1}, r3.Vec{X: 1, Y: 1})
	if !ok || math.Abs(cot-1) > tol {
		t.Errorf("cot 45deg: got %g ok=%v", cot, ok)
	}
	if _, ok := Cotan(r3.Vec{X: 1}, r3.Vec{X: 2}); ok {
		t.Error("parallel edges must be degenerate")
	}
}
