package mesh

import (
	"container/heap"

	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/errs"
	"gonum.org/v1/gonum/spatial/r3"
)

// Subdivide bisects the edges of a triangle mesh, longest first, until no
// edge exceeds maxLength. Both faces adjacent to a split edge are split so
// the result stays conforming. Normals, when present, are interpolated.
// Non-manifold edges are never split.
func Subdivide(m *Mesh, maxLength float64) (*Mesh, error) {
	if m.Deg != 3 {
		return nil, errs.New(errs.ErrInput, "subdivide", "need triangles, got degree %d", m.Deg)
	}
	if maxLength <= 0 {
		return nil, errs.New(errs.ErrConfig, "subdivide", "maximum edge length %g must be positive", maxLength)
	}
	out := &Mesh{
		Deg: 3,
		F:   append([]uint32(nil), m.F...),
		V:   append([]r3.Vec(nil), m.V...),
	}
	hasN := len(m.N) == len(m.V)
	if hasN {
		out.N = append([]r3.Vec(nil), m.N...)
	}
	// Directed edge to the face holding it.
	faceOf := make(map[[2]uint32]uint32, len(m.F))
	blocked := make(map[[2]uint32]bool)
	for f := 0; f < out.NumFaces(); f++ {
		for k := 0; k < 3; k++ {
			key := [2]uint32{out.F[3*f+k], out.F[3*f+(k+1)%3]}
			if _, dup := faceOf[key]; dup {
				blocked[undirected(key)] = true
			}
			faceOf[key] = uint32(f)
		}
	}
	max2 := maxLength * maxLength
	q := &edgeQueue{}
	push := func(a, b uint32) {
		key := undirected([2]uint32{a, b})
		if blocked[key] || a == b {
			return
		}
		l2 := r3.Norm2(r3.Sub(out.V[a], out.V[b]))
		if l2 > max2 {
			heap.Push(q, queuedEdge{key: key, length2: l2})
		}
	}
	for key := range faceOf {
		if key[0] < key[1] {
			push(key[0], key[1])
		} else if _, ok := faceOf[[2]uint32{key[1], key[0]}]; !ok {
			push(key[0], key[1])
		}
	}

	// split replaces triangle f = (a, b, c) containing directed edge a->b
	// by (a, mid, c) and (mid, b, c).
	split := func(f uint32, a, b, mid uint32) {
		face := out.F[3*f : 3*f+3]
		k := 0
		for face[k] != a {
			k++
		}
		c := face[(k+2)%3]
		face[0], face[1], face[2] = a, mid, c
		nf := uint32(out.NumFaces())
		out.F = append(out.F, mid, b, c)
		delete(faceOf, [2]uint32{a, b})
		faceOf[[2]uint32{a, mid}] = f
		faceOf[[2]uint32{mid, c}] = f
		faceOf[[2]uint32{c, a}] = f
		faceOf[[2]uint32{mid, b}] = nf
		faceOf[[2]uint32{b, c}] = nf
		faceOf[[2]uint32{c, mid}] = nf
		push(a, mid)
		push(mid, b)
		push(mid, c)
	}

	for q.Len() > 0 {
		e := heap.Pop(q).(queuedEdge)
		a, b := e.key[0], e.key[1]
		f0, ok0 := faceOf[[2]uint32{a, b}]
		f1, ok1 := faceOf[[2]uint32{b, a}]
		if !ok0 && !ok1 {
			continue // stale entry.
		}
		mid := uint32(len(out.V))
		out.V = append(out.V, d3.Lerp(out.V[a], out.V[b], 0.5))
		if hasN {
			out.N = append(out.N, d3.Unit(r3.Add(out.N[a], out.N[b])))
		}
		if ok0 {
			split(f0, a, b, mid)
		}
		if ok1 {
			split(f1, b, a, mid)
		}
	}
	return out, nil
}

func undirected(key [2]uint32) [2]uint32 {
	if key[0] > key[1] {
		key[0], key[1] = key[1], key[0]
	}
	return key
}

type queuedEdge struct {
	key     [2]uint32
	length2 float64
}

// edgeQueue is a max-heap of edges keyed by length. Ties are broken by
// vertex ids so the split order is reproducible.
type edgeQueue []queuedEdge

func (q edgeQueue) Len() int { return len(q) }
func (q edgeQueue) Less(i, j int) bool {
	if q[i].length2 != q[j].length2 {
		return q[i].length2 > q[j].length2
	}
	if q[i].key[0] != q[j].key[0] {
		return q[i].key[0] < q[j].key[0]
	}
	return q[i].key[1] < q[j].key[1]
}
func (q edgeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *edgeQueue) Push(x any)   { *q = append(*q, x.(queuedEdge)) }
func (q *edgeQueue) Pop() any {
	old := *q
	e := old[len(old)-1]
	*q = old[:len(old)-1]
	return e
}
