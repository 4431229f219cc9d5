package mesh

import (
	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"gonum.org/v1/gonum/spatial/r3"
)

// IVar packs the integer jumps of a Link after freezing. It holds two
// 16 bit halves, one per endpoint of the link. Each half stores, from the
// least significant bit: a 2 bit rotation index, a 7 bit two's complement
// lattice translation u and a 7 bit two's complement translation v.
type IVar uint32

const (
	ivarRotBits   = 2
	ivarTransBits = 7
	ivarRotMask   = 1<<ivarRotBits - 1
	ivarTransMask = 1<<ivarTransBits - 1
	ivarHalfBits  = 16

	// MaxTranslation is the largest representable translation magnitude.
	MaxTranslation = 1<<(ivarTransBits-1) - 1
)

// Half returns the rotation and translation stored in half k (0 or 1).
func (x IVar) Half(k int) (rot, u, v int) {
	h := uint32(x) >> (ivarHalfBits * k) & 0xffff
	rot = int(h & ivarRotMask)
	u = signExtend7(h >> ivarRotBits & ivarTransMask)
	v = signExtend7(h >> (ivarRotBits + ivarTransBits) & ivarTransMask)
	return rot, u, v
}

// WithHalf returns x with half k replaced. rot is reduced modulo 4 and the
// translations are truncated to 7 bits.
func (x IVar) WithHalf(k int, rot, u, v int) IVar {
	h := uint32(rot)&ivarRotMask |
		(uint32(u)&ivarTransMask)<<ivarRotBits |
		(uint32(v)&ivarTransMask)<<(ivarRotBits+ivarTransBits)
	shift := ivarHalfBits * k
	return IVar(uint32(x)&^(0xffff<<shift) | h<<shift)
}

// Rot returns the rotation index of half k.
func (x IVar) Rot(k int) int {
	rot, _, _ := x.Half(k)
	return rot
}

// Translation returns the lattice translation of half k.
func (x IVar) Translation(k int) (u, v int) {
	_, u, v = x.Half(k)
	return u, v
}

func signExtend7(b uint32) int {
	if b&(1<<(ivarTransBits-1)) != 0 {
		return int(b) - (1 << ivarTransBits)
	}
	return int(b)
}

// Link is one directed entry of an adjacency graph.
type Link struct {
	ID     uint32
	Weight float64
	IVar   IVar
}

// Adjacency is a compressed sparse row graph: the neighbours of vertex i
// are Links[Offsets[i]:Offsets[i+1]].
type Adjacency struct {
	Offsets []uint32
	Links   []Link
}

// NumVertices returns the number of rows of the graph.
func (a *Adjacency) NumVertices() int {
	if len(a.Offsets) == 0 {
		return 0
	}
	return len(a.Offsets) - 1
}

// Neighbors returns the links of vertex i. The slice aliases the arena so
// weights and integer variables may be updated in place.
func (a *Adjacency) Neighbors(i uint32) []Link {
	return a.Links[a.Offsets[i]:a.Offsets[i+1]]
}

// Degree returns the number of links of vertex i.
func (a *Adjacency) Degree(i uint32) int {
	return int(a.Offsets[i+1] - a.Offsets[i])
}

// allocAdjacency turns per-vertex counts into offsets and allocates the
// link arena in one piece.
func allocAdjacency(counts []uint32) Adjacency {
	offsets := make([]uint32, len(counts)+1)
	for i, c := range counts {
		offsets[i+1] = offsets[i] + c
	}
	return Adjacency{Offsets: offsets, Links: make([]Link, offsets[len(counts)])}
}

// Validate checks that the graph has nv rows, monotonic offsets and link
// targets within range. It returns an errs.ErrInput error otherwise.
func (a *Adjacency) Validate(nv int) error {
	const stage = "adjacency"
	if len(a.Offsets) != nv+1 {
		return errs.New(errs.ErrInput, stage, "%d offsets for %d vertices", len(a.Offsets), nv)
	}
	if a.Offsets[0] != 0 || int(a.Offsets[nv]) != len(a.Links) {
		return errs.New(errs.ErrInput, stage, "offsets do not span the link arena")
	}
	for i := 0; i < nv; i++ {
		if a.Offsets[i] > a.Offsets[i+1] {
			return errs.New(errs.ErrInput, stage, "offsets decrease at vertex %d", i)
		}
		for _, l := range a.Neighbors(uint32(i)) {
			if int(l.ID) >= nv {
				return errs.New(errs.ErrInput, stage, "vertex %d links to %d of %d", i, l.ID, nv)
			}
		}
	}
	return nil
}

// Find returns the index within Neighbors(i) of the link to j or -1.
func (a *Adjacency) Find(i, j uint32) int {
	for k, l := range a.Neighbors(i) {
		if l.ID == j {
			return k
		}
	}
	return -1
}

// fanSize returns the number of neighbours of vertex i reachable through
// its umbrella. Boundary vertices have one more neighbour than outgoing
// edges.
func fanSize(d *DEdge, i uint32) uint32 {
	var n uint32
	d.Umbrella(i, func(uint32) { n++ })
	if n > 0 && d.Boundary[i] {
		n++
	}
	return n
}

// fan calls fn with the neighbour of i across each outgoing edge e. For
// boundary vertices the extra neighbour is reported last with the edge
// Prev(V2E[i]) and incoming set.
func fan(m *Mesh, d *DEdge, i uint32, fn func(j, e uint32, incoming bool)) {
	d.Umbrella(i, func(e uint32) {
		fn(m.F[d.Next(e)], e, false)
	})
	if d.Manifold(i) && d.Boundary[i] {
		p := d.Prev(d.V2E[i])
		fn(m.F[p], p, true)
	}
}

// UniformAdjacency links every vertex to its one-ring with unit weights.
func UniformAdjacency(m *Mesh, d *DEdge, pool *parallel.Pool) Adjacency {
	nv := len(m.V)
	counts := make([]uint32, nv)
	pool.For(nv, func(i int) { counts[i] = fanSize(d, uint32(i)) })
	adj := allocAdjacency(counts)
	pool.For(nv, func(i int) {
		links := adj.Neighbors(uint32(i))
		k := 0
		fan(m, d, uint32(i), func(j, _ uint32, _ bool) {
			links[k] = Link{ID: j, Weight: 1}
			k++
		})
	})
	return adj
}

// CotanAdjacency links every vertex of a triangle mesh to its one-ring
// weighted with half the sum of the cotangents of the angles opposite each
// edge. Degenerate angles contribute zero and are counted.
func CotanAdjacency(m *Mesh, d *DEdge, pool *parallel.Pool) (Adjacency, Diagnostics, error) {
	if m.Deg != 3 {
		return Adjacency{}, Diagnostics{}, errs.New(errs.ErrInput, "adjacency", "cotangent weights need triangles, got degree %d", m.Deg)
	}
	nv := len(m.V)
	counts := make([]uint32, nv)
	pool.For(nv, func(i int) { counts[i] = fanSize(d, uint32(i)) })
	adj := allocAdjacency(counts)
	diag := parallel.Reduce(pool, nv, 0, Diagnostics{}, func(lo, hi int) (diag Diagnostics) {
		cot := func(e uint32) float64 {
			c, ok := edgeCotan(m, e)
			if !ok {
				diag.DegenerateAngles++
			}
			return c
		}
		for i := lo; i < hi; i++ {
			links := adj.Neighbors(uint32(i))
			k := 0
			fan(m, d, uint32(i), func(j, e uint32, incoming bool) {
				w := cot(e)
				if opp := d.E2E[e]; !incoming && opp != Invalid {
					w += cot(opp)
				}
				links[k] = Link{ID: j, Weight: 0.5 * w}
				k++
			})
		}
		return diag
	}, Diagnostics.Add)
	return adj, diag, nil
}

// edgeCotan returns the cotangent of the triangle angle opposite edge e.
func edgeCotan(m *Mesh, e uint32) (float64, bool) {
	f := e - e%3
	a := m.V[m.F[e]]
	b := m.V[m.F[NextEdge(e, 3)]]
	c := m.V[m.F[f+(e-f+2)%3]]
	return d3.Cotan(r3.Sub(a, c), r3.Sub(b, c))
}
