package mesh

import (
	"sync/atomic"

	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
)

// DEdge is the directed edge structure of a polygon mesh. Directed edge
// e = Deg*f + k runs from corner k of face f to corner k+1.
type DEdge struct {
	Deg int
	// V2E maps a vertex to a canonical outgoing edge: the lowest edge id
	// for interior vertices, the first boundary edge for boundary vertices
	// and Invalid for isolated or non-manifold vertices.
	V2E []uint32
	// E2E maps an edge to its opposite or Invalid.
	E2E []uint32
	// Boundary flags vertices on an open boundary.
	Boundary []bool
	// NonManifold flags vertices excluded from umbrella traversal.
	NonManifold []bool

	// f is the index buffer the structure was built from.
	f []uint32
}

// NextEdge returns the edge following e within its face.
func NextEdge(e uint32, deg int) uint32 {
	if e == Invalid {
		return Invalid
	}
	d := uint32(deg)
	return e - e%d + (e%d+1)%d
}

// PrevEdge returns the edge preceding e within its face.
func PrevEdge(e uint32, deg int) uint32 {
	if e == Invalid {
		return Invalid
	}
	d := uint32(deg)
	return e - e%d + (e%d+d-1)%d
}

// Next returns the edge following e within its face. The zero length edge
// of a triangle stored as a quad is stepped over, so the result always
// starts at the target vertex of e and has a different target.
func (d *DEdge) Next(e uint32) uint32 {
	n := NextEdge(e, d.Deg)
	if d.Deg == 4 && n != Invalid && d.f != nil && d.f[n] == d.f[NextEdge(n, 4)] {
		n = NextEdge(n, 4)
	}
	return n
}

// Prev returns the edge preceding e within its face, stepping over the
// zero length edge of a triangle stored as a quad.
func (d *DEdge) Prev(e uint32) uint32 {
	p := PrevEdge(e, d.Deg)
	if d.Deg == 4 && p != Invalid && d.f != nil && d.f[p] == d.f[e] {
		p = PrevEdge(p, 4)
	}
	return p
}

// Manifold reports whether vertex i can be traversed.
func (d *DEdge) Manifold(i uint32) bool {
	return !d.NonManifold[i] && d.V2E[i] != Invalid
}

// Umbrella calls fn for each outgoing edge of vertex i in fan order,
// starting at V2E[i]. Boundary vertices stop at the last boundary edge.
// Non-manifold and isolated vertices produce no calls.
func (d *DEdge) Umbrella(i uint32, fn func(e uint32)) {
	if !d.Manifold(i) {
		return
	}
	start := d.V2E[i]
	e := start
	for {
		fn(e)
		opp := d.E2E[e]
		if opp == Invalid {
			return
		}
		e = d.Next(opp)
		if e == start {
			return
		}
	}
}

// BuildDEdge computes the directed edge structure of m. Zero length edges,
// such as the closing edge of a triangle stored as a quad, are ignored. Vertices with an edge that has more than one opposite, or
// with more than one fan of faces, are flagged non-manifold.
func BuildDEdge(m *Mesh, pool *parallel.Pool) (*DEdge, error) {
	const stage = "dedge"
	if m.Deg != 3 && m.Deg != 4 {
		return nil, errs.New(errs.ErrInput, stage, "unsupported face degree %d", m.Deg)
	}
	if len(m.F)%m.Deg != 0 {
		return nil, errs.New(errs.ErrInput, stage, "index buffer length %d is not a multiple of %d", len(m.F), m.Deg)
	}
	nv := uint32(len(m.V))
	for k, idx := range m.F {
		if idx >= nv {
			return nil, errs.New(errs.ErrInput, stage, "face %d references vertex %d of %d", k/m.Deg, idx, nv)
		}
	}
	deg := m.Deg
	ne := len(m.F)
	head := make([]uint32, nv)
	for i := range head {
		head[i] = Invalid
	}
	next := make([]uint32, ne)
	d := &DEdge{
		Deg:         deg,
		V2E:         head,
		E2E:         make([]uint32, ne),
		Boundary:    make([]bool, nv),
		NonManifold: make([]bool, nv),
		f:           m.F,
	}

	// Pass 1: push every edge onto the list of its source vertex.
	insert := func(e uint32) {
		cur, to := m.F[e], m.F[NextEdge(e, deg)]
		if cur == to {
			return
		}
		for {
			h := atomic.LoadUint32(&head[cur])
			next[e] = h
			if atomic.CompareAndSwapUint32(&head[cur], h, e) {
				return
			}
		}
	}
	if pool.Deterministic() {
		for e := 0; e < ne; e++ {
			insert(uint32(e))
		}
	} else {
		pool.ForRange(ne, 0, func(lo, hi int) {
			for e := lo; e < hi; e++ {
				insert(uint32(e))
			}
		})
	}

	// Pass 2: find opposites in the list of the target vertex.
	nonManifold := make([]atomic.Bool, nv)
	pool.ForRange(ne, 0, func(lo, hi int) {
		for e := lo; e < hi; e++ {
			cur, to := m.F[e], m.F[NextEdge(uint32(e), deg)]
			opp := Invalid
			if cur != to {
				matches := 0
				for it := head[to]; it != Invalid; it = next[it] {
					if m.F[NextEdge(it, deg)] == cur {
						opp = it
						matches++
					}
				}
				if matches > 1 {
					opp = Invalid
					nonManifold[cur].Store(true)
					nonManifold[to].Store(true)
				}
			}
			d.E2E[e] = opp
		}
	})
	// Duplicate directed edges leave one sided pairings behind.
	pool.ForRange(ne, 0, func(lo, hi int) {
		for e := lo; e < hi; e++ {
			opp := d.E2E[e]
			if opp != Invalid && d.E2E[opp] != uint32(e) {
				nonManifold[m.F[e]].Store(true)
				nonManifold[m.F[opp]].Store(true)
			}
		}
	})
	pool.ForRange(ne, 0, func(lo, hi int) {
		for e := lo; e < hi; e++ {
			opp := d.E2E[e]
			if opp != Invalid && d.E2E[opp] != uint32(e) {
				d.E2E[e] = Invalid
			}
		}
	})

	// Pass 3: canonical outgoing edge per vertex.
	pool.ForRange(int(nv), 0, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			edge := head[i]
			if edge == Invalid {
				continue
			}
			if nonManifold[i].Load() {
				d.NonManifold[i] = true
				head[i] = Invalid
				continue
			}
			listLen := 0
			for it := edge; it != Invalid; it = next[it] {
				listLen++
			}
			start, v2e := edge, Invalid
			steps := 0
			for {
				v2e = min(v2e, edge)
				prev := d.E2E[d.Prev(edge)]
				if prev == Invalid {
					v2e = edge
					d.Boundary[i] = true
					break
				}
				edge = prev
				steps++
				if edge == start || steps > listLen {
					break
				}
			}
			// Count the fan reachable from v2e; more edges than that means
			// several fans meet at this vertex.
			reached := 0
			e := v2e
			for reached <= listLen {
				reached++
				opp := d.E2E[e]
				if opp == Invalid {
					break
				}
				e = d.Next(opp)
				if e == v2e {
					break
				}
			}
			if steps > listLen || reached != listLen {
				d.NonManifold[i] = true
				d.Boundary[i] = false
				head[i] = Invalid
				continue
			}
			head[i] = v2e
		}
	})
	return d, nil
}

// CountNonManifold returns the number of flagged vertices.
func (d *DEdge) CountNonManifold() (n int) {
	for _, nm := range d.NonManifold {
		if nm {
			n++
		}
	}
	return n
}

// CountBoundary returns the number of boundary vertices.
func (d *DEdge) CountBoundary() (n int) {
	for _, b := range d.Boundary {
		if b {
			n++
		}
	}
	return n
}
