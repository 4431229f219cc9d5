package hierarchy

import (
	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// Compat brings pairs of field values into a common symmetry frame. It is
// implemented by the field package's dispatch table.
type Compat interface {
	// Orientation returns representatives of q0 and q1 that are as close
	// as possible under the rotational symmetry.
	Orientation(q0, n0, q1, n1 r3.Vec) (r3.Vec, r3.Vec)
	// Position returns lattice points of the frames (q0, o0) and (q1, o1)
	// that are as close as possible under the positional symmetry.
	Position(p0, n0, q0, o0, p1, n1, q1, o1 r3.Vec, scale, invScale float64) (r3.Vec, r3.Vec)
}

// ClearConstraints removes every orientation and position constraint.
func (h *Hierarchy) ClearConstraints() {
	for _, l := range h.Levels {
		clear(l.CQ)
		clear(l.CO)
		clear(l.CQw)
		clear(l.COw)
	}
}

// SetOrientationConstraint pins the orientation of vertex i of level 0 to
// dir with weight w in [0, 1].
func (h *Hierarchy) SetOrientationConstraint(i uint32, dir r3.Vec, w float64) {
	l := h.Levels[0]
	l.CQ[i] = d3.Unit(d3.ProjectTangent(dir, l.N[i]))
	l.CQw[i] = w
}

// SetPositionConstraint pins a lattice point of vertex i of level 0 to p
// with weight w in [0, 1].
func (h *Hierarchy) SetPositionConstraint(i uint32, p r3.Vec, w float64) {
	l := h.Levels[0]
	l.CO[i] = p
	l.COw[i] = w
}

// BoundaryConstraints aligns the fields with the boundary of m: each
// endpoint of a boundary edge gets the edge direction as orientation
// constraint and its own position as position constraint. It returns the
// number of constrained vertices.
func (h *Hierarchy) BoundaryConstraints(m *mesh.Mesh, d *mesh.DEdge) int {
	l := h.Levels[0]
	n := 0
	for e, opp := range d.E2E {
		if opp != mesh.Invalid {
			continue
		}
		i0, i1 := m.F[e], m.F[d.Next(uint32(e))]
		if i0 == i1 {
			continue
		}
		p0, p1 := m.V[i0], m.V[i1]
		edge := d3.Unit(r3.Sub(p1, p0))
		if edge == (r3.Vec{}) {
			continue
		}
		for _, i := range [2]uint32{i0, i1} {
			if l.CQw[i] == 0 {
				n++
			}
			l.CQ[i] = edge
			l.CQw[i] = 1
			l.CO[i] = m.V[i]
			l.COw[i] = 1
		}
	}
	return n
}

// PropagateConstraints carries the level 0 constraints up to every coarser
// level. Constraints of two merged vertices are combined in the frame that
// fn finds most compatible and weighted by their constraint weights.
func (h *Hierarchy) PropagateConstraints(fn Compat) {
	scale := h.scale
	inv := 1 / scale
	for li := 0; li+1 < len(h.Levels); li++ {
		fine, coarse := h.Levels[li], h.Levels[li+1]
		toUpper := h.ToUpper[li]
		h.pool.For(coarse.NumVertices(), func(i int) {
			up := toUpper[i]
			a, b := up[0], up[1]
			hasQ0 := fine.CQw[a] != 0
			hasQ1 := b != mesh.Invalid && fine.CQw[b] != 0
			hasO0 := fine.COw[a] != 0
			hasO1 := b != mesh.Invalid && fine.COw[b] != 0

			var cq, co r3.Vec
			var cqw, cow float64
			switch {
			case hasQ0 && hasQ1:
				q0, q1 := fn.Orientation(fine.CQ[a], fine.N[a], fine.CQ[b], fine.N[b])
				cq = r3.Add(r3.Scale(fine.CQw[a], q0), r3.Scale(fine.CQw[b], q1))
				cqw = fine.CQw[a] + fine.CQw[b]
			case hasQ0:
				cq, cqw = fine.CQ[a], fine.CQw[a]
			case hasQ1:
				cq, cqw = fine.CQ[b], fine.CQw[b]
			}
			switch {
			case hasO0 && hasO1:
				o0, o1 := fn.Position(fine.V[a], fine.N[a], fine.Q[a], fine.CO[a],
					fine.V[b], fine.N[b], fine.Q[b], fine.CO[b], scale, inv)
				co = r3.Add(r3.Scale(fine.COw[a], o0), r3.Scale(fine.COw[b], o1))
				cow = fine.COw[a] + fine.COw[b]
				co = r3.Scale(1/cow, co)
			case hasO0:
				co, cow = fine.CO[a], fine.COw[a]
			case hasO1:
				co, cow = fine.CO[b], fine.COw[b]
			}
			n := coarse.N[i]
			if cqw != 0 {
				cq = d3.Unit(d3.ProjectTangent(cq, n))
				cqw = min(cqw, 1)
				if cq == (r3.Vec{}) {
					cqw = 0
				}
			}
			if cow != 0 {
				co = r3.Sub(co, r3.Scale(r3.Dot(n, r3.Sub(co, coarse.V[i])), n))
				cow = min(cow, 1)
			}
			coarse.CQ[i], coarse.CQw[i] = cq, cqw
			coarse.CO[i], coarse.COw[i] = co, cow
		})
	}
}
