package field

import (
	"context"

	"github.com/soypat/imesh/hierarchy"
	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// phaseGrain is the number of vertices of one phase handed to a worker.
const phaseGrain = 256

// RelaxOrientations runs one Gauss-Seidel sweep of the orientation field
// of l over all its phases. With frozen set the rotation jumps stored in
// the links are used instead of the compatibility search. The context is
// checked between phases.
func RelaxOrientations(ctx context.Context, l *hierarchy.Level, fn *Functors, frozen bool, pool *parallel.Pool) error {
	for p := range l.Phases {
		if err := ctx.Err(); err != nil {
			return errs.New(errs.ErrCanceled, "field", "%v", err)
		}
		RelaxOrientationPhase(l, p, fn, frozen, pool)
	}
	return nil
}

// RelaxOrientationPhase relaxes the orientation of every vertex of one
// phase. Vertices of a phase are not adjacent and are updated in parallel.
func RelaxOrientationPhase(l *hierarchy.Level, phase int, fn *Functors, frozen bool, pool *parallel.Pool) {
	verts := l.Phases[phase]
	pool.ForRange(len(verts), phaseGrain, func(lo, hi int) {
		for _, i := range verts[lo:hi] {
			var q r3.Vec
			var ok bool
			if frozen {
				q, ok = frozenOrientation(l, i, fn)
			} else {
				q, ok = relaxedOrientation(l, i, fn)
			}
			if ok {
				l.Q[i] = q
			}
		}
	})
}

// relaxedOrientation returns the running compatible mean of the
// orientations around vertex i.
func relaxedOrientation(l *hierarchy.Level, i uint32, fn *Functors) (r3.Vec, bool) {
	ni := l.N[i]
	sum := l.Q[i]
	weightSum := 0.0
	for _, link := range l.Adj.Neighbors(i) {
		w := link.Weight
		if w == 0 {
			continue
		}
		j := link.ID
		a, b := fn.Orientation(sum, ni, l.Q[j], l.N[j])
		sum = r3.Add(r3.Scale(weightSum, a), r3.Scale(w, b))
		sum = d3.ProjectTangent(sum, ni)
		weightSum += w
		if norm := r3.Norm(sum); norm > d3.RcpOverflow {
			sum = r3.Scale(1/norm, sum)
		}
	}
	if w := l.CQw[i]; w != 0 {
		a, b := fn.Orientation(sum, ni, l.CQ[i], ni)
		sum = d3.ProjectTangent(r3.Add(r3.Scale(1-w, a), r3.Scale(w, b)), ni)
	}
	if weightSum <= 0 {
		return r3.Vec{}, false
	}
	sum = d3.Unit(sum)
	return sum, sum != (r3.Vec{})
}

// frozenOrientation averages the neighbour orientations rotated by the
// jumps stored in the links.
func frozenOrientation(l *hierarchy.Level, i uint32, fn *Functors) (r3.Vec, bool) {
	ni := l.N[i]
	var sum r3.Vec
	weightSum := 0.0
	for _, link := range l.Adj.Neighbors(i) {
		w := link.Weight
		if w == 0 {
			continue
		}
		j := link.ID
		rel := link.IVar.Rot(1) - link.IVar.Rot(0)
		qj := fn.Rotate(l.Q[j], l.N[j], rel)
		if fn.Extrinsic {
			qj = d3.ProjectTangent(qj, ni)
		} else {
			qj = d3.RotateIntoPlane(qj, l.N[j], ni)
		}
		sum = r3.Add(sum, r3.Scale(w, qj))
		weightSum += w
	}
	if w := l.CQw[i]; w != 0 && weightSum > 0 {
		a, b := fn.Orientation(d3.Unit(sum), ni, l.CQ[i], ni)
		sum = r3.Add(r3.Scale(1-w, a), r3.Scale(w, b))
	}
	if weightSum <= 0 {
		return r3.Vec{}, false
	}
	sum = d3.Unit(d3.ProjectTangent(sum, ni))
	return sum, sum != (r3.Vec{})
}

// RelaxPositions runs one Gauss-Seidel sweep of the position field of l
// over all its phases for lattice spacing scale.
func RelaxPositions(ctx context.Context, l *hierarchy.Level, fn *Functors, scale float64, frozen bool, pool *parallel.Pool) error {
	for p := range l.Phases {
		if err := ctx.Err(); err != nil {
			return errs.New(errs.ErrCanceled, "field", "%v", err)
		}
		RelaxPositionPhase(l, p, fn, scale, frozen, pool)
	}
	return nil
}

// RelaxPositionPhase relaxes the position of every vertex of one phase.
func RelaxPositionPhase(l *hierarchy.Level, phase int, fn *Functors, scale float64, frozen bool, pool *parallel.Pool) {
	verts := l.Phases[phase]
	inv := 1 / scale
	pool.ForRange(len(verts), phaseGrain, func(lo, hi int) {
		for _, i := range verts[lo:hi] {
			var o r3.Vec
			var ok bool
			if frozen {
				o, ok = frozenPosition(l, i, fn, scale)
			} else {
				o, ok = relaxedPosition(l, i, fn, scale, inv)
			}
			if !ok {
				continue
			}
			o = positionConstraint(l, i, o)
			l.O[i] = fn.PositionRound(o, d3.Unit(l.Q[i]), l.N[i], l.V[i], scale, inv)
		}
	})
}

func relaxedPosition(l *hierarchy.Level, i uint32, fn *Functors, scale, inv float64) (r3.Vec, bool) {
	ni, vi := l.N[i], l.V[i]
	qi := d3.Unit(l.Q[i])
	if qi == (r3.Vec{}) {
		return r3.Vec{}, false
	}
	sum := l.O[i]
	weightSum := 0.0
	for _, link := range l.Adj.Neighbors(i) {
		w := link.Weight
		if w == 0 {
			continue
		}
		j := link.ID
		a, b := fn.Position(vi, ni, qi, sum, l.V[j], l.N[j], l.Q[j], l.O[j], scale, inv)
		sum = r3.Add(r3.Scale(weightSum, a), r3.Scale(w, b))
		weightSum += w
		if weightSum > d3.RcpOverflow {
			sum = r3.Scale(1/weightSum, sum)
		}
		sum = r3.Sub(sum, r3.Scale(r3.Dot(ni, r3.Sub(sum, vi)), ni))
	}
	return sum, weightSum > 0
}

// frozenPosition averages the neighbour lattice origins carried over by
// the rotation and translation jumps stored in the links.
func frozenPosition(l *hierarchy.Level, i uint32, fn *Functors, scale float64) (r3.Vec, bool) {
	ni, vi := l.N[i], l.V[i]
	var sum r3.Vec
	weightSum := 0.0
	for _, link := range l.Adj.Neighbors(i) {
		w := link.Weight
		if w == 0 {
			continue
		}
		j := link.ID
		ri, ui, vvi := link.IVar.Half(0)
		rj, uj, vvj := link.IVar.Half(1)
		qi := fn.Rotate(l.Q[i], ni, ri)
		qj := fn.Rotate(l.Q[j], l.N[j], rj)
		pj := fn.LatticePoint(l.O[j], qj, l.N[j], Index2{uj, vvj}, scale)
		est := r3.Sub(pj, r3.Sub(fn.LatticePoint(vi, qi, ni, Index2{ui, vvi}, scale), vi))
		sum = r3.Add(sum, r3.Scale(w, est))
		weightSum += w
	}
	if weightSum <= 0 {
		return r3.Vec{}, false
	}
	sum = r3.Scale(1/weightSum, sum)
	return r3.Sub(sum, r3.Scale(r3.Dot(ni, r3.Sub(sum, vi)), ni)), true
}

// positionConstraint pulls o towards the position constraint of vertex i
// along the directions not fixed by the orientation constraint.
func positionConstraint(l *hierarchy.Level, i uint32, o r3.Vec) r3.Vec {
	w := l.COw[i]
	if w == 0 {
		return o
	}
	ni, vi := l.N[i], l.V[i]
	d := r3.Sub(l.CO[i], o)
	if cq := l.CQ[i]; l.CQw[i] != 0 {
		d = r3.Sub(d, r3.Scale(r3.Dot(cq, d), cq))
	}
	o = r3.Add(o, r3.Scale(w, d))
	return r3.Sub(o, r3.Scale(r3.Dot(ni, r3.Sub(o, vi)), ni))
}

// PropagateOrientationsDown copies the orientations of level li to the
// vertices of level li-1 they were built from, projected into each fine
// tangent plane.
func PropagateOrientationsDown(h *hierarchy.Hierarchy, li int) {
	coarse, fine := h.Levels[li], h.Levels[li-1]
	toUpper := h.ToUpper[li-1]
	h.Pool().For(coarse.NumVertices(), func(i int) {
		for _, dst := range toUpper[i] {
			if dst == mesh.Invalid {
				continue
			}
			if q := d3.Unit(d3.ProjectTangent(coarse.Q[i], fine.N[dst])); q != (r3.Vec{}) {
				fine.Q[dst] = q
			}
		}
	})
}

// PropagatePositionsDown copies the positions of level li to level li-1,
// projected onto each fine tangent plane.
func PropagatePositionsDown(h *hierarchy.Hierarchy, li int) {
	coarse, fine := h.Levels[li], h.Levels[li-1]
	toUpper := h.ToUpper[li-1]
	h.Pool().For(coarse.NumVertices(), func(i int) {
		o := coarse.O[i]
		for _, dst := range toUpper[i] {
			if dst == mesh.Invalid {
				continue
			}
			n := fine.N[dst]
			fine.O[dst] = r3.Sub(o, r3.Scale(r3.Dot(n, r3.Sub(o, fine.V[dst])), n))
		}
	})
}
