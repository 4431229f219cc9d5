package field

import (
	"github.com/soypat/imesh/hierarchy"
	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/mesh"
)

// FreezeOrientations stores in every link of level 0 the rotation jumps
// between its endpoints so that later sweeps can use RelaxOrientations in
// frozen mode. Six-fold symmetry does not fit in the two rotation bits of
// mesh.IVar and yields an errs.ErrConfig error.
func FreezeOrientations(h *hierarchy.Hierarchy, fn *Functors) error {
	if !fn.Freezable() {
		return errs.New(errs.ErrConfig, "field", "cannot freeze rosy %d jumps", fn.Rosy)
	}
	l := h.Levels[0]
	h.Pool().For(l.NumVertices(), func(i int) {
		qi, ni := l.Q[i], l.N[i]
		links := l.Adj.Neighbors(uint32(i))
		for k := range links {
			j := links[k].ID
			a, b := fn.OrientationIndex(qi, ni, l.Q[j], l.N[j])
			x := links[k].IVar
			_, ua, va := x.Half(0)
			_, ub, vb := x.Half(1)
			links[k].IVar = x.WithHalf(0, a, ua, va).WithHalf(1, b, ub, vb)
		}
	})
	h.FrozenQ = true
	return nil
}

// FreezePositions stores in every link of level 0 the lattice jumps
// between its endpoints. Orientation jumps are computed first when they
// are not frozen yet. Jumps are clamped to mesh.MaxTranslation; the number
// of clamped links is returned.
func FreezePositions(h *hierarchy.Hierarchy, fn *Functors) (int, error) {
	if !h.FrozenQ {
		if err := FreezeOrientations(h, fn); err != nil {
			return 0, err
		}
	}
	l := h.Levels[0]
	scale := h.Scale()
	inv := 1 / scale
	clamped := make([]int, l.NumVertices())
	h.Pool().For(l.NumVertices(), func(i int) {
		vi, ni := l.V[i], l.N[i]
		links := l.Adj.Neighbors(uint32(i))
		for k := range links {
			j := links[k].ID
			x := links[k].IVar
			a, b := x.Rot(0), x.Rot(1)
			qi := fn.Rotate(d3.Unit(l.Q[i]), ni, a)
			qj := fn.Rotate(d3.Unit(l.Q[j]), l.N[j], b)
			si, sj, _ := fn.PositionIndex(vi, ni, qi, l.O[i], l.V[j], l.N[j], qj, l.O[j], scale, inv)
			ci, cj := clampIndex(&si), clampIndex(&sj)
			if ci || cj {
				clamped[i]++
			}
			links[k].IVar = x.WithHalf(0, a, si[0], si[1]).WithHalf(1, b, sj[0], sj[1])
		}
	})
	h.FrozenO = true
	n := 0
	for _, c := range clamped {
		n += c
	}
	return n, nil
}

func clampIndex(idx *Index2) (clamped bool) {
	for k, v := range idx {
		if v > mesh.MaxTranslation || v < -mesh.MaxTranslation {
			idx[k] = max(-mesh.MaxTranslation, min(v, mesh.MaxTranslation))
			clamped = true
		}
	}
	return clamped
}
