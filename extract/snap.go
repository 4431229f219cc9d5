package extract

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// snapHeight is the triangle height, in lattice units, below which a
	// triangle of the graph is considered flat.
	snapHeight = 0.2
	// snapMerge is the distance, in lattice units, below which the apex
	// of a flat triangle is merged into a base vertex.
	snapMerge = 0.3
)

func insertSorted(s []uint32, v uint32) []uint32 {
	k, found := slices.BinarySearch(s, v)
	if found {
		return s
	}
	return slices.Insert(s, k, v)
}

func removeSorted(s []uint32, v uint32) []uint32 {
	k, found := slices.BinarySearch(s, v)
	if !found {
		return s
	}
	return slices.Delete(s, k, k+1)
}

func containsSorted(s []uint32, v uint32) bool {
	_, found := slices.BinarySearch(s, v)
	return found
}

func (g *graph) link(i, j uint32) {
	g.adj[i] = insertSorted(g.adj[i], j)
	g.adj[j] = insertSorted(g.adj[j], i)
}

func (g *graph) unlink(i, j uint32) {
	g.adj[i] = removeSorted(g.adj[i], j)
	g.adj[j] = removeSorted(g.adj[j], i)
}

// common appends the neighbours shared by i and j to dst.
func (g *graph) common(dst []uint32, i, j uint32) []uint32 {
	a, b := g.adj[i], g.adj[j]
	for len(a) > 0 && len(b) > 0 {
		switch {
		case a[0] < b[0]:
			a = a[1:]
		case a[0] > b[0]:
			b = b[1:]
		default:
			dst = append(dst, a[0])
			a, b = a[1:], b[1:]
		}
	}
	return dst
}

// removeDiagonals removes edges that split a quad of the graph in two.
// An edge is a diagonal when its endpoints share exactly two non adjacent
// neighbours and its length is closer to √2 than to one lattice step.
func (g *graph) removeDiagonals(scale float64) int {
	var diagonals [][2]uint32
	var buf []uint32
	for i := range g.adj {
		ui := uint32(i)
		if !g.alive(ui) {
			continue
		}
		for _, j := range g.adj[i] {
			if j < ui {
				continue
			}
			buf = g.common(buf[:0], ui, j)
			if len(buf) != 2 || containsSorted(g.adj[buf[0]], buf[1]) {
				continue
			}
			l := r3.Norm(r3.Sub(g.P[i], g.P[j])) / scale
			if math.Abs(l-math.Sqrt2) < math.Abs(l-1) {
				diagonals = append(diagonals, [2]uint32{ui, j})
			}
		}
	}
	for _, d := range diagonals {
		g.unlink(d[0], d[1])
	}
	return len(diagonals)
}

// merge collapses vertex i into j.
func (g *graph) merge(i, j uint32) {
	g.P[j] = r3.Scale(0.5, r3.Add(g.P[i], g.P[j]))
	if n := r3.Add(g.N[i], g.N[j]); r3.Norm2(n) > 0 {
		g.N[j] = r3.Unit(n)
	}
	g.crease[j] = g.crease[j] || g.crease[i]
	for _, k := range slices.Clone(g.adj[i]) {
		g.unlink(i, k)
		if k != j {
			g.link(j, k)
		}
	}
	g.dead[i] = true
}

// snap repairs flat triangles of the graph until none is left or
// maxRounds is reached. The apex of a flat triangle is merged into the
// closest base vertex when it is near one; otherwise the base edge is
// removed, leaving the path through the apex.
func (g *graph) snap(scale float64, maxRounds int, rep *Report) {
	for rep.SnapRounds < maxRounds {
		rep.SnapRounds++
		if !g.snapRound(scale, rep) {
			return
		}
	}
	rep.SnapCapHit = true
}

func (g *graph) snapRound(scale float64, rep *Report) (changed bool) {
	maxHeight := snapHeight * scale
	maxMerge := snapMerge * scale
	var buf []uint32
	for i := range g.adj {
		ui := uint32(i)
		if !g.alive(ui) {
			continue
		}
	next:
		for _, j := range g.adj[i] {
			buf = g.common(buf[:0], ui, j)
			for _, k := range buf {
				if k <= j {
					continue
				}
				pi, pj, pk := g.P[i], g.P[j], g.P[k]
				d := r3.Sub(pk, pj)
				l2 := r3.Norm2(d)
				if l2 == 0 {
					continue
				}
				t := r3.Dot(r3.Sub(pi, pj), d) / l2
				if t <= 0 || t >= 1 {
					continue
				}
				if r3.Norm(r3.Sub(pi, r3.Add(pj, r3.Scale(t, d)))) >= maxHeight {
					continue
				}
				dj, dk := r3.Norm(r3.Sub(pi, pj)), r3.Norm(r3.Sub(pi, pk))
				if min(dj, dk) < maxMerge {
					target := j
					if dk < dj {
						target = k
					}
					g.merge(ui, target)
					rep.SnapMerges++
				} else {
					g.unlink(j, k)
					rep.SnapEdgesRemoved++
				}
				changed = true
				break next
			}
		}
	}
	return changed
}
