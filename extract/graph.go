package extract

import (
	"cmp"
	"math"
	"slices"
	"sync/atomic"

	"github.com/soypat/imesh/field"
	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/dsets"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// graph is the output vertex graph before faces are formed. Adjacency
// lists are sorted and symmetric.
type graph struct {
	P, N   []r3.Vec
	adj    [][]uint32
	crease []bool
	dead   []bool
}

func (g *graph) alive(i uint32) bool { return !g.dead[i] }

// collapse is a pair of input vertices sharing a lattice point.
type collapse struct {
	i, j uint32
	err  float64
}

// latticeNeighbour reports whether offset d joins two lattice points one
// edge apart.
func latticeNeighbour(d field.Index2, posy int) bool {
	u, v := abs(d[0]), abs(d[1])
	if u > 1 || v > 1 {
		return false
	}
	if posy == 4 {
		return u+v == 1
	}
	return d != field.Index2{1, 1} && d != field.Index2{-1, -1}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// classify computes the lattice offset across every link. Links with a
// zero offset become collapse candidates, links one lattice edge long are
// returned per vertex and the rest are dropped. Each undirected link is
// classified once, from its lower id when both directions are present.
func classify(in *Input, cfg *Config) (edges [][]uint32, cands []collapse, dropped int) {
	nv := len(in.V)
	fn := cfg.Functors
	scale := cfg.Scale
	inv := 1 / scale
	edges = make([][]uint32, nv)
	perVertex := make([][]collapse, nv)
	var drops atomic.Int64
	cfg.Pool.ForRange(nv, 256, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			ui := uint32(i)
			vi, ni := in.V[i], in.N[i]
			qi := d3.Unit(in.Q[i])
			if !d3.IsFinite(vi) || qi == (r3.Vec{}) {
				continue
			}
			for _, link := range in.Adj.Neighbors(ui) {
				j := link.ID
				if j == ui || (j < ui && in.Adj.Find(j, ui) >= 0) {
					continue
				}
				vj, nj := in.V[j], in.N[j]
				qj := d3.Unit(in.Q[j])
				if !d3.IsFinite(vj) || qj == (r3.Vec{}) {
					continue
				}
				a, b := fn.OrientationIndex(qi, ni, qj, nj)
				si, sj, e := fn.PositionIndex(vi, ni, fn.Rotate(qi, ni, a), in.O[i],
					vj, nj, fn.Rotate(qj, nj, b), in.O[j], scale, inv)
				switch d := si.Sub(sj); {
				case d.IsZero():
					perVertex[i] = append(perVertex[i], collapse{i: ui, j: j, err: e})
				case latticeNeighbour(d, fn.Posy):
					edges[i] = append(edges[i], j)
				default:
					drops.Add(1)
				}
			}
		}
	})
	for _, c := range perVertex {
		cands = append(cands, c...)
	}
	return edges, cands, int(drops.Load())
}

type collapsed struct {
	sets *dsets.Sets
	// adj holds, for each component root, the input vertices linked to
	// any member by a kept edge.
	adj [][]uint32
	// count is the number of collapses merged into each root.
	count                []uint32
	collapses, conflicts int
}

// collapseAll merges collapse candidates in order of increasing error.
// A merge is refused when the two components are already joined by a kept
// edge, since the output would then hold a degenerate edge.
func collapseAll(nv int, edges [][]uint32, cands []collapse, pool *parallel.Pool) *collapsed {
	c := &collapsed{
		sets:  dsets.New(nv),
		adj:   make([][]uint32, nv),
		count: make([]uint32, nv),
	}
	for i, list := range edges {
		for _, j := range list {
			c.adj[i] = append(c.adj[i], j)
			c.adj[j] = append(c.adj[j], uint32(i))
		}
	}
	parallel.Sort(pool, cands, func(a, b collapse) int {
		if r := cmp.Compare(a.err, b.err); r != 0 {
			return r
		}
		if r := cmp.Compare(a.i, b.i); r != 0 {
			return r
		}
		return cmp.Compare(a.j, b.j)
	})
	locks := make([]parallel.SpinLock, nv)
	var collapses, conflicts atomic.Int64
	apply := func(cd collapse) {
		for {
			ri, rj := c.sets.Find(cd.i), c.sets.Find(cd.j)
			if ri == rj {
				return
			}
			ids := [2]uint32{ri, rj}
			held := parallel.LockSorted(locks, ids[:])
			if c.sets.Find(ri) != ri || c.sets.Find(rj) != rj {
				// A concurrent merge moved a root under us.
				parallel.UnlockAll(locks, held)
				continue
			}
			if c.linked(ri, rj) || c.linked(rj, ri) {
				conflicts.Add(1)
			} else {
				n := c.count[ri] + c.count[rj] + 1
				root := c.sets.Union(ri, rj)
				other := ri ^ rj ^ root
				c.adj[root] = append(c.adj[root], c.adj[other]...)
				c.adj[other] = nil
				c.count[root] = n
				collapses.Add(1)
			}
			parallel.UnlockAll(locks, held)
			return
		}
	}
	if pool.Deterministic() || pool.NumWorkers() == 1 {
		for _, cd := range cands {
			apply(cd)
		}
	} else {
		pool.ForRange(len(cands), 64, func(lo, hi int) {
			for _, cd := range cands[lo:hi] {
				apply(cd)
			}
		})
	}
	c.collapses, c.conflicts = int(collapses.Load()), int(conflicts.Load())
	return c
}

// linked reports whether the component of root a has an edge to the
// component of root b.
func (c *collapsed) linked(a, b uint32) bool {
	for _, k := range c.adj[a] {
		if c.sets.Find(k) == b {
			return true
		}
	}
	return false
}

// mergeComponents builds one output vertex per collapsed component. Its
// position and normal are averages of the members weighted by how close
// each lattice origin lies to its vertex.
func mergeComponents(in *Input, cfg *Config, c *collapsed, rep *Report) *graph {
	nv := len(in.V)
	id := make([]uint32, nv)
	var roots []uint32
	for i := range id {
		id[i] = mesh.Invalid
		if d3.IsFinite(in.V[i]) && c.sets.Find(uint32(i)) == uint32(i) {
			roots = append(roots, uint32(i))
		}
	}
	if cfg.RemoveSpurious && len(roots) > 0 {
		counts := make([]float64, len(roots))
		for k, r := range roots {
			counts[k] = float64(c.count[r])
		}
		threshold := 0.1 * stat.Mean(counts, nil)
		kept := roots[:0]
		for _, r := range roots {
			if float64(c.count[r]) < threshold {
				rep.Spurious++
				continue
			}
			kept = append(kept, r)
		}
		roots = kept
	}
	for k, r := range roots {
		id[r] = uint32(k)
	}

	n := len(roots)
	g := &graph{
		P:      make([]r3.Vec, n),
		N:      make([]r3.Vec, n),
		adj:    make([][]uint32, n),
		crease: make([]bool, n),
		dead:   make([]bool, n),
	}
	weight := make([]float64, n)
	mean := make([]r3.Vec, n)
	members := make([]int, n)
	inv2 := 1 / (cfg.Scale * cfg.Scale)
	for i := 0; i < nv; i++ {
		if !d3.IsFinite(in.V[i]) {
			continue
		}
		o := id[c.sets.Find(uint32(i))]
		if o == mesh.Invalid {
			continue
		}
		w := math.Exp(-9 * r3.Norm2(r3.Sub(in.O[i], in.V[i])) * inv2)
		g.P[o] = r3.Add(g.P[o], r3.Scale(w, in.O[i]))
		g.N[o] = r3.Add(g.N[o], r3.Scale(w, in.N[i]))
		weight[o] += w
		mean[o] = r3.Add(mean[o], in.O[i])
		members[o]++
		if _, ok := in.Crease[uint32(i)]; ok {
			g.crease[o] = true
		}
	}
	for o, r := range roots {
		if weight[o] > d3.RcpOverflow {
			g.P[o] = r3.Scale(1/weight[o], g.P[o])
		} else {
			g.P[o] = r3.Scale(1/float64(members[o]), mean[o])
		}
		if nrm := d3.Unit(g.N[o]); nrm != (r3.Vec{}) {
			g.N[o] = nrm
		} else {
			g.N[o] = in.N[r]
		}
		var list []uint32
		for _, k := range c.adj[r] {
			if t := id[c.sets.Find(k)]; t != mesh.Invalid && t != uint32(o) {
				list = append(list, t)
			}
		}
		slices.Sort(list)
		g.adj[o] = slices.Compact(list)
	}
	return g
}
