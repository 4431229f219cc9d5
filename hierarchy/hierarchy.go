// Package hierarchy builds the multi-resolution graph pyramid on which the
// orientation and position fields are solved.
//
// Level 0 is the input resolution. Each coarser level is obtained by a
// greedy matching that merges pairs of neighbouring vertices with similar
// normals and areas. Every level carries a graph coloring whose color
// classes (phases) hold mutually non adjacent vertices, so all vertices of
// a phase can be relaxed concurrently.
package hierarchy

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"
)

// MaxDepth bounds the number of coarsening steps.
const MaxDepth = 25

// Level is one resolution of the hierarchy.
type Level struct {
	V, N []r3.Vec
	A    []float64
	Adj  mesh.Adjacency

	// Q is the orientation field and O the position field.
	Q, O []r3.Vec
	// CQ and CO are constraint directions and positions with weights CQw
	// and COw. A zero weight means unconstrained.
	CQ, CO   []r3.Vec
	CQw, COw []float64

	// Phases are the color classes of Adj.
	Phases [][]uint32
}

// NumVertices returns the number of vertices of the level.
func (l *Level) NumVertices() int { return len(l.V) }

// Hierarchy is a pyramid of levels. Levels[0] is the finest.
type Hierarchy struct {
	Levels []*Level
	// ToUpper[l][i] holds the one or two vertices of level l that were
	// merged into vertex i of level l+1. The second entry is mesh.Invalid
	// for vertices that were not merged.
	ToUpper [][][2]uint32
	// ToLower[l][i] is the vertex of level l+1 that vertex i of level l
	// was merged into.
	ToLower [][]uint32

	// FrozenQ and FrozenO report whether the links of level 0 carry
	// frozen rotation and translation jumps.
	FrozenQ, FrozenO bool

	scale float64
	lock  parallel.TicketLock
	pool  *parallel.Pool
	log   *slog.Logger
}

// Config controls hierarchy construction.
type Config struct {
	// Pool runs the parallel loops. A nil pool runs sequentially. A
	// deterministic pool selects the deterministic coloring and stable
	// sorts.
	Pool *parallel.Pool
	// Seed seeds the coloring shuffles.
	Seed uint64
	// Logger receives per level statistics at debug level. nil uses
	// slog.Default().
	Logger *slog.Logger
}

// Build constructs the hierarchy for the graph adj over vertices V with
// normals N and areas A. The slices are referenced by level 0, not copied.
func Build(ctx context.Context, V, N []r3.Vec, A []float64, adj mesh.Adjacency, cfg Config) (*Hierarchy, error) {
	const stage = "hierarchy"
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	nv := len(V)
	if len(N) != nv || len(A) != nv {
		return nil, errs.New(errs.ErrInput, stage, "got %d positions, %d normals and %d areas", nv, len(N), len(A))
	}
	if nv == 0 {
		return nil, errs.New(errs.ErrInput, stage, "no vertices")
	}
	if err := adj.Validate(nv); err != nil {
		return nil, err
	}
	h := &Hierarchy{pool: cfg.Pool, log: log, scale: 1}
	l0 := &Level{V: V, N: N, A: A, Adj: adj}
	if err := h.color(ctx, l0, cfg.Seed); err != nil {
		return nil, err
	}
	h.Levels = append(h.Levels, l0)
	log.Debug("hierarchy level", slog.Int("level", 0), slog.Int("vertices", nv),
		slog.Int("links", len(adj.Links)), slog.Int("phases", len(l0.Phases)))

	for depth := 0; depth < MaxDepth; depth++ {
		if ctx.Err() != nil {
			return nil, errs.New(errs.ErrCanceled, stage, "%v", ctx.Err())
		}
		fine := h.Levels[depth]
		if fine.NumVertices() == 1 {
			break
		}
		coarse, toUpper, toLower := downsample(fine, cfg.Pool)
		if coarse.NumVertices() == fine.NumVertices() {
			log.Debug("hierarchy coarsening stalled", slog.Int("level", depth), slog.Int("vertices", fine.NumVertices()))
			break
		}
		if err := h.color(ctx, coarse, cfg.Seed+uint64(depth)+1); err != nil {
			return nil, err
		}
		h.Levels = append(h.Levels, coarse)
		h.ToUpper = append(h.ToUpper, toUpper)
		h.ToLower = append(h.ToLower, toLower)
		log.Debug("hierarchy level", slog.Int("level", depth+1), slog.Int("vertices", coarse.NumVertices()),
			slog.Int("links", len(coarse.Adj.Links)), slog.Int("phases", len(coarse.Phases)))
	}
	for _, l := range h.Levels {
		n := l.NumVertices()
		l.Q = make([]r3.Vec, n)
		l.O = make([]r3.Vec, n)
		l.CQ = make([]r3.Vec, n)
		l.CO = make([]r3.Vec, n)
		l.CQw = make([]float64, n)
		l.COw = make([]float64, n)
	}
	return h, nil
}

func (h *Hierarchy) color(ctx context.Context, l *Level, seed uint64) (err error) {
	if h.pool.Deterministic() {
		l.Phases, err = ColorDeterministic(&l.Adj, seed)
	} else {
		l.Phases, err = ColorParallel(ctx, &l.Adj, seed, h.pool)
	}
	return err
}

// mergeCandidate is a link scored for coarsening.
type mergeCandidate struct {
	i, j  uint32
	score float64
}

// downsample merges pairs of neighbouring vertices of fine by a greedy
// matching in order of decreasing score and returns the coarse level with
// its vertex maps.
func downsample(fine *Level, pool *parallel.Pool) (*Level, [][2]uint32, []uint32) {
	nv := fine.NumVertices()
	adj := &fine.Adj
	cands := make([]mergeCandidate, len(adj.Links))
	pool.ForRange(nv, parallel.DefaultGrain, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			off := adj.Offsets[i]
			for k, l := range adj.Neighbors(uint32(i)) {
				j := l.ID
				dp := r3.Dot(fine.N[i], fine.N[j])
				ai, aj := fine.A[i], fine.A[j]
				ratio := math.Max(ai/aj, aj/ai)
				if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
					ratio = 0
				}
				cands[int(off)+k] = mergeCandidate{i: uint32(i), j: j, score: dp * ratio}
			}
		}
	})
	parallel.Sort(pool, cands, func(a, b mergeCandidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.i, b.i); c != 0 {
			return c
		}
		return cmp.Compare(a.j, b.j)
	})

	merged := make([]bool, nv)
	collapsed := 0
	for _, c := range cands {
		if c.i == c.j || merged[c.i] || merged[c.j] {
			continue
		}
		merged[c.i], merged[c.j] = true, true
		cands[collapsed] = c
		collapsed++
	}
	nc := nv - collapsed
	coarse := &Level{
		V: make([]r3.Vec, nc),
		N: make([]r3.Vec, nc),
		A: make([]float64, nc),
	}
	toUpper := make([][2]uint32, nc)
	toLower := make([]uint32, nv)
	pool.For(collapsed, func(k int) {
		c := cands[k]
		a1, a2 := fine.A[c.i], fine.A[c.j]
		area := a1 + a2
		if area > d3.RcpOverflow {
			coarse.V[k] = r3.Scale(1/area, r3.Add(r3.Scale(a1, fine.V[c.i]), r3.Scale(a2, fine.V[c.j])))
		} else {
			coarse.V[k] = r3.Scale(0.5, r3.Add(fine.V[c.i], fine.V[c.j]))
		}
		n := r3.Add(r3.Scale(a1, fine.N[c.i]), r3.Scale(a2, fine.N[c.j]))
		if norm := r3.Norm(n); norm > d3.RcpOverflow {
			coarse.N[k] = r3.Scale(1/norm, n)
		} else {
			coarse.N[k] = r3.Vec{X: 1}
		}
		coarse.A[k] = area
		toUpper[k] = [2]uint32{c.i, c.j}
		toLower[c.i], toLower[c.j] = uint32(k), uint32(k)
	})
	next := collapsed
	for i := 0; i < nv; i++ {
		if merged[i] {
			continue
		}
		coarse.V[next] = fine.V[i]
		coarse.N[next] = fine.N[i]
		coarse.A[next] = fine.A[i]
		toUpper[next] = [2]uint32{uint32(i), mesh.Invalid}
		toLower[i] = uint32(next)
		next++
	}
	coarse.Adj = coarsenAdjacency(adj, toUpper, toLower, pool)
	return coarse, toUpper, toLower
}

// coarsenAdjacency re-keys the links of the fine vertices merged into each
// coarse vertex, drops self loops and sums the weights of parallel links.
func coarsenAdjacency(fine *mesh.Adjacency, toUpper [][2]uint32, toLower []uint32, pool *parallel.Pool) mesh.Adjacency {
	nc := len(toUpper)
	rings := make([][]mesh.Link, nc)
	pool.ForRange(nc, 256, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			var ring []mesh.Link
			for _, up := range toUpper[i] {
				if up == mesh.Invalid {
					continue
				}
				for _, l := range fine.Neighbors(up) {
					if j := toLower[l.ID]; j != uint32(i) {
						ring = append(ring, mesh.Link{ID: j, Weight: l.Weight})
					}
				}
			}
			// Stable so that duplicate weights are summed in a fixed order.
			slices.SortStableFunc(ring, func(a, b mesh.Link) int { return cmp.Compare(a.ID, b.ID) })
			n := 0
			for _, l := range ring {
				if n > 0 && ring[n-1].ID == l.ID {
					ring[n-1].Weight += l.Weight
					continue
				}
				ring[n] = l
				n++
			}
			rings[i] = ring[:n]
		}
	})
	offsets := make([]uint32, nc+1)
	for i, r := range rings {
		offsets[i+1] = offsets[i] + uint32(len(r))
	}
	links := make([]mesh.Link, 0, offsets[nc])
	for _, r := range rings {
		links = append(links, r...)
	}
	return mesh.Adjacency{Offsets: offsets, Links: links}
}

// Depth returns the number of levels.
func (h *Hierarchy) Depth() int { return len(h.Levels) }

// Level returns level i.
func (h *Hierarchy) Level(i int) *Level { return h.Levels[i] }

// Scale returns the target edge length of the output mesh.
func (h *Hierarchy) Scale() float64 { return h.scale }

// SetScale sets the target edge length. It must be positive.
func (h *Hierarchy) SetScale(s float64) {
	if !(s > 0) {
		panic("hierarchy: scale must be positive")
	}
	h.scale = s
}

// Pool returns the worker pool the hierarchy was built with.
func (h *Hierarchy) Pool() *parallel.Pool { return h.pool }

// Logger returns the hierarchy's logger.
func (h *Hierarchy) Logger() *slog.Logger { return h.log }

// Lock acquires the FIFO lock guarding the solver state. Goroutines that
// read or modify the fields while an optimizer runs must hold it.
func (h *Hierarchy) Lock() { h.lock.Lock() }

// Unlock releases the lock acquired by Lock.
func (h *Hierarchy) Unlock() { h.lock.Unlock() }

// ResetSolution initializes every level with a random tangent orientation
// and a random position offset of up to one scale unit within the tangent
// plane. Frozen jumps are discarded.
func (h *Hierarchy) ResetSolution(seed uint64) {
	for li, l := range h.Levels {
		rng := rand.New(rand.NewSource(seed + uint64(li)))
		for i := range l.V {
			n := l.N[i]
			if r3.Norm2(n) == 0 || !d3.IsFinite(l.V[i]) {
				// Outlier or isolated vertex.
				l.Q[i], l.O[i] = r3.Vec{}, l.V[i]
				continue
			}
			s, t := d3.CoordinateSystem(n)
			angle := 2 * math.Pi * rng.Float64()
			x, y := 2*rng.Float64()-1, 2*rng.Float64()-1
			l.Q[i] = r3.Add(r3.Scale(math.Cos(angle), s), r3.Scale(math.Sin(angle), t))
			l.O[i] = r3.Add(l.V[i], r3.Scale(h.scale, r3.Add(r3.Scale(x, s), r3.Scale(y, t))))
		}
	}
	if h.FrozenQ || h.FrozenO {
		links := h.Levels[0].Adj.Links
		for k := range links {
			links[k].IVar = 0
		}
		h.FrozenQ, h.FrozenO = false, false
	}
}
