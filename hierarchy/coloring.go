package hierarchy

import (
	"context"
	"sync/atomic"

	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"golang.org/x/exp/rand"
)

const (
	// noColor marks a vertex that has not been colored yet.
	noColor = 0xff
	// MaxColors is the number of color slots available to a coloring.
	MaxColors = noColor - 1
)

// ColorDeterministic colors the graph greedily, visiting vertices in an
// order shuffled with seed. The result only depends on adj and seed.
// Each returned phase lists vertex ids in ascending order.
func ColorDeterministic(adj *mesh.Adjacency, seed uint64) ([][]uint32, error) {
	nv := adj.NumVertices()
	color := make([]uint8, nv)
	for i := range color {
		color[i] = noColor
	}
	var used [noColor]bool
	for _, i := range shuffled(nv, seed) {
		c, ok := smallestFree(adj, color, i, &used)
		if !ok {
			return nil, errs.New(errs.ErrResource, "coloring", "ran out of colors at vertex %d", i)
		}
		color[i] = c
	}
	return phases(color), nil
}

// ColorParallel colors the graph greedily from several goroutines. Each
// vertex locks itself and its neighbours in ascending order before reading
// their colors, so two adjacent vertices are never colored at once. The
// coloring is valid but depends on scheduling.
func ColorParallel(ctx context.Context, adj *mesh.Adjacency, seed uint64, pool *parallel.Pool) ([][]uint32, error) {
	nv := adj.NumVertices()
	color := make([]atomic.Uint32, nv)
	for i := range color {
		color[i].Store(noColor)
	}
	locks := make([]parallel.SpinLock, nv)
	perm := shuffled(nv, seed)
	err := pool.ForErr(ctx, nv, 256, func(lo, hi int) error {
		var used [noColor]bool
		var ids []uint32
		for _, i := range perm[lo:hi] {
			ids = append(ids[:0], i)
			for _, l := range adj.Neighbors(i) {
				ids = append(ids, l.ID)
			}
			ids = parallel.LockSorted(locks, ids)
			clear(used[:])
			for _, l := range adj.Neighbors(i) {
				if c := color[l.ID].Load(); c != noColor {
					used[c] = true
				}
			}
			c := firstUnused(&used)
			if c < MaxColors {
				color[i].Store(uint32(c))
			}
			parallel.UnlockAll(locks, ids)
			if c >= MaxColors {
				return errs.New(errs.ErrResource, "coloring", "ran out of colors at vertex %d", i)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	flat := make([]uint8, nv)
	for i := range flat {
		flat[i] = uint8(color[i].Load())
	}
	return phases(flat), nil
}

// ValidateColoring checks that phases partition the vertices of adj and
// that no link joins two vertices of the same phase.
func ValidateColoring(adj *mesh.Adjacency, phases [][]uint32) error {
	nv := adj.NumVertices()
	color := make([]int, nv)
	for i := range color {
		color[i] = -1
	}
	for c, phase := range phases {
		for _, i := range phase {
			if int(i) >= nv {
				return errs.New(errs.ErrInput, "coloring", "phase %d holds vertex %d of %d", c, i, nv)
			}
			if color[i] >= 0 {
				return errs.New(errs.ErrInput, "coloring", "vertex %d appears in phases %d and %d", i, color[i], c)
			}
			color[i] = c
		}
	}
	for i, c := range color {
		if c < 0 {
			return errs.New(errs.ErrInput, "coloring", "vertex %d has no color", i)
		}
		for _, l := range adj.Neighbors(uint32(i)) {
			if l.ID != uint32(i) && color[l.ID] == c {
				return errs.New(errs.ErrInput, "coloring", "adjacent vertices %d and %d share color %d", i, l.ID, c)
			}
		}
	}
	return nil
}

func shuffled(n int, seed uint64) []uint32 {
	perm := make([]uint32, n)
	for i := range perm {
		perm[i] = uint32(i)
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	return perm
}

func smallestFree(adj *mesh.Adjacency, color []uint8, i uint32, used *[noColor]bool) (uint8, bool) {
	clear(used[:])
	for _, l := range adj.Neighbors(i) {
		if c := color[l.ID]; c != noColor {
			used[c] = true
		}
	}
	c := firstUnused(used)
	return uint8(c), c < MaxColors
}

func firstUnused(used *[noColor]bool) int {
	for c, u := range used {
		if !u {
			return c
		}
	}
	return noColor
}

// phases groups vertex ids by color.
func phases(color []uint8) [][]uint32 {
	ncolors := 0
	for _, c := range color {
		ncolors = max(ncolors, int(c)+1)
	}
	counts := make([]int, ncolors)
	for _, c := range color {
		counts[c]++
	}
	out := make([][]uint32, ncolors)
	for c := range out {
		out[c] = make([]uint32, 0, counts[c])
	}
	for i, c := range color {
		out[c] = append(out[c], uint32(i))
	}
	return out
}
