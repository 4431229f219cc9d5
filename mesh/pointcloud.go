package mesh

import (
	"cmp"
	"math"
	"slices"

	"github.com/soypat/imesh/internal/dsets"
	"github.com/soypat/imesh/internal/parallel"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// NeighborQuerier answers nearest neighbour queries over the vertices of
// a point cloud. Results are vertex indices sorted by increasing distance
// and include the query point itself when it is a vertex.
type NeighborQuerier interface {
	// KNearest appends to dst the at most k vertices closest to p within
	// radius.
	KNearest(dst []uint32, p r3.Vec, k int, radius float64) []uint32
	// KNearestFiltered is KNearest restricted to vertices whose normal is
	// within maxAngle radians of n.
	KNearestFiltered(dst []uint32, p, n r3.Vec, k int, radius, maxAngle float64) []uint32
}

// PointCloudConfig controls point cloud neighbourhoods.
type PointCloudConfig struct {
	// K is the number of neighbours per point. Zero means 10.
	K int
	// MaxAngle is the largest angle in degrees between the normals of two
	// neighbours. Zero means 30.
	MaxAngle float64
	// OutlierFraction is the relative size below which a connected
	// component is discarded. Zero means 0.01.
	OutlierFraction float64
}

func (c PointCloudConfig) withDefaults() PointCloudConfig {
	if c.K <= 0 {
		c.K = 10
	}
	if c.MaxAngle <= 0 {
		c.MaxAngle = 30
	}
	if c.OutlierFraction <= 0 {
		c.OutlierFraction = 0.01
	}
	return c
}

// NearestDistances returns for every vertex the distance to its closest
// other vertex.
func NearestDistances(m *Mesh, nn NeighborQuerier, pool *parallel.Pool) []float64 {
	dist := make([]float64, len(m.V))
	pool.ForRange(len(m.V), 0, func(lo, hi int) {
		var buf []uint32
		for i := lo; i < hi; i++ {
			buf = nn.KNearest(buf[:0], m.V[i], 2, math.Inf(1))
			dist[i] = 0
			for _, j := range buf {
				if j != uint32(i) {
					dist[i] = r3.Norm(r3.Sub(m.V[j], m.V[i]))
					break
				}
			}
		}
	})
	return dist
}

// PointCloudResult is the output of PointCloudAdjacency.
type PointCloudResult struct {
	Adj Adjacency
	// A holds the area of each point's disk.
	A []float64
	// Radius is the mean disk radius.
	Radius float64
	Diagnostics
}

// PointCloudAdjacency links every point to its k nearest neighbours whose
// normals agree, within three times the mean nearest neighbour distance.
// Links are made symmetric. Points in connected components smaller than
// the outlier fraction are discarded: their position is moved to infinity,
// their normal and area are zeroed and they keep no links. m is modified
// in place.
func PointCloudAdjacency(m *Mesh, nn NeighborQuerier, cfg PointCloudConfig, pool *parallel.Pool) *PointCloudResult {
	cfg = cfg.withDefaults()
	nv := len(m.V)
	radius := NearestDistances(m, nn, pool)
	mean := stat.Mean(radius, nil)
	query := 3 * mean
	maxAngle := cfg.MaxAngle * math.Pi / 180

	neighbors := make([][]uint32, nv)
	pool.ForRange(nv, 0, func(lo, hi int) {
		var buf []uint32
		for i := lo; i < hi; i++ {
			buf = nn.KNearestFiltered(buf[:0], m.V[i], m.N[i], cfg.K+1, query, maxAngle)
			var own []uint32
			for _, j := range buf {
				if j != uint32(i) && len(own) < cfg.K {
					own = append(own, j)
				}
			}
			neighbors[i] = own
		}
	})

	// Symmetrize: collect both directions of every pair, sort and dedupe.
	type pair struct{ i, j uint32 }
	var pairs []pair
	for i, nb := range neighbors {
		for _, j := range nb {
			pairs = append(pairs, pair{uint32(i), j}, pair{j, uint32(i)})
		}
	}
	parallel.Sort(pool, pairs, func(a, b pair) int {
		if c := cmp.Compare(a.i, b.i); c != 0 {
			return c
		}
		return cmp.Compare(a.j, b.j)
	})
	pairs = slices.Compact(pairs)

	sets := dsets.New(nv)
	pool.ForRange(len(pairs), 0, func(lo, hi int) {
		for _, p := range pairs[lo:hi] {
			sets.Union(p.i, p.j)
		}
	})
	size := make([]int, nv)
	for i := 0; i < nv; i++ {
		size[sets.Find(uint32(i))]++
	}
	minSize := cfg.OutlierFraction * float64(nv)
	outlier := make([]bool, nv)
	var diag Diagnostics
	for i := 0; i < nv; i++ {
		if float64(size[sets.Find(uint32(i))]) < minSize {
			outlier[i] = true
			diag.Outliers++
		}
	}

	counts := make([]uint32, nv)
	for _, p := range pairs {
		if !outlier[p.i] {
			counts[p.i]++
		}
	}
	adj := allocAdjacency(counts)
	k := 0
	for _, p := range pairs {
		if outlier[p.i] {
			continue
		}
		adj.Links[k] = Link{ID: p.j, Weight: 1}
		k++
	}

	A := make([]float64, nv)
	for i := range A {
		if outlier[i] {
			m.V[i] = infVec
			m.N[i] = r3.Vec{}
			continue
		}
		A[i] = math.Pi * radius[i] * radius[i]
	}
	return &PointCloudResult{Adj: adj, A: A, Radius: mean, Diagnostics: diag}
}
