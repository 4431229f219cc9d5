package bvh

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// PointIndex answers nearest neighbour queries over an oriented point set
// using a k-d tree. It implements mesh.NeighborQuerier and is safe for
// concurrent queries.
type PointIndex struct {
	tree kdtree.Tree
	n    []r3.Vec
}

// NewPointIndex indexes the points V with normals N. N may be nil when
// normal filtered queries are not needed. Points with non finite
// coordinates are not indexed.
func NewPointIndex(V, N []r3.Vec) *PointIndex {
	pts := make(kdPoints, 0, len(V))
	for i, v := range V {
		if math.IsInf(v.X+v.Y+v.Z, 0) || math.IsNaN(v.X+v.Y+v.Z) {
			continue
		}
		pts = append(pts, kdPoint{P: v, I: uint32(i)})
	}
	idx := &PointIndex{n: N}
	if len(pts) > 0 {
		idx.tree = *kdtree.New(pts, false)
	}
	return idx
}

// Nearest returns the index of the point closest to p and its distance.
// ok is false for an empty index.
func (x *PointIndex) Nearest(p r3.Vec) (i uint32, dist float64, ok bool) {
	if x.tree.Root == nil {
		return 0, 0, false
	}
	c, d2 := x.tree.Nearest(kdPoint{P: p})
	if c == nil {
		return 0, 0, false
	}
	return c.(kdPoint).I, math.Sqrt(d2), true
}

// KNearest appends to dst the indices of the at most k points closest to p
// within radius, nearest first.
func (x *PointIndex) KNearest(dst []uint32, p r3.Vec, k int, radius float64) []uint32 {
	return x.search(dst, p, k, radius, nil)
}

// KNearestFiltered is KNearest restricted to points whose normal is within
// maxAngle radians of n.
func (x *PointIndex) KNearestFiltered(dst []uint32, p, n r3.Vec, k int, radius, maxAngle float64) []uint32 {
	cosMax := math.Cos(maxAngle)
	return x.search(dst, p, k, radius, func(i uint32) bool {
		return r3.Dot(n, x.n[i]) >= cosMax
	})
}

func (x *PointIndex) search(dst []uint32, p r3.Vec, k int, radius float64, accept func(uint32) bool) []uint32 {
	if k <= 0 || x.tree.Root == nil {
		return dst
	}
	keeper := filterKeeper{NKeeper: kdtree.NewNKeeper(k), maxDist: radius * radius, accept: accept}
	x.tree.NearestSet(keeper, kdPoint{P: p})
	found := make([]kdtree.ComparableDist, 0, k)
	for _, c := range keeper.Heap {
		// The keeper heap starts with a nil sentinel at infinite distance.
		if c.Comparable != nil {
			found = append(found, c)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Dist != found[j].Dist {
			return found[i].Dist < found[j].Dist
		}
		return found[i].Comparable.(kdPoint).I < found[j].Comparable.(kdPoint).I
	})
	for _, c := range found {
		dst = append(dst, c.Comparable.(kdPoint).I)
	}
	return dst
}

// filterKeeper is an NKeeper that only keeps points within a squared
// distance that pass an optional predicate.
type filterKeeper struct {
	*kdtree.NKeeper
	maxDist float64
	accept  func(uint32) bool
}

func (k filterKeeper) Keep(c kdtree.ComparableDist) {
	if c.Dist > k.maxDist {
		return
	}
	if k.accept != nil && !k.accept(c.Comparable.(kdPoint).I) {
		return
	}
	k.NKeeper.Keep(c)
}

// kdPoint is a point stored in the k-d tree along with its index.
type kdPoint struct {
	P r3.Vec
	I uint32
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kdPoint)
	switch d {
	case 0:
		return p.P.X - q.P.X
	case 1:
		return p.P.Y - q.P.Y
	case 2:
		return p.P.Z - q.P.Z
	}
	panic("illegal dimension")
}

func (p kdPoint) Dims() int { return 3 }

// Distance returns the squared euclidean distance.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(p.P, c.(kdPoint).P))
}

type kdPoints []kdPoint

// Index returns the ith element of the list of points.
func (ps kdPoints) Index(i int) kdtree.Comparable { return ps[i] }

// Len returns the length of the list.
func (ps kdPoints) Len() int { return len(ps) }

// Pivot partitions the list based on the dimension specified.
func (ps kdPoints) Pivot(d kdtree.Dim) int {
	p := kdPlane{dim: d, points: ps}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// Slice returns a slice of the list using zero-based half
// open indexing equivalent to built-in slice indexing.
func (ps kdPoints) Slice(start, end int) kdtree.Interface { return ps[start:end] }

type kdPlane struct {
	dim    kdtree.Dim
	points kdPoints
}

func (p kdPlane) Less(i, j int) bool {
	return p.points[i].Compare(p.points[j], p.dim) < 0
}
func (p kdPlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}
func (p kdPlane) Len() int {
	return len(p.points)
}
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
