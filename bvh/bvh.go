// Package bvh provides the spatial queries used by the remesher: ray casts
// and closest point queries against a triangle mesh, and nearest neighbour
// queries over point clouds.
package bvh

import (
	"math"
	"slices"

	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// leafSize is the maximum number of triangles stored in a leaf.
const leafSize = 4

type node struct {
	box d3.Box
	// Leaves reference tris[start:start+count]. Inner nodes have count 0
	// and their children at nodes[start] and nodes[start+1].
	start, count uint32
}

func (n *node) isLeaf() bool { return n.count > 0 }

// Tree is a bounding volume hierarchy over the triangles of a mesh. Quads
// are split along their 0-2 diagonal. Trees are safe for concurrent queries.
type Tree struct {
	tris  []d3.Triangle
	face  []uint32 // mesh face of each triangle.
	nodes []node
}

// Hit is the result of a ray cast.
type Hit struct {
	// T is the ray parameter of the hit.
	T float64
	// Face is the index of the mesh face hit.
	Face uint32
	// U and V are barycentric coordinates within the hit triangle.
	U, V float64
}

// New builds a tree over the faces of m.
func New(m *mesh.Mesh) *Tree {
	t := &Tree{}
	for f := 0; f < m.NumFaces(); f++ {
		face := m.Face(f)
		for k := 1; k+1 < m.Deg; k++ {
			if face[k+1] == face[k] {
				continue
			}
			t.tris = append(t.tris, d3.Triangle{m.V[face[0]], m.V[face[k]], m.V[face[k+1]]})
			t.face = append(t.face, uint32(f))
		}
	}
	if len(t.tris) == 0 {
		return t
	}
	centroids := make([]r3.Vec, len(t.tris))
	order := make([]uint32, len(t.tris))
	for i, tri := range t.tris {
		centroids[i] = tri.Centroid()
		order[i] = uint32(i)
	}
	t.nodes = make([]node, 1, 2*len(t.tris)/leafSize+1)
	t.subdivide(0, order, 0, centroids)

	// Permute the triangles to leaf order.
	tris := make([]d3.Triangle, len(order))
	face := make([]uint32, len(order))
	for i, o := range order {
		tris[i] = t.tris[o]
		face[i] = t.face[o]
	}
	t.tris, t.face = tris, face
	return t
}

// subdivide fills node idx with the triangles in order, which start at
// offset in the final triangle list. Splits happen at the median centroid
// along the longest axis of the node.
func (t *Tree) subdivide(idx int, order []uint32, offset uint32, centroids []r3.Vec) {
	box := d3.EmptyBox()
	for _, o := range order {
		box = box.Extend(t.tris[o].Bounds())
	}
	if len(order) <= leafSize {
		t.nodes[idx] = node{box: box, start: offset, count: uint32(len(order))}
		return
	}
	axis := box.LongestAxis()
	slices.SortFunc(order, func(a, b uint32) int {
		ca, cb := d3.Comp(centroids[a], axis), d3.Comp(centroids[b], axis)
		switch {
		case ca < cb:
			return -1
		case ca > cb:
			return 1
		}
		return int(a) - int(b)
	})
	half := len(order) / 2
	children := len(t.nodes)
	t.nodes = append(t.nodes, node{}, node{})
	t.nodes[idx] = node{box: box, start: uint32(children)}
	t.subdivide(children, order[:half], offset, centroids)
	t.subdivide(children+1, order[half:], offset+uint32(half), centroids)
}

// Bounds returns the bounding box of the mesh.
func (t *Tree) Bounds() d3.Box {
	if len(t.nodes) == 0 {
		return d3.EmptyBox()
	}
	return t.nodes[0].box
}

// RayIntersect returns the closest intersection of r with parameter in
// [0, tmax].
func (t *Tree) RayIntersect(r d3.Ray, tmax float64) (hit Hit, ok bool) {
	if len(t.nodes) == 0 {
		return hit, false
	}
	hit.T = tmax
	var stack [64]uint32
	sp := 1
	for sp > 0 {
		sp--
		n := &t.nodes[stack[sp]]
		if _, _, in := n.box.IntersectRay(r, 0, hit.T); !in {
			continue
		}
		if n.isLeaf() {
			for i := n.start; i < n.start+n.count; i++ {
				th, u, v, ok2 := t.tris[i].IntersectRay(r)
				if ok2 && th >= 0 && th <= hit.T {
					hit = Hit{T: th, Face: t.face[i], U: u, V: v}
					ok = true
				}
			}
			continue
		}
		stack[sp] = n.start
		stack[sp+1] = n.start + 1
		sp += 2
	}
	return hit, ok
}

// AnyHit reports whether r intersects the mesh with parameter in [0, tmax].
func (t *Tree) AnyHit(r d3.Ray, tmax float64) bool {
	if len(t.nodes) == 0 {
		return false
	}
	var stack [64]uint32
	sp := 1
	for sp > 0 {
		sp--
		n := &t.nodes[stack[sp]]
		if _, _, in := n.box.IntersectRay(r, 0, tmax); !in {
			continue
		}
		if n.isLeaf() {
			for i := n.start; i < n.start+n.count; i++ {
				if th, _, _, ok := t.tris[i].IntersectRay(r); ok && th >= 0 && th <= tmax {
					return true
				}
			}
			continue
		}
		stack[sp] = n.start
		stack[sp+1] = n.start + 1
		sp += 2
	}
	return false
}

// Closest returns the point of the mesh closest to p, the face containing
// it and its distance to p. face is mesh.Invalid for empty trees.
func (t *Tree) Closest(p r3.Vec) (q r3.Vec, face uint32, dist float64) {
	face = mesh.Invalid
	if len(t.nodes) == 0 {
		return p, face, math.Inf(1)
	}
	best := math.Inf(1)
	t.closest(0, p, &q, &face, &best)
	return q, face, math.Sqrt(best)
}

func (t *Tree) closest(idx uint32, p r3.Vec, q *r3.Vec, face *uint32, best *float64) {
	n := &t.nodes[idx]
	if n.isLeaf() {
		for i := n.start; i < n.start+n.count; i++ {
			c := t.tris[i].Closest(p)
			if d2 := r3.Norm2(r3.Sub(c, p)); d2 < *best {
				*best, *q, *face = d2, c, t.face[i]
			}
		}
		return
	}
	// Visit the nearer child first.
	left, right := n.start, n.start+1
	dl, dr := t.nodes[left].box.Dist2(p), t.nodes[right].box.Dist2(p)
	if dr < dl {
		left, right = right, left
		dl, dr = dr, dl
	}
	if dl < *best {
		t.closest(left, p, q, face, best)
	}
	if dr < *best {
		t.closest(right, p, q, face, best)
	}
}
