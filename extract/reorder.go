package extract

import (
	"github.com/soypat/imesh/mesh"
	gograph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
	"gonum.org/v1/gonum/spatial/r3"
)

// csrGraph exposes sorted adjacency lists as a gonum graph. Neighbours are
// returned in ascending order so traversals are repeatable.
type csrGraph [][]uint32

func (g csrGraph) Node(id int64) gograph.Node {
	if id < 0 || id >= int64(len(g)) {
		return nil
	}
	return simple.Node(id)
}

func (g csrGraph) Nodes() gograph.Nodes {
	nodes := make([]gograph.Node, len(g))
	for i := range nodes {
		nodes[i] = simple.Node(i)
	}
	return iterator.NewOrderedNodes(nodes)
}

func (g csrGraph) From(id int64) gograph.Nodes {
	if id < 0 || id >= int64(len(g)) {
		return iterator.NewOrderedNodes(nil)
	}
	nodes := make([]gograph.Node, len(g[id]))
	for k, j := range g[id] {
		nodes[k] = simple.Node(j)
	}
	return iterator.NewOrderedNodes(nodes)
}

func (g csrGraph) HasEdgeBetween(xid, yid int64) bool {
	if xid < 0 || xid >= int64(len(g)) || yid < 0 {
		return false
	}
	return containsSorted(g[xid], uint32(yid))
}

func (g csrGraph) Edge(uid, vid int64) gograph.Edge {
	if !g.HasEdgeBetween(uid, vid) {
		return nil
	}
	return simple.Edge{F: simple.Node(uid), T: simple.Node(vid)}
}

// bfsOrder returns the vertices of g in breadth first order, starting each
// connected component at its lowest id.
func bfsOrder(g csrGraph) []uint32 {
	order := make([]uint32, 0, len(g))
	bf := traverse.BreadthFirst{
		Visit: func(n gograph.Node) { order = append(order, uint32(n.ID())) },
	}
	for i := range g {
		if n := simple.Node(i); !bf.Visited(n) {
			bf.Walk(g, n, nil)
		}
	}
	return order
}

// reorder renumbers the vertices of m in breadth first order so that
// neighbouring vertices get nearby indices.
func reorder(m *mesh.Mesh, crease []bool) []bool {
	order := bfsOrder(vertexNeighbours(m))
	id := make([]uint32, len(order))
	V := make([]r3.Vec, len(order))
	N := make([]r3.Vec, len(order))
	c := make([]bool, len(order))
	for k, old := range order {
		id[old] = uint32(k)
		V[k], N[k], c[k] = m.V[old], m.N[old], crease[old]
	}
	for k, v := range m.F {
		m.F[k] = id[v]
	}
	m.V, m.N = V, N
	return c
}
