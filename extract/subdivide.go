package extract

import (
	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// subdivideQuads splits each quad into four and each triangle into three
// quads through its centroid and edge midpoints. A midpoint lies on a
// crease when both edge ends do.
func subdivideQuads(m *mesh.Mesh, crease []bool) (*mesh.Mesh, []bool) {
	out := &mesh.Mesh{
		Deg: 4,
		V:   append([]r3.Vec(nil), m.V...),
		N:   append([]r3.Vec(nil), m.N...),
	}
	outCrease := append([]bool(nil), crease...)
	add := func(p, n r3.Vec, c bool) uint32 {
		out.V = append(out.V, p)
		out.N = append(out.N, d3.Unit(n))
		outCrease = append(outCrease, c)
		return uint32(len(out.V) - 1)
	}
	midpoints := make(map[[2]uint32]uint32)
	midpoint := func(a, b uint32) uint32 {
		key := [2]uint32{min(a, b), max(a, b)}
		if id, ok := midpoints[key]; ok {
			return id
		}
		id := add(r3.Scale(0.5, r3.Add(m.V[a], m.V[b])), r3.Add(m.N[a], m.N[b]), crease[a] && crease[b])
		midpoints[key] = id
		return id
	}
	var corners []uint32
	for f := 0; f < m.NumFaces(); f++ {
		face := m.Face(f)
		corners = append(corners[:0], face...)
		if len(corners) == 4 && corners[3] == corners[2] {
			corners = corners[:3]
		}
		var p, n r3.Vec
		for _, v := range corners {
			p = r3.Add(p, m.V[v])
			n = r3.Add(n, m.N[v])
		}
		c := add(r3.Scale(1/float64(len(corners)), p), n, false)
		l := len(corners)
		for k, v := range corners {
			next := midpoint(v, corners[(k+1)%l])
			prev := midpoint(corners[(k+l-1)%l], v)
			out.F = append(out.F, v, next, c, prev)
		}
	}
	return out, outCrease
}
