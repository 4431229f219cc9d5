package extract

import (
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// stripNonManifold removes the faces touching vertices whose fan is not a
// single disk or half disk, until none are left. It returns the number of
// removed faces.
func stripNonManifold(m *mesh.Mesh, pool *parallel.Pool) (removed int, err error) {
	for m.NumFaces() > 0 {
		d, err := mesh.BuildDEdge(m, pool)
		if err != nil {
			return removed, err
		}
		kept := m.F[:0]
		n := 0
		for f := 0; f < m.NumFaces(); f++ {
			face := m.Face(f)
			bad := false
			for _, v := range face {
				bad = bad || d.NonManifold[v]
			}
			if bad {
				n++
				continue
			}
			kept = append(kept, face...)
		}
		m.F = kept
		if n == 0 {
			break
		}
		removed += n
	}
	return removed, nil
}

// compact drops vertices referenced by no face and returns how many were
// dropped.
func compact(m *mesh.Mesh, crease []bool) (*mesh.Mesh, []bool, int) {
	id := make([]uint32, len(m.V))
	for i := range id {
		id[i] = mesh.Invalid
	}
	out := &mesh.Mesh{Deg: m.Deg, F: make([]uint32, len(m.F))}
	var outCrease []bool
	for k, v := range m.F {
		if id[v] == mesh.Invalid {
			id[v] = uint32(len(out.V))
			out.V = append(out.V, m.V[v])
			out.N = append(out.N, m.N[v])
			outCrease = append(outCrease, crease[v])
		}
		out.F[k] = id[v]
	}
	return out, outCrease, len(m.V) - len(out.V)
}

// vertexNeighbours returns the sorted vertices sharing a face edge with
// each vertex.
func vertexNeighbours(m *mesh.Mesh) [][]uint32 {
	adj := make([][]uint32, len(m.V))
	for f := 0; f < m.NumFaces(); f++ {
		face := m.Face(f)
		for k := range face {
			a, b := face[k], face[(k+1)%len(face)]
			if a == b {
				continue
			}
			adj[a] = insertSorted(adj[a], b)
			adj[b] = insertSorted(adj[b], a)
		}
	}
	return adj
}

func faceNormals(m *mesh.Mesh) []r3.Vec {
	nf := make([]r3.Vec, m.NumFaces())
	for f := range nf {
		face := m.Face(f)
		var n r3.Vec
		for k := range face {
			n = r3.Add(n, r3.Cross(m.V[face[k]], m.V[face[(k+1)%len(face)]]))
		}
		if r3.Norm2(n) > 0 {
			n = r3.Unit(n)
		}
		nf[f] = n
	}
	return nf
}
