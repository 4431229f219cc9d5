package mesh

import (
	"math"

	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"gonum.org/v1/gonum/spatial/r3"
)

// fallbackNormal is assigned to traversable vertices whose fan has no area.
var fallbackNormal = r3.Vec{X: 1}

// cornerNormal returns the unit normal of the face containing edge e and
// the interior angle of that face at the source vertex of e.
func cornerNormal(m *Mesh, d *DEdge, e uint32) (n r3.Vec, angle float64, ok bool) {
	v := m.V[m.F[e]]
	to := m.V[m.F[d.Next(e)]]
	from := m.V[m.F[d.Prev(e)]]
	d0 := r3.Sub(to, v)
	d1 := r3.Sub(from, v)
	c := r3.Cross(d0, d1)
	l := r3.Norm(c)
	if l < d3.RcpOverflow {
		return r3.Vec{}, 0, false
	}
	return r3.Scale(1/l, c), d3.AngleBetween(d0, d1), true
}

// SmoothNormals returns per-vertex normals averaged over each vertex's fan
// with the face corner angles as weights. Non-manifold vertices get a zero
// normal; degenerate corners contribute nothing and are counted.
func SmoothNormals(m *Mesh, d *DEdge, pool *parallel.Pool) ([]r3.Vec, Diagnostics) {
	N := make([]r3.Vec, len(m.V))
	diag := parallel.Reduce(pool, len(m.V), 0, Diagnostics{}, func(lo, hi int) (diag Diagnostics) {
		for i := lo; i < hi; i++ {
			if d.NonManifold[i] {
				diag.NonManifoldVertices++
				continue
			}
			if d.V2E[i] == Invalid {
				diag.IsolatedVertices++
				N[i] = fallbackNormal
				continue
			}
			var sum r3.Vec
			d.Umbrella(uint32(i), func(e uint32) {
				n, angle, ok := cornerNormal(m, d, e)
				if !ok {
					diag.DegenerateFaces++
					return
				}
				sum = r3.Add(sum, r3.Scale(angle, n))
			})
			if n := d3.Unit(sum); n != (r3.Vec{}) {
				N[i] = n
			} else {
				N[i] = fallbackNormal
			}
		}
		return diag
	}, Diagnostics.Add)
	return N, diag
}

// CreaseResult is the output of CreaseNormals.
type CreaseResult struct {
	// Mesh shares no index storage with the input. Vertices split along
	// creases are appended after the original ones.
	Mesh *Mesh
	// Crease holds every vertex lying on a crease.
	Crease map[uint32]struct{}
	Diagnostics
}

// CreaseNormals computes smooth normals that do not average across edges
// whose dihedral angle exceeds angleDeg. Vertices on such sharp edges are
// duplicated once per smooth sector so that each copy carries its own
// normal. The returned mesh needs a fresh directed edge structure.
func CreaseNormals(m *Mesh, d *DEdge, angleDeg float64, pool *parallel.Pool) (*CreaseResult, error) {
	if angleDeg <= 0 || angleDeg >= 180 {
		return nil, errs.New(errs.ErrConfig, "normals", "crease angle %g outside (0,180)", angleDeg)
	}
	dpThresh := math.Cos(angleDeg * math.Pi / 180)
	nv := len(m.V)
	out := &Mesh{
		Deg: m.Deg,
		F:   append([]uint32(nil), m.F...),
		V:   append([]r3.Vec(nil), m.V...),
		N:   make([]r3.Vec, nv),
	}
	res := &CreaseResult{Mesh: out, Crease: make(map[uint32]struct{})}

	// Sectors are discovered in parallel, index allocation happens after in
	// vertex order.
	type sector struct {
		edges []uint32
		n     r3.Vec
	}
	type split struct {
		secs   []sector
		crease bool
	}
	splits := make([]split, nv)
	diag := parallel.Reduce(pool, nv, 0, Diagnostics{}, func(lo, hi int) (diag Diagnostics) {
		var fan []uint32
		var normals []r3.Vec
		var angles []float64
		for i := lo; i < hi; i++ {
			if d.NonManifold[i] {
				diag.NonManifoldVertices++
				continue
			}
			if d.V2E[i] == Invalid {
				diag.IsolatedVertices++
				out.N[i] = fallbackNormal
				continue
			}
			fan, normals, angles = fan[:0], normals[:0], angles[:0]
			d.Umbrella(uint32(i), func(e uint32) {
				n, angle, ok := cornerNormal(m, d, e)
				if !ok {
					diag.DegenerateFaces++
				}
				fan = append(fan, e)
				normals = append(normals, n)
				angles = append(angles, angle)
			})
			closed := !d.Boundary[i]
			k := len(fan)
			sharp := func(j int) bool {
				// Edge between fan[j] and fan[j+1].
				a, b := normals[j], normals[(j+1)%k]
				if a == (r3.Vec{}) || b == (r3.Vec{}) {
					return false
				}
				return r3.Dot(a, b) < dpThresh
			}
			start := 0
			nsharp := 0
			for j := 0; j < k; j++ {
				if j == k-1 && !closed {
					break
				}
				if sharp(j) {
					if nsharp == 0 {
						start = (j + 1) % k
					}
					nsharp++
				}
			}
			if !closed {
				start = 0
			}
			if nsharp == 0 || (closed && nsharp == 1) {
				var sum r3.Vec
				for j := range fan {
					sum = r3.Add(sum, r3.Scale(angles[j], normals[j]))
				}
				n := d3.Unit(sum)
				if n == (r3.Vec{}) {
					n = fallbackNormal
				}
				// A single sharp edge cannot separate a closed fan.
				splits[i] = split{secs: []sector{{n: n}}, crease: nsharp == 1}
				continue
			}
			var secs []sector
			cur := sector{}
			var sum r3.Vec
			for s := 0; s < k; s++ {
				j := (start + s) % k
				cur.edges = append(cur.edges, fan[j])
				sum = r3.Add(sum, r3.Scale(angles[j], normals[j]))
				last := s == k-1
				if last || ((closed || j < k-1) && sharp(j)) {
					cur.n = d3.Unit(sum)
					if cur.n == (r3.Vec{}) {
						cur.n = fallbackNormal
					}
					secs = append(secs, cur)
					cur, sum = sector{}, r3.Vec{}
				}
			}
			splits[i] = split{secs: secs, crease: true}
		}
		return diag
	}, Diagnostics.Add)
	res.Diagnostics = diag

	for i, sp := range splits {
		if len(sp.secs) == 0 {
			continue
		}
		if sp.crease {
			res.Crease[uint32(i)] = struct{}{}
		}
		if len(sp.secs) == 1 {
			out.N[i] = sp.secs[0].n
			continue
		}
		for s, sec := range sp.secs {
			idx := uint32(i)
			if s > 0 {
				idx = uint32(len(out.V))
				out.V = append(out.V, m.V[i])
				out.N = append(out.N, r3.Vec{})
				res.Crease[idx] = struct{}{}
			}
			out.N[idx] = sec.n
			for _, e := range sec.edges {
				out.F[e] = idx
				// The repeated corner of a triangle stored as a quad.
				if p := PrevEdge(e, m.Deg); m.Deg == 4 && m.F[p] == m.F[e] {
					out.F[p] = idx
				}
			}
		}
	}
	return res, nil
}
