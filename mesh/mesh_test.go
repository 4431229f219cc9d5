package mesh

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var pools = []struct {
	name string
	pool *parallel.Pool
}{
	{name: "deterministic", pool: parallel.Sequential()},
	{name: "fast", pool: parallel.New(4, parallel.Fast)},
}

// icosahedron returns a regular icosahedron with unit edge length.
func icosahedron() *Mesh {
	phi := (1 + math.Sqrt(5)) / 2
	raw := []r3.Vec{
		{-1, phi, 0}, {1, phi, 0}, {-1, -phi, 0}, {1, -phi, 0},
		{0, -1, phi}, {0, 1, phi}, {0, -1, -phi}, {0, 1, -phi},
		{phi, 0, -1}, {phi, 0, 1}, {-phi, 0, -1}, {-phi, 0, 1},
	}
	V := make([]r3.Vec, len(raw))
	for i, v := range raw {
		V[i] = r3.Scale(0.5, v)
	}
	F := []uint32{
		0, 11, 5, 0, 5, 1, 0, 1, 7, 0, 7, 10, 0, 10, 11,
		1, 5, 9, 5, 11, 4, 11, 10, 2, 10, 7, 6, 7, 1, 8,
		3, 9, 4, 3, 4, 2, 3, 2, 6, 3, 6, 8, 3, 8, 9,
		4, 9, 5, 2, 4, 11, 6, 2, 10, 8, 6, 7, 9, 8, 1,
	}
	return &Mesh{F: F, Deg: 3, V: V}
}

// grid returns a planar (n+1)×(n+1) vertex patch of side length size in
// the XY plane, triangulated with alternating diagonals.
func grid(n int, size float64) *Mesh {
	m := &Mesh{Deg: 3}
	h := size / float64(n)
	for y := 0; y <= n; y++ {
		for x := 0; x <= n; x++ {
			m.V = append(m.V, r3.Vec{X: float64(x) * h, Y: float64(y) * h})
			m.N = append(m.N, r3.Vec{Z: 1})
		}
	}
	idx := func(x, y int) uint32 { return uint32(y*(n+1) + x) }
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			a, b, c, d := idx(x, y), idx(x+1, y), idx(x+1, y+1), idx(x, y+1)
			if (x+y)%2 == 0 {
				m.F = append(m.F, a, b, c, a, c, d)
			} else {
				m.F = append(m.F, a, b, d, b, c, d)
			}
		}
	}
	return m
}

func TestIcosahedronDEdge(t *testing.T) {
	for _, p := range pools {
		t.Run(p.name, func(t *testing.T) {
			m := icosahedron()
			d, err := BuildDEdge(m, p.pool)
			require.NoError(t, err)
			assert.Zero(t, d.CountBoundary())
			assert.Zero(t, d.CountNonManifold())
			for i, e := range d.V2E {
				require.NotEqual(t, Invalid, e, "vertex %d", i)
				assert.Equal(t, uint32(i), m.F[e], "V2E must leave its vertex")
			}
			for e, opp := range d.E2E {
				require.NotEqual(t, Invalid, opp)
				assert.Equal(t, uint32(e), d.E2E[opp], "E2E is not an involution at %d", e)
				assert.Equal(t, m.F[e], m.F[NextEdge(opp, 3)])
			}
			// Interior vertices use the lowest outgoing edge.
			for i := range m.V {
				lowest := Invalid
				for e, v := range m.F {
					if v == uint32(i) && uint32(e) < lowest {
						lowest = uint32(e)
					}
				}
				assert.Equal(t, lowest, d.V2E[i])
			}
		})
	}
}

func TestSplitQuadDEdge(t *testing.T) {
	m := &Mesh{
		Deg: 3,
		V:   []r3.Vec{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		F:   []uint32{0, 1, 2, 0, 2, 3},
	}
	d, err := BuildDEdge(m, parallel.Sequential())
	require.NoError(t, err)
	paired, boundary := 0, 0
	for e, opp := range d.E2E {
		if opp == Invalid {
			boundary++
			continue
		}
		paired++
		assert.Equal(t, uint32(e), d.E2E[opp])
	}
	assert.Equal(t, 2, paired, "one interior edge seen from both sides")
	assert.Equal(t, 4, boundary)
	assert.Equal(t, 4, d.CountBoundary())
	for i, e := range d.V2E {
		// The canonical edge of a boundary vertex has no opposite behind it.
		assert.Equal(t, Invalid, d.E2E[d.Prev(e)], "vertex %d", i)
	}
}

func TestDEdgeNonManifold(t *testing.T) {
	// Three triangles sharing the edge 0-1.
	m := &Mesh{
		Deg: 3,
		V:   []r3.Vec{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}},
		F:   []uint32{0, 1, 2, 1, 0, 3, 1, 0, 4},
	}
	d, err := BuildDEdge(m, parallel.Sequential())
	require.NoError(t, err)
	assert.True(t, d.NonManifold[0])
	assert.True(t, d.NonManifold[1])
	assert.Equal(t, Invalid, d.V2E[0])
	assert.Equal(t, Invalid, d.V2E[1])
	for e, opp := range d.E2E {
		if opp != Invalid {
			assert.Equal(t, uint32(e), d.E2E[opp])
		}
	}
	N, diag := SmoothNormals(m, d, parallel.Sequential())
	assert.Equal(t, 2, diag.NonManifoldVertices)
	assert.Equal(t, r3.Vec{}, N[0])
}

// pyramid returns a closed square pyramid with a quad base and four
// triangles stored as quads with a repeated apex.
func pyramid() *Mesh {
	return &Mesh{
		Deg: 4,
		V:   []r3.Vec{{}, {X: 1}, {X: 1, Y: 1}, {Y: 1}, {X: 0.5, Y: 0.5, Z: 1}},
		F: []uint32{
			0, 3, 2, 1,
			0, 1, 4, 4,
			1, 2, 4, 4,
			2, 3, 4, 4,
			3, 0, 4, 4,
		},
	}
}

func TestDEdgeTriangleAsQuad(t *testing.T) {
	m := pyramid()
	for _, p := range pools {
		t.Run(p.name, func(t *testing.T) {
			d, err := BuildDEdge(m, p.pool)
			require.NoError(t, err)
			assert.Zero(t, d.CountNonManifold())
			assert.Zero(t, d.CountBoundary())
			for i, e := range d.V2E {
				require.NotEqual(t, Invalid, e, "vertex %d", i)
				assert.Equal(t, uint32(i), m.F[e])
			}
			for e, opp := range d.E2E {
				if m.F[e] == m.F[NextEdge(uint32(e), 4)] {
					assert.Equal(t, Invalid, opp, "zero length edge %d", e)
					continue
				}
				require.NotEqual(t, Invalid, opp, "edge %d", e)
				assert.Equal(t, uint32(e), d.E2E[opp])
			}

			// The apex umbrella visits the four side faces once each.
			seen := map[uint32]int{}
			d.Umbrella(4, func(e uint32) {
				assert.Equal(t, uint32(4), m.F[e])
				seen[e/4]++
			})
			assert.Equal(t, map[uint32]int{1: 1, 2: 1, 3: 1, 4: 1}, seen)

			N, diag := SmoothNormals(m, d, p.pool)
			assert.True(t, diag.Empty(), diag.String())
			assert.InDelta(t, 1, N[4].Z, 1e-9)
			for i := 0; i < 4; i++ {
				assert.Negative(t, N[i].Z, "vertex %d", i)
			}

			A := DualVertexAreas(m, d, p.pool)
			sum := 0.0
			for _, a := range A {
				assert.Positive(t, a)
				sum += a
			}
			assert.InDelta(t, 1+2*math.Sqrt(1.25), sum, 1e-9)

			uni := UniformAdjacency(m, d, p.pool)
			require.NoError(t, uni.Validate(len(m.V)))
			assert.Len(t, uni.Neighbors(4), 4)
			for i := uint32(0); i < 4; i++ {
				assert.Len(t, uni.Neighbors(i), 3, "vertex %d", i)
			}

			cr, err := CreaseNormals(m, d, 30, p.pool)
			require.NoError(t, err)
			require.NoError(t, Validate(cr.Mesh))
			for f := 1; f < cr.Mesh.NumFaces(); f++ {
				face := cr.Mesh.Face(f)
				assert.Equal(t, face[2], face[3], "face %d lost its repeated corner", f)
			}
		})
	}
}

func TestDEdgeInvalidInput(t *testing.T) {
	m := &Mesh{Deg: 3, V: []r3.Vec{{}, {X: 1}, {Y: 1}}, F: []uint32{0, 1, 3}}
	_, err := BuildDEdge(m, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInput))
	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "dedge", e.Stage)

	m = &Mesh{Deg: 5, V: []r3.Vec{{}}, F: []uint32{0, 0, 0, 0, 0}}
	_, err = BuildDEdge(m, nil)
	assert.True(t, errors.Is(err, errs.ErrInput))
}

func TestAdjacencySymmetry(t *testing.T) {
	for _, test := range []struct {
		name string
		m    *Mesh
	}{
		{name: "icosahedron", m: icosahedron()},
		{name: "grid", m: grid(6, 1)},
	} {
		for _, p := range pools {
			t.Run(test.name+"/"+p.name, func(t *testing.T) {
				d, err := BuildDEdge(test.m, p.pool)
				require.NoError(t, err)
				uni := UniformAdjacency(test.m, d, p.pool)
				cot, diag, err := CotanAdjacency(test.m, d, p.pool)
				require.NoError(t, err)
				assert.True(t, diag.Empty(), diag.String())
				for _, adj := range []Adjacency{uni, cot} {
					require.NoError(t, adj.Validate(len(test.m.V)))
					for i := range test.m.V {
						for _, l := range adj.Neighbors(uint32(i)) {
							k := adj.Find(l.ID, uint32(i))
							require.NotEqual(t, -1, k, "%d lists %d but not vice versa", i, l.ID)
							assert.InDelta(t, l.Weight, adj.Neighbors(l.ID)[k].Weight, 1e-12)
						}
					}
				}
				// Every mesh edge appears exactly once per direction.
				edges := map[[2]uint32]bool{}
				for f := 0; f < test.m.NumFaces(); f++ {
					face := test.m.Face(f)
					for k := 0; k < 3; k++ {
						a, b := face[k], face[(k+1)%3]
						edges[[2]uint32{a, b}] = true
						edges[[2]uint32{b, a}] = true
					}
				}
				assert.Equal(t, len(edges), len(uni.Links))
			})
		}
	}
}

func TestCotanWeightsFlat(t *testing.T) {
	// On a flat patch the cotangent Laplacian reproduces linear functions.
	m := grid(4, 1)
	d, err := BuildDEdge(m, nil)
	require.NoError(t, err)
	adj, _, err := CotanAdjacency(m, d, nil)
	require.NoError(t, err)
	for i := range m.V {
		if d.Boundary[i] {
			continue
		}
		var lap r3.Vec
		for _, l := range adj.Neighbors(uint32(i)) {
			lap = r3.Add(lap, r3.Scale(l.Weight, r3.Sub(m.V[l.ID], m.V[i])))
		}
		assert.InDelta(t, 0, r3.Norm(lap), 1e-12, "vertex %d", i)
	}
}

func TestDualAreasSumToSurface(t *testing.T) {
	for _, m := range []*Mesh{icosahedron(), grid(5, 2)} {
		d, err := BuildDEdge(m, nil)
		require.NoError(t, err)
		A := DualVertexAreas(m, d, parallel.New(3, parallel.Fast))
		st := ComputeStats(m, nil, nil)
		var sum float64
		for _, a := range A {
			sum += a
		}
		assert.InDelta(t, st.SurfaceArea, sum, 1e-9)
	}
}

func TestIcosahedronStats(t *testing.T) {
	st := ComputeStats(icosahedron(), nil, parallel.Sequential())
	assert.InDelta(t, 1, st.AverageEdgeLength, 1e-12)
	assert.InDelta(t, 1, st.MaximumEdgeLength, 1e-12)
	assert.InDelta(t, 1, st.MinimumEdgeLength, 1e-12)
	assert.InDelta(t, 5*math.Sqrt(3), st.SurfaceArea, 1e-9)
	assert.InDelta(t, 0, r3.Norm(st.WeightedCenter), 1e-12)
}

func TestSmoothNormalsIcosahedron(t *testing.T) {
	m := icosahedron()
	d, err := BuildDEdge(m, nil)
	require.NoError(t, err)
	N, diag := SmoothNormals(m, d, nil)
	assert.True(t, diag.Empty())
	for i, n := range N {
		// Normals of a centered convex solid point away from the center.
		assert.InDelta(t, 1, r3.Dot(n, r3.Unit(m.V[i])), 1e-9)
	}
}

func TestCreaseNormalsCube(t *testing.T) {
	// Unit cube, two triangles per side.
	V := []r3.Vec{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}, {0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1}}
	quads := [][4]uint32{{0, 3, 2, 1}, {4, 5, 6, 7}, {0, 1, 5, 4}, {1, 2, 6, 5}, {2, 3, 7, 6}, {3, 0, 4, 7}}
	m := &Mesh{Deg: 4, V: V}
	for _, q := range quads {
		m.F = append(m.F, q[:]...)
	}
	tri := Triangulate(m)
	require.Equal(t, 12, tri.NumFaces())
	d, err := BuildDEdge(tri, nil)
	require.NoError(t, err)
	res, err := CreaseNormals(tri, d, 45, nil)
	require.NoError(t, err)
	// Every corner is shared by three sides.
	assert.Equal(t, 24, len(res.Mesh.V))
	assert.Equal(t, 24, len(res.Crease))
	d2, err := BuildDEdge(res.Mesh, nil)
	require.NoError(t, err)
	for f := 0; f < res.Mesh.NumFaces(); f++ {
		n := res.Mesh.Triangle(f).Normal()
		for _, v := range res.Mesh.Face(f) {
			assert.InDelta(t, 1, r3.Dot(n, res.Mesh.N[v]), 1e-12)
		}
	}
	assert.Equal(t, 24, d2.CountBoundary(), "split sides are open")
}

func TestIVarPacking(t *testing.T) {
	var x IVar
	for _, test := range []struct{ rot, u, v int }{
		{0, 0, 0}, {3, -1, 1}, {1, MaxTranslation, -MaxTranslation - 1}, {2, -5, 7},
	} {
		for k := 0; k < 2; k++ {
			x = x.WithHalf(k, test.rot, test.u, test.v)
			rot, u, v := x.Half(k)
			assert.Equal(t, test.rot, rot)
			assert.Equal(t, test.u, u)
			assert.Equal(t, test.v, v)
		}
	}
	x = IVar(0).WithHalf(0, 1, 2, 3).WithHalf(1, 2, -3, -4)
	assert.Equal(t, 1, x.Rot(0))
	assert.Equal(t, 2, x.Rot(1))
	u, v := x.Translation(0)
	assert.Equal(t, [2]int{2, 3}, [2]int{u, v})
	u, v = x.Translation(1)
	assert.Equal(t, [2]int{-3, -4}, [2]int{u, v})
}

func TestSubdivide(t *testing.T) {
	m := grid(2, 4)
	out, err := Subdivide(m, 0.75)
	require.NoError(t, err)
	require.NoError(t, Validate(out))
	for f := 0; f < out.NumFaces(); f++ {
		face := out.Face(f)
		for k := 0; k < 3; k++ {
			l := r3.Norm(r3.Sub(out.V[face[k]], out.V[face[(k+1)%3]]))
			assert.LessOrEqual(t, l, 0.75+1e-12)
		}
	}
	before := ComputeStats(m, nil, nil).SurfaceArea
	after := ComputeStats(out, nil, nil).SurfaceArea
	assert.InDelta(t, before, after, 1e-9)
	d, err := BuildDEdge(out, nil)
	require.NoError(t, err)
	assert.Zero(t, d.CountNonManifold(), "subdivision must stay conforming")
	for e, opp := range d.E2E {
		if opp != Invalid {
			assert.Equal(t, uint32(e), d.E2E[opp])
		}
	}
}

func TestValidate(t *testing.T) {
	good := icosahedron()
	require.NoError(t, Validate(good))
	bad := icosahedron()
	bad.V[3].X = math.NaN()
	assert.True(t, errors.Is(Validate(bad), errs.ErrInput))
	cloud := &Mesh{V: []r3.Vec{{}, {X: 1}}}
	assert.True(t, errors.Is(Validate(cloud), errs.ErrInput), "point clouds need normals")
	cloud.N = []r3.Vec{{Z: 1}, {Z: 1}}
	assert.NoError(t, Validate(cloud))
}

// bruteNN is a linear scan NeighborQuerier.
type bruteNN struct{ V, N []r3.Vec }

func (b bruteNN) KNearest(dst []uint32, p r3.Vec, k int, radius float64) []uint32 {
	return b.KNearestFiltered(dst, p, r3.Vec{}, k, radius, math.Pi)
}

func (b bruteNN) KNearestFiltered(dst []uint32, p, n r3.Vec, k int, radius, maxAngle float64) []uint32 {
	type cand struct {
		i uint32
		d float64
	}
	var cs []cand
	cosMax := math.Cos(maxAngle)
	for i, v := range b.V {
		d := r3.Norm(r3.Sub(v, p))
		if d > radius {
			continue
		}
		if n != (r3.Vec{}) && r3.Dot(n, b.N[i]) < cosMax {
			continue
		}
		cs = append(cs, cand{uint32(i), d})
	}
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].d < cs[j].d })
	for _, c := range cs {
		if len(dst) == k {
			break
		}
		dst = append(dst, c.i)
	}
	return dst
}

func TestPointCloudAdjacency(t *testing.T) {
	g := grid(10, 1) // 121 points, spacing 0.1
	cloud := &Mesh{V: g.V, N: g.N}
	// A lone far away point is an outlier.
	cloud.V = append(cloud.V, r3.Vec{X: 50})
	cloud.N = append(cloud.N, r3.Vec{Z: 1})
	nn := bruteNN{V: append([]r3.Vec(nil), cloud.V...), N: cloud.N}
	for _, p := range pools {
		t.Run(p.name, func(t *testing.T) {
			c := &Mesh{V: append([]r3.Vec(nil), cloud.V...), N: append([]r3.Vec(nil), cloud.N...)}
			res := PointCloudAdjacency(c, nn, PointCloudConfig{K: 8}, p.pool)
			require.NoError(t, res.Adj.Validate(len(c.V)))
			assert.Equal(t, 1, res.Outliers)
			last := uint32(len(c.V) - 1)
			assert.True(t, math.IsInf(c.V[last].X, 1))
			assert.Equal(t, r3.Vec{}, c.N[last])
			assert.Zero(t, res.A[last])
			assert.Zero(t, res.Adj.Degree(last))
			for i := uint32(0); i < last; i++ {
				assert.Greater(t, res.Adj.Degree(i), 0)
				assert.InDelta(t, math.Pi*0.01, res.A[i], 1e-9)
				for _, l := range res.Adj.Neighbors(i) {
					assert.NotEqual(t, i, l.ID)
					assert.NotEqual(t, -1, res.Adj.Find(l.ID, i), "links must be symmetric")
				}
			}
		})
	}
}
