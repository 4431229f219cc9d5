package extract

import (
	"context"
	"math"
	"testing"

	"github.com/soypat/imesh/bvh"
	"github.com/soypat/imesh/field"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var pools = []*parallel.Pool{parallel.Sequential(), parallel.New(4, parallel.Fast)}

// latticeInput samples a flat n×n triangle grid with spacing h and
// assigns it the exact field of a lattice with spacing scale through the
// origin.
func latticeInput(t *testing.T, fn *field.Functors, n int, h, scale float64) *Input {
	t.Helper()
	m := &mesh.Mesh{Deg: 3}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			m.V = append(m.V, r3.Vec{X: float64(x) * h, Y: float64(y) * h})
			m.N = append(m.N, r3.Vec{Z: 1})
		}
	}
	for y := 0; y+1 < n; y++ {
		for x := 0; x+1 < n; x++ {
			a := uint32(y*n + x)
			m.F = append(m.F, a, a+1, a+uint32(n)+1, a, a+uint32(n)+1, a+uint32(n))
		}
	}
	d, err := mesh.BuildDEdge(m, nil)
	require.NoError(t, err)
	adj := mesh.UniformAdjacency(m, d, nil)
	in := &Input{V: m.V, N: m.N, Adj: &adj}
	q := r3.Vec{X: 1}
	for _, v := range m.V {
		in.Q = append(in.Q, q)
		in.O = append(in.O, fn.PositionRound(r3.Vec{}, q, r3.Vec{Z: 1}, v, scale, 1/scale))
	}
	return in
}

func requireValidFaces(t *testing.T, m *mesh.Mesh) {
	t.Helper()
	for f := 0; f < m.NumFaces(); f++ {
		face := m.Face(f)
		corners := face
		if m.Deg == 4 && face[3] == face[2] {
			corners = face[:3]
		}
		for k, v := range corners {
			require.Less(t, int(v), len(m.V), "face %d", f)
			for _, w := range corners[k+1:] {
				require.NotEqual(t, v, w, "face %d repeats a corner: %v", f, face)
			}
		}
	}
}

func TestExtractQuadPatch(t *testing.T) {
	fn, err := field.Lookup(4, 4, true)
	require.NoError(t, err)
	for _, pool := range pools {
		in := latticeInput(t, fn, 31, 0.13, 1)
		out, err := Extract(context.Background(), in, Config{Functors: fn, Scale: 1, Pool: pool})
		require.NoError(t, err)
		m := &out.Mesh
		require.Equal(t, 4, m.Deg)
		requireValidFaces(t, m)
		assert.Equal(t, 16, m.NumFaces())
		assert.Len(t, m.V, 25)
		for _, v := range m.V {
			assert.InDelta(t, math.Round(v.X), v.X, 1e-9)
			assert.InDelta(t, math.Round(v.Y), v.Y, 1e-9)
		}
		for _, n := range out.Nf {
			assert.InDelta(t, 1, n.Z, 1e-9)
		}
		rep := out.Report
		assert.Equal(t, 16, rep.Loops[4])
		assert.Equal(t, 1, rep.BoundaryLoops)
		assert.Zero(t, rep.UnfilledHoles)
		assert.Zero(t, rep.SnapMerges+rep.SnapEdgesRemoved)
		assert.False(t, rep.SnapCapHit)
		assert.Equal(t, len(in.V)-25, rep.Collapses)
	}
}

func TestExtractTrianglePatch(t *testing.T) {
	fn, err := field.Lookup(6, 3, true)
	require.NoError(t, err)
	for _, pool := range pools {
		in := latticeInput(t, fn, 31, 0.13, 1)
		out, err := Extract(context.Background(), in, Config{Functors: fn, Scale: 1, Pool: pool})
		require.NoError(t, err)
		m := &out.Mesh
		require.Equal(t, 3, m.Deg)
		requireValidFaces(t, m)
		assert.GreaterOrEqual(t, m.NumFaces(), 20)
		assert.LessOrEqual(t, m.NumFaces(), 50)
		for f := 0; f < m.NumFaces(); f++ {
			face := m.Face(f)
			for k := range face {
				l := r3.Norm(r3.Sub(m.V[face[k]], m.V[face[(k+1)%3]]))
				assert.InDelta(t, 1, l, 1e-9)
			}
			assert.Greater(t, out.Nf[f].Z, 0.99)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	fn, err := field.Lookup(4, 4, true)
	require.NoError(t, err)
	in := latticeInput(t, fn, 31, 0.13, 1)
	cfg := Config{Functors: fn, Scale: 1, Pool: parallel.New(4, parallel.Deterministic)}
	a, err := Extract(context.Background(), in, cfg)
	require.NoError(t, err)
	b, err := Extract(context.Background(), in, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Mesh.F, b.Mesh.F)
	assert.Equal(t, a.Mesh.V, b.Mesh.V)
}

func TestExtractPureQuad(t *testing.T) {
	fn, err := field.Lookup(4, 4, true)
	require.NoError(t, err)
	in := latticeInput(t, fn, 31, 0.13, 1)
	in.Crease = map[uint32]struct{}{0: {}, 1: {}, 2: {}}
	out, err := Extract(context.Background(), in, Config{Functors: fn, Scale: 1, PureQuad: true})
	require.NoError(t, err)
	m := &out.Mesh
	requireValidFaces(t, m)
	assert.Equal(t, 64, m.NumFaces())
	assert.Len(t, m.V, 25+40+16)
	for f := 0; f < m.NumFaces(); f++ {
		face := m.Face(f)
		assert.NotEqual(t, face[2], face[3])
	}
	// Input vertices 0, 1 and 2 all collapse into the lattice corner.
	assert.Len(t, out.Crease, 1)
}

func TestExtractSmoothKeepsPlane(t *testing.T) {
	fn, err := field.Lookup(4, 4, true)
	require.NoError(t, err)
	in := latticeInput(t, fn, 31, 0.13, 1)
	src := &mesh.Mesh{Deg: 4, V: []r3.Vec{{X: -1, Y: -1}, {X: 5, Y: -1}, {X: 5, Y: 5}, {X: -1, Y: 5}}, F: []uint32{0, 1, 2, 3}}
	out, err := Extract(context.Background(), in, Config{
		Functors:         fn,
		Scale:            1,
		SmoothIterations: 3,
		Surface:          TriangleSurface{Tree: bvh.New(src)},
	})
	require.NoError(t, err)
	adj := vertexNeighbours(&out.Mesh)
	for i, v := range out.Mesh.V {
		assert.InDelta(t, 0, v.Z, 1e-9)
		if len(adj[i]) == 4 {
			assert.InDelta(t, 1, out.Mesh.N[i].Z, 1e-6)
		}
	}
	assert.Zero(t, out.Report.ReprojectMisses)
}

func TestExtractRejects(t *testing.T) {
	fn4, err := field.Lookup(4, 4, true)
	require.NoError(t, err)
	fn3, err := field.Lookup(6, 3, true)
	require.NoError(t, err)
	in := latticeInput(t, fn4, 4, 0.5, 1)
	ctx := context.Background()

	_, err = Extract(ctx, in, Config{Scale: 1})
	require.ErrorIs(t, err, errs.ErrConfig)
	_, err = Extract(ctx, in, Config{Functors: fn4})
	require.ErrorIs(t, err, errs.ErrConfig)
	_, err = Extract(ctx, in, Config{Functors: fn3, Scale: 1, PureQuad: true})
	require.ErrorIs(t, err, errs.ErrConfig)

	short := *in
	short.O = short.O[:2]
	_, err = Extract(ctx, &short, Config{Functors: fn4, Scale: 1})
	require.ErrorIs(t, err, errs.ErrInput)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Extract(canceled, in, Config{Functors: fn4, Scale: 1})
	require.ErrorIs(t, err, errs.ErrCanceled)
}

// latticeGraph returns the 4-connected graph over the integer points of
// [0,n)² for which keep returns true.
func latticeGraph(n int, keep func(x, y int) bool) *graph {
	g := &graph{}
	id := make(map[[2]int]uint32)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if !keep(x, y) {
				continue
			}
			id[[2]int{x, y}] = uint32(len(g.P))
			g.P = append(g.P, r3.Vec{X: float64(x), Y: float64(y)})
			g.N = append(g.N, r3.Vec{Z: 1})
		}
	}
	g.adj = make([][]uint32, len(g.P))
	g.crease = make([]bool, len(g.P))
	g.dead = make([]bool, len(g.P))
	for p, i := range id {
		for _, d := range [][2]int{{1, 0}, {0, 1}} {
			if j, ok := id[[2]int{p[0] + d[0], p[1] + d[1]}]; ok {
				g.link(i, j)
			}
		}
	}
	return g
}

func TestFaceBuilderHoles(t *testing.T) {
	hole := func(x, y int) bool { return x < 2 || x > 4 || y < 2 || y > 4 }
	for _, fill := range []bool{false, true} {
		b := newFaceBuilder(latticeGraph(7, hole), 4, nil)
		rep := Report{Loops: make(map[int]int)}
		b.extract(fill, &rep)
		assert.Equal(t, 20, rep.Loops[4])
		assert.Equal(t, 1, rep.BoundaryLoops)
		m, _ := b.mesh()
		requireValidFaces(t, m)
		// The hole has sixteen corners and is too large to fill.
		assert.Zero(t, rep.HolesFilled)
		assert.Equal(t, 1, rep.UnfilledHoles)
		assert.Equal(t, 20, m.NumFaces())
	}
}

// ring returns a graph with n points on the unit circle linked in a cycle.
func ring(n int) *graph {
	g := &graph{adj: make([][]uint32, n), crease: make([]bool, n), dead: make([]bool, n)}
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		g.P = append(g.P, r3.Vec{X: math.Cos(a), Y: math.Sin(a)})
		g.N = append(g.N, r3.Vec{Z: 1})
	}
	for i := 0; i < n; i++ {
		g.link(uint32(i), uint32((i+1)%n))
	}
	return g
}

func TestClassifyLoops(t *testing.T) {
	for _, test := range []struct {
		corners  int
		fill     bool
		filled   int
		unfilled int
	}{
		{corners: 5, fill: true, filled: 1},
		{corners: 6, fill: true, filled: 1},
		{corners: 6, fill: false, unfilled: 1},
		{corners: 7, fill: true, unfilled: 1},
		{corners: 12, fill: true, unfilled: 1},
	} {
		b := newFaceBuilder(ring(test.corners), 4, nil)
		rep := Report{Loops: make(map[int]int)}
		b.classifyLoops(test.fill, &rep)
		assert.Equal(t, 1, rep.BoundaryLoops, "%+v", test)
		assert.Equal(t, test.filled, rep.HolesFilled, "%+v", test)
		assert.Equal(t, test.unfilled, rep.UnfilledHoles, "%+v", test)
		m, _ := b.mesh()
		requireValidFaces(t, m)
		if test.filled > 0 {
			assert.Positive(t, m.NumFaces())
		} else {
			assert.Zero(t, m.NumFaces())
		}
	}
}

func TestStripNonManifold(t *testing.T) {
	// Two square pyramids touching at their apex 4. The sides are
	// triangles stored as quads.
	double := func() *mesh.Mesh {
		return &mesh.Mesh{
			Deg: 4,
			V: []r3.Vec{
				{}, {X: 1}, {X: 1, Y: 1}, {Y: 1},
				{X: 0.5, Y: 0.5, Z: 1},
				{Z: 2}, {X: 1, Z: 2}, {X: 1, Y: 1, Z: 2}, {Y: 1, Z: 2},
			},
			F: []uint32{
				0, 3, 2, 1,
				0, 1, 4, 4, 1, 2, 4, 4, 2, 3, 4, 4, 3, 0, 4, 4,
				5, 6, 7, 8,
				6, 5, 4, 4, 7, 6, 4, 4, 8, 7, 4, 4, 5, 8, 4, 4,
			},
		}
	}
	for _, pool := range pools {
		m := double()
		single := &mesh.Mesh{Deg: 4, V: m.V, F: append([]uint32(nil), m.F[:20]...)}
		n, err := stripNonManifold(single, pool)
		require.NoError(t, err)
		assert.Zero(t, n, "a closed pyramid is manifold")
		assert.Equal(t, 5, single.NumFaces())

		n, err = stripNonManifold(m, pool)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		assert.Equal(t, []uint32{0, 3, 2, 1, 5, 6, 7, 8}, m.F)
	}
}

func TestFillQuadsPentagon(t *testing.T) {
	// A unit square with one extra corner on its top edge.
	g := &graph{
		P:      []r3.Vec{{}, {X: 1}, {X: 1, Y: 1}, {X: 0.5, Y: 1}, {Y: 1}},
		N:      []r3.Vec{{Z: 1}, {Z: 1}, {Z: 1}, {Z: 1}, {Z: 1}},
		adj:    make([][]uint32, 5),
		crease: make([]bool, 5),
		dead:   make([]bool, 5),
	}
	b := newFaceBuilder(g, 4, nil)
	b.fillQuads([]uint32{0, 1, 2, 3, 4})
	m, _ := b.mesh()
	requireValidFaces(t, m)
	assert.Equal(t, 2, m.NumFaces())
	assert.Zero(t, b.extra)
}

func TestFillTriangles(t *testing.T) {
	g := &graph{
		P: []r3.Vec{{}, {X: 1}, {X: 1.5, Y: math.Sqrt(3) / 2}, {X: 1, Y: math.Sqrt(3)}, {Y: math.Sqrt(3)}, {X: -0.5, Y: math.Sqrt(3) / 2}},
		N: make([]r3.Vec, 6),
	}
	for i := range g.N {
		g.N[i] = r3.Vec{Z: 1}
	}
	g.adj, g.crease, g.dead = make([][]uint32, 6), make([]bool, 6), make([]bool, 6)
	b := newFaceBuilder(g, 3, nil)
	b.fillTriangles([]uint32{0, 1, 2, 3, 4, 5})
	m, _ := b.mesh()
	requireValidFaces(t, m)
	assert.Equal(t, 4, m.NumFaces())
	for _, n := range faceNormals(m) {
		assert.InDelta(t, 1, n.Z, 1e-9)
	}
}

func TestRemoveDiagonals(t *testing.T) {
	g := latticeGraph(2, func(x, y int) bool { return true })
	// Points are (0,0), (1,0), (0,1), (1,1).
	g.link(0, 3)
	assert.Equal(t, 1, g.removeDiagonals(1))
	assert.NotContains(t, g.adj[0], uint32(3))
	assert.Len(t, g.adj[0], 2)
}

func TestSnap(t *testing.T) {
	flat := func(apex r3.Vec) *graph {
		g := &graph{
			P:      []r3.Vec{{}, {X: 1}, apex},
			N:      []r3.Vec{{Z: 1}, {Z: 1}, {Z: 1}},
			adj:    make([][]uint32, 3),
			crease: []bool{false, false, true},
			dead:   make([]bool, 3),
		}
		g.link(0, 1)
		g.link(1, 2)
		g.link(0, 2)
		return g
	}
	g := flat(r3.Vec{X: 0.5, Y: 0.05})
	var rep Report
	g.snap(1, 100, &rep)
	assert.Equal(t, 1, rep.SnapEdgesRemoved)
	assert.Equal(t, []uint32{2}, g.adj[0])
	assert.Equal(t, 2, rep.SnapRounds)

	g = flat(r3.Vec{X: 0.1, Y: 0.02})
	rep = Report{}
	g.snap(1, 100, &rep)
	assert.Equal(t, 1, rep.SnapMerges)
	assert.True(t, g.dead[2])
	assert.True(t, g.crease[0])
	assert.Equal(t, []uint32{1}, g.adj[0])
	assert.InDelta(t, 0.05, g.P[0].X, 1e-12)

	g = flat(r3.Vec{X: 0.5, Y: 0.05})
	rep = Report{}
	g.snap(1, 1, &rep)
	assert.True(t, rep.SnapCapHit)
}

func TestBFSOrder(t *testing.T) {
	g := csrGraph{{2}, {2}, {0, 1}, {4}, {3}}
	assert.Equal(t, []uint32{0, 2, 1, 3, 4}, bfsOrder(g))
	assert.True(t, g.HasEdgeBetween(2, 1))
	assert.Nil(t, g.Edge(0, 1))
	assert.NotNil(t, g.Edge(0, 2))
}

func TestSurfaces(t *testing.T) {
	plane := &mesh.Mesh{Deg: 3, V: []r3.Vec{{}, {X: 1}, {Y: 1}}, F: []uint32{0, 1, 2}}
	s := TriangleSurface{Tree: bvh.New(plane)}
	q, ok := s.Project(r3.Vec{X: 0.2, Y: 0.2, Z: 0.3}, r3.Vec{Z: 1}, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 0, r3.Norm(r3.Sub(q, r3.Vec{X: 0.2, Y: 0.2})), 1e-12)
	_, ok = s.Project(r3.Vec{X: 0.2, Y: 0.2, Z: -0.3}, r3.Vec{Z: 1}, 0.1)
	assert.False(t, ok)

	V := []r3.Vec{{}, {X: 10}}
	N := []r3.Vec{{Z: 1}, {X: 1}}
	ps := PointSurface{Index: bvh.NewPointIndex(V, N), V: V, N: N}
	q, ok = ps.Project(r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{Z: 1}, 1)
	require.True(t, ok)
	assert.Equal(t, r3.Vec{X: 1, Y: 2}, q)
}
