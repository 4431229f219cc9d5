// Package imesh converts triangle meshes and oriented point clouds into
// quad or triangle dominant meshes with a controllable edge length.
//
// A smooth orientation field and a position field are solved on a
// multi-resolution hierarchy of the input. The position field places every
// input vertex on a local lattice; vertices sharing a lattice point become
// one output vertex and lattice neighbours become output edges.
package imesh

import (
	"context"
	"log/slog"
	"math"

	"github.com/soypat/imesh/bvh"
	"github.com/soypat/imesh/extract"
	"github.com/soypat/imesh/field"
	"github.com/soypat/imesh/hierarchy"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"github.com/soypat/imesh/optimizer"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// Error kinds returned by Remesh. Use errors.Is to test for them.
var (
	ErrInput    = errs.ErrInput
	ErrConfig   = errs.ErrConfig
	ErrResource = errs.ErrResource
	ErrCanceled = errs.ErrCanceled
)

// Progress receives advisory progress updates. fraction is in [0,1]
// within the stage named by label.
type Progress func(label string, fraction float64)

func (p Progress) report(label string, fraction float64) {
	if p != nil {
		p(label, fraction)
	}
}

// Result is the output of Remesh.
type Result struct {
	extract.Output
	// Scale is the edge length the fields were solved with. PureQuad
	// output has half this edge length.
	Scale float64
	// Input holds statistics of the input.
	Input mesh.Stats
	// Levels is the depth of the hierarchy.
	Levels int
	// Constrained counts vertices constrained to the boundary.
	Constrained int
	// OrientationSingularities and PositionSingularities map faces of the
	// preprocessed input to their field index. Empty for point clouds.
	OrientationSingularities map[uint32]int
	PositionSingularities    map[uint32]field.Index2
	// Diagnostics tallies degeneracies recovered while preprocessing.
	Diagnostics mesh.Diagnostics
}

// Remesh runs the whole pipeline on m, which is not modified. progress
// and logger may be nil.
func Remesh(ctx context.Context, m *mesh.Mesh, p Params, progress Progress, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	fn, err := field.Lookup(p.Rosy, p.Posy, p.Extrinsic)
	if err != nil {
		return nil, err
	}
	if err := mesh.Validate(m); err != nil {
		return nil, err
	}
	policy := parallel.Fast
	if p.Deterministic {
		policy = parallel.Deterministic
	}
	pool := parallel.New(p.Workers, policy)
	logger.Debug("remesh", slog.Int("vertices", len(m.V)), slog.Int("faces", m.NumFaces()),
		slog.Int("rosy", p.Rosy), slog.Int("posy", p.Posy), slog.Bool("extrinsic", p.Extrinsic),
		slog.Int("workers", pool.NumWorkers()), slog.String("policy", policy.String()))

	res := &Result{}
	var in *input
	if m.IsPointCloud() {
		in, err = preparePointCloud(m, p, res, pool, progress)
	} else {
		in, err = prepareMesh(m, p, res, pool, progress)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.New(errs.ErrCanceled, "remesh", "%v", err)
	}
	logger.Debug("scale", slog.Float64("scale", res.Scale), slog.Float64("average edge", res.Input.AverageEdgeLength))

	progress.report("Building hierarchy", 0)
	h, err := hierarchy.Build(ctx, in.m.V, in.m.N, in.A, in.adj, hierarchy.Config{Pool: pool, Seed: p.Seed, Logger: logger})
	if err != nil {
		return nil, err
	}
	h.SetScale(res.Scale)
	h.ResetSolution(p.Seed)
	res.Levels = h.Depth()
	if p.AlignToBoundaries && in.d != nil {
		res.Constrained = h.BoundaryConstraints(in.m, in.d)
		if res.Constrained > 0 {
			h.PropagateConstraints(fn)
		}
	}
	progress.report("Building hierarchy", 1)

	if err := solve(ctx, h, p, pool, logger, progress); err != nil {
		return nil, err
	}
	l0 := h.Level(0)
	if !in.m.IsPointCloud() {
		res.OrientationSingularities = field.OrientationSingularities(in.m, l0.Q, l0.N, fn, pool)
		res.PositionSingularities = field.PositionSingularities(in.m, l0.V, l0.N, l0.Q, l0.O, fn, res.Scale, pool)
		logger.Debug("singularities", slog.Int("orientation", len(res.OrientationSingularities)),
			slog.Int("position", len(res.PositionSingularities)))
	}

	progress.report("Extracting mesh", 0)
	cfg := extract.Config{
		Functors:         fn,
		Scale:            res.Scale,
		RemoveSpurious:   p.RemoveSpurious,
		FillHoles:        p.FillHoles,
		PureQuad:         p.PureQuad,
		SmoothIterations: p.Smooth,
		StripNonManifold: p.StripNonManifold,
		Pool:             pool,
		Logger:           logger,
	}
	if p.Smooth > 0 {
		cfg.Surface = in.surface()
	}
	out, err := extract.Extract(ctx, &extract.Input{
		V: l0.V, N: l0.N, Q: l0.Q, O: l0.O,
		Adj:    &l0.Adj,
		Crease: in.crease,
	}, cfg)
	if err != nil {
		return nil, err
	}
	progress.report("Extracting mesh", 1)
	res.Output = *out
	if !res.Diagnostics.Empty() {
		logger.Warn("input degeneracies", slog.String("diagnostics", res.Diagnostics.String()))
	}
	logger.Info("remeshed", slog.Int("vertices", len(out.Mesh.V)), slog.Int("faces", out.Mesh.NumFaces()),
		slog.Float64("scale", res.Scale))
	return res, nil
}

// input is the preprocessed surface the fields are solved on.
type input struct {
	m      *mesh.Mesh
	d      *mesh.DEdge
	A      []float64
	adj    mesh.Adjacency
	crease map[uint32]struct{}
	// points indexes point cloud vertices, nil for meshes.
	points *bvh.PointIndex
}

func (in *input) surface() extract.Surface {
	if in.points != nil {
		return extract.PointSurface{Index: in.points, V: in.m.V, N: in.m.N}
	}
	return extract.TriangleSurface{Tree: bvh.New(in.m)}
}

func prepareMesh(src *mesh.Mesh, p Params, res *Result, pool *parallel.Pool, progress Progress) (*input, error) {
	progress.report("Computing mesh statistics", 0)
	res.Input = mesh.ComputeStats(src, nil, pool)
	scale, err := deriveScale(p, res.Input.SurfaceArea, len(src.V))
	if err != nil {
		return nil, err
	}
	res.Scale = scale
	m := src
	progress.report("Computing mesh statistics", 1)

	maxLength := math.Min(scale/2, 2*res.Input.AverageEdgeLength)
	if m.Deg == 3 && res.Input.MaximumEdgeLength > maxLength {
		progress.report("Subdividing mesh", 0)
		m, err = mesh.Subdivide(m, maxLength)
		if err != nil {
			return nil, err
		}
		progress.report("Subdividing mesh", 1)
	}

	progress.report("Building directed edges", 0)
	d, err := mesh.BuildDEdge(m, pool)
	if err != nil {
		return nil, err
	}
	in := &input{m: m, d: d}
	if p.Creases > 0 {
		cr, err := mesh.CreaseNormals(m, d, p.Creases, pool)
		if err != nil {
			return nil, err
		}
		res.Diagnostics = res.Diagnostics.Add(cr.Diagnostics)
		in.m, in.crease = cr.Mesh, cr.Crease
		if in.d, err = mesh.BuildDEdge(in.m, pool); err != nil {
			return nil, err
		}
	} else {
		N, diag := mesh.SmoothNormals(m, in.d, pool)
		res.Diagnostics = res.Diagnostics.Add(diag)
		// Copy so the caller's normals are never overwritten.
		in.m = &mesh.Mesh{F: m.F, Deg: m.Deg, V: m.V, N: N}
	}
	res.Diagnostics.NonManifoldVertices += in.d.CountNonManifold()
	progress.report("Building directed edges", 1)

	progress.report("Computing adjacency", 0)
	in.A = mesh.DualVertexAreas(in.m, in.d, pool)
	if p.Cotan {
		// Cotangent weights are defined on triangles. Splitting quads keeps
		// vertex ids so the weights apply to in.m unchanged.
		tm, td := in.m, in.d
		if tm.Deg == 4 {
			tm = mesh.Triangulate(tm)
			if td, err = mesh.BuildDEdge(tm, pool); err != nil {
				return nil, err
			}
		}
		adj, diag, err := mesh.CotanAdjacency(tm, td, pool)
		if err != nil {
			return nil, err
		}
		res.Diagnostics = res.Diagnostics.Add(diag)
		in.adj = adj
	} else {
		in.adj = mesh.UniformAdjacency(in.m, in.d, pool)
	}
	progress.report("Computing adjacency", 1)
	return in, nil
}

func preparePointCloud(src *mesh.Mesh, p Params, res *Result, pool *parallel.Pool, progress Progress) (*input, error) {
	// Outliers are moved to infinity so work on a copy.
	m := &mesh.Mesh{
		V: append([]r3.Vec(nil), src.V...),
		N: append([]r3.Vec(nil), src.N...),
	}
	progress.report("Computing adjacency", 0)
	idx := bvh.NewPointIndex(m.V, m.N)
	res.Input = mesh.ComputeStats(m, idx, pool)
	pc := mesh.PointCloudAdjacency(m, idx, mesh.PointCloudConfig{K: p.KNN}, pool)
	res.Diagnostics = res.Diagnostics.Add(pc.Diagnostics)
	progress.report("Computing adjacency", 1)

	area := floats.Sum(pc.A)
	res.Input.SurfaceArea = area
	scale, err := deriveScale(p, area, len(m.V)-pc.Outliers)
	if err != nil {
		return nil, err
	}
	res.Scale = scale
	in := &input{m: m, A: pc.A, adj: pc.Adj}
	if p.Smooth > 0 {
		// Outliers were moved after the first index was built.
		in.points = bvh.NewPointIndex(m.V, m.N)
	}
	return in, nil
}

// deriveScale returns the target edge length for a surface of the given
// area sampled by nv vertices.
func deriveScale(p Params, area float64, nv int) (float64, error) {
	if p.Scale > 0 {
		return p.Scale, nil
	}
	faces := p.FaceCount
	if faces == 0 {
		vertices := p.VertexCount
		if vertices == 0 {
			vertices = max(nv/16, 1)
		}
		// A closed quad mesh has about as many faces as vertices, a
		// triangle mesh twice as many.
		faces = vertices
		if p.Posy == 3 {
			faces = 2 * vertices
		}
	}
	faceArea := area / float64(faces)
	var scale float64
	if p.Posy == 4 {
		scale = math.Sqrt(faceArea)
	} else {
		scale = math.Sqrt(faceArea * 4 / math.Sqrt(3))
	}
	if !(scale > 0) || math.IsInf(scale, 0) {
		return 0, errs.New(errs.ErrInput, "scale", "cannot derive an edge length from surface area %g", area)
	}
	return scale, nil
}

// solve runs the orientation solve followed by the position solve.
func solve(ctx context.Context, h *hierarchy.Hierarchy, p Params, pool *parallel.Pool, logger *slog.Logger, progress Progress) error {
	opt, err := optimizer.New(h, optimizer.Config{
		Rosy:      p.Rosy,
		Posy:      p.Posy,
		Extrinsic: p.Extrinsic,
		Pool:      pool,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer opt.Shutdown()
	for _, f := range []optimizer.Field{optimizer.Orientations, optimizer.Positions} {
		label := "Solving " + f.String()
		progress.report(label, 0)
		if f == optimizer.Orientations {
			opt.OptimizeOrientations(-1)
		} else {
			opt.OptimizePositions(-1)
		}
		opt.Notify()
		if err := opt.Wait(ctx); err != nil {
			opt.Stop()
			return err
		}
		logger.Debug("solved", slog.String("field", f.String()), slog.Uint64("units", opt.Snapshot().Units))
		progress.report(label, 1)
	}
	return nil
}
