// Package extract turns solved orientation and position fields into a
// polygon mesh.
//
// Vertices whose lattice origins coincide are collapsed into one output
// vertex, vertices one lattice step apart are connected, and the faces of
// the resulting graph are found by walking its edges in angular order
// around each vertex. Loops that are not quads (or triangles, for the
// triangular lattice) are filled with the target polygon.
package extract

import (
	"context"
	"log/slog"

	"github.com/soypat/imesh/field"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

const stage = "extract"

// Input is the solved field sampled at the input vertices.
type Input struct {
	V, N, Q, O []r3.Vec
	Adj        *mesh.Adjacency
	// Crease holds input vertices on sharp features. May be nil.
	Crease map[uint32]struct{}
}

// Config controls extraction.
type Config struct {
	// Functors selects the symmetry of the solved field. Required.
	Functors *field.Functors
	// Scale is the lattice spacing the position field was solved with.
	Scale float64
	// RemoveSpurious drops output vertices built from fewer collapses
	// than a tenth of the mean.
	RemoveSpurious bool
	// FillHoles fills front facing loops too long to be faces.
	FillHoles bool
	// PureQuad splits every face into quads. Needs Posy 4.
	PureQuad bool
	// SmoothIterations is the number of Laplacian smoothing rounds.
	SmoothIterations int
	// Surface reprojects smoothed vertices. nil skips reprojection.
	Surface Surface
	// StripNonManifold removes faces around non-manifold vertices.
	StripNonManifold bool
	// MaxSnapRounds bounds the snapping fixpoint. Defaults to 100.
	MaxSnapRounds int
	Pool          *parallel.Pool
	Logger        *slog.Logger
}

// Report tallies what extraction dropped, merged or could not fill.
type Report struct {
	// Collapses is the number of merged vertex pairs and Conflicts the
	// number of merges refused because the two sides were already linked.
	Collapses, Conflicts int
	// DroppedLinks counts links whose lattice offset spans more than one
	// step.
	DroppedLinks int
	// Spurious counts output vertices removed for too few collapses.
	Spurious int
	// DiagonalsRemoved counts quad diagonals removed from the graph.
	DiagonalsRemoved int
	// SnapMerges and SnapEdgesRemoved count the fixes of degenerate
	// triangles. SnapCapHit is set when snapping stopped at MaxSnapRounds.
	SnapMerges, SnapEdgesRemoved, SnapRounds int
	SnapCapHit                               bool
	// Loops counts the closed face loops found, by number of corners.
	Loops map[int]int
	// Fans counts polygons filled around an added centroid.
	Fans int
	// BoundaryLoops counts back facing loops along open boundaries.
	BoundaryLoops int
	// HolesFilled and UnfilledHoles count front facing loops longer than
	// a face. Only holes of up to six corners are filled.
	HolesFilled, UnfilledHoles int
	// NonManifoldStripped counts faces removed around non-manifold
	// vertices.
	NonManifoldStripped int
	// Unreferenced counts graph vertices used by no face.
	Unreferenced int
	// ReprojectMisses counts smoothed vertices with no surface nearby.
	ReprojectMisses int
}

// Output is the extracted mesh.
type Output struct {
	// Mesh has degree 4 for Posy 4 and degree 3 for Posy 3. Triangles in
	// a quad mesh repeat their last corner. Mesh.N holds vertex normals.
	Mesh mesh.Mesh
	// Nf holds face normals.
	Nf []r3.Vec
	// Crease holds output vertices on sharp features.
	Crease map[uint32]struct{}
	Report Report
}

func (c Config) validate(in *Input) error {
	if c.Functors == nil {
		return errs.New(errs.ErrConfig, stage, "no symmetry functors")
	}
	if !(c.Scale > 0) {
		return errs.New(errs.ErrConfig, stage, "scale %g must be positive", c.Scale)
	}
	if c.PureQuad && c.Functors.Posy != 4 {
		return errs.New(errs.ErrConfig, stage, "pure quad output needs posy 4, got %d", c.Functors.Posy)
	}
	nv := len(in.V)
	if len(in.N) != nv || len(in.Q) != nv || len(in.O) != nv {
		return errs.New(errs.ErrInput, stage, "field lengths V=%d N=%d Q=%d O=%d differ", nv, len(in.N), len(in.Q), len(in.O))
	}
	if in.Adj == nil {
		return errs.New(errs.ErrInput, stage, "no adjacency")
	}
	return in.Adj.Validate(nv)
}

// Extract builds the output mesh from a solved field.
func Extract(ctx context.Context, in *Input, cfg Config) (*Output, error) {
	if err := cfg.validate(in); err != nil {
		return nil, err
	}
	if cfg.MaxSnapRounds <= 0 {
		cfg.MaxSnapRounds = 100
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	canceled := func() error {
		if err := ctx.Err(); err != nil {
			return errs.New(errs.ErrCanceled, stage, "%v", err)
		}
		return nil
	}
	rep := Report{Loops: make(map[int]int)}

	edges, cands, dropped := classify(in, &cfg)
	rep.DroppedLinks = dropped
	log.Debug("classified links", slog.Int("collapses", len(cands)), slog.Int("dropped", dropped))
	if err := canceled(); err != nil {
		return nil, err
	}

	c := collapseAll(len(in.V), edges, cands, cfg.Pool)
	rep.Collapses, rep.Conflicts = c.collapses, c.conflicts
	log.Debug("collapsed vertices", slog.Int("collapses", c.collapses), slog.Int("conflicts", c.conflicts))
	if err := canceled(); err != nil {
		return nil, err
	}

	g := mergeComponents(in, &cfg, c, &rep)
	log.Debug("merged components", slog.Int("vertices", len(g.P)), slog.Int("spurious", rep.Spurious))
	if err := canceled(); err != nil {
		return nil, err
	}

	if cfg.Functors.Posy == 4 {
		rep.DiagonalsRemoved = g.removeDiagonals(cfg.Scale)
	}
	g.snap(cfg.Scale, cfg.MaxSnapRounds, &rep)
	if rep.SnapCapHit {
		log.Warn("snapping did not converge", slog.Int("rounds", rep.SnapRounds))
	}
	log.Debug("snapped graph", slog.Int("diagonals", rep.DiagonalsRemoved),
		slog.Int("merges", rep.SnapMerges), slog.Int("edges", rep.SnapEdgesRemoved))
	if err := canceled(); err != nil {
		return nil, err
	}

	b := newFaceBuilder(g, cfg.Functors.Posy, cfg.Pool)
	b.extract(cfg.FillHoles, &rep)
	if rep.UnfilledHoles > 0 {
		log.Warn("unfilled holes", slog.Int("holes", rep.UnfilledHoles))
	}
	log.Debug("extracted faces", slog.Int("faces", len(b.faces)/b.deg), slog.Int("boundaries", rep.BoundaryLoops))
	if err := canceled(); err != nil {
		return nil, err
	}

	m, crease := b.mesh()
	if cfg.StripNonManifold {
		n, err := stripNonManifold(m, cfg.Pool)
		if err != nil {
			return nil, err
		}
		rep.NonManifoldStripped = n
		if n > 0 {
			log.Warn("stripped non-manifold faces", slog.Int("faces", n))
		}
	}
	scale := cfg.Scale
	if cfg.PureQuad {
		m, crease = subdivideQuads(m, crease)
		scale /= 2
	}
	m, crease, rep.Unreferenced = compact(m, crease)
	if err := canceled(); err != nil {
		return nil, err
	}

	if cfg.SmoothIterations > 0 {
		rep.ReprojectMisses = smooth(ctx, m, crease, cfg.SmoothIterations, scale, cfg.Surface, cfg.Pool)
		if err := canceled(); err != nil {
			return nil, err
		}
	}

	crease = reorder(m, crease)
	out := &Output{
		Mesh:   *m,
		Nf:     faceNormals(m),
		Crease: make(map[uint32]struct{}),
		Report: rep,
	}
	for i, c := range crease {
		if c {
			out.Crease[uint32(i)] = struct{}{}
		}
	}
	log.Debug("extraction done", slog.Int("vertices", len(m.V)), slog.Int("faces", m.NumFaces()))
	return out, nil
}
