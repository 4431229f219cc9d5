package imesh

import (
	"bytes"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/soypat/imesh/internal/errs"
)

// Params configures Remesh. The zero value of a field selects its default
// unless noted otherwise; DefaultParams returns the defaults explicitly.
type Params struct {
	// Rosy is the rotational symmetry of the orientation field: 2, 4 or 6.
	// Defaults to 4.
	Rosy int `toml:"rosy"`
	// Posy is the positional symmetry: 4 for quads, 3 for triangles.
	// Defaults to 4.
	Posy int `toml:"posy"`
	// Extrinsic compares orientations in 3D instead of after parallel
	// transport. Not defaulted by the zero value; see DefaultParams.
	Extrinsic bool `toml:"extrinsic"`

	// Scale is the target edge length. When zero it is derived from
	// FaceCount, then VertexCount, then one output vertex per 16 input
	// vertices.
	Scale       float64 `toml:"scale"`
	FaceCount   int     `toml:"face_count"`
	VertexCount int     `toml:"vertex_count"`

	// Creases is the dihedral angle in degrees above which an edge is
	// kept sharp. Zero disables crease detection.
	Creases float64 `toml:"creases"`
	// Cotan weights the smoothing graph with cotangent weights.
	Cotan bool `toml:"cotan"`
	// AlignToBoundaries constrains the fields along open boundaries.
	AlignToBoundaries bool `toml:"align_to_boundaries"`
	// Smooth is the number of smoothing and reprojection rounds applied
	// to the output.
	Smooth int `toml:"smooth"`
	// PureQuad subdivides the output into quads only. Halves the edge
	// length.
	PureQuad bool `toml:"pure_quad"`

	// Deterministic selects reproducible algorithms. The output then
	// only depends on the input and Seed.
	Deterministic bool `toml:"deterministic"`
	// Workers is the number of goroutines. Zero uses GOMAXPROCS.
	Workers int    `toml:"workers"`
	Seed    uint64 `toml:"seed"`

	// KNN is the number of neighbours linked per point of a point cloud.
	// Defaults to 10.
	KNN int `toml:"knn"`

	FillHoles        bool `toml:"fill_holes"`
	RemoveSpurious   bool `toml:"remove_spurious"`
	StripNonManifold bool `toml:"strip_non_manifold"`
}

// DefaultParams returns the parameters of a quad dominant remesh with
// extrinsic smoothing.
func DefaultParams() Params {
	return Params{
		Rosy:      4,
		Posy:      4,
		Extrinsic: true,
		KNN:       10,
		FillHoles: true,
	}
}

func (p Params) withDefaults() Params {
	if p.Rosy == 0 {
		p.Rosy = 4
	}
	if p.Posy == 0 {
		p.Posy = 4
	}
	if p.KNN <= 0 {
		p.KNN = 10
	}
	return p
}

func (p Params) validate() error {
	const stage = "params"
	switch {
	case p.Scale < 0:
		return errs.New(errs.ErrConfig, stage, "negative scale %g", p.Scale)
	case p.FaceCount < 0 || p.VertexCount < 0:
		return errs.New(errs.ErrConfig, stage, "negative face or vertex count")
	case p.Creases < 0 || p.Creases >= 180:
		return errs.New(errs.ErrConfig, stage, "crease angle %g outside [0,180)", p.Creases)
	case p.Smooth < 0:
		return errs.New(errs.ErrConfig, stage, "negative smoothing rounds %d", p.Smooth)
	case p.Workers < 0:
		return errs.New(errs.ErrConfig, stage, "negative worker count %d", p.Workers)
	case p.PureQuad && p.Posy != 4:
		return errs.New(errs.ErrConfig, stage, "pure quad output needs posy 4, got %d", p.Posy)
	}
	return nil
}

// LoadParams reads TOML encoded parameters from path. Keys missing from
// the file keep the values of DefaultParams. Unknown keys are an error.
func LoadParams(path string) (Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Params{}, err
	}
	return DecodeParams(b)
}

// DecodeParams parses TOML encoded parameters over DefaultParams.
func DecodeParams(b []byte) (Params, error) {
	p := DefaultParams()
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Params{}, errs.New(errs.ErrConfig, "params", "%v", err)
	}
	return p, nil
}
