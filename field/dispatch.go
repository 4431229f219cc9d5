// Package field implements the orientation and position field kernels:
// symmetry aware compatibility functions, Gauss-Seidel relaxation over the
// hierarchy phases, integer jump freezing and singularity detection.
package field

import (
	"github.com/soypat/imesh/internal/errs"
	"gonum.org/v1/gonum/spatial/r3"
)

// Functors bundles the symmetry functions for one combination of
// rotational symmetry, positional symmetry and compatibility mode.
// Functors implements hierarchy.Compat.
type Functors struct {
	Rosy, Posy int
	Extrinsic  bool

	compatOrientation      func(q0, n0, q1, n1 r3.Vec) (r3.Vec, r3.Vec)
	compatOrientationIndex func(q0, n0, q1, n1 r3.Vec) (int, int)
	lat                    lattice
}

type comboKey struct {
	rosy, posy int
	extrinsic  bool
}

type orientationPair struct {
	compat func(q0, n0, q1, n1 r3.Vec) (r3.Vec, r3.Vec)
	index  func(q0, n0, q1, n1 r3.Vec) (int, int)
}

var orientations = map[comboKey]orientationPair{
	{rosy: 2, extrinsic: true}:  {compatOrientationExtrinsic2, compatOrientationExtrinsicIndex2},
	{rosy: 2, extrinsic: false}: {compatOrientationIntrinsic2, compatOrientationIntrinsicIndex2},
	{rosy: 4, extrinsic: true}:  {compatOrientationExtrinsic4, compatOrientationExtrinsicIndex4},
	{rosy: 4, extrinsic: false}: {compatOrientationIntrinsic4, compatOrientationIntrinsicIndex4},
	{rosy: 6, extrinsic: true}:  {compatOrientationExtrinsic6, compatOrientationExtrinsicIndex6},
	{rosy: 6, extrinsic: false}: {compatOrientationIntrinsic6, compatOrientationIntrinsicIndex6},
}

// supported lists the valid (rosy, posy) pairs. Every pair is available
// in extrinsic and intrinsic mode.
var supported = map[[2]int]lattice{
	{2, 4}: square,
	{4, 4}: square,
	{6, 3}: triangular,
	{6, 4}: square,
}

// Lookup returns the functors for the given symmetry. Unsupported
// combinations yield an errs.ErrConfig error.
func Lookup(rosy, posy int, extrinsic bool) (*Functors, error) {
	lat, ok := supported[[2]int{rosy, posy}]
	if !ok {
		return nil, errs.New(errs.ErrConfig, "field", "unsupported symmetry: rosy %d with posy %d", rosy, posy)
	}
	o := orientations[comboKey{rosy: rosy, extrinsic: extrinsic}]
	return &Functors{
		Rosy:                   rosy,
		Posy:                   posy,
		Extrinsic:              extrinsic,
		compatOrientation:      o.compat,
		compatOrientationIndex: o.index,
		lat:                    lat,
	}, nil
}

// Orientation returns the representatives of q0 and q1 that agree best.
func (f *Functors) Orientation(q0, n0, q1, n1 r3.Vec) (r3.Vec, r3.Vec) {
	return f.compatOrientation(q0, n0, q1, n1)
}

// OrientationIndex returns the turns, in units of 2π/Rosy, that map q0 and
// q1 onto the representatives returned by Orientation.
func (f *Functors) OrientationIndex(q0, n0, q1, n1 r3.Vec) (int, int) {
	return f.compatOrientationIndex(q0, n0, q1, n1)
}

// Rotate rotates q about n by k turns of 2π/Rosy.
func (f *Functors) Rotate(q, n r3.Vec, k int) r3.Vec {
	return RotateIndex(q, n, k, f.Rosy)
}

// Position returns the lattice points of the frames at the two vertices
// that agree best.
func (f *Functors) Position(p0, n0, q0, o0, p1, n1, q1, o1 r3.Vec, scale, invScale float64) (r3.Vec, r3.Vec) {
	if f.Extrinsic {
		return f.lat.compatPositionExtrinsic(p0, n0, q0, o0, p1, n1, q1, o1, scale, invScale)
	}
	return f.lat.compatPositionIntrinsic(p0, n0, q0, o0, p1, n1, q1, o1, scale, invScale)
}

// PositionIndex is Position returning lattice indices relative to o0 and
// o1 along with the squared distance between the two points.
func (f *Functors) PositionIndex(p0, n0, q0, o0, p1, n1, q1, o1 r3.Vec, scale, invScale float64) (Index2, Index2, float64) {
	if f.Extrinsic {
		return f.lat.compatPositionIndex(p0, n0, q0, o0, p1, n1, q1, o1, scale, invScale)
	}
	return f.lat.compatPositionIntrinsicIndex(p0, n0, q0, o0, p1, n1, q1, o1, scale, invScale)
}

// LatticePoint returns o offset by idx lattice steps of the frame (q, n).
func (f *Functors) LatticePoint(o, q, n r3.Vec, idx Index2, scale float64) r3.Vec {
	return f.lat.point(o, q, n, idx, scale)
}

// PositionRound returns the lattice point of the frame (o, q, n) closest
// to p.
func (f *Functors) PositionRound(o, q, n, p r3.Vec, scale, invScale float64) r3.Vec {
	return f.lat.round(o, q, n, p, scale, invScale)
}

// PositionFloor returns the lowest corner of the lattice cell of the frame
// (o, q, n) that contains p.
func (f *Functors) PositionFloor(o, q, n, p r3.Vec, scale, invScale float64) r3.Vec {
	return f.lat.floor(o, q, n, p, scale, invScale)
}

// PositionRoundIndex returns the lattice index of PositionRound.
func (f *Functors) PositionRoundIndex(o, q, n, p r3.Vec, scale, invScale float64) Index2 {
	return f.lat.roundIndex(o, q, n, p, scale, invScale)
}

// PositionFloorIndex returns the lattice index of PositionFloor.
func (f *Functors) PositionFloorIndex(o, q, n, p r3.Vec, invScale float64) Index2 {
	return f.lat.floorIndex(o, q, n, p, invScale)
}

// Freezable reports whether integer jumps of this symmetry fit the two
// rotation bits of mesh.IVar.
func (f *Functors) Freezable() bool { return f.Rosy <= 4 }
