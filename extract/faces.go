package extract

import (
	"cmp"
	"math"
	"slices"

	"github.com/soypat/imesh/internal/d3"
	"github.com/soypat/imesh/internal/parallel"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// half is an outgoing edge in the angular order around a vertex.
type half struct {
	id   uint32
	used bool
}

type edgeRef struct {
	v uint32
	k int
}

// faceBuilder walks the faces of a graph and fills them with polygons of
// degree deg.
type faceBuilder struct {
	g     *graph
	posy  int
	deg   int
	adj   [][]half
	faces []uint32

	loop  []uint32
	refs  []edgeRef
	extra int // centroids appended to the graph
}

func newFaceBuilder(g *graph, posy int, pool *parallel.Pool) *faceBuilder {
	b := &faceBuilder{g: g, posy: posy, deg: 4, adj: make([][]half, len(g.adj))}
	if posy == 3 {
		b.deg = 3
	}
	pool.For(len(g.adj), func(i int) {
		if g.dead[i] || len(g.adj[i]) == 0 {
			return
		}
		s, t := d3.CoordinateSystem(g.N[i])
		type entry struct {
			angle float64
			id    uint32
		}
		entries := make([]entry, len(g.adj[i]))
		for k, j := range g.adj[i] {
			d := r3.Sub(g.P[j], g.P[i])
			entries[k] = entry{angle: math.Atan2(r3.Dot(t, d), r3.Dot(s, d)), id: j}
		}
		slices.SortFunc(entries, func(a, b entry) int {
			if r := cmp.Compare(a.angle, b.angle); r != 0 {
				return r
			}
			return cmp.Compare(a.id, b.id)
		})
		hs := make([]half, len(entries))
		for k, e := range entries {
			hs[k] = half{id: e.id}
		}
		b.adj[i] = hs
	})
	return b
}

func indexOf(hs []half, id uint32) int {
	for k := range hs {
		if hs[k].id == id {
			return k
		}
	}
	return -1
}

// walk follows the face to the left of edge k of vertex start. Neighbours
// are sorted counter-clockwise, so the next edge at each vertex is the one
// preceding the edge back. It fails when a used edge is met or the loop
// grows past maxLen.
func (b *faceBuilder) walk(start uint32, k, maxLen int) bool {
	b.loop, b.refs = b.loop[:0], b.refs[:0]
	cur, idx := start, k
	for {
		hs := b.adj[cur]
		if hs[idx].used || len(b.loop) == maxLen {
			return false
		}
		b.loop = append(b.loop, cur)
		b.refs = append(b.refs, edgeRef{v: cur, k: idx})
		next := hs[idx].id
		back := indexOf(b.adj[next], cur)
		if back < 0 {
			return false
		}
		n := len(b.adj[next])
		cur, idx = next, (back+n-1)%n
		if cur == start && idx == k {
			return true
		}
	}
}

func (b *faceBuilder) markUsed() {
	for _, r := range b.refs {
		b.adj[r.v][r.k].used = true
	}
}

// simple reports whether the current loop visits each vertex once.
func (b *faceBuilder) simple() bool {
	if len(b.loop) <= 8 {
		for x := range b.loop {
			for y := x + 1; y < len(b.loop); y++ {
				if b.loop[x] == b.loop[y] {
					return false
				}
			}
		}
		return true
	}
	s := slices.Clone(b.loop)
	slices.Sort(s)
	return len(slices.Compact(s)) == len(b.loop)
}

// normal returns the Newell normal of loop.
func (b *faceBuilder) normal(loop []uint32) r3.Vec {
	var n r3.Vec
	for k := range loop {
		p, q := b.g.P[loop[k]], b.g.P[loop[(k+1)%len(loop)]]
		n = r3.Add(n, r3.Cross(p, q))
	}
	return n
}

// frontFacing reports whether the winding of loop agrees with the
// normals of its vertices. Open boundaries are walked clockwise and fail.
func (b *faceBuilder) frontFacing(loop []uint32) bool {
	var sum r3.Vec
	for _, v := range loop {
		sum = r3.Add(sum, b.g.N[v])
	}
	return r3.Dot(b.normal(loop), sum) >= 0
}

func (b *faceBuilder) sizes() []int {
	if b.posy == 4 {
		return []int{5, 6, 7, 8, 3, 4}
	}
	return []int{3, 4, 5, 6, 7, 8}
}

// maxHoleCorners bounds the holes that are filled. Larger ones stay open.
const maxHoleCorners = 6

// extract finds the faces of the graph. A first pass collects simple
// front facing loops of up to eight corners. A second pass classifies the
// remaining loops as boundaries or holes.
func (b *faceBuilder) extract(fillHoles bool, rep *Report) {
	b.collectFaces(rep)
	b.classifyLoops(fillHoles, rep)
	rep.Fans = b.extra
}

func (b *faceBuilder) collectFaces(rep *Report) {
	for _, size := range b.sizes() {
		for i := range b.adj {
			for k := range b.adj[i] {
				if b.adj[i][k].used || !b.walk(uint32(i), k, size) || len(b.loop) != size {
					continue
				}
				if !b.simple() || !b.frontFacing(b.loop) {
					continue
				}
				b.markUsed()
				rep.Loops[size]++
				b.emit(b.loop)
			}
		}
	}
}

// classifyLoops walks every loop left over by collectFaces. Back facing
// loops are open boundaries; front facing ones are holes, filled when
// fillHoles is set and they are simple with at most maxHoleCorners corners.
func (b *faceBuilder) classifyLoops(fillHoles bool, rep *Report) {
	maxLen := 0
	for _, hs := range b.adj {
		maxLen += len(hs)
	}
	for i := range b.adj {
		for k := range b.adj[i] {
			if b.adj[i][k].used || !b.walk(uint32(i), k, maxLen) {
				continue
			}
			b.markUsed()
			switch {
			case !b.frontFacing(b.loop):
				rep.BoundaryLoops++
			case fillHoles && len(b.loop) <= maxHoleCorners && b.simple():
				rep.HolesFilled++
				b.emit(slices.Clone(b.loop))
			default:
				rep.UnfilledHoles++
			}
		}
	}
}

// emit appends loop as faces of the target degree.
func (b *faceBuilder) emit(loop []uint32) {
	switch {
	case len(loop) == b.deg:
		b.faces = append(b.faces, loop...)
	case b.deg == 4 && len(loop) == 3:
		b.faces = append(b.faces, loop[0], loop[1], loop[2], loop[2])
	case b.deg == 3:
		b.fillTriangles(slices.Clone(loop))
	default:
		b.fillQuads(slices.Clone(loop))
	}
}

// angle returns the inner angle at corner k of loop around normal n.
func (b *faceBuilder) angle(loop []uint32, k int, n r3.Vec) float64 {
	p := b.g.P[loop[k]]
	e1 := r3.Sub(b.g.P[loop[(k+len(loop)-1)%len(loop)]], p)
	e2 := r3.Sub(b.g.P[loop[(k+1)%len(loop)]], p)
	a := math.Atan2(r3.Dot(n, r3.Cross(e2, e1)), r3.Dot(e1, e2))
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// fillTriangles clips the ear whose angle is closest to 60 degrees until
// one triangle is left.
func (b *faceBuilder) fillTriangles(loop []uint32) {
	n := d3.Unit(b.normal(loop))
	for len(loop) > 3 {
		best, bestScore := 0, math.Inf(1)
		for k := range loop {
			if s := math.Abs(b.angle(loop, k, n) - math.Pi/3); s < bestScore {
				best, bestScore = k, s
			}
		}
		l := len(loop)
		b.faces = append(b.faces, loop[(best+l-1)%l], loop[best], loop[(best+1)%l])
		loop = slices.Delete(loop, best, best+1)
	}
	b.faces = append(b.faces, loop...)
}

// maxQuadScore is the summed deviation from right angles above which a
// polygon is fanned around its centroid instead of clipped.
const maxQuadScore = math.Pi / 2

// fillQuads clips the quad whose two free corners are closest to right
// angles until at most four corners are left.
func (b *faceBuilder) fillQuads(loop []uint32) {
	n := d3.Unit(b.normal(loop))
	for len(loop) > 4 {
		l := len(loop)
		best, bestScore := 0, math.Inf(1)
		for k := range loop {
			s := math.Abs(b.angle(loop, k, n)-math.Pi/2) + math.Abs(b.angle(loop, (k+1)%l, n)-math.Pi/2)
			if s < bestScore {
				best, bestScore = k, s
			}
		}
		if bestScore > maxQuadScore {
			b.fan(loop, n)
			return
		}
		k0, k1 := best, (best+1)%l
		b.faces = append(b.faces, loop[(best+l-1)%l], loop[k0], loop[k1], loop[(best+2)%l])
		lo, hi := min(k0, k1), max(k0, k1)
		loop = slices.Delete(loop, hi, hi+1)
		loop = slices.Delete(loop, lo, lo+1)
	}
	if len(loop) == 3 {
		b.faces = append(b.faces, loop[0], loop[1], loop[2], loop[2])
		return
	}
	b.faces = append(b.faces, loop...)
}

// fan covers loop with quads around a new centroid vertex. Odd loops end
// with a triangle.
func (b *faceBuilder) fan(loop []uint32, n r3.Vec) {
	g := b.g
	var c r3.Vec
	for _, v := range loop {
		c = r3.Add(c, g.P[v])
	}
	id := uint32(len(g.P))
	g.P = append(g.P, r3.Scale(1/float64(len(loop)), c))
	g.N = append(g.N, n)
	g.crease = append(g.crease, false)
	g.dead = append(g.dead, false)
	b.extra++
	l := len(loop)
	for k := 0; k+1 < l; k += 2 {
		b.faces = append(b.faces, id, loop[k], loop[k+1], loop[(k+2)%l])
	}
	if l%2 == 1 {
		b.faces = append(b.faces, id, loop[l-1], loop[0], loop[0])
	}
}

// mesh returns the faces over the graph vertices. Dead vertices remain and
// are dropped by compact.
func (b *faceBuilder) mesh() (*mesh.Mesh, []bool) {
	return &mesh.Mesh{
		Deg: b.deg,
		F:   b.faces,
		V:   b.g.P,
		N:   b.g.N,
	}, b.g.crease
}
