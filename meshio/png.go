package meshio

import (
	"image"

	"github.com/fogleman/fauxgl"
	"github.com/nfnt/resize"
	"github.com/soypat/imesh/internal/errs"
	"github.com/soypat/imesh/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// View places the camera of a preview rendering. The mesh is first fit in
// the cube [-1,1]³.
type View struct {
	// LookAt is the point at the center of the image.
	LookAt r3.Vec
	// Up is the direction pointing up in the image.
	Up r3.Vec
	// Eye is the camera position.
	Eye       r3.Vec
	Near, Far float64
	// Width and Height of the image in pixels.
	Width, Height int
	// Supersample renders at this multiple of the output size and
	// downsamples. Values below 1 are treated as 1.
	Supersample int
}

// DefaultView looks at the origin from (3,3,3) with Z up.
func DefaultView() View {
	return View{
		Up:     r3.Vec{Z: 1},
		Eye:    r3.Vec{X: 3, Y: 3, Z: 3},
		Near:   1,
		Far:    10,
		Width:  960,
		Height: 540,
	}
}

func fv(v r3.Vec) fauxgl.Vector { return fauxgl.V(v.X, v.Y, v.Z) }

// Render draws m with Phong shading.
func Render(m *mesh.Mesh, view View) (image.Image, error) {
	t := mesh.Triangulate(m)
	if t.NumFaces() == 0 {
		return nil, errs.New(errs.ErrInput, stage, "no faces to render")
	}
	tris := make([]*fauxgl.Triangle, 0, t.NumFaces())
	for f := 0; f < t.NumFaces(); f++ {
		tri := t.Triangle(f)
		tris = append(tris, fauxgl.NewTriangleForPoints(fv(tri[0]), fv(tri[1]), fv(tri[2])))
	}
	fm := fauxgl.NewTriangleMesh(tris)
	ss := max(view.Supersample, 1)
	const fovy = 30 // vertical field of view in degrees
	var (
		eye    = fv(view.Eye)
		center = fv(view.LookAt)
		up     = fv(view.Up)
		light  = fauxgl.V(-0.75, 1, 0.25).Normalize()
		color  = fauxgl.HexColor("#468966")
	)
	fm.BiUnitCube()
	ctx := fauxgl.NewContext(view.Width*ss, view.Height*ss)
	ctx.ClearColorBufferWith(fauxgl.HexColor("#FFF8E3"))
	aspect := float64(view.Width) / float64(view.Height)
	matrix := fauxgl.LookAt(eye, center, up).Perspective(fovy, aspect, view.Near, view.Far)
	shader := fauxgl.NewPhongShader(matrix, light, eye)
	shader.ObjectColor = color
	ctx.Shader = shader
	ctx.DrawMesh(fm)
	img := ctx.Image()
	if ss > 1 {
		img = resize.Resize(uint(view.Width), uint(view.Height), img, resize.Bilinear)
	}
	return img, nil
}

// RenderPNG renders m and saves the image as a PNG file at path.
func RenderPNG(path string, m *mesh.Mesh, view View) error {
	img, err := Render(m, view)
	if err != nil {
		return err
	}
	return fauxgl.SavePNG(path, img)
}
