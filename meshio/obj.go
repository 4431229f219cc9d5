package meshio

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/soypat/imesh/mesh"
)

// WriteOBJ writes m as a Wavefront OBJ file with one polygon per face.
// Quads that repeat their last corner are written as triangles. Normals
// are written when m has one per vertex.
func WriteOBJ(w io.Writer, m *mesh.Mesh) error {
	bw := bufio.NewWriter(w)
	for _, v := range m.V {
		fmt.Fprintf(bw, "v %g %g %g\n", v.X, v.Y, v.Z)
	}
	hasN := len(m.N) == len(m.V) && len(m.N) > 0
	if hasN {
		for _, n := range m.N {
			fmt.Fprintf(bw, "vn %g %g %g\n", n.X, n.Y, n.Z)
		}
	}
	for f := 0; f < m.NumFaces(); f++ {
		face := m.Face(f)
		if len(face) == 4 && face[3] == face[2] {
			face = face[:3]
		}
		bw.WriteByte('f')
		for _, v := range face {
			// OBJ indices start at 1.
			if hasN {
				fmt.Fprintf(bw, " %d//%d", v+1, v+1)
			} else {
				fmt.Fprintf(bw, " %d", v+1)
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteOBJFile is WriteOBJ to the named file.
func WriteOBJFile(path string, m *mesh.Mesh) error {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteOBJ(fp, m); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}
