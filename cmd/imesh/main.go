// Command imesh remeshes an STL file into a quad or triangle dominant mesh.
//
//	imesh -config params.toml -o out.obj [-png preview.png] in.stl
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/soypat/imesh"
	"github.com/soypat/imesh/meshio"
)

func main() {
	var (
		config  = flag.String("config", "", "TOML parameter file")
		output  = flag.String("o", "out.obj", "output file, .obj or .stl")
		preview = flag.String("png", "", "write a preview rendering of the output")
		scale   = flag.Float64("scale", 0, "target edge length, overrides the parameter file")
		faces   = flag.Int("faces", 0, "target face count, overrides the parameter file")
		weld    = flag.Float64("weld", 0, "STL vertex weld tolerance, 0 infers it")
		verbose = flag.Bool("v", false, "log every stage")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] in.stl\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	err := run(logger, flag.Arg(0), *config, *output, *preview, *scale, *faces, *weld)
	if err != nil {
		logger.Error("imesh failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, input, config, output, preview string, scale float64, faces int, weld float64) error {
	p := imesh.DefaultParams()
	if config != "" {
		var err error
		p, err = imesh.LoadParams(config)
		if err != nil {
			return err
		}
	}
	if scale > 0 {
		p.Scale = scale
	}
	if faces > 0 {
		p.FaceCount = faces
	}
	m, err := meshio.ReadSTLFile(input, weld)
	if err != nil {
		return err
	}
	logger.Info("loaded", slog.String("file", input), slog.Int("vertices", len(m.V)), slog.Int("faces", m.NumFaces()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	start := time.Now()
	progress := func(label string, fraction float64) {
		if fraction == 0 {
			logger.Debug(label)
		}
	}
	res, err := imesh.Remesh(ctx, m, p, progress, logger)
	if err != nil {
		return err
	}
	logger.Info("done", slog.Duration("elapsed", time.Since(start)), slog.Any("loops", res.Report.Loops),
		slog.Int("unfilled holes", res.Report.UnfilledHoles))

	switch ext := strings.ToLower(filepath.Ext(output)); ext {
	case ".obj":
		err = meshio.WriteOBJFile(output, &res.Mesh)
	case ".stl":
		err = meshio.WriteSTLFile(output, &res.Mesh)
	default:
		err = fmt.Errorf("unsupported output extension %q", ext)
	}
	if err != nil {
		return err
	}
	if preview != "" {
		return meshio.RenderPNG(preview, &res.Mesh, meshio.DefaultView())
	}
	return nil
}
