// Package shaders holds the WGSL programs of the histogram and image
// pipelines.
//
// Programs are embedded at build time. A Set may instead be loaded from a
// directory holding files of the same names, which lets a host ship patched
// shaders without rebuilding. A missing or empty program is a setup error.
package shaders

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/naga"

	"github.com/gogpu/imgview/internal/status"
)

// Program file names.
const (
	HistogramFile = "histogram.wgsl"
	ImageFile     = "image.wgsl"
)

// Entry points.
const (
	ComputeBlocksEntry = "computeBlocks"
	ReduceBlocksEntry  = "reduceBlocks"
	VertexEntry        = "vs_main"
	FragmentEntry      = "fs_main"
)

//go:embed histogram.wgsl
var histogramSource string

//go:embed image.wgsl
var imageSource string

// Set is one copy of every program.
type Set struct {
	Histogram string
	Image     string
}

// Default returns the embedded programs.
func Default() Set {
	return Set{Histogram: histogramSource, Image: imageSource}
}

// Load reads the programs from dir. An empty dir returns Default.
func Load(dir string) (Set, error) {
	if dir == "" {
		return Default(), nil
	}
	read := func(name string) (string, error) {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", status.Wrap(status.KindResourceCreation, "load program", err)
		}
		return string(data), nil
	}
	var (
		s   Set
		err error
	)
	if s.Histogram, err = read(HistogramFile); err != nil {
		return Set{}, err
	}
	if s.Image, err = read(ImageFile); err != nil {
		return Set{}, err
	}
	if err := s.validate(); err != nil {
		return Set{}, err
	}
	return s, nil
}

func (s Set) validate() error {
	var errs []error
	for _, p := range []struct{ name, src string }{
		{HistogramFile, s.Histogram},
		{ImageFile, s.Image},
	} {
		if strings.TrimSpace(p.src) == "" {
			errs = append(errs, status.Newf(status.KindResourceCreation, "load program", "%s is empty", p.name))
		}
	}
	return errors.Join(errs...)
}

// Check compiles every program with naga. A compile failure is reported as
// ComputeBuildFailure carrying the compiler diagnostic.
func (s Set) Check() error {
	if err := s.validate(); err != nil {
		return err
	}
	for _, p := range []struct{ name, src string }{
		{HistogramFile, s.Histogram},
		{ImageFile, s.Image},
	} {
		if _, err := naga.Compile(p.src); err != nil {
			return status.Wrap(status.KindComputeBuild, "build "+p.name, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	return nil
}
