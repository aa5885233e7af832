// Package sweep drives a simobserve/clean parameter sweep over sky-model
// FITS images.
//
// For every file, every integration time and every beam size (in that
// nesting order) the driver asks a casa.Host to simulate an observation,
// reconstruct an image and export it as FITS, then tidies the workspace.
package sweep

import (
	"simsweep/internal/config"
	"simsweep/internal/workspace"
)

// Point is one combination of sweep parameters.
type Point struct {
	IntTime float64 // minutes
	Beam    float64 // arcsec
}

// Run is one planned simulation.
type Run struct {
	Point
	Source  string // sky model path as given
	Base    string // file name without directory or .fits
	Project string // CASA project, also the project directory name
	Output  string // product file name, relative to the workspace root
}

// Plan expands inputs into runs: files outermost, then integration times,
// then beam sizes.
func Plan(in *Inputs, cfg *config.Config) []Run {
	runs := make([]Run, 0, len(in.Files)*len(in.IntegrationTimes)*len(in.BeamSizes))
	for _, file := range in.Files {
		runs = append(runs, planFile(file, in, cfg.Output.ProductSuffix)...)
	}
	return runs
}

func planFile(file string, in *Inputs, productSuffix string) []Run {
	base := workspace.BaseName(file)
	runs := make([]Run, 0, len(in.IntegrationTimes)*len(in.BeamSizes))
	for _, t := range in.IntegrationTimes {
		for _, b := range in.BeamSizes {
			project := ProjectName(base, b, t)
			runs = append(runs, Run{
				Point:   Point{IntTime: t, Beam: b},
				Source:  file,
				Base:    base,
				Project: project,
				Output:  project + productSuffix,
			})
		}
	}
	return runs
}

// ImageName is the CASA image a sky model is imported as.
func ImageName(source string) string {
	return workspace.BaseName(source) + ".image"
}
