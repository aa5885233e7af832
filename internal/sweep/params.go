package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"simsweep/internal/casa"
	"simsweep/internal/config"
	"simsweep/internal/units"
)

// FormatTag renders a sweep value the way it appears in project names:
// shortest round-trip form with at least one fractional digit (0.5, 10.0).
func FormatTag(v float64) string {
	abs := math.Abs(v)
	if v != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ProjectName is <base>_<beam>arcsec_<inttime>mins.
func ProjectName(base string, beam, intTime float64) string {
	return fmt.Sprintf("%s_%sarcsec_%smins", base, FormatTag(beam), FormatTag(intTime))
}

// FormatInCenter renders the rest frequency (Hz) as simobserve's incenter.
func FormatInCenter(restFreq float64) string {
	return fmt.Sprintf("%5.3fGHz", restFreq/1e9)
}

// FormatInWidth renders the channel width (Hz) as simobserve's inwidth.
func FormatInWidth(cdelt3 float64) string {
	return fmt.Sprintf("%5.3fMHz", cdelt3/1e6)
}

// FormatInBright renders a peak flux in Jy/pixel.
func FormatInBright(peak float64) string {
	return fmt.Sprintf("%5.3e%s", peak, units.JyPerPixel)
}

// FormatInCell renders the pixel scale (radians) in arcseconds.
func FormatInCell(cdelt2 float64) string {
	return fmt.Sprintf("%3farcsec", units.RadiansToArcsec(math.Abs(cdelt2)))
}

// FormatIntegration is the simulated integration step: the smaller of the
// floor (seconds) and the whole observation.
func FormatIntegration(floor, intTime float64) string {
	return fmt.Sprintf("%fs", math.Min(floor, intTime*60))
}

// FormatTotalTime is the observation length in seconds.
func FormatTotalTime(intTime float64) string {
	return fmt.Sprintf("%fs", intTime*60)
}

// AntennaList selects an observatory configuration by resolution.
func AntennaList(observatory string, beam float64) string {
	return fmt.Sprintf("%s;%farcsec", observatory, beam)
}

// VisName is the noisy measurement set simobserve leaves in the project.
func VisName(project, antennaList string) string {
	return project + "." + strings.ReplaceAll(antennaList, ";", "_") + ".noisy.ms"
}

// FormatCleanCell renders the imaging cell size: the input cell scaled by factor.
func FormatCleanCell(cdelt2, factor float64) string {
	return fmt.Sprintf("%.5farcsec", units.RadiansToArcsec(math.Abs(cdelt2))*factor)
}

// FormatRestFreq renders the rest frequency (Hz) for clean.
func FormatRestFreq(restFreq float64) string {
	return fmt.Sprintf("%fGHz", restFreq/1e9)
}

// SimobserveParams builds the simobserve call for a run.
func SimobserveParams(run Run, hdr *casa.Header, peak, minIntegration float64, cfg config.SimobserveConfig) casa.SimobserveParams {
	return casa.SimobserveParams{
		Project:      run.Project,
		SkyModel:     run.Source,
		InCenter:     FormatInCenter(hdr.RestFreq),
		InWidth:      FormatInWidth(hdr.CDelt3),
		InBright:     FormatInBright(peak),
		InCell:       FormatInCell(hdr.CDelt2),
		Integration:  FormatIntegration(minIntegration, run.IntTime),
		TotalTime:    FormatTotalTime(run.IntTime),
		AntennaList:  AntennaList(cfg.Observatory, run.Beam),
		ThermalNoise: cfg.ThermalNoise,
		Graphics:     cfg.Graphics,
	}
}

// CleanParams builds the clean call for a run. antennaList must match the
// one simobserve was given.
func CleanParams(run Run, hdr *casa.Header, antennaList string, cfg config.CleanConfig) casa.CleanParams {
	return casa.CleanParams{
		Vis:         VisName(run.Project, antennaList),
		ImageName:   cfg.ImageName,
		Mode:        cfg.Mode,
		NChan:       cfg.NChan,
		Start:       "",
		Width:       "",
		NIter:       cfg.NIter,
		Threshold:   cfg.Threshold,
		RestFreq:    FormatRestFreq(hdr.RestFreq),
		Interactive: false,
		ImSize:      cfg.ImSize,
		Cell:        FormatCleanCell(hdr.CDelt2, cfg.CellFactor),
		PhaseCenter: cfg.PhaseCenter,
		Weighting:   cfg.Weighting,
		Robust:      cfg.Robust,
		PBCor:       cfg.PBCor,
		OutFrame:    cfg.OutFrame,
	}
}

// ExportParams builds the exportfits call that turns the cleaned image of
// a run into its product file.
func ExportParams(run Run, imageName string) casa.ExportParams {
	return casa.ExportParams{
		ImageName:  run.Project + "/" + imageName + ".image",
		FitsImage:  run.Output,
		Overwrite:  true,
		DropStokes: true,
		Velocity:   true,
	}
}

// ImportParams builds the importfits call for a sky model.
func ImportParams(source string) casa.ImportParams {
	return casa.ImportParams{
		FitsImage: source,
		ImageName: ImageName(source),
		Overwrite: true,
	}
}
