// Package casa adapts the CASA data-reduction application to simsweep.
//
// Host is the narrow set of CASA tasks a sweep needs. Every call names the
// directory it runs in, so callers never change the process working
// directory. ScriptHost is the production implementation: it renders one
// Python script per task and hands it to the casa binary.
package casa

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Host is the set of CASA tasks used by a sweep.
type Host interface {
	// ImportFITS converts a FITS file into a CASA image.
	ImportFITS(ctx context.Context, dir string, p ImportParams) error

	// ImageHeader reads the header attributes of a CASA image.
	ImageHeader(ctx context.Context, dir, image string) (*Header, error)

	// Simobserve simulates an interferometric observation of a sky model.
	Simobserve(ctx context.Context, dir string, p SimobserveParams) error

	// Clean reconstructs an image from simulated visibilities.
	Clean(ctx context.Context, dir string, p CleanParams) error

	// ExportFITS writes a CASA image back out as FITS.
	ExportFITS(ctx context.Context, dir string, p ExportParams) error
}

// Header holds the image attributes a sweep consumes.
type Header struct {
	RestFreq float64 `json:"restfreq"` // Hz
	CDelt3   float64 `json:"cdelt3"`   // channel width, Hz
	CDelt2   float64 `json:"cdelt2"`   // pixel scale, radians
	BUnit    string  `json:"bunit"`
	DataMax  float64 `json:"datamax"`
}

// ImportParams are the importfits arguments.
type ImportParams struct {
	FitsImage string
	ImageName string
	Overwrite bool
}

// SimobserveParams are the simobserve arguments, already formatted the way
// CASA expects them.
type SimobserveParams struct {
	Project      string
	SkyModel     string
	InCenter     string
	InWidth      string
	InBright     string
	InCell       string
	Integration  string
	TotalTime    string
	AntennaList  string
	ThermalNoise string
	Graphics     string
}

// CleanParams are the clean arguments.
type CleanParams struct {
	Vis         string
	ImageName   string
	Mode        string
	NChan       int
	Start       string
	Width       string
	NIter       int
	Threshold   string
	RestFreq    string
	Interactive bool
	ImSize      int
	Cell        string
	PhaseCenter int
	Weighting   string
	Robust      float64
	PBCor       bool
	OutFrame    string
}

// ExportParams are the exportfits arguments.
type ExportParams struct {
	ImageName  string
	FitsImage  string
	Overwrite  bool
	DropStokes bool
	Velocity   bool
}

// ErrTask is matched by every TaskError.
var ErrTask = errors.New("casa task failed")

// TaskError reports a CASA task that did not complete.
type TaskError struct {
	Task     string
	ExitCode int
	Killed   bool
	Reason   string
	Output   string // tail of the combined output
}

func (e *TaskError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "casa %s", e.Task)
	switch {
	case e.Killed:
		fmt.Fprintf(&b, " killed: %s", e.Reason)
	case e.Reason != "":
		fmt.Fprintf(&b, " failed: %s", e.Reason)
	default:
		fmt.Fprintf(&b, " exited with code %d", e.ExitCode)
	}
	if e.Output != "" {
		fmt.Fprintf(&b, "\n%s", e.Output)
	}
	return b.String()
}

// Is makes errors.Is(err, ErrTask) true for any TaskError.
func (e *TaskError) Is(target error) bool {
	return target == ErrTask
}
