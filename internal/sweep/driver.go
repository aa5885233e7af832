package sweep

import (
	"context"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"time"

	"simsweep/internal/casa"
	"simsweep/internal/config"
	"simsweep/internal/logging"
	"simsweep/internal/store"
	"simsweep/internal/units"
	"simsweep/internal/workspace"
)

// Recorder receives a record of every completed run.
type Recorder interface {
	RecordRun(ctx context.Context, r store.RunRecord) (int64, error)
}

// Driver runs sweeps against a Host inside a Workspace.
type Driver struct {
	host      casa.Host
	workspace *workspace.Workspace
	cfg       *config.Config

	// Recorder is optional.
	Recorder Recorder

	// Out receives progress lines. Defaults to io.Discard.
	Out io.Writer

	// SweepID tags ledger rows and log lines.
	SweepID string

	now func() time.Time
}

// Summary describes a finished sweep.
type Summary struct {
	SweepID  string
	Files    int
	Runs     int
	Products []string // absolute paths after organization
	Duration time.Duration
}

// NewDriver creates a driver.
func NewDriver(host casa.Host, ws *workspace.Workspace, cfg *config.Config) *Driver {
	return &Driver{
		host:      host,
		workspace: ws,
		cfg:       cfg,
		Out:       io.Discard,
		now:       time.Now,
	}
}

// Run performs the sweep described by in. The first host or filesystem
// error stops the sweep; it is returned wrapped with the file and project
// it happened in. Products of files finished before the error stay
// organized.
func (d *Driver) Run(ctx context.Context, in *Inputs) (*Summary, error) {
	start := d.now()
	log := logging.WithRunID(logging.CategorySweep, d.SweepID)
	log.Info("Sweep started: %d files, %d integration times, %d beam sizes",
		len(in.Files), len(in.IntegrationTimes), len(in.BeamSizes))

	summary := &Summary{SweepID: d.SweepID}
	for i, file := range in.Files {
		if err := ctx.Err(); err != nil {
			logging.SweepWarn("Sweep canceled after %d of %d files", summary.Files, len(in.Files))
			return summary, err
		}

		runs := planFile(file, in, d.cfg.Output.ProductSuffix)
		products, err := d.sweepFile(ctx, file, runs)
		if err != nil {
			log.Error("Sweep aborted on %s: %v", file, err)
			return summary, err
		}

		summary.Files++
		summary.Runs += len(runs)
		summary.Products = append(summary.Products, products...)
		fmt.Fprintf(d.Out, "Completed: %d / %d.\n", i+1, len(in.Files))
	}

	summary.Duration = d.now().Sub(start)
	log.Info("Sweep finished: %d runs in %s", summary.Runs, summary.Duration)
	return summary, nil
}

// sweepFile imports one sky model and performs all its runs.
func (d *Driver) sweepFile(ctx context.Context, file string, runs []Run) ([]string, error) {
	root := d.workspace.Root
	imp := ImportParams(file)

	if err := d.host.ImportFITS(ctx, root, imp); err != nil {
		return nil, fmt.Errorf("%s: import: %w", file, err)
	}
	hdr, err := d.host.ImageHeader(ctx, root, imp.ImageName)
	if err != nil {
		return nil, fmt.Errorf("%s: header: %w", file, err)
	}

	factor := units.ConversionFactor(hdr.BUnit, math.Abs(hdr.CDelt2), hdr.RestFreq, d.cfg.GetSolidAngle())
	peak := units.PeakFlux(hdr.DataMax, factor)
	fmt.Fprintf(d.Out, "Rescaling to peak flux of %s.\n", FormatInBright(peak))
	logging.Sweep("%s: bunit=%q factor=%g peak=%g Jy/pixel", file, hdr.BUnit, factor, peak)

	var (
		outputs []string
		kept    []string
	)
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.runOne(ctx, run, hdr, peak); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", file, run.Project, err)
		}
		outputs = append(outputs, run.Output)
		if d.cfg.Output.KeepProjects {
			kept = append(kept, run.Project)
		}
	}

	if _, err := d.workspace.CleanupRoot(d.cfg.Output.RootAuxPatterns); err != nil {
		return nil, fmt.Errorf("%s: cleanup: %w", file, err)
	}

	layout := workspace.Layout{
		OutputsSuffix: d.cfg.Output.OutputsSuffix,
		SimObsPrefix:  d.cfg.Output.SimObsPrefix,
	}
	organized, err := d.workspace.Organize(workspace.BaseName(file), outputs, append([]string{imp.ImageName}, kept...), layout)
	if err != nil {
		return nil, fmt.Errorf("%s: organize: %w", file, err)
	}
	return organized.Products, nil
}

// runOne simulates, cleans and exports a single sweep point.
func (d *Driver) runOne(ctx context.Context, run Run, hdr *casa.Header, peak float64) error {
	started := d.now()
	root := d.workspace.Root
	logging.SweepDebug("Run %s: inttime=%g min beam=%g arcsec", run.Project, run.IntTime, run.Beam)

	sim := SimobserveParams(run, hdr, peak, d.cfg.Sweep.MinIntegrationTime, d.cfg.Simobserve)
	if err := d.host.Simobserve(ctx, root, sim); err != nil {
		return fmt.Errorf("simobserve: %w", err)
	}

	clean := CleanParams(run, hdr, sim.AntennaList, d.cfg.Clean)
	if err := d.host.Clean(ctx, d.workspace.ProjectDir(run.Project), clean); err != nil {
		return fmt.Errorf("clean: %w", err)
	}

	if _, err := d.workspace.CleanupAux(run.Project, d.cfg.Output.AuxPatterns); err != nil {
		return err
	}

	if err := d.host.ExportFITS(ctx, root, ExportParams(run, d.cfg.Clean.ImageName)); err != nil {
		return fmt.Errorf("exportfits: %w", err)
	}

	if d.Recorder != nil {
		rec := store.RunRecord{
			SweepID:   d.SweepID,
			Source:    run.Source,
			Project:   run.Project,
			Beam:      run.Beam,
			IntTime:   run.IntTime,
			Output:    filepath.Join(run.Base+d.cfg.Output.OutputsSuffix, run.Output),
			PeakFlux:  peak,
			StartedAt: started,
			Duration:  d.now().Sub(started),
		}
		if _, err := d.Recorder.RecordRun(ctx, rec); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}

	if !d.cfg.Output.KeepProjects {
		if err := d.workspace.RemoveProject(run.Project); err != nil {
			return err
		}
	}

	logging.Sweep("Run %s done in %s", run.Project, d.now().Sub(started))
	return nil
}
