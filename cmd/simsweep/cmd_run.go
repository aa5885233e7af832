package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simsweep/internal/config"
	"simsweep/internal/store"
	"simsweep/internal/sweep"
)

// sweepFlags are the sweep inputs accepted on the command line. Flags that
// are not set fall back to the sweep section of the config file.
type sweepFlags struct {
	beams          []float64
	intTimes       []float64
	files          []string
	minIntegration float64
	keepProjects   bool
}

var (
	runFlags  sweepFlags
	planFlags sweepFlags
)

// runCmd performs a sweep
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sweep",
	Long: `Runs simobserve, clean and exportfits for every file, integration time
and beam size. Files default to every *.fits in the working directory.

Example:
  simsweep run --beam 0.5,1.0 --inttime 10,30
  simsweep run --beam 0.25 --inttime 60 --files disk.fits --keep-projects`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

// planCmd prints the runs a sweep would perform
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the runs a sweep would perform without calling CASA",
	Args:  cobra.NoArgs,
	RunE:  planSweep,
}

func init() {
	addSweepFlags(runCmd, &runFlags)
	addSweepFlags(planCmd, &planFlags)
}

func addSweepFlags(cmd *cobra.Command, f *sweepFlags) {
	cmd.Flags().Float64SliceVar(&f.beams, "beam", nil, "Beam sizes in arcsec")
	cmd.Flags().Float64SliceVar(&f.intTimes, "inttime", nil, "Integration times in minutes")
	cmd.Flags().StringSliceVar(&f.files, "files", nil, "Sky-model FITS files (default: all *.fits in the workdir)")
	cmd.Flags().Float64Var(&f.minIntegration, "min-integration", 0, "Integration step floor in seconds (default from config)")
	cmd.Flags().BoolVar(&f.keepProjects, "keep-projects", false, "Keep CASA project directories")
}

// applySweepFlags folds explicitly set flags into cfg.
func applySweepFlags(cmd *cobra.Command, f *sweepFlags, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("beam") {
		cfg.Sweep.BeamSizes = f.beams
	}
	if flags.Changed("inttime") {
		cfg.Sweep.IntegrationTimes = f.intTimes
	}
	if flags.Changed("files") {
		cfg.Sweep.Files = f.files
	}
	if flags.Changed("min-integration") {
		cfg.Sweep.MinIntegrationTime = f.minIntegration
	}
	if flags.Changed("keep-projects") {
		cfg.Output.KeepProjects = f.keepProjects
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	ws, cfg, err := prepare()
	if err != nil {
		return err
	}
	applySweepFlags(cmd, &runFlags, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	in, err := sweep.Normalize(cfg.Sweep.BeamSizes, cfg.Sweep.IntegrationTimes, cfg.Sweep.Files, ws.Root)
	if err != nil {
		return err
	}
	if len(in.Files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No FITS files to observe in "+ws.Root))
		return nil
	}

	ctx, cancel := commandContext()
	defer cancel()

	sweepID := uuid.NewString()
	host, audit, err := newHost(cfg, ws.Root, sweepID)
	if err != nil {
		return err
	}
	defer audit.Close()

	driver := sweep.NewDriver(host, ws, cfg)
	driver.Out = cmd.OutOrStdout()
	driver.SweepID = sweepID

	if cfg.Ledger.Enabled {
		ledger, err := store.Open(config.Resolve(ws.Root, cfg.Ledger.Path))
		if err != nil {
			return err
		}
		defer ledger.Close()
		driver.Recorder = ledger
	}

	logger.Info("Starting sweep",
		zap.String("sweep", sweepID),
		zap.Int("files", len(in.Files)),
		zap.Float64s("beams", in.BeamSizes),
		zap.Float64s("inttimes", in.IntegrationTimes))

	summary, err := driver.Run(ctx, in)
	if err != nil {
		logger.Error("Sweep failed", zap.String("sweep", sweepID), zap.Error(err))
		return err
	}

	metrics := audit.GetMetrics()
	logger.Info("Sweep finished",
		zap.String("sweep", sweepID),
		zap.Int("runs", summary.Runs),
		zap.Int64("casa_calls", metrics.TotalExecutions),
		zap.Duration("duration", summary.Duration))

	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(
		fmt.Sprintf("Sweep %s: %d runs over %d files in %s", sweepID, summary.Runs, summary.Files, summary.Duration.Round(time.Second))))
	return nil
}

func planSweep(cmd *cobra.Command, args []string) error {
	ws, cfg, err := prepare()
	if err != nil {
		return err
	}
	applySweepFlags(cmd, &planFlags, cfg)

	in, err := sweep.Normalize(cfg.Sweep.BeamSizes, cfg.Sweep.IntegrationTimes, cfg.Sweep.Files, ws.Root)
	if err != nil {
		return err
	}

	runs := sweep.Plan(in, cfg)
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.Source,
			r.Project,
			filepath.Join(r.Base+cfg.Output.OutputsSuffix, r.Output),
			sweep.FormatIntegration(cfg.Sweep.MinIntegrationTime, r.IntTime),
			sweep.FormatTotalTime(r.IntTime),
		})
	}

	out := cmd.OutOrStdout()
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"SOURCE", "PROJECT", "OUTPUT", "INTEGRATION", "TOTALTIME"}, rows))
	}
	fmt.Fprintf(out, "%d runs over %d files\n", len(runs), len(in.Files))
	return nil
}
