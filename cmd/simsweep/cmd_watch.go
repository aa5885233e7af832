package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"simsweep/internal/config"
	"simsweep/internal/store"
	"simsweep/internal/sweep"
	"simsweep/internal/watch"
)

var watchFlags sweepFlags

// watchCmd sweeps sky models as they arrive
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the working directory and sweep every new FITS file",
	Long: `Watches the working directory for new or rewritten *.fits files and runs
the configured sweep on each once it has stopped changing. Sweep products
(*_simobs.fits) are ignored. A failed sweep is logged and watching continues.

Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	addSweepFlags(watchCmd, &watchFlags)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ws, cfg, err := prepare()
	if err != nil {
		return err
	}
	applySweepFlags(cmd, &watchFlags, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Reject bad beam/time shapes now rather than on the first file.
	if _, err := sweep.Normalize(cfg.Sweep.BeamSizes, cfg.Sweep.IntegrationTimes, []string{}, ws.Root); err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	host, audit, err := newHost(cfg, ws.Root, "")
	if err != nil {
		return err
	}
	defer audit.Close()

	driver := sweep.NewDriver(host, ws, cfg)
	driver.Out = cmd.OutOrStdout()

	if cfg.Ledger.Enabled {
		ledger, err := store.Open(config.Resolve(ws.Root, cfg.Ledger.Path))
		if err != nil {
			return err
		}
		defer ledger.Close()
		driver.Recorder = ledger
	}

	w, err := watch.New(ws.Root, watch.Options{
		Debounce:       cfg.GetWatchDebounce(),
		IgnoreSuffixes: []string{cfg.Output.ProductSuffix},
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", ws.Root, err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Watching "+ws.Root+" for *.fits files"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		for path := range w.Files() {
			name := filepath.Base(path)
			in, err := sweep.Normalize(cfg.Sweep.BeamSizes, cfg.Sweep.IntegrationTimes, name, ws.Root)
			if err != nil {
				return err
			}

			sweepID := uuid.NewString()
			host.SetSessionID(sweepID)
			driver.SweepID = sweepID

			logger.Info("New sky model", zap.String("file", name), zap.String("sweep", sweepID))
			if _, err := driver.Run(gctx, in); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				logger.Error("Sweep failed", zap.String("file", name), zap.String("sweep", sweepID), zap.Error(err))
				fmt.Fprintf(cmd.ErrOrStderr(), "sweep of %s failed: %v\n", name, err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Watch stopped", zap.Int("emitted", w.Stats().Emitted))
	return nil
}
