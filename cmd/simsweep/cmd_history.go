package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"simsweep/internal/config"
	"simsweep/internal/store"
)

var (
	historySweep string
	historyLimit int
)

// historyCmd lists the run ledger
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past sweeps, or the runs of one sweep",
	Long: `Reads the run ledger.

Examples:
  simsweep history
  simsweep history --sweep 0f9c2b1e-...`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historySweep, "sweep", "", "Show the runs of one sweep")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Maximum rows (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ws, cfg, err := prepare()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	path := config.Resolve(ws.Root, cfg.Ledger.Path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, mutedStyle.Render("No sweeps recorded yet."))
		return nil
	}

	ledger, err := store.Open(path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := context.Background()
	if historySweep != "" {
		runs, err := ledger.ListRuns(ctx, historySweep, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintf(out, "No runs recorded for sweep %s.\n", historySweep)
			return nil
		}
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				r.Project,
				fmt.Sprintf("%g", r.Beam),
				fmt.Sprintf("%g", r.IntTime),
				fmt.Sprintf("%.3e", r.PeakFlux),
				r.Output,
				r.StartedAt.Local().Format(time.DateTime),
				r.Duration.Round(time.Second).String(),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"PROJECT", "BEAM", "INTTIME", "PEAK JY/PX", "OUTPUT", "STARTED", "DURATION"}, rows))
		return nil
	}

	sweeps, err := ledger.ListSweeps(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(sweeps) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No sweeps recorded yet."))
		return nil
	}
	rows := make([][]string, 0, len(sweeps))
	for _, s := range sweeps {
		rows = append(rows, []string{
			s.SweepID,
			fmt.Sprintf("%d", s.Files),
			fmt.Sprintf("%d", s.Runs),
			s.StartedAt.Local().Format(time.DateTime),
			s.Total.Round(time.Second).String(),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"SWEEP", "FILES", "RUNS", "STARTED", "CASA TIME"}, rows))
	return nil
}
