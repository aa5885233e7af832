package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"simsweep/internal/sweep"
	"simsweep/internal/units"
)

var (
	convertUnit       string
	convertCell       float64
	convertRestFreq   float64
	convertPeak       float64
	convertSolidAngle string
)

// convertCmd evaluates the brightness conversion
var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a peak brightness to Jy/pixel",
	Long: `Evaluates the conversion applied to each sky model before simobserve.

Example:
  simsweep convert --unit K --cell 2.424e-7 --restfreq 230.538e9 --peak 45`,
	Args: cobra.NoArgs,
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVar(&convertUnit, "unit", "K", "Brightness unit of the image (K or Jy/pixel)")
	convertCmd.Flags().Float64Var(&convertCell, "cell", 0, "Pixel scale in radians (cdelt2)")
	convertCmd.Flags().Float64Var(&convertRestFreq, "restfreq", 0, "Rest frequency in Hz")
	convertCmd.Flags().Float64Var(&convertPeak, "peak", 1, "Peak brightness in the image unit")
	convertCmd.Flags().StringVar(&convertSolidAngle, "solid-angle", "", "Pixel solid angle kernel (gaussian, pixel); defaults to units.solid_angle from the config")
	convertCmd.MarkFlagRequired("cell")
	convertCmd.MarkFlagRequired("restfreq")
}

func runConvert(cmd *cobra.Command, args []string) error {
	name := convertSolidAngle
	if !cmd.Flags().Changed("solid-angle") {
		_, cfg, err := prepare()
		if err != nil {
			return err
		}
		name = cfg.Units.SolidAngle
	}

	kernel, err := units.ParseSolidAngle(name)
	if err != nil {
		return err
	}

	factor := units.ConversionFactor(convertUnit, convertCell, convertRestFreq, kernel)
	peak := units.PeakFlux(convertPeak, factor)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "unit:       %s\n", convertUnit)
	fmt.Fprintf(out, "cell:       %s\n", sweep.FormatInCell(convertCell))
	fmt.Fprintf(out, "restfreq:   %s\n", sweep.FormatInCenter(convertRestFreq))
	fmt.Fprintf(out, "kernel:     %s\n", kernel)
	fmt.Fprintf(out, "factor:     %g\n", factor)
	fmt.Fprintf(out, "inbright:   %s\n", successStyle.Render(sweep.FormatInBright(peak)))
	return nil
}
