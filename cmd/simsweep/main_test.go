package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simsweep/internal/store"
	"simsweep/internal/sweep"
)

// fakeCasa stands in for the casa binary: it reads the generated task
// script and produces the files the real task would, including the
// <task>.last file CASA leaves in its working directory.
const fakeCasa = `#!/bin/sh
for a in "$@"; do script="$a"; done
task=$(sed -n 's/^# simsweep \([a-z]*\).*/\1/p' "$script")
arg() { sed -n "s/^ *$1=\"\(.*\)\",\$/\1/p" "$script"; }
touch "$task.last"
case "$task" in
  importfits) mkdir -p "$(arg imagename)" ;;
  imhead) echo 'SIMSWEEP_HEADER {"restfreq": 230538000000.0, "cdelt3": 100000.0, "cdelt2": 2.42e-07, "bunit": "K", "datamax": 45.0}' ;;
  simobserve) p=$(arg project); mkdir -p "$p"; touch "$p/skymodel.png" ;;
  clean) mkdir -p "$(arg imagename).image" ;;
  exportfits) test -d "$(arg imagename)" || exit 3; touch "$(arg fitsimage)" ;;
  *) echo "unknown task $task" >&2; exit 9 ;;
esac
`

func setupWorkdir(t *testing.T, files ...string) string {
	t.Helper()
	logger = zap.NewNop()
	configPath = ""
	dir := t.TempDir()
	workdir = dir
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("SIMPLE"), 0644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
	return dir
}

// setFlag sets a flag as if given on the command line and unsets it after
// the test.
func setFlag(t *testing.T, cmd *cobra.Command, name, value string) {
	t.Helper()
	f := cmd.Flags().Lookup(name)
	if f == nil {
		t.Fatalf("no flag %s on %s", name, cmd.Name())
	}
	if sv, ok := f.Value.(interface{ Replace([]string) error }); ok {
		if err := sv.Replace(strings.Split(value, ",")); err != nil {
			t.Fatalf("replace %s: %v", name, err)
		}
	} else if err := f.Value.Set(value); err != nil {
		t.Fatalf("set %s: %v", name, err)
	}
	f.Changed = true
	t.Cleanup(func() { f.Changed = false })
}

func bufferOutput(t *testing.T, cmd *cobra.Command) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
	})
	return &buf
}

func TestConvertKelvin(t *testing.T) {
	setupWorkdir(t)
	convertUnit = "K"
	convertCell = 2.42e-7
	convertRestFreq = 230.538e9
	convertPeak = 45

	output := captureOutput(t, func() {
		if err := runConvert(convertCmd, nil); err != nil {
			t.Fatalf("runConvert returned error: %v", err)
		}
	})

	if !strings.Contains(output, "kernel:     gaussian") {
		t.Fatalf("expected kernel line, got: %s", output)
	}
	if !strings.Contains(output, "Jy/pixel") {
		t.Fatalf("expected Jy/pixel result, got: %s", output)
	}
}

func TestConvertKernelFromConfig(t *testing.T) {
	dir := setupWorkdir(t)
	cfgDir := filepath.Join(dir, ".simsweep")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte("units:\n  solid_angle: pixel\n"), 0644); err != nil {
		t.Fatal(err)
	}
	convertUnit = "K"
	convertCell = 2.42e-7
	convertRestFreq = 230.538e9
	convertPeak = 45

	output := captureOutput(t, func() {
		if err := runConvert(convertCmd, nil); err != nil {
			t.Fatalf("runConvert returned error: %v", err)
		}
	})
	if !strings.Contains(output, "kernel:     pixel") {
		t.Fatalf("expected the configured kernel, got: %s", output)
	}

	// An explicit flag still wins over the config.
	setFlag(t, convertCmd, "solid-angle", "gaussian")
	output = captureOutput(t, func() {
		if err := runConvert(convertCmd, nil); err != nil {
			t.Fatalf("runConvert returned error: %v", err)
		}
	})
	if !strings.Contains(output, "kernel:     gaussian") {
		t.Fatalf("expected the flag kernel, got: %s", output)
	}
}

func TestConvertJyPerPixel(t *testing.T) {
	setupWorkdir(t)
	convertUnit = "jy/PIXEL"
	convertCell = 2.42e-7
	convertRestFreq = 230.538e9
	convertPeak = 0.25
	setFlag(t, convertCmd, "solid-angle", "pixel")

	output := captureOutput(t, func() {
		if err := runConvert(convertCmd, nil); err != nil {
			t.Fatalf("runConvert returned error: %v", err)
		}
	})

	if !strings.Contains(output, "factor:     1\n") {
		t.Fatalf("expected unit factor, got: %s", output)
	}
	if !strings.Contains(output, "2.500e-01Jy/pixel") {
		t.Fatalf("expected unchanged peak, got: %s", output)
	}
}

func TestConvertBadKernel(t *testing.T) {
	setupWorkdir(t)
	setFlag(t, convertCmd, "solid-angle", "tophat")

	if err := runConvert(convertCmd, nil); err == nil {
		t.Fatal("expected error for unknown kernel")
	}
}

func TestPlanListsRuns(t *testing.T) {
	setupWorkdir(t, "disk.fits", "ring.fits")
	setFlag(t, planCmd, "beam", "0.5,1")
	setFlag(t, planCmd, "inttime", "10")
	buf := bufferOutput(t, planCmd)

	if err := planSweep(planCmd, nil); err != nil {
		t.Fatalf("planSweep returned error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"disk_0.5arcsec_10.0mins",
		"disk_1.0arcsec_10.0mins",
		"ring_0.5arcsec_10.0mins",
		"ring_1.0arcsec_10.0mins",
		"600.000000s",
		"4 runs over 2 files",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in plan output:\n%s", want, output)
		}
	}
}

func TestRunRejectsIntegerBeam(t *testing.T) {
	dir := setupWorkdir(t, "disk.fits")
	cfgDir := filepath.Join(dir, ".simsweep")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	yaml := "sweep:\n  beam_sizes: 1\n  integration_times: 10.0\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIMSWEEP_CASA_BIN", filepath.Join(dir, "casa-that-must-not-run"))

	err := runSweep(runCmd, nil)
	if !errors.Is(err, sweep.ErrType) {
		t.Fatalf("expected type error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, ".simsweep", "scripts")); !os.IsNotExist(statErr) {
		t.Fatal("no CASA script should have been written")
	}
}

func TestRunEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake casa is a shell script")
	}

	dir := setupWorkdir(t, "disk.fits")
	bin := filepath.Join(t.TempDir(), "casa")
	if err := os.WriteFile(bin, []byte(fakeCasa), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIMSWEEP_CASA_BIN", bin)

	setFlag(t, runCmd, "beam", "0.5,1")
	setFlag(t, runCmd, "inttime", "10")
	buf := bufferOutput(t, runCmd)

	if err := runSweep(runCmd, nil); err != nil {
		t.Fatalf("runSweep returned error: %v\noutput:\n%s", err, buf.String())
	}

	output := buf.String()
	if !strings.Contains(output, "Completed: 1 / 1.") {
		t.Fatalf("expected completion line, got:\n%s", output)
	}
	if !strings.Contains(output, "Rescaling to peak flux of") {
		t.Fatalf("expected rescaling line, got:\n%s", output)
	}

	for _, rel := range []string{
		"disk.fits",
		"disk_Outputs/disk_0.5arcsec_10.0mins_simobs.fits",
		"disk_Outputs/disk_1.0arcsec_10.0mins_simobs.fits",
		"SimObs_disk/disk.image",
		".simsweep/audit.jsonl",
		".simsweep/logs/casa",
	} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Errorf("expected %s: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "disk_0.5arcsec_10.0mins")); !os.IsNotExist(err) {
		t.Errorf("project directory should have been removed")
	}
	if leftovers, _ := filepath.Glob(filepath.Join(dir, "*.last")); len(leftovers) != 0 {
		t.Errorf("task .last files left in the workdir: %v", leftovers)
	}
	if scripts, _ := filepath.Glob(filepath.Join(dir, ".simsweep", "scripts", "*.py")); len(scripts) != 0 {
		t.Errorf("scripts of successful tasks should be removed: %v", scripts)
	}

	id := regexp.MustCompile(`Sweep ([0-9a-f-]{36}):`).FindStringSubmatch(output)
	if id == nil {
		t.Fatalf("no sweep id in output:\n%s", output)
	}

	ledger, err := store.Open(filepath.Join(dir, ".simsweep", "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	runs, err := ledger.ListRuns(context.Background(), id[1], 0)
	ledger.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(runs))
	}

	historySweep = id[1]
	defer func() { historySweep = "" }()
	hbuf := bufferOutput(t, historyCmd)
	if err := runHistory(historyCmd, nil); err != nil {
		t.Fatalf("runHistory returned error: %v", err)
	}
	if !strings.Contains(hbuf.String(), "disk_1.0arcsec_10.0mins") {
		t.Fatalf("expected run in history, got:\n%s", hbuf.String())
	}
}

func TestHistoryEmpty(t *testing.T) {
	setupWorkdir(t)
	buf := bufferOutput(t, historyCmd)

	if err := runHistory(historyCmd, nil); err != nil {
		t.Fatalf("runHistory returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "No sweeps recorded yet.") {
		t.Fatalf("expected empty history notice, got: %s", buf.String())
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := setupWorkdir(t)
	buf := bufferOutput(t, configInitCmd)

	if err := runConfigInit(configInitCmd, nil); err != nil {
		t.Fatalf("runConfigInit returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".simsweep", "config.yaml")); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(buf.String(), "Wrote ") {
		t.Fatalf("expected confirmation, got: %s", buf.String())
	}

	if err := runConfigInit(configInitCmd, nil); err == nil {
		t.Fatal("expected error when config exists")
	}

	show := bufferOutput(t, configShowCmd)
	if err := runConfigShow(configShowCmd, nil); err != nil {
		t.Fatalf("runConfigShow returned error: %v", err)
	}
	for _, want := range []string{"binary: casa", "beam_sizes:", "weighting: briggs", "imsize: 256"} {
		if !strings.Contains(show.String(), want) {
			t.Errorf("expected %q in config output:\n%s", want, show.String())
		}
	}
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
