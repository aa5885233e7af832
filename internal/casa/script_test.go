package casa

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderAllScripts(t *testing.T) map[string]string {
	t.Helper()
	scripts := map[string]string{}

	clean := CleanParams{
		Vis:       "p.alma_0.500000arcsec.noisy.ms",
		ImageName: "CLEANed",
		Mode:      "velocity",
		NChan:     -1,
		NIter:     10000,
		Threshold: "0.1mJy",
		RestFreq:  "230.538000GHz",
		ImSize:    256,
		Cell:      "0.12500arcsec",
		Weighting: "briggs",
		Robust:    0.5,
		OutFrame:  "LSRK",
	}
	sim := SimobserveParams{Project: "p", SkyModel: "disk.fits", InBright: "1.000e-02Jy/pixel"}
	for task, args := range map[string][]taskArg{
		"importfits": ImportParams{FitsImage: "disk.fits", ImageName: "disk.image", Overwrite: true}.args(),
		"simobserve": sim.args(),
		"clean":      clean.args(),
		"exportfits": ExportParams{ImageName: "p/CLEANed.image", FitsImage: "p_simobs.fits"}.args(),
	} {
		out, err := renderScript(taskTemplate, taskScript{Task: task, SessionID: "sweep-1", Args: args})
		require.NoError(t, err)
		scripts[task] = out
	}

	out, err := renderScript(headerTemplate, taskScript{
		Task:   "imhead",
		Args:   []taskArg{{"imagename", "disk.image"}, {"mode", "list"}},
		Marker: HeaderMarker,
	})
	require.NoError(t, err)
	scripts["imhead"] = out
	return scripts
}

// firstStatement skips blank lines and comments.
func firstStatement(script string) string {
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line
	}
	return ""
}

func TestScripts_PrintFunctionImportComesFirst(t *testing.T) {
	for task, script := range renderAllScripts(t) {
		assert.Equal(t, "from __future__ import print_function", firstStatement(script), task)
	}
}

// TestScripts_CompileUnderPython byte-compiles every rendered script with
// whichever of python2 and python3 are installed.
func TestScripts_CompileUnderPython(t *testing.T) {
	scripts := renderAllScripts(t)
	dir := t.TempDir()

	ran := 0
	for _, interp := range []string{"python2.7", "python2", "python3"} {
		bin, err := exec.LookPath(interp)
		if err != nil {
			continue
		}
		ran++
		for task, script := range scripts {
			path := filepath.Join(dir, interp+"_"+task+".py")
			require.NoError(t, os.WriteFile(path, []byte(script), 0644))
			out, err := exec.Command(bin, "-m", "py_compile", path).CombinedOutput()
			assert.NoError(t, err, "%s %s: %s", interp, task, out)
		}
	}
	if ran == 0 {
		t.Skip("no python interpreter on PATH")
	}
}
