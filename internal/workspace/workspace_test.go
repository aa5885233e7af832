package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	ws, err := New(dir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(ws.Root))

	_, err = New(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	file := filepath.Join(dir, "file")
	touch(t, file)
	_, err = New(file)
	assert.Error(t, err)
}

func TestListFITS(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.fits"))
	touch(t, filepath.Join(dir, "a.fits"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "upper.FITS"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.fits"), 0755))

	files, err := ListFITS(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.fits", "b.fits"}, files)

	_, err = ListFITS(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "disk", BaseName("disk.fits"))
	assert.Equal(t, "disk", BaseName("/data/models/disk.fits"))
	assert.Equal(t, "disk.image", BaseName("disk.image"))
}

func TestCleanupAux(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	proj := ws.ProjectDir("disk_0.5arcsec_10.0mins")
	touch(t, filepath.Join(proj, "casapy.log.txt"))
	touch(t, filepath.Join(proj, "disk.alma.skymodel.png"))
	touch(t, filepath.Join(proj, "simobserve.last"))
	touch(t, filepath.Join(proj, "CLEANed.image", "table.dat"))
	require.NoError(t, os.Mkdir(filepath.Join(proj, "keep.png"), 0755))

	n, err := ws.CleanupAux("disk_0.5arcsec_10.0mins", []string{"*.txt", "*.png", "*.last"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.NoFileExists(t, filepath.Join(proj, "casapy.log.txt"))
	assert.NoFileExists(t, filepath.Join(proj, "simobserve.last"))
	assert.FileExists(t, filepath.Join(proj, "CLEANed.image", "table.dat"))
	assert.DirExists(t, filepath.Join(proj, "keep.png"))

	_, err = ws.CleanupAux("disk_0.5arcsec_10.0mins", []string{"[bad"})
	assert.Error(t, err)
}

func TestCleanupRoot(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	touch(t, ws.Path("importfits.last"))
	touch(t, ws.Path("exportfits.last"))
	touch(t, ws.Path("disk.fits"))
	touch(t, ws.Path("disk_0.5arcsec_10.0mins/clean.last"))

	n, err := ws.CleanupRoot([]string{"*.last"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.NoFileExists(t, ws.Path("importfits.last"))
	assert.NoFileExists(t, ws.Path("exportfits.last"))
	assert.FileExists(t, ws.Path("disk.fits"))
	assert.FileExists(t, ws.Path("disk_0.5arcsec_10.0mins/clean.last"))
}

func TestRemoveProject(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	touch(t, filepath.Join(ws.ProjectDir("p"), "x.ms", "table.dat"))
	require.NoError(t, ws.RemoveProject("p"))
	assert.NoDirExists(t, ws.ProjectDir("p"))

	// Removing a project that is already gone is fine.
	require.NoError(t, ws.RemoveProject("p"))
}

func TestOrganize(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	touch(t, ws.Path("disk.fits"))
	touch(t, ws.Path("disk_0.5arcsec_10.0mins_simobs.fits"))
	touch(t, ws.Path("disk_1.0arcsec_10.0mins_simobs.fits"))
	touch(t, filepath.Join(ws.Path("disk.image"), "table.dat"))

	layout := Layout{OutputsSuffix: "_Outputs", SimObsPrefix: "SimObs_"}
	out, err := ws.Organize("disk",
		[]string{"disk_0.5arcsec_10.0mins_simobs.fits", "disk_1.0arcsec_10.0mins_simobs.fits"},
		[]string{"disk.image", "disk_0.5arcsec_10.0mins"},
		layout)
	require.NoError(t, err)

	assert.Equal(t, ws.Path("disk_Outputs"), out.OutputsDir)
	assert.Equal(t, ws.Path("SimObs_disk"), out.SimObsDir)
	assert.Len(t, out.Products, 2)
	assert.Len(t, out.Intermediates, 1)

	assert.FileExists(t, ws.Path("disk_Outputs/disk_0.5arcsec_10.0mins_simobs.fits"))
	assert.FileExists(t, ws.Path("disk_Outputs/disk_1.0arcsec_10.0mins_simobs.fits"))
	assert.FileExists(t, ws.Path("SimObs_disk/disk.image/table.dat"))
	assert.FileExists(t, ws.Path("disk.fits"), "source sky model stays in place")
}

func TestOrganize_ReplacesExisting(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)
	layout := Layout{OutputsSuffix: "_Outputs", SimObsPrefix: "SimObs_"}

	touch(t, filepath.Join(ws.Path("SimObs_disk/disk.image"), "old.dat"))
	touch(t, filepath.Join(ws.Path("disk.image"), "new.dat"))
	touch(t, ws.Path("disk_0.5arcsec_10.0mins_simobs.fits"))

	_, err = ws.Organize("disk", []string{"disk_0.5arcsec_10.0mins_simobs.fits"}, []string{"disk.image"}, layout)
	require.NoError(t, err)

	assert.FileExists(t, ws.Path("SimObs_disk/disk.image/new.dat"))
	assert.NoFileExists(t, ws.Path("SimObs_disk/disk.image/old.dat"))
}

func TestOrganize_MissingProduct(t *testing.T) {
	ws, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = ws.Organize("disk", []string{"missing_simobs.fits"}, nil, Layout{OutputsSuffix: "_Outputs"})
	assert.Error(t, err)
}
