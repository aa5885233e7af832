package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_RecordAndList(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []RunRecord{
		{SweepID: "s1", Source: "disk.fits", Project: "disk_0.5arcsec_10.0mins", Beam: 0.5, IntTime: 10, Output: "disk_Outputs/disk_0.5arcsec_10.0mins_simobs.fits", PeakFlux: 0.0123, StartedAt: started, Duration: 90 * time.Second},
		{SweepID: "s1", Source: "disk.fits", Project: "disk_1.0arcsec_10.0mins", Beam: 1, IntTime: 10, Output: "disk_Outputs/disk_1.0arcsec_10.0mins_simobs.fits", PeakFlux: 0.0123, StartedAt: started.Add(2 * time.Minute), Duration: 80 * time.Second},
		{SweepID: "s2", Source: "ring.fits", Project: "ring_0.5arcsec_5.0mins", Beam: 0.5, IntTime: 5, Output: "ring_Outputs/ring_0.5arcsec_5.0mins_simobs.fits", PeakFlux: 2.5, StartedAt: started.Add(time.Hour), Duration: time.Minute},
	}
	for _, r := range records {
		id, err := l.RecordRun(ctx, r)
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	all, err := l.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "disk_0.5arcsec_10.0mins", all[0].Project)
	assert.True(t, started.Equal(all[0].StartedAt))
	assert.Equal(t, 90*time.Second, all[0].Duration)
	assert.InDelta(t, 0.0123, all[0].PeakFlux, 1e-12)

	s1, err := l.ListRuns(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, s1, 2)

	limited, err := l.ListRuns(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLedger_ListSweeps(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	for _, r := range []RunRecord{
		{SweepID: "a", Source: "x.fits", Project: "p1", StartedAt: now, Duration: time.Second},
		{SweepID: "a", Source: "y.fits", Project: "p2", StartedAt: now, Duration: 2 * time.Second},
		{SweepID: "b", Source: "x.fits", Project: "p3", StartedAt: now, Duration: time.Second},
	} {
		_, err := l.RecordRun(ctx, r)
		require.NoError(t, err)
	}

	sweeps, err := l.ListSweeps(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sweeps, 2)
	assert.Equal(t, "b", sweeps[0].SweepID)
	assert.Equal(t, "a", sweeps[1].SweepID)
	assert.Equal(t, 2, sweeps[1].Runs)
	assert.Equal(t, 2, sweeps[1].Files)
	assert.Equal(t, 3*time.Second, sweeps[1].Total)
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.RecordRun(ctx, RunRecord{SweepID: "s", Source: "a.fits", Project: "p", StartedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	runs, err := l.ListRuns(ctx, "s", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, path, l.Path())
}
