// Package store keeps the run ledger: a SQLite history of every simulation
// a sweep completed. The ledger is informational; sweeps never consult it
// to skip work.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"simsweep/internal/logging"
)

// RunRecord is one completed simulation.
type RunRecord struct {
	ID        int64
	SweepID   string
	Source    string
	Project   string
	Beam      float64 // arcsec
	IntTime   float64 // minutes
	Output    string  // product path relative to the workspace root
	PeakFlux  float64 // Jy/pixel
	StartedAt time.Time
	Duration  time.Duration
}

// SweepSummary aggregates the runs of one sweep.
type SweepSummary struct {
	SweepID   string
	Runs      int
	Files     int
	StartedAt time.Time
	Total     time.Duration
}

// Ledger is the SQLite run ledger.
type Ledger struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// Open creates or opens the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// Single writer; keeps SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, dbPath: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	logging.Store("Ledger opened: %s", path)
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.dbPath
}

func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sweep_id TEXT NOT NULL,
		source TEXT NOT NULL,
		project TEXT NOT NULL,
		beam REAL NOT NULL,
		inttime REAL NOT NULL,
		output TEXT NOT NULL,
		peak_flux REAL NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_sweep ON runs(sweep_id);
	CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project);
	`
	_, err := l.db.Exec(schema)
	return err
}

// RecordRun appends a completed run and returns its row ID.
func (l *Ledger) RecordRun(ctx context.Context, r RunRecord) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (sweep_id, source, project, beam, inttime, output, peak_flux, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SweepID, r.Source, r.Project, r.Beam, r.IntTime, r.Output, r.PeakFlux,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to record run %s: %v", r.Project, err)
		return 0, fmt.Errorf("failed to record run %s: %w", r.Project, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logging.StoreDebug("Recorded run %d: sweep=%s project=%s", id, r.SweepID, r.Project)
	return id, nil
}

// ListRuns returns runs in insertion order. An empty sweepID lists every
// sweep; limit <= 0 means no limit.
func (l *Ledger) ListRuns(ctx context.Context, sweepID string, limit int) ([]RunRecord, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListRuns")
	defer timer.Stop()

	l.mu.RLock()
	defer l.mu.RUnlock()

	query := `SELECT id, sweep_id, source, project, beam, inttime, output, peak_flux, started_at, duration_ms FROM runs`
	var args []interface{}
	if sweepID != "" {
		query += ` WHERE sweep_id = ?`
		args = append(args, sweepID)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r          RunRecord
			started    string
			durationMs int64
		)
		if err := rows.Scan(&r.ID, &r.SweepID, &r.Source, &r.Project, &r.Beam, &r.IntTime, &r.Output, &r.PeakFlux, &started, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListSweeps summarizes sweeps, most recent first.
func (l *Ledger) ListSweeps(ctx context.Context, limit int) ([]SweepSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	query := `SELECT sweep_id, COUNT(*), COUNT(DISTINCT source), MIN(started_at), SUM(duration_ms), MAX(id) AS last_id
		FROM runs GROUP BY sweep_id ORDER BY last_id DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []SweepSummary
	for rows.Next() {
		var (
			s       SweepSummary
			started string
			totalMs int64
			lastID  int64
		)
		if err := rows.Scan(&s.SweepID, &s.Runs, &s.Files, &started, &totalMs, &lastID); err != nil {
			return nil, fmt.Errorf("failed to scan sweep: %w", err)
		}
		s.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		s.Total = time.Duration(totalMs) * time.Millisecond
		sweeps = append(sweeps, s)
	}
	return sweeps, rows.Err()
}
