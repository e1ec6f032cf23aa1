package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// Run matches the grid_run table: one row per process session that
// accumulated into a grid.
type Run struct {
	RunID            string
	GridName         string
	StartedUnixNanos int64
	ResumedFrom      *int64 // snapshot_id restored at startup, nil for a fresh grid
	Version          string
}

// StartRun records the start of a session.
func (db *DB) StartRun(r *Run) error {
	if r == nil || r.RunID == "" || r.GridName == "" {
		return fmt.Errorf("run requires run_id and grid_name")
	}
	_, err := db.Exec(`INSERT INTO grid_run (run_id, grid_name, started_unix_nanos, resumed_from, version)
		VALUES (?, ?, ?, ?, ?)`,
		r.RunID, r.GridName, r.StartedUnixNanos, r.ResumedFrom, r.Version)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", r.RunID, err)
	}
	return nil
}

// GetRun returns a session by id, or nil when none exists.
func (db *DB) GetRun(runID string) (*Run, error) {
	var (
		r           Run
		resumedFrom sql.NullInt64
	)
	err := db.QueryRow(`SELECT run_id, grid_name, started_unix_nanos, resumed_from, version
		FROM grid_run WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.GridName, &r.StartedUnixNanos, &resumedFrom, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resumedFrom.Valid {
		r.ResumedFrom = &resumedFrom.Int64
	}
	return &r, nil
}
