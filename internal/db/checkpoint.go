package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/cvgrid/internal/grid"
)

// NewRunID returns a fresh identifier for one process session.
func NewRunID() string {
	return uuid.NewString()
}

const snapshotColumns = `snapshot_id, grid_name, run_id, taken_unix_nanos, dims, geometry_json,
	compression, grid_blob, changed_cells_count, snapshot_reason`

// InsertSnapshot inserts a grid checkpoint and returns its snapshot_id.
func (db *DB) InsertSnapshot(s *grid.Snapshot) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("nil snapshot")
	}
	if _, err := uuid.Parse(s.RunID); err != nil {
		return 0, fmt.Errorf("invalid run_id %q: %w", s.RunID, err)
	}
	res, err := db.Exec(
		`INSERT INTO grid_checkpoint (
			grid_name, run_id, taken_unix_nanos, dims, geometry_json,
			compression, grid_blob, changed_cells_count, snapshot_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.GridName, s.RunID, s.TakenUnixNanos, s.Dims, s.GeometryJSON,
		s.Compression, s.GridBlob, s.ChangedCellsCount, s.SnapshotReason,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert grid snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.SnapshotID = &id
	return id, nil
}

// GetLatestSnapshot returns the newest checkpoint for gridName, or nil when
// none exists.
func (db *DB) GetLatestSnapshot(gridName string) (*grid.Snapshot, error) {
	row := db.QueryRow(`SELECT `+snapshotColumns+`
		FROM grid_checkpoint WHERE grid_name = ?
		ORDER BY snapshot_id DESC LIMIT 1`, gridName)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return snap, err
}

// GetSnapshotByID returns a checkpoint by id, or nil when none exists.
func (db *DB) GetSnapshotByID(snapshotID int64) (*grid.Snapshot, error) {
	row := db.QueryRow(`SELECT `+snapshotColumns+`
		FROM grid_checkpoint WHERE snapshot_id = ?`, snapshotID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return snap, err
}

// ListRecentSnapshots returns up to limit checkpoints for gridName, newest
// first.
func (db *DB) ListRecentSnapshots(gridName string, limit int) ([]*grid.Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(`SELECT `+snapshotColumns+`
		FROM grid_checkpoint WHERE grid_name = ?
		ORDER BY snapshot_id DESC LIMIT ?`, gridName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*grid.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneSnapshots deletes all but the newest keep checkpoints for gridName
// and returns the number of rows removed.
func (db *DB) PruneSnapshots(gridName string, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	res, err := db.Exec(`DELETE FROM grid_checkpoint
		WHERE grid_name = ? AND snapshot_id NOT IN (
			SELECT snapshot_id FROM grid_checkpoint
			WHERE grid_name = ? ORDER BY snapshot_id DESC LIMIT ?
		)`, gridName, gridName, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune grid snapshots: %w", err)
	}
	return res.RowsAffected()
}

// ListGridNames returns every grid name with at least one checkpoint.
func (db *DB) ListGridNames() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT grid_name FROM grid_checkpoint ORDER BY grid_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(r rowScanner) (*grid.Snapshot, error) {
	var (
		s  grid.Snapshot
		id int64
	)
	err := r.Scan(&id, &s.GridName, &s.RunID, &s.TakenUnixNanos, &s.Dims, &s.GeometryJSON,
		&s.Compression, &s.GridBlob, &s.ChangedCellsCount, &s.SnapshotReason)
	if err != nil {
		return nil, err
	}
	s.SnapshotID = &id
	return &s, nil
}
