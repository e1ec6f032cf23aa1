package grid

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/cvgrid/internal/monitoring"
	"github.com/banshee-data/cvgrid/internal/timeutil"
)

// Snapshot matches the grid_checkpoint table.
type Snapshot struct {
	SnapshotID        *int64 // set by the database after insert
	GridName          string // grid_name TEXT NOT NULL
	RunID             string // run_id TEXT NOT NULL, one per process session
	TakenUnixNanos    int64  // taken_unix_nanos INTEGER NOT NULL
	Dims              int    // dims INTEGER NOT NULL
	GeometryJSON      string // geometry_json TEXT NOT NULL
	Compression       string // compression TEXT NOT NULL ('none', 'gzip', 'zstd')
	GridBlob          []byte // grid_blob BLOB NOT NULL, compressed MarshalBinary output
	ChangedCellsCount int    // changed_cells_count INTEGER
	SnapshotReason    string // snapshot_reason TEXT ('periodic_flush', 'final_flush', 'manual', 'init', 'import')
}

// Decode rebuilds the grid stored in the snapshot.
func (s *Snapshot) Decode() (*Grid, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrConfig)
	}
	c, err := ParseCompression(s.Compression)
	if err != nil {
		return nil, err
	}
	return DecodeBlob(s.GridBlob, c)
}

// SnapshotStore persists Snapshot records. Implemented by db.DB.
type SnapshotStore interface {
	InsertSnapshot(s *Snapshot) (int64, error)
}

// RestoreStore is a SnapshotStore that can also return the most recent
// snapshot for a grid name. A missing snapshot is reported as (nil, nil).
type RestoreStore interface {
	SnapshotStore
	GetLatestSnapshot(gridName string) (*Snapshot, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Name identifies the grid in the checkpoint store and the registry.
	Name string
	// Grid is the field to manage. Required.
	Grid *Grid
	// Compression for persisted blobs; empty means gzip.
	Compression Compression
	// RunID tags every snapshot written by this process.
	RunID string
	// Clock is optional; defaults to the real clock.
	Clock timeutil.Clock
}

// Manager serializes access to a Grid shared between the sampling loop and
// the checkpoint flusher, and tracks how much has changed since the last
// snapshot.
type Manager struct {
	name        string
	runID       string
	compression Compression
	clock       timeutil.Clock

	mu                   sync.RWMutex
	grid                 *Grid
	changesSinceSnapshot int
	snapshotID           *int64
	lastPersistTime      time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: manager name is required", ErrConfig)
	}
	if cfg.Grid == nil {
		return nil, fmt.Errorf("%w: manager %q has no grid", ErrConfig, cfg.Name)
	}
	c, err := ParseCompression(string(cfg.Compression))
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		name:        cfg.Name,
		runID:       cfg.RunID,
		compression: c,
		clock:       clock,
		grid:        cfg.Grid,
	}, nil
}

// Name returns the grid name.
func (m *Manager) Name() string { return m.name }

// RunID returns the session identifier stamped on snapshots.
func (m *Manager) RunID() string { return m.runID }

// Geometry returns the managed grid's geometry.
func (m *Manager) Geometry() *Geometry { return m.grid.Geometry() }

// Update runs fn with exclusive access to the grid. fn reports how many
// cells it changed; the count feeds ChangedCellsCount on the next snapshot.
func (m *Manager) Update(fn func(g *Grid) (changed int, err error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := fn(m.grid)
	if n > 0 {
		m.changesSinceSnapshot += n
	}
	return err
}

// View runs fn with shared access to the grid. fn must not mutate it.
func (m *Manager) View(fn func(g *Grid) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.grid)
}

// AddValueAt adds delta to the value of the cell containing coord.
func (m *Manager) AddValueAt(coord []float64, delta float32) error {
	return m.Update(func(g *Grid) (int, error) {
		idx, err := g.ToIndex(coord)
		if err != nil {
			return 0, err
		}
		if err := g.AddValue(idx, delta); err != nil {
			return 0, err
		}
		return 1, nil
	})
}

// SetDerivAt overwrites gradient component dim of the cell containing coord.
func (m *Manager) SetDerivAt(coord []float64, v float64, dim int) error {
	return m.Update(func(g *Grid) (int, error) {
		if err := g.SetDerivAt(coord, v, dim); err != nil {
			return 0, err
		}
		return 1, nil
	})
}

// Snapshot returns a deep copy of the grid taken under the read lock.
func (m *Manager) Snapshot() *Grid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grid.Clone()
}

// ChangesSinceSnapshot returns the number of cell changes not yet persisted.
func (m *Manager) ChangesSinceSnapshot() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changesSinceSnapshot
}

// LastSnapshotID returns the id of the last persisted or restored snapshot.
func (m *Manager) LastSnapshotID() *int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotID
}

// LastPersistTime returns when Persist last succeeded.
func (m *Manager) LastPersistTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPersistTime
}

// Persist encodes the grid and writes a Snapshot via store. The grid is
// copied under the read lock so sampling continues while the blob is
// compressed and written.
func (m *Manager) Persist(store SnapshotStore, reason string) error {
	if m == nil || store == nil {
		return nil
	}

	m.mu.RLock()
	gridCopy := m.grid.Clone()
	changesSince := m.changesSinceSnapshot
	m.mu.RUnlock()

	blob, err := gridCopy.EncodeBlob(m.compression)
	if err != nil {
		return err
	}
	geomJSON, err := json.Marshal(gridCopy.geom.dims)
	if err != nil {
		return err
	}

	snap := &Snapshot{
		GridName:          m.name,
		RunID:             m.runID,
		TakenUnixNanos:    m.clock.Now().UnixNano(),
		Dims:              gridCopy.NDim(),
		GeometryJSON:      string(geomJSON),
		Compression:       string(m.compression),
		GridBlob:          blob,
		ChangedCellsCount: changesSince,
		SnapshotReason:    reason,
	}
	id, err := store.InsertSnapshot(snap)
	if err != nil {
		return err
	}

	sum := gridCopy.Summary()
	monitoring.Logf("[Manager] Persisted snapshot: grid=%s, id=%d, reason=%s, nonzero_cells=%d/%d, min=%g, max=%g, max_grad_norm=%g, blob_size=%d bytes",
		m.name, id, reason, sum.NonZeroCells, sum.Cells, sum.MinValue, sum.MaxValue, sum.MaxGradNorm, len(blob))

	// Keep changes made while the snapshot was being written.
	m.mu.Lock()
	if m.changesSinceSnapshot >= changesSince {
		m.changesSinceSnapshot -= changesSince
	} else {
		m.changesSinceSnapshot = 0
	}
	m.snapshotID = &id
	m.lastPersistTime = m.clock.Now()
	m.mu.Unlock()
	return nil
}

// Restore loads the most recent snapshot for this grid from store. It
// returns false with a nil error when the store holds no snapshot. A
// snapshot with a different geometry fails with ErrConfig and leaves the
// grid unchanged.
func (m *Manager) Restore(store RestoreStore) (bool, error) {
	snap, err := store.GetLatestSnapshot(m.name)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	if err := m.RestoreSnapshot(snap); err != nil {
		return false, err
	}
	return true, nil
}

// RestoreSnapshot overwrites the grid with the contents of snap.
func (m *Manager) RestoreSnapshot(snap *Snapshot) error {
	src, err := snap.Decode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.grid.replace(src); err != nil {
		return err
	}
	m.changesSinceSnapshot = 0
	m.snapshotID = snap.SnapshotID
	id := int64(-1)
	if snap.SnapshotID != nil {
		id = *snap.SnapshotID
	}
	monitoring.Logf("[Manager] Restored snapshot: grid=%s, id=%d, run=%s, reason=%s",
		m.name, id, snap.RunID, snap.SnapshotReason)
	return nil
}

// Merge adds another grid with identical geometry into the managed grid.
func (m *Manager) Merge(other *Grid) error {
	return m.Update(func(g *Grid) (int, error) {
		if err := g.Merge(other); err != nil {
			return 0, err
		}
		return g.Len(), nil
	})
}
