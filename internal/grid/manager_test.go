package grid

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cvgrid/internal/monitoring"
	"github.com/banshee-data/cvgrid/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// mockStore is an in-memory RestoreStore and Pruner.
type mockStore struct {
	mu        sync.Mutex
	snaps     []*Snapshot
	insertErr error
	latestErr error
	pruned    []int
}

func (s *mockStore) InsertSnapshot(snap *Snapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	id := int64(len(s.snaps) + 1)
	cp := *snap
	cp.SnapshotID = &id
	s.snaps = append(s.snaps, &cp)
	return id, nil
}

func (s *mockStore) GetLatestSnapshot(name string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	for i := len(s.snaps) - 1; i >= 0; i-- {
		if s.snaps[i].GridName == name {
			return s.snaps[i], nil
		}
	}
	return nil, nil
}

func (s *mockStore) PruneSnapshots(name string, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = append(s.pruned, keep)
	return 0, nil
}

func (s *mockStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func (s *mockStore) reasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.snaps))
	for i, snap := range s.snaps {
		out[i] = snap.SnapshotReason
	}
	return out
}

func newTestManager(t *testing.T, c Compression) (*Manager, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	mgr, err := NewManager(ManagerConfig{
		Name:        "phi-psi",
		Grid:        newCubeGrid(t),
		Compression: c,
		RunID:       "run-1",
		Clock:       clock,
	})
	require.NoError(t, err)
	return mgr, clock
}

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewManager(ManagerConfig{Grid: newCubeGrid(t)})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewManager(ManagerConfig{Name: "x"})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewManager(ManagerConfig{Name: "x", Grid: newCubeGrid(t), Compression: "lz4"})
	assert.ErrorIs(t, err, ErrConfig)

	mgr, err := NewManager(ManagerConfig{Name: "x", Grid: newCubeGrid(t)})
	require.NoError(t, err)
	assert.Equal(t, CompressionGzip, mgr.compression)
}

func TestManager_UpdateCountsChanges(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t, CompressionGzip)

	require.NoError(t, mgr.AddValueAt([]float64{1, 1, 1}, 0.5))
	require.NoError(t, mgr.AddValueAt([]float64{1, 1, 1}, 0.5))
	require.NoError(t, mgr.SetDerivAt([]float64{9, 9, 9}, 2, 0))
	assert.Equal(t, 3, mgr.ChangesSinceSnapshot())

	err := mgr.AddValueAt([]float64{1, 1}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 3, mgr.ChangesSinceSnapshot())

	require.NoError(t, mgr.View(func(g *Grid) error {
		v, err := g.Value(Index{0, 0, 0})
		assert.Equal(t, float32(1), v)
		return err
	}))
}

func TestManager_PersistAndRestore(t *testing.T) {
	t.Parallel()
	for _, c := range []Compression{CompressionGzip, CompressionZstd, CompressionNone} {
		t.Run(string(c), func(t *testing.T) {
			t.Parallel()
			mgr, clock := newTestManager(t, c)
			store := &mockStore{}

			require.NoError(t, mgr.AddValueAt([]float64{5, 5, 5}, 7.5))
			require.NoError(t, mgr.SetDerivAt([]float64{5, 5, 5}, -1.25, 2))
			require.NoError(t, mgr.Persist(store, "manual"))

			require.Equal(t, 1, store.count())
			snap := store.snaps[0]
			assert.Equal(t, "phi-psi", snap.GridName)
			assert.Equal(t, "run-1", snap.RunID)
			assert.Equal(t, string(c), snap.Compression)
			assert.Equal(t, 3, snap.Dims)
			assert.Equal(t, 2, snap.ChangedCellsCount)
			assert.Equal(t, "manual", snap.SnapshotReason)
			assert.Equal(t, clock.Now().UnixNano(), snap.TakenUnixNanos)

			var dims []Dimension
			require.NoError(t, json.Unmarshal([]byte(snap.GeometryJSON), &dims))
			assert.Equal(t, mgr.Geometry().Dims(), dims)

			assert.Equal(t, 0, mgr.ChangesSinceSnapshot())
			require.NotNil(t, mgr.LastSnapshotID())
			assert.Equal(t, int64(1), *mgr.LastSnapshotID())
			assert.Equal(t, clock.Now(), mgr.LastPersistTime())

			fresh, _ := newTestManager(t, c)
			ok, err := fresh.Restore(store)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, mgr.Snapshot().Equal(fresh.Snapshot()))
			assert.Equal(t, int64(1), *fresh.LastSnapshotID())
		})
	}
}

func TestManager_RestoreEmptyStore(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t, CompressionGzip)

	ok, err := mgr.Restore(&mockStore{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_RestoreGeometryMismatch(t *testing.T) {
	t.Parallel()
	store := &mockStore{}
	other, err := NewManager(ManagerConfig{Name: "phi-psi", Grid: filledGrid(t)})
	require.NoError(t, err)
	require.NoError(t, other.Persist(store, "manual"))

	mgr, _ := newTestManager(t, CompressionGzip)
	require.NoError(t, mgr.AddValueAt([]float64{0, 0, 0}, 3))

	ok, err := mgr.Restore(store)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrConfig)

	require.NoError(t, mgr.View(func(g *Grid) error {
		v, err := g.Value(Index{0, 0, 0})
		assert.Equal(t, float32(3), v)
		return err
	}))
}

func TestManager_StoreErrors(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t, CompressionGzip)
	require.NoError(t, mgr.AddValueAt([]float64{0, 0, 0}, 1))

	boom := errors.New("disk full")
	err := mgr.Persist(&mockStore{insertErr: boom}, "manual")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mgr.ChangesSinceSnapshot())
	assert.Nil(t, mgr.LastSnapshotID())

	_, err = mgr.Restore(&mockStore{latestErr: boom})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mgr.Persist(nil, "manual"))
}

func TestManager_ChangesDuringPersistSurvive(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t, CompressionGzip)
	store := &mockStore{}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = mgr.AddValueAt([]float64{float64(i % 10), 0, 0}, 1)
		}
	}()
	for i := 0; i < 5; i++ {
		require.NoError(t, mgr.Persist(store, "periodic_flush"))
	}
	wg.Wait()
	require.NoError(t, mgr.Persist(store, "final_flush"))

	total := 0
	for _, snap := range store.snaps {
		total += snap.ChangedCellsCount
	}
	assert.Equal(t, 200, total)
	assert.Equal(t, 0, mgr.ChangesSinceSnapshot())
}

func TestManager_Merge(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t, CompressionGzip)
	walker := newCubeGrid(t)
	require.NoError(t, walker.SetValue(Index{1, 1, 1}, 2))

	require.NoError(t, mgr.Merge(walker))
	require.NoError(t, mgr.Merge(walker))
	assert.Equal(t, 54, mgr.ChangesSinceSnapshot())

	require.NoError(t, mgr.View(func(g *Grid) error {
		v, err := g.Value(Index{1, 1, 1})
		assert.Equal(t, float32(4), v)
		return err
	}))

	assert.ErrorIs(t, mgr.Merge(filledGrid(t)), ErrConfig)
}

func TestSnapshot_DecodeErrors(t *testing.T) {
	t.Parallel()
	var nilSnap *Snapshot
	_, err := nilSnap.Decode()
	assert.ErrorIs(t, err, ErrConfig)

	_, err = (&Snapshot{Compression: "rar", GridBlob: []byte{1}}).Decode()
	assert.ErrorIs(t, err, ErrConfig)
}
