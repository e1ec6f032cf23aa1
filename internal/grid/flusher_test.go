package grid

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cvgrid/internal/timeutil"
)

// mockPersister implements Persister for testing
type mockPersister struct {
	mu      sync.Mutex
	reasons []string
	err     error
}

func (m *mockPersister) Persist(store SnapshotStore, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
	return m.err
}

func (m *mockPersister) getReasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.reasons...)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes and reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewCheckpointFlusher_Defaults(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t, CompressionGzip)
	f := NewCheckpointFlusher(CheckpointFlusherConfig{
		Manager:  mgr,
		Store:    &mockStore{},
		Interval: time.Minute,
	})

	assert.Equal(t, "periodic_flush", f.reason)
	assert.Equal(t, "phi-psi", f.name)
	assert.NotNil(t, f.clock)
	assert.NotNil(t, f.logger)
	assert.False(t, f.IsRunning())
}

func TestCheckpointFlusher_ZeroInterval(t *testing.T) {
	t.Parallel()
	var logBuf syncBuffer
	f := NewCheckpointFlusher(CheckpointFlusherConfig{
		Manager: &mockPersister{},
		Store:   &mockStore{},
		Logger:  log.New(&logBuf, "", 0),
	})

	require.NoError(t, f.Run(context.Background()))
	assert.Contains(t, logBuf.String(), "interval is zero")
}

func TestCheckpointFlusher_PeriodicAndFinalFlush(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	persister := &mockPersister{}
	var logBuf syncBuffer

	f := NewCheckpointFlusher(CheckpointFlusherConfig{
		Manager:  persister,
		Store:    &mockStore{},
		Name:     "phi-psi",
		Interval: time.Minute,
		Reason:   "test_flush",
		Clock:    clock,
		Logger:   log.New(&logBuf, "", 0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		return len(persister.getReasons()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.IsRunning())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("flusher did not stop")
	}

	reasons := persister.getReasons()
	assert.Equal(t, "test_flush", reasons[0])
	assert.Equal(t, "final_flush", reasons[len(reasons)-1])
	assert.False(t, f.IsRunning())
	assert.Contains(t, logBuf.String(), "context cancellation")
}

func TestCheckpointFlusher_StopFlushesAndPrunes(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t, CompressionZstd)
	store := &mockStore{}
	f := NewCheckpointFlusher(CheckpointFlusherConfig{
		Manager:  mgr,
		Store:    store,
		Interval: time.Hour,
		KeepLast: 3,
		Clock:    timeutil.NewMockClock(time.Unix(0, 0)),
		Logger:   log.New(&syncBuffer{}, "", 0),
	})

	done := make(chan struct{})
	go func() {
		_ = f.Run(context.Background())
		close(done)
	}()
	require.Eventually(t, f.IsRunning, time.Second, time.Millisecond)

	f.Stop()
	<-done
	f.Stop()

	assert.Equal(t, []string{"final_flush"}, store.reasons())
	assert.Equal(t, []int{3}, store.pruned)
}

func TestCheckpointFlusher_FlushNow(t *testing.T) {
	t.Parallel()
	persister := &mockPersister{}
	f := NewCheckpointFlusher(CheckpointFlusherConfig{
		Manager:  persister,
		Store:    &mockStore{},
		Interval: time.Hour,
		Reason:   "manual",
		Logger:   log.New(&syncBuffer{}, "", 0),
	})

	f.FlushNow()
	f.FlushNow()
	assert.Equal(t, []string{"manual", "manual"}, persister.getReasons())
}

func TestCheckpointFlusher_PersistErrorIsLogged(t *testing.T) {
	t.Parallel()
	var logBuf syncBuffer
	store := &mockStore{}
	f := NewCheckpointFlusher(CheckpointFlusherConfig{
		Manager:  &mockPersister{err: errors.New("locked")},
		Store:    store,
		Name:     "phi-psi",
		Interval: time.Hour,
		KeepLast: 2,
		Logger:   log.New(&logBuf, "", 0),
	})

	f.FlushNow()
	assert.Contains(t, logBuf.String(), "error flushing")
	assert.Empty(t, store.pruned)
}

func TestCheckpointFlusher_NilManagerOrStore(t *testing.T) {
	t.Parallel()
	f := NewCheckpointFlusher(CheckpointFlusherConfig{Interval: time.Hour, Logger: log.New(&syncBuffer{}, "", 0)})
	f.FlushNow()
	assert.False(t, f.IsRunning())
}
