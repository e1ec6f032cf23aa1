package grid

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/cvgrid/internal/timeutil"
)

// Persister is implemented by types that can write a snapshot of their state.
// Manager implements this interface.
type Persister interface {
	Persist(store SnapshotStore, reason string) error
}

// Pruner is an optional store capability: drop all but the newest keep
// snapshots for a grid.
type Pruner interface {
	PruneSnapshots(gridName string, keep int) (int64, error)
}

// CheckpointFlusher periodically persists a Manager to a SnapshotStore.
type CheckpointFlusher struct {
	manager  Persister
	store    SnapshotStore
	name     string
	interval time.Duration
	keepLast int
	reason   string
	clock    timeutil.Clock
	logger   *log.Logger
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// CheckpointFlusherConfig contains configuration for CheckpointFlusher.
type CheckpointFlusherConfig struct {
	// Manager is the Persister to flush (typically a *Manager)
	Manager Persister
	// Store receives the snapshots
	Store SnapshotStore
	// Name is the grid name used for pruning
	Name string
	// Interval is how often to flush (e.g., 5*time.Minute)
	Interval time.Duration
	// KeepLast prunes older snapshots after each flush when > 0 and the
	// store implements Pruner
	KeepLast int
	// Reason is the reason string to use for flushes (default "periodic_flush")
	Reason string
	// Clock is optional; if nil, uses the real clock
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default()
	Logger *log.Logger
}

// NewCheckpointFlusher creates a new CheckpointFlusher.
func NewCheckpointFlusher(cfg CheckpointFlusherConfig) *CheckpointFlusher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	reason := cfg.Reason
	if reason == "" {
		reason = "periodic_flush"
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	name := cfg.Name
	if name == "" {
		if m, ok := cfg.Manager.(*Manager); ok {
			name = m.Name()
		}
	}
	return &CheckpointFlusher{
		manager:  cfg.Manager,
		store:    cfg.Store,
		name:     name,
		interval: cfg.Interval,
		keepLast: cfg.KeepLast,
		reason:   reason,
		clock:    clock,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run starts the periodic flushing loop. It blocks until the context is
// cancelled or Stop() is called, flushing once more before returning.
func (f *CheckpointFlusher) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	defer func() {
		close(f.doneCh)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	if f.interval <= 0 {
		f.logger.Printf("[CheckpointFlusher] interval is zero or negative, not starting")
		return nil
	}

	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Printf("[CheckpointFlusher] started: grid=%s interval=%v keep_last=%d", f.name, f.interval, f.keepLast)

	for {
		select {
		case <-ctx.Done():
			f.logger.Printf("[CheckpointFlusher] stopping due to context cancellation")
			f.flushWithReason("final_flush")
			return nil
		case <-f.stopCh:
			f.logger.Printf("[CheckpointFlusher] stopping due to Stop() call")
			f.flushWithReason("final_flush")
			return nil
		case <-ticker.C():
			f.flush()
		}
	}
}

// Stop requests the flusher to stop and waits for the final flush. It is
// safe to call multiple times.
func (f *CheckpointFlusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	doneCh := f.doneCh
	f.mu.Unlock()

	<-doneCh
}

// IsRunning returns whether the flusher is currently running.
func (f *CheckpointFlusher) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// FlushNow triggers an immediate flush outside the regular interval.
func (f *CheckpointFlusher) FlushNow() {
	f.flush()
}

func (f *CheckpointFlusher) flush() {
	f.flushWithReason(f.reason)
}

func (f *CheckpointFlusher) flushWithReason(reason string) {
	if f.manager == nil || f.store == nil {
		return
	}
	if err := f.manager.Persist(f.store, reason); err != nil {
		f.logger.Printf("[CheckpointFlusher] error flushing (%s): %v", reason, err)
		return
	}
	f.logger.Printf("[CheckpointFlusher] grid %s flushed (%s)", f.name, reason)

	if f.keepLast <= 0 || f.name == "" {
		return
	}
	p, ok := f.store.(Pruner)
	if !ok {
		return
	}
	n, err := p.PruneSnapshots(f.name, f.keepLast)
	if err != nil {
		f.logger.Printf("[CheckpointFlusher] error pruning grid %s: %v", f.name, err)
	} else if n > 0 {
		f.logger.Printf("[CheckpointFlusher] pruned %d old snapshots of grid %s", n, f.name)
	}
}
