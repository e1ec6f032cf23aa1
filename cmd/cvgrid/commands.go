package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/cvgrid/internal/config"
	"github.com/banshee-data/cvgrid/internal/db"
	"github.com/banshee-data/cvgrid/internal/grid"
	"github.com/banshee-data/cvgrid/internal/gridplot"
	"github.com/banshee-data/cvgrid/internal/restart"
	"github.com/banshee-data/cvgrid/internal/version"
)

func openDB(cfg *config.GridConfig, opts *options) (*db.DB, error) {
	path := opts.dbPath
	if path == "" {
		path = cfg.GetDBPath()
	}
	return db.NewDB(path)
}

// openManager builds the configured grid, optionally restores it from the
// latest checkpoint, records the run and registers the manager.
func openManager(cfg *config.GridConfig, store *db.DB, restore bool) (*grid.Manager, *db.Run, error) {
	geom, err := cfg.Geometry()
	if err != nil {
		return nil, nil, err
	}
	runID := db.NewRunID()
	mgr, err := grid.NewManager(grid.ManagerConfig{
		Name:        cfg.GetName(),
		Grid:        grid.NewWithGeometry(geom),
		Compression: cfg.GetCompression(),
		RunID:       runID,
	})
	if err != nil {
		return nil, nil, err
	}

	r := &db.Run{
		RunID:            runID,
		GridName:         cfg.GetName(),
		StartedUnixNanos: time.Now().UnixNano(),
		Version:          version.Version,
	}
	if restore {
		ok, err := mgr.Restore(store)
		switch {
		case err != nil && cfg.GetRestoreRequired():
			return nil, nil, fmt.Errorf("restore grid %s: %w", cfg.GetName(), err)
		case err != nil:
			log.Printf("Restore of grid %s failed, starting empty: %v", cfg.GetName(), err)
		case ok:
			r.ResumedFrom = mgr.LastSnapshotID()
		case cfg.GetRestoreRequired():
			return nil, nil, fmt.Errorf("no checkpoint for grid %s and restore_required is set", cfg.GetName())
		}
	}
	if err := store.StartRun(r); err != nil {
		return nil, nil, err
	}
	grid.RegisterManager(mgr)
	return mgr, r, nil
}

func newFlusher(cfg *config.GridConfig, mgr *grid.Manager, store *db.DB, reason string) *grid.CheckpointFlusher {
	return grid.NewCheckpointFlusher(grid.CheckpointFlusherConfig{
		Manager:  mgr,
		Store:    store,
		Interval: cfg.GetFlushInterval(),
		KeepLast: cfg.GetKeepLast(),
		Reason:   reason,
	})
}

// loadSnapshot reads the requested snapshot, or the latest for the grid.
func loadSnapshot(store *db.DB, name string, id int64) (*grid.Snapshot, error) {
	var (
		snap *grid.Snapshot
		err  error
	)
	if id > 0 {
		snap, err = store.GetSnapshotByID(id)
	} else {
		snap, err = store.GetLatestSnapshot(name)
	}
	if err != nil {
		return nil, err
	}
	if snap == nil {
		if id > 0 {
			return nil, fmt.Errorf("snapshot %d not found", id)
		}
		return nil, fmt.Errorf("no snapshot for grid %s", name)
	}
	return snap, nil
}

// openSnapshotGrid is the common prologue of the read-only modes.
func openSnapshotGrid(opts *options) (*db.DB, *grid.Snapshot, *grid.Grid, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := openDB(cfg, opts)
	if err != nil {
		return nil, nil, nil, err
	}
	snap, err := loadSnapshot(store, cfg.GetName(), opts.snapshotID)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	g, err := snap.Decode()
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("decode snapshot %d: %w", *snap.SnapshotID, err)
	}
	return store, snap, g, nil
}

func runInit(opts *options, stdout io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.out != "" {
		if err := cfg.WriteJSON(opts.out); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(stdout, "Wrote config to %s\n", opts.out)
	}

	store, err := openDB(cfg, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr, r, err := openManager(cfg, store, cfg.GetRestore())
	if err != nil {
		return err
	}
	defer grid.UnregisterManager(mgr.Name())

	if r.ResumedFrom != nil {
		fmt.Fprintf(stdout, "grid=%s run=%s resumed_from=%d\n", mgr.Name(), r.RunID, *r.ResumedFrom)
		return nil
	}
	newFlusher(cfg, mgr, store, "init").FlushNow()
	id := mgr.LastSnapshotID()
	if id == nil {
		return fmt.Errorf("initial checkpoint of grid %s was not written", mgr.Name())
	}
	fmt.Fprintf(stdout, "grid=%s run=%s snapshot=%d\n", mgr.Name(), r.RunID, *id)
	return nil
}

func runDump(opts *options, stdout io.Writer) error {
	store, _, g, err := openSnapshotGrid(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.out == "" {
		return g.Dump(stdout)
	}
	f, err := os.Create(opts.out)
	if err != nil {
		return err
	}
	if err := g.Dump(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runExport(opts *options, stdout io.Writer) error {
	if opts.out == "" {
		return fmt.Errorf("export needs -out")
	}
	store, snap, g, err := openSnapshotGrid(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	var data []byte
	switch strings.ToLower(filepath.Ext(opts.out)) {
	case ".txt":
		data, err = g.Serialize()
	case ".pb":
		data = g.EncodeWire()
	default:
		data, err = g.MarshalBinary()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.out, data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Exported snapshot %d of grid %s to %s (%d bytes)\n", *snap.SnapshotID, snap.GridName, opts.out, len(data))
	return nil
}

func runImport(opts *options, stdout io.Writer) error {
	if opts.in == "" {
		return fmt.Errorf("import needs -in")
	}
	data, err := os.ReadFile(opts.in)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	store, err := openDB(cfg, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr, _, err := openManager(cfg, store, false)
	if err != nil {
		return err
	}
	defer grid.UnregisterManager(mgr.Name())

	// Resolve through the registry the way an engine plugin would.
	target, err := grid.LookupManager(cfg.GetName())
	if err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(opts.in))
	err = target.Update(func(g *grid.Grid) (int, error) {
		var err error
		switch ext {
		case ".txt":
			err = g.Load(data)
		case ".pb":
			err = g.LoadWire(data)
		default:
			err = g.UnmarshalBinary(data)
		}
		if err != nil {
			return 0, err
		}
		return g.Len(), nil
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", opts.in, err)
	}

	newFlusher(cfg, target, store, "import").FlushNow()
	id := target.LastSnapshotID()
	if id == nil {
		return fmt.Errorf("checkpoint of imported grid %s was not written", target.Name())
	}
	fmt.Fprintf(stdout, "Imported %s into grid %s as snapshot %d\n", opts.in, target.Name(), *id)
	return nil
}

func runStats(opts *options, stdout io.Writer) error {
	store, snap, g, err := openSnapshotGrid(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	report := struct {
		Grid       string           `json:"grid"`
		SnapshotID int64            `json:"snapshot_id"`
		RunID      string           `json:"run_id"`
		Reason     string           `json:"reason"`
		Dimensions []grid.Dimension `json:"dimensions"`
		Summary    grid.Summary     `json:"summary"`
	}{
		Grid:       snap.GridName,
		SnapshotID: *snap.SnapshotID,
		RunID:      snap.RunID,
		Reason:     snap.SnapshotReason,
		Dimensions: g.Geometry().Dims(),
		Summary:    g.Summary(),
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	recent, err := store.ListRecentSnapshots(snap.GridName, 10)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTAKEN\tREASON\tCHANGED\tBYTES")
	for _, s := range recent {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n", *s.SnapshotID,
			time.Unix(0, s.TakenUnixNanos).UTC().Format(time.RFC3339), s.SnapshotReason, s.ChangedCellsCount, len(s.GridBlob))
	}
	return tw.Flush()
}

func runPlot(opts *options, stdout io.Writer) error {
	if opts.out == "" {
		return fmt.Errorf("plot needs -out")
	}
	axes, err := parseInts(opts.dims)
	if err != nil {
		return err
	}
	if len(axes) != 2 {
		return fmt.Errorf("-dims needs exactly two dimensions, got %q", opts.dims)
	}
	fixed, err := parseInts(opts.fix)
	if err != nil {
		return err
	}

	store, snap, g, err := openSnapshotGrid(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	plane, err := gridplot.Slice(g, axes[0], axes[1], fixed)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s snapshot %d", snap.GridName, *snap.SnapshotID)
	if strings.ToLower(filepath.Ext(opts.out)) == ".html" {
		f, err := os.Create(opts.out)
		if err != nil {
			return err
		}
		if err := gridplot.RenderHeatmapHTML(f, plane, title); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	} else if err := gridplot.SaveHeatmapPNG(plane, title, opts.out); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s\n", opts.out)
	return nil
}

func runFilterScript(opts *options, stdout io.Writer) error {
	if opts.in == "" {
		return fmt.Errorf("filter-script needs -in")
	}
	f, err := os.Open(opts.in)
	if err != nil {
		return err
	}
	defer f.Close()
	return restart.Replay(f, opts.resume, func(line string) error {
		_, err := fmt.Fprintln(stdout, line)
		return err
	})
}

// runWatch keeps the configured grid registered and checkpoints it on the
// flush interval until SIGINT/SIGTERM or -for elapses. A script given with
// -in is printed as the engine would replay it, filtered as a resume when
// the grid came back from a checkpoint.
func runWatch(opts *options, stdout io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.GetFlushInterval() <= 0 {
		return fmt.Errorf("watch needs a positive checkpoint.flush_interval")
	}
	store, err := openDB(cfg, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr, r, err := openManager(cfg, store, cfg.GetRestore())
	if err != nil {
		return err
	}
	defer grid.UnregisterManager(mgr.Name())

	if opts.in != "" {
		f, err := os.Open(opts.in)
		if err != nil {
			return err
		}
		err = restart.Replay(f, r.ResumedFrom != nil, func(line string) error {
			_, err := fmt.Fprintln(stdout, line)
			return err
		})
		f.Close()
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	fmt.Fprintf(stdout, "Watching grid=%s run=%s interval=%s\n", mgr.Name(), r.RunID, cfg.GetFlushInterval())
	if err := newFlusher(cfg, mgr, store, "periodic_flush").Run(ctx); err != nil {
		return err
	}
	id := mgr.LastSnapshotID()
	if id == nil {
		return fmt.Errorf("final checkpoint of grid %s was not written", mgr.Name())
	}
	fmt.Fprintf(stdout, "grid=%s run=%s snapshot=%d\n", mgr.Name(), r.RunID, *id)
	return nil
}
