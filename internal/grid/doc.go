// Package grid owns the discretized collective-variable field.
//
// Responsibilities: coordinate to index mapping over bounded, optionally
// periodic axes, flat strided storage of one value and one gradient per
// cell, deterministic dumps, binary and wire snapshots, and the Manager
// that serializes access while a flusher checkpoints the field.
// Key types: Geometry, Grid, Manager, Snapshot, CheckpointFlusher.
//
// Grid itself performs no locking. Callers sharing a Grid between the
// sampling loop and a checkpoint goroutine go through Manager.
//
// No SQL/database code is allowed in this package; persistence happens
// through the SnapshotStore and RestoreStore interfaces.
package grid
