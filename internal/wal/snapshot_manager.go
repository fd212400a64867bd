package wal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kartikbazzad/docbase/internal/config"
	"github.com/kartikbazzad/docbase/internal/dblog"
)

// CollectionSource gathers a consistent dump of every collection the
// database currently holds, for the SnapshotCoordinator to serialize. The
// database layer supplies this so the wal package never has to import it.
type CollectionSource func() []CollectionSnapshot

// SnapshotCoordinator drives the store's snapshot-then-truncate durability
// cycle: each time Snapshot is called (directly, or by the database once the
// WAL has grown past config.SnapshotConfig.MaxWALBytes) it asks the
// registered CollectionSource for a full dump, writes it to the snapshot
// directory, and truncates the WAL to the LSN the snapshot is consistent
// with. It runs no timer of its own.
type SnapshotCoordinator struct {
	dir    string
	wal    *WAL
	cfg    config.SnapshotConfig
	seq    atomic.Uint64
	mu     sync.Mutex
	source CollectionSource
}

// NewSnapshotCoordinator creates a coordinator writing snapshots under dir.
func NewSnapshotCoordinator(dir string, w *WAL, cfg config.SnapshotConfig) *SnapshotCoordinator {
	sc := &SnapshotCoordinator{dir: dir, wal: w, cfg: cfg}
	if _, seq, ok, err := LatestSnapshot(dir); err == nil && ok {
		sc.seq.Store(seq)
	}
	return sc
}

// SetSource registers the callback used to gather collection dumps. Must be
// called before Snapshot/MaybeSnapshot is ever invoked.
func (sc *SnapshotCoordinator) SetSource(source CollectionSource) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.source = source
}

// Snapshot unconditionally takes a new snapshot and truncates the WAL to it.
func (sc *SnapshotCoordinator) Snapshot(ctx context.Context) error {
	sc.mu.Lock()
	source := sc.source
	sc.mu.Unlock()
	if source == nil {
		return fmt.Errorf("snapshot coordinator: no collection source registered")
	}

	upToLSN := sc.wal.GetCurrentLSN()
	collections := source()

	seq := sc.seq.Add(1)
	path, err := WriteSnapshot(sc.dir, seq, upToLSN, collections)
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	dblog.Info(ctx, "wrote snapshot", "path", path, "sequence", seq, "up_to_lsn", uint64(upToLSN))

	if err := sc.wal.Truncate(upToLSN); err != nil {
		return fmt.Errorf("failed to truncate WAL after snapshot: %w", err)
	}

	if err := PruneSnapshots(sc.dir, seq); err != nil {
		dblog.Warn(ctx, "failed to prune old snapshots", "error", err)
	}

	return nil
}

// ShouldSnapshot reports whether the current WAL size warrants a new
// snapshot, per the configured MaxWALBytes threshold.
func (sc *SnapshotCoordinator) ShouldSnapshot() bool {
	if sc.cfg.MaxWALBytes <= 0 {
		return false
	}
	return sc.wal.ApproxSize() >= sc.cfg.MaxWALBytes
}

// Restore loads the most recent snapshot, if any, returning ok=false when
// the snapshot directory is empty (a brand new database).
func (sc *SnapshotCoordinator) Restore() (Manifest, []CollectionSnapshot, bool, error) {
	path, seq, ok, err := LatestSnapshot(sc.dir)
	if err != nil || !ok {
		return Manifest{}, nil, false, err
	}
	sc.seq.Store(seq)
	manifest, collections, err := ReadSnapshot(path)
	if err != nil {
		return Manifest{}, nil, false, err
	}
	return manifest, collections, true, nil
}
