// Package config holds the ambient configuration types shared by the WAL and
// top-level Options: fsync cadence and (optional) external schema-file
// watching. The FsyncMode/FsyncConfig shape follows the sibling docdb
// module's internal/config package.
package config

import "time"

// FsyncMode selects how aggressively the WAL syncs to stable storage.
type FsyncMode int

const (
	// FsyncAlways syncs after every appended record (safest, slowest).
	FsyncAlways FsyncMode = iota
	// FsyncGroup batches syncs via group commit (recommended default).
	FsyncGroup
	// FsyncInterval syncs on a fixed timer regardless of record count.
	FsyncInterval
	// FsyncNone never syncs explicitly; relies on OS buffering only.
	FsyncNone
)

func (m FsyncMode) String() string {
	switch m {
	case FsyncAlways:
		return "always"
	case FsyncGroup:
		return "group"
	case FsyncInterval:
		return "interval"
	case FsyncNone:
		return "none"
	default:
		return "unknown"
	}
}

// FsyncConfig configures the WAL's sync strategy.
type FsyncConfig struct {
	Mode         FsyncMode
	Interval     time.Duration // sync period for FsyncInterval; longest wait for a FsyncGroup batch
	MaxBatchSize int           // used when Mode == FsyncGroup
}

// DefaultFsyncConfig batches commits with group commit, matching the
// teacher's GroupCommitter defaults.
func DefaultFsyncConfig() FsyncConfig {
	return FsyncConfig{
		Mode:         FsyncGroup,
		Interval:     10 * time.Millisecond,
		MaxBatchSize: 100,
	}
}

// SnapshotConfig controls when the WAL is checkpointed to a snapshot file.
type SnapshotConfig struct {
	// MaxWALBytes is the live WAL size past which Database.MaybeSnapshot
	// takes a snapshot; nothing calls MaybeSnapshot automatically.
	MaxWALBytes int64
	// Interval is carried in the configuration but no component reads it:
	// no snapshot is ever taken on a timer.
	Interval time.Duration
}

// DefaultSnapshotConfig checkpoints every 64MB of WAL growth.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		MaxWALBytes: 64 * 1024 * 1024,
		Interval:    0,
	}
}
