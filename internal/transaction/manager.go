// Package transaction implements the store's transaction manager: it
// buffers a transaction's writes (both document payloads and the index
// deltas they imply) so nothing becomes visible to other transactions
// until Commit, then durably logs and applies them together.
package transaction

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kartikbazzad/docbase/internal/wal"
	"github.com/kartikbazzad/docbase/mvcc"
)

// Status is the lifecycle state of a Transaction.
type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

// IndexOp is a deferred index mutation queued by the collection layer while
// a transaction is open. It is only invoked once the transaction's writes
// have been durably logged, and never if the transaction rolls back.
type IndexOp func() error

// Transaction tracks one in-flight unit of work: its buffered key/value
// writes (read-your-own-writes visible only to this transaction), the index
// mutations those writes imply, and the MVCC snapshot it reads through.
type Transaction struct {
	ID             uint64
	Status         Status
	IsolationLevel mvcc.IsolationLevel
	WriteSet       map[string][]byte
	Deleted        map[string]bool
	Snapshot       *mvcc.Snapshot

	mu       sync.Mutex
	indexOps []IndexOp
}

// QueueIndexOp stages an index mutation to run at commit time, after the
// transaction's writes are durably logged. Queued ops run in the order
// they were added. Each op acquires whatever locks it needs itself when it
// runs; the collection layer's ops take their collection's lock and then
// update that collection's indexes one at a time, never holding two index
// locks together.
func (t *Transaction) QueueIndexOp(op IndexOp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indexOps = append(t.indexOps, op)
}

// stageWrite buffers a key/value write, invisible to every other transaction
// until Commit.
func (t *Transaction) stageWrite(key string, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.Deleted, key)
	t.WriteSet[key] = value
}

func (t *Transaction) stageDelete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.WriteSet, key)
	t.Deleted[key] = true
}

// readOwn returns a buffered write or delete marker for key, if any.
func (t *Transaction) readOwn(key string) (value []byte, deleted bool, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Deleted[key] {
		return nil, true, true
	}
	if v, ok := t.WriteSet[key]; ok {
		return v, false, true
	}
	return nil, false, false
}

// Manager coordinates transaction lifecycles: snapshot assignment via MVCC,
// write-ahead logging of buffered writes at commit time, and ordered
// application of queued index mutations once a commit is durable.
type Manager struct {
	snapshotMgr *mvcc.SnapshotManager
	wal         *wal.WAL
	committer   *wal.GroupCommitter

	nextID atomic.Uint64
	mu     sync.RWMutex
	active map[uint64]*Transaction
}

// NewTransactionManager creates a transaction manager writing to w and
// assigning snapshots via sm. No GroupCommitter is set: until SetCommitter
// is called, Commit makes its write durable with a direct wal.Sync().
func NewTransactionManager(sm *mvcc.SnapshotManager, w *wal.WAL) *Manager {
	return &Manager{
		snapshotMgr: sm,
		wal:         w,
		active:      make(map[uint64]*Transaction),
	}
}

// SetCommitter wires a GroupCommitter (typically built from the store's
// configured FsyncConfig) so Commit's durability wait honors it instead of
// calling wal.Sync() directly.
func (m *Manager) SetCommitter(c *wal.GroupCommitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committer = c
}

// Begin starts a new transaction at the given isolation level.
func (m *Manager) Begin(level mvcc.IsolationLevel) (*Transaction, error) {
	id := m.nextID.Add(1)
	snap := m.snapshotMgr.BeginSnapshot(id, level)

	txn := &Transaction{
		ID:             id,
		Status:         StatusActive,
		IsolationLevel: level,
		WriteSet:       make(map[string][]byte),
		Deleted:        make(map[string]bool),
		Snapshot:       snap,
	}

	m.mu.Lock()
	m.active[id] = txn
	m.mu.Unlock()

	return txn, nil
}

// Write buffers a key/value write for txn.
func (m *Manager) Write(txn *Transaction, key string, value []byte) error {
	if txn.Status != StatusActive {
		return fmt.Errorf("transaction %d is not active", txn.ID)
	}
	txn.stageWrite(key, value)
	return nil
}

// Delete buffers a key deletion for txn.
func (m *Manager) Delete(txn *Transaction, key string) error {
	if txn.Status != StatusActive {
		return fmt.Errorf("transaction %d is not active", txn.ID)
	}
	txn.stageDelete(key)
	return nil
}

// Read returns the buffered value for key within txn, satisfying
// read-your-own-writes. It does not consult any storage below the
// transaction layer — callers fall back to the collection's committed
// storage when it returns an error.
func (m *Manager) Read(txn *Transaction, key string) ([]byte, error) {
	value, deleted, found := txn.readOwn(key)
	if !found {
		return nil, fmt.Errorf("key not found in transaction write set: %s", key)
	}
	if deleted {
		return nil, fmt.Errorf("key deleted in transaction: %s", key)
	}
	return value, nil
}

// Commit durably logs every buffered write, waits for it to be flushed per
// the configured fsync cadence, then applies queued index mutations and
// marks the transaction committed. Index mutations run only after the WAL
// record is durable, so a crash between logging and index application is
// recovered by WAL replay rather than leaving indexes silently stale.
func (m *Manager) Commit(txn *Transaction) error {
	if txn.Status != StatusActive {
		return fmt.Errorf("transaction %d is not active", txn.ID)
	}

	var lastLSN wal.LSN
	for key, value := range txn.WriteSet {
		lsn, err := m.wal.Append(&wal.Record{
			TxnID: txn.ID,
			Type:  wal.RecordTypeInsert,
			Key:   []byte(key),
			Value: value,
		})
		if err != nil {
			return fmt.Errorf("failed to log write: %w", err)
		}
		lastLSN = lsn
	}
	for key := range txn.Deleted {
		lsn, err := m.wal.Append(&wal.Record{
			TxnID: txn.ID,
			Type:  wal.RecordTypeDelete,
			Key:   []byte(key),
		})
		if err != nil {
			return fmt.Errorf("failed to log delete: %w", err)
		}
		lastLSN = lsn
	}

	commitLSN, err := m.wal.Append(&wal.Record{
		TxnID:   txn.ID,
		Type:    wal.RecordTypeCommit,
		PrevLSN: lastLSN,
	})
	if err != nil {
		return fmt.Errorf("failed to log commit marker: %w", err)
	}

	if err := m.sync(commitLSN); err != nil {
		return fmt.Errorf("failed to durably commit: %w", err)
	}

	txn.mu.Lock()
	ops := txn.indexOps
	txn.indexOps = nil
	txn.mu.Unlock()

	for _, op := range ops {
		if err := op(); err != nil {
			return fmt.Errorf("failed to apply index mutation after commit: %w", err)
		}
	}

	txn.Status = StatusCommitted
	m.snapshotMgr.CommitTransaction(txn.ID)
	m.snapshotMgr.ReleaseSnapshot(txn.Snapshot)

	m.mu.Lock()
	delete(m.active, txn.ID)
	m.mu.Unlock()

	return nil
}

func (m *Manager) sync(lsn wal.LSN) error {
	m.mu.RLock()
	committer := m.committer
	m.mu.RUnlock()

	if committer != nil {
		return committer.Commit(lsn)
	}
	return m.wal.Sync()
}

// Rollback discards every buffered write and queued index mutation without
// applying any of them, and marks the transaction aborted.
func (m *Manager) Rollback(txn *Transaction) error {
	if txn.Status != StatusActive {
		return fmt.Errorf("transaction %d is not active", txn.ID)
	}

	txn.mu.Lock()
	txn.WriteSet = make(map[string][]byte)
	txn.Deleted = make(map[string]bool)
	txn.indexOps = nil
	txn.mu.Unlock()

	txn.Status = StatusAborted
	m.snapshotMgr.AbortTransaction(txn.ID)
	m.snapshotMgr.ReleaseSnapshot(txn.Snapshot)

	m.mu.Lock()
	delete(m.active, txn.ID)
	m.mu.Unlock()

	return nil
}

// ReadSnapshot takes an MVCC snapshot for a read-only operation that has no
// transaction of its own (e.g. a query run outside any explicit
// BeginTransaction). It reuses the reserved transaction id 0, which Begin
// never assigns. Id 0 is marked active only between the BeginSnapshot and
// CommitTransaction calls below, so a snapshot taken concurrently in that
// window can list it in ActiveTxns. Callers must release it with
// ReleaseSnapshot.
func (m *Manager) ReadSnapshot(level mvcc.IsolationLevel) *mvcc.Snapshot {
	snap := m.snapshotMgr.BeginSnapshot(0, level)
	m.snapshotMgr.CommitTransaction(0)
	return snap
}

// ReleaseSnapshot releases a snapshot obtained from ReadSnapshot.
func (m *Manager) ReleaseSnapshot(snap *mvcc.Snapshot) {
	m.snapshotMgr.ReleaseSnapshot(snap)
}

// GetActiveTransactionCount returns the number of transactions currently
// open (neither committed nor rolled back).
func (m *Manager) GetActiveTransactionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Close stops the manager's group committer, if one was set.
func (m *Manager) Close() error {
	m.mu.RLock()
	committer := m.committer
	m.mu.RUnlock()
	if committer != nil {
		committer.Stop()
	}
	return nil
}
