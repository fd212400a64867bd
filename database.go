// Package docbase implements an embeddable document database.
//
// Key Features:
//   - ACID transactions via MVCC (Multi-Version Concurrency Control)
//   - Write-ahead logging (WAL) for durability and crash recovery
//   - Periodic snapshotting with WAL truncation
//   - Pluggable schema validation with foreign-key-like references
//   - A Mongo-operator style query engine over in-memory indexes
//
// Architecture:
//  1. Database: the main entry point coordinating every subsystem.
//  2. Collection: manages documents and their associated indexes.
//  3. internal/transaction.Manager: buffers writes until commit.
//  4. mvcc: version chains and snapshot isolation for non-blocking reads.
//  5. internal/wal: durability via write-ahead logging and snapshotting.
//  6. storage: the in-memory document and index representations.
package docbase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kartikbazzad/docbase/internal/config"
	"github.com/kartikbazzad/docbase/internal/dblog"
	"github.com/kartikbazzad/docbase/internal/transaction"
	"github.com/kartikbazzad/docbase/internal/wal"
	"github.com/kartikbazzad/docbase/mvcc"
	"github.com/kartikbazzad/docbase/schema"
	"github.com/kartikbazzad/docbase/security"
	"github.com/kartikbazzad/docbase/storage"
)

// Database is the central coordinator for every subsystem: storage,
// indexes, transactions, WAL and snapshotting, and schema validation.
type Database struct {
	path string

	walWriter   *wal.WAL
	committer   *wal.GroupCommitter
	snapshotter *wal.SnapshotCoordinator
	versionMgr  *mvcc.VersionManager
	snapshotMgr *mvcc.SnapshotManager
	txnMgr      *transaction.Manager
	metadataMgr *MetadataManager
	schemas     *schema.Registry
	audit       *dblog.AuditLogger
	encryptor   *security.Encryptor

	collections  map[string]*Collection
	groupIndexes map[string]*GroupIndex

	mu     sync.RWMutex
	closed bool
}

// GroupIndex is a cross-collection index over every collection whose name
// matches Pattern, keyed by Field — the store's collection-group query
// feature (see EnsureGroupIndex/FindInGroup).
type GroupIndex struct {
	Pattern string
	Field   string
	Index   *storage.OrderedIndex
}

// Options configures a database instance.
type Options struct {
	// Path is the directory the database persists to.
	Path string

	// WALPath for write-ahead log segments (default: Path/wal).
	WALPath string

	// SnapshotPath for periodic full-state snapshots (default: Path/snapshots).
	SnapshotPath string

	// MetadataPath for the system catalog (default: Path/system_catalog.json).
	MetadataPath string

	// AuditLogPath for the mutation audit trail (default: Path/audit.log).
	// Empty disables audit logging.
	AuditLogPath string

	// EncryptionKey enables AES-256-GCM at-rest encryption of snapshot
	// payloads when set (must be exactly security.KeySize bytes).
	EncryptionKey []byte

	// Fsync controls the WAL's durability/throughput tradeoff.
	Fsync config.FsyncConfig

	// Snapshot controls when the WAL is checkpointed to a snapshot file.
	Snapshot config.SnapshotConfig

	// SchemaValidation controls the validation engine's behavior (fail-fast
	// vs. collect-all, max recursion depth).
	SchemaValidation schema.Options
}

// DefaultOptions returns sensible defaults for a database rooted at path.
func DefaultOptions(path string) *Options {
	return &Options{
		Path:             path,
		WALPath:          filepath.Join(path, "wal"),
		SnapshotPath:     filepath.Join(path, "snapshots"),
		MetadataPath:     filepath.Join(path, "system_catalog.json"),
		AuditLogPath:     filepath.Join(path, "audit.log"),
		Fsync:            config.DefaultFsyncConfig(),
		Snapshot:         config.DefaultSnapshotConfig(),
		SchemaValidation: schema.Options{FailFast: false, MaxDepth: schema.DefaultMaxDepth},
	}
}

// Open opens (or creates) a database at the given path with the provided
// options. It restores the system catalog, replays/restores from the most
// recent snapshot if one exists, and wires up every subsystem.
func Open(opts *Options) (*Database, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}

	walWriter, err := wal.NewWAL(opts.WALPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAL: %w", err)
	}

	metaPath := opts.MetadataPath
	if metaPath == "" {
		metaPath = filepath.Join(opts.Path, "system_catalog.json")
	}
	metadataMgr, err := NewMetadataManager(metaPath)
	if err != nil {
		walWriter.Close()
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	var encryptor *security.Encryptor
	if len(opts.EncryptionKey) > 0 {
		encryptor, err = security.NewEncryptor(opts.EncryptionKey)
		if err != nil {
			walWriter.Close()
			return nil, fmt.Errorf("failed to init encryptor: %w", err)
		}
	}

	versionMgr := mvcc.NewVersionManager()
	snapshotMgr := mvcc.NewSnapshotManager(versionMgr)
	txnMgr := transaction.NewTransactionManager(snapshotMgr, walWriter)
	committer := wal.NewGroupCommitter(walWriter, opts.Fsync)
	txnMgr.SetCommitter(committer)

	snapshotPath := opts.SnapshotPath
	if snapshotPath == "" {
		snapshotPath = filepath.Join(opts.Path, "snapshots")
	}
	snapshotter := wal.NewSnapshotCoordinator(snapshotPath, walWriter, opts.Snapshot)

	var audit *dblog.AuditLogger
	if opts.AuditLogPath != "" {
		audit, err = dblog.NewAuditLogger(opts.AuditLogPath)
		if err != nil {
			walWriter.Close()
			return nil, fmt.Errorf("failed to init audit logger: %w", err)
		}
	} else {
		audit = dblog.DiscardAuditLogger()
	}

	db := &Database{
		path:         opts.Path,
		walWriter:    walWriter,
		committer:    committer,
		snapshotter:  snapshotter,
		versionMgr:   versionMgr,
		snapshotMgr:  snapshotMgr,
		txnMgr:       txnMgr,
		metadataMgr:  metadataMgr,
		schemas:      schema.NewRegistry(opts.SchemaValidation),
		audit:        audit,
		encryptor:    encryptor,
		collections:  make(map[string]*Collection),
		groupIndexes: make(map[string]*GroupIndex),
	}
	snapshotter.SetSource(db.collectionSnapshots)

	if err := db.restore(); err != nil {
		walWriter.Close()
		return nil, fmt.Errorf("failed to restore database state: %w", err)
	}

	return db, nil
}

// restore rebuilds in-memory collections from the most recent snapshot (if
// any) and the system catalog, then reconnects collection-group indexes.
func (db *Database) restore() error {
	manifest, snaps, ok, err := db.snapshotter.Restore()
	if err != nil {
		return fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	if ok {
		if err := db.decryptSnapshotRecords(snaps); err != nil {
			return fmt.Errorf("failed to decrypt snapshot: %w", err)
		}
		for _, snap := range snaps {
			coll, err := newCollectionFromSnapshot(db, snap)
			if err != nil {
				return fmt.Errorf("failed to restore collection %s: %w", snap.Name, err)
			}
			db.collections[coll.name] = coll
		}
		dblog.Info(context.Background(), "restored from snapshot", "sequence", manifest.Sequence, "up_to_lsn", manifest.UpToLSN)
	}

	for _, name := range db.metadataMgr.ListCollections() {
		if _, exists := db.collections[name]; exists {
			continue
		}
		meta, _ := db.metadataMgr.GetCollection(name)
		coll, err := newCollectionFromMeta(db, meta)
		if err != nil {
			return fmt.Errorf("failed to rebuild collection %s: %w", name, err)
		}
		db.collections[name] = coll
	}

	for _, meta := range db.metadataMgr.ListGroupIndexes() {
		db.groupIndexes[groupIndexKey(meta.Pattern, meta.Field)] = &GroupIndex{
			Pattern: meta.Pattern,
			Field:   meta.Field,
			Index:   storage.NewOrderedIndex(),
		}
	}
	db.relinkGroupIndexesLocked()

	return nil
}

func groupIndexKey(pattern, field string) string {
	return pattern + "::" + field
}

func (db *Database) relinkGroupIndexesLocked() {
	for _, coll := range db.collections {
		coll.linkedGroupIndexes = nil
		for _, gi := range db.groupIndexes {
			if matched, _ := filepath.Match(gi.Pattern, coll.name); matched {
				coll.linkedGroupIndexes = append(coll.linkedGroupIndexes, GroupIndexLink{Index: gi, Field: gi.Field})
			}
		}
	}
}

// collectionSnapshots gathers a consistent dump of every collection for the
// snapshot coordinator. Called with no locks held by the coordinator, so it
// takes its own read lock over the collection registry.
func (db *Database) collectionSnapshots() []wal.CollectionSnapshot {
	db.mu.RLock()
	colls := make([]*Collection, 0, len(db.collections))
	for _, c := range db.collections {
		colls = append(colls, c)
	}
	db.mu.RUnlock()

	out := make([]wal.CollectionSnapshot, 0, len(colls))
	for _, c := range colls {
		snap := c.snapshot()
		if db.encryptor != nil {
			for i, rec := range snap.Records {
				enc, err := db.encryptor.EncryptBlock(rec)
				if err != nil {
					dblog.Error(context.Background(), "failed to encrypt snapshot record, writing in clear", "collection", snap.Name, "error", err)
					continue
				}
				snap.Records[i] = enc
			}
		}
		out = append(out, snap)
	}
	return out
}

// decryptSnapshotRecords reverses collectionSnapshots' per-record
// encryption in place before the records reach newCollectionFromSnapshot.
func (db *Database) decryptSnapshotRecords(collections []wal.CollectionSnapshot) error {
	if db.encryptor == nil {
		return nil
	}
	for i := range collections {
		for j, rec := range collections[i].Records {
			plain, err := db.encryptor.DecryptBlock(rec)
			if err != nil {
				return fmt.Errorf("failed to decrypt snapshot record in %s: %w", collections[i].Name, err)
			}
			collections[i].Records[j] = plain
		}
	}
	return nil
}

// CreateCollection creates a new, empty collection.
func (db *Database) CreateCollection(name string) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, fmt.Errorf("database is closed")
	}
	if _, exists := db.collections[name]; exists {
		return nil, fmt.Errorf("collection %s already exists", name)
	}

	coll := newCollection(db, name)
	db.collections[name] = coll
	db.relinkGroupIndexesLocked()

	if err := db.metadataMgr.UpdateCollection(name, nil); err != nil {
		delete(db.collections, name)
		return nil, fmt.Errorf("failed to persist collection metadata: %w", err)
	}

	db.audit.Log(dblog.MutationCollectionCreate, name, "", 0, nil)
	return coll, nil
}

// GetCollection returns an existing collection.
func (db *Database) GetCollection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, fmt.Errorf("database is closed")
	}
	coll, exists := db.collections[name]
	if !exists {
		return nil, fmt.Errorf("collection %s does not exist", name)
	}
	return coll, nil
}

// DropCollection removes a collection and its metadata.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return fmt.Errorf("database is closed")
	}
	if _, exists := db.collections[name]; !exists {
		return fmt.Errorf("collection %s does not exist", name)
	}

	delete(db.collections, name)
	db.schemas.Remove(name)
	db.relinkGroupIndexesLocked()

	if err := db.metadataMgr.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to delete collection metadata: %w", err)
	}
	db.audit.Log(dblog.MutationCollectionDrop, name, "", 0, nil)
	return nil
}

// SetValidationEnabled toggles whether collection enforces its registered
// schema on writes, without discarding the schema itself. It fails if
// collection has no registered schema.
func (db *Database) SetValidationEnabled(collection string, enabled bool) error {
	return db.schemas.SetValidationEnabled(collection, enabled)
}

// ValidateDocument checks value against collection's registered schema
// without writing it. id, if non-empty, is informational only and does
// not affect the result. A collection with no schema, or with validation
// disabled, always validates successfully.
func (db *Database) ValidateDocument(collection string, value map[string]interface{}, id string) error {
	return db.schemas.Validate(collection, value)
}

// GetStats summarizes the schemas currently registered across every
// collection: how many carry a schema, how many enforce it, and the
// oldest/newest schema creation timestamps.
func (db *Database) GetStats() schema.RegistryStats {
	return db.schemas.Stats()
}

// referencingRules returns every reference rule, across every collection,
// that targets collectionName.
func (db *Database) referencingRules(collectionName string) []ReferenceRule {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var rules []ReferenceRule
	for _, coll := range db.collections {
		for _, r := range coll.refRules {
			if r.TargetCollection == collectionName {
				rules = append(rules, r)
			}
		}
	}
	return rules
}

// checkReferentialRestrict fails a pending delete of collectionName/id if
// any restrict-mode reference still points at it. Runs before the delete is
// staged so the caller can abort atomically.
func (db *Database) checkReferentialRestrict(collectionName, id string) error {
	for _, r := range db.referencingRules(collectionName) {
		if r.OnDelete != onDeleteRestrict {
			continue
		}
		srcColl, err := db.GetCollection(r.SourceCollection)
		if err != nil {
			continue
		}
		if len(srcColl.scanByFieldValue(r.SourceField, id)) > 0 {
			return fmt.Errorf("%w: %s.%s still references %s/%s", ErrReferenceRestrictViolation, r.SourceCollection, r.SourceField, collectionName, id)
		}
	}
	return nil
}

// applyReferentialCascade runs cascade/set-null reference rules after a
// delete of collectionName/id has committed. Best-effort: each affected
// document is updated in its own transaction, separate from the delete that
// triggered it, so a crash partway through leaves some referencing documents
// not yet cleaned up rather than the original delete being undone.
func (db *Database) applyReferentialCascade(collectionName, id string) {
	for _, r := range db.referencingRules(collectionName) {
		if r.OnDelete == onDeleteRestrict {
			continue
		}
		srcColl, err := db.GetCollection(r.SourceCollection)
		if err != nil {
			continue
		}
		for _, doc := range srcColl.scanByFieldValue(r.SourceField, id) {
			docID, _ := doc.GetID()
			switch r.OnDelete {
			case onDeleteCascade:
				_ = srcColl.Delete(string(docID))
			case onDeleteSetNull:
				_ = srcColl.Patch(string(docID), map[string]interface{}{r.SourceField: nil})
			}
		}
	}
}

// ListCollections returns the names of every collection.
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	return names
}

// ListCollectionsWithPrefix returns collection names starting with prefix.
func (db *Database) ListCollectionsWithPrefix(prefix string) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0)
	for name := range db.collections {
		if prefix == "" || strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names
}

// BeginTransaction starts a new transaction at the given isolation level.
func (db *Database) BeginTransaction(level mvcc.IsolationLevel) (*transaction.Transaction, error) {
	if db.IsClosed() {
		return nil, fmt.Errorf("database is closed")
	}
	return db.txnMgr.Begin(level)
}

// CommitTransaction commits a transaction started with BeginTransaction.
func (db *Database) CommitTransaction(txn *transaction.Transaction) error {
	if db.IsClosed() {
		return fmt.Errorf("database is closed")
	}
	return db.txnMgr.Commit(txn)
}

// RollbackTransaction rolls back a transaction started with BeginTransaction.
func (db *Database) RollbackTransaction(txn *transaction.Transaction) error {
	if db.IsClosed() {
		return fmt.Errorf("database is closed")
	}
	return db.txnMgr.Rollback(txn)
}

// Snapshot forces an immediate snapshot-and-truncate cycle, independent of
// the configured size/interval thresholds.
func (db *Database) Snapshot(ctx context.Context) error {
	return db.snapshotter.Snapshot(ctx)
}

// MaybeSnapshot takes a snapshot only if the WAL has grown past the
// configured threshold; callers typically run this after each commit or on
// a periodic background tick.
func (db *Database) MaybeSnapshot(ctx context.Context) error {
	if !db.snapshotter.ShouldSnapshot() {
		return nil
	}
	return db.snapshotter.Snapshot(ctx)
}

// IsClosed reports whether the database has been closed.
func (db *Database) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Close flushes and closes every subsystem. The database is unusable after
// Close returns.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return fmt.Errorf("database already closed")
	}
	db.closed = true

	if err := db.txnMgr.Close(); err != nil {
		return fmt.Errorf("failed to close transaction manager: %w", err)
	}
	if err := db.walWriter.Close(); err != nil {
		return fmt.Errorf("failed to close WAL: %w", err)
	}
	if err := db.audit.Close(); err != nil {
		return fmt.Errorf("failed to close audit log: %w", err)
	}
	return nil
}

// EnsureGroupIndex creates a collection-group index: a single ordered index
// spanning every collection whose name matches pattern (a filepath.Match
// glob), keyed on field. Existing matching collections are backfilled.
func (db *Database) EnsureGroupIndex(pattern, field string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return fmt.Errorf("database is closed")
	}

	key := groupIndexKey(pattern, field)
	if _, exists := db.groupIndexes[key]; exists {
		return nil
	}

	gi := &GroupIndex{Pattern: pattern, Field: field, Index: storage.NewOrderedIndex()}
	for _, coll := range db.collections {
		matched, _ := filepath.Match(pattern, coll.name)
		if !matched {
			continue
		}
		coll.backfillGroupIndex(gi)
	}

	db.groupIndexes[key] = gi
	db.relinkGroupIndexesLocked()

	if err := db.metadataMgr.UpdateGroupIndex(pattern, field); err != nil {
		return fmt.Errorf("failed to persist group index metadata: %w", err)
	}
	return nil
}

// FindInGroup executes an equality lookup across every collection matching
// pattern, using a collection-group index when the query names an indexed
// field and falling back to a scatter-gather scan otherwise.
func (db *Database) FindInGroup(pattern string, queryMap map[string]interface{}) ([]storage.Document, error) {
	var gi *GroupIndex
	var value interface{}

	db.mu.RLock()
	for k, v := range queryMap {
		if idx, ok := db.groupIndexes[groupIndexKey(pattern, k)]; ok {
			gi, value = idx, v
			break
		}
	}
	db.mu.RUnlock()

	if gi == nil {
		return db.scanGroup(pattern, queryMap)
	}

	valBytes := encodeIndexValue(value)
	startKey := append(append([]byte{}, valBytes...), 0x00)
	endKey := append(append([]byte{}, startKey...), 0xFF)

	entries, err := gi.Index.RangeScan(startKey, endKey)
	if err != nil {
		return nil, fmt.Errorf("group index scan failed: %w", err)
	}

	var results []storage.Document
	for _, entry := range entries {
		parts := strings.SplitN(string(entry.Value), "\x00", 2)
		if len(parts) != 2 {
			continue
		}
		collName, docID := parts[0], parts[1]

		coll, err := db.GetCollection(collName)
		if err != nil {
			continue
		}
		doc, err := coll.FindByID(nil, docID)
		if err != nil {
			continue
		}
		results = append(results, doc)
	}
	return results, nil
}

// scanGroup performs a scatter-gather query across every matching collection.
func (db *Database) scanGroup(pattern string, queryMap map[string]interface{}) ([]storage.Document, error) {
	var results []storage.Document
	for _, name := range db.ListCollections() {
		matched, _ := filepath.Match(pattern, name)
		if !matched {
			continue
		}
		coll, err := db.GetCollection(name)
		if err != nil {
			continue
		}
		docs, err := coll.FindQuery(nil, queryMap)
		if err != nil {
			continue
		}
		results = append(results, docs...)
	}
	return results, nil
}
