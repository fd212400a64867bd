package docbase

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/docbase/internal/dblog"
	"github.com/kartikbazzad/docbase/internal/query"
	"github.com/kartikbazzad/docbase/internal/transaction"
	"github.com/kartikbazzad/docbase/internal/util"
	"github.com/kartikbazzad/docbase/internal/wal"
	"github.com/kartikbazzad/docbase/mvcc"
	"github.com/kartikbazzad/docbase/schema"
	"github.com/kartikbazzad/docbase/storage"
)

// Collection is a named grouping of documents sharing an optional schema and
// zero or more secondary indexes. Each document's history lives as an
// append-only MVCC version chain so concurrent readers under an older
// snapshot keep seeing a consistent view while writers proceed.
type Collection struct {
	name string
	db   *Database

	mu      sync.RWMutex
	chains  map[storage.DocumentID]*mvcc.Version
	ids     *storage.OrderedIndex // "_id" ordering: key=id bytes, value=id bytes
	indexes map[string]*IndexHandle

	schemaDef *schema.Definition
	refRules  []ReferenceRule

	linkedGroupIndexes []GroupIndexLink
}

// IndexHandle is a named secondary index plus whether it enforces
// uniqueness.
type IndexHandle struct {
	Index  storage.Index
	Field  string
	Unique bool
}

// GroupIndexLink is a collection's back-reference to a GroupIndex it feeds,
// because the collection's name matched the index's pattern.
type GroupIndexLink struct {
	Index *GroupIndex
	Field string
}

func newCollection(db *Database, name string) *Collection {
	return &Collection{
		name:    name,
		db:      db,
		chains:  make(map[storage.DocumentID]*mvcc.Version),
		ids:     storage.NewOrderedIndex(),
		indexes: make(map[string]*IndexHandle),
	}
}

// newCollectionFromMeta rebuilds an (empty, since no snapshot covered it)
// collection purely from system-catalog metadata: its schema text and index
// definitions. Used when a collection was created after the last snapshot
// but the process restarted before another one was taken — its documents
// are only recoverable via WAL replay, which the store leaves to a future
// recovery pass; see DESIGN.md.
func newCollectionFromMeta(db *Database, meta CollectionMeta) (*Collection, error) {
	c := newCollection(db, meta.Name)

	if meta.Schema != "" {
		def := &schema.Definition{}
		if err := def.UnmarshalJSON([]byte(meta.Schema)); err != nil {
			return nil, fmt.Errorf("failed to parse stored schema for %s: %w", meta.Name, err)
		}
		rules, err := referenceRulesFromSchema(meta.Name, def)
		if err != nil {
			return nil, err
		}
		c.schemaDef = def
		c.refRules = rules
		db.schemas.Set(meta.Name, def)
	}

	for _, im := range meta.Indexes {
		c.indexes[im.Field] = &IndexHandle{
			Index:  storage.NewIndex(storage.IndexKind(im.Kind)),
			Field:  im.Field,
			Unique: im.Unique,
		}
	}

	return c, nil
}

// newCollectionFromSnapshot rebuilds a collection, schema, indexes and all,
// from a previously written wal.CollectionSnapshot.
func newCollectionFromSnapshot(db *Database, snap wal.CollectionSnapshot) (*Collection, error) {
	c := newCollection(db, snap.Name)

	if len(snap.Schema) > 0 {
		def := &schema.Definition{}
		if err := def.UnmarshalJSON(snap.Schema); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot schema for %s: %w", snap.Name, err)
		}
		rules, err := referenceRulesFromSchema(snap.Name, def)
		if err != nil {
			return nil, err
		}
		c.schemaDef = def
		c.refRules = rules
		db.schemas.Set(snap.Name, def)
	}

	for _, idxDef := range snap.Indexes {
		c.indexes[idxDef.Field] = &IndexHandle{
			Index:  storage.NewIndex(storage.IndexKind(idxDef.Kind)),
			Field:  idxDef.Field,
			Unique: idxDef.Unique,
		}
	}

	for _, recBytes := range snap.Records {
		rec, err := storage.DeserializeRecord(recBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snapshot record in %s: %w", snap.Name, err)
		}

		c.chains[rec.ID] = &mvcc.Version{
			Timestamp: db.versionMgr.NewTimestamp(),
			Data:      recBytes,
		}
		c.ids.Insert([]byte(rec.ID), []byte(rec.ID))

		for field, h := range c.indexes {
			val, ok := rec.Data[field]
			if !ok {
				continue
			}
			if err := h.Index.Insert(compositeKey(val, string(rec.ID)), []byte(rec.ID)); err != nil {
				return nil, fmt.Errorf("failed to rebuild index %s for %s: %w", field, snap.Name, err)
			}
		}
	}

	return c, nil
}

// snapshot takes a consistent point-in-time dump of the collection for the
// snapshot coordinator. Tombstoned documents (soft-deleted, Data == nil) are
// omitted; expired ones are kept as-is and will simply expire again on
// restore, since pruning them here would need a wall-clock decision baked
// into a file meant to be replayed later.
func (c *Collection) snapshot() wal.CollectionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	indexes := make([]wal.IndexDef, 0, len(c.indexes))
	for field, h := range c.indexes {
		indexes = append(indexes, wal.IndexDef{Name: field, Field: field, Kind: byte(h.Index.Kind()), Unique: h.Unique})
	}

	records := make([][]byte, 0, len(c.chains))
	for _, head := range c.chains {
		if head.Data == nil {
			continue
		}
		records = append(records, head.Data)
	}

	var schemaBytes []byte
	if c.schemaDef != nil {
		b, err := c.schemaDef.MarshalJSON()
		if err == nil {
			schemaBytes = b
		}
	}

	return wal.CollectionSnapshot{Name: c.name, Schema: schemaBytes, Indexes: indexes, Records: records}
}

// backfillGroupIndex populates gi with every current document's value at
// gi.Field, used when a group index is created after the collection already
// holds data.
func (c *Collection) backfillGroupIndex(gi *GroupIndex) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, head := range c.chains {
		if head.Data == nil {
			continue
		}
		rec, err := storage.DeserializeRecord(head.Data)
		if err != nil {
			continue
		}
		val, ok := rec.Data[gi.Field]
		if !ok {
			continue
		}
		gi.Index.Insert(groupCompositeKey(val, c.name, string(id)), []byte(c.name+"\x00"+string(id)))
	}
}

// Name returns the collection's name.
func (c *Collection) Name() string {
	return c.name
}

// GetSchema returns the collection's registered schema, if any.
func (c *Collection) GetSchema() (*schema.Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schemaDef, c.schemaDef != nil
}

// SetSchema installs (or clears, with nil) the collection's schema, deriving
// and validating x-docbase-ref reference rules from it, then persists it to
// the system catalog. Once the collection holds documents its schema is
// locked against a breaking change: a caller must clear the collection (or
// set an equivalent schema) before replacing it, so existing documents are
// never left validated against a schema they were never checked against.
func (c *Collection) SetSchema(def *schema.Definition) error {
	rules, err := referenceRulesFromSchema(c.name, def)
	if err != nil {
		return err
	}

	var newJSON string
	if def != nil {
		b, err := def.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to serialize schema: %w", err)
		}
		newJSON = string(b)
	}

	c.mu.Lock()
	var oldJSON string
	if c.schemaDef != nil {
		if b, err := c.schemaDef.MarshalJSON(); err == nil {
			oldJSON = string(b)
		}
	}
	nonEmpty := false
	for _, head := range c.chains {
		if head.Data != nil {
			nonEmpty = true
			break
		}
	}
	if c.schemaDef != nil && nonEmpty {
		equal, err := SchemaEqual(oldJSON, newJSON)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("failed to compare schemas: %w", err)
		}
		if !equal {
			c.mu.Unlock()
			return ErrSchemaOverrideBlocked
		}
	}
	c.schemaDef = def
	c.refRules = rules
	c.mu.Unlock()

	c.db.schemas.Set(c.name, def)

	if err := c.db.metadataMgr.UpdateCollectionSchema(c.name, newJSON); err != nil {
		return fmt.Errorf("failed to persist schema: %w", err)
	}
	c.db.audit.Log(dblog.MutationSchemaChange, c.name, "", 0, nil)
	return nil
}

// checkReferences validates every x-docbase-ref field in doc against its
// target collection, failing closed (reference target not found) rather
// than silently allowing a dangling pointer.
func (c *Collection) checkReferences(doc storage.Document) error {
	for _, rule := range c.refRules {
		val, ok := doc[rule.SourceField]
		if !ok || val == nil {
			continue
		}
		target, err := normalizeReferenceValue(val)
		if err != nil {
			return fmt.Errorf("invalid reference value for %s: %w", rule.SourceField, err)
		}
		if target == "" {
			continue
		}

		targetColl, err := c.db.GetCollection(rule.TargetCollection)
		if err != nil {
			return fmt.Errorf("%w: %s.%s -> %s", ErrReferenceTargetNotFound, c.name, rule.SourceField, rule.TargetCollection)
		}
		if _, err := targetColl.FindByID(nil, target); err != nil {
			return fmt.Errorf("%w: %s.%s -> %s/%s", ErrReferenceTargetNotFound, c.name, rule.SourceField, rule.TargetCollection, target)
		}
	}
	return nil
}

// scanByFieldValue returns every currently-visible document whose field,
// normalized, equals value. Used for reference-restrict/cascade checks,
// which need every referencing document regardless of whether field is
// indexed.
func (c *Collection) scanByFieldValue(field, value string) []storage.Document {
	iter, err := NewTableScanIterator(c, nil)
	if err != nil {
		return nil
	}
	defer iter.Close()

	var out []storage.Document
	for iter.Next() {
		doc, err := iter.Value()
		if err != nil {
			continue
		}
		v, ok := doc[field]
		if !ok {
			continue
		}
		sv, err := normalizeReferenceValue(v)
		if err != nil || sv != value {
			continue
		}
		out = append(out, doc)
	}
	return out
}

// Insert adds doc as a new document, generating an id if one isn't already
// set, and commits it in its own transaction.
func (c *Collection) Insert(doc storage.Document) (storage.DocumentID, error) {
	return c.InsertTx(nil, doc)
}

// InsertTx adds doc within txn. Pass a nil txn to run it in its own
// transaction, committed before InsertTx returns.
func (c *Collection) InsertTx(txn *transaction.Transaction, doc storage.Document) (storage.DocumentID, error) {
	own := txn == nil
	var err error
	if own {
		txn, err = c.db.txnMgr.Begin(mvcc.ReadCommitted)
		if err != nil {
			return "", err
		}
	}

	id, hasID := doc.GetID()
	if !hasID || id == "" {
		id = storage.DocumentID(uuid.NewString())
		doc.SetID(id)
	}

	if err := c.db.schemas.Validate(c.name, map[string]interface{}(doc)); err != nil {
		c.abortIfOwn(txn, own)
		return "", err
	}
	if err := c.checkReferences(doc); err != nil {
		c.abortIfOwn(txn, own)
		return "", err
	}

	now := time.Now().UTC()
	rec := &storage.Record{ID: id, Data: doc, Version: 1, CreatedAt: now, UpdatedAt: now}
	data, err := rec.Serialize()
	if err != nil {
		c.abortIfOwn(txn, own)
		return "", fmt.Errorf("failed to serialize document: %w", err)
	}

	c.mu.Lock()
	if head, exists := c.chains[id]; exists && head.Data != nil {
		c.mu.Unlock()
		c.abortIfOwn(txn, own)
		return "", fmt.Errorf("%w: %s", util.ErrDocumentExists, id)
	}
	if err := c.checkUniqueLocked(doc, nil); err != nil {
		c.mu.Unlock()
		c.abortIfOwn(txn, own)
		return "", err
	}

	key := c.recordKey(id)
	if err := c.db.txnMgr.Write(txn, key, data); err != nil {
		c.mu.Unlock()
		c.abortIfOwn(txn, own)
		return "", fmt.Errorf("failed to buffer write: %w", err)
	}

	txnID := txn.ID
	txn.QueueIndexOp(func() error {
		return c.applyInsert(id, doc, data, txnID)
	})
	c.mu.Unlock()

	if own {
		if err := c.db.txnMgr.Commit(txn); err != nil {
			return "", err
		}
	}
	c.db.audit.Log(dblog.MutationInsert, c.name, string(id), txn.ID, nil)
	return id, nil
}

func (c *Collection) abortIfOwn(txn *transaction.Transaction, own bool) {
	if own {
		_ = c.db.txnMgr.Rollback(txn)
	}
}

func (c *Collection) recordKey(id storage.DocumentID) string {
	return c.name + "\x00" + string(id)
}

// checkUniqueLocked verifies doc doesn't collide with an existing document
// on any unique index. Callers must hold c.mu. oldDoc, if non-nil, is the
// document being replaced (its own matching value is not a collision).
func (c *Collection) checkUniqueLocked(doc, oldDoc storage.Document) error {
	for field, h := range c.indexes {
		if !h.Unique {
			continue
		}
		val, ok := doc[field]
		if !ok {
			continue
		}
		if oldDoc != nil {
			if oldVal, ok2 := oldDoc[field]; ok2 && fmt.Sprintf("%v", oldVal) == fmt.Sprintf("%v", val) {
				continue
			}
		}
		start, end := rangeForValue(val)
		entries, err := h.Index.RangeScan(start, end)
		if err != nil {
			continue
		}
		if len(entries) > 0 {
			return &util.UniqueConstraintViolation{Index: field, Key: fmt.Sprintf("%v", val)}
		}
	}
	return nil
}

// applyInsert runs after txn's write is durable: it links the new MVCC
// version and maintains every secondary and group index. Must acquire c.mu
// itself, since it runs outside the staging phase's lock.
func (c *Collection) applyInsert(id storage.DocumentID, doc storage.Document, data []byte, txnID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *mvcc.Version
	if head, exists := c.chains[id]; exists {
		next = head
	}
	c.chains[id] = &mvcc.Version{Timestamp: c.db.versionMgr.NewTimestamp(), Data: data, TxnID: txnID, Next: next}
	c.ids.Insert([]byte(id), []byte(id))

	for field, h := range c.indexes {
		if val, ok := doc[field]; ok {
			if err := h.Index.Insert(compositeKey(val, string(id)), []byte(id)); err != nil {
				return err
			}
		}
	}
	for _, link := range c.linkedGroupIndexes {
		if val, ok := doc[link.Field]; ok {
			link.Index.Index.Insert(groupCompositeKey(val, c.name, string(id)), []byte(c.name+"\x00"+string(id)))
		}
	}
	return nil
}

// FindByID retrieves a document by id. Pass the transaction it should read
// through (honoring that transaction's own buffered writes and snapshot),
// or nil to read the latest committed state.
func (c *Collection) FindByID(txn *transaction.Transaction, id string) (storage.Document, error) {
	docID := storage.DocumentID(id)

	if txn != nil {
		if data, err := c.db.txnMgr.Read(txn, c.recordKey(docID)); err == nil {
			rec, derr := storage.DeserializeRecord(data)
			if derr != nil {
				return nil, fmt.Errorf("failed to deserialize document: %w", derr)
			}
			return rec.View(), nil
		}
	}

	c.mu.RLock()
	head, exists := c.chains[docID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", util.ErrDocumentNotFound, id)
	}

	var ver *mvcc.Version
	if txn != nil {
		ver = txn.Snapshot.GetVisibleVersion(head)
	} else {
		snap := c.db.txnMgr.ReadSnapshot(mvcc.ReadCommitted)
		defer c.db.txnMgr.ReleaseSnapshot(snap)
		ver = snap.GetVisibleVersion(head)
	}
	if ver == nil || ver.Data == nil {
		return nil, fmt.Errorf("%w: %s", util.ErrDocumentNotFound, id)
	}

	rec, err := storage.DeserializeRecord(ver.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize document: %w", err)
	}
	if rec.Expired(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: %s", util.ErrDocumentNotFound, id)
	}
	return rec.View(), nil
}

// Update replaces a document's data wholesale, preserving its id.
func (c *Collection) Update(id string, doc storage.Document) error {
	return c.UpdateTx(nil, id, doc)
}

// UpdateTx replaces a document's data within txn (nil to auto-commit).
func (c *Collection) UpdateTx(txn *transaction.Transaction, id string, doc storage.Document) error {
	own := txn == nil
	var err error
	if own {
		txn, err = c.db.txnMgr.Begin(mvcc.ReadCommitted)
		if err != nil {
			return err
		}
	}

	doc.SetID(storage.DocumentID(id))
	if err := c.db.schemas.Validate(c.name, map[string]interface{}(doc)); err != nil {
		c.abortIfOwn(txn, own)
		return err
	}
	if err := c.checkReferences(doc); err != nil {
		c.abortIfOwn(txn, own)
		return err
	}

	existing, err := c.FindByID(txn, id)
	if err != nil {
		c.abortIfOwn(txn, own)
		return fmt.Errorf("document not found for update: %w", err)
	}

	c.mu.Lock()
	if err := c.checkUniqueLocked(doc, existing); err != nil {
		c.mu.Unlock()
		c.abortIfOwn(txn, own)
		return err
	}

	now := time.Now().UTC()
	data, err := c.buildUpdateRecord(storage.DocumentID(id), doc, now)
	if err != nil {
		c.mu.Unlock()
		c.abortIfOwn(txn, own)
		return fmt.Errorf("failed to serialize document: %w", err)
	}

	key := c.recordKey(storage.DocumentID(id))
	if err := c.db.txnMgr.Write(txn, key, data); err != nil {
		c.mu.Unlock()
		c.abortIfOwn(txn, own)
		return fmt.Errorf("failed to buffer write: %w", err)
	}

	txnID := txn.ID
	docID := storage.DocumentID(id)
	txn.QueueIndexOp(func() error {
		return c.applyUpdate(docID, doc, data, txnID)
	})
	c.mu.Unlock()

	if own {
		if err := c.db.txnMgr.Commit(txn); err != nil {
			return err
		}
	}
	c.db.audit.Log(dblog.MutationUpdate, c.name, id, txn.ID, nil)
	return nil
}

// buildUpdateRecord builds the next Record version, bumping Version and
// preserving CreatedAt/TTL from the current head. Caller must hold c.mu.
func (c *Collection) buildUpdateRecord(id storage.DocumentID, doc storage.Document, now time.Time) ([]byte, error) {
	version := uint64(1)
	createdAt := now
	var ttl *time.Time
	if head, exists := c.chains[id]; exists && head.Data != nil {
		if oldRec, err := storage.DeserializeRecord(head.Data); err == nil {
			version = oldRec.Version + 1
			createdAt = oldRec.CreatedAt
			ttl = oldRec.TTL
		}
	}
	rec := &storage.Record{ID: id, Data: doc, Version: version, CreatedAt: createdAt, UpdatedAt: now, TTL: ttl}
	return rec.Serialize()
}

// applyUpdate links the replaced version and maintains indexes, diffing
// against whatever the current head happens to be at apply time (not the
// value read during staging), since staging and apply can be separated by
// other committed writes.
func (c *Collection) applyUpdate(id storage.DocumentID, doc storage.Document, data []byte, txnID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var oldDoc storage.Document
	var next *mvcc.Version
	if head, exists := c.chains[id]; exists {
		next = head
		if head.Data != nil {
			if oldRec, err := storage.DeserializeRecord(head.Data); err == nil {
				oldDoc = oldRec.Data
			}
		}
	}

	c.chains[id] = &mvcc.Version{Timestamp: c.db.versionMgr.NewTimestamp(), Data: data, TxnID: txnID, Next: next}
	c.ids.Insert([]byte(id), []byte(id))

	for field, h := range c.indexes {
		var oldVal, newVal interface{}
		var hasOld, hasNew bool
		if oldDoc != nil {
			oldVal, hasOld = oldDoc[field]
		}
		newVal, hasNew = doc[field]

		changed := hasOld != hasNew || (hasOld && hasNew && fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", newVal))
		if !changed {
			continue
		}
		if hasOld {
			_ = h.Index.Delete(compositeKey(oldVal, string(id)))
		}
		if hasNew {
			if err := h.Index.Insert(compositeKey(newVal, string(id)), []byte(id)); err != nil {
				return err
			}
		}
	}

	for _, link := range c.linkedGroupIndexes {
		var oldVal, newVal interface{}
		var hasOld, hasNew bool
		if oldDoc != nil {
			oldVal, hasOld = oldDoc[link.Field]
		}
		newVal, hasNew = doc[link.Field]

		changed := hasOld != hasNew || (hasOld && hasNew && fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", newVal))
		if !changed {
			continue
		}
		if hasOld {
			_ = link.Index.Index.Delete(groupCompositeKey(oldVal, c.name, string(id)))
		}
		if hasNew {
			link.Index.Index.Insert(groupCompositeKey(newVal, c.name, string(id)), []byte(c.name+"\x00"+string(id)))
		}
	}
	return nil
}

// Patch applies a partial, dot-path update to an existing document.
func (c *Collection) Patch(id string, patch map[string]interface{}) error {
	return c.PatchTx(nil, id, patch)
}

// PatchTx applies patch within txn (nil to auto-commit).
func (c *Collection) PatchTx(txn *transaction.Transaction, id string, patch map[string]interface{}) error {
	current, err := c.FindByID(txn, id)
	if err != nil {
		return err
	}
	newDoc := current.Clone()
	if err := newDoc.ApplyPatch(patch); err != nil {
		return fmt.Errorf("failed to apply patch: %w", err)
	}
	newDoc.SetID(storage.DocumentID(id))
	return c.UpdateTx(txn, id, newDoc)
}

// Delete removes a document, enforcing any restrict reference rules before
// committing and applying cascade/set-null rules afterwards.
func (c *Collection) Delete(id string) error {
	return c.DeleteTx(nil, id)
}

// DeleteTx removes a document within txn (nil to auto-commit).
func (c *Collection) DeleteTx(txn *transaction.Transaction, id string) error {
	if err := c.db.checkReferentialRestrict(c.name, id); err != nil {
		return err
	}

	own := txn == nil
	var err error
	if own {
		txn, err = c.db.txnMgr.Begin(mvcc.ReadCommitted)
		if err != nil {
			return err
		}
	}

	key := c.recordKey(storage.DocumentID(id))
	if err := c.db.txnMgr.Delete(txn, key); err != nil {
		c.abortIfOwn(txn, own)
		return fmt.Errorf("failed to buffer delete: %w", err)
	}

	txnID := txn.ID
	docID := storage.DocumentID(id)
	txn.QueueIndexOp(func() error {
		return c.applyDelete(docID, txnID)
	})

	if own {
		if err := c.db.txnMgr.Commit(txn); err != nil {
			return err
		}
	}
	c.db.audit.Log(dblog.MutationDelete, c.name, id, txn.ID, nil)

	c.db.applyReferentialCascade(c.name, id)
	return nil
}

// applyDelete links a tombstone version (Data == nil) and removes the
// document's entries from every secondary and group index. It deliberately
// leaves the id in c.ids, since an older snapshot's table scan must still be
// able to reach the prior version through the chain.
func (c *Collection) applyDelete(id storage.DocumentID, txnID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, exists := c.chains[id]
	if !exists || head.Data == nil {
		return nil
	}

	oldRec, err := storage.DeserializeRecord(head.Data)
	if err == nil {
		for field, h := range c.indexes {
			if val, ok := oldRec.Data[field]; ok {
				_ = h.Index.Delete(compositeKey(val, string(id)))
			}
		}
		for _, link := range c.linkedGroupIndexes {
			if val, ok := oldRec.Data[link.Field]; ok {
				_ = link.Index.Index.Delete(groupCompositeKey(val, c.name, string(id)))
			}
		}
	}

	c.chains[id] = &mvcc.Version{Timestamp: c.db.versionMgr.NewTimestamp(), Data: nil, TxnID: txnID, Next: head}
	return nil
}

// InsertBatch inserts every document atomically in a single transaction.
func (c *Collection) InsertBatch(docs []storage.Document) ([]storage.DocumentID, error) {
	txn, err := c.db.txnMgr.Begin(mvcc.ReadCommitted)
	if err != nil {
		return nil, err
	}

	ids := make([]storage.DocumentID, 0, len(docs))
	for _, doc := range docs {
		id, err := c.InsertTx(txn, doc)
		if err != nil {
			_ = c.db.txnMgr.Rollback(txn)
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := c.db.txnMgr.Commit(txn); err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateBatch replaces every listed document atomically in a single
// transaction. docs must each already carry an _id.
func (c *Collection) UpdateBatch(docs []storage.Document) error {
	txn, err := c.db.txnMgr.Begin(mvcc.ReadCommitted)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		id, hasID := doc.GetID()
		if !hasID || id == "" {
			_ = c.db.txnMgr.Rollback(txn)
			return fmt.Errorf("document must have an id for update")
		}
		if err := c.UpdateTx(txn, string(id), doc); err != nil {
			_ = c.db.txnMgr.Rollback(txn)
			return err
		}
	}

	return c.db.txnMgr.Commit(txn)
}

// DeleteBatch removes every listed document atomically in a single
// transaction. Reference rules are still checked per document.
func (c *Collection) DeleteBatch(ids []string) error {
	txn, err := c.db.txnMgr.Begin(mvcc.ReadCommitted)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := c.DeleteTx(txn, id); err != nil {
			_ = c.db.txnMgr.Rollback(txn)
			return err
		}
	}

	return c.db.txnMgr.Commit(txn)
}

// List returns up to limit documents (0 means unbounded) after skipping the
// first skip, in document-id order (byte order of the ids); insertion order
// is not kept.
func (c *Collection) List(txn *transaction.Transaction, skip, limit int) ([]storage.Document, error) {
	iter, err := NewTableScanIterator(c, txn)
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var cur Iterator = iter
	if skip > 0 {
		cur = NewSkipIterator(cur, skip)
	}
	if limit > 0 {
		cur = NewLimitIterator(cur, limit)
	}

	var results []storage.Document
	for cur.Next() {
		doc, err := cur.Value()
		if err == nil {
			results = append(results, doc)
		}
	}
	return results, nil
}

// Count returns the number of live (non-deleted, non-expired) documents as
// of the latest committed state.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now().UTC()
	count := 0
	for _, head := range c.chains {
		if head.Data == nil {
			continue
		}
		rec, err := storage.DeserializeRecord(head.Data)
		if err != nil {
			continue
		}
		if rec.Expired(now) {
			continue
		}
		count++
	}
	return count
}

// EnsureIndex creates a secondary index over field, backfilling it from
// every currently live document, if one doesn't already exist.
func (c *Collection) EnsureIndex(field string, unique bool) error {
	if field == "_id" {
		return nil
	}

	c.mu.Lock()
	if _, exists := c.indexes[field]; exists {
		c.mu.Unlock()
		return nil
	}

	idx := storage.NewIndex(storage.KindOrdered)
	now := time.Now().UTC()
	for id, head := range c.chains {
		if head.Data == nil {
			continue
		}
		rec, err := storage.DeserializeRecord(head.Data)
		if err != nil || rec.Expired(now) {
			continue
		}
		if val, ok := rec.Data[field]; ok {
			if err := idx.Insert(compositeKey(val, string(id)), []byte(id)); err != nil {
				c.mu.Unlock()
				return fmt.Errorf("failed to backfill index %s: %w", field, err)
			}
		}
	}

	c.indexes[field] = &IndexHandle{Index: idx, Field: field, Unique: unique}
	metas := c.indexMetasLocked()
	c.mu.Unlock()

	dblog.Info(context.Background(), "index created", "collection", c.name, "field", field, "unique", unique)
	if err := c.db.metadataMgr.UpdateCollection(c.name, metas); err != nil {
		return fmt.Errorf("failed to persist index metadata: %w", err)
	}
	return nil
}

// DropIndex removes a secondary index.
func (c *Collection) DropIndex(field string) error {
	if field == "_id" {
		return fmt.Errorf("cannot drop primary index")
	}

	c.mu.Lock()
	if _, exists := c.indexes[field]; !exists {
		c.mu.Unlock()
		return fmt.Errorf("index not found for field: %s", field)
	}
	delete(c.indexes, field)
	metas := c.indexMetasLocked()
	c.mu.Unlock()

	return c.db.metadataMgr.UpdateCollection(c.name, metas)
}

func (c *Collection) indexMetasLocked() []IndexMeta {
	metas := make([]IndexMeta, 0, len(c.indexes))
	for field, h := range c.indexes {
		metas = append(metas, IndexMeta{Field: field, Kind: byte(h.Index.Kind()), Unique: h.Unique})
	}
	return metas
}

// ListIndexes returns the fields with a secondary index.
func (c *Collection) ListIndexes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.indexes))
	for field := range c.indexes {
		names = append(names, field)
	}
	return names
}

// Find performs an equality lookup on field, lazily creating a (non-unique)
// index for it if one doesn't exist yet.
func (c *Collection) Find(txn *transaction.Transaction, field string, value interface{}) ([]storage.Document, error) {
	if field == "_id" {
		doc, err := c.FindByID(txn, fmt.Sprintf("%v", value))
		if err != nil {
			return nil, err
		}
		return []storage.Document{doc}, nil
	}

	if err := c.EnsureIndex(field, false); err != nil {
		return nil, err
	}

	c.mu.RLock()
	h := c.indexes[field]
	c.mu.RUnlock()

	start, end := rangeForValue(value)
	entries, err := h.Index.RangeScan(start, end)
	if err != nil {
		return nil, fmt.Errorf("index scan failed: %w", err)
	}

	var docs []storage.Document
	for _, entry := range entries {
		doc, err := c.FindByID(txn, string(entry.Value))
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

var maxIndexBound = bytes.Repeat([]byte{0xFF}, 64)

// FindQuery executes a Mongo-operator-style query, using an index when the
// top-level query is a single indexed-field comparison and falling back to
// a full table scan otherwise.
func (c *Collection) FindQuery(txn *transaction.Transaction, queryMap map[string]interface{}, opts ...QueryOptions) ([]storage.Document, error) {
	skip, limit, sortField, sortDesc := 0, 0, "", false
	if len(opts) > 0 {
		skip, limit, sortField, sortDesc = opts[0].Skip, opts[0].Limit, opts[0].SortField, opts[0].SortDesc
	}

	node, err := query.Parse(queryMap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidQuery, err)
	}
	matcher, ok := node.(query.Matcher)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported query shape", util.ErrInvalidQuery)
	}

	iter, usedIndex := c.planScan(txn, node)
	if !usedIndex {
		tsIter, err := NewTableScanIterator(c, txn)
		if err != nil {
			return nil, fmt.Errorf("failed to create iterator: %w", err)
		}
		iter = tsIter
	}
	defer iter.Close()

	var cur Iterator = NewFilterIterator(iter, matcher)
	if sortField != "" {
		cur = NewSortIterator(cur, sortField, sortDesc)
	}
	if skip > 0 {
		cur = NewSkipIterator(cur, skip)
	}
	if limit > 0 {
		cur = NewLimitIterator(cur, limit)
	}

	var results []storage.Document
	for cur.Next() {
		doc, err := cur.Value()
		if err == nil {
			results = append(results, doc)
		}
	}
	return results, nil
}

// planScan attempts to satisfy a single top-level field comparison with an
// index scan, returning usedIndex=false if the query doesn't fit that shape
// or no index exists for the field.
func (c *Collection) planScan(txn *transaction.Transaction, node query.Node) (Iterator, bool) {
	logical, ok := node.(*query.LogicalNode)
	if !ok || logical.Operator != "$and" || len(logical.Children) != 1 {
		return nil, false
	}
	fNode, ok := logical.Children[0].(*query.FieldNode)
	if !ok {
		return nil, false
	}

	c.mu.RLock()
	_, hasIndex := c.indexes[fNode.Field]
	c.mu.RUnlock()
	if !hasIndex {
		return nil, false
	}

	var start, end []byte
	switch fNode.Operator {
	case query.OpEq:
		start, end = rangeForValue(fNode.Value)
	case query.OpGte:
		start = append([]byte{}, encodeIndexValue(fNode.Value)...)
		end = maxIndexBound
	case query.OpGt:
		_, exclusiveStart := rangeForValue(fNode.Value)
		start = exclusiveStart
		end = maxIndexBound
	case query.OpLte:
		_, inclusiveEnd := rangeForValue(fNode.Value)
		start = []byte{0x00}
		end = inclusiveEnd
	case query.OpLt:
		start = []byte{0x00}
		end = append([]byte{}, encodeIndexValue(fNode.Value)...)
	default:
		return nil, false
	}

	iter, err := NewIndexScanIterator(c, txn, fNode.Field, start, end)
	if err != nil {
		return nil, false
	}
	return iter, true
}
