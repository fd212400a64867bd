package docbase

import (
	"fmt"
	"sort"

	"github.com/kartikbazzad/docbase/internal/query"
	"github.com/kartikbazzad/docbase/internal/transaction"
	"github.com/kartikbazzad/docbase/storage"
)

// Iterator is the common cursor surface every scan and pipeline stage
// (filter, sort, skip, limit) implements: Next advances, Value retrieves.
type Iterator interface {
	Next() bool
	Value() (storage.Document, error)
	Close() error
}

// TableScanIterator walks every document id the collection has ever seen,
// in id order, fetching each through FindByID so MVCC visibility and
// tombstones are honored per entry.
type TableScanIterator struct {
	collection   *Collection
	txn          *transaction.Transaction
	docIDs       []string
	currentIndex int
}

func NewTableScanIterator(c *Collection, txn *transaction.Transaction) (*TableScanIterator, error) {
	startKey := []byte{0x00}
	endKey := maxIndexBound

	c.mu.RLock()
	entries, err := c.ids.RangeScan(startKey, endKey)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, string(entry.Value))
	}

	return &TableScanIterator{
		collection:   c,
		txn:          txn,
		docIDs:       ids,
		currentIndex: -1,
	}, nil
}

func (it *TableScanIterator) Next() bool {
	it.currentIndex++
	return it.currentIndex < len(it.docIDs)
}

func (it *TableScanIterator) Value() (storage.Document, error) {
	if it.currentIndex < 0 || it.currentIndex >= len(it.docIDs) {
		return nil, fmt.Errorf("iterator out of bounds")
	}
	return it.collection.FindByID(it.txn, it.docIDs[it.currentIndex])
}

func (it *TableScanIterator) Close() error {
	return nil
}

// IndexScanIterator walks a secondary index's entries within [startKey,
// endKey), yielding the documents they point to.
type IndexScanIterator struct {
	collection   *Collection
	txn          *transaction.Transaction
	docIDs       []string
	currentIndex int
}

func NewIndexScanIterator(c *Collection, txn *transaction.Transaction, field string, startKey, endKey []byte) (*IndexScanIterator, error) {
	c.mu.RLock()
	handle, ok := c.indexes[field]
	if !ok {
		c.mu.RUnlock()
		return nil, fmt.Errorf("index not found for field: %s", field)
	}
	entries, err := handle.Index.RangeScan(startKey, endKey)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, string(entry.Value))
	}

	return &IndexScanIterator{
		collection:   c,
		txn:          txn,
		docIDs:       ids,
		currentIndex: -1,
	}, nil
}

func (it *IndexScanIterator) Next() bool {
	it.currentIndex++
	return it.currentIndex < len(it.docIDs)
}

func (it *IndexScanIterator) Value() (storage.Document, error) {
	if it.currentIndex < 0 || it.currentIndex >= len(it.docIDs) {
		return nil, fmt.Errorf("iterator out of bounds")
	}
	return it.collection.FindByID(it.txn, it.docIDs[it.currentIndex])
}

func (it *IndexScanIterator) Close() error {
	return nil
}

// FilterIterator yields only the source documents a query.Matcher accepts.
type FilterIterator struct {
	source  Iterator
	matcher query.Matcher
	current storage.Document
}

func NewFilterIterator(source Iterator, matcher query.Matcher) *FilterIterator {
	return &FilterIterator{source: source, matcher: matcher}
}

func (it *FilterIterator) Next() bool {
	for it.source.Next() {
		doc, err := it.source.Value()
		if err != nil {
			continue
		}
		if it.matcher.Matches(doc) {
			it.current = doc
			return true
		}
	}
	return false
}

func (it *FilterIterator) Value() (storage.Document, error) {
	return it.current, nil
}

func (it *FilterIterator) Close() error {
	return it.source.Close()
}

// LimitIterator stops after yielding limit documents.
type LimitIterator struct {
	source Iterator
	limit  int
	count  int
}

func NewLimitIterator(source Iterator, limit int) *LimitIterator {
	return &LimitIterator{source: source, limit: limit}
}

func (it *LimitIterator) Next() bool {
	if it.count >= it.limit {
		return false
	}
	if it.source.Next() {
		it.count++
		return true
	}
	return false
}

func (it *LimitIterator) Value() (storage.Document, error) {
	return it.source.Value()
}

func (it *LimitIterator) Close() error {
	return it.source.Close()
}

// SkipIterator discards the first skip documents from source.
type SkipIterator struct {
	source  Iterator
	skip    int
	skipped bool
}

func NewSkipIterator(source Iterator, skip int) *SkipIterator {
	return &SkipIterator{source: source, skip: skip}
}

func (it *SkipIterator) Next() bool {
	if !it.skipped {
		for i := 0; i < it.skip; i++ {
			if !it.source.Next() {
				return false
			}
		}
		it.skipped = true
	}
	return it.source.Next()
}

func (it *SkipIterator) Value() (storage.Document, error) {
	return it.source.Value()
}

func (it *SkipIterator) Close() error {
	return it.source.Close()
}

// ProjectIterator narrows each source document down to a chosen set of
// fields, applying aliases, for SQL SELECT field lists. A nil fields slice
// (SELECT *) passes documents through unchanged.
type ProjectIterator struct {
	source Iterator
	fields []ProjectedField
}

// ProjectedField names one output field: Source is the document key to
// read, Alias (if non-empty) is the key to write it under in the result.
type ProjectedField struct {
	Source string
	Alias  string
}

func NewProjectIterator(source Iterator, fields []ProjectedField) *ProjectIterator {
	return &ProjectIterator{source: source, fields: fields}
}

func (it *ProjectIterator) Next() bool {
	return it.source.Next()
}

func (it *ProjectIterator) Value() (storage.Document, error) {
	doc, err := it.source.Value()
	if err != nil {
		return nil, err
	}
	if it.fields == nil {
		return doc, nil
	}
	projected := make(storage.Document, len(it.fields)+1)
	if id, ok := doc.GetID(); ok {
		projected.SetID(id)
	}
	for _, f := range it.fields {
		name := f.Alias
		if name == "" {
			name = f.Source
		}
		if v, ok := doc.Get(f.Source); ok {
			projected[name] = v
		}
	}
	return projected, nil
}

func (it *ProjectIterator) Close() error {
	return it.source.Close()
}

// SortIterator buffers every document from source, sorts by field, then
// replays them in order. Sorting requires seeing the whole result set, so
// unlike the other stages it can't stream.
type SortIterator struct {
	source    Iterator
	sortField string
	desc      bool
	docs      []storage.Document
	index     int
	prepared  bool
}

func NewSortIterator(source Iterator, field string, desc bool) *SortIterator {
	return &SortIterator{source: source, sortField: field, desc: desc, index: -1}
}

func (it *SortIterator) Next() bool {
	if !it.prepared {
		for it.source.Next() {
			doc, err := it.source.Value()
			if err == nil {
				it.docs = append(it.docs, doc)
			}
		}
		it.source.Close()

		if it.sortField != "" {
			sort.Slice(it.docs, func(i, j int) bool {
				valA := it.docs[i][it.sortField]
				valB := it.docs[j][it.sortField]
				result := query.CompareValues(valA, valB)
				if it.desc {
					return result > 0
				}
				return result < 0
			})
		}
		it.prepared = true
	}

	it.index++
	return it.index < len(it.docs)
}

func (it *SortIterator) Value() (storage.Document, error) {
	if it.index < 0 || it.index >= len(it.docs) {
		return nil, fmt.Errorf("iterator out of bounds")
	}
	return it.docs[it.index], nil
}

func (it *SortIterator) Close() error {
	it.docs = nil
	return nil
}
