package docbase

import (
	"fmt"

	"github.com/kartikbazzad/docbase/internal/query"
	"github.com/kartikbazzad/docbase/internal/query/sql"
	"github.com/kartikbazzad/docbase/mvcc"
	"github.com/kartikbazzad/docbase/storage"
)

// QueryResult is what RunSQL returns: SELECT populates Rows, the mutating
// statements populate RowsAffected.
type QueryResult struct {
	Rows         []storage.Document
	RowsAffected int
}

// RunSQL parses and executes a single SELECT, INSERT, UPDATE, DELETE or
// CREATE COLLECTION statement against db. Each statement runs in its own
// transaction; there is no multi-statement scripting or joins/subqueries.
func RunSQL(db *Database, stmt string) (*QueryResult, error) {
	q, err := sql.Parse(stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse statement: %w", err)
	}

	switch stmt := q.(type) {
	case *sql.SelectQuery:
		return runSelect(db, stmt)
	case *sql.InsertQuery:
		return runInsert(db, stmt)
	case *sql.UpdateQuery:
		return runUpdate(db, stmt)
	case *sql.DeleteQuery:
		return runDelete(db, stmt)
	case *sql.CreateQuery:
		return runCreate(db, stmt)
	default:
		return nil, fmt.Errorf("unsupported statement type %T", q)
	}
}

func runSelect(db *Database, q *sql.SelectQuery) (*QueryResult, error) {
	coll, err := db.GetCollection(q.From)
	if err != nil {
		return nil, err
	}

	txn, err := db.BeginTransaction(mvcc.ReadCommitted)
	if err != nil {
		return nil, err
	}

	var it Iterator
	it, err = NewTableScanIterator(coll, txn)
	if err != nil {
		db.RollbackTransaction(txn)
		return nil, err
	}
	if q.Where != nil {
		it = NewFilterIterator(it, &sqlMatcher{cond: q.Where})
	}
	if len(q.OrderBy) > 0 {
		ob := q.OrderBy[0]
		it = NewSortIterator(it, ob.Field, ob.Desc)
	}
	if q.Offset != nil {
		it = NewSkipIterator(it, *q.Offset)
	}
	if q.Limit != nil {
		it = NewLimitIterator(it, *q.Limit)
	}
	it = NewProjectIterator(it, projectedFields(q.Fields))

	var rows []storage.Document
	for it.Next() {
		doc, err := it.Value()
		if err != nil {
			it.Close()
			db.RollbackTransaction(txn)
			return nil, err
		}
		rows = append(rows, doc)
	}
	it.Close()

	if err := db.CommitTransaction(txn); err != nil {
		return nil, err
	}
	return &QueryResult{Rows: rows}, nil
}

func projectedFields(fields []sql.Field) []ProjectedField {
	for _, f := range fields {
		if f.All {
			return nil
		}
	}
	out := make([]ProjectedField, 0, len(fields))
	for _, f := range fields {
		out = append(out, ProjectedField{Source: f.Name, Alias: f.Alias})
	}
	return out
}

func runInsert(db *Database, q *sql.InsertQuery) (*QueryResult, error) {
	coll, err := db.GetCollection(q.Into)
	if err != nil {
		return nil, err
	}
	doc := make(storage.Document, len(q.Fields))
	for i, field := range q.Fields {
		doc[field] = q.Values[i]
	}
	if _, err := coll.Insert(doc); err != nil {
		return nil, err
	}
	return &QueryResult{RowsAffected: 1}, nil
}

func runUpdate(db *Database, q *sql.UpdateQuery) (*QueryResult, error) {
	coll, err := db.GetCollection(q.Table)
	if err != nil {
		return nil, err
	}

	txn, err := db.BeginTransaction(mvcc.ReadCommitted)
	if err != nil {
		return nil, err
	}
	tableScan, err := NewTableScanIterator(coll, txn)
	if err != nil {
		db.RollbackTransaction(txn)
		return nil, err
	}

	var matched []storage.Document
	var scan Iterator = tableScan
	if q.Where != nil {
		scan = NewFilterIterator(scan, &sqlMatcher{cond: q.Where})
	}
	for scan.Next() {
		doc, err := scan.Value()
		if err != nil {
			continue
		}
		matched = append(matched, doc)
	}
	scan.Close()
	if err := db.CommitTransaction(txn); err != nil {
		return nil, err
	}

	patch := make(map[string]interface{}, len(q.Set))
	for _, a := range q.Set {
		patch[a.Field] = a.Value
	}

	affected := 0
	for _, doc := range matched {
		id, ok := doc.GetID()
		if !ok {
			continue
		}
		if err := coll.Patch(string(id), patch); err != nil {
			return nil, err
		}
		affected++
	}
	return &QueryResult{RowsAffected: affected}, nil
}

func runDelete(db *Database, q *sql.DeleteQuery) (*QueryResult, error) {
	coll, err := db.GetCollection(q.From)
	if err != nil {
		return nil, err
	}

	txn, err := db.BeginTransaction(mvcc.ReadCommitted)
	if err != nil {
		return nil, err
	}
	var scan Iterator
	scan, err = NewTableScanIterator(coll, txn)
	if err != nil {
		db.RollbackTransaction(txn)
		return nil, err
	}
	if q.Where != nil {
		scan = NewFilterIterator(scan, &sqlMatcher{cond: q.Where})
	}

	var ids []string
	for scan.Next() {
		doc, err := scan.Value()
		if err != nil {
			continue
		}
		if id, ok := doc.GetID(); ok {
			ids = append(ids, string(id))
		}
	}
	scan.Close()
	if err := db.CommitTransaction(txn); err != nil {
		return nil, err
	}

	affected := 0
	for _, id := range ids {
		if err := coll.Delete(id); err != nil {
			return nil, err
		}
		affected++
	}
	return &QueryResult{RowsAffected: affected}, nil
}

func runCreate(db *Database, q *sql.CreateQuery) (*QueryResult, error) {
	if _, err := db.CreateCollection(q.CollectionName); err != nil {
		return nil, err
	}
	return &QueryResult{RowsAffected: 1}, nil
}

// sqlMatcher adapts a sql.Condition tree to the query.Matcher interface the
// iterator pipeline's FilterIterator expects.
type sqlMatcher struct {
	cond sql.Condition
}

func (m *sqlMatcher) Matches(doc map[string]interface{}) bool {
	return evalCondition(storage.Document(doc), m.cond)
}

func evalCondition(doc storage.Document, cond sql.Condition) bool {
	switch c := cond.(type) {
	case *sql.Comparison:
		return evalComparison(doc, c)
	case *sql.And:
		return evalCondition(doc, c.Left) && evalCondition(doc, c.Right)
	case *sql.Or:
		return evalCondition(doc, c.Left) || evalCondition(doc, c.Right)
	case *sql.Not:
		return !evalCondition(doc, c.Inner)
	case *sql.Parenthesized:
		return evalCondition(doc, c.Inner)
	default:
		return false
	}
}

func evalComparison(doc storage.Document, c *sql.Comparison) bool {
	actual, exists := doc.Get(c.Field)

	switch c.Operator {
	case sql.OpIsNull:
		return !exists || actual == nil
	case sql.OpIsNotNull:
		return exists && actual != nil
	case sql.OpIn:
		return exists && query.Compare(actual, query.OpIn, c.Values)
	case sql.OpNotIn:
		return !exists || !query.Compare(actual, query.OpIn, c.Values)
	case sql.OpLike:
		return exists && query.Compare(actual, query.OpLike, c.Value)
	case sql.OpNotLike:
		return !exists || !query.Compare(actual, query.OpLike, c.Value)
	}

	if !exists {
		return false
	}
	switch c.Operator {
	case sql.OpEqual:
		return query.Compare(actual, query.OpEq, c.Value)
	case sql.OpNotEqual:
		return query.Compare(actual, query.OpNe, c.Value)
	case sql.OpGreaterThan:
		return query.Compare(actual, query.OpGt, c.Value)
	case sql.OpGreaterThanOrEqual:
		return query.Compare(actual, query.OpGte, c.Value)
	case sql.OpLessThan:
		return query.Compare(actual, query.OpLt, c.Value)
	case sql.OpLessThanOrEqual:
		return query.Compare(actual, query.OpLte, c.Value)
	default:
		return false
	}
}
