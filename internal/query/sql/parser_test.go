package sql

import "testing"

func TestParseSelectBasic(t *testing.T) {
	q, err := Parse(`SELECT name, age FROM users WHERE age > 30 AND city = 'Berlin'`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sel, ok := q.(*SelectQuery)
	if !ok {
		t.Fatalf("expected *SelectQuery, got %T", q)
	}
	if sel.From != "users" {
		t.Errorf("expected from 'users', got %q", sel.From)
	}
	if len(sel.Fields) != 2 || sel.Fields[0].Name != "name" || sel.Fields[1].Name != "age" {
		t.Errorf("unexpected fields: %+v", sel.Fields)
	}
	and, ok := sel.Where.(*And)
	if !ok {
		t.Fatalf("expected top-level And, got %T", sel.Where)
	}
	left, ok := and.Left.(*Comparison)
	if !ok || left.Field != "age" || left.Operator != OpGreaterThan {
		t.Errorf("unexpected left condition: %+v", and.Left)
	}
	right, ok := and.Right.(*Comparison)
	if !ok || right.Field != "city" || right.Operator != OpEqual || right.Value != "Berlin" {
		t.Errorf("unexpected right condition: %+v", and.Right)
	}
}

func TestParseSelectWildcardOrderLimitOffset(t *testing.T) {
	q, err := Parse(`SELECT * FROM users ORDER BY age DESC LIMIT 10 OFFSET 5`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sel := q.(*SelectQuery)
	if len(sel.Fields) != 1 || !sel.Fields[0].All {
		t.Errorf("expected a single wildcard field, got %+v", sel.Fields)
	}
	if len(sel.OrderBy) != 1 || sel.OrderBy[0].Field != "age" || !sel.OrderBy[0].Desc {
		t.Errorf("unexpected order by: %+v", sel.OrderBy)
	}
	if sel.Limit == nil || *sel.Limit != 10 {
		t.Errorf("expected limit 10, got %v", sel.Limit)
	}
	if sel.Offset == nil || *sel.Offset != 5 {
		t.Errorf("expected offset 5, got %v", sel.Offset)
	}
}

func TestParseSelectFieldAlias(t *testing.T) {
	q, err := Parse(`SELECT name AS full_name FROM users`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sel := q.(*SelectQuery)
	if sel.Fields[0].Name != "name" || sel.Fields[0].Alias != "full_name" {
		t.Errorf("unexpected field: %+v", sel.Fields[0])
	}
}

func TestParseInsert(t *testing.T) {
	q, err := Parse(`INSERT INTO users (name, age) VALUES ('John', 30)`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	ins, ok := q.(*InsertQuery)
	if !ok {
		t.Fatalf("expected *InsertQuery, got %T", q)
	}
	if ins.Into != "users" {
		t.Errorf("expected into 'users', got %q", ins.Into)
	}
	if len(ins.Fields) != 2 || ins.Fields[0] != "name" || ins.Fields[1] != "age" {
		t.Errorf("unexpected fields: %v", ins.Fields)
	}
	if ins.Values[0] != "John" || ins.Values[1] != float64(30) {
		t.Errorf("unexpected values: %v", ins.Values)
	}
}

func TestParseUpdate(t *testing.T) {
	q, err := Parse(`UPDATE users SET name = 'Jane' WHERE id = '123'`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	upd, ok := q.(*UpdateQuery)
	if !ok {
		t.Fatalf("expected *UpdateQuery, got %T", q)
	}
	if upd.Table != "users" {
		t.Errorf("expected table 'users', got %q", upd.Table)
	}
	if len(upd.Set) != 1 || upd.Set[0].Field != "name" || upd.Set[0].Value != "Jane" {
		t.Errorf("unexpected set clause: %+v", upd.Set)
	}
	cmp, ok := upd.Where.(*Comparison)
	if !ok || cmp.Field != "id" || cmp.Value != "123" {
		t.Errorf("unexpected where clause: %+v", upd.Where)
	}
}

func TestParseDelete(t *testing.T) {
	q, err := Parse(`DELETE FROM users WHERE age < 18`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	del, ok := q.(*DeleteQuery)
	if !ok {
		t.Fatalf("expected *DeleteQuery, got %T", q)
	}
	cmp, ok := del.Where.(*Comparison)
	if !ok || cmp.Field != "age" || cmp.Operator != OpLessThan || cmp.Value != float64(18) {
		t.Errorf("unexpected where clause: %+v", del.Where)
	}
}

func TestParseCreateCollection(t *testing.T) {
	q, err := Parse(`CREATE COLLECTION orders`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	create, ok := q.(*CreateQuery)
	if !ok || create.CollectionName != "orders" {
		t.Errorf("unexpected query: %+v", q)
	}
}

func TestParsePrecedenceAndOverOr(t *testing.T) {
	// a OR b AND c should parse as a OR (b AND c): And binds tighter than Or.
	q, err := Parse(`SELECT * FROM t WHERE a = 1 OR b = 2 AND c = 3`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sel := q.(*SelectQuery)
	or, ok := sel.Where.(*Or)
	if !ok {
		t.Fatalf("expected top-level Or, got %T", sel.Where)
	}
	if _, ok := or.Left.(*Comparison); !ok {
		t.Errorf("expected left of Or to be a Comparison, got %T", or.Left)
	}
	if _, ok := or.Right.(*And); !ok {
		t.Errorf("expected right of Or to be an And, got %T", or.Right)
	}
}

func TestParseNotAndParentheses(t *testing.T) {
	q, err := Parse(`SELECT * FROM t WHERE NOT (a = 1 OR b = 2)`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sel := q.(*SelectQuery)
	not, ok := sel.Where.(*Not)
	if !ok {
		t.Fatalf("expected top-level Not, got %T", sel.Where)
	}
	paren, ok := not.Inner.(*Parenthesized)
	if !ok {
		t.Fatalf("expected parenthesized inner condition, got %T", not.Inner)
	}
	if _, ok := paren.Inner.(*Or); !ok {
		t.Errorf("expected inner Or, got %T", paren.Inner)
	}
}

func TestParseLikeInIsNull(t *testing.T) {
	q, err := Parse(`SELECT * FROM t WHERE name LIKE 'A%' AND status IN ('open', 'pending') AND deleted_at IS NULL`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sel := q.(*SelectQuery)
	outer, ok := sel.Where.(*And)
	if !ok {
		t.Fatalf("expected top-level And, got %T", sel.Where)
	}
	inner, ok := outer.Left.(*And)
	if !ok {
		t.Fatalf("expected nested And on the left, got %T", outer.Left)
	}
	like, ok := inner.Left.(*Comparison)
	if !ok || like.Operator != OpLike || like.Value != "A%" {
		t.Errorf("unexpected like clause: %+v", inner.Left)
	}
	in, ok := inner.Right.(*Comparison)
	if !ok || in.Operator != OpIn || len(in.Values) != 2 {
		t.Errorf("unexpected in clause: %+v", inner.Right)
	}
	isNull, ok := outer.Right.(*Comparison)
	if !ok || isNull.Operator != OpIsNull {
		t.Errorf("unexpected is null clause: %+v", outer.Right)
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	if _, err := Parse(`SELECT FROM users`); err == nil {
		t.Error("expected an error for a missing field list")
	}
	if _, err := Parse(`SELECT * users`); err == nil {
		t.Error("expected an error for a missing FROM keyword")
	}
	if _, err := Parse(`SELECT * FROM users WHERE`); err == nil {
		t.Error("expected an error for a dangling WHERE")
	}
}
