package sql

import (
	"fmt"
	"strconv"
)

// Parse tokenizes and parses a single SQL-like statement.
func Parse(input string) (Query, error) {
	toks, err := newLexer(input).tokenize()
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: toks}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() && !p.peekIsPunct(";") {
		return nil, fmt.Errorf("unexpected trailing input near %q", p.cur().text)
	}
	return q, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) cur() token {
	if p.pos >= len(p.tokens) {
		return token{kind: tokEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) atEOF() bool {
	return p.cur().kind == tokEOF
}

func (p *parser) advance() token {
	t := p.cur()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) peekIsKeyword(kw string) bool {
	t := p.cur()
	return t.kind == tokKeyword && t.upper == kw
}

func (p *parser) peekIsPunct(s string) bool {
	t := p.cur()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) expectKeyword(kw string) error {
	if !p.peekIsKeyword(kw) {
		return fmt.Errorf("expected keyword %s, got %q", kw, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) expectPunct(s string) error {
	if !p.peekIsPunct(s) {
		return fmt.Errorf("expected %q, got %q", s, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) expectIdent() (string, error) {
	t := p.cur()
	if t.kind != tokIdent && t.kind != tokKeyword {
		return "", fmt.Errorf("expected identifier, got %q", t.text)
	}
	p.advance()
	return t.text, nil
}

func (p *parser) parseQuery() (Query, error) {
	switch {
	case p.peekIsKeyword("SELECT"):
		return p.parseSelect()
	case p.peekIsKeyword("INSERT"):
		return p.parseInsert()
	case p.peekIsKeyword("UPDATE"):
		return p.parseUpdate()
	case p.peekIsKeyword("DELETE"):
		return p.parseDelete()
	case p.peekIsKeyword("CREATE"):
		return p.parseCreate()
	default:
		return nil, fmt.Errorf("expected SELECT, INSERT, UPDATE, DELETE or CREATE, got %q", p.cur().text)
	}
}

func (p *parser) parseSelect() (Query, error) {
	p.advance() // SELECT
	q := &SelectQuery{}

	for {
		if p.peekIsPunct("*") {
			p.advance()
			q.Fields = append(q.Fields, Field{All: true})
		} else {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			f := Field{Name: name}
			if p.peekIsKeyword("AS") {
				p.advance()
				alias, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				f.Alias = alias
			}
			q.Fields = append(q.Fields, f)
		}
		if p.peekIsPunct(",") {
			p.advance()
			continue
		}
		break
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	q.From = from

	if p.peekIsKeyword("WHERE") {
		p.advance()
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		q.Where = cond
	}

	if p.peekIsKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			field, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			ob := OrderBy{Field: field}
			if p.peekIsKeyword("DESC") {
				p.advance()
				ob.Desc = true
			} else if p.peekIsKeyword("ASC") {
				p.advance()
			}
			q.OrderBy = append(q.OrderBy, ob)
			if p.peekIsPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if p.peekIsKeyword("LIMIT") {
		p.advance()
		n, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		v := int(n)
		q.Limit = &v
	}

	if p.peekIsKeyword("OFFSET") {
		p.advance()
		n, err := p.expectNumber()
		if err != nil {
			return nil, err
		}
		v := int(n)
		q.Offset = &v
	}

	return q, nil
}

func (p *parser) parseInsert() (Query, error) {
	p.advance() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	into, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	q := &InsertQuery{Into: into}

	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		q.Fields = append(q.Fields, name)
		if p.peekIsPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		q.Values = append(q.Values, v)
		if p.peekIsPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	if len(q.Fields) != len(q.Values) {
		return nil, fmt.Errorf("field count (%d) does not match value count (%d)", len(q.Fields), len(q.Values))
	}
	return q, nil
}

func (p *parser) parseUpdate() (Query, error) {
	p.advance() // UPDATE
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	q := &UpdateQuery{Table: table}

	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	for {
		field, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		q.Set = append(q.Set, Assignment{Field: field, Value: v})
		if p.peekIsPunct(",") {
			p.advance()
			continue
		}
		break
	}

	if p.peekIsKeyword("WHERE") {
		p.advance()
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		q.Where = cond
	}
	return q, nil
}

func (p *parser) parseDelete() (Query, error) {
	p.advance() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	q := &DeleteQuery{From: from}
	if p.peekIsKeyword("WHERE") {
		p.advance()
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		q.Where = cond
	}
	return q, nil
}

func (p *parser) parseCreate() (Query, error) {
	p.advance() // CREATE
	if err := p.expectKeyword("COLLECTION"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return &CreateQuery{CollectionName: name}, nil
}

// parseCondition implements Parenthesized > Not > And > Or precedence:
// parseOr calls parseAnd which calls parseNot which calls parsePrimary,
// so Or binds loosest and Not binds tightest of the logical connectives.
func (p *parser) parseCondition() (Condition, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (Condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekIsKeyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Condition, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peekIsKeyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Condition, error) {
	if p.peekIsKeyword("NOT") {
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Inner: inner}, nil
	}
	return p.parsePrimaryCondition()
}

func (p *parser) parsePrimaryCondition() (Condition, error) {
	if p.peekIsPunct("(") {
		p.advance()
		inner, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &Parenthesized{Inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Condition, error) {
	field, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	if p.peekIsKeyword("IS") {
		p.advance()
		if p.peekIsKeyword("NOT") {
			p.advance()
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			return &Comparison{Field: field, Operator: OpIsNotNull}, nil
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &Comparison{Field: field, Operator: OpIsNull}, nil
	}

	negate := false
	if p.peekIsKeyword("NOT") {
		p.advance()
		negate = true
	}

	if p.peekIsKeyword("LIKE") {
		p.advance()
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		op := OpLike
		if negate {
			op = OpNotLike
		}
		return &Comparison{Field: field, Operator: op, Value: v}, nil
	}

	if p.peekIsKeyword("IN") {
		p.advance()
		values, err := p.parseValueList()
		if err != nil {
			return nil, err
		}
		op := OpIn
		if negate {
			op = OpNotIn
		}
		return &Comparison{Field: field, Operator: op, Values: values}, nil
	}

	if negate {
		return nil, fmt.Errorf("NOT must be followed by LIKE or IN, got %q", p.cur().text)
	}

	op, err := p.parseComparisonOperator()
	if err != nil {
		return nil, err
	}
	v, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &Comparison{Field: field, Operator: op, Value: v}, nil
}

func (p *parser) parseComparisonOperator() (ComparisonOperator, error) {
	t := p.cur()
	if t.kind != tokPunct {
		return 0, fmt.Errorf("expected comparison operator, got %q", t.text)
	}
	switch t.text {
	case "=":
		p.advance()
		return OpEqual, nil
	case "!=", "<>":
		p.advance()
		return OpNotEqual, nil
	case ">":
		p.advance()
		return OpGreaterThan, nil
	case ">=":
		p.advance()
		return OpGreaterThanOrEqual, nil
	case "<":
		p.advance()
		return OpLessThan, nil
	case "<=":
		p.advance()
		return OpLessThanOrEqual, nil
	default:
		return 0, fmt.Errorf("unsupported comparison operator %q", t.text)
	}
}

func (p *parser) parseValueList() ([]interface{}, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var values []interface{}
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.peekIsPunct(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return values, nil
}

func (p *parser) parseLiteral() (interface{}, error) {
	t := p.cur()
	switch {
	case t.kind == tokString:
		p.advance()
		return t.text, nil
	case t.kind == tokNumber:
		p.advance()
		return strconv.ParseFloat(t.text, 64)
	case t.kind == tokKeyword && t.upper == "TRUE":
		p.advance()
		return true, nil
	case t.kind == tokKeyword && t.upper == "FALSE":
		p.advance()
		return false, nil
	case t.kind == tokKeyword && t.upper == "NULL":
		p.advance()
		return nil, nil
	case t.kind == tokPunct && t.text == "-":
		p.advance()
		n, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		f, ok := n.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number after unary minus")
		}
		return -f, nil
	default:
		return nil, fmt.Errorf("expected a literal value, got %q", t.text)
	}
}

func (p *parser) expectNumber() (float64, error) {
	t := p.cur()
	if t.kind != tokNumber {
		return 0, fmt.Errorf("expected number, got %q", t.text)
	}
	p.advance()
	return strconv.ParseFloat(t.text, 64)
}
