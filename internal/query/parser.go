package query

import (
	"fmt"

	"github.com/stratum-build/stratum/internal/errorsx"
)

// Parse compiles an MQL query string into a Node tree, per spec.md
// §4.10's grammar:
//
//	query      := condition ( (AND|OR) condition )*
//	condition  := field op value | '(' query ')'
//	op         := '=' | '!=' | '~' | '!~'
//	value      := bare | '[' bare (',' bare)* ']'
func Parse(input string) (Node, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, raw: input}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("query: unexpected trailing input near %q", p.peek().text)
	}
	return node, nil
}

type parser struct {
	toks []token
	pos  int
	raw  string
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) parseExpr() (Node, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	nodes := []Node{first}
	var op Logical

	for {
		t := p.peek()
		var this Logical
		switch t.kind {
		case tokAnd:
			this = LogicalAnd
		case tokOr:
			this = LogicalOr
		default:
			if len(nodes) == 1 {
				return nodes[0], nil
			}
			return &Logic{Op: op, Nodes: nodes}, nil
		}
		p.next()
		if op == logicalNone {
			op = this
		} else if op != this {
			return nil, &errorsx.LogicalOperatorMismatch{Query: p.raw}
		}
		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, term)
	}
}

func (p *parser) parseTerm() (Node, error) {
	if p.peek().kind == tokLParen {
		p.next()
		node, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("query: expected ')' near %q", p.peek().text)
		}
		p.next()
		return node, nil
	}
	return p.parseCondition()
}

func (p *parser) parseCondition() (Node, error) {
	fieldTok := p.next()
	if fieldTok.kind != tokIdent {
		return nil, fmt.Errorf("query: expected field name, got %q", fieldTok.text)
	}
	field := Field(fieldTok.text)
	if !validFields[field] {
		return nil, fmt.Errorf("query: unknown field %q", fieldTok.text)
	}

	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, fmt.Errorf("query: expected operator after field %q, got %q", field, opTok.text)
	}
	op := Op(opTok.text)
	if (op == OpLike || op == OpNotLike) && enumFields[field] {
		return nil, &errorsx.UnsupportedLikeOperator{Field: string(field)}
	}

	values, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	return &Condition{Field: field, Op: op, Values: values}, nil
}

func (p *parser) parseValue() ([]string, error) {
	if p.peek().kind == tokLBracket {
		p.next()
		var values []string
		for {
			t := p.next()
			if t.kind != tokIdent {
				return nil, fmt.Errorf("query: expected value inside [...], got %q", t.text)
			}
			values = append(values, t.text)
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if p.peek().kind != tokRBracket {
			return nil, fmt.Errorf("query: expected ']' near %q", p.peek().text)
		}
		p.next()
		return values, nil
	}

	t := p.next()
	if t.kind != tokIdent {
		return nil, fmt.Errorf("query: expected value, got %q", t.text)
	}
	return []string{t.text}, nil
}
