// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package expr

import "fmt"

var precedence = map[string]int{
	"|":  1,
	"&":  2,
	"<<": 3,
	">>": 3,
	"+":  4,
	"-":  4,
	"*":  5,
	"/":  5,
	"%":  5,
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) error {
	if tok := p.next(); tok.kind != kind {
		return fmt.Errorf("expr: expected %s, got %s", what, tok)
	}
	return nil
}

// parseBinary is a precedence climber: it consumes operators binding
// tighter than minPrec.
func (p *parser) parseBinary(minPrec int) (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		prec, ok := precedence[tok.text]
		if tok.kind != tokOp || !ok || prec <= minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(prec)
		if err != nil {
			return nil, err
		}
		left = binary{op: tok.text, l: left, r: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if tok.kind == tokOp && (tok.text == "-" || tok.text == "+") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if tok.text == "-" {
			return negate{x}, nil
		}
		return x, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return number(tok.num), nil
	case tokLParen:
		x, err := p.parseBinary(0)
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return x, nil
	case tokIdent:
		if tok.text == Variable {
			return variable{}, nil
		}
		n, ok := arity[tok.text]
		if !ok {
			return nil, fmt.Errorf("expr: unknown identifier %s", tok)
		}
		return p.parseCall(tok.text, n)
	}
	return nil, fmt.Errorf("expr: unexpected %s", tok)
}

func (p *parser) parseCall(fn string, n int) (node, error) {
	if err := p.expect(tokLParen, "'(' after "+fn); err != nil {
		return nil, err
	}
	var args []node
	for {
		arg, err := p.parseBinary(0)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind != tokComma {
			break
		}
		p.next()
	}
	if err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	if len(args) != n {
		return nil, fmt.Errorf("expr: %s takes %d arguments, got %d", fn, n, len(args))
	}
	return call{fn: fn, args: args}, nil
}
