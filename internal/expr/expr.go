// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package expr evaluates value transforms: arithmetic expressions over a
// single variable named value, for example "value / 10" or
// "(value >> 8) & 0xFF".
//
// Operators by increasing precedence:
//
//	|
//	&
//	<< >>
//	+ -
//	* / %
//	unary -
//
// Functions: round, floor, ceil, abs, min, max. Bitwise operators and %
// require integral operands.
package expr

import (
	"errors"
	"fmt"
	"math"
)

// Variable is the only identifier an expression can reference.
const Variable = "value"

var (
	ErrDivisionByZero = errors.New("expr: division by zero")
	ErrNotIntegral    = errors.New("expr: bitwise operand is not an integer")
)

// Expr is a parsed expression, safe for concurrent use.
type Expr struct {
	src  string
	root node
}

// Parse parses src.
func Parse(src string) (*Expr, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("expr: unexpected %s", tok)
	}
	return &Expr{src: src, root: root}, nil
}

// Eval evaluates the expression with value bound to v.
func (e *Expr) Eval(v float64) (float64, error) {
	return e.root.eval(v)
}

func (e *Expr) String() string {
	return e.src
}

type node interface {
	eval(v float64) (float64, error)
}

type number float64

func (n number) eval(float64) (float64, error) { return float64(n), nil }

type variable struct{}

func (variable) eval(v float64) (float64, error) { return v, nil }

type negate struct{ x node }

func (n negate) eval(v float64) (float64, error) {
	x, err := n.x.eval(v)
	return -x, err
}

type binary struct {
	op   string
	l, r node
}

func (b binary) eval(v float64) (float64, error) {
	l, err := b.l.eval(v)
	if err != nil {
		return 0, err
	}
	r, err := b.r.eval(v)
	if err != nil {
		return 0, err
	}
	switch b.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, ErrDivisionByZero
		}
		return l / r, nil
	}

	a, c, err := integral(l, r)
	if err != nil {
		return 0, err
	}
	switch b.op {
	case "%":
		if c == 0 {
			return 0, ErrDivisionByZero
		}
		return float64(a % c), nil
	case "&":
		return float64(a & c), nil
	case "|":
		return float64(a | c), nil
	case "<<", ">>":
		if c < 0 || c > 63 {
			return 0, fmt.Errorf("expr: shift count %d out of range", c)
		}
		if b.op == "<<" {
			return float64(a << uint(c)), nil
		}
		return float64(a >> uint(c)), nil
	}
	return 0, fmt.Errorf("expr: unknown operator %q", b.op)
}

func integral(l, r float64) (int64, int64, error) {
	if l != math.Trunc(l) || r != math.Trunc(r) {
		return 0, 0, ErrNotIntegral
	}
	return int64(l), int64(r), nil
}

type call struct {
	fn   string
	args []node
}

var arity = map[string]int{
	"round": 1,
	"floor": 1,
	"ceil":  1,
	"abs":   1,
	"min":   2,
	"max":   2,
}

func (c call) eval(v float64) (float64, error) {
	args := make([]float64, len(c.args))
	for i, a := range c.args {
		x, err := a.eval(v)
		if err != nil {
			return 0, err
		}
		args[i] = x
	}
	switch c.fn {
	case "round":
		return math.Round(args[0]), nil
	case "floor":
		return math.Floor(args[0]), nil
	case "ceil":
		return math.Ceil(args[0]), nil
	case "abs":
		return math.Abs(args[0]), nil
	case "min":
		return math.Min(args[0], args[1]), nil
	case "max":
		return math.Max(args[0], args[1]), nil
	}
	return 0, fmt.Errorf("expr: unknown function %q", c.fn)
}
