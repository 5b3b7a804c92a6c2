// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package expr

import (
	"fmt"
	"strconv"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

func tokenize(src string) ([]token, error) {
	var toks []token
	r := []rune(src)
	for i := 0; i < len(r); {
		c := r[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(r) && (unicode.IsDigit(r[i]) || unicode.IsLetter(r[i]) || r[i] == '.') {
				i++
			}
			text := string(r[start:i])
			n, err := parseNumber(text)
			if err != nil {
				return nil, fmt.Errorf("expr: invalid number %q at %d", text, start)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: n, pos: start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(r) && (unicode.IsLetter(r[i]) || unicode.IsDigit(r[i]) || r[i] == '_') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(r[start:i]), pos: start})
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '<' || c == '>':
			if i+1 >= len(r) || r[i+1] != c {
				return nil, fmt.Errorf("expr: unexpected %q at %d", c, i)
			}
			toks = append(toks, token{kind: tokOp, text: string([]rune{c, c}), pos: i})
			i += 2
		case c == '+' || c == '-' || c == '*' || c == '/' || c == '%' || c == '&' || c == '|':
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		default:
			return nil, fmt.Errorf("expr: unexpected %q at %d", c, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(r)}), nil
}

// parseNumber accepts decimals and 0x/0b/0o prefixed integers.
func parseNumber(text string) (float64, error) {
	if len(text) > 2 && text[0] == '0' && unicode.IsLetter(rune(text[1])) {
		n, err := strconv.ParseInt(text, 0, 64)
		return float64(n), err
	}
	return strconv.ParseFloat(text, 64)
}
