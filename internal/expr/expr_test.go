// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package expr

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func TestEval(t *testing.T) {
	tests := []struct {
		src   string
		value float64
		want  float64
	}{
		{"value", 7, 7},
		{"value / 10", 215, 21.5},
		{"value / 10 - 40", 650, 25},
		{"-value", 3, -3},
		{"2 + 3 * 4", 0, 14},
		{"(2 + 3) * 4", 0, 20},
		{"10 - 4 - 3", 0, 3},
		{"value % 256", 0x1234, 0x34},
		{"(value >> 8) & 0xFF", 0x1234, 0x12},
		{"value >> 8 & 0xFF", 0x1234, 0x12},
		{"1 << 4 | 1", 0, 17},
		{"round(value / 3)", 10, 3},
		{"floor(-1.5)", 0, -2},
		{"ceil(value)", 1.2, 2},
		{"abs(value - 100)", 40, 60},
		{"min(value, 100)", 250, 100},
		{"max(value, 0)", -5, 0},
		{"0b101 + 0o7", 0, 12},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := Parse(tt.src)
			assert.NilError(t, err)
			got, err := e.Eval(tt.value)
			assert.NilError(t, err)
			assert.Equal(t, got, tt.want)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src string
		msg string
	}{
		{"", "unexpected end of expression"},
		{"value +", "unexpected end of expression"},
		{"(value", "expected ')'"},
		{"value value", "unexpected \"value\""},
		{"foo", "unknown identifier"},
		{"min(1)", "min takes 2 arguments"},
		{"value < 2", "unexpected"},
		{"value ^ 2", "unexpected"},
		{"1..2", "invalid number"},
		{"process.exit()", "invalid number"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := Parse(tt.src)
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	e, err := Parse("100 / value")
	assert.NilError(t, err)
	_, err = e.Eval(0)
	assert.Assert(t, errors.Is(err, ErrDivisionByZero))

	e, err = Parse("value & 1")
	assert.NilError(t, err)
	_, err = e.Eval(1.5)
	assert.Assert(t, errors.Is(err, ErrNotIntegral))

	e, err = Parse("1 << value")
	assert.NilError(t, err)
	_, err = e.Eval(64)
	assert.ErrorContains(t, err, "shift count")
}

func TestEvaluator_Apply(t *testing.T) {
	ev := NewEvaluator()

	got, err := ev.Apply(uint16(215), "value / 10")
	assert.NilError(t, err)
	assert.Equal(t, got, 21.5)

	// Empty operation passes any value through.
	raw := []any{1, "a"}
	got, err = ev.Apply(raw, "")
	assert.NilError(t, err)
	assert.DeepEqual(t, got, raw)

	_, err = ev.Apply("text", "value + 1")
	assert.ErrorContains(t, err, "cannot apply")

	got, err = ev.Apply(true, "value * 5")
	assert.NilError(t, err)
	assert.Equal(t, got, 5.0)

	e1, err := ev.Compile("value + 1")
	assert.NilError(t, err)
	e2, err := ev.Compile("value + 1")
	assert.NilError(t, err)
	assert.Assert(t, e1 == e2, "expected cached expression")
}
