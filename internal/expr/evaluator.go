// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package expr

import (
	"fmt"
	"sync"
)

// Transformer post-processes a raw value with an operation.
type Transformer interface {
	Apply(value any, op string) (any, error)
}

// Evaluator is a Transformer that caches parsed expressions.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*Expr
}

func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*Expr)}
}

// Compile parses op, or returns the cached parse.
func (ev *Evaluator) Compile(op string) (*Expr, error) {
	ev.mu.RLock()
	e, ok := ev.cache[op]
	ev.mu.RUnlock()
	if ok {
		return e, nil
	}

	e, err := Parse(op)
	if err != nil {
		return nil, err
	}
	ev.mu.Lock()
	ev.cache[op] = e
	ev.mu.Unlock()
	return e, nil
}

// Apply evaluates op against a numeric value. An empty op returns value
// unchanged.
func (ev *Evaluator) Apply(value any, op string) (any, error) {
	if op == "" {
		return value, nil
	}
	v, ok := ToFloat(value)
	if !ok {
		return nil, fmt.Errorf("expr: cannot apply %q to %T", op, value)
	}
	e, err := ev.Compile(op)
	if err != nil {
		return nil, err
	}
	return e.Eval(v)
}

// ToFloat converts the numeric kinds produced by register decoding.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
