// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package scheduler

import (
	"math"
	"sync"

	"github.com/ffutop/modbus-master/internal/expr"
)

// FacadeState remembers the last emitted raw value per key and decides
// whether a new observation is worth an event.
type FacadeState struct {
	mu   sync.Mutex
	last map[Key]any
}

func NewFacadeState() *FacadeState {
	return &FacadeState{last: make(map[Key]any)}
}

// Observe reports whether value should be emitted and, if so, records it.
//
// The first observation of a key is always emitted, as is every
// non-numeric value. A numeric value is emitted when it moved by at least
// threshold since the last emitted value, or, without a threshold, when it
// changed at all.
func (fs *FacadeState) Observe(key Key, value any, threshold *float64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	prev, seen := fs.last[key]
	if seen && !changed(prev, value, threshold) {
		return false
	}
	fs.last[key] = value
	return true
}

func changed(prev, value any, threshold *float64) bool {
	v, ok := expr.ToFloat(value)
	if !ok {
		return true
	}
	p, ok := expr.ToFloat(prev)
	if !ok {
		return true
	}
	if threshold == nil {
		return v != p
	}
	return math.Abs(v-p) >= *threshold
}

// Last returns the last emitted raw value of key.
func (fs *FacadeState) Last(key Key) (any, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	v, ok := fs.last[key]
	return v, ok
}

// Forget drops the state of every key matching.
func (fs *FacadeState) Forget(match func(Key) bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for key := range fs.last {
		if match(key) {
			delete(fs.last, key)
		}
	}
}
