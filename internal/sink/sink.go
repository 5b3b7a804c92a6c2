// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package sink delivers facade events to the outside world.
package sink

import (
	"log/slog"
	"sync"

	"github.com/ffutop/modbus-master/internal/scheduler"
)

// Sink receives facade events. Publish is called on the transport
// goroutine and must not block for long.
type Sink interface {
	Publish(ev scheduler.Event)
}

// Func adapts a function to a Sink.
type Func func(ev scheduler.Event)

func (f Func) Publish(ev scheduler.Event) { f(ev) }

// Fanout publishes every event to a set of sinks.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

// Add attaches a sink. Nil sinks are ignored.
func (f *Fanout) Add(s Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

func (f *Fanout) Publish(ev scheduler.Event) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(ev)
	}
}

// Log writes every event to the default logger at info level.
type Log struct{}

func (Log) Publish(ev scheduler.Event) {
	slog.Info("Emitting event", "resourceId", ev.ResourceID, "facade", ev.Facade, "value", ev.Value)
}
