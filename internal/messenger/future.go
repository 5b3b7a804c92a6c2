// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package messenger

import (
	"context"
	"sync"

	"github.com/ffutop/modbus-master/modbus/rtu"
)

// Future is the pending outcome of a request.
type Future struct {
	once  sync.Once
	done  chan struct{}
	frame *rtu.Frame
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(frame *rtu.Frame, err error) {
	f.once.Do(func() {
		f.frame, f.err = frame, err
		close(f.done)
	})
}

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the outcome is known or ctx is done.
func (f *Future) Wait(ctx context.Context) (*rtu.Frame, error) {
	select {
	case <-f.done:
		return f.frame, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
