// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

type phase int

const (
	phaseIdle phase = iota
	phaseAwaitingResponse
	phaseRetryWait
	phaseThrottle
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseAwaitingResponse:
		return "awaiting-response"
	case phaseRetryWait:
		return "retry-wait"
	case phaseThrottle:
		return "throttle"
	}
	return "unknown"
}

// Transport serves a FIFO of requests over a Port with at most one request
// in flight. Submit, Flush and Status are safe for concurrent use; the send
// cycle itself runs on the goroutine calling Run.
type Transport struct {
	port Port
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	queue    []*Request
	inFlight bool // queue[0] has been transmitted
	closed   bool

	wake   chan struct{}
	frames chan []byte
	done   chan struct{}

	unsolicited func(*rtu.Frame)

	// Loop-owned state.
	phase phase
	timer *time.Timer

	requests            atomic.Uint64
	validResponses      atomic.Uint64
	requestTimeouts     atomic.Uint64
	crcErrors           atomic.Uint64
	invalidLengthErrors atomic.Uint64
	unresponsiveErrors  atomic.Uint64
	duplicates          atomic.Uint64
}

// New allocates a Transport on port. Call Run to start serving.
func New(port Port, opts Options) *Transport {
	return &Transport{
		port:   port,
		opts:   opts.withDefaults(),
		log:    slog.With("component", "transport"),
		wake:   make(chan struct{}, 1),
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

// OnUnsolicited registers fn for valid frames that arrive while no request
// is waiting for a response. It must be called before Run.
func (t *Transport) OnUnsolicited(fn func(*rtu.Frame)) {
	t.unsolicited = fn
}

// Submit appends req to the queue. A queued request with the same request
// type that is not yet in flight is evicted and fails with ErrSuperseded.
func (t *Transport) Submit(req *Request) {
	var evicted *Request

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		req.finish(nil, modbus.ErrClosed)
		return
	}
	if req.RequestType != "" {
		for i, q := range t.queue {
			if i == 0 && t.inFlight {
				continue
			}
			if q.RequestType == req.RequestType {
				evicted = q
				t.queue = append(t.queue[:i], t.queue[i+1:]...)
				break
			}
		}
	}
	t.queue = append(t.queue, req)
	depth := len(t.queue)
	t.mu.Unlock()

	if evicted != nil {
		t.duplicates.Add(1)
		t.log.Warn("Found same request type queued, dequeuing old request", "type", evicted.RequestType, "description", evicted.Description)
		evicted.finish(nil, modbus.ErrSuperseded)
	}
	t.log.Debug("Added request to queue", "description", req.Description, "depth", depth)

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Flush drops every queued request except the head of the queue. Dropped
// requests fail with ErrFlushed.
func (t *Transport) Flush() {
	t.mu.Lock()
	var dropped []*Request
	if len(t.queue) > 1 {
		dropped = append(dropped, t.queue[1:]...)
		t.queue = t.queue[:1]
	}
	t.mu.Unlock()

	for _, req := range dropped {
		req.finish(nil, modbus.ErrFlushed)
	}
	if len(dropped) > 0 {
		t.log.Info("Flushed transmit queue", "dropped", len(dropped))
	}
}

// QueueLength returns the number of queued requests, in-flight included.
func (t *Transport) QueueLength() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Status returns a copy of the counters.
func (t *Transport) Status() Status {
	return Status{
		Requests:            t.requests.Load(),
		ValidResponses:      t.validResponses.Load(),
		RequestTimeouts:     t.requestTimeouts.Load(),
		CRCErrors:           t.crcErrors.Load(),
		InvalidLengthErrors: t.invalidLengthErrors.Load(),
		UnresponsiveErrors:  t.unresponsiveErrors.Load(),
		Duplicates:          t.duplicates.Load(),
		QueueLength:         t.QueueLength(),
	}
}

// Run opens the port and serves the queue until ctx is cancelled. Requests
// still queued on return fail with ErrClosed.
func (t *Transport) Run(ctx context.Context) error {
	t.port.OnData(t.receive)
	if err := t.port.Open(ctx); err != nil {
		t.shutdown()
		return fmt.Errorf("transport: failed to open port: %w", err)
	}
	defer t.port.Close()
	defer t.shutdown()

	t.timer = time.NewTimer(time.Hour)
	t.timer.Stop()
	defer t.timer.Stop()

	t.log.Info("Started transport", "responseTimeout", t.opts.ResponseTimeout, "throttle", t.opts.Throttle)
	t.startSendSequence()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.wake:
			if t.phase == phaseIdle {
				t.startSendSequence()
			}
		case raw := <-t.frames:
			t.handleDataFrame(raw)
		case <-t.timer.C:
			t.handleTimer()
		}
	}
}

func (t *Transport) receive(frame []byte) {
	select {
	case t.frames <- frame:
	case <-t.done:
	}
}

func (t *Transport) shutdown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.queue
	t.queue = nil
	t.inFlight = false
	t.mu.Unlock()

	close(t.done)
	for _, req := range pending {
		req.finish(nil, modbus.ErrClosed)
	}
}

func (t *Transport) head() *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return nil
	}
	return t.queue[0]
}

// startSendSequence transmits the head of the queue, if any.
func (t *Transport) startSendSequence() {
	t.mu.Lock()
	if len(t.queue) == 0 {
		t.mu.Unlock()
		t.phase = phaseIdle
		return
	}
	req := t.queue[0]
	t.inFlight = true
	t.mu.Unlock()

	t.transmit(req)
}

func (t *Transport) transmit(req *Request) {
	req.attempt++
	if req.attempt == 1 {
		t.requests.Add(1)
	}
	if req.OnTransmit != nil {
		req.OnTransmit(req.attempt)
	}

	t.log.Debug("send to modbus slave", "description", req.Description, "attempt", req.attempt, "request", hex.EncodeToString(req.Frame))
	if err := t.port.Write(req.Frame); err != nil {
		// A failed write is handled like a lost frame: the timeout retries it.
		t.log.Error("Failed to write request", "description", req.Description, "err", err)
	}

	timeout := t.opts.ResponseTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	t.phase = phaseAwaitingResponse
	t.timer.Reset(timeout)
}

func (t *Transport) handleTimer() {
	switch t.phase {
	case phaseAwaitingResponse:
		t.requestTimeouts.Add(1)
		req := t.head()
		if req == nil {
			t.phase = phaseIdle
			return
		}
		if req.attempt <= req.Retries {
			t.log.Info("Did not receive response, retrying", "description", req.Description, "left", req.Retries-req.attempt)
			t.phase = phaseRetryWait
			t.timer.Reset(t.opts.RetryInterval)
			return
		}
		t.unresponsiveErrors.Add(1)
		t.log.Warn("Did not receive response", "description", req.Description, "attempts", req.attempt)
		t.completeSendSequence(nil, modbus.ErrUnresponsive)
	case phaseRetryWait:
		if req := t.head(); req != nil {
			t.transmit(req)
		} else {
			t.phase = phaseIdle
		}
	case phaseThrottle:
		t.phase = phaseIdle
		t.startSendSequence()
	}
}

func (t *Transport) handleDataFrame(raw []byte) {
	frame := rtu.Decode(raw)
	t.log.Debug("recv from modbus slave", "response", frame.String(), "phase", t.phase)

	if t.phase != phaseAwaitingResponse {
		if !frame.Valid() {
			t.log.Warn("Discarding invalid frame with no request in flight", "frame", frame.String())
			return
		}
		t.log.Warn("Received frame for no request, not possible on Modbus", "frame", frame.String())
		if t.unsolicited != nil {
			t.unsolicited(frame)
		}
		return
	}

	switch {
	case !frame.IsValidLength():
		t.invalidLengthErrors.Add(1)
		t.log.Error("Received response with invalid length", "length", frame.Len())
		t.completeSendSequence(nil, fmt.Errorf("%w: %d bytes", modbus.ErrInvalidLength, frame.Len()))
	case !frame.IsValidChecksum():
		t.crcErrors.Add(1)
		t.log.Error("Received response CRC error", "frame", frame.String())
		t.completeSendSequence(nil, fmt.Errorf("%w: %s", modbus.ErrCRC, frame.String()))
	default:
		t.validResponses.Add(1)
		t.completeSendSequence(frame, nil)
	}
}

// completeSendSequence resolves the head of the queue and throttles the
// next transmission.
func (t *Transport) completeSendSequence(frame *rtu.Frame, err error) {
	t.timer.Stop()

	t.mu.Lock()
	var req *Request
	if len(t.queue) > 0 {
		req = t.queue[0]
		t.queue = t.queue[1:]
	}
	t.inFlight = false
	t.mu.Unlock()

	if f, ok := t.port.(Flusher); ok {
		if ferr := f.Flush(); ferr != nil {
			t.log.Debug("Failed to flush port", "err", ferr)
		}
	}

	if req != nil {
		req.finish(frame, err)
	}

	t.phase = phaseThrottle
	t.timer.Reset(t.opts.Throttle)
}
