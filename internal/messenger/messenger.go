// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package messenger multiplexes many callers onto the single request slot
// of a transport. It numbers messages and transmissions, checks responses
// against their request and hands frames the transport cannot correlate
// to an event channel.
package messenger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
	"github.com/ffutop/modbus-master/transport"
)

// Transport is the part of *transport.Transport the messenger drives.
type Transport interface {
	Submit(req *transport.Request)
	Flush()
	QueueLength() int
	Status() transport.Status
	OnUnsolicited(fn func(*rtu.Frame))
}

// Request is one logical request.
type Request struct {
	SlaveAddress byte
	FunctionCode byte
	Frame        []byte
	// ResponseLength is the expected response frame length, 0 if unknown.
	ResponseLength int

	RequestType string
	Description string
	Retries     int
	Timeout     time.Duration
}

// Completion receives the outcome of a request, exactly once.
type Completion func(frame *rtu.Frame, err error)

// QueueLength reports the depth of both layers.
type QueueLength struct {
	Transport int `json:"transport"`
	Messenger int `json:"messenger"`
}

// Status is a snapshot of the messenger.
type Status struct {
	MsgID       uint16      `json:"msgId"`
	SeqID       uint16      `json:"seqId"`
	QueueLength QueueLength `json:"queueLength"`
	Unsolicited uint64      `json:"unsolicited"`
}

// Messenger serializes requests from concurrent callers.
type Messenger struct {
	tr  Transport
	log *slog.Logger

	msgID atomic.Uint32
	seqID atomic.Uint32

	mu      sync.Mutex
	pending map[uint16]*Request

	events      chan *rtu.Frame
	unsolicited atomic.Uint64
}

// New wires a messenger on top of tr. It must be called before the
// transport runs.
func New(tr Transport) *Messenger {
	m := &Messenger{
		tr:      tr,
		log:     slog.With("component", "messenger"),
		pending: make(map[uint16]*Request),
		events:  make(chan *rtu.Frame, 16),
	}
	tr.OnUnsolicited(m.handleUnsolicited)
	return m
}

// Events delivers frames that arrived while no request was outstanding.
func (m *Messenger) Events() <-chan *rtu.Frame {
	return m.events
}

func (m *Messenger) nextMsgID() uint16 {
	return uint16(m.msgID.Add(1) - 1)
}

func (m *Messenger) nextSeqID() uint16 {
	return uint16(m.seqID.Add(1) - 1)
}

// Submit queues req and returns its message id. onComplete fires exactly
// once, with the validated response or with an error: a transport error,
// a *modbus.ExceptionError or a *modbus.LengthMismatchError.
func (m *Messenger) Submit(req *Request, onComplete Completion) uint16 {
	id := m.nextMsgID()

	m.mu.Lock()
	m.pending[id] = req
	m.mu.Unlock()

	m.log.Debug("Msg pushed to the queue", "msgId", id, "type", req.RequestType, "responseLength", req.ResponseLength)
	m.tr.Submit(&transport.Request{
		Frame:        req.Frame,
		SlaveAddress: req.SlaveAddress,
		FunctionCode: req.FunctionCode,
		RequestType:  req.RequestType,
		Description:  req.Description,
		Retries:      req.Retries,
		Timeout:      req.Timeout,
		OnTransmit: func(attempt int) {
			seq := m.nextSeqID()
			m.log.Debug("Msg sending to transport", "msgId", id, "seqId", seq, "attempt", attempt)
		},
		Done: func(frame *rtu.Frame, err error) {
			m.mu.Lock()
			delete(m.pending, id)
			m.mu.Unlock()

			if err == nil {
				err = check(req, frame)
			}
			if err != nil {
				m.log.Debug("Msg failed", "msgId", id, "description", req.Description, "err", err)
				frame = nil
			}
			if onComplete != nil {
				onComplete(frame, err)
			}
		},
	})
	return id
}

// check validates a response frame against its request.
func check(req *Request, frame *rtu.Frame) error {
	if frame.Len() == rtu.ExceptionSize && frame.FunctionCode == modbus.ExceptionBit|req.FunctionCode {
		return frame.Exception()
	}
	if req.ResponseLength != 0 && frame.Len() != req.ResponseLength {
		return &modbus.LengthMismatchError{Expected: req.ResponseLength, Got: frame.Len()}
	}
	return nil
}

// Go submits req and returns a future for its outcome.
func (m *Messenger) Go(req *Request) *Future {
	f := newFuture()
	m.Submit(req, f.resolve)
	return f
}

// Do submits req and waits for its outcome. Cancelling ctx abandons the
// wait; the request itself stays queued.
func (m *Messenger) Do(ctx context.Context, req *Request) (*rtu.Frame, error) {
	return m.Go(req).Wait(ctx)
}

// Flush drops every queued request but the one in flight.
func (m *Messenger) Flush() {
	m.tr.Flush()
}

// QueueLength reports the depth of the transport queue and the number of
// requests the messenger has not completed yet.
func (m *Messenger) QueueLength() QueueLength {
	m.mu.Lock()
	n := len(m.pending)
	m.mu.Unlock()
	return QueueLength{Transport: m.tr.QueueLength(), Messenger: n}
}

// Status returns a snapshot of the identifiers and queues.
func (m *Messenger) Status() Status {
	return Status{
		MsgID:       uint16(m.msgID.Load()),
		SeqID:       uint16(m.seqID.Load()),
		QueueLength: m.QueueLength(),
		Unsolicited: m.unsolicited.Load(),
	}
}

// TransportStatus returns the counters of the underlying transport.
func (m *Messenger) TransportStatus() transport.Status {
	return m.tr.Status()
}

func (m *Messenger) handleUnsolicited(frame *rtu.Frame) {
	m.unsolicited.Add(1)
	m.log.Warn("Received frame for unknown request, not possible on Modbus", "frame", frame.String())
	select {
	case m.events <- frame:
	default:
		m.log.Warn("Dropping unsolicited frame, event channel full")
	}
}
