// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

// Port is the byte stream the transport owns exclusively. Implementations
// deliver received frames through the OnData callback from their own read
// goroutine; the callback must be registered before Open.
type Port interface {
	Open(ctx context.Context) error
	Write(p []byte) error
	OnData(fn func(frame []byte))
	Close() error
}

// Flusher is implemented by ports that can discard partially received input.
type Flusher interface {
	Flush() error
}

// ErrNoResponse is returned by a RequestHandler that leaves a request
// unanswered, as a slave does for frames addressed to another slave.
var ErrNoResponse = errors.New("transport: request not answered")

// RequestHandler serves one request PDU addressed to slaveID. It is the
// contract between a slave-side server loop and whatever answers requests.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Request is one queued transmission. Done is invoked exactly once, either
// with the validated response frame or with an error.
type Request struct {
	Frame        []byte
	SlaveAddress byte
	FunctionCode byte

	// RequestType is the correlation key. A queued request that has not been
	// sent yet is superseded by a newer one with the same non-empty key.
	RequestType string
	Description string

	// Retries is the number of retransmissions after a timeout.
	Retries int
	// Timeout overrides Options.ResponseTimeout when positive.
	Timeout time.Duration

	// OnTransmit is called before every transmission attempt, starting at 1.
	OnTransmit func(attempt int)
	Done       func(frame *rtu.Frame, err error)

	attempt int
}

func (r *Request) finish(frame *rtu.Frame, err error) {
	if r.Done != nil {
		r.Done(frame, err)
	}
}

// Options tunes the send cycle.
type Options struct {
	// ResponseTimeout is the window for a response after each write.
	ResponseTimeout time.Duration
	// RetryInterval is the delay between a timeout and the retransmission.
	RetryInterval time.Duration
	// Throttle is the pause after every completion before the next send.
	Throttle time.Duration
}

const (
	DefaultResponseTimeout = 500 * time.Millisecond
	DefaultRetryInterval   = 100 * time.Millisecond
	DefaultThrottle        = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.Throttle <= 0 {
		o.Throttle = DefaultThrottle
	}
	return o
}

// Status is a point-in-time copy of the transport counters.
type Status struct {
	Requests            uint64 `json:"processedRequests"`
	ValidResponses      uint64 `json:"validResponses"`
	RequestTimeouts     uint64 `json:"requestTimeouts"`
	CRCErrors           uint64 `json:"crcErrors"`
	InvalidLengthErrors uint64 `json:"invalidLengthErrors"`
	UnresponsiveErrors  uint64 `json:"unresponsiveErrors"`
	Duplicates          uint64 `json:"duplicates"`
	QueueLength         int    `json:"queueLength"`
}
