// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

// scriptedPort answers every write with whatever respond returns.
type scriptedPort struct {
	mu      sync.Mutex
	writes  [][]byte
	onData  func([]byte)
	respond func(req []byte) []byte
	delay   time.Duration
	written chan struct{}
}

func newScriptedPort(respond func(req []byte) []byte) *scriptedPort {
	return &scriptedPort{respond: respond, written: make(chan struct{}, 64)}
}

func (p *scriptedPort) Open(ctx context.Context) error { return nil }
func (p *scriptedPort) Close() error                   { return nil }
func (p *scriptedPort) OnData(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onData = fn
}

func (p *scriptedPort) deliver(b []byte) {
	p.mu.Lock()
	fn := p.onData
	p.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}

func (p *scriptedPort) Write(b []byte) error {
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.mu.Unlock()
	p.written <- struct{}{}

	if p.respond == nil {
		return nil
	}
	resp := p.respond(b)
	if resp == nil {
		return nil
	}
	go func() {
		time.Sleep(p.delay)
		p.deliver(resp)
	}()
	return nil
}

func (p *scriptedPort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

// answer builds a well-formed response to a read request.
func answer(req []byte) []byte {
	qty := binary.BigEndian.Uint16(req[4:])
	data := []byte{byte(2 * qty)}
	data = append(data, make([]byte, 2*qty)...)
	adu := rtu.ApplicationDataUnit{SlaveID: req[0], Pdu: modbus.ProtocolDataUnit{FunctionCode: req[1], Data: data}}
	raw, _ := adu.Encode()
	return raw
}

func readFrame(t *testing.T, slave byte, addr uint16) []byte {
	t.Helper()
	req, err := rtu.NewReadRequest(slave, modbus.FuncCodeReadHoldingRegisters, addr, 1)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := req.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

type result struct {
	frame *rtu.Frame
	err   error
}

func newRequest(t *testing.T, addr uint16, requestType string, retries int) (*Request, chan result) {
	done := make(chan result, 1)
	req := &Request{
		Frame:        readFrame(t, 1, addr),
		SlaveAddress: 1,
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		RequestType:  requestType,
		Description:  fmt.Sprintf("read %d", addr),
		Retries:      retries,
		Done: func(frame *rtu.Frame, err error) {
			done <- result{frame, err}
		},
	}
	return req, done
}

var fastOptions = Options{
	ResponseTimeout: 30 * time.Millisecond,
	RetryInterval:   5 * time.Millisecond,
	Throttle:        time.Millisecond,
}

func start(t *testing.T, tr *Transport) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go tr.Run(ctx)
	t.Cleanup(cancel)
	return cancel
}

func wait(t *testing.T, ch chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}
	return result{}
}

func TestTransport_RoundTrip(t *testing.T) {
	port := newScriptedPort(answer)
	tr := New(port, fastOptions)
	start(t, tr)

	req, done := newRequest(t, 10, "a", 0)
	tr.Submit(req)

	r := wait(t, done)
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if !r.frame.Valid() || r.frame.FunctionCode != modbus.FuncCodeReadHoldingRegisters {
		t.Errorf("unexpected frame %s", r.frame)
	}

	st := tr.Status()
	if st.Requests != 1 || st.ValidResponses != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestTransport_RetriesThenUnresponsive(t *testing.T) {
	tests := []struct {
		name    string
		retries int
	}{
		{"NoRetry", 0},
		{"TwoRetries", 2},
		{"FiveRetries", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newScriptedPort(nil)
			tr := New(port, fastOptions)
			start(t, tr)

			var attempts []int
			req, done := newRequest(t, 1, "", tt.retries)
			req.OnTransmit = func(attempt int) { attempts = append(attempts, attempt) }
			tr.Submit(req)

			r := wait(t, done)
			if !errors.Is(r.err, modbus.ErrUnresponsive) {
				t.Fatalf("err = %v, want ErrUnresponsive", r.err)
			}
			if got := port.writeCount(); got != tt.retries+1 {
				t.Errorf("wire attempts = %d, want %d", got, tt.retries+1)
			}
			if len(attempts) != tt.retries+1 || attempts[len(attempts)-1] != tt.retries+1 {
				t.Errorf("OnTransmit attempts = %v", attempts)
			}
			st := tr.Status()
			if st.RequestTimeouts != uint64(tt.retries+1) || st.UnresponsiveErrors != 1 || st.Requests != 1 {
				t.Errorf("status = %+v", st)
			}
		})
	}
}

func TestTransport_SupersedeQueued(t *testing.T) {
	port := newScriptedPort(answer)
	tr := New(port, fastOptions)

	first, firstDone := newRequest(t, 1, "poll/1/3/1/1", 0)
	second, secondDone := newRequest(t, 1, "poll/1/3/1/1", 0)
	tr.Submit(first)
	tr.Submit(second)

	r := wait(t, firstDone)
	if !errors.Is(r.err, modbus.ErrSuperseded) {
		t.Fatalf("first err = %v, want ErrSuperseded", r.err)
	}
	if tr.QueueLength() != 1 {
		t.Errorf("QueueLength() = %d, want 1", tr.QueueLength())
	}

	start(t, tr)
	if r := wait(t, secondDone); r.err != nil {
		t.Fatalf("second err = %v", r.err)
	}
	if got := port.writeCount(); got != 1 {
		t.Errorf("wire attempts = %d, want 1", got)
	}
	if st := tr.Status(); st.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", st.Duplicates)
	}
}

func TestTransport_InFlightNotSuperseded(t *testing.T) {
	port := newScriptedPort(answer)
	port.delay = 20 * time.Millisecond
	tr := New(port, Options{ResponseTimeout: 500 * time.Millisecond, Throttle: time.Millisecond})
	start(t, tr)

	first, firstDone := newRequest(t, 1, "same", 0)
	tr.Submit(first)
	<-port.written

	second, secondDone := newRequest(t, 1, "same", 0)
	tr.Submit(second)

	if r := wait(t, firstDone); r.err != nil {
		t.Fatalf("in-flight request failed: %v", r.err)
	}
	if r := wait(t, secondDone); r.err != nil {
		t.Fatalf("second request failed: %v", r.err)
	}
	if st := tr.Status(); st.Duplicates != 0 {
		t.Errorf("Duplicates = %d, want 0", st.Duplicates)
	}
}

func TestTransport_CorruptResponseIsTerminal(t *testing.T) {
	tests := []struct {
		name    string
		respond func([]byte) []byte
		want    error
		check   func(Status) bool
	}{
		{
			name: "CRC",
			respond: func(req []byte) []byte {
				resp := answer(req)
				resp[len(resp)-1] ^= 0xFF
				return resp
			},
			want:  modbus.ErrCRC,
			check: func(s Status) bool { return s.CRCErrors == 1 },
		},
		{
			name:    "Length",
			respond: func(req []byte) []byte { return req[:3] },
			want:    modbus.ErrInvalidLength,
			check:   func(s Status) bool { return s.InvalidLengthErrors == 1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newScriptedPort(tt.respond)
			tr := New(port, fastOptions)
			start(t, tr)

			req, done := newRequest(t, 1, "", 3)
			tr.Submit(req)

			r := wait(t, done)
			if !errors.Is(r.err, tt.want) {
				t.Fatalf("err = %v, want %v", r.err, tt.want)
			}
			if got := port.writeCount(); got != 1 {
				t.Errorf("wire attempts = %d, want 1", got)
			}
			if st := tr.Status(); !tt.check(st) {
				t.Errorf("status = %+v", st)
			}
		})
	}
}

func TestTransport_FIFO(t *testing.T) {
	port := newScriptedPort(answer)
	tr := New(port, fastOptions)

	var mu sync.Mutex
	var order []uint16
	var wg sync.WaitGroup
	for addr := uint16(0); addr < 8; addr++ {
		wg.Add(1)
		a := addr
		req, _ := newRequest(t, a, fmt.Sprintf("type-%d", a), 0)
		req.Done = func(frame *rtu.Frame, err error) {
			defer wg.Done()
			if err != nil {
				t.Errorf("request %d: %v", a, err)
			}
			mu.Lock()
			order = append(order, a)
			mu.Unlock()
		}
		tr.Submit(req)
	}
	start(t, tr)
	wg.Wait()

	for i, a := range order {
		if a != uint16(i) {
			t.Fatalf("completion order = %v", order)
		}
	}
	port.mu.Lock()
	defer port.mu.Unlock()
	for i, w := range port.writes {
		if got := binary.BigEndian.Uint16(w[2:]); got != uint16(i) {
			t.Fatalf("write %d addressed %d", i, got)
		}
	}
}

func TestTransport_Flush(t *testing.T) {
	tr := New(newScriptedPort(answer), fastOptions)

	var dones []chan result
	for addr := uint16(0); addr < 4; addr++ {
		req, done := newRequest(t, addr, "", 0)
		tr.Submit(req)
		dones = append(dones, done)
	}
	tr.Flush()

	for _, done := range dones[1:] {
		if r := wait(t, done); !errors.Is(r.err, modbus.ErrFlushed) {
			t.Errorf("err = %v, want ErrFlushed", r.err)
		}
	}
	if tr.QueueLength() != 1 {
		t.Errorf("QueueLength() = %d, want 1", tr.QueueLength())
	}
}

func TestTransport_Close(t *testing.T) {
	tr := New(newScriptedPort(nil), Options{ResponseTimeout: time.Hour})
	cancel := start(t, tr)

	req, done := newRequest(t, 1, "", 0)
	tr.Submit(req)
	cancel()

	if r := wait(t, done); !errors.Is(r.err, modbus.ErrClosed) {
		t.Fatalf("pending err = %v, want ErrClosed", r.err)
	}

	late, lateDone := newRequest(t, 2, "", 0)
	tr.Submit(late)
	if r := wait(t, lateDone); !errors.Is(r.err, modbus.ErrClosed) {
		t.Fatalf("late err = %v, want ErrClosed", r.err)
	}
}

func TestTransport_Unsolicited(t *testing.T) {
	port := newScriptedPort(nil)
	tr := New(port, fastOptions)

	got := make(chan *rtu.Frame, 1)
	tr.OnUnsolicited(func(f *rtu.Frame) { got <- f })
	start(t, tr)

	// Run registers the data callback before opening the port.
	deadline := time.Now().Add(time.Second)
	for {
		port.mu.Lock()
		ready := port.onData != nil
		port.mu.Unlock()
		if ready || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	port.deliver(answer(readFrame(t, 9, 0)))

	select {
	case f := <-got:
		if f.SlaveAddress != 9 {
			t.Errorf("SlaveAddress = %d, want 9", f.SlaveAddress)
		}
	case <-time.After(time.Second):
		t.Fatal("unsolicited frame not delivered")
	}
}
