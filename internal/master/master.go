// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master is the caller-facing request API: one method per Modbus
// function code, each resolving to a decoded response or a typed error.
package master

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-master/internal/messenger"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

// Options are applied to every request the client issues.
type Options struct {
	Retries int
	// Timeout overrides the transport response timeout when positive.
	Timeout time.Duration
}

// Client issues Modbus requests through a messenger.
type Client struct {
	m    *messenger.Messenger
	opts Options
	log  *slog.Logger
}

// New creates a client on top of m.
func New(m *messenger.Messenger, opts Options) *Client {
	return &Client{
		m:    m,
		opts: opts,
		log:  slog.With("component", "master"),
	}
}

// Messenger returns the messenger the client submits to.
func (c *Client) Messenger() *messenger.Messenger {
	return c.m
}

// Flush fails every queued request except the one in flight.
func (c *Client) Flush() {
	c.m.Flush()
}

// Response is a decoded response. Bits is set for coil and discrete input
// reads, Registers for register reads.
type Response struct {
	Frame     *rtu.Frame
	Bits      []bool
	Registers []uint16
}

// Values returns the response payload as plain integers: 0/1 for bits,
// the register value otherwise.
func (r *Response) Values() []int {
	if r.Bits != nil {
		values := make([]int, len(r.Bits))
		for i, b := range r.Bits {
			if b {
				values[i] = 1
			}
		}
		return values
	}
	values := make([]int, len(r.Registers))
	for i, v := range r.Registers {
		values[i] = int(v)
	}
	return values
}

// Future is the pending outcome of an asynchronous request.
type Future struct {
	once sync.Once
	done chan struct{}
	resp *Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(resp *Response, err error) {
	f.once.Do(func() {
		f.resp, f.err = resp, err
		close(f.done)
	})
}

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the outcome is known or ctx is done. Giving up on the
// wait leaves the request queued.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestType is the correlation key of a request: requests from the same
// origin for the same data supersede each other while queued.
func RequestType(origin string, r *rtu.Request) string {
	return fmt.Sprintf("%s/%d/%d/%d/%d", origin, r.SlaveAddress, r.FunctionCode, r.Address, r.Quantity)
}

// Describe renders a request for the logs.
func Describe(r *rtu.Request) string {
	prefix := fmt.Sprintf("SlaveAddress %d, (%02d) %s from 0x%04x", r.SlaveAddress, r.FunctionCode, modbus.FunctionName(r.FunctionCode), r.Address)
	switch r.FunctionCode {
	case modbus.FuncCodeWriteSingleCoil:
		return fmt.Sprintf("%s state %t", prefix, r.Quantity == modbus.CoilOn)
	case modbus.FuncCodeWriteSingleRegister:
		return fmt.Sprintf("%s value %d", prefix, r.Quantity)
	case modbus.FuncCodeWriteMultipleCoils:
		return fmt.Sprintf("%s array %v", prefix, r.Bits)
	case modbus.FuncCodeWriteMultipleRegisters:
		return fmt.Sprintf("%s array %v", prefix, r.Registers)
	}
	return fmt.Sprintf("%s length %d", prefix, r.Quantity)
}

// Submit queues r and calls done exactly once with the decoded response.
// It fails only if r cannot be encoded.
func (c *Client) Submit(r *rtu.Request, origin string, done func(*Response, error)) error {
	raw, err := r.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req := &messenger.Request{
		SlaveAddress:   r.SlaveAddress,
		FunctionCode:   r.FunctionCode,
		Frame:          raw,
		ResponseLength: r.ResponseLength(),
		RequestType:    RequestType(origin, r),
		Description:    Describe(r),
		Retries:        c.opts.Retries,
		Timeout:        c.opts.Timeout,
	}
	quantity := int(r.Quantity)
	c.m.Submit(req, func(frame *rtu.Frame, err error) {
		if err != nil {
			c.log.Debug("Request failed", "description", req.Description, "err", err)
			done(nil, err)
			return
		}
		done(decode(frame, quantity), nil)
	})
	return nil
}

func decode(frame *rtu.Frame, quantity int) *Response {
	resp := &Response{Frame: frame}
	switch frame.FunctionCode {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs:
		resp.Bits = frame.Bits(quantity)
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		resp.Registers = frame.Registers()
	}
	return resp
}

// Go queues r and returns a future for its outcome.
func (c *Client) Go(r *rtu.Request, origin string) (*Future, error) {
	f := newFuture()
	if err := c.Submit(r, origin, f.resolve); err != nil {
		return nil, err
	}
	return f, nil
}

// Do queues r and waits for its outcome.
func (c *Client) Do(ctx context.Context, r *rtu.Request, origin string) (*Response, error) {
	f, err := c.Go(r, origin)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

// Call dispatches by function code number. For reads n is the quantity;
// for single writes it is the value, any non-zero value switching a coil on.
// Multiple writes carry a payload and have their own methods.
func (c *Client) Call(fc, slave byte, address, n uint16, origin string) (*Future, error) {
	var (
		r   *rtu.Request
		err error
	)
	switch fc {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		r, err = rtu.NewReadRequest(slave, fc, address, n)
	case modbus.FuncCodeWriteSingleCoil:
		r = rtu.NewWriteCoilRequest(slave, address, n != 0)
	case modbus.FuncCodeWriteSingleRegister:
		r = rtu.NewWriteRegisterRequest(slave, address, n)
	default:
		err = fmt.Errorf("modbus: function code 0x%02X cannot be called with a scalar", fc)
	}
	if err != nil {
		return nil, err
	}
	return c.Go(r, origin)
}

// ReadCoilsAsync issues (01) Read Coils.
func (c *Client) ReadCoilsAsync(slave byte, address, length uint16, origin string) (*Future, error) {
	return c.Call(modbus.FuncCodeReadCoils, slave, address, length, origin)
}

// ReadDiscreteInputsAsync issues (02) Read Discrete Inputs.
func (c *Client) ReadDiscreteInputsAsync(slave byte, address, length uint16, origin string) (*Future, error) {
	return c.Call(modbus.FuncCodeReadDiscreteInputs, slave, address, length, origin)
}

// ReadHoldingRegistersAsync issues (03) Read Holding Registers.
func (c *Client) ReadHoldingRegistersAsync(slave byte, address, length uint16, origin string) (*Future, error) {
	return c.Call(modbus.FuncCodeReadHoldingRegisters, slave, address, length, origin)
}

// ReadInputRegistersAsync issues (04) Read Input Registers.
func (c *Client) ReadInputRegistersAsync(slave byte, address, length uint16, origin string) (*Future, error) {
	return c.Call(modbus.FuncCodeReadInputRegisters, slave, address, length, origin)
}

// WriteCoilAsync issues (05) Force Single Coil.
func (c *Client) WriteCoilAsync(slave byte, address uint16, state bool, origin string) (*Future, error) {
	return c.Go(rtu.NewWriteCoilRequest(slave, address, state), origin)
}

// WriteRegisterAsync issues (06) Preset Single Register.
func (c *Client) WriteRegisterAsync(slave byte, address, value uint16, origin string) (*Future, error) {
	return c.Go(rtu.NewWriteRegisterRequest(slave, address, value), origin)
}

// WriteCoilsAsync issues (15) Force Multiple Coils.
func (c *Client) WriteCoilsAsync(slave byte, address uint16, states []bool, origin string) (*Future, error) {
	r, err := rtu.NewWriteCoilsRequest(slave, address, states)
	if err != nil {
		return nil, err
	}
	return c.Go(r, origin)
}

// WriteRegistersAsync issues (16) Preset Multiple Registers.
func (c *Client) WriteRegistersAsync(slave byte, address uint16, values []uint16, origin string) (*Future, error) {
	r, err := rtu.NewWriteRegistersRequest(slave, address, values)
	if err != nil {
		return nil, err
	}
	return c.Go(r, origin)
}

func wait(ctx context.Context, f *Future, err error) (*Response, error) {
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

func (c *Client) ReadCoils(ctx context.Context, slave byte, address, length uint16, origin string) (*Response, error) {
	f, err := c.ReadCoilsAsync(slave, address, length, origin)
	return wait(ctx, f, err)
}

func (c *Client) ReadDiscreteInputs(ctx context.Context, slave byte, address, length uint16, origin string) (*Response, error) {
	f, err := c.ReadDiscreteInputsAsync(slave, address, length, origin)
	return wait(ctx, f, err)
}

func (c *Client) ReadHoldingRegisters(ctx context.Context, slave byte, address, length uint16, origin string) (*Response, error) {
	f, err := c.ReadHoldingRegistersAsync(slave, address, length, origin)
	return wait(ctx, f, err)
}

func (c *Client) ReadInputRegisters(ctx context.Context, slave byte, address, length uint16, origin string) (*Response, error) {
	f, err := c.ReadInputRegistersAsync(slave, address, length, origin)
	return wait(ctx, f, err)
}

func (c *Client) WriteCoil(ctx context.Context, slave byte, address uint16, state bool, origin string) (*Response, error) {
	f, err := c.WriteCoilAsync(slave, address, state, origin)
	return wait(ctx, f, err)
}

func (c *Client) WriteRegister(ctx context.Context, slave byte, address, value uint16, origin string) (*Response, error) {
	f, err := c.WriteRegisterAsync(slave, address, value, origin)
	return wait(ctx, f, err)
}

func (c *Client) WriteCoils(ctx context.Context, slave byte, address uint16, states []bool, origin string) (*Response, error) {
	f, err := c.WriteCoilsAsync(slave, address, states, origin)
	return wait(ctx, f, err)
}

func (c *Client) WriteRegisters(ctx context.Context, slave byte, address uint16, values []uint16, origin string) (*Response, error) {
	f, err := c.WriteRegistersAsync(slave, address, values, origin)
	return wait(ctx, f, err)
}
