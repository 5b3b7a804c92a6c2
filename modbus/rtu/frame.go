// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/ffutop/modbus-master/modbus"
)

// Frame is a decoded RTU frame. Decoding never fails: callers check
// IsValidLength and IsValidChecksum before trusting any parsed field, and
// the fields are only populated when both hold.
type Frame struct {
	raw []byte

	validLength   bool
	validChecksum bool

	SlaveAddress byte
	FunctionCode byte

	// Address and Quantity are set for requests and for write echoes.
	// Quantity holds the value for single writes.
	Address  uint16
	Quantity uint16

	// ByteCount and Payload are set for read responses and multiple writes.
	ByteCount byte
	Payload   []byte

	// ExceptionCode is set when FunctionCode has the exception bit.
	ExceptionCode byte
}

// Decode decodes a frame sent by a slave.
func Decode(raw []byte) *Frame {
	f := newFrame(raw)
	if f.Valid() {
		f.parseResponse()
	}
	return f
}

// DecodeRequest decodes a frame sent by a master.
func DecodeRequest(raw []byte) *Frame {
	f := newFrame(raw)
	if f.Valid() {
		f.parseRequest()
	}
	return f
}

func newFrame(raw []byte) *Frame {
	f := &Frame{raw: raw}
	f.validLength = len(raw) >= MinSize && len(raw) <= MaxSize
	f.validChecksum = checksumOK(raw)
	return f
}

// IsValidLength reports whether the frame is between MinSize and MaxSize
// bytes long.
func (f *Frame) IsValidLength() bool { return f.validLength }

// IsValidChecksum reports whether the trailing CRC matches the content.
func (f *Frame) IsValidChecksum() bool { return f.validChecksum }

// Valid reports whether both validity predicates hold.
func (f *Frame) Valid() bool { return f.validLength && f.validChecksum }

// Len returns the length of the raw frame.
func (f *Frame) Len() int { return len(f.raw) }

// Bytes returns the raw frame.
func (f *Frame) Bytes() []byte { return f.raw }

func (f *Frame) String() string { return hex.EncodeToString(f.raw) }

// IsException reports whether the frame is an exception response.
func (f *Frame) IsException() bool {
	return f.Valid() && f.FunctionCode&modbus.ExceptionBit != 0
}

// Exception returns the exception carried by the frame, or nil.
func (f *Frame) Exception() *modbus.ExceptionError {
	if !f.IsException() {
		return nil
	}
	return &modbus.ExceptionError{FunctionCode: f.FunctionCode, Code: f.ExceptionCode}
}

// Registers returns the big-endian registers of a register read response.
func (f *Frame) Registers() []uint16 {
	regs := make([]uint16, len(f.Payload)/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(f.Payload[2*i:])
	}
	return regs
}

// Bits returns the first n states of a bit read response.
func (f *Frame) Bits(n int) []bool {
	return UnpackBits(f.Payload, n)
}

func (f *Frame) parseResponse() {
	body := f.raw[:len(f.raw)-2]
	f.SlaveAddress = body[0]
	f.FunctionCode = body[1]
	data := body[2:]

	if f.FunctionCode&modbus.ExceptionBit != 0 {
		f.ExceptionCode = data[0]
		return
	}
	switch f.FunctionCode {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		f.ByteCount = data[0]
		f.Payload = data[1:]
		if int(f.ByteCount) < len(f.Payload) {
			f.Payload = f.Payload[:f.ByteCount]
		}
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		f.parseHeader(data)
	default:
		f.Payload = data
	}
}

func (f *Frame) parseRequest() {
	body := f.raw[:len(f.raw)-2]
	f.SlaveAddress = body[0]
	f.FunctionCode = body[1]
	data := body[2:]

	f.parseHeader(data)
	switch f.FunctionCode {
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		if len(data) > 4 {
			f.ByteCount = data[4]
			f.Payload = data[5:]
		}
	}
}

func (f *Frame) parseHeader(data []byte) {
	if len(data) < 4 {
		f.Payload = data
		return
	}
	f.Address = binary.BigEndian.Uint16(data[0:])
	f.Quantity = binary.BigEndian.Uint16(data[2:])
}
