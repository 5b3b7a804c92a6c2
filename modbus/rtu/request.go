// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-master/modbus"
)

// Request is a logical master request before it is put on the wire.
//
// Quantity is the count for reads and multiple writes, and the value for
// single writes (0xFF00/0x0000 for a coil).
type Request struct {
	SlaveAddress byte
	FunctionCode byte
	Address      uint16
	Quantity     uint16

	// Bits and Registers carry the payload of multiple writes.
	Bits      []bool
	Registers []uint16
}

// NewReadRequest builds a read for fc 0x01-0x04.
func NewReadRequest(slave, fc byte, address, quantity uint16) (*Request, error) {
	if !modbus.IsRead(fc) {
		return nil, fmt.Errorf("modbus: function code 0x%02X is not a read", fc)
	}
	limit := MaxReadRegisters
	if modbus.IsBitAccess(fc) {
		limit = MaxReadBits
	}
	if quantity < 1 || int(quantity) > limit {
		return nil, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'", quantity, 1, limit)
	}
	if err := checkRange(address, quantity); err != nil {
		return nil, err
	}
	return &Request{SlaveAddress: slave, FunctionCode: fc, Address: address, Quantity: quantity}, nil
}

// NewWriteCoilRequest builds a Force Single Coil request.
func NewWriteCoilRequest(slave byte, address uint16, state bool) *Request {
	value := modbus.CoilOff
	if state {
		value = modbus.CoilOn
	}
	return &Request{SlaveAddress: slave, FunctionCode: modbus.FuncCodeWriteSingleCoil, Address: address, Quantity: value}
}

// NewWriteRegisterRequest builds a Preset Single Register request.
func NewWriteRegisterRequest(slave byte, address, value uint16) *Request {
	return &Request{SlaveAddress: slave, FunctionCode: modbus.FuncCodeWriteSingleRegister, Address: address, Quantity: value}
}

// NewWriteCoilsRequest builds a Force Multiple Coils request.
func NewWriteCoilsRequest(slave byte, address uint16, states []bool) (*Request, error) {
	n := len(states)
	if n < 1 || n > MaxWriteBits {
		return nil, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'", n, 1, MaxWriteBits)
	}
	if err := checkRange(address, uint16(n)); err != nil {
		return nil, err
	}
	return &Request{
		SlaveAddress: slave,
		FunctionCode: modbus.FuncCodeWriteMultipleCoils,
		Address:      address,
		Quantity:     uint16(n),
		Bits:         states,
	}, nil
}

// NewWriteRegistersRequest builds a Preset Multiple Registers request.
func NewWriteRegistersRequest(slave byte, address uint16, values []uint16) (*Request, error) {
	n := len(values)
	if n < 1 || n > MaxWriteRegisters {
		return nil, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'", n, 1, MaxWriteRegisters)
	}
	if err := checkRange(address, uint16(n)); err != nil {
		return nil, err
	}
	return &Request{
		SlaveAddress: slave,
		FunctionCode: modbus.FuncCodeWriteMultipleRegisters,
		Address:      address,
		Quantity:     uint16(n),
		Registers:    values,
	}, nil
}

func checkRange(address, quantity uint16) error {
	if int(address)+int(quantity) > 0x10000 {
		return fmt.Errorf("modbus: address '%v' plus quantity '%v' exceeds the address space", address, quantity)
	}
	return nil
}

// PDU returns the protocol data unit of the request.
func (r *Request) PDU() modbus.ProtocolDataUnit {
	data := make([]byte, 4, 5+2*len(r.Registers)+len(r.Bits)/8+1)
	binary.BigEndian.PutUint16(data[0:], r.Address)
	binary.BigEndian.PutUint16(data[2:], r.Quantity)

	switch r.FunctionCode {
	case modbus.FuncCodeWriteMultipleCoils:
		packed := PackBits(r.Bits)
		data = append(data, byte(len(packed)))
		data = append(data, packed...)
	case modbus.FuncCodeWriteMultipleRegisters:
		data = append(data, byte(2*len(r.Registers)))
		for _, v := range r.Registers {
			data = binary.BigEndian.AppendUint16(data, v)
		}
	}
	return modbus.ProtocolDataUnit{FunctionCode: r.FunctionCode, Data: data}
}

// Encode returns the wire bytes of the request, checksum included.
func (r *Request) Encode() ([]byte, error) {
	adu := ApplicationDataUnit{SlaveID: r.SlaveAddress, Pdu: r.PDU()}
	return adu.Encode()
}

// ResponseLength is the length of the frame a slave answers r with.
func (r *Request) ResponseLength() int {
	return ResponseLength(r.FunctionCode, r.Quantity)
}

// PackBits packs states LSB first, the first state in bit 0 of byte 0.
func PackBits(states []bool) []byte {
	packed := make([]byte, (len(states)+7)/8)
	for i, on := range states {
		if on {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	return packed
}

// UnpackBits is the inverse of PackBits for n states.
func UnpackBits(packed []byte, n int) []bool {
	if limit := len(packed) * 8; n > limit {
		n = limit
	}
	states := make([]bool, n)
	for i := range states {
		states[i] = packed[i/8]&(1<<uint(i%8)) != 0
	}
	return states
}
