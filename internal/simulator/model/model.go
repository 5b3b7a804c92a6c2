// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package model is the data model of a simulated slave: four flat tables
// covering the full 16-bit address space.
package model

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ffutop/modbus-master/modbus"
)

const (
	MaxAddress = 65535
)

// ErrOutOfRange is returned for accesses beyond the address space.
var ErrOutOfRange = errors.New("model: address range out of bounds")

// TableType represents the type of Modbus data table.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

func (t TableType) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discrete_inputs"
	case TableHoldingRegisters:
		return "holding_registers"
	case TableInputRegisters:
		return "input_registers"
	}
	return "unknown"
}

// TableFor returns the table a function code addresses.
func TableFor(fc byte) (TableType, bool) {
	switch fc {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteMultipleCoils:
		return TableCoils, true
	case modbus.FuncCodeReadDiscreteInputs:
		return TableDiscreteInputs, true
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeWriteSingleRegister, modbus.FuncCodeWriteMultipleRegisters:
		return TableHoldingRegisters, true
	case modbus.FuncCodeReadInputRegisters:
		return TableInputRegisters, true
	}
	return 0, false
}

// DataModel holds the tables. Bit tables store one byte per bit, 1 for ON.
type DataModel struct {
	mu sync.RWMutex

	Coils            []byte
	DiscreteInputs   []byte
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

// NewDataModel creates a zeroed model.
func NewDataModel() *DataModel {
	return &DataModel{
		Coils:            make([]byte, MaxAddress+1),
		DiscreteInputs:   make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
		InputRegisters:   make([]uint16, MaxAddress+1),
	}
}

func (m *DataModel) bits(t TableType) []byte {
	if t == TableDiscreteInputs {
		return m.DiscreteInputs
	}
	return m.Coils
}

func (m *DataModel) registers(t TableType) []uint16 {
	if t == TableInputRegisters {
		return m.InputRegisters
	}
	return m.HoldingRegisters
}

// ReadBits returns quantity bits of a bit table, packed LSB first.
func (m *DataModel) ReadBits(t TableType, address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	table := m.bits(t)
	packed := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if table[int(address)+i] != 0 {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	return packed, nil
}

// WriteBits stores quantity bits from packed data.
func (m *DataModel) WriteBits(t TableType, address, quantity uint16, packed []byte) error {
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(packed) < (int(quantity)+7)/8 {
		return errors.New("model: insufficient data length")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.bits(t)
	for i := 0; i < int(quantity); i++ {
		table[int(address)+i] = (packed[i/8] >> uint(i%8)) & 1
	}
	return nil
}

// ReadRegisters returns quantity registers as big endian bytes.
func (m *DataModel) ReadRegisters(t TableType, address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	table := m.registers(t)
	out := make([]byte, 0, 2*int(quantity))
	for i := 0; i < int(quantity); i++ {
		out = binary.BigEndian.AppendUint16(out, table[int(address)+i])
	}
	return out, nil
}

// WriteRegisters stores quantity registers from big endian bytes.
func (m *DataModel) WriteRegisters(t TableType, address, quantity uint16, data []byte) error {
	if err := validateRange(address, quantity); err != nil {
		return err
	}
	if len(data) < 2*int(quantity) {
		return errors.New("model: insufficient data length")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.registers(t)
	for i := 0; i < int(quantity); i++ {
		table[int(address)+i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return nil
}

// SetBit sets one bit of any bit table, read-only tables included.
func (m *DataModel) SetBit(t TableType, address uint16, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var v byte
	if on {
		v = 1
	}
	m.bits(t)[address] = v
}

// SetRegister sets one register of any register table.
func (m *DataModel) SetRegister(t TableType, address, value uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers(t)[address] = value
}

// Register returns one register of a register table.
func (m *DataModel) Register(t TableType, address uint16) uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registers(t)[address]
}

// Value returns the stored value of one entry of any table.
func (m *DataModel) Value(t TableType, address uint16) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch t {
	case TableCoils, TableDiscreteInputs:
		return int64(m.bits(t)[address])
	}
	return int64(m.registers(t)[address])
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return errors.New("model: quantity must be greater than 0")
	}
	if int(address)+int(quantity) > MaxAddress+1 {
		return ErrOutOfRange
	}
	return nil
}
