// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"encoding/binary"

	"github.com/ffutop/modbus-master/internal/simulator/model"
	"github.com/ffutop/modbus-master/internal/simulator/persistence"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/rtu"
)

// Slave executes function codes against a data model.
type Slave struct {
	model   *model.DataModel
	storage persistence.Storage
}

// NewSlave creates a slave. storage may be nil.
func NewSlave(m *model.DataModel, storage persistence.Storage) *Slave {
	if storage == nil {
		storage = persistence.NewMemoryStorage()
	}
	return &Slave{model: m, storage: storage}
}

// Model returns the data model the slave serves.
func (s *Slave) Model() *model.DataModel {
	return s.model
}

// Process answers one request PDU. Malformed or out of range requests are
// answered with an exception PDU, never with an error.
func (s *Slave) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	table, ok := model.TableFor(req.FunctionCode)
	if !ok {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs:
		return s.read(req, table, rtu.MaxReadBits)
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		return s.read(req, table, rtu.MaxReadRegisters)
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister:
		return s.writeSingle(req, table)
	default:
		return s.writeMultiple(req, table)
	}
}

func (s *Slave) read(req modbus.ProtocolDataUnit, table model.TableType, limit int) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || int(quantity) > limit {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	var (
		data []byte
		err  error
	)
	if modbus.IsBitAccess(req.FunctionCode) {
		data, err = s.model.ReadBits(table, address, quantity)
	} else {
		data, err = s.model.ReadRegisters(table, address, quantity)
	}
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	resp := make([]byte, 0, 1+len(data))
	resp = append(resp, byte(len(data)))
	resp = append(resp, data...)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: resp}
}

func (s *Slave) writeSingle(req modbus.ProtocolDataUnit, table model.TableType) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	var err error
	if req.FunctionCode == modbus.FuncCodeWriteSingleCoil {
		if value != modbus.CoilOn && value != modbus.CoilOff {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		err = s.model.WriteBits(table, address, 1, []byte{byte(value >> 8 & 1)})
	} else {
		err = s.model.WriteRegisters(table, address, 1, req.Data[2:4])
	}
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	s.storage.OnWrite(table, address, 1)
	return req
}

func (s *Slave) writeMultiple(req modbus.ProtocolDataUnit, table model.TableType) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := int(req.Data[4])
	payload := req.Data[5:]
	if len(payload) != byteCount {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	var err error
	if req.FunctionCode == modbus.FuncCodeWriteMultipleCoils {
		if quantity < 1 || int(quantity) > rtu.MaxWriteBits || byteCount != (int(quantity)+7)/8 {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		err = s.model.WriteBits(table, address, quantity, payload)
	} else {
		if quantity < 1 || int(quantity) > rtu.MaxWriteRegisters || byteCount != 2*int(quantity) {
			return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
		}
		err = s.model.WriteRegisters(table, address, quantity, payload)
	}
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	s.storage.OnWrite(table, address, quantity)

	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: req.Data[0:4]}
}

func exception(fc, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: fc | modbus.ExceptionBit,
		Data:         []byte{code},
	}
}
