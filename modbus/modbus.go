// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the protocol vocabulary shared by every layer of the
// master stack: function codes, exception codes, the protocol data unit and
// the error taxonomy.
package modbus

import "fmt"

const (
	// Bit access
	FuncCodeReadDiscreteInputs = 0x02
	FuncCodeReadCoils          = 0x01
	FuncCodeWriteSingleCoil    = 0x05
	FuncCodeWriteMultipleCoils = 0x0F

	// 16-bit access
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleRegisters = 0x10

	// ExceptionBit marks a response function code as an exception reply.
	ExceptionBit = 0x80
)

const (
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeServerDeviceFailure                = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeServerDeviceBusy                   = 6
	ExceptionCodeNegativeAcknowledge                = 7
	ExceptionCodeMemoryParityError                  = 8
	ExceptionCodeGatewayPathUnavailable             = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

// Coil states as they appear on the wire for Force Single Coil.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

var functionNames = map[byte]string{
	FuncCodeReadCoils:              "Read Coils",
	FuncCodeReadDiscreteInputs:     "Read Discrete Inputs",
	FuncCodeReadHoldingRegisters:   "Read Holding Registers",
	FuncCodeReadInputRegisters:     "Read Input Registers",
	FuncCodeWriteSingleCoil:        "Force Single Coil",
	FuncCodeWriteSingleRegister:    "Preset Single Register",
	FuncCodeWriteMultipleCoils:     "Force Multiple Coils",
	FuncCodeWriteMultipleRegisters: "Preset Multiple Registers",
}

// FunctionName returns the conventional name of a function code.
func FunctionName(fc byte) string {
	if name, ok := functionNames[fc&^ExceptionBit]; ok {
		return name
	}
	return fmt.Sprintf("Function 0x%02X", fc)
}

// IsRead reports whether fc is one of the four read function codes.
func IsRead(fc byte) bool {
	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		return true
	}
	return false
}

// IsBitAccess reports whether fc addresses coils or discrete inputs.
func IsBitAccess(fc byte) bool {
	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeWriteSingleCoil, FuncCodeWriteMultipleCoils:
		return true
	}
	return false
}
