// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-master/modbus"
)

const (
	stateSlaveID = 1 << iota
	stateFunctionCode
	stateReadLength
	stateReadPayload
	stateCRC
	stateUnsized
)

// ResponseLength returns the expected response length for a request with
// the given function code and quantity, or 0 when it cannot be predicted.
func ResponseLength(fc byte, quantity uint16) int {
	n := int(quantity)
	switch fc {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs:
		return 3 + ((n-1)/8 + 1) + 2
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		return 3 + 2*n + 2
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		return WriteResponseSize
	}
	return 0
}

// CalculateResponseLength returns the expected length of a response ADU.
func CalculateResponseLength(adu []byte) int {
	if len(adu) < HeaderSize {
		return 0
	}
	return ResponseLength(adu[1], binary.BigEndian.Uint16(adu[4:]))
}

// CalculateRequestLength returns the expected total length of the Request RTU ADU based on the header.
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	// [SlaveID, Func, Addr(2), Quant(2), ByteCount]
	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		return HeaderSize + 2, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		if len(header) < HeaderSize+1 {
			return 0, fmt.Errorf("need 7 bytes to determine length for 0x%02X, got %d", funcCode, len(header))
		}
		byteCount := int(header[HeaderSize])
		return HeaderSize + 1 + byteCount + 2, nil
	default:
		return 0, fmt.Errorf("unsupported function code: 0x%02X", funcCode)
	}
}

// Framer splits a byte stream coming from slaves into frames. Frames are
// sized from their function code; a frame whose size cannot be determined
// stays pending until Flush is called, typically after a line silence.
type Framer struct {
	data   []byte
	state  int
	toRead int
}

// Push appends bytes to the stream and returns every frame completed by them.
func (f *Framer) Push(p []byte) (frames [][]byte) {
	for _, b := range p {
		if frame := f.push(b); frame != nil {
			frames = append(frames, frame)
		}
	}
	return
}

func (f *Framer) push(b byte) []byte {
	if f.state == 0 {
		f.state = stateSlaveID
	}
	f.data = append(f.data, b)

	switch f.state {
	case stateSlaveID:
		f.state = stateFunctionCode
	case stateFunctionCode:
		switch {
		case b&modbus.ExceptionBit != 0:
			f.state, f.toRead = stateReadPayload, 1
		case modbus.IsRead(b):
			f.state = stateReadLength
		case b == modbus.FuncCodeWriteSingleCoil, b == modbus.FuncCodeWriteSingleRegister,
			b == modbus.FuncCodeWriteMultipleCoils, b == modbus.FuncCodeWriteMultipleRegisters:
			f.state, f.toRead = stateReadPayload, 4
		default:
			f.state = stateUnsized
		}
	case stateReadLength:
		if b == 0 || int(b) > MaxSize-5 {
			f.state = stateUnsized
			break
		}
		f.state, f.toRead = stateReadPayload, int(b)
	case stateReadPayload:
		f.toRead--
		if f.toRead == 0 {
			f.state, f.toRead = stateCRC, 2
		}
	case stateCRC:
		f.toRead--
		if f.toRead == 0 {
			return f.take()
		}
	case stateUnsized:
		if len(f.data) >= MaxSize {
			return f.take()
		}
	}
	return nil
}

// Pending returns the number of buffered bytes of an incomplete frame.
func (f *Framer) Pending() int { return len(f.data) }

// Flush returns the incomplete frame, if any, and resets the framer.
func (f *Framer) Flush() []byte {
	if len(f.data) == 0 {
		return nil
	}
	return f.take()
}

// Reset drops any buffered bytes.
func (f *Framer) Reset() {
	f.data, f.state, f.toRead = nil, 0, 0
}

func (f *Framer) take() []byte {
	frame := f.data
	f.Reset()
	return frame
}
