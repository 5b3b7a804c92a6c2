// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"errors"
	"testing"

	gbmodbus "github.com/goburrow/modbus"

	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/modbus/crc"
)

func TestEncodeReadHoldingRegisters(t *testing.T) {
	req, err := NewReadRequest(0x01, modbus.FuncCodeReadHoldingRegisters, 0x000A, 10)
	if err != nil {
		t.Fatalf("NewReadRequest failed: %v", err)
	}
	raw, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x0A, 0x00, 0x0A, 0xE5, 0xCF}
	if !bytes.Equal(raw, want) {
		t.Errorf("Request mismatch.\nWant: %X\nGot:  %X", want, raw)
	}
	if len(raw) != 8 {
		t.Errorf("frame length = %d, want 8", len(raw))
	}
	if got := req.ResponseLength(); got != 25 {
		t.Errorf("ResponseLength() = %d, want 25", got)
	}
}

func TestEncodeMatchesGoburrow(t *testing.T) {
	coils, _ := NewWriteCoilsRequest(0x11, 0x0013, []bool{true, false, true, true, false, false, true, true, true, false})
	regs, _ := NewWriteRegistersRequest(0x11, 0x0001, []uint16{0x000A, 0x0102})
	readCoils, _ := NewReadRequest(0x02, modbus.FuncCodeReadCoils, 0x0013, 37)
	readInputs, _ := NewReadRequest(0xF7, modbus.FuncCodeReadInputRegisters, 0x0008, 1)

	tests := []struct {
		name string
		req  *Request
	}{
		{"ReadCoils", readCoils},
		{"ReadInputRegisters", readInputs},
		{"WriteSingleCoil", NewWriteCoilRequest(0x11, 0x00AC, true)},
		{"WriteSingleRegister", NewWriteRegisterRequest(0x11, 0x0001, 0x0003)},
		{"WriteMultipleCoils", coils},
		{"WriteMultipleRegisters", regs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			handler := gbmodbus.NewRTUClientHandler("")
			handler.SlaveId = tt.req.SlaveAddress
			pdu := tt.req.PDU()
			want, err := handler.Encode(&gbmodbus.ProtocolDataUnit{FunctionCode: pdu.FunctionCode, Data: pdu.Data})
			if err != nil {
				t.Fatalf("goburrow Encode failed: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("Request mismatch.\nWant: %X\nGot:  %X", want, got)
			}
		})
	}
}

func TestDecodeRequestRoundTrip(t *testing.T) {
	multi, _ := NewWriteRegistersRequest(7, 0xFFF0, []uint16{1, 2, 3})
	tests := []*Request{
		{SlaveAddress: 0, FunctionCode: modbus.FuncCodeReadCoils, Address: 0, Quantity: 1},
		{SlaveAddress: 1, FunctionCode: modbus.FuncCodeReadDiscreteInputs, Address: 0x1234, Quantity: 2000},
		{SlaveAddress: 247, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Address: 0xFF00, Quantity: 125},
		{SlaveAddress: 255, FunctionCode: modbus.FuncCodeReadInputRegisters, Address: 65535, Quantity: 1},
		NewWriteCoilRequest(3, 10, false),
		NewWriteRegisterRequest(3, 10, 0xBEEF),
		multi,
	}

	for _, req := range tests {
		raw, err := req.Encode()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		f := DecodeRequest(raw)
		if !f.Valid() {
			t.Fatalf("decoded frame %s is not valid", f)
		}
		if f.SlaveAddress != req.SlaveAddress || f.FunctionCode != req.FunctionCode ||
			f.Address != req.Address || f.Quantity != req.Quantity {
			t.Errorf("round trip mismatch: got %d/%02X/%d/%d, want %d/%02X/%d/%d",
				f.SlaveAddress, f.FunctionCode, f.Address, f.Quantity,
				req.SlaveAddress, req.FunctionCode, req.Address, req.Quantity)
		}
	}
}

func TestDecodeResponse(t *testing.T) {
	f := Decode([]byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02, 0x2A, 0x32})
	if !f.IsValidLength() || !f.IsValidChecksum() {
		t.Fatalf("expected valid frame, got length=%v checksum=%v", f.IsValidLength(), f.IsValidChecksum())
	}
	regs := f.Registers()
	if len(regs) != 2 || regs[0] != 1 || regs[1] != 2 {
		t.Errorf("Registers() = %v, want [1 2]", regs)
	}

	f = Decode([]byte{0x01, 0x01, 0x01, 0x05, 0x91, 0x8B})
	bits := f.Bits(3)
	if len(bits) != 3 || !bits[0] || bits[1] || !bits[2] {
		t.Errorf("Bits(3) = %v, want [true false true]", bits)
	}

	f = Decode([]byte{0x11, 0x05, 0x00, 0xAC, 0xFF, 0x00, 0x4E, 0x8B})
	if f.Address != 0x00AC || f.Quantity != modbus.CoilOn {
		t.Errorf("echo = %04X/%04X, want 00AC/FF00", f.Address, f.Quantity)
	}
}

func TestDecodeException(t *testing.T) {
	f := Decode([]byte{0x01, 0x83, 0x02, 0xC0, 0xF1})
	if !f.IsException() {
		t.Fatal("expected exception frame")
	}
	exc := f.Exception()
	if exc.Code != modbus.ExceptionCodeIllegalDataAddress {
		t.Errorf("exception code = %d, want 2", exc.Code)
	}
	if exc.Description() != "illegal data address" {
		t.Errorf("description = %q", exc.Description())
	}

	var target *modbus.ExceptionError
	if !errors.As(error(exc), &target) {
		t.Error("errors.As failed for ExceptionError")
	}
}

func TestDecodeBitFlip(t *testing.T) {
	valid := []byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02, 0x2A, 0x32}
	for i := 0; i < len(valid)-2; i++ {
		for bit := 0; bit < 8; bit++ {
			raw := append([]byte(nil), valid...)
			raw[i] ^= 1 << uint(bit)
			f := Decode(raw)
			if f.IsValidChecksum() {
				t.Fatalf("byte %d bit %d: checksum still valid", i, bit)
			}
			if f.FunctionCode != 0 || f.Payload != nil || f.ByteCount != 0 {
				t.Fatalf("byte %d bit %d: fields parsed from invalid frame", i, bit)
			}
		}
	}
}

func TestDecodeShortFrame(t *testing.T) {
	// 0x01 0x83 with a correct CRC is 4 bytes long and never a valid frame.
	raw := []byte{0x01, 0x83}
	sum := checksumFor(raw)
	raw = append(raw, byte(sum), byte(sum>>8))

	for n := 0; n <= len(raw); n++ {
		f := Decode(raw[:n])
		if f.IsValidLength() {
			t.Errorf("length %d reported valid", n)
		}
	}
	if !Decode(raw).IsValidChecksum() {
		t.Error("checksum of short frame should still be computed")
	}
}

func TestDecodeLengthBounds(t *testing.T) {
	for _, n := range []int{MinSize, MaxSize, MaxSize + 1} {
		raw := make([]byte, n-2)
		raw[0], raw[1] = 1, 0x03
		sum := crc.Checksum(raw)
		raw = append(raw, byte(sum), byte(sum>>8))

		if got, want := Decode(raw).IsValidLength(), n <= MaxSize; got != want {
			t.Errorf("length %d: IsValidLength() = %t, want %t", n, got, want)
		}
	}
}

func TestEncodeRejectsInvalidQuantity(t *testing.T) {
	if _, err := NewReadRequest(1, modbus.FuncCodeReadHoldingRegisters, 0, 126); err == nil {
		t.Error("expected error for 126 registers")
	}
	if _, err := NewReadRequest(1, modbus.FuncCodeReadCoils, 0xFFFF, 2); err == nil {
		t.Error("expected error for range past 0xFFFF")
	}
	if _, err := NewReadRequest(1, modbus.FuncCodeWriteSingleCoil, 0, 1); err == nil {
		t.Error("expected error for non-read function code")
	}
	if _, err := NewWriteRegistersRequest(1, 0, nil); err == nil {
		t.Error("expected error for empty write")
	}
}

func TestPackBits(t *testing.T) {
	states := []bool{true, false, true, true, false, false, true, true, true, false}
	packed := PackBits(states)
	if !bytes.Equal(packed, []byte{0xCD, 0x01}) {
		t.Errorf("PackBits = %X, want CD01", packed)
	}
	got := UnpackBits(packed, len(states))
	for i := range states {
		if got[i] != states[i] {
			t.Fatalf("UnpackBits[%d] = %v, want %v", i, got[i], states[i])
		}
	}
}

func checksumFor(b []byte) uint16 {
	adu := ApplicationDataUnit{SlaveID: b[0], Pdu: modbus.ProtocolDataUnit{FunctionCode: b[1], Data: b[2:]}}
	raw, _ := adu.Encode()
	return uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
}
