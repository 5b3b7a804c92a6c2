// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"testing"
)

func TestCalculateRequestLength(t *testing.T) {
	tests := []struct {
		name     string
		funcCode byte
		header   []byte
		want     int
		wantErr  bool
	}{
		{"ReadHoldingRegisters", 0x03, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 8, false},
		{"WriteSingleRegister", 0x06, []byte{0x01, 0x06, 0x00, 0x00, 0xAA, 0xBB}, 8, false},
		{"WriteMultipleRegisters_ShortHeader", 0x10, []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01}, 0, true},
		{"WriteMultipleRegisters_Valid", 0x10, []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01, 0x02}, 7 + 2 + 2, false},
		{"UnknownFunction", 0x99, []byte{0x01, 0x99}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateRequestLength(tt.funcCode, tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("CalculateRequestLength() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("CalculateRequestLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResponseLength(t *testing.T) {
	tests := []struct {
		name     string
		funcCode byte
		quantity uint16
		want     int
	}{
		{"ReadCoils_1", 0x01, 1, 6},
		{"ReadCoils_8", 0x01, 8, 6},
		{"ReadCoils_9", 0x01, 9, 7},
		{"ReadDiscreteInputs_16", 0x02, 16, 7},
		{"ReadHoldingRegisters_10", 0x03, 10, 25},
		{"ReadInputRegisters_1", 0x04, 1, 7},
		{"WriteSingleCoil", 0x05, 0xFF00, 8},
		{"WriteSingleRegister", 0x06, 1234, 8},
		{"WriteMultipleCoils", 0x0F, 20, 8},
		{"WriteMultipleRegisters", 0x10, 3, 8},
		{"Unknown", 0x2B, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResponseLength(tt.funcCode, tt.quantity); got != tt.want {
				t.Errorf("ResponseLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateResponseLength(t *testing.T) {
	adu := []byte{0x01, 0x03, 0x00, 0x0A, 0x00, 0x0A, 0xE5, 0xCF}
	if got := CalculateResponseLength(adu); got != 25 {
		t.Errorf("CalculateResponseLength() = %v, want 25", got)
	}
}

func TestFramer(t *testing.T) {
	readResp := []byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02, 0x2A, 0x32}
	exception := []byte{0x01, 0x83, 0x02, 0xC0, 0xF1}
	echo := []byte{0x11, 0x05, 0x00, 0xAC, 0xFF, 0x00, 0x4E, 0x8B}

	var stream []byte
	stream = append(stream, readResp...)
	stream = append(stream, exception...)
	stream = append(stream, echo...)

	// Feed in uneven chunks.
	var f Framer
	var frames [][]byte
	for i := 0; i < len(stream); i += 3 {
		end := i + 3
		if end > len(stream) {
			end = len(stream)
		}
		frames = append(frames, f.Push(stream[i:end])...)
	}

	want := [][]byte{readResp, exception, echo}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i := range want {
		if !bytes.Equal(frames[i], want[i]) {
			t.Errorf("frame %d.\nWant: %X\nGot:  %X", i, want[i], frames[i])
		}
	}
	if f.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", f.Pending())
	}
}

func TestFramerFlushIncomplete(t *testing.T) {
	var f Framer
	if frames := f.Push([]byte{0x01, 0x03, 0x04, 0x00}); len(frames) != 0 {
		t.Fatalf("unexpected frames %X", frames)
	}
	if f.Pending() != 4 {
		t.Fatalf("Pending() = %d, want 4", f.Pending())
	}
	partial := f.Flush()
	if !bytes.Equal(partial, []byte{0x01, 0x03, 0x04, 0x00}) {
		t.Errorf("Flush() = %X", partial)
	}
	if f.Flush() != nil {
		t.Error("second Flush() should return nil")
	}
}

func TestFramerUnknownFunction(t *testing.T) {
	var f Framer
	if frames := f.Push([]byte{0x01, 0x2B, 0x0E, 0x01}); len(frames) != 0 {
		t.Fatalf("unexpected frames %X", frames)
	}
	if got := f.Flush(); len(got) != 4 {
		t.Errorf("Flush() returned %d bytes, want 4", len(got))
	}
}
