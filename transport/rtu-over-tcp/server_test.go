// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtuovertcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ffutop/modbus-master/modbus"
	rtupacket "github.com/ffutop/modbus-master/modbus/rtu"
)

func TestServer_LifeCycle(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()

	s := NewServer(addr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		if slaveID != 1 {
			t.Errorf("Handler expected slaveID 1, got %d", slaveID)
		}
		return modbus.ProtocolDataUnit{
			FunctionCode: 0x03,
			Data:         []byte{0x02, 0xAA, 0xBB},
		}, nil
	}

	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, l, handler) }()

	port := NewPort(addr, time.Second, 50*time.Millisecond)
	frames := make(chan []byte, 1)
	port.OnData(func(frame []byte) { frames <- frame })
	if err := port.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer port.Close()

	req, _ := rtupacket.NewReadRequest(1, modbus.FuncCodeReadHoldingRegisters, 0, 1)
	raw, _ := req.Encode()
	if err := port.Write(raw); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case resp := <-frames:
		f := rtupacket.Decode(resp)
		if !f.Valid() {
			t.Fatalf("invalid response %s", f)
		}
		if regs := f.Registers(); len(regs) != 1 || regs[0] != 0xAABB {
			t.Errorf("Unexpected registers: %X", regs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}

	port.Close()
	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
