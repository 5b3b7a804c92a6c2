// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtu

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func pipePort(t *testing.T, silence time.Duration) (*StreamPort, net.Conn, chan []byte) {
	t.Helper()
	local, remote := net.Pipe()
	port := NewStreamPort("pipe", func(ctx context.Context) (io.ReadWriteCloser, error) {
		return local, nil
	}, silence)

	frames := make(chan []byte, 8)
	port.OnData(func(frame []byte) { frames <- frame })
	if err := port.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		port.Close()
		remote.Close()
	})
	return port, remote, frames
}

func nextFrame(t *testing.T, frames chan []byte) []byte {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
	return nil
}

func TestStreamPort_Frames(t *testing.T) {
	_, remote, frames := pipePort(t, time.Second)

	resp := withCRC([]byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02})
	go func() {
		remote.Write(resp[:3])
		time.Sleep(5 * time.Millisecond)
		remote.Write(resp[3:])
	}()

	if got := nextFrame(t, frames); !bytes.Equal(got, resp) {
		t.Errorf("frame mismatch.\nWant: %X\nGot:  %X", resp, got)
	}
}

func TestStreamPort_SilenceFlushesFragment(t *testing.T) {
	_, remote, frames := pipePort(t, 10*time.Millisecond)

	go remote.Write([]byte{0x01, 0x03, 0x04})

	got := nextFrame(t, frames)
	if !bytes.Equal(got, []byte{0x01, 0x03, 0x04}) {
		t.Errorf("fragment = %X", got)
	}
}

func TestStreamPort_Write(t *testing.T) {
	port, remote, _ := pipePort(t, time.Second)

	req := withCRC([]byte{0x01, 0x03, 0x00, 0x0A, 0x00, 0x0A})
	go port.Write(req)

	buf := make([]byte, len(req))
	if _, err := io.ReadFull(remote, buf); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(buf, req) {
		t.Errorf("written %X, want %X", buf, req)
	}
}

func TestStreamPort_WriteBeforeOpen(t *testing.T) {
	port := NewStreamPort("closed", nil, 0)
	if err := port.Write([]byte{0x01}); err != ErrNotOpen {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
}

func TestFrameDelay(t *testing.T) {
	tests := []struct {
		baud int
		want time.Duration
	}{
		{0, 1750 * time.Microsecond},
		{9600, 3645 * time.Microsecond},
		{19200, 1822 * time.Microsecond},
		{115200, 1750 * time.Microsecond},
	}
	for _, tt := range tests {
		if got := frameDelay(tt.baud); got != tt.want {
			t.Errorf("frameDelay(%d) = %v, want %v", tt.baud, got, tt.want)
		}
	}
	if got := silenceFor(0, 9600); got != DefaultSilence {
		t.Errorf("silenceFor(0, 9600) = %v", got)
	}
	if got := silenceFor(50*time.Millisecond, 9600); got != 50*time.Millisecond {
		t.Errorf("silenceFor(50ms, 9600) = %v", got)
	}
}
