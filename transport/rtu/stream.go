// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	rtupacket "github.com/ffutop/modbus-master/modbus/rtu"
)

// ErrNotOpen is returned when writing to a port that is not open.
var ErrNotOpen = errors.New("rtu: port not open")

// DefaultSilence is the frame timeout used when none is configured. USB
// adapters split frames with gaps far above t3.5, so the derived value is
// only a lower bound.
const DefaultSilence = 20 * time.Millisecond

// Opener opens the underlying byte stream of a port.
type Opener func(ctx context.Context) (io.ReadWriteCloser, error)

// StreamPort turns a byte stream into a frame-oriented transport.Port.
// Frames are cut by function code; bytes that cannot be sized are
// delivered as they are once the line has been silent for the frame timeout.
type StreamPort struct {
	name    string
	open    Opener
	silence time.Duration

	mu     sync.Mutex
	port   io.ReadWriteCloser
	onData func([]byte)
	framer rtupacket.Framer
	idle   *time.Timer
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewStreamPort allocates a port named name for logging.
func NewStreamPort(name string, open Opener, silence time.Duration) *StreamPort {
	if silence <= 0 {
		silence = DefaultSilence
	}
	return &StreamPort{name: name, open: open, silence: silence}
}

// OnData registers the receiver of complete frames.
func (s *StreamPort) OnData(fn func(frame []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onData = fn
}

// Open opens the stream and starts the read loop.
func (s *StreamPort) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if s.port != nil {
		return nil
	}
	port, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", s.name, err)
	}
	s.port = port
	s.done = make(chan struct{})
	s.framer.Reset()

	s.wg.Add(1)
	go s.readLoop(port, s.done)
	slog.Info("Opened port", "port", s.name)
	return nil
}

// Write writes a whole frame.
func (s *StreamPort) Write(p []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()

	if port == nil {
		return ErrNotOpen
	}
	_, err := port.Write(p)
	return err
}

// Flush drops a partially received frame.
func (s *StreamPort) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framer.Reset()
	return nil
}

// Close closes the stream and waits for the read loop to exit.
func (s *StreamPort) Close() (err error) {
	s.mu.Lock()
	if s.port != nil {
		close(s.done)
		err = s.port.Close()
		s.port = nil
	}
	if s.idle != nil {
		s.idle.Stop()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return
}

func (s *StreamPort) readLoop(port io.Reader, done chan struct{}) {
	defer s.wg.Done()

	buf := make([]byte, rtupacket.MaxSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			s.received(buf[:n])
		}
		if err == nil {
			continue
		}
		select {
		case <-done:
			return
		default:
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			slog.Warn("Port stream ended", "port", s.name, "err", err)
			return
		}
		// Serial drivers report an idle line as a read timeout.
		select {
		case <-done:
			return
		case <-time.After(s.silence):
		}
	}
}

func (s *StreamPort) received(p []byte) {
	s.mu.Lock()
	frames := s.framer.Push(p)
	if s.framer.Pending() > 0 {
		if s.idle == nil {
			s.idle = time.AfterFunc(s.silence, s.flushIdle)
		} else {
			s.idle.Reset(s.silence)
		}
	}
	fn := s.onData
	s.mu.Unlock()

	if fn == nil {
		return
	}
	for _, frame := range frames {
		fn(frame)
	}
}

// flushIdle delivers whatever is buffered after the line went silent.
func (s *StreamPort) flushIdle() {
	s.mu.Lock()
	partial := s.framer.Flush()
	fn := s.onData
	s.mu.Unlock()

	if partial != nil && fn != nil {
		slog.Debug("Delivering incomplete frame after line silence", "port", s.name, "length", len(partial))
		fn(partial)
	}
}

// frameDelay is the t3.5 inter-frame silence for a baud rate.
func frameDelay(baudRate int) time.Duration {
	if baudRate <= 0 || baudRate > 19200 {
		return 1750 * time.Microsecond
	}
	return time.Duration(35000000/baudRate) * time.Microsecond
}

// silenceFor returns the configured frame timeout, or t3.5 raised to
// DefaultSilence.
func silenceFor(frameTimeout time.Duration, baudRate int) time.Duration {
	if frameTimeout > 0 {
		return frameTimeout
	}
	return max(frameDelay(baudRate), DefaultSilence)
}
