// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/modbus"
	rtupacket "github.com/ffutop/modbus-master/modbus/rtu"
	"github.com/ffutop/modbus-master/transport"
	"github.com/grid-x/serial"
)

// Server implements a Modbus RTU slave loop.
// It waits for requests from a master on a byte stream and answers them
// through a transport.RequestHandler.
type Server struct {
	Config config.SerialConfig
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig) *Server {
	return &Server{
		Config: cfg,
	}
}

// Start opens the configured serial device and serves it until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	sc := serialConfig(s.Config)
	port, err := serial.Open(&sc)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
	}
	slog.Info("RTU Server listening", "device", s.Config.Device)
	return s.Serve(ctx, port, handler)
}

// Serve answers requests arriving on port until ctx is done or the stream
// ends. It closes port on return.
func (s *Server) Serve(ctx context.Context, port io.ReadWriteCloser, handler transport.RequestHandler) error {
	defer port.Close()

	// handle close
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()

	return s.scanLoop(ctx, port, handler)
}

func (s *Server) scanLoop(ctx context.Context, port io.ReadWriteCloser, handler transport.RequestHandler) error {
	buf := make([]byte, rtupacket.MaxSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Read 1 byte to unblock
		n, err := port.Read(buf[:1])
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			continue
		}
		if n == 0 {
			continue
		}

		// Read header (attempt 7 bytes total to cover ByteCount for variable length functions)
		current := 1
		need := rtupacket.HeaderSize + 1
		for current < need {
			n, err := port.Read(buf[current:need])
			if err != nil {
				break
			}
			current += n
		}
		if current < 2 {
			continue
		}

		functionCode := buf[1]
		expectedLen, err := rtupacket.CalculateRequestLength(functionCode, buf[:current])
		if err != nil {
			slog.Debug("Discarding unsupported request", "err", err)
			continue
		}

		// Read remaining
		for current < expectedLen {
			n, err := port.Read(buf[current:expectedLen])
			if err != nil {
				break
			}
			current += n
		}
		if current != expectedLen {
			continue
		}

		frame := rtupacket.DecodeRequest(append([]byte(nil), buf[:expectedLen]...))
		if !frame.Valid() {
			slog.Debug("Discarding request with bad checksum", "request", frame.String())
			continue
		}
		slog.Debug("recv from modbus master", "request", frame.String())

		pdu := modbus.ProtocolDataUnit{
			FunctionCode: functionCode,
			Data:         frame.Bytes()[2 : expectedLen-2],
		}
		resp, err := handler(ctx, frame.SlaveAddress, pdu)
		if err != nil {
			if errors.Is(err, transport.ErrNoResponse) {
				continue
			}
			slog.Error("Request handler failed", "err", err)
			continue
		}

		adu := rtupacket.ApplicationDataUnit{SlaveID: frame.SlaveAddress, Pdu: resp}
		raw, err := adu.Encode()
		if err != nil {
			slog.Error("Failed to encode response", "err", err)
			continue
		}
		slog.Debug("send to modbus master", "response", hex.EncodeToString(raw))
		if _, err := port.Write(raw); err != nil {
			slog.Error("Failed to write response", "err", err)
		}
	}
}
