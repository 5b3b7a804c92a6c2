// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"

	"github.com/ffutop/modbus-master/internal/config"
)

// NewBugstPort allocates a port on a local serial device through go.bug.st/serial.
func NewBugstPort(cfg config.SerialConfig) *StreamPort {
	open := func(ctx context.Context) (io.ReadWriteCloser, error) {
		port, err := serial.Open(cfg.Device, bugstMode(cfg))
		if err != nil {
			return nil, err
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = serialTimeout
		}
		if err := port.SetReadTimeout(timeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
		if err := port.ResetInputBuffer(); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to reset input buffer: %w", err)
		}
		return port, nil
	}
	return NewStreamPort(cfg.Device, open, silenceFor(cfg.FrameTimeout, cfg.BaudRate))
}

func bugstMode(cfg config.SerialConfig) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch cfg.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	if cfg.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode
}

// ListPorts returns the serial ports found on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
