// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"io"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/modbus-master/internal/config"
)

const (
	// Default timeout
	serialTimeout = 100 * time.Millisecond
)

// NewSerialPort allocates a port on a local serial device through grid-x/serial.
func NewSerialPort(cfg config.SerialConfig) *StreamPort {
	sc := serialConfig(cfg)
	open := func(ctx context.Context) (io.ReadWriteCloser, error) {
		return serial.Open(&sc)
	}
	return NewStreamPort(cfg.Device, open, silenceFor(cfg.FrameTimeout, cfg.BaudRate))
}

// serialConfig maps the internal config to serial.Config.
func serialConfig(cfg config.SerialConfig) serial.Config {
	sc := serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}
	if sc.Timeout <= 0 {
		sc.Timeout = serialTimeout
	}
	if cfg.RS485 {
		sc.RS485.Enabled = true
		sc.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		sc.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		sc.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		sc.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		sc.RS485.RxDuringTx = cfg.RxDuringTx
	}
	return sc
}
