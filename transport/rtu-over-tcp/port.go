// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/ffutop/modbus-master/transport/rtu"
)

const (
	tcpTimeout = 10 * time.Second
)

// NewPort allocates a port that carries RTU frames over a TCP connection
// to a serial device server.
func NewPort(address string, timeout time.Duration, silence time.Duration) *rtu.StreamPort {
	if timeout <= 0 {
		timeout = tcpTimeout
	}
	open := func(ctx context.Context) (io.ReadWriteCloser, error) {
		dialer := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
		return dialer.DialContext(ctx, "tcp", address)
	}
	return rtu.NewStreamPort("tcp://"+address, open, silence)
}
