// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package loopback connects a master port to an in-process slave.
package loopback

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/ffutop/modbus-master/transport/rtu"
)

// New returns a master port and the slave end of the same in-memory line.
// The slave end is typically handed to rtu.Server.Serve. Writes on either
// end block until the other end reads them.
func New(silence time.Duration) (*rtu.StreamPort, io.ReadWriteCloser) {
	master, slave := net.Pipe()
	open := func(ctx context.Context) (io.ReadWriteCloser, error) {
		return master, nil
	}
	return rtu.NewStreamPort("loopback", open, silence), slave
}
