// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/master"
	"github.com/ffutop/modbus-master/internal/messenger"
	"github.com/ffutop/modbus-master/internal/simulator"
	"github.com/ffutop/modbus-master/transport"
	"github.com/ffutop/modbus-master/transport/loopback"
	"github.com/ffutop/modbus-master/transport/rtu"
	rtuovertcp "github.com/ffutop/modbus-master/transport/rtu-over-tcp"
)

// stack is the request path from the caller API down to the port.
type stack struct {
	transport *transport.Transport
	messenger *messenger.Messenger
	client    *master.Client

	// Set when the line is looped back to a simulator.
	sim    *simulator.Simulator
	simEnd io.ReadWriteCloser
}

func newPort(cfg config.SerialConfig) (transport.Port, error) {
	switch cfg.Backend {
	case "", "grid-x":
		return rtu.NewSerialPort(cfg), nil
	case "bugst":
		return rtu.NewBugstPort(cfg), nil
	case "tcp":
		return rtuovertcp.NewPort(cfg.Address, cfg.Timeout, cfg.FrameTimeout), nil
	}
	return nil, fmt.Errorf("unknown serial backend %q", cfg.Backend)
}

// newStack builds the stack. With simulate, or the loopback backend, the
// line ends in an in-process simulator instead of a port.
func newStack(cfg *config.Config, simulate bool) (*stack, error) {
	s := &stack{}

	var port transport.Port
	if simulate || cfg.Serial.Backend == "loopback" {
		sim, err := simulator.New(cfg.Simulator)
		if err != nil {
			return nil, err
		}
		var p *rtu.StreamPort
		p, s.simEnd = loopback.New(cfg.Serial.FrameTimeout)
		s.sim, port = sim, p
		slog.Info("Using simulated slaves", "slaveIds", cfg.Simulator.SlaveIDs, "persistence", cfg.Simulator.Persistence.Type)
	} else {
		p, err := newPort(cfg.Serial)
		if err != nil {
			return nil, err
		}
		port = p
	}

	s.transport = transport.New(port, transport.Options{
		ResponseTimeout: cfg.Transport.ResponseTimeout,
		RetryInterval:   cfg.Transport.RetryInterval,
		Throttle:        cfg.Transport.Throttle,
	})
	s.messenger = messenger.New(s.transport)
	s.client = master.New(s.messenger, master.Options{Retries: cfg.Transport.Retries})
	return s, nil
}

// start runs the transport, and the simulator if any, until ctx is done.
// The returned function waits for them to stop.
func (s *stack) start(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	if s.sim != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := (&rtu.Server{}).Serve(ctx, s.simEnd, s.sim.Handle); err != nil && ctx.Err() == nil {
				slog.Error("Simulator stopped with error", "err", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.transport.Run(ctx); err != nil {
			slog.Error("Transport stopped with error", "err", err)
		}
	}()
	return func() {
		wg.Wait()
		if s.sim != nil {
			s.sim.Close()
		}
	}
}
