// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator is an in-process Modbus RTU slave. It answers for a
// configured set of slave ids from one shared data model and stays silent
// for every other id, the way a real bus does.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/simulator/persistence"
	"github.com/ffutop/modbus-master/modbus"
	"github.com/ffutop/modbus-master/transport"
)

// Simulator routes requests to a Slave by slave id.
type Simulator struct {
	ids     map[byte]bool
	slave   *Slave
	storage persistence.Storage
	log     *slog.Logger
}

// New builds a simulator from cfg. A persistence backend that fails to
// load falls back to memory.
func New(cfg config.SimulatorConfig) (*Simulator, error) {
	ids, err := ParseSlaveIDs(cfg.SlaveIDs)
	if err != nil {
		return nil, fmt.Errorf("invalid slave ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("invalid slave ids: none in %q", cfg.SlaveIDs)
	}

	storage, err := persistence.Open(cfg.Persistence)
	if err != nil {
		return nil, err
	}
	m, err := storage.Load()
	if err != nil {
		slog.Error("Failed to load persistence data, falling back to MemoryStorage", "err", err)
		storage = persistence.NewMemoryStorage()
		m, _ = storage.Load()
	}

	s := &Simulator{
		ids:     make(map[byte]bool, len(ids)),
		slave:   NewSlave(m, storage),
		storage: storage,
		log:     slog.With("component", "simulator"),
	}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s, nil
}

// Slave returns the slave behind every configured id.
func (s *Simulator) Slave() *Slave {
	return s.slave
}

// Handle implements transport.RequestHandler.
func (s *Simulator) Handle(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if !s.ids[slaveID] {
		return modbus.ProtocolDataUnit{}, transport.ErrNoResponse
	}
	resp := s.slave.Process(pdu)
	if resp.FunctionCode&modbus.ExceptionBit != 0 {
		s.log.Debug("Answering with exception", "slaveID", slaveID, "func", pdu.FunctionCode, "code", resp.Data[0])
	}
	return resp, nil
}

// Close saves and releases the storage.
func (s *Simulator) Close() error {
	if err := s.storage.Save(s.slave.Model()); err != nil {
		s.log.Error("Failed to save data model", "err", err)
	}
	return s.storage.Close()
}

// ParseSlaveIDs parses a list of slave ids such as "1,2,5-10".
func ParseSlaveIDs(input string) ([]byte, error) {
	var ids []byte
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := parseID(lo)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = parseID(hi); err != nil {
				return nil, err
			}
			if start > end {
				return nil, fmt.Errorf("start of range %d is greater than end %d", start, end)
			}
		}
		for i := start; i <= end; i++ {
			ids = append(ids, byte(i))
		}
	}
	return ids, nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}
	if id < 0 || id > 255 {
		return 0, fmt.Errorf("id out of range: %d", id)
	}
	return id, nil
}
