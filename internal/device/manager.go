// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/expr"
	"github.com/ffutop/modbus-master/internal/scheduler"
	"github.com/ffutop/modbus-master/internal/sink"
)

// Manager owns the controllers of all configured devices.
type Manager struct {
	client      Client
	mu          sync.RWMutex
	controllers map[string]*Controller
	order       []string
}

// NewManager builds a controller per device. Nothing is polled until Start.
func NewManager(devices []config.DeviceConfig, sched *scheduler.Scheduler, client Client, transform expr.Transformer, out sink.Sink) (*Manager, error) {
	m := &Manager{client: client, controllers: make(map[string]*Controller)}
	for _, d := range devices {
		if _, ok := m.controllers[d.ID]; ok {
			return nil, fmt.Errorf("duplicate device id %q", d.ID)
		}
		c, err := NewController(d, sched, client, transform, out)
		if err != nil {
			return nil, err
		}
		m.controllers[d.ID] = c
		m.order = append(m.order, d.ID)
	}
	return m, nil
}

// Start starts every controller. A controller that fails to start is
// logged and skipped; the error of the last failure is returned.
func (m *Manager) Start() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	for _, id := range m.order {
		slog.Info("Starting controller", "resourceId", id)
		if err := m.controllers[id].Start(); err != nil {
			slog.Error("Failed to start controller", "resourceId", id, "err", err)
			lastErr = fmt.Errorf("device %s: %w", id, err)
		}
	}
	return lastErr
}

// Stop unregisters every controller, then flushes the transmit queue once.
func (m *Manager) Stop() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		m.controllers[id].unregister()
	}
	if m.client != nil {
		m.client.Flush()
	}
}

// Lookup returns the controller of a device.
func (m *Manager) Lookup(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return c, nil
}

// IDs returns the device ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := append([]string(nil), m.order...)
	sort.Strings(ids)
	return ids
}
