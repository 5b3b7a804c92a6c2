// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence keeps the data model of a simulated slave across
// restarts.
package persistence

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/simulator/model"
)

// Storage persists a data model.
type Storage interface {
	// Load returns the stored model, or a zeroed one if nothing is stored.
	Load() (*model.DataModel, error)

	// Save writes the whole model.
	Save(m *model.DataModel) error

	// OnWrite is called after a master changed quantity entries of table
	// starting at address.
	OnWrite(table model.TableType, address, quantity uint16)

	Close() error
}

// Open selects the backend named by cfg.Type.
func Open(cfg config.PersistenceConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		slog.Info("Initializing simulator with file persistence", "path", cfg.Path)
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		slog.Info("Initializing simulator with MMAP persistence", "path", cfg.Path)
		return NewMmapStorage(cfg.Path), nil
	case "sql":
		slog.Info("Initializing simulator with SQL persistence", "driver", SQLDriver, "dsn", cfg.Path)
		return NewSQLStorage(SQLDriver, cfg.Path), nil
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
}
