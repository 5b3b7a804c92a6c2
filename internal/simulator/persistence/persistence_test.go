// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/simulator/model"
)

func TestStorage_SurvivesRestart(t *testing.T) {
	tests := []struct {
		name string
		typ  string
	}{
		{"File", "file"},
		{"Mmap", "mmap"},
		{"SQL", "sql"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.PersistenceConfig{Type: tt.typ, Path: filepath.Join(t.TempDir(), "slave.db")}

			s, err := Open(cfg)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			m, err := s.Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			m.SetRegister(model.TableHoldingRegisters, 10, 0xCAFE)
			m.SetBit(model.TableCoils, 3, true)
			s.OnWrite(model.TableHoldingRegisters, 10, 1)
			s.OnWrite(model.TableCoils, 3, 1)
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			s, err = Open(cfg)
			if err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			defer s.Close()
			m, err = s.Load()
			if err != nil {
				t.Fatalf("reload failed: %v", err)
			}
			if v := m.Register(model.TableHoldingRegisters, 10); v != 0xCAFE {
				t.Errorf("register 10 = %#x, want 0xcafe", v)
			}
			if v := m.Value(model.TableCoils, 3); v != 1 {
				t.Errorf("coil 3 = %d, want 1", v)
			}
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(config.PersistenceConfig{Type: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStorage); !ok {
		t.Errorf("Open(memory) = %T", s)
	}
	if _, err := Open(config.PersistenceConfig{Type: "tape"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestSpan(t *testing.T) {
	tests := []struct {
		table      model.TableType
		address    uint16
		quantity   uint16
		start, end int
	}{
		{model.TableCoils, 0, 8, 0, 8},
		{model.TableDiscreteInputs, 1, 1, offsetDiscrete + 1, offsetDiscrete + 2},
		{model.TableHoldingRegisters, 10, 2, offsetHolding + 20, offsetHolding + 24},
		{model.TableInputRegisters, 65535, 1, offsetInput + 131070, totalSize},
	}
	for _, tt := range tests {
		start, end := span(tt.table, tt.address, tt.quantity)
		if start != tt.start || end != tt.end {
			t.Errorf("span(%v, %d, %d) = %d, %d, want %d, %d", tt.table, tt.address, tt.quantity, start, end, tt.start, tt.end)
		}
	}
}
