// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/ffutop/modbus-master/internal/simulator/model"
)

// SQLDriver is the database/sql driver registered by this package.
const SQLDriver = "sqlite"

const (
	schema = `CREATE TABLE IF NOT EXISTS modbus_registers (
	table_type INTEGER,
	address INTEGER,
	value INTEGER,
	PRIMARY KEY (table_type, address)
)`
	upsert = `INSERT INTO modbus_registers (table_type, address, value) VALUES (?, ?, ?)
ON CONFLICT(table_type, address) DO UPDATE SET value=excluded.value`
)

// SQLStorage stores every non-default entry as one row.
type SQLStorage struct {
	driver string
	dsn    string
	db     *sql.DB
	model  *model.DataModel
}

func NewSQLStorage(driver, dsn string) *SQLStorage {
	return &SQLStorage{driver: driver, dsn: dsn}
}

func (s *SQLStorage) Load() (*model.DataModel, error) {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	rows, err := db.Query("SELECT table_type, address, value FROM modbus_registers")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to query registers: %w", err)
	}
	defer rows.Close()

	m := model.NewDataModel()
	for rows.Next() {
		var t, addr, val int
		if err := rows.Scan(&t, &addr, &val); err != nil {
			slog.Warn("Skipping unreadable register row", "err", err)
			continue
		}
		if addr < 0 || addr > model.MaxAddress {
			continue
		}
		switch table := model.TableType(t); table {
		case model.TableCoils, model.TableDiscreteInputs:
			m.SetBit(table, uint16(addr), val != 0)
		case model.TableHoldingRegisters, model.TableInputRegisters:
			m.SetRegister(table, uint16(addr), uint16(val))
		}
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load registers: %w", err)
	}

	s.db, s.model = db, m
	return m, nil
}

// Save is a no-op: OnWrite keeps the database current.
func (s *SQLStorage) Save(*model.DataModel) error {
	return nil
}

// OnWrite upserts the changed entries in one transaction.
func (s *SQLStorage) OnWrite(table model.TableType, address, quantity uint16) {
	if s.db == nil {
		return
	}
	if err := s.persist(table, address, quantity); err != nil {
		slog.Error("Failed to persist registers", "table", table, "address", address, "quantity", quantity, "err", err)
	}
}

func (s *SQLStorage) persist(table model.TableType, address, quantity uint16) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < int(quantity) && int(address)+i <= model.MaxAddress; i++ {
		addr := address + uint16(i)
		if _, err := stmt.Exec(int(table), int(addr), s.model.Value(table, addr)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
