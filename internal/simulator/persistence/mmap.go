// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/ffutop/modbus-master/internal/simulator/model"
)

// MmapStorage maps the model image into memory, so writes by a master land
// in the page cache directly.
type MmapStorage struct {
	path string
	file *os.File
	data mmap.MMap
}

func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{path: path}
}

func (ms *MmapStorage) Load() (*model.DataModel, error) {
	f, err := openImage(ms.path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	ms.file, ms.data = f, data
	return mapBytesToModel(data), nil
}

func (ms *MmapStorage) Save(*model.DataModel) error {
	if ms.data == nil {
		return errors.New("mmap data is nil")
	}
	return ms.data.Flush()
}

// OnWrite flushes the mapping.
func (ms *MmapStorage) OnWrite(model.TableType, uint16, uint16) {
	if ms.data == nil {
		return
	}
	if err := ms.data.Flush(); err != nil {
		slog.Error("Failed to flush mmap", "path", ms.path, "err", err)
	}
}

// Close unmaps and closes the file. The model returned by Load must not be
// used afterwards.
func (ms *MmapStorage) Close() error {
	var errs []error
	if ms.data != nil {
		errs = append(errs, ms.data.Unmap())
		ms.data = nil
	}
	if ms.file != nil {
		errs = append(errs, ms.file.Close())
		ms.file = nil
	}
	return errors.Join(errs...)
}
