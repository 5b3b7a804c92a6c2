// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ffutop/modbus-master/internal/simulator/model"
)

// FileStorage keeps the model image in memory and writes changed spans
// back to a file.
type FileStorage struct {
	path string
	file *os.File
	data []byte
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (fs *FileStorage) Load() (*model.DataModel, error) {
	f, err := openImage(fs.path)
	if err != nil {
		return nil, err
	}
	data := make([]byte, totalSize)
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	fs.file, fs.data = f, data
	return mapBytesToModel(data), nil
}

// openImage opens path, creating it and sizing it to the image as needed.
func openImage(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize %s: %w", path, err)
		}
	}
	return f, nil
}

func (fs *FileStorage) Save(*model.DataModel) error {
	return fs.write(0, totalSize)
}

// OnWrite writes the changed span and syncs it to disk.
func (fs *FileStorage) OnWrite(table model.TableType, address, quantity uint16) {
	start, end := span(table, address, quantity)
	if err := fs.write(start, end); err != nil {
		slog.Error("Failed to sync file", "path", fs.path, "err", err)
	}
}

func (fs *FileStorage) write(start, end int) error {
	if fs.file == nil || start >= end {
		return nil
	}
	if _, err := fs.file.WriteAt(fs.data[start:end], int64(start)); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
