// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ffutop/modbus-rtu-client/internal/simslave/model"
)

// FileStorage reads the image into memory and writes it back with
// WriteAt+Sync after every modification.
type FileStorage struct {
	path string
	file *os.File
	data []byte
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

func (fs *FileStorage) Load() (*model.DataModel, error) {
	f, err := openImage(fs.path)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read image %s: %w", fs.path, err)
	}
	fs.file = f
	fs.data = data
	return mapBytesToModel(data), nil
}

func (fs *FileStorage) Flush() error {
	if fs.data == nil || fs.file == nil {
		return nil
	}
	if _, err := fs.file.WriteAt(fs.data, 0); err != nil {
		return fmt.Errorf("failed to write image %s: %w", fs.path, err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync image %s: %w", fs.path, err)
	}
	return nil
}

func (fs *FileStorage) OnWrite(table model.TableType, address, quantity uint16) {
	if err := fs.Flush(); err != nil {
		slog.Error("Failed to persist write", "table", table, "address", address, "quantity", quantity, "err", err)
	}
}

func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.Flush()
	if e := fs.file.Close(); err == nil {
		err = e
	}
	fs.file, fs.data = nil, nil
	return err
}
