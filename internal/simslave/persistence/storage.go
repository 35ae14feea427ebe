// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package persistence keeps the register image of the simulated slave
// across restarts.
package persistence

import (
	"fmt"

	"github.com/ffutop/modbus-rtu-client/internal/config"
	"github.com/ffutop/modbus-rtu-client/internal/simslave/model"
)

// Storage backs a DataModel.
type Storage interface {
	// Load returns the stored image, or a zeroed one if nothing was stored.
	Load() (*model.DataModel, error)

	// Flush writes the whole image out.
	Flush() error

	// OnWrite is called after the slave modified a range of the image.
	OnWrite(table model.TableType, address, quantity uint16)

	Close() error
}

// New returns the Storage selected by cfg.
func New(cfg config.PersistenceConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file persistence needs a path")
		}
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		if cfg.Path == "" {
			return nil, fmt.Errorf("mmap persistence needs a path")
		}
		return NewMmapStorage(cfg.Path), nil
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
}
