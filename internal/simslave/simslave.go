// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simslave

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-rtu-client/internal/config"
	"github.com/ffutop/modbus-rtu-client/internal/simslave/persistence"
)

// defaultEquipmentID is reported in the info registers when no seed file is given.
const defaultEquipmentID = 0x0400

// Open builds the slave described by cfg: it loads the persisted image,
// applies the seed file (or the DAM0400 factory seed) and flushes the result.
// The caller closes the returned Storage.
func Open(cfg config.SimulatorConfig) (*Slave, persistence.Storage, error) {
	storage, err := persistence.New(cfg.Persistence)
	if err != nil {
		return nil, nil, err
	}
	m, err := storage.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load simulator image: %w", err)
	}

	seed := DAM0400Seed(byte(cfg.SlaveID), defaultEquipmentID)
	if cfg.Seed != "" {
		if seed, err = LoadSeed(cfg.Seed); err != nil {
			storage.Close()
			return nil, nil, err
		}
	}
	if err := seed.Apply(m); err != nil {
		storage.Close()
		return nil, nil, err
	}
	if err := storage.Flush(); err != nil {
		storage.Close()
		return nil, nil, err
	}

	slave := New(byte(cfg.SlaveID), m, storage)
	if seed.Identity != "" {
		slave.SetIdentity([]byte(seed.Identity))
	}
	slog.Info("Simulated slave ready", "slave", cfg.SlaveID, "persistence", cfg.Persistence.Type, "seed", cfg.Seed)
	return slave, storage, nil
}
