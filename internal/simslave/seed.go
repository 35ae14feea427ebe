// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simslave

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ffutop/modbus-rtu-client/internal/simslave/model"
)

// DAM0400 register map.
const (
	InfoRegister      = 1000 // input registers 1000.. hold address and equipment id
	InfoRegisterCount = 20
)

// Seed is the initial content of a register image, read from TOML:
//
//	identity = "DAM0400"
//
//	[[input_registers]]
//	address = 1000
//	values = [254, 4001]
//
//	[[discrete_inputs]]
//	address = 0
//	values = [true, false, true, false]
type Seed struct {
	Identity         string          `toml:"identity"`
	Coils            []BitBlock      `toml:"coils"`
	DiscreteInputs   []BitBlock      `toml:"discrete_inputs"`
	HoldingRegisters []RegisterBlock `toml:"holding_registers"`
	InputRegisters   []RegisterBlock `toml:"input_registers"`
}

// BitBlock is a run of bits starting at Address.
type BitBlock struct {
	Address uint16 `toml:"address"`
	Values  []bool `toml:"values"`
}

// RegisterBlock is a run of registers starting at Address.
type RegisterBlock struct {
	Address uint16   `toml:"address"`
	Values  []uint16 `toml:"values"`
}

// LoadSeed reads a seed file. Unknown keys are an error.
func LoadSeed(path string) (*Seed, error) {
	var seed Seed
	md, err := toml.DecodeFile(path, &seed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode seed %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in seed %s: %s", path, strings.Join(keys, ", "))
	}
	return &seed, nil
}

// DAM0400Seed returns the factory image of a DAM0400 module: its address
// and equipment id in the info registers.
func DAM0400Seed(slaveID byte, equipmentID uint16) *Seed {
	info := make([]uint16, InfoRegisterCount)
	info[0] = uint16(slaveID)
	info[1] = equipmentID
	return &Seed{
		Identity:       "DAM0400",
		InputRegisters: []RegisterBlock{{Address: InfoRegister, Values: info}},
	}
}

// Apply writes the seed into m.
func (s *Seed) Apply(m *model.DataModel) error {
	for _, b := range s.Coils {
		if err := writeBits(m, model.TableCoils, b); err != nil {
			return err
		}
	}
	for _, b := range s.DiscreteInputs {
		if err := writeBits(m, model.TableDiscreteInputs, b); err != nil {
			return err
		}
	}
	for _, b := range s.HoldingRegisters {
		if err := m.WriteRegisters(model.TableHoldingRegisters, b.Address, b.Values); err != nil {
			return fmt.Errorf("seed holding registers at %d: %w", b.Address, err)
		}
	}
	for _, b := range s.InputRegisters {
		if err := m.WriteRegisters(model.TableInputRegisters, b.Address, b.Values); err != nil {
			return fmt.Errorf("seed input registers at %d: %w", b.Address, err)
		}
	}
	return nil
}

func writeBits(m *model.DataModel, table model.TableType, b BitBlock) error {
	packed := make([]byte, (len(b.Values)+7)/8)
	for i, on := range b.Values {
		if on {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	if len(b.Values) > model.MaxAddress+1 {
		return fmt.Errorf("seed %s at %d: %w", table, b.Address, model.ErrIllegalAddress)
	}
	if err := m.WriteBits(table, b.Address, uint16(len(b.Values)), packed); err != nil {
		return fmt.Errorf("seed %s at %d: %w", table, b.Address, err)
	}
	return nil
}
