// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package model holds the register image of the simulated slave.
package model

import (
	"errors"
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535
)

var (
	// ErrIllegalAddress is returned for ranges outside the 16-bit address space.
	ErrIllegalAddress = errors.New("model: address range out of bounds")
	// ErrIllegalValue is returned for quantities and values the table cannot take.
	ErrIllegalValue = errors.New("model: illegal data value")
)

// TableType represents the type of Modbus data table.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

func (t TableType) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discrete_inputs"
	case TableHoldingRegisters:
		return "holding_registers"
	case TableInputRegisters:
		return "input_registers"
	}
	return fmt.Sprintf("table(%d)", int(t))
}

// DataModel is a flat image of the four tables over the full address space.
// Bits are stored one per byte, 1 for on.
type DataModel struct {
	mu sync.RWMutex

	Coils            []byte
	DiscreteInputs   []byte
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

// NewDataModel creates a new memory model initialized to zero.
func NewDataModel() *DataModel {
	return &DataModel{
		Coils:            make([]byte, MaxAddress+1),
		DiscreteInputs:   make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
		InputRegisters:   make([]uint16, MaxAddress+1),
	}
}

func (m *DataModel) bits(table TableType) ([]byte, error) {
	switch table {
	case TableCoils:
		return m.Coils, nil
	case TableDiscreteInputs:
		return m.DiscreteInputs, nil
	}
	return nil, fmt.Errorf("model: %s is not a bit table", table)
}

func (m *DataModel) registers(table TableType) ([]uint16, error) {
	switch table {
	case TableHoldingRegisters:
		return m.HoldingRegisters, nil
	case TableInputRegisters:
		return m.InputRegisters, nil
	}
	return nil, fmt.Errorf("model: %s is not a register table", table)
}

// ReadBits returns quantity bits from address packed least significant bit first.
func (m *DataModel) ReadBits(table TableType, address, quantity uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bits, err := m.bits(table)
	if err != nil {
		return nil, err
	}
	if err := validateRange(address, int(quantity)); err != nil {
		return nil, err
	}

	packed := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if bits[int(address)+i] != 0 {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	return packed, nil
}

// WriteBits sets quantity bits from address out of packed.
func (m *DataModel) WriteBits(table TableType, address, quantity uint16, packed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bits, err := m.bits(table)
	if err != nil {
		return err
	}
	if err := validateRange(address, int(quantity)); err != nil {
		return err
	}
	if len(packed) < (int(quantity)+7)/8 {
		return fmt.Errorf("%w: %d bytes for %d bits", ErrIllegalValue, len(packed), quantity)
	}

	for i := 0; i < int(quantity); i++ {
		bits[int(address)+i] = (packed[i/8] >> uint(i%8)) & 1
	}
	return nil
}

// SetBit sets a single bit.
func (m *DataModel) SetBit(table TableType, address uint16, on bool) error {
	var b byte
	if on {
		b = 1
	}
	return m.WriteBits(table, address, 1, []byte{b})
}

// ReadRegisters returns quantity registers from address.
func (m *DataModel) ReadRegisters(table TableType, address, quantity uint16) ([]uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	regs, err := m.registers(table)
	if err != nil {
		return nil, err
	}
	if err := validateRange(address, int(quantity)); err != nil {
		return nil, err
	}
	return append([]uint16(nil), regs[address:int(address)+int(quantity)]...), nil
}

// WriteRegisters stores values from address on.
func (m *DataModel) WriteRegisters(table TableType, address uint16, values []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	regs, err := m.registers(table)
	if err != nil {
		return err
	}
	if err := validateRange(address, len(values)); err != nil {
		return err
	}
	copy(regs[address:], values)
	return nil
}

// MaskWriteRegister sets holding register address to
// (current AND andMask) OR (orMask AND NOT andMask) and returns the new value.
func (m *DataModel) MaskWriteRegister(address, andMask, orMask uint16) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := (m.HoldingRegisters[address] & andMask) | (orMask &^ andMask)
	m.HoldingRegisters[address] = v
	return v
}

func validateRange(address uint16, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrIllegalValue, quantity)
	}
	if int(address)+quantity > MaxAddress+1 {
		return fmt.Errorf("%w: %d+%d", ErrIllegalAddress, address, quantity)
	}
	return nil
}
