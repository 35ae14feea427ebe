// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBits(t *testing.T) {
	m := NewDataModel()
	if err := m.WriteBits(TableCoils, 3, 10, []byte{0x0F, 0x02}); err != nil {
		t.Fatal(err)
	}
	got, err := m.ReadBits(TableCoils, 3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x0F, 0x02}, got); diff != "" {
		t.Errorf("ReadBits mismatch (-want +got):\n%s", diff)
	}

	// Shifted window: bit 3 becomes bit 0.
	got, _ = m.ReadBits(TableCoils, 0, 8)
	if got[0] != 0x78 {
		t.Errorf("ReadBits(0, 8) = %02X, want 78", got[0])
	}

	if err := m.SetBit(TableDiscreteInputs, 2, true); err != nil {
		t.Fatal(err)
	}
	got, _ = m.ReadBits(TableDiscreteInputs, 0, 4)
	if got[0] != 0x04 {
		t.Errorf("discrete inputs = %02X, want 04", got[0])
	}
}

func TestRegisters(t *testing.T) {
	m := NewDataModel()
	if err := m.WriteRegisters(TableInputRegisters, 1000, []uint16{254, 0x1234}); err != nil {
		t.Fatal(err)
	}
	got, err := m.ReadRegisters(TableInputRegisters, 999, 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint16{0, 254, 0x1234}, got); diff != "" {
		t.Errorf("ReadRegisters mismatch (-want +got):\n%s", diff)
	}

	// Returned slices do not alias the image.
	got[0] = 7
	again, _ := m.ReadRegisters(TableInputRegisters, 999, 1)
	if again[0] != 0 {
		t.Error("ReadRegisters result aliases the model")
	}
}

func TestMaskWriteRegister(t *testing.T) {
	m := NewDataModel()
	m.HoldingRegisters[4] = 0x12
	if v := m.MaskWriteRegister(4, 0xF2, 0x25); v != 0x17 || m.HoldingRegisters[4] != 0x17 {
		t.Errorf("MaskWriteRegister = %04X, want 0017", v)
	}
}

func TestRangeErrors(t *testing.T) {
	m := NewDataModel()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"zero quantity", second(m.ReadBits(TableCoils, 0, 0)), ErrIllegalValue},
		{"past end", second(m.ReadBits(TableCoils, MaxAddress, 2)), ErrIllegalAddress},
		{"registers past end", m.WriteRegisters(TableHoldingRegisters, MaxAddress, []uint16{1, 2}), ErrIllegalAddress},
		{"short packed", m.WriteBits(TableCoils, 0, 9, []byte{0xFF}), ErrIllegalValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("err = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if _, err := m.ReadRegisters(TableCoils, 0, 1); err == nil {
		t.Error("expected error reading registers from a bit table")
	}
}

func second(_ []byte, err error) error { return err }
