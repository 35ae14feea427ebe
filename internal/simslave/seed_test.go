// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simslave

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ffutop/modbus-rtu-client/internal/config"
	"github.com/ffutop/modbus-rtu-client/internal/simslave/model"
	"github.com/google/go-cmp/cmp"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSeed(t *testing.T) {
	path := writeSeed(t, `
identity = "DAM0400-TEST"

[[coils]]
address = 2
values = [true, true]

[[discrete_inputs]]
address = 0
values = [true, false, true, false]

[[input_registers]]
address = 1000
values = [7, 4001]
`)
	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	m := model.NewDataModel()
	if err := seed.Apply(m); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	coils, _ := m.ReadBits(model.TableCoils, 0, 4)
	di, _ := m.ReadBits(model.TableDiscreteInputs, 0, 4)
	regs, _ := m.ReadRegisters(model.TableInputRegisters, 1000, 2)
	if coils[0] != 0x0C {
		t.Errorf("coils = %02X, want 0C", coils[0])
	}
	if di[0] != 0x05 {
		t.Errorf("discrete inputs = %02X, want 05", di[0])
	}
	if diff := cmp.Diff([]uint16{7, 4001}, regs); diff != "" {
		t.Errorf("input registers (-want +got):\n%s", diff)
	}
	if seed.Identity != "DAM0400-TEST" {
		t.Errorf("identity = %q", seed.Identity)
	}
}

func TestLoadSeedErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "colis = []\n", "unknown keys"},
		{"register overflow", "[[input_registers]]\naddress = 0\nvalues = [70000]\n", "decode"},
		{"syntax", "identity = \n", "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSeed(writeSeed(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDAM0400Seed(t *testing.T) {
	m := model.NewDataModel()
	if err := DAM0400Seed(0x21, 0x0400).Apply(m); err != nil {
		t.Fatal(err)
	}
	regs, _ := m.ReadRegisters(model.TableInputRegisters, InfoRegister, InfoRegisterCount)
	if len(regs) != InfoRegisterCount || regs[0] != 0x21 || regs[1] != 0x0400 {
		t.Errorf("info registers = %v", regs)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	cfg := config.SimulatorConfig{
		SlaveID:     9,
		Persistence: config.PersistenceConfig{Type: "mmap", Path: filepath.Join(dir, "image.bin")},
	}
	slave, storage, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if slave.ID() != 9 {
		t.Errorf("ID = %d", slave.ID())
	}
	slave.Process(pdu(0x06, 0x00, 0x01, 0xAB, 0xCD))
	if err := storage.Close(); err != nil {
		t.Fatal(err)
	}

	slave, storage, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer storage.Close()
	regs, _ := slave.Model().ReadRegisters(model.TableHoldingRegisters, 1, 1)
	if regs[0] != 0xABCD {
		t.Errorf("holding register 1 = %04X after reopen, want ABCD", regs[0])
	}
	info, _ := slave.Model().ReadRegisters(model.TableInputRegisters, InfoRegister, 1)
	if info[0] != 9 {
		t.Errorf("info register = %d, want slave id", info[0])
	}
}
