// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ffutop/modbus-rtu-client/internal/config"
	"github.com/ffutop/modbus-rtu-client/internal/simslave/model"
	"github.com/google/go-cmp/cmp"
)

func TestStorageSurvivesReload(t *testing.T) {
	tests := []struct {
		name string
		open func(path string) Storage
	}{
		{"file", func(path string) Storage { return NewFileStorage(path) }},
		{"mmap", func(path string) Storage { return NewMmapStorage(path) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "image.bin")

			s := tt.open(path)
			m, err := s.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if err := m.WriteRegisters(model.TableInputRegisters, 1000, []uint16{254, 0xBEEF}); err != nil {
				t.Fatal(err)
			}
			s.OnWrite(model.TableInputRegisters, 1000, 2)
			if err := m.SetBit(model.TableCoils, 3, true); err != nil {
				t.Fatal(err)
			}
			s.OnWrite(model.TableCoils, 3, 1)
			if err := s.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			fi, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if fi.Size() != totalSize {
				t.Errorf("image size = %d, want %d", fi.Size(), totalSize)
			}

			s = tt.open(path)
			m, err = s.Load()
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
			defer s.Close()

			regs, _ := m.ReadRegisters(model.TableInputRegisters, 1000, 2)
			if diff := cmp.Diff([]uint16{254, 0xBEEF}, regs); diff != "" {
				t.Errorf("registers after reload (-want +got):\n%s", diff)
			}
			coils, _ := m.ReadBits(model.TableCoils, 0, 4)
			if coils[0] != 0x08 {
				t.Errorf("coils after reload = %02X, want 08", coils[0])
			}
		})
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg     config.PersistenceConfig
		want    Storage
		wantErr bool
	}{
		{config.PersistenceConfig{}, &MemoryStorage{}, false},
		{config.PersistenceConfig{Type: "memory"}, &MemoryStorage{}, false},
		{config.PersistenceConfig{Type: "file", Path: filepath.Join(dir, "a")}, &FileStorage{}, false},
		{config.PersistenceConfig{Type: "mmap", Path: filepath.Join(dir, "b")}, &MmapStorage{}, false},
		{config.PersistenceConfig{Type: "mmap"}, nil, true},
		{config.PersistenceConfig{Type: "sql"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			got, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if gotType, wantType := typeName(got), typeName(tt.want); gotType != wantType {
				t.Errorf("New(%+v) = %s, want %s", tt.cfg, gotType, wantType)
			}
		})
	}
}

func typeName(s Storage) string {
	switch s.(type) {
	case *MemoryStorage:
		return "memory"
	case *FileStorage:
		return "file"
	case *MmapStorage:
		return "mmap"
	}
	return "unknown"
}
