// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package command builds standard request frames and extracts typed values
// from validated responses.
package command

import (
	"encoding/binary"

	"github.com/ffutop/modbus-rtu-client/modbus"
	"github.com/ffutop/modbus-rtu-client/modbus/rtu"
)

const (
	coilOn  = 0xFF00
	coilOff = 0x0000

	maxReadBits      = 2000
	maxReadRegisters = 125
	maxWriteCoils    = 1968
	maxWriteRegs     = 123
)

// WriteCoil forces a single coil (0x05).
//
//	Coil Address    : 2 bytes
//	Force Data      : FF00 (on) or 0000 (off)
func WriteCoil(addr byte, coil uint16, on bool) *rtu.ApplicationDataUnit {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], coil)
	if on {
		binary.BigEndian.PutUint16(data[2:], coilOn)
	} else {
		binary.BigEndian.PutUint16(data[2:], coilOff)
	}
	return rtu.NewApplicationDataUnit(addr, modbus.FuncCodeWriteSingleCoil, data)
}

// WriteCoils forces count coils starting at coil 0 to the same state (0x0F).
//
//	Starting Address : 2 bytes (0)
//	Quantity         : 2 bytes
//	Byte Count       : 1 byte
//	Force Data       : FF or 00 per byte
func WriteCoils(addr byte, count uint16, on bool) (*rtu.ApplicationDataUnit, error) {
	if count < 1 || count > maxWriteCoils {
		return nil, &modbus.ArgumentError{Name: "coil count", Value: count, Msg: "must be within [1, 1968]"}
	}
	byteCount := (int(count) + 7) / 8
	data := make([]byte, 5, 5+byteCount)
	binary.BigEndian.PutUint16(data[2:], count)
	data[4] = byte(byteCount)
	fill := byte(0x00)
	if on {
		fill = 0xFF
	}
	for i := 0; i < byteCount; i++ {
		data = append(data, fill)
	}
	return rtu.NewApplicationDataUnit(addr, modbus.FuncCodeWriteMultipleCoils, data), nil
}

// ReadCoils reads count coils starting at coil 0 (0x01).
func ReadCoils(addr byte, count uint16) (*rtu.ApplicationDataUnit, error) {
	return readBits(addr, modbus.FuncCodeReadCoils, "coil count", count)
}

// ReadDiscreteInputs reads count discrete inputs starting at input 0 (0x02).
func ReadDiscreteInputs(addr byte, count uint16) (*rtu.ApplicationDataUnit, error) {
	return readBits(addr, modbus.FuncCodeReadDiscreteInputs, "input count", count)
}

func readBits(addr, functionCode byte, name string, count uint16) (*rtu.ApplicationDataUnit, error) {
	if count < 1 || count > maxReadBits {
		return nil, &modbus.ArgumentError{Name: name, Value: count, Msg: "must be within [1, 2000]"}
	}
	return rtu.NewApplicationDataUnit(addr, functionCode, addressQuantity(0, count)), nil
}

// ReadInputRegisters reads count input registers starting at start (0x04).
func ReadInputRegisters(addr byte, start, count uint16) (*rtu.ApplicationDataUnit, error) {
	if count < 1 || count > maxReadRegisters {
		return nil, &modbus.ArgumentError{Name: "register count", Value: count, Msg: "must be within [1, 125]"}
	}
	return rtu.NewApplicationDataUnit(addr, modbus.FuncCodeReadInputRegisters, addressQuantity(start, count)), nil
}

// WriteRegister presets a single holding register (0x06).
func WriteRegister(addr byte, reg, value uint16) *rtu.ApplicationDataUnit {
	return rtu.NewApplicationDataUnit(addr, modbus.FuncCodeWriteSingleRegister, addressQuantity(reg, value))
}

// WriteRegisters presets len(values) holding registers starting at start (0x10).
//
//	Starting Address : 2 bytes
//	Quantity         : 2 bytes
//	Byte Count       : 1 byte
//	Data             : 2 bytes per register, high byte first
func WriteRegisters(addr byte, start uint16, values []uint16) (*rtu.ApplicationDataUnit, error) {
	if len(values) < 1 || len(values) > maxWriteRegs {
		return nil, &modbus.ArgumentError{Name: "register count", Value: len(values), Msg: "must be within [1, 123]"}
	}
	data := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(data[0:], start)
	binary.BigEndian.PutUint16(data[2:], uint16(len(values)))
	data[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	return rtu.NewApplicationDataUnit(addr, modbus.FuncCodeWriteMultipleRegisters, data), nil
}

func addressQuantity(address, quantity uint16) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], address)
	binary.BigEndian.PutUint16(data[2:], quantity)
	return data
}
