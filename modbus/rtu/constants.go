// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "github.com/ffutop/modbus-rtu-client/modbus"

const (
	MinSize = 4
	MaxSize = 256

	// MaxPayloadSize is the largest payload that fits MaxSize with address, function and CRC.
	MaxPayloadSize = MaxSize - 4

	headerSize = 2
	crcSize    = 2

	// address, function, start, quantity and byte count of 0x0F/0x10 requests
	multipleWriteHeader = 7
)

// Shape describes how the payload of a response is delimited.
type Shape struct {
	// Fixed is the payload length when the shape is not self-describing.
	Fixed int
	// ByteCount marks payloads whose first byte is the count of the bytes that follow.
	ByteCount bool
}

var (
	byteCount = Shape{ByteCount: true}
	fixed1    = Shape{Fixed: 1}
	fixed4    = Shape{Fixed: 4}
	fixed6    = Shape{Fixed: 6}
)

var responseShapes = map[byte]Shape{
	modbus.FuncCodeReadCoils:              byteCount,
	modbus.FuncCodeReadDiscreteInputs:     byteCount,
	modbus.FuncCodeReadHoldingRegisters:   byteCount,
	modbus.FuncCodeReadInputRegisters:     byteCount,
	modbus.FuncCodeWriteSingleCoil:        fixed4,
	modbus.FuncCodeWriteSingleRegister:    fixed4,
	modbus.FuncCodeReadExceptionStatus:    fixed1,
	modbus.FuncCodeGetCommEventCounter:    fixed4,
	modbus.FuncCodeWriteMultipleCoils:     fixed4,
	modbus.FuncCodeWriteMultipleRegisters: fixed4,
	modbus.FuncCodeReportSlaveID:          byteCount,
	modbus.FuncCodeMaskWriteRegister:      fixed6,
}

// ResponseShape returns the payload shape of a response to functionCode.
func ResponseShape(functionCode byte) (Shape, bool) {
	s, ok := responseShapes[functionCode]
	return s, ok
}
