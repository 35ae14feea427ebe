// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the protocol data unit, function codes and the error
// taxonomy shared by the RTU framing engine and its transports.
package modbus

// Function Codes
const (
	FuncCodeReadCoils            = 0x01
	FuncCodeReadDiscreteInputs   = 0x02
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04

	FuncCodeWriteSingleCoil     = 0x05
	FuncCodeWriteSingleRegister = 0x06
	FuncCodeReadExceptionStatus = 0x07
	FuncCodeGetCommEventCounter = 0x0B

	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
	FuncCodeReportSlaveID          = 0x11
	FuncCodeMaskWriteRegister      = 0x16
)

// Exception Codes, used by the simulated slave only.
const (
	ExceptionCodeIllegalFunction     = 0x01
	ExceptionCodeIllegalDataAddress  = 0x02
	ExceptionCodeIllegalDataValue    = 0x03
	ExceptionCodeServerDeviceFailure = 0x04
)

const (
	// BroadcastAddress is never answered by a slave.
	BroadcastAddress = 0x00
	// UniversalAddress is answered by DAM-series devices regardless of their configured address.
	UniversalAddress = 0xFE
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}
