// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package command

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-rtu-client/modbus"
	"github.com/ffutop/modbus-rtu-client/modbus/rtu"
)

// CheckWriteCoil validates the echo of a single coil write.
func CheckWriteCoil(resp *rtu.ApplicationDataUnit) error {
	return checkEcho("write_coil", resp)
}

// CheckWriteCoils validates the response of a multi coil write.
func CheckWriteCoils(resp *rtu.ApplicationDataUnit) error {
	return checkEcho("write_coils", resp)
}

// CheckWriteRegister validates the echo of a single register preset.
func CheckWriteRegister(resp *rtu.ApplicationDataUnit) error {
	return checkEcho("write_register", resp)
}

func checkEcho(name string, resp *rtu.ApplicationDataUnit) error {
	if len(resp.Pdu.Data) == 0 {
		return &modbus.ResponseError{Command: name, Msg: "empty payload"}
	}
	return nil
}

// ReadCoilsResult returns the packed coil bytes, coil 0 in bit 0 of the first byte.
func ReadCoilsResult(resp *rtu.ApplicationDataUnit) ([]byte, error) {
	return byteCounted("read_coils", resp)
}

// ReadDiscreteInputsResult returns the packed input bytes, input 0 in bit 0 of the first byte.
func ReadDiscreteInputsResult(resp *rtu.ApplicationDataUnit) ([]byte, error) {
	return byteCounted("read_discrete_inputs", resp)
}

// ReadInputRegistersResult returns the register values in order.
func ReadInputRegistersResult(resp *rtu.ApplicationDataUnit) ([]uint16, error) {
	data, err := byteCounted("read_input_registers", resp)
	if err != nil {
		return nil, err
	}
	if len(data)%2 != 0 {
		return nil, &modbus.ResponseError{Command: "read_input_registers", Msg: fmt.Sprintf("odd byte count %d", len(data))}
	}
	values := make([]uint16, len(data)/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return values, nil
}

// WriteRegistersResult returns the starting address and quantity echoed by a multi register preset.
func WriteRegistersResult(resp *rtu.ApplicationDataUnit) (start, quantity uint16, err error) {
	if len(resp.Pdu.Data) != 4 {
		err = &modbus.ResponseError{Command: "write_registers", Msg: fmt.Sprintf("payload length %d, want 4", len(resp.Pdu.Data))}
		return
	}
	start = binary.BigEndian.Uint16(resp.Pdu.Data[0:])
	quantity = binary.BigEndian.Uint16(resp.Pdu.Data[2:])
	return
}

func byteCounted(name string, resp *rtu.ApplicationDataUnit) ([]byte, error) {
	data := resp.Pdu.Data
	if len(data) == 0 {
		return nil, &modbus.ResponseError{Command: name, Msg: "empty payload"}
	}
	count := int(data[0])
	if count > len(data)-1 {
		return nil, &modbus.ResponseError{Command: name, Msg: fmt.Sprintf("byte count %d exceeds payload of %d bytes", count, len(data)-1)}
	}
	return data[1 : 1+count], nil
}

// Bits unpacks the first n bits of packed, least significant bit first.
func Bits(packed []byte, n int) []bool {
	if n > 8*len(packed) {
		n = 8 * len(packed)
	}
	if n < 0 {
		n = 0
	}
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = packed[i/8]>>(uint(i)%8)&1 != 0
	}
	return bits
}
