// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"fmt"

	"github.com/ffutop/modbus-rtu-client/modbus"
	"github.com/ffutop/modbus-rtu-client/modbus/crc"
)

// ApplicationDataUnit is one RTU frame: slave address, PDU and the CRC it
// was encoded or received with.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
	crc     []byte
}

// NewApplicationDataUnit builds a frame ready to be encoded.
func NewApplicationDataUnit(slaveID, functionCode byte, data []byte) *ApplicationDataUnit {
	return &ApplicationDataUnit{
		SlaveID: slaveID,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: functionCode, Data: data},
	}
}

// Decode splits raw into address, function and payload. With crcEnabled the
// last two bytes are kept as the stored CRC; they are not validated here.
func Decode(raw []byte, crcEnabled bool) (adu *ApplicationDataUnit, err error) {
	length := len(raw)
	min := headerSize
	if crcEnabled {
		min += crcSize
	}
	if length < min {
		err = &modbus.InvalidLengthError{Length: length, Min: min}
		return
	}

	adu = &ApplicationDataUnit{}
	adu.SlaveID = raw[0]
	adu.Pdu.FunctionCode = raw[1]
	if crcEnabled {
		adu.Pdu.Data = append([]byte(nil), raw[headerSize:length-crcSize]...)
		adu.crc = append([]byte(nil), raw[length-crcSize:]...)
	} else {
		adu.Pdu.Data = append([]byte(nil), raw[headerSize:]...)
	}
	return
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes, low byte first (only if crcEnabled)
func (adu *ApplicationDataUnit) Encode(crcEnabled bool) []byte {
	length := headerSize + len(adu.Pdu.Data)
	if crcEnabled {
		length += crcSize
	}
	raw := make([]byte, headerSize, length)
	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	raw = append(raw, adu.Pdu.Data...)

	if crcEnabled {
		adu.crc = adu.ChecksumBytes()
		raw = append(raw, adu.crc...)
	}
	return raw
}

// Checksum computes the CRC over address, function and payload.
func (adu *ApplicationDataUnit) Checksum() uint16 {
	var c crc.CRC
	c.Reset().PushBytes([]byte{adu.SlaveID, adu.Pdu.FunctionCode}).PushBytes(adu.Pdu.Data)
	return c.Value()
}

// ChecksumBytes returns Checksum in wire order.
func (adu *ApplicationDataUnit) ChecksumBytes() []byte {
	sum := adu.Checksum()
	return []byte{byte(sum), byte(sum >> 8)}
}

// StoredChecksum returns the CRC bytes the frame was decoded or encoded with, or nil.
func (adu *ApplicationDataUnit) StoredChecksum() []byte {
	return adu.crc
}

// CheckCRC reports whether the stored CRC equals the recomputed one.
func (adu *ApplicationDataUnit) CheckCRC() bool {
	return len(adu.crc) == crcSize && bytes.Equal(adu.crc, adu.ChecksumBytes())
}

// Len returns the encoded length including the stored CRC, if any.
func (adu *ApplicationDataUnit) Len() int {
	return headerSize + len(adu.Pdu.Data) + len(adu.crc)
}

// Verify verifies that resp answers req: slave id and function code must match.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	// Slave address must match
	if req.SlaveID != resp.SlaveID {
		err = fmt.Errorf("modbus: response slave id '%v' does not match request '%v'", resp.SlaveID, req.SlaveID)
		return
	}
	if req.Pdu.FunctionCode != resp.Pdu.FunctionCode {
		err = fmt.Errorf("modbus: response function code '%v' does not match request '%v'", resp.Pdu.FunctionCode, req.Pdu.FunctionCode)
		return
	}
	return
}

func (adu *ApplicationDataUnit) String() string {
	return fmt.Sprintf("addr: %d, func: 0x%02X, data: % X, crc: % X", adu.SlaveID, adu.Pdu.FunctionCode, adu.Pdu.Data, adu.crc)
}
