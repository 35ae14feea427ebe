// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simslave is a Modbus RTU slave backed by a register image. It
// stands in for a DAM-series I/O module in tests and on virtual ports.
package simslave

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ffutop/modbus-rtu-client/internal/simslave/model"
	"github.com/ffutop/modbus-rtu-client/internal/simslave/persistence"
	"github.com/ffutop/modbus-rtu-client/modbus"
	"github.com/ffutop/modbus-rtu-client/transport"
)

const (
	maxReadBits      = 2000
	maxReadRegisters = 125
	maxWriteCoils    = 1968
	maxWriteRegs     = 123

	runIndicatorOn = 0xFF
	// largest identity that keeps the Report Slave ID byte count within a frame
	maxIdentity = 249
)

// Slave executes request PDUs against a DataModel.
type Slave struct {
	id       byte
	identity []byte
	model    *model.DataModel
	storage  persistence.Storage

	mu         sync.Mutex
	eventCount uint16
}

// New returns a slave answering to id. storage may be nil.
func New(id byte, m *model.DataModel, storage persistence.Storage) *Slave {
	if storage == nil {
		storage = persistence.NewMemoryStorage()
	}
	return &Slave{
		id:       id,
		identity: []byte("DAM0400"),
		model:    m,
		storage:  storage,
	}
}

// ID returns the slave address.
func (s *Slave) ID() byte { return s.id }

// Model returns the register image.
func (s *Slave) Model() *model.DataModel { return s.model }

// SetIdentity sets the device specific data reported by Report Slave ID.
func (s *Slave) SetIdentity(identity []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(identity) > maxIdentity {
		identity = identity[:maxIdentity]
	}
	s.identity = append([]byte(nil), identity...)
}

// Handle is a transport.RequestHandler. Requests for other addresses get
// transport.ErrNoResponse; broadcasts are executed without an answer.
func (s *Slave) Handle(ctx context.Context, slaveID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	switch slaveID {
	case s.id, modbus.UniversalAddress:
		return s.Process(req), nil
	case modbus.BroadcastAddress:
		s.Process(req)
	}
	return modbus.ProtocolDataUnit{}, transport.ErrNoResponse
}

// Process executes req and returns the response, which is an exception
// response when req cannot be served.
func (s *Slave) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.process(req)
	if err != nil {
		return exception(req.FunctionCode, exceptionCode(err))
	}
	if req.FunctionCode != modbus.FuncCodeGetCommEventCounter {
		s.eventCount++
	}
	return resp
}

type exceptionError byte

func (e exceptionError) Error() string { return "modbus exception" }

var (
	errIllegalFunction = exceptionError(modbus.ExceptionCodeIllegalFunction)
	errIllegalValue    = exceptionError(modbus.ExceptionCodeIllegalDataValue)
)

func exceptionCode(err error) byte {
	var e exceptionError
	switch {
	case errors.As(err, &e):
		return byte(e)
	case errors.Is(err, model.ErrIllegalAddress):
		return modbus.ExceptionCodeIllegalDataAddress
	case errors.Is(err, model.ErrIllegalValue):
		return modbus.ExceptionCodeIllegalDataValue
	}
	return modbus.ExceptionCodeServerDeviceFailure
}

func exception(funcCode, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | 0x80,
		Data:         []byte{code},
	}
}

func (s *Slave) process(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.readBits(req, model.TableCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return s.readBits(req, model.TableDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return s.readRegisters(req, model.TableHoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return s.readRegisters(req, model.TableInputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return s.writeSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return s.writeSingleRegister(req)
	case modbus.FuncCodeReadExceptionStatus:
		return s.readExceptionStatus(req)
	case modbus.FuncCodeGetCommEventCounter:
		return s.commEventCounter(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return s.writeMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.writeMultipleRegisters(req)
	case modbus.FuncCodeReportSlaveID:
		return s.reportSlaveID(req)
	case modbus.FuncCodeMaskWriteRegister:
		return s.maskWriteRegister(req)
	}
	return modbus.ProtocolDataUnit{}, errIllegalFunction
}

// addressQuantity parses the leading address and quantity fields and
// checks the quantity against [1, max].
func addressQuantity(data []byte, max uint16) (address, quantity uint16, err error) {
	if len(data) < 4 {
		return 0, 0, errIllegalValue
	}
	address = binary.BigEndian.Uint16(data[0:2])
	quantity = binary.BigEndian.Uint16(data[2:4])
	if quantity < 1 || quantity > max {
		return 0, 0, errIllegalValue
	}
	return address, quantity, nil
}

func byteCounted(funcCode byte, payload []byte) modbus.ProtocolDataUnit {
	data := make([]byte, 1+len(payload))
	data[0] = byte(len(payload))
	copy(data[1:], payload)
	return modbus.ProtocolDataUnit{FunctionCode: funcCode, Data: data}
}

func (s *Slave) readBits(req modbus.ProtocolDataUnit, table model.TableType) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	address, quantity, err := addressQuantity(req.Data, maxReadBits)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	packed, err := s.model.ReadBits(table, address, quantity)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	return byteCounted(req.FunctionCode, packed), nil
}

func (s *Slave) readRegisters(req modbus.ProtocolDataUnit, table model.TableType) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	address, quantity, err := addressQuantity(req.Data, maxReadRegisters)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	regs, err := s.model.ReadRegisters(table, address, quantity)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	payload := make([]byte, 2*len(regs))
	for i, v := range regs {
		binary.BigEndian.PutUint16(payload[2*i:], v)
	}
	return byteCounted(req.FunctionCode, payload), nil
}

func (s *Slave) writeSingleCoil(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	var on bool
	switch binary.BigEndian.Uint16(req.Data[2:4]) {
	case 0xFF00:
		on = true
	case 0x0000:
	default:
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	if err := s.model.SetBit(model.TableCoils, address, on); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	s.storage.OnWrite(model.TableCoils, address, 1)
	return req, nil
}

func (s *Slave) writeSingleRegister(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])
	if err := s.model.WriteRegisters(model.TableHoldingRegisters, address, []uint16{value}); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	s.storage.OnWrite(model.TableHoldingRegisters, address, 1)
	return req, nil
}

// readExceptionStatus reports the first eight coils.
func (s *Slave) readExceptionStatus(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 0 {
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	packed, err := s.model.ReadBits(model.TableCoils, 0, 8)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: packed}, nil
}

func (s *Slave) commEventCounter(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 0 {
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	data := make([]byte, 4)
	// status word 0x0000: no previous command still in progress
	binary.BigEndian.PutUint16(data[2:4], s.eventCount)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: data}, nil
}

func (s *Slave) writeMultipleCoils(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	address, quantity, err := addressQuantity(req.Data, maxWriteCoils)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	if len(req.Data) < 5 || int(req.Data[4]) != len(req.Data)-5 || int(req.Data[4]) != (int(quantity)+7)/8 {
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	if err := s.model.WriteBits(model.TableCoils, address, quantity, req.Data[5:]); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	s.storage.OnWrite(model.TableCoils, address, quantity)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: append([]byte(nil), req.Data[:4]...)}, nil
}

func (s *Slave) writeMultipleRegisters(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	address, quantity, err := addressQuantity(req.Data, maxWriteRegs)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	if len(req.Data) < 5 || int(req.Data[4]) != len(req.Data)-5 || int(req.Data[4]) != 2*int(quantity) {
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(req.Data[5+2*i:])
	}
	if err := s.model.WriteRegisters(model.TableHoldingRegisters, address, values); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	s.storage.OnWrite(model.TableHoldingRegisters, address, quantity)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: append([]byte(nil), req.Data[:4]...)}, nil
}

func (s *Slave) reportSlaveID(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 0 {
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	payload := append([]byte{s.id, runIndicatorOn}, s.identity...)
	return byteCounted(req.FunctionCode, payload), nil
}

func (s *Slave) maskWriteRegister(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 6 {
		return modbus.ProtocolDataUnit{}, errIllegalValue
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	andMask := binary.BigEndian.Uint16(req.Data[2:4])
	orMask := binary.BigEndian.Uint16(req.Data[4:6])
	s.model.MaskWriteRegister(address, andMask, orMask)
	s.storage.OnWrite(model.TableHoldingRegisters, address, 1)
	return req, nil
}
