// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ffutop/modbus-rtu-client/modbus"
)

// StateKind names the field the receiver is waiting for.
type StateKind int

const (
	AwaitingAddress StateKind = iota
	AwaitingFunction
	AwaitingByteCount
	AwaitingData
	AwaitingCrc
)

func (k StateKind) String() string {
	switch k {
	case AwaitingAddress:
		return "AwaitingAddress"
	case AwaitingFunction:
		return "AwaitingFunction"
	case AwaitingByteCount:
		return "AwaitingByteCount"
	case AwaitingData:
		return "AwaitingData"
	case AwaitingCrc:
		return "AwaitingCrc"
	default:
		return fmt.Sprintf("StateKind(%d)", int(k))
	}
}

// State is the parse position within a response frame. Remaining is only
// meaningful for AwaitingData and AwaitingCrc.
type State struct {
	Kind      StateKind
	Remaining int
}

func (s State) String() string {
	switch s.Kind {
	case AwaitingData, AwaitingCrc:
		return fmt.Sprintf("%s(%d)", s.Kind, s.Remaining)
	default:
		return s.Kind.String()
	}
}

// Outcome is the result class of a Step.
type Outcome int

const (
	Continue Outcome = iota
	Complete
	Abort
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "Continue"
	case Complete:
		return "Complete"
	case Abort:
		return "Abort"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Transition is returned by Step. Consumed counts the input bytes used; bytes
// after a Complete or Abort are left to the caller. Err is a *modbus.AbortError
// when Outcome is Abort.
type Transition struct {
	Outcome  Outcome
	Next     State
	Consumed int
	Err      error
}

var silenceMessages = map[StateKind]string{
	AwaitingFunction:  "function code not received",
	AwaitingByteCount: "byte count not received",
	AwaitingData:      "data byte not received",
	AwaitingCrc:       "crc byte not received",
}

// Step advances st by one read attempt. An empty input is a read that timed
// out: it is tolerated only before the first byte of the response arrived.
// Accepted bytes are appended to buf.
func Step(st State, input []byte, sent *ApplicationDataUnit, buf *bytes.Buffer) Transition {
	if len(input) == 0 {
		if st.Kind == AwaitingAddress {
			return Transition{Outcome: Continue, Next: st}
		}
		return Transition{
			Outcome: Abort,
			Next:    st,
			Err:     modbus.NewTimeoutAbort(st.Kind.String(), silenceMessages[st.Kind]),
		}
	}

	for i, b := range input {
		next, outcome, err := stepByte(st, b, sent, buf)
		switch outcome {
		case Complete:
			return Transition{Outcome: Complete, Next: next, Consumed: i + 1}
		case Abort:
			return Transition{Outcome: Abort, Next: st, Consumed: i + 1, Err: err}
		}
		st = next
	}
	return Transition{Outcome: Continue, Next: st, Consumed: len(input)}
}

func stepByte(st State, b byte, sent *ApplicationDataUnit, buf *bytes.Buffer) (State, Outcome, error) {
	switch st.Kind {
	case AwaitingAddress:
		if b != sent.SlaveID {
			// line noise before the reply starts
			return st, Continue, nil
		}
		buf.WriteByte(b)
		return State{Kind: AwaitingFunction}, Continue, nil

	case AwaitingFunction:
		if b != sent.Pdu.FunctionCode {
			msg := fmt.Sprintf("function code mismatch: sent %02X, received %02X", sent.Pdu.FunctionCode, b)
			return st, Abort, modbus.NewAbortError(st.Kind.String(), msg)
		}
		shape, ok := ResponseShape(b)
		if !ok {
			msg := fmt.Sprintf("unsupported function code %02X", b)
			return st, Abort, modbus.NewAbortError(st.Kind.String(), msg)
		}
		buf.WriteByte(b)
		if shape.ByteCount {
			return State{Kind: AwaitingByteCount}, Continue, nil
		}
		return State{Kind: AwaitingData, Remaining: shape.Fixed}, Continue, nil

	case AwaitingByteCount:
		count := int(b)
		if count > MaxSize-headerSize-crcSize-1 {
			msg := fmt.Sprintf("byte count %d exceeds frame size", count)
			return st, Abort, modbus.NewAbortError(st.Kind.String(), msg)
		}
		buf.WriteByte(b)
		if count == 0 {
			return State{Kind: AwaitingCrc, Remaining: crcSize}, Continue, nil
		}
		return State{Kind: AwaitingData, Remaining: count}, Continue, nil

	case AwaitingData:
		buf.WriteByte(b)
		if st.Remaining--; st.Remaining > 0 {
			return st, Continue, nil
		}
		return State{Kind: AwaitingCrc, Remaining: crcSize}, Continue, nil

	case AwaitingCrc:
		buf.WriteByte(b)
		if st.Remaining--; st.Remaining > 0 {
			return st, Continue, nil
		}
		return st, Complete, nil
	}
	return st, Abort, modbus.NewAbortError(st.Kind.String(), "invalid receiver state")
}

// Receiver accumulates one response frame for the request it was created with.
// It is discarded after Complete or Abort.
type Receiver struct {
	sent  *ApplicationDataUnit
	state State
	buf   bytes.Buffer
}

// NewReceiver returns a receiver waiting for the response to sent.
func NewReceiver(sent *ApplicationDataUnit) *Receiver {
	return &Receiver{sent: sent, state: State{Kind: AwaitingAddress}}
}

// Feed runs Step with the receiver's own state and buffer.
func (r *Receiver) Feed(input []byte) Transition {
	t := Step(r.state, input, r.sent, &r.buf)
	r.state = t.Next
	return t
}

func (r *Receiver) State() State {
	return r.state
}

// Bytes returns the bytes accepted so far.
func (r *Receiver) Bytes() []byte {
	return r.buf.Bytes()
}

// CalculateRequestLength returns the expected total length of the Request RTU ADU based on the header.
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	// Header should be at least 7 bytes to cover ByteCount for 0x0F/0x10.
	// [SlaveID, Func, Appd1, Appd2, Appd3, Appd4/ByteCount]

	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// Fixed 8 bytes: [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeReadExceptionStatus,
		modbus.FuncCodeGetCommEventCounter,
		modbus.FuncCodeReportSlaveID:
		// [SlaveID, Func, CRC(2)]
		return 4, nil
	case modbus.FuncCodeMaskWriteRegister:
		// [SlaveID, Func, Addr(2), AndMask(2), OrMask(2), CRC(2)]
		return 10, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// Req: [SlaveID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		if len(header) < multipleWriteHeader {
			return 0, fmt.Errorf("need 7 bytes to determine length for 0x%02X, got %d", funcCode, len(header))
		}

		byteCount := int(header[6])
		// Total = 7 (Header up to ByteCount) + N (Data) + 2 (CRC)
		return multipleWriteHeader + byteCount + crcSize, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", modbus.ErrUnsupportedFunction, funcCode)
	}
}

// ReadRequest reads one request frame from r into buf and returns its length.
// The header is read first and the rest is sized with CalculateRequestLength.
// A partially read frame is reported with the error that interrupted it.
func ReadRequest(r io.Reader, buf []byte) (int, error) {
	if len(buf) < MaxSize {
		return 0, fmt.Errorf("modbus: request buffer of %d bytes is smaller than %d", len(buf), MaxSize)
	}
	if _, err := io.ReadFull(r, buf[:headerSize]); err != nil {
		return 0, err
	}
	n := headerSize
	length, err := CalculateRequestLength(buf[1], buf[:n])
	if errors.Is(err, modbus.ErrUnsupportedFunction) {
		return n, err
	}
	if err != nil {
		// 0x0F and 0x10 carry their byte count in the 7th byte.
		if _, err := io.ReadFull(r, buf[n:multipleWriteHeader]); err != nil {
			return n, err
		}
		n = multipleWriteHeader
		if length, err = CalculateRequestLength(buf[1], buf[:n]); err != nil {
			return n, err
		}
	}
	if length > MaxSize {
		return n, fmt.Errorf("modbus: request length %d exceeds %d", length, MaxSize)
	}
	if _, err := io.ReadFull(r, buf[n:length]); err != nil {
		return n, err
	}
	return length, nil
}
