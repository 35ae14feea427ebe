// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

var (
	ErrCRCMismatch         = errors.New("modbus: crc mismatch")
	ErrUnsupportedFunction = errors.New("modbus: unsupported function code")
)

// AbortError is returned when reception of a response frame is abandoned,
// either because the line went silent mid-frame or a byte violated the frame layout.
type AbortError struct {
	State   string
	Msg     string
	timeout bool
}

// NewAbortError returns a framing abort raised in state.
func NewAbortError(state, msg string) *AbortError {
	return &AbortError{State: state, Msg: msg}
}

// NewTimeoutAbort returns a framing abort caused by an empty read.
func NewTimeoutAbort(state, msg string) *AbortError {
	return &AbortError{State: state, Msg: msg, timeout: true}
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("modbus: [%s] %s", e.State, e.Msg)
}

// Timeout reports whether the abort was caused by missing bytes.
func (e *AbortError) Timeout() bool { return e.timeout }

// CRCError is returned when a structurally complete frame fails CRC validation.
type CRCError struct {
	Want uint16
	Got  uint16
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("modbus: response crc '%04X' does not match expected '%04X'", e.Got, e.Want)
}

func (e *CRCError) Is(target error) bool { return target == ErrCRCMismatch }

// ResponseError is returned when a CRC-valid response does not have the
// shape the command expects.
type ResponseError struct {
	Command string
	Msg     string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("modbus: [%s] %s", e.Command, e.Msg)
}

// ArgumentError is returned for caller-supplied values outside their valid range.
type ArgumentError struct {
	Name  string
	Value any
	Msg   string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("modbus: invalid %s '%v': %s", e.Name, e.Value, e.Msg)
}

// InvalidLengthError is returned when a raw frame is too short to decode.
type InvalidLengthError struct {
	Length int
	Min    int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("modbus: frame length '%v' does not meet minimum '%v'", e.Length, e.Min)
}
