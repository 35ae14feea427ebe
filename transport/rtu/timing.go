// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"strings"
	"time"
)

const (
	// Fixed values the Modbus serial line guide gives for baud rates above 19200.
	minFrameSilence = 1750 * time.Microsecond
	minCharTimeout  = 750 * time.Microsecond
)

// CharTime returns the time needed to transmit one character: start bit,
// data bits, optional parity bit and stop bits. It is 0 if baudRate is unknown.
func CharTime(baudRate, dataBits int, parity string, stopBits int) time.Duration {
	if baudRate <= 0 {
		return 0
	}
	bits := 1 + dataBits + stopBits
	if p := strings.ToUpper(parity); p != "" && p != "N" {
		bits++
	}
	return time.Duration(bits) * time.Second / time.Duration(baudRate)
}

// FrameSilence returns the inter-frame silence (t3.5) for charTime.
func FrameSilence(charTime time.Duration) time.Duration {
	if d := charTime * 35 / 10; d > minFrameSilence {
		return d
	}
	return minFrameSilence
}

// CharTimeout returns the inter-character timeout (t1.5) for charTime.
func CharTimeout(charTime time.Duration) time.Duration {
	if d := charTime * 15 / 10; d > minCharTimeout {
		return d
	}
	return minCharTimeout
}
