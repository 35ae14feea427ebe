// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/ffutop/modbus-rtu-client/internal/simslave/model"
)

// On-disk image:
//
//	Coils            : 65536 bytes at 0
//	DiscreteInputs   : 65536 bytes at 65536
//	HoldingRegisters : 65536 * 2 bytes at 131072
//	InputRegisters   : 65536 * 2 bytes at 262144
const (
	sizeCoils    = model.MaxAddress + 1
	sizeDiscrete = model.MaxAddress + 1
	sizeHolding  = (model.MaxAddress + 1) * 2
	sizeInput    = (model.MaxAddress + 1) * 2
	totalSize    = sizeCoils + sizeDiscrete + sizeHolding + sizeInput

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
)

// mapBytesToModel returns a DataModel whose tables alias data.
// Registers are kept in host byte order, so an image is not portable
// between hosts of different endianness.
func mapBytesToModel(data []byte) *model.DataModel {
	holding := data[offsetHolding : offsetHolding+sizeHolding]
	input := data[offsetInput : offsetInput+sizeInput]

	return &model.DataModel{
		Coils:            data[offsetCoils : offsetCoils+sizeCoils],
		DiscreteInputs:   data[offsetDiscrete : offsetDiscrete+sizeDiscrete],
		HoldingRegisters: unsafe.Slice((*uint16)(unsafe.Pointer(&holding[0])), sizeHolding/2),
		InputRegisters:   unsafe.Slice((*uint16)(unsafe.Pointer(&input[0])), sizeInput/2),
	}
}

// openImage opens or creates the image file at path and sizes it to totalSize.
func openImage(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize image %s: %w", path, err)
		}
	}
	return f, nil
}
