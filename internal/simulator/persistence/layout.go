// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"unsafe"

	"github.com/ffutop/modbus-master/internal/simulator/model"
)

// Byte image shared by the file and mmap backends:
//
//	coils              65536 bytes at 0
//	discrete inputs    65536 bytes at 65536
//	holding registers  131072 bytes at 131072
//	input registers    131072 bytes at 262144
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

// mapBytesToModel returns a model whose tables alias data. Registers are
// stored in host byte order, so images do not move between architectures
// of different endianness.
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

// span returns the byte range of the image that holds quantity entries of
// table from address.
func span(table model.TableType, address, quantity uint16) (start, end int) {
	switch table {
	case model.TableCoils:
		start, end = offsetCoils+int(address), offsetCoils+int(address)+int(quantity)
	case model.TableDiscreteInputs:
		start, end = offsetDiscrete+int(address), offsetDiscrete+int(address)+int(quantity)
	case model.TableHoldingRegisters:
		start, end = offsetHolding+2*int(address), offsetHolding+2*(int(address)+int(quantity))
	case model.TableInputRegisters:
		start, end = offsetInput+2*int(address), offsetInput+2*(int(address)+int(quantity))
	}
	return start, min(end, totalSize)
}
