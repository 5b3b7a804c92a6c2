// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize is the shortest valid frame: address, function, one byte, CRC.
	MinSize = 5
	MaxSize = 256

	ExceptionSize = 5
	// HeaderSize covers address, function, data address and count/value.
	HeaderSize = 6
	// WriteResponseSize is the echo length of every write function code.
	WriteResponseSize = 8
)

// Protocol limits on quantities per request.
const (
	MaxReadBits       = 2000
	MaxReadRegisters  = 125
	MaxWriteBits      = 1968
	MaxWriteRegisters = 123
)
