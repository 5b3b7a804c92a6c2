// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrSuperseded is returned for a queued request that was evicted by a
	// newer request with the same request type before it was ever sent.
	ErrSuperseded = errors.New("modbus: request superseded by a newer request of the same type")
	// ErrUnresponsive is returned once every attempt of a request timed out.
	ErrUnresponsive = errors.New("modbus: slave did not respond")
	// ErrCRC is returned when the response failed checksum validation.
	ErrCRC = errors.New("modbus: response crc error")
	// ErrInvalidLength is returned when the response is shorter than a frame.
	ErrInvalidLength = errors.New("modbus: response with invalid length")
	// ErrFlushed is returned for queued requests dropped by a flush.
	ErrFlushed = errors.New("modbus: request flushed from queue")
	// ErrClosed is returned for requests submitted to, or pending in, a
	// stopped transport.
	ErrClosed = errors.New("modbus: transport closed")
)

var exceptionDescriptions = map[byte]string{
	ExceptionCodeIllegalFunction:                    "illegal function",
	ExceptionCodeIllegalDataAddress:                 "illegal data address",
	ExceptionCodeIllegalDataValue:                   "illegal data value",
	ExceptionCodeServerDeviceFailure:                "slave device failure",
	ExceptionCodeAcknowledge:                        "acknowledge",
	ExceptionCodeServerDeviceBusy:                   "slave device busy",
	ExceptionCodeNegativeAcknowledge:                "negative acknowledge",
	ExceptionCodeMemoryParityError:                  "memory parity error",
	ExceptionCodeGatewayPathUnavailable:             "gateway path unavailable",
	ExceptionCodeGatewayTargetDeviceFailedToRespond: "gateway target device failed to respond",
}

// ExceptionDescription maps an exception code to its description. Codes
// outside the table map to "unknown".
func ExceptionDescription(code byte) string {
	if desc, ok := exceptionDescriptions[code]; ok {
		return desc
	}
	return "unknown"
}

// ExceptionError is a Modbus exception response returned by a slave.
type ExceptionError struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", e.Code, e.Description(), e.FunctionCode&^ExceptionBit)
}

// Description returns the human readable meaning of the exception code.
func (e *ExceptionError) Description() string {
	return ExceptionDescription(e.Code)
}

// LengthMismatchError is returned when a valid frame does not have the
// length predicted from the request.
type LengthMismatchError struct {
	Expected int
	Got      int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("modbus: data length error, expected %d got %d", e.Expected, e.Got)
}
