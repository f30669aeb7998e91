// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package composer turns priced candidates into broadcast-ready bundles:
// it merges compatible candidates, compiles them into one multicaller
// transaction, and runs the EVM estimation pass.
package composer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// ErrTruncatedCall is returned when decoding runs off the buffer.
var ErrTruncatedCall = errors.New("truncated multicaller call")

// StackIO tells the multicaller to splice bytes between the return
// stack and a call's calldata: (use?, stack index, byte offset, length).
type StackIO struct {
	UseStack bool
	Index    uint8
	Offset   uint16
	Length   uint16
}

// Call is one multicaller sub-call. CallInput splices a previous call's
// return bytes into this call's calldata; ReturnOutput pushes a slice of
// this call's return onto the stack for later calls.
type Call struct {
	Target   common.Address
	Value    *uint256.Int
	Calldata []byte

	CallInput    StackIO
	ReturnOutput StackIO
}

// The record layout is fixed-offset: the on-chain multicaller walks it
// with constant strides.
//
//	[20 target][32 value][4 len][6 callIO][6 retIO][len calldata]
const callHeaderSize = 20 + 32 + 4 + 6 + 6

func encodeStackIO(buf []byte, io StackIO) {
	if io.UseStack {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	buf[1] = io.Index
	binary.BigEndian.PutUint16(buf[2:4], io.Offset)
	binary.BigEndian.PutUint16(buf[4:6], io.Length)
}

func decodeStackIO(buf []byte) StackIO {
	return StackIO{
		UseStack: buf[0] == 1,
		Index:    buf[1],
		Offset:   binary.BigEndian.Uint16(buf[2:4]),
		Length:   binary.BigEndian.Uint16(buf[4:6]),
	}
}

// EncodeCalls packs a call sequence into the multicaller wire format.
func EncodeCalls(calls []Call) []byte {
	size := 0
	for _, c := range calls {
		size += callHeaderSize + len(c.Calldata)
	}
	out := make([]byte, 0, size)
	for _, c := range calls {
		rec := make([]byte, callHeaderSize)
		copy(rec[0:20], c.Target.Bytes())
		value := c.Value
		if value == nil {
			value = new(uint256.Int)
		}
		v := value.Bytes32()
		copy(rec[20:52], v[:])
		binary.BigEndian.PutUint32(rec[52:56], uint32(len(c.Calldata)))
		encodeStackIO(rec[56:62], c.CallInput)
		encodeStackIO(rec[62:68], c.ReturnOutput)
		out = append(out, rec...)
		out = append(out, c.Calldata...)
	}
	return out
}

// DecodeCalls reverses EncodeCalls byte-for-byte.
func DecodeCalls(data []byte) ([]Call, error) {
	var out []Call
	for len(data) > 0 {
		if len(data) < callHeaderSize {
			return nil, fmt.Errorf("%w: %d header bytes", ErrTruncatedCall, len(data))
		}
		var c Call
		c.Target = common.BytesToAddress(data[0:20])
		c.Value = new(uint256.Int).SetBytes(data[20:52])
		length := binary.BigEndian.Uint32(data[52:56])
		c.CallInput = decodeStackIO(data[56:62])
		c.ReturnOutput = decodeStackIO(data[62:68])
		data = data[callHeaderSize:]
		if uint32(len(data)) < length {
			return nil, fmt.Errorf("%w: %d calldata bytes of %d", ErrTruncatedCall, len(data), length)
		}
		c.Calldata = append([]byte(nil), data[:length]...)
		data = data[length:]
		out = append(out, c)
	}
	return out, nil
}
