// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pools implements the protocol dialects the searcher prices:
// Uniswap V2 and V3 families, Curve stable-swap, Lido wstETH and Rocket
// rETH. All math runs against the layered state DB; nothing here calls
// out to a node.
package pools

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/crypto"

	"github.com/luxfi/backrun/state"
)

// readWord reads one storage slot as a uint256.
func readWord(db state.Reader, addr common.Address, slot common.Hash) (*uint256.Int, error) {
	raw, err := db.Storage(addr, slot)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(raw[:]), nil
}

// mappingSlot computes the storage slot of mapping[key] rooted at base.
func mappingSlot(key common.Hash, base common.Hash) common.Hash {
	return crypto.Keccak256Hash(key[:], base[:])
}

// int24Key encodes a signed tick for mapping-key hashing (left-padded
// two's complement).
func int24Key(tick int32) common.Hash {
	v := new(uint256.Int)
	if tick < 0 {
		v.SetAllOne()
		v.Sub(v, uint256.NewInt(uint64(-int64(tick))-1))
	} else {
		v.SetUint64(uint64(tick))
	}
	return v.Bytes32()
}

// int16Key encodes a signed bitmap word index for mapping-key hashing.
func int16Key(word int16) common.Hash {
	return int24Key(int32(word))
}

// u64Slot returns the hash form of a small integer slot number.
func u64Slot(n uint64) common.Hash {
	return uint256.NewInt(n).Bytes32()
}
