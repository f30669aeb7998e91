// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pools

import (
	"bytes"

	"github.com/luxfi/backrun/market"
)

// Selector bytes probed for inside deployed code. Contracts dispatch on
// PUSH4 <selector>, so the raw four bytes appear verbatim in the
// bytecode of any contract exposing the function.
var (
	sigV2Token0      = selector("token0()")
	sigV2Token1      = selector("token1()")
	sigV2GetReserves = selector("getReserves()")
	sigV2SwapFn      = selV2Swap

	sigV3Slot0      = selector("slot0()")
	sigV3Liquidity  = selector("liquidity()")
	sigV3TickBitmap = selector("tickBitmap(int16)")

	sigCurveGetDy    = selector("get_dy(int128,int128,uint256)")
	sigCurveExchange = selCurveSwap
)

func codeContains(code []byte, sel [4]byte) bool {
	return bytes.Contains(code, sel[:])
}

// MatchPoolClass inspects deployed bytecode and classifies the contract
// by its selector fingerprint. Unrecognised code is reported unknown and
// ignored by callers; there is deliberately no probing fallback.
func MatchPoolClass(code []byte) market.PoolClass {
	if len(code) == 0 {
		return market.PoolClassUnknown
	}
	switch {
	case codeContains(code, sigV3Slot0) &&
		codeContains(code, sigV3Liquidity) &&
		codeContains(code, sigV3TickBitmap):
		return market.PoolClassUniswapV3
	case codeContains(code, sigV2Token0) &&
		codeContains(code, sigV2Token1) &&
		codeContains(code, sigV2GetReserves) &&
		codeContains(code, sigV2SwapFn):
		return market.PoolClassUniswapV2
	case codeContains(code, sigCurveGetDy) && codeContains(code, sigCurveExchange):
		return market.PoolClassCurve
	default:
		return market.PoolClassUnknown
	}
}
