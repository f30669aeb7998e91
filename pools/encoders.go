// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pools

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/crypto"

	"github.com/luxfi/backrun/market"
)

// Selectors of the swap entrypoints, derived once at init.
var (
	selV2Swap    = selector("swap(uint256,uint256,address,bytes)")
	selV3Swap    = selector("swap(address,bool,int256,uint160,bytes)")
	selCurveSwap = selector("exchange(int128,int128,uint256,uint256)")
	selWstWrap   = selector("wrap(uint256)")
	selWstUnwrap = selector("unwrap(uint256)")
)

func selector(sig string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(sig))[:4])
	return out
}

// calldataBuilder packs 32-byte ABI words after a selector.
type calldataBuilder struct {
	buf []byte
}

func newCalldata(sel [4]byte) *calldataBuilder {
	return &calldataBuilder{buf: append([]byte(nil), sel[:]...)}
}

func (b *calldataBuilder) word(h common.Hash) *calldataBuilder {
	b.buf = append(b.buf, h[:]...)
	return b
}

func (b *calldataBuilder) uint(v *uint256.Int) *calldataBuilder {
	return b.word(v.Bytes32())
}

func (b *calldataBuilder) address(a common.Address) *calldataBuilder {
	return b.word(common.BytesToHash(a.Bytes()))
}

func (b *calldataBuilder) boolean(v bool) *calldataBuilder {
	if v {
		return b.word(common.BytesToHash([]byte{1}))
	}
	return b.word(common.Hash{})
}

// dynBytes appends the offset word and then the length-prefixed, padded
// tail of a bytes argument that is the last head word; argCount is the
// total number of head words.
func (b *calldataBuilder) dynBytes(payload []byte, argCount int) *calldataBuilder {
	offset := uint256.NewInt(uint64(argCount * 32))
	b.uint(offset)
	length := uint256.NewInt(uint64(len(payload)))
	b.uint(length)
	b.buf = append(b.buf, payload...)
	if pad := len(payload) % 32; pad != 0 {
		b.buf = append(b.buf, make([]byte, 32-pad)...)
	}
	return b
}

func (b *calldataBuilder) bytes() []byte { return b.buf }

// univ2Encoder encodes pair swap calls. The input amount never appears
// in calldata (pairs are funded by a preceding transfer), so splicing
// targets the out-amount argument instead.
type univ2Encoder struct {
	pool *UniswapV2Pool
}

// EncodeSwapInAmountProvided implements market.SwapEncoder. The caller
// pre-computes the out amount; amountIn here is that expected output.
func (e *univ2Encoder) EncodeSwapInAmountProvided(tokenIn, tokenOut common.Address, amountOut *uint256.Int, recipient common.Address, payload []byte) ([]byte, error) {
	amount0Out := new(uint256.Int)
	amount1Out := new(uint256.Int)
	if tokenOut == e.pool.token0 {
		amount0Out.Set(amountOut)
	} else {
		amount1Out.Set(amountOut)
	}
	b := newCalldata(selV2Swap).uint(amount0Out).uint(amount1Out).address(recipient)
	b.dynBytes(payload, 4)
	return b.bytes(), nil
}

// EncodeSwapOutAmountProvided implements market.SwapEncoder; identical
// shape for pairs.
func (e *univ2Encoder) EncodeSwapOutAmountProvided(tokenIn, tokenOut common.Address, amountOut *uint256.Int, recipient common.Address, payload []byte) ([]byte, error) {
	return e.EncodeSwapInAmountProvided(tokenIn, tokenOut, amountOut, recipient, payload)
}

// SwapInAmountOffset implements market.SwapEncoder: the out-amount word
// for the produced token is what upstream output splices into.
func (e *univ2Encoder) SwapInAmountOffset(tokenIn, tokenOut common.Address) int {
	if tokenOut == e.pool.token0 {
		return 4
	}
	return 4 + 32
}

// SwapOutAmountReturnOffset implements market.SwapEncoder; pair swaps
// return nothing.
func (e *univ2Encoder) SwapOutAmountReturnOffset(tokenIn, tokenOut common.Address) int {
	return -1
}

// PreswapRequirement implements market.SwapEncoder.
func (e *univ2Encoder) PreswapRequirement() market.PreswapRequirement {
	return market.PreswapTransfer
}

// univ3Encoder encodes concentrated-liquidity swap calls.
type univ3Encoder struct {
	pool *UniswapV3Pool
}

func (e *univ3Encoder) sqrtLimit(zeroForOne bool) *uint256.Int {
	if zeroForOne {
		return new(uint256.Int).AddUint64(minSqrtRatio, 1)
	}
	return new(uint256.Int).SubUint64(maxSqrtRatio, 1)
}

// EncodeSwapInAmountProvided implements market.SwapEncoder.
func (e *univ3Encoder) EncodeSwapInAmountProvided(tokenIn, tokenOut common.Address, amountIn *uint256.Int, recipient common.Address, payload []byte) ([]byte, error) {
	zeroForOne := tokenIn == e.pool.token0
	b := newCalldata(selV3Swap).
		address(recipient).
		boolean(zeroForOne).
		uint(amountIn).
		uint(e.sqrtLimit(zeroForOne))
	b.dynBytes(payload, 5)
	return b.bytes(), nil
}

// EncodeSwapOutAmountProvided implements market.SwapEncoder: a negative
// amountSpecified asks the pool for exact output.
func (e *univ3Encoder) EncodeSwapOutAmountProvided(tokenIn, tokenOut common.Address, amountOut *uint256.Int, recipient common.Address, payload []byte) ([]byte, error) {
	neg := new(uint256.Int).Neg(amountOut)
	return e.EncodeSwapInAmountProvided(tokenIn, tokenOut, neg, recipient, payload)
}

// SwapInAmountOffset implements market.SwapEncoder: amountSpecified is
// the third head word.
func (e *univ3Encoder) SwapInAmountOffset(tokenIn, tokenOut common.Address) int {
	return 4 + 2*32
}

// SwapOutAmountReturnOffset implements market.SwapEncoder: the swap
// returns (amount0, amount1); the out token's delta is negative.
func (e *univ3Encoder) SwapOutAmountReturnOffset(tokenIn, tokenOut common.Address) int {
	if tokenOut == e.pool.token0 {
		return 0
	}
	return 32
}

// PreswapRequirement implements market.SwapEncoder.
func (e *univ3Encoder) PreswapRequirement() market.PreswapRequirement {
	return market.PreswapCallback
}

// curveEncoder encodes exchange calls.
type curveEncoder struct {
	pool *CurvePool
}

// EncodeSwapInAmountProvided implements market.SwapEncoder.
func (e *curveEncoder) EncodeSwapInAmountProvided(tokenIn, tokenOut common.Address, amountIn *uint256.Int, _ common.Address, _ []byte) ([]byte, error) {
	i, _ := e.pool.coinIndex(tokenIn)
	j, _ := e.pool.coinIndex(tokenOut)
	b := newCalldata(selCurveSwap).
		uint(uint256.NewInt(uint64(i))).
		uint(uint256.NewInt(uint64(j))).
		uint(amountIn).
		uint(new(uint256.Int)) // min_dy guarded by the outer profit check
	return b.bytes(), nil
}

// EncodeSwapOutAmountProvided implements market.SwapEncoder.
func (e *curveEncoder) EncodeSwapOutAmountProvided(common.Address, common.Address, *uint256.Int, common.Address, []byte) ([]byte, error) {
	return nil, market.ErrNotImplemented
}

// SwapInAmountOffset implements market.SwapEncoder: dx is the third head
// word.
func (e *curveEncoder) SwapInAmountOffset(tokenIn, tokenOut common.Address) int {
	return 4 + 2*32
}

// SwapOutAmountReturnOffset implements market.SwapEncoder.
func (e *curveEncoder) SwapOutAmountReturnOffset(tokenIn, tokenOut common.Address) int {
	return 0
}

// PreswapRequirement implements market.SwapEncoder.
func (e *curveEncoder) PreswapRequirement() market.PreswapRequirement {
	return market.PreswapAllowance
}

// lsdEncoder encodes wrap/unwrap-style rate conversions.
type lsdEncoder struct {
	target common.Address
}

// EncodeSwapInAmountProvided implements market.SwapEncoder.
func (e *lsdEncoder) EncodeSwapInAmountProvided(tokenIn, tokenOut common.Address, amountIn *uint256.Int, _ common.Address, _ []byte) ([]byte, error) {
	sel := selWstWrap
	if tokenIn == e.target {
		sel = selWstUnwrap
	}
	return newCalldata(sel).uint(amountIn).bytes(), nil
}

// EncodeSwapOutAmountProvided implements market.SwapEncoder.
func (e *lsdEncoder) EncodeSwapOutAmountProvided(common.Address, common.Address, *uint256.Int, common.Address, []byte) ([]byte, error) {
	return nil, market.ErrNotImplemented
}

// SwapInAmountOffset implements market.SwapEncoder.
func (e *lsdEncoder) SwapInAmountOffset(common.Address, common.Address) int { return 4 }

// SwapOutAmountReturnOffset implements market.SwapEncoder.
func (e *lsdEncoder) SwapOutAmountReturnOffset(common.Address, common.Address) int { return 0 }

// PreswapRequirement implements market.SwapEncoder.
func (e *lsdEncoder) PreswapRequirement() market.PreswapRequirement {
	return market.PreswapAllowance
}
