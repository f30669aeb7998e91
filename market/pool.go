// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package market

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/backrun/state"
)

// ErrNotImplemented is returned by pools that cannot price a direction
// backwards (out amount given, in amount wanted).
var ErrNotImplemented = errors.New("not implemented")

// PoolClass identifies the protocol dialect of a pool.
type PoolClass uint8

const (
	PoolClassUnknown PoolClass = iota
	PoolClassUniswapV2
	PoolClassUniswapV3
	PoolClassPancakeV3
	PoolClassMaverick
	PoolClassCurve
	PoolClassLidoStEth
	PoolClassLidoWstEth
	PoolClassRocketEth
	PoolClassCustom
)

func (c PoolClass) String() string {
	switch c {
	case PoolClassUniswapV2:
		return "uniswap2"
	case PoolClassUniswapV3:
		return "uniswap3"
	case PoolClassPancakeV3:
		return "pancake3"
	case PoolClassMaverick:
		return "maverick"
	case PoolClassCurve:
		return "curve"
	case PoolClassLidoStEth:
		return "steth"
	case PoolClassLidoWstEth:
		return "wsteth"
	case PoolClassRocketEth:
		return "reth"
	case PoolClassCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// SwapDirection is one ordered token pair a pool can price.
type SwapDirection struct {
	TokenIn  common.Address
	TokenOut common.Address
}

// Env is the block context pool math evaluates under.
type Env struct {
	BlockNumber    uint64
	BlockTimestamp uint64
	BaseFee        *uint256.Int
}

// AccountSlot names one storage cell.
type AccountSlot struct {
	Address common.Address
	Slot    common.Hash
}

// RequiredCall is an eth_call whose side effect is warming the state the
// pool needs.
type RequiredCall struct {
	To   common.Address
	Data []byte
}

// RequiredState lists everything a pool needs pre-loaded to simulate.
type RequiredState struct {
	Calls []RequiredCall
	Slots []AccountSlot
}

// AddCall appends a warming call.
func (r *RequiredState) AddCall(to common.Address, data []byte) *RequiredState {
	r.Calls = append(r.Calls, RequiredCall{To: to, Data: data})
	return r
}

// AddSlot appends a direct storage read.
func (r *RequiredState) AddSlot(addr common.Address, slot common.Hash) *RequiredState {
	r.Slots = append(r.Slots, AccountSlot{Address: addr, Slot: slot})
	return r
}

// PreswapRequirement tells the encoder how funds reach the pool.
type PreswapRequirement uint8

const (
	// PreswapTransfer pools expect tokens transferred in before the swap
	// call (Uniswap V2 style).
	PreswapTransfer PreswapRequirement = iota
	// PreswapCallback pools pull tokens inside a swap callback (Uniswap
	// V3 style); these can serve as flash sources.
	PreswapCallback
	// PreswapAllowance pools pull via transferFrom and need an approval.
	PreswapAllowance
)

// SwapEncoder compiles one pool hop into calldata for the multicaller.
// Offsets returning -1 mean "not available in this direction".
type SwapEncoder interface {
	// EncodeSwapInAmountProvided encodes a swap where the input amount is
	// known; payload is the callback payload for flash-capable pools.
	EncodeSwapInAmountProvided(tokenIn, tokenOut common.Address, amountIn *uint256.Int, recipient common.Address, payload []byte) ([]byte, error)
	// EncodeSwapOutAmountProvided encodes a swap where the output amount
	// is fixed and the input is pulled in the callback.
	EncodeSwapOutAmountProvided(tokenIn, tokenOut common.Address, amountOut *uint256.Int, recipient common.Address, payload []byte) ([]byte, error)
	// SwapInAmountOffset is the byte offset of the input amount inside
	// the encoded calldata, for return-value splicing.
	SwapInAmountOffset(tokenIn, tokenOut common.Address) int
	// SwapOutAmountReturnOffset is the byte offset of the output amount
	// inside the call's return data.
	SwapOutAmountReturnOffset(tokenIn, tokenOut common.Address) int
	// PreswapRequirement reports how the pool is funded.
	PreswapRequirement() PreswapRequirement
}

// Pool is the capability surface every protocol dialect implements.
// Equality and hashing are by address everywhere.
type Pool interface {
	Class() PoolClass
	Address() common.Address
	// Tokens is the ordered token list; length is at least two.
	Tokens() []common.Address
	// SwapDirections lists every ordered pair the pool prices.
	SwapDirections() []SwapDirection
	// CanFlashSwap reports whether the pool can lead a flash leg.
	CanFlashSwap() bool

	// CalculateOutAmount prices tokenIn->tokenOut for a fixed input,
	// returning the output amount and the gas the hop will consume.
	CalculateOutAmount(db state.Reader, env *Env, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, uint64, error)
	// CalculateInAmount is the inverse; pools may return
	// ErrNotImplemented.
	CalculateInAmount(db state.Reader, env *Env, tokenIn, tokenOut common.Address, amountOut *uint256.Int) (*uint256.Int, uint64, error)

	// StateRequired lists the state to pre-load before simulating.
	StateRequired() (*RequiredState, error)
	// ReadOnlyCells lists slots that must never be treated as mutated.
	ReadOnlyCells() []common.Hash

	Encoder() SwapEncoder
}

// DirectionsBetween is a helper building both orderings for a token pair.
func DirectionsBetween(a, b common.Address) []SwapDirection {
	return []SwapDirection{{TokenIn: a, TokenOut: b}, {TokenIn: b, TokenOut: a}}
}
