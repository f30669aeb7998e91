// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pools

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
)

// Storage layout of the concentrated-liquidity pool contract.
const (
	univ3Slot0            = 0
	univ3Liquidity        = 4
	univ3TicksSlot        = 5
	univ3BitmapSlot       = 6
	univ3ObservationsSlot = 8

	univ3SwapGas = 150_000

	// maxTickCrossings bounds the walk; beyond this the pool is
	// effectively exhausted for the requested amount.
	maxTickCrossings = 64
)

// ErrTickExhausted is the deterministic failure for a swap that runs out
// of initialized ticks.
var ErrTickExhausted = errors.New("tick range exhausted")

// UniswapV3Pool covers the canonical deployment plus the Pancake dialect
// (identical layout, different fee table).
type UniswapV3Pool struct {
	address common.Address
	factory common.Address
	token0  common.Address
	token1  common.Address

	feePips     uint64
	tickSpacing int32
	class       market.PoolClass

	encoder *univ3Encoder
}

// NewUniswapV3Pool builds a pool record for the canonical dialect.
func NewUniswapV3Pool(address, factory, token0, token1 common.Address, feePips uint64, tickSpacing int32) *UniswapV3Pool {
	p := &UniswapV3Pool{
		address: address, factory: factory, token0: token0, token1: token1,
		feePips: feePips, tickSpacing: tickSpacing, class: market.PoolClassUniswapV3,
	}
	p.encoder = &univ3Encoder{pool: p}
	return p
}

// NewPancakeV3Pool builds a pool record for the Pancake dialect.
func NewPancakeV3Pool(address, factory, token0, token1 common.Address, feePips uint64, tickSpacing int32) *UniswapV3Pool {
	p := NewUniswapV3Pool(address, factory, token0, token1, feePips, tickSpacing)
	p.class = market.PoolClassPancakeV3
	return p
}

// Class implements market.Pool.
func (p *UniswapV3Pool) Class() market.PoolClass { return p.class }

// Address implements market.Pool.
func (p *UniswapV3Pool) Address() common.Address { return p.address }

// Factory returns the deploying factory.
func (p *UniswapV3Pool) Factory() common.Address { return p.factory }

// Tokens implements market.Pool.
func (p *UniswapV3Pool) Tokens() []common.Address {
	return []common.Address{p.token0, p.token1}
}

// SwapDirections implements market.Pool.
func (p *UniswapV3Pool) SwapDirections() []market.SwapDirection {
	return market.DirectionsBetween(p.token0, p.token1)
}

// CanFlashSwap implements market.Pool; the swap callback delivers output
// before pulling input.
func (p *UniswapV3Pool) CanFlashSwap() bool { return true }

// slot0State is the unpacked slot0 word.
type slot0State struct {
	sqrtPriceX96 *uint256.Int
	tick         int32
}

func (p *UniswapV3Pool) slot0(db state.Reader) (*slot0State, error) {
	word, err := readWord(db, p.address, u64Slot(univ3Slot0))
	if err != nil {
		return nil, err
	}
	sqrtPrice := new(uint256.Int).And(word, new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 160), 1))
	tickBits := new(uint256.Int).And(new(uint256.Int).Rsh(word, 160), uint256.NewInt(0xffffff))
	tick := int32(tickBits.Uint64())
	if tick >= 1<<23 {
		tick -= 1 << 24
	}
	return &slot0State{sqrtPriceX96: sqrtPrice, tick: tick}, nil
}

func (p *UniswapV3Pool) liquidity(db state.Reader) (*uint256.Int, error) {
	word, err := readWord(db, p.address, u64Slot(univ3Liquidity))
	if err != nil {
		return nil, err
	}
	mask := new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
	return word.And(word, mask), nil
}

// liquidityNet reads ticks[tick].liquidityNet (upper int128 of the first
// struct slot).
func (p *UniswapV3Pool) liquidityNet(db state.Reader, tick int32) (*uint256.Int, bool, error) {
	slot := mappingSlot(int24Key(tick), u64Slot(univ3TicksSlot))
	word, err := readWord(db, p.address, slot)
	if err != nil {
		return nil, false, err
	}
	net := new(uint256.Int).Rsh(word, 128)
	signBit := new(uint256.Int).Lsh(uint256.NewInt(1), 127)
	negative := !new(uint256.Int).And(net, signBit).IsZero()
	if negative {
		// sign-extend then negate to get the magnitude
		ext := new(uint256.Int).Lsh(new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1), 128)
		net.Or(net, ext)
		net.Neg(net)
	}
	return net, negative, nil
}

// nextInitializedTick scans the bitmap one word at a time in the swap
// direction.
func (p *UniswapV3Pool) nextInitializedTick(db state.Reader, tick int32, zeroForOne bool) (int32, bool, error) {
	compressed := floorDiv(tick, p.tickSpacing)
	if zeroForOne {
		wordPos := int16(compressed >> 8)
		bitPos := uint(compressed & 255)
		word, err := readWord(db, p.address, mappingSlot(int16Key(wordPos), u64Slot(univ3BitmapSlot)))
		if err != nil {
			return 0, false, err
		}
		mask := new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), bitPos+1), 1)
		masked := new(uint256.Int).And(word, mask)
		if !masked.IsZero() {
			next := (compressed - int32(bitPos-mostSignificantBit(masked))) * p.tickSpacing
			return next, true, nil
		}
		return (compressed - int32(bitPos)) * p.tickSpacing, false, nil
	}
	compressed++
	wordPos := int16(compressed >> 8)
	bitPos := uint(compressed & 255)
	word, err := readWord(db, p.address, mappingSlot(int16Key(wordPos), u64Slot(univ3BitmapSlot)))
	if err != nil {
		return 0, false, err
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), bitPos)
	mask.SubUint64(mask, 1)
	mask.Not(mask)
	masked := new(uint256.Int).And(word, mask)
	if !masked.IsZero() {
		next := (compressed + int32(leastSignificantBit(masked)-bitPos)) * p.tickSpacing
		return next, true, nil
	}
	return (compressed + int32(255-bitPos)) * p.tickSpacing, false, nil
}

// CalculateOutAmount implements market.Pool with the tick-walking swap
// loop (exact input).
func (p *UniswapV3Pool) CalculateOutAmount(db state.Reader, _ *market.Env, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, uint64, error) {
	var zeroForOne bool
	switch {
	case tokenIn == p.token0 && tokenOut == p.token1:
		zeroForOne = true
	case tokenIn == p.token1 && tokenOut == p.token0:
		zeroForOne = false
	default:
		return nil, 0, fmt.Errorf("%w: %s->%s", ErrWrongDirection, tokenIn, tokenOut)
	}

	s0, err := p.slot0(db)
	if err != nil {
		return nil, 0, err
	}
	if s0.sqrtPriceX96.IsZero() || s0.sqrtPriceX96.Cmp(minSqrtRatio) < 0 || s0.sqrtPriceX96.Cmp(maxSqrtRatio) > 0 {
		return nil, 0, ErrSqrtPriceOutOfRange
	}
	liquidity, err := p.liquidity(db)
	if err != nil {
		return nil, 0, err
	}

	sqrtPrice := new(uint256.Int).Set(s0.sqrtPriceX96)
	tick := s0.tick
	remaining := new(uint256.Int).Set(amountIn)
	amountOut := new(uint256.Int)

	for crossings := 0; !remaining.IsZero(); crossings++ {
		if crossings > maxTickCrossings {
			return nil, 0, ErrTickExhausted
		}
		nextTick, initialized, err := p.nextInitializedTick(db, tick, zeroForOne)
		if err != nil {
			return nil, 0, err
		}
		if nextTick < minTick {
			nextTick = minTick
		} else if nextTick > maxTick {
			nextTick = maxTick
		}
		sqrtTarget, err := sqrtRatioAtTick(nextTick)
		if err != nil {
			return nil, 0, err
		}

		if liquidity.IsZero() {
			if !initialized {
				return nil, 0, ErrInsufficientLiquidity
			}
			// hop the dead range
			sqrtPrice.Set(sqrtTarget)
		} else {
			step := computeSwapStep(sqrtPrice, sqrtTarget, liquidity, remaining, p.feePips)
			consumed := new(uint256.Int).Add(step.amountIn, step.feeAmount)
			if consumed.Cmp(remaining) > 0 {
				remaining.Clear()
			} else {
				remaining.Sub(remaining, consumed)
			}
			amountOut.Add(amountOut, step.amountOut)
			sqrtPrice.Set(step.sqrtNext)
			if !sqrtPrice.Eq(sqrtTarget) {
				// price stopped inside the range: input consumed
				break
			}
		}

		if initialized {
			net, negative, err := p.liquidityNet(db, nextTick)
			if err != nil {
				return nil, 0, err
			}
			if zeroForOne != negative {
				// crossing down subtracts positive net; crossing up adds
				if liquidity.Cmp(net) < 0 {
					return nil, 0, ErrInsufficientLiquidity
				}
				liquidity = new(uint256.Int).Sub(liquidity, net)
			} else {
				liquidity = new(uint256.Int).Add(liquidity, net)
			}
		}
		if zeroForOne {
			tick = nextTick - 1
		} else {
			tick = nextTick
		}
		if tick <= minTick || tick >= maxTick {
			return nil, 0, ErrTickExhausted
		}
	}

	if amountOut.IsZero() {
		return nil, 0, ErrInsufficientLiquidity
	}
	return amountOut, univ3SwapGas, nil
}

// CalculateInAmount implements market.Pool; the inverse walk is not
// provided, callers fall back to forward search.
func (p *UniswapV3Pool) CalculateInAmount(state.Reader, *market.Env, common.Address, common.Address, *uint256.Int) (*uint256.Int, uint64, error) {
	return nil, 0, market.ErrNotImplemented
}

// StateRequired implements market.Pool: slot0, liquidity, and the bitmap
// words around the current tick.
func (p *UniswapV3Pool) StateRequired() (*market.RequiredState, error) {
	rs := &market.RequiredState{}
	rs.AddSlot(p.address, u64Slot(univ3Slot0))
	rs.AddSlot(p.address, u64Slot(univ3Liquidity))
	// bitmap words -4..4 around tick zero only; no wider range is
	// preloaded
	for w := int16(-4); w <= 4; w++ {
		rs.AddSlot(p.address, mappingSlot(int16Key(w), u64Slot(univ3BitmapSlot)))
	}
	return rs, nil
}

// ReadOnlyCells implements market.Pool; the observations array mutates
// on every swap without affecting pricing.
func (p *UniswapV3Pool) ReadOnlyCells() []common.Hash {
	return []common.Hash{u64Slot(univ3ObservationsSlot)}
}

// Encoder implements market.Pool.
func (p *UniswapV3Pool) Encoder() market.SwapEncoder { return p.encoder }
