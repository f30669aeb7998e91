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

const (
	// univ2ReservesSlot holds (blockTimestampLast << 224 | reserve1 <<
	// 112 | reserve0).
	univ2ReservesSlot = 8

	// univ2SwapGas is the per-hop gas estimate for a V2-style swap.
	univ2SwapGas = 100_000
)

var (
	// ErrInsufficientLiquidity is the deterministic failure for an
	// amount the pool cannot serve.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrWrongDirection is returned for a token pair the pool does not
	// price.
	ErrWrongDirection = errors.New("token pair not priced by pool")

	u112Mask = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 112), 1)
)

// UniswapV2Pool is a constant-product pair. Sushiswap and most V2 clones
// differ only in factory and fee.
type UniswapV2Pool struct {
	address common.Address
	factory common.Address
	token0  common.Address
	token1  common.Address

	// fee is the parts-per-thousand of the input that counts after the LP
	// fee, 997 for the canonical deployment.
	fee uint64

	encoder *univ2Encoder
}

// NewUniswapV2Pool builds a pair record; fee 0 means the canonical 997.
func NewUniswapV2Pool(address, factory, token0, token1 common.Address, fee uint64) *UniswapV2Pool {
	if fee == 0 {
		fee = 997
	}
	p := &UniswapV2Pool{address: address, factory: factory, token0: token0, token1: token1, fee: fee}
	p.encoder = &univ2Encoder{pool: p}
	return p
}

// Class implements market.Pool.
func (p *UniswapV2Pool) Class() market.PoolClass { return market.PoolClassUniswapV2 }

// Address implements market.Pool.
func (p *UniswapV2Pool) Address() common.Address { return p.address }

// Factory returns the deploying factory.
func (p *UniswapV2Pool) Factory() common.Address { return p.factory }

// Tokens implements market.Pool.
func (p *UniswapV2Pool) Tokens() []common.Address {
	return []common.Address{p.token0, p.token1}
}

// SwapDirections implements market.Pool.
func (p *UniswapV2Pool) SwapDirections() []market.SwapDirection {
	return market.DirectionsBetween(p.token0, p.token1)
}

// CanFlashSwap implements market.Pool; V2 pairs support flash swaps via
// the swap callback.
func (p *UniswapV2Pool) CanFlashSwap() bool { return true }

// reserves reads and unpacks the packed reserves slot.
func (p *UniswapV2Pool) reserves(db state.Reader) (*uint256.Int, *uint256.Int, error) {
	word, err := readWord(db, p.address, u64Slot(univ2ReservesSlot))
	if err != nil {
		return nil, nil, err
	}
	reserve0 := new(uint256.Int).And(word, u112Mask)
	reserve1 := new(uint256.Int).And(new(uint256.Int).Rsh(word, 112), u112Mask)
	return reserve0, reserve1, nil
}

func (p *UniswapV2Pool) orient(tokenIn, tokenOut common.Address, r0, r1 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	switch {
	case tokenIn == p.token0 && tokenOut == p.token1:
		return r0, r1, nil
	case tokenIn == p.token1 && tokenOut == p.token0:
		return r1, r0, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s->%s", ErrWrongDirection, tokenIn, tokenOut)
	}
}

// CalculateOutAmount implements market.Pool with the x*y=k closed form.
func (p *UniswapV2Pool) CalculateOutAmount(db state.Reader, _ *market.Env, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, uint64, error) {
	r0, r1, err := p.reserves(db)
	if err != nil {
		return nil, 0, err
	}
	reserveIn, reserveOut, err := p.orient(tokenIn, tokenOut, r0, r1)
	if err != nil {
		return nil, 0, err
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, 0, ErrInsufficientLiquidity
	}

	amountInWithFee := new(uint256.Int).Mul(amountIn, uint256.NewInt(p.fee))
	numerator := new(uint256.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(uint256.Int).Mul(reserveIn, uint256.NewInt(1000))
	denominator.Add(denominator, amountInWithFee)
	out := numerator.Div(numerator, denominator)
	if out.Cmp(reserveOut) >= 0 {
		return nil, 0, ErrInsufficientLiquidity
	}
	return out, univ2SwapGas, nil
}

// CalculateInAmount implements market.Pool (inverse closed form).
func (p *UniswapV2Pool) CalculateInAmount(db state.Reader, _ *market.Env, tokenIn, tokenOut common.Address, amountOut *uint256.Int) (*uint256.Int, uint64, error) {
	r0, r1, err := p.reserves(db)
	if err != nil {
		return nil, 0, err
	}
	reserveIn, reserveOut, err := p.orient(tokenIn, tokenOut, r0, r1)
	if err != nil {
		return nil, 0, err
	}
	if reserveIn.IsZero() || amountOut.Cmp(reserveOut) >= 0 {
		return nil, 0, ErrInsufficientLiquidity
	}

	numerator := new(uint256.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, uint256.NewInt(1000))
	denominator := new(uint256.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, uint256.NewInt(p.fee))
	in := numerator.Div(numerator, denominator)
	in.AddUint64(in, 1)
	return in, univ2SwapGas, nil
}

// StateRequired implements market.Pool.
func (p *UniswapV2Pool) StateRequired() (*market.RequiredState, error) {
	rs := &market.RequiredState{}
	rs.AddSlot(p.address, u64Slot(univ2ReservesSlot))
	return rs, nil
}

// ReadOnlyCells implements market.Pool; pairs keep price state in the
// reserves slot only.
func (p *UniswapV2Pool) ReadOnlyCells() []common.Hash { return nil }

// Encoder implements market.Pool.
func (p *UniswapV2Pool) Encoder() market.SwapEncoder { return p.encoder }
