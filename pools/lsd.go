// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pools

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/crypto"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
)

// Liquid-staking wrappers price by an on-chain exchange rate rather than
// reserves; both directions are exact and fee-free.

const lsdSwapGas = 70_000

var (
	// Lido keeps its rebasing state in keccak-named slots.
	lidoTotalSharesSlot      = crypto.Keccak256Hash([]byte("lido.StETH.totalShares"))
	lidoBeaconBalanceSlot    = crypto.Keccak256Hash([]byte("lido.Lido.beaconBalance"))
	lidoBufferedEtherSlot    = crypto.Keccak256Hash([]byte("lido.Lido.bufferedEther"))
	lidoTransientBalanceSlot = crypto.Keccak256Hash([]byte("lido.Lido.depositedValidators"))
)

// WstEthPool prices wstETH <-> stETH through the share rate of the stETH
// contract.
type WstEthPool struct {
	address common.Address // wstETH
	stEth   common.Address

	encoder *lsdEncoder
}

// NewWstEthPool builds the wrapper pool.
func NewWstEthPool(wstEth, stEth common.Address) *WstEthPool {
	p := &WstEthPool{address: wstEth, stEth: stEth}
	p.encoder = &lsdEncoder{target: wstEth}
	return p
}

// Class implements market.Pool.
func (p *WstEthPool) Class() market.PoolClass { return market.PoolClassLidoWstEth }

// Address implements market.Pool.
func (p *WstEthPool) Address() common.Address { return p.address }

// Tokens implements market.Pool.
func (p *WstEthPool) Tokens() []common.Address {
	return []common.Address{p.stEth, p.address}
}

// SwapDirections implements market.Pool.
func (p *WstEthPool) SwapDirections() []market.SwapDirection {
	return market.DirectionsBetween(p.stEth, p.address)
}

// CanFlashSwap implements market.Pool.
func (p *WstEthPool) CanFlashSwap() bool { return false }

// pooledEthAndShares reads the stETH rebasing state.
func (p *WstEthPool) pooledEthAndShares(db state.Reader) (*uint256.Int, *uint256.Int, error) {
	shares, err := readWord(db, p.stEth, lidoTotalSharesSlot)
	if err != nil {
		return nil, nil, err
	}
	beacon, err := readWord(db, p.stEth, lidoBeaconBalanceSlot)
	if err != nil {
		return nil, nil, err
	}
	buffered, err := readWord(db, p.stEth, lidoBufferedEtherSlot)
	if err != nil {
		return nil, nil, err
	}
	pooled := new(uint256.Int).Add(beacon, buffered)
	return pooled, shares, nil
}

// CalculateOutAmount implements market.Pool: wrap converts stETH to
// shares, unwrap converts shares to stETH.
func (p *WstEthPool) CalculateOutAmount(db state.Reader, _ *market.Env, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, uint64, error) {
	pooled, shares, err := p.pooledEthAndShares(db)
	if err != nil {
		return nil, 0, err
	}
	if pooled.IsZero() || shares.IsZero() {
		return nil, 0, ErrInsufficientLiquidity
	}
	switch {
	case tokenIn == p.stEth && tokenOut == p.address:
		return mulDiv(amountIn, shares, pooled), lsdSwapGas, nil
	case tokenIn == p.address && tokenOut == p.stEth:
		return mulDiv(amountIn, pooled, shares), lsdSwapGas, nil
	default:
		return nil, 0, ErrWrongDirection
	}
}

// CalculateInAmount implements market.Pool; the rate inverts exactly.
func (p *WstEthPool) CalculateInAmount(db state.Reader, env *market.Env, tokenIn, tokenOut common.Address, amountOut *uint256.Int) (*uint256.Int, uint64, error) {
	return p.CalculateOutAmount(db, env, tokenOut, tokenIn, amountOut)
}

// StateRequired implements market.Pool.
func (p *WstEthPool) StateRequired() (*market.RequiredState, error) {
	rs := &market.RequiredState{}
	rs.AddSlot(p.stEth, lidoTotalSharesSlot)
	rs.AddSlot(p.stEth, lidoBeaconBalanceSlot)
	rs.AddSlot(p.stEth, lidoBufferedEtherSlot)
	return rs, nil
}

// ReadOnlyCells implements market.Pool; validator accounting moves
// without repricing the wrapper.
func (p *WstEthPool) ReadOnlyCells() []common.Hash {
	return []common.Hash{lidoTransientBalanceSlot}
}

// Encoder implements market.Pool.
func (p *WstEthPool) Encoder() market.SwapEncoder { return p.encoder }

// REthPool prices rETH <-> WETH through the Rocket network balance
// contract.
type REthPool struct {
	address  common.Address // rETH token
	weth     common.Address
	balances common.Address // RocketNetworkBalances

	// slots of totalETH and rETH supply inside the balances contract
	totalEthSlot   common.Hash
	rethSupplySlot common.Hash

	encoder *lsdEncoder
}

// NewREthPool builds the wrapper pool.
func NewREthPool(rEth, weth, balances common.Address, totalEthSlot, rethSupplySlot common.Hash) *REthPool {
	p := &REthPool{
		address: rEth, weth: weth, balances: balances,
		totalEthSlot: totalEthSlot, rethSupplySlot: rethSupplySlot,
	}
	p.encoder = &lsdEncoder{target: rEth}
	return p
}

// Class implements market.Pool.
func (p *REthPool) Class() market.PoolClass { return market.PoolClassRocketEth }

// Address implements market.Pool.
func (p *REthPool) Address() common.Address { return p.address }

// Tokens implements market.Pool.
func (p *REthPool) Tokens() []common.Address {
	return []common.Address{p.weth, p.address}
}

// SwapDirections implements market.Pool.
func (p *REthPool) SwapDirections() []market.SwapDirection {
	return market.DirectionsBetween(p.weth, p.address)
}

// CanFlashSwap implements market.Pool.
func (p *REthPool) CanFlashSwap() bool { return false }

// CalculateOutAmount implements market.Pool via the network exchange
// rate.
func (p *REthPool) CalculateOutAmount(db state.Reader, _ *market.Env, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, uint64, error) {
	totalEth, err := readWord(db, p.balances, p.totalEthSlot)
	if err != nil {
		return nil, 0, err
	}
	supply, err := readWord(db, p.balances, p.rethSupplySlot)
	if err != nil {
		return nil, 0, err
	}
	if totalEth.IsZero() || supply.IsZero() {
		return nil, 0, ErrInsufficientLiquidity
	}
	switch {
	case tokenIn == p.weth && tokenOut == p.address:
		return mulDiv(amountIn, supply, totalEth), lsdSwapGas, nil
	case tokenIn == p.address && tokenOut == p.weth:
		return mulDiv(amountIn, totalEth, supply), lsdSwapGas, nil
	default:
		return nil, 0, ErrWrongDirection
	}
}

// CalculateInAmount implements market.Pool.
func (p *REthPool) CalculateInAmount(db state.Reader, env *market.Env, tokenIn, tokenOut common.Address, amountOut *uint256.Int) (*uint256.Int, uint64, error) {
	return p.CalculateOutAmount(db, env, tokenOut, tokenIn, amountOut)
}

// StateRequired implements market.Pool.
func (p *REthPool) StateRequired() (*market.RequiredState, error) {
	rs := &market.RequiredState{}
	rs.AddSlot(p.balances, p.totalEthSlot)
	rs.AddSlot(p.balances, p.rethSupplySlot)
	return rs, nil
}

// ReadOnlyCells implements market.Pool.
func (p *REthPool) ReadOnlyCells() []common.Hash { return nil }

// Encoder implements market.Pool.
func (p *REthPool) Encoder() market.SwapEncoder { return p.encoder }
