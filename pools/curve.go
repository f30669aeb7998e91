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
	curveSwapGas = 220_000

	// curveNewtonIterations bounds both Newton loops; the contracts use
	// 255 but convergence is typically < 10.
	curveNewtonIterations = 255
)

// ErrCurveNoConvergence is the deterministic failure when the invariant
// iteration does not settle.
var ErrCurveNoConvergence = errors.New("curve invariant did not converge")

var curveFeeDenominator = uint256.NewInt(10_000_000_000)

// CurveStorageLayout names the slots a particular Curve ABI keeps its
// state in; the loader derives it from the bytecode signature.
type CurveStorageLayout struct {
	// ASlot holds the raw amplification coefficient (A * n^(n-1)).
	ASlot common.Hash
	// BalanceSlots holds each coin's pool balance.
	BalanceSlots []common.Hash
	// FeeSlot holds the swap fee in 1e10 units.
	FeeSlot common.Hash
}

// DefaultCurveLayout is the plain two-coin StableSwap layout.
func DefaultCurveLayout() CurveStorageLayout {
	return CurveStorageLayout{
		ASlot:        u64Slot(0),
		BalanceSlots: []common.Hash{u64Slot(1), u64Slot(2)},
		FeeSlot:      u64Slot(3),
	}
}

// CurvePool is a two-coin StableSwap pool. Multiple discovered ABIs map
// onto this one implementation via their storage layout.
type CurvePool struct {
	address common.Address
	coins   []common.Address
	// rates scale each coin to 1e18 precision.
	rates  []*uint256.Int
	layout CurveStorageLayout

	encoder *curveEncoder
}

// NewCurvePool builds a pool over two coins with the given precision
// rates (1e18-scaled); nil rates default to 1e18.
func NewCurvePool(address common.Address, coins []common.Address, rates []*uint256.Int, layout CurveStorageLayout) (*CurvePool, error) {
	if len(coins) != 2 {
		return nil, fmt.Errorf("curve pool %s: want 2 coins, have %d", address, len(coins))
	}
	if rates == nil {
		one := uint256.NewInt(1_000_000_000_000_000_000)
		rates = []*uint256.Int{one, one}
	}
	p := &CurvePool{address: address, coins: coins, rates: rates, layout: layout}
	p.encoder = &curveEncoder{pool: p}
	return p, nil
}

// Class implements market.Pool.
func (p *CurvePool) Class() market.PoolClass { return market.PoolClassCurve }

// Address implements market.Pool.
func (p *CurvePool) Address() common.Address { return p.address }

// Tokens implements market.Pool.
func (p *CurvePool) Tokens() []common.Address { return p.coins }

// SwapDirections implements market.Pool.
func (p *CurvePool) SwapDirections() []market.SwapDirection {
	return market.DirectionsBetween(p.coins[0], p.coins[1])
}

// CanFlashSwap implements market.Pool.
func (p *CurvePool) CanFlashSwap() bool { return false }

func (p *CurvePool) coinIndex(token common.Address) (int, bool) {
	for i, c := range p.coins {
		if c == token {
			return i, true
		}
	}
	return 0, false
}

// scaledBalances reads the pool balances and scales them to 1e18.
func (p *CurvePool) scaledBalances(db state.Reader) ([]*uint256.Int, error) {
	precision := uint256.NewInt(1_000_000_000_000_000_000)
	out := make([]*uint256.Int, len(p.coins))
	for i, slot := range p.layout.BalanceSlots {
		bal, err := readWord(db, p.address, slot)
		if err != nil {
			return nil, err
		}
		out[i] = mulDiv(bal, p.rates[i], precision)
	}
	return out, nil
}

// invariantD solves the StableSwap invariant by Newton iteration.
func invariantD(xp []*uint256.Int, amp *uint256.Int) (*uint256.Int, error) {
	n := uint256.NewInt(uint64(len(xp)))
	s := new(uint256.Int)
	for _, x := range xp {
		s.Add(s, x)
	}
	if s.IsZero() {
		return new(uint256.Int), nil
	}
	d := new(uint256.Int).Set(s)
	ann := new(uint256.Int).Mul(amp, n)
	one := uint256.NewInt(1)

	for i := 0; i < curveNewtonIterations; i++ {
		dp := new(uint256.Int).Set(d)
		for _, x := range xp {
			dp = mulDiv(dp, d, new(uint256.Int).Mul(x, n))
		}
		dPrev := new(uint256.Int).Set(d)

		// d = (ann*s + dp*n) * d / ((ann-1)*d + (n+1)*dp)
		num := new(uint256.Int).Mul(ann, s)
		num.Add(num, new(uint256.Int).Mul(dp, n))
		num.Mul(num, d)
		den := new(uint256.Int).Mul(new(uint256.Int).Sub(ann, one), d)
		den.Add(den, new(uint256.Int).Mul(new(uint256.Int).Add(n, one), dp))
		d = num.Div(num, den)

		diff := new(uint256.Int)
		if d.Cmp(dPrev) > 0 {
			diff.Sub(d, dPrev)
		} else {
			diff.Sub(dPrev, d)
		}
		if diff.CmpUint64(1) <= 0 {
			return d, nil
		}
	}
	return nil, ErrCurveNoConvergence
}

// getY solves for the post-swap balance of coin j given coin i's new
// balance x.
func getY(i, j int, x *uint256.Int, xp []*uint256.Int, amp, d *uint256.Int) (*uint256.Int, error) {
	nCoins := len(xp)
	n := uint256.NewInt(uint64(nCoins))
	ann := new(uint256.Int).Mul(amp, n)

	c := new(uint256.Int).Set(d)
	s := new(uint256.Int)
	for k := 0; k < nCoins; k++ {
		if k == j {
			continue
		}
		var xk *uint256.Int
		if k == i {
			xk = x
		} else {
			xk = xp[k]
		}
		s.Add(s, xk)
		c = mulDiv(c, d, new(uint256.Int).Mul(xk, n))
	}
	c = mulDiv(c, d, new(uint256.Int).Mul(ann, n))
	b := new(uint256.Int).Add(s, new(uint256.Int).Div(d, ann))

	y := new(uint256.Int).Set(d)
	for iter := 0; iter < curveNewtonIterations; iter++ {
		yPrev := new(uint256.Int).Set(y)
		// y = (y*y + c) / (2y + b - d)
		num := new(uint256.Int).Mul(y, y)
		num.Add(num, c)
		den := new(uint256.Int).Lsh(y, 1)
		den.Add(den, b)
		if den.Cmp(d) <= 0 {
			return nil, ErrCurveNoConvergence
		}
		den.Sub(den, d)
		y = num.Div(num, den)

		diff := new(uint256.Int)
		if y.Cmp(yPrev) > 0 {
			diff.Sub(y, yPrev)
		} else {
			diff.Sub(yPrev, y)
		}
		if diff.CmpUint64(1) <= 0 {
			return y, nil
		}
	}
	return nil, ErrCurveNoConvergence
}

// CalculateOutAmount implements market.Pool (get_dy semantics).
func (p *CurvePool) CalculateOutAmount(db state.Reader, _ *market.Env, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, uint64, error) {
	i, okIn := p.coinIndex(tokenIn)
	j, okOut := p.coinIndex(tokenOut)
	if !okIn || !okOut || i == j {
		return nil, 0, fmt.Errorf("%w: %s->%s", ErrWrongDirection, tokenIn, tokenOut)
	}

	amp, err := readWord(db, p.address, p.layout.ASlot)
	if err != nil {
		return nil, 0, err
	}
	if amp.IsZero() {
		return nil, 0, ErrInsufficientLiquidity
	}
	fee, err := readWord(db, p.address, p.layout.FeeSlot)
	if err != nil {
		return nil, 0, err
	}
	xp, err := p.scaledBalances(db)
	if err != nil {
		return nil, 0, err
	}

	precision := uint256.NewInt(1_000_000_000_000_000_000)
	d, err := invariantD(xp, amp)
	if err != nil {
		return nil, 0, err
	}

	x := new(uint256.Int).Add(xp[i], mulDiv(amountIn, p.rates[i], precision))
	y, err := getY(i, j, x, xp, amp, d)
	if err != nil {
		return nil, 0, err
	}
	if xp[j].Cmp(y) <= 0 {
		return nil, 0, ErrInsufficientLiquidity
	}
	dy := new(uint256.Int).Sub(xp[j], y)
	dy.SubUint64(dy, 1) // rounding guard, as the contracts do

	feeAmount := mulDiv(dy, fee, curveFeeDenominator)
	dy.Sub(dy, feeAmount)
	out := mulDiv(dy, precision, p.rates[j])
	if out.IsZero() {
		return nil, 0, ErrInsufficientLiquidity
	}
	return out, curveSwapGas, nil
}

// CalculateInAmount implements market.Pool.
func (p *CurvePool) CalculateInAmount(state.Reader, *market.Env, common.Address, common.Address, *uint256.Int) (*uint256.Int, uint64, error) {
	return nil, 0, market.ErrNotImplemented
}

// StateRequired implements market.Pool.
func (p *CurvePool) StateRequired() (*market.RequiredState, error) {
	rs := &market.RequiredState{}
	rs.AddSlot(p.address, p.layout.ASlot)
	rs.AddSlot(p.address, p.layout.FeeSlot)
	for _, slot := range p.layout.BalanceSlots {
		rs.AddSlot(p.address, slot)
	}
	return rs, nil
}

// ReadOnlyCells implements market.Pool.
func (p *CurvePool) ReadOnlyCells() []common.Hash { return nil }

// Encoder implements market.Pool.
func (p *CurvePool) Encoder() market.SwapEncoder { return p.encoder }
