// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package searcher prices candidate swap paths against a diff-overlaid
// fork of the market state and forwards the profitable ones to the
// composer.
package searcher

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
	"github.com/luxfi/backrun/swap"
)

const (
	// searchIterationBudget bounds the ternary search.
	searchIterationBudget = 30
	// searchWidthBps: stop when (hi-lo)/lo < 1/searchWidthBps.
	searchWidthBps = 10_000
)

// defaultMinInput is the 0.01 ETH-equivalent search floor.
var defaultMinInput = uint256.NewInt(10_000_000_000_000_000)

// Calculator finds the input amount maximising profit for one line.
type Calculator struct {
	// MaxInput bounds the search from above, normally the multicaller's
	// balance of the anchor token.
	MaxInput *uint256.Int
	// MinInput defaults to the 0.01 ETH equivalent.
	MinInput *uint256.Int
}

// profitPoint is the line evaluated at x; profit holds the magnitude and
// loss marks a negative result.
type profitPoint struct {
	x      *uint256.Int
	out    *uint256.Int
	gas    uint64
	profit *uint256.Int // magnitude
	loss   bool
}

func (c *Calculator) evaluate(line *swap.SwapLine, db state.Reader, env *market.Env, x *uint256.Int) (*profitPoint, error) {
	out, gas, err := line.CalculateWithInAmount(db, env, x)
	if err != nil {
		return nil, err
	}
	p := &profitPoint{x: new(uint256.Int).Set(x), out: out, gas: gas}
	if out.Cmp(x) >= 0 {
		p.profit = new(uint256.Int).Sub(out, x)
	} else {
		p.profit = new(uint256.Int).Sub(x, out)
		p.loss = true
	}
	return p, nil
}

// better reports whether a beats b; on equal profit the smaller input
// wins.
func better(a, b *profitPoint) bool {
	if a.loss != b.loss {
		return b.loss
	}
	cmp := a.profit.Cmp(b.profit)
	if a.loss {
		cmp = -cmp
	}
	if cmp != 0 {
		return cmp > 0
	}
	return a.x.Cmp(b.x) < 0
}

// geometricMid returns sqrt(a*b); inputs are bounded by token balances
// so the product cannot overflow 256 bits in practice.
func geometricMid(a, b *uint256.Int) *uint256.Int {
	prod := new(uint256.Int).Mul(a, b)
	return prod.Sqrt(prod)
}

// Optimize runs a log-space ternary search over the input amount: the
// profit curve of a cyclic path is unimodal, so comparing the two
// geometric quarter-points shrinks the bracket each round. The line is
// mutated with the optimum found.
func (c *Calculator) Optimize(line *swap.SwapLine, db state.Reader, env *market.Env) error {
	lo := c.MinInput
	if lo == nil || lo.IsZero() {
		lo = defaultMinInput
	}
	hi := c.MaxInput
	if hi == nil || hi.IsZero() || hi.Cmp(lo) <= 0 {
		return swap.ErrZeroAmount
	}
	lo = new(uint256.Int).Set(lo)
	hi = new(uint256.Int).Set(hi)

	for i := 0; i < searchIterationBudget; i++ {
		width := new(uint256.Int).Sub(hi, lo)
		width.Mul(width, uint256.NewInt(searchWidthBps))
		if width.Cmp(lo) < 0 {
			break
		}
		mid := geometricMid(lo, hi)
		m1 := geometricMid(lo, mid)
		m2 := geometricMid(mid, hi)
		if m1.Eq(m2) {
			break
		}
		p1, err := c.evaluate(line, db, env, m1)
		if err != nil {
			return err
		}
		p2, err := c.evaluate(line, db, env, m2)
		if err != nil {
			return err
		}
		if better(p2, p1) {
			lo = m1
		} else {
			// equal profit prefers the smaller input: shrink from above
			hi = m2
		}
	}

	best, err := c.evaluate(line, db, env, lo)
	if err != nil {
		return err
	}
	for _, x := range []*uint256.Int{geometricMid(lo, hi), hi} {
		p, err := c.evaluate(line, db, env, x)
		if err != nil {
			return err
		}
		if better(p, best) {
			best = p
		}
	}

	line.AmountIn = best.x
	line.AmountOut = best.out
	line.GasUsed = best.gas
	return nil
}
